// Package main provides the entry point for the follow-weaver CLI.
//
// Usage:
//
//	crawler crawl --config config.json
//	crawler ctl state
//
// See --help for all available options.
package main

func main() {
	Execute()
}
