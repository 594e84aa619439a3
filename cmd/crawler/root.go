package main

import (
	"fmt"
	"os"

	"github.com/alvmarrod/follow-weaver/internal/version"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawler",
		Short: "Breadth-first crawler for a follow graph",
		Long: `follow-weaver walks a social follow graph breadth-first from a root user,
storing every newly discovered profile exactly once. The frontier lives in
Redis so a crawl survives restarts, and a TCP control port lets you pause,
resume, stop and inspect a running crawl.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewCtlCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
