package main

import (
	"context"
	"time"

	"github.com/alvmarrod/follow-weaver/internal/control"
	"github.com/spf13/cobra"
)

// NewCtlCmd creates the ctl command, a client for the control port.
func NewCtlCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ctl <command>",
		Short: "Send a command to a running crawler",
		Long: `Send one command to the control port of a running crawler and print the reply.

Commands: state, crawled, left, worker, pause, run, stop.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return control.Send(ctx, addr, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:9981", "Control server address")
	// pause and stop wait for every worker, so the default is generous
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 10*time.Minute, "Give up after this long")

	return cmd
}
