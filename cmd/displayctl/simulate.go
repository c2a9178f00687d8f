package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danmuck/displayctl/internal/simulator"
)

func simulateCmd() *cobra.Command {
	var (
		listen    string
		displayID int
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a simulated MDC display",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return simulator.New(byte(displayID)).Run(ctx, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:1515", "address to accept clients on")
	cmd.Flags().IntVar(&displayID, "display", 0, "display id to answer as")
	return cmd
}
