package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/ZentaChain/zentalk-chat/pkg/network"
)

func clientCmd() *cobra.Command {
	var (
		name        string
		dialTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Join a chat relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Ctrl-C wipes key material and exits immediately
			memguard.CatchInterrupt()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()

			cfg := network.DefaultClientConfig(network.JoinHostPort(host, port))
			cfg.Name = name
			cfg.DialTimeout = dialTimeout
			cfg.Logger = logger

			return runClient(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name (prompted when empty)")
	cmd.Flags().DurationVar(&dialTimeout, "dial-timeout", 10*time.Second, "connection timeout")

	return cmd
}

func runClient(ctx context.Context, cfg *network.ClientConfig) error {
	return network.NewClient(cfg).Run(ctx, os.Stdin, os.Stdout)
}
