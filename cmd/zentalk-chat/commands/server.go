package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-chat/pkg/api"
	"github.com/ZentaChain/zentalk-chat/pkg/network"
	"github.com/ZentaChain/zentalk-chat/pkg/protocol"
	"github.com/ZentaChain/zentalk-chat/pkg/storage"
)

const heartbeatInterval = 5 * time.Minute

type serverOptions struct {
	listen           string
	adminAddr        string
	journalPath      string
	journalTTL       time.Duration
	handshakeTimeout time.Duration
	nameTimeout      time.Duration
	writeTimeout     time.Duration
	maxFrame         uint32
}

func serverCmd() *cobra.Command {
	opts := &serverOptions{}

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the chat relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.listen, "listen", "", "listen address, host:port or multiaddr such as /ip4/0.0.0.0/tcp/8080 (overrides --host/--port)")
	cmd.Flags().StringVar(&opts.adminAddr, "admin", "", "status API address, e.g. 127.0.0.1:8081 (empty disables)")
	cmd.Flags().StringVar(&opts.journalPath, "journal", "", "sqlite event journal path (empty disables)")
	cmd.Flags().DurationVar(&opts.journalTTL, "journal-ttl", 7*24*time.Hour, "how long journal events are kept")
	cmd.Flags().DurationVar(&opts.handshakeTimeout, "handshake-timeout", network.DefaultHandshakeTimeout, "key exchange deadline (0 disables)")
	cmd.Flags().DurationVar(&opts.nameTimeout, "name-timeout", network.DefaultNameTimeout, "username deadline (0 disables)")
	cmd.Flags().DurationVar(&opts.writeTimeout, "write-timeout", network.DefaultWriteTimeout, "per-frame write deadline (0 disables)")
	cmd.Flags().Uint32Var(&opts.maxFrame, "max-frame", protocol.DefaultMaxFrameSize, "maximum frame payload in bytes")

	return cmd
}

func runServer(ctx context.Context, opts *serverOptions) error {
	printBanner()

	cfg := network.DefaultRelayConfig()
	cfg.ListenAddr = network.JoinHostPort(host, port)
	if opts.listen != "" {
		cfg.ListenAddr = opts.listen
	}
	cfg.HandshakeTimeout = opts.handshakeTimeout
	cfg.NameTimeout = opts.nameTimeout
	cfg.WriteTimeout = opts.writeTimeout
	cfg.MaxFrameSize = opts.maxFrame
	cfg.Logger = logger

	var journal *storage.EventJournal
	if opts.journalPath != "" {
		j, err := storage.NewEventJournal(opts.journalPath, opts.journalTTL, logger)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer j.Close()
		journal = j
		cfg.Journal = journal
		logger.Info("event journal enabled", zap.String("path", opts.journalPath), zap.Duration("ttl", opts.journalTTL))
	}

	relay := network.NewRelayServer(cfg)
	if err := relay.Start(); err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}
	defer relay.Stop()

	var apiErr chan error
	if opts.adminAddr != "" {
		apiCfg := api.DefaultConfig()
		apiCfg.Addr = opts.adminAddr
		apiCfg.Logger = logger

		var events api.EventSource
		if journal != nil {
			events = journal
		}
		server := api.NewServer(relay, events, apiCfg)
		apiErr = make(chan error, 1)
		go func() { apiErr <- server.Start(ctx) }()
	}

	go heartbeatLoop(ctx, relay)

	// Deferred Stop and journal Close run only after the API has drained.
	return waitForShutdown(ctx, apiErr)
}

// waitForShutdown blocks until ctx ends or the status API fails. On
// cancellation it also waits for the API to finish in-flight requests. A
// nil apiErr means the API is disabled.
func waitForShutdown(ctx context.Context, apiErr <-chan error) error {
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-apiErr:
		if err != nil {
			return fmt.Errorf("status API failed: %w", err)
		}
		return nil
	}

	if apiErr == nil {
		return nil
	}
	if err := <-apiErr; err != nil {
		logger.Warn("status API shutdown", zap.Error(err))
	}
	return nil
}

func heartbeatLoop(ctx context.Context, relay *network.RelayServer) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := relay.GetStats()
			logger.Info("heartbeat",
				zap.Any("messages_relayed", stats["messages_relayed"]),
				zap.Any("connected_sessions", stats["connected_sessions"]),
				zap.Any("delivery_failures", stats["delivery_failures"]))
		}
	}
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║            Zentalk Chat Relay Server              ║")
	fmt.Println("║     X25519 handshake · AES-256 framed relay       ║")
	fmt.Println("╚═══════════════════════════════════════════════════╝")
	fmt.Println()
}
