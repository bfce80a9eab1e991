package commands

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-chat/pkg/logging"
	"github.com/ZentaChain/zentalk-chat/pkg/network"
)

var (
	host     string
	port     int
	logLevel string

	logger *zap.Logger
)

// Execute runs the root command
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "zentalk-chat",
		Short:        "Encrypted multi-user chat relay over TCP",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := logging.New(logLevel)
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}

	root.PersistentFlags().StringVar(&host, "host", "127.0.0.1", "relay host")
	root.PersistentFlags().IntVar(&port, "port", network.DefaultPort, "relay port")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error); "+logging.LevelEnv+" overrides")

	root.AddCommand(serverCmd(), clientCmd())
	return root
}
