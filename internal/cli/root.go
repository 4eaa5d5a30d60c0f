// Package cli wires the lumasync commands.
package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lumachat/lumasync/internal/logging"
)

var (
	cfgFile  string
	logLevel string

	// built in PersistentPreRunE
	log *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lumasync",
		Short: "LumaChat realtime sync client",
		Long:  "Lumasync keeps a LumaChat account synchronized: live messages, read receipts, presence and call signaling over the server's websocket channels.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile == "" {
				cfgFile = defaultConfigPath()
			}
			level := logLevel
			if level == "" {
				level = "info"
			}
			log = logging.New(nil, level)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.lumasync/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunCmd())

	return cmd
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".lumasync", "config.yaml")
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
