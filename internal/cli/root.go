// Package cli implements the muloop command line interface.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/me/muloop/internal/config"
	"github.com/me/muloop/internal/logging"
)

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
)

// NewRootCmd creates the root cobra command for muloop.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "muloop",
		Short: "muloop — cooperative scheduler with an MQTT-style message bus",
		Long: "muloop runs cooperative tasks on a single goroutine and connects\n" +
			"them through an in-process publish/subscribe bus with MQTT wildcard\n" +
			"semantics. It can bridge the bus to a real MQTT broker, run\n" +
			"JavaScript tasks, and archive scheduler statistics to SQLite.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.New(flagLogLevel, flagLogFormat)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Configuration file (YAML)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newStatsCmd(),
		newVersionCmd(),
	)

	return root
}

// loadConfig reads the configured file over the defaults. Log flags given
// explicitly on the command line win over the file.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	pf := cmd.Root().PersistentFlags()
	if pf.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if pf.Changed("log-format") {
		cfg.LogFormat = flagLogFormat
	}
	return cfg, nil
}
