package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/pairsrun/internal/config"
	"github.com/sawpanic/pairsrun/internal/logging"
)

const (
	appName = "pairsrun"
	version = "v1.0.0"
)

var (
	configPath string
	logLevel   string
	jsonLogs   bool

	appConfig *config.AppConfig
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logCloser interface{ Close() error }

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Statistical-arbitrage pairs selection and position lifecycle",
		Version: version,
		Long: `pairsrun selects cointegrated crypto pairs from analyzer output, tracks
the resulting long/short positions against the exchange and closes them when
an exit rule fires.

Run 'pairsrun run' for the long-running service, or the other subcommands for
one-off operations against the same storage.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAppConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Logging.Level = logLevel
			}
			closer, err := logging.Setup(logging.Options{
				Level:      cfg.Logging.Level,
				JSON:       jsonLogs,
				File:       cfg.Logging.File,
				MaxSizeMB:  cfg.Logging.MaxSizeMB,
				MaxBackups: cfg.Logging.MaxBackups,
				MaxAgeDays: cfg.Logging.MaxAgeDays,
			})
			if err != nil {
				return err
			}
			logCloser = closer
			appConfig = cfg
			log.Debug().Str("config", configPath).Str("settings_source", cfg.Settings.Source).Msg("Configuration loaded")
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if logCloser != nil {
				return logCloser.Close()
			}
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "config/pairsrun.yaml", "Path to the process configuration file")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	pf.BoolVar(&jsonLogs, "json-logs", false, "Force JSON log output")

	rootCmd.AddCommand(
		newRunCmd(),
		newSelectCmd(),
		newPositionsCmd(),
		newConfirmCmd(),
		newCloseCmd(),
		newObserveCmd(),
		newCycleCmd(),
		newConfigCmd(),
		newMigrateCmd(),
	)
	return rootCmd
}
