package main

import (
	"context"
	"fmt"
	"os"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/pairsrun/internal/config"
	"github.com/sawpanic/pairsrun/internal/infrastructure/db"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}

	validateCmd := &cobra.Command{
		Use:   "validate [settings.yaml]",
		Short: "Validate the process configuration and a strategy settings file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// PersistentPreRunE has already loaded and validated appConfig
			fmt.Printf("%s %s\n", green("ok"), configPath)

			path := appConfig.Settings.Path
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return nil
			}
			if _, err := config.LoadSettingsFile(path); err != nil {
				fmt.Printf("%s %s\n", red("invalid"), path)
				return err
			}
			fmt.Printf("%s %s\n", green("ok"), path)
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the strategy settings currently in force",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.settings.Current(cmd.Context())
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(os.Stdout)
			defer enc.Close()
			return enc.Encode(s)
		},
	}

	pushCmd := &cobra.Command{
		Use:   "push <settings.yaml>",
		Short: "Validate a settings file and store it in Redis for live reload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if appConfig.Redis.Addr == "" {
				return fmt.Errorf("redis.addr is not configured")
			}
			s, err := config.LoadSettingsFile(args[0])
			if err != nil {
				return err
			}
			rc := goredis.NewClient(&goredis.Options{Addr: appConfig.Redis.Addr, DB: appConfig.Redis.DB})
			defer rc.Close()

			provider := config.NewRedisProvider(rc, appConfig.Redis.SettingsKey)
			if err := provider.Store(cmd.Context(), s); err != nil {
				return err
			}
			log.Info().Str("file", args[0]).Str("redis", appConfig.Redis.Addr).Msg("Settings pushed")
			return nil
		},
	}

	cmd.AddCommand(validateCmd, showCmd, pushCmd)
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the positions schema in Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context(), appConfig.Database)
		},
	}
}

func migrate(ctx context.Context, cfg db.Config) error {
	if !cfg.Enabled {
		return fmt.Errorf("database is not enabled; set database.enabled or PG_DSN")
	}
	manager, err := db.NewManager(cfg)
	if err != nil {
		return err
	}
	defer manager.Close()

	if err := manager.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Println(green("positions schema up to date"))
	return nil
}
