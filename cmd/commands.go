package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yungbote/workspace-core/internal/app"
	"github.com/yungbote/workspace-core/internal/data/db"
	"github.com/yungbote/workspace-core/internal/platform/envutil"
	"github.com/yungbote/workspace-core/internal/platform/logger"
	"github.com/yungbote/workspace-core/internal/platform/shutdown"
)

var (
	configFile string
	logMode    string

	rootCmd = &cobra.Command{
		Use:           "workspace-core",
		Short:         "Document tree API with revision history and realtime change feeds",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				if _, err := envutil.LoadFile(configFile); err != nil {
					return err
				}
			}
			if logMode == "" {
				logMode = envutil.String("LOG_MODE", "development")
			}
			return nil
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and realtime stream",
		RunE:  runServe,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables and indexes, then exit",
		RunE:  runMigrate,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML file of KEY: value settings (environment wins)")
	rootCmd.PersistentFlags().StringVar(&logMode, "log-mode", "", "development or production (default $LOG_MODE)")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	a, err := app.New(ctx, logMode)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("server exited: %w", err)
	}
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	log, err := logger.New(logMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	cfg, err := app.LoadConfig(log)
	if err != nil {
		return err
	}
	dbs, err := db.NewService(log, cfg.DB)
	if err != nil {
		return err
	}
	defer dbs.Close()

	if err := app.Migrate(dbs.DB()); err != nil {
		return err
	}
	log.Info("Migration complete")
	return nil
}
