package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/territory-engine/config"
	"github.com/warp/territory-engine/logging"
	"github.com/warp/territory-engine/store/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long:  `Apply every pending embedded migration and print the schema version reached.`,
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	// New migrates on open; MigrateTo then only reports the version.
	store, err := sqlite.New(ctx, cfg.Database.Path)
	if err != nil {
		log.Error("migration failed", zap.String("path", cfg.Database.Path), zap.Error(err))
		return err
	}
	defer store.Close()

	version, err := sqlite.MigrateTo(ctx, store.DB())
	if err != nil {
		return err
	}
	log.Info("database migrated", zap.String("path", cfg.Database.Path), zap.Int64("version", version))
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
	return nil
}
