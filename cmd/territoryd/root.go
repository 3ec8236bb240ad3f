package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/territory-engine/api"
	"github.com/warp/territory-engine/config"
	"github.com/warp/territory-engine/generic"
	"github.com/warp/territory-engine/logging"
	"github.com/warp/territory-engine/metrics"
	"github.com/warp/territory-engine/store/sqlite"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "territoryd",
	Short: "Territory protection and commission engine",
	Long: `territoryd owns sales territories, their protection rules and
assignments, and the commission ledger built from finalized orders.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
}

// app is everything a command needs, built from the loaded config.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *sqlite.Store
	rec     *metrics.Recorder
	handler *api.Handler
}

// bootstrap loads config, builds the logger, opens (and migrates) the
// database and wires the services. Callers must call close.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	log = log.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))

	store, err := sqlite.New(ctx, cfg.Database.Path)
	if err != nil {
		log.Error("failed to open database", zap.String("path", cfg.Database.Path), zap.Error(err))
		return nil, err
	}

	rec := metrics.New()
	opts := generic.Options{Retry: cfg.Retry.Policy(), Logger: log}
	h := api.NewHandler(store, rec, opts, api.HandlerConfig{
		PayoutChunkSize:  cfg.Payout.ChunkSize,
		ScenariosEnabled: cfg.App.Scenarios,
	})
	return &app{cfg: cfg, log: log, store: store, rec: rec, handler: h}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("failed to close database", zap.Error(err))
	}
	_ = a.log.Sync()
}
