package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/palisade-gg/palisade/internal/config"
	"github.com/palisade-gg/palisade/internal/logging"
	"github.com/palisade-gg/palisade/internal/notify"
	"github.com/palisade-gg/palisade/internal/registry"
	"github.com/palisade-gg/palisade/internal/store"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass over every enabled integration and exit.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync()
	},
}

// nopLoops satisfies registry.LoopRunner without starting background
// goroutines; the one-shot pass drives reconciliation itself.
type nopLoops struct{}

func (nopLoops) Start(int64, registry.Integration) {}

func (nopLoops) Stop(context.Context, int64) error { return nil }

func runSync() error {
	if _, err := logging.BootstrapFromEnv(logging.BootstrapOptions{Command: "sync"}); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db := store.New(cfg.DatabaseURL)
	if err := db.Connect(ctx); err != nil {
		return err
	}
	defer db.Close()

	reg, err := buildRegistry(db, &notify.LogReporter{}, nopLoops{}, cfg.MaxIntegrationsPerCommunity)
	if err != nil {
		return err
	}

	if err := reg.LoadAll(ctx); err != nil {
		return err
	}

	syncErr := syncOnce(ctx, reg, db)
	if syncErr == nil {
		return nil
	}
	if errors.Is(syncErr, context.Canceled) {
		return &exitError{code: 130, err: syncErr, silent: true}
	}
	return &exitError{code: 1, err: syncErr, silent: false}
}

func syncOnce(ctx context.Context, reg *registry.Registry, db *store.Store) error {
	cfgs, err := db.Integrations(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		integ, ok := reg.Get(cfg.ID)
		if !ok {
			errs = append(errs, fmt.Errorf("integration %d not loaded", cfg.ID))
			continue
		}
		slog.Info("reconciling", "integration_id", cfg.ID, "kind", cfg.Kind)
		if err := integ.Synchronize(ctx); err != nil {
			errs = append(errs, fmt.Errorf("integration %d: %w", cfg.ID, err))
		}
	}
	return errors.Join(errs...)
}
