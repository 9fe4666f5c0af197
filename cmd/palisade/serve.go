package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/palisade-gg/palisade/internal/battlemetrics"
	"github.com/palisade-gg/palisade/internal/config"
	"github.com/palisade-gg/palisade/internal/crcon"
	"github.com/palisade-gg/palisade/internal/dispatch"
	"github.com/palisade-gg/palisade/internal/httpapi"
	"github.com/palisade-gg/palisade/internal/logging"
	"github.com/palisade-gg/palisade/internal/metrics"
	"github.com/palisade-gg/palisade/internal/notify"
	"github.com/palisade-gg/palisade/internal/registry"
	"github.com/palisade-gg/palisade/internal/store"
	syncloop "github.com/palisade-gg/palisade/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and the background reconciliation loops.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	if _, err := logging.BootstrapFromEnv(logging.BootstrapOptions{Command: "serve"}); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db := store.New(cfg.DatabaseURL)
	if err := db.Connect(ctx); err != nil {
		return err
	}
	defer db.Close()

	reporter := buildReporter(cfg)

	sched := syncloop.NewScheduler(db, reporter)
	sched.SetIntervals(cfg.SyncMinInterval, cfg.SyncMaxInterval)

	reg, err := buildRegistry(db, reporter, sched, cfg.MaxIntegrationsPerCommunity)
	if err != nil {
		return err
	}
	sched.SetDisabler(reg)

	if err := reg.LoadAll(ctx); err != nil {
		return err
	}

	dispatcher := dispatch.New(reg, db, db, reporter)

	srv, err := httpapi.NewEchoServer(cfg, reg, dispatcher, db)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		ReadHeaderTimeout: 5 * time.Second,
	}

	_, metricsErrCh := metrics.StartServer(ctx, cfg.MetricsAddr)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.HTTPAddr)
		errCh <- srv.StartServer(httpServer)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = sched.StopAll(shutdownCtx)
		return nil
	case err := <-metricsErrCh:
		return err
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func buildReporter(cfg config.Config) registry.Reporter {
	if cfg.NotifyWebhookURL == "" {
		return &notify.LogReporter{}
	}
	return notify.Fanout{
		&notify.LogReporter{},
		notify.NewWebhookReporter(cfg.NotifyWebhookURL, cfg.NotifyWebhookToken),
	}
}

func buildRegistry(db *store.Store, reporter registry.Reporter, loops registry.LoopRunner, maxPerCommunity int64) (*registry.Registry, error) {
	deps := registry.Deps{
		Bans:        db,
		Configs:     db,
		Communities: db,
		Report:      reporter.Report,
	}

	reg := registry.New(deps, loops)
	reg.SetMaxIntegrationsPerCommunity(maxPerCommunity)

	if err := reg.RegisterKind(battlemetrics.NewDefinition()); err != nil {
		return nil, err
	}
	if err := reg.RegisterKind(crcon.NewDefinition()); err != nil {
		return nil, err
	}
	return reg, nil
}
