package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StartServer exposes /metrics on its own listener for deployments that keep
// the scrape endpoint off the public API address. An empty or "off" addr
// disables it; the API server still serves /metrics either way.
func StartServer(ctx context.Context, addr string) (*http.Server, <-chan error) {
	if !listenerEnabled(addr) {
		return nil, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              strings.TrimSpace(addr),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go serveAndReport(srv, errCh)
	go shutdownOnDone(ctx, srv)
	return srv, errCh
}

func listenerEnabled(addr string) bool {
	switch strings.ToLower(strings.TrimSpace(addr)) {
	case "", "off", "disabled", "false":
		return false
	}
	return true
}

func serveAndReport(srv *http.Server, errCh chan<- error) {
	slog.Info("metrics listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- err
	}
}

func shutdownOnDone(ctx context.Context, srv *http.Server) {
	if ctx == nil {
		ctx = context.Background()
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
