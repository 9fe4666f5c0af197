package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultHTTPAddr        = ":8080"
	defaultSyncMinInterval = 12 * time.Hour
	defaultSyncMaxInterval = 24 * time.Hour

	defaultMaxIntegrationsPerCommunity = 3
)

type Config struct {
	DatabaseURL string
	HTTPAddr    string
	// APIToken is the shared bearer token the upstream collaborator presents.
	APIToken string

	SyncMinInterval time.Duration
	SyncMaxInterval time.Duration

	MaxIntegrationsPerCommunity int64

	// NotifyWebhookURL receives event payloads; empty means log-only.
	NotifyWebhookURL   string
	NotifyWebhookToken string

	// MetricsAddr runs a dedicated /metrics listener when set. The API
	// server serves /metrics regardless.
	MetricsAddr string
}

type LoadOptions struct {
	RequireDatabaseURL bool
}

func Load() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireDatabaseURL: true})
}

func LoadOptionalDB() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireDatabaseURL: false})
}

func LoadWithOptions(opts LoadOptions) (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, err
		}
	}

	cfg := Config{
		DatabaseURL:                 os.Getenv("DATABASE_URL"),
		HTTPAddr:                    getenvDefault("HTTP_ADDR", defaultHTTPAddr),
		APIToken:                    strings.TrimSpace(os.Getenv("API_TOKEN")),
		SyncMinInterval:             defaultSyncMinInterval,
		SyncMaxInterval:             defaultSyncMaxInterval,
		MaxIntegrationsPerCommunity: getenvInt64Default("MAX_INTEGRATIONS_PER_COMMUNITY", defaultMaxIntegrationsPerCommunity),
		NotifyWebhookURL:            strings.TrimSpace(os.Getenv("NOTIFY_WEBHOOK_URL")),
		NotifyWebhookToken:          strings.TrimSpace(os.Getenv("NOTIFY_WEBHOOK_TOKEN")),
		MetricsAddr:                 strings.TrimSpace(os.Getenv("METRICS_ADDR")),
	}

	if v := os.Getenv("SYNC_MIN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SyncMinInterval = d
		}
	}
	if v := os.Getenv("SYNC_MAX_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SyncMaxInterval = d
		}
	}
	if cfg.SyncMaxInterval <= cfg.SyncMinInterval {
		return cfg, errors.New("SYNC_MAX_INTERVAL must be greater than SYNC_MIN_INTERVAL")
	}

	if opts.RequireDatabaseURL && cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt64Default(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 1 {
		return def
	}
	return n
}
