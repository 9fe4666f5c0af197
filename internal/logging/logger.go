package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Env keys honored by BootstrapFromEnv.
const (
	EnvFormat = "LOG_FORMAT"
	EnvLevel  = "LOG_LEVEL"
)

const appName = "palisade"

// Config selects the slog handler format and the minimum level.
type Config struct {
	Format string // "json" or "text"
	Level  slog.Level
}

func DefaultConfig() Config {
	return Config{Format: "json", Level: slog.LevelInfo}
}

// LoadConfigFromEnv reads LOG_FORMAT and LOG_LEVEL. Unknown values are an
// error rather than a silent fallback.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if raw := strings.ToLower(strings.TrimSpace(os.Getenv(EnvFormat))); raw != "" {
		if raw != "json" && raw != "text" {
			return Config{}, fmt.Errorf("%s must be one of: json, text", EnvFormat)
		}
		cfg.Format = raw
	}
	if raw := strings.TrimSpace(os.Getenv(EnvLevel)); raw != "" {
		if err := cfg.Level.UnmarshalText([]byte(raw)); err != nil {
			return Config{}, fmt.Errorf("%s must be one of: debug, info, warn, error", EnvLevel)
		}
	}
	return cfg, nil
}

// NewLogger builds a logger that tags every record with the app name and the
// running command. A nil writer means stdout.
func NewLogger(cfg Config, w io.Writer, command string) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	if command = strings.TrimSpace(command); command == "" {
		command = appName
	}
	return slog.New(handler).With("app", appName, "command", command)
}

// BootstrapOptions configures BootstrapFromEnv.
type BootstrapOptions struct {
	Command string
	Writer  io.Writer
}

// BootstrapFromEnv builds the logger from the environment and installs it as
// the process default.
func BootstrapFromEnv(opts BootstrapOptions) (*slog.Logger, error) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	logger := NewLogger(cfg, opts.Writer, opts.Command)
	slog.SetDefault(logger)
	return logger, nil
}
