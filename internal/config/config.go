// Package config loads the process configuration of the demo binary from
// the environment.
package config

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration. Library packages take options
// instead of reading it.
type Config struct {
	SQLiteDSN       string     `env:"UOW_SQLITE_DSN" envDefault:"uow.db"`
	SQLiteMaxConns  int        `env:"UOW_SQLITE_MAX_CONNS" envDefault:"4"`
	PostgresURL     string     `env:"UOW_POSTGRES_URL"`
	NATSURL         string     `env:"NATS_URL"`
	StmtCacheSize   int        `env:"UOW_STMT_CACHE_SIZE" envDefault:"256"`
	MaxEventPayload int        `env:"UOW_MAX_EVENT_PAYLOAD" envDefault:"1048576"`
	LogLevel        slog.Level `env:"UOW_LOG_LEVEL" envDefault:"info"`
	MetricsAddr     string     `env:"UOW_METRICS_ADDR"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.SQLiteMaxConns < 2 {
		return Config{}, fmt.Errorf("UOW_SQLITE_MAX_CONNS must be at least 2, got %d", cfg.SQLiteMaxConns)
	}
	if cfg.MaxEventPayload <= 0 {
		return Config{}, fmt.Errorf("UOW_MAX_EVENT_PAYLOAD must be positive, got %d", cfg.MaxEventPayload)
	}
	return cfg, nil
}

// Logger returns a text logger writing to w at the configured level.
func (c Config) Logger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.LogLevel}))
}
