// Package postgres is the non-blocking storage technology: pgx v5 over a
// pgxpool.
//
// Driver calls run on the calling goroutine and writes of one repository
// can be pipelined in a single pgx.Batch. pgx caches prepared statements per
// connection.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codewandler/uow-go/adapters/postgres/migrations"
)

const DefaultMaxConns = 8

// Config configures Open.
type Config struct {
	URL      string
	MaxConns int32
	Logger   *slog.Logger
}

// DB is a connected, migrated PostgreSQL pool.
type DB struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// Open connects to cfg.URL and applies the event schema.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("postgres url is required")
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	pcfg.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db := &DB{pool: pool, log: cfg.Logger.With(slog.String("component", "postgres"))}
	if err := db.Migrate(ctx, "uow", migrations.FS, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Pool returns the underlying pool.
func (db *DB) Pool() *pgxpool.Pool { return db.pool }

func (db *DB) Close() {
	if db != nil && db.pool != nil {
		db.pool.Close()
	}
}
