// Package sqlite is the blocking storage technology: database/sql over
// modernc.org/sqlite.
//
// Driver calls run on a bounded pool sized to the connection pool. One
// connection of the pool is reserved for preparing cached statements, so a
// database needs at least two connections.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/codewandler/uow-go/adapters/sqlite/migrations"
)

const (
	DefaultMaxConns      = 4
	DefaultStmtCacheSize = 256
)

// Config configures Open.
type Config struct {
	// Path is a database file path or a full "file:" DSN. Pragmas and the
	// transaction lock mode the adapter relies on are added to a DSN that
	// does not set them.
	Path string
	// MaxConns bounds the pool. Zero means DefaultMaxConns; one is rejected
	// since preparation needs a connection of its own.
	MaxConns      int
	StmtCacheSize int
	Logger        *slog.Logger
}

// DB is an opened, migrated SQLite database.
type DB struct {
	sql      *sql.DB
	stmts    *StmtCache
	maxConns int
	log      *slog.Logger
}

// Open opens the database at cfg.Path and applies the event schema.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	switch {
	case cfg.MaxConns == 0:
		cfg.MaxConns = DefaultMaxConns
	case cfg.MaxConns < 2:
		return nil, fmt.Errorf("sqlite needs at least 2 connections, got %d", cfg.MaxConns)
	}
	if cfg.StmtCacheSize <= 0 {
		cfg.StmtCacheSize = DefaultStmtCacheSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	log := cfg.Logger.With(slog.String("component", "sqlite"))

	source, err := dsn(cfg.Path)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open("sqlite", source)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConns)
	sqlDB.SetMaxIdleConns(cfg.MaxConns)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	db := &DB{
		sql:      sqlDB,
		stmts:    NewStmtCache(sqlDB, cfg.StmtCacheSize, log),
		maxConns: cfg.MaxConns,
		log:      log,
	}
	if err := db.Migrate(ctx, "uow", migrations.FS, "."); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

var requiredParams = []struct{ key, name, value string }{
	{"_pragma", "busy_timeout", "busy_timeout(5000)"},
	{"_pragma", "journal_mode", "journal_mode(WAL)"},
	{"_pragma", "foreign_keys", "foreign_keys(1)"},
	{"_pragma", "synchronous", "synchronous(NORMAL)"},
	{"_txlock", "", "immediate"},
}

// dsn turns path into a DSN carrying every required parameter. Values a
// "file:" DSN already sets are kept.
func dsn(path string) (string, error) {
	base, query := "file:"+filepath.Clean(path), ""
	if strings.HasPrefix(path, "file:") {
		base, query, _ = strings.Cut(path, "?")
	}
	set, err := url.ParseQuery(query)
	if err != nil {
		return "", fmt.Errorf("parse sqlite dsn: %w", err)
	}
	params := query
	for _, p := range requiredParams {
		if hasParam(set, p.key, p.name) {
			continue
		}
		if params != "" {
			params += "&"
		}
		params += p.key + "=" + p.value
	}
	return base + "?" + params, nil
}

func hasParam(set url.Values, key, name string) bool {
	if name == "" {
		return set.Has(key)
	}
	for _, v := range set[key] {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(v)), name+"(") {
			return true
		}
	}
	return false
}

// SQL returns the underlying database handle.
func (db *DB) SQL() *sql.DB { return db.sql }

// Stmts returns the prepared statement cache.
func (db *DB) Stmts() *StmtCache { return db.stmts }

// Close closes the cached statements and the database.
func (db *DB) Close() error {
	if db == nil || db.sql == nil {
		return nil
	}
	db.stmts.Close()
	return db.sql.Close()
}
