package config

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "uow.db", cfg.SQLiteDSN)
	require.Equal(t, 4, cfg.SQLiteMaxConns)
	require.Equal(t, 256, cfg.StmtCacheSize)
	require.Equal(t, 1<<20, cfg.MaxEventPayload)
	require.Equal(t, slog.LevelInfo, cfg.LogLevel)
	require.Empty(t, cfg.PostgresURL)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("UOW_SQLITE_DSN", "/tmp/x.db")
	t.Setenv("UOW_SQLITE_MAX_CONNS", "8")
	t.Setenv("UOW_POSTGRES_URL", "postgres://localhost/uow")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("UOW_LOG_LEVEL", "debug")
	t.Setenv("UOW_METRICS_ADDR", ":9090")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/tmp/x.db", cfg.SQLiteDSN)
	require.Equal(t, 8, cfg.SQLiteMaxConns)
	require.Equal(t, "postgres://localhost/uow", cfg.PostgresURL)
	require.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
	require.Equal(t, ":9090", cfg.MetricsAddr)

	var buf bytes.Buffer
	cfg.Logger(&buf).Debug("visible")
	require.Contains(t, buf.String(), "visible")
}

func TestLoad_Errors(t *testing.T) {
	t.Run("not a number", func(t *testing.T) {
		t.Setenv("UOW_STMT_CACHE_SIZE", "many")
		_, err := Load()
		require.ErrorContains(t, err, "parse env:")
	})
	t.Run("too few connections", func(t *testing.T) {
		t.Setenv("UOW_SQLITE_MAX_CONNS", "1")
		_, err := Load()
		require.ErrorContains(t, err, "UOW_SQLITE_MAX_CONNS")
	})
	t.Run("bad level", func(t *testing.T) {
		t.Setenv("UOW_LOG_LEVEL", "chatty")
		_, err := Load()
		require.Error(t, err)
	})
}
