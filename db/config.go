package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quailyquaily/screenbridge/internal/pathutil"
)

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type SQLiteConfig struct {
	BusyTimeoutMs int
	WAL           bool
	ForeignKeys   bool
}

type Config struct {
	Driver      string
	DSN         string
	AutoMigrate bool

	Pool   PoolConfig
	SQLite SQLiteConfig
}

func DefaultConfig() Config {
	return Config{
		Driver:      "sqlite",
		AutoMigrate: true,
		Pool: PoolConfig{
			MaxOpenConns: 1,
			MaxIdleConns: 1,
		},
		SQLite: SQLiteConfig{
			BusyTimeoutMs: 5000,
			WAL:           true,
			ForeignKeys:   true,
		},
	}
}

// ResolveSQLiteDSN expands the configured DSN and makes sure its parent
// directory exists. An empty DSN falls back to ~/.screenbridge/bridge.db.
func ResolveSQLiteDSN(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return "", fmt.Errorf("cannot resolve home directory for default sqlite dsn: %w", err)
		}
		dsn = filepath.Join(home, ".screenbridge", "bridge.db")
	}
	// In-memory DSNs have no backing directory.
	if strings.HasPrefix(dsn, "file::memory:") || dsn == ":memory:" {
		return dsn, nil
	}
	dsn = pathutil.ExpandHomePath(dsn)
	if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
		return "", err
	}
	return dsn, nil
}
