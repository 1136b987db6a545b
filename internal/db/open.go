package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Open picks the driver from the URL scheme: postgres:// and postgresql://
// go through pgx, sqlite://<path> and file:<path> through modernc sqlite.
func Open(databaseURL string, pool PoolOptions) (*sqlx.DB, Dialect, error) {
	dialect, dsn, err := ParseURL(databaseURL)
	if err != nil {
		return nil, "", err
	}

	driver := "pgx"
	if dialect == SQLite {
		driver = "sqlite"
	}

	database, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}

	if dialect == SQLite {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY between pooled writers.
		database.SetMaxOpenConns(1)
	} else {
		if pool.MaxOpenConns > 0 {
			database.SetMaxOpenConns(pool.MaxOpenConns)
		}
		if pool.MaxIdleConns > 0 {
			database.SetMaxIdleConns(pool.MaxIdleConns)
		}
		if pool.ConnMaxLifetime > 0 {
			database.SetConnMaxLifetime(pool.ConnMaxLifetime)
		}
		if pool.ConnMaxIdleTime > 0 {
			database.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, "", fmt.Errorf("ping database: %w", err)
	}

	if dialect == SQLite {
		if _, err := database.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
			_ = database.Close()
			return nil, "", fmt.Errorf("configure sqlite: %w", err)
		}
	}

	return database, dialect, nil
}

func ParseURL(databaseURL string) (Dialect, string, error) {
	value := strings.TrimSpace(databaseURL)
	switch {
	case strings.HasPrefix(value, "postgres://"), strings.HasPrefix(value, "postgresql://"):
		return Postgres, value, nil
	case strings.HasPrefix(value, "sqlite://"):
		path := strings.TrimPrefix(value, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite url is missing a path")
		}
		return SQLite, path, nil
	case strings.HasPrefix(value, "file:"):
		return SQLite, value, nil
	default:
		return "", "", fmt.Errorf("unsupported database url scheme")
	}
}
