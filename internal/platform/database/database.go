package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tconn93/TRFBWebhook/internal/platform/config"
)

// DB is a connection pool paired with the dialect of its driver.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open connects to the database described by cfg and verifies the
// connection with a ping.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	dialect, err := NewDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.URL
	if dialect.Name() == "sqlite" {
		dsn, err = sqliteDSN(cfg.URL)
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.Name(), err)
	}

	maxConns := cfg.MaxConnections
	if dialect.Name() == "sqlite" && isMemory(cfg.URL) {
		// Each connection to :memory: is a separate database.
		maxConns = 1
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect.Name(), err)
	}

	return &DB{DB: db, Dialect: dialect}, nil
}

func (db *DB) Rebind(query string) string {
	return db.Dialect.Rebind(query)
}

func isMemory(url string) bool {
	return strings.Contains(url, ":memory:") || strings.Contains(url, "mode=memory")
}

// sqliteDSN creates the parent directory of a file database and turns on
// foreign key enforcement.
func sqliteDSN(url string) (string, error) {
	path := strings.TrimPrefix(url, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	if !isMemory(url) {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return "", fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "_foreign_keys=on&_busy_timeout=5000", nil
}
