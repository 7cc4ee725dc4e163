// Package db opens the application database and applies migrations.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/lexcare/lexcare/config"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrations embed.FS

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA temp_store = MEMORY",
}

// Open connects using the configured driver, applies PRAGMAs and pooling, and
// runs migrations. The driver must already be registered by the caller
// ("libsql" by go-libsql, "sqlite" by modernc.org/sqlite).
func Open(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (*sql.DB, error) {
	dsn := cfg.DSN
	if err := ensureDir(dsn); err != nil {
		return nil, err
	}

	logger.Info().Str("driver", cfg.Driver).Str("dsn", dsn).Msg("Connecting to database")

	conn, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", cfg.Driver, err)
	}

	configurePool(conn, cfg)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	for _, p := range pragmas {
		if err := execPragma(ctx, conn, p); err != nil {
			logger.Warn().Err(err).Str("pragma", p).Msg("PRAGMA not applied")
		}
	}

	verifyFeatures(ctx, conn, logger)

	if err := Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}

// Migrate applies every embedded migration.
func Migrate(ctx context.Context, conn *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, conn, "migrations"); err != nil {
		return fmt.Errorf("failed to run goose migrations: %w", err)
	}
	return nil
}

func configurePool(conn *sql.DB, cfg config.StoreConfig) {
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	if isMemoryDSN(cfg.DSN) {
		// every connection to :memory: is a separate database
		maxOpen = 1
	}
	conn.SetMaxOpenConns(maxOpen)

	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 || maxIdle > maxOpen {
		maxIdle = maxOpen
	}
	conn.SetMaxIdleConns(maxIdle)

	if cfg.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

// execPragma drains any result row so drivers that reject Exec on
// row-returning statements still accept it.
func execPragma(ctx context.Context, conn *sql.DB, stmt string) error {
	rows, err := conn.QueryContext(ctx, stmt)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

func verifyFeatures(ctx context.Context, conn *sql.DB, logger zerolog.Logger) {
	if _, err := conn.ExecContext(ctx, "CREATE VIRTUAL TABLE IF NOT EXISTS temp._fts5_probe USING fts5(content)"); err != nil {
		logger.Warn().Err(err).Msg("FTS5 unavailable; candidate text search will fail")
	} else {
		_, _ = conn.ExecContext(ctx, "DROP TABLE IF EXISTS temp._fts5_probe")
	}

	var v string
	if err := conn.QueryRowContext(ctx, `SELECT json_extract('{"k":"v"}', '$.k')`).Scan(&v); err != nil || v != "v" {
		logger.Warn().Err(err).Msg("JSON1 unavailable; candidate filters will fail")
	}
}

func ensureDir(dsn string) error {
	path := filePath(dsn)
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("could not create database directory %s: %w", dir, err)
	}
	return nil
}

// filePath extracts the local path of a file DSN, or "" for remote and memory DSNs.
func filePath(dsn string) string {
	if isMemoryDSN(dsn) || strings.Contains(dsn, "://") {
		return ""
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}
