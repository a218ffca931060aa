package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/assentworks/assent/pkg/config"

	_ "modernc.org/sqlite"
)

// openDatabase connects to Postgres when DATABASE_URL is set and falls
// back to a local SQLite file (lite mode) otherwise. Both drivers serve
// the same store implementations.
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		slog.Info("postgres: connected")
		return db, nil
	}
	return openLiteMode(cfg.DataDir)
}

func openLiteMode(dataDir string) (*sql.DB, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "assent.db")
	slog.Info("lite mode: using sqlite", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}
