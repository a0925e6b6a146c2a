package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"fedifeed/relay/internal/database/migrations"
)

// DB represents the database connection
type DB struct {
	*sqlx.DB
}

// NewDB opens the SQLite database and, unless read-only, brings the schema up to date.
func NewDB(cfg *Config) (*DB, error) {
	dir := filepath.Dir(cfg.DBPath)
	if dir != "." && !cfg.ReadOnly {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for database: %w", err)
		}
	}

	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.MaxIdleConns <= 0 || cfg.MaxIdleConns > cfg.MaxOpenConns {
		cfg.MaxIdleConns = cfg.MaxOpenConns
	}

	// WAL allows the scheduler's concurrent source runs to read while one writes.
	// Foreign keys go in the DSN so every pooled connection gets them.
	dsn := fmt.Sprintf("file:%s?_journal=WAL&_synchronous=NORMAL&_busy_timeout=%d&_foreign_keys=on",
		cfg.DBPath, cfg.BusyTimeoutMS)
	if cfg.ReadOnly {
		dsn += "&mode=ro"
	}
	log.Info().Str("path", cfg.DBPath).Str("mode", modeStr(cfg.ReadOnly)).Msg("Opening database")

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pragmas := []string{
		fmt.Sprintf("PRAGMA cache_size = %d;", cfg.CacheSizeKB),
		"PRAGMA temp_store = MEMORY;",
	}
	if cfg.ReadOnly {
		pragmas = append(pragmas, "PRAGMA query_only = ON;")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn().Err(err).Str("pragma", pragma).Str("mode", modeStr(cfg.ReadOnly)).Msg("Failed to set PRAGMA")
		}
	}

	if !cfg.ReadOnly {
		all, err := migrations.Embedded()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to load migrations: %w", err)
		}
		if err := migrations.RunMigrations(db.DB, all); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Debug().Msg("Database migrations completed successfully")
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db (%s): %w", modeStr(cfg.ReadOnly), err)
	}

	return &DB{db}, nil
}

// Rollback reverts the last n applied schema migrations.
func (db *DB) Rollback(n int) error {
	all, err := migrations.Embedded()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	return migrations.RollbackMigrations(db.DB.DB, all, n)
}

func modeStr(readOnly bool) string {
	if readOnly {
		return "read-only"
	}
	return "read-write"
}
