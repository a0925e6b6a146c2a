package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

//go:embed *.sql
var files embed.FS

// Migration is one versioned schema change with its rollback.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Embedded returns the migrations compiled into the binary.
func Embedded() ([]Migration, error) {
	return LoadMigrations(files)
}

// LoadMigrations reads NNNN_name.up.sql / NNNN_name.down.sql pairs from fsys.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		var version int
		var rest string
		if _, err := fmt.Sscanf(name, "%d_%s", &version, &rest); err != nil {
			log.Warn().Err(err).Str("file", name).Msg("Skipping invalid migration file")
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", name, err)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version}
			byVersion[version] = m
		}
		switch {
		case strings.HasSuffix(rest, ".up.sql"):
			m.Name = strings.TrimSuffix(rest, ".up.sql")
			m.Up = string(content)
		case strings.HasSuffix(rest, ".down.sql"):
			m.Down = string(content)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %d has no up script", m.Version)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	log.Debug().Int("count", len(migrations)).Msg("Loaded migrations")
	return migrations, nil
}

func appliedVersions(db *sql.DB, query string, args ...any) ([]int, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// RunMigrations applies every migration not yet recorded, each in its own transaction.
func RunMigrations(db *sql.DB, migrations []Migration) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	versions, err := appliedVersions(db, "SELECT version FROM migrations ORDER BY version")
	if err != nil {
		return err
	}
	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}

	for _, m := range migrations {
		if applied[m.Version] {
			log.Debug().Int("version", m.Version).Msg("Migration already applied, skipping")
			continue
		}

		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Running migration")
		if err := inTx(db, m.Up, "INSERT INTO migrations (version) VALUES (?)", m.Version); err != nil {
			return fmt.Errorf("migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// RollbackMigrations reverts the last n applied migrations, newest first.
func RollbackMigrations(db *sql.DB, migrations []Migration, n int) error {
	versions, err := appliedVersions(db, "SELECT version FROM migrations ORDER BY version DESC LIMIT ?", n)
	if err != nil {
		return err
	}

	byVersion := make(map[int]Migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}

	for _, v := range versions {
		m, ok := byVersion[v]
		if !ok || m.Down == "" {
			log.Warn().Int("version", v).Msg("No down migration found, skipping")
			continue
		}

		log.Info().Int("version", v).Msg("Rolling back migration")
		if err := inTx(db, m.Down, "DELETE FROM migrations WHERE version = ?", v); err != nil {
			return fmt.Errorf("rollback %d: %w", v, err)
		}
	}
	return nil
}

func inTx(db *sql.DB, script, record string, version int) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.Exec(script); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to execute script: %w", err)
	}
	if _, err := tx.Exec(record, version); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record version: %w", err)
	}
	return tx.Commit()
}
