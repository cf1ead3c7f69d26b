package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// A migration is one .up.sql file, identified by its file name. Applied
// versions are recorded in schema_migrations so reruns are no-ops.
type migration struct {
	version string
	path    string
}

// ApplyMigrations brings the schema up to date at boot. Files run in lexical
// order, each inside its own transaction together with its bookkeeping row.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	if err := ensureVersionTable(ctx, db); err != nil {
		return err
	}

	pending, err := pendingMigrations(ctx, db, migrationsDir)
	if err != nil {
		return err
	}
	for _, m := range pending {
		if err := runMigration(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func pendingMigrations(ctx context.Context, db *sql.DB, dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: read dir %s: %w", dir, err)
	}

	var all []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		all = append(all, migration{
			version: entry.Name(),
			path:    filepath.Join(dir, entry.Name()),
		})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].version < all[j].version })

	pending := all[:0]
	for _, m := range all {
		applied, err := versionApplied(ctx, db, m.version)
		if err != nil {
			return nil, err
		}
		if !applied {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

func runMigration(ctx context.Context, db *sql.DB, m migration) error {
	script, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("migrations: read %s: %w", m.version, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrations: begin %s: %w", m.version, err)
	}
	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migrations: apply %s: %w", m.version, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, m.version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migrations: record %s: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrations: commit %s: %w", m.version, err)
	}
	return nil
}

func ensureVersionTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("migrations: ensure version table: %w", err)
	}
	return nil
}

func versionApplied(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var applied bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&applied)
	if err != nil {
		return false, fmt.Errorf("migrations: check %s: %w", version, err)
	}
	return applied, nil
}
