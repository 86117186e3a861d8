package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/mjhen/rosterbridge/internal/db"
)

//go:embed postgres/*.sql sqlite/*.sql
var embedded embed.FS

// Files returns the bundled migrations for dialect.
func Files(dialect db.Dialect) (fs.FS, error) {
	switch dialect {
	case db.Postgres, db.SQLite:
		return fs.Sub(embedded, string(dialect))
	}
	return nil, fmt.Errorf("no migrations for dialect %q", dialect)
}

// Run applies every .sql file at the root of fsys that has not been applied
// yet, in lexical order, one transaction per file.
func Run(ctx context.Context, database *sql.DB, dialect db.Dialect, fsys fs.FS) error {
	if err := ensureMigrationTable(ctx, database); err != nil {
		return err
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".sql") {
			files = append(files, name)
		}
	}
	sort.Strings(files)

	for _, name := range files {
		version := path.Base(name)
		applied, err := isApplied(ctx, database, dialect, version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		sqlBytes, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", version, err)
		}

		tx, err := database.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx %s: %w", version, err)
		}

		if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", version, err)
		}

		if _, err := tx.ExecContext(ctx, db.Rebind(dialect, `INSERT INTO schema_migrations(version) VALUES ($1)`), version); err != nil {
			tx.Rollback()
			return fmt.Errorf("track migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", version, err)
		}
	}

	return nil
}

// RunEmbedded applies the bundled migrations for dialect.
func RunEmbedded(ctx context.Context, database *sql.DB, dialect db.Dialect) error {
	fsys, err := Files(dialect)
	if err != nil {
		return err
	}
	return Run(ctx, database, dialect, fsys)
}

func ensureMigrationTable(ctx context.Context, database *sql.DB) error {
	_, err := database.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}
	return nil
}

func isApplied(ctx context.Context, database *sql.DB, dialect db.Dialect, version string) (bool, error) {
	var v string
	err := database.QueryRowContext(ctx, db.Rebind(dialect, `SELECT version FROM schema_migrations WHERE version = $1`), version).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return true, nil
}
