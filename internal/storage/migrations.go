package storage

import (
	"context"
	"crypto/md5"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration is one embedded SQL file, keyed by its numeric filename prefix.
type Migration struct {
	Version  string
	Filename string
	Content  string
	Checksum string
}

type MigrationRunner struct {
	db     *sql.DB
	source fs.FS
}

func NewMigrationRunner(db *sql.DB) *MigrationRunner {
	return &MigrationRunner{db: db, source: migrationsFS}
}

// Migrate applies every pending migration. Already-applied migrations are
// verified against their recorded checksum and skipped.
func (mr *MigrationRunner) Migrate(ctx context.Context) error {
	if _, err := mr.db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := mr.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		checksum TEXT NOT NULL,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := mr.load()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	for _, m := range migrations {
		if err := mr.apply(ctx, m); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.Version, err)
		}
	}
	return nil
}

// Applied lists recorded migration versions in order.
func (mr *MigrationRunner) Applied(ctx context.Context) ([]string, error) {
	rows, err := mr.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (mr *MigrationRunner) load() ([]Migration, error) {
	entries, err := fs.ReadDir(mr.source, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	migrations := make([]Migration, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		content, err := fs.ReadFile(mr.source, path.Join("migrations", name))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", name, err)
		}
		version, _, _ := strings.Cut(name, "_")
		migrations = append(migrations, Migration{
			Version:  version,
			Filename: name,
			Content:  string(content),
			Checksum: checksum(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func (mr *MigrationRunner) apply(ctx context.Context, m Migration) error {
	var recorded string
	err := mr.db.QueryRowContext(ctx,
		"SELECT checksum FROM schema_migrations WHERE version = ?", m.Version,
	).Scan(&recorded)
	switch {
	case err == nil:
		if recorded != m.Checksum {
			return fmt.Errorf("checksum mismatch for migration %s: expected %s, got %s",
				m.Version, recorded, m.Checksum)
		}
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to check migration status: %w", err)
	}

	tx, err := mr.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, m.Content); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, checksum) VALUES (?, ?)", m.Version, m.Checksum,
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

func checksum(content []byte) string {
	return fmt.Sprintf("%x", md5.Sum(content))
}
