package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"
)

func TestMigrateFresh(t *testing.T) {
	db := setupTestDB(t)

	if err := NewMigrationRunner(db).Migrate(context.Background()); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	if !tableExists(t, db, "audit_log") {
		t.Error("audit_log table not created")
	}
	if !tableExists(t, db, "schema_migrations") {
		t.Error("schema_migrations table not created")
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := setupTestDB(t)
	runner := NewMigrationRunner(db)
	ctx := context.Background()

	if err := runner.Migrate(ctx); err != nil {
		t.Fatalf("first migration failed: %v", err)
	}
	if err := runner.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}

	applied, err := runner.Applied(ctx)
	if err != nil {
		t.Fatalf("failed to list migrations: %v", err)
	}
	if len(applied) != 1 || applied[0] != "001" {
		t.Errorf("expected [001], got %v", applied)
	}
}

func TestMigrateChecksumMismatch(t *testing.T) {
	db := setupTestDB(t)
	runner := NewMigrationRunner(db)
	ctx := context.Background()

	if err := runner.Migrate(ctx); err != nil {
		t.Fatalf("initial migration failed: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_migrations SET checksum = 'invalid' WHERE version = '001'"); err != nil {
		t.Fatalf("failed to corrupt checksum: %v", err)
	}
	if err := runner.Migrate(ctx); err == nil {
		t.Error("expected checksum mismatch error, got nil")
	}
}

func TestMigrateOrdersByVersionAndRollsBackFailures(t *testing.T) {
	db := setupTestDB(t)
	runner := &MigrationRunner{db: db, source: fstest.MapFS{
		"migrations/002_second.sql": {Data: []byte("CREATE TABLE second (id TEXT REFERENCES first(id));")},
		"migrations/001_first.sql":  {Data: []byte("CREATE TABLE first (id TEXT PRIMARY KEY);")},
		"migrations/003_broken.sql": {Data: []byte("CREATE TABLE third (id TEXT); THIS IS NOT SQL;")},
		"migrations/README.md":      {Data: []byte("ignored")},
	}}
	ctx := context.Background()

	if err := runner.Migrate(ctx); err == nil {
		t.Fatal("expected broken migration to fail")
	}

	applied, err := runner.Applied(ctx)
	if err != nil {
		t.Fatalf("failed to list migrations: %v", err)
	}
	if len(applied) != 2 || applied[0] != "001" || applied[1] != "002" {
		t.Errorf("expected [001 002], got %v", applied)
	}
	if tableExists(t, db, "third") {
		t.Error("failed migration should not leave partial tables")
	}
}

func TestOpenRunsMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.db")
	db, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if !tableExists(t, db, "audit_log") {
		t.Error("audit_log table not created by Open")
	}
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, tableName string) bool {
	t.Helper()
	var exists int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		tableName,
	).Scan(&exists)
	if err != nil {
		t.Fatalf("failed to check table existence: %v", err)
	}
	return exists > 0
}
