package collector

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/Bldg-7/rider-agent-panel/internal/storage"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "panel.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAuditLoggerRecordsRejections(t *testing.T) {
	audit := NewAuditLogger(openTestDB(t), zap.NewNop())

	audit.LogIngestRejection("rig-1", "ingest.status", "unauthorized", "invalid secret key", "10.0.0.5")
	audit.LogIngestRejection("rig-2", "ingest.log", "unknown_rig", "unknown rig: rig-2", "10.0.0.6")

	entries, err := audit.QueryByActor("rig-1", 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Action != "ingest.status" || e.Result != "unauthorized" || e.IPAddress != "10.0.0.5" || e.Target != "rig-1" {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Error("entry should have id and timestamp")
	}

	entries, err = audit.QueryByAction("ingest.log", 10)
	if err != nil || len(entries) != 1 || entries[0].Actor != "rig-2" {
		t.Fatalf("unexpected action query result %v (%v)", entries, err)
	}
}

func TestAuditLoggerRecordsAuth(t *testing.T) {
	audit := NewAuditLogger(openTestDB(t), zap.NewNop())
	audit.RecordAuth("auth.login", "success", "user-42", "192.168.1.2")
	audit.RecordAuth("auth.logout", "success", "", "192.168.1.2")

	entries, err := audit.QueryByActor("viewer", 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Target != "dashboard" {
			t.Errorf("unexpected target %q", e.Target)
		}
	}
}

func TestAuditPurge(t *testing.T) {
	audit := NewAuditLogger(openTestDB(t), zap.NewNop())

	old := AuditEntry{
		ID:        "old-entry",
		Timestamp: time.Now().UTC().Add(-48 * time.Hour),
		Actor:     "rig-1",
		Action:    "ingest.status",
		Target:    "rig-1",
		Result:    "unauthorized",
	}
	if err := audit.insertEntry(old); err != nil {
		t.Fatalf("insert: %v", err)
	}
	audit.LogIngestRejection("rig-1", "ingest.status", "unauthorized", "", "")

	n, err := audit.PurgeOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged row, got %d", n)
	}
	entries, _ := audit.QueryByActor("rig-1", 10)
	if len(entries) != 1 || entries[0].ID == "old-entry" {
		t.Errorf("expected only the recent entry to remain, got %v", entries)
	}
}

func TestAuditLoggerWithoutDatabase(t *testing.T) {
	var nilLogger *AuditLogger
	nilLogger.LogIngestRejection("rig", "ingest.status", "unauthorized", "", "")
	nilLogger.RecordAuth("auth.login", "success", "", "")

	audit := NewAuditLogger(nil, nil)
	audit.LogIngestRejection("rig", "ingest.status", "unauthorized", "", "")
	entries, err := audit.QueryByActor("rig", 10)
	if err != nil || entries != nil {
		t.Errorf("expected no entries without a database, got %v %v", entries, err)
	}
	if n, err := audit.PurgeOlderThan(time.Hour); n != 0 || err != nil {
		t.Errorf("purge without database: %d %v", n, err)
	}
}
