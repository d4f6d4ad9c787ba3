package collector

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditEntry is one row of the operational audit trail.
type AuditEntry struct {
	ID        string
	Timestamp time.Time
	Actor     string
	Action    string
	Target    string
	Result    string
	Detail    string
	IPAddress string
}

// AuditLogger writes rejected device writes and login outcomes to SQLite.
// A nil receiver or nil database turns writes into no-ops; auth outcomes
// are still counted in metrics.
type AuditLogger struct {
	db      *sql.DB
	metrics *Metrics
	logger  *zap.Logger
}

func NewAuditLogger(db *sql.DB, logger *zap.Logger) *AuditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditLogger{db: db, metrics: GetMetrics(), logger: logger}
}

func (a *AuditLogger) LogIngestRejection(rigID, action, result, detail, ipAddr string) {
	a.log(AuditEntry{
		Actor:     rigID,
		Action:    action,
		Target:    rigID,
		Result:    result,
		Detail:    detail,
		IPAddress: ipAddr,
	})
}

// RecordAuth records a login or logout outcome for a dashboard viewer.
func (a *AuditLogger) RecordAuth(action, result, detail, ipAddr string) {
	if a == nil {
		return
	}
	if action == "auth.login" {
		a.metrics.RecordLogin(result)
	}
	a.log(AuditEntry{
		Actor:     "viewer",
		Action:    action,
		Target:    "dashboard",
		Result:    result,
		Detail:    detail,
		IPAddress: ipAddr,
	})
}

func (a *AuditLogger) log(entry AuditEntry) {
	if a == nil || a.db == nil {
		return
	}
	entry.ID = uuid.NewString()
	entry.Timestamp = time.Now().UTC()
	if entry.Target == "" {
		entry.Target = "unknown"
	}
	if err := a.insertEntry(entry); err != nil {
		a.logger.Warn("failed to write audit log entry",
			zap.String("action", entry.Action),
			zap.Error(err),
		)
		a.metrics.RecordError("audit", "insert")
	}
}

func (a *AuditLogger) insertEntry(entry AuditEntry) error {
	_, err := a.db.Exec(`
		INSERT INTO audit_log (id, timestamp, actor, action, target, result, detail, ip_address)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Timestamp.Format(time.RFC3339Nano), entry.Actor, entry.Action,
		entry.Target, entry.Result, entry.Detail, entry.IPAddress)
	return err
}

func (a *AuditLogger) QueryByActor(actor string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	return a.queryEntries("SELECT id, timestamp, actor, action, target, result, detail, ip_address FROM audit_log WHERE actor = ? ORDER BY timestamp DESC LIMIT ?", actor, limit)
}

func (a *AuditLogger) QueryByAction(action string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	return a.queryEntries("SELECT id, timestamp, actor, action, target, result, detail, ip_address FROM audit_log WHERE action = ? ORDER BY timestamp DESC LIMIT ?", action, limit)
}

// PurgeOlderThan deletes entries older than the retention window.
func (a *AuditLogger) PurgeOlderThan(retention time.Duration) (int64, error) {
	if a == nil || a.db == nil {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	result, err := a.db.Exec("DELETE FROM audit_log WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (a *AuditLogger) queryEntries(query string, args ...any) ([]AuditEntry, error) {
	if a == nil || a.db == nil {
		return nil, nil
	}
	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts, detail, ipAddr sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.Actor, &e.Action, &e.Target, &e.Result, &detail, &ipAddr); err != nil {
			return nil, err
		}
		if ts.Valid {
			if t, err := time.Parse(time.RFC3339Nano, ts.String); err == nil {
				e.Timestamp = t
			}
		}
		e.Detail = detail.String
		e.IPAddress = ipAddr.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
