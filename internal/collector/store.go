package collector

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MaxLogsPerRig bounds the per-rig log history; older entries are evicted first.
const MaxLogsPerRig = 100

const defaultLogLevel = "info"

var ErrUnknownRig = errors.New("unknown sim rig")

// StatusStore holds the status record and bounded log history of every rig
// in a fixed roster. All mutations are serialized by one mutex, and events
// are published while it is held so per-rig delivery order matches
// mutation order.
type StatusStore struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	order     []string
	records   map[string]StatusRecord
	logs      map[string][]LogEntry
	publisher Publisher
}

func NewStatusStore(rigIDs []string, clock clockwork.Clock, publisher Publisher) *StatusStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	s := &StatusStore{
		clock:     clock,
		order:     make([]string, 0, len(rigIDs)),
		records:   make(map[string]StatusRecord, len(rigIDs)),
		logs:      make(map[string][]LogEntry, len(rigIDs)),
		publisher: publisher,
	}
	for _, id := range rigIDs {
		if _, dup := s.records[id]; dup {
			continue
		}
		s.order = append(s.order, id)
		s.records[id] = StatusRecord{Data: map[string]any{}}
		s.logs[id] = make([]LogEntry, 0, MaxLogsPerRig)
	}
	return s
}

// SetPublisher replaces the event sink.
func (s *StatusStore) SetPublisher(p Publisher) {
	if p == nil {
		p = nopPublisher{}
	}
	s.mu.Lock()
	s.publisher = p
	s.mu.Unlock()
}

// ApplyUpdate replaces the rig's record with the reported payload and marks
// it online. The full payload is kept as Data; branch, version and isInUse
// are lifted out of it.
func (s *StatusStore) ApplyUpdate(rigID string, payload map[string]any) (StatusRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rigID]; !ok {
		return StatusRecord{}, fmt.Errorf("%w: %s", ErrUnknownRig, rigID)
	}

	now := s.clock.Now()
	rec := StatusRecord{
		Online:     true,
		LastUpdate: now,
		IsInUse:    boolField(payload, "isInUse"),
		Branch:     stringField(payload, "branch"),
		Version:    stringField(payload, "version"),
		Data:       cloneMap(payload),
	}
	s.records[rigID] = rec
	s.publisher.Publish(statusUpdateEvent(rigID, rec.clone(), now))
	return rec.clone(), nil
}

// AppendLog records a log line for the rig. A nil timestamp means now and
// an empty level means "info".
func (s *StatusStore) AppendLog(rigID, level, message string, timestamp *int64) (LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logs, ok := s.logs[rigID]
	if !ok {
		return LogEntry{}, fmt.Errorf("%w: %s", ErrUnknownRig, rigID)
	}

	now := s.clock.Now()
	entry := LogEntry{Level: level, Message: message, Timestamp: now.UnixMilli()}
	if entry.Level == "" {
		entry.Level = defaultLogLevel
	}
	if timestamp != nil {
		entry.Timestamp = *timestamp
	}

	logs = append(logs, entry)
	if over := len(logs) - MaxLogsPerRig; over > 0 {
		copy(logs, logs[over:])
		logs = logs[:MaxLogsPerRig]
	}
	s.logs[rigID] = logs
	s.publisher.Publish(logUpdateEvent(rigID, entry, now))
	return entry, nil
}

// Snapshot returns a deep copy of every rig's record. Logs are not included.
func (s *StatusStore) Snapshot() map[string]StatusRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *StatusStore) snapshotLocked() map[string]StatusRecord {
	out := make(map[string]StatusRecord, len(s.records))
	for id, rec := range s.records {
		out[id] = rec.clone()
	}
	return out
}

// WithSnapshot runs fn with a snapshot while holding the store lock, so no
// mutation can land between the snapshot and whatever fn registers.
func (s *StatusStore) WithSnapshot(fn func(map[string]StatusRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.snapshotLocked())
}

// Logs returns the rig's log history, oldest first.
func (s *StatusStore) Logs(rigID string) ([]LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logs, ok := s.logs[rigID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRig, rigID)
	}
	out := make([]LogEntry, len(logs))
	copy(out, logs)
	return out, nil
}

// ExpireStale flips every online rig whose last update is older than
// threshold to offline, leaving its other fields untouched, and returns the
// flipped records in roster order.
func (s *StatusStore) ExpireStale(threshold time.Duration) []RigStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var flipped []RigStatus
	for _, id := range s.order {
		rec := s.records[id]
		if !rec.Online || rec.LastUpdate.IsZero() || now.Sub(rec.LastUpdate) <= threshold {
			continue
		}
		rec.Online = false
		s.records[id] = rec
		s.publisher.Publish(statusUpdateEvent(id, rec.clone(), now))
		flipped = append(flipped, RigStatus{RigID: id, Record: rec.clone()})
	}
	return flipped
}

// Has reports whether rigID is in the roster.
func (s *StatusStore) Has(rigID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[rigID]
	return ok
}

// RigIDs returns the roster in configuration order.
func (s *StatusStore) RigIDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *StatusStore) OnlineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.records {
		if rec.Online {
			n++
		}
	}
	return n
}

func boolField(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func stringField(m map[string]any, key string) *string {
	switch v := m[key].(type) {
	case nil:
		return nil
	case string:
		return &v
	default:
		s := fmt.Sprint(v)
		return &s
	}
}
