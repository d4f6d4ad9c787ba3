package collector

import (
	"encoding/json"
	"time"

	"github.com/Bldg-7/rider-agent-panel/internal/shared"
)

// StatusRecord is the current state of one rig. A zero LastUpdate means the
// rig has not reported since the process started.
type StatusRecord struct {
	Online     bool
	LastUpdate time.Time
	IsInUse    bool
	Branch     *string
	Version    *string
	Data       map[string]any
}

type statusRecordJSON struct {
	Online     bool           `json:"online"`
	LastUpdate *int64         `json:"lastUpdate"`
	IsInUse    bool           `json:"isInUse"`
	Branch     *string        `json:"branch"`
	Version    *string        `json:"version"`
	Data       map[string]any `json:"data"`
}

func (r StatusRecord) toJSON() statusRecordJSON {
	out := statusRecordJSON{
		Online:  r.Online,
		IsInUse: r.IsInUse,
		Branch:  r.Branch,
		Version: r.Version,
		Data:    r.Data,
	}
	if out.Data == nil {
		out.Data = map[string]any{}
	}
	if !r.LastUpdate.IsZero() {
		ms := r.LastUpdate.UnixMilli()
		out.LastUpdate = &ms
	}
	return out
}

func (r StatusRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.toJSON())
}

func (r *StatusRecord) UnmarshalJSON(b []byte) error {
	var in statusRecordJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*r = StatusRecord{
		Online:  in.Online,
		IsInUse: in.IsInUse,
		Branch:  in.Branch,
		Version: in.Version,
		Data:    in.Data,
	}
	if in.LastUpdate != nil {
		r.LastUpdate = time.UnixMilli(*in.LastUpdate)
	}
	return nil
}

func (r StatusRecord) clone() StatusRecord {
	out := r
	out.Branch = cloneString(r.Branch)
	out.Version = cloneString(r.Version)
	out.Data = cloneMap(r.Data)
	return out
}

// LogEntry is one line of rig activity. Timestamp is epoch milliseconds.
type LogEntry struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// RigStatus pairs a rig ID with a record, as emitted on status changes.
type RigStatus struct {
	RigID  string
	Record StatusRecord
}

// StatusUpdate is the payload of a status-update frame.
type StatusUpdate struct {
	SimRigID string `json:"simRigId"`
	statusRecordJSON
}

// LogUpdate is the payload of a log-update frame.
type LogUpdate struct {
	SimRigID string   `json:"simRigId"`
	Log      LogEntry `json:"log"`
}

// Event is a change notification handed to a Publisher.
type Event struct {
	Type    shared.EventType
	Payload any
	At      time.Time
}

// Publisher fans events out to viewers. Publish must not block.
type Publisher interface {
	Publish(Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

func statusUpdateEvent(rigID string, rec StatusRecord, at time.Time) Event {
	return Event{
		Type:    shared.EventTypeStatusUpdate,
		Payload: StatusUpdate{SimRigID: rigID, statusRecordJSON: rec.toJSON()},
		At:      at,
	}
}

func logUpdateEvent(rigID string, entry LogEntry, at time.Time) Event {
	return Event{
		Type:    shared.EventTypeLogUpdate,
		Payload: LogUpdate{SimRigID: rigID, Log: entry},
		At:      at,
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		return v
	}
}
