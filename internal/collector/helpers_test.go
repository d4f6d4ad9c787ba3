package collector

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Bldg-7/rider-agent-panel/internal/shared"
	"github.com/jonboulle/clockwork"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// recordingPublisher captures events in publish order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	notify chan Event
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{notify: make(chan Event, 1024)}
}

func (p *recordingPublisher) Publish(ev Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	p.notify <- ev
}

func (p *recordingPublisher) all() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

func (p *recordingPublisher) wait(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-p.notify:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

// fakeClock is the part of clockwork's fake clock the tests drive.
type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntil(n int)
}

func newTestStore(ids ...string) (*StatusStore, *recordingPublisher, fakeClock) {
	fc := clockwork.NewFakeClockAt(testEpoch)
	pub := newRecordingPublisher()
	return NewStatusStore(ids, fc, pub), pub, fc
}

// payloadJSON round-trips an event payload into a generic map the way a
// viewer would see it.
func payloadJSON(t *testing.T, payload any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return out
}

func decodeFrame(t *testing.T, frame []byte) (*shared.Envelope, map[string]any) {
	t.Helper()
	env, err := shared.UnmarshalEnvelope(frame)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return env, payload
}
