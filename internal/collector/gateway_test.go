package collector

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

const testSecret = "rig-shared-secret"

func newTestGateway(t *testing.T, production bool, ids ...string) (*Gateway, *StatusStore, *recordingPublisher) {
	t.Helper()
	store, pub, _ := newTestStore(ids...)
	return NewGateway(store, testSecret, production, zap.NewNop()), store, pub
}

func TestSubmitStatusAccepted(t *testing.T) {
	gw, store, pub := newTestGateway(t, false, "A")

	rec, err := gw.SubmitStatus(context.Background(), "A", map[string]any{"isInUse": true, "version": "1.2.0"}, false, testSecret)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !rec.Online || !rec.IsInUse || rec.Version == nil || *rec.Version != "1.2.0" {
		t.Errorf("unexpected record %+v", rec)
	}
	if got := pub.wait(t); got.Type != "status-update" {
		t.Errorf("expected status-update, got %s", got.Type)
	}
	if store.OnlineCount() != 1 {
		t.Error("rig should be online")
	}
}

func TestGatewayCheckOrder(t *testing.T) {
	tests := []struct {
		name       string
		production bool
		secure     bool
		secret     string
		rigID      string
		payload    map[string]any
		want       error
	}{
		{"insecure before bad secret", true, false, "wrong", "nope", map[string]any{}, ErrInsecureTransport},
		{"bad secret before unknown rig", false, false, "wrong", "nope", map[string]any{}, ErrUnauthorized},
		{"empty secret", false, false, "", "A", map[string]any{}, ErrUnauthorized},
		{"secret of different length", false, false, testSecret + "-extra", "A", map[string]any{}, ErrUnauthorized},
		{"unknown rig before bad body", false, false, testSecret, "nope", nil, ErrUnknownRig},
		{"bad body after auth", false, false, testSecret, "A", nil, ErrInvalidRequest},
		{"production over https", true, true, testSecret, "A", map[string]any{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, store, _ := newTestGateway(t, tt.production, "A")
			_, err := gw.SubmitStatus(context.Background(), tt.rigID, tt.payload, tt.secure, tt.secret)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if store.OnlineCount() != 0 {
				t.Error("rejected write must not change state")
			}
		})
	}
}

func TestSubmitLog(t *testing.T) {
	gw, store, pub := newTestGateway(t, false, "A")
	ts := int64(1700000000000)

	entry, err := gw.SubmitLog(context.Background(), "A", &LogSubmission{Level: "error", Message: "crash", Timestamp: &ts}, false, testSecret)
	if err != nil {
		t.Fatalf("submit log: %v", err)
	}
	if entry.Level != "error" || entry.Timestamp != ts {
		t.Errorf("unexpected entry %+v", entry)
	}
	if got := pub.wait(t); got.Type != "log-update" {
		t.Errorf("expected log-update, got %s", got.Type)
	}

	logs, err := gw.ListLogs("A")
	if err != nil || len(logs) != 1 {
		t.Fatalf("expected one log, got %v (%v)", logs, err)
	}
	if online := store.OnlineCount(); online != 0 {
		t.Errorf("log push must not mark rig online, online=%d", online)
	}
}

func TestSubmitLogRequiresMessage(t *testing.T) {
	gw, _, _ := newTestGateway(t, false, "A")
	for _, sub := range []*LogSubmission{nil, {Level: "info"}, {Message: "   "}} {
		if _, err := gw.SubmitLog(context.Background(), "A", sub, false, testSecret); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("expected ErrInvalidRequest for %+v, got %v", sub, err)
		}
	}
	if _, err := gw.SubmitLog(context.Background(), "A", nil, false, "bad"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("secret must be checked before the body, got %v", err)
	}
}

func TestListLogsUnknownRig(t *testing.T) {
	gw, _, _ := newTestGateway(t, false, "A")
	if _, err := gw.ListLogs("Z"); !errors.Is(err, ErrUnknownRig) {
		t.Errorf("expected ErrUnknownRig, got %v", err)
	}
}

func TestMinRigVersion(t *testing.T) {
	gw, _, _ := newTestGateway(t, false, "A")
	if err := gw.SetMinRigVersion("not a constraint"); err == nil {
		t.Fatal("expected parse error")
	}
	if err := gw.SetMinRigVersion(">= 1.0.0"); err != nil {
		t.Fatalf("set constraint: %v", err)
	}

	for _, v := range []string{"0.9.0", "garbage", "1.4.2"} {
		if _, err := gw.SubmitStatus(context.Background(), "A", map[string]any{"version": v}, false, testSecret); err != nil {
			t.Errorf("version %q should still be accepted: %v", v, err)
		}
	}

	if err := gw.SetMinRigVersion(""); err != nil || gw.minVersion != nil {
		t.Error("empty constraint should clear the check")
	}
}

func TestRejectionReason(t *testing.T) {
	tests := map[error]string{
		ErrInsecureTransport:    "insecure_transport",
		ErrUnauthorized:         "unauthorized",
		ErrUnknownRig:           "unknown_rig",
		ErrInvalidRequest:       "bad_request",
		errors.New("disk full"): "error",
	}
	for err, want := range tests {
		if got := rejectionReason(err); got != want {
			t.Errorf("rejectionReason(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestClientIPContext(t *testing.T) {
	ctx := withClientIP(context.Background(), "10.0.0.7")
	if got := clientIPFromContext(ctx); got != "10.0.0.7" {
		t.Errorf("got %q", got)
	}
	if got := clientIPFromContext(context.Background()); got != "" {
		t.Errorf("expected empty ip, got %q", got)
	}
}
