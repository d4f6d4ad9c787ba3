package integration

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Bldg-7/rider-agent-panel/internal/collector"
	"github.com/Bldg-7/rider-agent-panel/internal/config"
	"github.com/Bldg-7/rider-agent-panel/internal/rigctl"
	"github.com/Bldg-7/rider-agent-panel/internal/shared"
	"github.com/Bldg-7/rider-agent-panel/internal/storage"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const harnessSecret = "integration-secret"

var harnessEpoch = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

type panelHarness struct {
	t        *testing.T
	srv      *collector.Server
	clock    fakeClock
	idp      *fakeIdP
	notifier *recordingNotifier
	baseURL  string
}

func newPanelHarness(t *testing.T, authEnabled bool, rigs ...string) *panelHarness {
	t.Helper()

	h := &panelHarness{
		t:        t,
		clock:    clockwork.NewFakeClockAt(harnessEpoch),
		idp:      newFakeIdP(t),
		notifier: newRecordingNotifier(),
	}

	cfg := config.DefaultPanelConfig()
	cfg.Server.Port = 0
	cfg.Rigs = rigs
	cfg.Ingest.SecretKey = harnessSecret
	cfg.Auth.Enabled = authEnabled
	cfg.Auth.ServerURL = h.idp.server.URL
	cfg.Auth.ClientID = "panel-e2e"

	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "panel.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	srv, err := collector.NewServer(&cfg, zap.NewNop(),
		collector.WithClock(h.clock),
		collector.WithDatabase(db),
		collector.WithNotifier(h.notifier),
	)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() {
		if srv.IsRunning() {
			srv.Stop()
		}
	})

	h.srv = srv
	h.baseURL = "http://" + srv.Addr()
	return h
}

func (h *panelHarness) rig(id string) *rigctl.Client {
	return rigctl.NewClient(h.baseURL, id, harnessSecret)
}

func (h *panelHarness) push(t *testing.T, rigID string, payload map[string]any) {
	t.Helper()
	if err := h.rig(rigID).PushStatus(context.Background(), payload); err != nil {
		t.Fatalf("push status for %s: %v", rigID, err)
	}
}

// browser returns a client that keeps cookies and does not follow
// redirects, so each hop of the login dance can be inspected.
func (h *panelHarness) browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Client{
		Jar:     jar,
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// login walks the PKCE flow against the fake IdP and returns the
// authenticated browser together with the authorize URL the panel built.
func (h *panelHarness) login(t *testing.T) (*http.Client, *url.URL) {
	t.Helper()
	client := h.browser(t)

	resp := h.get(t, client, "/auth/login")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("login: expected 302, got %d", resp.StatusCode)
	}
	authorize, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse authorize url: %v", err)
	}

	q := url.Values{"code": {"auth-code-1"}, "state": {authorize.Query().Get("state")}}
	resp = h.get(t, client, "/auth/callback?"+q.Encode())
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/" {
		t.Fatalf("callback: expected redirect to /, got %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	return client, authorize
}

func (h *panelHarness) get(t *testing.T, client *http.Client, path string) *http.Response {
	t.Helper()
	resp, err := client.Get(h.baseURL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	resp.Body.Close()
	return resp
}

func (h *panelHarness) getJSON(t *testing.T, client *http.Client, path string, target any) int {
	t.Helper()
	resp, err := client.Get(h.baseURL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

// viewer opens the dashboard socket, carrying the browser's session
// cookies when client is non-nil.
func (h *panelHarness) viewer(t *testing.T, client *http.Client) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	if client != nil && client.Jar != nil {
		u, _ := url.Parse(h.baseURL)
		var parts []string
		for _, c := range client.Jar.Cookies(u) {
			parts = append(parts, c.Name+"="+c.Value)
		}
		if len(parts) > 0 {
			header.Set("Cookie", strings.Join(parts, "; "))
		}
	}
	wsURL := "ws" + strings.TrimPrefix(h.baseURL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

type frame struct {
	Type    string
	Payload map[string]any
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	env, err := shared.UnmarshalEnvelope(msg)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Version != shared.ProtocolVersion {
		t.Fatalf("unexpected protocol version %d", env.Version)
	}
	var payload map[string]any
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return frame{Type: env.Type, Payload: payload}
}

type fakeIdP struct {
	server *httptest.Server

	mu       sync.Mutex
	verifier string
	subject  string
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	idp := &fakeIdP{subject: "operator-7"}
	idp.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/connect/token" {
			http.NotFound(w, r)
			return
		}
		r.ParseForm()
		idp.mu.Lock()
		idp.verifier = r.PostForm.Get("code_verifier")
		sub := idp.subject
		idp.mu.Unlock()

		idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":  sub,
			"name": "Rig Operator",
			"iss":  idp.server.URL,
		}).SignedString([]byte("idp-key"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "opaque-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		})
	}))
	t.Cleanup(idp.server.Close)
	return idp
}

func (idp *fakeIdP) lastVerifier() string {
	idp.mu.Lock()
	defer idp.mu.Unlock()
	return idp.verifier
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

type recordingNotifier struct {
	mu     sync.Mutex
	rigs   []string
	failOn string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{}
}

func (n *recordingNotifier) NotifyOffline(_ context.Context, rigID string, _ collector.StatusRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rigs = append(n.rigs, rigID)
	if rigID == n.failOn {
		return errors.New("alert channel unavailable")
	}
	return nil
}

func (n *recordingNotifier) notified() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.rigs...)
}

func waitFor(t *testing.T, timeout time.Duration, fn func() bool, label string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", label)
}
