package rigctl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPushStatus(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/api/simrig/rig 1/status" {
			http.Error(w, "bad route "+r.URL.Path, http.StatusNotFound)
			return
		}
		if r.Header.Get(SecretHeader) != "s3cret" {
			http.Error(w, `{"error":"invalid secret key","code":"UNAUTHORIZED"}`, http.StatusUnauthorized)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "rig 1", "s3cret")
	if err := client.PushStatus(context.Background(), map[string]any{"isInUse": true}); err != nil {
		t.Fatalf("push status: %v", err)
	}
	if got["isInUse"] != true {
		t.Errorf("unexpected body %v", got)
	}

	if err := client.PushStatus(context.Background(), nil); err != nil {
		t.Fatalf("nil payload should send {}: %v", err)
	}
}

func TestPushLog(t *testing.T) {
	var got LogLine
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "A", "s3cret")
	if err := client.PushLog(context.Background(), LogLine{Level: "warn", Message: "hot"}); err != nil {
		t.Fatalf("push log: %v", err)
	}
	if got.Level != "warn" || got.Message != "hot" || got.Timestamp != nil {
		t.Errorf("unexpected body %+v", got)
	}

	if err := client.PushLog(context.Background(), LogLine{}); err == nil {
		t.Error("expected error for empty message")
	}
}

func TestPanelErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   string
		want   string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"invalid secret key","code":"UNAUTHORIZED"}`, "UNAUTHORIZED", "panel rejected the secret key"},
		{"unknown rig", http.StatusNotFound, `{"error":"SimRig not found","code":"UNKNOWN_RIG"}`, "UNKNOWN_RIG", "rig is not registered on the panel"},
		{"insecure", http.StatusForbidden, `{"error":"HTTPS is required","code":"INSECURE_TRANSPORT"}`, "INSECURE_TRANSPORT", "panel requires HTTPS"},
		{"bad request", http.StatusBadRequest, `{"error":"invalid request: message is required","code":"BAD_REQUEST"}`, "BAD_REQUEST", "panel error (status 400): invalid request: message is required"},
		{"plain text", http.StatusBadGateway, "upstream down\n", "", "panel error (status 502): upstream down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := NewClient(server.URL, "A", "x").PushStatus(context.Background(), map[string]any{})
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.Status != tt.status || apiErr.Code != tt.code {
				t.Errorf("unexpected error fields %+v", apiErr)
			}
			if err.Error() != tt.want {
				t.Errorf("got %q, want %q", err.Error(), tt.want)
			}
		})
	}
}

func TestLogsAndInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/api/simrig/A/logs":
			w.Write([]byte(`[{"level":"info","message":"boot","timestamp":1700000000000}]`))
		case "/v1/api/info":
			w.Write([]byte(`{"name":"panel","description":"d","version":"1.0.0","branch":"main"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "A", "")
	logs, err := client.Logs(context.Background())
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Message != "boot" || logs[0].Timestamp != 1700000000000 {
		t.Errorf("unexpected logs %+v", logs)
	}

	info, err := client.Info(context.Background())
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Version != "1.0.0" || info.Branch != "main" {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestConnectionError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := NewClient(url, "A", "x").PushStatus(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "failed to connect to panel") {
		t.Errorf("expected connection error, got %v", err)
	}
}
