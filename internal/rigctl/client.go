package rigctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SecretHeader must match the header the panel reads the device secret from.
const SecretHeader = "X-Secret-Key"

// Client pushes rig status and logs to a panel.
type Client struct {
	baseURL string
	rigID   string
	secret  string
	client  *http.Client
}

// NewClient creates a client for one rig.
func NewClient(baseURL, rigID, secret string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		rigID:   rigID,
		secret:  secret,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// APIError is the panel's error body. It also carries the HTTP status.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Code    string `json:"code"`
}

func (e *APIError) Error() string {
	switch e.Code {
	case "UNAUTHORIZED":
		return "panel rejected the secret key"
	case "UNKNOWN_RIG":
		return "rig is not registered on the panel"
	case "INSECURE_TRANSPORT":
		return "panel requires HTTPS"
	}
	if e.Message != "" {
		return fmt.Sprintf("panel error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("panel error (status %d)", e.Status)
}

// LogLine is one log push.
type LogLine struct {
	Level     string `json:"level,omitempty"`
	Message   string `json:"message"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// LogEntry is a stored log line as the panel returns it.
type LogEntry struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// PanelInfo is the panel's public build information.
type PanelInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Branch      string `json:"branch"`
}

// PushStatus replaces the rig's status on the panel with payload.
func (c *Client) PushStatus(ctx context.Context, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	_, err := c.post(ctx, c.rigPath("status"), payload)
	return err
}

// PushLog appends one log line.
func (c *Client) PushLog(ctx context.Context, line LogLine) error {
	if strings.TrimSpace(line.Message) == "" {
		return errors.New("log message is required")
	}
	_, err := c.post(ctx, c.rigPath("logs"), line)
	return err
}

// Logs fetches the rig's stored logs. A panel with viewer login enabled
// answers 401 unless a session cookie is supplied through the HTTP client.
func (c *Client) Logs(ctx context.Context) ([]LogEntry, error) {
	body, err := c.get(ctx, c.rigPath("logs"))
	if err != nil {
		return nil, err
	}
	var logs []LogEntry
	if err := json.Unmarshal(body, &logs); err != nil {
		return nil, fmt.Errorf("failed to parse logs: %w", err)
	}
	return logs, nil
}

// Info fetches the panel's name and build.
func (c *Client) Info(ctx context.Context) (*PanelInfo, error) {
	body, err := c.get(ctx, "/v1/api/info")
	if err != nil {
		return nil, err
	}
	var info PanelInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse info: %w", err)
	}
	return &info, nil
}

func (c *Client) rigPath(kind string) string {
	return "/v1/api/simrig/" + url.PathEscape(c.rigID) + "/" + kind
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SecretHeader, c.secret)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to panel at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp.StatusCode, body)
	}
	return body, nil
}

func parseError(status int, body []byte) error {
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(body, apiErr); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
