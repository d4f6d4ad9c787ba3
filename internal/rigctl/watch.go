package rigctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	watchReadDeadline = 90 * time.Second
	sessionCookieName = "user_claims"
)

// Frame is one dashboard event as delivered on /ws.
type Frame struct {
	Type    string          `json:"type"`
	Version int             `json:"version"`
	At      int64           `json:"timestamp"`
	Payload json.RawMessage `json:"payload"`
}

// FrameHandler receives every frame in arrival order.
type FrameHandler func(Frame) error

// ErrSessionRequired means the panel refused the socket with 401. Retrying
// will not help until a session is supplied.
var ErrSessionRequired = errors.New("panel requires a viewer session")

// Watcher follows the panel's live feed, reconnecting with backoff. The
// panel does not replay missed events, so each connection starts with a
// fresh initial-status frame that supersedes anything seen before.
type Watcher struct {
	url     string
	session string
	handler FrameHandler
	backoff *Backoff
	logger  *zap.Logger
}

type WatcherOption func(*Watcher)

// WithSession sends the given user_claims cookie value on each dial.
func WithSession(value string) WatcherOption {
	return func(w *Watcher) { w.session = value }
}

func WithWatchBackoff(b *Backoff) WatcherOption {
	return func(w *Watcher) { w.backoff = b }
}

func WithWatchLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

func NewWatcher(baseURL string, handler FrameHandler, opts ...WatcherOption) *Watcher {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	w := &Watcher{
		url:     base + "/ws",
		handler: handler,
		backoff: DefaultBackoff(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is done, the panel demands a session, or the
// handler returns an error.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		err := w.dialAndServe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var handlerErr *handlerError
		if errors.As(err, &handlerErr) {
			return handlerErr.err
		}
		if errors.Is(err, ErrSessionRequired) {
			return err
		}

		wait := w.backoff.Next()
		w.logger.Info("watch disconnected, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", wait),
			zap.Int("attempt", w.backoff.Attempt()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

type handlerError struct{ err error }

func (e *handlerError) Error() string { return e.err.Error() }

func (w *Watcher) dialAndServe(ctx context.Context) error {
	header := http.Header{}
	if w.session != "" {
		header.Set("Cookie", sessionCookieName+"="+w.session)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, w.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return ErrSessionRequired
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	w.logger.Info("watching panel", zap.String("url", w.url))
	first := true
	for {
		conn.SetReadDeadline(time.Now().Add(watchReadDeadline))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			w.logger.Warn("invalid frame from panel", zap.Error(err))
			continue
		}
		if first {
			w.backoff.Reset()
			first = false
		}
		if err := w.handler(f); err != nil {
			return &handlerError{err: err}
		}
	}
}
