package collector

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Bldg-7/rider-agent-panel/internal/shared"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	viewerSendBuffer    = 256
	viewerGaugeInterval = 15 * time.Second
)

var errHubClosed = errors.New("hub closed")

// SnapshotSource supplies the full status map to newly connected viewers.
type SnapshotSource interface {
	WithSnapshot(fn func(map[string]StatusRecord))
}

// Hub fans status and log events out to connected dashboard viewers.
// Each viewer has a bounded send buffer; a viewer whose buffer is full is
// disconnected rather than allowed to slow the write path.
type Hub struct {
	viewers map[string]*ViewerConn
	source  SnapshotSource
	closed  bool

	allowedOrigins []string
	strictOrigin   bool

	upgrader websocket.Upgrader
	clock    clockwork.Clock
	metrics  *Metrics
	logger   *zap.Logger
	mu       sync.RWMutex
}

func NewHub(allowedOrigins []string, clock clockwork.Clock, logger *zap.Logger) *Hub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		viewers:        make(map[string]*ViewerConn),
		allowedOrigins: allowedOrigins,
		clock:          clock,
		metrics:        GetMetrics(),
		logger:         logger,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
	}
	return h
}

func (h *Hub) SetSnapshotSource(src SnapshotSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.source = src
}

func (h *Hub) SetStrictOrigin(strict bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.strictOrigin = strict
}

// Run keeps the viewer gauge current until ctx is cancelled, then
// disconnects every viewer.
func (h *Hub) Run(ctx context.Context) {
	ticker := h.clock.NewTicker(viewerGaugeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.Chan():
			h.metrics.SetActiveViewers(h.ViewerCount())
		}
	}
}

// Publish encodes ev once and enqueues it on every viewer without blocking.
func (h *Hub) Publish(ev Event) {
	frame, err := encodeFrame(ev)
	if err != nil {
		h.logger.Error("failed to encode event", zap.String("type", string(ev.Type)), zap.Error(err))
		h.metrics.RecordError("hub", "encode")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, v := range h.viewers {
		select {
		case v.send <- frame:
		default:
			h.logger.Warn("dropping slow viewer", zap.String("viewer_id", id))
			delete(h.viewers, id)
			close(v.send)
			h.metrics.RecordViewerConnection("dropped")
		}
	}
	h.metrics.RecordBroadcast(string(ev.Type))
}

// ServeWS upgrades the request to a viewer connection. The viewer receives
// one initial-status frame followed by live events.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("viewer upgrade failed", zap.Error(err))
		h.metrics.RecordViewerConnection("rejected")
		return
	}

	v := newViewerConn(h, conn, uuid.NewString())
	if err := h.attach(v); err != nil {
		h.logger.Warn("viewer attach failed", zap.String("viewer_id", v.id), zap.Error(err))
		h.metrics.RecordViewerConnection("rejected")
		conn.Close()
		return
	}

	h.metrics.RecordViewerConnection("accepted")
	shared.LogWithContext(r.Context(), h.logger, "viewer connected",
		zap.String("viewer_id", v.id),
		zap.String("remote_addr", r.RemoteAddr),
	)

	go v.writePump()
	go v.readPump()
}

// attach queues the snapshot and adds v to the viewer set under the
// source's lock, so v sees every later event exactly once.
func (h *Hub) attach(v *ViewerConn) error {
	h.mu.RLock()
	src := h.source
	h.mu.RUnlock()
	if src == nil {
		return errors.New("no snapshot source")
	}

	var attachErr error
	src.WithSnapshot(func(snapshot map[string]StatusRecord) {
		frame, err := encodeFrame(Event{
			Type:    shared.EventTypeInitialStatus,
			Payload: snapshot,
			At:      h.clock.Now(),
		})
		if err != nil {
			attachErr = err
			return
		}

		h.mu.Lock()
		defer h.mu.Unlock()
		if h.closed {
			attachErr = errHubClosed
			return
		}
		v.send <- frame
		h.viewers[v.id] = v
	})
	return attachErr
}

// remove drops v from the viewer set. Safe to call more than once.
func (h *Hub) remove(v *ViewerConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.viewers[v.id]; ok && cur == v {
		delete(h.viewers, v.id)
		close(v.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, v := range h.viewers {
		close(v.send)
		delete(h.viewers, id)
	}
	h.metrics.SetActiveViewers(0)
}

func (h *Hub) ViewerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	h.mu.RLock()
	strict := h.strictOrigin
	allowed := h.allowedOrigins
	h.mu.RUnlock()

	origin := r.Header.Get("Origin")
	if origin == "" {
		if strict {
			h.logger.Warn("rejected viewer with missing origin")
		}
		return !strict
	}
	if len(allowed) == 0 {
		return sameOrigin(origin, r.Host)
	}
	for _, pattern := range allowed {
		if MatchOrigin(origin, pattern) {
			return true
		}
	}
	h.logger.Warn("rejected viewer from unauthorized origin", zap.String("origin", origin))
	return false
}

func encodeFrame(ev Event) ([]byte, error) {
	env, err := shared.NewEnvelope(ev.Type, ev.Payload, ev.At)
	if err != nil {
		return nil, err
	}
	return shared.MarshalEnvelope(env)
}
