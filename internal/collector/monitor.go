package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	DefaultSweepInterval = 5 * time.Second
	DefaultStaleAfter    = 10 * time.Second

	notifyTimeout  = 10 * time.Second
	alertQueueSize = 64
)

// StalenessMonitor periodically demotes rigs that have stopped reporting.
type StalenessMonitor struct {
	store     *StatusStore
	interval  time.Duration
	threshold time.Duration
	clock     clockwork.Clock
	alerts    *alertDispatcher
	metrics   *Metrics
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewStalenessMonitor validates that threshold exceeds interval so sweep
// jitter cannot flap a rig that is reporting on time.
func NewStalenessMonitor(store *StatusStore, interval, threshold time.Duration, clock clockwork.Clock, logger *zap.Logger) (*StalenessMonitor, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	if threshold <= interval {
		return nil, fmt.Errorf("stale threshold %s must be greater than sweep interval %s", threshold, interval)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StalenessMonitor{
		store:     store,
		interval:  interval,
		threshold: threshold,
		clock:     clock,
		metrics:   GetMetrics(),
		logger:    logger,
	}, nil
}

// SetNotifier replaces the offline notifier. Alerts already queued for a
// previous notifier are abandoned. A nil notifier disables alerting.
func (m *StalenessMonitor) SetNotifier(n OfflineNotifier) {
	var next *alertDispatcher
	if n != nil {
		next = newAlertDispatcher(n, alertQueueSize, m.metrics, m.logger)
	}

	m.mu.Lock()
	prev := m.alerts
	m.alerts = next
	m.mu.Unlock()

	if prev != nil {
		prev.close()
	}
}

// Close stops the sweep loop and the alert worker. Pending alerts are
// dropped.
func (m *StalenessMonitor) Close() {
	m.Stop()
	m.SetNotifier(nil)
}

// Start launches the sweep loop. Calling Start on a running monitor is a no-op.
func (m *StalenessMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	ticker := m.clock.NewTicker(m.interval)
	go m.loop(ticker, m.stop, m.done)
}

// Stop halts the loop and releases its ticker. Safe to call repeatedly.
func (m *StalenessMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stop, done := m.stop, m.done
	m.mu.Unlock()

	close(stop)
	<-done
}

func (m *StalenessMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *StalenessMonitor) loop(ticker clockwork.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			m.Sweep()
		}
	}
}

// Sweep evaluates every rig once and returns the ones flipped offline.
// Alerts are queued for the delivery worker and never delay the sweep.
func (m *StalenessMonitor) Sweep() []RigStatus {
	flipped := m.store.ExpireStale(m.threshold)
	m.metrics.SetOnlineRigs(m.store.OnlineCount())

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rs := range flipped {
		m.metrics.RecordStaleFlip()
		m.logger.Info("rig went offline",
			zap.String("rig_id", rs.RigID),
			zap.Time("last_update", rs.Record.LastUpdate),
		)
		if m.alerts != nil {
			m.alerts.enqueue(rs)
		}
	}
	return flipped
}

// alertDispatcher delivers offline alerts on one goroutine from a bounded
// queue. Enqueue never blocks; a full queue drops the alert.
type alertDispatcher struct {
	notifier OfflineNotifier
	queue    chan RigStatus
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	metrics  *Metrics
	logger   *zap.Logger
}

func newAlertDispatcher(n OfflineNotifier, size int, metrics *Metrics, logger *zap.Logger) *alertDispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &alertDispatcher{
		notifier: n,
		queue:    make(chan RigStatus, size),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		metrics:  metrics,
		logger:   logger,
	}
	go d.run()
	return d
}

// enqueue must not be called after close.
func (d *alertDispatcher) enqueue(rs RigStatus) bool {
	select {
	case d.queue <- rs:
		return true
	default:
		d.logger.Warn("offline alert queue full, dropping alert", zap.String("rig_id", rs.RigID))
		d.metrics.RecordNotification("dropped")
		return false
	}
}

func (d *alertDispatcher) close() {
	d.cancel()
	close(d.queue)
	<-d.done
}

func (d *alertDispatcher) run() {
	defer close(d.done)
	for rs := range d.queue {
		if d.ctx.Err() != nil {
			d.metrics.RecordNotification("dropped")
			continue
		}
		d.deliver(rs)
	}
}

// deliver isolates each notifier call so one failure or panic does not
// skip the remaining rigs.
func (d *alertDispatcher) deliver(rs RigStatus) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("offline notifier panicked", zap.String("rig_id", rs.RigID), zap.Any("panic", r))
			d.metrics.RecordNotification("error")
		}
	}()

	ctx, cancel := context.WithTimeout(d.ctx, notifyTimeout)
	defer cancel()

	if err := d.notifier.NotifyOffline(ctx, rs.RigID, rs.Record); err != nil {
		d.logger.Warn("offline notification failed", zap.String("rig_id", rs.RigID), zap.Error(err))
		d.metrics.RecordNotification("error")
		return
	}
	d.metrics.RecordNotification("sent")
}
