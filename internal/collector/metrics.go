package collector

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the panel's Prometheus collectors. All Record/Set methods
// are safe on a nil receiver.
type Metrics struct {
	// Counters
	IngestTotal        *prometheus.CounterVec
	BroadcastsTotal    *prometheus.CounterVec
	ViewerConnections  *prometheus.CounterVec
	StaleFlipsTotal    prometheus.Counter
	RigVersionOutdated *prometheus.CounterVec
	AuthLoginsTotal    *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	ErrorsTotal        *prometheus.CounterVec

	// Gauges
	ViewersActive prometheus.Gauge
	RigsOnline    prometheus.Gauge

	// Histograms
	IngestDuration *prometheus.HistogramVec
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

const metricsNamespace = "rider_panel"

// InitMetrics registers the process-wide collectors once.
func InitMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			IngestTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Name:      "ingest_total",
					Help:      "Device writes by kind and result",
				},
				[]string{"kind", "result"},
			),
			BroadcastsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Name:      "broadcasts_total",
					Help:      "Live-channel events fanned out, by type",
				},
				[]string{"type"},
			),
			ViewerConnections: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Name:      "viewer_connections_total",
					Help:      "Viewer connections by outcome (accepted/rejected/dropped)",
				},
				[]string{"status"},
			),
			StaleFlipsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Name:      "stale_flips_total",
					Help:      "Rigs demoted to offline by the staleness sweep",
				},
			),
			RigVersionOutdated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Name:      "rig_version_outdated_total",
					Help:      "Status reports whose version falls outside min_rig_version",
				},
				[]string{"rig_id"},
			),
			AuthLoginsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Name:      "auth_logins_total",
					Help:      "Login callbacks by result",
				},
				[]string{"result"},
			),
			NotificationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Name:      "notifications_total",
					Help:      "Offline notifications by result",
				},
				[]string{"result"},
			),
			ErrorsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Name:      "errors_total",
					Help:      "Errors by component",
				},
				[]string{"component", "type"},
			),
			ViewersActive: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Name:      "viewers_active",
					Help:      "Currently connected viewers",
				},
			),
			RigsOnline: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Name:      "rigs_online",
					Help:      "Rigs currently reporting online",
				},
			),
			IngestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metricsNamespace,
					Name:      "ingest_duration_seconds",
					Help:      "Time spent handling a device write",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"kind"},
			),
		}
	})
	return globalMetrics
}

func GetMetrics() *Metrics {
	return InitMetrics()
}

func (m *Metrics) RecordIngest(kind, result string, seconds float64) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(kind, result).Inc()
	m.IngestDuration.WithLabelValues(kind).Observe(seconds)
}

func (m *Metrics) RecordBroadcast(eventType string) {
	if m == nil {
		return
	}
	m.BroadcastsTotal.WithLabelValues(eventType).Inc()
}

func (m *Metrics) RecordViewerConnection(status string) {
	if m == nil {
		return
	}
	m.ViewerConnections.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordStaleFlip() {
	if m == nil {
		return
	}
	m.StaleFlipsTotal.Inc()
}

func (m *Metrics) RecordOutdatedRig(rigID string) {
	if m == nil {
		return
	}
	m.RigVersionOutdated.WithLabelValues(rigID).Inc()
}

func (m *Metrics) RecordLogin(result string) {
	if m == nil {
		return
	}
	m.AuthLoginsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordNotification(result string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

func (m *Metrics) SetActiveViewers(count int) {
	if m == nil {
		return
	}
	m.ViewersActive.Set(float64(count))
}

func (m *Metrics) SetOnlineRigs(count int) {
	if m == nil {
		return
	}
	m.RigsOnline.Set(float64(count))
}
