package collector

import (
	"context"
	"database/sql"
	"time"
)

type ComponentStatus string

const (
	StatusOK          ComponentStatus = "ok"
	StatusError       ComponentStatus = "error"
	StatusUnavailable ComponentStatus = "unavailable"
	StatusDisabled    ComponentStatus = "disabled"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

type ComponentHealth struct {
	Status ComponentStatus `json:"status"`
	Error  string          `json:"error,omitempty"`
	Detail map[string]int  `json:"detail,omitempty"`
}

type HealthCheckResult struct {
	Status     HealthStatus               `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// HealthChecker reports liveness and readiness of the panel components.
// The audit database is optional; when absent it reports "disabled" and
// does not affect readiness.
type HealthChecker struct {
	db      *sql.DB
	store   *StatusStore
	hub     *Hub
	monitor *StalenessMonitor
}

func NewHealthChecker(db *sql.DB, store *StatusStore, hub *Hub, monitor *StalenessMonitor) *HealthChecker {
	return &HealthChecker{db: db, store: store, hub: hub, monitor: monitor}
}

func (hc *HealthChecker) CheckLiveness(ctx context.Context) HealthCheckResult {
	return HealthCheckResult{
		Status:     HealthHealthy,
		Components: map[string]ComponentHealth{},
		Timestamp:  time.Now().UTC(),
	}
}

func (hc *HealthChecker) CheckReadiness(ctx context.Context) HealthCheckResult {
	components := map[string]ComponentHealth{
		"database":          hc.checkDatabase(ctx),
		"status_store":      hc.checkStore(),
		"websocket_hub":     hc.checkHub(),
		"staleness_monitor": hc.checkMonitor(),
	}

	overall := HealthHealthy
	for _, comp := range components {
		if comp.Status == StatusError {
			overall = HealthUnhealthy
			break
		}
		if comp.Status == StatusUnavailable {
			overall = HealthDegraded
		}
	}

	return HealthCheckResult{
		Status:     overall,
		Components: components,
		Timestamp:  time.Now().UTC(),
	}
}

func (hc *HealthChecker) checkDatabase(ctx context.Context) ComponentHealth {
	if hc.db == nil {
		return ComponentHealth{Status: StatusDisabled}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := hc.db.PingContext(ctx); err != nil {
		return ComponentHealth{Status: StatusError, Error: err.Error()}
	}
	return ComponentHealth{Status: StatusOK}
}

func (hc *HealthChecker) checkStore() ComponentHealth {
	if hc.store == nil {
		return ComponentHealth{Status: StatusUnavailable, Error: "status store not configured"}
	}
	return ComponentHealth{
		Status: StatusOK,
		Detail: map[string]int{
			"rigs":   len(hc.store.RigIDs()),
			"online": hc.store.OnlineCount(),
		},
	}
}

func (hc *HealthChecker) checkHub() ComponentHealth {
	if hc.hub == nil {
		return ComponentHealth{Status: StatusUnavailable, Error: "websocket hub not configured"}
	}
	return ComponentHealth{
		Status: StatusOK,
		Detail: map[string]int{"viewers": hc.hub.ViewerCount()},
	}
}

func (hc *HealthChecker) checkMonitor() ComponentHealth {
	if hc.monitor == nil {
		return ComponentHealth{Status: StatusUnavailable, Error: "staleness monitor not configured"}
	}
	if !hc.monitor.Running() {
		return ComponentHealth{Status: StatusError, Error: "staleness monitor not running"}
	}
	return ComponentHealth{Status: StatusOK}
}
