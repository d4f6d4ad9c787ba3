package collector

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestReadinessWithoutDatabase(t *testing.T) {
	hub, store := newTestHub(t, "A", "B")
	store.ApplyUpdate("A", map[string]any{})

	monitor, err := NewStalenessMonitor(store, DefaultSweepInterval, DefaultStaleAfter, nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	hc := NewHealthChecker(nil, store, hub, monitor)
	result := hc.CheckReadiness(context.Background())
	if result.Status != HealthUnhealthy {
		t.Errorf("stopped monitor should make the panel unhealthy, got %s", result.Status)
	}
	if result.Components["staleness_monitor"].Status != StatusError {
		t.Errorf("unexpected monitor status %+v", result.Components["staleness_monitor"])
	}

	monitor.Start()
	defer monitor.Stop()

	result = hc.CheckReadiness(context.Background())
	if result.Status != HealthHealthy {
		t.Fatalf("expected healthy, got %s: %+v", result.Status, result.Components)
	}
	if result.Components["database"].Status != StatusDisabled {
		t.Errorf("missing database should be disabled, got %s", result.Components["database"].Status)
	}
	comp := result.Components["status_store"]
	if comp.Detail["rigs"] != 2 || comp.Detail["online"] != 1 {
		t.Errorf("unexpected store detail %v", comp.Detail)
	}
}

func TestReadinessWithDatabase(t *testing.T) {
	db := openTestDB(t)
	hc := NewHealthChecker(db, nil, nil, nil)

	result := hc.CheckReadiness(context.Background())
	if result.Components["database"].Status != StatusOK {
		t.Errorf("expected database ok, got %+v", result.Components["database"])
	}
	if result.Status != HealthDegraded {
		t.Errorf("missing components should degrade, got %s", result.Status)
	}

	db.Close()
	result = hc.CheckReadiness(context.Background())
	if result.Components["database"].Status != StatusError {
		t.Errorf("closed database should error, got %+v", result.Components["database"])
	}
}

func TestLiveness(t *testing.T) {
	hc := NewHealthChecker(nil, nil, nil, nil)
	result := hc.CheckLiveness(context.Background())
	if result.Status != HealthHealthy {
		t.Errorf("expected healthy, got %s", result.Status)
	}
	if time.Since(result.Timestamp) > time.Minute {
		t.Error("timestamp should be current")
	}
}
