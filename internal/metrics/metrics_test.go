package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	if m == nil {
		t.Fatal("expected metrics instance, got nil")
	}
	if m.NewsCyclesTotal == nil {
		t.Error("NewsCyclesTotal should not be nil")
	}
	if m.PredictionCyclesTotal == nil {
		t.Error("PredictionCyclesTotal should not be nil")
	}
	if m.CircuitBreakerState == nil {
		t.Error("CircuitBreakerState should not be nil")
	}
}

func TestRecordNewsCycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordNewsCycle("finance", "COMPLETED", 2*time.Second)
	m.RecordNewsCycle("finance", "NO_ARTICLES_FOUND", 100*time.Millisecond)
}

func TestRecordPredictionCycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordPredictionCycle("EXECUTED", time.Second)
	m.RecordPredictionCycle("SKIPPED_EXEC", 500*time.Millisecond)
}

func TestRecordTrade(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordTrade("BUY")
	m.RecordTrade("SELL")
}

func TestRecordRiskRejection(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordRiskRejection("daily loss limit reached")
}

func TestSetPortfolio(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.SetPortfolio(10500.25, 120.50)
}

func TestSetCircuitBreakerState(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.SetCircuitBreakerState("news-execution", "open")
	m.SetCircuitBreakerState("news-execution", "closed")
}

func TestRecordSupervisorRestart(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordSupervisorRestart("news-agent")
}

func TestUpdateUptime(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)
	startTime := time.Now().Add(-time.Hour)

	m.UpdateUptime(startTime)
	if v := testutil.ToFloat64(m.ServiceUptime); v < 3599 {
		t.Errorf("expected uptime >= ~3600s, got %f", v)
	}
}
