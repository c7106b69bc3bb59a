// Package metrics provides the Prometheus collectors surfaced by the
// news and prediction agents. Dashboards and alerting on top of these
// series are out of scope; this package only fixes the metric surface.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the two agents and the supervisor
// report through.
type Metrics struct {
	// News pipeline
	NewsCyclesTotal    *prometheus.CounterVec
	NewsCycleDuration  *prometheus.HistogramVec
	ArticlesProcessed  *prometheus.CounterVec
	ClustersCreated    prometheus.Counter
	ClustersMerged     prometheus.Counter
	AnomaliesDetected  *prometheus.CounterVec

	// Prediction pipeline
	PredictionCyclesTotal   *prometheus.CounterVec
	PredictionCycleDuration prometheus.Histogram
	IdeasGenerated          prometheus.Counter
	TradesExecutedTotal     *prometheus.CounterVec
	RiskRejectionsTotal     *prometheus.CounterVec
	PortfolioValue          prometheus.Gauge
	PortfolioUnrealizedPnL  prometheus.Gauge

	// Shared resilience/process health
	CircuitBreakerState *prometheus.GaugeVec
	SupervisorRestarts  *prometheus.CounterVec
	ServiceUptime       prometheus.Gauge
	ServiceInfo         *prometheus.GaugeVec
}

// New creates a Metrics instance registered against the default
// Prometheus registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against a
// caller-supplied registerer (tests pass a fresh one to avoid
// cross-test collector collisions).
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		NewsCyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "news_cycles_total", Help: "Total number of news ingestion cycles by terminal step"},
			[]string{"step"},
		),
		NewsCycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "news_cycle_duration_seconds",
				Help:    "News ingestion cycle duration in seconds",
				Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"category"},
		),
		ArticlesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "articles_processed_total", Help: "Total number of articles processed by outcome"},
			[]string{"outcome"},
		),
		ClustersCreated: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "story_clusters_created_total", Help: "Total number of story clusters created"},
		),
		ClustersMerged: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "story_clusters_merged_total", Help: "Total number of story cluster merges"},
		),
		AnomaliesDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "news_anomalies_total", Help: "Total number of heat anomalies detected by type"},
			[]string{"type"},
		),

		PredictionCyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "prediction_cycles_total", Help: "Total number of prediction agent cycles by terminal state"},
			[]string{"state"},
		),
		PredictionCycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "prediction_cycle_duration_seconds",
				Help:    "Prediction agent cycle duration in seconds",
				Buckets: []float64{.1, .5, 1, 2, 5, 10, 30},
			},
		),
		IdeasGenerated: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "prediction_ideas_generated_total", Help: "Total number of prediction ideas selected for risk assessment"},
		),
		TradesExecutedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "prediction_trades_executed_total", Help: "Total number of executed trades by side"},
			[]string{"side"},
		),
		RiskRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "prediction_risk_rejections_total", Help: "Total number of risk-manager rejections by reason"},
			[]string{"reason"},
		),
		PortfolioValue: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "prediction_portfolio_value_usd", Help: "Current total prediction portfolio value in USD"},
		),
		PortfolioUnrealizedPnL: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "prediction_portfolio_unrealized_pnl_usd", Help: "Current unrealized PnL across open prediction positions"},
		),

		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "circuit_breaker_state", Help: "Circuit breaker state: 0=closed, 1=half-open, 2=open"},
			[]string{"name"},
		),
		SupervisorRestarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "supervisor_child_restarts_total", Help: "Total number of supervised child process restarts"},
			[]string{"child"},
		),
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "service_uptime_seconds", Help: "Service uptime in seconds"},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "service_info", Help: "Service build information"},
			[]string{"service", "version"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.NewsCyclesTotal, m.NewsCycleDuration, m.ArticlesProcessed, m.ClustersCreated, m.ClustersMerged, m.AnomaliesDetected,
			m.PredictionCyclesTotal, m.PredictionCycleDuration, m.IdeasGenerated, m.TradesExecutedTotal, m.RiskRejectionsTotal,
			m.PortfolioValue, m.PortfolioUnrealizedPnL,
			m.CircuitBreakerState, m.SupervisorRestarts, m.ServiceUptime, m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "dev").Set(1)
	return m
}

// RecordNewsCycle records one completed news ingestion cycle.
func (m *Metrics) RecordNewsCycle(category, step string, duration time.Duration) {
	m.NewsCyclesTotal.WithLabelValues(step).Inc()
	m.NewsCycleDuration.WithLabelValues(category).Observe(duration.Seconds())
}

// RecordPredictionCycle records one completed prediction agent cycle.
func (m *Metrics) RecordPredictionCycle(state string, duration time.Duration) {
	m.PredictionCyclesTotal.WithLabelValues(state).Inc()
	m.PredictionCycleDuration.Observe(duration.Seconds())
}

// RecordTrade records one executed trade.
func (m *Metrics) RecordTrade(side string) {
	m.TradesExecutedTotal.WithLabelValues(side).Inc()
}

// RecordRiskRejection records one risk-manager rejection reason.
func (m *Metrics) RecordRiskRejection(reason string) {
	m.RiskRejectionsTotal.WithLabelValues(reason).Inc()
}

// SetPortfolio publishes the latest portfolio value/unrealized PnL.
func (m *Metrics) SetPortfolio(totalValue, unrealizedPnL float64) {
	m.PortfolioValue.Set(totalValue)
	m.PortfolioUnrealizedPnL.Set(unrealizedPnL)
}

// breakerStateValue maps the closed/half-open/open vocabulary to the
// gauge's numeric encoding. Kept local to avoid this package importing
// internal/resilience purely for three string constants.
func breakerStateValue(state string) float64 {
	switch state {
	case "half-open", "half_open", "HALF_OPEN":
		return 1
	case "open", "OPEN":
		return 2
	default:
		return 0
	}
}

// SetCircuitBreakerState reports a named breaker's current state.
func (m *Metrics) SetCircuitBreakerState(name, state string) {
	m.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(state))
}

// RecordSupervisorRestart records one child-process restart.
func (m *Metrics) RecordSupervisorRestart(child string) {
	m.SupervisorRestarts.WithLabelValues(child).Inc()
}

// UpdateUptime updates the service uptime gauge.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// Enabled reports whether the Prometheus /metrics endpoint should be
// exposed (env METRICS_ENABLED, default true).
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return true
	}
	switch raw {
	case "0", "false", "no", "off":
		return false
	default:
		return true
	}
}

var (
	global   *Metrics
	globalMu sync.Mutex
)

// Init initializes the process-wide global Metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New(serviceName)
	}
	return global
}

// Global returns the process-wide Metrics instance, initializing it
// with a fallback name if Init was never called.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New("sentinel")
	}
	return global
}
