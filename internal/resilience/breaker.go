// Package resilience provides the fault-tolerance primitives shared by the
// news and prediction pipelines: circuit breakers, rate limiting, and a
// resilient HTTP client composing the two with retry/backoff.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BreakerState is the CLOSED/OPEN/HALF_OPEN state of a named breaker.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned by Execute when a breaker short-circuits a call
// and no fallback was supplied.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// ComponentStatus is the health of one collaborator as seen by a probe
// registered with StartHealthChecks.
type ComponentStatus string

const (
	ComponentOK       ComponentStatus = "OK"
	ComponentDegraded ComponentStatus = "DEGRADED"
	ComponentDown     ComponentStatus = "DOWN"
)

// OverallHealth is the aggregate of every breaker and probed component.
type OverallHealth string

const (
	HealthHealthy  OverallHealth = "HEALTHY"
	HealthDegraded OverallHealth = "DEGRADED"
	HealthCritical OverallHealth = "CRITICAL"
)

// BreakerStatus is a point-in-time snapshot of one named breaker.
type BreakerStatus struct {
	Name          string
	State         BreakerState
	Failures      int
	LastFailureAt time.Time
	OpenUntil     time.Time
}

type breakerEntry struct {
	state         BreakerState
	failures      int
	lastFailureAt time.Time
	openUntil     time.Time
}

type probeResult struct {
	status       ComponentStatus
	responseTime time.Duration
	checkedAt    time.Time
}

// Probe is a collaborator-supplied health check for one named component.
type Probe func(ctx context.Context) error

// Registry is the per-named-operation failure counter and health
// aggregator described in spec §4.R1. The zero value is not usable; build
// one with NewRegistry.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*breakerEntry

	threshold   int
	resetAfter  time.Duration
	log         zerolog.Logger

	probeMu   sync.Mutex
	probes    map[string]Probe
	probeRes  map[string]probeResult
	stopHealth chan struct{}
	healthWG   sync.WaitGroup
}

// RegistryConfig configures default thresholds for every breaker the
// registry lazily creates.
type RegistryConfig struct {
	// FailureThreshold is the number of consecutive failures that flips a
	// CLOSED breaker to OPEN. Defaults to 5.
	FailureThreshold int
	// ResetAfter is how long an OPEN breaker stays open before admitting
	// one HALF_OPEN probe. Defaults to 60s.
	ResetAfter time.Duration
}

// NewRegistry constructs a breaker registry.
func NewRegistry(cfg RegistryConfig, log zerolog.Logger) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = 60 * time.Second
	}
	return &Registry{
		breakers:   make(map[string]*breakerEntry),
		threshold:  cfg.FailureThreshold,
		resetAfter: cfg.ResetAfter,
		log:        log.With().Str("component", "circuit_breaker").Logger(),
		probes:     make(map[string]Probe),
		probeRes:   make(map[string]probeResult),
	}
}

func (r *Registry) entry(name string) *breakerEntry {
	b, ok := r.breakers[name]
	if !ok {
		b = &breakerEntry{state: StateClosed}
		r.breakers[name] = b
	}
	return b
}

// Execute runs fn under the named breaker. If the breaker is OPEN, fallback
// is invoked when supplied; otherwise ErrCircuitOpen propagates. Execute
// never retries internally — retry policy lives in ResilientHTTPClient.
func (r *Registry) Execute(ctx context.Context, name string, fn func(ctx context.Context) error, fallback func(ctx context.Context) error) error {
	r.mu.Lock()
	b := r.entry(name)
	now := time.Now()
	switch b.state {
	case StateOpen:
		if now.Before(b.openUntil) {
			r.mu.Unlock()
			if fallback != nil {
				return fallback(ctx)
			}
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		r.log.Info().Str("breaker", name).Msg("breaker entering half-open probe")
	}
	admittedHalfOpen := b.state == StateHalfOpen
	r.mu.Unlock()

	err := fn(ctx)

	r.mu.Lock()
	b = r.entry(name)
	if err == nil {
		if admittedHalfOpen || b.state == StateHalfOpen {
			b.state = StateClosed
			b.failures = 0
			r.log.Info().Str("breaker", name).Msg("breaker closed after successful probe")
		} else if b.state == StateClosed {
			b.failures = 0
		}
		r.mu.Unlock()
		return nil
	}

	// Failure path.
	b.failures++
	b.lastFailureAt = now
	if admittedHalfOpen || b.state == StateHalfOpen {
		b.state = StateOpen
		b.openUntil = now.Add(r.resetAfter)
		r.log.Warn().Str("breaker", name).Msg("half-open probe failed, reopening")
	} else if b.failures >= r.threshold {
		b.state = StateOpen
		b.openUntil = now.Add(r.resetAfter)
		r.log.Warn().Str("breaker", name).Int("failures", b.failures).Msg("breaker opened")
	}
	r.mu.Unlock()
	return err
}

// GetBreakerStatus returns a snapshot of the named breaker. An unknown name
// is reported CLOSED with zero failures, per spec edge-case rules.
func (r *Registry) GetBreakerStatus(name string) BreakerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		return BreakerStatus{Name: name, State: StateClosed}
	}
	return BreakerStatus{
		Name:          name,
		State:         b.state,
		Failures:      b.failures,
		LastFailureAt: b.lastFailureAt,
		OpenUntil:     b.openUntil,
	}
}

// OpenBreaker forces the named breaker OPEN for ResetAfter.
func (r *Registry) OpenBreaker(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.entry(name)
	b.state = StateOpen
	b.openUntil = time.Now().Add(r.resetAfter)
}

// ResetBreaker forces the named breaker CLOSED and zeroes its failure count.
func (r *Registry) ResetBreaker(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.entry(name)
	b.state = StateClosed
	b.failures = 0
	b.openUntil = time.Time{}
}

// RegisterProbe attaches a health-check probe to a named component for use
// by StartHealthChecks / GetHealthSummary.
func (r *Registry) RegisterProbe(name string, probe Probe) {
	r.probeMu.Lock()
	defer r.probeMu.Unlock()
	r.probes[name] = probe
}

// StartHealthChecks runs every registered probe every interval until
// StopHealthChecks is called.
func (r *Registry) StartHealthChecks(interval time.Duration) {
	r.probeMu.Lock()
	if r.stopHealth != nil {
		r.probeMu.Unlock()
		return
	}
	r.stopHealth = make(chan struct{})
	stop := r.stopHealth
	r.probeMu.Unlock()

	r.healthWG.Add(1)
	go func() {
		defer r.healthWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.runProbes()
			}
		}
	}()
}

// StopHealthChecks stops the health-check ticker started by
// StartHealthChecks. Safe to call when no ticker is running.
func (r *Registry) StopHealthChecks() {
	r.probeMu.Lock()
	stop := r.stopHealth
	r.stopHealth = nil
	r.probeMu.Unlock()
	if stop != nil {
		close(stop)
		r.healthWG.Wait()
	}
}

func (r *Registry) runProbes() {
	r.probeMu.Lock()
	probes := make(map[string]Probe, len(r.probes))
	for k, v := range r.probes {
		probes[k] = v
	}
	r.probeMu.Unlock()

	for name, probe := range probes {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := probe(ctx)
		cancel()
		elapsed := time.Since(start)

		status := ComponentOK
		if err != nil {
			status = ComponentDown
		}
		r.probeMu.Lock()
		r.probeRes[name] = probeResult{status: status, responseTime: elapsed, checkedAt: time.Now()}
		r.probeMu.Unlock()
	}
}

// HealthSummary is the aggregate view of every breaker and probed
// component, per spec §4.R1 getHealthSummary.
type HealthSummary struct {
	Overall    OverallHealth
	Breakers   map[string]BreakerStatus
	Components map[string]ComponentStatus
}

// GetHealthSummary aggregates breaker states and probe results: CRITICAL if
// any breaker is OPEN or any component is DOWN, DEGRADED if any breaker has
// failures or any component is DEGRADED, else HEALTHY.
func (r *Registry) GetHealthSummary() HealthSummary {
	r.mu.Lock()
	breakers := make(map[string]BreakerStatus, len(r.breakers))
	anyOpen := false
	anyFailures := false
	for name, b := range r.breakers {
		breakers[name] = BreakerStatus{
			Name: name, State: b.state, Failures: b.failures,
			LastFailureAt: b.lastFailureAt, OpenUntil: b.openUntil,
		}
		if b.state == StateOpen {
			anyOpen = true
		}
		if b.failures > 0 {
			anyFailures = true
		}
	}
	r.mu.Unlock()

	r.probeMu.Lock()
	components := make(map[string]ComponentStatus, len(r.probeRes))
	anyDown := false
	anyDegraded := false
	for name, res := range r.probeRes {
		components[name] = res.status
		if res.status == ComponentDown {
			anyDown = true
		}
		if res.status == ComponentDegraded {
			anyDegraded = true
		}
	}
	r.probeMu.Unlock()

	overall := HealthHealthy
	switch {
	case anyOpen || anyDown:
		overall = HealthCritical
	case anyFailures || anyDegraded:
		overall = HealthDegraded
	}

	return HealthSummary{Overall: overall, Breakers: breakers, Components: components}
}
