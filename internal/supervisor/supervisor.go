// Package supervisor owns the top-level process lifecycle: spawning the
// news agent, prediction agent, and quote-stream children, restarting
// them with exponential backoff on exit, and driving graceful shutdown
// on SIGINT/SIGTERM. Grounded on the teacher's websocket reconnect loop
// (same backoff shape, applied to child processes instead of a single
// connection) and cmd/server/main.go's stop-everything-then-exit
// shutdown sequence.
package supervisor

import (
	"context"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/sentinel/internal/metrics"
)

// Backoff constants for child restarts (spec §6).
const (
	baseRestartDelay = 5 * time.Second
	maxRestartDelay  = 60 * time.Second
)

// restartWindowResetAfter is how long a child must stay up before its
// backoff attempt counter resets to zero (spec §6: "counter resets on a
// successful spawn window").
const restartWindowResetAfter = 2 * time.Minute

// healthReportInterval is how often the supervisor samples host CPU/memory
// for its own liveness log line (spec §6 R1 health-check ticker).
const healthReportInterval = 30 * time.Second

// Child is one supervised long-running task. Run should block until ctx
// is cancelled or the child exits (in error or not); a non-nil error is
// logged and triggers a restart.
type Child struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor spawns and restarts a fixed set of children, and owns the
// process-wide graceful-shutdown sequence.
type Supervisor struct {
	children       []Child
	emergencyClose func()
	log            zerolog.Logger

	mu        sync.Mutex
	attempts  map[string]int
	wg        sync.WaitGroup
	startedAt time.Time
}

// New builds a Supervisor for the given children. emergencyClose, if
// non-nil, is invoked best-effort on a child panic and on shutdown —
// callers typically pass a closure over the prediction engine's
// EmergencyCloseAll, discarding its result.
func New(children []Child, emergencyClose func(), log zerolog.Logger) *Supervisor {
	return &Supervisor{
		children:       children,
		emergencyClose: emergencyClose,
		log:            log.With().Str("component", "supervisor").Logger(),
		attempts:       make(map[string]int),
	}
}

// Run starts every child under its own restart-on-exit loop and blocks
// until a SIGINT/SIGTERM is received, at which point it performs a
// graceful shutdown and returns.
func (s *Supervisor) Run(ctx context.Context) {
	s.startedAt = time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, child := range s.children {
		s.wg.Add(1)
		go s.superviseChild(runCtx, child)
	}

	s.wg.Add(1)
	go s.reportHealth(runCtx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		s.log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
	}

	s.shutdown(cancel)
}

// superviseChild runs one child, restarting it with exponential backoff
// whenever Run returns (error or not), until runCtx is cancelled.
func (s *Supervisor) superviseChild(runCtx context.Context, child Child) {
	defer s.wg.Done()

	for {
		select {
		case <-runCtx.Done():
			return
		default:
		}

		started := time.Now()
		err := s.runChildSafely(runCtx, child)
		if runCtx.Err() != nil {
			return
		}

		uptime := time.Since(started)
		attempt := s.nextAttempt(child.Name, uptime)
		metrics.Global().RecordSupervisorRestart(child.Name)

		if err != nil {
			s.log.Error().Err(err).Str("child", child.Name).Int("attempt", attempt).Msg("child exited with error")
		} else {
			s.log.Warn().Str("child", child.Name).Int("attempt", attempt).Msg("child exited")
		}

		delay := backoffDelay(attempt)
		s.log.Info().Str("child", child.Name).Dur("delay", delay).Msg("restarting child")

		select {
		case <-time.After(delay):
		case <-runCtx.Done():
			return
		}
	}
}

// runChildSafely recovers a panicking child so one crashed goroutine
// doesn't take the whole supervisor down, and best-effort closes any
// open prediction-market positions before that child restarts.
func (s *Supervisor) runChildSafely(ctx context.Context, child Child) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("child", child.Name).Msg("child panicked")
			if s.emergencyClose != nil {
				s.emergencyClose()
			}
			err = errPanic{value: r}
		}
	}()
	return child.Run(ctx)
}

// reportHealth samples host CPU and memory on a fixed tick and logs them,
// giving an operator tailing logs a liveness signal independent of any
// child's own state.
func (s *Supervisor) reportHealth(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(healthReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			percents, err := cpu.Percent(0, false)
			var cpuPct float64
			if err == nil && len(percents) > 0 {
				cpuPct = percents[0]
			}
			vmem, err := mem.VirtualMemory()
			var memPct float64
			if err == nil && vmem != nil {
				memPct = vmem.UsedPercent
			}
			s.log.Debug().Float64("cpu_pct", cpuPct).Float64("mem_pct", memPct).Msg("health sample")
			if metrics.Enabled() {
				metrics.Global().UpdateUptime(s.startedAt)
			}
		}
	}
}

type errPanic struct {
	value interface{}
}

func (e errPanic) Error() string {
	return "panic recovered in supervised child"
}

// nextAttempt increments (or resets, if the child ran long enough to be
// considered healthy) the per-child restart counter.
func (s *Supervisor) nextAttempt(name string, uptime time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uptime >= restartWindowResetAfter {
		s.attempts[name] = 0
	}
	s.attempts[name]++
	return s.attempts[name]
}

// backoffDelay implements spec §6: 5s, doubling, capped at 60s.
func backoffDelay(attempt int) time.Duration {
	delay := float64(baseRestartDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxRestartDelay) {
		delay = float64(maxRestartDelay)
	}
	return time.Duration(delay)
}

// shutdown cancels every child, waits up to 5s for them to exit, and
// runs the emergency close-all hook before returning.
func (s *Supervisor) shutdown(cancelChildren context.CancelFunc) {
	s.log.Info().Msg("shutting down supervised children")
	cancelChildren()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("all children stopped gracefully")
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("children did not stop within grace period, proceeding with shutdown")
	}

	if s.emergencyClose != nil {
		s.emergencyClose()
	}
	s.log.Info().Msg("supervisor shutdown complete")
}
