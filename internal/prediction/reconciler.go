package prediction

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/bus"
)

// majorDiscrepancyPct and criticalDiscrepancyPct are the share-mismatch
// thresholds from spec §4.P4: |actual-expected|/expected above each
// boundary escalates the severity.
const (
	majorDiscrepancyPct    = 0.01
	criticalDiscrepancyPct = 0.10
)

// staleAfter is how long a market can go without a price update before
// it is reported as stale.
const staleAfter = 10 * time.Minute

// VenuePosition is a position as reported by the trading venue, used to
// cross-check the engine's own bookkeeping.
type VenuePosition struct {
	MarketID string
	Outcome  Outcome
	Shares   float64
}

// PositionSource abstracts over whatever holds the authoritative
// in-memory book (normally *PredictionExecutionEngine).
type PositionSource interface {
	GetPositions() []PredictionPosition
}

// VenuePositionFetcher is the venue collaborator the reconciler calls
// out to for ground truth.
type VenuePositionFetcher interface {
	FetchPositions() ([]VenuePosition, error)
}

// PositionReconciler is P4: periodic and on-demand cross-checks between
// the engine's bookkeeping and the venue's authoritative positions.
type PositionReconciler struct {
	mu sync.Mutex

	book  PositionSource
	venue VenuePositionFetcher
	risk  *RiskManager
	bus   *bus.Bus
	clock func() time.Time
	log   zerolog.Logger

	lastPriceUpdate map[string]time.Time
	stop            chan struct{}
	wg              sync.WaitGroup
}

// NewPositionReconciler builds a reconciler. lastPriceUpdate is supplied
// externally via NotePriceUpdate so the staleness check reflects the
// same price feed the execution engine uses.
func NewPositionReconciler(book PositionSource, venue VenuePositionFetcher, risk *RiskManager, eventBus *bus.Bus, log zerolog.Logger) *PositionReconciler {
	return &PositionReconciler{
		book:            book,
		venue:           venue,
		risk:            risk,
		bus:             eventBus,
		clock:           time.Now,
		log:             log.With().Str("component", "position_reconciler").Logger(),
		lastPriceUpdate: make(map[string]time.Time),
	}
}

// NotePriceUpdate records when a marketId last received a fresh quote,
// feeding the staleness check in Reconcile.
func (r *PositionReconciler) NotePriceUpdate(marketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastPriceUpdate[marketID] = r.clock()
}

// Reconcile runs one on-demand reconciliation pass.
func (r *PositionReconciler) Reconcile() (ReconciliationResult, error) {
	venuePositions, err := r.venue.FetchPositions()
	if err != nil {
		return ReconciliationResult{}, err
	}

	bookPositions := r.book.GetPositions()
	expected := make(map[positionKey]float64, len(bookPositions))
	for _, p := range bookPositions {
		expected[p.Key()] = p.Shares
	}

	actual := make(map[positionKey]float64, len(venuePositions))
	for _, v := range venuePositions {
		actual[positionKey{MarketID: v.MarketID, Outcome: v.Outcome}] = v.Shares
	}

	result := ReconciliationResult{Timestamp: r.clock()}

	for key, expectedShares := range expected {
		actualShares, ok := actual[key]
		if !ok {
			result.Orphaned = append(result.Orphaned, key.MarketID)
			continue
		}
		if severity, breached := discrepancySeverity(expectedShares, actualShares); breached {
			result.Discrepancies = append(result.Discrepancies, Discrepancy{
				MarketID: key.MarketID, ExpectedShares: expectedShares, ActualShares: actualShares, Severity: severity,
			})
		}
	}

	r.mu.Lock()
	now := r.clock()
	for key := range expected {
		last, ok := r.lastPriceUpdate[key.MarketID]
		if !ok || now.Sub(last) > staleAfter {
			result.Stale = append(result.Stale, key.MarketID)
		}
	}
	r.mu.Unlock()

	hasCritical := false
	for _, d := range result.Discrepancies {
		if d.Severity == SeverityCritical {
			hasCritical = true
			break
		}
	}
	if hasCritical && r.risk != nil {
		r.risk.TriggerEmergencyStop()
		r.log.Error().Msg("critical position discrepancy detected, emergency stop triggered")
	}

	if r.bus != nil {
		r.bus.Publish(bus.ErrorChannel, "position_reconciler", map[string]interface{}{
			"discrepancies": len(result.Discrepancies),
			"orphaned":      len(result.Orphaned),
			"stale":         len(result.Stale),
			"critical":      hasCritical,
		})
	}

	return result, nil
}

// discrepancySeverity implements spec §4.P4's thresholding: CRITICAL
// above 10%, MAJOR above 1%, no report below 1%.
func discrepancySeverity(expected, actual float64) (ReconciliationSeverity, bool) {
	if expected == 0 {
		if actual == 0 {
			return "", false
		}
		return SeverityCritical, true
	}
	pct := math.Abs(actual-expected) / math.Abs(expected)
	switch {
	case pct > criticalDiscrepancyPct:
		return SeverityCritical, true
	case pct > majorDiscrepancyPct:
		return SeverityMajor, true
	default:
		return "", false
	}
}

// Start launches the periodic (5-minute) reconciliation loop. Stop must
// be called to release the goroutine.
func (r *PositionReconciler) Start(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	r.mu.Lock()
	if r.stop != nil {
		r.mu.Unlock()
		return
	}
	r.stop = make(chan struct{})
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := r.Reconcile(); err != nil {
					r.log.Error().Err(err).Msg("periodic reconciliation failed")
				}
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop ends the periodic reconciliation loop and waits for it to exit.
func (r *PositionReconciler) Stop() {
	r.mu.Lock()
	stop := r.stop
	r.stop = nil
	r.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	r.wg.Wait()
}
