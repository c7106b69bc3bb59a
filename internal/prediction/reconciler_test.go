package prediction

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/bus"
)

type fakeBook struct {
	positions []PredictionPosition
}

func (b *fakeBook) GetPositions() []PredictionPosition {
	return b.positions
}

type fakeVenue struct {
	positions []VenuePosition
	err       error
}

func (v *fakeVenue) FetchPositions() ([]VenuePosition, error) {
	return v.positions, v.err
}

func newTestReconciler(book *fakeBook, venue *fakeVenue, risk *RiskManager) *PositionReconciler {
	return NewPositionReconciler(book, venue, risk, bus.New(zerolog.Nop()), zerolog.Nop())
}

func TestReconcile_NoDiscrepancyWhenPositionsMatch(t *testing.T) {
	book := &fakeBook{positions: []PredictionPosition{{MarketID: "mkt-1", Outcome: OutcomeYes, Shares: 100}}}
	venue := &fakeVenue{positions: []VenuePosition{{MarketID: "mkt-1", Outcome: OutcomeYes, Shares: 100}}}
	r := newTestReconciler(book, venue, nil)
	r.NotePriceUpdate("mkt-1")

	result, err := r.Reconcile()
	require.NoError(t, err)
	assert.Empty(t, result.Discrepancies)
	assert.Empty(t, result.Orphaned)
}

func TestReconcile_DetectsMajorDiscrepancy(t *testing.T) {
	book := &fakeBook{positions: []PredictionPosition{{MarketID: "mkt-1", Outcome: OutcomeYes, Shares: 100}}}
	venue := &fakeVenue{positions: []VenuePosition{{MarketID: "mkt-1", Outcome: OutcomeYes, Shares: 97}}}
	r := newTestReconciler(book, venue, nil)
	r.NotePriceUpdate("mkt-1")

	result, err := r.Reconcile()
	require.NoError(t, err)
	require.Len(t, result.Discrepancies, 1)
	assert.Equal(t, SeverityMajor, result.Discrepancies[0].Severity)
}

func TestReconcile_CriticalDiscrepancyTriggersEmergencyStop(t *testing.T) {
	book := &fakeBook{positions: []PredictionPosition{{MarketID: "mkt-1", Outcome: OutcomeYes, Shares: 100}}}
	venue := &fakeVenue{positions: []VenuePosition{{MarketID: "mkt-1", Outcome: OutcomeYes, Shares: 50}}}
	risk := NewRiskManager(RiskConfig{}, zerolog.Nop())
	r := newTestReconciler(book, venue, risk)
	r.NotePriceUpdate("mkt-1")

	result, err := r.Reconcile()
	require.NoError(t, err)
	require.Len(t, result.Discrepancies, 1)
	assert.Equal(t, SeverityCritical, result.Discrepancies[0].Severity)
	assert.True(t, risk.DailyState().EmergencyStopTriggered)
}

func TestReconcile_DetectsOrphanedPosition(t *testing.T) {
	book := &fakeBook{positions: []PredictionPosition{{MarketID: "mkt-1", Outcome: OutcomeYes, Shares: 100}}}
	venue := &fakeVenue{positions: nil}
	r := newTestReconciler(book, venue, nil)
	r.NotePriceUpdate("mkt-1")

	result, err := r.Reconcile()
	require.NoError(t, err)
	require.Len(t, result.Orphaned, 1)
	assert.Equal(t, "mkt-1", result.Orphaned[0])
}

func TestReconcile_DetectsStalePosition(t *testing.T) {
	book := &fakeBook{positions: []PredictionPosition{{MarketID: "mkt-1", Outcome: OutcomeYes, Shares: 100}}}
	venue := &fakeVenue{positions: []VenuePosition{{MarketID: "mkt-1", Outcome: OutcomeYes, Shares: 100}}}
	r := newTestReconciler(book, venue, nil)
	r.clock = func() time.Time { return time.Now().Add(time.Hour) }

	result, err := r.Reconcile()
	require.NoError(t, err)
	require.Len(t, result.Stale, 1)
	assert.Equal(t, "mkt-1", result.Stale[0])
}

func TestReconcile_PropagatesVenueError(t *testing.T) {
	book := &fakeBook{}
	venue := &fakeVenue{err: assert.AnError}
	r := newTestReconciler(book, venue, nil)

	_, err := r.Reconcile()
	assert.Error(t, err)
}
