package overfill

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckFill_UnknownOrder(t *testing.T) {
	r := New(Config{}, zerolog.Nop())
	res := r.CheckFill("missing", 10, 1.0)
	assert.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "not found")
}

func TestCheckFill_WithinTolerance(t *testing.T) {
	r := New(Config{TolerancePercent: 0.01}, zerolog.Nop())
	r.RegisterOrder(TrackedOrder{OrderID: "o1", OrderQty: 100, FilledQty: 90})
	res := r.CheckFill("o1", 10.5, 0.5)
	assert.True(t, res.Allowed)
	assert.Empty(t, res.Handled)
}

func TestCheckFill_AutoAdjustsOverfill(t *testing.T) {
	r := New(Config{TolerancePercent: 0.01, AutoAdjust: true}, zerolog.Nop())
	r.RegisterOrder(TrackedOrder{OrderID: "o1", OrderQty: 100, FilledQty: 90})

	res := r.CheckFill("o1", 15, 1.23)
	require.True(t, res.Allowed)
	assert.Equal(t, HandledAdjusted, res.Handled)
	require.NotNil(t, res.AdjustedFill)
	assert.Equal(t, 10.0, res.AdjustedFill.Qty)
	assert.Equal(t, 1.23, res.AdjustedFill.Px)
}

func TestCheckFill_AllowOverfillsPolicy(t *testing.T) {
	r := New(Config{TolerancePercent: 0.01, AllowOverfills: true}, zerolog.Nop())
	r.RegisterOrder(TrackedOrder{OrderID: "o1", OrderQty: 100, FilledQty: 90})
	res := r.CheckFill("o1", 15, 1.0)
	assert.True(t, res.Allowed)
	assert.Equal(t, HandledAllowed, res.Handled)
}

func TestCheckFill_RejectsWithoutPolicy(t *testing.T) {
	r := New(Config{TolerancePercent: 0.01}, zerolog.Nop())
	r.RegisterOrder(TrackedOrder{OrderID: "o1", OrderQty: 100, FilledQty: 90})
	res := r.CheckFill("o1", 15, 1.0)
	assert.False(t, res.Allowed)
	assert.Equal(t, HandledRejected, res.Handled)
}

func TestRecordFill_DuplicateIgnored(t *testing.T) {
	r := New(Config{}, zerolog.Nop())
	r.RegisterOrder(TrackedOrder{OrderID: "o1", OrderQty: 10})

	require.NoError(t, r.RecordFill(Fill{FillID: "f1", OrderID: "o1", FillQty: 5, FillPx: 2.0}))
	require.NoError(t, r.RecordFill(Fill{FillID: "f1", OrderID: "o1", FillQty: 5, FillPx: 2.0}))

	order, _ := r.Get("o1")
	assert.Equal(t, 5.0, order.FilledQty, "duplicate fillId must not be applied twice")
}

func TestRecordFill_FlipsToFilledAndTracksVWAP(t *testing.T) {
	r := New(Config{}, zerolog.Nop())
	r.RegisterOrder(TrackedOrder{OrderID: "o1", OrderQty: 10})

	require.NoError(t, r.RecordFill(Fill{FillID: "f1", OrderID: "o1", FillQty: 4, FillPx: 1.0}))
	require.NoError(t, r.RecordFill(Fill{FillID: "f2", OrderID: "o1", FillQty: 6, FillPx: 2.0}))

	order, _ := r.Get("o1")
	assert.Equal(t, "FILLED", order.Status)
	assert.InDelta(t, 1.6, order.AvgPx, 1e-9)
}

func TestValidateFillForOrder_Mismatches(t *testing.T) {
	r := New(Config{}, zerolog.Nop())
	r.RegisterOrder(TrackedOrder{OrderID: "o1", OrderQty: 10, Symbol: "BTC-YES", Side: "BUY", VenueOrderID: "v1"})

	assert.Error(t, r.ValidateFillForOrder(Fill{Symbol: "ETH-YES"}, "o1"))
	assert.Error(t, r.ValidateFillForOrder(Fill{Side: "SELL"}, "o1"))
	assert.Error(t, r.ValidateFillForOrder(Fill{VenueOrderID: "v2"}, "o1"))
	assert.NoError(t, r.ValidateFillForOrder(Fill{Symbol: "BTC-YES", Side: "BUY", VenueOrderID: "v1"}, "o1"))
	assert.Error(t, r.ValidateFillForOrder(Fill{}, "missing"))
}
