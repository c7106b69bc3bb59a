// Package overfill implements the order registry and fill validator
// described in spec §4.R5: reconciling exchange-reported fills against
// recorded orders, with an allow/adjust/reject policy for overfills.
package overfill

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// HandledAs records how a fill that exceeded the remaining open quantity
// was resolved.
type HandledAs string

const (
	HandledAllowed  HandledAs = "ALLOWED"
	HandledAdjusted HandledAs = "ADJUSTED"
	HandledRejected HandledAs = "REJECTED"
)

// TrackedOrder is the registry's view of one order under protection.
type TrackedOrder struct {
	OrderID      string
	VenueOrderID string
	Symbol       string
	Side         string
	OrderQty     float64
	FilledQty    float64
	AvgPx        float64
	Status       string
}

// Fill is one exchange-reported fill event.
type Fill struct {
	FillID       string
	OrderID      string
	VenueOrderID string
	Symbol       string
	Side         string
	FillQty      float64
	FillPx       float64
}

// AdjustedFill is populated when policy ADJUSTED caps a fill at the
// order's remaining quantity.
type AdjustedFill struct {
	Qty float64
	Px  float64
}

// CheckResult is the outcome of CheckFill.
type CheckResult struct {
	Allowed      bool
	Reason       string
	Handled      HandledAs
	AdjustedFill *AdjustedFill
}

// Config configures overfill policy.
type Config struct {
	TolerancePercent float64 // fraction of orderQty treated as slack, e.g. 0.01
	AllowOverfills   bool
	AutoAdjust       bool
}

// Registry is the per-order fill-id-deduplicated overfill protection
// service of spec §4.R5.
type Registry struct {
	mu     sync.Mutex
	cfg    Config
	log    zerolog.Logger
	orders map[string]*TrackedOrder
	seen   map[string]map[string]struct{} // orderID -> set of fillIDs
}

// New builds an overfill protection registry.
func New(cfg Config, log zerolog.Logger) *Registry {
	return &Registry{
		cfg:    cfg,
		log:    log.With().Str("component", "overfill_protection").Logger(),
		orders: make(map[string]*TrackedOrder),
		seen:   make(map[string]map[string]struct{}),
	}
}

// RegisterOrder begins tracking an order for overfill protection.
func (r *Registry) RegisterOrder(o TrackedOrder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.OrderID] = &o
	if _, ok := r.seen[o.OrderID]; !ok {
		r.seen[o.OrderID] = make(map[string]struct{})
	}
}

// CheckFill applies the overfill policy from spec §4.R5 steps 1-4.
func (r *Registry) CheckFill(orderID string, fillQty, fillPx float64) CheckResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return CheckResult{Allowed: false, Reason: fmt.Sprintf("Order %s not found", orderID)}
	}

	remaining := order.OrderQty - order.FilledQty
	overfill := fillQty - remaining
	tolerance := order.OrderQty * r.cfg.TolerancePercent

	if overfill <= tolerance {
		return CheckResult{Allowed: true}
	}

	switch {
	case r.cfg.AllowOverfills:
		return CheckResult{Allowed: true, Handled: HandledAllowed}
	case r.cfg.AutoAdjust:
		return CheckResult{
			Allowed: true,
			Handled: HandledAdjusted,
			AdjustedFill: &AdjustedFill{Qty: remaining, Px: fillPx},
		}
	default:
		return CheckResult{
			Allowed: false,
			Reason:  fmt.Sprintf("fill %.8f exceeds remaining %.8f by more than tolerance %.8f", fillQty, remaining, tolerance),
			Handled: HandledRejected,
		}
	}
}

// RecordFill applies an already-checked fill to the order book. Duplicate
// fillIds are silently ignored, per spec's invariant and §8 property
// "never records a fill twice for the same fillId".
func (r *Registry) RecordFill(f Fill) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[f.OrderID]
	if !ok {
		return fmt.Errorf("overfill: order %s not found", f.OrderID)
	}

	fillSet, ok := r.seen[f.OrderID]
	if !ok {
		fillSet = make(map[string]struct{})
		r.seen[f.OrderID] = fillSet
	}
	if _, dup := fillSet[f.FillID]; dup {
		r.log.Debug().Str("fill_id", f.FillID).Msg("duplicate fill ignored")
		return nil
	}
	fillSet[f.FillID] = struct{}{}

	prevFilled := order.FilledQty
	newFilled := prevFilled + f.FillQty
	if prevFilled+f.FillQty > 0 {
		order.AvgPx = (order.AvgPx*prevFilled + f.FillPx*f.FillQty) / newFilled
	}
	order.FilledQty = newFilled
	if order.FilledQty >= order.OrderQty-1e-8 {
		order.Status = "FILLED"
	}
	return nil
}

// ValidateFillForOrder rejects fills that don't belong to the named order:
// unknown order, venue-order-id mismatch, symbol mismatch, side mismatch.
func (r *Registry) ValidateFillForOrder(f Fill, orderID string) error {
	r.mu.Lock()
	order, ok := r.orders[orderID]
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("overfill: order %s not found", orderID)
	}
	if f.VenueOrderID != "" && order.VenueOrderID != "" && f.VenueOrderID != order.VenueOrderID {
		return fmt.Errorf("overfill: venue order id mismatch for %s", orderID)
	}
	if f.Symbol != "" && order.Symbol != "" && f.Symbol != order.Symbol {
		return fmt.Errorf("overfill: symbol mismatch for %s", orderID)
	}
	if f.Side != "" && order.Side != "" && f.Side != order.Side {
		return fmt.Errorf("overfill: side mismatch for %s", orderID)
	}
	return nil
}

// Get returns the tracked state of an order.
func (r *Registry) Get(orderID string) (TrackedOrder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return TrackedOrder{}, false
	}
	return *o, true
}
