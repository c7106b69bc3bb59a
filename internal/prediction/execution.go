package prediction

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/bus"
	"github.com/aristath/sentinel/internal/overfill"
	"github.com/aristath/sentinel/internal/snapshot"
)

// Signal is what the P1 idea pipeline hands to the execution engine once
// risk-approved: a concrete order to place.
type Signal struct {
	MarketID       string
	Outcome        Outcome
	Side           Side
	SubmittedPrice float64
	PriceTimestamp time.Time
}

// priceStaleAfter is the max age of a price quote accepted at execution
// time (spec §4.P3 step 1).
const priceStaleAfter = 60 * time.Second

// orderGCDelay is how long a terminal PendingOrder is kept before being
// garbage-collected.
const orderGCDelay = 60 * time.Second

// PaperTradingFeePct and LiveTradingFeePct are the flat execution fees
// named in spec §4.P3 step 5.
const (
	PaperTradingFeePct = 0.001
	LiveTradingFeePct  = 0.02
)

// TradePersister is the storage collaborator PredictionExecutionEngine
// writes Trade records through.
type TradePersister interface {
	Create(t Trade) error
}

// PredictionExecutionEngine is P3: order lifecycle, slippage/balance/
// price-age gates, stop-loss sweep, and emergency close-all.
type PredictionExecutionEngine struct {
	mu sync.Mutex

	initialBalance float64
	cashBalance    float64
	realizedPnL    float64
	positions      map[positionKey]PredictionPosition
	currentPrices  map[string]priceQuote
	pendingOrders  map[string]*PendingOrder

	paperTrading   bool
	maxSlippagePct float64

	risk      *RiskManager
	trades    TradePersister
	overfill  *overfill.Registry
	bus       *bus.Bus
	clock     func() time.Time
	log       zerolog.Logger
}

type priceQuote struct {
	Price     float64
	Timestamp time.Time
}

// NewPredictionExecutionEngine builds the engine with a starting cash
// balance (spec PREDICTION_PAPER_BALANCE, default 10000).
func NewPredictionExecutionEngine(initialBalance float64, paperTrading bool, maxSlippagePct float64, risk *RiskManager, trades TradePersister, eventBus *bus.Bus, log zerolog.Logger) *PredictionExecutionEngine {
	if initialBalance <= 0 {
		initialBalance = 10000
	}
	if maxSlippagePct <= 0 {
		maxSlippagePct = 0.02
	}
	return &PredictionExecutionEngine{
		initialBalance: initialBalance,
		cashBalance:    initialBalance,
		positions:      make(map[positionKey]PredictionPosition),
		currentPrices:  make(map[string]priceQuote),
		pendingOrders:  make(map[string]*PendingOrder),
		paperTrading:   paperTrading,
		maxSlippagePct: maxSlippagePct,
		risk:           risk,
		trades:         trades,
		bus:            eventBus,
		clock:          time.Now,
		log:            log.With().Str("component", "execution_engine").Logger(),
	}
}

// SetOverfillRegistry wires R5 order-fill reconciliation into the
// engine's fill path. Optional: without it, fills are recorded directly
// with no duplicate-fill or remaining-quantity check.
func (e *PredictionExecutionEngine) SetOverfillRegistry(r *overfill.Registry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overfill = r
}

// UpdateMarketPrice refreshes the last price for a market and recomputes
// unrealizedPnL for every affected position.
func (e *PredictionExecutionEngine) UpdateMarketPrice(marketID string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	e.currentPrices[marketID] = priceQuote{Price: price, Timestamp: now}

	for key, pos := range e.positions {
		if key.MarketID != marketID {
			continue
		}
		pos.LastPrice = price
		pos.UnrealizedPnL = (price - pos.AveragePrice) * pos.Shares
		e.positions[key] = pos
	}
}

// ExecuteSignal runs the full pre-trade validation, pending-order
// bookkeeping, and trade execution for one risk-approved signal.
func (e *PredictionExecutionEngine) ExecuteSignal(signal Signal, risk RiskAssessment, marketTitle string) (*Trade, error) {
	if err := e.validatePreExecution(signal, risk); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if existing, ok := e.pendingOrderForMarket(signal.MarketID); ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("pending order already open for market %s (order %s)", signal.MarketID, existing.OrderID)
	}

	order := &PendingOrder{
		OrderID:       uuid.NewString(),
		ClientOrderID: uuid.NewString(),
		MarketID:      signal.MarketID,
		Outcome:       signal.Outcome,
		Side:          signal.Side,
		Price:         signal.SubmittedPrice,
		Status:        OrderPending,
		CreatedAt:     e.clock(),
	}
	e.pendingOrders[order.OrderID] = order
	e.mu.Unlock()

	trade, err := e.executeTrade(order, signal, risk, marketTitle)

	e.mu.Lock()
	if err != nil {
		order.Status = OrderFailed
		order.Reason = err.Error()
	} else {
		order.Status = OrderFilled
	}
	e.mu.Unlock()

	e.scheduleGC(order.OrderID)

	if err != nil {
		return nil, err
	}
	return trade, nil
}

func (e *PredictionExecutionEngine) pendingOrderForMarket(marketID string) (*PendingOrder, bool) {
	for _, o := range e.pendingOrders {
		if o.MarketID == marketID && o.Status == OrderPending {
			return o, true
		}
	}
	return nil, false
}

// validatePreExecution implements spec §4.P3 step 1.
func (e *PredictionExecutionEngine) validatePreExecution(signal Signal, risk RiskAssessment) error {
	if signal.Side == "" {
		return fmt.Errorf("signal has no side (HOLD)")
	}
	if signal.SubmittedPrice <= 0 {
		return fmt.Errorf("invalid price: %.4f", signal.SubmittedPrice)
	}
	if !risk.Approved {
		return fmt.Errorf("risk assessment not approved")
	}
	if risk.SuggestedSizeUSD <= 0 {
		return fmt.Errorf("suggested size is zero")
	}
	if e.clock().Sub(signal.PriceTimestamp) > priceStaleAfter {
		return fmt.Errorf("price quote is stale")
	}
	return nil
}

// executeTrade implements spec §4.P3 step 4-5.
func (e *PredictionExecutionEngine) executeTrade(order *PendingOrder, signal Signal, risk RiskAssessment, marketTitle string) (*Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	price := signal.SubmittedPrice
	shares := risk.SuggestedSizeUSD / price
	key := positionKey{MarketID: signal.MarketID, Outcome: signal.Outcome}

	if !e.paperTrading {
		if quote, ok := e.currentPrices[signal.MarketID]; ok && quote.Price > 0 {
			slippage := math.Abs(quote.Price-price) / price
			if slippage > e.maxSlippagePct {
				return nil, fmt.Errorf("slippage %.4f exceeds max %.4f", slippage, e.maxSlippagePct)
			}
		}
	}

	if e.overfill != nil {
		e.overfill.RegisterOrder(overfill.TrackedOrder{
			OrderID: order.OrderID, Symbol: signal.MarketID, Side: string(signal.Side),
			OrderQty: shares,
		})
		check := e.overfill.CheckFill(order.OrderID, shares, price)
		if !check.Allowed {
			return nil, fmt.Errorf("overfill protection rejected fill: %s", check.Reason)
		}
		if check.AdjustedFill != nil {
			shares = check.AdjustedFill.Qty
		}
		if err := e.overfill.RecordFill(overfill.Fill{
			FillID: order.OrderID, OrderID: order.OrderID, Symbol: signal.MarketID,
			Side: string(signal.Side), FillQty: shares, FillPx: price,
		}); err != nil {
			e.log.Warn().Err(err).Str("order_id", order.OrderID).Msg("overfill registry fill record failed")
		}
	}

	var pnl float64
	var err error
	switch signal.Side {
	case SideBuy:
		cost := shares * price
		if cost > e.cashBalance {
			return nil, fmt.Errorf("insufficient cash: need %.2f, have %.2f", cost, e.cashBalance)
		}
		e.cashBalance -= cost
		existing, hasPos := e.positions[key]
		if hasPos {
			totalShares := existing.Shares + shares
			existing.AveragePrice = (existing.AveragePrice*existing.Shares + cost) / totalShares
			existing.Shares = totalShares
			existing.LastPrice = price
			e.positions[key] = existing
		} else {
			e.positions[key] = PredictionPosition{
				MarketID: signal.MarketID, Outcome: signal.Outcome,
				Shares: shares, AveragePrice: price, LastPrice: price, OpenedAt: e.clock(),
			}
		}
	case SideSell:
		existing, hasPos := e.positions[key]
		if !hasPos {
			return nil, fmt.Errorf("no open position for market %s/%s", signal.MarketID, signal.Outcome)
		}
		sellShares := shares
		if sellShares > existing.Shares {
			sellShares = existing.Shares
		}
		proceeds := sellShares * price
		pnl = (price - existing.AveragePrice) * sellShares
		e.cashBalance += proceeds
		e.realizedPnL += pnl
		existing.Shares -= sellShares
		existing.LastPrice = price
		if existing.Shares <= fillTolerance {
			delete(e.positions, key)
		} else {
			e.positions[key] = existing
		}
		shares = sellShares
	default:
		err = fmt.Errorf("unknown side %q", signal.Side)
	}
	if err != nil {
		return nil, err
	}

	feePct := LiveTradingFeePct
	if e.paperTrading {
		feePct = PaperTradingFeePct
	}
	fee := shares * price * feePct

	trade := Trade{
		ID: order.OrderID, MarketID: signal.MarketID, Outcome: signal.Outcome, Side: signal.Side,
		Shares: shares, Price: price, Fee: fee, PnL: pnl, Reason: "signal execution", Timestamp: e.clock(),
	}

	if e.trades != nil {
		if err := e.trades.Create(trade); err != nil {
			e.log.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to persist trade")
		}
	}
	if e.risk != nil {
		e.risk.RecordTrade(trade, e.totalValueLocked())
	}
	if e.bus != nil {
		e.bus.Publish(bus.TradeExecuted, "execution_engine", map[string]interface{}{
			"market_id": signal.MarketID, "side": string(signal.Side), "shares": shares, "price": price, "pnl": pnl,
		})
	}

	return &trade, nil
}

func (e *PredictionExecutionEngine) totalValueLocked() float64 {
	total := e.cashBalance
	for _, p := range e.positions {
		total += p.Shares * p.LastPrice
	}
	return total
}

// scheduleGC removes a terminal pending order after orderGCDelay. Uses a
// detached goroutine, matching the "always schedule GC after 60s"
// requirement independent of success/failure.
func (e *PredictionExecutionEngine) scheduleGC(orderID string) {
	go func() {
		time.Sleep(orderGCDelay)
		e.mu.Lock()
		delete(e.pendingOrders, orderID)
		e.mu.Unlock()
	}()
}

// SweepTimeouts cancels any PENDING order whose age exceeds timeout.
// PredictionOrchestrator.Start runs it every 10s with a 30s timeout.
func (e *PredictionExecutionEngine) SweepTimeouts(timeout time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock()
	for _, o := range e.pendingOrders {
		if o.Status == OrderPending && o.Age(now) > timeout {
			o.Status = OrderCancelled
			o.Reason = "Order timeout"
		}
	}
}

// CheckStopLosses delegates to the RiskManager with the engine's current
// open positions, producing the same contract spec §4.P3 requires.
func (e *PredictionExecutionEngine) CheckStopLosses() []StopLossBreach {
	e.mu.Lock()
	positions := e.openPositionsLocked()
	e.mu.Unlock()
	if e.risk == nil {
		return nil
	}
	return e.risk.CheckStopLosses(positions)
}

// EmergencyCloseAllResult summarizes an emergency close-all sweep.
type EmergencyCloseAllResult struct {
	Closed   int
	Failed   int
	TotalPnL float64
}

// EmergencyCloseAll synchronously realizes every open position at its
// last price, recording a synthetic SELL trade for each.
func (e *PredictionExecutionEngine) EmergencyCloseAll() EmergencyCloseAllResult {
	e.mu.Lock()
	keys := make([]positionKey, 0, len(e.positions))
	for k := range e.positions {
		keys = append(keys, k)
	}
	e.mu.Unlock()

	result := EmergencyCloseAllResult{}
	for _, key := range keys {
		e.mu.Lock()
		pos, ok := e.positions[key]
		if !ok {
			e.mu.Unlock()
			continue
		}
		pnl := (pos.LastPrice - pos.AveragePrice) * pos.Shares
		e.cashBalance += pos.Shares * pos.LastPrice
		e.realizedPnL += pnl
		delete(e.positions, key)

		trade := Trade{
			ID: uuid.NewString(), MarketID: key.MarketID, Outcome: key.Outcome, Side: SideSell,
			Shares: pos.Shares, Price: pos.LastPrice, PnL: pnl, Reason: "EMERGENCY CLOSE", Timestamp: e.clock(),
		}
		e.mu.Unlock()

		if e.trades != nil {
			if err := e.trades.Create(trade); err != nil {
				e.log.Error().Err(err).Str("market_id", key.MarketID).Msg("failed to persist emergency close trade")
				result.Failed++
				continue
			}
		}
		result.Closed++
		result.TotalPnL += pnl
	}

	if e.bus != nil {
		e.bus.Publish(bus.EmergencyStop, "execution_engine", map[string]interface{}{
			"closed": result.Closed, "failed": result.Failed, "total_pnl": result.TotalPnL,
		})
	}
	return result
}

func (e *PredictionExecutionEngine) openPositionsLocked() []PredictionPosition {
	out := make([]PredictionPosition, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, p)
	}
	return out
}

// GetPortfolio returns the derived portfolio summary (spec §3 Portfolio).
func (e *PredictionExecutionEngine) GetPortfolio() Portfolio {
	e.mu.Lock()
	defer e.mu.Unlock()

	used, value, unrealized := 0.0, e.cashBalance, 0.0
	for _, p := range e.positions {
		used += p.Shares * p.AveragePrice
		value += p.Shares * p.LastPrice
		unrealized += p.UnrealizedPnL
	}
	return Portfolio{
		TotalValue: value, AvailableBalance: e.cashBalance, UsedBalance: used,
		RealizedPnL: e.realizedPnL, UnrealizedPnL: unrealized,
	}
}

// GetPositions returns a snapshot copy of every open position.
func (e *PredictionExecutionEngine) GetPositions() []PredictionPosition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openPositionsLocked()
}

// GetPendingOrders returns a snapshot copy of every pending order.
func (e *PredictionExecutionEngine) GetPendingOrders() []PendingOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PendingOrder, 0, len(e.pendingOrders))
	for _, o := range e.pendingOrders {
		out = append(out, *o)
	}
	return out
}

// SnapshotOrders implements snapshot.Source.
func (e *PredictionExecutionEngine) SnapshotOrders() []snapshot.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]snapshot.Order, 0, len(e.pendingOrders))
	for _, o := range e.pendingOrders {
		out = append(out, snapshot.Order{
			OrderID:   o.OrderID,
			FilledQty: 0,
			Status:    string(o.Status),
			Raw: map[string]interface{}{
				"market_id": o.MarketID, "outcome": string(o.Outcome), "side": string(o.Side), "price": o.Price,
			},
		})
	}
	return out
}

// SnapshotPositions implements snapshot.Source.
func (e *PredictionExecutionEngine) SnapshotPositions() []snapshot.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	positions := e.openPositionsLocked()
	out := make([]snapshot.Position, 0, len(positions))
	for _, p := range positions {
		out = append(out, snapshot.Position{
			Symbol: p.MarketID, Quantity: p.Shares, Side: string(p.Outcome),
			Raw: map[string]interface{}{"average_price": p.AveragePrice, "last_price": p.LastPrice, "unrealized_pnl": p.UnrealizedPnL},
		})
	}
	return out
}

// SnapshotPortfolio implements snapshot.Source.
func (e *PredictionExecutionEngine) SnapshotPortfolio() map[string]interface{} {
	portfolio := e.GetPortfolio()
	return map[string]interface{}{
		"total_value": portfolio.TotalValue, "available_balance": portfolio.AvailableBalance,
		"used_balance": portfolio.UsedBalance, "realized_pnl": portfolio.RealizedPnL,
		"unrealized_pnl": portfolio.UnrealizedPnL,
	}
}
