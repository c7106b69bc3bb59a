package prediction

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/bus"
)

type recordingPersister struct {
	trades []Trade
}

func (p *recordingPersister) Create(t Trade) error {
	p.trades = append(p.trades, t)
	return nil
}

func newTestEngine(t *testing.T) (*PredictionExecutionEngine, *recordingPersister) {
	t.Helper()
	persister := &recordingPersister{}
	risk := NewRiskManager(RiskConfig{}, zerolog.Nop())
	engine := NewPredictionExecutionEngine(10000, true, 0.02, risk, persister, bus.New(zerolog.Nop()), zerolog.Nop())
	return engine, persister
}

func approvedRisk() RiskAssessment {
	return RiskAssessment{Approved: true, SuggestedSizeUSD: 100, RiskScore: 0.3, MaxLossUSD: 20}
}

func TestExecuteSignal_BuyOpensPosition(t *testing.T) {
	engine, persister := newTestEngine(t)
	signal := Signal{MarketID: "mkt-1", Outcome: OutcomeYes, Side: SideBuy, SubmittedPrice: 0.5, PriceTimestamp: time.Now()}

	trade, err := engine.ExecuteSignal(signal, approvedRisk(), "Will it rain tomorrow")
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Equal(t, "mkt-1", trade.MarketID)
	assert.InDelta(t, 200.0, trade.Shares, 0.001)

	positions := engine.GetPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, "mkt-1", positions[0].MarketID)
	require.Len(t, persister.trades, 1)
}

func TestExecuteSignal_RejectsUnapprovedRisk(t *testing.T) {
	engine, _ := newTestEngine(t)
	signal := Signal{MarketID: "mkt-1", Outcome: OutcomeYes, Side: SideBuy, SubmittedPrice: 0.5, PriceTimestamp: time.Now()}

	_, err := engine.ExecuteSignal(signal, RiskAssessment{Approved: false}, "title")
	assert.Error(t, err)
	assert.Empty(t, engine.GetPositions())
}

func TestExecuteSignal_RejectsStalePrice(t *testing.T) {
	engine, _ := newTestEngine(t)
	signal := Signal{MarketID: "mkt-1", Outcome: OutcomeYes, Side: SideBuy, SubmittedPrice: 0.5, PriceTimestamp: time.Now().Add(-2 * time.Minute)}

	_, err := engine.ExecuteSignal(signal, approvedRisk(), "title")
	assert.Error(t, err)
}

func TestExecuteSignal_RejectsInsufficientCash(t *testing.T) {
	engine, _ := newTestEngine(t)
	signal := Signal{MarketID: "mkt-1", Outcome: OutcomeYes, Side: SideBuy, SubmittedPrice: 0.5, PriceTimestamp: time.Now()}
	risk := RiskAssessment{Approved: true, SuggestedSizeUSD: 1_000_000}

	_, err := engine.ExecuteSignal(signal, risk, "title")
	assert.Error(t, err)
}

func TestExecuteSignal_SellRealizesPnLAndClosesPosition(t *testing.T) {
	engine, _ := newTestEngine(t)
	buy := Signal{MarketID: "mkt-1", Outcome: OutcomeYes, Side: SideBuy, SubmittedPrice: 0.5, PriceTimestamp: time.Now()}
	_, err := engine.ExecuteSignal(buy, approvedRisk(), "title")
	require.NoError(t, err)

	engine.UpdateMarketPrice("mkt-1", 0.8)

	sell := Signal{MarketID: "mkt-1", Outcome: OutcomeYes, Side: SideSell, SubmittedPrice: 0.8, PriceTimestamp: time.Now()}
	trade, err := engine.ExecuteSignal(sell, RiskAssessment{Approved: true, SuggestedSizeUSD: 160}, "title")
	require.NoError(t, err)
	assert.Greater(t, trade.PnL, 0.0)
	assert.Empty(t, engine.GetPositions())
}

func TestExecuteSignal_RejectsDuplicatePendingOrderSameMarket(t *testing.T) {
	engine, _ := newTestEngine(t)
	signal := Signal{MarketID: "mkt-1", Outcome: OutcomeYes, Side: SideBuy, SubmittedPrice: 0.5, PriceTimestamp: time.Now()}

	engine.mu.Lock()
	engine.pendingOrders["existing"] = &PendingOrder{OrderID: "existing", MarketID: "mkt-1", Status: OrderPending, CreatedAt: time.Now()}
	engine.mu.Unlock()

	_, err := engine.ExecuteSignal(signal, approvedRisk(), "title")
	assert.Error(t, err)
}

func TestSweepTimeouts_CancelsOldPendingOrders(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.mu.Lock()
	engine.pendingOrders["stale"] = &PendingOrder{OrderID: "stale", Status: OrderPending, CreatedAt: time.Now().Add(-time.Minute)}
	engine.mu.Unlock()

	engine.SweepTimeouts(30 * time.Second)

	orders := engine.GetPendingOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, OrderCancelled, orders[0].Status)
	assert.Equal(t, "Order timeout", orders[0].Reason)
}

func TestCheckStopLosses_ReflectsEngineState(t *testing.T) {
	engine, _ := newTestEngine(t)
	buy := Signal{MarketID: "mkt-1", Outcome: OutcomeYes, Side: SideBuy, SubmittedPrice: 1.0, PriceTimestamp: time.Now()}
	_, err := engine.ExecuteSignal(buy, approvedRisk(), "title")
	require.NoError(t, err)

	engine.UpdateMarketPrice("mkt-1", 0.5)

	breaches := engine.CheckStopLosses()
	require.Len(t, breaches, 1)
	assert.Equal(t, "mkt-1", breaches[0].Position.MarketID)
}

func TestEmergencyCloseAll_ClosesEveryPosition(t *testing.T) {
	engine, persister := newTestEngine(t)
	buy1 := Signal{MarketID: "mkt-1", Outcome: OutcomeYes, Side: SideBuy, SubmittedPrice: 0.5, PriceTimestamp: time.Now()}
	buy2 := Signal{MarketID: "mkt-2", Outcome: OutcomeNo, Side: SideBuy, SubmittedPrice: 0.3, PriceTimestamp: time.Now()}
	_, err := engine.ExecuteSignal(buy1, approvedRisk(), "title-1")
	require.NoError(t, err)
	_, err = engine.ExecuteSignal(buy2, approvedRisk(), "title-2")
	require.NoError(t, err)

	engine.UpdateMarketPrice("mkt-1", 0.6)
	engine.UpdateMarketPrice("mkt-2", 0.2)

	result := engine.EmergencyCloseAll()
	assert.Equal(t, 2, result.Closed)
	assert.Equal(t, 0, result.Failed)
	assert.Empty(t, engine.GetPositions())
	assert.Len(t, persister.trades, 4)
}

func TestGetPortfolio_ReflectsCashAndPositions(t *testing.T) {
	engine, _ := newTestEngine(t)
	buy := Signal{MarketID: "mkt-1", Outcome: OutcomeYes, Side: SideBuy, SubmittedPrice: 0.5, PriceTimestamp: time.Now()}
	_, err := engine.ExecuteSignal(buy, approvedRisk(), "title")
	require.NoError(t, err)

	portfolio := engine.GetPortfolio()
	assert.Less(t, portfolio.AvailableBalance, 10000.0)
	assert.Greater(t, portfolio.TotalValue, 0.0)
}
