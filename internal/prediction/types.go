// Package prediction implements the prediction-market agent loop: idea
// generation (market data + news context + theorizing + backtesting),
// risk gating, order execution, position reconciliation, and the
// orchestrating state machine that runs one cycle at a time.
package prediction

import "time"

// Outcome is the binary side of a prediction-market contract.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Side is the trade direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderStatus is the closed lifecycle of a PendingOrder.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderOpen      OrderStatus = "OPEN"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderFailed    OrderStatus = "FAILED"
)

// fillTolerance is the epsilon below which a position/order quantity is
// treated as closed/filled (spec §3 PredictionPosition/PredictionOrder
// invariants).
const fillTolerance = 1e-4

// PredictionMarket is a single binary-outcome market as reported by the
// venue collaborator.
type PredictionMarket struct {
	MarketID     string
	Title        string
	Outcomes     []Outcome
	LastYesPrice float64
	LastNoPrice  float64
	Volume       float64
	OpenUntil    time.Time
}

// PredictionIdea is one candidate trade produced by the P1 idea pipeline.
type PredictionIdea struct {
	ID                 string
	MarketID           string
	MarketTitle        string
	Outcome            Outcome
	Edge               float64 // signed: positive favors Outcome
	Confidence         float64 // [0,1]
	Rationale          string
	HeatScore          float64
	SentimentScore     float64
	LinkedNewsCount    int
	LinkedClusterCount int
	TimeHorizon        time.Duration
}

// RiskAssessment is the P2 RiskManager's verdict on a PredictionIdea.
type RiskAssessment struct {
	Approved               bool
	Warnings               []string
	SuggestedSizeUSD       float64
	RiskScore              float64
	MaxLossUSD             float64
	EmergencyStopTriggered bool
}

// PendingOrder tracks one in-flight exchange request.
type PendingOrder struct {
	OrderID       string
	ClientOrderID string
	VenueOrderID  string
	MarketID      string
	Outcome       Outcome
	Side          Side
	Shares        float64
	Price         float64
	Status        OrderStatus
	Reason        string
	CreatedAt     time.Time
}

// Age reports how long the order has been pending, relative to now.
func (p PendingOrder) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}

// Fill is a single exchange execution report.
type Fill struct {
	FillID    string
	OrderID   string
	MarketID  string
	Side      Side
	FillQty   float64
	FillPx    float64
	Timestamp time.Time
}

// PredictionPosition is an open holding in one (marketId, outcome).
type PredictionPosition struct {
	MarketID      string
	Outcome       Outcome
	Shares        float64
	AveragePrice  float64
	LastPrice     float64
	UnrealizedPnL float64
	OpenedAt      time.Time
}

// IsOpen reports whether the position still holds a meaningful quantity.
func (p PredictionPosition) IsOpen() bool {
	return p.Shares > fillTolerance
}

// Key identifies a position uniquely by (marketId, outcome).
func (p PredictionPosition) Key() positionKey {
	return positionKey{MarketID: p.MarketID, Outcome: p.Outcome}
}

type positionKey struct {
	MarketID string
	Outcome  Outcome
}

// Portfolio is the derived account summary.
type Portfolio struct {
	TotalValue       float64
	AvailableBalance float64
	UsedBalance      float64
	RealizedPnL      float64
	UnrealizedPnL    float64
}

// Trade is a persisted execution record.
type Trade struct {
	ID        string
	MarketID  string
	Outcome   Outcome
	Side      Side
	Shares    float64
	Price     float64
	Fee       float64
	PnL       float64
	Reason    string
	Timestamp time.Time
}

// DailyRiskState is the process-wide, date-scoped risk bookkeeping record
// (spec §3). Mutating methods on RiskManager must serialize access to it.
type DailyRiskState struct {
	Date                   string // YYYY-MM-DD, local
	Trades                 int
	TotalTrades            int
	WinningTrades          int
	LosingTrades           int
	DailyPnL               float64
	LastTradeTime          time.Time
	CooldownUntil          time.Time
	EmergencyStopTriggered bool
}

// ReconciliationSeverity is the closed severity enum for positional
// discrepancies found by the P4 PositionReconciler.
type ReconciliationSeverity string

const (
	SeverityMinor    ReconciliationSeverity = "MINOR"
	SeverityMajor    ReconciliationSeverity = "MAJOR"
	SeverityCritical ReconciliationSeverity = "CRITICAL"
)

// Discrepancy is one marketId's expected-vs-actual share mismatch.
type Discrepancy struct {
	MarketID       string
	ExpectedShares float64
	ActualShares   float64
	Severity       ReconciliationSeverity
}

// ReconciliationResult is the outcome of one reconciliation pass.
type ReconciliationResult struct {
	Timestamp     time.Time
	Discrepancies []Discrepancy
	Orphaned      []string // marketIds with no venue counterpart
	Stale         []string // marketIds with no recent price update
}
