package prediction

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRiskManager() *RiskManager {
	return NewRiskManager(RiskConfig{}, zerolog.Nop())
}

func baseIdea() PredictionIdea {
	return PredictionIdea{
		ID: "idea-1", MarketID: "mkt-1", MarketTitle: "Federal Reserve Raises Interest Rates In March",
		Outcome: OutcomeYes, Edge: 0.15, Confidence: 0.7,
	}
}

func TestAssessTrade_ApprovesHealthyIdea(t *testing.T) {
	r := newTestRiskManager()
	result := r.AssessTrade(baseIdea(), 10000, 10000, nil)
	require.True(t, result.Approved)
	assert.Greater(t, result.SuggestedSizeUSD, 0.0)
	assert.Greater(t, result.MaxLossUSD, 0.0)
}

func TestAssessTrade_EmergencyStopHardRejectsWithZeroSize(t *testing.T) {
	r := newTestRiskManager()
	r.TriggerEmergencyStop()
	result := r.AssessTrade(baseIdea(), 10000, 10000, nil)
	assert.False(t, result.Approved)
	assert.Equal(t, 0.0, result.SuggestedSizeUSD)
	assert.True(t, result.EmergencyStopTriggered)
}

func TestAssessTrade_DailyTradeCountLimit(t *testing.T) {
	r := NewRiskManager(RiskConfig{MaxDailyTrades: 1}, zerolog.Nop())
	r.RecordTrade(Trade{PnL: 1}, 10000)
	result := r.AssessTrade(baseIdea(), 10000, 10000, nil)
	assert.False(t, result.Approved)
}

func TestAssessTrade_CooldownAfterLossBlocksNextTrade(t *testing.T) {
	r := NewRiskManager(RiskConfig{CooldownAfterLossMinutes: time.Hour}, zerolog.Nop())
	r.RecordTrade(Trade{PnL: -10}, 10000)
	result := r.AssessTrade(baseIdea(), 10000, 10000, nil)
	assert.False(t, result.Approved)
}

func TestAssessTrade_PortfolioHeatLimit(t *testing.T) {
	r := NewRiskManager(RiskConfig{MaxPortfolioHeatPct: 0.1}, zerolog.Nop())
	positions := []PositionContext{
		{Position: PredictionPosition{MarketID: "other", Shares: 100, LastPrice: 20}},
	}
	result := r.AssessTrade(baseIdea(), 10000, 10000, positions)
	assert.False(t, result.Approved)
}

func TestAssessTrade_SameMarketCorrelationRejected(t *testing.T) {
	r := newTestRiskManager()
	positions := []PositionContext{
		{Position: PredictionPosition{MarketID: "mkt-1", Shares: 10, LastPrice: 1}, MarketTitle: baseIdea().MarketTitle},
	}
	result := r.AssessTrade(baseIdea(), 10000, 10000, positions)
	assert.False(t, result.Approved)
}

func TestAssessTrade_CorrelatedTitlesRejected(t *testing.T) {
	r := NewRiskManager(RiskConfig{MaxCorrelatedPositions: 1}, zerolog.Nop())
	positions := []PositionContext{
		{Position: PredictionPosition{MarketID: "mkt-2", Shares: 10, LastPrice: 1}, MarketTitle: "Federal Reserve Raises Rates Again In April"},
	}
	result := r.AssessTrade(baseIdea(), 10000, 10000, positions)
	assert.False(t, result.Approved)
}

func TestCheckStopLosses_DetectsBreach(t *testing.T) {
	r := NewRiskManager(RiskConfig{StopLossPct: 0.2}, zerolog.Nop())
	positions := []PredictionPosition{
		{MarketID: "mkt-1", AveragePrice: 1.0, LastPrice: 0.7},
		{MarketID: "mkt-2", AveragePrice: 1.0, LastPrice: 0.95},
	}
	breaches := r.CheckStopLosses(positions)
	require.Len(t, breaches, 1)
	assert.Equal(t, "mkt-1", breaches[0].Position.MarketID)
}

func TestRecordTrade_TriggersEmergencyStopOnLargeLoss(t *testing.T) {
	r := NewRiskManager(RiskConfig{EmergencyStopDailyLoss: 0.01}, zerolog.Nop())
	r.RecordTrade(Trade{PnL: -500}, 10000)
	assert.True(t, r.DailyState().EmergencyStopTriggered)
}
