package prediction

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RiskConfig holds the loaded-from-config limits the RiskManager enforces.
// Defaults mirror the percentages named in spec §4.P2.
type RiskConfig struct {
	MaxDailyLossPct          float64
	MaxDailyLossUSD          float64
	MaxDailyTrades           int
	MaxPortfolioHeatPct      float64
	MaxPositions             int
	MaxPositionPct           float64
	CooldownAfterLossMinutes time.Duration
	CooldownAfterWinMinutes  time.Duration
	StopLossPct              float64
	EnableCorrelationCheck   bool
	MaxCorrelatedPositions   int
	MaxSlippagePct           float64
	MinMarketVolume          float64
	MaxMarketAgeDays         int
	EmergencyStopDailyLoss   float64
}

func defaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxDailyLossPct:          0.02,
		MaxDailyLossUSD:          100,
		MaxDailyTrades:           5,
		MaxPortfolioHeatPct:      0.30,
		MaxPositions:             10,
		MaxPositionPct:           0.05,
		CooldownAfterLossMinutes: 30 * time.Minute,
		CooldownAfterWinMinutes:  5 * time.Minute,
		StopLossPct:              0.20,
		EnableCorrelationCheck:   true,
		MaxCorrelatedPositions:   2,
		MaxSlippagePct:           0.02,
		MinMarketVolume:          0,
		MaxMarketAgeDays:         0,
		EmergencyStopDailyLoss:   0.05,
	}
}

// PositionContext bundles a position with the market title needed for the
// correlation check, since PredictionPosition itself carries no title.
type PositionContext struct {
	Position    PredictionPosition
	MarketTitle string
}

// RiskManager is P2: pre-trade gate, daily state, and emergency-stop.
type RiskManager struct {
	mu    sync.Mutex
	cfg   RiskConfig
	state DailyRiskState
	clock func() time.Time
	log   zerolog.Logger
}

// NewRiskManager builds a RiskManager. Zero-value cfg fields fall back to
// defaults.
func NewRiskManager(cfg RiskConfig, log zerolog.Logger) *RiskManager {
	d := defaultRiskConfig()
	if cfg.MaxDailyLossPct == 0 {
		cfg.MaxDailyLossPct = d.MaxDailyLossPct
	}
	if cfg.MaxDailyLossUSD == 0 {
		cfg.MaxDailyLossUSD = d.MaxDailyLossUSD
	}
	if cfg.MaxDailyTrades == 0 {
		cfg.MaxDailyTrades = d.MaxDailyTrades
	}
	if cfg.MaxPortfolioHeatPct == 0 {
		cfg.MaxPortfolioHeatPct = d.MaxPortfolioHeatPct
	}
	if cfg.MaxPositions == 0 {
		cfg.MaxPositions = d.MaxPositions
	}
	if cfg.MaxPositionPct == 0 {
		cfg.MaxPositionPct = d.MaxPositionPct
	}
	if cfg.CooldownAfterLossMinutes == 0 {
		cfg.CooldownAfterLossMinutes = d.CooldownAfterLossMinutes
	}
	if cfg.CooldownAfterWinMinutes == 0 {
		cfg.CooldownAfterWinMinutes = d.CooldownAfterWinMinutes
	}
	if cfg.StopLossPct == 0 {
		cfg.StopLossPct = d.StopLossPct
	}
	if cfg.MaxCorrelatedPositions == 0 {
		cfg.MaxCorrelatedPositions = d.MaxCorrelatedPositions
	}
	if cfg.MaxSlippagePct == 0 {
		cfg.MaxSlippagePct = d.MaxSlippagePct
	}
	if cfg.EmergencyStopDailyLoss == 0 {
		cfg.EmergencyStopDailyLoss = d.EmergencyStopDailyLoss
	}
	return &RiskManager{
		cfg:   cfg,
		state: DailyRiskState{Date: today(time.Now())},
		clock: time.Now,
		log:   log.With().Str("component", "risk_manager").Logger(),
	}
}

func today(t time.Time) string {
	return t.Format("2006-01-02")
}

// rolloverLocked resets the daily state at local midnight. Caller must
// hold r.mu.
func (r *RiskManager) rolloverLocked(now time.Time) {
	d := today(now)
	if r.state.Date != d {
		r.state = DailyRiskState{Date: d}
	}
}

// AssessTrade runs the ordered pre-trade checks from spec §4.P2 and
// returns the resulting RiskAssessment. Checks 2-7 accumulate warnings and
// flip approved=false without short-circuiting, except check 1
// (emergency-stop), which hard-rejects immediately.
func (r *RiskManager) AssessTrade(idea PredictionIdea, portfolioValue, availableBalance float64, currentPositions []PositionContext) RiskAssessment {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	r.rolloverLocked(now)

	if r.state.EmergencyStopTriggered {
		return RiskAssessment{Approved: false, Warnings: []string{"emergency stop is active"}, EmergencyStopTriggered: true}
	}

	var warnings []string
	approved := true

	if maxLoss := math.Min(portfolioValue*r.cfg.MaxDailyLossPct, r.cfg.MaxDailyLossUSD); math.Abs(r.state.DailyPnL) >= maxLoss {
		approved = false
		warnings = append(warnings, "daily loss limit reached")
	}
	emergencyTriggered := false
	if portfolioValue > 0 && math.Abs(r.state.DailyPnL) > portfolioValue*r.cfg.EmergencyStopDailyLoss {
		emergencyTriggered = true
		r.state.EmergencyStopTriggered = true
		warnings = append(warnings, "emergency stop threshold breached")
	}

	if r.state.Trades >= r.cfg.MaxDailyTrades {
		approved = false
		warnings = append(warnings, "daily trade count limit reached")
	}

	if now.Before(r.state.CooldownUntil) {
		approved = false
		warnings = append(warnings, "cooldown period active")
	}

	heat := 0.0
	if portfolioValue > 0 {
		exposure := 0.0
		for _, pc := range currentPositions {
			exposure += pc.Position.Shares * pc.Position.LastPrice
		}
		heat = exposure / portfolioValue
	}
	if heat >= r.cfg.MaxPortfolioHeatPct {
		approved = false
		warnings = append(warnings, "portfolio heat limit reached")
	}

	if len(currentPositions) >= r.cfg.MaxPositions {
		approved = false
		warnings = append(warnings, "max open positions reached")
	}

	if r.cfg.EnableCorrelationCheck {
		if ok, reason := r.correlationOK(idea, currentPositions); !ok {
			approved = false
			warnings = append(warnings, reason)
		}
	}

	size := r.positionSize(idea, portfolioValue, availableBalance, heat)
	minSize := math.Max(5, availableBalance*0.01)
	if size < minSize {
		approved = false
		warnings = append(warnings, "suggested size below minimum")
		size = 0
	}

	riskScore := r.riskScore(idea, len(currentPositions))

	if !approved {
		size = 0
	}

	return RiskAssessment{
		Approved:               approved,
		Warnings:                warnings,
		SuggestedSizeUSD:       size,
		RiskScore:              riskScore,
		MaxLossUSD:             size * r.cfg.StopLossPct,
		EmergencyStopTriggered: emergencyTriggered,
	}
}

// correlationOK rejects a same-market duplicate, or when at least
// MaxCorrelatedPositions existing positions share ≥2 common long (>3
// char) words with the idea's market title.
func (r *RiskManager) correlationOK(idea PredictionIdea, currentPositions []PositionContext) (bool, string) {
	for _, pc := range currentPositions {
		if pc.Position.MarketID == idea.MarketID {
			return false, "existing position already open on this market"
		}
	}

	ideaWords := longWordSet(idea.MarketTitle)
	if len(ideaWords) == 0 {
		return true, ""
	}

	correlated := 0
	for _, pc := range currentPositions {
		shared := 0
		for w := range longWordSet(pc.MarketTitle) {
			if ideaWords[w] {
				shared++
			}
		}
		if shared >= 2 {
			correlated++
		}
	}
	if correlated >= r.cfg.MaxCorrelatedPositions {
		return false, "too many correlated open positions"
	}
	return true, ""
}

func longWordSet(title string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(title)) {
		if len(w) > 3 {
			out[w] = true
		}
	}
	return out
}

// positionSize implements the sizing formula from spec §4.P2 step 8.
func (r *RiskManager) positionSize(idea PredictionIdea, portfolioValue, availableBalance, heat float64) float64 {
	heatRemaining := r.cfg.MaxPortfolioHeatPct - heat
	heatFactor := math.Max(0.3, heatRemaining/r.cfg.MaxPortfolioHeatPct)
	edgeFactor := math.Min(1+2*math.Abs(idea.Edge), 1.5)
	confidenceFactor := 0.5 + 0.5*idea.Confidence

	size := portfolioValue * r.cfg.MaxPositionPct * confidenceFactor * edgeFactor * heatFactor
	if size > availableBalance {
		size = availableBalance
	}
	return math.Round(size*100) / 100
}

// riskScore implements spec §4.P2's composite score, clipped to [0,1].
func (r *RiskManager) riskScore(idea PredictionIdea, openPositions int) float64 {
	edgeComponent := math.Max(math.Abs(idea.Edge-0.1)*2, 0.3)
	confidenceComponent := (1 - idea.Confidence) * 0.3
	positionsComponent := (float64(openPositions) / float64(r.cfg.MaxPositions)) * 0.2
	score := edgeComponent + confidenceComponent + positionsComponent
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// StopLossBreach is one position whose drawdown has crossed the
// configured stop-loss threshold.
type StopLossBreach struct {
	Position PredictionPosition
	Reason   string
}

// CheckStopLosses returns every position whose (current-entry)/entry is
// below -stopLossPct.
func (r *RiskManager) CheckStopLosses(positions []PredictionPosition) []StopLossBreach {
	r.mu.Lock()
	pct := r.cfg.StopLossPct
	r.mu.Unlock()

	var out []StopLossBreach
	for _, p := range positions {
		if p.AveragePrice <= 0 {
			continue
		}
		change := (p.LastPrice - p.AveragePrice) / p.AveragePrice
		if change < -pct {
			out = append(out, StopLossBreach{
				Position: p,
				Reason:   "drawdown exceeds stop-loss threshold",
			})
		}
	}
	return out
}

// RecordTrade updates daily stats, starts the post-trade cooldown,
// and re-checks the emergency-stop condition.
func (r *RiskManager) RecordTrade(trade Trade, portfolioValue float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	r.rolloverLocked(now)

	r.state.Trades++
	r.state.TotalTrades++
	r.state.DailyPnL += trade.PnL
	r.state.LastTradeTime = now

	if trade.PnL < 0 {
		r.state.LosingTrades++
		r.state.CooldownUntil = now.Add(r.cfg.CooldownAfterLossMinutes)
	} else if trade.PnL > 0 {
		r.state.WinningTrades++
		r.state.CooldownUntil = now.Add(r.cfg.CooldownAfterWinMinutes)
	}

	if portfolioValue > 0 && math.Abs(r.state.DailyPnL) > portfolioValue*r.cfg.EmergencyStopDailyLoss {
		r.state.EmergencyStopTriggered = true
		r.log.Error().Float64("daily_pnl", r.state.DailyPnL).Msg("emergency stop triggered by daily loss")
	}
}

// ForceCooldown imposes an ad-hoc cooldown window, e.g. from an admin
// action or a detected anomaly upstream.
func (r *RiskManager) ForceCooldown(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	until := r.clock().Add(d)
	if until.After(r.state.CooldownUntil) {
		r.state.CooldownUntil = until
	}
}

// TriggerEmergencyStop sets the emergency-stop flag; it can only be
// cleared by ResetEmergencyStop (an explicit admin action).
func (r *RiskManager) TriggerEmergencyStop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.EmergencyStopTriggered = true
}

// ResetEmergencyStop clears the emergency-stop flag.
func (r *RiskManager) ResetEmergencyStop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.EmergencyStopTriggered = false
}

// DailyState returns a copy of the current daily risk state.
func (r *RiskManager) DailyState() DailyRiskState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}
