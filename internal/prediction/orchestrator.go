package prediction

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/bus"
)

// AgentState is one node of the P5 state machine (spec §4.P5).
type AgentState string

const (
	StateInit          AgentState = "INIT"
	StateMarketData    AgentState = "MARKET_DATA"
	StateNewsContext   AgentState = "NEWS_CONTEXT"
	StateTheorize      AgentState = "THEORIZE"
	StateBacktest      AgentState = "BACKTEST"
	StateIdeaSelected  AgentState = "IDEA_SELECTED"
	StateRiskChecked   AgentState = "RISK_CHECKED"
	StateExecuted      AgentState = "EXECUTED"
	StateSkippedExec   AgentState = "SKIPPED_EXEC"
	StateLearned       AgentState = "LEARNED"
	StateIdle          AgentState = "IDLE"
	StateError         AgentState = "ERROR"
	StateEmergencyStop AgentState = "EMERGENCY_STOP"
	StateNoMarkets     AgentState = "NO_MARKETS"
)

// RunStatus is the closed status enum attached to every AgentStatus.
type RunStatus string

const (
	RunRunning RunStatus = "RUNNING"
	RunIdle    RunStatus = "IDLE"
	RunError   RunStatus = "ERROR"
)

// AgentStatus is pushed on every state transition, per spec §4.P5.
type AgentStatus struct {
	State               AgentState
	Status              RunStatus
	Timestamp           time.Time
	Portfolio           Portfolio
	MarketIntelCoverage float64 // fraction of candidate markets with linked news
	Error               string
}

// Learner is called only from the EXECUTED branch, closing the loop
// between a theorized idea, the trade it produced, and whatever
// downstream model updates on that outcome.
type Learner interface {
	Learn(ctx context.Context, idea PredictionIdea, trade Trade) error
}

// statusHistoryLimit bounds the in-memory status trail so a long-running
// orchestrator doesn't grow without bound.
const statusHistoryLimit = 200

// PredictionOrchestrator is P5: the per-cycle state machine plus the two
// long-running loops (stop-loss checker, position reconciler) it owns.
type PredictionOrchestrator struct {
	marketData *MarketDataNode
	newsCtx    *NewsContextNode
	theorizer  *TheorizerNode
	backtester *BacktesterNode
	selector   *IdeaSelector
	risk       *RiskManager
	execution  *PredictionExecutionEngine
	reconciler *PositionReconciler
	learner    Learner
	bus        *bus.Bus
	clock      func() time.Time
	log        zerolog.Logger

	mu      sync.Mutex
	history []AgentStatus

	stopLossInterval time.Duration
	reconcileInterval time.Duration
	stop             chan struct{}
	wg               sync.WaitGroup
}

// NewPredictionOrchestrator wires the P1 idea pipeline to P2 risk, P3
// execution, and P4 reconciliation.
func NewPredictionOrchestrator(
	marketData *MarketDataNode,
	newsCtx *NewsContextNode,
	theorizer *TheorizerNode,
	backtester *BacktesterNode,
	selector *IdeaSelector,
	risk *RiskManager,
	execution *PredictionExecutionEngine,
	reconciler *PositionReconciler,
	learner Learner,
	eventBus *bus.Bus,
	log zerolog.Logger,
) *PredictionOrchestrator {
	return &PredictionOrchestrator{
		marketData: marketData, newsCtx: newsCtx, theorizer: theorizer, backtester: backtester,
		selector: selector, risk: risk, execution: execution, reconciler: reconciler, learner: learner,
		bus: eventBus, clock: time.Now, log: log.With().Str("component", "prediction_orchestrator").Logger(),
		stopLossInterval: 30 * time.Second, reconcileInterval: 5 * time.Minute,
	}
}

func (o *PredictionOrchestrator) push(state AgentState, status RunStatus, coverage float64, errMsg string) AgentStatus {
	s := AgentStatus{
		State: state, Status: status, Timestamp: o.clock(),
		Portfolio: o.execution.GetPortfolio(), MarketIntelCoverage: coverage, Error: errMsg,
	}
	o.mu.Lock()
	o.history = append(o.history, s)
	if len(o.history) > statusHistoryLimit {
		o.history = o.history[len(o.history)-statusHistoryLimit:]
	}
	o.mu.Unlock()
	if o.bus != nil {
		o.bus.Publish(bus.InfoChannel, "prediction_orchestrator", map[string]interface{}{
			"state": string(state), "status": string(status),
		})
	}
	return s
}

// RunCycle runs one full INIT→terminal pass of the state machine.
func (o *PredictionOrchestrator) RunCycle(ctx context.Context) AgentStatus {
	o.push(StateInit, RunRunning, 0, "")

	if o.risk.DailyState().EmergencyStopTriggered {
		return o.push(StateEmergencyStop, RunError, 0, "emergency stop is active")
	}

	markets, err := o.marketData.Run(ctx, o.clock())
	if err != nil {
		return o.push(StateError, RunError, 0, err.Error())
	}
	if len(markets) == 0 {
		return o.push(StateNoMarkets, RunIdle, 0, "")
	}
	o.push(StateMarketData, RunRunning, 0, "")

	contexts := o.newsCtx.Run(markets)
	covered := 0
	for _, c := range contexts {
		if c.LinkedNewsCount > 0 {
			covered++
		}
	}
	coverage := float64(covered) / float64(len(contexts))
	o.push(StateNewsContext, RunRunning, coverage, "")

	ideas := o.theorizer.Run(ctx, contexts)
	o.push(StateTheorize, RunRunning, coverage, "")

	ideas = o.backtester.Run(ideas)
	o.push(StateBacktest, RunRunning, coverage, "")

	selected := o.selector.Select(ideas)
	if len(selected) == 0 {
		return o.push(StateIdle, RunIdle, coverage, "")
	}
	idea := selected[0]
	o.push(StateIdeaSelected, RunRunning, coverage, "")

	portfolio := o.execution.GetPortfolio()
	positions := o.currentPositionContexts(contexts)
	risk := o.risk.AssessTrade(idea, portfolio.TotalValue, portfolio.AvailableBalance, positions)
	o.push(StateRiskChecked, RunRunning, coverage, "")

	if !risk.Approved {
		return o.push(StateSkippedExec, RunIdle, coverage, "")
	}

	signal := Signal{MarketID: idea.MarketID, Outcome: idea.Outcome, Side: SideBuy, SubmittedPrice: marketPrice(idea, contexts), PriceTimestamp: o.clock()}
	trade, err := o.execution.ExecuteSignal(signal, risk, idea.MarketTitle)
	if err != nil {
		return o.push(StateError, RunError, coverage, err.Error())
	}
	o.push(StateExecuted, RunRunning, coverage, "")

	if o.learner != nil {
		if err := o.learner.Learn(ctx, idea, *trade); err != nil {
			o.log.Warn().Err(err).Msg("learner failed, cycle still counts as executed")
		}
	}
	return o.push(StateLearned, RunIdle, coverage, "")
}

func marketPrice(idea PredictionIdea, contexts []MarketNewsContext) float64 {
	for _, c := range contexts {
		if c.Market.MarketID == idea.MarketID {
			if idea.Outcome == OutcomeYes {
				return c.Market.LastYesPrice
			}
			return c.Market.LastNoPrice
		}
	}
	return 0
}

// currentPositionContexts bundles engine positions with the market title
// the correlation check needs, sourced from whatever markets this cycle
// already looked at.
func (o *PredictionOrchestrator) currentPositionContexts(contexts []MarketNewsContext) []PositionContext {
	titles := make(map[string]string, len(contexts))
	for _, c := range contexts {
		titles[c.Market.MarketID] = c.Market.Title
	}
	positions := o.execution.GetPositions()
	out := make([]PositionContext, len(positions))
	for i, p := range positions {
		out[i] = PositionContext{Position: p, MarketTitle: titles[p.MarketID]}
	}
	return out
}

// History returns a snapshot of the recent status trail.
func (o *PredictionOrchestrator) History() []AgentStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]AgentStatus, len(o.history))
	copy(out, o.history)
	return out
}

// Start launches the long-running loops this orchestrator owns: the
// stop-loss checker (which also sweeps pending orders older than 30s
// every 10s) and the position reconciler.
func (o *PredictionOrchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.stop != nil {
		o.mu.Unlock()
		return
	}
	o.stop = make(chan struct{})
	o.mu.Unlock()

	o.reconciler.Start(o.reconcileInterval)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(o.stopLossInterval)
		defer ticker.Stop()
		sweep := time.NewTicker(10 * time.Second)
		defer sweep.Stop()
		for {
			select {
			case <-ticker.C:
				o.runStopLossCheck(ctx)
			case <-sweep.C:
				o.execution.SweepTimeouts(30 * time.Second)
			case <-o.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (o *PredictionOrchestrator) runStopLossCheck(ctx context.Context) {
	breaches := o.execution.CheckStopLosses()
	for _, b := range breaches {
		o.log.Warn().Str("market_id", b.Position.MarketID).Str("reason", b.Reason).Msg("stop-loss breach detected")
		if o.bus != nil {
			o.bus.Publish(bus.StopLossTriggered, "prediction_orchestrator", map[string]interface{}{
				"market_id": b.Position.MarketID, "reason": b.Reason,
			})
		}
		signal := Signal{MarketID: b.Position.MarketID, Outcome: b.Position.Outcome, Side: SideSell, SubmittedPrice: b.Position.LastPrice, PriceTimestamp: o.clock()}
		risk := RiskAssessment{Approved: true, SuggestedSizeUSD: b.Position.Shares * b.Position.LastPrice}
		if _, err := o.execution.ExecuteSignal(signal, risk, ""); err != nil {
			o.log.Error().Err(err).Str("market_id", b.Position.MarketID).Msg("failed to execute stop-loss sell")
		}
	}
}

// Stop ends both long-running loops and waits for them to exit.
func (o *PredictionOrchestrator) Stop() {
	o.mu.Lock()
	stop := o.stop
	o.stop = nil
	o.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	o.wg.Wait()
	o.reconciler.Stop()
}
