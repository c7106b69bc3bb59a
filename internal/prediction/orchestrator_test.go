package prediction

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/bus"
	"github.com/aristath/sentinel/internal/news"
)

type recordingLearner struct {
	calls int
}

func (l *recordingLearner) Learn(ctx context.Context, idea PredictionIdea, trade Trade) error {
	l.calls++
	return nil
}

func newTestPredictionOrchestrator(t *testing.T, markets []PredictionMarket, thesis ThesisResult) (*PredictionOrchestrator, *recordingLearner) {
	t.Helper()
	log := zerolog.Nop()
	eventBus := bus.New(log)

	store := news.NewInMemoryStore()
	_, _, err := store.FindOrCreateByTopicKey(news.StoryCluster{
		TopicKey: "fed-rate-hike", Category: "finance", Topic: "Federal Reserve Rate Decision",
		Keywords: []string{"federal", "reserve"}, HeatScore: 5, ArticleCount: 3,
		TrendDirection: news.TrendUp, FirstSeen: time.Now(), UpdatedAt: time.Now(),
	})
	require.NoError(t, err)

	marketDataNode := NewMarketDataNode(&fakeMarketSource{markets: markets}, 0, 0, time.Minute, log)
	newsContextNode := NewNewsContextNode(store, "finance", 48*time.Hour, 10, log)
	theorizerNode := NewTheorizerNode(&fakeTheorizer{result: thesis}, log)
	backtesterNode := NewBacktesterNode(nil, 20, log)
	selector := NewIdeaSelector(1, 0.01, 0.1)

	risk := NewRiskManager(RiskConfig{}, log)
	persister := &recordingPersister{}
	execution := NewPredictionExecutionEngine(10000, true, 0.02, risk, persister, eventBus, log)
	reconciler := NewPositionReconciler(execution, &fakeVenue{}, risk, eventBus, log)
	learner := &recordingLearner{}

	orch := NewPredictionOrchestrator(marketDataNode, newsContextNode, theorizerNode, backtesterNode, selector, risk, execution, reconciler, learner, eventBus, log)
	return orch, learner
}

func TestRunCycle_NoMarketsYieldsNoMarketsState(t *testing.T) {
	orch, _ := newTestPredictionOrchestrator(t, nil, ThesisResult{})
	status := orch.RunCycle(context.Background())
	assert.Equal(t, StateNoMarkets, status.State)
}

func TestRunCycle_EmergencyStopShortCircuits(t *testing.T) {
	orch, _ := newTestPredictionOrchestrator(t, []PredictionMarket{
		{MarketID: "mkt-1", Title: "Will the Federal Reserve raise rates", OpenUntil: time.Now().Add(24 * time.Hour)},
	}, ThesisResult{Outcome: OutcomeYes, Edge: 0.2, Confidence: 0.8})
	orch.risk.TriggerEmergencyStop()

	status := orch.RunCycle(context.Background())
	assert.Equal(t, StateEmergencyStop, status.State)
}

func TestRunCycle_ExecutesApprovedIdeaAndCallsLearner(t *testing.T) {
	orch, learner := newTestPredictionOrchestrator(t, []PredictionMarket{
		{MarketID: "mkt-1", Title: "Will the Federal Reserve raise rates", LastYesPrice: 0.5, LastNoPrice: 0.5, OpenUntil: time.Now().Add(24 * time.Hour)},
	}, ThesisResult{Outcome: OutcomeYes, Edge: 0.2, Confidence: 0.8, Rationale: "strong signal"})

	status := orch.RunCycle(context.Background())
	require.Equal(t, StateLearned, status.State)
	assert.Equal(t, 1, learner.calls)
	assert.NotEmpty(t, orch.History())
}

func TestRunCycle_SkipsExecutionWhenRiskRejects(t *testing.T) {
	orch, learner := newTestPredictionOrchestrator(t, []PredictionMarket{
		{MarketID: "mkt-1", Title: "Will the Federal Reserve raise rates", LastYesPrice: 0.5, LastNoPrice: 0.5, OpenUntil: time.Now().Add(24 * time.Hour)},
	}, ThesisResult{Outcome: OutcomeYes, Edge: 0.2, Confidence: 0.8})
	// A position already open on the same market forces the correlation
	// check to reject, independent of sizing noise.
	signal := Signal{MarketID: "mkt-1", Outcome: OutcomeYes, Side: SideBuy, SubmittedPrice: 0.5, PriceTimestamp: time.Now()}
	_, err := orch.execution.ExecuteSignal(signal, RiskAssessment{Approved: true, SuggestedSizeUSD: 100}, "Will the Federal Reserve raise rates")
	require.NoError(t, err)

	status := orch.RunCycle(context.Background())
	assert.Equal(t, StateSkippedExec, status.State)
	assert.Zero(t, learner.calls)
}

func TestStartStop_RunsStopLossAndReconcilerLoopsWithoutPanic(t *testing.T) {
	orch, _ := newTestPredictionOrchestrator(t, nil, ThesisResult{})
	orch.stopLossInterval = 10 * time.Millisecond
	orch.reconcileInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	orch.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()
	orch.Stop()
}
