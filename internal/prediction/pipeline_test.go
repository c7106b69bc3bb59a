package prediction

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/news"
)

type fakeMarketSource struct {
	markets []PredictionMarket
	err     error
}

func (f *fakeMarketSource) ListOpenMarkets(ctx context.Context) ([]PredictionMarket, error) {
	return f.markets, f.err
}

func TestMarketDataNode_FiltersThinAndExpiringMarkets(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeMarketSource{markets: []PredictionMarket{
		{MarketID: "thick", Volume: 5000, OpenUntil: now.Add(24 * time.Hour)},
		{MarketID: "thin", Volume: 10, OpenUntil: now.Add(24 * time.Hour)},
		{MarketID: "expiring", Volume: 5000, OpenUntil: now.Add(time.Minute)},
	}}
	node := NewMarketDataNode(source, 1000, 0, time.Hour, zerolog.Nop())

	markets, err := node.Run(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "thick", markets[0].MarketID)
}

func buildStoreWithCluster(t *testing.T) news.StoryClusterStore {
	t.Helper()
	store := news.NewInMemoryStore()
	_, _, err := store.FindOrCreateByTopicKey(news.StoryCluster{
		TopicKey: "fed-rate-hike", Category: "finance", Topic: "Federal Reserve Rate Decision",
		Keywords: []string{"federal", "reserve", "rate"}, HeatScore: 5, ArticleCount: 3,
		TrendDirection: news.TrendUp, FirstSeen: time.Now(), UpdatedAt: time.Now(),
	})
	require.NoError(t, err)
	return store
}

func TestNewsContextNode_LinksClusterByKeywordOverlap(t *testing.T) {
	store := buildStoreWithCluster(t)
	node := NewNewsContextNode(store, "finance", 48*time.Hour, 10, zerolog.Nop())

	markets := []PredictionMarket{
		{MarketID: "mkt-1", Title: "Will the Federal Reserve raise rates in March"},
		{MarketID: "mkt-2", Title: "Will it snow in Tokyo"},
	}
	contexts := node.Run(markets)
	require.Len(t, contexts, 2)
	assert.Len(t, contexts[0].LinkedClusters, 1)
	assert.Empty(t, contexts[1].LinkedClusters)
}

type fakeTheorizer struct {
	result ThesisResult
	err    error
}

func (f *fakeTheorizer) Theorize(ctx context.Context, marketTitle string, newsContext MarketNewsContext) (ThesisResult, error) {
	return f.result, f.err
}

func TestTheorizerNode_SkipsMarketsWithNoLinkedNews(t *testing.T) {
	node := NewTheorizerNode(&fakeTheorizer{result: ThesisResult{Outcome: OutcomeYes, Edge: 0.2, Confidence: 0.8}}, zerolog.Nop())
	contexts := []MarketNewsContext{
		{Market: PredictionMarket{MarketID: "mkt-1"}, LinkedNewsCount: 0},
	}
	ideas := node.Run(context.Background(), contexts)
	assert.Empty(t, ideas)
}

func TestTheorizerNode_ProducesIdeaForLinkedMarket(t *testing.T) {
	node := NewTheorizerNode(&fakeTheorizer{result: ThesisResult{Outcome: OutcomeYes, Edge: 0.2, Confidence: 0.8, Rationale: "strong signal"}}, zerolog.Nop())
	contexts := []MarketNewsContext{
		{Market: PredictionMarket{MarketID: "mkt-1", Title: "Fed raises rates", OpenUntil: time.Now().Add(time.Hour)}, LinkedNewsCount: 3},
	}
	ideas := node.Run(context.Background(), contexts)
	require.Len(t, ideas, 1)
	assert.Equal(t, OutcomeYes, ideas[0].Outcome)
	assert.Equal(t, 0.2, ideas[0].Edge)
}

type fakeBacktestHistory struct {
	samples []BacktestSample
}

func (f *fakeBacktestHistory) SamplesForTopic(topicKey string, limit int) []BacktestSample {
	return f.samples
}

func TestBacktesterNode_DeratesConfidenceByHitRate(t *testing.T) {
	history := &fakeBacktestHistory{samples: []BacktestSample{{Correct: true}, {Correct: false}, {Correct: false}, {Correct: false}}}
	node := NewBacktesterNode(history, 20, zerolog.Nop())
	ideas := []PredictionIdea{{MarketID: "mkt-1", Confidence: 0.8}}

	out := node.Run(ideas)
	require.Len(t, out, 1)
	assert.Less(t, out[0].Confidence, 0.8)
}

func TestBacktesterNode_LeavesIdeaUnchangedWithoutHistory(t *testing.T) {
	node := NewBacktesterNode(&fakeBacktestHistory{}, 20, zerolog.Nop())
	ideas := []PredictionIdea{{MarketID: "mkt-1", Confidence: 0.8}}

	out := node.Run(ideas)
	require.Len(t, out, 1)
	assert.Equal(t, 0.8, out[0].Confidence)
}

func TestIdeaSelector_FiltersAndRanksByCompositeScore(t *testing.T) {
	selector := NewIdeaSelector(1, 0.05, 0.5)
	ideas := []PredictionIdea{
		{MarketID: "weak", Edge: 0.02, Confidence: 0.9},
		{MarketID: "strong", Edge: 0.3, Confidence: 0.9},
		{MarketID: "low-conf", Edge: 0.3, Confidence: 0.3},
	}
	selected := selector.Select(ideas)
	require.Len(t, selected, 1)
	assert.Equal(t, "strong", selected[0].MarketID)
}
