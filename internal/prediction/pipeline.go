package prediction

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/news"
)

// MarketDataSource is the venue collaborator P1's MarketDataNode polls.
// The real feed (spec's DOMAIN STACK names a websocket quote stream) is
// out of scope; this fixes the shape callers program against.
type MarketDataSource interface {
	ListOpenMarkets(ctx context.Context) ([]PredictionMarket, error)
}

// MarketDataNode is the pipeline's first stage: fetch venue markets and
// drop ones too thin or too close to expiry to theorize about.
type MarketDataNode struct {
	source          MarketDataSource
	minVolume       float64
	maxAgeDays      int
	minOpenDuration time.Duration
	log             zerolog.Logger
}

// NewMarketDataNode builds a MarketDataNode. minOpenDuration guards
// against markets closing before a trade could settle.
func NewMarketDataNode(source MarketDataSource, minVolume float64, maxAgeDays int, minOpenDuration time.Duration, log zerolog.Logger) *MarketDataNode {
	if minOpenDuration <= 0 {
		minOpenDuration = time.Hour
	}
	return &MarketDataNode{source: source, minVolume: minVolume, maxAgeDays: maxAgeDays, minOpenDuration: minOpenDuration, log: log.With().Str("component", "market_data_node").Logger()}
}

// Run fetches candidate markets and filters by volume and remaining
// open window.
func (n *MarketDataNode) Run(ctx context.Context, now time.Time) ([]PredictionMarket, error) {
	markets, err := n.source.ListOpenMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("market data fetch: %w", err)
	}

	out := make([]PredictionMarket, 0, len(markets))
	for _, m := range markets {
		if m.Volume < n.minVolume {
			continue
		}
		if m.OpenUntil.Before(now.Add(n.minOpenDuration)) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// MarketNewsContext is the clustered-news evidence NewsContextNode
// attaches to a candidate market.
type MarketNewsContext struct {
	Market            PredictionMarket
	LinkedClusters    []news.StoryCluster
	AggregateHeat     float64
	DominantTrend     news.TrendDirection
	LinkedNewsCount   int
}

// NewsContextNode links each candidate market to the clustered news the
// ingestion pipeline (C1-C10) has already produced, giving the
// theorizer grounded evidence instead of asking the LLM to reason from
// the market title alone.
type NewsContextNode struct {
	store    news.StoryClusterStore
	category string
	window   time.Duration
	limit    int
	log      zerolog.Logger
}

// NewNewsContextNode builds a NewsContextNode reading from the same
// StoryClusterStore the news ingestion pipeline writes to.
func NewNewsContextNode(store news.StoryClusterStore, category string, window time.Duration, limit int, log zerolog.Logger) *NewsContextNode {
	if window <= 0 {
		window = 48 * time.Hour
	}
	if limit <= 0 {
		limit = 25
	}
	return &NewsContextNode{store: store, category: category, window: window, limit: limit, log: log.With().Str("component", "news_context_node").Logger()}
}

// Run attaches news context to every candidate market by title-keyword
// overlap against recently active clusters.
func (n *NewsContextNode) Run(markets []PredictionMarket) []MarketNewsContext {
	clusters := n.store.TopActiveInCategory(n.category, n.window, n.limit)

	out := make([]MarketNewsContext, 0, len(markets))
	for _, m := range markets {
		ctx := MarketNewsContext{Market: m}
		marketWords := longWordSet(m.Title)

		for _, c := range clusters {
			shared := 0
			for _, kw := range c.Keywords {
				if marketWords[kw] {
					shared++
				}
			}
			for w := range longWordSet(c.Topic) {
				if marketWords[w] {
					shared++
				}
			}
			if shared == 0 {
				continue
			}
			ctx.LinkedClusters = append(ctx.LinkedClusters, c)
			ctx.AggregateHeat += c.HeatScore
			ctx.LinkedNewsCount += c.ArticleCount
		}

		if len(ctx.LinkedClusters) > 0 {
			ctx.DominantTrend = dominantTrend(ctx.LinkedClusters)
		}
		out = append(out, ctx)
	}
	return out
}

func dominantTrend(clusters []news.StoryCluster) news.TrendDirection {
	counts := make(map[news.TrendDirection]int)
	for _, c := range clusters {
		counts[c.TrendDirection]++
	}
	best, bestCount := news.TrendNeutral, -1
	for trend, count := range counts {
		if count > bestCount {
			best, bestCount = trend, count
		}
	}
	return best
}

// Theorizer is the LLM collaborator TheorizerNode calls to turn a
// market+news context into a directional thesis. Kept separate from
// llm.Client (which is news-pipeline-shaped) since theorizing returns a
// trade thesis, not an entity/topic label.
type Theorizer interface {
	Theorize(ctx context.Context, marketTitle string, newsContext MarketNewsContext) (ThesisResult, error)
}

// ThesisResult is the LLM's permissively-parsed directional call.
type ThesisResult struct {
	Outcome    Outcome
	Edge       float64 // signed estimate of (true probability - market price)
	Confidence float64 // [0,1]
	Rationale  string
}

// TheorizerNode turns each market+news context pair into a draft idea.
// A context with no linked news is skipped — the agent only trades on
// markets it has evidence about.
type TheorizerNode struct {
	theorizer Theorizer
	log       zerolog.Logger
}

// NewTheorizerNode builds a TheorizerNode.
func NewTheorizerNode(theorizer Theorizer, log zerolog.Logger) *TheorizerNode {
	return &TheorizerNode{theorizer: theorizer, log: log.With().Str("component", "theorizer_node").Logger()}
}

// Run produces one draft PredictionIdea per context with linked news and
// a usable thesis.
func (n *TheorizerNode) Run(ctx context.Context, contexts []MarketNewsContext) []PredictionIdea {
	var ideas []PredictionIdea
	for _, mc := range contexts {
		if mc.LinkedNewsCount == 0 {
			continue
		}
		thesis, err := n.theorizer.Theorize(ctx, mc.Market.Title, mc)
		if err != nil {
			n.log.Warn().Err(err).Str("market_id", mc.Market.MarketID).Msg("theorize call failed, skipping market")
			continue
		}
		if thesis.Confidence <= 0 || thesis.Outcome == "" {
			continue
		}
		ideas = append(ideas, PredictionIdea{
			ID:                 mc.Market.MarketID + ":" + string(thesis.Outcome),
			MarketID:           mc.Market.MarketID,
			MarketTitle:        mc.Market.Title,
			Outcome:            thesis.Outcome,
			Edge:               thesis.Edge,
			Confidence:         thesis.Confidence,
			Rationale:          thesis.Rationale,
			HeatScore:          mc.AggregateHeat,
			LinkedNewsCount:    mc.LinkedNewsCount,
			LinkedClusterCount: len(mc.LinkedClusters),
			TimeHorizon:        mc.Market.OpenUntil.Sub(time.Now()),
		})
	}
	return ideas
}

// BacktestSample is one historical (predicted edge, realized outcome)
// observation the BacktesterNode scores an idea's track record against.
type BacktestSample struct {
	PredictedEdge float64
	Correct       bool
}

// BacktestHistory supplies prior theorizing track record. BacktesterNode
// looks samples up by the idea's market ID.
type BacktestHistory interface {
	SamplesForTopic(topicKey string, limit int) []BacktestSample
}

// BacktesterNode derates an idea's confidence by its historical hit
// rate on similar theses, so a topic the theorizer has been wrong about
// before doesn't carry full confidence forward.
type BacktesterNode struct {
	history      BacktestHistory
	sampleWindow int
	log          zerolog.Logger
}

// NewBacktesterNode builds a BacktesterNode.
func NewBacktesterNode(history BacktestHistory, sampleWindow int, log zerolog.Logger) *BacktesterNode {
	if sampleWindow <= 0 {
		sampleWindow = 20
	}
	return &BacktesterNode{history: history, sampleWindow: sampleWindow, log: log.With().Str("component", "backtester_node").Logger()}
}

// Run adjusts each idea's confidence by the historical hit rate recorded
// under its market ID. Ideas with no history are passed through unchanged — there's
// nothing to derate against yet.
func (n *BacktesterNode) Run(ideas []PredictionIdea) []PredictionIdea {
	out := make([]PredictionIdea, len(ideas))
	for i, idea := range ideas {
		out[i] = idea
		if n.history == nil {
			continue
		}
		samples := n.history.SamplesForTopic(idea.MarketID, n.sampleWindow)
		if len(samples) == 0 {
			continue
		}
		hitRate := hitRateOf(samples)
		out[i].Confidence = out[i].Confidence * (0.5 + 0.5*hitRate)
	}
	return out
}

func hitRateOf(samples []BacktestSample) float64 {
	if len(samples) == 0 {
		return 1
	}
	correct := 0
	for _, s := range samples {
		if s.Correct {
			correct++
		}
	}
	return float64(correct) / float64(len(samples))
}

// IdeaSelector picks the top-N ideas by a composite score once
// theorizing and backtesting have both run.
type IdeaSelector struct {
	maxIdeas         int
	minEdge          float64
	minConfidence    float64
}

// NewIdeaSelector builds an IdeaSelector.
func NewIdeaSelector(maxIdeas int, minEdge, minConfidence float64) *IdeaSelector {
	if maxIdeas <= 0 {
		maxIdeas = 3
	}
	return &IdeaSelector{maxIdeas: maxIdeas, minEdge: minEdge, minConfidence: minConfidence}
}

// Select filters ideas below the edge/confidence floor, ranks the rest
// by |edge|·confidence descending, and returns at most maxIdeas.
func (s *IdeaSelector) Select(ideas []PredictionIdea) []PredictionIdea {
	var candidates []PredictionIdea
	for _, idea := range ideas {
		if math.Abs(idea.Edge) < s.minEdge || idea.Confidence < s.minConfidence {
			continue
		}
		candidates = append(candidates, idea)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return math.Abs(candidates[i].Edge)*candidates[i].Confidence > math.Abs(candidates[j].Edge)*candidates[j].Confidence
	})

	if len(candidates) > s.maxIdeas {
		candidates = candidates[:s.maxIdeas]
	}
	return candidates
}
