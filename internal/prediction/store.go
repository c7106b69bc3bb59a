package prediction

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// InMemoryTradeStore is a reference TradePersister implementation backed
// by a mutex-guarded slice. Production deployments back this interface
// with a real database; this implementation is what the execution engine
// is wired against absent one.
type InMemoryTradeStore struct {
	mu     sync.Mutex
	trades []Trade
}

// NewInMemoryTradeStore builds an empty store.
func NewInMemoryTradeStore() *InMemoryTradeStore {
	return &InMemoryTradeStore{}
}

// Create implements TradePersister.
func (s *InMemoryTradeStore) Create(t Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, t)
	return nil
}

// All returns a snapshot copy of every recorded trade.
func (s *InMemoryTradeStore) All() []Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Trade, len(s.trades))
	copy(out, s.trades)
	return out
}

// InMemoryBacktestHistory is a reference BacktestHistory implementation.
// It accumulates samples keyed by topic as trades settle, so the
// backtester node has a growing track record to derate confidence
// against even with no external backtest store wired in.
type InMemoryBacktestHistory struct {
	mu      sync.Mutex
	samples map[string][]BacktestSample
}

// NewInMemoryBacktestHistory builds an empty history.
func NewInMemoryBacktestHistory() *InMemoryBacktestHistory {
	return &InMemoryBacktestHistory{samples: make(map[string][]BacktestSample)}
}

// Record appends a settled sample for a topic key.
func (h *InMemoryBacktestHistory) Record(topicKey string, sample BacktestSample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples[topicKey] = append(h.samples[topicKey], sample)
}

// SamplesForTopic implements BacktestHistory.
func (h *InMemoryBacktestHistory) SamplesForTopic(topicKey string, limit int) []BacktestSample {
	h.mu.Lock()
	defer h.mu.Unlock()
	all := h.samples[topicKey]
	if limit <= 0 || limit >= len(all) {
		out := make([]BacktestSample, len(all))
		copy(out, all)
		return out
	}
	start := len(all) - limit
	out := make([]BacktestSample, limit)
	copy(out, all[start:])
	return out
}

// NoOpLearner satisfies Learner for deployments with no model-update
// loop wired in; it only logs what it would have learned from.
type NoOpLearner struct {
	log zerolog.Logger
}

// NewNoOpLearner builds a Learner that records nothing.
func NewNoOpLearner(log zerolog.Logger) *NoOpLearner {
	return &NoOpLearner{log: log.With().Str("component", "learner").Logger()}
}

// Learn implements Learner.
func (l *NoOpLearner) Learn(ctx context.Context, idea PredictionIdea, trade Trade) error {
	l.log.Debug().Str("market_id", idea.MarketID).Str("trade_id", trade.ID).Msg("idea outcome recorded, no model update wired")
	return nil
}
