package collaborators

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	wsDialTimeout        = 30 * time.Second
	wsWriteWait          = 10 * time.Second
	wsBaseReconnectDelay = 5 * time.Second
	wsMaxReconnectDelay  = 5 * time.Minute
)

// PriceUpdater receives live quote updates for open markets. Satisfied by
// *prediction.PredictionExecutionEngine.
type PriceUpdater interface {
	UpdateMarketPrice(marketID string, price float64)
}

// wsQuote is one element of the CLOB's "price_change" channel payload.
type wsQuote struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
}

// PolymarketQuoteStream keeps a live price feed from the CLOB's websocket
// market channel flowing into P3's execution engine, so open-position
// mark-to-market and stop-loss checks see current prices between
// prediction cycles rather than only the last value seen at order time.
// Grounded on the teacher's internal/clients/tradernet/websocket_client.go
// (same dial/read/reconnect shape, applied to Polymarket's quote channel
// instead of Tradernet's market-status channel).
type PolymarketQuoteStream struct {
	url string
	log zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	stopped  bool
	stopChan chan struct{}
}

// NewPolymarketQuoteStream builds a stream against the CLOB websocket
// endpoint (wss://ws-subscriptions-clob.polymarket.com/ws/market or
// caller-supplied equivalent).
func NewPolymarketQuoteStream(url string, log zerolog.Logger) *PolymarketQuoteStream {
	return &PolymarketQuoteStream{
		url:      url,
		log:      log.With().Str("component", "polymarket_quote_stream").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Run connects, subscribes to the given asset IDs, and feeds every price
// update to updater until ctx is cancelled or Stop is called. It
// reconnects with exponential backoff on any read/dial error.
func (s *PolymarketQuoteStream) Run(ctx context.Context, assetIDs []string, updater PriceUpdater) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.connectAndRead(ctx, assetIDs, updater); err != nil {
			s.log.Warn().Err(err).Int("attempt", attempt+1).Msg("quote stream disconnected")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.backoff(attempt)):
			attempt++
		}
	}
}

// Stop signals a graceful shutdown of any in-progress connection.
func (s *PolymarketQuoteStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopChan)
}

func (s *PolymarketQuoteStream) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(wsBaseReconnectDelay) * math.Pow(2, float64(attempt)))
	if delay > wsMaxReconnectDelay {
		delay = wsMaxReconnectDelay
	}
	return delay
}

func (s *PolymarketQuoteStream) connectAndRead(ctx context.Context, assetIDs []string, updater PriceUpdater) error {
	dialCtx, cancel := context.WithTimeout(ctx, wsDialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial quote stream: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	sub := map[string]interface{}{"type": "market", "assets_ids": assetIDs}
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal subscription: %w", err)
	}
	writeCtx, writeCancel := context.WithTimeout(ctx, wsWriteWait)
	defer writeCancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write subscription: %w", err)
	}

	for {
		msgType, message, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read quote: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}

		var quotes []wsQuote
		if err := json.Unmarshal(message, &quotes); err != nil {
			s.log.Debug().Err(err).Msg("ignoring unparseable quote message")
			continue
		}
		for _, q := range quotes {
			var price float64
			if _, err := fmt.Sscanf(q.Price, "%f", &price); err != nil || q.AssetID == "" {
				continue
			}
			updater.UpdateMarketPrice(q.AssetID, price)
		}
	}
}
