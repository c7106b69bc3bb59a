// Package collaborators implements the concrete external-boundary
// clients named in spec §6: the prediction-market venue's HTTP/JSON
// endpoints and a generic JSON-over-HTTP LLM/news-source client. Spec
// §1 takes no opinion on which LLM or news-search vendor sits behind
// these — only the wire shape is fixed, so every client here speaks a
// plain JSON contract against a caller-configured base URL rather than
// a vendor SDK.
package collaborators

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/prediction"
	"github.com/aristath/sentinel/internal/resilience"
)

// PolymarketClient is the prediction-market venue collaborator: it lists
// open markets for P1's MarketDataNode and reports live venue positions
// for P4's PositionReconciler. Grounded on the teacher's tradernet HTTP
// client shape (a thin typed wrapper around ResilientHTTPClient), not on
// tradernet's actual wire format since this venue is a different API.
type PolymarketClient struct {
	cfg  config.PolymarketConfig
	http *resilience.ResilientHTTPClient
	log  zerolog.Logger
}

// NewPolymarketClient builds a venue client wrapping a resilient HTTP
// client already configured with a circuit breaker and rate limiter.
func NewPolymarketClient(cfg config.PolymarketConfig, httpClient *resilience.ResilientHTTPClient, log zerolog.Logger) *PolymarketClient {
	return &PolymarketClient{cfg: cfg, http: httpClient, log: log.With().Str("component", "polymarket_client").Logger()}
}

type gammaMarket struct {
	ConditionID string  `json:"condition_id"`
	Question    string  `json:"question"`
	YesPrice    float64 `json:"yes_price"`
	NoPrice     float64 `json:"no_price"`
	Volume      float64 `json:"volume"`
	EndDateISO  string  `json:"end_date_iso"`
	Active      bool    `json:"active"`
	Closed      bool    `json:"closed"`
}

// ListOpenMarkets implements prediction.MarketDataSource.
func (c *PolymarketClient) ListOpenMarkets(ctx context.Context) ([]prediction.PredictionMarket, error) {
	reqURL := fmt.Sprintf("%s/markets?active=true&closed=false", c.cfg.APIBase)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("polymarket list markets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("polymarket list markets: unexpected status %d", resp.StatusCode)
	}

	var raw []gammaMarket
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("polymarket list markets: decode: %w", err)
	}

	markets := make([]prediction.PredictionMarket, 0, len(raw))
	for _, m := range raw {
		if !m.Active || m.Closed {
			continue
		}
		openUntil, _ := time.Parse(time.RFC3339, m.EndDateISO)
		markets = append(markets, prediction.PredictionMarket{
			MarketID:     m.ConditionID,
			Title:        m.Question,
			Outcomes:     []prediction.Outcome{prediction.OutcomeYes, prediction.OutcomeNo},
			LastYesPrice: m.YesPrice,
			LastNoPrice:  m.NoPrice,
			Volume:       m.Volume,
			OpenUntil:    openUntil,
		})
	}
	return markets, nil
}

type clobPosition struct {
	Market string  `json:"market"`
	Asset  string  `json:"asset"`
	Size   float64 `json:"size"`
}

// FetchPositions implements prediction.VenuePositionFetcher.
func (c *PolymarketClient) FetchPositions() ([]prediction.VenuePosition, error) {
	ctx := context.Background()
	reqURL := c.cfg.CLOBBase + "/positions"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("polymarket fetch positions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("polymarket fetch positions: unexpected status %d", resp.StatusCode)
	}

	var raw []clobPosition
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("polymarket fetch positions: decode: %w", err)
	}

	positions := make([]prediction.VenuePosition, 0, len(raw))
	for _, p := range raw {
		outcome := prediction.OutcomeYes
		if p.Asset == "NO" {
			outcome = prediction.OutcomeNo
		}
		positions = append(positions, prediction.VenuePosition{
			MarketID: p.Market,
			Outcome:  outcome,
			Shares:   p.Size,
		})
	}
	return positions, nil
}
