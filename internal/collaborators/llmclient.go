package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/llm"
	"github.com/aristath/sentinel/internal/prediction"
	"github.com/aristath/sentinel/internal/resilience"
)

// HTTPLLMClient is a generic JSON-over-HTTP implementation of llm.Client,
// speaking the wire shape named in spec §6 ("JSON request with
// title/content and an enumerated schema; response is parsed leniently")
// against a caller-configured base URL. It takes no position on which
// provider answers these requests.
type HTTPLLMClient struct {
	cfg  config.LLMConfig
	http *resilience.ResilientHTTPClient
	log  zerolog.Logger
}

// NewHTTPLLMClient builds an llm.Client over a resilient HTTP client.
func NewHTTPLLMClient(cfg config.LLMConfig, httpClient *resilience.ResilientHTTPClient, log zerolog.Logger) *HTTPLLMClient {
	return &HTTPLLMClient{cfg: cfg, http: httpClient, log: log.With().Str("component", "llm_client").Logger()}
}

func (c *HTTPLLMClient) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBase+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("llm %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("llm %s: unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type extractRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type extractResponse struct {
	Entities []struct {
		Name       string  `json:"name"`
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
	} `json:"entities"`
	EventType     string `json:"event_type"`
	PrimaryEntity string `json:"primary_entity"`
}

// ExtractEntities implements llm.Client.
func (c *HTTPLLMClient) ExtractEntities(ctx context.Context, title, content string) (llm.ExtractionResult, error) {
	var resp extractResponse
	if err := c.postJSON(ctx, "/extract-entities", extractRequest{Title: title, Content: content}, &resp); err != nil {
		return llm.ExtractionResult{}, err
	}
	hits := make([]llm.EntityHit, 0, len(resp.Entities))
	for _, e := range resp.Entities {
		hits = append(hits, llm.EntityHit{
			Name:       e.Name,
			Type:       llm.NormalizeEntityType(strings.ToUpper(e.Type)),
			Confidence: e.Confidence,
		})
	}
	return llm.ExtractionResult{Entities: hits, EventType: resp.EventType, PrimaryEntity: resp.PrimaryEntity}, nil
}

type labelResponse struct {
	Topic          string   `json:"topic"`
	Keywords       []string `json:"keywords"`
	SubEventType   string   `json:"sub_event_type"`
	TrendDirection string   `json:"trend_direction"`
	Urgency        string   `json:"urgency"`
}

// LabelTopic implements llm.Client.
func (c *HTTPLLMClient) LabelTopic(ctx context.Context, title, content string) (llm.LabelResult, error) {
	var resp labelResponse
	if err := c.postJSON(ctx, "/label-topic", extractRequest{Title: title, Content: content}, &resp); err != nil {
		return llm.LabelResult{}, err
	}
	return llm.LabelResult{
		Topic: resp.Topic, Keywords: resp.Keywords, SubEventType: resp.SubEventType,
		TrendDirection: resp.TrendDirection, Urgency: resp.Urgency,
	}, nil
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Vector []float64 `json:"vector"`
}

// Embed implements llm.Client.
func (c *HTTPLLMClient) Embed(ctx context.Context, text string) ([]float64, error) {
	var resp embedResponse
	if err := c.postJSON(ctx, "/embed", embedRequest{Text: text}, &resp); err != nil {
		return nil, err
	}
	return resp.Vector, nil
}

type similarityRequest struct {
	A string `json:"a"`
	B string `json:"b"`
}

type similarityResponse struct {
	Score float64 `json:"score"`
}

// Similarity implements llm.Client.
func (c *HTTPLLMClient) Similarity(ctx context.Context, a, b string) (float64, error) {
	var resp similarityResponse
	if err := c.postJSON(ctx, "/similarity", similarityRequest{A: a, B: b}, &resp); err != nil {
		return 0, err
	}
	return resp.Score, nil
}

type theorizeRequest struct {
	MarketTitle     string   `json:"market_title"`
	LinkedTopics    []string `json:"linked_topics"`
	AggregateHeat   float64  `json:"aggregate_heat"`
	DominantTrend   string   `json:"dominant_trend"`
	LinkedNewsCount int      `json:"linked_news_count"`
}

type theorizeResponse struct {
	Outcome    string  `json:"outcome"`
	Edge       float64 `json:"edge"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Theorizer adapts HTTPLLMClient to prediction.Theorizer over the same
// endpoint family, reusing postJSON rather than a second HTTP client.
type Theorizer struct {
	*HTTPLLMClient
}

// NewTheorizer wraps an HTTPLLMClient as a prediction.Theorizer.
func NewTheorizer(client *HTTPLLMClient) *Theorizer {
	return &Theorizer{HTTPLLMClient: client}
}

// Theorize implements prediction.Theorizer.
func (t *Theorizer) Theorize(ctx context.Context, marketTitle string, newsContext prediction.MarketNewsContext) (prediction.ThesisResult, error) {
	topics := make([]string, 0, len(newsContext.LinkedClusters))
	for _, c := range newsContext.LinkedClusters {
		topics = append(topics, c.Topic)
	}

	req := theorizeRequest{
		MarketTitle:     marketTitle,
		LinkedTopics:    topics,
		AggregateHeat:   newsContext.AggregateHeat,
		DominantTrend:   string(newsContext.DominantTrend),
		LinkedNewsCount: newsContext.LinkedNewsCount,
	}

	var resp theorizeResponse
	if err := t.postJSON(ctx, "/theorize", req, &resp); err != nil {
		return prediction.ThesisResult{}, err
	}

	outcome := prediction.OutcomeYes
	if strings.EqualFold(resp.Outcome, "NO") {
		outcome = prediction.OutcomeNo
	}

	return prediction.ThesisResult{
		Outcome: outcome, Edge: resp.Edge, Confidence: resp.Confidence, Rationale: resp.Rationale,
	}, nil
}
