package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/news"
	"github.com/aristath/sentinel/internal/resilience"
)

// HTTPNewsSource implements both news.Searcher and news.Scraper against
// a pair of caller-configured JSON endpoints (spec §1: news-source
// discovery is out of scope for this system; only the orchestrator side
// is built here).
type HTTPNewsSource struct {
	cfg  config.NewsSourceConfig
	http *resilience.ResilientHTTPClient
	log  zerolog.Logger
}

// NewHTTPNewsSource builds a Searcher/Scraper over a resilient HTTP client.
func NewHTTPNewsSource(cfg config.NewsSourceConfig, httpClient *resilience.ResilientHTTPClient, log zerolog.Logger) *HTTPNewsSource {
	return &HTTPNewsSource{cfg: cfg, http: httpClient, log: log.With().Str("component", "news_source").Logger()}
}

type searchResponseItem struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Source string `json:"source"`
}

// Search implements news.Searcher.
func (s *HTTPNewsSource) Search(ctx context.Context, category string) ([]news.ArticleStub, error) {
	reqURL := fmt.Sprintf("%s/search?category=%s", s.cfg.SearchAPIBase, category)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("news search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("news search: unexpected status %d", resp.StatusCode)
	}

	var items []searchResponseItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("news search: decode: %w", err)
	}

	stubs := make([]news.ArticleStub, 0, len(items))
	for _, it := range items {
		stubs = append(stubs, news.ArticleStub{URL: it.URL, Title: it.Title, Source: it.Source})
	}
	return stubs, nil
}

type scrapeRequest struct {
	URLs []string `json:"urls"`
}

type scrapeResponseItem struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Snippet     string    `json:"snippet"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	Language    string    `json:"language"`
	Categories  []string  `json:"categories"`
	Tags        []string  `json:"tags"`
}

// Scrape implements news.Scraper.
func (s *HTTPNewsSource) Scrape(ctx context.Context, stubs []news.ArticleStub) ([]news.Article, error) {
	urls := make([]string, 0, len(stubs))
	for _, st := range stubs {
		urls = append(urls, st.URL)
	}
	payload, err := json.Marshal(scrapeRequest{URLs: urls})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.ScrapeAPIBase+"/scrape", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("news scrape: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("news scrape: unexpected status %d", resp.StatusCode)
	}

	var items []scrapeResponseItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("news scrape: decode: %w", err)
	}

	articles := make([]news.Article, 0, len(items))
	for _, it := range items {
		articles = append(articles, news.Article{
			ID: uuid.NewString(), URL: it.URL, Title: it.Title, Content: it.Content, Snippet: it.Snippet,
			Source: it.Source, PublishedAt: it.PublishedAt, Language: it.Language,
			Categories: it.Categories, Tags: it.Tags,
		})
	}
	return articles, nil
}
