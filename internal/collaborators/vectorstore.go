package collaborators

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/aristath/sentinel/internal/news"
)

// HTTPVectorStore is the optional C6 phase-2 vector-store collaborator:
// a generic JSON-over-HTTP embedding index. Unlike the rest of the HTTP
// collaborators (which run behind R1's named-breaker ResilientHTTPClient),
// this one is wrapped in a plain github.com/sony/gobreaker circuit
// breaker — it is a pure external call the cluster-assignment pipeline
// must degrade gracefully around (falling back to non-vector assignment)
// rather than a venue whose health is tracked alongside everything else
// in the R1 registry.
type HTTPVectorStore struct {
	apiBase string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewHTTPVectorStore builds a vector store client against apiBase.
func NewHTTPVectorStore(apiBase string, log zerolog.Logger) *HTTPVectorStore {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "vector-store",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &HTTPVectorStore{
		apiBase: apiBase,
		http:    &http.Client{Timeout: 5 * time.Second},
		cb:      cb,
		log:     log.With().Str("component", "vector_store").Logger(),
	}
}

type upsertRequest struct {
	ArticleID string    `json:"article_id"`
	Embedding []float64 `json:"embedding"`
	ClusterID string    `json:"cluster_id"`
}

// Upsert implements news.VectorStore.
func (v *HTTPVectorStore) Upsert(articleID string, embedding []float64, clusterID string) error {
	_, err := v.cb.Execute(func() (interface{}, error) {
		body, err := json.Marshal(upsertRequest{ArticleID: articleID, Embedding: embedding, ClusterID: clusterID})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequest(http.MethodPost, v.apiBase+"/vectors", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := v.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("vector store upsert: status %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}

type queryRequest struct {
	Embedding        []float64 `json:"embedding"`
	K                int       `json:"k"`
	Category         string    `json:"category,omitempty"`
	FilterByCategory bool      `json:"filter_by_category"`
}

// QueryTopK implements news.VectorStore.
func (v *HTTPVectorStore) QueryTopK(embedding []float64, k int, category string, filterByCategory bool) ([]news.VectorMatch, error) {
	result, err := v.cb.Execute(func() (interface{}, error) {
		body, err := json.Marshal(queryRequest{Embedding: embedding, K: k, Category: category, FilterByCategory: filterByCategory})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequest(http.MethodPost, v.apiBase+"/vectors/query", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := v.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("vector store query: status %d", resp.StatusCode)
		}
		var matches []news.VectorMatch
		if err := json.NewDecoder(resp.Body).Decode(&matches); err != nil {
			return nil, err
		}
		return matches, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			v.log.Debug().Msg("vector store breaker open, falling back to non-vector assignment")
		}
		return nil, err
	}
	return result.([]news.VectorMatch), nil
}
