package collaborators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/prediction"
	"github.com/aristath/sentinel/internal/resilience"
)

func newTestHTTPClient(name string) *resilience.ResilientHTTPClient {
	registry := resilience.NewRegistry(resilience.RegistryConfig{FailureThreshold: 10, ResetAfter: time.Second}, zerolog.Nop())
	limiter := resilience.NewDualBucketRateLimiter(
		resilience.NewTokenBucket(100, 100, time.Second),
		resilience.NewTokenBucket(100, 100, time.Second),
	)
	return resilience.NewResilientHTTPClient(resilience.ResilientHTTPClientConfig{
		Name: name, Class: resilience.ClassInfo, MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond,
	}, registry, limiter, zerolog.Nop())
}

func TestPolymarketClient_ListOpenMarkets_FiltersClosedAndInactive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"condition_id":"m1","question":"Will X happen?","yes_price":0.6,"no_price":0.4,"volume":5000,"end_date_iso":"2026-12-01T00:00:00Z","active":true,"closed":false},
			{"condition_id":"m2","question":"Will Y happen?","active":false,"closed":false},
			{"condition_id":"m3","question":"Will Z happen?","active":true,"closed":true}
		]`))
	}))
	defer srv.Close()

	client := NewPolymarketClient(config.PolymarketConfig{APIBase: srv.URL}, newTestHTTPClient("polymarket-gamma"), zerolog.Nop())

	markets, err := client.ListOpenMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "m1", markets[0].MarketID)
	assert.Equal(t, 0.6, markets[0].LastYesPrice)
}

func TestPolymarketClient_FetchPositions_MapsOutcomes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"market":"m1","asset":"YES","size":10},{"market":"m1","asset":"NO","size":5}]`))
	}))
	defer srv.Close()

	client := NewPolymarketClient(config.PolymarketConfig{CLOBBase: srv.URL}, newTestHTTPClient("polymarket-clob"), zerolog.Nop())

	positions, err := client.FetchPositions()
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, prediction.OutcomeYes, positions[0].Outcome)
	assert.Equal(t, prediction.OutcomeNo, positions[1].Outcome)
}

func TestPolymarketClient_ListOpenMarkets_PropagatesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewPolymarketClient(config.PolymarketConfig{APIBase: srv.URL}, newTestHTTPClient("polymarket-gamma-err"), zerolog.Nop())

	_, err := client.ListOpenMarkets(context.Background())
	assert.Error(t, err)
}
