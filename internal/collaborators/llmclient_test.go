package collaborators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/news"
	"github.com/aristath/sentinel/internal/prediction"
)

func TestHTTPLLMClient_ExtractEntities_NormalizesTypes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"entities":[{"name":"Acme Corp","type":"COMPANY","confidence":0.9}],"event_type":"earnings","primary_entity":"Acme Corp"}`))
	}))
	defer srv.Close()

	client := NewHTTPLLMClient(config.LLMConfig{APIBase: srv.URL}, newTestHTTPClient("llm-extract"), zerolog.Nop())

	res, err := client.ExtractEntities(context.Background(), "title", "content")
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)
	assert.Equal(t, "ORGANIZATION", res.Entities[0].Type)
	assert.Equal(t, "Acme Corp", res.PrimaryEntity)
}

func TestHTTPLLMClient_LabelTopic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"topic":"rate hikes","keywords":["fed","rates"],"trend_direction":"UP","urgency":"LOW"}`))
	}))
	defer srv.Close()

	client := NewHTTPLLMClient(config.LLMConfig{APIBase: srv.URL}, newTestHTTPClient("llm-label"), zerolog.Nop())

	res, err := client.LabelTopic(context.Background(), "title", "content")
	require.NoError(t, err)
	assert.Equal(t, "rate hikes", res.Topic)
	assert.Equal(t, []string{"fed", "rates"}, res.Keywords)
}

func TestHTTPLLMClient_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"vector":[0.1,0.2,0.3]}`))
	}))
	defer srv.Close()

	client := NewHTTPLLMClient(config.LLMConfig{APIBase: srv.URL}, newTestHTTPClient("llm-embed"), zerolog.Nop())

	vec, err := client.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
}

func TestHTTPLLMClient_Similarity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"score":0.77}`))
	}))
	defer srv.Close()

	client := NewHTTPLLMClient(config.LLMConfig{APIBase: srv.URL}, newTestHTTPClient("llm-sim"), zerolog.Nop())

	score, err := client.Similarity(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 0.77, score)
}

func TestTheorizer_Theorize_MapsOutcomeAndFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"outcome":"NO","edge":-0.12,"confidence":0.7,"rationale":"demand cooling"}`))
	}))
	defer srv.Close()

	client := NewHTTPLLMClient(config.LLMConfig{APIBase: srv.URL}, newTestHTTPClient("llm-theorize"), zerolog.Nop())
	theorizer := NewTheorizer(client)

	res, err := theorizer.Theorize(context.Background(), "Will rates rise?", prediction.MarketNewsContext{
		LinkedClusters: []news.StoryCluster{{Topic: "rate hikes"}},
	})
	require.NoError(t, err)
	assert.Equal(t, prediction.OutcomeNo, res.Outcome)
	assert.Equal(t, -0.12, res.Edge)
	assert.Equal(t, 0.7, res.Confidence)
}
