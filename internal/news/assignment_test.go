package news

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVectorStore struct {
	matches []VectorMatch
	err     error
}

func (f *fakeVectorStore) Upsert(articleID string, embedding []float64, clusterID string) error {
	return nil
}
func (f *fakeVectorStore) QueryTopK(embedding []float64, k int, category string, filterByCategory bool) ([]VectorMatch, error) {
	return f.matches, f.err
}

// TestAssignment_VectorVoteWinsOverTopicKeyMismatch is the scenario from
// spec §8 end-to-end scenario 1: no topic-key match, but vector-similar
// articles vote 5:3 for clusterA (same category), so the article joins
// clusterA without minting a new cluster.
func TestAssignment_VectorVoteWinsOverTopicKeyMismatch(t *testing.T) {
	store := NewInMemoryStore()
	clusterA, _, err := store.FindOrCreateByTopicKey(StoryCluster{ID: "clusterA", TopicKey: "existing-a", Category: "STOCKS", UpdatedAt: time.Now()})
	require.NoError(t, err)
	_, _, err = store.FindOrCreateByTopicKey(StoryCluster{ID: "clusterB", TopicKey: "existing-b", Category: "STOCKS", UpdatedAt: time.Now()})
	require.NoError(t, err)

	votes := []VectorMatch{}
	for i := 0; i < 5; i++ {
		votes = append(votes, VectorMatch{ClusterID: clusterA.ID, Distance: 0.2})
	}
	for i := 0; i < 3; i++ {
		votes = append(votes, VectorMatch{ClusterID: "clusterB", Distance: 0.3})
	}
	vectors := &fakeVectorStore{matches: votes}

	engine := NewClusterAssignmentEngine(store, vectors, nil, nil, AssignmentConfig{}, zerolog.Nop())
	ac := ArticleContext{
		Article:   Article{ID: "art1", Title: "Some new headline", Categories: []string{"STOCKS"}},
		Label:     AILabel{TopicKey: "foo", Topic: "Some new headline"},
		Embedding: []float64{0.1, 0.2},
	}

	results := engine.AssignBatch(context.Background(), []ArticleContext{ac})
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "clusterA", results[0].ClusterID)
	assert.False(t, results[0].Created)
	assert.Equal(t, "vector_vote", results[0].Tier)

	links := store.LinksForCluster("clusterA")
	assert.Len(t, links, 1)
	assert.Equal(t, "art1", links[0].ArticleID)
}

func TestAssignment_TopicKeyMatchAdoptsExistingCluster(t *testing.T) {
	store := NewInMemoryStore()
	_, _, err := store.FindOrCreateByTopicKey(StoryCluster{ID: "c1", TopicKey: "fed_raises_rates", Category: "MACRO", UpdatedAt: time.Now()})
	require.NoError(t, err)

	engine := NewClusterAssignmentEngine(store, nil, nil, nil, AssignmentConfig{}, zerolog.Nop())
	ac := ArticleContext{
		Article: Article{ID: "art1", Title: "Fed raises rates again", Categories: []string{"MACRO"}},
		Label:   AILabel{TopicKey: "fed_raises_rates", Topic: "Fed raises rates"},
	}

	results := engine.AssignBatch(context.Background(), []ArticleContext{ac})
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ClusterID)
	assert.Equal(t, "topic_key", results[0].Tier)
}

func TestAssignment_CreatesNewClusterWhenAllTiersFail(t *testing.T) {
	store := NewInMemoryStore()
	engine := NewClusterAssignmentEngine(store, nil, nil, nil, AssignmentConfig{}, zerolog.Nop())

	ac := ArticleContext{
		Article: Article{ID: "art1", Title: "Totally novel story", Categories: []string{"TECH"}},
		Label:   AILabel{TopicKey: "totally_novel_story", Topic: "Totally novel story", Urgency: UrgencyHigh},
	}

	results := engine.AssignBatch(context.Background(), []ArticleContext{ac})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.True(t, results[0].Created)
	assert.Equal(t, "create", results[0].Tier)

	cluster, ok := store.GetByID(results[0].ClusterID)
	require.True(t, ok)
	assert.Equal(t, 1, cluster.ArticleCount)
	assert.Equal(t, 1, cluster.UniqueTitleCount)
	assert.Greater(t, cluster.HeatScore, 0.0)
}

func TestAssignment_KeywordJaccardFallback(t *testing.T) {
	store := NewInMemoryStore()
	_, _, err := store.FindOrCreateByTopicKey(StoryCluster{
		ID: "c1", TopicKey: "different-key", Category: "CRYPTO",
		Topic: "Ethereum upgrade rolls out", Keywords: []string{"ethereum", "upgrade", "merge"},
		UpdatedAt: time.Now(),
	})
	require.NoError(t, err)

	engine := NewClusterAssignmentEngine(store, nil, nil, nil, AssignmentConfig{KeywordJaccardThreshold: 0.3}, zerolog.Nop())
	ac := ArticleContext{
		Article: Article{ID: "art2", Title: "Ethereum upgrade details revealed", Categories: []string{"CRYPTO"}, Tags: []string{"ethereum", "upgrade"}},
		Label:   AILabel{TopicKey: "no-match-key", Topic: "Ethereum upgrade details revealed"},
	}

	results := engine.AssignBatch(context.Background(), []ArticleContext{ac})
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ClusterID)
	assert.Equal(t, "keyword_jaccard", results[0].Tier)
}

func TestCountUniqueFingerprints(t *testing.T) {
	links := []ClusterArticleLink{
		{TitleFingerprint: "a"},
		{TitleFingerprint: "a"},
		{TitleFingerprint: "b"},
	}
	assert.Equal(t, 2, countUniqueFingerprints(links))
}
