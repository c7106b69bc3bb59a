package news

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	mergeThreshold       = 0.80
	topActiveClustersCap = 50
)

// mergeWeights are the EnhancedSimilarity factor weights (spec §4.C7).
var mergeWeights = struct {
	topicKey     float64
	topicJaccard float64
	keyword      float64
	subEventType float64
}{topicKey: 0.50, topicJaccard: 0.25, keyword: 0.15, subEventType: 0.10}

// MergeResult records one completed merge.
type MergeResult struct {
	Target StoryCluster
	Source StoryCluster
	Score  float64
}

// ClusterMerger is C7: a similarity-driven merge loop over the most
// active clusters per category, with hierarchy recording.
type ClusterMerger struct {
	store       StoryClusterStore
	mergeWindow time.Duration
	log         zerolog.Logger
}

// NewClusterMerger builds a merger. mergeWindow bounds how far back
// "active" clusters are considered; zero means no time bound.
func NewClusterMerger(store StoryClusterStore, mergeWindow time.Duration, log zerolog.Logger) *ClusterMerger {
	return &ClusterMerger{store: store, mergeWindow: mergeWindow, log: log.With().Str("component", "cluster_merger").Logger()}
}

// MergeCategory runs the pairwise merge sweep for one category and
// returns every merge performed.
func (m *ClusterMerger) MergeCategory(category string) []MergeResult {
	active := m.store.TopActiveInCategory(category, m.mergeWindow, topActiveClustersCap)
	merged := map[string]bool{}
	var results []MergeResult

	for i := 0; i < len(active); i++ {
		if merged[active[i].ID] {
			continue
		}
		for j := i + 1; j < len(active); j++ {
			if merged[active[j].ID] || merged[active[i].ID] {
				continue
			}
			score := EnhancedSimilarity(active[i], active[j])
			if score < mergeThreshold {
				continue
			}

			target, source := active[i], active[j]
			if source.HeatScore > target.HeatScore {
				target, source = source, target
			}

			if err := m.merge(target, source); err != nil {
				m.log.Error().Err(err).Str("target", target.ID).Str("source", source.ID).Msg("merge failed")
				continue
			}
			merged[source.ID] = true
			results = append(results, MergeResult{Target: target, Source: source, Score: score})

			if target.ID == active[i].ID {
				active[i] = target
			}
		}
	}
	return results
}

func (m *ClusterMerger) merge(target, source StoryCluster) error {
	moved, err := m.store.MoveLinks(source.ID, target.ID)
	if err != nil {
		return err
	}

	target.ArticleCount += source.ArticleCount
	target.UniqueTitleCount = countUniqueFingerprints(m.store.LinksForCluster(target.ID))
	target.UpdatedAt = time.Now()
	if err := m.store.Update(target); err != nil {
		return err
	}

	if err := m.store.Delete(source.ID); err != nil {
		return err
	}

	m.log.Info().Str("target", target.ID).Str("source", source.ID).Int("moved_links", moved).Msg("clusters merged")

	return m.store.AddCrossRef(CrossRef{ClusterA: target.ID, ClusterB: source.ID, Relation: RelationMergedInto, Score: 1.0})
}

// EnhancedSimilarity is the weighted merge-candidacy score from spec
// §4.C7, normalized by the total weight actually used (sub-event-type
// equality only contributes when both clusters have one set).
func EnhancedSimilarity(a, b StoryCluster) float64 {
	var total, usedWeight float64

	if a.TopicKey != "" && b.TopicKey != "" {
		usedWeight += mergeWeights.topicKey
		if a.TopicKey == b.TopicKey {
			total += mergeWeights.topicKey
		}
	}

	usedWeight += mergeWeights.topicJaccard
	total += mergeWeights.topicJaccard * jaccardLongWords(a.Topic, b.Topic)

	usedWeight += mergeWeights.keyword
	total += mergeWeights.keyword * jaccardStrings(a.Keywords, b.Keywords)

	if a.SubEventType != "" && b.SubEventType != "" {
		usedWeight += mergeWeights.subEventType
		if strings.EqualFold(a.SubEventType, b.SubEventType) {
			total += mergeWeights.subEventType
		}
	}

	if usedWeight == 0 {
		return 0
	}
	return clip01(total / usedWeight)
}

func jaccardLongWords(a, b string) float64 {
	return jaccardStrings(longWords(a), longWords(b))
}
