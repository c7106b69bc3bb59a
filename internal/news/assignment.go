package news

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AssignmentConfig tunes the C6 cluster-assignment tiers. Defaults mirror
// the ranges named in spec §4.C6.
type AssignmentConfig struct {
	EnhancedMode          bool
	VectorDistanceThreshold float64 // default 0.65-0.70
	FilterByCategory      bool
	VectorTopK            int     // default 8
	SemanticCandidateCap  int     // default 100
	SemanticThreshold     float64 // default 0.65
	MergeWindow           time.Duration
	KeywordJaccardThreshold float64 // default 0.55
	BatchSize             int     // default 20
}

func defaultAssignmentConfig() AssignmentConfig {
	return AssignmentConfig{
		EnhancedMode:            true,
		VectorDistanceThreshold: 0.65,
		FilterByCategory:        true,
		VectorTopK:              8,
		SemanticCandidateCap:    100,
		SemanticThreshold:       0.65,
		MergeWindow:             72 * time.Hour,
		KeywordJaccardThreshold: 0.55,
		BatchSize:               20,
	}
}

// ArticleContext bundles everything the assignment engine needs about one
// article: the article itself, its validated label, extracted entities,
// and (if available) its embedding.
type ArticleContext struct {
	Article   Article
	Label     AILabel
	Entities  []ExtractedEntity
	Embedding []float64
}

// AssignmentResult is the per-article outcome of cluster assignment.
type AssignmentResult struct {
	ArticleID string
	ClusterID string
	Created   bool
	Tier      string
	Err       error
}

// ClusterAssignmentEngine is C6, the algorithmic centerpiece: maps each
// article in a batch to a cluster (or creates one) via topic-key match,
// vector vote, semantic fallback, and keyword Jaccard, in that order.
type ClusterAssignmentEngine struct {
	store      StoryClusterStore
	vectors    VectorStore // may be nil
	similarity *SemanticSimilarityService
	entities   EntityRepo // may be nil
	cfg        AssignmentConfig
	log        zerolog.Logger
}

// NewClusterAssignmentEngine builds the engine. vectors and entities may
// be nil to run the degraded (no vector store / no entity graph) path.
func NewClusterAssignmentEngine(store StoryClusterStore, vectors VectorStore, similarity *SemanticSimilarityService, entities EntityRepo, cfg AssignmentConfig, log zerolog.Logger) *ClusterAssignmentEngine {
	d := defaultAssignmentConfig()
	if cfg.VectorDistanceThreshold == 0 {
		cfg.VectorDistanceThreshold = d.VectorDistanceThreshold
	}
	if cfg.VectorTopK == 0 {
		cfg.VectorTopK = d.VectorTopK
	}
	if cfg.SemanticCandidateCap == 0 {
		cfg.SemanticCandidateCap = d.SemanticCandidateCap
	}
	if cfg.SemanticThreshold == 0 {
		cfg.SemanticThreshold = d.SemanticThreshold
	}
	if cfg.MergeWindow == 0 {
		cfg.MergeWindow = d.MergeWindow
	}
	if cfg.KeywordJaccardThreshold == 0 {
		cfg.KeywordJaccardThreshold = d.KeywordJaccardThreshold
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = d.BatchSize
	}
	return &ClusterAssignmentEngine{
		store: store, vectors: vectors, similarity: similarity, entities: entities,
		cfg: cfg, log: log.With().Str("component", "cluster_assignment").Logger(),
	}
}

// AssignBatch runs Phase 1 over every article, parallel in batches of
// cfg.BatchSize, and performs the post-assignment bookkeeping (link,
// heat delta, vector upsert, entity links).
func (e *ClusterAssignmentEngine) AssignBatch(ctx context.Context, articles []ArticleContext) []AssignmentResult {
	results := make([]AssignmentResult, len(articles))
	missing := &missingIDSet{seen: make(map[string]bool)}

	for start := 0; start < len(articles); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(articles) {
			end = len(articles)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = e.assignOne(ctx, articles[i], missing)
			}(i)
		}
		wg.Wait()
	}

	return results
}

type missingIDSet struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *missingIDSet) isKnownMissing(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[id]
}

func (m *missingIDSet) mark(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[id] = true
}

func (e *ClusterAssignmentEngine) assignOne(ctx context.Context, ac ArticleContext, missing *missingIDSet) AssignmentResult {
	article := ac.Article
	category := article.PrimaryCategory()

	if clusterID, tier, ok := e.tryTiers(ctx, ac, category, missing); ok {
		e.recordAssignment(ctx, ac, clusterID)
		return AssignmentResult{ArticleID: article.ID, ClusterID: clusterID, Created: false, Tier: tier}
	}

	cluster := StoryCluster{
		ID:               newClusterID(),
		Topic:            ac.Label.Topic,
		TopicKey:         ac.Label.TopicKey,
		Category:         category,
		Keywords:         ac.Label.Keywords,
		SubEventType:     ac.Label.SubEventType,
		TrendDirection:   ac.Label.TrendDirection,
		Urgency:          ac.Label.Urgency,
		FirstSeen:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	stored, created, err := e.store.FindOrCreateByTopicKey(cluster)
	if err != nil {
		return AssignmentResult{ArticleID: article.ID, Err: err}
	}
	e.recordAssignment(ctx, ac, stored.ID)
	return AssignmentResult{ArticleID: article.ID, ClusterID: stored.ID, Created: created, Tier: "create"}
}

// tryTiers runs phases 1-5 in order, short-circuiting on the first hit
// that survives existence validation.
func (e *ClusterAssignmentEngine) tryTiers(ctx context.Context, ac ArticleContext, category string, missing *missingIDSet) (string, string, bool) {
	article := ac.Article

	// Tier 1: topic-key match.
	if c, ok := e.store.GetByTopicKey(ac.Label.TopicKey, category); ok {
		if !missing.isKnownMissing(c.ID) && e.clusterStillExists(c.ID, missing) {
			return c.ID, "topic_key", true
		}
	}

	// Tier 2: vector similarity vote.
	if e.vectors != nil && len(ac.Embedding) > 0 {
		if clusterID, ok := e.vectorVote(ac, category, missing); ok {
			return clusterID, "vector_vote", true
		}
	}

	// Tier 3: semantic-similarity fallback.
	if e.cfg.EnhancedMode && e.similarity != nil {
		if clusterID, ok := e.semanticFallback(ctx, ac, category, missing); ok {
			return clusterID, "semantic", true
		}
	}

	// Tier 5 (4 is existence validation, folded into each tier above):
	// keyword-Jaccard fallback.
	if clusterID, ok := e.keywordFallback(ac, category, missing); ok {
		return clusterID, "keyword_jaccard", true
	}

	_ = article
	return "", "", false
}

func (e *ClusterAssignmentEngine) clusterStillExists(id string, missing *missingIDSet) bool {
	if _, ok := e.store.GetByID(id); ok {
		return true
	}
	missing.mark(id)
	return false
}

func (e *ClusterAssignmentEngine) vectorVote(ac ArticleContext, category string, missing *missingIDSet) (string, bool) {
	matches, err := e.vectors.QueryTopK(ac.Embedding, e.cfg.VectorTopK, category, e.cfg.FilterByCategory)
	if err != nil || len(matches) == 0 {
		return "", false
	}

	votes := map[string]int{}
	for _, m := range matches {
		if m.Distance > e.cfg.VectorDistanceThreshold {
			continue
		}
		votes[m.ClusterID]++
	}

	best, bestVotes := "", 0
	for id, v := range votes {
		if v > bestVotes {
			best, bestVotes = id, v
		}
	}
	if best == "" {
		return "", false
	}
	c, ok := e.store.GetByID(best)
	if !ok || c.Category != category {
		missing.mark(best)
		return "", false
	}
	return best, true
}

func (e *ClusterAssignmentEngine) semanticFallback(ctx context.Context, ac ArticleContext, category string, missing *missingIDSet) (string, bool) {
	recent := e.store.RecentInCategory(category, e.cfg.MergeWindow, e.cfg.SemanticCandidateCap)
	if len(recent) == 0 {
		return "", false
	}

	target := Features{Embedding: ac.Embedding, Entities: ac.Entities, Topic: ac.Label.Topic, Keywords: ac.Label.Keywords}

	best, bestScore := "", 0.0
	for _, c := range recent {
		candidate := Features{Topic: c.Topic, Keywords: c.Keywords}
		res := e.similarity.Similarity(ctx, target, candidate)
		if res.Score > bestScore {
			best, bestScore = c.ID, res.Score
		}
	}
	if best == "" || bestScore < e.cfg.SemanticThreshold {
		return "", false
	}
	if _, ok := e.store.GetByID(best); !ok {
		missing.mark(best)
		return "", false
	}
	return best, true
}

func (e *ClusterAssignmentEngine) keywordFallback(ac ArticleContext, category string, missing *missingIDSet) (string, bool) {
	recent := e.store.RecentInCategory(category, e.cfg.MergeWindow, e.cfg.SemanticCandidateCap)
	articleSet := unionSet(ac.Article.Tags, longWords(ac.Article.Title))

	best, bestScore := "", 0.0
	for _, c := range recent {
		clusterSet := unionSet(c.Keywords, longWords(c.Topic))
		score := jaccardStringSets(articleSet, clusterSet)
		if score > bestScore {
			best, bestScore = c.ID, score
		}
	}
	if best == "" || bestScore < e.cfg.KeywordJaccardThreshold {
		return "", false
	}
	if _, ok := e.store.GetByID(best); !ok {
		missing.mark(best)
		return "", false
	}
	return best, true
}

// recordAssignment performs the post-assignment bookkeeping: link,
// heat-delta update, vector upsert, entity find-or-create + heat bump.
func (e *ClusterAssignmentEngine) recordAssignment(ctx context.Context, ac ArticleContext, clusterID string) {
	article := ac.Article
	fp := TitleFingerprint(article.Title)
	delta := EnhancedHeat(ac)

	_ = e.store.AddLink(ClusterArticleLink{
		ClusterID:        clusterID,
		ArticleID:        article.ID,
		TitleFingerprint: fp,
		HeatContribution: delta,
	})

	if cluster, ok := e.store.GetByID(clusterID); ok {
		cluster.ArticleCount++
		cluster.UniqueTitleCount = countUniqueFingerprints(e.store.LinksForCluster(clusterID))
		cluster.HeatScore += delta
		cluster.UpdatedAt = time.Now()
		_ = e.store.Update(*cluster)
		_ = e.store.AppendHeatSample(HeatSample{
			ClusterID:        clusterID,
			Timestamp:        cluster.UpdatedAt,
			HeatScore:        cluster.HeatScore,
			ArticleCount:     cluster.ArticleCount,
			UniqueTitleCount: cluster.UniqueTitleCount,
		})
	}

	if e.vectors != nil && len(ac.Embedding) > 0 {
		_ = e.vectors.Upsert(article.ID, ac.Embedding, clusterID)
	}

	if e.entities != nil {
		for _, ent := range ac.Entities {
			entID, err := e.entities.FindOrCreate(ent)
			if err != nil {
				continue
			}
			_ = e.entities.LinkArticle(entID, article.ID, ent.Confidence)
			_ = e.entities.BumpClusterHeat(entID, clusterID, delta*0.1)
		}
	}
}

// EnhancedHeat computes a new cluster's (or a contributing article's)
// base heat contribution from urgency and entity confidence. There is no
// source-specified formula; this uses urgency as the dominant signal and
// mean entity confidence as a secondary multiplier, following the
// teacher's bias toward simple, explainable scoring functions.
func EnhancedHeat(ac ArticleContext) float64 {
	base := map[Urgency]float64{
		UrgencyLow:      5,
		UrgencyMedium:   10,
		UrgencyHigh:     20,
		UrgencyCritical: 35,
	}[ac.Label.Urgency]
	if base == 0 {
		base = 10
	}

	if len(ac.Entities) == 0 {
		return base
	}
	var sum float64
	for _, e := range ac.Entities {
		sum += e.Confidence
	}
	avgConf := sum / float64(len(ac.Entities))
	return base * (0.5 + 0.5*avgConf)
}

func countUniqueFingerprints(links []ClusterArticleLink) int {
	set := map[string]bool{}
	for _, l := range links {
		set[l.TitleFingerprint] = true
	}
	return len(set)
}

func longWords(s string) []string {
	var out []string
	for _, w := range strings.Fields(s) {
		w = strings.ToLower(strings.Trim(w, ".,!?\"'();:"))
		if len(w) > 3 {
			out = append(out, w)
		}
	}
	return out
}

func unionSet(a, b []string) []string {
	set := toSet(a)
	for k := range toSet(b) {
		set[k] = true
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func jaccardStringSets(a, b []string) float64 {
	return jaccardStrings(a, b)
}

// newClusterID is a convenience for callers that want a fresh id ahead of
// FindOrCreateByTopicKey (e.g. tests).
func newClusterID() string {
	return uuid.NewString()
}
