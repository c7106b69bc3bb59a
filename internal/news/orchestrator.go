package news

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/bus"
	"github.com/aristath/sentinel/internal/llm"
	"github.com/aristath/sentinel/internal/resilience"
)

// ArticleStub is a search-result handle, before the scrape stage fetches
// full content.
type ArticleStub struct {
	URL    string
	Title  string
	Source string
}

// Searcher is the external search collaborator (spec §1 out-of-scope
// news-source discovery).
type Searcher interface {
	Search(ctx context.Context, category string) ([]ArticleStub, error)
}

// Scraper is the external scrape collaborator; it applies its own inline
// language/quality gates before returning full Articles.
type Scraper interface {
	Scrape(ctx context.Context, stubs []ArticleStub) ([]Article, error)
}

// Step is the closed set of terminal cycle outcomes the orchestrator can
// report.
type Step string

const (
	StepNoArticlesFound         Step = "NO_ARTICLES_FOUND"
	StepNoArticlesScraped       Step = "NO_ARTICLES_SCRAPED"
	StepNoArticlesPassedQuality Step = "NO_ARTICLES_PASSED_QUALITY"
	StepNoArticlesCategorized   Step = "NO_ARTICLES_CATEGORIZED"
	StepNoUniqueArticles        Step = "NO_UNIQUE_ARTICLES"
	StepSkippedCircuitBreaker   Step = "SKIPPED_CIRCUIT_BREAKER"
	StepClusterFallbackFailed   Step = "CLUSTER_FALLBACK_FAILED"
	StepCompleted               Step = "COMPLETED"
	StepError                   Step = "ERROR"
)

// CycleResult is the terminal record of one orchestrator cycle.
type CycleResult struct {
	Step             Step
	Category         string
	ArticlesFound    int
	ArticlesScraped  int
	ArticlesAdmitted int
	ArticlesLabeled  int
	ClustersCreated  int
	ClustersUpdated  int
	Anomalies        []Anomaly
	Err              error
}

// newsExecutionBreaker is the process-level breaker name that, once open,
// causes every subsequent cycle to be skipped.
const newsExecutionBreaker = "news-execution"

// maxConsecutiveErrors trips the process-level breaker (spec §4.C10/§7).
const maxConsecutiveErrors = 5

// NewsOrchestrator is C10: sequences search -> scrape -> quality gate ->
// categorize (topic label, entities, embedding) -> redundancy filter ->
// cluster assignment -> merge -> anomaly detection. Search and scrape run
// under their own named breakers (news-search, news-scrape) with an
// empty-result fallback; the later stages run without a breaker.
type NewsOrchestrator struct {
	searcher   Searcher
	scraper    Scraper
	store      StoryClusterStore
	gate       *IngestionGate
	extractor  *EntityExtractor
	similarity *SemanticSimilarityService
	precluster *TitlePreClusterer
	assignment *ClusterAssignmentEngine
	merger     *ClusterMerger
	anomaly    *AnomalyDetector
	heat       *HeatPredictor
	llmClient  llm.Client

	breakers *resilience.Registry
	bus      *bus.Bus
	log      zerolog.Logger

	consecutiveErrors int
	seenFingerprints  map[string]bool
}

// NewNewsOrchestrator wires every news-pipeline stage behind the shared
// resilience registry and message bus.
func NewNewsOrchestrator(
	searcher Searcher,
	scraper Scraper,
	store StoryClusterStore,
	gate *IngestionGate,
	extractor *EntityExtractor,
	similarity *SemanticSimilarityService,
	assignment *ClusterAssignmentEngine,
	merger *ClusterMerger,
	anomaly *AnomalyDetector,
	heat *HeatPredictor,
	llmClient llm.Client,
	breakers *resilience.Registry,
	eventBus *bus.Bus,
	log zerolog.Logger,
) *NewsOrchestrator {
	return &NewsOrchestrator{
		searcher: searcher, scraper: scraper, store: store, gate: gate, extractor: extractor,
		similarity: similarity, precluster: NewTitlePreClusterer(), assignment: assignment,
		merger: merger, anomaly: anomaly, heat: heat, llmClient: llmClient,
		breakers: breakers, bus: eventBus, log: log.With().Str("component", "news_orchestrator").Logger(),
		seenFingerprints: make(map[string]bool),
	}
}

// RunCycle executes one full pipeline pass for a category.
func (o *NewsOrchestrator) RunCycle(ctx context.Context, category string) CycleResult {
	if o.breakers.GetBreakerStatus(newsExecutionBreaker).State == resilience.StateOpen {
		return CycleResult{Step: StepSkippedCircuitBreaker, Category: category}
	}

	result := o.runCycleInner(ctx, category)

	if result.Err != nil || result.Step == StepError {
		o.consecutiveErrors++
		if o.consecutiveErrors >= maxConsecutiveErrors {
			o.breakers.OpenBreaker(newsExecutionBreaker)
			o.log.Error().Int("consecutive_errors", o.consecutiveErrors).Msg("news-execution breaker opened")
		}
	} else {
		o.consecutiveErrors = 0
	}

	return result
}

func (o *NewsOrchestrator) runCycleInner(ctx context.Context, category string) CycleResult {
	stubs, err := o.safeSearch(ctx, category)
	if err != nil {
		return CycleResult{Step: StepError, Category: category, Err: err}
	}
	if len(stubs) == 0 {
		return CycleResult{Step: StepNoArticlesFound, Category: category}
	}

	scraped, err := o.safeScrape(ctx, stubs)
	if err != nil {
		return CycleResult{Step: StepError, Category: category, Err: err}
	}
	if len(scraped) == 0 {
		return CycleResult{Step: StepNoArticlesScraped, Category: category, ArticlesFound: len(stubs)}
	}

	admitted := o.gate.FilterBatch(scraped)
	if len(admitted) == 0 {
		return CycleResult{Step: StepNoArticlesPassedQuality, Category: category, ArticlesFound: len(stubs), ArticlesScraped: len(scraped)}
	}

	contexts := o.categorize(ctx, admitted)
	if len(contexts) == 0 {
		return CycleResult{Step: StepNoArticlesCategorized, Category: category, ArticlesFound: len(stubs), ArticlesScraped: len(scraped), ArticlesAdmitted: len(admitted)}
	}

	unique := o.filterRedundant(contexts)
	if len(unique) == 0 {
		return CycleResult{Step: StepNoUniqueArticles, Category: category, ArticlesFound: len(stubs), ArticlesScraped: len(scraped), ArticlesAdmitted: len(admitted), ArticlesLabeled: len(contexts)}
	}

	results := o.assignment.AssignBatch(ctx, unique)
	created, updated := 0, 0
	for _, r := range results {
		if r.Err != nil {
			o.log.Warn().Err(r.Err).Str("article_id", r.ArticleID).Msg("cluster assignment failed for article, skipping")
			continue
		}
		if r.Created {
			created++
		} else {
			updated++
		}
	}

	mergeResults := o.merger.MergeCategory(category)
	for _, m := range mergeResults {
		o.bus.Publish(bus.NewsClustered, "news_orchestrator", map[string]interface{}{
			"target": m.Target.ID, "source": m.Source.ID, "score": m.Score,
		})
	}

	var anomalies []Anomaly
	for _, r := range results {
		if r.Err != nil || r.ClusterID == "" {
			continue
		}
		history := o.store.HeatHistory(r.ClusterID, rollingWindow)
		anomalies = append(anomalies, o.anomaly.DetectZScoreAnomalies(r.ClusterID, history)...)
	}
	for _, a := range anomalies {
		o.bus.Publish(bus.NewsAnomaly, "news_orchestrator", map[string]interface{}{
			"cluster_id": a.ClusterID, "type": string(a.Type), "severity": string(a.Severity),
		})
	}

	return CycleResult{
		Step: StepCompleted, Category: category,
		ArticlesFound: len(stubs), ArticlesScraped: len(scraped), ArticlesAdmitted: len(admitted),
		ArticlesLabeled: len(contexts), ClustersCreated: created, ClustersUpdated: updated, Anomalies: anomalies,
	}
}

func (o *NewsOrchestrator) safeSearch(ctx context.Context, category string) ([]ArticleStub, error) {
	var stubs []ArticleStub
	err := o.breakers.Execute(ctx, "news-search", func(ctx context.Context) error {
		s, err := o.searcher.Search(ctx, category)
		stubs = s
		return err
	}, func(ctx context.Context) error {
		stubs = nil
		return nil
	})
	return stubs, err
}

func (o *NewsOrchestrator) safeScrape(ctx context.Context, stubs []ArticleStub) ([]Article, error) {
	var articles []Article
	err := o.breakers.Execute(ctx, "news-scrape", func(ctx context.Context) error {
		a, err := o.scraper.Scrape(ctx, stubs)
		articles = a
		return err
	}, func(ctx context.Context) error {
		articles = nil
		return nil
	})
	return articles, err
}

// categorize runs the LLM topic-labeling + entity-extraction stages for
// each admitted article, dropping articles whose topic fails quality
// validation (step marker CATEGORIZE_FALLBACK for the article, not the
// whole cycle).
func (o *NewsOrchestrator) categorize(ctx context.Context, articles []Article) []ArticleContext {
	out := make([]ArticleContext, 0, len(articles))
	for _, a := range articles {
		label := o.labelArticle(ctx, a)
		if ok, reason := ValidateTopic(label.Topic); !ok {
			o.log.Debug().Str("article_id", a.ID).Str("reason", reason).Msg("CATEGORIZE_FALLBACK: topic rejected")
			continue
		}
		label.TopicKey = TopicKey(label.Topic)

		entities := o.extractor.Extract(ctx, a.Title, a.Content)

		var embedding []float64
		if o.similarity != nil {
			embedding, _ = o.similarity.Embedding(ctx, a.ID, label.Topic+". Keywords: "+joinKeywords(label.Keywords))
		}

		out = append(out, ArticleContext{Article: a, Label: label, Entities: entities, Embedding: embedding})
	}
	return out
}

func (o *NewsOrchestrator) labelArticle(ctx context.Context, a Article) AILabel {
	if o.llmClient == nil {
		return fallbackLabel(a)
	}
	res, err := o.llmClient.LabelTopic(ctx, a.Title, a.Content)
	if err != nil {
		o.log.Debug().Err(err).Str("article_id", a.ID).Msg("LABEL_FALLBACK")
		return fallbackLabel(a)
	}
	return AILabel{
		Topic: res.Topic, Keywords: res.Keywords, SubEventType: res.SubEventType,
		TrendDirection: normalizeTrend(res.TrendDirection), Urgency: normalizeUrgency(res.Urgency),
	}
}

// fallbackLabel derives a deterministic label from the title alone, used
// whenever the LLM is unavailable or rejects the article.
func fallbackLabel(a Article) AILabel {
	return AILabel{
		Topic:          a.Title,
		Keywords:       longWords(a.Title),
		TrendDirection: TrendNeutral,
		Urgency:        UrgencyLow,
	}
}

func normalizeTrend(raw string) TrendDirection {
	switch TrendDirection(raw) {
	case TrendUp, TrendDown, TrendNeutral:
		return TrendDirection(raw)
	default:
		return TrendNeutral
	}
}

func normalizeUrgency(raw string) Urgency {
	switch Urgency(raw) {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return Urgency(raw)
	default:
		return UrgencyLow
	}
}

func joinKeywords(keywords []string) string {
	out := ""
	for i, k := range keywords {
		if i > 0 {
			out += ", "
		}
		out += k
	}
	return out
}

// filterRedundant drops articles whose title fingerprint has already been
// seen in this orchestrator's lifetime (spec §8 "feeding identical
// articles twice must not create duplicate links"), then collapses
// near-duplicate titles within the same batch down to one representative
// per title pre-cluster group before the batch reaches the assignment
// engine.
func (o *NewsOrchestrator) filterRedundant(contexts []ArticleContext) []ArticleContext {
	deduped := make([]ArticleContext, 0, len(contexts))
	for _, ac := range contexts {
		fp := TitleFingerprint(ac.Article.Title)
		if o.seenFingerprints[fp] {
			continue
		}
		o.seenFingerprints[fp] = true
		deduped = append(deduped, ac)
	}
	if len(deduped) < 2 {
		return deduped
	}

	articles := make([]Article, len(deduped))
	for i, ac := range deduped {
		articles[i] = ac.Article
	}
	groups := o.precluster.Group(articles)

	out := make([]ArticleContext, 0, len(groups))
	for _, g := range groups {
		out = append(out, deduped[g.Indices[0]])
	}
	return out
}

// ConsecutiveErrors reports the current error streak, for health/metrics
// reporting.
func (o *NewsOrchestrator) ConsecutiveErrors() int {
	return o.consecutiveErrors
}
