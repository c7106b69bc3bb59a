package news

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"github.com/aristath/sentinel/internal/llm"
)

// entityTypeWeight assigns each entity type a contribution weight in the
// weighted entity-overlap similarity component.
var entityTypeWeight = map[EntityType]float64{
	EntityToken:          1.0,
	EntityProtocol:       0.9,
	EntityOrganization:   0.9,
	EntityGovernmentBody: 0.8,
	EntityCountry:        0.6,
	EntityPerson:         0.7,
	EntityLocation:       0.5,
	EntityEvent:          0.6,
	EntityAmount:         0.3,
	EntityDate:           0.2,
}

// Features is the per-article feature vector that C3 compares pairwise:
// embedding, extracted entities, topic string, and keyword list.
type Features struct {
	ArticleID string
	Embedding []float64
	Entities  []ExtractedEntity
	Topic     string
	Keywords  []string
}

// SimilarityMethod records which combination formula produced a score.
type SimilarityMethod string

const (
	MethodHybrid SimilarityMethod = "hybrid"
	MethodCosine SimilarityMethod = "cosine"
)

// SimilarityResult is one pairwise similarity computation.
type SimilarityResult struct {
	Score  float64
	Method SimilarityMethod
}

// SemanticSimilarityService is C3: computes a weighted, multi-signal
// similarity between two articles' feature vectors, optionally enriched
// by an LLM similarity score.
type SemanticSimilarityService struct {
	client llm.Client
	cache  llm.Cache
	log    zerolog.Logger
}

// NewSemanticSimilarityService builds the service. client may be nil to
// run in cosine-only mode.
func NewSemanticSimilarityService(client llm.Client, cache llm.Cache, log zerolog.Logger) *SemanticSimilarityService {
	return &SemanticSimilarityService{client: client, cache: cache, log: log.With().Str("component", "semantic_similarity").Logger()}
}

// Similarity computes the combined similarity score between a and b per
// spec §4.C3.
func (s *SemanticSimilarityService) Similarity(ctx context.Context, a, b Features) SimilarityResult {
	cos := cosineSimilarity01(a.Embedding, b.Embedding)
	ent := entitySimilarity(a.Entities, b.Entities)
	topic := jaccardTokens(tokenize(a.Topic), tokenize(b.Topic))
	kw := jaccardStrings(a.Keywords, b.Keywords)

	if s.client == nil {
		score := 0.35*cos + 0.35*ent + 0.20*topic + 0.10*kw
		return SimilarityResult{Score: clip01(score), Method: MethodCosine}
	}

	llmScore, err := s.client.Similarity(ctx, a.Topic, b.Topic)
	if err != nil {
		s.log.Debug().Err(err).Msg("LLM similarity failed, degrading to cosine method")
		score := 0.35*cos + 0.35*ent + 0.20*topic + 0.10*kw
		return SimilarityResult{Score: clip01(score), Method: MethodCosine}
	}

	score := 0.25*cos + 0.30*ent + 0.20*topic + 0.10*kw + 0.15*llmScore
	return SimilarityResult{Score: clip01(score), Method: MethodHybrid}
}

// Embedding fetches (from cache, else the LLM client) the embedding for
// an article id + text.
func (s *SemanticSimilarityService) Embedding(ctx context.Context, articleID, text string) ([]float64, error) {
	key := llm.EmbeddingCacheKey(articleID)
	if s.cache != nil {
		if raw, ok := s.cache.Get(ctx, key); ok {
			if vec, err := llm.DecodeEmbedding(raw); err == nil {
				return vec, nil
			}
		}
	}
	if s.client == nil {
		return nil, nil
	}
	vec, err := s.client.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if raw, err := llm.EncodeEmbedding(vec); err == nil {
			s.cache.Set(ctx, key, raw)
		}
	}
	return vec, nil
}

// batchWindow bounds LLM pressure for bulk similarity calculation.
const batchWindow = 10

// BatchCalculateSimilarity computes target against each candidate, in
// windows of batchWindow to bound LLM call pressure.
func (s *SemanticSimilarityService) BatchCalculateSimilarity(ctx context.Context, target Features, candidates []Features) []SimilarityResult {
	out := make([]SimilarityResult, len(candidates))
	for start := 0; start < len(candidates); start += batchWindow {
		end := start + batchWindow
		if end > len(candidates) {
			end = len(candidates)
		}
		for i := start; i < end; i++ {
			out[i] = s.Similarity(ctx, target, candidates[i])
		}
	}
	return out
}

// FindMostSimilar returns up to topK candidates whose score ≥ threshold,
// sorted by descending score.
func (s *SemanticSimilarityService) FindMostSimilar(ctx context.Context, target Features, candidates []Features, topK int, threshold float64) []int {
	scores := s.BatchCalculateSimilarity(ctx, target, candidates)

	type idxScore struct {
		idx   int
		score float64
	}
	var above []idxScore
	for i, r := range scores {
		if r.Score >= threshold {
			above = append(above, idxScore{i, r.Score})
		}
	}
	// simple insertion sort descending; candidate lists are small (≤ a few hundred)
	for i := 1; i < len(above); i++ {
		for j := i; j > 0 && above[j].score > above[j-1].score; j-- {
			above[j], above[j-1] = above[j-1], above[j]
		}
	}
	if topK > 0 && len(above) > topK {
		above = above[:topK]
	}
	out := make([]int, len(above))
	for i, a := range above {
		out[i] = a.idx
	}
	return out
}

func cosineSimilarity01(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	a, b = padTo(a, n), padTo(b, n)
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	cos := floats.Dot(a, b) / (na * nb)
	// map [-1,1] -> [0,1]
	return (cos + 1) / 2
}

func padTo(v []float64, n int) []float64 {
	if len(v) >= n {
		return v[:n]
	}
	out := make([]float64, n)
	copy(out, v)
	return out
}

// entitySimilarity is the per-type-weighted overlap of two entity sets,
// adjusted by a set-size-ratio factor per spec §4.C3.
func entitySimilarity(a, b []ExtractedEntity) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	var weighted, totalWeight float64
	for _, ea := range a {
		w := entityTypeWeight[ea.Type]
		if w == 0 {
			w = 0.5
		}
		totalWeight += w
		best := matchEntity(ea, b)
		if best != nil {
			contrib := minF(ea.Confidence, best.Confidence)
			weighted += w * contrib
		}
	}
	if totalWeight == 0 {
		return 0
	}

	base := weighted / totalWeight
	smaller, larger := float64(len(a)), float64(len(b))
	if larger < smaller {
		smaller, larger = larger, smaller
	}
	sizeFactor := 0.7 + 0.3*(smaller/larger)
	return clip01(base * sizeFactor)
}

func matchEntity(target ExtractedEntity, pool []ExtractedEntity) *ExtractedEntity {
	for i := range pool {
		if pool[i].Type != target.Type {
			continue
		}
		if pool[i].Normalized == target.Normalized || strings.EqualFold(pool[i].Name, target.Name) {
			return &pool[i]
		}
	}
	return nil
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func jaccardTokens(a, b []string) float64 {
	return jaccardStrings(a, b)
}

func jaccardStrings(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := toSet(a)
	setB := toSet(b)
	inter := 0
	for k := range setA {
		if setB[k] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[strings.ToLower(strings.TrimSpace(it))] = true
	}
	return out
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
