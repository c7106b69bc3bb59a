package news

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/llm"
)

// entityPattern is one regex-dictionary rule for the regex extraction
// stage, with a flag for whether a match came from the curated
// well-known list (boosting confidence) or a looser structural pattern.
type entityPattern struct {
	re          *regexp.Regexp
	entityType  EntityType
	wellKnown   bool
}

// Curated dictionaries per type. Structural patterns (AMOUNT, DATE) use
// looser regexes; named-entity types use an alternation of well-known
// names so the "well-known-list hit" boost in spec §4.C2 has a concrete
// source.
var entityPatterns = buildEntityPatterns()

func buildEntityPatterns() []entityPattern {
	wellKnownTokens := []string{"Bitcoin", "Ethereum", "Solana", "BTC", "ETH", "SOL", "USDC", "USDT"}
	wellKnownProtocols := []string{"Uniswap", "Aave", "Compound", "MakerDAO", "Lido"}
	wellKnownOrgs := []string{"Federal Reserve", "Goldman Sachs", "BlackRock", "Coinbase", "Binance", "OpenAI"}
	wellKnownGov := []string{"SEC", "CFTC", "Treasury Department", "European Central Bank", "White House"}
	wellKnownCountries := []string{"United States", "China", "Japan", "Germany", "United Kingdom"}

	var patterns []entityPattern
	add := func(words []string, t EntityType, wellKnown bool) {
		for _, w := range words {
			patterns = append(patterns, entityPattern{
				re:         regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(w) + `\b`),
				entityType: t,
				wellKnown:  wellKnown,
			})
		}
	}
	add(wellKnownTokens, EntityToken, true)
	add(wellKnownProtocols, EntityProtocol, true)
	add(wellKnownOrgs, EntityOrganization, true)
	add(wellKnownGov, EntityGovernmentBody, true)
	add(wellKnownCountries, EntityCountry, true)

	patterns = append(patterns,
		entityPattern{re: regexp.MustCompile(`\$[0-9][0-9,]*(?:\.[0-9]+)?\s?(?:billion|million|trillion|B|M|T)?`), entityType: EntityAmount},
		entityPattern{re: regexp.MustCompile(`\b(?:19|20)\d{2}\b`), entityType: EntityDate},
	)
	return patterns
}

// EntityExtractor is C2: a two-stage hybrid (regex dictionary + optional
// LLM) named-entity extractor with confidence fusion.
type EntityExtractor struct {
	client llm.Client
	cache  llm.Cache
	log    zerolog.Logger
}

// NewEntityExtractor builds an extractor. client may be nil to run
// regex-only.
func NewEntityExtractor(client llm.Client, cache llm.Cache, log zerolog.Logger) *EntityExtractor {
	return &EntityExtractor{
		client: client,
		cache:  cache,
		log:    log.With().Str("component", "entity_extractor").Logger(),
	}
}

// Extract runs the regex stage, optionally the LLM stage, and merges by
// (type, normalized) per spec §4.C2.
func (e *EntityExtractor) Extract(ctx context.Context, title, content string) []ExtractedEntity {
	regexHits := e.extractRegex(title, content)

	if e.client == nil {
		return sortByConfidenceDesc(regexHits)
	}

	llmResult, err := e.extractLLMCached(ctx, title, content)
	if err != nil {
		e.log.Debug().Err(err).Msg("LLM entity extraction failed, falling back to regex-only")
		return sortByConfidenceDesc(regexHits)
	}

	return sortByConfidenceDesc(e.merge(regexHits, llmResult.Entities))
}

func (e *EntityExtractor) extractLLMCached(ctx context.Context, title, content string) (llm.ExtractionResult, error) {
	key := llm.ExtractionCacheKey(title, content)
	if e.cache != nil {
		if raw, ok := e.cache.Get(ctx, key); ok {
			if res, err := llm.DecodeExtraction(raw); err == nil {
				return res, nil
			}
		}
	}

	res, err := e.client.ExtractEntities(ctx, title, content)
	if err != nil {
		return llm.ExtractionResult{}, err
	}
	if e.cache != nil {
		if raw, err := llm.EncodeExtraction(res); err == nil {
			e.cache.Set(ctx, key, raw)
		}
	}
	return res, nil
}

func (e *EntityExtractor) extractRegex(title, content string) []ExtractedEntity {
	haystack := title + " " + content
	seen := map[string]*ExtractedEntity{}

	for _, p := range entityPatterns {
		matches := p.re.FindAllString(haystack, -1)
		for _, m := range matches {
			norm := strings.ToLower(strings.TrimSpace(m))
			key := string(p.entityType) + "|" + norm

			if _, ok := seen[key]; ok {
				continue
			}

			conf := 0.7
			if p.wellKnown {
				conf += 0.2
			}
			if strings.Contains(strings.TrimSpace(m), " ") {
				conf += 0.05
			}
			if isTitleCase(m) {
				conf += 0.05
			}
			if conf > 1.0 {
				conf = 1.0
			}

			seen[key] = &ExtractedEntity{
				Name:       m,
				Normalized: norm,
				Type:       p.entityType,
				Confidence: conf,
				Source:     SourceRegex,
			}
		}
	}

	out := make([]ExtractedEntity, 0, len(seen))
	for _, v := range seen {
		out = append(out, *v)
	}
	return out
}

// merge fuses regex hits with LLM hits by (type, normalized). When both
// sources agree, confidence = min(1, existing+0.15) and source = hybrid.
func (e *EntityExtractor) merge(regexHits []ExtractedEntity, llmHits []llm.EntityHit) []ExtractedEntity {
	byKey := map[string]*ExtractedEntity{}
	for i := range regexHits {
		k := string(regexHits[i].Type) + "|" + regexHits[i].Normalized
		byKey[k] = &regexHits[i]
	}

	for _, h := range llmHits {
		t := EntityType(llm.NormalizeEntityType(h.Type))
		norm := strings.ToLower(strings.TrimSpace(h.Name))
		k := string(t) + "|" + norm

		if existing, ok := byKey[k]; ok {
			existing.Confidence = minF(1.0, existing.Confidence+0.15)
			existing.Source = SourceHybrid
			continue
		}

		byKey[k] = &ExtractedEntity{
			Name:       h.Name,
			Normalized: norm,
			Type:       t,
			Confidence: h.Confidence,
			Source:     SourceLLM,
		}
	}

	out := make([]ExtractedEntity, 0, len(byKey))
	for _, v := range byKey {
		out = append(out, *v)
	}
	return out
}

// primaryEntityThreshold is the medium-confidence floor for primaryEntity
// eligibility (spec §4.C2).
const primaryEntityThreshold = 0.60

// PrimaryEntity picks the top entity whose type is TOKEN, ORGANIZATION, or
// GOVERNMENT_BODY with confidence above the medium threshold.
func PrimaryEntity(entities []ExtractedEntity) (ExtractedEntity, bool) {
	for _, e := range entities {
		if e.Confidence <= primaryEntityThreshold {
			continue
		}
		switch e.Type {
		case EntityToken, EntityOrganization, EntityGovernmentBody:
			return e, true
		}
	}
	return ExtractedEntity{}, false
}

func sortByConfidenceDesc(entities []ExtractedEntity) []ExtractedEntity {
	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].Confidence > entities[j].Confidence
	})
	return entities
}

func isTitleCase(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	r := []rune(s)
	return unicode.IsUpper(r[0])
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
