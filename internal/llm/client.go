// Package llm defines the black-box LLM collaborator boundary used by the
// news pipeline (categorization, entity extraction, topic labeling,
// embeddings) and the prediction pipeline (theorizing). Spec §1 explicitly
// puts the LLM provider out of scope; this package only fixes the shape of
// the calls and treats every call as fallible and cacheable, per spec §9
// "treat the LLM as an unreliable oracle that can always be bypassed".
package llm

import (
	"context"
	"strings"
)

// EntityHit is one entity the LLM claims to have found, before normalizing
// synonyms (COMPANY->ORGANIZATION, CITY->LOCATION, ...).
type EntityHit struct {
	Name       string
	Type       string
	Confidence float64
}

// ExtractionResult is the permissively-parsed LLM entity response.
type ExtractionResult struct {
	Entities      []EntityHit
	EventType     string
	PrimaryEntity string
}

// LabelResult is the permissively-parsed LLM topic-labeling response.
type LabelResult struct {
	Topic          string
	Keywords       []string
	SubEventType   string
	TrendDirection string
	Urgency        string
}

// Client is the black-box LLM collaborator. Every method may fail (network,
// rate limit, malformed response); callers must have a typed fallback path
// and must not let a Client failure propagate as a fatal error.
type Client interface {
	// ExtractEntities asks the LLM to find named entities in title+content.
	ExtractEntities(ctx context.Context, title, content string) (ExtractionResult, error)
	// LabelTopic asks the LLM to produce an AILabel-shaped topic label.
	LabelTopic(ctx context.Context, title, content string) (LabelResult, error)
	// Embed returns a dense embedding vector for text.
	Embed(ctx context.Context, text string) ([]float64, error)
	// Similarity asks the LLM to score semantic similarity between two
	// short texts, in [0,1].
	Similarity(ctx context.Context, a, b string) (float64, error)
}

// EntityAliases normalizes LLM-returned type synonyms to this system's
// closed ExtractedEntity.Type enumeration (spec §9).
var EntityAliases = map[string]string{
	"COMPANY":       "ORGANIZATION",
	"CITY":          "LOCATION",
	"CRYPTOCURRENCY": "TOKEN",
	"COIN":          "TOKEN",
	"NATION":        "COUNTRY",
	"AGENCY":        "GOVERNMENT_BODY",
	"REGULATOR":     "GOVERNMENT_BODY",
	"HUMAN":         "PERSON",
}

// NormalizeEntityType maps a raw LLM type string through EntityAliases,
// uppercasing first. Unknown types pass through uppercased so the caller can
// decide whether to drop them.
func NormalizeEntityType(raw string) string {
	for k, v := range EntityAliases {
		if equalFold(raw, k) {
			return v
		}
	}
	return strings.ToUpper(raw)
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'a' <= ca && ca <= 'z' {
			ca -= 'a' - 'A'
		}
		if 'a' <= cb && cb <= 'z' {
			cb -= 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
