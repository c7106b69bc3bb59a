package news

import (
	"strings"

	"github.com/rs/zerolog"
)

// GateConfig controls IngestionGate's admission thresholds.
type GateConfig struct {
	AllowedLanguages []string // empty means allow any
	MinTitleLength   int
	MinContentLength int
}

func defaultGateConfig() GateConfig {
	return GateConfig{
		AllowedLanguages: []string{"en"},
		MinTitleLength:   10,
		MinContentLength: 40,
	}
}

// genericTitlePhrases catches low-signal boilerplate titles that never
// move a market (listicles, roundups, sponsored content markers).
var genericTitlePhrases = []string{
	"sponsored content",
	"paid partnership",
	"click here",
	"you won't believe",
	"top 10",
	"top 20",
}

// IngestionGate is C1: filters non-market-moving titles, unsupported
// languages, and low-quality content before an article reaches the rest of
// the pipeline.
type IngestionGate struct {
	cfg GateConfig
	log zerolog.Logger
}

// NewIngestionGate builds a gate. Zero-value cfg fields fall back to
// defaults.
func NewIngestionGate(cfg GateConfig, log zerolog.Logger) *IngestionGate {
	d := defaultGateConfig()
	if len(cfg.AllowedLanguages) == 0 {
		cfg.AllowedLanguages = d.AllowedLanguages
	}
	if cfg.MinTitleLength == 0 {
		cfg.MinTitleLength = d.MinTitleLength
	}
	if cfg.MinContentLength == 0 {
		cfg.MinContentLength = d.MinContentLength
	}
	return &IngestionGate{cfg: cfg, log: log.With().Str("component", "ingestion_gate").Logger()}
}

// Admit reports whether an article passes the gate, and a reason when it
// does not (used for the orchestrator's fallback step markers).
func (g *IngestionGate) Admit(a Article) (bool, string) {
	if len(strings.TrimSpace(a.Title)) < g.cfg.MinTitleLength {
		return false, "title too short"
	}
	if len(strings.TrimSpace(a.Content)) < g.cfg.MinContentLength {
		return false, "content too short"
	}
	if !g.languageAllowed(a.Language) {
		return false, "language not allowed: " + a.Language
	}
	lowerTitle := strings.ToLower(a.Title)
	for _, phrase := range genericTitlePhrases {
		if strings.Contains(lowerTitle, phrase) {
			return false, "generic/low-signal title"
		}
	}
	return true, ""
}

func (g *IngestionGate) languageAllowed(lang string) bool {
	if len(g.cfg.AllowedLanguages) == 0 {
		return true
	}
	if lang == "" {
		return true // unknown language, let downstream quality filter decide
	}
	for _, allowed := range g.cfg.AllowedLanguages {
		if strings.EqualFold(allowed, lang) {
			return true
		}
	}
	return false
}

// FilterBatch applies Admit across a batch, logging each rejection and
// returning only the admitted articles.
func (g *IngestionGate) FilterBatch(articles []Article) []Article {
	admitted := make([]Article, 0, len(articles))
	for _, a := range articles {
		ok, reason := g.Admit(a)
		if !ok {
			g.log.Debug().Str("article_id", a.ID).Str("reason", reason).Msg("article rejected at ingestion")
			continue
		}
		admitted = append(admitted, a)
	}
	return admitted
}
