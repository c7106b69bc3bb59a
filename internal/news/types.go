// Package news implements the news-ingestion and story-clustering pipeline:
// ingestion gating, hybrid entity extraction, semantic similarity, the
// multi-tier cluster-assignment engine, cluster merging, anomaly detection,
// heat forecasting, and the orchestrator sequencing all of the above under
// the shared resilience runtime.
package news

import "time"

// EntityType is the closed enumeration of entity kinds an extractor may
// tag. Kept as a string-backed enum rather than an open string space.
type EntityType string

const (
	EntityPerson          EntityType = "PERSON"
	EntityOrganization    EntityType = "ORGANIZATION"
	EntityLocation        EntityType = "LOCATION"
	EntityCountry         EntityType = "COUNTRY"
	EntityToken           EntityType = "TOKEN"
	EntityProtocol        EntityType = "PROTOCOL"
	EntityGovernmentBody  EntityType = "GOVERNMENT_BODY"
	EntityEvent           EntityType = "EVENT"
	EntityAmount          EntityType = "AMOUNT"
	EntityDate            EntityType = "DATE"
)

// EntitySource records which stage produced an ExtractedEntity.
type EntitySource string

const (
	SourceRegex  EntitySource = "regex"
	SourceLLM    EntitySource = "llm"
	SourceHybrid EntitySource = "hybrid"
)

// TrendDirection is the closed trend enumeration shared by AILabel and
// heat forecasting.
type TrendDirection string

const (
	TrendUp      TrendDirection = "UP"
	TrendDown    TrendDirection = "DOWN"
	TrendNeutral TrendDirection = "NEUTRAL"
)

// Urgency is the closed urgency enumeration for AILabel.
type Urgency string

const (
	UrgencyLow      Urgency = "LOW"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyCritical Urgency = "CRITICAL"
)

// Article is an append-only ingested news item. Identifier is unique;
// Categories is ordered with the first entry treated as primary.
type Article struct {
	ID          string
	URL         string
	Title       string
	Content     string
	Snippet     string
	Source      string
	PublishedAt time.Time
	Language    string
	Categories  []string
	Tags        []string
}

// PrimaryCategory returns the article's first category, or "" if none.
func (a Article) PrimaryCategory() string {
	if len(a.Categories) == 0 {
		return ""
	}
	return a.Categories[0]
}

// ExtractedEntity is one named entity found in an article, after regex/LLM
// fusion. Within one extraction (type, normalized) is unique.
type ExtractedEntity struct {
	Name       string
	Normalized string
	Type       EntityType
	Confidence float64
	Source     EntitySource
}

// AILabel is the topic/keyword/urgency label an article is assigned,
// either by the LLM labeling stage or a deterministic fallback.
type AILabel struct {
	Topic          string
	TopicKey       string
	Keywords       []string
	SubEventType   string
	TrendDirection TrendDirection
	Urgency        Urgency
}

// StoryCluster is an evolving grouping of articles about the same story.
type StoryCluster struct {
	ID                string
	Topic             string
	TopicKey          string
	Summary           string
	Category          string
	Keywords          []string
	HeatScore         float64
	ArticleCount      int
	UniqueTitleCount  int
	TrendDirection    TrendDirection
	Urgency           Urgency
	SubEventType      string
	FirstSeen         time.Time
	UpdatedAt         time.Time
}

// ClusterArticleLink associates an article with a cluster, recording the
// title fingerprint used for unique-title counting and this article's
// contribution to the cluster's heat score.
type ClusterArticleLink struct {
	ClusterID        string
	ArticleID         string
	TitleFingerprint  string
	HeatContribution  float64
}

// HeatSample is one append-only point in a cluster's heat time series.
type HeatSample struct {
	ClusterID        string
	Timestamp        time.Time
	HeatScore        float64
	ArticleCount     int
	UniqueTitleCount int
	Velocity         *float64
}

// CrossRefRelation is the closed relation enumeration between two clusters.
type CrossRefRelation string

const (
	RelationRelated    CrossRefRelation = "RELATED"
	RelationMergedInto CrossRefRelation = "MERGED_INTO"
	RelationParentOf   CrossRefRelation = "PARENT_OF"
)

// CrossRef is an edge between two clusters. RELATED is undirected;
// MERGED_INTO/PARENT_OF are directed (A is the subject, B the object).
type CrossRef struct {
	ClusterA string
	ClusterB string
	Relation CrossRefRelation
	Score    float64
}
