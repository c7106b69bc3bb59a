package news

import (
	"regexp"
	"strings"
	"unicode"
)

const maxTopicKeyLength = 180

// genericTopicPhrases reject low-information topic labels the LLM
// sometimes produces when it can't find a real story.
var genericTopicPhrases = []string{
	"breaking news",
	"latest update",
	"market news",
	"general news",
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// TopicKey slugifies a topic string into the deterministic per-category
// cluster lookup key (spec §3 AILabel.topicKey), capped at
// maxTopicKeyLength.
func TopicKey(topic string) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(topic), "_")
	slug = strings.Trim(slug, "_")
	if len(slug) > maxTopicKeyLength {
		slug = slug[:maxTopicKeyLength]
	}
	return slug
}

// ValidateTopic enforces the AILabel.topic quality invariant: at least 5
// characters, at least 3 words, at least one proper-noun-like (capitalized)
// token, and no known generic phrase.
func ValidateTopic(topic string) (ok bool, reason string) {
	trimmed := strings.TrimSpace(topic)
	if len(trimmed) < 5 {
		return false, "topic too short"
	}

	words := strings.Fields(trimmed)
	if len(words) < 3 {
		return false, "topic has too few words"
	}

	lower := strings.ToLower(trimmed)
	for _, phrase := range genericTopicPhrases {
		if strings.Contains(lower, phrase) {
			return false, "topic is a generic phrase"
		}
	}

	hasProperNoun := false
	for _, w := range words {
		r := []rune(strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) }))
		if len(r) > 0 && unicode.IsUpper(r[0]) {
			hasProperNoun = true
			break
		}
	}
	if !hasProperNoun {
		return false, "topic has no proper-noun-like token"
	}

	return true, ""
}
