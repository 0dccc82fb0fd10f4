// Package queryanalyzer classifies the last user message of a turn (§4.6).
// It is a pure function package: no I/O, no shared state, safe to call
// concurrently from every gateway goroutine.
package queryanalyzer

import (
	"regexp"
	"strings"
)

// Complexity buckets a query by how much reasoning it likely needs.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Intent classifies what the user is trying to do.
type Intent string

const (
	IntentFactual              Intent = "factual"
	IntentExplanatory          Intent = "explanatory"
	IntentDiscussion           Intent = "discussion"
	IntentAction               Intent = "action"
	IntentMemoryList           Intent = "memory_list"
	IntentMemorySave           Intent = "memory_save"
	IntentConversationFollowup Intent = "conversational_followup"
	IntentNeedsWebSearch       Intent = "needs_web_search"
)

// Analysis is the full result of analyzing one turn.
type Analysis struct {
	Complexity    Complexity
	Intent        Intent
	IsFollowUp    bool
	MemoryContent string // extracted payload when Intent == IntentMemorySave
}

var (
	explainWords    = regexp.MustCompile(`(?i)\b(how|why|explain|analyze|compare)\b`)
	technicalWords  = regexp.MustCompile(`(?i)\b(algorithm|architecture|implementation|protocol|kubernetes|database|concurrency|latency)\b`)
	recencyMarkers  = regexp.MustCompile(`(?i)\b(latest|news|today|this week|right now)\b|\b(19|20)\d{2}\b`)
	memorySaveVerbs = regexp.MustCompile(`(?i)^\s*(remember|store this|memorize)\b`)
	rememberThat    = regexp.MustCompile(`(?i)remember\s+that\s+(.+)$`)
	rememberThis    = regexp.MustCompile(`(?i)remember\s+(this|that)\s*$`)
	quotedSpan      = regexp.MustCompile(`['"]([^'"]+)['"]`)
	followUpPhrases = regexp.MustCompile(`(?i)\b(tell me more|what about|and\?|go on)\b`)
	anaphora        = regexp.MustCompile(`(?i)\b(that|it|this|those)\b`)
	memoryListWords = regexp.MustCompile(`(?i)\b(what do you (remember|know) about me|list my memories|what have i told you)\b`)
)

// Analyze classifies lastUserMessage, using recentAssistantMessage for
// "remember this/that" extraction when present.
func Analyze(lastUserMessage string, recentAssistantMessage string) Analysis {
	trimmed := strings.TrimSpace(lastUserMessage)
	words := strings.Fields(trimmed)

	a := Analysis{
		Complexity: complexityOf(trimmed, words),
		Intent:     IntentDiscussion,
	}

	switch {
	case memoryListWords.MatchString(trimmed):
		a.Intent = IntentMemoryList
	case memorySaveVerbs.MatchString(trimmed) || strings.Contains(strings.ToLower(trimmed), "memorize my"):
		a.Intent = IntentMemorySave
		a.MemoryContent = extractMemoryContent(trimmed, recentAssistantMessage)
	case recencyMarkers.MatchString(trimmed):
		a.Intent = IntentNeedsWebSearch
	case explainWords.MatchString(trimmed):
		a.Intent = IntentExplanatory
	case isActionable(trimmed):
		a.Intent = IntentAction
	case isFactual(trimmed):
		a.Intent = IntentFactual
	}

	a.IsFollowUp = isFollowUp(trimmed, words)
	if a.IsFollowUp && a.Intent == IntentDiscussion {
		a.Intent = IntentConversationFollowup
	}

	return a
}

func complexityOf(trimmed string, words []string) Complexity {
	n := len(words)
	switch {
	case n > 40 || (explainWords.MatchString(trimmed) && technicalWords.MatchString(trimmed)):
		return ComplexityComplex
	case n > 12 || explainWords.MatchString(trimmed) || technicalWords.MatchString(trimmed):
		return ComplexityModerate
	default:
		return ComplexitySimple
	}
}

func isActionable(s string) bool {
	lower := strings.ToLower(s)
	for _, verb := range []string{"create", "write", "generate", "build", "fix", "implement", "refactor"} {
		if strings.HasPrefix(lower, verb) {
			return true
		}
	}
	return false
}

func isFactual(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(lower, "what is") || strings.HasPrefix(lower, "who is") ||
		strings.HasPrefix(lower, "when is") || strings.HasPrefix(lower, "where is")
}

func isFollowUp(trimmed string, words []string) bool {
	if followUpPhrases.MatchString(trimmed) {
		return true
	}
	if len(words) <= 3 && strings.HasSuffix(strings.TrimSpace(trimmed), "?") {
		return true
	}
	return anaphora.MatchString(trimmed) && len(words) <= 8
}

// extractMemoryContent implements §4.6's three memory_save extraction rules,
// tried in order: quoted span, "remember that X", "remember this/that" (uses
// the prior assistant message).
func extractMemoryContent(userMsg, recentAssistantMessage string) string {
	if m := quotedSpan.FindStringSubmatch(userMsg); m != nil {
		return m[1]
	}
	if m := rememberThat.FindStringSubmatch(userMsg); m != nil {
		return strings.TrimSpace(m[1])
	}
	if rememberThis.MatchString(userMsg) {
		return strings.TrimSpace(recentAssistantMessage)
	}
	return strings.TrimSpace(userMsg)
}
