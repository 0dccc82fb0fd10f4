package memory

import (
	"regexp"
	"strings"
)

var (
	questionWords  = regexp.MustCompile(`(?i)^(what|who|where|when|why|how|which|is|are|do|does|did|can|could|would|will)\b`)
	possessives    = regexp.MustCompile(`(?i)\b(my|mine|your|yours|our|ours)\b`)
	copulas        = regexp.MustCompile(`(?i)\b(is|are|was|were|am|be|been|being)\b`)
	genericStop    = regexp.MustCompile(`(?i)\b(the|a|an|of|to|for|in|on|at|and|or)\b`)
	trailingPunct  = regexp.MustCompile(`[?.!]+$`)
)

// PreprocessQuery implements §4.3 step 1: normalize a recall query into the
// token set actually searched. Questions get question-words, possessives,
// and copulas aggressively stripped ("what is my favorite color" →
// "favorite color"); statements only drop generic stop words, preserving
// meaningful terms a question would have discarded.
func PreprocessQuery(query string) string {
	q := trailingPunct.ReplaceAllString(strings.TrimSpace(query), "")
	isQuestion := questionWords.MatchString(q) || strings.HasSuffix(strings.TrimSpace(query), "?")

	if isQuestion {
		q = questionWords.ReplaceAllString(q, "")
		q = possessives.ReplaceAllString(q, "")
		q = copulas.ReplaceAllString(q, "")
	}
	q = genericStop.ReplaceAllString(q, "")

	fields := strings.Fields(strings.ToLower(q))
	return strings.Join(fields, " ")
}
