package memory

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sahilm/fuzzy"

	"github.com/tarsync/memoryplane/pkg/models"
)

// dedupWindow is the default number of a user's recent memories scanned for
// a match, widened by tier by the caller when useful (§4.2.2).
const dedupWindow = 20

const (
	jaccardThreshold  = 0.7
	contentSimilarity = 0.85
	cosineThreshold   = 0.85
	priorityDelta     = 0.05
)

// Candidate is a not-yet-persisted memory about to be written.
type Candidate struct {
	Content      string
	Normalized   string
	Keywords     map[string]struct{}
	Embedding    []float32
	ThreadID     uuid.UUID
	RedactionMap map[string]string // placeholder -> original reversal map, set by the caller after redaction
}

// NewCandidate builds a Candidate, normalizing content and extracting its
// keyword set.
func NewCandidate(content string, threadID uuid.UUID, embedding []float32) Candidate {
	norm := Normalize(content)
	return Candidate{
		Content:    content,
		Normalized: norm,
		Keywords:   keywordSet(norm),
		Embedding:  embedding,
		ThreadID:   threadID,
	}
}

// Match finds the existing memory (if any) that c should merge into,
// scanning recent in DESC-updated order up to dedupWindow entries.
func Match(c Candidate, recent []*models.Memory) *models.Memory {
	limit := len(recent)
	if limit > dedupWindow {
		limit = dedupWindow
	}
	for _, existing := range recent[:limit] {
		if isSameMemory(c, existing) {
			return existing
		}
	}
	return nil
}

func isSameMemory(c Candidate, existing *models.Memory) bool {
	existingKeywords := keywordSet(existing.Normalized)
	jac := jaccard(c.Keywords, existingKeywords)
	sim := contentSim(c.Normalized, existing.Normalized)
	if jac > jaccardThreshold && sim > contentSimilarity {
		return true
	}
	if len(c.Embedding) > 0 && existing.EmbeddingID != nil {
		// Cosine comparison against a stored embedding happens via the
		// vector store in the caller (recall.go holds the client); this
		// package only applies the threshold once a cosine score is
		// available via MatchByCosine.
		return false
	}
	return false
}

// MatchByCosine supplements Match with an embedding-cosine match when the
// caller has already computed similarity scores against candidates (the
// vector store query happens one layer up, in recall.go / audit.go).
func MatchByCosine(cosine float64) bool {
	return cosine > cosineThreshold
}

// Merge applies the §4.2.2 merge policy onto existing, given a matched
// candidate. Returns the updated memory; callers persist it.
func Merge(existing *models.Memory, c Candidate, now time.Time) *models.Memory {
	updated := *existing

	if isClearerContent(c, existing) {
		updated.Content = c.Content
		updated.Normalized = c.Normalized
		updated.RedactionMap = c.RedactionMap
	}

	updated.Repeats++
	updated.ThreadSet = appendThreadIfMissing(updated.ThreadSet, c.ThreadID)
	updated.LastSeenTS = now
	updated.UpdatedAt = now
	updated.Priority = minFloat(1.0, updated.Priority+priorityDelta)

	return &updated
}

// isClearerContent applies the heuristic: longer and containing strictly
// more keywords than the existing content.
func isClearerContent(c Candidate, existing *models.Memory) bool {
	if len(c.Content) <= len(existing.Content) {
		return false
	}
	return len(c.Keywords) > len(keywordSet(existing.Normalized))
}

func appendThreadIfMissing(set []uuid.UUID, threadID uuid.UUID) []uuid.UUID {
	for _, id := range set {
		if id == threadID {
			return set
		}
	}
	return append(set, threadID)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func keywordSet(normalized string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(normalized) {
		if len(w) < 3 {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// contentSim returns 1 for identical strings; otherwise the sahilm/fuzzy
// score of a matched as a subsequence of b, divided by the longer length
// (0 when a is not a subsequence of b).
func contentSim(a, b string) float64 {
	if a == b {
		return 1
	}
	matches := fuzzy.Find(a, []string{b})
	if len(matches) == 0 {
		return 0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}
	return float64(matches[0].Score) / float64(maxLen)
}
