package recall

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/tarsync/memoryplane/pkg/gatewaystore"
	"github.com/tarsync/memoryplane/pkg/models"
	"github.com/tarsync/memoryplane/pkg/vectorstore"
)

// maxCandidateScan bounds how many of the user's other conversation
// packages a resolution considers — a trigger must never block the
// request on an unbounded per-user scan (§4.3's "never blocks" posture
// applies equally to unlimited-recall's own gather layer).
const maxCandidateScan = 200

// ResolvedThread names the target of a cross-thread trigger: which OTHER
// conversation to load context from, and how well it matches.
type ResolvedThread struct {
	ThreadID       uuid.UUID
	Summary        string
	TotalTokens    int
	RelevanceScore float64
}

// Resolver picks the target thread for a detected trigger among a user's
// OTHER conversations. A trigger always fires inside the thread the user is
// currently typing in, but what it refers to — "our last conversation",
// "that bug fix from 5 minutes ago" — is necessarily some different,
// already-captured thread (§4.4 test scenarios 4-6); this is the step that
// turns a detected Trigger into a concrete ThreadID for the Loader.
type Resolver struct {
	store          *gatewaystore.Store
	vectors        *vectorstore.Store
	embed          Embedder
	embeddingModel string
}

// NewResolver builds a Resolver. vectors/embed may be nil, in which case
// semantic triggers never resolve (resume and historical still do, since
// neither needs an embedding).
func NewResolver(store *gatewaystore.Store, vectors *vectorstore.Store, embed Embedder, embeddingModel string) *Resolver {
	return &Resolver{store: store, vectors: vectors, embed: embed, embeddingModel: embeddingModel}
}

// Resolve picks a target thread for trigger t, detected from userID's
// message in currentThreadID. Returns ok=false when no other conversation
// is a plausible match — the caller must then skip unlimited-recall
// injection entirely for this turn, never fall back to currentThreadID.
func (r *Resolver) Resolve(ctx context.Context, userID string, currentThreadID uuid.UUID, t Trigger, message string) (ResolvedThread, bool) {
	candidates, err := r.store.ListOtherPackages(ctx, userID, currentThreadID, maxCandidateScan)
	if err != nil || len(candidates) == 0 {
		return ResolvedThread{}, false
	}

	switch t.Type {
	case models.TriggerResume:
		return r.resolveResume(candidates)
	case models.TriggerHistorical:
		return r.resolveHistorical(candidates, t)
	case models.TriggerSemantic:
		return r.resolveSemantic(ctx, userID, candidates, message)
	default:
		return ResolvedThread{}, false
	}
}

// resolveResume picks the user's most recently active other thread:
// "pick up where we left off" always means the last thing before this one.
// candidates are already ordered last_message_at DESC by the store query.
func (r *Resolver) resolveResume(candidates []gatewaystore.PackageSummary) (ResolvedThread, bool) {
	c := candidates[0]
	return ResolvedThread{ThreadID: c.ThreadID, Summary: c.Summary, TotalTokens: c.TotalTokens, RelevanceScore: 0.9}, true
}

// resolveHistorical picks the candidate whose active time span is closest
// to (or overlaps) the trigger's extracted timeframe window.
func (r *Resolver) resolveHistorical(candidates []gatewaystore.PackageSummary, t Trigger) (ResolvedThread, bool) {
	if !t.HasWindow {
		return ResolvedThread{}, false
	}
	width := t.WindowEnd.Sub(t.WindowStart)
	if width <= 0 {
		width = 10 * time.Minute
	}
	center := t.WindowStart.Add(width / 2)

	bestIdx := -1
	var bestDist time.Duration = math.MaxInt64
	for i, c := range candidates {
		d := windowDistance(c, t.WindowStart, t.WindowEnd, center)
		if d < bestDist {
			bestDist = d
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return ResolvedThread{}, false
	}
	c := candidates[bestIdx]
	relevance := 1.0
	if bestDist > 0 {
		relevance = 1 - float64(bestDist)/float64(width)
		if relevance < 0 {
			relevance = 0
		}
	}
	return ResolvedThread{ThreadID: c.ThreadID, Summary: c.Summary, TotalTokens: c.TotalTokens, RelevanceScore: relevance}, true
}

// windowDistance is zero when the candidate's active span overlaps
// [start, end], otherwise the distance from the window's center to the
// candidate's nearest endpoint.
func windowDistance(c gatewaystore.PackageSummary, start, end, center time.Time) time.Duration {
	if !c.LastMessageAt.Before(start) && !c.FirstMessageAt.After(end) {
		return 0
	}
	toFirst := absDuration(center.Sub(c.FirstMessageAt))
	toLast := absDuration(center.Sub(c.LastMessageAt))
	if toFirst < toLast {
		return toFirst
	}
	return toLast
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// resolveSemantic embeds the query and finds the candidate thread whose
// combined (label+summary) embedding is most similar, restricted to this
// user's own threads and excluding whichever the caller already ruled out
// (ListOtherPackages already excludes the current thread).
func (r *Resolver) resolveSemantic(ctx context.Context, userID string, candidates []gatewaystore.PackageSummary, message string) (ResolvedThread, bool) {
	if r.vectors == nil || r.embed == nil {
		return ResolvedThread{}, false
	}
	vec, err := r.embed(ctx, r.embeddingModel, message)
	if err != nil {
		return ResolvedThread{}, false
	}

	byThread := make(map[uuid.UUID]gatewaystore.PackageSummary, len(candidates))
	for _, c := range candidates {
		byThread[c.ThreadID] = c
	}

	matches, err := r.vectors.Search(ctx, vec, uint64(len(candidates)+1), 0.5)
	if err != nil {
		return ResolvedThread{}, false
	}
	for _, m := range matches {
		if uid, ok := m.Payload["user_id"]; !ok || fmtString(uid) != userID {
			continue
		}
		c, ok := byThread[m.ID]
		if !ok {
			continue
		}
		return ResolvedThread{ThreadID: c.ThreadID, Summary: c.Summary, TotalTokens: c.TotalTokens, RelevanceScore: float64(m.Score)}, true
	}
	return ResolvedThread{}, false
}

func fmtString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
