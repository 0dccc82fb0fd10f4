package memory

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tarsync/memoryplane/pkg/models"
	"github.com/tarsync/memoryplane/pkg/vectorstore"
)

const (
	defaultRecallDeadline = 300 * time.Millisecond
	defaultMaxItems       = 5
	defaultVectorThresh   = 0.5
	recencyBucket         = 24 * time.Hour
)

// FusionWeights blends the three search legs' ranked lists (§4.3 step 3,
// §9 open question 1). Which set applies depends on what data is available
// for this query: all three whenever the FTS leg has hits (a vector leg
// with no hits contributes nothing), vector+keyword when only the vector
// leg has hits, keyword-only when neither does.
type FusionWeights struct {
	FTS     float64
	Vector  float64
	Keyword float64
}

var (
	fusionAll         = FusionWeights{FTS: 0.4, Vector: 0.4, Keyword: 0.2}
	fusionNoFTS       = FusionWeights{Vector: 0.6, Keyword: 0.4}
	fusionKeywordOnly = FusionWeights{Keyword: 1.0}
)

// Embedder resolves free text to its embedding vector. Supplied by the
// caller (backed by whichever LLM provider's embedding endpoint is
// configured); recall degrades to FTS+keyword when nil.
type Embedder func(ctx context.Context, text string) ([]float32, error)

// RecallRequest carries one GET /recall call's parameters.
type RecallRequest struct {
	UserID        string
	Query         string
	CurrentThread uuid.UUID
	MaxItems      int
	Deadline      time.Duration
}

// RecallResult is one ranked memory returned to the caller.
type RecallResult struct {
	Memory *models.Memory
	Score  float64
}

// Engine runs the §4.3 hybrid recall pipeline.
type Engine struct {
	repo           *Repository
	vectors        *vectorstore.Store
	embedder       Embedder
	embeddingModel string
}

// NewEngine builds a recall Engine. vectors and embedder may both be nil,
// in which case recall falls back to FTS+keyword only. embeddingModel is
// recorded alongside every vector Index writes, mirroring the conversation
// embedding job's bookkeeping.
func NewEngine(repo *Repository, vectors *vectorstore.Store, embedder Embedder, embeddingModel string) *Engine {
	return &Engine{repo: repo, vectors: vectors, embedder: embedder, embeddingModel: embeddingModel}
}

// PrepareCandidate builds a dedup Candidate for content, embedding it when
// an embedder is wired so Dedupe can also run the cosine leg (§4.2.2). An
// embed failure degrades to a candidate with no embedding rather than
// failing memory creation outright.
func (e *Engine) PrepareCandidate(ctx context.Context, content string, threadID uuid.UUID) Candidate {
	var vec []float32
	if e.embedder != nil {
		if v, err := e.embedder(ctx, content); err != nil {
			slog.Warn("memory: candidate embedding failed", "error", err)
		} else {
			vec = v
		}
	}
	return NewCandidate(content, threadID, vec)
}

// Dedupe finds the existing memory c duplicates, layering an embedding-
// cosine leg on top of Match's keyword/content legs (§4.2.2: "or an
// embedding cosine > 0.85 when embeddings exist"). Falls back to Match
// alone when no vector store or candidate embedding is available.
func (e *Engine) Dedupe(ctx context.Context, c Candidate, recent []*models.Memory) *models.Memory {
	if existing := Match(c, recent); existing != nil {
		return existing
	}
	if e.vectors == nil || len(c.Embedding) == 0 {
		return nil
	}
	matches, err := e.vectors.Search(ctx, c.Embedding, 5, float32(cosineThreshold))
	if err != nil || len(matches) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*models.Memory, len(recent))
	for _, m := range recent {
		byID[m.ID] = m
	}
	for _, match := range matches {
		if !MatchByCosine(float64(match.Score)) {
			continue
		}
		if m, ok := byID[match.ID]; ok {
			return m
		}
	}
	return nil
}

// Index embeds m.Content and upserts it into the memory vector collection,
// recording the point under m's own ID so Dedupe's cosine leg and recall's
// vector leg (searchVector below) can find it. A nil vector store/embedder,
// or an embed/upsert failure, is a no-op: recall already degrades to
// FTS+keyword when a memory carries no embedding.
func (e *Engine) Index(ctx context.Context, m *models.Memory) {
	if e.vectors == nil || e.embedder == nil {
		return
	}
	vec, err := e.embedder(ctx, m.Content)
	if err != nil {
		slog.Warn("memory: index embedding failed", "error", err, "memory_id", m.ID)
		return
	}
	if err := e.vectors.Upsert(ctx, []vectorstore.Point{{
		ID:     m.ID,
		Vector: vec,
		Payload: map[string]any{
			"user_id": m.UserID,
			"tier":    string(m.Tier),
		},
	}}); err != nil {
		slog.Warn("memory: index upsert failed", "error", err, "memory_id", m.ID)
		return
	}
	if err := e.repo.SetEmbedding(ctx, m.ID, m.ID, e.embeddingModel, len(vec)); err != nil {
		slog.Warn("memory: record embedding pointer failed", "error", err, "memory_id", m.ID)
		return
	}
	m.EmbeddingID = &m.ID
}

type scoredMemory struct {
	mem   *models.Memory
	score float64
}

// Recall executes the full pipeline and returns at most req.MaxItems
// results, ranked by §4.3 step 4's composite ordering. It never returns an
// error: search and rank failures degrade to partial or empty results,
// logged but not surfaced, per the hard soft-deadline requirement.
func (e *Engine) Recall(ctx context.Context, req RecallRequest) []RecallResult {
	maxItems := req.MaxItems
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	deadline := req.Deadline
	if deadline <= 0 {
		deadline = defaultRecallDeadline
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	query := PreprocessQuery(req.Query)
	if query == "" {
		return nil
	}

	ftsMems, ftsRanks := e.searchFTS(ctx, req.UserID, query, maxItems*4)
	vecMems, vecScores := e.searchVector(ctx, req.UserID, req.Query, maxItems*4)
	kwMems, kwScores := e.searchKeyword(ctx, req.UserID, query, maxItems*4)

	weights := fusionWeightsFor(len(ftsMems) > 0, len(vecMems) > 0)

	fused := make(map[uuid.UUID]*scoredMemory)
	applyLeg(fused, ftsMems, ftsRanks, weights.FTS)
	applyLeg(fused, vecMems, vecScores, weights.Vector)
	applyLeg(fused, kwMems, kwScores, weights.Keyword)

	results := make([]scoredMemory, 0, len(fused))
	for _, sm := range fused {
		results = append(results, *sm)
	}

	now := time.Now()
	sort.Slice(results, func(i, j int) bool {
		return rankLess(results[i], results[j], req.CurrentThread, now)
	})

	results = dedupAttributes(results)

	if len(results) > maxItems {
		results = results[:maxItems]
	}

	out := make([]RecallResult, len(results))
	for i, r := range results {
		out[i] = RecallResult{Memory: r.mem, Score: r.score}
	}
	return out
}

func fusionWeightsFor(hasFTS, hasVector bool) FusionWeights {
	switch {
	case hasFTS:
		return fusionAll
	case hasVector:
		return fusionNoFTS
	default:
		return fusionKeywordOnly
	}
}

func (e *Engine) searchFTS(ctx context.Context, userID, query string, limit int) ([]*models.Memory, []float64) {
	if ctx.Err() != nil {
		return nil, nil
	}
	mems, ranks, err := e.repo.FullTextSearch(ctx, userID, query, limit)
	if err != nil {
		slog.Warn("recall: fts search failed", "error", err)
		return nil, nil
	}
	return mems, ranks
}

func (e *Engine) searchVector(ctx context.Context, userID, rawQuery string, limit int) ([]*models.Memory, []float64) {
	if ctx.Err() != nil || e.vectors == nil || e.embedder == nil {
		return nil, nil
	}
	vec, err := e.embedder(ctx, rawQuery)
	if err != nil {
		slog.Warn("recall: query embedding failed", "error", err)
		return nil, nil
	}
	matches, err := e.vectors.Search(ctx, vec, uint64(limit), float32(defaultVectorThresh))
	if err != nil {
		slog.Warn("recall: vector search failed", "error", err)
		return nil, nil
	}
	if len(matches) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(matches))
	scoreByID := make(map[uuid.UUID]float64, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
		scoreByID[m.ID] = float64(m.Score)
	}

	hydrated, err := e.repo.ByIDs(ctx, ids)
	if err != nil {
		slog.Warn("recall: hydrate vector hits failed", "error", err)
		return nil, nil
	}

	mems := make([]*models.Memory, 0, len(hydrated))
	scores := make([]float64, 0, len(hydrated))
	for _, m := range hydrated {
		if m.UserID != userID {
			continue
		}
		mems = append(mems, m)
		scores = append(scores, scoreByID[m.ID])
	}
	return mems, scores
}

func (e *Engine) searchKeyword(ctx context.Context, userID, query string, limit int) ([]*models.Memory, []float64) {
	if ctx.Err() != nil {
		return nil, nil
	}
	tokens := strings.Fields(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	recent, err := e.repo.Recent(ctx, userID, 0)
	if err != nil {
		slog.Warn("recall: keyword fallback load failed", "error", err)
		return nil, nil
	}

	type hit struct {
		mem   *models.Memory
		count int
	}
	var hits []hit
	for _, m := range recent {
		count := 0
		for _, tok := range tokens {
			if strings.Contains(m.Normalized, tok) {
				count++
			}
		}
		if count > 0 {
			hits = append(hits, hit{mem: m, count: count})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].count > hits[j].count })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	mems := make([]*models.Memory, len(hits))
	scores := make([]float64, len(hits))
	for i, h := range hits {
		mems[i] = h.mem
		scores[i] = float64(h.count) / float64(len(tokens))
	}
	return mems, scores
}

func applyLeg(fused map[uuid.UUID]*scoredMemory, mems []*models.Memory, raw []float64, weight float64) {
	if weight == 0 || len(mems) == 0 {
		return
	}
	maxRaw := 0.0
	for _, v := range raw {
		if v > maxRaw {
			maxRaw = v
		}
	}
	if maxRaw == 0 {
		maxRaw = 1
	}
	for i, m := range mems {
		norm := raw[i] / maxRaw
		sm, ok := fused[m.ID]
		if !ok {
			sm = &scoredMemory{mem: m}
			fused[m.ID] = sm
		}
		sm.score += norm * weight
	}
}

func rankLess(a, b scoredMemory, currentThread uuid.UUID, now time.Time) bool {
	aCurrent := a.mem.ThreadID == currentThread
	bCurrent := b.mem.ThreadID == currentThread
	if aCurrent != bCurrent {
		return aCurrent
	}

	aRecent := now.Sub(a.mem.UpdatedAt) < recencyBucket
	bRecent := now.Sub(b.mem.UpdatedAt) < recencyBucket
	if aRecent != bRecent {
		return aRecent
	}

	if a.mem.Tier != b.mem.Tier {
		return tierRank(a.mem.Tier) < tierRank(b.mem.Tier)
	}

	if !a.mem.UpdatedAt.Equal(b.mem.UpdatedAt) {
		return a.mem.UpdatedAt.After(b.mem.UpdatedAt)
	}

	if a.mem.Priority != b.mem.Priority {
		return a.mem.Priority > b.mem.Priority
	}

	return a.score > b.score
}

func tierRank(t models.Tier) int {
	switch t {
	case models.TierT1:
		return 0
	case models.TierT2:
		return 1
	default:
		return 2
	}
}

var attributePattern = regexp.MustCompile(`^(my|the)?\s*(favorite|preferred)\s+(\w+)\b`)

// dedupAttributes collapses "my favorite X is Y"-style collisions, keeping
// the most recently updated variant per attribute topic (§4.2.2, §4.3
// step 5). The topic key is the matched attribute noun, a cheap proxy for
// "same attribute being restated."
func dedupAttributes(results []scoredMemory) []scoredMemory {
	seen := make(map[string]int)
	out := make([]scoredMemory, 0, len(results))
	for _, r := range results {
		topic := attributeTopic(r.mem.Normalized)
		if topic == "" {
			out = append(out, r)
			continue
		}
		if idx, ok := seen[topic]; ok {
			if r.mem.UpdatedAt.After(out[idx].mem.UpdatedAt) {
				out[idx] = r
			}
			continue
		}
		seen[topic] = len(out)
		out = append(out, r)
	}
	return out
}

func attributeTopic(normalized string) string {
	m := attributePattern.FindStringSubmatch(normalized)
	if m == nil {
		return ""
	}
	return m[3]
}
