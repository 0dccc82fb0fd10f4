package memory

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tarsync/memoryplane/pkg/cache"
	"github.com/tarsync/memoryplane/pkg/config"
	"github.com/tarsync/memoryplane/pkg/llm"
	"github.com/tarsync/memoryplane/pkg/masking"
	"github.com/tarsync/memoryplane/pkg/models"
	"github.com/tarsync/memoryplane/pkg/tokencount"
)

const (
	cadenceMessageThreshold = 6
	cadenceTokenThreshold   = 1500
	cadenceMaxInterval      = 3 * time.Minute
	cadenceDebounce         = 30 * time.Second

	auditWindowLimit    = 50
	maxCandidatesPerRun = 3

	summaryStaleAfter          = 1 * time.Hour
	summaryStaleAfterImportant = 20 * time.Minute
	summaryMaxChars            = 500
	summaryMaxCharsImportant   = 800
	importantMemoryCount       = 3
)

// MessageSource loads a thread's recent messages from the gateway's own
// store. The gateway owns messages; the memory service only reads them
// (§4.2.1 step 1 "read-only external collaborator"), so this is an
// interface rather than a direct repository dependency.
type MessageSource interface {
	LastMessages(ctx context.Context, threadID uuid.UUID, limit int) ([]models.Message, error)
}

// cadenceState tracks one thread's progress toward the next audit trigger.
type cadenceState struct {
	messageCount int
	tokenCount   int
	lastFiredAt  time.Time
}

// CadenceTracker decides when a thread is due for an audit run (§4.2.1):
// six messages, or 1500 tokens, or three minutes since the last audit,
// whichever comes first, debounced to at most one trigger per 30s.
type CadenceTracker struct {
	mu    sync.Mutex
	state map[uuid.UUID]*cadenceState
}

// NewCadenceTracker builds an empty, process-local cadence tracker. Losing
// this state on restart only delays the next audit by a few messages; it is
// never a correctness requirement, so it is not persisted.
func NewCadenceTracker() *CadenceTracker {
	return &CadenceTracker{state: make(map[uuid.UUID]*cadenceState)}
}

// Record registers one new message for threadID and reports whether the
// thread is now due for an audit run.
func (t *CadenceTracker) Record(threadID uuid.UUID, tokens int, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.state[threadID]
	if !ok {
		s = &cadenceState{lastFiredAt: now}
		t.state[threadID] = s
	}
	s.messageCount++
	s.tokenCount += tokens

	if now.Sub(s.lastFiredAt) < cadenceDebounce {
		return false
	}

	due := s.messageCount >= cadenceMessageThreshold ||
		s.tokenCount >= cadenceTokenThreshold ||
		now.Sub(s.lastFiredAt) >= cadenceMaxInterval
	if !due {
		return false
	}

	s.messageCount = 0
	s.tokenCount = 0
	s.lastFiredAt = now
	return true
}

// prefGoalPatterns is also used directly here via DetectTier; importMarkers
// flags a window as carrying weight for the importance signal.
var importMarkers = regexp.MustCompile("```|\\d{2,}|" + `(?i)\b(important|remember|always|never)\b`)

// Auditor runs the §4.2.1 pipeline: score recent windows, extract qualifying
// candidates, detect tier, redact, write through the dedup path, and
// refresh the thread summary.
type Auditor struct {
	repo     *Repository
	messages MessageSource
	masker   *masking.Service
	llmRouter *llm.Router
	counter  *tokencount.Counter
	cache    *cache.Cache
	tiers    *config.TiersConfig
	summaryProvider string
	summaryModel    string
	engine          *Engine
}

// NewAuditor wires the audit pipeline's collaborators. summaryProvider and
// summaryModel select the LLM call used for summary regeneration (a
// background, non-interactive call — not routed through pkg/router).
// engine may be nil, in which case audit-written memories get no embedding
// and the cosine dedup leg never fires for them.
func NewAuditor(repo *Repository, messages MessageSource, masker *masking.Service, router *llm.Router, counter *tokencount.Counter, c *cache.Cache, tiers *config.TiersConfig, summaryProvider, summaryModel string, engine *Engine) *Auditor {
	return &Auditor{
		repo: repo, messages: messages, masker: masker, llmRouter: router,
		counter: counter, cache: c, tiers: tiers,
		summaryProvider: summaryProvider, summaryModel: summaryModel,
		engine: engine,
	}
}

// Run executes one audit pass over threadID for userID. It never returns an
// error for partial failure within the pipeline (a single candidate's write
// failing does not abort the rest); it only returns an error if loading the
// source messages fails outright.
func (a *Auditor) Run(ctx context.Context, userID string, threadID uuid.UUID) (*models.Audit, error) {
	msgs, err := a.messages.LastMessages(ctx, threadID, auditWindowLimit)
	if err != nil {
		return nil, fmt.Errorf("audit: load messages: %w", err)
	}

	audit := &models.Audit{
		ID:        uuid.New(),
		UserID:    userID,
		ThreadID:  threadID,
		CreatedAt: time.Now(),
	}
	if len(msgs) == 0 {
		if err := a.repo.InsertAudit(ctx, audit); err != nil {
			slog.Error("audit: insert empty audit row failed", "error", err)
		}
		return audit, nil
	}
	audit.StartMsgID = msgs[0].ID
	audit.EndMsgID = msgs[len(msgs)-1].ID

	saved := 0
	var topScore float64
	for i, msg := range msgs {
		if msg.Role != models.RoleUser {
			continue
		}
		if saved >= maxCandidatesPerRun {
			break
		}

		signals := a.windowSignals(msgs, i)
		q := ScoreDefault(signals)
		if q < a.tiers.T1.SaveThreshold {
			continue
		}
		if q > topScore {
			topScore = q
		}

		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		normalized := Normalize(content)

		tier, err := DetectTier(ctx, a.cache, userID, normalized, threadID.String())
		if err != nil {
			slog.Warn("audit: tier detection failed, defaulting to T3", "error", err)
			tier = models.TierT3
		}

		weights := a.weightsFor(tier)
		tierScore := Score(signals, weights)
		if tierScore < ThresholdFor(string(tier), a.tiers) {
			continue
		}

		redacted, redactionMap := a.masker.RedactWithMap(content, "pii")

		if err := a.writeMemory(ctx, userID, threadID, redacted, redactionMap, tier); err != nil {
			slog.Error("audit: write candidate memory failed", "error", err, "user_id", userID, "thread_id", threadID)
			continue
		}
		saved++
	}

	audit.TokenCount = a.counter.CountAll(messageTexts(msgs)...)
	audit.Score = topScore
	audit.Saved = saved

	if err := a.repo.InsertAudit(ctx, audit); err != nil {
		slog.Error("audit: insert audit row failed", "error", err)
	}

	if saved > 0 || len(msgs) > 0 {
		a.refreshSummaryIfStale(ctx, userID, threadID, msgs)
	}

	return audit, nil
}

func (a *Auditor) weightsFor(tier models.Tier) config.ScoreWeights {
	switch tier {
	case models.TierT2:
		return a.tiers.T2.ScoreWeights
	case models.TierT1:
		return a.tiers.T1.ScoreWeights
	default:
		return a.tiers.T3.ScoreWeights
	}
}

// windowSignals scores the window anchored at msgs[i] (a user message plus
// its immediate assistant reply, if any). Signals are heuristic proxies for
// the four Q components, each normalized to [0,1].
func (a *Auditor) windowSignals(msgs []models.Message, i int) WindowSignals {
	window := msgs[i].Content
	if i+1 < len(msgs) && msgs[i+1].Role == models.RoleAssistant {
		window += " " + msgs[i+1].Content
	}
	keywords := keywordSet(Normalize(window))

	relevance := minFloat(1.0, float64(len(keywords))/8.0)
	importance := 0.3
	if importMarkers.MatchString(window) {
		importance = 0.9
	}
	coherence := 0.6
	if len(strings.Fields(window)) > 6 {
		coherence = 0.8
	}
	recency := float64(i+1) / float64(len(msgs))

	return WindowSignals{Relevance: relevance, Importance: importance, Coherence: coherence, Recency: recency}
}

func (a *Auditor) writeMemory(ctx context.Context, userID string, threadID uuid.UUID, content string, redactionMap map[string]string, tier models.Tier) error {
	var candidate Candidate
	if a.engine != nil {
		candidate = a.engine.PrepareCandidate(ctx, content, threadID)
	} else {
		candidate = NewCandidate(content, threadID, nil)
	}
	candidate.RedactionMap = redactionMap
	recent, err := a.repo.Recent(ctx, userID, 0)
	if err != nil {
		return fmt.Errorf("load recent for dedup: %w", err)
	}

	now := time.Now()
	var existing *models.Memory
	if a.engine != nil {
		existing = a.engine.Dedupe(ctx, candidate, recent)
	} else {
		existing = Match(candidate, recent)
	}
	if existing != nil {
		updated := Merge(existing, candidate, now)
		return a.repo.Update(ctx, updated)
	}

	m := &models.Memory{
		ID:           uuid.New(),
		UserID:       userID,
		ThreadID:     threadID,
		Content:      content,
		Normalized:   candidate.Normalized,
		Tier:         tier,
		Priority:     0.5,
		Confidence:   0.5,
		RedactionMap: redactionMap,
		Repeats:      1,
		ThreadSet:    []uuid.UUID{threadID},
		LastSeenTS:   now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.repo.Insert(ctx, m); err != nil {
		return err
	}
	if a.engine != nil {
		a.engine.Index(ctx, m)
	}
	return nil
}

// refreshSummaryIfStale regenerates the thread summary when missing or
// older than its staleness window (§4.2.1 step 7). Failures fall back to a
// truncated first user message rather than leaving the summary stale.
func (a *Auditor) refreshSummaryIfStale(ctx context.Context, userID string, threadID uuid.UUID, msgs []models.Message) {
	important, err := a.isImportantThread(ctx, userID, threadID)
	if err != nil {
		slog.Warn("audit: important-thread check failed, treating as not important", "error", err)
	}

	staleAfter := summaryStaleAfter
	maxChars := summaryMaxChars
	if important {
		staleAfter = summaryStaleAfterImportant
		maxChars = summaryMaxCharsImportant
	}

	existing, err := a.repo.ThreadSummary(ctx, threadID)
	if err != nil {
		slog.Error("audit: load thread summary failed", "error", err)
		return
	}
	if existing != nil && time.Since(existing.UpdatedAt) < staleAfter {
		return
	}

	summary := a.generateSummary(ctx, msgs, maxChars)
	tokenCount := a.counter.Count(summary)

	s := &models.ThreadSummary{
		ThreadID:   threadID,
		UserID:     userID,
		Summary:    summary,
		LastMsgID:  msgs[len(msgs)-1].ID,
		TokenCount: tokenCount,
		UpdatedAt:  time.Now(),
	}
	if err := a.repo.UpsertThreadSummary(ctx, s); err != nil {
		slog.Error("audit: upsert thread summary failed", "error", err)
	}
}

func (a *Auditor) isImportantThread(ctx context.Context, userID string, threadID uuid.UUID) (bool, error) {
	memories, err := a.repo.ByThread(ctx, userID, threadID)
	if err != nil {
		return false, err
	}
	if len(memories) >= importantMemoryCount {
		return true, nil
	}
	for _, m := range memories {
		if m.Tier == models.TierT1 || m.Tier == models.TierT2 {
			return true, nil
		}
	}
	return false, nil
}

func (a *Auditor) generateSummary(ctx context.Context, msgs []models.Message, maxChars int) string {
	prompt := buildSummaryPrompt(msgs, maxChars)
	text, err := a.llmRouter.Complete(ctx, llm.Request{
		Provider:  a.summaryProvider,
		Model:     a.summaryModel,
		Messages:  []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens: 300,
	})
	if err != nil {
		slog.Warn("audit: summary generation failed, falling back to truncated first message", "error", err)
		return fallbackSummary(msgs, maxChars)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fallbackSummary(msgs, maxChars)
	}
	if len(text) > maxChars {
		text = text[:maxChars]
	}
	return text
}

func buildSummaryPrompt(msgs []models.Message, maxChars int) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Summarize the following conversation in at most %d characters, preserving the main topics and any decisions made:\n\n", maxChars))
	for _, m := range msgs {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func fallbackSummary(msgs []models.Message, maxChars int) string {
	for _, m := range msgs {
		if m.Role == models.RoleUser {
			text := strings.TrimSpace(m.Content)
			if len(text) > maxChars {
				text = text[:maxChars]
			}
			return text
		}
	}
	return ""
}

func messageTexts(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}
