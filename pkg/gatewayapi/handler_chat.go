package gatewayapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/tarsync/memoryplane/pkg/llm"
	"github.com/tarsync/memoryplane/pkg/memoryclient"
	"github.com/tarsync/memoryplane/pkg/models"
	"github.com/tarsync/memoryplane/pkg/preprocessor"
	"github.com/tarsync/memoryplane/pkg/promptbuilder"
	"github.com/tarsync/memoryplane/pkg/queryanalyzer"
	"github.com/tarsync/memoryplane/pkg/recall"
	"github.com/tarsync/memoryplane/pkg/research"
	"github.com/tarsync/memoryplane/pkg/router"
	"github.com/tarsync/memoryplane/pkg/sse"
	"github.com/tarsync/memoryplane/pkg/strategy"
)

type chatRequest struct {
	ThreadID        string `json:"threadId"`
	Message         string `json:"message"`
	RecentAssistant string `json:"recentAssistantMessage"`
	IngestionTopic  string `json:"ingestionTopic"`
}

// chat handles POST /chat: the entire per-turn pipeline from admission
// through a streamed completion (§4.1). The response is always
// text/event-stream; failures after the stream opens are reported as an
// error event followed by done rather than an HTTP status, since the
// headers are already committed once streaming begins.
func (s *Server) chat(c *echo.Context) error {
	claims, err := s.verifier.VerifyHeader(c.Request().Context(), c.Request().Header.Get("Authorization"))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
	}

	if !s.limiter.AllowRequest(claims.UserID) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limited")
	}
	release, ok := s.limiter.AcquireStream(claims.UserID)
	if !ok {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many concurrent streams")
	}
	defer release()

	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	threadID, err := uuid.Parse(req.ThreadID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "threadId must be a valid uuid")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	writer, err := sse.NewWriter(c.Response())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}

	s.runTurn(c.Request().Context(), writer, claims.UserID, threadID, req)
	return nil
}

// runTurn drives analysis, gather, prompt assembly, routing, and streaming
// for one turn. Errors from this point on are reported over the stream,
// never as a Go/HTTP error, since the SSE headers are already written.
func (s *Server) runTurn(ctx context.Context, w *sse.Writer, userID string, threadID uuid.UUID, req chatRequest) {
	analysis := queryanalyzer.Analyze(req.Message, req.RecentAssistant)

	if analysis.Intent == queryanalyzer.IntentMemorySave && analysis.MemoryContent != "" {
		s.saveExplicitMemory(ctx, userID, threadID, analysis.MemoryContent)
	}

	_, ingestionCached, _ := s.ingest.Lookup(ctx, threadID.String(), req.IngestionTopic)
	plan := strategy.Select(analysis, req.Message, s.flags.HybridRAG, ingestionCached)

	blocks := s.gather(ctx, plan, userID, threadID, req)

	instructions := []promptbuilder.Instruction{
		{Priority: promptbuilder.PriorityCritical, Text: "Respond directly to the user's latest message."},
	}
	if analysis.Intent == queryanalyzer.IntentConversationFollowup {
		instructions = append(instructions, promptbuilder.Instruction{
			Priority: promptbuilder.PriorityCritical,
			Text:     "This is a conversational follow-up: keep the response short.",
		})
	}
	messages := s.builder.Build(instructions, blocks)
	messages = append(messages, llm.Message{Role: "user", Content: req.Message})

	estimatedTokens := s.counter.CountAll(collectContents(messages)...)
	decision := router.Route(analysis, req.Message, estimatedTokens, s.providers)

	s.stream(ctx, w, decision, messages, userID, threadID, req)
}

// saveExplicitMemory persists an explicit "remember X" memory before the
// turn streams its response (§8 scenario 1: one T2 memory, priority >= 0.9).
// It is awaited rather than detached onto a goroutine, unlike
// RecordMessageEvent, since the user's stated expectation is that the fact
// is saved by the time they see a reply.
func (s *Server) saveExplicitMemory(ctx context.Context, userID string, threadID uuid.UUID, content string) {
	cctx, cancel := context.WithTimeout(ctx, s.timeouts.ContextGather)
	defer cancel()
	err := s.memClient.SaveMemory(cctx, memoryclient.SaveMemoryRequest{
		UserID:   userID,
		ThreadID: threadID.String(),
		Content:  content,
		Priority: 0.9,
		Tier:     string(models.TierT2),
	})
	if err != nil {
		slog.Warn("save explicit memory failed", "error", err, "thread_id", threadID)
	}
}

func collectContents(messages []llm.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.Content
	}
	return out
}

// gather fans out the gather layers the strategy plan selected, each under
// its own per-layer deadline (§4.1 step 3: D_ctx, D_search, D_ingest), and
// renders whatever returns in time into preprocessor blocks. Layers run
// against independent derived contexts rather than a shared cancel-on-first-
// error one, since one layer's failure must never cut a sibling layer's
// deadline short (§4.3 "never blocks"); their errors are only aggregated for
// a single combined log line once every layer has returned.
func (s *Server) gather(ctx context.Context, plan strategy.Plan, userID string, threadID uuid.UUID, req chatRequest) []promptbuilder.ContextBlock {
	var collected contextBlockCollector
	var wg sync.WaitGroup
	var mu sync.Mutex
	var gatherErr error

	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				mu.Lock()
				gatherErr = multierror.Append(gatherErr, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
		}()
	}

	if plan.Memory || plan.MemoryLight {
		run("memory", func() error {
			cctx, cancel := context.WithTimeout(ctx, s.timeouts.ContextGather)
			defer cancel()
			maxItems := s.memoryCfg.AsyncRecall.MaxItems
			if plan.MemoryLight {
				maxItems = 2
			}
			items := s.memClient.Recall(cctx, userID, req.Message, threadID, maxItems, s.timeouts.ContextGather)
			for _, it := range items {
				collected.add(promptbuilder.ContextBlock{
					Priority: promptbuilder.PriorityHigh,
					Text:     preprocessor.Render(preprocessor.Block{Type: "memory", Content: "[Memory] " + it.Memory.Content}),
				})
			}
			return nil
		})
	}

	if plan.UnlimitedRecall {
		run("unlimited_recall", func() error {
			cctx, cancel := context.WithTimeout(ctx, s.timeouts.ContextGather)
			defer cancel()
			if blk, ok := s.gatherUnlimitedRecall(cctx, userID, threadID, req.Message); ok {
				collected.add(blk)
			}
			return nil
		})
	}

	if plan.Web && s.flags.Search {
		run("web_research", func() error {
			cctx, cancel := context.WithTimeout(ctx, s.timeouts.WebSearch)
			defer cancel()
			if blk, ok := s.gatherWebResearch(cctx, userID, threadID); ok {
				collected.add(blk)
			}
			return nil
		})
	}

	if plan.Ingestion {
		run("ingestion", func() error {
			cctx, cancel := context.WithTimeout(ctx, s.timeouts.Ingestion)
			defer cancel()
			chunks, ok, err := s.ingest.Lookup(cctx, threadID.String(), req.IngestionTopic)
			if err != nil {
				return err
			}
			if !ok || len(chunks) == 0 {
				return nil
			}
			for _, ch := range chunks {
				collected.add(promptbuilder.ContextBlock{
					Priority: promptbuilder.PriorityMedium,
					Text: preprocessor.Render(preprocessor.Block{
						Type:    "ingestion",
						Content: ch.Content,
						Extra:   map[string]any{"topic": req.IngestionTopic},
					}),
				})
			}
			return nil
		})
	}

	wg.Wait()
	if gatherErr != nil {
		slog.Warn("gather layer errors", "error", gatherErr, "thread_id", threadID)
	}

	return collected.drain()
}

// gatherUnlimitedRecall runs trigger detection and, on a hit, resolves which
// OTHER conversation the trigger refers to (§4.4: resume/historical/semantic
// always point at a past thread, never the one the trigger fired in) and
// loads context through the strategy the loader selects for it.
func (s *Server) gatherUnlimitedRecall(ctx context.Context, userID string, threadID uuid.UUID, message string) (promptbuilder.ContextBlock, bool) {
	trigger, ok := recall.Detect(message, time.Now())
	if !ok {
		return promptbuilder.ContextBlock{}, false
	}
	if s.resolver == nil {
		return promptbuilder.ContextBlock{}, false
	}

	resolved, ok := s.resolver.Resolve(ctx, userID, threadID, trigger, message)
	if !ok {
		return promptbuilder.ContextBlock{}, false
	}

	start := time.Now()
	loaded, err := s.loader.Load(ctx, resolved.ThreadID, trigger, resolved.TotalTokens, resolved.Summary)
	if err != nil {
		slog.Warn("unlimited recall load failed", "error", err, "thread_id", resolved.ThreadID)
		return promptbuilder.ContextBlock{}, false
	}

	go s.logRecallEvent(resolved.ThreadID, userID, trigger, loaded, resolved.RelevanceScore, time.Since(start))

	content := loaded.Summary
	for _, t := range loaded.Turns {
		content += "\n" + t.Role + ": " + t.Content
	}
	return promptbuilder.ContextBlock{
		Priority: promptbuilder.PriorityHigh,
		Text:     preprocessor.Render(preprocessor.Block{Type: "conversation_summary", Content: "summary: " + content}),
	}, true
}

func (s *Server) logRecallEvent(threadID uuid.UUID, userID string, trigger recall.Trigger, loaded recall.LoadedContext, relevance float64, latency time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := recall.LogEvent(ctx, s.pool, models.RecallEvent{
		ThreadID:       threadID,
		UserID:         userID,
		TriggerType:    trigger.Type,
		StrategyUsed:   loaded.Strategy,
		TokensInjected: loaded.TokensInjected,
		RelevanceScore: relevance,
		LatencyMS:      int(latency.Milliseconds()),
		Success:        true,
	}); err != nil {
		slog.Warn("log recall event failed", "error", err)
	}
}

// gatherWebResearch consumes an already-published research capsule for this
// thread if one exists (the poll-based leg of §4.10's injection strategy);
// otherwise it enqueues a background research job so a capsule is ready for
// a later turn, and returns no block for this one, since fetching sources
// synchronously inside the request's web-search deadline is not how this
// subsystem is designed to behave.
func (s *Server) gatherWebResearch(ctx context.Context, userID string, threadID uuid.UUID) (promptbuilder.ContextBlock, bool) {
	keys, err := s.cache.ScanCapsules(ctx, threadID.String())
	if err != nil || len(keys) == 0 {
		if err := recall.Enqueue(ctx, s.pool, models.JobResearch, userID, threadID, nil); err != nil {
			slog.Warn("enqueue research job failed", "error", err)
		}
		return promptbuilder.ContextBlock{}, false
	}

	raw, err := s.cache.GetCapsule(ctx, keys[0])
	if err != nil {
		return promptbuilder.ContextBlock{}, false
	}
	capsule, err := research.UnmarshalCapsule(raw)
	if err != nil {
		slog.Warn("decode research capsule failed", "error", err)
		return promptbuilder.ContextBlock{}, false
	}
	_ = s.cache.DeleteCapsule(ctx, keys[0]) // consumed once (§3)

	claims := make([]string, len(capsule.Claims))
	for i, cl := range capsule.Claims {
		claims[i] = cl.Text
	}
	sources := make([]string, len(capsule.Sources))
	for i, src := range capsule.Sources {
		sources[i] = src.URL
	}

	return promptbuilder.ContextBlock{
		Priority: promptbuilder.PriorityMedium,
		Text: preprocessor.Render(preprocessor.Block{
			Type:    "research_capsule",
			Extra:   map[string]any{"claims": claims, "sources": sources},
		}),
	}, true
}

// contextBlockCollector lets gather goroutines append concurrently without
// racing on a shared slice.
type contextBlockCollector struct {
	mu    sync.Mutex
	items []promptbuilder.ContextBlock
}

func (c *contextBlockCollector) add(b promptbuilder.ContextBlock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, b)
}

func (c *contextBlockCollector) drain() []promptbuilder.ContextBlock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items
}
