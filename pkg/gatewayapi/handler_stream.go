package gatewayapi

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tarsync/memoryplane/pkg/llm"
	"github.com/tarsync/memoryplane/pkg/memoryclient"
	"github.com/tarsync/memoryplane/pkg/models"
	"github.com/tarsync/memoryplane/pkg/recall"
	"github.com/tarsync/memoryplane/pkg/router"
	"github.com/tarsync/memoryplane/pkg/sse"
)

// stream opens the routed completion, relays it as delta events, and on
// completion persists the turn and fires the background bookkeeping that
// must not block the response (§4.1 steps 7-9). Concurrently with relaying
// tokens it races the capsule injector (§4.10): whichever of "first token"
// or "capsule found" happens first wins the ordering, and the loser's
// signal is dropped — a capsule found after the first token never gets
// emitted, since the ordering guarantee (§5) forbids a research_capsule
// after a delta has already gone out.
func (s *Server) stream(ctx context.Context, w *sse.Writer, decision router.Decision, messages []llm.Message, userID string, threadID uuid.UUID, req chatRequest) {
	// writeMu serializes every write to w: the injector goroutine's
	// ResearchCapsule call and this function's own Delta/Error/Done calls
	// would otherwise race on the same connection (sse.Writer is documented
	// as single-writer). tokenSent additionally enforces the §5 ordering
	// guarantee itself: once true, a late capsule is dropped rather than
	// written out of order.
	var writeMu sync.Mutex
	tokenSent := false

	stop := make(chan struct{})
	var stopOnce sync.Once
	closeStop := func() { stopOnce.Do(func() { close(stop) }) }

	if s.injector != nil {
		requestStart := time.Now()
		go s.injector.Watch(ctx, threadID, requestStart, stop, func(capsule models.ResearchCapsule) error {
			writeMu.Lock()
			defer writeMu.Unlock()
			if tokenSent {
				return nil // dropped: a delta already went out (§5 ordering)
			}
			claims := make([]string, len(capsule.Claims))
			for i, cl := range capsule.Claims {
				claims[i] = cl.Text
			}
			sources := make([]string, len(capsule.Sources))
			for i, src := range capsule.Sources {
				sources[i] = src.URL
			}
			return w.ResearchCapsule(map[string]any{
				"claims":   claims,
				"sources":  sources,
				"entities": capsule.Entities,
			})
		})
	}

	chunks, errCh := s.llmRouter.Stream(ctx, llm.Request{
		Provider:  decision.Provider,
		Model:     decision.Model,
		Messages:  messages,
		MaxTokens: decision.MaxTokens,
	})

	var reply strings.Builder
	var streamErr error

drain:
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				break drain
			}
			reply.WriteString(chunk.Text)
			writeMu.Lock()
			tokenSent = true
			err := w.Delta(chunk.Text)
			writeMu.Unlock()
			closeStop() // no point polling further once a token went out
			if err != nil {
				slog.Warn("sse delta write failed", "error", err)
				break drain
			}
			if chunk.Done {
				break drain
			}
		case err, ok := <-errCh:
			if ok && err != nil {
				streamErr = err
			}
			break drain
		}
	}
	closeStop()

	writeMu.Lock()
	defer writeMu.Unlock()
	if streamErr != nil {
		_ = w.Error("upstream_failure", streamErr.Error())
		_ = w.Done()
		slog.Error("llm stream failed", "error", streamErr, "provider", decision.Provider, "model", decision.Model)
		return
	}
	_ = w.Done()

	go s.persistTurn(userID, threadID, req, reply.String(), decision)
}

// persistTurn runs detached from the request: appending to messages and
// conversation_messages, rolling the cost ledger, enqueueing any
// unlimited-recall jobs the new counters trip, and notifying the memory
// service of the new message for its cadence tracker (§4.1 step 9).
func (s *Server) persistTurn(userID string, threadID uuid.UUID, req chatRequest, reply string, decision router.Decision) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	userTokens := s.counter.Count(req.Message)
	replyTokens := s.counter.Count(reply)

	now := time.Now()
	userMsg := &models.Message{
		ID: uuid.New(), ThreadID: threadID, UserID: userID,
		Role: models.RoleUser, Content: req.Message, CreatedAt: now, TokensIn: userTokens,
	}
	assistantMsg := &models.Message{
		ID: uuid.New(), ThreadID: threadID, UserID: userID,
		Role: models.RoleAssistant, Content: reply, CreatedAt: now.Add(time.Millisecond),
		TokensOut: replyTokens, Provider: decision.Provider, Model: decision.Model,
	}

	if err := s.store.InsertMessage(ctx, userMsg); err != nil {
		slog.Error("persist user message failed", "error", err, "thread_id", threadID)
	}
	if err := s.store.InsertMessage(ctx, assistantMsg); err != nil {
		slog.Error("persist assistant message failed", "error", err, "thread_id", threadID)
	}
	if err := s.store.RecordCost(ctx, threadID, userID, decision.Provider, decision.Model, userTokens, replyTokens, 0); err != nil {
		slog.Warn("record cost failed", "error", err)
	}

	if err := s.store.CaptureTurn(ctx, threadID, userID, string(models.RoleUser), req.Message, userTokens); err != nil {
		slog.Warn("capture user turn failed", "error", err)
	}
	if err := s.store.CaptureTurn(ctx, threadID, userID, string(models.RoleAssistant), reply, replyTokens); err != nil {
		slog.Warn("capture assistant turn failed", "error", err)
	}

	counters, err := s.store.Counters(ctx, threadID)
	if err != nil {
		slog.Warn("read conversation counters failed", "error", err)
	} else if err := recall.EnqueueDue(ctx, s.pool, userID, threadID, counters.MessageCount); err != nil {
		slog.Warn("enqueue due recall jobs failed", "error", err)
	}

	if err := s.memClient.RecordMessageEvent(ctx, memoryclient.MessageEvent{
		UserID: userID, ThreadID: threadID.String(), MessageID: assistantMsg.ID.String(),
		Role: string(models.RoleAssistant), Content: reply, TokensIn: userTokens, TokensOut: replyTokens,
	}); err != nil {
		slog.Warn("record message event failed", "error", err)
	}
}
