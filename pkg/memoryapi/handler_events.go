package memoryapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/tarsync/memoryplane/pkg/models"
	"github.com/tarsync/memoryplane/pkg/recall"
)

type messageEventRequest struct {
	UserID    string `json:"userId"`
	ThreadID  string `json:"threadId"`
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	TokensIn  int    `json:"tokensIn"`
	TokensOut int    `json:"tokensOut"`
}

// recordMessageEvent handles POST /events/message — a fire-and-forget
// ingest that feeds the cadence tracker and, once a threshold trips,
// enqueues an audit job (§4.2 "POST /events/message", §4.2.1).
func (s *Server) recordMessageEvent(c *echo.Context) error {
	var req messageEventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" || req.ThreadID == "" {
		return mapServiceError(&ValidationError{Message: "userId and threadId are required"})
	}
	threadID, err := uuid.Parse(req.ThreadID)
	if err != nil {
		return mapServiceError(&ValidationError{Field: "threadId", Message: "must be a valid uuid"})
	}

	tokens := req.TokensIn + req.TokensOut
	due := s.cadence.Record(threadID, tokens, time.Now())

	if due {
		go s.runAuditAsync(req.UserID, threadID)
	}

	return c.NoContent(http.StatusAccepted)
}

// runAuditAsync runs the audit pipeline detached from the request, so a
// slow LLM summary call never holds up the message-event response. Audit
// failures are logged, never surfaced — the next cadence trigger tries
// again.
func (s *Server) runAuditAsync(userID string, threadID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if _, err := s.auditor.Run(ctx, userID, threadID); err != nil {
		slog.Error("async audit run failed", "error", err, "user_id", userID, "thread_id", threadID)
	}

	if err := recall.Enqueue(ctx, s.pool, models.JobEmbedding, userID, threadID, nil); err != nil {
		slog.Warn("enqueue post-audit embedding job failed", "error", err)
	}
}
