package memoryapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/tarsync/memoryplane/pkg/memory"
	"github.com/tarsync/memoryplane/pkg/models"
)

// maxContentChars is the §3 invariant on Memory.Content, enforced here so an
// over-length request fails as a ValidationError rather than surfacing as a
// StorageError off the database's own CHECK constraint (§8 boundary
// behavior: "Memory content longer than 1024 chars is rejected with
// ValidationError").
const maxContentChars = 1024

type createMemoryRequest struct {
	UserID   string  `json:"userId"`
	ThreadID string  `json:"threadId"`
	Content  string  `json:"content"`
	Priority float64 `json:"priority"`
	Tier     string  `json:"tier"`
}

// createMemory handles POST /memories: an explicit, user-authored memory.
// Redacts PII before anything else touches the content (§4.2 "Runs
// redaction, then the deduplication path"), then runs the same dedup path
// the audit pipeline uses (§4.2.2).
func (s *Server) createMemory(c *echo.Context) error {
	var req createMemoryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" || req.Content == "" {
		return mapServiceError(&ValidationError{Message: "userId and content are required"})
	}
	if len(req.Content) > maxContentChars {
		return mapServiceError(&ValidationError{Field: "content", Message: "must be at most 1024 characters"})
	}
	threadID, err := uuid.Parse(req.ThreadID)
	if err != nil {
		return mapServiceError(&ValidationError{Field: "threadId", Message: "must be a valid uuid"})
	}
	tier := models.Tier(req.Tier)
	if tier == "" {
		tier = models.TierT3
	}

	ctx := c.Request().Context()
	content, redactionMap := s.masker.RedactWithMap(req.Content, "pii")

	candidate := s.engine.PrepareCandidate(ctx, content, threadID)
	candidate.RedactionMap = redactionMap

	recent, err := s.repo.Recent(ctx, req.UserID, 0)
	if err != nil {
		return mapServiceError(err)
	}

	now := time.Now()
	if existing := s.engine.Dedupe(ctx, candidate, recent); existing != nil {
		updated := memory.Merge(existing, candidate, now)
		if err := s.repo.Update(ctx, updated); err != nil {
			return mapServiceError(err)
		}
		return c.JSON(http.StatusOK, updated)
	}

	priority := req.Priority
	if priority == 0 {
		priority = 0.5
	}
	m := &models.Memory{
		ID:           uuid.New(),
		UserID:       req.UserID,
		ThreadID:     threadID,
		Content:      content,
		Normalized:   candidate.Normalized,
		Tier:         tier,
		Priority:     priority,
		Confidence:   0.8,
		RedactionMap: redactionMap,
		Repeats:      1,
		ThreadSet:    []uuid.UUID{threadID},
		LastSeenTS:   now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Insert(ctx, m); err != nil {
		return mapServiceError(err)
	}
	s.engine.Index(ctx, m)
	return c.JSON(http.StatusCreated, m)
}

// listMemories handles GET /memories?userId=&threadId=.
func (s *Server) listMemories(c *echo.Context) error {
	userID := c.QueryParam("userId")
	if userID == "" {
		return mapServiceError(&ValidationError{Field: "userId", Message: "required"})
	}

	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	ctx := c.Request().Context()
	if tid := c.QueryParam("threadId"); tid != "" {
		threadID, err := uuid.Parse(tid)
		if err != nil {
			return mapServiceError(&ValidationError{Field: "threadId", Message: "must be a valid uuid"})
		}
		mems, err := s.repo.ByThread(ctx, userID, threadID)
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(http.StatusOK, mems)
	}

	mems, err := s.repo.Recent(ctx, userID, limit)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, mems)
}

type patchMemoryRequest struct {
	Content  *string  `json:"content"`
	Priority *float64 `json:"priority"`
	Tier     *string  `json:"tier"`
	Deleted  *bool    `json:"deleted"`
}

// patchMemory handles PATCH /memories/:id — partial update, including
// soft-delete via {"deleted": true} (§4.2.3 "soft-delete only").
func (s *Server) patchMemory(c *echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return mapServiceError(&ValidationError{Field: "id", Message: "must be a valid uuid"})
	}
	var req patchMemoryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return mapServiceError(err)
	}

	contentChanged := req.Content != nil
	if contentChanged {
		content, redactionMap := s.masker.RedactWithMap(*req.Content, "pii")
		m.Content = content
		m.Normalized = memory.Normalize(content)
		m.RedactionMap = redactionMap
	}
	if req.Priority != nil {
		m.Priority = *req.Priority
	}
	if req.Tier != nil {
		m.Tier = models.Tier(*req.Tier)
	}
	if req.Deleted != nil {
		if *req.Deleted {
			now := time.Now()
			m.DeletedAt = &now
		} else {
			m.DeletedAt = nil
		}
	}
	m.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, m); err != nil {
		return mapServiceError(err)
	}
	if contentChanged {
		s.engine.Index(ctx, m)
	}
	return c.JSON(http.StatusOK, m)
}
