package memoryapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/tarsync/memoryplane/pkg/memory"
)

// recall handles GET /recall?userId=&query=&threadId=&maxItems=&deadlineMs=
// (§4.3). The hard soft-deadline means this handler never returns an error
// for a slow or failed search leg — only a malformed request fails.
func (s *Server) recall(c *echo.Context) error {
	userID := c.QueryParam("userId")
	query := c.QueryParam("query")
	if userID == "" || query == "" {
		return mapServiceError(&ValidationError{Message: "userId and query are required"})
	}

	req := memory.RecallRequest{UserID: userID, Query: query}

	if tid := c.QueryParam("threadId"); tid != "" {
		threadID, err := uuid.Parse(tid)
		if err != nil {
			return mapServiceError(&ValidationError{Field: "threadId", Message: "must be a valid uuid"})
		}
		req.CurrentThread = threadID
	}
	if v := c.QueryParam("maxItems"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			req.MaxItems = n
		}
	}
	if v := c.QueryParam("deadlineMs"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			req.Deadline = time.Duration(n) * time.Millisecond
		}
	}

	results := s.engine.Recall(c.Request().Context(), req)
	return c.JSON(http.StatusOK, results)
}
