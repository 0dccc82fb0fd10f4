package memoryapi

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

// listConversations handles GET /conversations?userId=&limit= — the most
// recently updated thread summaries for a user, newest first.
func (s *Server) listConversations(c *echo.Context) error {
	userID := c.QueryParam("userId")
	if userID == "" {
		return mapServiceError(&ValidationError{Field: "userId", Message: "required"})
	}

	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	headers, err := s.repo.ConversationHeaders(c.Request().Context(), userID, limit)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, headers)
}
