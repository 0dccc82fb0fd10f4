package memoryapi

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// getProfile handles GET /profile?userId= — the user's distilled profile
// JSON, or an empty object if the audit pipeline has not built one yet.
func (s *Server) getProfile(c *echo.Context) error {
	userID := c.QueryParam("userId")
	if userID == "" {
		return mapServiceError(&ValidationError{Field: "userId", Message: "required"})
	}

	profile, err := s.repo.Profile(c.Request().Context(), userID)
	if err != nil {
		return mapServiceError(err)
	}
	if profile == nil {
		return c.JSON(http.StatusOK, map[string]string{"userId": userID, "profile": "{}"})
	}
	return c.JSON(http.StatusOK, profile)
}
