package memoryapi

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/tarsync/memoryplane/pkg/memory"
)

// mapServiceError maps memory-package errors to HTTP responses, the bind →
// validate → call → map pattern used throughout this API layer.
func mapServiceError(err error) *echo.HTTPError {
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return echo.NewHTTPError(http.StatusBadRequest, valErr.Error())
	}
	if errors.Is(err, memory.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "memory not found")
	}

	slog.Error("unexpected memory service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

// ValidationError reports a malformed request body or query parameter.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}
