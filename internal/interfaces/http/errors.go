package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"wabot/internal/entities"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, entities.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, entities.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, entities.ErrExternalProvider):
		return http.StatusBadGateway
	case errors.Is(err, entities.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entities.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, entities.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, entities.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	_ = c.Error(err)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "http.internal_error", "error", err, "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
