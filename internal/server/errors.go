package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"sidetrack/internal/apperr"
)

// writeError maps the shared error taxonomy onto HTTP statuses. Validation
// and precondition failures are 400-class and never retried; backend-capacity
// carries a retry hint; everything unclassified is operational.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
	case errors.Is(err, apperr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, apperr.ErrNotARepository):
		c.JSON(http.StatusBadRequest, gin.H{"error": "not_a_repository", "message": err.Error()})
	case errors.Is(err, apperr.ErrNoCommits):
		c.JSON(http.StatusBadRequest, gin.H{"error": "no_commits", "message": err.Error()})
	case errors.Is(err, apperr.ErrWorkspaceMissing):
		c.JSON(http.StatusConflict, gin.H{"error": "workspace_missing", "message": err.Error()})
	case errors.Is(err, apperr.ErrMergeConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "merge_conflict", "message": err.Error()})
	case errors.Is(err, apperr.ErrBackendCapacity):
		c.Header("Retry-After", "30")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited", "message": err.Error()})
	case errors.Is(err, apperr.ErrBackendRejected):
		c.JSON(http.StatusBadGateway, gin.H{"error": "backend_rejected", "message": err.Error()})
	case errors.Is(err, apperr.ErrBackendTransport):
		c.JSON(http.StatusBadGateway, gin.H{"error": "backend_transport", "message": err.Error()})
	default:
		slog.Error("unclassified request failure", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "operational_error", "message": err.Error()})
	}
}
