package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/contribution-mirror/internal/aggregator"
	"github.com/kurihiro0119/contribution-mirror/internal/domain"
	apperrors "github.com/kurihiro0119/contribution-mirror/internal/errors"
	"github.com/kurihiro0119/contribution-mirror/internal/storage"
)

// maxListLimit bounds the limit query parameter
const maxListLimit = 500

// Handler handles API requests
type Handler struct {
	storage    storage.Storage
	aggregator aggregator.Aggregator
}

// NewHandler creates a new API handler
func NewHandler(store storage.Storage, agg aggregator.Aggregator) *Handler {
	return &Handler{
		storage:    store,
		aggregator: agg,
	}
}

// ListRuns returns the most recent runs
// GET /api/v1/runs?limit=n
func (h *Handler) ListRuns(c *gin.Context) {
	limit := storage.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			respondError(c, apperrors.NewBadRequestError("limit must be between 1 and 500"))
			return
		}
		limit = n
	}

	runs, err := h.storage.ListRuns(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": runs,
	})
}

// GetRun returns one run
// GET /api/v1/runs/:id
func (h *Handler) GetRun(c *gin.Context) {
	id := c.Param("id")

	run, err := h.storage.GetRun(c.Request.Context(), id)
	if err != nil {
		respondError(c, notFound(err, "run "+id))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": run,
	})
}

// GetRunCommits returns the commits a run created, in replay order
// GET /api/v1/runs/:id/commits
func (h *Handler) GetRunCommits(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if _, err := h.storage.GetRun(ctx, id); err != nil {
		respondError(c, notFound(err, "run "+id))
		return
	}

	commits, err := h.storage.GetCommits(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if commits == nil {
		commits = []domain.CommitRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data": commits,
	})
}

// GetSummary returns ledger statistics
// GET /api/v1/summary
func (h *Handler) GetSummary(c *gin.Context) {
	summary, err := h.aggregator.Summarize(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": summary,
	})
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func notFound(err error, resource string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NewNotFoundError(resource)
	}
	return err
}

// respondError writes the error envelope
func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeBadRequest:
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    apperrors.ErrCodeInternal,
			"message": err.Error(),
		},
	})
}
