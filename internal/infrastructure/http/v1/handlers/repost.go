package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
)

// RepostService is the part of repost.Service the API exposes.
type RepostService interface {
	Get(ctx context.Context, jobID id.ID) (*entity.RepostJob, error)
	Retry(ctx context.Context, jobID id.ID) (*entity.RepostJob, error)
}

// RepostHandler exposes deferred repost jobs.
type RepostHandler struct {
	*BaseHandler
	service RepostService
}

// NewRepostHandler creates a new repost handler.
func NewRepostHandler(base *BaseHandler, service RepostService) *RepostHandler {
	return &RepostHandler{BaseHandler: base, service: service}
}

// Get handles GET /repost-jobs/:id
func (h *RepostHandler) Get(c *gin.Context) {
	jobID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	job, err := h.service.Get(c.Request.Context(), jobID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, job)
}

// Retry handles POST /repost-jobs/:id/retry
func (h *RepostHandler) Retry(c *gin.Context) {
	jobID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	job, err := h.service.Retry(c.Request.Context(), jobID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, job)
}

// RegisterRoutes registers repost job routes.
func (h *RepostHandler) RegisterRoutes(rg *gin.RouterGroup) {
	jobs := rg.Group("/repost-jobs")
	jobs.GET("/:id", h.Get)
	jobs.POST("/:id/retry", h.Retry)
}
