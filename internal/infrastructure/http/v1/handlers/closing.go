package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/closing"
	"stockledger/internal/infrastructure/http/v1/dto"
)

// ClosingService is the part of closing.Service the API exposes.
type ClosingService interface {
	Create(ctx context.Context, req closing.CreateRequest) (*entity.StockClosingEntry, error)
	Get(ctx context.Context, closingID id.ID) (*entity.StockClosingEntry, error)
	List(ctx context.Context, company string, limit int) ([]entity.StockClosingEntry, error)
	Balances(ctx context.Context, closingID id.ID) ([]entity.StockClosingBalance, error)
	Regenerate(ctx context.Context, closingID id.ID) (*entity.StockClosingEntry, error)
	Cancel(ctx context.Context, closingID id.ID) (*entity.StockClosingEntry, error)
	CreateMonthEnd(ctx context.Context, company string, asOf time.Time) (*entity.StockClosingEntry, error)
}

// ClosingHandler handles stock closing entries.
type ClosingHandler struct {
	*BaseHandler
	service ClosingService
}

// NewClosingHandler creates a new closing handler.
func NewClosingHandler(base *BaseHandler, service ClosingService) *ClosingHandler {
	return &ClosingHandler{BaseHandler: base, service: service}
}

// Create handles POST /closings
func (h *ClosingHandler) Create(c *gin.Context) {
	var req dto.CreateClosingRequest
	if !h.BindJSON(c, &req) {
		return
	}
	domainReq, err := req.ToDomain()
	if err != nil {
		h.Error(c, err)
		return
	}

	entry, err := h.service.Create(c.Request.Context(), domainReq)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.CreatedJSON(c, entry)
}

// MonthEnd handles POST /closings/month-end?company=&asOf=
func (h *ClosingHandler) MonthEnd(c *gin.Context) {
	company := c.Query("company")
	asOf, ok := h.ParseDateQuery(c, "asOf")
	if !ok {
		return
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	entry, err := h.service.CreateMonthEnd(c.Request.Context(), company, asOf)
	if err != nil {
		h.Error(c, err)
		return
	}
	if entry == nil {
		h.Success(c, "month already closed")
		return
	}
	h.CreatedJSON(c, entry)
}

// List handles GET /closings
func (h *ClosingHandler) List(c *gin.Context) {
	var req dto.ListClosingsRequest
	if !h.BindQuery(c, &req) {
		return
	}
	entries, err := h.service.List(c.Request.Context(), req.Company, req.Limit)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(entries))
}

// Get handles GET /closings/:id
func (h *ClosingHandler) Get(c *gin.Context) {
	closingID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	entry, err := h.service.Get(c.Request.Context(), closingID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, entry)
}

// Balances handles GET /closings/:id/balances
func (h *ClosingHandler) Balances(c *gin.Context) {
	closingID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	rows, err := h.service.Balances(c.Request.Context(), closingID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(rows))
}

// Regenerate handles POST /closings/:id/regenerate
func (h *ClosingHandler) Regenerate(c *gin.Context) {
	closingID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	entry, err := h.service.Regenerate(c.Request.Context(), closingID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, entry)
}

// Cancel handles POST /closings/:id/cancel
func (h *ClosingHandler) Cancel(c *gin.Context) {
	closingID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	entry, err := h.service.Cancel(c.Request.Context(), closingID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, entry)
}

// RegisterRoutes registers closing routes.
func (h *ClosingHandler) RegisterRoutes(rg *gin.RouterGroup) {
	closings := rg.Group("/closings")
	closings.POST("", h.Create)
	closings.POST("/month-end", h.MonthEnd)
	closings.GET("", h.List)
	closings.GET("/:id", h.Get)
	closings.GET("/:id/balances", h.Balances)
	closings.POST("/:id/regenerate", h.Regenerate)
	closings.POST("/:id/cancel", h.Cancel)
}
