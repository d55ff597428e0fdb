package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"stockledger/internal/domain/reports"
	"stockledger/internal/infrastructure/export"
	"stockledger/internal/infrastructure/http/v1/dto"
)

// ReportsService is the part of reports.Service the API exposes.
type ReportsService interface {
	BatchBalance(ctx context.Context, f reports.BatchBalanceFilter) (*reports.BatchBalanceReport, error)
	StockTurnover(ctx context.Context, f reports.StockTurnoverFilter) (*reports.StockTurnoverReport, error)
}

// ReportsHandler handles HTTP requests for reports.
type ReportsHandler struct {
	*BaseHandler
	service ReportsService
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(base *BaseHandler, service ReportsService) *ReportsHandler {
	return &ReportsHandler{
		BaseHandler: base,
		service:     service,
	}
}

// GetBatchBalance handles GET /reports/batch-balance
func (h *ReportsHandler) GetBatchBalance(c *gin.Context) {
	var req dto.BatchBalanceRequest
	if !h.BindQuery(c, &req) {
		return
	}
	filter, err := req.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}

	report, err := h.service.BatchBalance(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}

	if req.Format == dto.FormatXLSX {
		h.attachment(c, "batch-balance", report.ToDate, func(buf *bytes.Buffer) error {
			return export.WriteBatchBalance(buf, report)
		})
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetStockTurnover handles GET /reports/stock-turnover
func (h *ReportsHandler) GetStockTurnover(c *gin.Context) {
	var req dto.StockTurnoverRequest
	if !h.BindQuery(c, &req) {
		return
	}
	filter, err := req.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}

	report, err := h.service.StockTurnover(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}

	if req.Format == dto.FormatXLSX {
		h.attachment(c, "stock-turnover", report.ToDate, func(buf *bytes.Buffer) error {
			return export.WriteTurnover(buf, report)
		})
		return
	}
	c.JSON(http.StatusOK, report)
}

// attachment renders a workbook fully before writing, so a failure still
// produces a JSON error instead of a truncated file.
func (h *ReportsHandler) attachment(c *gin.Context, name string, day time.Time, render func(*bytes.Buffer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		h.Error(c, fmt.Errorf("render %s: %w", name, err))
		return
	}
	filename := fmt.Sprintf("%s-%s.xlsx", name, day.Format(time.DateOnly))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, export.ContentTypeXLSX, buf.Bytes())
}

// RegisterRoutes registers report routes.
func (h *ReportsHandler) RegisterRoutes(rg *gin.RouterGroup) {
	reportsGroup := rg.Group("/reports")
	reportsGroup.GET("/batch-balance", h.GetBatchBalance)
	reportsGroup.GET("/stock-turnover", h.GetStockTurnover)
}
