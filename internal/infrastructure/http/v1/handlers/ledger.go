package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"stockledger/internal/core/entity"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/infrastructure/http/v1/dto"
)

// LedgerService is the part of ledger.Service the API exposes.
type LedgerService interface {
	SubmitMovement(ctx context.Context, v ledger.Voucher) (*ledger.SubmitResult, error)
	CancelMovement(ctx context.Context, voucherType, voucherNo string) (*ledger.CancelResult, error)
	ListVoucherEntries(ctx context.Context, voucherType, voucherNo string) ([]entity.StockLedgerEntry, error)
	GetBalance(ctx context.Context, q ledger.BalanceQuery) (*ledger.Balance, error)
	VerifyBalance(ctx context.Context, key entity.LedgerKey, asOf time.Time) (*ledger.BalanceCheck, error)
}

// LedgerHandler handles voucher submission, cancellation and balance reads.
type LedgerHandler struct {
	*BaseHandler
	service LedgerService
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(base *BaseHandler, service LedgerService) *LedgerHandler {
	return &LedgerHandler{BaseHandler: base, service: service}
}

// Submit handles POST /vouchers
func (h *LedgerHandler) Submit(c *gin.Context) {
	var v ledger.Voucher
	if !h.BindJSON(c, &v) {
		return
	}

	result, err := h.service.SubmitMovement(c.Request.Context(), v)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.CreatedJSON(c, result)
}

// Cancel handles POST /vouchers/:type/:no/cancel
func (h *LedgerHandler) Cancel(c *gin.Context) {
	result, err := h.service.CancelMovement(c.Request.Context(), c.Param("type"), c.Param("no"))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, result)
}

// Entries handles GET /vouchers/:type/:no/entries
func (h *LedgerHandler) Entries(c *gin.Context) {
	entries, err := h.service.ListVoucherEntries(c.Request.Context(), c.Param("type"), c.Param("no"))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(dto.FromEntries(entries)))
}

func (h *LedgerHandler) bindBalance(c *gin.Context) (dto.BalanceRequest, time.Time, bool) {
	var req dto.BalanceRequest
	if !h.BindQuery(c, &req) {
		return req, time.Time{}, false
	}
	asOf, err := dto.ParseDate("asOf", req.AsOf)
	if err != nil {
		h.Error(c, err)
		return req, time.Time{}, false
	}
	return req, asOf, true
}

// Balance handles GET /balances
func (h *LedgerHandler) Balance(c *gin.Context) {
	req, asOf, ok := h.bindBalance(c)
	if !ok {
		return
	}

	balance, err := h.service.GetBalance(c.Request.Context(), ledger.BalanceQuery{
		ItemCode:    req.ItemCode,
		Warehouse:   req.Warehouse,
		BatchNo:     req.BatchNo,
		AsOf:        asOf,
		AllowCached: req.Cached,
	})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, balance)
}

// Verify handles GET /balances/verify
func (h *LedgerHandler) Verify(c *gin.Context) {
	req, asOf, ok := h.bindBalance(c)
	if !ok {
		return
	}

	key := entity.LedgerKey{ItemCode: req.ItemCode, Warehouse: req.Warehouse, BatchNo: req.BatchNo}
	check, err := h.service.VerifyBalance(c.Request.Context(), key, asOf)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, check)
}

// RegisterRoutes registers voucher and balance routes.
func (h *LedgerHandler) RegisterRoutes(rg *gin.RouterGroup) {
	vouchers := rg.Group("/vouchers")
	vouchers.POST("", h.Submit)
	vouchers.POST("/:type/:no/cancel", h.Cancel)
	vouchers.GET("/:type/:no/entries", h.Entries)

	balances := rg.Group("/balances")
	balances.GET("", h.Balance)
	balances.GET("/verify", h.Verify)
}
