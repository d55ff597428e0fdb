package handlers

import (
	"github.com/gin-gonic/gin"

	"stockledger/internal/domain/audit"
	"stockledger/internal/infrastructure/http/v1/dto"
)

// AuditHandler exposes the audit trail of ledger keys, vouchers and closings.
type AuditHandler struct {
	*BaseHandler
	reader audit.Reader
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(base *BaseHandler, reader audit.Reader) *AuditHandler {
	return &AuditHandler{BaseHandler: base, reader: reader}
}

// History handles GET /audit/:entityType/*entityId
func (h *AuditHandler) History(c *gin.Context) {
	entityID := c.Param("entityId")
	if len(entityID) > 0 && entityID[0] == '/' {
		entityID = entityID[1:]
	}
	limit := h.QueryLimit(c, 50, 500)

	entries, err := h.reader.History(c.Request.Context(), c.Param("entityType"), entityID, limit)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(entries))
}

// RegisterRoutes registers audit routes.
func (h *AuditHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/audit/:entityType/*entityId", h.History)
}
