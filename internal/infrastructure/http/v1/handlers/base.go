// Package handlers maps the ledger API onto the domain services. Handlers
// never render errors themselves: they attach them to the gin context and
// middleware.ErrorHandler writes the response.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/infrastructure/http/v1/dto"
)

// BaseHandler is embedded by every resource handler.
type BaseHandler struct{}

func NewBaseHandler() *BaseHandler { return &BaseHandler{} }

// Error aborts the request with err.
func (h *BaseHandler) Error(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	return h.bind(c, c.ShouldBindJSON(obj), "invalid request body")
}

func (h *BaseHandler) BindQuery(c *gin.Context, obj any) bool {
	return h.bind(c, c.ShouldBindQuery(obj), "invalid query parameters")
}

func (h *BaseHandler) bind(c *gin.Context, err error, msg string) bool {
	if err == nil {
		return true
	}
	h.Error(c, apperror.NewValidation(msg).WithDetail("error", err.Error()))
	return false
}

// QueryLimit reads the "limit" query parameter, falling back to def when it
// is missing, malformed or outside 1..max.
func (h *BaseHandler) QueryLimit(c *gin.Context, def, max int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n < 1 || n > max {
		return def
	}
	return n
}

func (h *BaseHandler) ParseID(c *gin.Context, param string) (id.ID, bool) {
	raw := c.Param(param)
	parsed, err := id.Parse(raw)
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid "+param).WithDetail(param, raw))
		return id.Nil(), false
	}
	return parsed, true
}

// ParseDateQuery reads an optional date query parameter; empty means zero time.
func (h *BaseHandler) ParseDateQuery(c *gin.Context, key string) (time.Time, bool) {
	t, err := dto.ParseDate(key, c.Query(key))
	if err != nil {
		h.Error(c, err)
		return time.Time{}, false
	}
	return t, true
}

func (h *BaseHandler) OK(c *gin.Context, data any) { c.JSON(http.StatusOK, data) }

func (h *BaseHandler) CreatedJSON(c *gin.Context, data any) { c.JSON(http.StatusCreated, data) }

// Success answers 200 with a bare message, for requests that had nothing to do.
func (h *BaseHandler) Success(c *gin.Context, message string) {
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Message: message})
}
