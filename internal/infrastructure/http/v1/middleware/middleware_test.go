package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
	"stockledger/pkg/logger"
)

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(), Trace(), Logger(logger.Nop()), ErrorHandler())
	return r
}

func serve(r http.Handler, method, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestRecovery_RendersInternalError(t *testing.T) {
	r := newEngine()
	r.GET("/vouchers/:no", func(*gin.Context) { panic("lot table corrupt") })

	rr := serve(r, http.MethodGet, "/vouchers/DN-1")
	require.Equal(t, http.StatusInternalServerError, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, apperror.CodeInternal, body["code"])
	assert.NotContains(t, rr.Body.String(), "lot table corrupt")
	assert.NotEmpty(t, rr.Header().Get(HeaderRequestID))
}

func TestErrorHandler_KeepsLedgerCodes(t *testing.T) {
	r := newEngine()
	r.POST("/closings", func(c *gin.Context) {
		_ = c.Error(apperror.NewConflict("closing is InProgress"))
		c.Abort()
	})

	rr := serve(r, http.MethodPost, "/closings")
	require.Equal(t, http.StatusConflict, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, apperror.CodeConflict, body["code"])
	assert.Equal(t, "closing is InProgress", body["message"])
}
