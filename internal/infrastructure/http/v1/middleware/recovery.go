// Package middleware holds the gin middleware of the ledger API.
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockledger/internal/core/apperror"
	"stockledger/pkg/logger"
)

// Recovery turns a panic into a 500. The stack goes to the log and the span,
// never to the client.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			ctx := c.Request.Context()
			err := fmt.Errorf("panic: %v", r)

			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, "panic")

			fields := []any{"error", r, "route", c.FullPath(), "stack", string(debug.Stack())}
			for _, p := range c.Params {
				fields = append(fields, "param_"+p.Key, p.Value)
			}
			logger.Error(ctx, "panic recovered", fields...)

			// the error handler sits inside this middleware and has already unwound
			_ = c.Error(apperror.NewInternal(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":    apperror.CodeInternal,
				"message": "Internal server error",
				"details": gin.H{"request_id": c.GetString("request_id")},
			})
		}()
		c.Next()
	}
}
