package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	appctx "stockledger/internal/core/context"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
	// HeaderActor names the user or service behind a request; it ends up in audit records.
	HeaderActor = "X-Actor"
)

var tracer = otel.Tracer("stockledger/http")

// Trace opens a span per request and attaches request metadata to the context.
// Missing request and trace ids are generated and echoed back.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+c.FullPath(),
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		req := &appctx.Request{
			ID:      c.GetHeader(HeaderRequestID),
			TraceID: c.GetHeader(HeaderTraceID),
			Actor:   c.GetHeader(HeaderActor),
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}
		if req.TraceID == "" {
			req.TraceID = appctx.TraceID(ctx)
		}
		if req.TraceID == "" {
			req.TraceID = uuid.New().String()
		}
		span.SetAttributes(
			attribute.String("request.id", req.ID),
			attribute.String("request.actor", appctx.Actor(appctx.WithRequest(ctx, req))),
		)

		c.Request = c.Request.WithContext(appctx.WithRequest(ctx, req))
		c.Set("request_id", req.ID)
		c.Set("trace_id", req.TraceID)

		c.Header(HeaderRequestID, req.ID)
		c.Header(HeaderTraceID, req.TraceID)

		c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
	}
}
