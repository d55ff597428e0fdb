// Package context carries request metadata through ledger operations and
// background jobs, so log lines and audit records can name their origin.
package context

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// SystemActor names work that no caller started, such as scheduled closings.
const SystemActor = "system"

// Request identifies the call a ledger mutation belongs to.
type Request struct {
	ID      string
	TraceID string
	// Actor is the user or service that submitted the request.
	Actor string
}

type requestKey struct{}

// WithRequest attaches r to ctx.
func WithRequest(ctx context.Context, r *Request) context.Context {
	return context.WithValue(ctx, requestKey{}, r)
}

// FromContext returns the request of ctx, or nil.
func FromContext(ctx context.Context) *Request {
	r, _ := ctx.Value(requestKey{}).(*Request)
	return r
}

// RequestID returns the request id of ctx or "".
func RequestID(ctx context.Context) string {
	if r := FromContext(ctx); r != nil {
		return r.ID
	}
	return ""
}

// TraceID prefers the request's trace id and falls back to the active span.
func TraceID(ctx context.Context) string {
	if r := FromContext(ctx); r != nil && r.TraceID != "" {
		return r.TraceID
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Actor returns who started the work in ctx.
func Actor(ctx context.Context) string {
	if r := FromContext(ctx); r != nil && r.Actor != "" {
		return r.Actor
	}
	return SystemActor
}
