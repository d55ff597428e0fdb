package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func TestRequest_Defaults(t *testing.T) {
	ctx := context.Background()

	assert.Nil(t, FromContext(ctx))
	assert.Empty(t, RequestID(ctx))
	assert.Empty(t, TraceID(ctx))
	assert.Equal(t, SystemActor, Actor(ctx))
}

func TestRequest_Values(t *testing.T) {
	ctx := WithRequest(context.Background(), &Request{ID: "req-1", TraceID: "trace-1", Actor: "stock.manager"})

	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, "trace-1", TraceID(ctx))
	assert.Equal(t, "stock.manager", Actor(ctx))
}

func TestTraceID_FromSpan(t *testing.T) {
	tid := trace.TraceID{0x01, 0x02, 0x03}
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: trace.SpanID{0x01}})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	assert.Equal(t, tid.String(), TraceID(ctx))

	ctx = WithRequest(ctx, &Request{ID: "req-2"})
	assert.Equal(t, tid.String(), TraceID(ctx))
}
