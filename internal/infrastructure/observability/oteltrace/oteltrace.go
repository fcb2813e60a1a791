// Package oteltrace adapts an OpenTelemetry tracer to the observability.Tracer port.
package oteltrace

import (
	"context"
	"strings"

	"github.com/wulinbill/loyverse-api/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultName  = "loyverse-gateway"
	clientPrefix = "loyverse."
)

type tracer struct {
	t    trace.Tracer
	base []attribute.KeyValue
}

// New returns a tracer from tp, or from the global provider when tp is nil.
// Without an SDK provider installed the spans are non-recording but still
// propagate. base attributes are stamped on every span.
func New(tp trace.TracerProvider, name string, base ...attribute.KeyValue) observability.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if name == "" {
		name = defaultName
	}
	return &tracer{t: tp.Tracer(name), base: base}
}

// Start opens an internal span, or a client span when name targets the
// upstream ("loyverse." prefix).
func (t *tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, len(t.base)+len(attrs))
	all = append(all, t.base...)
	all = append(all, attrs...)
	kind := trace.SpanKindInternal
	if strings.HasPrefix(name, clientPrefix) {
		kind = trace.SpanKindClient
	}
	return t.t.Start(ctx, name, trace.WithAttributes(all...), trace.WithSpanKind(kind))
}
