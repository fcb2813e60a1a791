package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type discard struct{}

func (discard) With(...Field) Logger   { return discard{} }
func (discard) Debug(string, ...Field) {}
func (discard) Info(string, ...Field)  {}
func (discard) Warn(string, ...Field)  {}
func (discard) Error(string, ...Field) {}

func (discard) Add(float64, ...Label)     {}
func (discard) Observe(float64, ...Label) {}
func (discard) Set(float64, ...Label)     {}

func (discard) Counter(MetricKey) Counter     { return discard{} }
func (discard) Histogram(MetricKey) Histogram { return discard{} }
func (discard) Gauge(MetricKey) Gauge         { return discard{} }

// Start keeps whatever span ctx already carries so trace ids still reach logs.
func (discard) Start(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

func (discard) Tracer() Tracer   { return discard{} }
func (discard) Logger() Logger   { return discard{} }
func (discard) Metrics() Metrics { return discard{} }

func NopLogger() Logger       { return discard{} }
func NopTracer() Tracer       { return discard{} }
func NopCounter() Counter     { return discard{} }
func NopHistogram() Histogram { return discard{} }
func NopGauge() Gauge         { return discard{} }
func NopMetrics() Metrics     { return discard{} }

// Nop discards every signal. Components fall back to it when built without
// telemetry, as most unit tests do.
func Nop() Observability { return discard{} }

// OrNop returns tel, or Nop() when tel is nil.
func OrNop(tel Observability) Observability {
	if tel == nil {
		return Nop()
	}
	return tel
}
