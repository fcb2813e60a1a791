package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const SpanPrefix = "UC."

// Run tracks a single use-case execution: the UC span, the RED metrics
// (usecase_requests_total / usecase_duration_seconds) and the closing
// use_case_done log line.
type Run struct {
	ctx     context.Context
	span    trace.Span
	log     Logger
	useCase string
	start   time.Time
	reqs    Counter
	dur     Histogram

	outcome string
	status  string
	fields  []Field
}

// Begin opens the span and starts the clock. The returned context carries the span.
func Begin(ctx context.Context, tel Observability, logger Logger, useCase, spanName string, attrs ...attribute.KeyValue) (context.Context, *Run) {
	tel = OrNop(tel)
	if logger == nil {
		logger = tel.Logger()
	}
	attrs = append(attrs, attribute.String("use_case", useCase))
	ctx, span := tel.Tracer().Start(ctx, SpanPrefix+spanName, attrs...)
	return ctx, &Run{
		ctx:     ctx,
		span:    span,
		log:     logger,
		useCase: useCase,
		start:   time.Now(),
		reqs:    tel.Metrics().Counter(MUsecaseRequests),
		dur:     tel.Metrics().Histogram(MUsecaseDuration),
		outcome: "success",
		status:  "OK",
	}
}

// Fail marks the run as failed with a machine-readable status.
func (r *Run) Fail(status string) {
	r.outcome, r.status = "error", status
}

// SetStatus changes the status text without touching the outcome.
func (r *Run) SetStatus(status string) {
	r.status = status
}

// SetOutcome overrides both outcome and status, e.g. "queued".
func (r *Run) SetOutcome(outcome, status string) {
	r.outcome, r.status = outcome, status
}

// Add appends fields to the closing log line.
func (r *Run) Add(fields ...Field) {
	r.fields = append(r.fields, fields...)
}

func (r *Run) Span() trace.Span {
	return r.span
}

// End closes the span, records metrics and writes use_case_done.
func (r *Run) End(err error) {
	if err != nil && r.outcome == "success" {
		r.outcome = "error"
		if r.status == "OK" {
			r.status = "ERROR"
		}
	}
	lat := time.Since(r.start).Seconds()

	if r.span != nil {
		if err != nil {
			r.span.RecordError(err)
			r.span.SetStatus(codes.Error, r.status)
		} else {
			r.span.SetStatus(codes.Ok, r.status)
		}
		r.span.End()
	}

	r.reqs.Add(1, L("use_case", r.useCase), L("outcome", r.outcome))
	r.dur.Observe(lat, L("use_case", r.useCase))

	fields := []Field{
		F("outcome", r.outcome),
		F("status", r.status),
		F("latency_seconds", lat),
	}
	if sc := trace.SpanContextFromContext(r.ctx); sc.IsValid() {
		fields = append(fields,
			F("trace_id", sc.TraceID().String()),
			F("span_id", sc.SpanID().String()),
		)
	}
	fields = append(fields, r.fields...)
	if err != nil {
		fields = append(fields, Err(err))
	}
	r.log.Info("use_case_done", fields...)
}
