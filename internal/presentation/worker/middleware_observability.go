// Package workerpresentation drives background work: the reconciler that
// replays pending entries, and the logging context each replay runs under.
package workerpresentation

import (
	"context"

	dompending "github.com/wulinbill/loyverse-api/internal/domain/pending"
	"github.com/wulinbill/loyverse-api/internal/observability"
	"github.com/wulinbill/loyverse-api/internal/observability/logctx"
	"go.opentelemetry.io/otel/trace"
)

// withEntryContext installs the logger one replay runs under. It mirrors the
// HTTP access fields: pending_id stands in for request_id, and the
// idempotency key links the replay to the request that queued it. use_case is
// left to the replayed use case, which stamps its own.
func withEntryContext(ctx context.Context, base observability.Logger, e dompending.Entry) context.Context {
	if base == nil {
		base = observability.NopLogger()
	}
	fields := []observability.Field{
		observability.F("pending_id", e.ID),
		observability.F("kind", string(e.Kind)),
		observability.F("attempt", e.Attempts+1),
	}
	if e.IdempotencyKey != "" {
		fields = append(fields, observability.F("idempotency_key", e.IdempotencyKey))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	return logctx.With(ctx, base.With(fields...))
}
