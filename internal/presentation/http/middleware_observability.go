package httppresentation

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wulinbill/loyverse-api/internal/observability"
	"github.com/wulinbill/loyverse-api/internal/observability/logctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// maxCallerID caps caller-supplied request and conversation ids.
const maxCallerID = 128

// callerIDs are the correlation ids a voice session sends with every tool call.
type callerIDs struct {
	request      string
	conversation string
}

func identify(r *http.Request) callerIDs {
	ids := callerIDs{
		request:      sanitizeID(r.Header.Get(headerRequestID)),
		conversation: sanitizeID(r.Header.Get(headerConversationID)),
	}
	if ids.request == "" {
		ids.request = uuid.NewString()
	}
	return ids
}

// sanitizeID keeps printable ASCII without spaces and truncates the rest, so a
// caller cannot inject structure into log lines.
func sanitizeID(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > maxCallerID {
		v = v[:maxCallerID]
	}
	for i := 0; i < len(v); i++ {
		if v[i] <= ' ' || v[i] > '~' {
			return ""
		}
	}
	return v
}

// spanContext returns the server span started by withTrace, or the inbound
// W3C context when the middleware runs on its own.
func spanContext(ctx context.Context, r *http.Request) (context.Context, trace.SpanContext) {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return ctx, sc
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(r.Header))
	return ctx, trace.SpanContextFromContext(ctx)
}

// ObservabilityMiddleware installs the request logger (request_id,
// conversation_id, trace ids), echoes X-Request-ID and records the HTTP RED
// metrics under the route template.
func ObservabilityMiddleware(base observability.Logger, tel observability.Observability) func(http.Handler) http.Handler {
	tel = observability.OrNop(tel)
	if base == nil {
		base = tel.Logger()
	}
	requests := tel.Metrics().Counter(observability.MHTTPRequests)
	durations := tel.Metrics().Histogram(observability.MHTTPRequestDuration)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ids := identify(r)
			w.Header().Set(headerRequestID, ids.request)

			ctx, sc := spanContext(r.Context(), r)
			fields := []observability.Field{observability.F("request_id", ids.request)}
			if ids.conversation != "" {
				fields = append(fields, observability.F("conversation_id", ids.conversation))
			}
			if sc.IsValid() {
				fields = append(fields,
					observability.F("trace_id", sc.TraceID().String()),
					observability.F("span_id", sc.SpanID().String()),
				)
			}
			ctx = logctx.With(ctx, base.With(fields...))

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			labels := []observability.Label{
				observability.L("method", r.Method),
				observability.L("route", routeFromContext(ctx)),
				observability.L("status", strconv.Itoa(rec.status)),
			}
			requests.Add(1, labels...)
			durations.Observe(time.Since(start).Seconds(), labels...)
		})
	}
}

// statusRecorder keeps the first status written and the body size.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
