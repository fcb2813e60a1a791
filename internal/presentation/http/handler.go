// Package httppresentation exposes the gateway operations over HTTP, one POST
// route per operation plus a tool-call envelope and operator endpoints.
package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wulinbill/loyverse-api/internal/application/gateway"
	"github.com/wulinbill/loyverse-api/internal/domain/fault"
	dompending "github.com/wulinbill/loyverse-api/internal/domain/pending"
	"github.com/wulinbill/loyverse-api/internal/observability"
	"github.com/wulinbill/loyverse-api/internal/observability/logctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerConversationID = "X-Conversation-ID"
	maxRequestBody       = 1 << 20
	tracerName           = "loyverse-gateway.http"
)

// Gateway is the application surface the handler drives.
type Gateway interface {
	Dispatch(ctx context.Context, op gateway.Operation) (gateway.Reply, error)
	Authorize(ctx context.Context, code string) error
	Health(ctx context.Context) gateway.Health
	PendingEntries(ctx context.Context) ([]dompending.Entry, error)
}

type Handler struct {
	gw  Gateway
	log observability.Logger
	tel observability.Observability
}

func NewHandler(gw Gateway, logger observability.Logger, tel observability.Observability) *Handler {
	tel = observability.OrNop(tel)
	if logger == nil {
		logger = tel.Logger()
	}
	return &Handler{
		gw:  gw,
		log: logger.With(observability.F("component", componentHTTPHandler)),
		tel: tel,
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// Trace → ObservabilityMiddleware (request logger + HTTP metrics) → Access log → Handler
	for _, name := range []string{gateway.OpGetMenu, gateway.OpGetCustomer, gateway.OpCreateCustomer, gateway.OpPlaceOrder} {
		h.muxHandle(mux, http.MethodPost, "/"+name, h.handleOperation(name))
	}
	h.muxHandle(mux, http.MethodPost, "/tools/call", h.handleToolCall)
	h.muxHandle(mux, http.MethodGet, "/oauth/callback", h.handleOAuthCallback)
	h.muxHandle(mux, http.MethodGet, "/pending", h.handlePending)
	h.muxHandle(mux, http.MethodGet, "/health", h.handleHealth)
	h.muxHandle(mux, http.MethodGet, "/healthz", h.handleHealthz)

	return mux
}

// muxHandle registers route for one method. The middleware chain is built
// once: server span, then request logger and metrics, then the access log.
func (h *Handler) muxHandle(mux *http.ServeMux, method, route string, handler http.HandlerFunc) {
	template := method + " " + route
	chain := h.withTrace(template, ObservabilityMiddleware(h.log, h.tel)(h.withAccessLog(handler)))
	mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		chain.ServeHTTP(w, r.WithContext(contextWithRoute(r.Context(), template)))
	})
}

func (h *Handler) handleOperation(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		h.dispatch(w, r, name, body)
	}
}

type toolCallRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolCall accepts the {"name","arguments"} envelope some agent
// platforms send instead of calling the per-operation routes.
func (h *Handler) handleToolCall(w http.ResponseWriter, r *http.Request) {
	var req toolCallRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.dispatch(w, r, req.Name, req.Arguments)
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, name string, args json.RawMessage) {
	op, err := gateway.Decode(name, args)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("gateway.operation", op.Name()))

	reply, err := h.gw.Dispatch(r.Context(), op)
	if err != nil {
		logctx.FromOr(r.Context(), h.log).Warn("operation_failed",
			observability.F("operation", op.Name()),
			observability.Err(err),
		)
		writeDomainError(w, err)
		return
	}
	status, body := render(reply)
	writeJSON(w, status, body)
}

func (h *Handler) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("authorization denied: %s", e))
		return
	}
	code := strings.TrimSpace(q.Get("code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, errors.New("code is required"))
		return
	}
	if err := h.gw.Authorize(r.Context(), code); err != nil {
		writeDomainError(w, err)
		return
	}
	logctx.FromOr(r.Context(), h.log).Info("oauth_authorized")
	writeJSON(w, http.StatusOK, map[string]string{"status": "authorized"})
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	entries, err := h.gw.PendingEntries(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := pendingResponse{Count: len(entries), Entries: make([]pendingEntryDTO, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, toPendingDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	health := h.gw.Health(r.Context())
	status := http.StatusOK
	if !health.Ready() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, toHealthDTO(health))
}

// withAccessLog writes one http_access event per request through the
// request logger installed by ObservabilityMiddleware.
func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger := logctx.FromOr(r.Context(), h.log)
		fields := []observability.Field{
			observability.F("method", r.Method),
			observability.F("route", routeFromContext(r.Context())),
			observability.F("status", rec.status),
			observability.F("bytes_out", rec.bytes),
			observability.F("latency_ms", time.Since(start).Milliseconds()),
		}
		if rec.status >= http.StatusInternalServerError {
			logger.Warn("http_access", fields...)
			return
		}
		logger.Info("http_access", fields...)
	})
}

// withTrace opens the server span, continuing a W3C parent when the caller
// sent one. Only 5xx responses mark the span as failed.
func (h *Handler) withTrace(template string, next http.Handler) http.Handler {
	tracer := otel.Tracer(tracerName)
	path := template[strings.IndexByte(template, ' ')+1:]
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, template,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", path),
				attribute.String("user_agent.original", r.UserAgent()),
			),
		)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.response.status_code", rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
	})
}

func readBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("malformed request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeDomainError maps the fault kinds onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fault.ErrValidation):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, fault.ErrAuth):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, fault.ErrUpstream),
		errors.Is(err, fault.ErrRejected):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

type routeKey struct{}

// contextWithRoute records the route template, the only path form allowed in
// metric labels.
func contextWithRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, routeKey{}, route)
}

func routeFromContext(ctx context.Context) string {
	if route, _ := ctx.Value(routeKey{}).(string); route != "" {
		return route
	}
	return "unmatched"
}
