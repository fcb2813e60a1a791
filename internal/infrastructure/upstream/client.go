// Package upstream is the Loyverse REST adapter. It implements the catalog,
// customer and receipt ports on top of one authenticated HTTP client.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wulinbill/loyverse-api/internal/domain/fault"
	"github.com/wulinbill/loyverse-api/internal/observability"
	"github.com/wulinbill/loyverse-api/internal/observability/logctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	peerLoyverse     = "loyverse"
	componentClient  = "loyverse_client"
	defaultTimeout   = 10 * time.Second
	defaultPageSize  = 250
	maxErrorBodySize = 4 << 10
	maxBodySize      = 8 << 20
)

var errMissingID = errors.New("response carries no id")

// TokenSource hands out bearer tokens and takes back the ones upstream rejected.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate(rejected string)
}

type Config struct {
	BaseURL       string
	Timeout       time.Duration
	StoreID       string
	PaymentTypeID string
	PageSize      int
}

type Client struct {
	baseURL       string
	httpClient    *http.Client
	tokens        TokenSource
	timeout       time.Duration
	storeID       string
	paymentTypeID string
	pageSize      int

	tel          observability.Observability
	log          observability.Logger
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

type Option func(*Client)

// WithHTTPClient replaces the default transport, e.g. with an httptest server client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func New(cfg Config, tokens TokenSource, tel observability.Observability, opts ...Option) *Client {
	tel = observability.OrNop(tel)
	c := &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:    &http.Client{},
		tokens:        tokens,
		timeout:       cfg.Timeout,
		storeID:       cfg.StoreID,
		paymentTypeID: cfg.PaymentTypeID,
		pageSize:      cfg.PageSize,
		tel:           tel,
		log:           tel.Logger().With(observability.F("component", componentClient)),
		extCounter:    tel.Metrics().Counter(observability.MExternalRequests),
		extHistogram:  tel.Metrics().Histogram(observability.MExternalRequestDuration),
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.pageSize <= 0 {
		c.pageSize = defaultPageSize
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call describes one upstream request.
type call struct {
	endpoint string
	method   string
	path     string
	query    url.Values
	body     any
	header   http.Header
	out      any
}

// do runs req with a bearer token under the client timeout and classifies the
// outcome into the fault kinds.
func (c *Client) do(ctx context.Context, req call) (err error) {
	op := "loyverse: " + req.endpoint
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := c.tel.Tracer().Start(ctx, "loyverse."+req.endpoint,
		attribute.String("peer", peerLoyverse),
		attribute.String("endpoint", req.endpoint),
		attribute.String("http.request.method", req.method),
	)
	start := time.Now()
	outcome := "success"
	status := 0
	defer func() {
		c.extCounter.Add(1,
			observability.L("peer", peerLoyverse),
			observability.L("endpoint", req.endpoint),
			observability.L("outcome", outcome),
		)
		c.extHistogram.Observe(time.Since(start).Seconds(),
			observability.L("peer", peerLoyverse),
			observability.L("endpoint", req.endpoint),
		)
		if status != 0 {
			span.SetAttributes(attribute.Int("http.response.status_code", status))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		} else {
			span.SetStatus(codes.Ok, outcome)
		}
		span.End()
	}()

	token, err := c.tokens.Token(ctx)
	if err != nil {
		outcome = "no_token"
		return fmt.Errorf("%s: %w", op, err)
	}

	var body io.Reader
	if req.body != nil {
		buf, merr := json.Marshal(req.body)
		if merr != nil {
			outcome = "encode_error"
			return fmt.Errorf("%s: encode request: %w", op, merr)
		}
		body = bytes.NewReader(buf)
	}

	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		outcome = "encode_error"
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	for k, vs := range req.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		outcome = "network_error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		return fault.Upstream(op, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	switch {
	case status == http.StatusUnauthorized:
		outcome = "unauthorized"
		c.tokens.Invalidate(token)
		logctx.FromOr(ctx, c.log).Warn("upstream_token_rejected", observability.F("endpoint", req.endpoint))
		return fault.Upstream(op, fmt.Errorf("status %d", status))
	case status == http.StatusConflict:
		outcome = "conflict"
		return fault.Conflict(op)
	case status == http.StatusTooManyRequests || status >= 500:
		outcome = "server_error"
		return fault.Upstream(op, fmt.Errorf("status %d: %s", status, readSnippet(resp.Body)))
	case status >= 400:
		outcome = "rejected"
		return fault.Rejected(op, status, readSnippet(resp.Body))
	case status < 200 || status >= 300:
		outcome = "unexpected_status"
		return fault.Upstream(op, fmt.Errorf("unexpected status %d", status))
	}

	if req.out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil
	}
	if derr := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(req.out); derr != nil {
		outcome = "decode_error"
		if ctx.Err() != nil {
			derr = ctx.Err()
		}
		if req.method != http.MethodGet {
			// The write already succeeded upstream; a replay would duplicate it.
			return fmt.Errorf("%s: decode response: %w", op, derr)
		}
		return fault.Upstream(op, fmt.Errorf("decode response: %w", derr))
	}
	return nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	return strings.TrimSpace(string(b))
}
