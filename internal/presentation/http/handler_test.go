package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wulinbill/loyverse-api/internal/application/gateway"
	"github.com/wulinbill/loyverse-api/internal/application/token"
	domcatalog "github.com/wulinbill/loyverse-api/internal/domain/catalog"
	domcustomer "github.com/wulinbill/loyverse-api/internal/domain/customer"
	"github.com/wulinbill/loyverse-api/internal/domain/fault"
	domorder "github.com/wulinbill/loyverse-api/internal/domain/order"
	dompending "github.com/wulinbill/loyverse-api/internal/domain/pending"
)

type fakeGateway struct {
	ops     []gateway.Operation
	reply   gateway.Reply
	err     error
	codes   []string
	health  gateway.Health
	entries []dompending.Entry
}

func (f *fakeGateway) Dispatch(_ context.Context, op gateway.Operation) (gateway.Reply, error) {
	f.ops = append(f.ops, op)
	return f.reply, f.err
}

func (f *fakeGateway) Authorize(_ context.Context, code string) error {
	f.codes = append(f.codes, code)
	return f.err
}

func (f *fakeGateway) Health(context.Context) gateway.Health { return f.health }

func (f *fakeGateway) PendingEntries(context.Context) ([]dompending.Entry, error) {
	return f.entries, f.err
}

func serve(t *testing.T, gw *fakeGateway, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	NewHandler(gw, nil, nil).Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestGetMenu(t *testing.T) {
	gw := &fakeGateway{reply: gateway.MenuReply{Items: []domcatalog.MenuItem{
		{SKU: "10001", Name: "Pepper Steak", Category: "Platos", PriceBase: decimal.RequireFromString("14.50"), Aliases: []string{"paper space"}},
		{SKU: "10002", Name: "Tostones", Category: "Sides", PriceBase: decimal.RequireFromString("3.25")},
	}}}

	rec := serve(t, gw, http.MethodPost, "/get_menu", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, gateway.GetMenu{}, gw.ops[0])
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))

	body := decodeBody(t, rec)
	items := body["items"].([]any)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	assert.Equal(t, "Pepper Steak", first["name"])
	assert.EqualValues(t, 14.5, first["price_base"])
	assert.Equal(t, []any{"paper space"}, first["aliases"])
	assert.Equal(t, []any{}, items[1].(map[string]any)["aliases"])
}

func TestGetCustomer(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		gw := &fakeGateway{reply: gateway.CustomerReply{Found: true, Customer: domcustomer.Customer{ID: "c-1", Name: "Jane"}}}
		rec := serve(t, gw, http.MethodPost, "/get_customer", `{"phone":"+15550001"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, gateway.GetCustomer{Phone: "+15550001"}, gw.ops[0])
		assert.JSONEq(t, `{"customer_id":"c-1","name":"Jane"}`, rec.Body.String())
	})
	t.Run("not found renders nulls", func(t *testing.T) {
		gw := &fakeGateway{reply: gateway.CustomerReply{}}
		rec := serve(t, gw, http.MethodPost, "/get_customer", `{"phone":"+15550009"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"customer_id":null,"name":null}`, rec.Body.String())
	})
	t.Run("missing phone", func(t *testing.T) {
		gw := &fakeGateway{err: fault.Validation("phone is required")}
		rec := serve(t, gw, http.MethodPost, "/get_customer", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeBody(t, rec)["error"], "phone is required")
	})
}

func TestCreateCustomerQueuedIsAccepted(t *testing.T) {
	gw := &fakeGateway{reply: gateway.CustomerCreatedReply{Queued: true, PendingID: "p-1"}}
	rec := serve(t, gw, http.MethodPost, "/create_customer", `{"name":"Jane","phone":"+15550001"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"queued","pending_id":"p-1"}`, rec.Body.String())
}

func TestPlaceOrder(t *testing.T) {
	gw := &fakeGateway{reply: gateway.OrderReply{Result: &domorder.Result{
		ReceiptID:    "1-1001",
		Total:        decimal.RequireFromString("29.00"),
		TotalWithTax: decimal.RequireFromString("32.34"),
		Prep:         domorder.PrepEstimate{Mains: 2, Duration: domorder.ShortPrep},
		Dropped:      []domorder.LineRequest{{SKU: "99999", Quantity: 1}},
	}}}

	rec := serve(t, gw, http.MethodPost, "/place_order", `{"phone":"+15550001","items":[{"sku":"10001","qty":2},{"sku":"99999"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"receipt_id":"1-1001","total":29,"total_with_tax":32.34,"prep_time_minutes":15,"dropped_skus":["99999"]}`, rec.Body.String())

	op := gw.ops[0].(gateway.PlaceOrder)
	assert.Equal(t, []domorder.LineRequest{{SKU: "10001", Quantity: 2}, {SKU: "99999", Quantity: 1}}, op.Request.Lines)
}

func TestPlaceOrderQueued(t *testing.T) {
	gw := &fakeGateway{reply: gateway.OrderReply{Result: &domorder.Result{Queued: true, PendingID: "p-7"}}}
	rec := serve(t, gw, http.MethodPost, "/place_order", `{"items":[{"sku":"10001"}]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "queued", decodeBody(t, rec)["status"])
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domorder.ErrNoValidItems, http.StatusBadRequest},
		{fault.Auth("token: refresh", nil), http.StatusServiceUnavailable},
		{fault.Upstream("loyverse: list_items", errors.New("timeout")), http.StatusBadGateway},
		{fault.Rejected("loyverse: create_receipt", 422, "bad"), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.want), func(t *testing.T) {
			rec := serve(t, &fakeGateway{err: tc.err}, http.MethodPost, "/place_order", `{"items":[]}`)
			assert.Equal(t, tc.want, rec.Code)
			assert.NotEmpty(t, decodeBody(t, rec)["error"])
		})
	}
}

func TestToolCallEnvelope(t *testing.T) {
	gw := &fakeGateway{reply: gateway.CustomerCreatedReply{CustomerID: "c-9"}}
	rec := serve(t, gw, http.MethodPost, "/tools/call", `{"name":"create_customer","arguments":{"name":"Jane","phone":"+15550001"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, gateway.CreateCustomer{CustomerName: "Jane", Phone: "+15550001"}, gw.ops[0])
	assert.JSONEq(t, `{"customer_id":"c-9"}`, rec.Body.String())
}

func TestToolCallUnknownName(t *testing.T) {
	gw := &fakeGateway{}
	rec := serve(t, gw, http.MethodPost, "/tools/call", `{"name":"refund_everything","arguments":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, gw.ops)
}

func TestMethodNotAllowed(t *testing.T) {
	rec := serve(t, &fakeGateway{}, http.MethodGet, "/place_order", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestOAuthCallback(t *testing.T) {
	gw := &fakeGateway{}
	rec := serve(t, gw, http.MethodGet, "/oauth/callback?code=abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"abc"}, gw.codes)

	rec = serve(t, gw, http.MethodGet, "/oauth/callback", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, &fakeGateway{err: fault.Auth("oauth: exchange", nil)}, http.MethodGet, "/oauth/callback?code=bad", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPending(t *testing.T) {
	enq := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gw := &fakeGateway{entries: []dompending.Entry{{
		ID: "p-1", Kind: dompending.KindOrderSubmission, IdempotencyKey: "k-1",
		Attempts: 2, EnqueuedAt: enq, NextAttemptAt: enq.Add(time.Minute), LastError: "timeout",
	}}}

	rec := serve(t, gw, http.MethodGet, "/pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["count"])
	entry := body["entries"].([]any)[0].(map[string]any)
	assert.Equal(t, "order_submission", entry["kind"])
	assert.EqualValues(t, 2, entry["attempts"])
}

func TestHealthz(t *testing.T) {
	gw := &fakeGateway{health: gateway.Health{Token: token.Status{HasAccessToken: true}, PendingCount: 3, CatalogItems: 40}}
	rec := serve(t, gw, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 3, body["pending"])

	gw.health.Token.Poisoned = true
	rec = serve(t, gw, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decodeBody(t, rec)["status"])

	rec = serve(t, gw, http.MethodGet, "/health", "")
	assert.Equal(t, "ok", rec.Body.String())
}
