package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	catalogapp "github.com/wulinbill/loyverse-api/internal/application/catalog"
	pendingapp "github.com/wulinbill/loyverse-api/internal/application/pending"
	domcatalog "github.com/wulinbill/loyverse-api/internal/domain/catalog"
	domcustomer "github.com/wulinbill/loyverse-api/internal/domain/customer"
	"github.com/wulinbill/loyverse-api/internal/domain/fault"
	domain "github.com/wulinbill/loyverse-api/internal/domain/order"
	dompending "github.com/wulinbill/loyverse-api/internal/domain/pending"
	"github.com/wulinbill/loyverse-api/internal/infrastructure/memory"
	"github.com/wulinbill/loyverse-api/internal/pkg/clock"
)

type fakeCatalog struct {
	items map[string]domcatalog.MenuItem
	err   error
}

func (f fakeCatalog) ResolveOrRefresh(_ context.Context, term string) (domcatalog.MenuItem, bool, error) {
	item, ok := f.items[term]
	return item, ok, f.err
}

func menu() fakeCatalog {
	return fakeCatalog{items: map[string]domcatalog.MenuItem{
		"10001": {SKU: "10001", Name: "Pepper Steak", Category: "Platos", PriceBase: decimal.RequireFromString("14.50")},
		"10002": {SKU: "10002", Name: "Pollo Pepper", Category: "Platos", PriceBase: decimal.RequireFromString("12.00")},
		"20001": {SKU: "20001", Name: "Tostones", Category: "Sides", PriceBase: decimal.RequireFromString("4.25")},
	}}
}

type fakeReceipts struct {
	subs []domain.Submission
	err  error
}

func (f *fakeReceipts) CreateReceipt(_ context.Context, sub domain.Submission) (domain.Receipt, error) {
	f.subs = append(f.subs, sub.Clone())
	if f.err != nil {
		return domain.Receipt{}, f.err
	}
	return domain.Receipt{ID: "R-1001", TotalWithTax: sub.Total.Mul(decimal.RequireFromString("1.115")).Round(2)}, nil
}

type fakeCustomers struct {
	calls int
	c     domcustomer.Customer
	err   error
}

func (f *fakeCustomers) Resolve(_ context.Context, _, _ string) (domcustomer.Customer, bool, error) {
	f.calls++
	if f.err != nil {
		return domcustomer.Customer{}, false, f.err
	}
	return f.c, f.c.ID != "", nil
}

type harness struct {
	pipeline  *Pipeline
	receipts  *fakeReceipts
	customers *fakeCustomers
	queue     *pendingapp.Queue
}

func newHarness(cat Catalog) *harness {
	h := &harness{
		receipts:  &fakeReceipts{},
		customers: &fakeCustomers{c: domcustomer.Customer{ID: "cust-1", Name: "Jane"}},
		queue:     pendingapp.New(memory.NewPendingRepository(), nil, pendingapp.WithClock(clock.NewFake(time.Unix(0, 0)))),
	}
	h.pipeline = NewPipeline(cat, h.customers, h.receipts, h.queue, nil,
		WithKeyGenerator(func() string { return "idem-1" }))
	return h
}

func TestPlaceOrderRejectsEmptyOrder(t *testing.T) {
	h := newHarness(menu())

	_, err := h.pipeline.PlaceOrder(context.Background(), domain.Request{})
	require.ErrorIs(t, err, fault.ErrValidation)
	require.ErrorIs(t, err, domain.ErrNoItems)
	assert.Zero(t, h.queue.Len(context.Background()))
}

func TestPlaceOrderOnlyUnknownSKUIsValidationError(t *testing.T) {
	h := newHarness(menu())

	_, err := h.pipeline.PlaceOrder(context.Background(), domain.Request{
		Lines: []domain.LineRequest{{SKU: "unknown-1", Quantity: 1}},
	})
	require.ErrorIs(t, err, fault.ErrValidation)
	assert.Empty(t, h.receipts.subs)
	assert.Zero(t, h.queue.Len(context.Background()), "validation failures are never queued")
}

func TestPlaceOrderSubmitsOnlyValidLines(t *testing.T) {
	h := newHarness(menu())

	res, err := h.pipeline.PlaceOrder(context.Background(), domain.Request{
		CustomerID: "cust-9",
		Lines: []domain.LineRequest{
			{SKU: "10001", Quantity: 2},
			{SKU: "unknown-1", Quantity: 1},
			{SKU: "20001", Quantity: 0},
		},
	})
	require.NoError(t, err)

	require.Len(t, h.receipts.subs, 1)
	sub := h.receipts.subs[0]
	require.Len(t, sub.Lines, 1)
	assert.Equal(t, "10001", sub.Lines[0].SKU)
	assert.Equal(t, "cust-9", sub.CustomerID)
	assert.Equal(t, "idem-1", sub.IdempotencyKey)
	assert.True(t, sub.Total.Equal(decimal.RequireFromString("29.00")))

	assert.False(t, res.Queued)
	assert.Equal(t, "R-1001", res.ReceiptID)
	assert.Equal(t, "32.34", res.TotalWithTax.StringFixed(2))
	assert.Len(t, res.Dropped, 2)
	assert.Equal(t, 15, res.Prep.Minutes())
	assert.Zero(t, h.customers.calls, "explicit customer id skips resolution")
}

type oneShotLister []domcatalog.RawItem

func (l oneShotLister) ListItems(context.Context, string) ([]domcatalog.RawItem, string, error) {
	return l, "", nil
}

func realCatalog() *catalogapp.Cache {
	return catalogapp.New(oneShotLister{
		{SKU: "10001", Name: "Pepper Steak", Category: "Platos", Price: decimal.RequireFromString("14.50")},
		{SKU: "10002", Name: "Pollo Pepper", Category: "Platos", Price: decimal.RequireFromString("12.00")},
	}, nil,
		catalogapp.WithClock(clock.NewFake(time.Unix(0, 0))),
		catalogapp.WithAliases(map[string][]string{"Pollo Pepper": {"peper pollo"}}),
	)
}

func TestPlaceOrderNeverPricesPartialMatches(t *testing.T) {
	h := newHarness(realCatalog())

	_, err := h.pipeline.PlaceOrder(context.Background(), domain.Request{
		CustomerID: "cust-9",
		Lines: []domain.LineRequest{
			{SKU: "e", Quantity: 1},
			{SKU: "steak", Quantity: 1},
			{SKU: "Pepper Steak", Quantity: 1},
		},
	})
	require.ErrorIs(t, err, domain.ErrNoValidItems)
	assert.Empty(t, h.receipts.subs)
}

func TestPlaceOrderPricesExactSKUAndAlias(t *testing.T) {
	h := newHarness(realCatalog())

	res, err := h.pipeline.PlaceOrder(context.Background(), domain.Request{
		CustomerID: "cust-9",
		Lines: []domain.LineRequest{
			{SKU: "10001", Quantity: 1},
			{SKU: "Peper Pollo", Quantity: 1},
			{SKU: "steak", Quantity: 3},
		},
	})
	require.NoError(t, err)
	require.Len(t, h.receipts.subs, 1)
	sub := h.receipts.subs[0]
	require.Len(t, sub.Lines, 2)
	assert.Equal(t, "10001", sub.Lines[0].SKU)
	assert.Equal(t, "10002", sub.Lines[1].SKU)
	assert.True(t, sub.Total.Equal(decimal.RequireFromString("26.50")))
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, "steak", res.Dropped[0].SKU)
}

func TestPlaceOrderQueuesOnUpstreamTimeout(t *testing.T) {
	h := newHarness(menu())
	h.receipts.err = fault.Upstream("loyverse: create receipt", context.DeadlineExceeded)
	ctx := context.Background()
	before := h.queue.Len(ctx)

	res, err := h.pipeline.PlaceOrder(ctx, domain.Request{
		Lines: []domain.LineRequest{{SKU: "10001", Quantity: 1}, {SKU: "10002", Quantity: 2}},
	})
	require.NoError(t, err)

	assert.True(t, res.Queued)
	assert.NotEmpty(t, res.PendingID)
	assert.Equal(t, before+1, h.queue.Len(ctx))
	assert.Equal(t, 25, res.Prep.Minutes())

	entries, err := h.queue.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, dompending.KindOrderSubmission, entries[0].Kind)
	assert.Equal(t, "idem-1", entries[0].Order.IdempotencyKey)
}

func TestPlaceOrderReturnsRejection(t *testing.T) {
	h := newHarness(menu())
	h.receipts.err = fault.Rejected("loyverse: create receipt", 400, "bad store")

	_, err := h.pipeline.PlaceOrder(context.Background(), domain.Request{
		Lines: []domain.LineRequest{{SKU: "10001", Quantity: 1}},
	})
	require.ErrorIs(t, err, fault.ErrRejected)
	assert.Zero(t, h.queue.Len(context.Background()))
}

func TestPlaceOrderResolvesPhone(t *testing.T) {
	h := newHarness(menu())

	_, err := h.pipeline.PlaceOrder(context.Background(), domain.Request{
		Phone: "+15550001",
		Name:  "Jane",
		Lines: []domain.LineRequest{{SKU: "10001", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, h.customers.calls)
	assert.Equal(t, "cust-1", h.receipts.subs[0].CustomerID)
}

func TestPlaceOrderWithUnresolvableCallerIsAnonymous(t *testing.T) {
	h := newHarness(menu())
	h.customers.err = fault.Validation("name is required to create a customer")

	res, err := h.pipeline.PlaceOrder(context.Background(), domain.Request{
		Phone: "+15550001",
		Lines: []domain.LineRequest{{SKU: "10001", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.False(t, res.Queued)
	assert.Empty(t, h.receipts.subs[0].CustomerID)
}

func TestPlaceOrderQueuesWhenCustomerLookupIsDown(t *testing.T) {
	h := newHarness(menu())
	h.customers.err = fault.Upstream("loyverse: search customers", errors.New("503"))

	res, err := h.pipeline.PlaceOrder(context.Background(), domain.Request{
		Phone: "+15550001",
		Name:  "Jane",
		Lines: []domain.LineRequest{{SKU: "10001", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Empty(t, h.receipts.subs)

	entries, err := h.queue.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "+15550001", entries[0].Order.Phone)
}

func TestPlaceOrderCatalogOutageIsUpstreamError(t *testing.T) {
	h := newHarness(fakeCatalog{err: fault.Upstream("loyverse: list items", errors.New("timeout"))})

	_, err := h.pipeline.PlaceOrder(context.Background(), domain.Request{
		Lines: []domain.LineRequest{{SKU: "10001", Quantity: 1}},
	})
	require.ErrorIs(t, err, fault.ErrUpstream)
	assert.NotErrorIs(t, err, fault.ErrValidation)
}

func TestReplayResolvesThenSubmits(t *testing.T) {
	h := newHarness(menu())
	sub := domain.Submission{
		IdempotencyKey: "idem-7",
		Phone:          "+15550001",
		Name:           "Jane",
		Lines:          []domain.Line{{SKU: "10001", Quantity: 1, UnitPrice: decimal.NewFromInt(10)}},
		Total:          decimal.NewFromInt(10),
	}

	receipt, err := h.pipeline.Replay(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, "R-1001", receipt.ID)
	require.Len(t, h.receipts.subs, 1)
	assert.Equal(t, "cust-1", h.receipts.subs[0].CustomerID)
	assert.Equal(t, "idem-7", h.receipts.subs[0].IdempotencyKey, "replays reuse the original key")
}
