// Package order turns order intents into upstream receipts, deferring them to
// the pending queue when the upstream is unavailable.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	domcatalog "github.com/wulinbill/loyverse-api/internal/domain/catalog"
	domcustomer "github.com/wulinbill/loyverse-api/internal/domain/customer"
	"github.com/wulinbill/loyverse-api/internal/domain/fault"
	domain "github.com/wulinbill/loyverse-api/internal/domain/order"
	dompending "github.com/wulinbill/loyverse-api/internal/domain/pending"
	"github.com/wulinbill/loyverse-api/internal/observability"
	"github.com/wulinbill/loyverse-api/internal/observability/logctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	componentPipeline = "order_pipeline"
	useCasePlaceOrder = "order.place"
	useCaseSubmit     = "order.submit"
	useCaseReplay     = "order.replay"
	receiptPeer       = "loyverse"
	receiptEndpoint   = "receipts"
)

// Catalog prices requested lines. Only exact SKU or alias matches count.
type Catalog interface {
	ResolveOrRefresh(ctx context.Context, term string) (domcatalog.MenuItem, bool, error)
}

// Customers resolves a caller phone to an upstream customer.
type Customers interface {
	Resolve(ctx context.Context, phone, name string) (domcustomer.Customer, bool, error)
}

// ReceiptCreator submits a receipt upstream. Implementations send the
// submission's idempotency key along with it.
type ReceiptCreator interface {
	CreateReceipt(ctx context.Context, sub domain.Submission) (domain.Receipt, error)
}

// Enqueuer defers an operation for reconciliation.
type Enqueuer interface {
	Enqueue(ctx context.Context, e dompending.Entry) (dompending.Entry, error)
}

type Pipeline struct {
	catalog   Catalog
	customers Customers
	receipts  ReceiptCreator
	queue     Enqueuer
	newKey    func() string

	tel observability.Observability
	log observability.Logger
}

type Option func(*Pipeline)

// WithKeyGenerator replaces the uuid idempotency keys, for tests.
func WithKeyGenerator(fn func() string) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.newKey = fn
		}
	}
}

func NewPipeline(catalog Catalog, customers Customers, receipts ReceiptCreator, queue Enqueuer, tel observability.Observability, opts ...Option) *Pipeline {
	tel = observability.OrNop(tel)
	p := &Pipeline{
		catalog:   catalog,
		customers: customers,
		receipts:  receipts,
		queue:     queue,
		newKey:    uuid.NewString,
		tel:       tel,
		log:       tel.Logger().With(observability.F("component", componentPipeline)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PlaceOrder prices the request against the catalog, attaches the customer
// and submits the receipt. When the upstream is unavailable the submission is
// queued and the result reports Queued with the pending id.
func (p *Pipeline) PlaceOrder(ctx context.Context, req domain.Request) (_ *domain.Result, err error) {
	logger := logctx.FromOr(ctx, p.log).With(observability.F("use_case", useCasePlaceOrder))
	ctx, run := observability.Begin(ctx, p.tel, logger, useCasePlaceOrder, "PlaceOrder",
		attribute.Int("order.requested_lines", len(req.Lines)),
	)
	defer func() { run.End(err) }()

	if len(req.Lines) == 0 {
		run.Fail("NO_ITEMS")
		return nil, domain.ErrNoItems
	}

	lines, dropped, err := p.price(ctx, logger, req.Lines)
	if err != nil {
		run.Fail("PRICING_FAILED")
		return nil, err
	}

	sub := domain.Submission{
		IdempotencyKey: p.newKey(),
		CustomerID:     strings.TrimSpace(req.CustomerID),
		Phone:          strings.TrimSpace(req.Phone),
		Name:           strings.TrimSpace(req.Name),
		Lines:          lines,
		Total:          domain.Total(lines),
	}
	res := &domain.Result{
		IdempotencyKey: sub.IdempotencyKey,
		Total:          sub.Total,
		Lines:          lines,
		Dropped:        dropped,
		Prep:           domain.EstimatePrep(lines),
	}
	run.Add(
		observability.F("idempotency_key", sub.IdempotencyKey),
		observability.F("lines", len(lines)),
		observability.F("dropped", len(dropped)),
		observability.F("total", sub.Total.StringFixed(2)),
	)
	run.Span().SetAttributes(
		attribute.String("order.idempotency_key", sub.IdempotencyKey),
		attribute.Int("order.lines", len(lines)),
	)

	if err := p.attachCustomer(ctx, logger, &sub); err != nil {
		if !fault.Retryable(err) {
			run.Fail("CUSTOMER_FAILED")
			return nil, err
		}
		return p.enqueue(ctx, run, sub, res, err)
	}

	receipt, err := p.Submit(ctx, sub)
	if err != nil {
		if !fault.Retryable(err) {
			run.Fail("SUBMIT_FAILED")
			return nil, err
		}
		return p.enqueue(ctx, run, sub, res, err)
	}

	res.ReceiptID = receipt.ID
	res.TotalWithTax = receipt.TotalWithTax
	run.Add(observability.F("receipt_id", receipt.ID))
	run.Span().AddEvent("order.submitted", trace.WithAttributes(attribute.String("receipt.id", receipt.ID)))
	return res, nil
}

// price validates every requested line. Unknown SKUs and non-positive
// quantities are dropped. When nothing survives the order is invalid, unless
// the catalog itself could not be loaded.
func (p *Pipeline) price(ctx context.Context, logger observability.Logger, reqs []domain.LineRequest) ([]domain.Line, []domain.LineRequest, error) {
	var (
		lines      []domain.Line
		dropped    []domain.LineRequest
		catalogErr error
	)
	for _, r := range reqs {
		if r.Quantity <= 0 {
			dropped = append(dropped, r)
			logger.Warn("order_line_dropped", observability.F("sku", r.SKU), observability.F("reason", "quantity"))
			continue
		}
		item, ok, err := p.catalog.ResolveOrRefresh(ctx, r.SKU)
		if err != nil && catalogErr == nil {
			catalogErr = err
		}
		if !ok {
			dropped = append(dropped, r)
			logger.Warn("order_line_dropped", observability.F("sku", r.SKU), observability.F("reason", "unknown_sku"))
			continue
		}
		lines = append(lines, domain.Line{
			SKU:       item.SKU,
			Name:      item.Name,
			Category:  item.Category,
			Quantity:  r.Quantity,
			UnitPrice: item.PriceBase,
		})
	}
	if len(lines) == 0 {
		if catalogErr != nil {
			return nil, dropped, fmt.Errorf("order: price lines: %w", catalogErr)
		}
		return nil, dropped, domain.ErrNoValidItems
	}
	return lines, dropped, nil
}

// attachCustomer fills sub.CustomerID from the phone when needed. A caller
// that cannot be identified places an anonymous order.
func (p *Pipeline) attachCustomer(ctx context.Context, logger observability.Logger, sub *domain.Submission) error {
	if sub.CustomerID != "" || sub.Phone == "" || p.customers == nil {
		return nil
	}
	c, ok, err := p.customers.Resolve(ctx, sub.Phone, sub.Name)
	switch {
	case errors.Is(err, fault.ErrValidation):
		logger.Warn("order_customer_anonymous", observability.Err(err))
		return nil
	case err != nil:
		return err
	case ok:
		sub.CustomerID = c.ID
	}
	return nil
}

func (p *Pipeline) enqueue(ctx context.Context, run *observability.Run, sub domain.Submission, res *domain.Result, cause error) (*domain.Result, error) {
	entry, err := p.queue.Enqueue(ctx, dompending.NewOrderEntry(sub))
	if err != nil {
		run.Fail("ENQUEUE_FAILED")
		return nil, fmt.Errorf("order: queue after %v: %w", cause, err)
	}
	run.SetOutcome("queued", "UPSTREAM_UNAVAILABLE")
	run.Add(observability.F("pending_id", entry.ID), observability.F("cause", cause.Error()))
	run.Span().AddEvent("order.queued", trace.WithAttributes(attribute.String("pending.id", entry.ID)))
	res.Queued = true
	res.PendingID = entry.ID
	return res, nil
}

// Submit creates the receipt for sub. It is the single submission path for
// live orders and replays; it never queues.
func (p *Pipeline) Submit(ctx context.Context, sub domain.Submission) (_ domain.Receipt, err error) {
	logger := logctx.FromOr(ctx, p.log).With(observability.F("use_case", useCaseSubmit))
	ctx, run := observability.Begin(ctx, p.tel, logger, useCaseSubmit, "SubmitReceipt",
		attribute.String("peer", receiptPeer),
		attribute.String("endpoint", receiptEndpoint),
		attribute.String("order.idempotency_key", sub.IdempotencyKey),
	)
	defer func() { run.End(err) }()

	if len(sub.Lines) == 0 {
		run.Fail("NO_ITEMS")
		return domain.Receipt{}, domain.ErrNoItems
	}

	start := time.Now()
	receipt, err := p.receipts.CreateReceipt(ctx, sub)
	run.Add(
		observability.F("idempotency_key", sub.IdempotencyKey),
		observability.F("upstream_seconds", time.Since(start).Seconds()),
	)
	if err != nil {
		switch {
		case fault.Retryable(err):
			run.Fail("UPSTREAM_UNAVAILABLE")
		case errors.Is(err, fault.ErrRejected):
			run.Fail("UPSTREAM_REJECTED")
		default:
			run.Fail("SUBMIT_FAILED")
		}
		return domain.Receipt{}, fmt.Errorf("order: submit: %w", err)
	}
	run.Add(observability.F("receipt_id", receipt.ID))
	return receipt, nil
}

// Replay completes a queued submission: it resolves the customer when only a
// phone was known, then submits.
func (p *Pipeline) Replay(ctx context.Context, sub domain.Submission) (domain.Receipt, error) {
	logger := logctx.FromOr(ctx, p.log).With(observability.F("use_case", useCaseReplay))
	if err := p.attachCustomer(ctx, logger, &sub); err != nil {
		return domain.Receipt{}, fmt.Errorf("order: replay: %w", err)
	}
	return p.Submit(ctx, sub)
}
