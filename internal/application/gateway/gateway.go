// Package gateway owns the gateway components and dispatches the closed set
// of front-end operations onto them.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/wulinbill/loyverse-api/internal/application/token"
	domcatalog "github.com/wulinbill/loyverse-api/internal/domain/catalog"
	domcustomer "github.com/wulinbill/loyverse-api/internal/domain/customer"
	"github.com/wulinbill/loyverse-api/internal/domain/fault"
	domorder "github.com/wulinbill/loyverse-api/internal/domain/order"
	dompending "github.com/wulinbill/loyverse-api/internal/domain/pending"
	"github.com/wulinbill/loyverse-api/internal/observability"
	"github.com/wulinbill/loyverse-api/internal/observability/logctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const componentGateway = "gateway"

type Menu interface {
	Menu(ctx context.Context) ([]domcatalog.MenuItem, error)
	Len() int
}

type Customers interface {
	Lookup(ctx context.Context, phone string) (domcustomer.Customer, bool, error)
	Resolve(ctx context.Context, phone, name string) (domcustomer.Customer, bool, error)
}

type Orders interface {
	PlaceOrder(ctx context.Context, req domorder.Request) (*domorder.Result, error)
}

type Pending interface {
	Enqueue(ctx context.Context, e dompending.Entry) (dompending.Entry, error)
	Len(ctx context.Context) int
	Entries(ctx context.Context) ([]dompending.Entry, error)
}

type Credentials interface {
	Status() token.Status
	Authorize(ctx context.Context, code string) error
}

// Background is a loop started with the gateway and stopped on Close.
type Background interface {
	Start(ctx context.Context)
	Stop(ctx context.Context)
}

type Deps struct {
	Menu        Menu
	Customers   Customers
	Orders      Orders
	Pending     Pending
	Credentials Credentials
	// Reconciler is optional.
	Reconciler Background
	Telemetry  observability.Observability
}

// Gateway is the process-wide state: every cache and queue lives in a
// component it owns, each guarded by its own lock.
type Gateway struct {
	menu        Menu
	customers   Customers
	orders      Orders
	pending     Pending
	credentials Credentials
	reconciler  Background

	startOnce sync.Once
	closeOnce sync.Once

	tel observability.Observability
	log observability.Logger
}

func New(d Deps) *Gateway {
	tel := observability.OrNop(d.Telemetry)
	return &Gateway{
		menu:        d.Menu,
		customers:   d.Customers,
		orders:      d.Orders,
		pending:     d.Pending,
		credentials: d.Credentials,
		reconciler:  d.Reconciler,
		tel:         tel,
		log:         tel.Logger().With(observability.F("component", componentGateway)),
	}
}

// Start launches the reconciler. Calling it again is a no-op.
func (g *Gateway) Start(ctx context.Context) {
	g.startOnce.Do(func() {
		if g.reconciler != nil {
			g.reconciler.Start(ctx)
		}
		g.log.Info("gateway_started")
	})
}

// Close stops the reconciler and reports the entries that die with the process.
func (g *Gateway) Close(ctx context.Context) {
	g.closeOnce.Do(func() {
		if g.reconciler != nil {
			g.reconciler.Stop(ctx)
		}
		if n := g.pending.Len(ctx); n > 0 {
			g.log.Warn("pending_entries_lost", observability.F("count", n))
		}
		g.log.Info("gateway_stopped")
	})
}

// Dispatch runs op and returns its reply.
func (g *Gateway) Dispatch(ctx context.Context, op Operation) (_ Reply, err error) {
	if op == nil {
		return nil, fault.Validation("operation is required")
	}
	ctx, span := g.tel.Tracer().Start(ctx, "gateway.dispatch", attribute.String("operation", op.Name()))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, op.Name())
		}
		span.End()
	}()

	switch o := op.(type) {
	case GetMenu:
		items, err := g.menu.Menu(ctx)
		if err != nil {
			return nil, err
		}
		return MenuReply{Items: items}, nil
	case GetCustomer:
		c, ok, err := g.customers.Lookup(ctx, o.Phone)
		if err != nil {
			return nil, err
		}
		return CustomerReply{Customer: c, Found: ok}, nil
	case CreateCustomer:
		return g.createCustomer(ctx, o)
	case PlaceOrder:
		res, err := g.orders.PlaceOrder(ctx, o.Request)
		if err != nil {
			return nil, err
		}
		return OrderReply{Result: res}, nil
	default:
		return nil, fault.Validation(fmt.Sprintf("unsupported operation %q", op.Name()))
	}
}

// createCustomer resolves or creates the customer. A complete request that
// hits an upstream outage is queued and acknowledged.
func (g *Gateway) createCustomer(ctx context.Context, op CreateCustomer) (Reply, error) {
	if op.CustomerName == "" {
		return nil, fault.Validation("name is required")
	}
	c, ok, err := g.customers.Resolve(ctx, op.Phone, op.CustomerName)
	switch {
	case err == nil && !ok:
		return nil, fault.Validation("phone is required")
	case err == nil:
		return CustomerCreatedReply{CustomerID: c.ID}, nil
	case !fault.Retryable(err):
		return nil, err
	}

	entry, qerr := g.pending.Enqueue(ctx, dompending.NewCustomerEntry(op.Phone, op.CustomerName))
	if qerr != nil {
		return nil, fmt.Errorf("gateway: queue customer creation: %w", qerr)
	}
	logctx.FromOr(ctx, g.log).Warn("customer_creation_queued",
		observability.F("pending_id", entry.ID),
		observability.Err(err),
	)
	return CustomerCreatedReply{Queued: true, PendingID: entry.ID}, nil
}

// Authorize completes the OAuth authorization-code flow.
func (g *Gateway) Authorize(ctx context.Context, code string) error {
	return g.credentials.Authorize(ctx, code)
}

// Health is the operator view of the gateway state.
type Health struct {
	Token        token.Status
	PendingCount int
	CatalogItems int
}

// Ready reports whether upstream calls can currently be authenticated.
func (h Health) Ready() bool {
	return !h.Token.Poisoned && (h.Token.HasAccessToken || h.Token.CanRefresh)
}

func (g *Gateway) Health(ctx context.Context) Health {
	return Health{
		Token:        g.credentials.Status(),
		PendingCount: g.pending.Len(ctx),
		CatalogItems: g.menu.Len(),
	}
}

// PendingEntries lists the queued operations, oldest first.
func (g *Gateway) PendingEntries(ctx context.Context) ([]dompending.Entry, error) {
	return g.pending.Entries(ctx)
}
