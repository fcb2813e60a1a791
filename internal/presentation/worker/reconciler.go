package workerpresentation

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	pendingapp "github.com/wulinbill/loyverse-api/internal/application/pending"
	domcustomer "github.com/wulinbill/loyverse-api/internal/domain/customer"
	domorder "github.com/wulinbill/loyverse-api/internal/domain/order"
	dompending "github.com/wulinbill/loyverse-api/internal/domain/pending"
	"github.com/wulinbill/loyverse-api/internal/observability"
	"github.com/wulinbill/loyverse-api/internal/observability/logctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	componentReconciler = "reconciler"
	useCaseReconcile    = "pending.reconcile"
	defaultInterval     = 30 * time.Second
	entryTimeout        = 30 * time.Second
)

// Drainer is the pending queue as seen by the reconciler.
type Drainer interface {
	Drain(ctx context.Context, fn pendingapp.Handler) (pendingapp.DrainReport, error)
}

type CustomerResolver interface {
	Resolve(ctx context.Context, phone, name string) (domcustomer.Customer, bool, error)
}

type OrderReplayer interface {
	Replay(ctx context.Context, sub domorder.Submission) (domorder.Receipt, error)
}

// Reconciler periodically drains the pending queue, replaying each entry
// against the upstream.
type Reconciler struct {
	queue     Drainer
	customers CustomerResolver
	orders    OrderReplayer
	interval  time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	log observability.Logger
	tel observability.Observability
}

func NewReconciler(queue Drainer, customers CustomerResolver, orders OrderReplayer, interval time.Duration, tel observability.Observability) *Reconciler {
	tel = observability.OrNop(tel)
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Reconciler{
		queue:     queue,
		customers: customers,
		orders:    orders,
		interval:  interval,
		done:      make(chan struct{}),
		log:       tel.Logger().With(observability.F("component", componentReconciler)),
		tel:       tel,
	}
}

// Start launches the drain loop. Calls after the first are no-ops.
func (r *Reconciler) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
		r.cancel = cancel
		go r.loop(bg)
		logctx.FromOr(ctx, r.log).Info("reconciler_started", observability.F("interval", r.interval.String()))
	})
}

// Stop ends the loop and waits for an in-progress drain, at most until ctx is done.
func (r *Reconciler) Stop(ctx context.Context) {
	r.stopOnce.Do(func() {
		if r.cancel == nil {
			return
		}
		r.cancel()
		select {
		case <-r.done:
		case <-ctx.Done():
			logctx.FromOr(ctx, r.log).Warn("reconciler_stop_timeout", observability.Err(ctx.Err()))
		}
		logctx.FromOr(ctx, r.log).Info("reconciler_stopped")
	})
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.log.Warn("reconcile_pass_failed", observability.Err(err))
			}
		}
	}
}

// RunOnce drains the queue a single time.
func (r *Reconciler) RunOnce(ctx context.Context) (pendingapp.DrainReport, error) {
	report, err := r.queue.Drain(ctx, r.handle)
	if err != nil {
		return report, err
	}
	if report.Attempted > 0 {
		r.log.Info("reconcile_pass_done",
			observability.F("attempted", report.Attempted),
			observability.F("processed", report.Processed),
			observability.F("failed", report.Failed),
			observability.F("dead_lettered", report.DeadLettered),
			observability.F("remaining", report.Remaining),
		)
	}
	return report, nil
}

// handle replays one entry. A panic is recovered and reported as a failed attempt.
func (r *Reconciler) handle(ctx context.Context, e dompending.Entry) (err error) {
	ctx, span := r.tel.Tracer().Start(ctx, observability.SpanPrefix+"ReconcileEntry",
		attribute.String("use_case", useCaseReconcile),
		attribute.String("pending.id", e.ID),
		attribute.String("pending.kind", string(e.Kind)),
		attribute.Int("pending.attempts", e.Attempts),
	)
	ctx = withEntryContext(ctx, r.log, e)
	ctx, cancel := context.WithTimeout(ctx, entryTimeout)

	defer func() {
		if rec := recover(); rec != nil {
			logctx.FromOr(ctx, r.log).Error("reconcile_entry_panic",
				observability.F("panic", fmt.Sprint(rec)),
				observability.F("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("reconcile: panic: %v", rec)
		}
		cancel()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "RECONCILE_FAILED")
		} else {
			span.SetStatus(codes.Ok, "OK")
		}
		span.End()
	}()

	switch e.Kind {
	case dompending.KindCustomerCreation:
		return r.replayCustomer(ctx, e)
	case dompending.KindOrderSubmission:
		return r.replayOrder(ctx, e)
	default:
		return fmt.Errorf("reconcile: %w: %q", dompending.ErrUnknownKind, e.Kind)
	}
}

func (r *Reconciler) replayCustomer(ctx context.Context, e dompending.Entry) error {
	if e.Customer == nil {
		return dompending.ErrNoPayload
	}
	c, ok, err := r.customers.Resolve(ctx, e.Customer.Phone, e.Customer.Name)
	if err != nil {
		return err
	}
	logger := logctx.FromOr(ctx, r.log)
	if !ok {
		logger.Warn("reconcile_customer_skipped", observability.F("reason", "no_phone"))
		return nil
	}
	logger.Info("reconcile_customer_done", observability.F("customer_id", c.ID))
	return nil
}

func (r *Reconciler) replayOrder(ctx context.Context, e dompending.Entry) error {
	if e.Order == nil {
		return dompending.ErrNoPayload
	}
	receipt, err := r.orders.Replay(ctx, *e.Order)
	if err != nil {
		return err
	}
	logctx.FromOr(ctx, r.log).Info("reconcile_order_done",
		observability.F("receipt_id", receipt.ID),
		observability.F("idempotency_key", e.Order.IdempotencyKey),
		observability.F("queued_for_seconds", time.Since(e.EnqueuedAt).Seconds()),
	)
	return nil
}
