// Package pending holds operations that failed against a transient upstream
// outage until the reconciler replays them.
package pending

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wulinbill/loyverse-api/internal/domain/fault"
	domain "github.com/wulinbill/loyverse-api/internal/domain/pending"
	"github.com/wulinbill/loyverse-api/internal/observability"
	"github.com/wulinbill/loyverse-api/internal/observability/logctx"
	"github.com/wulinbill/loyverse-api/internal/pkg/clock"
)

const (
	componentQueue     = "pending_queue"
	defaultMaxAttempts = 8
	defaultBackoffBase = 30 * time.Second
	defaultBackoffMax  = 30 * time.Minute
)

// Handler replays one entry. A nil error confirms the entry upstream.
type Handler func(ctx context.Context, e domain.Entry) error

// DeadLetterFunc is told about every entry the queue gives up on.
type DeadLetterFunc func(e domain.Entry, cause error)

// DrainReport summarizes one Drain pass.
type DrainReport struct {
	Attempted    int
	Processed    int
	Failed       int
	DeadLettered int
	NotDue       int
	Remaining    int
}

type Queue struct {
	store       domain.Store
	clock       clock.Clock
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
	deadLetter  DeadLetterFunc
	newID       func() string

	drainMu sync.Mutex

	log         observability.Logger
	enqueued    observability.Counter
	attempts    observability.Counter
	deadLetters observability.Counter
	depth       observability.Gauge
}

type Option func(*Queue)

func WithClock(c clock.Clock) Option {
	return func(q *Queue) { q.clock = clock.OrReal(c) }
}

// WithMaxAttempts sets the attempt ceiling after which an entry is dead-lettered.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithBackoff sets the delay after the first failure and its cap. The delay
// doubles with every further failure.
func WithBackoff(base, ceiling time.Duration) Option {
	return func(q *Queue) {
		if base > 0 && ceiling >= base {
			q.backoffBase, q.backoffMax = base, ceiling
		}
	}
}

func WithDeadLetter(fn DeadLetterFunc) Option {
	return func(q *Queue) { q.deadLetter = fn }
}

// WithIDGenerator replaces the uuid entry ids, for tests.
func WithIDGenerator(fn func() string) Option {
	return func(q *Queue) {
		if fn != nil {
			q.newID = fn
		}
	}
}

func New(store domain.Store, tel observability.Observability, opts ...Option) *Queue {
	tel = observability.OrNop(tel)
	q := &Queue{
		store:       store,
		clock:       clock.Real(),
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		backoffMax:  defaultBackoffMax,
		newID:       uuid.NewString,
		log:         tel.Logger().With(observability.F("component", componentQueue)),
		enqueued:    tel.Metrics().Counter(observability.MPendingEnqueued),
		attempts:    tel.Metrics().Counter(observability.MPendingAttempts),
		deadLetters: tel.Metrics().Counter(observability.MPendingDeadLetter),
		depth:       tel.Metrics().Gauge(observability.MPendingDepth),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue stores e for a later attempt. When an entry with the same
// idempotency key is already queued, that entry is returned instead.
func (q *Queue) Enqueue(ctx context.Context, e domain.Entry) (domain.Entry, error) {
	if err := e.Validate(); err != nil {
		return domain.Entry{}, fmt.Errorf("pending: enqueue: %w", err)
	}
	now := q.clock.Now()
	e.ID = q.newID()
	e.EnqueuedAt = now
	e.NextAttemptAt = now
	e.Attempts = 0

	stored, existing, err := q.store.Insert(ctx, e)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("pending: enqueue: %w", err)
	}

	outcome := "new"
	if existing {
		outcome = "duplicate"
	}
	q.enqueued.Add(1, observability.L("kind", string(e.Kind)), observability.L("outcome", outcome))
	n := q.Len(ctx)
	q.depth.Set(float64(n))
	logctx.FromOr(ctx, q.log).Info("pending_enqueued",
		observability.F("pending_id", stored.ID),
		observability.F("kind", string(stored.Kind)),
		observability.F("idempotency_key", stored.IdempotencyKey),
		observability.F("duplicate", existing),
		observability.F("queue_len", n),
	)
	return stored, nil
}

// Drain attempts every due entry in FIFO order. fn runs without any queue
// lock held; only one Drain runs at a time. Confirmed entries are removed,
// failed ones are rescheduled with exponential backoff, and entries that
// reach the attempt ceiling or fail permanently are dead-lettered.
func (q *Queue) Drain(ctx context.Context, fn Handler) (DrainReport, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	var report DrainReport
	entries, err := q.store.List(ctx)
	if err != nil {
		return report, fmt.Errorf("pending: drain: %w", err)
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		if !e.Due(q.clock.Now()) {
			report.NotDue++
			continue
		}
		report.Attempted++

		ferr := fn(ctx, e.Clone())
		if ferr == nil {
			q.attempts.Add(1, observability.L("kind", string(e.Kind)), observability.L("outcome", "success"))
			if err := q.store.Delete(ctx, e.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return report, fmt.Errorf("pending: drain: delete %s: %w", e.ID, err)
			}
			report.Processed++
			continue
		}

		q.attempts.Add(1, observability.L("kind", string(e.Kind)), observability.L("outcome", "error"))
		e.Attempts++
		e.LastError = ferr.Error()

		if reason, dead := q.exhausted(e, ferr); dead {
			if err := q.store.Delete(ctx, e.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return report, fmt.Errorf("pending: drain: delete %s: %w", e.ID, err)
			}
			q.bury(ctx, e, ferr, reason)
			report.DeadLettered++
			continue
		}

		e.NextAttemptAt = q.clock.Now().Add(q.backoff(e.Attempts))
		if err := q.store.Update(ctx, e); err != nil {
			return report, fmt.Errorf("pending: drain: update %s: %w", e.ID, err)
		}
		report.Failed++
		logctx.FromOr(ctx, q.log).Warn("pending_attempt_failed",
			observability.F("pending_id", e.ID),
			observability.F("kind", string(e.Kind)),
			observability.F("attempts", e.Attempts),
			observability.F("next_attempt_at", e.NextAttemptAt),
			observability.Err(ferr),
		)
	}

	report.Remaining = q.Len(ctx)
	q.depth.Set(float64(report.Remaining))
	return report, nil
}

// exhausted decides whether e should leave the queue. Rejections and
// validation failures will not succeed on replay.
func (q *Queue) exhausted(e domain.Entry, cause error) (string, bool) {
	switch {
	case errors.Is(cause, fault.ErrValidation), errors.Is(cause, fault.ErrRejected):
		return "rejected", true
	case e.Attempts >= q.maxAttempts:
		return "max_attempts", true
	}
	return "", false
}

func (q *Queue) bury(ctx context.Context, e domain.Entry, cause error, reason string) {
	q.deadLetters.Add(1, observability.L("kind", string(e.Kind)), observability.L("reason", reason))
	logctx.FromOr(ctx, q.log).Error("pending_dead_letter",
		observability.F("pending_id", e.ID),
		observability.F("kind", string(e.Kind)),
		observability.F("idempotency_key", e.IdempotencyKey),
		observability.F("attempts", e.Attempts),
		observability.F("reason", reason),
		observability.F("enqueued_at", e.EnqueuedAt),
		observability.Err(cause),
	)
	if q.deadLetter != nil {
		q.deadLetter(e.Clone(), cause)
	}
}

// backoff returns base·2^(attempts-1), capped at max.
func (q *Queue) backoff(attempts int) time.Duration {
	d := q.backoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= q.backoffMax || d <= 0 {
			return q.backoffMax
		}
	}
	if d > q.backoffMax {
		return q.backoffMax
	}
	return d
}

func (q *Queue) Len(ctx context.Context) int {
	n, err := q.store.Len(ctx)
	if err != nil {
		logctx.FromOr(ctx, q.log).Warn("pending_len_failed", observability.Err(err))
		return 0
	}
	return n
}

// Entries returns copies of the queued entries, oldest first.
func (q *Queue) Entries(ctx context.Context) ([]domain.Entry, error) {
	entries, err := q.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("pending: list: %w", err)
	}
	return entries, nil
}
