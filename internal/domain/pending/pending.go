package pending

import (
	"context"
	"errors"
	"time"

	"github.com/wulinbill/loyverse-api/internal/domain/customer"
	"github.com/wulinbill/loyverse-api/internal/domain/order"
)

var (
	ErrNotFound    = errors.New("pending: entry not found")
	ErrNoPayload   = errors.New("pending: entry has no payload for its kind")
	ErrUnknownKind = errors.New("pending: unknown entry kind")
)

type Kind string

const (
	KindCustomerCreation Kind = "customer_creation"
	KindOrderSubmission  Kind = "order_submission"
)

// CustomerCreation is a customer that could not be created synchronously.
type CustomerCreation struct {
	Phone string
	Name  string
}

// Entry is an operation waiting for reconciliation. Exactly one payload
// matching Kind is set.
type Entry struct {
	ID             string
	Kind           Kind
	IdempotencyKey string
	Customer       *CustomerCreation
	Order          *order.Submission

	EnqueuedAt    time.Time
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
}

// Validate checks that the payload matches the kind.
func (e Entry) Validate() error {
	switch e.Kind {
	case KindCustomerCreation:
		if e.Customer == nil {
			return ErrNoPayload
		}
	case KindOrderSubmission:
		if e.Order == nil {
			return ErrNoPayload
		}
	default:
		return ErrUnknownKind
	}
	return nil
}

// Due reports whether the entry may be attempted at now.
func (e Entry) Due(now time.Time) bool {
	return !now.Before(e.NextAttemptAt)
}

func (e Entry) Clone() Entry {
	c := e
	if e.Customer != nil {
		cc := *e.Customer
		c.Customer = &cc
	}
	if e.Order != nil {
		oc := e.Order.Clone()
		c.Order = &oc
	}
	return c
}

// NewOrderEntry wraps a submission; the submission's idempotency key
// identifies the entry.
func NewOrderEntry(sub order.Submission) Entry {
	s := sub.Clone()
	return Entry{Kind: KindOrderSubmission, IdempotencyKey: sub.IdempotencyKey, Order: &s}
}

// NewCustomerEntry wraps a customer creation; the normalized phone identifies
// the entry so repeated creations for one caller queue once, however the
// number was formatted.
func NewCustomerEntry(phone, name string) Entry {
	return Entry{
		Kind:           KindCustomerCreation,
		IdempotencyKey: "customer:" + customer.NormalizePhone(phone),
		Customer:       &CustomerCreation{Phone: phone, Name: name},
	}
}

// Store keeps entries in FIFO order.
type Store interface {
	// Insert appends e. When an entry with the same idempotency key is
	// queued, that entry is returned with existing=true and nothing is added.
	Insert(ctx context.Context, e Entry) (stored Entry, existing bool, err error)
	List(ctx context.Context) ([]Entry, error)
	Update(ctx context.Context, e Entry) error
	Delete(ctx context.Context, id string) error
	Len(ctx context.Context) (int, error)
}
