// Package customer maps caller phone numbers to upstream customer records.
package customer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/wulinbill/loyverse-api/internal/domain/customer"
	"github.com/wulinbill/loyverse-api/internal/domain/fault"
	"github.com/wulinbill/loyverse-api/internal/observability"
	"github.com/wulinbill/loyverse-api/internal/observability/logctx"
	"go.opentelemetry.io/otel/attribute"
)

const (
	componentDirectory = "customer_directory"
	useCaseResolve     = "customer.resolve"
	useCaseLookup      = "customer.lookup"
)

// ErrNameRequired is returned when a customer must be created but no name was given.
var ErrNameRequired = fault.Validation("name is required to create a customer")

// API is the upstream customer resource.
type API interface {
	// Search returns the customer registered under phone, if any.
	Search(ctx context.Context, phone string) (domain.Customer, bool, error)
	// Create registers a new customer. A duplicate phone yields fault.ErrConflict.
	Create(ctx context.Context, name, phone string) (domain.Customer, error)
}

// Directory resolves callers to customers, creating them on first contact.
//
// Two concurrent first-time resolves of the same phone may both miss the
// cache and the upstream search and create two upstream customers; the cache
// then keeps whichever finished last.
type Directory struct {
	api       API
	repo      domain.Repository
	sentinels domain.Sentinels

	tel observability.Observability
	log observability.Logger
}

func NewDirectory(api API, repo domain.Repository, sentinels []string, tel observability.Observability) *Directory {
	tel = observability.OrNop(tel)
	return &Directory{
		api:       api,
		repo:      repo,
		sentinels: domain.NewSentinels(sentinels),
		tel:       tel,
		log:       tel.Logger().With(observability.F("component", componentDirectory)),
	}
}

// Resolve returns the customer for phone, creating it with name when the
// upstream has none. A placeholder phone resolves to no customer without any
// upstream call.
func (d *Directory) Resolve(ctx context.Context, phone, name string) (_ domain.Customer, _ bool, err error) {
	logger := logctx.FromOr(ctx, d.log).With(observability.F("use_case", useCaseResolve))
	ctx, run := observability.Begin(ctx, d.tel, logger, useCaseResolve, "ResolveCustomer")
	defer func() { run.End(err) }()

	phone = strings.TrimSpace(phone)
	if d.sentinels.Match(phone) {
		run.SetStatus("NO_PHONE")
		return domain.Customer{}, false, nil
	}

	c, found, status, err := d.find(ctx, phone)
	if err != nil {
		run.Fail(status)
		return domain.Customer{}, false, err
	}
	run.SetStatus(status)
	if found {
		run.Span().SetAttributes(attribute.String("customer.id", c.ID))
		return c, true, nil
	}

	name = strings.TrimSpace(name)
	if name == "" {
		run.Fail("NAME_REQUIRED")
		return domain.Customer{}, false, ErrNameRequired
	}

	c, err = d.api.Create(ctx, name, phone)
	switch {
	case errors.Is(err, fault.ErrConflict):
		// Someone registered the phone between our search and create.
		c, found, err = d.api.Search(ctx, phone)
		if err != nil {
			run.Fail("REQUERY_FAILED")
			return domain.Customer{}, false, fmt.Errorf("customer: requery after conflict: %w", err)
		}
		if !found {
			run.Fail("CONFLICT_UNRESOLVED")
			return domain.Customer{}, false, fault.Upstream("customer: create", errors.New("conflict reported but phone not found"))
		}
		run.SetStatus("CONFLICT_REQUERIED")
	case err != nil:
		run.Fail("CREATE_FAILED")
		return domain.Customer{}, false, fmt.Errorf("customer: create: %w", err)
	default:
		run.SetStatus("CREATED")
	}

	d.remember(ctx, logger, phone, c)
	run.Span().SetAttributes(attribute.String("customer.id", c.ID))
	logger.Info("customer_created", observability.F("customer_id", c.ID))
	return c, true, nil
}

// Lookup finds the customer for phone without creating one.
func (d *Directory) Lookup(ctx context.Context, phone string) (_ domain.Customer, _ bool, err error) {
	logger := logctx.FromOr(ctx, d.log).With(observability.F("use_case", useCaseLookup))
	ctx, run := observability.Begin(ctx, d.tel, logger, useCaseLookup, "LookupCustomer")
	defer func() { run.End(err) }()

	phone = strings.TrimSpace(phone)
	if d.sentinels.Match(phone) {
		run.Fail("PHONE_REQUIRED")
		return domain.Customer{}, false, fault.Validation("phone is required")
	}
	c, found, status, err := d.find(ctx, phone)
	if err != nil {
		run.Fail(status)
		return domain.Customer{}, false, err
	}
	run.SetStatus(status)
	return c, found, nil
}

// find checks the cache, then the upstream search, caching what it finds.
func (d *Directory) find(ctx context.Context, phone string) (domain.Customer, bool, string, error) {
	if c, ok, err := d.repo.Get(ctx, phone); err == nil && ok {
		return c, true, "CACHE_HIT", nil
	}

	c, found, err := d.api.Search(ctx, phone)
	if err != nil {
		return domain.Customer{}, false, "SEARCH_FAILED", fmt.Errorf("customer: search: %w", err)
	}
	if !found {
		return domain.Customer{}, false, "NOT_FOUND", nil
	}
	d.remember(ctx, logctx.FromOr(ctx, d.log), phone, c)
	return c, true, "SEARCH_HIT", nil
}

// remember caches c under the phone the caller used, which may be formatted
// differently from the one upstream stored.
func (d *Directory) remember(ctx context.Context, logger observability.Logger, phone string, c domain.Customer) {
	c.Phone = phone
	if err := d.repo.Put(ctx, c); err != nil {
		logger.Warn("customer_cache_put_failed", observability.F("customer_id", c.ID), observability.Err(err))
	}
}
