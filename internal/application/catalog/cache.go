// Package catalog keeps a read-through snapshot of the upstream item catalog.
package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/wulinbill/loyverse-api/internal/domain/catalog"
	"github.com/wulinbill/loyverse-api/internal/domain/fault"
	"github.com/wulinbill/loyverse-api/internal/observability"
	"github.com/wulinbill/loyverse-api/internal/observability/logctx"
	"github.com/wulinbill/loyverse-api/internal/pkg/clock"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

const (
	componentCatalog   = "catalog_cache"
	useCaseRefresh     = "catalog.refresh"
	refreshFlight      = "refresh"
	defaultTTL         = 15 * time.Minute
	maxPages           = 1000
	statusPageFailed   = "PAGE_FETCH_FAILED"
	statusCursorLooped = "CURSOR_LOOP"
)

// ItemLister returns one page of upstream items and the cursor of the next
// page; an empty cursor ends the listing.
type ItemLister interface {
	ListItems(ctx context.Context, cursor string) (items []domain.RawItem, next string, err error)
}

type Cache struct {
	lister  ItemLister
	aliases domain.AliasTable
	ttl     time.Duration
	clock   clock.Clock

	mu   sync.RWMutex
	snap *domain.Snapshot

	flight singleflight.Group

	tel       observability.Observability
	log       observability.Logger
	refreshes observability.Counter
	size      observability.Gauge
}

type Option func(*Cache)

func WithClock(c clock.Clock) Option {
	return func(cc *Cache) { cc.clock = clock.OrReal(c) }
}

// WithTTL sets the age after which a miss triggers a refresh.
func WithTTL(d time.Duration) Option {
	return func(cc *Cache) {
		if d > 0 {
			cc.ttl = d
		}
	}
}

// WithAliases installs the static alias table, keyed by item name.
func WithAliases(byName map[string][]string) Option {
	return func(cc *Cache) { cc.aliases = domain.NewAliasTable(byName) }
}

func New(lister ItemLister, tel observability.Observability, opts ...Option) *Cache {
	tel = observability.OrNop(tel)
	c := &Cache{
		lister:    lister,
		aliases:   domain.AliasTable{},
		ttl:       defaultTTL,
		clock:     clock.Real(),
		tel:       tel,
		log:       tel.Logger().With(observability.F("component", componentCatalog)),
		refreshes: tel.Metrics().Counter(observability.MCatalogRefreshes),
		size:      tel.Metrics().Gauge(observability.MCatalogItems),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh pulls every page and swaps the snapshot in. Concurrent callers
// share one pull, which is detached from the first caller's cancellation;
// each page is still bounded by the lister's own timeout. On failure the
// previous snapshot stays in place.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err, _ := c.flight.Do(refreshFlight, func() (any, error) {
		return nil, c.refresh(context.WithoutCancel(ctx))
	})
	return err
}

func (c *Cache) refresh(ctx context.Context) (err error) {
	logger := logctx.FromOr(ctx, c.log).With(observability.F("component", componentCatalog))
	ctx, run := observability.Begin(ctx, c.tel, logger, useCaseRefresh, "CatalogRefresh")
	defer func() { run.End(err) }()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		c.refreshes.Add(1, observability.L("outcome", outcome))
	}()

	var raws []domain.RawItem
	seen := make(map[string]struct{})
	cursor, pages := "", 0
	for {
		items, next, perr := c.lister.ListItems(ctx, cursor)
		if perr != nil {
			run.Fail(statusPageFailed)
			return fmt.Errorf("catalog: refresh page %d: %w", pages+1, perr)
		}
		raws = append(raws, items...)
		pages++
		if next == "" {
			break
		}
		if _, loop := seen[next]; loop || pages >= maxPages {
			run.Fail(statusCursorLooped)
			return fault.Upstream("catalog: refresh", fmt.Errorf("cursor %q repeated after %d pages", next, pages))
		}
		seen[next] = struct{}{}
		cursor = next
	}

	items := make([]domain.MenuItem, 0, len(raws))
	for _, r := range raws {
		items = append(items, domain.BuildItem(r, c.aliases))
	}
	snap, skipped := domain.NewSnapshot(items, c.clock.Now())
	if len(skipped) > 0 {
		logger.Warn("catalog_items_skipped",
			observability.F("count", len(skipped)),
			observability.F("skus", skipped),
		)
	}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	c.size.Set(float64(snap.Len()))

	run.Span().SetAttributes(
		attribute.Int("catalog.items", snap.Len()),
		attribute.Int("catalog.pages", pages),
	)
	run.Add(observability.F("items", snap.Len()), observability.F("pages", pages))
	logger.Info("catalog_refreshed",
		observability.F("items", snap.Len()),
		observability.F("pages", pages),
		observability.F("skipped", len(skipped)),
	)
	return nil
}

func (c *Cache) snapshot() *domain.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Lookup resolves term against the current snapshot without any upstream call.
func (c *Cache) Lookup(term string) (domain.MenuItem, bool) {
	return c.snapshot().Lookup(term)
}

// LookupOrRefresh looks term up and, on a miss against an empty or expired
// snapshot, refreshes once and looks again. A failed refresh degrades to a
// miss; the error is returned alongside for logging.
func (c *Cache) LookupOrRefresh(ctx context.Context, term string) (domain.MenuItem, bool, error) {
	return c.findOrRefresh(ctx, term, (*domain.Snapshot).Lookup)
}

// ResolveOrRefresh is LookupOrRefresh restricted to exact SKU or alias
// matches. Order pricing goes through it.
func (c *Cache) ResolveOrRefresh(ctx context.Context, term string) (domain.MenuItem, bool, error) {
	return c.findOrRefresh(ctx, term, (*domain.Snapshot).Resolve)
}

func (c *Cache) findOrRefresh(ctx context.Context, term string, find func(*domain.Snapshot, string) (domain.MenuItem, bool)) (domain.MenuItem, bool, error) {
	snap := c.snapshot()
	if item, ok := find(snap, term); ok {
		return item, true, nil
	}
	if !snap.Stale(c.clock.Now(), c.ttl) {
		return domain.MenuItem{}, false, nil
	}
	if err := c.Refresh(ctx); err != nil {
		return domain.MenuItem{}, false, err
	}
	item, ok := find(c.snapshot(), term)
	return item, ok, nil
}

// Menu returns every item, refreshing first when the snapshot is empty or
// expired. A failed refresh with nothing cached is an error; with a stale
// snapshot cached the stale items are served.
func (c *Cache) Menu(ctx context.Context) ([]domain.MenuItem, error) {
	snap := c.snapshot()
	if !snap.Stale(c.clock.Now(), c.ttl) {
		return snap.Items(), nil
	}
	if err := c.Refresh(ctx); err != nil {
		if snap.Len() > 0 {
			logctx.FromOr(ctx, c.log).Warn("catalog_serving_stale",
				observability.F("age_seconds", c.clock.Now().Sub(snap.FetchedAt()).Seconds()),
				observability.Err(err),
			)
			return snap.Items(), nil
		}
		return nil, err
	}
	return c.snapshot().Items(), nil
}

func (c *Cache) Len() int {
	return c.snapshot().Len()
}
