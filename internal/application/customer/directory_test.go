package customer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domain "github.com/wulinbill/loyverse-api/internal/domain/customer"
	"github.com/wulinbill/loyverse-api/internal/domain/fault"
	"github.com/wulinbill/loyverse-api/internal/infrastructure/memory"
)

type fakeAPI struct {
	mu       sync.Mutex
	byPhone  map[string]domain.Customer
	searches int
	creates  int
	nextID   int

	searchErr error
	createErr error
	// conflictWith is registered upstream when Create is called, simulating a
	// concurrent creation by another caller.
	conflictWith *domain.Customer
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{byPhone: make(map[string]domain.Customer)}
}

func (f *fakeAPI) Search(_ context.Context, phone string) (domain.Customer, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	if f.searchErr != nil {
		return domain.Customer{}, false, f.searchErr
	}
	c, ok := f.byPhone[phone]
	return c, ok, nil
}

func (f *fakeAPI) Create(_ context.Context, name, phone string) (domain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.conflictWith != nil {
		f.byPhone[phone] = *f.conflictWith
		return domain.Customer{}, fault.Conflict("loyverse: create customer")
	}
	if f.createErr != nil {
		return domain.Customer{}, f.createErr
	}
	f.nextID++
	c := domain.Customer{ID: fmt.Sprintf("cust-%d", f.nextID), Name: name, Phone: phone}
	f.byPhone[phone] = c
	return c, nil
}

func newDirectory(api API) *Directory {
	return NewDirectory(api, memory.NewCustomerRepository(), []string{"null", "{{phone}}"}, nil)
}

func TestResolveSentinelPhoneMakesNoCalls(t *testing.T) {
	api := newFakeAPI()
	d := newDirectory(api)

	for _, phone := range []string{"", "   ", "null", "{{phone}}"} {
		c, ok, err := d.Resolve(context.Background(), phone, "Jane")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, c.ID)
	}
	assert.Zero(t, api.searches)
	assert.Zero(t, api.creates)
}

func TestResolveTwiceCreatesOnce(t *testing.T) {
	api := newFakeAPI()
	d := newDirectory(api)

	first, ok, err := d.Resolve(context.Background(), "+15550001", "Jane")
	require.NoError(t, err)
	require.True(t, ok)

	second, ok, err := d.Resolve(context.Background(), "+1 555-0001", "")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, api.creates)
	assert.Equal(t, 1, api.searches, "second resolve is served from the cache")
}

func TestResolveUsesExistingUpstreamCustomer(t *testing.T) {
	api := newFakeAPI()
	api.byPhone["+15550002"] = domain.Customer{ID: "cust-existing", Name: "Ana", Phone: "+15550002"}
	d := newDirectory(api)

	c, ok, err := d.Resolve(context.Background(), "+15550002", "Someone Else")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cust-existing", c.ID)
	assert.Zero(t, api.creates)
}

func TestResolveWithoutNameIsValidationError(t *testing.T) {
	api := newFakeAPI()
	d := newDirectory(api)

	_, ok, err := d.Resolve(context.Background(), "+15550003", "  ")
	require.ErrorIs(t, err, fault.ErrValidation)
	assert.False(t, ok)
	assert.Zero(t, api.creates)
}

func TestResolveRequeriesOnConflict(t *testing.T) {
	api := newFakeAPI()
	api.conflictWith = &domain.Customer{ID: "cust-race", Name: "Jane", Phone: "+15550004"}
	d := newDirectory(api)

	c, ok, err := d.Resolve(context.Background(), "+15550004", "Jane")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cust-race", c.ID)
	assert.Equal(t, 2, api.searches)
}

func TestResolvePropagatesUpstreamFailure(t *testing.T) {
	api := newFakeAPI()
	api.createErr = fault.Upstream("loyverse: create customer", errors.New("timeout"))
	d := newDirectory(api)

	_, _, err := d.Resolve(context.Background(), "+15550005", "Jane")
	require.ErrorIs(t, err, fault.ErrUpstream)

	api.searchErr = fault.Upstream("loyverse: search customers", errors.New("503"))
	_, _, err = d.Resolve(context.Background(), "+15550006", "Jane")
	require.ErrorIs(t, err, fault.ErrUpstream)
}

func TestLookup(t *testing.T) {
	api := newFakeAPI()
	api.byPhone["+15550007"] = domain.Customer{ID: "cust-7", Name: "Luis", Phone: "+15550007"}
	d := newDirectory(api)

	c, ok, err := d.Lookup(context.Background(), "+15550007")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Luis", c.Name)

	_, ok, err = d.Lookup(context.Background(), "+15550008")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, api.creates)

	_, _, err = d.Lookup(context.Background(), "null")
	require.ErrorIs(t, err, fault.ErrValidation)
}
