package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/wulinbill/loyverse-api/internal/domain/customer"
)

// CustomerRepository is the process-local customer cache keyed by normalized phone.
type CustomerRepository struct {
	mu      sync.RWMutex
	byPhone map[string]domain.Customer
}

func NewCustomerRepository() *CustomerRepository {
	return &CustomerRepository{
		byPhone: make(map[string]domain.Customer),
	}
}

func (r *CustomerRepository) Get(ctx context.Context, phone string) (domain.Customer, bool, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byPhone[domain.NormalizePhone(phone)]
	return c, ok, nil
}

func (r *CustomerRepository) Put(ctx context.Context, c domain.Customer) error {
	_ = ctx
	key := domain.NormalizePhone(c.Phone)
	if key == "" || c.ID == "" {
		return fmt.Errorf("customer repository: id and phone are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c.Phone = key
	r.byPhone[key] = c
	return nil
}

func (r *CustomerRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPhone)
}
