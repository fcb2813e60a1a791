package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/wulinbill/loyverse-api/internal/domain/pending"
)

// PendingRepository keeps pending entries in insertion order. Nothing is
// persisted: entries are lost when the process exits.
type PendingRepository struct {
	mu          sync.RWMutex
	order       []string
	entries     map[string]domain.Entry
	idempotency map[string]string
}

func NewPendingRepository() *PendingRepository {
	return &PendingRepository{
		entries:     make(map[string]domain.Entry),
		idempotency: make(map[string]string),
	}
}

func (r *PendingRepository) Insert(ctx context.Context, e domain.Entry) (domain.Entry, bool, error) {
	_ = ctx
	if e.ID == "" {
		return domain.Entry{}, false, fmt.Errorf("pending repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[e.ID]; exists {
		return domain.Entry{}, false, fmt.Errorf("pending repository: duplicate id %s", e.ID)
	}

	if key := e.IdempotencyKey; key != "" {
		if existingID, exists := r.idempotency[key]; exists {
			if existing, ok := r.entries[existingID]; ok {
				return existing.Clone(), true, nil
			}
		}
	}

	r.entries[e.ID] = e.Clone()
	r.order = append(r.order, e.ID)
	if key := e.IdempotencyKey; key != "" {
		r.idempotency[key] = e.ID
	}
	return e.Clone(), false, nil
}

// List returns a copy of every entry, oldest first.
func (r *PendingRepository) List(ctx context.Context) ([]domain.Entry, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].Clone())
	}
	return out, nil
}

func (r *PendingRepository) Update(ctx context.Context, e domain.Entry) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[e.ID]; !exists {
		return domain.ErrNotFound
	}
	r.entries[e.ID] = e.Clone()
	return nil
}

func (r *PendingRepository) Delete(ctx context.Context, id string) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[id]
	if !exists {
		return domain.ErrNotFound
	}
	delete(r.entries, id)
	if key := e.IdempotencyKey; key != "" && r.idempotency[key] == id {
		delete(r.idempotency, key)
	}
	for i, queued := range r.order {
		if queued == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *PendingRepository) Len(ctx context.Context) (int, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order), nil
}
