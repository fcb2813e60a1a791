package catalog

import (
	"strings"
	"time"
)

// Snapshot is an immutable, ordered view of the catalog built by one refresh.
type Snapshot struct {
	items     []MenuItem
	bySKU     map[string]int
	byAlias   map[string]int
	byName    map[string]int
	names     []string
	fetchedAt time.Time
}

// NewSnapshot indexes items in order. Items without a SKU are skipped; a
// repeated SKU keeps its first occurrence and is reported in skipped.
func NewSnapshot(items []MenuItem, fetchedAt time.Time) (snap *Snapshot, skipped []string) {
	s := &Snapshot{
		items:     make([]MenuItem, 0, len(items)),
		bySKU:     make(map[string]int, len(items)),
		byAlias:   make(map[string]int),
		byName:    make(map[string]int, len(items)),
		fetchedAt: fetchedAt,
	}
	for _, it := range items {
		key := Normalize(it.SKU)
		if key == "" {
			skipped = append(skipped, it.Name)
			continue
		}
		if _, dup := s.bySKU[key]; dup {
			skipped = append(skipped, it.SKU)
			continue
		}
		idx := len(s.items)
		s.items = append(s.items, it)
		s.bySKU[key] = idx
		name := Normalize(it.Name)
		s.names = append(s.names, name)
		if _, ok := s.byName[name]; !ok {
			s.byName[name] = idx
		}
		for _, a := range it.Aliases {
			if _, ok := s.byAlias[a]; !ok {
				s.byAlias[a] = idx
			}
		}
	}
	return s, skipped
}

// Resolve matches term exactly against SKUs, then aliases. It never falls
// back to names or substrings, so it is safe to price from.
func (s *Snapshot) Resolve(term string) (MenuItem, bool) {
	if s == nil {
		return MenuItem{}, false
	}
	q := Normalize(term)
	if q == "" {
		return MenuItem{}, false
	}
	if idx, ok := s.bySKU[q]; ok {
		return s.items[idx], true
	}
	if idx, ok := s.byAlias[q]; ok {
		return s.items[idx], true
	}
	return MenuItem{}, false
}

// Lookup resolves term to an item: exact SKU, exact alias, exact name, then
// the first item (catalog order) whose name or an alias contains term.
func (s *Snapshot) Lookup(term string) (MenuItem, bool) {
	if item, ok := s.Resolve(term); ok {
		return item, true
	}
	if s == nil {
		return MenuItem{}, false
	}
	q := Normalize(term)
	if q == "" {
		return MenuItem{}, false
	}
	if idx, ok := s.byName[q]; ok {
		return s.items[idx], true
	}
	for i, it := range s.items {
		if strings.Contains(s.names[i], q) {
			return it, true
		}
		for _, a := range it.Aliases {
			if strings.Contains(a, q) {
				return it, true
			}
		}
	}
	return MenuItem{}, false
}

// Items returns the items in catalog order.
func (s *Snapshot) Items() []MenuItem {
	if s == nil {
		return nil
	}
	out := make([]MenuItem, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

func (s *Snapshot) FetchedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.fetchedAt
}

// Stale reports whether the snapshot is missing, empty or older than ttl at now.
func (s *Snapshot) Stale(now time.Time, ttl time.Duration) bool {
	if s == nil || len(s.items) == 0 {
		return true
	}
	return now.Sub(s.fetchedAt) >= ttl
}
