package customer

import (
	"context"
	"strings"
)

// Customer is an upstream-confirmed customer record.
type Customer struct {
	ID    string
	Name  string
	Phone string
}

// Repository caches customers by normalized phone.
type Repository interface {
	Get(ctx context.Context, phone string) (Customer, bool, error)
	// Put stores c, replacing any record for the same phone.
	Put(ctx context.Context, c Customer) error
}

// NormalizePhone trims the value and drops common visual separators so the
// same number typed differently maps to one cache key.
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
}

// Sentinels is the set of phone values meaning "no phone was provided".
type Sentinels map[string]struct{}

func NewSentinels(values []string) Sentinels {
	s := make(Sentinels, len(values)+1)
	s[""] = struct{}{}
	for _, v := range values {
		s[strings.TrimSpace(v)] = struct{}{}
	}
	return s
}

// Match reports whether phone is a placeholder rather than a number.
func (s Sentinels) Match(phone string) bool {
	_, ok := s[strings.TrimSpace(phone)]
	return ok
}
