package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wulinbill/loyverse-api/internal/domain/fault"
)

var (
	ErrNoItems      = fmt.Errorf("%w: order has no items", fault.ErrValidation)
	ErrNoValidItems = fmt.Errorf("%w: no valid items in order", fault.ErrValidation)
)

// LineRequest is one requested line as the caller sent it.
type LineRequest struct {
	SKU      string
	Quantity int
}

// Request is an order intent. CustomerID wins over Phone; both may be empty
// for an anonymous order.
type Request struct {
	CustomerID string
	Phone      string
	Name       string
	Lines      []LineRequest
}

// Line is a validated, priced line.
type Line struct {
	SKU       string
	Name      string
	Category  string
	Quantity  int
	UnitPrice decimal.Decimal
}

func (l Line) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Total sums price × quantity over lines.
func Total(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount())
	}
	return total
}

// Submission is everything needed to create the upstream receipt. It is also
// the payload replayed from the pending queue, so it carries the phone/name
// when the customer could not be resolved yet.
type Submission struct {
	IdempotencyKey string
	CustomerID     string
	Phone          string
	Name           string
	Lines          []Line
	Total          decimal.Decimal
}

func (s Submission) Clone() Submission {
	c := s
	c.Lines = append([]Line(nil), s.Lines...)
	return c
}

// Receipt is the upstream confirmation of a submission.
type Receipt struct {
	ID           string
	TotalWithTax decimal.Decimal
}

// Result is what PlaceOrder reports back. Exactly one of Queued or ReceiptID is set.
type Result struct {
	Queued         bool
	PendingID      string
	ReceiptID      string
	IdempotencyKey string
	Total          decimal.Decimal
	TotalWithTax   decimal.Decimal
	Lines          []Line
	Dropped        []LineRequest
	Prep           PrepEstimate
}

const (
	ShortPrep = 15 * time.Minute
	LongPrep  = 25 * time.Minute
	// longPrepMains is the number of main units from which the long estimate applies.
	longPrepMains = 3
)

// nonMainCategories are categories that do not count toward preparation load.
var nonMainCategories = map[string]struct{}{
	"side": {}, "sides": {},
	"extra": {}, "extras": {},
	"sauce": {}, "sauces": {},
	"modifier": {}, "modifiers": {},
}

type PrepEstimate struct {
	Mains    int
	Duration time.Duration
}

func (p PrepEstimate) Minutes() int {
	return int(p.Duration / time.Minute)
}

// IsMain reports whether a category counts as a main dish.
func IsMain(category string) bool {
	_, excluded := nonMainCategories[strings.ToLower(strings.TrimSpace(category))]
	return !excluded
}

// EstimatePrep counts main units (quantities of lines whose category is not a
// side, extra, sauce or modifier) and picks the long estimate from three up.
func EstimatePrep(lines []Line) PrepEstimate {
	mains := 0
	for _, l := range lines {
		if l.Quantity > 0 && IsMain(l.Category) {
			mains += l.Quantity
		}
	}
	if mains >= longPrepMains {
		return PrepEstimate{Mains: mains, Duration: LongPrep}
	}
	return PrepEstimate{Mains: mains, Duration: ShortPrep}
}
