/*
Package generic provides the domain-agnostic building blocks shared by the
territory and commission packages.

PURPOSE:
  Territory ownership and commission bookkeeping both need money arithmetic,
  calendar-month buckets, an injectable clock, a common error taxonomy and a
  bounded retry helper. None of that knows about postal codes or rules, so it
  lives here.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money helpers: decimal.Decimal based, rounded to cents at the edges
  - Percent: rates are expressed as percentages (5 = 5%)
  - IDGenerator: injectable id source (uuid in production, counters in tests)

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never float64 for amounts
  2. Determinism: no hidden time.Now() or random ids inside core logic
  3. Auditability: amounts are rounded once, when they are materialized

SEE ALSO:
  - period.go: Commission period (YYYY-MM) keys
  - time.go: Clock abstraction
  - errors.go: Error taxonomy
  - retry.go: Transient failure retries
*/
package generic

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// CentPlaces is the number of decimal places materialized amounts carry.
const CentPlaces = 2

// RatePlaces is the number of decimal places effective rates carry.
const RatePlaces = 4

var hundred = decimal.NewFromInt(100)

// Percent returns amount * rate / 100.
func Percent(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Div(hundred)
}

// RatioPercent returns part / whole * 100, or zero when whole is zero.
func RatioPercent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred)
}

// Cents rounds an amount to two decimal places, half away from zero.
func Cents(d decimal.Decimal) decimal.Decimal {
	return d.Round(CentPlaces)
}

// ParseDecimal parses s and wraps failures as a ValidationError on field.
func ParseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, NewValidationError(field, fmt.Sprintf("invalid decimal %q", s))
	}
	return d, nil
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// IDGenerator produces opaque identifiers.
type IDGenerator func() string

// NewUUID is the production IDGenerator.
func NewUUID() string {
	return uuid.NewString()
}

// SequentialIDs returns an IDGenerator yielding prefix-1, prefix-2, ...
// Used by tests that need stable identifiers.
func SequentialIDs(prefix string) IDGenerator {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}
