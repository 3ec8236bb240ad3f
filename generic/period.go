package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Calendar-month bucket used to aggregate commissions
// =============================================================================

// Period is a commission period key in YYYY-MM form.
//
// Examples:
//   - "2025-03": March 2025
//   - "2024-12": December 2024
//
// Periods are always derived in UTC so that the same sale date lands in the
// same bucket regardless of the server's local zone.
type Period string

const periodLayout = "2006-01"

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period(t.UTC().Format(periodLayout))
}

// ParsePeriod validates a YYYY-MM string.
func ParsePeriod(s string) (Period, error) {
	if _, err := time.Parse(periodLayout, s); err != nil {
		return "", NewValidationError("period", fmt.Sprintf("invalid period %q (use YYYY-MM)", s))
	}
	return Period(s), nil
}

// Start returns the first instant of the period.
func (p Period) Start() time.Time {
	t, _ := time.Parse(periodLayout, string(p))
	return t
}

// End returns the first instant after the period.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

// Contains returns true if t falls inside [Start, End).
func (p Period) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(p.Start()) && t.Before(p.End())
}

// Previous returns the period before this one.
func (p Period) Previous() Period {
	return PeriodOf(p.Start().AddDate(0, -1, 0))
}

// Next returns the period following this one.
func (p Period) Next() Period {
	return PeriodOf(p.End())
}

func (p Period) String() string { return string(p) }

// =============================================================================
// WINDOW - Optional validity range
// =============================================================================

// Window is a half-open validity range [From, To). Nil bounds are unbounded.
type Window struct {
	From *time.Time
	To   *time.Time
}

// Contains returns true if t is inside the window.
func (w Window) Contains(t time.Time) bool {
	if w.From != nil && t.Before(*w.From) {
		return false
	}
	if w.To != nil && !t.Before(*w.To) {
		return false
	}
	return true
}

// Validate rejects windows whose end is not after their start.
func (w Window) Validate() error {
	if w.From != nil && w.To != nil && !w.To.After(*w.From) {
		return NewValidationError("valid_to", "must be after valid_from")
	}
	return nil
}
