package generic

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// PERIODS AND WINDOWS
// =============================================================================

func TestPeriod(t *testing.T) {
	p := PeriodOf(time.Date(2025, 1, 31, 23, 30, 0, 0, time.FixedZone("PST", -8*3600)))

	// 23:30 PST on Jan 31 is already February in UTC.
	assert.Equal(t, Period("2025-02"), p)
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), p.Start())
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), p.End())
	assert.Equal(t, Period("2025-01"), p.Previous())
	assert.Equal(t, Period("2025-03"), p.Next())
	assert.Equal(t, Period("2024-12"), Period("2025-01").Previous())

	assert.True(t, p.Contains(time.Date(2025, 2, 28, 23, 59, 59, 0, time.UTC)))
	assert.False(t, p.Contains(p.End()))
}

func TestParsePeriod(t *testing.T) {
	got, err := ParsePeriod("2025-11")
	require.NoError(t, err)
	assert.Equal(t, Period("2025-11"), got)

	for _, bad := range []string{"", "2025-13", "2025-1", "25-01", "2025/01"} {
		_, err := ParsePeriod(bad)
		assert.ErrorIs(t, err, ErrValidation, bad)
	}
}

func TestWindow(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	w := Window{From: &from, To: &to}

	assert.True(t, w.Contains(from))
	assert.False(t, w.Contains(to), "upper bound is exclusive")
	assert.False(t, w.Contains(from.Add(-time.Second)))
	assert.True(t, Window{}.Contains(from))

	assert.NoError(t, w.Validate())
	assert.ErrorIs(t, Window{From: &to, To: &from}.Validate(), ErrValidation)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestStructuredErrorsUnwrapToSentinels(t *testing.T) {
	tests := []struct {
		err    error
		target error
		client bool
	}{
		{NewConflictError([]CodeConflict{{PostalCode: "90210", TerritoryID: "t-1"}}), ErrConflict, true},
		{&AlreadyProtectedError{TerritoryID: "t-1", CurrentRepID: "rep-1"}, ErrAlreadyProtected, true},
		{&ApprovalRequiredError{TerritoryID: "t-1", Reason: "lifetime"}, ErrApprovalRequired, true},
		{NewNotFound("territory", "t-1"), ErrNotFound, false},
		{NewValidationError("name", "is required"), ErrValidation, true},
		{&UnavailableError{Op: "x", Attempts: 2, Err: ErrTransient}, ErrUnavailable, false},
	}
	for _, tt := range tests {
		wrapped := fmt.Errorf("outer: %w", tt.err)
		assert.ErrorIs(t, wrapped, tt.target, tt.err.Error())
		assert.Equal(t, tt.client, IsClientError(wrapped), tt.err.Error())
	}

	assert.True(t, IsNotFound(NewNotFound("rep", "r")))
	assert.False(t, IsRetryable(&UnavailableError{Op: "x", Err: ErrTransient}))
	assert.True(t, IsRetryable(Transient(errors.New("locked"))))
	assert.Nil(t, Transient(nil))
}

// =============================================================================
// VALIDATION
// =============================================================================

type sample struct {
	Name  string   `json:"name" validate:"required"`
	Codes []string `json:"codes" validate:"required,min=1,dive,postalcode"`
	State string   `json:"state" validate:"len=2,alpha,uppercase"`
}

func TestValidateStruct(t *testing.T) {
	assert.NoError(t, ValidateStruct(sample{Name: "x", Codes: []string{"90210", "K1A 0B1"}, State: "CA"}))

	err := ValidateStruct(sample{Codes: []string{"90210", "!"}, State: "ca"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	fields := map[string]string{}
	for _, f := range verr.Fields {
		fields[f.Field] = f.Message
	}
	assert.Equal(t, "is required", fields["name"])
	assert.Contains(t, fields["codes[1]"], "invalid postal code")
	assert.Contains(t, fields, "state")
}

func TestCheckDecimals(t *testing.T) {
	hundred := decimal.NewFromInt(100)

	assert.NoError(t, CheckDecimals(nil,
		DecimalCheck{Field: "rate", Value: decimal.NewFromInt(5), Max: &hundred},
		DecimalCheck{Field: "amount", Value: decimal.NewFromInt(1), Positive: true},
	))

	base := WithFieldError(nil, "name", "is required")
	err := CheckDecimals(base,
		DecimalCheck{Field: "rate", Value: decimal.NewFromInt(101), Max: &hundred},
		DecimalCheck{Field: "amount", Value: decimal.Zero, Positive: true},
		DecimalCheck{Field: "quota", Value: decimal.NewFromInt(-1)},
	)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Fields, 4)
	assert.Equal(t, "name", verr.Fields[0].Field)
	assert.Equal(t, "must be at most 100", verr.Fields[1].Message)
	assert.Equal(t, "must be greater than zero", verr.Fields[2].Message)
	assert.Equal(t, "must not be negative", verr.Fields[3].Message)

	other := errors.New("boom")
	assert.Same(t, other, CheckDecimals(other, DecimalCheck{Field: "x", Value: decimal.NewFromInt(-1)}))
}

// =============================================================================
// RETRY
// =============================================================================

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
}

func TestRetry_RecoversFromTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(3), "op", nil, func() error {
		calls++
		if calls < 3 {
			return Transient(errors.New("database is locked"))
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustedBecomesUnavailable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(2), "territory.assign", nil, func() error {
		calls++
		return Transient(errors.New("database is locked"))
	})

	var uerr *UnavailableError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "territory.assign", uerr.Op)
	assert.Equal(t, 2, uerr.Attempts)
	assert.Equal(t, 2, calls)
	assert.False(t, IsRetryable(err))
}

func TestRetry_PermanentErrorsAreNotRetried(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(5), "op", nil, func() error {
		calls++
		return NewNotFound("territory", "t-1")
	})

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, calls)
}

func TestRetry_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, fastRetry(5), "op", nil, func() error {
		calls++
		return Transient(errors.New("database is locked"))
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

// =============================================================================
// AMOUNTS AND IDS
// =============================================================================

func TestDecimalHelpers(t *testing.T) {
	assert.True(t, decimal.NewFromInt(20).Equal(Percent(decimal.NewFromInt(1000), decimal.NewFromInt(2))))
	assert.True(t, decimal.NewFromInt(25).Equal(RatioPercent(decimal.NewFromInt(1), decimal.NewFromInt(4))))
	assert.True(t, RatioPercent(decimal.NewFromInt(1), decimal.Zero).IsZero())
	assert.Equal(t, "1.01", Cents(decimal.RequireFromString("1.005")).String())

	_, err := ParseDecimal("amount", "abc")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSequentialIDs(t *testing.T) {
	next := SequentialIDs("t")

	assert.Equal(t, "t-1", next())
	assert.Equal(t, "t-2", next())
	assert.NotEqual(t, NewUUID(), NewUUID())
}

func TestFixedClock(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	c := NewFixedClock(start)

	c.Advance(36 * time.Hour)

	assert.Equal(t, start.Add(36*time.Hour), c.Now())
	assert.Equal(t, 1, DaysBetween(start, start.Add(36*time.Hour)))
}
