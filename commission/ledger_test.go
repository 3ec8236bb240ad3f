package commission_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/territory-engine/commission"
	"github.com/warp/territory-engine/generic"
	"github.com/warp/territory-engine/store/sqlite"
)

// Note: now, n, d and testOpts are defined in engine_test.go

func newLedger(t *testing.T, chunkSize int) (*commission.Ledger, *sqlite.Store, *generic.FixedClock) {
	t.Helper()
	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	opts := testOpts()
	return commission.NewLedger(store, chunkSize, opts), store, opts.Clock.(*generic.FixedClock)
}

func sale(orderID string, amount, commissionAmount int64) commission.Transaction {
	return commission.Transaction{
		RepID:       "rep-1",
		OrderID:     orderID,
		Type:        commission.TxSale,
		Source:      commission.SourceBase,
		OrderAmount: n(amount),
		Rate:        n(5),
		Amount:      n(commissionAmount),
		SaleDate:    now,
	}
}

func record(t *testing.T, l *commission.Ledger, tx commission.Transaction) string {
	t.Helper()
	id, err := l.Record(context.Background(), tx)
	require.NoError(t, err)
	return id
}

func approve(t *testing.T, l *commission.Ledger, ids ...string) {
	t.Helper()
	res, err := l.Approve(context.Background(), ids, "manager-1")
	require.NoError(t, err)
	require.Len(t, res.Approved, len(ids))
}

// =============================================================================
// RECORD
// =============================================================================

func TestLedger_RecordCalculation(t *testing.T) {
	l, _, _ := newLedger(t, 0)
	ctx := context.Background()

	// GIVEN: The tiered calculation (50 base + 20 gold tier) with a deduction
	calc := commission.Evaluate(commission.Input{
		Order:         commission.Order{OrderID: "o-1", RepID: "rep-1", TerritoryID: "t-1", Amount: n(1000)},
		BaseRate:      n(5),
		MonthlyVolume: n(60000),
		Rules: []commission.Rule{{ID: "fee", Name: "Fee", Condition: commission.FlatBonusCondition{},
			Rate: commission.Rate{Kind: commission.RateFixed, Value: n(-5)}, Active: true}},
		Now: now,
	})

	// WHEN: Recorded
	ids, err := l.RecordCalculation(ctx, calc)

	// THEN: One sale row, one bonus row, one adjustment row, all pending
	require.NoError(t, err)
	require.Len(t, ids, 3)
	rows, err := l.List(ctx, commission.TxFilter{OrderID: "o-1"})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, commission.TxSale, rows[0].Type)
	assert.True(t, rows[0].Amount.Equal(n(50)))
	assert.Equal(t, "o-1:base", rows[0].IdempotencyKey)
	assert.Equal(t, commission.TxBonus, rows[1].Type)
	assert.True(t, rows[1].Amount.Equal(n(20)))
	assert.Equal(t, "o-1:"+commission.SourceVolumeTier, rows[1].IdempotencyKey)
	assert.Equal(t, commission.TxAdjustment, rows[2].Type)
	assert.True(t, rows[2].Amount.Equal(n(-5)))
	for _, r := range rows {
		assert.Equal(t, commission.StatusPending, r.Status)
		assert.Equal(t, generic.Period("2025-03"), r.Period)
		assert.Equal(t, "t-1", r.TerritoryID)
	}

	// WHEN: Recorded again
	_, err = l.RecordCalculation(ctx, calc)

	// THEN: Rejected as a duplicate, nothing new written
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)
	rows, err = l.List(ctx, commission.TxFilter{OrderID: "o-1"})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestLedger_RecordValidation(t *testing.T) {
	l, _, _ := newLedger(t, 0)

	_, err := l.Record(context.Background(), commission.Transaction{OrderID: "o-1", Type: commission.TxSale})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = l.Record(context.Background(), commission.Transaction{RepID: "rep-1", OrderID: "o-1", Type: "refund"})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = l.RecordCalculation(context.Background(), commission.Calculation{})
	var verr *generic.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 2)
}

func TestLedger_RecordChecksPeriodAgainstSaleDate(t *testing.T) {
	l, _, _ := newLedger(t, 0)
	ctx := context.Background()

	tests := []struct {
		name   string
		period generic.Period
	}{
		{"malformed", "garbage"},
		{"different month", "2031-01"},
		{"previous month", "2025-02"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := sale("o-"+tt.name, 1000, 50)
			tx.Period = tt.period

			_, err := l.Record(ctx, tx)

			var verr *generic.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "period", verr.Fields[0].Field)
		})
	}

	rows, err := l.List(ctx, commission.TxFilter{RepID: "rep-1"})
	require.NoError(t, err)
	assert.Empty(t, rows)

	// GIVEN: A period that matches the sale date, and one left empty
	matching := sale("o-ok", 1000, 50)
	matching.Period = "2025-03"
	id := record(t, l, matching)
	derived := record(t, l, sale("o-derived", 500, 25))

	// THEN: Both land in March
	for _, txID := range []string{id, derived} {
		got, err := l.Get(ctx, txID)
		require.NoError(t, err)
		assert.Equal(t, generic.Period("2025-03"), got.Period)
	}
}

// =============================================================================
// APPROVE
// =============================================================================

func TestLedger_ApproveReportsPartialFailures(t *testing.T) {
	l, _, _ := newLedger(t, 0)
	ctx := context.Background()
	a := record(t, l, sale("o-1", 1000, 50))
	b := record(t, l, sale("o-2", 2000, 100))
	c := record(t, l, sale("o-3", 3000, 150))
	_, err := l.Cancel(ctx, c, "order refunded", "ops")
	require.NoError(t, err)

	// WHEN: Approving a good id twice, a missing id and a cancelled id
	res, err := l.Approve(ctx, []string{a, "missing", a, c, b}, "manager-1")

	// THEN: The pending rows are approved, the rest are reported
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, res.Approved)
	require.Len(t, res.Failed, 2)
	assert.Equal(t, "missing", res.Failed[0].ID)
	assert.True(t, generic.IsNotFound(res.Failed[0].Err))
	assert.Equal(t, c, res.Failed[1].ID)
	assert.True(t, errors.Is(res.Failed[1].Err, generic.ErrInvalidStateTransition))

	got, err := l.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, commission.StatusApproved, got.Status)
	assert.Equal(t, "manager-1", got.ApprovedBy)
	require.NotNil(t, got.ApprovedAt)
	assert.Equal(t, now, *got.ApprovedAt)

	_, err = l.Approve(ctx, []string{a}, "")
	assert.ErrorIs(t, err, generic.ErrValidation)
}

// =============================================================================
// PAYOUT
// =============================================================================

func TestLedger_PayoutInChunksIsIdempotent(t *testing.T) {
	l, _, _ := newLedger(t, 2)
	ctx := context.Background()

	// GIVEN: Five approved rows in March and one in April
	var ids []string
	for i := 1; i <= 5; i++ {
		ids = append(ids, record(t, l, sale(fmt.Sprintf("o-%d", i), 1000, int64(10*i))))
	}
	april := sale("o-apr", 1000, 99)
	april.SaleDate = generic.Date(2025, time.April, 2)
	ids = append(ids, record(t, l, april))
	approve(t, l, ids...)

	// WHEN: March is paid out
	res, err := l.Payout(ctx, "2025-03", "PAY-2025-03")

	// THEN: All five March rows are paid in three chunks
	require.NoError(t, err)
	assert.Equal(t, 5, res.Count)
	assert.Equal(t, 3, res.Chunks)
	assert.True(t, res.Total.Equal(n(150)), res.Total.String())

	paid, err := l.List(ctx, commission.TxFilter{Period: "2025-03", Status: commission.StatusPaid})
	require.NoError(t, err)
	assert.Len(t, paid, 5)
	for _, tx := range paid {
		assert.Equal(t, "PAY-2025-03", tx.PaymentReference)
	}
	aprilRows, err := l.List(ctx, commission.TxFilter{Period: "2025-04"})
	require.NoError(t, err)
	require.Len(t, aprilRows, 1)
	assert.Equal(t, commission.StatusApproved, aprilRows[0].Status)

	// WHEN: Run again
	again, err := l.Payout(ctx, "2025-03", "PAY-2025-03")

	// THEN: Nothing more is paid
	require.NoError(t, err)
	assert.Equal(t, 0, again.Count)
	assert.True(t, again.Total.IsZero())
}

func TestLedger_PayoutValidation(t *testing.T) {
	l, _, _ := newLedger(t, 0)

	_, err := l.Payout(context.Background(), "March", "PAY-1")
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = l.Payout(context.Background(), "2025-03", "")
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestLedger_PayoutStopsOnCancelledContext(t *testing.T) {
	l, _, _ := newLedger(t, 1)
	id := record(t, l, sale("o-1", 1000, 50))
	approve(t, l, id)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := l.Payout(ctx, "2025-03", "PAY-1")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, res.Count)
	got, err := l.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, commission.StatusApproved, got.Status)
}

// =============================================================================
// CANCEL / CLAWBACK
// =============================================================================

func TestLedger_CancelPendingAndApproved(t *testing.T) {
	l, _, _ := newLedger(t, 0)
	ctx := context.Background()
	pending := record(t, l, sale("o-1", 1000, 50))
	approved := record(t, l, sale("o-2", 1000, 50))
	approve(t, l, approved)

	for _, id := range []string{pending, approved} {
		out, err := l.Cancel(ctx, id, "order refunded", "ops")

		require.NoError(t, err)
		assert.Equal(t, id, out.ID)
		assert.Equal(t, commission.StatusCancelled, out.Status)
		assert.Equal(t, "order refunded", out.CancelReason)
		assert.True(t, out.Amount.Equal(n(50)), "amounts are never rewritten")
	}

	// THEN: Cancelling twice is not allowed
	_, err := l.Cancel(ctx, pending, "again", "ops")
	assert.ErrorIs(t, err, generic.ErrInvalidStateTransition)

	_, err = l.Cancel(ctx, "missing", "x", "ops")
	assert.True(t, generic.IsNotFound(err))
}

func TestLedger_ClawbackOfPaidRow(t *testing.T) {
	l, _, clock := newLedger(t, 0)
	ctx := context.Background()

	// GIVEN: A paid sale of 1000 earning 50
	id := record(t, l, sale("o-1", 1000, 50))
	approve(t, l, id)
	_, err := l.Payout(ctx, "2025-03", "PAY-1")
	require.NoError(t, err)

	// WHEN: The order is cancelled a few days later
	clock.Advance(72 * time.Hour)
	claw, err := l.Cancel(ctx, id, "chargeback", "ops")

	// THEN: A pending clawback negates the row, which itself stays paid
	require.NoError(t, err)
	assert.Equal(t, commission.TxClawback, claw.Type)
	assert.Equal(t, commission.StatusPending, claw.Status)
	assert.Equal(t, id, claw.ReferenceID)
	assert.True(t, claw.Amount.Equal(n(-50)))
	assert.True(t, claw.OrderAmount.Equal(n(-1000)))
	assert.Equal(t, id+":clawback", claw.IdempotencyKey)

	original, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, commission.StatusPaid, original.Status)

	// AND: The volume nets to zero and the summary shows the debt
	volume, err := l.MonthlyVolume(ctx, "rep-1", "2025-03")
	require.NoError(t, err)
	assert.True(t, volume.IsZero(), volume.String())

	summary, err := l.Summary(ctx, "rep-1", "2025-03")
	require.NoError(t, err)
	assert.True(t, summary.Paid.Equal(n(50)))
	assert.True(t, summary.Pending.Equal(n(-50)))
	assert.True(t, summary.Owed.IsZero())
	assert.Equal(t, 2, summary.Count)

	// AND: A row is clawed back at most once
	_, err = l.Cancel(ctx, id, "again", "ops")
	assert.ErrorIs(t, err, generic.ErrInvalidStateTransition)
}

func TestLedger_ClawbackInLaterPeriodKeepsVolumes(t *testing.T) {
	l, _, clock := newLedger(t, 0)
	ctx := context.Background()

	// GIVEN: A March sale paid out, and a May sale
	id := record(t, l, sale("o-1", 1000, 50))
	approve(t, l, id)
	_, err := l.Payout(ctx, "2025-03", "PAY-1")
	require.NoError(t, err)
	clock.Set(time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC))
	may := sale("o-2", 3000, 150)
	may.SaleDate = clock.Now()
	record(t, l, may)

	// WHEN: The March order is cancelled in May
	claw, err := l.Cancel(ctx, id, "chargeback", "ops")

	// THEN: The clawback is owed in May but moves no volume
	require.NoError(t, err)
	assert.Equal(t, generic.Period("2025-05"), claw.Period)
	assert.True(t, claw.Amount.Equal(n(-50)))
	assert.True(t, claw.OrderAmount.IsZero())

	march, err := l.MonthlyVolume(ctx, "rep-1", "2025-03")
	require.NoError(t, err)
	assert.True(t, march.Equal(n(1000)), march.String())

	mayVolume, err := l.MonthlyVolume(ctx, "rep-1", "2025-05")
	require.NoError(t, err)
	assert.True(t, mayVolume.Equal(n(3000)), mayVolume.String())
}

func TestLedger_ClawbackOfBonusCarriesNoVolume(t *testing.T) {
	l, _, _ := newLedger(t, 0)
	ctx := context.Background()
	bonus := sale("o-1", 1000, 20)
	bonus.Type = commission.TxBonus
	bonus.Source = commission.SourceVolumeTier
	id := record(t, l, bonus)
	approve(t, l, id)
	_, err := l.Payout(ctx, "2025-03", "PAY-1")
	require.NoError(t, err)

	claw, err := l.Cancel(ctx, id, "rule misconfigured", "ops")

	require.NoError(t, err)
	assert.True(t, claw.OrderAmount.IsZero())
	assert.True(t, claw.Amount.Equal(n(-20)))
}

func TestLedger_MonthlyVolumeSkipsCancelledAndBonuses(t *testing.T) {
	l, _, _ := newLedger(t, 0)
	ctx := context.Background()
	record(t, l, sale("o-1", 1000, 50))
	cancelled := record(t, l, sale("o-2", 5000, 250))
	bonus := sale("o-1", 1000, 20)
	bonus.Type = commission.TxBonus
	bonus.Source = commission.SourceVolumeTier
	record(t, l, bonus)
	_, err := l.Cancel(ctx, cancelled, "refund", "ops")
	require.NoError(t, err)

	volume, err := l.MonthlyVolume(ctx, "rep-1", "2025-03")

	require.NoError(t, err)
	assert.True(t, volume.Equal(n(1000)), volume.String())
}
