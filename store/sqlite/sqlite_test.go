package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/territory-engine/commission"
	"github.com/warp/territory-engine/factory"
	"github.com/warp/territory-engine/generic"
	"github.com/warp/territory-engine/store/sqlite"
	"github.com/warp/territory-engine/territory"
)

var t0 = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTerritory(id, name string, codes ...string) territory.Territory {
	return territory.Territory{
		ID:             id,
		Name:           name,
		PostalCodes:    codes,
		StateCode:      "CA",
		Status:         territory.StatusAvailable,
		ProtectionType: territory.ProtectionFirstToSign,
		CreatedAt:      t0,
		UpdatedAt:      t0,
	}
}

// =============================================================================
// TERRITORIES
// =============================================================================

func TestStore_TerritoryRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// GIVEN: A territory with metrics and a boundary
	start := t0.Add(time.Hour)
	tr := newTerritory("t-1", "Bay Area", "94105", "94107")
	tr.Boundary = []byte(`{"type":"Polygon"}`)
	tr.ProtectionStart = &start
	tr.Metrics = territory.Metrics{AccountCount: 4, ActiveAccountCount: 3, TrailingRevenue: decimal.RequireFromString("1250.50")}
	require.NoError(t, store.InsertTerritory(ctx, tr))

	// WHEN: Reading it back
	got, err := store.GetTerritory(ctx, "t-1")

	// THEN: Every field survives
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"94105", "94107"}, got.PostalCodes)
	assert.Equal(t, territory.StatusAvailable, got.Status)
	assert.Equal(t, start, *got.ProtectionStart)
	assert.Nil(t, got.ProtectionEnd)
	assert.JSONEq(t, `{"type":"Polygon"}`, string(got.Boundary))
	assert.True(t, got.Metrics.TrailingRevenue.Equal(decimal.RequireFromString("1250.5")))
	assert.Equal(t, 3, got.Metrics.ActiveAccountCount)
	assert.Equal(t, t0, got.CreatedAt)

	missing, err := store.GetTerritory(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_PostalCodeClaimedTwice(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// GIVEN: A territory claiming 94105 and 94107
	require.NoError(t, store.InsertTerritory(ctx, newTerritory("t-1", "Downtown", "94105", "94107")))

	// WHEN: Another territory claims 94107 without a prior check
	err := store.InsertTerritory(ctx, newTerritory("t-2", "SoMa", "94103", "94107"))

	// THEN: The constraint reports the collision with its owner and nothing is written
	var conflict *generic.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []generic.CodeConflict{{PostalCode: "94107", TerritoryID: "t-1", TerritoryName: "Downtown"}}, conflict.Conflicts)

	got, err := store.GetTerritory(ctx, "t-2")
	require.NoError(t, err)
	assert.Nil(t, got, "the failed insert must roll back the territory row")

	claims, err := store.FindClaims(ctx, []string{"94103"}, "")
	require.NoError(t, err)
	assert.Empty(t, claims)
}

func TestStore_InactiveTerritoryReleasesClaims(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// GIVEN: A territory claiming 94105
	tr := newTerritory("t-1", "Downtown", "94105")
	require.NoError(t, store.InsertTerritory(ctx, tr))

	// WHEN: It is deactivated
	tr.Status = territory.StatusInactive
	require.NoError(t, store.UpdateTerritory(ctx, tr))

	// THEN: The code is free again
	claims, err := store.FindClaims(ctx, []string{"94105"}, "")
	require.NoError(t, err)
	assert.Empty(t, claims)
	require.NoError(t, store.InsertTerritory(ctx, newTerritory("t-2", "New Downtown", "94105")))
}

func TestStore_FindClaimsExcludesSelf(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertTerritory(ctx, newTerritory("t-1", "A", "10001", "10002")))
	require.NoError(t, store.InsertTerritory(ctx, newTerritory("t-2", "B", "10003")))

	claims, err := store.FindClaims(ctx, []string{"10002", "10003", "10004"}, "t-1")
	require.NoError(t, err)
	assert.Equal(t, []generic.CodeConflict{{PostalCode: "10003", TerritoryID: "t-2", TerritoryName: "B"}}, claims)
}

func TestStore_RoutableByPostalCode(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// GIVEN: An available and an assigned territory
	require.NoError(t, store.InsertTerritory(ctx, newTerritory("t-1", "Open", "20001")))
	assigned := newTerritory("t-2", "Held", "20002")
	assigned.Status = territory.StatusAssigned
	assigned.CurrentRepID = "rep-1"
	require.NoError(t, store.InsertTerritory(ctx, assigned))

	// THEN: Only the assigned one routes
	got, err := store.RoutableByPostalCode(ctx, "20002")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t-2", got.ID)
	assert.Equal(t, "rep-1", got.CurrentRepID)

	got, err = store.RoutableByPostalCode(ctx, "20001")
	require.NoError(t, err)
	assert.Nil(t, got)

	byRep, err := store.ListTerritories(ctx, territory.Filter{RepID: "rep-1"})
	require.NoError(t, err)
	require.Len(t, byRep, 1)
	assert.Equal(t, "t-2", byRep[0].ID)
}

// =============================================================================
// ASSIGNMENTS AND RULES
// =============================================================================

func TestStore_SecondActiveAssignmentRejected(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertTerritory(ctx, newTerritory("t-1", "A", "30001")))

	active := territory.Assignment{
		ID: "a-1", TerritoryID: "t-1", RepID: "rep-1", AssignedAt: t0, AssignedBy: "ops",
		Status: territory.AssignmentActive, ProtectionLevel: territory.LevelFull,
	}
	require.NoError(t, store.InsertAssignment(ctx, active))

	// WHEN: A second active assignment is inserted for the same territory
	second := active
	second.ID = "a-2"
	second.RepID = "rep-2"
	err := store.InsertAssignment(ctx, second)

	// THEN: The schema rejects it
	assert.ErrorIs(t, err, generic.ErrInvalidStateTransition)

	// Superseding first makes room.
	ended := t0.Add(time.Hour)
	active.Status = territory.AssignmentTransferred
	active.EndedAt = &ended
	require.NoError(t, store.UpdateAssignment(ctx, active))
	second.TransferHistory = []territory.TransferEntry{{FromRepID: "rep-1", ToRepID: "rep-2", At: ended, Reason: "rebalance", ApprovedBy: "vp"}}
	require.NoError(t, store.InsertAssignment(ctx, second))

	history, err := store.ListAssignments(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "a-1", history[0].ID)
	assert.Equal(t, territory.AssignmentTransferred, history[0].Status)
	assert.Equal(t, second.TransferHistory, history[1].TransferHistory)
}

func TestStore_ProtectionRuleUpsertKeepsOnePerTerritory(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertTerritory(ctx, newTerritory("t-1", "A", "40001")))

	rule := territory.ProtectionRule{
		ID: "r-1", TerritoryID: "t-1", Type: territory.RulePerformance,
		Conditions: territory.Conditions{MinAccounts: 5, MinRevenue: decimal.NewFromInt(10000), PerformanceThresholdPct: decimal.NewFromInt(60)},
		Inheritance: territory.Inheritance{Policy: territory.InheritRequireApproval, ApprovedInheritors: []string{"rep-9"}},
		CreatedAt:   t0, UpdatedAt: t0,
	}
	require.NoError(t, store.UpsertProtectionRule(ctx, rule))

	rule.ID = "r-2"
	rule.Type = territory.RuleTimeBased
	rule.Conditions = territory.Conditions{PeriodDays: 90}
	require.NoError(t, store.UpsertProtectionRule(ctx, rule))

	got, err := store.GetProtectionRule(ctx, "t-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "r-1", got.ID, "the upsert keeps the original row")
	assert.Equal(t, territory.RuleTimeBased, got.Type)
	assert.Equal(t, 90, got.Conditions.PeriodDays)
	assert.Equal(t, []string{"rep-9"}, got.Inheritance.ApprovedInheritors)
}

// =============================================================================
// COMMISSIONS
// =============================================================================

func TestStore_CommissionRuleDefinitionRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	rule, err := factory.NewRuleFactory().ParseRule([]byte(factory.CategoryRuleJSON("Hardware push", "hardware", 3, 10)))
	require.NoError(t, err)
	from := t0
	rule.ID = "cr-1"
	rule.Window.From = &from
	rule.CreatedAt, rule.UpdatedAt = t0, t0

	seq1, err := store.InsertCommissionRule(ctx, rule)
	require.NoError(t, err)

	inactive := rule
	inactive.ID = "cr-2"
	inactive.Active = false
	seq2, err := store.InsertCommissionRule(ctx, inactive)
	require.NoError(t, err)
	assert.Greater(t, seq2, seq1)

	got, err := store.GetCommissionRule(ctx, "cr-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, commission.CategoryCondition{}, got.Condition)
	assert.Equal(t, []string{"hardware"}, got.Filters.Categories)
	assert.Equal(t, commission.RatePercent, got.Rate.Kind)
	assert.True(t, got.Rate.Value.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, from, *got.Window.From)
	assert.Nil(t, got.Window.To)
	assert.Equal(t, seq1, got.Seq)

	active, err := store.ListCommissionRules(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	all, err := store.ListCommissionRules(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func ledgerRow(id, key string) commission.Transaction {
	return commission.Transaction{
		ID: id, RepID: "rep-1", OrderID: "ord-1", Type: commission.TxSale, Source: commission.SourceBase,
		OrderAmount: decimal.NewFromInt(1000), CommissionableAmount: decimal.NewFromInt(1000),
		Rate: decimal.NewFromInt(5), Amount: decimal.NewFromInt(50),
		Status: commission.StatusPending, SaleDate: t0, Period: generic.PeriodOf(t0),
		IdempotencyKey: key, CreatedAt: t0,
	}
}

func TestStore_DuplicateIdempotencyKey(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertTransaction(ctx, ledgerRow("tx-1", "ord-1:base")))
	err := store.InsertTransaction(ctx, ledgerRow("tx-2", "ord-1:base"))
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	// Rows without a key never collide.
	require.NoError(t, store.InsertTransaction(ctx, ledgerRow("tx-3", "")))
	require.NoError(t, store.InsertTransaction(ctx, ledgerRow("tx-4", "")))
}

func TestStore_ListTransactionsFiltersAndLimit(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i, id := range []string{"tx-1", "tx-2", "tx-3"} {
		row := ledgerRow(id, "")
		if i == 1 {
			row.Type = commission.TxBonus
		}
		require.NoError(t, store.InsertTransaction(ctx, row))
	}

	sales, err := store.ListTransactions(ctx, commission.TxFilter{RepID: "rep-1", Types: []commission.TxType{commission.TxSale}})
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, "tx-1", sales[0].ID)
	assert.Equal(t, "tx-3", sales[1].ID)

	limited, err := store.ListTransactions(ctx, commission.TxFilter{Period: generic.PeriodOf(t0), Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTxRollsBackOnError(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	// WHEN: A transaction inserts a territory then fails
	err := store.WithTx(ctx, func(ctx context.Context) error {
		if err := store.InsertTerritory(ctx, newTerritory("t-1", "A", "50001")); err != nil {
			return err
		}
		return boom
	})

	// THEN: Nothing was committed
	assert.ErrorIs(t, err, boom)
	got, err := store.GetTerritory(ctx, "t-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_NestedWithTxJoinsOuter(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(ctx context.Context) error {
		require.NoError(t, store.InsertTerritory(ctx, newTerritory("t-1", "A", "60001")))
		// The inner call sees the outer, uncommitted write.
		return store.WithTx(ctx, func(ctx context.Context) error {
			got, err := store.GetTerritory(ctx, "t-1")
			require.NoError(t, err)
			require.NotNil(t, got)
			return errors.New("abort")
		})
	})
	require.Error(t, err)

	got, err := store.GetTerritory(ctx, "t-1")
	require.NoError(t, err)
	assert.Nil(t, got, "the inner failure aborts the outer transaction")
}

func TestStore_BusyDatabaseIsTransient(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := sqlite.FromDB(db)

	// GIVEN: Another process holds the write lock for every attempt
	busy := sqlite3.Error{Code: sqlite3.ErrBusy}
	mock.ExpectBegin().WillReturnError(busy)
	mock.ExpectBegin().WillReturnError(busy)

	// WHEN: A retried transaction runs
	policy := generic.RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	err = generic.RetryTx(context.Background(), policy, store, "test.op", nil, func(ctx context.Context) error {
		return nil
	})

	// THEN: Both attempts are used and the caller sees UnavailableError
	var unavailable *generic.UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, 2, unavailable.Attempts)
	assert.False(t, generic.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_BusyThenSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := sqlite.FromDB(db)

	mock.ExpectBegin().WillReturnError(sqlite3.Error{Code: sqlite3.ErrLocked})
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE accounts SET rep_id").
		WithArgs("rep-2", "t-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	var moved int
	policy := generic.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	err = generic.RetryTx(context.Background(), policy, store, "test.repoint", nil, func(ctx context.Context) error {
		var err error
		moved, err = store.RepointAccounts(ctx, "t-1", "rep-2")
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, 3, moved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// COLLABORATOR TABLES
// =============================================================================

func TestStore_AccountsRepointAndAge(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, a := range []sqlite.Account{
		{ID: "acc-1", Name: "Acme", TerritoryID: "t-1", RepID: "rep-1", OpenedAt: t0.AddDate(0, 0, -10), Active: true},
		{ID: "acc-2", Name: "Globex", TerritoryID: "t-1", RepID: "rep-1", OpenedAt: t0.AddDate(-1, 0, 0), Active: false},
		{ID: "acc-3", Name: "Initech", TerritoryID: "t-2", RepID: "rep-3", OpenedAt: t0, Active: true},
	} {
		require.NoError(t, store.SaveAccount(ctx, a))
	}

	n, err := store.RepointAccounts(ctx, "t-1", "rep-2")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	acc, err := store.GetAccount(ctx, "acc-2")
	require.NoError(t, err)
	assert.Equal(t, "rep-2", acc.RepID)

	days, ok, err := store.AccountAgeDays(ctx, "acc-1", t0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10, days)

	_, ok, err = store.AccountAgeDays(ctx, "unknown", t0)
	require.NoError(t, err)
	assert.False(t, ok)

	total, active, err := store.TerritoryAccountCounts(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, active)
}

func TestStore_RepsAndOverrides(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRep(ctx, commission.Rep{
		ID: "rep-1", Name: "Dana", CommissionRate: decimal.NewFromInt(5), MonthlyQuota: decimal.NewFromInt(80000),
	}))
	rep, err := store.GetRep(ctx, "rep-1")
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.True(t, rep.CommissionRate.Equal(decimal.NewFromInt(5)))

	require.NoError(t, store.InsertTerritory(ctx, newTerritory("t-1", "A", "70001")))
	override := decimal.RequireFromString("7.5")
	require.NoError(t, store.InsertAssignment(ctx, territory.Assignment{
		ID: "a-1", TerritoryID: "t-1", RepID: "rep-1", AssignedAt: t0, AssignedBy: "ops",
		Status: territory.AssignmentActive, ProtectionLevel: territory.LevelFull, CommissionOverride: &override,
	}))

	got, err := store.CommissionOverride(ctx, "t-1", "rep-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equal(override))

	none, err := store.CommissionOverride(ctx, "t-1", "rep-2")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStore_CorruptDecimalsAreErrors(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// GIVEN: A territory sale and a rep, both readable
	row := ledgerRow("tx-1", "ord-1:base")
	row.TerritoryID = "t-1"
	require.NoError(t, store.InsertTransaction(ctx, row))
	require.NoError(t, store.SaveRep(ctx, commission.Rep{
		ID: "rep-1", Name: "Dana", CommissionRate: decimal.NewFromInt(5), MonthlyQuota: decimal.NewFromInt(80000),
	}))
	revenue, err := store.TerritoryRevenue(ctx, "t-1", t0.AddDate(0, 0, -1), t0.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.True(t, revenue.Equal(decimal.NewFromInt(1000)))

	// WHEN: The stored amounts are corrupted
	_, err = store.DB().ExecContext(ctx, `UPDATE commission_transactions SET order_amount = 'n/a' WHERE id = 'tx-1'`)
	require.NoError(t, err)
	_, err = store.DB().ExecContext(ctx, `UPDATE representatives SET commission_rate = '' WHERE id = 'rep-1'`)
	require.NoError(t, err)

	// THEN: Reads fail instead of counting the value as zero
	_, err = store.TerritoryRevenue(ctx, "t-1", t0.AddDate(0, 0, -1), t0.AddDate(0, 0, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order_amount")

	_, err = store.GetRep(ctx, "rep-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commission_rate")
}

func TestStore_ResetKeepsSchema(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// GIVEN: Data across several tables
	require.NoError(t, store.InsertTerritory(ctx, newTerritory("t-1", "A", "70001")))
	require.NoError(t, store.SaveRep(ctx, commission.Rep{ID: "rep-1", Name: "Dana", CommissionRate: decimal.NewFromInt(5)}))
	require.NoError(t, store.SaveAccount(ctx, sqlite.Account{ID: "acc-1", TerritoryID: "t-1", OpenedAt: t0, Active: true}))

	// WHEN: Reset
	require.NoError(t, store.Reset(ctx))

	// THEN: Everything is gone and the code can be claimed again
	got, err := store.GetTerritory(ctx, "t-1")
	require.NoError(t, err)
	assert.Nil(t, got)
	reps, err := store.ListReps(ctx)
	require.NoError(t, err)
	assert.Empty(t, reps)
	require.NoError(t, store.InsertTerritory(ctx, newTerritory("t-2", "B", "70001")))
}
