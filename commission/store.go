package commission

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/territory-engine/generic"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store persists commission rules and ledger rows. Gets return (nil, nil)
// when the record does not exist. Every method joins the transaction carried
// in ctx when there is one.
type Store interface {
	generic.Transactor

	// InsertCommissionRule stores r and returns its creation sequence.
	InsertCommissionRule(ctx context.Context, r Rule) (int64, error)
	UpdateCommissionRule(ctx context.Context, r Rule) error
	GetCommissionRule(ctx context.Context, id string) (*Rule, error)
	// ListCommissionRules returns rules in creation order.
	ListCommissionRules(ctx context.Context, activeOnly bool) ([]Rule, error)

	// InsertTransaction appends a row. A reused idempotency key fails with
	// generic.ErrDuplicateIdempotencyKey.
	InsertTransaction(ctx context.Context, tx Transaction) error
	// UpdateTransactionStatus writes the lifecycle fields of tx (status,
	// approval, payment, cancellation). Amounts are never rewritten.
	UpdateTransactionStatus(ctx context.Context, tx Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	// ListTransactions returns matching rows in insertion order.
	ListTransactions(ctx context.Context, f TxFilter) ([]Transaction, error)
	// ClawbackOf returns the clawback row referencing originalID, if any.
	ClawbackOf(ctx context.Context, originalID string) (*Transaction, error)
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// RepDirectory is the representative profile store. GetRep returns
// (nil, nil) for an unknown rep.
type RepDirectory interface {
	GetRep(ctx context.Context, repID string) (*Rep, error)
}

// AccountAges reports how old a business account is on a given day.
// ok is false when the account is unknown.
type AccountAges interface {
	AccountAgeDays(ctx context.Context, accountID string, asOf time.Time) (days int, ok bool, err error)
}

// VolumeSource reports a rep's order volume for a period.
type VolumeSource interface {
	MonthlyVolume(ctx context.Context, repID string, period generic.Period) (decimal.Decimal, error)
}

// RuleSource supplies the rule snapshot an evaluation runs against.
type RuleSource interface {
	ListCommissionRules(ctx context.Context, activeOnly bool) ([]Rule, error)
}

// RateOverrides returns a territory assignment's commission override for a
// rep, or nil when there is none.
type RateOverrides interface {
	CommissionOverride(ctx context.Context, territoryID, repID string) (*decimal.Decimal, error)
}
