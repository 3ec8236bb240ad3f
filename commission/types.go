/*
Package commission computes, records and settles sales commissions.

PURPOSE:
  An order placed by an account earns its rep a base commission plus any
  bonuses the active rule set grants. The Engine computes that breakdown
  without side effects; the Ledger persists it as append-only transactions
  that move pending -> approved -> paid, with cancellation and clawback.

KEY CONCEPTS:
  Rule:        A conditional bonus or deduction with a closed-set Condition,
               a Rate, applicability Filters, a validity Window and a priority
  Calculation: The deterministic result of evaluating one order
  Transaction: One ledger row (sale, bonus, override, adjustment, clawback)
  Period:      The YYYY-MM bucket transactions are paid out by

RATES:
  Rates are percentages: a Rate{Kind: percent, Value: 2} on a 1000 order
  is 20. Fixed rates are absolute amounts. A negative contribution is a
  deduction.

EVALUATION ORDER:
  priority DESC, then creation sequence ASC. Given the same rules, inputs
  and clock, Calculate returns identical results.

SEE ALSO:
  - engine.go: The calculation pipeline
  - rules.go:  Rule management (RuleBook)
  - ledger.go: Transaction lifecycle and payouts
  - factory/rule.go: JSON rule definitions
*/
package commission

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/territory-engine/generic"
)

// =============================================================================
// RULES
// =============================================================================

// RuleType names the kind of condition a rule evaluates.
type RuleType string

const (
	RuleTiered      RuleType = "tiered"
	RuleCategory    RuleType = "category"
	RuleBonus       RuleType = "bonus"
	RuleNewCustomer RuleType = "new_customer"
	RulePerformance RuleType = "performance"
)

// RateKind is how a rate is applied.
type RateKind string

const (
	RatePercent RateKind = "percent"
	RateFixed   RateKind = "fixed"
)

// Rate is the amount a matching rule contributes.
type Rate struct {
	Kind  RateKind        `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

// Apply returns the contribution on basis, unrounded.
func (r Rate) Apply(basis decimal.Decimal) decimal.Decimal {
	if r.Kind == RateFixed {
		return r.Value
	}
	return generic.Percent(basis, r.Value)
}

// Condition is the closed set of rule conditions. Only the types in this
// file implement it, so the evaluation switch in engine.go is exhaustive.
type Condition interface {
	Type() RuleType
	isCondition()
}

// TieredCondition matches when the rep's monthly volume reaches MinVolume.
type TieredCondition struct {
	MinVolume decimal.Decimal
}

// CategoryCondition matches product lines whose category is in the rule's
// Filters.Categories. The rate applies to the sum of matching lines.
type CategoryCondition struct{}

// FlatBonusCondition matches orders of at least MinOrderAmount.
type FlatBonusCondition struct {
	MinOrderAmount decimal.Decimal
}

// NewCustomerCondition matches accounts no older than MaxAccountAgeDays.
type NewCustomerCondition struct {
	MaxAccountAgeDays int
}

// PerformanceCondition matches when quota attainment reaches MinQuotaAttainmentPct.
type PerformanceCondition struct {
	MinQuotaAttainmentPct decimal.Decimal
}

func (TieredCondition) Type() RuleType      { return RuleTiered }
func (CategoryCondition) Type() RuleType    { return RuleCategory }
func (FlatBonusCondition) Type() RuleType   { return RuleBonus }
func (NewCustomerCondition) Type() RuleType { return RuleNewCustomer }
func (PerformanceCondition) Type() RuleType { return RulePerformance }

func (TieredCondition) isCondition()      {}
func (CategoryCondition) isCondition()    {}
func (FlatBonusCondition) isCondition()   {}
func (NewCustomerCondition) isCondition() {}
func (PerformanceCondition) isCondition() {}

// Filters narrow where a rule applies. An empty list matches everything.
type Filters struct {
	RepIDs       []string `json:"rep_ids,omitempty"`
	TerritoryIDs []string `json:"territory_ids,omitempty"`
	ProductIDs   []string `json:"product_ids,omitempty"`
	Categories   []string `json:"categories,omitempty"`
}

// Rule is one commission rule.
type Rule struct {
	ID        string
	Name      string
	Condition Condition
	Rate      Rate
	Filters   Filters
	Window    generic.Window
	Priority  int
	Seq       int64 // creation order, assigned by the store
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Type returns the rule type implied by its condition.
func (r Rule) Type() RuleType {
	if r.Condition == nil {
		return ""
	}
	return r.Condition.Type()
}

// =============================================================================
// ORDERS AND REPS
// =============================================================================

// Rep is the commission profile of a sales representative.
type Rep struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Email          string          `json:"email,omitempty"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	Tier           string          `json:"tier,omitempty"`
	MonthlyQuota   decimal.Decimal `json:"monthly_quota"`
}

// ProductLine is one line of an order.
type ProductLine struct {
	ProductID string          `json:"product_id" validate:"required"`
	Category  string          `json:"category"`
	Amount    decimal.Decimal `json:"amount"`
}

// Order is a finalized order as delivered by the order source.
type Order struct {
	OrderID           string          `json:"order_id" validate:"required,max=200"`
	RepID             string          `json:"rep_id" validate:"required"`
	BusinessAccountID string          `json:"business_account_id"`
	TerritoryID       string          `json:"territory_id"`
	Amount            decimal.Decimal `json:"order_amount"`
	Lines             []ProductLine   `json:"product_lines" validate:"dive"`
	SaleDate          *time.Time      `json:"sale_date,omitempty"`
}

// =============================================================================
// CALCULATION
// =============================================================================

// Line is one labeled bonus or deduction. Amount is always positive;
// deductions are subtracted from the total.
type Line struct {
	Source string          `json:"source"` // "rule:<id>" or "builtin:<name>"
	RuleID string          `json:"rule_id,omitempty"`
	Label  string          `json:"label"`
	Rate   decimal.Decimal `json:"rate"` // percentage, zero for fixed amounts
	Basis  decimal.Decimal `json:"basis"`
	Amount decimal.Decimal `json:"amount"`
}

// Calculation is the commission breakdown for one order. It carries no
// wall-clock timestamps so equal inputs produce equal values.
type Calculation struct {
	OrderID              string          `json:"order_id"`
	RepID                string          `json:"rep_id"`
	BusinessAccountID    string          `json:"business_account_id,omitempty"`
	TerritoryID          string          `json:"territory_id,omitempty"`
	OrderAmount          decimal.Decimal `json:"order_amount"`
	CommissionableAmount decimal.Decimal `json:"commissionable_amount"`
	BaseRate             decimal.Decimal `json:"base_rate"`
	BaseAmount           decimal.Decimal `json:"base_amount"`
	Bonuses              []Line          `json:"bonuses"`
	Deductions           []Line          `json:"deductions"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	EffectiveRate        decimal.Decimal `json:"effective_rate"`
	MonthlyVolume        decimal.Decimal `json:"monthly_volume"`
	SaleDate             time.Time       `json:"sale_date"`
	Period               generic.Period  `json:"period"`
}

// Sources used for built-in lines and ledger idempotency keys.
const (
	SourceBase       = "base"
	SourceVolumeTier = "builtin:volume_tier"
	SourceNewAccount = "builtin:new_account"
	SourceClawback   = "clawback"
)

// RuleLineSource returns the ledger source label of a rule line.
func RuleLineSource(ruleID string) string {
	return "rule:" + ruleID
}

// =============================================================================
// LEDGER
// =============================================================================

// TxType is the kind of ledger row.
type TxType string

const (
	TxSale       TxType = "sale"
	TxBonus      TxType = "bonus"
	TxOverride   TxType = "override"
	TxAdjustment TxType = "adjustment"
	TxClawback   TxType = "clawback"
)

// TxStatus is the lifecycle state of a ledger row.
type TxStatus string

const (
	StatusPending   TxStatus = "pending"
	StatusApproved  TxStatus = "approved"
	StatusPaid      TxStatus = "paid"
	StatusCancelled TxStatus = "cancelled"
)

// Transaction is one commission ledger row. Amounts never change after the
// row is recorded; only the lifecycle fields do.
type Transaction struct {
	ID                   string          `json:"id"`
	RepID                string          `json:"rep_id" validate:"required"`
	OrderID              string          `json:"order_id" validate:"required"`
	BusinessAccountID    string          `json:"business_account_id,omitempty"`
	TerritoryID          string          `json:"territory_id,omitempty"`
	Type                 TxType          `json:"type" validate:"required,oneof=sale bonus override adjustment clawback"`
	Source               string          `json:"source,omitempty"`
	OrderAmount          decimal.Decimal `json:"order_amount"`
	CommissionableAmount decimal.Decimal `json:"commissionable_amount"`
	Rate                 decimal.Decimal `json:"commission_rate"`
	Amount               decimal.Decimal `json:"commission_amount"`
	Status               TxStatus        `json:"status"`
	SaleDate             time.Time       `json:"sale_date"`
	Period               generic.Period  `json:"period"`
	ReferenceID          string          `json:"reference_id,omitempty"`
	ApprovedBy           string          `json:"approved_by,omitempty"`
	ApprovedAt           *time.Time      `json:"approved_at,omitempty"`
	PaymentReference     string          `json:"payment_reference,omitempty"`
	PaidAt               *time.Time      `json:"paid_at,omitempty"`
	CancelReason         string          `json:"cancel_reason,omitempty"`
	CancelledBy          string          `json:"cancelled_by,omitempty"`
	CancelledAt          *time.Time      `json:"cancelled_at,omitempty"`
	IdempotencyKey       string          `json:"idempotency_key,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

// TxFilter narrows ledger queries. Zero fields match everything.
type TxFilter struct {
	RepID   string
	Status  TxStatus
	Period  generic.Period
	Types   []TxType
	OrderID string
	Limit   int
}

// IdempotencyKey builds the ledger key of one calculation line.
func IdempotencyKey(orderID, source string) string {
	return orderID + ":" + source
}

func normalizeCategories(cs []string) []string {
	if cs == nil {
		return nil
	}
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			out = append(out, c)
		}
	}
	return out
}
