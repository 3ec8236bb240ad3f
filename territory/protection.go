package territory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/territory-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// PROTECTION RULE STORE - Policy lookup and condition evaluation
// =============================================================================

// ProtectionStore reads and writes the single protection rule of each
// territory, and evaluates whether a rule still qualifies.
type ProtectionStore struct {
	store Store
	opts  generic.Options
}

// NewProtectionStore creates a rule store over store.
func NewProtectionStore(store Store, opts generic.Options) *ProtectionStore {
	return &ProtectionStore{store: store, opts: opts.WithDefaults()}
}

// GetRules returns the rule of a territory.
func (p *ProtectionStore) GetRules(ctx context.Context, territoryID string) (*ProtectionRule, error) {
	r, err := p.store.GetProtectionRule(ctx, territoryID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, generic.NewNotFound("protection_rule", territoryID)
	}
	return r, nil
}

// SetRules inserts or replaces the rule of a territory. The territory's
// protection type follows the rule type.
func (p *ProtectionStore) SetRules(ctx context.Context, territoryID string, rule ProtectionRule) (*ProtectionRule, error) {
	if err := validateRule(rule); err != nil {
		return nil, err
	}

	var saved ProtectionRule
	err := generic.RetryTx(ctx, p.opts.Retry, p.store, "protection.set_rules", p.opts.Logger, func(ctx context.Context) error {
		t, err := getTerritory(ctx, p.store, territoryID)
		if err != nil {
			return err
		}
		existing, err := p.store.GetProtectionRule(ctx, territoryID)
		if err != nil {
			return err
		}

		now := p.opts.Clock.Now()
		r := rule
		r.TerritoryID = territoryID
		r.UpdatedAt = now
		if existing != nil {
			r.ID = existing.ID
			r.CreatedAt = existing.CreatedAt
		} else {
			r.ID = p.opts.IDs()
			r.CreatedAt = now
		}
		if err := p.store.UpsertProtectionRule(ctx, r); err != nil {
			return err
		}

		if pt := r.Type.ProtectionType(); pt != t.ProtectionType {
			t.ProtectionType = pt
			t.UpdatedAt = now
			if err := p.store.UpdateTerritory(ctx, *t); err != nil {
				return err
			}
		}
		saved = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.opts.Logger.Info("protection rule set",
		zap.String("territory_id", territoryID),
		zap.String("rule_type", string(saved.Type)))
	return &saved, nil
}

// EvaluateConditions reports whether rule still grants protection. It has
// no side effects and gives the same answer for the same input.
func (p *ProtectionStore) EvaluateConditions(rule ProtectionRule, in ConditionInput) bool {
	return EvaluateConditions(rule, in)
}

// EvaluateConditions is the pure form of ProtectionStore.EvaluateConditions.
//
//	lifetime:    always qualifies
//	none:        never qualifies
//	performance: accounts, revenue and active-account share all meet their
//	             thresholds (a zero threshold always passes)
//	time_based:  now is before protection start + period days
func EvaluateConditions(rule ProtectionRule, in ConditionInput) bool {
	switch rule.Type {
	case RuleLifetime:
		return true
	case RulePerformance:
		c := rule.Conditions
		if in.Metrics.AccountCount < c.MinAccounts {
			return false
		}
		if in.Metrics.TrailingRevenue.LessThan(c.MinRevenue) {
			return false
		}
		if c.PerformanceThresholdPct.IsPositive() && in.Metrics.ActivePercent().LessThan(c.PerformanceThresholdPct) {
			return false
		}
		return true
	case RuleTimeBased:
		if in.ProtectionStart == nil {
			return false
		}
		expires := in.ProtectionStart.AddDate(0, 0, rule.Conditions.PeriodDays)
		return in.Now.Before(expires)
	default:
		return false
	}
}

// approvalReason returns why moving t away from its holder needs an
// approver, or "" when it does not. toRepID is empty for a release.
//
// Lifetime protection always needs one, whatever the territory's status or
// inheritance settings. A first_to_sign territory counts as lifetime even
// when its rule row is missing or out of step.
func approvalReason(t Territory, rule *ProtectionRule, toRepID string) string {
	if rule != nil && rule.Type == RuleLifetime {
		return "territory has lifetime protection"
	}
	if t.ProtectionType == ProtectionFirstToSign {
		return "territory has first-to-sign protection"
	}
	if rule == nil {
		return ""
	}
	if rule.Inheritance.Policy == InheritRequireApproval {
		return "inheritance policy requires approval"
	}
	if toRepID != "" && len(rule.Inheritance.ApprovedInheritors) > 0 &&
		!slices.Contains(rule.Inheritance.ApprovedInheritors, toRepID) {
		return fmt.Sprintf("rep %s is not an approved inheritor", toRepID)
	}
	return ""
}

// syncRuleType points t's rule at the rule type backing its protection
// type. A territory without a rule is left alone.
func syncRuleType(ctx context.Context, store Store, t Territory, now time.Time) error {
	rule, err := store.GetProtectionRule(ctx, t.ID)
	if err != nil || rule == nil {
		return err
	}
	rt := t.ProtectionType.RuleType()
	if rule.Type == rt {
		return nil
	}
	rule.Type = rt
	if rt == RuleTimeBased && rule.Conditions.PeriodDays <= 0 {
		rule.Conditions.PeriodDays = DefaultProtectionPeriodDays
	}
	rule.UpdatedAt = now
	return store.UpsertProtectionRule(ctx, *rule)
}

// defaultRule builds the rule a newly protected territory gets when it has none.
func defaultRule(t Territory, id string, now time.Time) ProtectionRule {
	r := ProtectionRule{
		ID:          id,
		TerritoryID: t.ID,
		Type:        t.ProtectionType.RuleType(),
		Inheritance: Inheritance{Policy: InheritAllow},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if r.Type == RuleTimeBased {
		r.Conditions.PeriodDays = DefaultProtectionPeriodDays
	}
	return r
}

var hundred = decimal.NewFromInt(100)

func validateRule(r ProtectionRule) error {
	err := generic.ValidateStruct(r)
	if r.Type == RuleTimeBased && r.Conditions.PeriodDays <= 0 {
		err = generic.WithFieldError(err, "conditions.period_days", "must be greater than zero for time_based rules")
	}
	if r.Split.Enabled && r.Split.DurationDays <= 0 {
		err = generic.WithFieldError(err, "split_commission.duration_days", "must be greater than zero when enabled")
	}
	return generic.CheckDecimals(err,
		generic.DecimalCheck{Field: "conditions.min_revenue", Value: r.Conditions.MinRevenue},
		generic.DecimalCheck{Field: "conditions.performance_threshold_pct", Value: r.Conditions.PerformanceThresholdPct, Max: &hundred},
		generic.DecimalCheck{Field: "split_commission.original_rep_pct", Value: r.Split.OriginalRepPct, Max: &hundred},
	)
}
