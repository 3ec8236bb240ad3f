package commission

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/territory-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// RULE BOOK - Commission rule management
// =============================================================================

// RuleBook creates and edits commission rules. Rules are never deleted;
// SetActive(false) retires one.
type RuleBook struct {
	store Store
	opts  generic.Options
}

// NewRuleBook creates a rule book over store.
func NewRuleBook(store Store, opts generic.Options) *RuleBook {
	return &RuleBook{store: store, opts: opts.WithDefaults()}
}

// Create validates and stores a new rule. ID, Seq and timestamps are
// assigned here.
func (b *RuleBook) Create(ctx context.Context, r Rule) (*Rule, error) {
	r = normalizeRule(r)
	if err := ValidateRule(r); err != nil {
		return nil, err
	}
	now := b.opts.Clock.Now()
	r.ID = b.opts.IDs()
	r.CreatedAt = now
	r.UpdatedAt = now

	err := generic.RetryTx(ctx, b.opts.Retry, b.store, "commission_rule.create", b.opts.Logger, func(ctx context.Context) error {
		seq, err := b.store.InsertCommissionRule(ctx, r)
		if err != nil {
			return err
		}
		r.Seq = seq
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.opts.Logger.Info("commission rule created",
		zap.String("rule_id", r.ID),
		zap.String("name", r.Name),
		zap.String("type", string(r.Type())),
		zap.Int("priority", r.Priority))
	return &r, nil
}

// Update replaces a rule's definition, keeping its identity and creation
// order.
func (b *RuleBook) Update(ctx context.Context, id string, r Rule) (*Rule, error) {
	r = normalizeRule(r)
	if err := ValidateRule(r); err != nil {
		return nil, err
	}

	var out Rule
	err := generic.RetryTx(ctx, b.opts.Retry, b.store, "commission_rule.update", b.opts.Logger, func(ctx context.Context) error {
		existing, err := b.mustGet(ctx, id)
		if err != nil {
			return err
		}
		r.ID = existing.ID
		r.Seq = existing.Seq
		r.CreatedAt = existing.CreatedAt
		r.UpdatedAt = b.opts.Clock.Now()
		if err := b.store.UpdateCommissionRule(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.opts.Logger.Info("commission rule updated", zap.String("rule_id", id))
	return &out, nil
}

// SetActive enables or disables a rule.
func (b *RuleBook) SetActive(ctx context.Context, id string, active bool) (*Rule, error) {
	var out Rule
	err := generic.RetryTx(ctx, b.opts.Retry, b.store, "commission_rule.set_active", b.opts.Logger, func(ctx context.Context) error {
		r, err := b.mustGet(ctx, id)
		if err != nil {
			return err
		}
		r.Active = active
		r.UpdatedAt = b.opts.Clock.Now()
		if err := b.store.UpdateCommissionRule(ctx, *r); err != nil {
			return err
		}
		out = *r
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.opts.Logger.Info("commission rule toggled", zap.String("rule_id", id), zap.Bool("active", active))
	return &out, nil
}

// Get returns one rule.
func (b *RuleBook) Get(ctx context.Context, id string) (*Rule, error) {
	return b.mustGet(ctx, id)
}

// List returns rules in evaluation order (priority DESC, seq ASC).
func (b *RuleBook) List(ctx context.Context, includeInactive bool) ([]Rule, error) {
	rules, err := b.store.ListCommissionRules(ctx, !includeInactive)
	if err != nil {
		return nil, err
	}
	sortByPriority(rules)
	return rules, nil
}

func (b *RuleBook) mustGet(ctx context.Context, id string) (*Rule, error) {
	r, err := b.store.GetCommissionRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, generic.NewNotFound("commission_rule", id)
	}
	return r, nil
}

// =============================================================================
// VALIDATION
// =============================================================================

var maxPercent = decimal.NewFromInt(100)

// ValidateRule checks a rule's shape and its condition's thresholds.
func ValidateRule(r Rule) error {
	var err error
	if r.Name == "" {
		err = generic.WithFieldError(err, "name", "is required")
	} else if len(r.Name) > 200 {
		err = generic.WithFieldError(err, "name", "must have at most 200 characters")
	}

	switch r.Rate.Kind {
	case RatePercent:
		if r.Rate.Value.Abs().GreaterThan(maxPercent) {
			err = generic.WithFieldError(err, "rate.value", "percent rates must be between -100 and 100")
		}
	case RateFixed:
	default:
		err = generic.WithFieldError(err, "rate.kind", fmt.Sprintf("must be one of [%s %s]", RatePercent, RateFixed))
	}
	if r.Rate.Value.IsZero() {
		err = generic.WithFieldError(err, "rate.value", "must not be zero")
	}

	if werr := r.Window.Validate(); werr != nil {
		err = generic.WithFieldError(err, "valid_to", "must be after valid_from")
	}

	switch c := r.Condition.(type) {
	case nil:
		err = generic.WithFieldError(err, "condition", "is required")
	case TieredCondition:
		err = generic.CheckDecimals(err, generic.DecimalCheck{Field: "condition.min_volume", Value: c.MinVolume})
	case CategoryCondition:
		if len(r.Filters.Categories) == 0 {
			err = generic.WithFieldError(err, "filters.categories", "category rules need at least one category")
		}
	case FlatBonusCondition:
		err = generic.CheckDecimals(err, generic.DecimalCheck{Field: "condition.min_order_amount", Value: c.MinOrderAmount})
	case NewCustomerCondition:
		if c.MaxAccountAgeDays <= 0 {
			err = generic.WithFieldError(err, "condition.max_account_age_days", "must be greater than zero")
		}
	case PerformanceCondition:
		err = generic.CheckDecimals(err, generic.DecimalCheck{Field: "condition.min_quota_attainment_pct", Value: c.MinQuotaAttainmentPct})
	}
	return err
}

func normalizeRule(r Rule) Rule {
	r.Name = strings.TrimSpace(r.Name)
	r.Filters.Categories = normalizeCategories(r.Filters.Categories)
	return r
}
