package commission

import (
	"context"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/territory-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// COMMISSION RULE ENGINE - Pure computation over an order
// =============================================================================

// Built-in volume tiers, highest first. They apply even with an empty rule table.
var volumeTiers = []struct {
	Name      string
	MinVolume decimal.Decimal
	Rate      decimal.Decimal
}{
	{"platinum", decimal.NewFromInt(100000), decimal.NewFromInt(5)},
	{"gold", decimal.NewFromInt(50000), decimal.NewFromInt(2)},
	{"silver", decimal.NewFromInt(25000), decimal.NewFromInt(1)},
}

// NewAccountMaxAgeDays bounds the built-in new account bonus.
const NewAccountMaxAgeDays = 90

var newAccountRate = decimal.NewFromInt(2)

// EngineDeps are the read-only collaborators of the engine.
type EngineDeps struct {
	Reps      RepDirectory
	Accounts  AccountAges // optional
	Volumes   VolumeSource
	Rules     RuleSource
	Overrides RateOverrides // optional
}

// Engine computes commission breakdowns. It never writes.
type Engine struct {
	deps EngineDeps
	opts generic.Options
}

// NewEngine creates an engine.
func NewEngine(deps EngineDeps, opts generic.Options) *Engine {
	return &Engine{deps: deps, opts: opts.WithDefaults()}
}

// Input is everything one evaluation looks at. Evaluate is a pure function
// of it.
type Input struct {
	Order          Order
	BaseRate       decimal.Decimal
	MonthlyQuota   decimal.Decimal
	MonthlyVolume  decimal.Decimal
	AccountAgeDays *int
	Rules          []Rule
	Now            time.Time
}

// Calculate evaluates order for its rep. The clock is read once; that
// instant decides rule validity windows and is the default sale date.
func (e *Engine) Calculate(ctx context.Context, order Order) (*Calculation, error) {
	if err := validateOrder(order); err != nil {
		return nil, err
	}
	now := e.opts.Clock.Now()
	saleDate := now
	if order.SaleDate != nil {
		saleDate = order.SaleDate.UTC()
	}
	order.SaleDate = &saleDate

	rep, err := e.deps.Reps.GetRep(ctx, order.RepID)
	if err != nil {
		return nil, err
	}
	if rep == nil {
		return nil, generic.NewNotFound("rep", order.RepID)
	}

	baseRate := rep.CommissionRate
	if e.deps.Overrides != nil && order.TerritoryID != "" {
		override, err := e.deps.Overrides.CommissionOverride(ctx, order.TerritoryID, order.RepID)
		if err != nil {
			return nil, err
		}
		if override != nil {
			baseRate = *override
		}
	}

	volume, err := e.deps.Volumes.MonthlyVolume(ctx, order.RepID, generic.PeriodOf(saleDate))
	if err != nil {
		return nil, err
	}

	var age *int
	if e.deps.Accounts != nil && order.BusinessAccountID != "" {
		days, ok, err := e.deps.Accounts.AccountAgeDays(ctx, order.BusinessAccountID, saleDate)
		if err != nil {
			return nil, err
		}
		if ok {
			age = &days
		}
	}

	rules, err := e.deps.Rules.ListCommissionRules(ctx, true)
	if err != nil {
		return nil, err
	}

	calc := Evaluate(Input{
		Order:          order,
		BaseRate:       baseRate,
		MonthlyQuota:   rep.MonthlyQuota,
		MonthlyVolume:  volume,
		AccountAgeDays: age,
		Rules:          rules,
		Now:            now,
	})

	e.opts.Logger.Debug("commission calculated",
		zap.String("order_id", calc.OrderID),
		zap.String("rep_id", calc.RepID),
		zap.String("total", calc.TotalAmount.String()),
		zap.Int("bonuses", len(calc.Bonuses)))
	return &calc, nil
}

// Evaluate runs the calculation pipeline:
//
//  1. base = order amount * base rate / 100
//  2. applicable rules: active, window contains Now, filters match;
//     sorted priority DESC, seq ASC
//  3. each rule's condition adds a bonus (or a deduction when negative)
//  4. built-in volume tier and new account bonuses
//  5. total = base + bonuses - deductions; effective rate = total / amount * 100
func Evaluate(in Input) Calculation {
	o := in.Order
	calc := Calculation{
		OrderID:              o.OrderID,
		RepID:                o.RepID,
		BusinessAccountID:    o.BusinessAccountID,
		TerritoryID:          o.TerritoryID,
		OrderAmount:          o.Amount,
		CommissionableAmount: o.Amount,
		BaseRate:             in.BaseRate,
		BaseAmount:           generic.Cents(generic.Percent(o.Amount, in.BaseRate)),
		Bonuses:              []Line{},
		Deductions:           []Line{},
		MonthlyVolume:        in.MonthlyVolume,
	}
	if o.SaleDate != nil {
		calc.SaleDate = *o.SaleDate
	} else {
		calc.SaleDate = in.Now
	}
	calc.Period = generic.PeriodOf(calc.SaleDate)

	attainment := generic.RatioPercent(in.MonthlyVolume, in.MonthlyQuota)

	for _, r := range ApplicableRules(in.Rules, o, in.Now) {
		amount, basis, ok := contribution(r, o, in.MonthlyVolume, attainment, in.AccountAgeDays)
		if !ok {
			continue
		}
		amount = generic.Cents(amount)
		if amount.IsZero() {
			continue
		}
		line := Line{
			Source: RuleLineSource(r.ID),
			RuleID: r.ID,
			Label:  r.Name,
			Basis:  basis,
			Amount: amount.Abs(),
		}
		if r.Rate.Kind != RateFixed {
			line.Rate = r.Rate.Value.Abs()
		}
		if amount.IsNegative() {
			calc.Deductions = append(calc.Deductions, line)
		} else {
			calc.Bonuses = append(calc.Bonuses, line)
		}
	}

	for _, tier := range volumeTiers {
		if in.MonthlyVolume.GreaterThanOrEqual(tier.MinVolume) {
			calc.Bonuses = append(calc.Bonuses, Line{
				Source: SourceVolumeTier,
				Label:  tier.Name + " volume tier",
				Rate:   tier.Rate,
				Basis:  o.Amount,
				Amount: generic.Cents(generic.Percent(o.Amount, tier.Rate)),
			})
			break
		}
	}

	if in.AccountAgeDays != nil && *in.AccountAgeDays <= NewAccountMaxAgeDays {
		calc.Bonuses = append(calc.Bonuses, Line{
			Source: SourceNewAccount,
			Label:  "new account bonus",
			Rate:   newAccountRate,
			Basis:  o.Amount,
			Amount: generic.Cents(generic.Percent(o.Amount, newAccountRate)),
		})
	}

	total := calc.BaseAmount
	for _, b := range calc.Bonuses {
		total = total.Add(b.Amount)
	}
	for _, d := range calc.Deductions {
		total = total.Sub(d.Amount)
	}
	calc.TotalAmount = total
	calc.EffectiveRate = generic.RatioPercent(total, o.Amount).Round(generic.RatePlaces)
	return calc
}

// ApplicableRules keeps the active rules whose window contains now and whose
// filters match order, sorted priority DESC then seq ASC.
func ApplicableRules(rules []Rule, order Order, now time.Time) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if !r.Active || r.Condition == nil || !r.Window.Contains(now) {
			continue
		}
		if !matchesFilters(r, order) {
			continue
		}
		out = append(out, r)
	}
	sortByPriority(out)
	return out
}

// sortByPriority orders rules priority DESC, then seq ASC.
func sortByPriority(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].Seq < rules[j].Seq
	})
}

// contribution evaluates one rule's condition. ok is false when the
// condition does not match; that is a normal outcome, not an error.
func contribution(r Rule, o Order, volume, attainment decimal.Decimal, ageDays *int) (amount, basis decimal.Decimal, ok bool) {
	switch c := r.Condition.(type) {
	case TieredCondition:
		if volume.LessThan(c.MinVolume) {
			return decimal.Zero, decimal.Zero, false
		}
		return r.Rate.Apply(o.Amount), o.Amount, true
	case CategoryCondition:
		basis := decimal.Zero
		matched := false
		for _, l := range o.Lines {
			if inCategories(l.Category, r.Filters.Categories) {
				basis = basis.Add(l.Amount)
				matched = true
			}
		}
		if !matched {
			return decimal.Zero, decimal.Zero, false
		}
		return r.Rate.Apply(basis), basis, true
	case FlatBonusCondition:
		if o.Amount.LessThan(c.MinOrderAmount) {
			return decimal.Zero, decimal.Zero, false
		}
		return r.Rate.Apply(o.Amount), o.Amount, true
	case NewCustomerCondition:
		if ageDays == nil || *ageDays > c.MaxAccountAgeDays {
			return decimal.Zero, decimal.Zero, false
		}
		return r.Rate.Apply(o.Amount), o.Amount, true
	case PerformanceCondition:
		if attainment.LessThan(c.MinQuotaAttainmentPct) {
			return decimal.Zero, decimal.Zero, false
		}
		return r.Rate.Apply(o.Amount), o.Amount, true
	default:
		return decimal.Zero, decimal.Zero, false
	}
}

func matchesFilters(r Rule, o Order) bool {
	f := r.Filters
	if len(f.RepIDs) > 0 && !slices.Contains(f.RepIDs, o.RepID) {
		return false
	}
	if len(f.TerritoryIDs) > 0 && !slices.Contains(f.TerritoryIDs, o.TerritoryID) {
		return false
	}
	if len(f.ProductIDs) > 0 && !slices.ContainsFunc(o.Lines, func(l ProductLine) bool {
		return slices.Contains(f.ProductIDs, l.ProductID)
	}) {
		return false
	}
	// Category rules use the category list to pick lines, not to gate the rule.
	if _, isCategory := r.Condition.(CategoryCondition); !isCategory && len(f.Categories) > 0 {
		if !slices.ContainsFunc(o.Lines, func(l ProductLine) bool {
			return inCategories(l.Category, f.Categories)
		}) {
			return false
		}
	}
	return true
}

func inCategories(category string, categories []string) bool {
	category = strings.ToLower(strings.TrimSpace(category))
	return category != "" && slices.Contains(categories, category)
}

func validateOrder(o Order) error {
	err := generic.ValidateStruct(o)
	checks := []generic.DecimalCheck{{Field: "order_amount", Value: o.Amount, Positive: true}}
	for i, l := range o.Lines {
		checks = append(checks, generic.DecimalCheck{Field: "product_lines[" + strconv.Itoa(i) + "].amount", Value: l.Amount})
	}
	return generic.CheckDecimals(err, checks...)
}
