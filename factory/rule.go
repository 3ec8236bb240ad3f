/*
Package factory provides JSON to Go commission rule conversion.

PURPOSE:
  Commission rules are authored as JSON (admin UI, seed files, the HTTP API)
  but evaluated as commission.Rule values whose Condition is a closed tagged
  union. The factory is the one place that maps between the two, and the
  SQLite store uses it to persist rule definitions.

JSON SCHEMA:
  {
    "name": "Q3 hardware push",
    "type": "category",
    "condition": {},
    "rate": {"kind": "percent", "value": "3"},
    "filters": {"categories": ["hardware"]},
    "valid_from": "2025-07-01T00:00:00Z",
    "valid_to": "2025-10-01T00:00:00Z",
    "priority": 10,
    "is_active": true
  }

CONDITION FIELDS BY TYPE:
  tiered:       min_volume (required)
  category:     none; categories come from filters.categories
  bonus:        min_order_amount (default 0)
  new_customer: max_account_age_days (required)
  performance:  min_quota_attainment_pct (required)

USAGE:
  f := factory.NewRuleFactory()
  rule, err := f.ParseRule([]byte(jsonString))
  created, err := ruleBook.Create(ctx, rule)

SEE ALSO:
  - commission/types.go: Rule and Condition types
  - store/sqlite: Persists MarshalDefinition output
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/territory-engine/commission"
	"github.com/warp/territory-engine/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the JSON representation of a commission rule.
type RuleJSON struct {
	ID        string             `json:"id,omitempty"`
	Name      string             `json:"name"`
	Type      string             `json:"type"`
	Condition ConditionJSON      `json:"condition"`
	Rate      RateJSON           `json:"rate"`
	Filters   commission.Filters `json:"filters"`
	ValidFrom *time.Time         `json:"valid_from,omitempty"`
	ValidTo   *time.Time         `json:"valid_to,omitempty"`
	Priority  int                `json:"priority"`
	Active    *bool              `json:"is_active,omitempty"` // default true

	// Output only.
	Seq       int64      `json:"seq,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// ConditionJSON holds the thresholds of every condition type; only the
// fields of the rule's type are read.
type ConditionJSON struct {
	MinVolume             *decimal.Decimal `json:"min_volume,omitempty"`
	MinOrderAmount        *decimal.Decimal `json:"min_order_amount,omitempty"`
	MaxAccountAgeDays     *int             `json:"max_account_age_days,omitempty"`
	MinQuotaAttainmentPct *decimal.Decimal `json:"min_quota_attainment_pct,omitempty"`
}

// RateJSON represents a rate.
type RateJSON struct {
	Kind  string          `json:"kind"` // percent (default), fixed
	Value decimal.Decimal `json:"value"`
}

// definitionJSON is the persisted part of a rule that has no column of its own.
type definitionJSON struct {
	Condition ConditionJSON      `json:"condition"`
	Rate      RateJSON           `json:"rate"`
	Filters   commission.Filters `json:"filters"`
}

// =============================================================================
// RULE FACTORY
// =============================================================================

// RuleFactory converts JSON rules to commission rules and back.
type RuleFactory struct{}

// NewRuleFactory creates a new rule factory.
func NewRuleFactory() *RuleFactory {
	return &RuleFactory{}
}

// ParseRule decodes one JSON rule. Unknown fields are rejected.
func (f *RuleFactory) ParseRule(data []byte) (commission.Rule, error) {
	var rj RuleJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rj); err != nil {
		return commission.Rule{}, generic.NewValidationError("body", fmt.Sprintf("invalid rule JSON: %v", err))
	}
	return f.FromJSON(rj)
}

// ParseRules decodes a JSON array of rules.
func (f *RuleFactory) ParseRules(data []byte) ([]commission.Rule, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, generic.NewValidationError("body", fmt.Sprintf("invalid rules JSON: %v", err))
	}
	rules := make([]commission.Rule, 0, len(raw))
	for i, r := range raw {
		rule, err := f.ParseRule(r)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// FromJSON builds a commission.Rule. The result still goes through
// commission.ValidateRule when it is stored.
func (f *RuleFactory) FromJSON(rj RuleJSON) (commission.Rule, error) {
	cond, err := f.DecodeCondition(rj.Type, rj.Condition)
	if err != nil {
		return commission.Rule{}, err
	}
	rate, err := decodeRate(rj.Rate)
	if err != nil {
		return commission.Rule{}, err
	}

	active := true
	if rj.Active != nil {
		active = *rj.Active
	}
	r := commission.Rule{
		ID:        rj.ID,
		Name:      rj.Name,
		Condition: cond,
		Rate:      rate,
		Filters:   rj.Filters,
		Window:    generic.Window{From: utcPtr(rj.ValidFrom), To: utcPtr(rj.ValidTo)},
		Priority:  rj.Priority,
		Active:    active,
		Seq:       rj.Seq,
	}
	if rj.CreatedAt != nil {
		r.CreatedAt = *rj.CreatedAt
	}
	if rj.UpdatedAt != nil {
		r.UpdatedAt = *rj.UpdatedAt
	}
	return r, nil
}

// ToJSON renders a rule in its JSON form.
func (f *RuleFactory) ToJSON(r commission.Rule) RuleJSON {
	active := r.Active
	rj := RuleJSON{
		ID:        r.ID,
		Name:      r.Name,
		Type:      string(r.Type()),
		Condition: f.EncodeCondition(r.Condition),
		Rate:      RateJSON{Kind: string(r.Rate.Kind), Value: r.Rate.Value},
		Filters:   r.Filters,
		ValidFrom: r.Window.From,
		ValidTo:   r.Window.To,
		Priority:  r.Priority,
		Active:    &active,
		Seq:       r.Seq,
	}
	if !r.CreatedAt.IsZero() {
		t := r.CreatedAt
		rj.CreatedAt = &t
	}
	if !r.UpdatedAt.IsZero() {
		t := r.UpdatedAt
		rj.UpdatedAt = &t
	}
	return rj
}

// DecodeCondition builds the condition variant named by ruleType.
func (f *RuleFactory) DecodeCondition(ruleType string, c ConditionJSON) (commission.Condition, error) {
	switch commission.RuleType(ruleType) {
	case commission.RuleTiered:
		if c.MinVolume == nil {
			return nil, generic.NewValidationError("condition.min_volume", "is required for tiered rules")
		}
		return commission.TieredCondition{MinVolume: *c.MinVolume}, nil
	case commission.RuleCategory:
		return commission.CategoryCondition{}, nil
	case commission.RuleBonus:
		min := decimal.Zero
		if c.MinOrderAmount != nil {
			min = *c.MinOrderAmount
		}
		return commission.FlatBonusCondition{MinOrderAmount: min}, nil
	case commission.RuleNewCustomer:
		if c.MaxAccountAgeDays == nil {
			return nil, generic.NewValidationError("condition.max_account_age_days", "is required for new_customer rules")
		}
		return commission.NewCustomerCondition{MaxAccountAgeDays: *c.MaxAccountAgeDays}, nil
	case commission.RulePerformance:
		if c.MinQuotaAttainmentPct == nil {
			return nil, generic.NewValidationError("condition.min_quota_attainment_pct", "is required for performance rules")
		}
		return commission.PerformanceCondition{MinQuotaAttainmentPct: *c.MinQuotaAttainmentPct}, nil
	case "":
		return nil, generic.NewValidationError("type", "is required")
	default:
		return nil, generic.NewValidationError("type", fmt.Sprintf("unknown rule type %q", ruleType))
	}
}

// EncodeCondition is the inverse of DecodeCondition.
func (f *RuleFactory) EncodeCondition(c commission.Condition) ConditionJSON {
	switch c := c.(type) {
	case commission.TieredCondition:
		v := c.MinVolume
		return ConditionJSON{MinVolume: &v}
	case commission.FlatBonusCondition:
		v := c.MinOrderAmount
		return ConditionJSON{MinOrderAmount: &v}
	case commission.NewCustomerCondition:
		v := c.MaxAccountAgeDays
		return ConditionJSON{MaxAccountAgeDays: &v}
	case commission.PerformanceCondition:
		v := c.MinQuotaAttainmentPct
		return ConditionJSON{MinQuotaAttainmentPct: &v}
	default:
		return ConditionJSON{}
	}
}

// MarshalDefinition serializes the condition, rate and filters of r.
func (f *RuleFactory) MarshalDefinition(r commission.Rule) ([]byte, error) {
	return json.Marshal(definitionJSON{
		Condition: f.EncodeCondition(r.Condition),
		Rate:      RateJSON{Kind: string(r.Rate.Kind), Value: r.Rate.Value},
		Filters:   r.Filters,
	})
}

// UnmarshalDefinition restores what MarshalDefinition wrote into r.
func (f *RuleFactory) UnmarshalDefinition(ruleType string, data []byte, r *commission.Rule) error {
	var def definitionJSON
	if err := json.Unmarshal(data, &def); err != nil {
		return fmt.Errorf("decode rule definition: %w", err)
	}
	cond, err := f.DecodeCondition(ruleType, def.Condition)
	if err != nil {
		return fmt.Errorf("decode rule condition: %w", err)
	}
	rate, err := decodeRate(def.Rate)
	if err != nil {
		return fmt.Errorf("decode rule rate: %w", err)
	}
	r.Condition = cond
	r.Rate = rate
	r.Filters = def.Filters
	return nil
}

func decodeRate(rj RateJSON) (commission.Rate, error) {
	switch commission.RateKind(rj.Kind) {
	case "", commission.RatePercent:
		return commission.Rate{Kind: commission.RatePercent, Value: rj.Value}, nil
	case commission.RateFixed:
		return commission.Rate{Kind: commission.RateFixed, Value: rj.Value}, nil
	default:
		return commission.Rate{}, generic.NewValidationError("rate.kind", fmt.Sprintf("unknown rate kind %q", rj.Kind))
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// =============================================================================
// PRESETS
// =============================================================================

// VolumeTierRuleJSON returns a tiered rule granting ratePct once monthly
// volume reaches minVolume.
func VolumeTierRuleJSON(name string, minVolume, ratePct int64, priority int) string {
	return fmt.Sprintf(`{
  "name": %q,
  "type": "tiered",
  "condition": {"min_volume": "%d"},
  "rate": {"kind": "percent", "value": "%d"},
  "priority": %d
}`, name, minVolume, ratePct, priority)
}

// CategoryRuleJSON returns a category rule granting ratePct on lines in category.
func CategoryRuleJSON(name, category string, ratePct int64, priority int) string {
	return fmt.Sprintf(`{
  "name": %q,
  "type": "category",
  "condition": {},
  "rate": {"kind": "percent", "value": "%d"},
  "filters": {"categories": [%q]},
  "priority": %d
}`, name, ratePct, category, priority)
}

// FlatBonusRuleJSON returns a fixed bonus for orders of at least minOrder.
func FlatBonusRuleJSON(name string, minOrder, amount int64, priority int) string {
	return fmt.Sprintf(`{
  "name": %q,
  "type": "bonus",
  "condition": {"min_order_amount": "%d"},
  "rate": {"kind": "fixed", "value": "%d"},
  "priority": %d
}`, name, minOrder, amount, priority)
}
