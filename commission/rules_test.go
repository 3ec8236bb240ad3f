package commission_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/territory-engine/commission"
	"github.com/warp/territory-engine/generic"
	"github.com/warp/territory-engine/store/sqlite"
)

func newRuleBook(t *testing.T) (*commission.RuleBook, *generic.FixedClock) {
	t.Helper()
	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	opts := testOpts()
	opts.IDs = generic.SequentialIDs("rule")
	return commission.NewRuleBook(store, opts), opts.Clock.(*generic.FixedClock)
}

func tierRule(name string, priority int) commission.Rule {
	return commission.Rule{
		Name:      name,
		Condition: commission.TieredCondition{MinVolume: n(10000)},
		Rate:      commission.Rate{Kind: commission.RatePercent, Value: n(1)},
		Priority:  priority,
		Active:    true,
	}
}

func TestRuleBook_CreateAndList(t *testing.T) {
	book, _ := newRuleBook(t)
	ctx := context.Background()

	// GIVEN: Three rules, two sharing the top priority
	low, err := book.Create(ctx, tierRule("low", 1))
	require.NoError(t, err)
	first, err := book.Create(ctx, tierRule("first", 5))
	require.NoError(t, err)
	second, err := book.Create(ctx, tierRule("second", 5))
	require.NoError(t, err)

	// THEN: Creation order is recorded
	assert.Less(t, low.Seq, first.Seq)
	assert.Less(t, first.Seq, second.Seq)
	assert.Equal(t, now, first.CreatedAt)

	// AND: Listing follows evaluation order
	rules, err := book.List(ctx, false)
	require.NoError(t, err)
	names := make([]string, 0, len(rules))
	for _, r := range rules {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"first", "second", "low"}, names)
}

func TestRuleBook_UpdateKeepsIdentity(t *testing.T) {
	book, clock := newRuleBook(t)
	ctx := context.Background()
	created, err := book.Create(ctx, tierRule("tier", 1))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	changed := tierRule("tier v2", 9)
	changed.Condition = commission.TieredCondition{MinVolume: n(20000)}
	updated, err := book.Update(ctx, created.ID, changed)

	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, created.Seq, updated.Seq)
	assert.Equal(t, now, updated.CreatedAt)
	assert.Equal(t, now.Add(time.Hour), updated.UpdatedAt)

	got, err := book.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "tier v2", got.Name)
	assert.True(t, got.Condition.(commission.TieredCondition).MinVolume.Equal(n(20000)))

	_, err = book.Update(ctx, "missing", changed)
	assert.True(t, generic.IsNotFound(err))
}

func TestRuleBook_SetActive(t *testing.T) {
	book, _ := newRuleBook(t)
	ctx := context.Background()
	r, err := book.Create(ctx, tierRule("tier", 1))
	require.NoError(t, err)

	_, err = book.SetActive(ctx, r.ID, false)
	require.NoError(t, err)

	active, err := book.List(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := book.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Active)
}

func TestRuleBook_CategoriesAreNormalized(t *testing.T) {
	book, _ := newRuleBook(t)

	r, err := book.Create(context.Background(), commission.Rule{
		Name:      " Hardware ",
		Condition: commission.CategoryCondition{},
		Rate:      commission.Rate{Kind: commission.RatePercent, Value: n(3)},
		Filters:   commission.Filters{Categories: []string{" Hardware", "", "SOFTWARE"}},
		Active:    true,
	})

	require.NoError(t, err)
	assert.Equal(t, "Hardware", r.Name)
	assert.Equal(t, []string{"hardware", "software"}, r.Filters.Categories)
}

func TestValidateRule(t *testing.T) {
	from := now
	before := now.Add(-time.Hour)

	tests := []struct {
		name  string
		tweak func(r *commission.Rule)
		field string
	}{
		{"missing name", func(r *commission.Rule) { r.Name = "" }, "name"},
		{"missing condition", func(r *commission.Rule) { r.Condition = nil }, "condition"},
		{"zero rate", func(r *commission.Rule) { r.Rate.Value = n(0) }, "rate.value"},
		{"percent over 100", func(r *commission.Rule) { r.Rate.Value = n(101) }, "rate.value"},
		{"unknown rate kind", func(r *commission.Rule) { r.Rate.Kind = "ratio" }, "rate.kind"},
		{"inverted window", func(r *commission.Rule) { r.Window = generic.Window{From: &from, To: &before} }, "valid_to"},
		{"negative volume", func(r *commission.Rule) { r.Condition = commission.TieredCondition{MinVolume: n(-1)} }, "condition.min_volume"},
		{"category without categories", func(r *commission.Rule) { r.Condition = commission.CategoryCondition{} }, "filters.categories"},
		{"new customer without age", func(r *commission.Rule) { r.Condition = commission.NewCustomerCondition{} }, "condition.max_account_age_days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tierRule("tier", 0)
			tt.tweak(&r)

			err := commission.ValidateRule(r)

			var verr *generic.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Fields[0].Field)
		})
	}

	assert.NoError(t, commission.ValidateRule(tierRule("ok", 0)))
	fixedDeduction := tierRule("fee", 0)
	fixedDeduction.Rate = commission.Rate{Kind: commission.RateFixed, Value: n(-250)}
	assert.NoError(t, commission.ValidateRule(fixedDeduction))
}
