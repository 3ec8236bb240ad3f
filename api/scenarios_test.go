/*
scenarios_test.go - Tests for demo scenario loading

Tests for:
- Every scenario loads through the API without error
- Loaded data matches what each scenario promises
- Reset clears data and the current scenario

Note: newTestAPI and the request helpers are defined in handlers_test.go.
*/
package api

import (
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/territory-engine/commission"
	"github.com/warp/territory-engine/factory"
	"github.com/warp/territory-engine/territory"
)

func (a *testAPI) loadScenario(t *testing.T, id string) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestScenario_AllScenariosLoadWithoutError(t *testing.T) {
	a := newTestAPI(t, true)

	listed := decode[[]ScenarioDTO](t, a.do(t, http.MethodGet, "/api/scenarios", nil))
	require.Len(t, listed, len(scenarios))

	for _, s := range listed {
		t.Run(s.ID, func(t *testing.T) {
			a.loadScenario(t, s.ID)

			current := decode[ScenarioDTO](t, a.do(t, http.MethodGet, "/api/scenarios/current", nil))
			assert.Equal(t, s.ID, current.ID)
		})
	}
}

func TestScenario_UnknownID(t *testing.T) {
	a := newTestAPI(t, true)

	rec := a.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenario_ProtectedTerritories(t *testing.T) {
	a := newTestAPI(t, true)
	a.loadScenario(t, "protected-territories")

	protected := decode[[]TerritoryDTO](t, a.do(t, http.MethodGet, "/api/territories?status=protected", nil))
	assert.Len(t, protected, 2)

	available := decode[[]TerritoryDTO](t, a.do(t, http.MethodGet, "/api/territories?status=available", nil))
	require.Len(t, available, 1)
	assert.Equal(t, "Aurora", available[0].Name)

	boulder := decode[TerritoryDTO](t, a.do(t, http.MethodGet, "/api/territories/by-postal-code/80302", nil))
	rule := decode[territory.ProtectionRule](t, a.do(t, http.MethodGet, "/api/territories/"+boulder.ID+"/protection", nil))
	assert.Equal(t, territory.RulePerformance, rule.Type)
	assert.Equal(t, 2, rule.Conditions.MinAccounts)
}

func TestScenario_CommissionRules(t *testing.T) {
	a := newTestAPI(t, true)
	a.loadScenario(t, "commission-rules")

	rules := decode[[]factory.RuleJSON](t, a.do(t, http.MethodGet, "/api/commission-rules", nil))
	require.Len(t, rules, 3)
	assert.Equal(t, "Volume over 25k", rules[0].Name, "highest priority first")

	// The equipment-heavy first order earns the category rule and the large order bonus.
	rows := decode[[]commission.Transaction](t, a.do(t, http.MethodGet, "/api/commissions?order_id=ord-1001", nil))
	types := map[commission.TxType]int{}
	for _, r := range rows {
		types[r.Type]++
	}
	assert.Equal(t, 1, types[commission.TxSale])
	assert.Equal(t, 2, types[commission.TxBonus])

	perf := decode[RepPerformanceDTO](t, a.do(t, http.MethodGet, "/api/reps/rep-carol/performance", nil))
	assert.True(t, decimal.NewFromInt(31700).Equal(perf.Volume), perf.Volume.String())
	assert.True(t, perf.Pending.IsPositive())
}

func TestScenario_TerritoryTransfer(t *testing.T) {
	a := newTestAPI(t, true)
	a.loadScenario(t, "territory-transfer")

	held := decode[[]TerritoryDTO](t, a.do(t, http.MethodGet, "/api/reps/rep-carol/territories", nil))
	require.Len(t, held, 1)

	history := decode[[]AssignmentDTO](t, a.do(t, http.MethodGet, "/api/territories/"+held[0].ID+"/assignments", nil))
	require.Len(t, history, 2)
	assert.Equal(t, territory.AssignmentTransferred, history[0].Status)
	assert.Equal(t, "rep-carol", history[1].RepID)

	account := decode[map[string]any](t, a.do(t, http.MethodGet, "/api/accounts/acct-domain", nil))
	assert.Equal(t, "rep-carol", account["rep_id"], "accounts follow the territory")

	pending := decode[[]ConflictDTO](t, a.do(t, http.MethodGet, "/api/conflicts?status=pending", nil))
	assert.Len(t, pending, 1)
}

func TestScenario_PayoutCycle(t *testing.T) {
	// GIVEN: the payout scenario with last month approved
	a := newTestAPI(t, true)
	a.loadScenario(t, "payout-cycle")

	// WHEN: running the default payout
	rec := a.do(t, http.MethodPost, "/api/commissions/payout", PayoutRequest{})

	// THEN: the three approved rows are paid and this month's row is not
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[commission.PayoutResult](t, rec)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, 2, res.Chunks)

	pending := decode[[]commission.Transaction](t, a.do(t, http.MethodGet, "/api/commissions?status=pending", nil))
	require.Len(t, pending, 1)
	assert.Equal(t, "ord-2004", pending[0].OrderID)
}

func TestScenario_ResetClearsEverything(t *testing.T) {
	a := newTestAPI(t, true)
	a.loadScenario(t, "protected-territories")

	rec := a.do(t, http.MethodPost, "/api/scenarios/reset", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]TerritoryDTO](t, a.do(t, http.MethodGet, "/api/territories", nil)))
	assert.Equal(t, "null\n", a.do(t, http.MethodGet, "/api/scenarios/current", nil).Body.String())
}
