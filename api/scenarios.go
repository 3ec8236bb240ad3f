/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario creates reps, territories, protection
	rules, commission rules and ledger rows through the same services the
	API uses, so everything a scenario writes passed the domain checks.

AVAILABLE SCENARIOS:

	protected-territories: first-to-sign, performance and open territories
	commission-rules:      tier, category and large-order rules with orders
	territory-transfer:    approved transfer with a pending dispute
	payout-cycle:          last month approved and ready to pay out

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Seed the shared rep roster
 3. Create territories and assign them through the Coordinator
 4. Create rules via the rule factory presets
 5. Calculate and record orders through the Engine and Ledger

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "commission-rules"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. The routes are only mounted when
	app.scenarios is enabled, which config rejects in production.

SEE ALSO:
  - server.go: Route registration
  - factory/rule.go: Rule JSON presets
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/territory-engine/commission"
	"github.com/warp/territory-engine/factory"
	"github.com/warp/territory-engine/generic"
	"github.com/warp/territory-engine/store/sqlite"
	"github.com/warp/territory-engine/territory"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "protected-territories",
		Name:        "Protected Territories",
		Description: "First-to-sign and performance-based territories next to an open one",
		Category:    "territory",
	},
	{
		ID:          "commission-rules",
		Name:        "Commission Rules",
		Description: "Volume tier, category and large-order rules applied to this month's orders",
		Category:    "commission",
	},
	{
		ID:          "territory-transfer",
		Name:        "Territory Transfer",
		Description: "Approved transfer of a time-limited territory with a pending dispute",
		Category:    "territory",
	},
	{
		ID:          "payout-cycle",
		Name:        "Payout Cycle",
		Description: "Last month's commissions approved and ready for payout",
		Category:    "commission",
	},
}

const scenarioActor = "scenario-loader"

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "protected-territories":
		load = h.loadProtectedTerritoriesScenario
	case "commission-rules":
		load = h.loadCommissionRulesScenario
	case "territory-transfer":
		load = h.loadTerritoryTransferScenario
	case "payout-cycle":
		load = h.loadPayoutCycleScenario
	default:
		h.writeDomainError(w, r, generic.NewValidationError("scenario_id", fmt.Sprintf("unknown scenario %q", req.ScenarioID)))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	h.currentScenario = ""
	if err := h.Store.Reset(ctx); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := load(ctx); err != nil {
		h.writeDomainError(w, r, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}
	h.currentScenario = req.ScenarioID

	h.Logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.currentScenario = ""

	h.Logger.Info("database reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadProtectedTerritoriesScenario(ctx context.Context) error {
	if err := h.seedReps(ctx); err != nil {
		return err
	}

	denver, err := h.Registry.Create(ctx, territory.Spec{
		Name:           "Denver Downtown",
		Description:    "Central business district",
		PostalCodes:    []string{"80202", "80203", "80204"},
		StateCode:      "CO",
		ProtectionType: territory.ProtectionFirstToSign,
		RepID:          "rep-alice",
		AssignedBy:     scenarioActor,
	})
	if err != nil {
		return err
	}

	boulder, err := h.Registry.Create(ctx, territory.Spec{
		Name:           "Boulder",
		PostalCodes:    []string{"80301", "80302"},
		StateCode:      "CO",
		ProtectionType: territory.ProtectionPerformanceBased,
	})
	if err != nil {
		return err
	}
	// Rule first, so the assignment keeps it instead of generating a default.
	if _, err := h.Protection.SetRules(ctx, boulder.ID, territory.ProtectionRule{
		Type: territory.RulePerformance,
		Conditions: territory.Conditions{
			MinAccounts: 2,
			MinRevenue:  decimal.NewFromInt(5000),
			PeriodDays:  90,
		},
		Inheritance: territory.Inheritance{Policy: territory.InheritAllow},
	}); err != nil {
		return err
	}
	if _, err := h.Coordinator.Assign(ctx, territory.AssignRequest{
		TerritoryID: boulder.ID,
		RepID:       "rep-bob",
		AssignedBy:  scenarioActor,
		Notes:       "must keep two active accounts",
	}); err != nil {
		return err
	}

	if _, err := h.Registry.Create(ctx, territory.Spec{
		Name:        "Aurora",
		PostalCodes: []string{"80010", "80011"},
		StateCode:   "CO",
	}); err != nil {
		return err
	}

	now := h.Clock.Now()
	accounts := []sqlite.Account{
		{ID: "acct-union-station", Name: "Union Station Cafe", TerritoryID: denver.ID, RepID: "rep-alice", OpenedAt: now.AddDate(-2, 0, 0), Active: true},
		{ID: "acct-larimer", Name: "Larimer Outfitters", TerritoryID: denver.ID, RepID: "rep-alice", OpenedAt: now.AddDate(0, -1, 0), Active: true},
		{ID: "acct-pearl", Name: "Pearl Street Books", TerritoryID: boulder.ID, RepID: "rep-bob", OpenedAt: now.AddDate(-1, 0, 0), Active: true},
	}
	return h.saveAccounts(ctx, accounts)
}

func (h *Handler) loadCommissionRulesScenario(ctx context.Context) error {
	if err := h.seedReps(ctx); err != nil {
		return err
	}
	if err := h.seedRules(ctx); err != nil {
		return err
	}

	t, err := h.Registry.Create(ctx, territory.Spec{
		Name:           "Seattle Metro",
		PostalCodes:    []string{"98101", "98102", "98104"},
		StateCode:      "WA",
		ProtectionType: territory.ProtectionTimeLimited,
		RepID:          "rep-carol",
		AssignedBy:     scenarioActor,
	})
	if err != nil {
		return err
	}

	now := h.Clock.Now()
	if err := h.saveAccounts(ctx, []sqlite.Account{
		{ID: "acct-pike", Name: "Pike Market Grocers", TerritoryID: t.ID, RepID: "rep-carol", OpenedAt: now.AddDate(-3, 0, 0), Active: true},
		{ID: "acct-belltown", Name: "Belltown Fitness", TerritoryID: t.ID, RepID: "rep-carol", OpenedAt: now.AddDate(0, 0, -10), Active: true},
	}); err != nil {
		return err
	}

	orders := []commission.Order{
		{
			OrderID: "ord-1001", RepID: "rep-carol", BusinessAccountID: "acct-pike", TerritoryID: t.ID,
			Amount: decimal.NewFromInt(18000),
			Lines: []commission.ProductLine{
				{ProductID: "sku-freezer", Category: "equipment", Amount: decimal.NewFromInt(12000)},
				{ProductID: "sku-service", Category: "service", Amount: decimal.NewFromInt(6000)},
			},
		},
		{
			OrderID: "ord-1002", RepID: "rep-carol", BusinessAccountID: "acct-belltown", TerritoryID: t.ID,
			Amount: decimal.NewFromInt(9500),
			Lines: []commission.ProductLine{
				{ProductID: "sku-treadmill", Category: "equipment", Amount: decimal.NewFromInt(9500)},
			},
		},
		{
			OrderID: "ord-1003", RepID: "rep-carol", BusinessAccountID: "acct-pike", TerritoryID: t.ID,
			Amount: decimal.NewFromInt(4200),
		},
	}
	_, err = h.recordOrders(ctx, orders)
	return err
}

func (h *Handler) loadTerritoryTransferScenario(ctx context.Context) error {
	if err := h.seedReps(ctx); err != nil {
		return err
	}

	t, err := h.Registry.Create(ctx, territory.Spec{
		Name:           "Austin North",
		PostalCodes:    []string{"78727", "78728", "78729"},
		StateCode:      "TX",
		ProtectionType: territory.ProtectionTimeLimited,
	})
	if err != nil {
		return err
	}
	if _, err := h.Protection.SetRules(ctx, t.ID, territory.ProtectionRule{
		Type:        territory.RuleTimeBased,
		Conditions:  territory.Conditions{PeriodDays: 180},
		Inheritance: territory.Inheritance{Policy: territory.InheritRequireApproval},
		Split: territory.SplitCommission{
			Enabled:        true,
			OriginalRepPct: decimal.NewFromInt(25),
			DurationDays:   60,
		},
	}); err != nil {
		return err
	}
	if _, err := h.Coordinator.Assign(ctx, territory.AssignRequest{
		TerritoryID: t.ID,
		RepID:       "rep-alice",
		AssignedBy:  scenarioActor,
	}); err != nil {
		return err
	}
	if err := h.saveAccounts(ctx, []sqlite.Account{
		{ID: "acct-domain", Name: "Domain Coffee", TerritoryID: t.ID, RepID: "rep-alice", OpenedAt: h.Clock.Now().AddDate(0, -6, 0), Active: true},
	}); err != nil {
		return err
	}

	if _, err := h.Coordinator.Transfer(ctx, territory.TransferRequest{
		TerritoryID: t.ID,
		FromRepID:   "rep-alice",
		ToRepID:     "rep-carol",
		Reason:      "alice moved to the enterprise team",
		ApprovedBy:  "manager-dana",
	}); err != nil {
		return err
	}

	_, err = h.Coordinator.ReportConflict(ctx, territory.ConflictReportRequest{
		TerritoryID:    t.ID,
		ReportingRepID: "rep-bob",
		Type:           territory.ConflictAccountDispute,
		Details:        "Domain Coffee was sourced at a trade show I staffed",
	})
	return err
}

func (h *Handler) loadPayoutCycleScenario(ctx context.Context) error {
	if err := h.seedReps(ctx); err != nil {
		return err
	}

	t, err := h.Registry.Create(ctx, territory.Spec{
		Name:        "Portland East",
		PostalCodes: []string{"97214", "97215"},
		StateCode:   "OR",
		RepID:       "rep-bob",
		AssignedBy:  scenarioActor,
	})
	if err != nil {
		return err
	}
	if err := h.saveAccounts(ctx, []sqlite.Account{
		{ID: "acct-hawthorne", Name: "Hawthorne Hardware", TerritoryID: t.ID, RepID: "rep-bob", OpenedAt: h.Clock.Now().AddDate(-1, 0, 0), Active: true},
	}); err != nil {
		return err
	}

	lastMonth := generic.PeriodOf(h.Clock.Now()).Previous().Start()
	at := func(day int) *time.Time {
		d := lastMonth.AddDate(0, 0, day-1).Add(10 * time.Hour)
		return &d
	}
	order := func(id string, amount int64, saleDate *time.Time) commission.Order {
		return commission.Order{
			OrderID: id, RepID: "rep-bob", BusinessAccountID: "acct-hawthorne", TerritoryID: t.ID,
			Amount: decimal.NewFromInt(amount), SaleDate: saleDate,
		}
	}

	approved, err := h.recordOrders(ctx, []commission.Order{
		order("ord-2001", 3200, at(3)),
		order("ord-2002", 7400, at(12)),
		order("ord-2003", 1500, at(25)),
	})
	if err != nil {
		return err
	}
	if _, err := h.Ledger.Approve(ctx, approved, "manager-dana"); err != nil {
		return err
	}

	// Stays pending: this month is not part of the payout.
	_, err = h.recordOrders(ctx, []commission.Order{order("ord-2004", 2100, nil)})
	return err
}

// =============================================================================
// SHARED FIXTURES
// =============================================================================

func (h *Handler) seedReps(ctx context.Context) error {
	reps := []commission.Rep{
		{ID: "rep-alice", Name: "Alice Moreno", Email: "alice@example.com", CommissionRate: decimal.NewFromInt(5), Tier: "senior", MonthlyQuota: decimal.NewFromInt(50000)},
		{ID: "rep-bob", Name: "Bob Okafor", Email: "bob@example.com", CommissionRate: decimal.NewFromInt(4), Tier: "standard", MonthlyQuota: decimal.NewFromInt(30000)},
		{ID: "rep-carol", Name: "Carol Lindqvist", Email: "carol@example.com", CommissionRate: decimal.RequireFromString("5.5"), Tier: "senior", MonthlyQuota: decimal.NewFromInt(40000)},
	}
	for _, rep := range reps {
		if err := h.Store.SaveRep(ctx, rep); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) seedRules(ctx context.Context) error {
	presets := []string{
		factory.VolumeTierRuleJSON("Volume over 25k", 25000, 2, 10),
		factory.CategoryRuleJSON("Equipment accelerator", "equipment", 3, 5),
		factory.FlatBonusRuleJSON("Large order bonus", 15000, 250, 1),
	}
	for _, p := range presets {
		rule, err := h.RuleFactory.ParseRule([]byte(p))
		if err != nil {
			return err
		}
		if _, err := h.Rules.Create(ctx, rule); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) saveAccounts(ctx context.Context, accounts []sqlite.Account) error {
	for _, a := range accounts {
		if err := h.Store.SaveAccount(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// recordOrders calculates and records each order in turn, so later orders
// see the volume of earlier ones. It returns every written row id.
func (h *Handler) recordOrders(ctx context.Context, orders []commission.Order) ([]string, error) {
	var ids []string
	for _, o := range orders {
		calc, err := h.Engine.Calculate(ctx, o)
		if err != nil {
			return nil, err
		}
		written, err := h.Ledger.RecordCalculation(ctx, *calc)
		if err != nil {
			return nil, err
		}
		ids = append(ids, written...)
	}
	return ids, nil
}
