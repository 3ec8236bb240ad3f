package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/territory-engine/commission"
	"github.com/warp/territory-engine/generic"
	"github.com/warp/territory-engine/store/sqlite"
	"github.com/warp/territory-engine/territory"
)

// =============================================================================
// TERRITORY ENDPOINTS
// =============================================================================

// CreateTerritory handles POST /api/territories.
func (h *Handler) CreateTerritory(w http.ResponseWriter, r *http.Request) {
	var spec territory.Spec
	if err := decodeJSON(r, &spec); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	t, err := h.Registry.Create(r.Context(), spec)
	h.Metrics.ObserveOperation("territory.create", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTerritoryDTO(*t))
}

// ListTerritories handles GET /api/territories?status=&state=&rep_id=.
func (h *Handler) ListTerritories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ts, err := h.Registry.List(r.Context(), territory.Filter{
		Status:    territory.Status(q.Get("status")),
		StateCode: q.Get("state"),
		RepID:     q.Get("rep_id"),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTerritoryDTOs(ts))
}

// GetTerritory handles GET /api/territories/{id}.
func (h *Handler) GetTerritory(w http.ResponseWriter, r *http.Request) {
	t, err := h.Registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTerritoryDTO(*t))
}

// UpdateTerritory handles PATCH /api/territories/{id}.
func (h *Handler) UpdateTerritory(w http.ResponseWriter, r *http.Request) {
	var patch territory.Patch
	if err := decodeJSON(r, &patch); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	t, err := h.Registry.Update(r.Context(), chi.URLParam(r, "id"), patch)
	h.Metrics.ObserveOperation("territory.update", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTerritoryDTO(*t))
}

// DeactivateTerritory handles POST /api/territories/{id}/deactivate.
func (h *Handler) DeactivateTerritory(w http.ResponseWriter, r *http.Request) {
	var req DeactivateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	t, err := h.Registry.Deactivate(r.Context(), chi.URLParam(r, "id"), req.DeactivatedBy)
	h.Metrics.ObserveOperation("territory.deactivate", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTerritoryDTO(*t))
}

// FindByPostalCode handles GET /api/territories/by-postal-code/{code}.
func (h *Handler) FindByPostalCode(w http.ResponseWriter, r *http.Request) {
	t, err := h.Registry.FindByPostalCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTerritoryDTO(*t))
}

// CheckConflicts handles POST /api/territories/conflicts/check.
func (h *Handler) CheckConflicts(w http.ResponseWriter, r *http.Request) {
	var req CheckConflictsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	conflicts, err := h.Registry.CheckConflicts(r.Context(), req.PostalCodes, req.ExcludeID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if conflicts == nil {
		conflicts = []generic.CodeConflict{}
	}
	writeJSON(w, http.StatusOK, CheckConflictsResponse{HasConflicts: len(conflicts) > 0, Conflicts: conflicts})
}

// =============================================================================
// PROTECTION RULE ENDPOINTS
// =============================================================================

// GetProtection handles GET /api/territories/{id}/protection.
func (h *Handler) GetProtection(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Protection.GetRules(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// SetProtection handles PUT /api/territories/{id}/protection.
func (h *Handler) SetProtection(w http.ResponseWriter, r *http.Request) {
	var rule territory.ProtectionRule
	if err := decodeJSON(r, &rule); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	saved, err := h.Protection.SetRules(r.Context(), chi.URLParam(r, "id"), rule)
	h.Metrics.ObserveOperation("protection.set_rules", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// =============================================================================
// ASSIGNMENT ENDPOINTS
// =============================================================================

// Assign handles POST /api/territories/{id}/assign.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req territory.AssignRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	req.TerritoryID = chi.URLParam(r, "id")

	res, err := h.Coordinator.Assign(r.Context(), req)
	h.Metrics.ObserveOperation("territory.assign", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentResultDTO(*res))
}

// Transfer handles POST /api/territories/{id}/transfer.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req territory.TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	req.TerritoryID = chi.URLParam(r, "id")

	res, err := h.Coordinator.Transfer(r.Context(), req)
	h.Metrics.ObserveOperation("territory.transfer", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentResultDTO(*res))
}

// Release handles POST /api/territories/{id}/release.
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	var req territory.ReleaseRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	req.TerritoryID = chi.URLParam(r, "id")

	t, err := h.Coordinator.Release(r.Context(), req)
	h.Metrics.ObserveOperation("territory.release", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTerritoryDTO(*t))
}

// ListAssignments handles GET /api/territories/{id}/assignments.
func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	as, err := h.Coordinator.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]AssignmentDTO, 0, len(as))
	for _, a := range as {
		out = append(out, toAssignmentDTO(a))
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// CONFLICT REPORT ENDPOINTS
// =============================================================================

// ReportConflict handles POST /api/territories/{id}/conflicts.
func (h *Handler) ReportConflict(w http.ResponseWriter, r *http.Request) {
	var req territory.ConflictReportRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	req.TerritoryID = chi.URLParam(r, "id")

	c, err := h.Coordinator.ReportConflict(r.Context(), req)
	h.Metrics.ObserveOperation("territory.report_conflict", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConflictDTO(*c))
}

// ListTerritoryConflicts handles GET /api/territories/{id}/conflicts?status=.
func (h *Handler) ListTerritoryConflicts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Registry.Get(r.Context(), id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.listConflicts(w, r, id)
}

// ListConflicts handles GET /api/conflicts?territory_id=&status=.
func (h *Handler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	h.listConflicts(w, r, r.URL.Query().Get("territory_id"))
}

func (h *Handler) listConflicts(w http.ResponseWriter, r *http.Request, territoryID string) {
	cs, err := h.Coordinator.ListConflicts(r.Context(), territoryID, territory.ConflictStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConflictDTOs(cs))
}

// ResolveConflict handles POST /api/conflicts/{id}/resolve.
func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	var req territory.ResolveConflictRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	req.ConflictID = chi.URLParam(r, "id")

	c, err := h.Coordinator.ResolveConflict(r.Context(), req)
	h.Metrics.ObserveOperation("territory.resolve_conflict", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConflictDTO(*c))
}

// =============================================================================
// REP AND ACCOUNT ENDPOINTS
// =============================================================================

// ListReps handles GET /api/reps.
func (h *Handler) ListReps(w http.ResponseWriter, r *http.Request) {
	reps, err := h.Store.ListReps(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reps)
}

// SaveRep handles PUT /api/reps/{id}.
func (h *Handler) SaveRep(w http.ResponseWriter, r *http.Request) {
	var rep commission.Rep
	if err := decodeJSON(r, &rep); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	rep.ID = chi.URLParam(r, "id")

	var verr error
	if rep.Name == "" {
		verr = generic.WithFieldError(verr, "name", "is required")
	}
	hundred := decimal.NewFromInt(100)
	if err := generic.CheckDecimals(verr,
		generic.DecimalCheck{Field: "commission_rate", Value: rep.CommissionRate, Max: &hundred},
		generic.DecimalCheck{Field: "monthly_quota", Value: rep.MonthlyQuota},
	); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	err := h.Store.SaveRep(r.Context(), rep)
	h.Metrics.ObserveOperation("rep.save", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// RepTerritories handles GET /api/reps/{id}/territories.
func (h *Handler) RepTerritories(w http.ResponseWriter, r *http.Request) {
	ts, err := h.Registry.RepTerritories(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTerritoryDTOs(ts))
}

// RepPerformance handles GET /api/reps/{id}/performance?period=YYYY-MM.
func (h *Handler) RepPerformance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	repID := chi.URLParam(r, "id")

	period, err := h.queryPeriod(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	rep, err := h.Store.GetRep(ctx, repID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if rep == nil {
		h.writeDomainError(w, r, generic.NewNotFound("rep", repID))
		return
	}
	summary, err := h.Ledger.Summary(ctx, repID, period)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	held, err := h.Registry.RepTerritories(ctx, repID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, RepPerformanceDTO{
		Summary:       *summary,
		MonthlyQuota:  rep.MonthlyQuota,
		AttainmentPct: generic.RatioPercent(summary.Volume, rep.MonthlyQuota),
		Territories:   len(held),
	})
}

// GetAccount handles GET /api/accounts/{id}.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	acc, err := h.Store.GetAccount(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if acc == nil {
		h.writeDomainError(w, r, generic.NewNotFound("account", id))
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// SaveAccount handles PUT /api/accounts/{id}.
func (h *Handler) SaveAccount(w http.ResponseWriter, r *http.Request) {
	var acc sqlite.Account
	if err := decodeJSON(r, &acc); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	acc.ID = chi.URLParam(r, "id")
	if acc.OpenedAt.IsZero() {
		acc.OpenedAt = h.Clock.Now()
	}

	if err := h.Store.SaveAccount(r.Context(), acc); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}
