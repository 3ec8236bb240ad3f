package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/warp/territory-engine/commission"
	"github.com/warp/territory-engine/factory"
	"github.com/warp/territory-engine/generic"
)

// =============================================================================
// COMMISSION ENDPOINTS
// =============================================================================

// CalculateCommission handles POST /api/commissions/calculate. Nothing is
// written; the breakdown is returned as computed.
func (h *Handler) CalculateCommission(w http.ResponseWriter, r *http.Request) {
	var order commission.Order
	if err := decodeJSON(r, &order); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	calc, err := h.Engine.Calculate(r.Context(), order)
	h.Metrics.ObserveOperation("commission.calculate", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, calc)
}

// RecordCommission handles POST /api/commissions/record.
//
// An "order" is calculated and written as sale, bonus and adjustment rows in
// one transaction. A "transaction" is written as a single manual row.
// Exactly one of the two must be present.
func (h *Handler) RecordCommission(w http.ResponseWriter, r *http.Request) {
	var req RecordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if (req.Order == nil) == (req.Transaction == nil) {
		h.writeDomainError(w, r, generic.NewValidationError("body", "exactly one of order or transaction is required"))
		return
	}

	if req.Transaction != nil {
		id, err := h.Ledger.Record(r.Context(), *req.Transaction)
		h.Metrics.ObserveOperation("commission.record", err)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		h.Metrics.CommissionRecorded(string(req.Transaction.Type), req.Transaction.Amount)
		writeJSON(w, http.StatusCreated, RecordResponse{TransactionIDs: []string{id}})
		return
	}

	calc, err := h.Engine.Calculate(r.Context(), *req.Order)
	if err != nil {
		h.Metrics.ObserveOperation("commission.record", err)
		h.writeDomainError(w, r, err)
		return
	}
	ids, err := h.Ledger.RecordCalculation(r.Context(), *calc)
	h.Metrics.ObserveOperation("commission.record", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.Metrics.CommissionRecorded(string(commission.TxSale), calc.BaseAmount)
	for _, b := range calc.Bonuses {
		h.Metrics.CommissionRecorded(string(commission.TxBonus), b.Amount)
	}
	for _, d := range calc.Deductions {
		h.Metrics.CommissionRecorded(string(commission.TxAdjustment), d.Amount)
	}
	writeJSON(w, http.StatusCreated, RecordResponse{TransactionIDs: ids, Calculation: calc})
}

// ApproveCommissions handles POST /api/commissions/approve. Ids that cannot
// be approved are listed in "failed"; the rest are approved together.
func (h *Handler) ApproveCommissions(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	res, err := h.Ledger.Approve(r.Context(), req.TransactionIDs, req.ApprovedBy)
	h.Metrics.ObserveOperation("commission.approve", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	out := ApproveResponse{
		Approved: res.Approved,
		Failed:   make([]ApprovalFailureDTO, 0, len(res.Failed)),
	}
	if out.Approved == nil {
		out.Approved = []string{}
	}
	for _, f := range res.Failed {
		out.Failed = append(out.Failed, ApprovalFailureDTO{
			ID:    f.ID,
			Error: f.Err.Error(),
			Code:  classifyError(f.Err).code,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Payout handles POST /api/commissions/payout.
func (h *Handler) Payout(w http.ResponseWriter, r *http.Request) {
	var req PayoutRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	var period generic.Period
	if req.Period != "" {
		p, err := generic.ParsePeriod(req.Period)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		period = p
	}

	res, err := h.Payouts.Run(r.Context(), period, req.PaymentReference)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelCommission handles POST /api/commissions/{id}/cancel. A paid row is
// answered with the clawback row appended for it.
func (h *Handler) CancelCommission(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	tx, err := h.Ledger.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason, req.CancelledBy)
	h.Metrics.ObserveOperation("commission.cancel", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if tx.Type == commission.TxClawback {
		h.Metrics.CommissionRecorded(string(tx.Type), tx.Amount)
	}
	writeJSON(w, http.StatusOK, tx)
}

// GetCommission handles GET /api/commissions/{id}.
func (h *Handler) GetCommission(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// ListCommissions handles
// GET /api/commissions?rep_id=&status=&period=&type=sale,bonus&order_id=&limit=.
func (h *Handler) ListCommissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := commission.TxFilter{
		RepID:   q.Get("rep_id"),
		Status:  commission.TxStatus(q.Get("status")),
		OrderID: q.Get("order_id"),
	}
	if p := q.Get("period"); p != "" {
		period, err := generic.ParsePeriod(p)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		f.Period = period
	}
	if types := q.Get("type"); types != "" {
		for _, t := range strings.Split(types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.Types = append(f.Types, commission.TxType(t))
			}
		}
	}
	limit, err := queryLimit(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	f.Limit = limit

	txs, err := h.Ledger.List(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if txs == nil {
		txs = []commission.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// =============================================================================
// COMMISSION RULE ENDPOINTS
// =============================================================================

// ListRules handles GET /api/commission-rules?include_inactive=true.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	includeInactive := false
	if s := r.URL.Query().Get("include_inactive"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			h.writeDomainError(w, r, generic.NewValidationError("include_inactive", "must be a boolean"))
			return
		}
		includeInactive = b
	}

	rules, err := h.Rules.List(r.Context(), includeInactive)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]factory.RuleJSON, 0, len(rules))
	for _, rule := range rules {
		out = append(out, h.RuleFactory.ToJSON(rule))
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateRule handles POST /api/commission-rules. The body is a rule
// definition as accepted by factory.RuleFactory.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.parseRule(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	created, err := h.Rules.Create(r.Context(), rule)
	h.Metrics.ObserveOperation("rule.create", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.RuleFactory.ToJSON(*created))
}

// GetRule handles GET /api/commission-rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Rules.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.RuleFactory.ToJSON(*rule))
}

// UpdateRule handles PUT /api/commission-rules/{id}, replacing the definition.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.parseRule(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	updated, err := h.Rules.Update(r.Context(), chi.URLParam(r, "id"), rule)
	h.Metrics.ObserveOperation("rule.update", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.RuleFactory.ToJSON(*updated))
}

// SetRuleActive handles PUT /api/commission-rules/{id}/active.
func (h *Handler) SetRuleActive(w http.ResponseWriter, r *http.Request) {
	var req SetActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if req.Active == nil {
		h.writeDomainError(w, r, generic.NewValidationError("is_active", "is required"))
		return
	}

	rule, err := h.Rules.SetActive(r.Context(), chi.URLParam(r, "id"), *req.Active)
	h.Metrics.ObserveOperation("rule.set_active", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.RuleFactory.ToJSON(*rule))
}

func (h *Handler) parseRule(r *http.Request) (commission.Rule, error) {
	data, err := readBody(r)
	if err != nil {
		return commission.Rule{}, err
	}
	return h.RuleFactory.ParseRule(data)
}

// =============================================================================
// JOB ENDPOINTS
// =============================================================================

// ReevaluateProtection handles POST /api/jobs/reevaluate-protection, the
// hook an external scheduler calls. Per-territory failures are listed in
// the report; only a run that could not complete is an error.
func (h *Handler) ReevaluateProtection(w http.ResponseWriter, r *http.Request) {
	report, err := h.Reevaluator.Run(r.Context())
	h.Metrics.ObserveOperation("jobs.reevaluate_protection", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
