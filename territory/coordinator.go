package territory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/warp/territory-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// ASSIGNMENT & TRANSFER COORDINATOR
// =============================================================================

// Coordinator moves territories between reps. Every operation is one store
// transaction: supersession of the old assignment, creation of the new one,
// the territory status change and the account repointing commit together
// or not at all.
//
// State machine:
//
//	available ──assign(full)──► protected ──transfer──► protected
//	available ──assign(partial/none)──► assigned ──assign──► assigned
//	protected ──reevaluate (conditions lapsed)──► assigned
//	assigned|protected ──release──► available
type Coordinator struct {
	store    Store
	accounts AccountDirectory
	opts     generic.Options
}

// NewCoordinator creates a coordinator. accounts may be nil when no account
// store is wired, in which case repointing is skipped.
func NewCoordinator(store Store, accounts AccountDirectory, opts generic.Options) *Coordinator {
	return &Coordinator{store: store, accounts: accounts, opts: opts.WithDefaults()}
}

// AssignmentResult is what a successful assign or transfer produced.
type AssignmentResult struct {
	Territory         Territory
	Assignment        Assignment
	Superseded        *Assignment
	AccountsRepointed int
}

// Assign gives a territory to a rep. A protected territory that is held
// fails with *generic.AlreadyProtectedError; an assigned one has its current
// assignment superseded, under the same approval guard as Transfer.
func (c *Coordinator) Assign(ctx context.Context, req AssignRequest) (*AssignmentResult, error) {
	req.ApprovedBy = strings.TrimSpace(req.ApprovedBy)
	if req.ProtectionLevel == "" {
		req.ProtectionLevel = LevelFull
	}
	if err := validateAssign(req); err != nil {
		return nil, err
	}

	var res AssignmentResult
	err := generic.RetryTx(ctx, c.opts.Retry, c.store, "territory.assign", c.opts.Logger, func(ctx context.Context) error {
		res = AssignmentResult{}
		now := c.opts.Clock.Now()

		t, err := getTerritory(ctx, c.store, req.TerritoryID)
		if err != nil {
			return err
		}
		if t.Status == StatusInactive || t.Status == StatusHouse {
			return &generic.InvalidStateTransitionError{Kind: "territory", ID: t.ID, From: string(t.Status), To: string(StatusAssigned)}
		}

		active, err := c.store.ActiveAssignment(ctx, t.ID)
		if err != nil {
			return err
		}
		if active != nil && t.Status == StatusProtected {
			return &generic.AlreadyProtectedError{TerritoryID: t.ID, CurrentRepID: active.RepID}
		}

		var history []TransferEntry
		if active != nil {
			if err := c.checkApproval(ctx, *t, req.RepID, req.ApprovedBy); err != nil {
				return err
			}
			history = appendHistory(active.TransferHistory, active.RepID, req.RepID, "reassigned", req.ApprovedBy, now)
			if err := c.supersede(ctx, active, AssignmentTransferred, now); err != nil {
				return err
			}
			res.Superseded = active
		}

		a, err := startAssignment(ctx, c.store, t, req, history, now, c.opts.IDs)
		if err != nil {
			return err
		}
		n, err := c.repoint(ctx, t.ID, req.RepID)
		if err != nil {
			return err
		}

		res.Territory = *t
		res.Assignment = *a
		res.AccountsRepointed = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.opts.Logger.Info("territory assigned",
		zap.String("territory_id", req.TerritoryID),
		zap.String("rep_id", req.RepID),
		zap.String("protection_level", string(req.ProtectionLevel)),
		zap.String("status", string(res.Territory.Status)),
		zap.Int("accounts_repointed", res.AccountsRepointed))
	return &res, nil
}

// Transfer moves a held territory from one rep to another.
//
// Guards, in order:
//   - toRepID == fromRepID: *generic.ValidationError with code "same_rep"
//   - fromRepID is not the current holder: *generic.NotAssignedToRepError
//   - lifetime protection (or an inheritance policy demanding approval)
//     without approvedBy: *generic.ApprovalRequiredError
func (c *Coordinator) Transfer(ctx context.Context, req TransferRequest) (*AssignmentResult, error) {
	req.ApprovedBy = strings.TrimSpace(req.ApprovedBy)
	if err := generic.ValidateStruct(req); err != nil {
		return nil, err
	}
	if req.ToRepID == req.FromRepID {
		return nil, &generic.ValidationError{
			Code:   "same_rep",
			Fields: []generic.FieldError{{Field: "to_rep_id", Message: "must differ from from_rep_id"}},
		}
	}

	var res AssignmentResult
	err := generic.RetryTx(ctx, c.opts.Retry, c.store, "territory.transfer", c.opts.Logger, func(ctx context.Context) error {
		res = AssignmentResult{}
		now := c.opts.Clock.Now()

		t, active, err := c.heldBy(ctx, req.TerritoryID, req.FromRepID)
		if err != nil {
			return err
		}
		if err := c.checkApproval(ctx, *t, req.ToRepID, req.ApprovedBy); err != nil {
			return err
		}

		history := appendHistory(active.TransferHistory, req.FromRepID, req.ToRepID, req.Reason, req.ApprovedBy, now)
		if err := c.supersede(ctx, active, AssignmentTransferred, now); err != nil {
			return err
		}

		assignedBy := req.ApprovedBy
		if assignedBy == "" {
			assignedBy = req.FromRepID
		}
		a, err := startAssignment(ctx, c.store, t, AssignRequest{
			TerritoryID:     t.ID,
			RepID:           req.ToRepID,
			AssignedBy:      assignedBy,
			ProtectionLevel: active.ProtectionLevel,
			Notes:           req.Reason,
		}, history, now, c.opts.IDs)
		if err != nil {
			return err
		}
		n, err := c.repoint(ctx, t.ID, req.ToRepID)
		if err != nil {
			return err
		}

		res.Territory = *t
		res.Assignment = *a
		res.Superseded = active
		res.AccountsRepointed = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.opts.Logger.Info("territory transferred",
		zap.String("territory_id", req.TerritoryID),
		zap.String("from_rep_id", req.FromRepID),
		zap.String("to_rep_id", req.ToRepID),
		zap.String("approved_by", req.ApprovedBy),
		zap.Int("accounts_repointed", res.AccountsRepointed))
	return &res, nil
}

// Release ends the current holding and returns the territory to available.
// The same approval guard as Transfer applies.
func (c *Coordinator) Release(ctx context.Context, req ReleaseRequest) (*Territory, error) {
	req.ApprovedBy = strings.TrimSpace(req.ApprovedBy)
	if err := generic.ValidateStruct(req); err != nil {
		return nil, err
	}

	var out Territory
	err := generic.RetryTx(ctx, c.opts.Retry, c.store, "territory.release", c.opts.Logger, func(ctx context.Context) error {
		now := c.opts.Clock.Now()

		t, active, err := c.heldBy(ctx, req.TerritoryID, req.RepID)
		if err != nil {
			return err
		}
		if err := c.checkApproval(ctx, *t, "", req.ApprovedBy); err != nil {
			return err
		}
		if err := c.supersede(ctx, active, AssignmentExpired, now); err != nil {
			return err
		}

		t.Status = StatusAvailable
		t.CurrentRepID = ""
		t.ProtectionEnd = &now
		t.UpdatedAt = now
		if err := c.store.UpdateTerritory(ctx, *t); err != nil {
			return err
		}
		out = *t
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.opts.Logger.Info("territory released",
		zap.String("territory_id", req.TerritoryID),
		zap.String("rep_id", req.RepID),
		zap.String("reason", req.Reason))
	return &out, nil
}

// ReevaluationResult describes one protection re-evaluation.
type ReevaluationResult struct {
	TerritoryID string   `json:"territory_id"`
	RuleType    RuleType `json:"rule_type,omitempty"`
	Evaluated   bool     `json:"evaluated"`
	Qualifies   bool     `json:"qualifies"`
	Downgraded  bool     `json:"downgraded"`
	Status      Status   `json:"status"`
}

// ReevaluateProtection re-checks a protected territory's performance or
// time_based rule. A territory that no longer qualifies drops to assigned
// and its protection end is stamped. Running it again changes nothing.
func (c *Coordinator) ReevaluateProtection(ctx context.Context, territoryID string) (*ReevaluationResult, error) {
	var res ReevaluationResult
	err := generic.RetryTx(ctx, c.opts.Retry, c.store, "territory.reevaluate", c.opts.Logger, func(ctx context.Context) error {
		now := c.opts.Clock.Now()
		t, err := getTerritory(ctx, c.store, territoryID)
		if err != nil {
			return err
		}
		res = ReevaluationResult{TerritoryID: t.ID, Status: t.Status}
		if t.Status != StatusProtected {
			return nil
		}

		rule, err := c.store.GetProtectionRule(ctx, t.ID)
		if err != nil {
			return err
		}
		if rule == nil || (rule.Type != RulePerformance && rule.Type != RuleTimeBased) {
			if rule != nil {
				res.RuleType = rule.Type
			}
			return nil
		}

		res.RuleType = rule.Type
		res.Evaluated = true
		res.Qualifies = EvaluateConditions(*rule, ConditionInput{
			Metrics:         t.Metrics,
			ProtectionStart: t.ProtectionStart,
			Now:             now,
		})
		if res.Qualifies {
			return nil
		}

		t.Status = StatusAssigned
		t.ProtectionEnd = &now
		t.UpdatedAt = now
		if err := c.store.UpdateTerritory(ctx, *t); err != nil {
			return err
		}
		active, err := c.store.ActiveAssignment(ctx, t.ID)
		if err != nil {
			return err
		}
		if active != nil && active.ProtectionLevel == LevelFull {
			active.ProtectionLevel = LevelPartial
			if err := c.store.UpdateAssignment(ctx, *active); err != nil {
				return err
			}
		}
		res.Downgraded = true
		res.Status = t.Status
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Downgraded {
		c.opts.Logger.Info("territory protection lapsed",
			zap.String("territory_id", territoryID),
			zap.String("rule_type", string(res.RuleType)))
	}
	return &res, nil
}

// History returns every assignment of a territory, oldest first.
func (c *Coordinator) History(ctx context.Context, territoryID string) ([]Assignment, error) {
	if _, err := getTerritory(ctx, c.store, territoryID); err != nil {
		return nil, err
	}
	return c.store.ListAssignments(ctx, territoryID)
}

// =============================================================================
// CONFLICT REPORTS
// =============================================================================

// ReportConflict records a dispute for manual resolution. It never touches
// assignments.
func (c *Coordinator) ReportConflict(ctx context.Context, req ConflictReportRequest) (*ConflictReport, error) {
	if err := generic.ValidateStruct(req); err != nil {
		return nil, err
	}

	var report ConflictReport
	err := generic.RetryTx(ctx, c.opts.Retry, c.store, "territory.report_conflict", c.opts.Logger, func(ctx context.Context) error {
		if _, err := getTerritory(ctx, c.store, req.TerritoryID); err != nil {
			return err
		}
		report = ConflictReport{
			ID:             c.opts.IDs(),
			TerritoryID:    req.TerritoryID,
			ReportingRepID: req.ReportingRepID,
			Type:           req.Type,
			Details:        req.Details,
			Status:         ConflictPending,
			CreatedAt:      c.opts.Clock.Now(),
		}
		return c.store.InsertConflictReport(ctx, report)
	})
	if err != nil {
		return nil, err
	}

	c.opts.Logger.Info("territory conflict reported",
		zap.String("conflict_id", report.ID),
		zap.String("territory_id", report.TerritoryID),
		zap.String("type", string(report.Type)))
	return &report, nil
}

// ResolveConflict closes a pending dispute as resolved or dismissed.
func (c *Coordinator) ResolveConflict(ctx context.Context, req ResolveConflictRequest) (*ConflictReport, error) {
	if err := generic.ValidateStruct(req); err != nil {
		return nil, err
	}

	var report ConflictReport
	err := generic.RetryTx(ctx, c.opts.Retry, c.store, "territory.resolve_conflict", c.opts.Logger, func(ctx context.Context) error {
		r, err := c.store.GetConflictReport(ctx, req.ConflictID)
		if err != nil {
			return err
		}
		if r == nil {
			return generic.NewNotFound("conflict", req.ConflictID)
		}
		to := ConflictResolved
		if req.Dismiss {
			to = ConflictDismissed
		}
		if r.Status != ConflictPending {
			return &generic.InvalidStateTransitionError{Kind: "conflict", ID: r.ID, From: string(r.Status), To: string(to)}
		}
		now := c.opts.Clock.Now()
		r.Status = to
		r.Resolution = req.Resolution
		r.ResolvedBy = req.ResolvedBy
		r.ResolvedAt = &now
		if err := c.store.UpdateConflictReport(ctx, *r); err != nil {
			return err
		}
		report = *r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// ListConflicts returns disputes, optionally narrowed to one territory or status.
func (c *Coordinator) ListConflicts(ctx context.Context, territoryID string, status ConflictStatus) ([]ConflictReport, error) {
	return c.store.ListConflictReports(ctx, territoryID, status)
}

// =============================================================================
// HELPERS
// =============================================================================

// heldBy loads a territory and its active assignment, failing unless repID
// is the current holder.
func (c *Coordinator) heldBy(ctx context.Context, territoryID, repID string) (*Territory, *Assignment, error) {
	t, err := getTerritory(ctx, c.store, territoryID)
	if err != nil {
		return nil, nil, err
	}
	active, err := c.store.ActiveAssignment(ctx, t.ID)
	if err != nil {
		return nil, nil, err
	}
	if active == nil {
		return nil, nil, &generic.NotAssignedToRepError{TerritoryID: t.ID, ExpectedRep: repID}
	}
	if active.RepID != repID {
		return nil, nil, &generic.NotAssignedToRepError{TerritoryID: t.ID, ExpectedRep: repID, CurrentRepID: active.RepID}
	}
	return t, active, nil
}

func (c *Coordinator) checkApproval(ctx context.Context, t Territory, toRepID, approvedBy string) error {
	rule, err := c.store.GetProtectionRule(ctx, t.ID)
	if err != nil {
		return err
	}
	if reason := approvalReason(t, rule, toRepID); reason != "" && approvedBy == "" {
		return &generic.ApprovalRequiredError{TerritoryID: t.ID, Reason: reason}
	}
	return nil
}

func (c *Coordinator) supersede(ctx context.Context, a *Assignment, status AssignmentStatus, now time.Time) error {
	a.Status = status
	a.EndedAt = &now
	return c.store.UpdateAssignment(ctx, *a)
}

// repoint moves the territory's accounts to repID, retrying transient
// failures. Any failure that survives the retries rolls the caller's
// transaction back and surfaces as *generic.UnavailableError.
func (c *Coordinator) repoint(ctx context.Context, territoryID, repID string) (int, error) {
	if c.accounts == nil {
		return 0, nil
	}
	var moved int
	err := generic.Retry(ctx, c.opts.Retry, "accounts.repoint", c.opts.Logger, func() error {
		n, err := c.accounts.RepointAccounts(ctx, territoryID, repID)
		moved = n
		return err
	})
	if err == nil {
		return moved, nil
	}

	c.opts.Logger.Error("account repoint failed, rolling back",
		zap.String("territory_id", territoryID),
		zap.String("rep_id", repID),
		zap.Error(err))
	var unavailable *generic.UnavailableError
	if errors.As(err, &unavailable) {
		return 0, err
	}
	return 0, &generic.UnavailableError{Op: "accounts.repoint", Attempts: 1, Err: err}
}

// startAssignment creates the active assignment for req and moves t into
// the matching status. It must run inside a transaction, after any previous
// active assignment has been superseded. Full protection gets a default
// rule when the territory has none.
func startAssignment(ctx context.Context, store Store, t *Territory, req AssignRequest, history []TransferEntry, now time.Time, ids generic.IDGenerator) (*Assignment, error) {
	level := req.ProtectionLevel
	if level == "" {
		level = LevelFull
	}
	a := Assignment{
		ID:                 ids(),
		TerritoryID:        t.ID,
		RepID:              req.RepID,
		AssignedAt:         now,
		AssignedBy:         req.AssignedBy,
		Status:             AssignmentActive,
		ProtectionLevel:    level,
		CommissionOverride: req.CommissionOverride,
		Notes:              req.Notes,
		TransferHistory:    history,
	}
	if err := store.InsertAssignment(ctx, a); err != nil {
		return nil, err
	}

	t.Status = StatusAssigned
	if level == LevelFull {
		t.Status = StatusProtected
	}
	t.CurrentRepID = req.RepID
	t.ProtectionStart = &now
	t.ProtectionEnd = nil
	t.UpdatedAt = now
	if err := store.UpdateTerritory(ctx, *t); err != nil {
		return nil, err
	}

	if level == LevelFull {
		rule, err := store.GetProtectionRule(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		if rule == nil {
			if err := store.UpsertProtectionRule(ctx, defaultRule(*t, ids(), now)); err != nil {
				return nil, err
			}
		}
	}
	return &a, nil
}

// appendHistory copies prior and adds one entry, leaving prior untouched.
func appendHistory(prior []TransferEntry, from, to, reason, approvedBy string, at time.Time) []TransferEntry {
	out := make([]TransferEntry, 0, len(prior)+1)
	out = append(out, prior...)
	return append(out, TransferEntry{
		FromRepID:  from,
		ToRepID:    to,
		At:         at,
		Reason:     reason,
		ApprovedBy: approvedBy,
	})
}

func validateAssign(req AssignRequest) error {
	err := generic.ValidateStruct(req)
	if req.CommissionOverride != nil {
		err = generic.CheckDecimals(err, generic.DecimalCheck{Field: "commission_override", Value: *req.CommissionOverride, Max: &hundred})
	}
	return err
}
