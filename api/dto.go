/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types that
  already carry json tags (territory.Spec, territory.ProtectionRule,
  commission.Order, commission.Calculation, commission.Transaction) are
  used as they are; the rest get a DTO here.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rule.go: RuleJSON, the wire form of commission rules
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/territory-engine/commission"
	"github.com/warp/territory-engine/generic"
	"github.com/warp/territory-engine/territory"
)

// =============================================================================
// TERRITORIES
// =============================================================================

// TerritoryDTO is the wire form of a territory.
type TerritoryDTO struct {
	ID              string                   `json:"id"`
	Name            string                   `json:"name"`
	Description     string                   `json:"description,omitempty"`
	PostalCodes     []string                 `json:"postal_codes"`
	StateCode       string                   `json:"state_code"`
	Status          territory.Status         `json:"status"`
	ProtectionType  territory.ProtectionType `json:"protection_type"`
	ProtectionStart *time.Time               `json:"protection_start,omitempty"`
	ProtectionEnd   *time.Time               `json:"protection_end,omitempty"`
	Boundary        json.RawMessage          `json:"boundary,omitempty"`
	Metrics         territory.Metrics        `json:"metrics"`
	CurrentRepID    string                   `json:"current_rep_id,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
	UpdatedAt       time.Time                `json:"updated_at"`
}

// DeactivateRequest is the body of POST /territories/{id}/deactivate.
type DeactivateRequest struct {
	DeactivatedBy string `json:"deactivated_by"`
}

// CheckConflictsRequest is the body of POST /territories/conflicts/check.
type CheckConflictsRequest struct {
	PostalCodes []string `json:"postal_codes"`
	ExcludeID   string   `json:"exclude_id,omitempty"`
}

// CheckConflictsResponse lists claimed codes.
type CheckConflictsResponse struct {
	HasConflicts bool                   `json:"has_conflicts"`
	Conflicts    []generic.CodeConflict `json:"conflicts"`
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

// AssignmentDTO is the wire form of an assignment.
type AssignmentDTO struct {
	ID                 string                     `json:"id"`
	TerritoryID        string                     `json:"territory_id"`
	RepID              string                     `json:"rep_id"`
	AssignedAt         time.Time                  `json:"assigned_at"`
	AssignedBy         string                     `json:"assigned_by"`
	Status             territory.AssignmentStatus `json:"status"`
	ProtectionLevel    territory.ProtectionLevel  `json:"protection_level"`
	CommissionOverride *decimal.Decimal           `json:"commission_override,omitempty"`
	Notes              string                     `json:"notes,omitempty"`
	EndedAt            *time.Time                 `json:"ended_at,omitempty"`
	TransferHistory    []territory.TransferEntry  `json:"transfer_history"`
}

// AssignmentResultDTO is returned by assign and transfer.
type AssignmentResultDTO struct {
	Territory         TerritoryDTO   `json:"territory"`
	Assignment        AssignmentDTO  `json:"assignment"`
	Superseded        *AssignmentDTO `json:"superseded,omitempty"`
	AccountsRepointed int            `json:"accounts_repointed"`
}

// ConflictDTO is the wire form of a conflict report.
type ConflictDTO struct {
	ID             string                   `json:"id"`
	TerritoryID    string                   `json:"territory_id"`
	ReportingRepID string                   `json:"reporting_rep_id"`
	Type           territory.ConflictType   `json:"type"`
	Details        string                   `json:"details"`
	Status         territory.ConflictStatus `json:"status"`
	Resolution     string                   `json:"resolution,omitempty"`
	ResolvedBy     string                   `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time               `json:"resolved_at,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
}

// =============================================================================
// REPS AND ACCOUNTS
// =============================================================================

// RepPerformanceDTO is a rep's standing for one period.
type RepPerformanceDTO struct {
	commission.Summary
	MonthlyQuota  decimal.Decimal `json:"monthly_quota"`
	AttainmentPct decimal.Decimal `json:"attainment_pct"`
	Territories   int             `json:"territories"`
}

// =============================================================================
// COMMISSIONS
// =============================================================================

// RecordRequest records either a whole order (calculated, then written as
// sale, bonus and adjustment rows) or one manual transaction.
type RecordRequest struct {
	Order       *commission.Order       `json:"order,omitempty"`
	Transaction *commission.Transaction `json:"transaction,omitempty"`
}

// RecordResponse lists the written rows.
type RecordResponse struct {
	TransactionIDs []string                `json:"transaction_ids"`
	Calculation    *commission.Calculation `json:"calculation,omitempty"`
}

// ApproveRequest is the body of POST /commissions/approve.
type ApproveRequest struct {
	TransactionIDs []string `json:"transaction_ids"`
	ApprovedBy     string   `json:"approved_by"`
}

// ApprovalFailureDTO explains one rejected id.
type ApprovalFailureDTO struct {
	ID    string `json:"id"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ApproveResponse is the result of an approval batch.
type ApproveResponse struct {
	Approved []string             `json:"approved"`
	Failed   []ApprovalFailureDTO `json:"failed"`
}

// PayoutRequest is the body of POST /commissions/payout. Empty fields take
// the job defaults (previous month, "payout-<period>").
type PayoutRequest struct {
	Period           string `json:"period"`
	PaymentReference string `json:"payment_reference"`
}

// CancelRequest is the body of POST /commissions/{id}/cancel.
type CancelRequest struct {
	Reason      string `json:"reason"`
	CancelledBy string `json:"cancelled_by"`
}

// SetActiveRequest is the body of PUT /commission-rules/{id}/active.
type SetActiveRequest struct {
	Active *bool `json:"is_active"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest is the body of POST /scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toTerritoryDTO(t territory.Territory) TerritoryDTO {
	codes := t.PostalCodes
	if codes == nil {
		codes = []string{}
	}
	return TerritoryDTO{
		ID:              t.ID,
		Name:            t.Name,
		Description:     t.Description,
		PostalCodes:     codes,
		StateCode:       t.StateCode,
		Status:          t.Status,
		ProtectionType:  t.ProtectionType,
		ProtectionStart: t.ProtectionStart,
		ProtectionEnd:   t.ProtectionEnd,
		Boundary:        t.Boundary,
		Metrics:         t.Metrics,
		CurrentRepID:    t.CurrentRepID,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func toTerritoryDTOs(ts []territory.Territory) []TerritoryDTO {
	out := make([]TerritoryDTO, 0, len(ts))
	for _, t := range ts {
		out = append(out, toTerritoryDTO(t))
	}
	return out
}

func toAssignmentDTO(a territory.Assignment) AssignmentDTO {
	history := a.TransferHistory
	if history == nil {
		history = []territory.TransferEntry{}
	}
	return AssignmentDTO{
		ID:                 a.ID,
		TerritoryID:        a.TerritoryID,
		RepID:              a.RepID,
		AssignedAt:         a.AssignedAt,
		AssignedBy:         a.AssignedBy,
		Status:             a.Status,
		ProtectionLevel:    a.ProtectionLevel,
		CommissionOverride: a.CommissionOverride,
		Notes:              a.Notes,
		EndedAt:            a.EndedAt,
		TransferHistory:    history,
	}
}

func toAssignmentResultDTO(res territory.AssignmentResult) AssignmentResultDTO {
	out := AssignmentResultDTO{
		Territory:         toTerritoryDTO(res.Territory),
		Assignment:        toAssignmentDTO(res.Assignment),
		AccountsRepointed: res.AccountsRepointed,
	}
	if res.Superseded != nil {
		s := toAssignmentDTO(*res.Superseded)
		out.Superseded = &s
	}
	return out
}

func toConflictDTO(c territory.ConflictReport) ConflictDTO {
	return ConflictDTO{
		ID:             c.ID,
		TerritoryID:    c.TerritoryID,
		ReportingRepID: c.ReportingRepID,
		Type:           c.Type,
		Details:        c.Details,
		Status:         c.Status,
		Resolution:     c.Resolution,
		ResolvedBy:     c.ResolvedBy,
		ResolvedAt:     c.ResolvedAt,
		CreatedAt:      c.CreatedAt,
	}
}

func toConflictDTOs(cs []territory.ConflictReport) []ConflictDTO {
	out := make([]ConflictDTO, 0, len(cs))
	for _, c := range cs {
		out = append(out, toConflictDTO(c))
	}
	return out
}
