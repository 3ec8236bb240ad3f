/*
Package territory owns exclusive sales territories and who may hold them.

PURPOSE:
  A territory is a named set of postal codes routed to at most one sales
  representative at a time. This package keeps postal-code ownership
  consistent, stores each territory's protection policy, and coordinates
  assignment and transfer so that a protected territory is never silently
  reassigned.

KEY CONCEPTS:
  Territory:      Postal codes + status + protection type + cached metrics
  ProtectionRule: One per territory; lifetime / performance / time_based / none
  Assignment:     One continuous period during which a rep held a territory
  ConflictReport: A dispute raised by a rep, resolved by an operator

LIFECYCLE:
  available ──assign──► assigned ◄──reevaluate── protected
      ▲                    │  ▲                      │
      └──────release───────┘  └──────transfer────────┘

  house territories are held by the company and never routed.
  inactive territories are deactivated; rows are never deleted.

COMPONENTS:
  - registry.go:    Territory Registry (postal-code ownership)
  - protection.go:  Protection Rule Store (policy lookup + condition evaluation)
  - coordinator.go: Assignment & Transfer Coordinator

SEE ALSO:
  - store.go: Persistence and collaborator interfaces
  - store/sqlite: The production Store
*/
package territory

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TERRITORY
// =============================================================================

// Status is the lifecycle state of a territory.
type Status string

const (
	StatusAvailable Status = "available"
	StatusAssigned  Status = "assigned"
	StatusProtected Status = "protected"
	StatusHouse     Status = "house"
	StatusInactive  Status = "inactive"
)

// Routable reports whether orders in this territory route to its holder.
func (s Status) Routable() bool {
	return s == StatusAssigned || s == StatusProtected
}

// ProtectionType is the protection style a territory advertises.
type ProtectionType string

const (
	ProtectionFirstToSign      ProtectionType = "first_to_sign"
	ProtectionPerformanceBased ProtectionType = "performance_based"
	ProtectionTimeLimited      ProtectionType = "time_limited"
	ProtectionNone             ProtectionType = "none"
)

// RuleType returns the protection rule type backing this protection type.
func (p ProtectionType) RuleType() RuleType {
	switch p {
	case ProtectionFirstToSign:
		return RuleLifetime
	case ProtectionPerformanceBased:
		return RulePerformance
	case ProtectionTimeLimited:
		return RuleTimeBased
	default:
		return RuleNone
	}
}

// Metrics is the cached performance snapshot of a territory.
type Metrics struct {
	AccountCount       int             `json:"account_count"`
	ActiveAccountCount int             `json:"active_account_count"`
	TrailingRevenue    decimal.Decimal `json:"trailing_revenue"`
	UpdatedAt          *time.Time      `json:"updated_at,omitempty"`
}

// ActivePercent is the share of accounts that are active, 0-100.
func (m Metrics) ActivePercent() decimal.Decimal {
	if m.AccountCount == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(m.ActiveAccountCount)).
		Div(decimal.NewFromInt(int64(m.AccountCount))).
		Mul(decimal.NewFromInt(100))
}

// Territory is a named, ordered set of postal codes.
type Territory struct {
	ID              string
	Name            string
	Description     string
	PostalCodes     []string
	StateCode       string
	Status          Status
	ProtectionType  ProtectionType
	ProtectionStart *time.Time
	ProtectionEnd   *time.Time
	Boundary        json.RawMessage // opaque polygon, never interpreted
	Metrics         Metrics
	CurrentRepID    string // denormalized from the active assignment
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Spec is the input to Registry.Create.
type Spec struct {
	Name           string          `json:"name" validate:"required,max=200"`
	Description    string          `json:"description" validate:"max=2000"`
	PostalCodes    []string        `json:"postal_codes" validate:"required,min=1,max=500,dive,postalcode"`
	StateCode      string          `json:"state_code" validate:"required,len=2,alpha,uppercase"`
	ProtectionType ProtectionType  `json:"protection_type" validate:"omitempty,oneof=first_to_sign performance_based time_limited none"`
	House          bool            `json:"house"`
	Boundary       json.RawMessage `json:"boundary,omitempty"`

	// Optional initial holder, assigned in the same transaction.
	RepID           string          `json:"rep_id"`
	AssignedBy      string          `json:"assigned_by" validate:"required_with=RepID"`
	ProtectionLevel ProtectionLevel `json:"protection_level" validate:"omitempty,oneof=full partial none"`
}

func (s Spec) normalized() Spec {
	s.Name = strings.TrimSpace(s.Name)
	s.StateCode = strings.ToUpper(strings.TrimSpace(s.StateCode))
	s.PostalCodes = NormalizePostalCodes(s.PostalCodes)
	if s.ProtectionType == "" {
		s.ProtectionType = ProtectionFirstToSign
	}
	return s
}

// Patch is the input to Registry.Update. Nil fields are left unchanged;
// PostalCodes, when set, replaces the whole set.
type Patch struct {
	Name           *string         `json:"name" validate:"omitempty,min=1,max=200"`
	Description    *string         `json:"description" validate:"omitempty,max=2000"`
	PostalCodes    []string        `json:"postal_codes" validate:"omitempty,min=1,max=500,dive,postalcode"`
	StateCode      *string         `json:"state_code" validate:"omitempty,len=2,alpha,uppercase"`
	ProtectionType *ProtectionType `json:"protection_type" validate:"omitempty,oneof=first_to_sign performance_based time_limited none"`
	Boundary       json.RawMessage `json:"boundary,omitempty"`
}

func (p Patch) normalized() Patch {
	if p.Name != nil {
		n := strings.TrimSpace(*p.Name)
		p.Name = &n
	}
	if p.StateCode != nil {
		sc := strings.ToUpper(strings.TrimSpace(*p.StateCode))
		p.StateCode = &sc
	}
	if p.PostalCodes != nil {
		p.PostalCodes = NormalizePostalCodes(p.PostalCodes)
	}
	return p
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Status    Status
	StateCode string
	RepID     string
}

// NormalizePostalCode trims and upper-cases a postal code.
func NormalizePostalCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizePostalCodes normalizes every code and drops duplicates,
// keeping the first occurrence. A nil input stays nil.
func NormalizePostalCodes(codes []string) []string {
	if codes == nil {
		return nil
	}
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = NormalizePostalCode(c)
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// =============================================================================
// PROTECTION RULES
// =============================================================================

// RuleType is the kind of protection a rule grants.
type RuleType string

const (
	RuleLifetime    RuleType = "lifetime"
	RulePerformance RuleType = "performance"
	RuleTimeBased   RuleType = "time_based"
	RuleNone        RuleType = "none"
)

// ProtectionType maps a rule type back to the territory's protection type.
func (r RuleType) ProtectionType() ProtectionType {
	switch r {
	case RuleLifetime:
		return ProtectionFirstToSign
	case RulePerformance:
		return ProtectionPerformanceBased
	case RuleTimeBased:
		return ProtectionTimeLimited
	default:
		return ProtectionNone
	}
}

// Conditions are the thresholds a performance or time_based rule checks.
type Conditions struct {
	MinAccounts             int             `json:"min_accounts" validate:"gte=0"`
	MinRevenue              decimal.Decimal `json:"min_revenue"`
	PeriodDays              int             `json:"period_days" validate:"gte=0"`
	PerformanceThresholdPct decimal.Decimal `json:"performance_threshold_pct"`
}

// InheritancePolicy controls who may take over a protected territory.
type InheritancePolicy string

const (
	InheritAllow           InheritancePolicy = "allow"
	InheritRequireApproval InheritancePolicy = "require_approval"
)

// Inheritance is the transfer policy of a rule. A non-empty
// ApprovedInheritors list restricts unapproved transfers to those reps.
type Inheritance struct {
	Policy             InheritancePolicy `json:"policy" validate:"omitempty,oneof=allow require_approval"`
	ApprovedInheritors []string          `json:"approved_inheritors,omitempty"`
}

// SplitCommission shares commission with the previous holder after a transfer.
type SplitCommission struct {
	Enabled        bool            `json:"enabled"`
	OriginalRepPct decimal.Decimal `json:"original_rep_pct"`
	DurationDays   int             `json:"duration_days" validate:"gte=0"`
}

// ProtectionRule is the protection policy of one territory.
type ProtectionRule struct {
	ID          string          `json:"id"`
	TerritoryID string          `json:"territory_id"`
	Type        RuleType        `json:"rule_type" validate:"required,oneof=lifetime performance time_based none"`
	Conditions  Conditions      `json:"conditions"`
	Inheritance Inheritance     `json:"inheritance"`
	Split       SplitCommission `json:"split_commission"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// DefaultProtectionPeriodDays is the window of a generated time_based rule.
const DefaultProtectionPeriodDays = 365

// ConditionInput is what EvaluateConditions looks at.
type ConditionInput struct {
	Metrics         Metrics
	ProtectionStart *time.Time
	Now             time.Time
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

// AssignmentStatus is the lifecycle state of an assignment.
type AssignmentStatus string

const (
	AssignmentActive      AssignmentStatus = "active"
	AssignmentPending     AssignmentStatus = "pending"
	AssignmentExpired     AssignmentStatus = "expired"
	AssignmentTransferred AssignmentStatus = "transferred"
)

// ProtectionLevel decides whether an assignment protects the territory.
type ProtectionLevel string

const (
	LevelFull    ProtectionLevel = "full"
	LevelPartial ProtectionLevel = "partial"
	LevelNone    ProtectionLevel = "none"
)

// TransferEntry is one immutable line of a territory's transfer history.
type TransferEntry struct {
	FromRepID  string    `json:"from_rep_id"`
	ToRepID    string    `json:"to_rep_id"`
	At         time.Time `json:"at"`
	Reason     string    `json:"reason"`
	ApprovedBy string    `json:"approved_by,omitempty"`
}

// Assignment is one continuous holding of a territory by a rep.
type Assignment struct {
	ID                 string
	TerritoryID        string
	RepID              string
	AssignedAt         time.Time
	AssignedBy         string
	Status             AssignmentStatus
	ProtectionLevel    ProtectionLevel
	CommissionOverride *decimal.Decimal // percentage
	Notes              string
	EndedAt            *time.Time
	TransferHistory    []TransferEntry
}

// AssignRequest is the input to Coordinator.Assign.
type AssignRequest struct {
	TerritoryID        string           `json:"territory_id" validate:"required"`
	RepID              string           `json:"rep_id" validate:"required"`
	AssignedBy         string           `json:"assigned_by" validate:"required"`
	ProtectionLevel    ProtectionLevel  `json:"protection_level" validate:"omitempty,oneof=full partial none"`
	CommissionOverride *decimal.Decimal `json:"commission_override,omitempty"`
	Notes              string           `json:"notes" validate:"max=2000"`
	// ApprovedBy is required when the assignment takes the territory from a
	// holder whose protection demands approval.
	ApprovedBy         string           `json:"approved_by"`
}

// TransferRequest is the input to Coordinator.Transfer.
type TransferRequest struct {
	TerritoryID string `json:"territory_id" validate:"required"`
	FromRepID   string `json:"from_rep_id" validate:"required"`
	ToRepID     string `json:"to_rep_id" validate:"required"`
	Reason      string `json:"reason" validate:"required,max=2000"`
	ApprovedBy  string `json:"approved_by"`
}

// ReleaseRequest is the input to Coordinator.Release.
type ReleaseRequest struct {
	TerritoryID string `json:"territory_id" validate:"required"`
	RepID       string `json:"rep_id" validate:"required"`
	Reason      string `json:"reason" validate:"max=2000"`
	ApprovedBy  string `json:"approved_by"`
}

// =============================================================================
// CONFLICT REPORTS
// =============================================================================

// ConflictType classifies a dispute.
type ConflictType string

const (
	ConflictOverlap        ConflictType = "overlap"
	ConflictPoaching       ConflictType = "poaching"
	ConflictAccountDispute ConflictType = "account_dispute"
	ConflictOther          ConflictType = "other"
)

// ConflictStatus is the resolution state of a dispute.
type ConflictStatus string

const (
	ConflictPending   ConflictStatus = "pending"
	ConflictResolved  ConflictStatus = "resolved"
	ConflictDismissed ConflictStatus = "dismissed"
)

// ConflictReport is a dispute raised against a territory.
type ConflictReport struct {
	ID             string
	TerritoryID    string
	ReportingRepID string
	Type           ConflictType
	Details        string
	Status         ConflictStatus
	Resolution     string
	ResolvedBy     string
	ResolvedAt     *time.Time
	CreatedAt      time.Time
}

// ConflictReportRequest is the input to Coordinator.ReportConflict.
type ConflictReportRequest struct {
	TerritoryID    string       `json:"territory_id" validate:"required"`
	ReportingRepID string       `json:"reporting_rep_id" validate:"required"`
	Type           ConflictType `json:"type" validate:"required,oneof=overlap poaching account_dispute other"`
	Details        string       `json:"details" validate:"required,max=4000"`
}

// ResolveConflictRequest is the input to Coordinator.ResolveConflict.
type ResolveConflictRequest struct {
	ConflictID string `json:"conflict_id" validate:"required"`
	Resolution string `json:"resolution" validate:"required,max=4000"`
	ResolvedBy string `json:"resolved_by" validate:"required"`
	Dismiss    bool   `json:"dismiss"`
}
