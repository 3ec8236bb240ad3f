package territory

import (
	"context"

	"github.com/warp/territory-engine/generic"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store persists territories, protection rules, assignments and conflict
// reports. Gets return (nil, nil) when the record does not exist.
//
// Every method joins the transaction carried in ctx when there is one.
type Store interface {
	generic.Transactor

	InsertTerritory(ctx context.Context, t Territory) error
	// UpdateTerritory replaces the row and its postal-code claims. Inactive
	// territories release their claims.
	UpdateTerritory(ctx context.Context, t Territory) error
	GetTerritory(ctx context.Context, id string) (*Territory, error)
	ListTerritories(ctx context.Context, f Filter) ([]Territory, error)
	// RoutableByPostalCode returns the assigned or protected territory claiming code.
	RoutableByPostalCode(ctx context.Context, code string) (*Territory, error)
	// FindClaims returns which of codes are claimed by a territory other than excludeID.
	FindClaims(ctx context.Context, codes []string, excludeID string) ([]generic.CodeConflict, error)

	GetProtectionRule(ctx context.Context, territoryID string) (*ProtectionRule, error)
	UpsertProtectionRule(ctx context.Context, r ProtectionRule) error

	InsertAssignment(ctx context.Context, a Assignment) error
	UpdateAssignment(ctx context.Context, a Assignment) error
	ActiveAssignment(ctx context.Context, territoryID string) (*Assignment, error)
	ListAssignments(ctx context.Context, territoryID string) ([]Assignment, error)

	InsertConflictReport(ctx context.Context, c ConflictReport) error
	UpdateConflictReport(ctx context.Context, c ConflictReport) error
	GetConflictReport(ctx context.Context, id string) (*ConflictReport, error)
	ListConflictReports(ctx context.Context, territoryID string, status ConflictStatus) ([]ConflictReport, error)
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// AccountDirectory is the external account store. RepointAccounts moves
// every account mapped to territoryID to newRepID and returns how many moved.
// Implementations wrap retryable failures with generic.Transient.
type AccountDirectory interface {
	RepointAccounts(ctx context.Context, territoryID, newRepID string) (int, error)
}
