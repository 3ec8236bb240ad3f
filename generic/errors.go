/*
errors.go - Centralized error types for the territory and commission engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every structured error unwraps to a sentinel so callers can branch with
  errors.Is and still reach the details with errors.As.

ERROR CATEGORIES:
  1. Ownership errors   - ConflictError, AlreadyProtectedError, NotAssignedToRepError
  2. Authorization      - ApprovalRequiredError
  3. Lookup / lifecycle - NotFoundError, InvalidStateTransitionError
  4. Input              - ValidationError
  5. Infrastructure     - ErrTransient (retried), UnavailableError (gave up)

PROPAGATION:
  All of these are returned to the caller synchronously. Only ErrTransient
  is retried internally (see retry.go); once retries are exhausted it is
  surfaced as UnavailableError.

SEE ALSO:
  - retry.go: Uses IsRetryable
  - api/errors.go: Maps these errors to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConflict is returned when postal codes are already claimed elsewhere.
	ErrConflict = errors.New("postal code conflict")

	// ErrAlreadyProtected is returned when assigning a protected, held territory.
	ErrAlreadyProtected = errors.New("territory already protected")

	// ErrNotAssignedToRep is returned when a transfer names the wrong current holder.
	ErrNotAssignedToRep = errors.New("territory not assigned to rep")

	// ErrApprovalRequired is returned when a protected transfer lacks an approver.
	ErrApprovalRequired = errors.New("approval required")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidStateTransition is returned when a lifecycle move is not allowed.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrUnavailable is returned once transient failures exhaust their retries.
	ErrUnavailable = errors.New("service unavailable")

	// ErrTransient marks storage or collaborator failures worth retrying
	// (lock contention, connection loss).
	ErrTransient = errors.New("transient failure")

	// ErrDuplicateIdempotencyKey is returned when a ledger row with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// CodeConflict names one claimed postal code and its owner.
type CodeConflict struct {
	PostalCode    string `json:"postal_code"`
	TerritoryID   string `json:"territory_id"`
	TerritoryName string `json:"territory_name"`
}

// ConflictError lists every colliding postal code.
type ConflictError struct {
	Conflicts []CodeConflict
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%s (owned by %q)", c.PostalCode, c.TerritoryName))
	}
	return "postal codes already claimed: " + strings.Join(parts, ", ")
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NewConflictError sorts conflicts by postal code so messages are stable.
func NewConflictError(conflicts []CodeConflict) *ConflictError {
	sorted := append([]CodeConflict(nil), conflicts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PostalCode < sorted[j].PostalCode })
	return &ConflictError{Conflicts: sorted}
}

// AlreadyProtectedError is returned by assign on a protected territory.
type AlreadyProtectedError struct {
	TerritoryID  string
	CurrentRepID string
}

func (e *AlreadyProtectedError) Error() string {
	return fmt.Sprintf("territory %s is protected and held by %s", e.TerritoryID, e.CurrentRepID)
}

func (e *AlreadyProtectedError) Unwrap() error { return ErrAlreadyProtected }

// NotAssignedToRepError is returned when the caller's view of the holder is stale.
type NotAssignedToRepError struct {
	TerritoryID  string
	ExpectedRep  string
	CurrentRepID string // empty when nobody holds the territory
}

func (e *NotAssignedToRepError) Error() string {
	if e.CurrentRepID == "" {
		return fmt.Sprintf("territory %s is not assigned to %s (unassigned)", e.TerritoryID, e.ExpectedRep)
	}
	return fmt.Sprintf("territory %s is not assigned to %s (current holder %s)", e.TerritoryID, e.ExpectedRep, e.CurrentRepID)
}

func (e *NotAssignedToRepError) Unwrap() error { return ErrNotAssignedToRep }

// ApprovalRequiredError is returned when a protection policy demands an approver.
type ApprovalRequiredError struct {
	TerritoryID string
	Reason      string
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("territory %s: approval required: %s", e.TerritoryID, e.Reason)
}

func (e *ApprovalRequiredError) Unwrap() error { return ErrApprovalRequired }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "territory", "protection_rule", "transaction", ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound is shorthand for &NotFoundError{Kind: kind, ID: id}.
func NewNotFound(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// InvalidStateTransitionError reports a lifecycle move that is not allowed.
type InvalidStateTransitionError struct {
	Kind string
	ID   string
	From string
	To   string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot move from %s to %s", e.Kind, e.ID, e.From, e.To)
}

func (e *InvalidStateTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// FieldError is one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries one or more field problems.
type ValidationError struct {
	Code   string // optional machine-readable reason, e.g. "same_rep"
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a single-field ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// UnavailableError is returned after retries are exhausted, or when a
// collaborator fails permanently and the operation was rolled back.
type UnavailableError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

// Unwrap deliberately hides Err: an exhausted operation must not look
// retryable to an outer retry loop.
func (e *UnavailableError) Unwrap() error { return ErrUnavailable }

// Transient wraps err so that IsRetryable reports true.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsClientError returns true if the error is due to the caller's input or
// the current state of the records it targets.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrAlreadyProtected) ||
		errors.Is(err, ErrNotAssignedToRep) ||
		errors.Is(err, ErrApprovalRequired) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
