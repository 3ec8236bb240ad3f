package territory

import (
	"context"
	"fmt"

	"github.com/warp/territory-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// REGISTRY - Canonical store of territories and postal-code ownership
// =============================================================================

// Registry creates and updates territories without ever letting two
// non-inactive territories claim the same postal code. The conflict check
// and the write share one store transaction; the store's uniqueness
// constraint on postal codes is the backstop.
//
// Conflict policy: available and house territories participate in the
// check like assigned and protected ones. Only inactive territories release
// their codes.
type Registry struct {
	store Store
	opts  generic.Options
}

// NewRegistry creates a registry over store.
func NewRegistry(store Store, opts generic.Options) *Registry {
	return &Registry{store: store, opts: opts.WithDefaults()}
}

// Create validates spec and persists a new territory. Colliding postal codes
// fail with *generic.ConflictError listing every code and its owner.
func (r *Registry) Create(ctx context.Context, spec Spec) (*Territory, error) {
	spec = spec.normalized()
	if err := generic.ValidateStruct(spec); err != nil {
		return nil, err
	}
	if spec.House && spec.RepID != "" {
		return nil, generic.NewValidationError("rep_id", "house territories cannot be assigned to a rep")
	}

	now := r.opts.Clock.Now()
	t := Territory{
		ID:             r.opts.IDs(),
		Name:           spec.Name,
		Description:    spec.Description,
		PostalCodes:    spec.PostalCodes,
		StateCode:      spec.StateCode,
		Status:         StatusAvailable,
		ProtectionType: spec.ProtectionType,
		Boundary:       spec.Boundary,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if spec.House {
		t.Status = StatusHouse
	}

	err := generic.RetryTx(ctx, r.opts.Retry, r.store, "territory.create", r.opts.Logger, func(ctx context.Context) error {
		created := t
		conflicts, err := r.store.FindClaims(ctx, created.PostalCodes, "")
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return generic.NewConflictError(conflicts)
		}
		if err := r.store.InsertTerritory(ctx, created); err != nil {
			return err
		}
		if spec.RepID != "" {
			_, err := startAssignment(ctx, r.store, &created, AssignRequest{
				TerritoryID:     created.ID,
				RepID:           spec.RepID,
				AssignedBy:      spec.AssignedBy,
				ProtectionLevel: spec.ProtectionLevel,
			}, nil, now, r.opts.IDs)
			if err != nil {
				return err
			}
		}
		t = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.opts.Logger.Info("territory created",
		zap.String("territory_id", t.ID),
		zap.String("name", t.Name),
		zap.Int("postal_codes", len(t.PostalCodes)),
		zap.String("status", string(t.Status)))
	return &t, nil
}

// Update applies patch to a territory. Only postal codes the patch adds are
// checked for conflicts, and the territory itself is excluded. A new
// protection type is carried over to the territory's rule, if it has one.
func (r *Registry) Update(ctx context.Context, id string, patch Patch) (*Territory, error) {
	patch = patch.normalized()
	if err := generic.ValidateStruct(patch); err != nil {
		return nil, err
	}

	var updated Territory
	err := generic.RetryTx(ctx, r.opts.Retry, r.store, "territory.update", r.opts.Logger, func(ctx context.Context) error {
		t, err := r.mustGet(ctx, id)
		if err != nil {
			return err
		}
		if t.Status == StatusInactive {
			return &generic.InvalidStateTransitionError{Kind: "territory", ID: id, From: string(t.Status), To: "updated"}
		}

		if patch.PostalCodes != nil {
			added := difference(patch.PostalCodes, t.PostalCodes)
			if len(added) > 0 {
				conflicts, err := r.store.FindClaims(ctx, added, t.ID)
				if err != nil {
					return err
				}
				if len(conflicts) > 0 {
					return generic.NewConflictError(conflicts)
				}
			}
			t.PostalCodes = patch.PostalCodes
		}
		if patch.Name != nil {
			t.Name = *patch.Name
		}
		if patch.Description != nil {
			t.Description = *patch.Description
		}
		if patch.StateCode != nil {
			t.StateCode = *patch.StateCode
		}
		typeChanged := patch.ProtectionType != nil && *patch.ProtectionType != t.ProtectionType
		if typeChanged {
			t.ProtectionType = *patch.ProtectionType
		}
		if patch.Boundary != nil {
			t.Boundary = patch.Boundary
		}
		t.UpdatedAt = r.opts.Clock.Now()

		if err := r.store.UpdateTerritory(ctx, *t); err != nil {
			return err
		}
		if typeChanged {
			if err := syncRuleType(ctx, r.store, *t, t.UpdatedAt); err != nil {
				return err
			}
		}
		updated = *t
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.opts.Logger.Info("territory updated", zap.String("territory_id", id))
	return &updated, nil
}

// Get returns a territory by id.
func (r *Registry) Get(ctx context.Context, id string) (*Territory, error) {
	return r.mustGet(ctx, id)
}

// List returns territories matching f, oldest first.
func (r *Registry) List(ctx context.Context, f Filter) ([]Territory, error) {
	return r.store.ListTerritories(ctx, f)
}

// FindByPostalCode returns the assigned or protected territory containing
// code. Available and house territories are not authoritative for routing.
func (r *Registry) FindByPostalCode(ctx context.Context, code string) (*Territory, error) {
	code = NormalizePostalCode(code)
	if !generic.IsValidPostalCode(code) {
		return nil, generic.NewValidationError("postal_code", fmt.Sprintf("invalid postal code %q", code))
	}
	t, err := r.store.RoutableByPostalCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, generic.NewNotFound("territory for postal code", code)
	}
	return t, nil
}

// CheckConflicts returns the codes already claimed by a territory other
// than excludeID. It never writes.
func (r *Registry) CheckConflicts(ctx context.Context, codes []string, excludeID string) ([]generic.CodeConflict, error) {
	codes = NormalizePostalCodes(codes)
	if len(codes) == 0 {
		return nil, generic.NewValidationError("postal_codes", "is required")
	}
	for i, c := range codes {
		if !generic.IsValidPostalCode(c) {
			return nil, generic.NewValidationError(fmt.Sprintf("postal_codes[%d]", i), fmt.Sprintf("invalid postal code %q", c))
		}
	}
	conflicts, err := r.store.FindClaims(ctx, codes, excludeID)
	if err != nil {
		return nil, err
	}
	return generic.NewConflictError(conflicts).Conflicts, nil
}

// RepTerritories returns every territory currently held by repID.
func (r *Registry) RepTerritories(ctx context.Context, repID string) ([]Territory, error) {
	if repID == "" {
		return nil, generic.NewValidationError("rep_id", "is required")
	}
	return r.store.ListTerritories(ctx, Filter{RepID: repID})
}

// Deactivate retires a territory and releases its postal codes. A territory
// that is still held must be released or transferred first.
func (r *Registry) Deactivate(ctx context.Context, id, by string) (*Territory, error) {
	if by == "" {
		return nil, generic.NewValidationError("deactivated_by", "is required")
	}

	var out Territory
	err := generic.RetryTx(ctx, r.opts.Retry, r.store, "territory.deactivate", r.opts.Logger, func(ctx context.Context) error {
		t, err := r.mustGet(ctx, id)
		if err != nil {
			return err
		}
		if t.Status == StatusInactive {
			return &generic.InvalidStateTransitionError{Kind: "territory", ID: id, From: string(t.Status), To: string(StatusInactive)}
		}
		active, err := r.store.ActiveAssignment(ctx, id)
		if err != nil {
			return err
		}
		if active != nil {
			return &generic.InvalidStateTransitionError{Kind: "territory", ID: id, From: string(t.Status) + " (held by " + active.RepID + ")", To: string(StatusInactive)}
		}

		now := r.opts.Clock.Now()
		t.Status = StatusInactive
		t.ProtectionEnd = &now
		t.UpdatedAt = now
		if err := r.store.UpdateTerritory(ctx, *t); err != nil {
			return err
		}
		out = *t
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.opts.Logger.Info("territory deactivated", zap.String("territory_id", id), zap.String("by", by))
	return &out, nil
}

// UpdateMetrics replaces the cached performance metrics of a territory.
func (r *Registry) UpdateMetrics(ctx context.Context, id string, m Metrics) (*Territory, error) {
	var verr error
	if m.AccountCount < 0 {
		verr = generic.WithFieldError(verr, "account_count", "must not be negative")
	}
	if m.ActiveAccountCount < 0 || m.ActiveAccountCount > m.AccountCount {
		verr = generic.WithFieldError(verr, "active_account_count", "must be between 0 and account_count")
	}
	if err := generic.CheckDecimals(verr, generic.DecimalCheck{Field: "trailing_revenue", Value: m.TrailingRevenue}); err != nil {
		return nil, err
	}

	var out Territory
	err := generic.RetryTx(ctx, r.opts.Retry, r.store, "territory.update_metrics", r.opts.Logger, func(ctx context.Context) error {
		t, err := r.mustGet(ctx, id)
		if err != nil {
			return err
		}
		now := r.opts.Clock.Now()
		m.UpdatedAt = &now
		t.Metrics = m
		t.UpdatedAt = now
		if err := r.store.UpdateTerritory(ctx, *t); err != nil {
			return err
		}
		out = *t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Registry) mustGet(ctx context.Context, id string) (*Territory, error) {
	return getTerritory(ctx, r.store, id)
}

func getTerritory(ctx context.Context, store Store, id string) (*Territory, error) {
	t, err := store.GetTerritory(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, generic.NewNotFound("territory", id)
	}
	return t, nil
}

// difference returns the elements of a that are not in b, in a's order.
func difference(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, s := range b {
		in[s] = true
	}
	var out []string
	for _, s := range a {
		if !in[s] {
			out = append(out, s)
		}
	}
	return out
}
