/*
Package memory provides in-memory collaborators for tests and local runs.

PURPOSE:
  The engine consumes three external stores it does not own: the account
  store (repointing, account age), the representative profile store and,
  for isolated engine runs, a volume and rule source. These implementations
  keep everything in maps behind a mutex.

FAILURE INJECTION:
  Accounts.FailNext makes the next n RepointAccounts calls fail with a given
  error, so callers can exercise retry and rollback paths. Wrap the error
  with generic.Transient to make it retryable.

SEE ALSO:
  - store/sqlite: Persistent implementations of the same interfaces
*/
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/territory-engine/commission"
	"github.com/warp/territory-engine/generic"
)

// =============================================================================
// ACCOUNTS - territory.AccountDirectory, commission.AccountAges
// =============================================================================

// Account is one business account.
type Account struct {
	ID          string
	TerritoryID string
	RepID       string
	OpenedAt    time.Time
}

// Accounts is an in-memory account store.
type Accounts struct {
	mu       sync.RWMutex
	accounts map[string]Account
	failN    int
	failErr  error
	calls    int
}

// NewAccounts creates an account store holding accounts.
func NewAccounts(accounts ...Account) *Accounts {
	a := &Accounts{accounts: make(map[string]Account, len(accounts))}
	for _, acc := range accounts {
		a.accounts[acc.ID] = acc
	}
	return a
}

// Put adds or replaces an account.
func (a *Accounts) Put(acc Account) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accounts[acc.ID] = acc
}

// Get returns an account.
func (a *Accounts) Get(id string) (Account, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	acc, ok := a.accounts[id]
	return acc, ok
}

// FailNext makes the next n RepointAccounts calls return err.
func (a *Accounts) FailNext(n int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failN = n
	a.failErr = err
}

// RepointCalls returns how many times RepointAccounts was called.
func (a *Accounts) RepointCalls() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.calls
}

// RepointAccounts moves every account of territoryID to newRepID.
func (a *Accounts) RepointAccounts(_ context.Context, territoryID, newRepID string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.failN > 0 {
		a.failN--
		return 0, a.failErr
	}
	moved := 0
	for id, acc := range a.accounts {
		if acc.TerritoryID != territoryID {
			continue
		}
		acc.RepID = newRepID
		a.accounts[id] = acc
		moved++
	}
	return moved, nil
}

// AccountAgeDays returns the account's age in whole days on asOf.
func (a *Accounts) AccountAgeDays(_ context.Context, accountID string, asOf time.Time) (int, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	acc, ok := a.accounts[accountID]
	if !ok {
		return 0, false, nil
	}
	days := generic.DaysBetween(acc.OpenedAt, asOf)
	if days < 0 {
		days = 0
	}
	return days, true, nil
}

// =============================================================================
// REPS - commission.RepDirectory
// =============================================================================

// Reps is an in-memory representative profile store.
type Reps struct {
	mu   sync.RWMutex
	reps map[string]commission.Rep
}

// NewReps creates a profile store holding reps.
func NewReps(reps ...commission.Rep) *Reps {
	r := &Reps{reps: make(map[string]commission.Rep, len(reps))}
	for _, rep := range reps {
		r.reps[rep.ID] = rep
	}
	return r
}

// Put adds or replaces a rep.
func (r *Reps) Put(rep commission.Rep) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reps[rep.ID] = rep
}

// GetRep returns a rep, or nil when unknown.
func (r *Reps) GetRep(_ context.Context, id string) (*commission.Rep, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rep, ok := r.reps[id]
	if !ok {
		return nil, nil
	}
	return &rep, nil
}

// =============================================================================
// VOLUMES AND RULES - commission.VolumeSource, commission.RuleSource
// =============================================================================

// Volumes reports fixed monthly volumes keyed by rep and period.
type Volumes struct {
	mu      sync.RWMutex
	volumes map[string]decimal.Decimal
}

// NewVolumes creates an empty volume source; unknown volumes are zero.
func NewVolumes() *Volumes {
	return &Volumes{volumes: make(map[string]decimal.Decimal)}
}

// Set records the volume of repID in period.
func (v *Volumes) Set(repID string, period generic.Period, volume decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.volumes[repID+"|"+string(period)] = volume
}

// MonthlyVolume returns the recorded volume or zero.
func (v *Volumes) MonthlyVolume(_ context.Context, repID string, period generic.Period) (decimal.Decimal, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if vol, ok := v.volumes[repID+"|"+string(period)]; ok {
		return vol, nil
	}
	return decimal.Zero, nil
}

// Rules is a fixed rule snapshot.
type Rules []commission.Rule

// ListCommissionRules returns a copy of the snapshot in creation order.
func (r Rules) ListCommissionRules(_ context.Context, activeOnly bool) ([]commission.Rule, error) {
	out := make([]commission.Rule, 0, len(r))
	for _, rule := range r {
		if activeOnly && !rule.Active {
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}
