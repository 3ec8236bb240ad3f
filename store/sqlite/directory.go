package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/territory-engine/commission"
	"github.com/warp/territory-engine/generic"
	"github.com/warp/territory-engine/territory"
)

// =============================================================================
// REPRESENTATIVES (commission.RepDirectory)
// =============================================================================

// SaveRep creates or updates a representative profile.
func (s *Store) SaveRep(ctx context.Context, rep commission.Rep) error {
	return s.write(ctx, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO representatives (id, name, email, commission_rate, tier, monthly_quota, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				email = excluded.email,
				commission_rate = excluded.commission_rate,
				tier = excluded.tier,
				monthly_quota = excluded.monthly_quota`,
			rep.ID, rep.Name, rep.Email, rep.CommissionRate.String(), rep.Tier, rep.MonthlyQuota.String(),
			formatTime(time.Now()),
		)
		if err != nil {
			return fmt.Errorf("failed to save rep: %w", err)
		}
		return nil
	})
}

// GetRep retrieves a representative profile.
func (s *Store) GetRep(ctx context.Context, id string) (*commission.Rep, error) {
	var rep *commission.Rep
	err := s.read(ctx, func(q querier) error {
		got, err := scanRep(q.QueryRowContext(ctx,
			`SELECT id, name, email, commission_rate, tier, monthly_quota FROM representatives WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		rep = &got
		return nil
	})
	return rep, err
}

// ListReps returns every representative by name.
func (s *Store) ListReps(ctx context.Context) ([]commission.Rep, error) {
	var out []commission.Rep
	err := s.read(ctx, func(q querier) error {
		rows, err := q.QueryContext(ctx,
			`SELECT id, name, email, commission_rate, tier, monthly_quota FROM representatives ORDER BY name, id`)
		if err != nil {
			return fmt.Errorf("failed to query reps: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			rep, err := scanRep(rows)
			if err != nil {
				return err
			}
			out = append(out, rep)
		}
		return rows.Err()
	})
	return out, err
}

func scanRep(row scanner) (commission.Rep, error) {
	var (
		rep         commission.Rep
		rate, quota string
	)
	if err := row.Scan(&rep.ID, &rep.Name, &rep.Email, &rate, &rep.Tier, &quota); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rep, err
		}
		return rep, fmt.Errorf("failed to scan rep: %w", err)
	}
	err := parseDecimals("rep "+rep.ID,
		decimalColumn{"commission_rate", rate, &rep.CommissionRate},
		decimalColumn{"monthly_quota", quota, &rep.MonthlyQuota},
	)
	return rep, err
}

// =============================================================================
// ACCOUNTS (territory.AccountDirectory, commission.AccountAges)
// =============================================================================

// Account is a business account mapped to a territory and its rep.
type Account struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	TerritoryID string    `json:"territory_id,omitempty"`
	RepID       string    `json:"rep_id,omitempty"`
	OpenedAt    time.Time `json:"opened_at"`
	Active      bool      `json:"active"`
}

// SaveAccount creates or updates an account.
func (s *Store) SaveAccount(ctx context.Context, a Account) error {
	return s.write(ctx, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO accounts (id, name, territory_id, rep_id, opened_at, active, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				territory_id = excluded.territory_id,
				rep_id = excluded.rep_id,
				opened_at = excluded.opened_at,
				active = excluded.active`,
			a.ID, a.Name, nullString(a.TerritoryID), nullString(a.RepID), formatTime(a.OpenedAt), a.Active,
			formatTime(time.Now()),
		)
		if err != nil {
			return fmt.Errorf("failed to save account: %w", err)
		}
		return nil
	})
}

// GetAccount retrieves an account.
func (s *Store) GetAccount(ctx context.Context, id string) (*Account, error) {
	var a *Account
	err := s.read(ctx, func(q querier) error {
		var (
			acc                Account
			territoryID, repID sql.NullString
			openedAt           string
		)
		err := q.QueryRowContext(ctx,
			`SELECT id, name, territory_id, rep_id, opened_at, active FROM accounts WHERE id = ?`, id).
			Scan(&acc.ID, &acc.Name, &territoryID, &repID, &openedAt, &acc.Active)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get account: %w", err)
		}
		acc.TerritoryID = territoryID.String
		acc.RepID = repID.String
		if acc.OpenedAt, err = parseTime(openedAt); err != nil {
			return err
		}
		a = &acc
		return nil
	})
	return a, err
}

// RepointAccounts moves every account of territoryID to newRepID.
func (s *Store) RepointAccounts(ctx context.Context, territoryID, newRepID string) (int, error) {
	var n int64
	err := s.write(ctx, func(q querier) error {
		res, err := q.ExecContext(ctx,
			`UPDATE accounts SET rep_id = ? WHERE territory_id = ?`, nullString(newRepID), territoryID)
		if err != nil {
			return fmt.Errorf("failed to repoint accounts: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

// AccountAgeDays returns how many whole days the account had been open on
// asOf. Accounts opened after asOf are zero days old.
func (s *Store) AccountAgeDays(ctx context.Context, accountID string, asOf time.Time) (int, bool, error) {
	a, err := s.GetAccount(ctx, accountID)
	if err != nil || a == nil {
		return 0, false, err
	}
	days := generic.DaysBetween(a.OpenedAt, asOf)
	if days < 0 {
		days = 0
	}
	return days, true, nil
}

// TerritoryAccountCounts returns the total and active account counts of a territory.
func (s *Store) TerritoryAccountCounts(ctx context.Context, territoryID string) (total, active int, err error) {
	err = s.read(ctx, func(q querier) error {
		return q.QueryRowContext(ctx, `
			SELECT COUNT(*), COALESCE(SUM(CASE WHEN active THEN 1 ELSE 0 END), 0)
			FROM accounts WHERE territory_id = ?`, territoryID).Scan(&total, &active)
	})
	return total, active, err
}

// TerritoryRevenue sums the order amounts of non-cancelled sale and
// clawback rows of a territory with a sale date in [from, to).
func (s *Store) TerritoryRevenue(ctx context.Context, territoryID string, from, to time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	err := s.read(ctx, func(q querier) error {
		rows, err := q.QueryContext(ctx, `
			SELECT order_amount FROM commission_transactions
			WHERE territory_id = ? AND tx_type IN (?, ?) AND status != ?
			  AND sale_date >= ? AND sale_date < ?`,
			territoryID, string(commission.TxSale), string(commission.TxClawback), string(commission.StatusCancelled),
			formatTime(from), formatTime(to))
		if err != nil {
			return fmt.Errorf("failed to query territory revenue: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var amount string
			if err := rows.Scan(&amount); err != nil {
				return err
			}
			var d decimal.Decimal
			if err := parseDecimals("territory "+territoryID+" revenue", decimalColumn{"order_amount", amount, &d}); err != nil {
				return err
			}
			total = total.Add(d)
		}
		return rows.Err()
	})
	return total, err
}

// =============================================================================
// ASSIGNMENT OVERRIDES (commission.RateOverrides)
// =============================================================================

// CommissionOverride returns the commission override of repID's active
// assignment on territoryID, or nil.
func (s *Store) CommissionOverride(ctx context.Context, territoryID, repID string) (*decimal.Decimal, error) {
	var out *decimal.Decimal
	err := s.read(ctx, func(q querier) error {
		var override sql.NullString
		err := q.QueryRowContext(ctx, `
			SELECT commission_override FROM territory_assignments
			WHERE territory_id = ? AND rep_id = ? AND status = ?`,
			territoryID, repID, string(territory.AssignmentActive)).Scan(&override)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !override.Valid) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get commission override: %w", err)
		}
		d, err := decimal.NewFromString(override.String)
		if err != nil {
			return fmt.Errorf("invalid commission override %q: %w", override.String, err)
		}
		out = &d
		return nil
	})
	return out, err
}
