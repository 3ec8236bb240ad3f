package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/territory-engine/commission"
	"github.com/warp/territory-engine/factory"
	"github.com/warp/territory-engine/generic"
)

var ruleFactory = factory.NewRuleFactory()

// =============================================================================
// COMMISSION RULES (commission.Store)
// =============================================================================

const ruleColumns = `seq, id, name, rule_type, definition_json, priority, is_active,
	valid_from, valid_to, created_at, updated_at`

// InsertCommissionRule stores r and returns its creation sequence.
func (s *Store) InsertCommissionRule(ctx context.Context, r commission.Rule) (int64, error) {
	def, err := ruleFactory.MarshalDefinition(r)
	if err != nil {
		return 0, err
	}
	var seq int64
	err = s.write(ctx, func(q querier) error {
		res, err := q.ExecContext(ctx, `
			INSERT INTO commission_rules
			(id, name, rule_type, definition_json, priority, is_active, valid_from, valid_to, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Name, string(r.Type()), string(def), r.Priority, r.Active,
			nullTime(r.Window.From), nullTime(r.Window.To), formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert commission rule: %w", err)
		}
		seq, err = res.LastInsertId()
		return err
	})
	return seq, err
}

// UpdateCommissionRule rewrites a rule's definition. Its sequence is kept.
func (s *Store) UpdateCommissionRule(ctx context.Context, r commission.Rule) error {
	def, err := ruleFactory.MarshalDefinition(r)
	if err != nil {
		return err
	}
	return s.write(ctx, func(q querier) error {
		res, err := q.ExecContext(ctx, `
			UPDATE commission_rules SET
				name = ?, rule_type = ?, definition_json = ?, priority = ?, is_active = ?,
				valid_from = ?, valid_to = ?, updated_at = ?
			WHERE id = ?`,
			r.Name, string(r.Type()), string(def), r.Priority, r.Active,
			nullTime(r.Window.From), nullTime(r.Window.To), formatTime(r.UpdatedAt), r.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update commission rule: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return generic.NewNotFound("commission_rule", r.ID)
		}
		return nil
	})
}

// GetCommissionRule retrieves a rule by ID.
func (s *Store) GetCommissionRule(ctx context.Context, id string) (*commission.Rule, error) {
	var r *commission.Rule
	err := s.read(ctx, func(q querier) error {
		got, err := scanRule(q.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM commission_rules WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		r = &got
		return nil
	})
	return r, err
}

// ListCommissionRules returns rules in creation order.
func (s *Store) ListCommissionRules(ctx context.Context, activeOnly bool) ([]commission.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM commission_rules`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY seq ASC`

	var out []commission.Rule
	err := s.read(ctx, func(q querier) error {
		rows, err := q.QueryContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to query commission rules: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			r, err := scanRule(rows)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

func scanRule(row scanner) (commission.Rule, error) {
	var (
		r                    commission.Rule
		ruleType, def        string
		validFrom, validTo   sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&r.Seq, &r.ID, &r.Name, &ruleType, &def, &r.Priority, &r.Active,
		&validFrom, &validTo, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan commission rule: %w", err)
	}
	if err := ruleFactory.UnmarshalDefinition(ruleType, []byte(def), &r); err != nil {
		return r, fmt.Errorf("commission rule %s: %w", r.ID, err)
	}
	if r.Window.From, err = parseNullTime(validFrom); err != nil {
		return r, err
	}
	if r.Window.To, err = parseNullTime(validTo); err != nil {
		return r, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return r, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return r, err
	}
	return r, nil
}

// =============================================================================
// LEDGER ROWS
// =============================================================================

const txColumns = `id, rep_id, order_id, business_account_id, territory_id, tx_type, source,
	order_amount, commissionable_amount, commission_rate, commission_amount, status,
	sale_date, period, reference_id, approved_by, approved_at, payment_reference, paid_at,
	cancel_reason, cancelled_by, cancelled_at, idempotency_key, created_at`

// InsertTransaction appends a ledger row.
func (s *Store) InsertTransaction(ctx context.Context, tx commission.Transaction) error {
	return s.write(ctx, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO commission_transactions (`+txColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			tx.ID, tx.RepID, tx.OrderID, tx.BusinessAccountID, tx.TerritoryID, string(tx.Type), tx.Source,
			tx.OrderAmount.String(), tx.CommissionableAmount.String(), tx.Rate.String(), tx.Amount.String(), string(tx.Status),
			formatTime(tx.SaleDate), string(tx.Period), tx.ReferenceID, tx.ApprovedBy, nullTime(tx.ApprovedAt), tx.PaymentReference, nullTime(tx.PaidAt),
			tx.CancelReason, tx.CancelledBy, nullTime(tx.CancelledAt), nullString(tx.IdempotencyKey), formatTime(tx.CreatedAt),
		)
		switch {
		case err == nil:
			return nil
		case violates(err, "commission_transactions.idempotency_key"):
			return fmt.Errorf("%w: %s", generic.ErrDuplicateIdempotencyKey, tx.IdempotencyKey)
		case violates(err, "commission_transactions.reference_id"):
			return &generic.InvalidStateTransitionError{Kind: "transaction", ID: tx.ReferenceID, From: "clawed back", To: string(commission.TxClawback)}
		default:
			return fmt.Errorf("failed to insert commission transaction: %w", err)
		}
	})
}

// UpdateTransactionStatus writes the lifecycle fields of tx.
func (s *Store) UpdateTransactionStatus(ctx context.Context, tx commission.Transaction) error {
	return s.write(ctx, func(q querier) error {
		res, err := q.ExecContext(ctx, `
			UPDATE commission_transactions SET
				status = ?, approved_by = ?, approved_at = ?, payment_reference = ?, paid_at = ?,
				cancel_reason = ?, cancelled_by = ?, cancelled_at = ?
			WHERE id = ?`,
			string(tx.Status), tx.ApprovedBy, nullTime(tx.ApprovedAt), tx.PaymentReference, nullTime(tx.PaidAt),
			tx.CancelReason, tx.CancelledBy, nullTime(tx.CancelledAt), tx.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update commission transaction: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return generic.NewNotFound("transaction", tx.ID)
		}
		return nil
	})
}

// GetTransaction retrieves a ledger row by ID.
func (s *Store) GetTransaction(ctx context.Context, id string) (*commission.Transaction, error) {
	return s.queryOneTransaction(ctx, `SELECT `+txColumns+` FROM commission_transactions WHERE id = ?`, id)
}

// ClawbackOf returns the clawback row referencing originalID, if any.
func (s *Store) ClawbackOf(ctx context.Context, originalID string) (*commission.Transaction, error) {
	return s.queryOneTransaction(ctx,
		`SELECT `+txColumns+` FROM commission_transactions WHERE reference_id = ? AND tx_type = ?`,
		originalID, string(commission.TxClawback))
}

// ListTransactions returns rows matching f in insertion order.
func (s *Store) ListTransactions(ctx context.Context, f commission.TxFilter) ([]commission.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if f.RepID != "" {
		where = append(where, "rep_id = ?")
		args = append(args, f.RepID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Period != "" {
		where = append(where, "period = ?")
		args = append(args, string(f.Period))
	}
	if f.OrderID != "" {
		where = append(where, "order_id = ?")
		args = append(args, f.OrderID)
	}
	if len(f.Types) > 0 {
		where = append(where, "tx_type IN ("+placeholders(len(f.Types))+")")
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	query := `SELECT ` + txColumns + ` FROM commission_transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var out []commission.Transaction
	err := s.read(ctx, func(q querier) error {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to query commission transactions: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			tx, err := scanTransaction(rows)
			if err != nil {
				return err
			}
			out = append(out, tx)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) queryOneTransaction(ctx context.Context, query string, args ...any) (*commission.Transaction, error) {
	var tx *commission.Transaction
	err := s.read(ctx, func(q querier) error {
		got, err := scanTransaction(q.QueryRowContext(ctx, query, args...))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		tx = &got
		return nil
	})
	return tx, err
}

func scanTransaction(row scanner) (commission.Transaction, error) {
	var (
		tx                              commission.Transaction
		txType, status, period          string
		orderAmount, commissionable     string
		rate, amount                    string
		saleDate, createdAt             string
		approvedAt, paidAt, cancelledAt sql.NullString
		idempotencyKey                  sql.NullString
	)
	err := row.Scan(
		&tx.ID, &tx.RepID, &tx.OrderID, &tx.BusinessAccountID, &tx.TerritoryID, &txType, &tx.Source,
		&orderAmount, &commissionable, &rate, &amount, &status,
		&saleDate, &period, &tx.ReferenceID, &tx.ApprovedBy, &approvedAt, &tx.PaymentReference, &paidAt,
		&tx.CancelReason, &tx.CancelledBy, &cancelledAt, &idempotencyKey, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tx, err
		}
		return tx, fmt.Errorf("failed to scan commission transaction: %w", err)
	}

	tx.Type = commission.TxType(txType)
	tx.Status = commission.TxStatus(status)
	tx.Period = generic.Period(period)
	tx.IdempotencyKey = idempotencyKey.String
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&tx.OrderAmount, orderAmount},
		{&tx.CommissionableAmount, commissionable},
		{&tx.Rate, rate},
		{&tx.Amount, amount},
	} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return tx, fmt.Errorf("transaction %s: invalid amount %q: %w", tx.ID, f.src, err)
		}
		*f.dst = d
	}
	if tx.SaleDate, err = parseTime(saleDate); err != nil {
		return tx, err
	}
	if tx.CreatedAt, err = parseTime(createdAt); err != nil {
		return tx, err
	}
	if tx.ApprovedAt, err = parseNullTime(approvedAt); err != nil {
		return tx, err
	}
	if tx.PaidAt, err = parseNullTime(paidAt); err != nil {
		return tx, err
	}
	if tx.CancelledAt, err = parseNullTime(cancelledAt); err != nil {
		return tx, err
	}
	return tx, nil
}
