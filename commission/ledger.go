package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/territory-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// COMMISSION LEDGER - Append-only transactions with a lifecycle
// =============================================================================

// DefaultPayoutChunkSize bounds how many rows one payout transaction pays.
const DefaultPayoutChunkSize = 500

// Ledger records commission transactions and moves them through
// pending -> approved -> paid. Rows are never deleted and their amounts are
// never rewritten; cancelling a paid row appends a clawback instead.
type Ledger struct {
	store     Store
	opts      generic.Options
	chunkSize int
}

// NewLedger creates a ledger. chunkSize <= 0 uses DefaultPayoutChunkSize.
func NewLedger(store Store, chunkSize int, opts generic.Options) *Ledger {
	if chunkSize <= 0 {
		chunkSize = DefaultPayoutChunkSize
	}
	return &Ledger{store: store, opts: opts.WithDefaults(), chunkSize: chunkSize}
}

// Record appends one pending transaction and returns its id.
func (l *Ledger) Record(ctx context.Context, tx Transaction) (string, error) {
	if err := generic.ValidateStruct(tx); err != nil {
		return "", err
	}
	now := l.opts.Clock.Now()
	if err := checkPeriod(tx, now); err != nil {
		return "", err
	}
	row := l.newRow(tx, now)

	err := generic.RetryTx(ctx, l.opts.Retry, l.store, "commission.record", l.opts.Logger, func(ctx context.Context) error {
		return l.store.InsertTransaction(ctx, row)
	})
	if err != nil {
		return "", err
	}

	l.opts.Logger.Info("commission recorded",
		zap.String("transaction_id", row.ID),
		zap.String("rep_id", row.RepID),
		zap.String("type", string(row.Type)),
		zap.String("amount", row.Amount.String()))
	return row.ID, nil
}

// RecordCalculation writes a calculation as one sale row, one bonus row per
// bonus line and one adjustment row per deduction, all in one transaction.
// Each row's idempotency key is "<orderID>:<source>", so recording the same
// order twice fails with generic.ErrDuplicateIdempotencyKey and writes nothing.
func (l *Ledger) RecordCalculation(ctx context.Context, calc Calculation) ([]string, error) {
	var verr error
	if calc.OrderID == "" {
		verr = generic.WithFieldError(verr, "order_id", "is required")
	}
	if calc.RepID == "" {
		verr = generic.WithFieldError(verr, "rep_id", "is required")
	}
	if verr != nil {
		return nil, verr
	}
	now := l.opts.Clock.Now()
	rows := l.calculationRows(calc, now)

	err := generic.RetryTx(ctx, l.opts.Retry, l.store, "commission.record_calculation", l.opts.Logger, func(ctx context.Context) error {
		for _, row := range rows {
			if err := l.store.InsertTransaction(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	l.opts.Logger.Info("commission calculation recorded",
		zap.String("order_id", calc.OrderID),
		zap.String("rep_id", calc.RepID),
		zap.Int("rows", len(rows)),
		zap.String("total", calc.TotalAmount.String()))
	return ids, nil
}

func (l *Ledger) calculationRows(calc Calculation, now time.Time) []Transaction {
	template := Transaction{
		RepID:             calc.RepID,
		OrderID:           calc.OrderID,
		BusinessAccountID: calc.BusinessAccountID,
		TerritoryID:       calc.TerritoryID,
		OrderAmount:       calc.OrderAmount,
		SaleDate:          calc.SaleDate,
	}

	sale := template
	sale.Type = TxSale
	sale.Source = SourceBase
	sale.CommissionableAmount = calc.CommissionableAmount
	sale.Rate = calc.BaseRate
	sale.Amount = calc.BaseAmount
	rows := []Transaction{l.newRow(sale, now)}

	for _, b := range calc.Bonuses {
		row := template
		row.Type = TxBonus
		row.Source = b.Source
		row.CommissionableAmount = b.Basis
		row.Rate = b.Rate
		row.Amount = b.Amount
		rows = append(rows, l.newRow(row, now))
	}
	for _, d := range calc.Deductions {
		row := template
		row.Type = TxAdjustment
		row.Source = d.Source
		row.CommissionableAmount = d.Basis
		row.Rate = d.Rate.Neg()
		row.Amount = d.Amount.Neg()
		rows = append(rows, l.newRow(row, now))
	}
	return rows
}

// checkPeriod rejects a caller-supplied period that is malformed or does not
// contain the sale date. An empty period is derived from the sale date later.
func checkPeriod(tx Transaction, now time.Time) error {
	if tx.Period == "" {
		return nil
	}
	p, err := generic.ParsePeriod(string(tx.Period))
	if err != nil {
		return err
	}
	saleDate := tx.SaleDate
	if saleDate.IsZero() {
		saleDate = now
	}
	if !p.Contains(saleDate) {
		return generic.NewValidationError("period",
			fmt.Sprintf("sale date %s is outside period %s", saleDate.UTC().Format(time.DateOnly), p))
	}
	return nil
}

// newRow stamps identity, lifecycle and period fields on a new pending row.
func (l *Ledger) newRow(tx Transaction, now time.Time) Transaction {
	tx.ID = l.opts.IDs()
	tx.Status = StatusPending
	tx.CreatedAt = now
	if tx.SaleDate.IsZero() {
		tx.SaleDate = now
	}
	if tx.Period == "" {
		tx.Period = generic.PeriodOf(tx.SaleDate)
	}
	if tx.IdempotencyKey == "" && tx.Source != "" {
		tx.IdempotencyKey = IdempotencyKey(tx.OrderID, tx.Source)
	}
	tx.ApprovedBy, tx.ApprovedAt = "", nil
	tx.PaymentReference, tx.PaidAt = "", nil
	tx.CancelReason, tx.CancelledBy, tx.CancelledAt = "", "", nil
	return tx
}

// ApprovalFailure explains why one id was not approved.
type ApprovalFailure struct {
	ID  string `json:"id"`
	Err error  `json:"-"`
}

// ApprovalResult lists what an approval batch did.
type ApprovalResult struct {
	Approved []string          `json:"approved"`
	Failed   []ApprovalFailure `json:"failed"`
}

// Approve moves pending rows to approved. Ids that are unknown or not
// pending are reported in Failed and do not stop the others; the approved
// rows commit together.
func (l *Ledger) Approve(ctx context.Context, ids []string, approvedBy string) (*ApprovalResult, error) {
	if approvedBy == "" {
		return nil, generic.NewValidationError("approved_by", "is required")
	}
	if len(ids) == 0 {
		return nil, generic.NewValidationError("transaction_ids", "is required")
	}

	var res ApprovalResult
	err := generic.RetryTx(ctx, l.opts.Retry, l.store, "commission.approve", l.opts.Logger, func(ctx context.Context) error {
		res = ApprovalResult{Approved: []string{}, Failed: []ApprovalFailure{}}
		now := l.opts.Clock.Now()
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true

			tx, err := l.store.GetTransaction(ctx, id)
			if err != nil {
				return err
			}
			if tx == nil {
				res.Failed = append(res.Failed, ApprovalFailure{ID: id, Err: generic.NewNotFound("transaction", id)})
				continue
			}
			if tx.Status != StatusPending {
				res.Failed = append(res.Failed, ApprovalFailure{ID: id, Err: &generic.InvalidStateTransitionError{
					Kind: "transaction", ID: id, From: string(tx.Status), To: string(StatusApproved),
				}})
				continue
			}
			tx.Status = StatusApproved
			tx.ApprovedBy = approvedBy
			tx.ApprovedAt = &now
			if err := l.store.UpdateTransactionStatus(ctx, *tx); err != nil {
				return err
			}
			res.Approved = append(res.Approved, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.opts.Logger.Info("commissions approved",
		zap.String("approved_by", approvedBy),
		zap.Int("approved", len(res.Approved)),
		zap.Int("failed", len(res.Failed)))
	return &res, nil
}

// PayoutResult summarizes one payout run.
type PayoutResult struct {
	Period           generic.Period  `json:"period"`
	PaymentReference string          `json:"payment_reference"`
	Count            int             `json:"count"`
	Total            decimal.Decimal `json:"total"`
	Chunks           int             `json:"chunks"`
}

// Payout marks every approved row of period as paid with paymentReference.
// Rows are paid in chunks, each its own transaction, so a timeout leaves
// the committed chunks paid and only the tail approved. Running it again
// for a fully paid period pays nothing.
func (l *Ledger) Payout(ctx context.Context, period generic.Period, paymentReference string) (*PayoutResult, error) {
	if _, err := generic.ParsePeriod(string(period)); err != nil {
		return nil, err
	}
	if paymentReference == "" {
		return nil, generic.NewValidationError("payment_reference", "is required")
	}

	res := &PayoutResult{Period: period, PaymentReference: paymentReference, Total: decimal.Zero}
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var paid int
		var total decimal.Decimal
		err := generic.RetryTx(ctx, l.opts.Retry, l.store, "commission.payout", l.opts.Logger, func(ctx context.Context) error {
			paid, total = 0, decimal.Zero
			rows, err := l.store.ListTransactions(ctx, TxFilter{Period: period, Status: StatusApproved, Limit: l.chunkSize})
			if err != nil {
				return err
			}
			now := l.opts.Clock.Now()
			for _, tx := range rows {
				tx.Status = StatusPaid
				tx.PaymentReference = paymentReference
				tx.PaidAt = &now
				if err := l.store.UpdateTransactionStatus(ctx, tx); err != nil {
					return err
				}
				paid++
				total = total.Add(tx.Amount)
			}
			return nil
		})
		if err != nil {
			return res, err
		}
		if paid == 0 {
			break
		}
		res.Count += paid
		res.Total = res.Total.Add(total)
		res.Chunks++
		if paid < l.chunkSize {
			break
		}
	}

	l.opts.Logger.Info("commission payout",
		zap.String("period", string(period)),
		zap.String("payment_reference", paymentReference),
		zap.Int("count", res.Count),
		zap.String("total", res.Total.String()),
		zap.Int("chunks", res.Chunks))
	return res, nil
}

// Cancel voids a transaction. Pending and approved rows become cancelled.
// A paid row is left untouched and a pending clawback row with negated
// amounts is appended instead; a row can be clawed back once. The returned
// transaction is the cancelled row or the new clawback.
func (l *Ledger) Cancel(ctx context.Context, id, reason, by string) (*Transaction, error) {
	if by == "" {
		return nil, generic.NewValidationError("cancelled_by", "is required")
	}

	var out Transaction
	err := generic.RetryTx(ctx, l.opts.Retry, l.store, "commission.cancel", l.opts.Logger, func(ctx context.Context) error {
		now := l.opts.Clock.Now()
		tx, err := l.mustGet(ctx, id)
		if err != nil {
			return err
		}

		switch tx.Status {
		case StatusPending, StatusApproved:
			tx.Status = StatusCancelled
			tx.CancelReason = reason
			tx.CancelledBy = by
			tx.CancelledAt = &now
			if err := l.store.UpdateTransactionStatus(ctx, *tx); err != nil {
				return err
			}
			out = *tx
			return nil

		case StatusPaid:
			if tx.Type == TxClawback {
				return &generic.InvalidStateTransitionError{Kind: "transaction", ID: id, From: "paid clawback", To: string(TxClawback)}
			}
			existing, err := l.store.ClawbackOf(ctx, id)
			if err != nil {
				return err
			}
			if existing != nil {
				return &generic.InvalidStateTransitionError{Kind: "transaction", ID: id, From: "clawed back", To: string(TxClawback)}
			}
			claw := Transaction{
				RepID:                tx.RepID,
				OrderID:              tx.OrderID,
				BusinessAccountID:    tx.BusinessAccountID,
				TerritoryID:          tx.TerritoryID,
				Type:                 TxClawback,
				Source:               SourceClawback,
				OrderAmount:          tx.OrderAmount.Neg(),
				CommissionableAmount: tx.CommissionableAmount.Neg(),
				Rate:                 tx.Rate,
				Amount:               tx.Amount.Neg(),
				SaleDate:             now,
				ReferenceID:          tx.ID,
				IdempotencyKey:       IdempotencyKey(tx.ID, SourceClawback),
			}
			// Only a sale clawed back within its own period reduces volume.
			// A closed period keeps its volume, and the clawback must not eat
			// into the volume of the period it is filed under.
			if tx.Type != TxSale || generic.PeriodOf(now) != tx.Period {
				claw.OrderAmount = decimal.Zero
			}
			row := l.newRow(claw, now)
			row.CancelReason = reason
			row.CancelledBy = by
			if err := l.store.InsertTransaction(ctx, row); err != nil {
				if errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
					return &generic.InvalidStateTransitionError{Kind: "transaction", ID: id, From: "clawed back", To: string(TxClawback)}
				}
				return err
			}
			out = row
			return nil

		default:
			return &generic.InvalidStateTransitionError{Kind: "transaction", ID: id, From: string(tx.Status), To: string(StatusCancelled)}
		}
	})
	if err != nil {
		return nil, err
	}

	l.opts.Logger.Info("commission cancelled",
		zap.String("transaction_id", id),
		zap.String("result_id", out.ID),
		zap.String("result_type", string(out.Type)),
		zap.String("by", by))
	return &out, nil
}

// MonthlyVolume is the rep's order volume for period: the order amounts of
// non-cancelled sale rows, net of their clawbacks.
func (l *Ledger) MonthlyVolume(ctx context.Context, repID string, period generic.Period) (decimal.Decimal, error) {
	rows, err := l.store.ListTransactions(ctx, TxFilter{RepID: repID, Period: period, Types: []TxType{TxSale, TxClawback}})
	if err != nil {
		return decimal.Zero, err
	}
	volume := decimal.Zero
	for _, tx := range rows {
		if tx.Status == StatusCancelled {
			continue
		}
		volume = volume.Add(tx.OrderAmount)
	}
	return volume, nil
}

// Get returns one transaction.
func (l *Ledger) Get(ctx context.Context, id string) (*Transaction, error) {
	return l.mustGet(ctx, id)
}

// List returns transactions matching f in insertion order.
func (l *Ledger) List(ctx context.Context, f TxFilter) ([]Transaction, error) {
	if f.Period != "" {
		if _, err := generic.ParsePeriod(string(f.Period)); err != nil {
			return nil, err
		}
	}
	return l.store.ListTransactions(ctx, f)
}

// Summary is a rep's commission position for one period.
type Summary struct {
	RepID    string          `json:"rep_id"`
	Period   generic.Period  `json:"period"`
	Volume   decimal.Decimal `json:"volume"`
	Pending  decimal.Decimal `json:"pending"`
	Approved decimal.Decimal `json:"approved"`
	Paid     decimal.Decimal `json:"paid"`
	Owed     decimal.Decimal `json:"owed"` // all non-cancelled rows
	Count    int             `json:"count"`
}

// Summary totals a rep's rows for period by status.
func (l *Ledger) Summary(ctx context.Context, repID string, period generic.Period) (*Summary, error) {
	if _, err := generic.ParsePeriod(string(period)); err != nil {
		return nil, err
	}
	rows, err := l.store.ListTransactions(ctx, TxFilter{RepID: repID, Period: period})
	if err != nil {
		return nil, err
	}
	s := &Summary{
		RepID: repID, Period: period,
		Volume: decimal.Zero, Pending: decimal.Zero, Approved: decimal.Zero, Paid: decimal.Zero, Owed: decimal.Zero,
	}
	for _, tx := range rows {
		if tx.Status == StatusCancelled {
			continue
		}
		s.Count++
		s.Owed = s.Owed.Add(tx.Amount)
		switch tx.Status {
		case StatusPending:
			s.Pending = s.Pending.Add(tx.Amount)
		case StatusApproved:
			s.Approved = s.Approved.Add(tx.Amount)
		case StatusPaid:
			s.Paid = s.Paid.Add(tx.Amount)
		}
		if tx.Type == TxSale || tx.Type == TxClawback {
			s.Volume = s.Volume.Add(tx.OrderAmount)
		}
	}
	return s, nil
}

func (l *Ledger) mustGet(ctx context.Context, id string) (*Transaction, error) {
	tx, err := l.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, generic.NewNotFound("transaction", id)
	}
	return tx, nil
}
