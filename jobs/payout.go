package jobs

import (
	"context"

	"github.com/warp/territory-engine/commission"
	"github.com/warp/territory-engine/generic"
	"github.com/warp/territory-engine/metrics"
	"go.uber.org/zap"
)

// =============================================================================
// PAYOUT JOB
// =============================================================================

// PayoutRunner settles approved commission rows for a period. Like the
// re-evaluation it only runs when triggered (territoryd payout, or
// POST /api/commissions/payout).
type PayoutRunner struct {
	ledger *commission.Ledger
	rec    *metrics.Recorder
	opts   generic.Options
}

// NewPayoutRunner creates the job. rec may be nil.
func NewPayoutRunner(ledger *commission.Ledger, rec *metrics.Recorder, opts generic.Options) *PayoutRunner {
	return &PayoutRunner{ledger: ledger, rec: rec, opts: opts.WithDefaults()}
}

// DefaultPeriod is the period a run settles when none is named: the month
// before the current one.
func (p *PayoutRunner) DefaultPeriod() generic.Period {
	return generic.PeriodOf(p.opts.Clock.Now()).Previous()
}

// DefaultReference is the payment reference used when none is given.
func DefaultReference(period generic.Period) string {
	return "payout-" + string(period)
}

// Run pays period with reference. An empty period means DefaultPeriod and
// an empty reference means DefaultReference. A partial result is returned
// alongside the error when a later chunk fails.
func (p *PayoutRunner) Run(ctx context.Context, period generic.Period, reference string) (*commission.PayoutResult, error) {
	if period == "" {
		period = p.DefaultPeriod()
	}
	if reference == "" {
		reference = DefaultReference(period)
	}

	res, err := p.ledger.Payout(ctx, period, reference)
	p.rec.ObserveOperation("commission.payout", err)
	if res != nil {
		p.rec.PaidOut(res.Count, res.Total)
	}
	if err != nil {
		p.opts.Logger.Error("payout failed",
			zap.String("period", string(period)),
			zap.String("payment_reference", reference),
			zap.Error(err))
		return res, err
	}
	return res, nil
}
