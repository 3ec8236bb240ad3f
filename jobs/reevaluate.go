/*
reevaluate.go - Protection re-evaluation job

PURPOSE:
  Walks every protected territory, refreshes its cached metrics from the
  account and ledger data, and asks the coordinator to re-check its
  protection rule. Territories whose performance or time_based rule no
  longer holds drop to assigned.

TRIGGERING:
  Nothing here runs on a timer. The job is started from outside:
  - territoryd reevaluate   (cron)
  - POST /api/jobs/reevaluate-protection

FAILURE ISOLATION:
  One territory failing does not stop the run; it is reported in Failed and
  the walk continues. A cancelled context stops the walk and returns the
  partial report together with the context error.

SEE ALSO:
  - territory/coordinator.go: ReevaluateProtection
  - territory/protection.go: EvaluateConditions
*/
package jobs

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/territory-engine/generic"
	"github.com/warp/territory-engine/metrics"
	"github.com/warp/territory-engine/territory"
	"go.uber.org/zap"
)

// DefaultTrailingDays is the revenue window used when a rule sets no period.
const DefaultTrailingDays = 90

// MetricsSource computes fresh territory metrics.
type MetricsSource interface {
	TerritoryAccountCounts(ctx context.Context, territoryID string) (total, active int, err error)
	// TerritoryRevenue sums order amounts with a sale date in [from, to).
	TerritoryRevenue(ctx context.Context, territoryID string, from, to time.Time) (decimal.Decimal, error)
}

// Failure is one territory or row a job could not process.
type Failure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// ReevaluationReport summarizes one run.
type ReevaluationReport struct {
	RunAt      time.Time `json:"run_at"`
	Checked    int       `json:"checked"`
	Evaluated  int       `json:"evaluated"`
	Downgraded []string  `json:"downgraded"`
	Failed     []Failure `json:"failed"`
}

// Reevaluator runs the protection re-evaluation.
type Reevaluator struct {
	registry    *territory.Registry
	protection  *territory.ProtectionStore
	coordinator *territory.Coordinator
	source      MetricsSource
	rec         *metrics.Recorder
	opts        generic.Options
}

// NewReevaluator creates the job. source may be nil, in which case the
// cached metrics are evaluated as they are. rec may be nil.
func NewReevaluator(registry *territory.Registry, protection *territory.ProtectionStore, coordinator *territory.Coordinator, source MetricsSource, rec *metrics.Recorder, opts generic.Options) *Reevaluator {
	return &Reevaluator{
		registry:    registry,
		protection:  protection,
		coordinator: coordinator,
		source:      source,
		rec:         rec,
		opts:        opts.WithDefaults(),
	}
}

// Run re-evaluates every protected territory.
func (r *Reevaluator) Run(ctx context.Context) (*ReevaluationReport, error) {
	report := &ReevaluationReport{
		RunAt:      r.opts.Clock.Now(),
		Downgraded: []string{},
		Failed:     []Failure{},
	}

	protected, err := r.registry.List(ctx, territory.Filter{Status: territory.StatusProtected})
	if err != nil {
		return report, err
	}

	r.opts.Logger.Info("protection re-evaluation started", zap.Int("territories", len(protected)))

	for _, t := range protected {
		if err := ctx.Err(); err != nil {
			r.opts.Logger.Warn("protection re-evaluation interrupted",
				zap.Int("checked", report.Checked), zap.Error(err))
			return report, err
		}
		report.Checked++

		res, err := r.reevaluate(ctx, t)
		r.rec.ObserveOperation("territory.reevaluate", err)
		if err != nil {
			r.opts.Logger.Warn("protection re-evaluation failed",
				zap.String("territory_id", t.ID), zap.Error(err))
			report.Failed = append(report.Failed, Failure{ID: t.ID, Error: err.Error()})
			continue
		}
		if res.Evaluated {
			report.Evaluated++
		}
		if res.Downgraded {
			report.Downgraded = append(report.Downgraded, t.ID)
			r.rec.ProtectionDowngraded()
		}
	}

	r.opts.Logger.Info("protection re-evaluation finished",
		zap.Int("checked", report.Checked),
		zap.Int("evaluated", report.Evaluated),
		zap.Int("downgraded", len(report.Downgraded)),
		zap.Int("failed", len(report.Failed)))
	return report, nil
}

func (r *Reevaluator) reevaluate(ctx context.Context, t territory.Territory) (*territory.ReevaluationResult, error) {
	if r.source != nil {
		if err := r.refreshMetrics(ctx, t); err != nil {
			return nil, err
		}
	}
	return r.coordinator.ReevaluateProtection(ctx, t.ID)
}

// refreshMetrics recomputes the cached metrics of t. Revenue is summed over
// the rule's period, or DefaultTrailingDays, ending now. Net clawbacks never
// push it below zero.
func (r *Reevaluator) refreshMetrics(ctx context.Context, t territory.Territory) error {
	days := DefaultTrailingDays
	rule, err := r.protection.GetRules(ctx, t.ID)
	if err != nil && !generic.IsNotFound(err) {
		return err
	}
	if rule != nil && rule.Conditions.PeriodDays > 0 {
		days = rule.Conditions.PeriodDays
	}

	total, active, err := r.source.TerritoryAccountCounts(ctx, t.ID)
	if err != nil {
		return err
	}
	now := r.opts.Clock.Now()
	revenue, err := r.source.TerritoryRevenue(ctx, t.ID, now.AddDate(0, 0, -days), now)
	if err != nil {
		return err
	}
	if revenue.IsNegative() {
		revenue = decimal.Zero
	}

	_, err = r.registry.UpdateMetrics(ctx, t.ID, territory.Metrics{
		AccountCount:       total,
		ActiveAccountCount: active,
		TrailingRevenue:    revenue,
	})
	return err
}
