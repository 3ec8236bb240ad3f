/*
metrics.go - Prometheus instrumentation

PURPOSE:
  One Recorder per process, holding its own registry so tests can build as
  many as they like without colliding on the default registerer.

METRICS:
  territory_http_requests_total{method,route,status}
  territory_http_request_duration_seconds{method,route}
  territory_operations_total{op,outcome}          domain operations
  territory_protection_downgrades_total
  territory_commission_recorded_amount_total{type}
  territory_payout_rows_total
  territory_payout_amount_total

USAGE:
  rec := metrics.New()
  rec.ObserveOperation("territory.assign", err)
  http.Handle("/metrics", rec.Handler())

A nil *Recorder is valid and records nothing.
*/
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/warp/territory-engine/generic"
)

const namespace = "territory"

// Recorder owns the process metrics.
type Recorder struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	operations     *prometheus.CounterVec
	downgrades     prometheus.Counter
	recordedAmount *prometheus.CounterVec
	payoutRows     prometheus.Counter
	payoutAmount   prometheus.Counter
}

// New creates a recorder with Go runtime and process collectors attached.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Domain operations by outcome.",
		}, []string{"op", "outcome"}),
		downgrades: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protection_downgrades_total",
			Help:      "Protected territories dropped to assigned by re-evaluation.",
		}),
		recordedAmount: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commission_recorded_amount_total",
			Help:      "Commission recorded in the ledger, by row type. Clawbacks count their absolute value.",
		}, []string{"type"}),
		payoutRows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_rows_total",
			Help:      "Ledger rows moved to paid.",
		}),
		payoutAmount: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_amount_total",
			Help:      "Commission amount moved to paid.",
		}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveHTTP records one finished request. route is the matched pattern,
// not the raw path, to keep label cardinality bounded.
func (r *Recorder) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveOperation counts one domain operation under its error class.
func (r *Recorder) ObserveOperation(op string, err error) {
	if r == nil {
		return
	}
	r.operations.WithLabelValues(op, Outcome(err)).Inc()
}

// ProtectionDowngraded counts one re-evaluation downgrade.
func (r *Recorder) ProtectionDowngraded() {
	if r == nil {
		return
	}
	r.downgrades.Inc()
}

// CommissionRecorded adds amount to the per-type recorded total.
func (r *Recorder) CommissionRecorded(txType string, amount decimal.Decimal) {
	if r == nil {
		return
	}
	r.recordedAmount.WithLabelValues(txType).Add(amount.Abs().InexactFloat64())
}

// PaidOut records a finished payout run.
func (r *Recorder) PaidOut(rows int, amount decimal.Decimal) {
	if r == nil {
		return
	}
	r.payoutRows.Add(float64(rows))
	if amount.IsPositive() {
		r.payoutAmount.Add(amount.InexactFloat64())
	}
}

// Outcome is the label an error is counted under.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, generic.ErrValidation):
		return "invalid"
	case errors.Is(err, generic.ErrNotFound):
		return "not_found"
	case errors.Is(err, generic.ErrApprovalRequired):
		return "approval_required"
	case errors.Is(err, generic.ErrUnavailable):
		return "unavailable"
	case generic.IsClientError(err):
		return "rejected"
	default:
		return "error"
	}
}
