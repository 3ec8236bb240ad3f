/*
handlers.go - HTTP API handler wiring

PURPOSE:
  Exposes the territory and commission engine via REST. Handlers parse the
  request, call exactly one domain service, and serialize the result. No
  business rule lives here.

ARCHITECTURE:
  Handler holds every service, all built over one *sqlite.Store which also
  stands in for the external rep and account directories:
  - Registry, Protection, Coordinator  (territory)
  - Engine, Ledger, Rules              (commission)
  - Reevaluator, Payouts               (jobs)

REQUEST FLOW:
  1. Decode the body (unknown fields are rejected) and path/query params
  2. Call the domain service
  3. Map errors with writeDomainError (see errors.go)
  4. Serialize the response DTO

SEE ALSO:
  - territories.go: Territory, protection, assignment, conflict and rep endpoints
  - commissions.go: Commission, rule and job endpoints
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/warp/territory-engine/commission"
	"github.com/warp/territory-engine/factory"
	"github.com/warp/territory-engine/generic"
	"github.com/warp/territory-engine/jobs"
	"github.com/warp/territory-engine/metrics"
	"github.com/warp/territory-engine/store/sqlite"
	"github.com/warp/territory-engine/territory"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       *sqlite.Store
	Registry    *territory.Registry
	Protection  *territory.ProtectionStore
	Coordinator *territory.Coordinator
	Engine      *commission.Engine
	Ledger      *commission.Ledger
	Rules       *commission.RuleBook
	RuleFactory *factory.RuleFactory
	Reevaluator *jobs.Reevaluator
	Payouts     *jobs.PayoutRunner
	Metrics     *metrics.Recorder
	Logger      *zap.Logger
	Clock       generic.Clock

	// ScenariosEnabled mounts the demo endpoints, which wipe the database.
	ScenariosEnabled bool

	mu              sync.Mutex
	currentScenario string
}

// HandlerConfig carries the optional knobs of NewHandler.
type HandlerConfig struct {
	PayoutChunkSize  int
	ScenariosEnabled bool
}

// NewHandler wires every service over store. rec may be nil.
func NewHandler(store *sqlite.Store, rec *metrics.Recorder, opts generic.Options, cfg HandlerConfig) *Handler {
	opts = opts.WithDefaults()

	registry := territory.NewRegistry(store, opts)
	protection := territory.NewProtectionStore(store, opts)
	coordinator := territory.NewCoordinator(store, store, opts)
	ledger := commission.NewLedger(store, cfg.PayoutChunkSize, opts)
	engine := commission.NewEngine(commission.EngineDeps{
		Reps:      store,
		Accounts:  store,
		Volumes:   ledger,
		Rules:     store,
		Overrides: store,
	}, opts)

	return &Handler{
		Store:            store,
		Registry:         registry,
		Protection:       protection,
		Coordinator:      coordinator,
		Engine:           engine,
		Ledger:           ledger,
		Rules:            commission.NewRuleBook(store, opts),
		RuleFactory:      factory.NewRuleFactory(),
		Reevaluator:      jobs.NewReevaluator(registry, protection, coordinator, store, rec, opts),
		Payouts:          jobs.NewPayoutRunner(ledger, rec, opts),
		Metrics:          rec,
		Logger:           opts.Logger,
		Clock:            opts.Clock,
		ScenariosEnabled: cfg.ScenariosEnabled,
	}
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports whether the database answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.Store.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeJSON reads the request body into dst. Malformed bodies, unknown
// fields and trailing data come back as a validation error on "body".
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return generic.NewValidationError("body", fmt.Sprintf("must be at most %d bytes", tooLarge.Limit))
		}
		if errors.Is(err, io.EOF) {
			return generic.NewValidationError("body", "is required")
		}
		return generic.NewValidationError("body", err.Error())
	}
	if dec.More() {
		return generic.NewValidationError("body", "must contain a single JSON value")
	}
	return nil
}

// readBody returns the raw body, for payloads parsed by the rule factory.
func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, generic.NewValidationError("body", fmt.Sprintf("must be at most %d bytes", tooLarge.Limit))
		}
		return nil, err
	}
	return data, nil
}

// queryPeriod parses ?period=YYYY-MM, defaulting to the current month.
func (h *Handler) queryPeriod(r *http.Request) (generic.Period, error) {
	p := r.URL.Query().Get("period")
	if p == "" {
		return generic.PeriodOf(h.Clock.Now()), nil
	}
	return generic.ParsePeriod(p)
}

// queryLimit parses ?limit=, 0 when absent.
func queryLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, generic.NewValidationError("limit", "must be a non-negative integer")
	}
	return n, nil
}
