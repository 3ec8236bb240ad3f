/*
errors.go - Domain error to HTTP response mapping

STATUS CODES:
  400  ErrValidation (body carries the failing fields)
  403  ErrApprovalRequired
  404  ErrNotFound
  409  ErrConflict (body carries the colliding codes), ErrAlreadyProtected,
       ErrNotAssignedToRep, ErrInvalidStateTransition, ErrDuplicateIdempotencyKey
  503  ErrUnavailable, ErrTransient
  500  anything else

Every 5xx is logged with the request id before the response is written.

SEE ALSO:
  - generic/errors.go: The error taxonomy
*/
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/territory-engine/generic"
	"go.uber.org/zap"
)

// errorCode is the machine-readable code sent with each error class.
type errorCode struct {
	status int
	code   string
}

var errorCodes = []struct {
	target error
	errorCode
}{
	{generic.ErrValidation, errorCode{http.StatusBadRequest, "validation_failed"}},
	{generic.ErrApprovalRequired, errorCode{http.StatusForbidden, "approval_required"}},
	{generic.ErrNotFound, errorCode{http.StatusNotFound, "not_found"}},
	{generic.ErrConflict, errorCode{http.StatusConflict, "postal_code_conflict"}},
	{generic.ErrAlreadyProtected, errorCode{http.StatusConflict, "already_protected"}},
	{generic.ErrNotAssignedToRep, errorCode{http.StatusConflict, "not_assigned_to_rep"}},
	{generic.ErrInvalidStateTransition, errorCode{http.StatusConflict, "invalid_state_transition"}},
	{generic.ErrDuplicateIdempotencyKey, errorCode{http.StatusConflict, "duplicate"}},
	{generic.ErrUnavailable, errorCode{http.StatusServiceUnavailable, "unavailable"}},
	{generic.ErrTransient, errorCode{http.StatusServiceUnavailable, "unavailable"}},
	{context.DeadlineExceeded, errorCode{http.StatusServiceUnavailable, "timeout"}},
}

func classifyError(err error) errorCode {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.target) {
			return ec.errorCode
		}
	}
	return errorCode{http.StatusInternalServerError, "internal"}
}

// StatusFor returns the HTTP status a domain error is reported with.
func StatusFor(err error) int {
	return classifyError(err).status
}

// writeDomainError reports err with its mapped status. Structured errors
// attach their payload as details.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	ec := classifyError(err)
	resp := ErrorResponse{Error: err.Error(), Code: ec.code}

	var verr *generic.ValidationError
	var cerr *generic.ConflictError
	var perr *generic.AlreadyProtectedError
	switch {
	case errors.As(err, &verr):
		resp.Details = verr.Fields
		if verr.Code != "" {
			resp.Code = verr.Code
		}
	case errors.As(err, &cerr):
		resp.Details = cerr.Conflicts
	case errors.As(err, &perr):
		resp.Details = map[string]string{"territory_id": perr.TerritoryID, "current_rep_id": perr.CurrentRepID}
	}

	if ec.status >= http.StatusInternalServerError {
		h.Logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		if ec.status == http.StatusInternalServerError {
			resp.Error = "internal error"
		}
	}
	writeJSON(w, ec.status, resp)
}

// writeError writes a handler-level error that has no domain error behind it.
func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
