package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dativo-io/warden/internal/browse"
	"github.com/dativo-io/warden/internal/credit"
	"github.com/dativo-io/warden/internal/engine"
	"github.com/dativo-io/warden/internal/policy"
	"github.com/dativo-io/warden/internal/session"
)

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

// writeJSON writes a JSON success response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps domain errors onto the API taxonomy: absence → 404,
// lifecycle/argument problems → 400, guardrail refusals → 403, credit
// shortfall → 402, upstream fetch failures → 502, anything else → 500 with
// minimal detail to the caller.
func writeDomainError(w http.ResponseWriter, err error) {
	var blocked *engine.BlockedError
	if errors.As(err, &blocked) {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"error":             "blocked",
			"message":           blocked.Error(),
			"blocked_reason":    blocked.Reason,
			"requires_approval": false,
		})
		return
	}

	var fetchErr *browse.FetchError
	if errors.As(err, &fetchErr) {
		writeError(w, http.StatusBadGateway, "upstream_fetch_failure", fetchErr.Error())
		return
	}

	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrStepNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, session.ErrExpired):
		writeError(w, http.StatusBadRequest, "expired", err.Error())
	case errors.Is(err, session.ErrBudgetExceeded):
		writeError(w, http.StatusBadRequest, "budget_exceeded", err.Error())
	case errors.Is(err, session.ErrInvalidState), errors.Is(err, session.ErrInvalidStepState):
		writeError(w, http.StatusBadRequest, "invalid_state", err.Error())
	case errors.Is(err, session.ErrPolicyDenied),
		errors.Is(err, policy.ErrProfileNotFound),
		errors.Is(err, engine.ErrInvalidArgument),
		errors.Is(err, engine.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, credit.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "insufficient_credits", err.Error())
	default:
		log.Error().Err(err).Msg("internal_error")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
