package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/order-engine/internal/auth"
	"github.com/example/order-engine/internal/cart"
	"github.com/example/order-engine/internal/drivers"
	"github.com/example/order-engine/internal/engine"
	"github.com/example/order-engine/internal/lifecycle"
	"github.com/example/order-engine/internal/matcher"
	"github.com/example/order-engine/internal/storage"
)

var errForbidden = errors.New("forbidden")

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, retryable := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request_failed", "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "error", err)
	}
	writeJSON(w, status, errorBody{Error: code, Message: err.Error(), Retryable: retryable})
}

func classify(err error) (status int, code string, retryable bool) {
	switch {
	case errors.Is(err, auth.ErrNoCredentials),
		errors.Is(err, auth.ErrBadAuthScheme),
		errors.Is(err, auth.ErrInvalidSigningAlgo),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrInvalidRole):
		return http.StatusUnauthorized, "unauthorized", false
	case errors.Is(err, errForbidden), errors.Is(err, lifecycle.ErrForbiddenTransition):
		return http.StatusForbidden, "forbidden", false
	case errors.Is(err, matcher.ErrAlreadyAssigned):
		return http.StatusConflict, "already_assigned", true
	case errors.Is(err, matcher.ErrDriverUnavailable):
		return http.StatusConflict, "driver_unavailable", true
	case errors.Is(err, matcher.ErrNotBroadcast), errors.Is(err, matcher.ErrNotReady):
		return http.StatusConflict, "not_dispatchable", false
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", false
	case errors.Is(err, storage.ErrExists):
		return http.StatusConflict, "exists", false
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "order_not_found", false
	case errors.Is(err, drivers.ErrUnknownDriver):
		return http.StatusNotFound, "driver_not_found", false
	case errors.Is(err, engine.ErrInvalidOrder),
		errors.Is(err, engine.ErrEmptyCart),
		errors.Is(err, cart.ErrInvalidItem),
		errors.Is(err, drivers.ErrInvalidStatus),
		errors.Is(err, drivers.ErrInvalidLocation),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request", false
	default:
		return http.StatusInternalServerError, "internal", false
	}
}

var errBadRequest = errors.New("bad request")

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}
