package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ricirt/queue-system/internal/domain"
)

// errorBody is the JSON shape of every failed response. Code is stable and
// machine-readable; Error is for humans.
type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, errorBody{Code: code, Error: msg})
}

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{domain.ErrQueueNotFound, http.StatusNotFound, "queue_not_found"},
	{domain.ErrTicketNotFound, http.StatusNotFound, "ticket_not_found"},
	{domain.ErrDuplicateName, http.StatusConflict, "duplicate_name"},
	{domain.ErrQueueInactive, http.StatusConflict, "queue_inactive"},
	{domain.ErrQueueEmpty, http.StatusConflict, "queue_empty"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrAlreadyQueued, http.StatusConflict, "already_queued"},
	{domain.ErrInvalidName, http.StatusUnprocessableEntity, "invalid_name"},
	{domain.ErrInvalidCapacity, http.StatusUnprocessableEntity, "invalid_capacity"},
	{domain.ErrInvalidLabel, http.StatusUnprocessableEntity, "invalid_label"},
	{domain.ErrInvalidCustomer, http.StatusUnprocessableEntity, "invalid_customer_ref"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{domain.ErrQueueFull, http.StatusServiceUnavailable, "queue_full"},
	{domain.ErrSubscriberOverflow, http.StatusServiceUnavailable, "subscriber_overflow"},
}

// mapError translates domain sentinel errors to HTTP status codes and
// error codes. All mapping lives here so individual handlers stay concise.
func mapError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	respondError(w, status, code, msg)
}

func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return false
	}
	return true
}
