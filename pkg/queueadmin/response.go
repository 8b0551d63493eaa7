package queueadmin

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrymomot/jobqueue/pkg/queue"
)

// Response is the envelope of every admin endpoint
type Response struct {
	Data  any          `json:"data,omitempty"`
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail describes a failed request
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, Response{Error: &ErrorDetail{Code: code, Message: msg}})
}

// classify maps queue errors to an HTTP status and an error code
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, queue.ErrInvalidPagination),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidQuery):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, queue.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, queue.ErrStorage):
		return http.StatusServiceUnavailable, "storage_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
