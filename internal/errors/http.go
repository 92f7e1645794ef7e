// Package errors defines the JSON error envelope used by the status
// server. Every non-2xx response carries the same shape so clients can
// parse failures uniformly.
package errors

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"net/http"
	"os"
)

// HTTPErrorResponse is the envelope written for every error response.
type HTTPErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable error payload.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Stable error codes.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeBadRequest         = "BAD_REQUEST"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// WriteError writes the envelope with the given status and code.
// requestID may be empty.
func WriteError(w http.ResponseWriter, status int, code, message, requestID string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			RequestID: requestID,
			Details:   details,
		},
	})
}

// RespondWithError maps an application error to an HTTP error response.
// Unrecognized errors become 500 INTERNAL_ERROR without leaking the
// underlying message.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case goerrors.Is(err, os.ErrNotExist):
		WriteError(w, http.StatusNotFound, CodeNotFound, "resource not found", RequestIDFrom(r), nil)
	default:
		WriteError(w, http.StatusInternalServerError, CodeInternal, "internal error", RequestIDFrom(r), nil)
	}
}

type requestIDKey struct{}

// WithRequestID stores the request id on the request context.
func WithRequestID(r *http.Request, id string) *http.Request {
	if id == "" {
		return r
	}
	return r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))
}

// RequestIDFrom returns the request id attached by the middleware, or "".
func RequestIDFrom(r *http.Request) string {
	if r == nil {
		return ""
	}
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
