// Package middleware holds the HTTP middleware shared by the status
// server routes.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	apperrors "github.com/hina0118/mailbatch/internal/errors"
)

// ErrorResponse mirrors the server-wide error envelope. It exists as a
// local alias so middleware tests do not need the errors package.
type ErrorResponse struct {
	Error struct {
		Code      string         `json:"code"`
		Message   string         `json:"message"`
		RequestID string         `json:"request_id,omitempty"`
		Details   map[string]any `json:"details,omitempty"`
	} `json:"error"`
}

// RequestID attaches a request id to each request. An incoming
// X-Request-ID header is honored; otherwise a new id is generated. The
// id is echoed back in the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, apperrors.WithRequestID(r, id))
	})
}

// Recovery converts handler panics into 500 responses with the standard
// error envelope instead of tearing down the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				writeErrorResponse(w, r, http.StatusInternalServerError,
					"INTERNAL_ERROR", fmt.Sprintf("panic: %v", rec), nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is an alias for Recovery kept for route wiring symmetry.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	var resp ErrorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	resp.Error.RequestID = apperrors.RequestIDFrom(r)
	resp.Error.Details = details
	_ = json.NewEncoder(w).Encode(resp)
}
