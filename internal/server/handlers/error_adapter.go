package handlers

import (
	"net/http"

	apperrors "github.com/hina0118/mailbatch/internal/errors"
)

// HTTPErrorResponder converts a handler error into an HTTP response.
type HTTPErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

func defaultHTTPErrorResponder(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}

var httpErrorResponder HTTPErrorResponder = defaultHTTPErrorResponder

// SetHTTPErrorResponder overrides how handler errors are rendered.
// Passing nil restores the default responder.
func SetHTTPErrorResponder(responder HTTPErrorResponder) {
	if responder == nil {
		httpErrorResponder = defaultHTTPErrorResponder
		return
	}
	httpErrorResponder = responder
}

// ResetHTTPErrorResponder restores the default responder.
func ResetHTTPErrorResponder() {
	httpErrorResponder = defaultHTTPErrorResponder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}
