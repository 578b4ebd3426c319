// Package web is the thin HTTP adapter over the query engine: it parses
// parameters, invokes one executor operation, and serializes the result.
// All HTTP-specific concerns (status codes, headers) live here and nowhere
// else.
package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tablekit/tablekit/apierr"
)

// ErrorResponse is the standard error body
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// RenderError maps the engine's error taxonomy onto HTTP status codes:
// validation failures are client errors, access failures are 403, unknown
// resources are 404, and execution failures are 500.
func RenderError(w http.ResponseWriter, err error) {
	var ve *apierr.ValidationError
	if errors.As(err, &ve) {
		renderJSON(w, http.StatusBadRequest, &ErrorResponse{
			Error:   "validation_failed",
			Message: ve.Error(),
			Field:   ve.Field,
		})
		return
	}

	switch {
	case apierr.IsForbidden(err):
		renderJSON(w, http.StatusForbidden, &ErrorResponse{
			Error:   "forbidden",
			Message: err.Error(),
		})
	case apierr.IsNotFound(err):
		renderJSON(w, http.StatusNotFound, &ErrorResponse{
			Error:   "not_found",
			Message: err.Error(),
		})
	default:
		renderJSON(w, http.StatusInternalServerError, &ErrorResponse{
			Error:   "internal_error",
			Message: "query execution failed",
		})
	}
}

func renderJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
