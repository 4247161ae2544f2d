// Package shared holds the JSON response helpers every handler uses, so
// error envelopes stay consistent across routes.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "sealwire/pkg/domain-errors"
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteError translates a domain error into its HTTP status and envelope.
// Uncoded errors map to 500 with the message withheld.
func WriteError(w http.ResponseWriter, err error) {
	var de *dErrors.Error
	if !errors.As(err, &de) {
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: string(dErrors.CodeInternal)})
		return
	}
	WriteJSON(w, dErrors.HTTPStatus(err), ErrorResponse{
		Error:   string(de.Code),
		Message: de.Message,
	})
}
