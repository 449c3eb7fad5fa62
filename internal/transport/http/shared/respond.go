// Package shared holds the JSON response helpers used by every HTTP handler
// so error envelopes stay identical across the surface.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "tipline/pkg/domainerrors"
)

// WriteJSON writes a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteError translates a domain error into its HTTP status and envelope.
// Unknown errors become an opaque internal response.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.ToHTTPStatus(code)

	resp := ErrorResponse{Error: string(code)}
	var dErr *dErrors.Error
	if errors.As(err, &dErr) {
		resp.Message = dErr.Message
	}
	if code == dErrors.CodeInternal {
		resp.Message = ""
	}
	WriteJSON(w, status, resp)
}
