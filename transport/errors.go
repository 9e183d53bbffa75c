// Package transport exposes the connector's operations over HTTP to the
// compliance hub: token creation, provider decisions, revocation, funds
// confirmation, and payment initiation. Every error leaves in the hub wire
// shape {error_class, error_message}.
package transport

import (
	"encoding/json"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-psd2-connector/core"
)

// ErrorResponse is the hub error envelope.
type ErrorResponse struct {
	ErrorClass   string `json:"error_class"`
	ErrorMessage string `json:"error_message"`
}

func errorEnvelope(err error) (int, ErrorResponse) {
	status := http.StatusInternalServerError
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Code != 0 {
		status = richErr.Code
	}
	return status, ErrorResponse{
		ErrorClass:   core.ErrorClass(err),
		ErrorMessage: core.ErrorMessage(err),
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, envelope := errorEnvelope(err)
	writeJSON(w, status, envelope)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
