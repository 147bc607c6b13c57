package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/frameloom/frameloom/core/apperr"
	"github.com/frameloom/frameloom/providers/observability"
)

// errorEnvelope is the wire shape of every error response.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeJSON renders a success payload.
func writeJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(payload)
}

// writeError classifies err as a coded error and renders the envelope with
// its HTTP status. Unexpected errors become opaque 500s.
func writeError(ctx context.Context, writer http.ResponseWriter, err error) {
	appError := apperr.From(err)

	if appError.Status >= 500 {
		observability.FromContext(ctx).Error(ctx, "api.request.failed",
			observability.String("code", string(appError.Code)),
			observability.Error(appError),
		)
	}

	writeJSON(writer, appError.Status, errorEnvelope{Error: errorBody{
		Code:    string(appError.Code),
		Message: appError.Message,
		Details: appError.Details,
	}})
}
