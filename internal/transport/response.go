// Package transport holds the JSON request/response helpers shared by the
// HTTP handlers.
package transport

import (
	"context"
	"encoding/json"
	"net/http"

	"fsw-food-be/internal/apperr"
	"fsw-food-be/internal/logger"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// MaxBodyBytes caps request bodies read by DecodeJSON.
const MaxBodyBytes = 1 << 20

type ErrorResponse struct {
	Error   string `json:"error"`
	OrderID string `json:"orderId,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L().Warn("failed to encode response", zap.Error(err))
	}
}

// WriteError maps err onto its HTTP status and client-facing message.
// Server-side failures are logged with the request's logger.
func WriteError(ctx context.Context, w http.ResponseWriter, err error) {
	WriteErrorBody(ctx, w, err, ErrorResponse{})
}

// WriteErrorBody is WriteError with extra fields in the body.
func WriteErrorBody(ctx context.Context, w http.ResponseWriter, err error, body ErrorResponse) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.FromCtx(ctx).Error("request failed",
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err),
		)
	}
	body.Error = apperr.Message(err)
	WriteJSON(w, status, body)
}

// DecodeJSON reads a JSON body into dst. Unknown fields are rejected.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	const op = "decode request"

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperr.ValidationWrap(op, "request body too large", err)
		}
		return apperr.ValidationWrap(op, "invalid JSON body", err)
	}
	return nil
}
