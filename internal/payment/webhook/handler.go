package webhook

import (
	"io"
	"net/http"

	"fsw-food-be/internal/apperr"
	"fsw-food-be/internal/transport"
)

// SignatureHeader carries the gateway's webhook signature.
const SignatureHeader = "Stripe-Signature"

// maxPayloadBytes bounds a webhook body; gateway events are far smaller.
const maxPayloadBytes = 1 << 20

type Handler struct {
	processor *Processor
}

func NewWebhookHandler(processor *Processor) *Handler {
	return &Handler{processor: processor}
}

type ackResponse struct {
	Received bool `json:"received"`
}

// WebhookHandler acknowledges with 200 once the event is safely applied,
// deduplicated or ignored. Any other answer makes the gateway redeliver.
func (h *Handler) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// The signature covers the exact bytes, so the body is read raw.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		transport.WriteError(ctx, w, apperr.ValidationWrap("read webhook", "failed to read body", err))
		return
	}

	if _, err := h.processor.HandleEvent(ctx, body, r.Header.Get(SignatureHeader)); err != nil {
		transport.WriteError(ctx, w, err)
		return
	}

	transport.WriteJSON(w, http.StatusOK, ackResponse{Received: true})
}
