package handler

import (
	"io"
	"net/http"

	"github.com/dukerupert/heimdall/internal/billing"
	"github.com/dukerupert/heimdall/internal/middleware"
	"github.com/dukerupert/heimdall/internal/service"
)

// WebhookHandler receives billing provider webhooks.
type WebhookHandler struct {
	verifier  billing.WebhookVerifier
	processor service.WebhookProcessor
}

func NewWebhookHandler(verifier billing.WebhookVerifier, processor service.WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{
		verifier:  verifier,
		processor: processor,
	}
}

// HandleWebhook handles POST /webhook.
// The raw body goes to the verifier untouched: signature verification is
// over the exact bytes the provider signed. 400 rejects bad signatures or
// malformed events (no retry); 500 asks the provider to redeliver.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("webhook: failed to read body",
			"error", err,
		)
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	event, err := h.verifier.VerifyWebhook(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		logger.Error("webhook: verification failed",
			"error", err,
		)
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	logger.Info("webhook: received event",
		"id", event.ID,
		"type", event.RawType,
	)

	if err := h.processor.ProcessEvent(r.Context(), event); err != nil {
		logger.Error("webhook: processing failed",
			"id", event.ID,
			"type", event.RawType,
			"error", err,
		)
		http.Error(w, "Webhook processing failed", http.StatusInternalServerError)
		return
	}

	RespondJSON(w, http.StatusOK, map[string]bool{"received": true})
}
