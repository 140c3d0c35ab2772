// Package webhook receives Stripe webhook events over HTTP and dispatches
// them to the tax lifecycle.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/dukerupert/stripetax/internal/billing"
	"github.com/dukerupert/stripetax/internal/domain"
	"github.com/dukerupert/stripetax/internal/handler"
	"github.com/dukerupert/stripetax/internal/telemetry"
)

// TaxService is the slice of the tax orchestration service the webhook
// handler needs.
type TaxService interface {
	CreateTaxTransaction(ctx context.Context, event domain.PaymentEvent) (*billing.TaxTransaction, error)
}

// eventHandler processes one verified webhook event and returns the response
// payload to acknowledge with.
type eventHandler func(ctx context.Context, event *billing.WebhookEvent) (any, error)

// StripeConfig contains configuration for Stripe webhook handling.
type StripeConfig struct {
	// WebhookSecret is the webhook signing secret from the Stripe dashboard.
	WebhookSecret string
}

// StripeHandler verifies and dispatches Stripe webhook events.
//
// Dispatch is table-driven: each supported event type maps to exactly one
// handler, and the table is fixed at construction. Events with no entry are
// rejected rather than silently acknowledged, so a misconfigured Stripe
// endpoint surfaces immediately.
type StripeHandler struct {
	provider billing.Provider
	tax      TaxService
	config   StripeConfig
	logger   *slog.Logger
	handlers map[string]eventHandler
}

// NewStripeHandler creates a Stripe webhook handler with its event table.
func NewStripeHandler(provider billing.Provider, tax TaxService, config StripeConfig, logger *slog.Logger) (*StripeHandler, error) {
	h := &StripeHandler{
		provider: provider,
		tax:      tax,
		config:   config,
		logger:   logger,
	}
	h.handlers = map[string]eventHandler{
		"payment_intent.succeeded": h.handlePaymentIntentSucceeded,
	}
	for eventType, fn := range h.handlers {
		if fn == nil {
			return nil, fmt.Errorf("webhook: nil handler registered for event %s", eventType)
		}
	}
	return h, nil
}

// HandleWebhook processes incoming Stripe webhook events.
//
// The signature is verified against the raw body before any parsing; an
// unverifiable request never reaches a handler. Stripe retries on any
// non-2xx status, so handler failures return their mapped error status.
//
// Stripe CLI testing:
//
//	stripe listen --forward-to localhost:3000/stripe/webhook
//	stripe trigger payment_intent.succeeded
func (h *StripeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook payload", "error", err)
		handler.ErrorResponse(w, r, domain.Invalid("webhook.stripe", "error reading request body"))
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	event, err := h.provider.VerifyWebhookSignature(payload, signature, h.config.WebhookSecret)
	if err != nil {
		h.logger.Warn("webhook signature verification failed",
			"error", err,
			"payload_bytes", len(payload),
			"signature_present", signature != "",
		)
		handler.ErrorResponse(w, r, domain.Invalid("webhook.stripe", fmt.Sprintf("webhook signature verification failed: %v", err)))
		return
	}

	h.logger.Info("webhook event received", "event_id", event.ID, "event_type", event.Type)
	if telemetry.Business != nil {
		telemetry.Business.WebhookReceived.WithLabelValues(event.Type).Inc()
	}
	defer func() {
		if telemetry.Business != nil {
			telemetry.Business.WebhookLatency.WithLabelValues(event.Type).Observe(time.Since(startTime).Seconds())
		}
	}()

	fn, ok := h.handlers[event.Type]
	if !ok {
		h.logger.Warn("webhook event type not mapped", "event_type", event.Type)
		handler.ErrorResponse(w, r, domain.Invalid("webhook.stripe", fmt.Sprintf("Event %s not mapped", event.Type)))
		return
	}

	result, err := fn(r.Context(), event)
	if err != nil {
		h.logger.Error("webhook event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
		if telemetry.Business != nil {
			telemetry.Business.WebhookFailed.WithLabelValues(event.Type).Inc()
		}
		telemetry.CaptureError(err, map[string]interface{}{
			"event_id":   event.ID,
			"event_type": event.Type,
		})
		handler.ErrorResponse(w, r, err)
		return
	}

	if telemetry.Business != nil {
		telemetry.Business.WebhookProcessed.WithLabelValues(event.Type).Inc()
	}
	handler.JSONResponse(w, http.StatusOK, result)
}

// handlePaymentIntentSucceeded turns a succeeded payment intent into a tax
// transaction. The payment intent's metadata must name the cart via
// resource_id; the tax service enforces that.
func (h *StripeHandler) handlePaymentIntentSucceeded(ctx context.Context, event *billing.WebhookEvent) (any, error) {
	var paymentIntent stripe.PaymentIntent
	if err := json.Unmarshal(event.ObjectRaw, &paymentIntent); err != nil {
		return nil, domain.Invalid("webhook.payment_intent_succeeded", fmt.Sprintf("malformed payment intent payload: %v", err))
	}

	txn, err := h.tax.CreateTaxTransaction(ctx, domain.PaymentEvent{
		ID:       paymentIntent.ID,
		Metadata: paymentIntent.Metadata,
	})
	if err != nil {
		return nil, err
	}

	return txn, nil
}
