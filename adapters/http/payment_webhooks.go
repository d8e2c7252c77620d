package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/artpar/creditgate/adapters/metrics"
	"github.com/artpar/creditgate/adapters/payment"
	"github.com/artpar/creditgate/domain/credit"
	"github.com/artpar/creditgate/pkg/jsonapi"
	"github.com/artpar/creditgate/ports"
)

const maxWebhookBody = 1 << 20

// Webhook results recorded in metrics.
const (
	webhookApplied   = "applied"
	webhookIgnored   = "ignored"
	webhookDuplicate = "duplicate"
	webhookRejected  = "rejected"
	webhookError     = "error"
)

// Metric labels for values outside the known set.
const (
	unknownProvider = "unknown"
	otherEventType  = "other"
)

// PaymentWebhookHandler receives payment provider notifications and applies
// them to purchases.
type PaymentWebhookHandler struct {
	payment        ports.PaymentProvider
	webhookHandler ports.PaymentWebhookHandler
	deduper        ports.EventDeduper
	metrics        *metrics.Collector
	logger         zerolog.Logger
}

// PaymentWebhookDeps contains dependencies for PaymentWebhookHandler.
// Deduper and Metrics are optional.
type PaymentWebhookDeps struct {
	Payment        ports.PaymentProvider
	WebhookHandler ports.PaymentWebhookHandler
	Deduper        ports.EventDeduper
	Metrics        *metrics.Collector
	Logger         zerolog.Logger
}

// NewPaymentWebhookHandler creates a new payment webhook handler.
func NewPaymentWebhookHandler(deps PaymentWebhookDeps) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{
		payment:        deps.Payment,
		webhookHandler: deps.WebhookHandler,
		deduper:        deps.Deduper,
		metrics:        deps.Metrics,
		logger:         deps.Logger,
	}
}

// Routes returns the chi router for payment webhooks.
// These routes are mounted at /payment-webhooks.
func (h *PaymentWebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{provider}", h.HandleWebhook)
	return r
}

// ServeHTTP implements http.Handler for use with http.Handle.
func (h *PaymentWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Routes().ServeHTTP(w, r)
}

// HandleWebhook verifies, deduplicates and dispatches one delivery.
//
// Deliveries that cannot be applied because the ledger is unavailable get
// a 503 so the provider retries them. Everything else is acknowledged. A
// delivery is remembered for dedup only once dispatch has returned, so a
// request that dies midway leaves nothing behind to block the retry.
func (h *PaymentWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := chi.URLParam(r, "provider")

	if h.payment == nil || h.payment.Name() != provider {
		h.logger.Warn().
			Str("expected_provider", provider).
			Str("configured_provider", h.paymentProviderName()).
			Msg("webhook received for wrong payment provider")
		h.count(unknownProvider, "", webhookRejected)
		jsonapi.WriteBadRequest(w, "wrong payment provider")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read webhook body")
		h.count(provider, "", webhookRejected)
		jsonapi.WriteBadRequest(w, "failed to read body")
		return
	}

	var signature string
	if header := payment.SignatureHeader(provider); header != "" {
		signature = r.Header.Get(header)
	}

	event, err := h.payment.ParseWebhook(body, signature)
	if err != nil {
		h.logger.Warn().Err(err).
			Str("provider", provider).
			Msg("invalid webhook signature")
		h.count(provider, "", webhookRejected)
		jsonapi.WriteUnauthorized(w, "invalid signature")
		return
	}

	log := h.logger.With().
		Str("provider", provider).
		Str("event_id", event.ID).
		Str("event_type", event.Type).
		Logger()
	log.Info().Msg("received payment webhook")

	if h.seen(ctx, log, provider, event.ID) {
		h.count(provider, event.Type, webhookDuplicate)
		jsonapi.WriteMeta(w, http.StatusOK, jsonapi.Meta{"duplicate": true})
		return
	}

	outcome, handled, err := h.dispatchEvent(ctx, provider, event)
	if err != nil {
		log.Error().Err(err).Msg("failed to handle webhook event")
		h.count(provider, event.Type, webhookError)
		if errors.Is(err, credit.ErrStorageUnavailable) {
			jsonapi.WriteServiceUnavailable(w, "credit ledger temporarily unavailable", RetryAfter)
			return
		}
		jsonapi.WriteInternalError(w, "")
		return
	}

	h.remember(ctx, log, provider, event.ID)

	if !handled {
		log.Debug().Msg("ignoring webhook event")
		h.count(provider, event.Type, webhookIgnored)
		jsonapi.WriteMeta(w, http.StatusOK, jsonapi.Meta{"ignored": true})
		return
	}

	log.Info().Str("outcome", string(outcome)).Msg("webhook event applied")
	h.count(provider, event.Type, webhookApplied)
	jsonapi.WriteMeta(w, http.StatusOK, jsonapi.Meta{"outcome": string(outcome)})
}

// dispatchEvent routes the event to the purchase handler. handled is false
// for event types that do not affect purchases.
func (h *PaymentWebhookHandler) dispatchEvent(ctx context.Context, provider string, event ports.WebhookEvent) (credit.CompleteOutcome, bool, error) {
	ref, purchaseID := h.extractPurchaseRef(provider, event.Data)

	switch {
	case h.isPaymentSucceeded(provider, event):
		outcome, err := h.webhookHandler.HandlePaymentSucceeded(ctx, ref, purchaseID)
		return outcome, true, err

	case h.isPaymentFailed(provider, event.Type):
		outcome, err := h.webhookHandler.HandlePaymentFailed(ctx, ref, purchaseID)
		return outcome, true, err
	}

	return "", false, nil
}

func (h *PaymentWebhookHandler) isPaymentSucceeded(provider string, event ports.WebhookEvent) bool {
	switch provider {
	case "stripe":
		switch event.Type {
		case payment.StripeAsyncPaymentSucceeded:
			return true
		case payment.StripeCheckoutCompleted:
			// Delayed payment methods complete the session before paying.
			status := getString(event.Data, "payment_status")
			return status == "paid" || status == "no_payment_required"
		}
	case "dummy":
		return event.Type == payment.DummyPurchaseCompleted
	}
	return false
}

func (h *PaymentWebhookHandler) isPaymentFailed(provider, eventType string) bool {
	switch provider {
	case "stripe":
		return eventType == payment.StripeCheckoutExpired || eventType == payment.StripeAsyncPaymentFailed
	case "dummy":
		return eventType == payment.DummyPurchaseFailed
	}
	return false
}

// extractPurchaseRef pulls the payment reference and our purchase id from
// provider-specific payloads.
func (h *PaymentWebhookHandler) extractPurchaseRef(provider string, data map[string]any) (ref, purchaseID string) {
	switch provider {
	case "stripe":
		ref = getString(data, "id")
		if metadata, ok := data["metadata"].(map[string]any); ok {
			purchaseID = getString(metadata, "purchase_id")
		}
	default:
		ref = getString(data, "payment_reference")
		purchaseID = getString(data, "purchase_id")
	}
	return ref, purchaseID
}

func (h *PaymentWebhookHandler) seen(ctx context.Context, log zerolog.Logger, provider, eventID string) bool {
	if h.deduper == nil || eventID == "" {
		return false
	}
	seen, err := h.deduper.Seen(ctx, provider, eventID)
	if err != nil {
		// Purchase transitions are idempotent, so reprocessing is safe.
		log.Warn().Err(err).Msg("webhook dedup unavailable, processing anyway")
		return false
	}
	return seen
}

func (h *PaymentWebhookHandler) remember(ctx context.Context, log zerolog.Logger, provider, eventID string) {
	if h.deduper == nil || eventID == "" {
		return
	}
	if err := h.deduper.Remember(context.WithoutCancel(ctx), provider, eventID); err != nil {
		log.Warn().Err(err).Msg("failed to record handled webhook event")
	}
}

func (h *PaymentWebhookHandler) count(provider, eventType, result string) {
	if h.metrics != nil {
		h.metrics.WebhookEvents.WithLabelValues(provider, eventTypeLabel(provider, eventType), result).Inc()
	}
}

// eventTypeLabel keeps the type label to events this handler knows.
func eventTypeLabel(provider, eventType string) string {
	if eventType == "" {
		return ""
	}
	switch provider {
	case "stripe":
		switch eventType {
		case payment.StripeCheckoutCompleted, payment.StripeAsyncPaymentSucceeded,
			payment.StripeCheckoutExpired, payment.StripeAsyncPaymentFailed:
			return eventType
		}
	case "dummy":
		if eventType == payment.DummyPurchaseCompleted || eventType == payment.DummyPurchaseFailed {
			return eventType
		}
	}
	return otherEventType
}

// paymentProviderName returns the name of the configured payment provider.
func (h *PaymentWebhookHandler) paymentProviderName() string {
	if h.payment == nil {
		return "none"
	}
	return h.payment.Name()
}

func getString(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
