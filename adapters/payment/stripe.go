// Package payment provides payment provider adapters.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/artpar/creditgate/ports"
)

// Stripe checkout events relevant to one-time credit purchases.
const (
	StripeCheckoutCompleted     = "checkout.session.completed"
	StripeAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	StripeAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	StripeCheckoutExpired       = "checkout.session.expired"
	StripeSignatureHeader       = "Stripe-Signature"
	stripeDefaultCurrency       = "usd"
	stripeMetadataUserID        = "user_id"
	stripeMetadataPlanID        = "plan_id"
	stripeMetadataPurchaseID    = "purchase_id"
)

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// StripeProvider implements ports.PaymentProvider for Stripe Checkout.
// It carries its own API key rather than setting the package-global one.
type StripeProvider struct {
	config   StripeConfig
	sessions *checkoutsession.Client
}

// NewStripeProvider creates a new Stripe payment provider.
func NewStripeProvider(config StripeConfig) *StripeProvider {
	return &StripeProvider{
		config:   config,
		sessions: &checkoutsession.Client{B: stripe.GetBackend(stripe.APIBackend), Key: config.SecretKey},
	}
}

// Name returns the provider name.
func (p *StripeProvider) Name() string {
	return "stripe"
}

// CreateCheckout opens a one-time payment session priced inline from the plan.
// The session id is the payment reference webhooks resolve purchases by.
func (p *StripeProvider) CreateCheckout(ctx context.Context, req ports.CheckoutRequest) (ports.Checkout, error) {
	params := checkoutParams(req)
	params.Context = ctx

	s, err := p.sessions.New(params)
	if err != nil {
		return ports.Checkout{}, fmt.Errorf("stripe checkout: %w", err)
	}
	return ports.Checkout{PaymentReference: s.ID, RedirectURL: s.URL}, nil
}

func checkoutParams(req ports.CheckoutRequest) *stripe.CheckoutSessionParams {
	currency := strings.ToLower(req.Plan.Currency)
	if currency == "" {
		currency = stripeDefaultCurrency
	}
	name := req.Plan.Name
	if name == "" {
		name = req.Plan.ID
	}

	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(name),
	}
	if req.Plan.Description != "" {
		product.Description = stripe.String(req.Plan.Description)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.UserID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:    stripe.String(currency),
					UnitAmount:  stripe.Int64(req.Plan.PriceAmount),
					ProductData: product,
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.AddMetadata(stripeMetadataUserID, req.UserID)
	params.AddMetadata(stripeMetadataPlanID, req.Plan.ID)
	if req.PurchaseID != "" {
		params.AddMetadata(stripeMetadataPurchaseID, req.PurchaseID)
	}
	return params
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
// Data holds the event's object (the checkout session for checkout events).
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (ports.WebhookEvent, error) {
	if p.config.WebhookSecret == "" {
		return ports.WebhookEvent{}, errors.New("stripe webhook secret not configured")
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, p.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return ports.WebhookEvent{}, err
	}

	var data map[string]any
	if event.Data != nil && len(event.Data.Raw) > 0 {
		if err := json.Unmarshal(event.Data.Raw, &data); err != nil {
			return ports.WebhookEvent{}, fmt.Errorf("decode stripe event data: %w", err)
		}
	}

	return ports.WebhookEvent{ID: event.ID, Type: string(event.Type), Data: data}, nil
}

// Ensure interface compliance.
var _ ports.PaymentProvider = (*StripeProvider)(nil)
