package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/creditgate/ports"
)

// ErrPaymentsDisabled is returned by every operation of the "none" provider.
var ErrPaymentsDisabled = errors.New("payments are not configured")

// Config selects and configures a payment provider.
type Config struct {
	Provider string // none, dummy or stripe
	Stripe   StripeConfig
}

// NewProvider builds the configured provider. "none" (or empty) disables
// purchases; balances, deductions and admin grants still work.
func NewProvider(cfg Config) (ports.PaymentProvider, error) {
	switch cfg.Provider {
	case "stripe":
		if cfg.Stripe.SecretKey == "" || cfg.Stripe.WebhookSecret == "" {
			return nil, errors.New("stripe requires secret_key and webhook_secret")
		}
		return NewStripeProvider(cfg.Stripe), nil
	case "dummy", "test":
		return NewDummyProvider(), nil
	case "none", "":
		return NewNoopProvider(), nil
	}
	return nil, fmt.Errorf("unknown payment provider: %s", cfg.Provider)
}

// SignatureHeader returns the request header carrying the webhook signature
// for a provider, or "" when it signs nothing.
func SignatureHeader(provider string) string {
	if provider == "stripe" {
		return StripeSignatureHeader
	}
	return ""
}

// NoopProvider stands in when payments are disabled.
type NoopProvider struct{}

func NewNoopProvider() NoopProvider { return NoopProvider{} }

func (NoopProvider) Name() string { return "none" }

func (NoopProvider) CreateCheckout(context.Context, ports.CheckoutRequest) (ports.Checkout, error) {
	return ports.Checkout{}, ErrPaymentsDisabled
}

func (NoopProvider) ParseWebhook([]byte, string) (ports.WebhookEvent, error) {
	return ports.WebhookEvent{}, ErrPaymentsDisabled
}

var _ ports.PaymentProvider = NoopProvider{}
