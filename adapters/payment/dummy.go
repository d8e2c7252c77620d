package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/artpar/creditgate/ports"
)

// Dummy webhook event types.
const (
	DummyPurchaseCompleted = "purchase.completed"
	DummyPurchaseFailed    = "purchase.failed"
)

// DummyProvider is a test/demo payment provider.
// Checkouts redirect straight to the success URL; payments are settled by
// posting a purchase.completed or purchase.failed event to its webhook.
type DummyProvider struct{}

// NewDummyProvider creates a new dummy payment provider.
func NewDummyProvider() *DummyProvider {
	return &DummyProvider{}
}

// Name returns the provider name.
func (p *DummyProvider) Name() string {
	return "dummy"
}

// CreateCheckout returns a fake payment reference and the success URL.
func (p *DummyProvider) CreateCheckout(ctx context.Context, req ports.CheckoutRequest) (ports.Checkout, error) {
	ref := "dummy_" + uuid.NewString()

	redirect := req.SuccessURL
	if redirect != "" {
		u, err := url.Parse(redirect)
		if err != nil {
			return ports.Checkout{}, fmt.Errorf("invalid success url: %w", err)
		}
		q := u.Query()
		q.Set("reference", ref)
		u.RawQuery = q.Encode()
		redirect = u.String()
	}

	return ports.Checkout{PaymentReference: ref, RedirectURL: redirect}, nil
}

type dummyEvent struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// ParseWebhook decodes {"id","type","data"} without signature checks.
func (p *DummyProvider) ParseWebhook(payload []byte, signature string) (ports.WebhookEvent, error) {
	var ev dummyEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ports.WebhookEvent{}, fmt.Errorf("decode dummy event: %w", err)
	}
	if ev.Type == "" {
		return ports.WebhookEvent{}, errors.New("dummy event type is required")
	}
	return ports.WebhookEvent{ID: ev.ID, Type: ev.Type, Data: ev.Data}, nil
}

// Ensure interface compliance.
var _ ports.PaymentProvider = (*DummyProvider)(nil)
