package payment_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/artpar/creditgate/adapters/payment"
	"github.com/artpar/creditgate/domain/plan"
	"github.com/artpar/creditgate/ports"
)

func TestNoopProvider(t *testing.T) {
	p := payment.NewNoopProvider()
	if p.Name() != "none" {
		t.Errorf("Name() = %s, want none", p.Name())
	}

	if _, err := p.CreateCheckout(context.Background(), ports.CheckoutRequest{}); !errors.Is(err, payment.ErrPaymentsDisabled) {
		t.Errorf("CreateCheckout error = %v, want ErrPaymentsDisabled", err)
	}
	if _, err := p.ParseWebhook([]byte(`{}`), ""); !errors.Is(err, payment.ErrPaymentsDisabled) {
		t.Errorf("ParseWebhook error = %v, want ErrPaymentsDisabled", err)
	}
}

func TestDummyProvider_CreateCheckout(t *testing.T) {
	p := payment.NewDummyProvider()

	co, err := p.CreateCheckout(context.Background(), ports.CheckoutRequest{
		UserID:     "user-1",
		Plan:       plan.Plan{ID: "starter", Credits: 100},
		SuccessURL: "http://localhost/success?tab=billing",
	})
	if err != nil {
		t.Fatalf("CreateCheckout error: %v", err)
	}
	if !strings.HasPrefix(co.PaymentReference, "dummy_") {
		t.Errorf("PaymentReference = %q, want dummy_ prefix", co.PaymentReference)
	}

	u, err := url.Parse(co.RedirectURL)
	if err != nil {
		t.Fatalf("RedirectURL not parseable: %v", err)
	}
	if u.Query().Get("reference") != co.PaymentReference {
		t.Errorf("redirect reference = %q, want %q", u.Query().Get("reference"), co.PaymentReference)
	}
	if u.Query().Get("tab") != "billing" {
		t.Error("existing query parameters should be kept")
	}

	again, _ := p.CreateCheckout(context.Background(), ports.CheckoutRequest{})
	if again.PaymentReference == co.PaymentReference {
		t.Error("payment references should be unique")
	}
	if again.RedirectURL != "" {
		t.Errorf("RedirectURL = %q, want empty without success url", again.RedirectURL)
	}
}

func TestDummyProvider_ParseWebhook(t *testing.T) {
	p := payment.NewDummyProvider()

	ev, err := p.ParseWebhook([]byte(`{"id":"evt_1","type":"purchase.completed","data":{"payment_reference":"dummy_x"}}`), "")
	if err != nil {
		t.Fatalf("ParseWebhook error: %v", err)
	}
	if ev.ID != "evt_1" || ev.Type != payment.DummyPurchaseCompleted {
		t.Errorf("event = %+v", ev)
	}
	if ev.Data["payment_reference"] != "dummy_x" {
		t.Errorf("Data = %v", ev.Data)
	}

	for _, body := range []string{`not json`, `{"id":"evt_2"}`} {
		if _, err := p.ParseWebhook([]byte(body), ""); err == nil {
			t.Errorf("ParseWebhook(%s) expected error", body)
		}
	}
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		cfg      payment.Config
		wantName string
		wantErr  bool
	}{
		{"empty is none", payment.Config{}, "none", false},
		{"none", payment.Config{Provider: "none"}, "none", false},
		{"dummy", payment.Config{Provider: "dummy"}, "dummy", false},
		{"test alias", payment.Config{Provider: "test"}, "dummy", false},
		{"stripe", payment.Config{Provider: "stripe", Stripe: payment.StripeConfig{SecretKey: "sk_test", WebhookSecret: "whsec"}}, "stripe", false},
		{"stripe missing secret key", payment.Config{Provider: "stripe", Stripe: payment.StripeConfig{WebhookSecret: "whsec"}}, "", true},
		{"stripe missing webhook secret", payment.Config{Provider: "stripe", Stripe: payment.StripeConfig{SecretKey: "sk_test"}}, "", true},
		{"unknown", payment.Config{Provider: "paypal"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := payment.NewProvider(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewProvider failed: %v", err)
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name() = %s, want %s", p.Name(), tt.wantName)
			}
		})
	}
}

func TestSignatureHeader(t *testing.T) {
	if h := payment.SignatureHeader("stripe"); h != "Stripe-Signature" {
		t.Errorf("SignatureHeader(stripe) = %q", h)
	}
	if h := payment.SignatureHeader("dummy"); h != "" {
		t.Errorf("SignatureHeader(dummy) = %q, want empty", h)
	}
}
