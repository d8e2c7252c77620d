package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/artpar/creditgate/domain/credit"
	"github.com/artpar/creditgate/domain/plan"
	"github.com/artpar/creditgate/ports"
)

// ErrPaymentProvider wraps failures reported by the payment provider.
var ErrPaymentProvider = errors.New("payment provider error")

// CheckoutDeps contains dependencies for CheckoutService.
type CheckoutDeps struct {
	Credits     *CreditsService
	Catalog     ports.Catalog
	Provider    ports.PaymentProvider
	PurchaseIDs ports.IDGenerator
	Logger      zerolog.Logger
}

// CheckoutConfig contains configuration for CheckoutService.
type CheckoutConfig struct {
	SuccessURL string
	CancelURL  string
}

// CheckoutResult is an opened checkout with its pending purchase.
type CheckoutResult struct {
	PurchaseID       string
	PaymentReference string
	RedirectURL      string
	Plan             plan.Plan
}

// CheckoutService opens provider checkouts for credit plans.
type CheckoutService struct {
	credits     *CreditsService
	catalog     ports.Catalog
	provider    ports.PaymentProvider
	purchaseIDs ports.IDGenerator
	logger      zerolog.Logger
	cfg         CheckoutConfig
}

// NewCheckoutService creates a new checkout service.
func NewCheckoutService(deps CheckoutDeps, cfg CheckoutConfig) *CheckoutService {
	return &CheckoutService{
		credits:     deps.Credits,
		catalog:     deps.Catalog,
		provider:    deps.Provider,
		purchaseIDs: deps.PurchaseIDs,
		logger:      deps.Logger,
		cfg:         cfg,
	}
}

// Checkout resolves the plan, opens a provider checkout and records the
// pending purchase under the provider's payment reference. The plan's
// credits are snapshotted into the purchase.
func (s *CheckoutService) Checkout(ctx context.Context, userID, planID string) (CheckoutResult, error) {
	if userID == "" {
		return CheckoutResult{}, credit.ErrInvalidUserID
	}

	p, ok := s.catalog.GetPlan(planID)
	if !ok {
		return CheckoutResult{}, fmt.Errorf("%w: %s", credit.ErrPlanNotFound, planID)
	}

	purchaseID := s.purchaseIDs.New()
	co, err := s.provider.CreateCheckout(ctx, ports.CheckoutRequest{
		UserID:     userID,
		PurchaseID: purchaseID,
		Plan:       p,
		SuccessURL: s.cfg.SuccessURL,
		CancelURL:  s.cfg.CancelURL,
	})
	if err != nil {
		s.logger.Error().Err(err).
			Str("provider", s.provider.Name()).
			Str("user_id", userID).
			Str("plan_id", planID).
			Msg("failed to create checkout")
		return CheckoutResult{}, fmt.Errorf("%w: %w", ErrPaymentProvider, err)
	}

	id, err := s.credits.RecordPurchase(ctx, PurchaseRequest{
		ID:               purchaseID,
		UserID:           userID,
		PlanID:           p.ID,
		Credits:          p.Credits,
		Amount:           p.PriceAmount,
		Currency:         p.Currency,
		PaymentReference: co.PaymentReference,
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	return CheckoutResult{
		PurchaseID:       id,
		PaymentReference: co.PaymentReference,
		RedirectURL:      co.RedirectURL,
		Plan:             p,
	}, nil
}

// ProviderName returns the configured payment provider's name.
func (s *CheckoutService) ProviderName() string {
	return s.provider.Name()
}
