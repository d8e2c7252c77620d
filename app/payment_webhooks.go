package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/artpar/creditgate/domain/credit"
	"github.com/artpar/creditgate/ports"
)

// PaymentWebhookService applies payment provider notifications to purchases.
// It implements ports.PaymentWebhookHandler. Deliveries are at-least-once;
// repeated notifications resolve to OutcomeAlreadyFinalized.
type PaymentWebhookService struct {
	credits *CreditsService
	logger  zerolog.Logger
}

// NewPaymentWebhookService creates a new payment webhook service.
func NewPaymentWebhookService(credits *CreditsService, logger zerolog.Logger) *PaymentWebhookService {
	return &PaymentWebhookService{credits: credits, logger: logger}
}

// HandlePaymentSucceeded completes the purchase and grants its credits.
func (s *PaymentWebhookService) HandlePaymentSucceeded(ctx context.Context, ref, purchaseID string) (credit.CompleteOutcome, error) {
	id, err := s.resolve(ctx, ref, purchaseID)
	if err != nil {
		return "", err
	}
	if id == "" {
		s.logger.Warn().
			Str("payment_reference", ref).
			Str("purchase_id", purchaseID).
			Msg("payment succeeded for unknown purchase")
		return credit.OutcomeNotFound, nil
	}
	return s.credits.CompletePurchase(ctx, id)
}

// HandlePaymentFailed marks the purchase failed.
func (s *PaymentWebhookService) HandlePaymentFailed(ctx context.Context, ref, purchaseID string) (credit.CompleteOutcome, error) {
	id, err := s.resolve(ctx, ref, purchaseID)
	if err != nil {
		return "", err
	}
	if id == "" {
		s.logger.Warn().
			Str("payment_reference", ref).
			Str("purchase_id", purchaseID).
			Msg("payment failed for unknown purchase")
		return credit.OutcomeNotFound, nil
	}
	return s.credits.FailPurchase(ctx, id)
}

// resolve prefers the payment reference and falls back to the purchase id
// carried in provider metadata. An empty id means neither is known.
func (s *PaymentWebhookService) resolve(ctx context.Context, ref, purchaseID string) (string, error) {
	if ref != "" {
		p, err := s.credits.FindPurchaseByReference(ctx, ref)
		if err == nil {
			return p.ID, nil
		}
		if !errors.Is(err, credit.ErrPurchaseNotFound) {
			return "", err
		}
	}
	return purchaseID, nil
}

// Ensure interface compliance.
var _ ports.PaymentWebhookHandler = (*PaymentWebhookService)(nil)
