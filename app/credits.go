// Package app contains the CreditsService: balances, deductions and purchases.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/artpar/creditgate/adapters/metrics"
	"github.com/artpar/creditgate/domain/credit"
	"github.com/artpar/creditgate/domain/usage"
	"github.com/artpar/creditgate/ports"
)

// History page sizes.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// DefaultLedgerTimeout bounds every ledger store call.
const DefaultLedgerTimeout = 5 * time.Second

// Decline reasons.
const (
	ReasonInsufficientCredits = "insufficient_credits"
)

// Grant sources recorded in metrics.
const (
	sourceGrant    = "grant"
	sourcePurchase = "purchase"
)

// otherModel labels deductions for models without a configured cost.
const otherModel = "other"

// CreditsDeps contains dependencies for CreditsService.
type CreditsDeps struct {
	Store       ports.LedgerStore
	Catalog     ports.Catalog
	Clock       ports.Clock
	PurchaseIDs ports.IDGenerator
	EventIDs    ports.IDGenerator
	Metrics     *metrics.Collector // optional
	Logger      zerolog.Logger
}

// CreditsConfig contains configuration for CreditsService.
type CreditsConfig struct {
	FreeGrant int64
	Timeout   time.Duration
}

// DeductResult reports the outcome of a deduction attempt.
// A declined deduction is a normal result, not an error.
type DeductResult struct {
	Allowed bool
	Cost    int64
	Balance credit.Balance
	Reason  string
}

// PurchaseRequest describes a pending purchase to record.
// Credits are the plan's credits at checkout time and are granted as-is on completion.
type PurchaseRequest struct {
	ID               string // optional, generated when empty
	UserID           string
	PlanID           string
	Credits          int64
	Amount           int64
	Currency         string
	PaymentReference string
}

// CreditsService owns balances, deductions and the purchase lifecycle.
// All correctness guarantees come from the store's conditional writes;
// several instances may run against one store.
type CreditsService struct {
	store       ports.LedgerStore
	catalog     ports.Catalog
	clock       ports.Clock
	purchaseIDs ports.IDGenerator
	eventIDs    ports.IDGenerator
	metrics     *metrics.Collector
	logger      zerolog.Logger

	freeGrant int64
	timeout   time.Duration

	seed singleflight.Group
}

// NewCreditsService creates a new credits service.
func NewCreditsService(deps CreditsDeps, cfg CreditsConfig) *CreditsService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultLedgerTimeout
	}
	if cfg.FreeGrant < 0 {
		cfg.FreeGrant = 0
	}
	return &CreditsService{
		store:       deps.Store,
		catalog:     deps.Catalog,
		clock:       deps.Clock,
		purchaseIDs: deps.PurchaseIDs,
		eventIDs:    deps.EventIDs,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		freeGrant:   cfg.FreeGrant,
		timeout:     cfg.Timeout,
	}
}

// GetBalance returns the user's balance, creating the free-tier row on
// first access. A store failure is reported as credit.ErrStorageUnavailable,
// never as an empty balance.
func (s *CreditsService) GetBalance(ctx context.Context, userID string) (credit.Balance, error) {
	if userID == "" {
		return credit.Balance{}, credit.ErrInvalidUserID
	}
	return s.ensureBalance(ctx, userID)
}

// ensureBalance reads the row or inserts the free grant if absent.
// Concurrent first reads on this instance share one store round trip. The
// shared call runs detached from any one caller, under its own timeout, so
// a caller that goes away only abandons its own wait.
func (s *CreditsService) ensureBalance(ctx context.Context, userID string) (credit.Balance, error) {
	ch := s.seed.DoChan(userID, func() (any, error) {
		b, err := s.loadOrSeed(context.WithoutCancel(ctx), userID)
		return b, err
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return credit.Balance{}, res.Err
		}
		return res.Val.(credit.Balance), nil
	case <-ctx.Done():
		return credit.Balance{}, ctx.Err()
	}
}

func (s *CreditsService) loadOrSeed(ctx context.Context, userID string) (credit.Balance, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	b, err := s.store.GetBalance(sctx, userID)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, ports.ErrNotFound) {
		return credit.Balance{}, s.storageErr("get_balance", err)
	}

	b, err = s.store.InsertBalanceIfAbsent(sctx, credit.NewBalance(userID, s.freeGrant, s.clock.Now()))
	if err != nil {
		return credit.Balance{}, s.storageErr("insert_balance", err)
	}

	s.logger.Debug().
		Str("user_id", userID).
		Int64("total_credits", b.TotalCredits).
		Msg("balance initialized")
	return b, nil
}

// Deduct charges the model's cost against the user's balance.
// The charge is a single conditional write; when the balance cannot cover
// it the result is declined and nothing changes.
func (s *CreditsService) Deduct(ctx context.Context, userID, modelID string, tokensUsed int64, requestType string) (DeductResult, error) {
	if userID == "" {
		return DeductResult{}, credit.ErrInvalidUserID
	}

	cost := s.catalog.GetModelCost(modelID)

	current, err := s.ensureBalance(ctx, userID)
	if err != nil {
		s.countDeduction(metrics.ResultError, modelID, 0)
		return DeductResult{}, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	now := s.clock.Now()
	b, err := s.store.Deduct(sctx, userID, cost, now)
	switch {
	case errors.Is(err, credit.ErrInsufficientCredits):
		if b.UserID == "" {
			b = current
		}
		s.countDeduction(metrics.ResultInsufficient, modelID, 0)
		s.logger.Info().
			Str("user_id", userID).
			Str("model_id", modelID).
			Int64("cost", cost).
			Int64("remaining", b.Remaining()).
			Msg("deduction declined: insufficient credits")
		return DeductResult{Allowed: false, Cost: cost, Balance: b, Reason: ReasonInsufficientCredits}, nil
	case err != nil:
		s.countDeduction(metrics.ResultError, modelID, 0)
		return DeductResult{}, s.storageErr("deduct", err)
	}

	s.countDeduction(metrics.ResultAllowed, modelID, cost)

	if requestType == "" {
		requestType = usage.DefaultRequestType
	}
	event := usage.Event{
		ID:          s.eventIDs.New(),
		UserID:      userID,
		ModelID:     modelID,
		CreditsUsed: cost,
		TokensUsed:  tokensUsed,
		RequestType: requestType,
		CreatedAt:   now,
	}
	if err := s.store.AppendUsageEvent(sctx, event); err != nil {
		// The charge stands; the event is reconciled from this log line.
		if s.metrics != nil {
			s.metrics.UsageLogFailures.Inc()
		}
		s.logger.Warn().Err(err).
			Str("user_id", userID).
			Str("model_id", modelID).
			Str("event_id", event.ID).
			Int64("credits_used", cost).
			Int64("tokens_used", tokensUsed).
			Time("created_at", now).
			Msg("usage event not recorded; reconciliation required")
	}

	return DeductResult{Allowed: true, Cost: cost, Balance: b}, nil
}

// AddCredits tops up the user's balance outside the purchase flow, e.g. an
// operator grant. purchaseRef is recorded in logs only.
func (s *CreditsService) AddCredits(ctx context.Context, userID string, credits int64, purchaseRef string) (credit.Balance, error) {
	if userID == "" {
		return credit.Balance{}, credit.ErrInvalidUserID
	}
	if credits <= 0 {
		return credit.Balance{}, credit.ErrInvalidAmount
	}

	if _, err := s.ensureBalance(ctx, userID); err != nil {
		return credit.Balance{}, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	b, err := s.store.TopUp(sctx, userID, credits, s.clock.Now())
	if err != nil {
		return credit.Balance{}, s.storageErr("top_up", err)
	}

	s.countGrant(sourceGrant, credits)
	s.logger.Info().
		Str("user_id", userID).
		Int64("credits", credits).
		Str("purchase_ref", purchaseRef).
		Int64("total_credits", b.TotalCredits).
		Msg("credits added")

	return b, nil
}

// RecordPurchase stores a pending purchase and returns its id.
func (s *CreditsService) RecordPurchase(ctx context.Context, req PurchaseRequest) (string, error) {
	if req.UserID == "" {
		return "", credit.ErrInvalidUserID
	}
	if req.Credits <= 0 {
		return "", credit.ErrInvalidAmount
	}

	id := req.ID
	if id == "" {
		id = s.purchaseIDs.New()
	}
	now := s.clock.Now()
	p := credit.Purchase{
		ID:               id,
		UserID:           req.UserID,
		PlanID:           req.PlanID,
		Credits:          req.Credits,
		Amount:           req.Amount,
		Currency:         req.Currency,
		PaymentReference: req.PaymentReference,
		Status:           credit.PurchaseStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if err := s.store.InsertPurchase(sctx, p); err != nil {
		if errors.Is(err, ports.ErrDuplicate) {
			return "", fmt.Errorf("record purchase %s: %w", id, err)
		}
		return "", s.storageErr("insert_purchase", err)
	}

	s.countPurchase(credit.PurchaseStatusPending)
	s.logger.Info().
		Str("purchase_id", id).
		Str("user_id", req.UserID).
		Str("plan_id", req.PlanID).
		Int64("credits", req.Credits).
		Str("payment_reference", req.PaymentReference).
		Msg("purchase recorded")

	return id, nil
}

// CompletePurchase finalizes a pending purchase and grants its snapshotted
// credits exactly once. The status change and the top-up are one store write,
// so a failed attempt leaves the purchase pending and a retry can finish it.
// Unknown and already-finalized purchases are reported as outcomes, not errors.
func (s *CreditsService) CompletePurchase(ctx context.Context, purchaseID string) (credit.CompleteOutcome, error) {
	p, err := s.GetPurchase(ctx, purchaseID)
	if errors.Is(err, credit.ErrPurchaseNotFound) {
		s.logger.Warn().Str("purchase_id", purchaseID).Msg("complete: purchase not found")
		return credit.OutcomeNotFound, nil
	}
	if err != nil {
		return "", err
	}
	if p.Status.IsTerminal() {
		return s.alreadyFinalized(p), nil
	}

	if _, err := s.ensureBalance(ctx, p.UserID); err != nil {
		return "", err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	done, b, err := s.store.CompletePurchase(sctx, purchaseID, s.clock.Now())
	switch {
	case errors.Is(err, ports.ErrWrongState):
		return s.alreadyFinalized(done), nil
	case err != nil:
		// ErrNotFound lands here too: the purchase was read above, so only
		// the balance row can be missing, and nothing was written.
		return "", s.storageErr("complete_purchase", err)
	}

	s.countPurchase(credit.PurchaseStatusCompleted)
	s.countGrant(sourcePurchase, done.Credits)
	s.logger.Info().
		Str("purchase_id", done.ID).
		Str("user_id", done.UserID).
		Str("plan_id", done.PlanID).
		Str("payment_reference", done.PaymentReference).
		Int64("credits", done.Credits).
		Int64("total_credits", b.TotalCredits).
		Msg("purchase completed")
	return credit.OutcomeCompleted, nil
}

// FailPurchase marks a pending purchase failed. No credits move.
func (s *CreditsService) FailPurchase(ctx context.Context, purchaseID string) (credit.CompleteOutcome, error) {
	done, outcome, err := s.transition(ctx, purchaseID, credit.PurchaseStatusFailed)
	if err != nil || outcome != credit.OutcomeFailed {
		return outcome, err
	}

	s.logger.Info().
		Str("purchase_id", done.ID).
		Str("user_id", done.UserID).
		Msg("purchase failed")
	return credit.OutcomeFailed, nil
}

func (s *CreditsService) transition(ctx context.Context, purchaseID string, to credit.PurchaseStatus) (credit.Purchase, credit.CompleteOutcome, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	p, err := s.store.TransitionPurchase(sctx, purchaseID, credit.PurchaseStatusPending, to, s.clock.Now())
	switch {
	case errors.Is(err, ports.ErrNotFound):
		s.logger.Warn().Str("purchase_id", purchaseID).Str("to", string(to)).Msg("purchase not found")
		return credit.Purchase{}, credit.OutcomeNotFound, nil
	case errors.Is(err, ports.ErrWrongState):
		current, getErr := s.store.GetPurchase(sctx, purchaseID)
		if getErr != nil {
			current = credit.Purchase{ID: purchaseID}
		}
		return credit.Purchase{}, s.alreadyFinalized(current), nil
	case err != nil:
		return credit.Purchase{}, "", s.storageErr("transition_purchase", err)
	}

	s.countPurchase(to)
	return p, credit.OutcomeFailed, nil
}

func (s *CreditsService) alreadyFinalized(p credit.Purchase) credit.CompleteOutcome {
	s.logger.Info().
		Str("purchase_id", p.ID).
		Str("status", string(p.Status)).
		Msg("purchase already finalized")
	return credit.OutcomeAlreadyFinalized
}

// GetPurchase returns a purchase by id.
func (s *CreditsService) GetPurchase(ctx context.Context, purchaseID string) (credit.Purchase, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	p, err := s.store.GetPurchase(sctx, purchaseID)
	if errors.Is(err, ports.ErrNotFound) {
		return credit.Purchase{}, credit.ErrPurchaseNotFound
	}
	if err != nil {
		return credit.Purchase{}, s.storageErr("get_purchase", err)
	}
	return p, nil
}

// FindPurchaseByReference returns the purchase opened with a payment reference.
func (s *CreditsService) FindPurchaseByReference(ctx context.Context, ref string) (credit.Purchase, error) {
	if ref == "" {
		return credit.Purchase{}, credit.ErrPurchaseNotFound
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	p, err := s.store.GetPurchaseByReference(sctx, ref)
	if errors.Is(err, ports.ErrNotFound) {
		return credit.Purchase{}, credit.ErrPurchaseNotFound
	}
	if err != nil {
		return credit.Purchase{}, s.storageErr("get_purchase_by_reference", err)
	}
	return p, nil
}

// GetUsageHistory returns the newest usage events for a user.
// limit is clamped to [1, MaxHistoryLimit]; non-positive means the default.
func (s *CreditsService) GetUsageHistory(ctx context.Context, userID string, limit int) ([]usage.Event, error) {
	if userID == "" {
		return nil, credit.ErrInvalidUserID
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	events, err := s.store.ListUsage(sctx, userID, usage.ClampLimit(limit, DefaultHistoryLimit, MaxHistoryLimit))
	if err != nil {
		return nil, s.storageErr("list_usage", err)
	}
	return events, nil
}

// GetUsageSummary aggregates the user's recent history per model.
func (s *CreditsService) GetUsageSummary(ctx context.Context, userID string, limit int) (usage.Summary, error) {
	events, err := s.GetUsageHistory(ctx, userID, limit)
	if err != nil {
		return usage.Summary{}, err
	}
	return usage.Summarize(userID, events), nil
}

// ListPurchases returns the user's purchases, newest first.
func (s *CreditsService) ListPurchases(ctx context.Context, userID string, limit int) ([]credit.Purchase, error) {
	if userID == "" {
		return nil, credit.ErrInvalidUserID
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	purchases, err := s.store.ListPurchases(sctx, userID, usage.ClampLimit(limit, DefaultHistoryLimit, MaxHistoryLimit))
	if err != nil {
		return nil, s.storageErr("list_purchases", err)
	}
	return purchases, nil
}

// Ping checks the ledger store.
func (s *CreditsService) Ping(ctx context.Context) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if err := s.store.Ping(sctx); err != nil {
		return s.storageErr("ping", err)
	}
	return nil
}

func (s *CreditsService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// storageErr classifies an unexpected store failure as retryable. A call
// abandoned by its caller is not a store failure and is not counted.
func (s *CreditsService) storageErr(op string, err error) error {
	if errors.Is(err, credit.ErrStorageUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		s.logger.Debug().Err(err).Str("op", op).Msg("ledger call cancelled by caller")
		return fmt.Errorf("%s: %w", op, err)
	}
	if s.metrics != nil {
		s.metrics.LedgerErrors.WithLabelValues(op).Inc()
	}
	s.logger.Error().Err(err).Str("op", op).Msg("ledger store failure")
	return fmt.Errorf("%w: %s: %w", credit.ErrStorageUnavailable, op, err)
}

func (s *CreditsService) countDeduction(result, modelID string, cost int64) {
	if s.metrics == nil {
		return
	}
	s.metrics.DeductionsTotal.WithLabelValues(result).Inc()
	if cost > 0 {
		s.metrics.CreditsDeducted.WithLabelValues(s.modelLabel(modelID)).Add(float64(cost))
	}
}

// modelLabel keeps the model label bounded by the catalog; callers choose
// model ids freely.
func (s *CreditsService) modelLabel(modelID string) string {
	if s.catalog.HasModel(modelID) {
		return modelID
	}
	return otherModel
}

func (s *CreditsService) countGrant(source string, credits int64) {
	if s.metrics != nil {
		s.metrics.CreditsGranted.WithLabelValues(source).Add(float64(credits))
	}
}

func (s *CreditsService) countPurchase(status credit.PurchaseStatus) {
	if s.metrics != nil {
		s.metrics.PurchasesTotal.WithLabelValues(string(status)).Inc()
	}
}
