package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/artpar/creditgate/adapters/payment"
	"github.com/artpar/creditgate/app"
	"github.com/artpar/creditgate/domain/credit"
	"github.com/artpar/creditgate/domain/plan"
	"github.com/artpar/creditgate/domain/usage"
	"github.com/artpar/creditgate/pkg/jsonapi"
	"github.com/artpar/creditgate/ports"
)

// RetryAfter is suggested to clients when the ledger is unavailable.
const RetryAfter = 5 * time.Second

const maxRequestBody = 64 << 10

// CreditsHandler serves balances, deductions, usage and purchases.
type CreditsHandler struct {
	credits  *app.CreditsService
	checkout *app.CheckoutService
	catalog  ports.Catalog
	logger   zerolog.Logger
}

// NewCreditsHandler creates a credits handler. checkout may be nil when
// purchases are not offered.
func NewCreditsHandler(credits *app.CreditsService, checkout *app.CheckoutService, catalog ports.Catalog, logger zerolog.Logger) *CreditsHandler {
	return &CreditsHandler{credits: credits, checkout: checkout, catalog: catalog, logger: logger}
}

// Routes returns the chi router for the /v1 API.
func (h *CreditsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	// Catalog listing is public.
	r.Get("/plans", h.ListPlans)
	r.Get("/models/{modelID}/cost", h.GetModelCost)

	r.Group(func(r chi.Router) {
		r.Use(RequireUser)

		r.Get("/credits/balance", h.GetBalance)
		r.Post("/credits/deduct", h.Deduct)
		r.Get("/credits/usage", h.GetUsage)
		r.Get("/credits/usage/summary", h.GetUsageSummary)

		r.Post("/purchases", h.CreatePurchase)
		r.Get("/purchases", h.ListPurchases)
		r.Get("/purchases/{purchaseID}", h.GetPurchase)
	})

	return r
}

// RequireUser rejects requests without the caller identity header.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(UserIDHeader) == "" {
			jsonapi.WriteError(w, jsonapi.NewError(http.StatusUnauthorized, "unauthorized", "Unauthorized").
				Detail("missing "+UserIDHeader+" header").
				Header(UserIDHeader).
				Build())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) string {
	return r.Header.Get(UserIDHeader)
}

// ListPlans lists purchasable plans in configured order.
func (h *CreditsHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans := h.catalog.Plans()
	resources := make([]jsonapi.Resource, 0, len(plans))
	for _, p := range plans {
		resources = append(resources, planResource(p))
	}
	jsonapi.WriteCollection(w, http.StatusOK, resources, jsonapi.Meta{"total": len(plans)})
}

// GetModelCost returns the credits charged per invocation of a model.
func (h *CreditsHandler) GetModelCost(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "modelID")
	jsonapi.WriteResource(w, http.StatusOK, jsonapi.NewResource("model_costs", modelID).
		Attr("credits", h.catalog.GetModelCost(modelID)).
		Build())
}

// GetBalance returns the caller's balance.
func (h *CreditsHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.credits.GetBalance(r.Context(), userID(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	jsonapi.WriteResource(w, http.StatusOK, balanceResource(b))
}

// DeductRequest is the body of POST /v1/credits/deduct.
type DeductRequest struct {
	ModelID     string `json:"model_id"`
	TokensUsed  int64  `json:"tokens_used"`
	RequestType string `json:"request_type"`
}

// Deduct charges one model invocation. A declined deduction is 402.
func (h *CreditsHandler) Deduct(w http.ResponseWriter, r *http.Request) {
	var req DeductRequest
	if err := decodeBody(r, &req); err != nil {
		jsonapi.WriteBadRequest(w, err.Error())
		return
	}
	if req.ModelID == "" {
		jsonapi.WriteError(w, jsonapi.ErrValidationRequired("model_id"))
		return
	}
	if req.TokensUsed < 0 {
		jsonapi.WriteValidationError(w, "tokens_used", "tokens_used must not be negative")
		return
	}

	res, err := h.credits.Deduct(r.Context(), userID(r), req.ModelID, req.TokensUsed, req.RequestType)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if !res.Allowed {
		jsonapi.WriteError(w, jsonapi.ErrInsufficientCredits(res.Cost, res.Balance.Remaining()))
		return
	}

	jsonapi.WriteResource(w, http.StatusOK, jsonapi.NewResource("deductions", res.Balance.UserID).
		Attr("allowed", true).
		Attr("model_id", req.ModelID).
		Attr("cost", res.Cost).
		Attr("total_credits", res.Balance.TotalCredits).
		Attr("used_credits", res.Balance.UsedCredits).
		Attr("remaining_credits", res.Balance.Remaining()).
		Build())
}

// GetUsage returns the caller's most recent usage events.
func (h *CreditsHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	events, err := h.credits.GetUsageHistory(r.Context(), userID(r), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resources := make([]jsonapi.Resource, 0, len(events))
	for _, e := range events {
		resources = append(resources, usageResource(e))
	}
	jsonapi.WriteCollection(w, http.StatusOK, resources, jsonapi.Meta{
		"count": len(events),
		"limit": usage.ClampLimit(limit, app.DefaultHistoryLimit, app.MaxHistoryLimit),
	})
}

// GetUsageSummary aggregates the caller's recent usage by model.
func (h *CreditsHandler) GetUsageSummary(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	s, err := h.credits.GetUsageSummary(r.Context(), userID(r), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	byModel := make([]map[string]any, 0, len(s.ByModel))
	for _, m := range s.ByModel {
		byModel = append(byModel, map[string]any{
			"model_id":     m.ModelID,
			"invocations":  m.Invocations,
			"credits_used": m.CreditsUsed,
			"tokens_used":  m.TokensUsed,
		})
	}

	jsonapi.WriteResource(w, http.StatusOK, jsonapi.NewResource("usage_summaries", s.UserID).
		Attr("invocations", s.Invocations).
		Attr("credits_used", s.CreditsUsed).
		Attr("tokens_used", s.TokensUsed).
		AttrIf(!s.First.IsZero(), "first_at", s.First).
		AttrIf(!s.Last.IsZero(), "last_at", s.Last).
		Attr("by_model", byModel).
		Build())
}

// CreatePurchaseRequest is the body of POST /v1/purchases.
type CreatePurchaseRequest struct {
	PlanID string `json:"plan_id"`
}

// CreatePurchase opens a checkout for a plan.
func (h *CreditsHandler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	if h.checkout == nil {
		jsonapi.WriteError(w, jsonapi.ErrNotImplemented("Purchasing"))
		return
	}

	var req CreatePurchaseRequest
	if err := decodeBody(r, &req); err != nil {
		jsonapi.WriteBadRequest(w, err.Error())
		return
	}
	if req.PlanID == "" {
		jsonapi.WriteError(w, jsonapi.ErrValidationRequired("plan_id"))
		return
	}

	res, err := h.checkout.Checkout(r.Context(), userID(r), req.PlanID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	jsonapi.WriteCreated(w, jsonapi.NewResource("purchases", res.PurchaseID).
		Attr("plan_id", res.Plan.ID).
		Attr("credits", res.Plan.Credits).
		Attr("amount", res.Plan.PriceAmount).
		Attr("currency", res.Plan.Currency).
		Attr("status", string(credit.PurchaseStatusPending)).
		Attr("payment_reference", res.PaymentReference).
		Attr("redirect_url", res.RedirectURL).
		Build(), "/v1/purchases/"+res.PurchaseID)
}

// ListPurchases lists the caller's purchases, newest first.
func (h *CreditsHandler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	purchases, err := h.credits.ListPurchases(r.Context(), userID(r), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resources := make([]jsonapi.Resource, 0, len(purchases))
	for _, p := range purchases {
		resources = append(resources, purchaseResource(p))
	}
	jsonapi.WriteCollection(w, http.StatusOK, resources, jsonapi.Meta{"count": len(purchases)})
}

// GetPurchase returns one of the caller's purchases.
func (h *CreditsHandler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "purchaseID")

	p, err := h.credits.GetPurchase(r.Context(), id)
	if err == nil && p.UserID != userID(r) {
		err = credit.ErrPurchaseNotFound
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	jsonapi.WriteResource(w, http.StatusOK, purchaseResource(p))
}

// writeServiceError maps service errors to JSON:API responses.
// Storage failures are never reported as an empty balance.
func (h *CreditsHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, credit.ErrStorageUnavailable):
		jsonapi.WriteServiceUnavailable(w, "credit ledger temporarily unavailable", RetryAfter)
	case errors.Is(err, credit.ErrInvalidUserID):
		jsonapi.WriteUnauthorized(w, "missing "+UserIDHeader+" header")
	case errors.Is(err, credit.ErrPlanNotFound):
		jsonapi.WriteNotFound(w, "plan")
	case errors.Is(err, credit.ErrPurchaseNotFound):
		jsonapi.WriteNotFound(w, "purchase")
	case errors.Is(err, credit.ErrPurchaseFinalized):
		jsonapi.WriteConflict(w, "purchase already finalized")
	case errors.Is(err, ports.ErrDuplicate):
		jsonapi.WriteConflict(w, "purchase already recorded")
	case errors.Is(err, credit.ErrInvalidAmount):
		jsonapi.WriteValidationError(w, "credits", err.Error())
	case errors.Is(err, payment.ErrPaymentsDisabled):
		jsonapi.WriteError(w, jsonapi.ErrNotImplemented("Purchasing"))
	case errors.Is(err, app.ErrPaymentProvider):
		jsonapi.WriteError(w, jsonapi.ErrBadGateway("payment provider unavailable"))
	default:
		h.logger.Error().Err(err).Msg("unhandled service error")
		jsonapi.WriteInternalError(w, "")
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

// parseLimit reads ?limit=. Absent means 0 (service default).
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		jsonapi.WriteError(w, jsonapi.NewError(http.StatusBadRequest, "bad_request", "Bad Request").
			Detail("limit must be an integer").
			Parameter("limit").
			Build())
		return 0, false
	}
	return n, true
}

func planResource(p plan.Plan) jsonapi.Resource {
	features := p.Features
	if features == nil {
		features = []string{}
	}
	return jsonapi.NewResource("plans", p.ID).
		Attr("name", p.Name).
		Attr("credits", p.Credits).
		Attr("price_amount", p.PriceAmount).
		Attr("currency", p.Currency).
		Attr("popular", p.Popular).
		Attr("features", features).
		AttrIf(p.Description != "", "description", p.Description).
		Build()
}

func balanceResource(b credit.Balance) jsonapi.Resource {
	return jsonapi.NewResource("balances", b.UserID).
		Attr("total_credits", b.TotalCredits).
		Attr("used_credits", b.UsedCredits).
		Attr("remaining_credits", b.Remaining()).
		Attr("updated_at", b.UpdatedAt).
		Build()
}

func usageResource(e usage.Event) jsonapi.Resource {
	return jsonapi.NewResource("usage_events", e.ID).
		Attr("model_id", e.ModelID).
		Attr("credits_used", e.CreditsUsed).
		Attr("tokens_used", e.TokensUsed).
		Attr("request_type", e.RequestType).
		Attr("created_at", e.CreatedAt).
		Build()
}

func purchaseResource(p credit.Purchase) jsonapi.Resource {
	return jsonapi.NewResource("purchases", p.ID).
		Attr("plan_id", p.PlanID).
		Attr("credits", p.Credits).
		Attr("amount", p.Amount).
		Attr("currency", p.Currency).
		Attr("status", string(p.Status)).
		Attr("payment_reference", p.PaymentReference).
		Attr("created_at", p.CreatedAt).
		AttrIf(p.CompletedAt != nil, "completed_at", p.CompletedAt).
		Build()
}
