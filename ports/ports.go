// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/artpar/creditgate/domain/credit"
	"github.com/artpar/creditgate/domain/plan"
	"github.com/artpar/creditgate/domain/usage"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Catalog Port
// -----------------------------------------------------------------------------

// Catalog is the read-only plan and model-cost lookup.
// Implementations must be safe for concurrent use.
type Catalog interface {
	// GetPlan looks up a plan. ok is false when the plan does not exist.
	GetPlan(id string) (p plan.Plan, ok bool)

	// GetModelCost returns credits per invocation, never less than 1.
	GetModelCost(modelID string) int64

	// HasModel reports whether a model has a configured cost.
	HasModel(modelID string) bool

	// Plans lists all plans in configured order.
	Plans() []plan.Plan
}

// -----------------------------------------------------------------------------
// Ledger Store Port
// -----------------------------------------------------------------------------

// Ledger store outcomes shared by all adapters.
var (
	ErrNotFound   = errors.New("not found")
	ErrDuplicate  = errors.New("duplicate entry")
	ErrWrongState = errors.New("purchase not in expected state")
)

// LedgerStore persists balances, usage events and purchases.
//
// Balance mutations MUST be single atomic conditional writes evaluated by
// the store. Several server instances may share one store, so no
// application-level lock can stand in for them.
type LedgerStore interface {
	// GetBalance returns the balance row, or ErrNotFound.
	GetBalance(ctx context.Context, userID string) (credit.Balance, error)

	// InsertBalanceIfAbsent creates initial unless a row exists, and returns
	// whichever row is stored afterwards. Concurrent callers all see one row.
	InsertBalanceIfAbsent(ctx context.Context, initial credit.Balance) (credit.Balance, error)

	// Deduct adds amount to used credits only if used+amount <= total.
	// Returns credit.ErrInsufficientCredits when the guard fails and
	// ErrNotFound when the row does not exist.
	Deduct(ctx context.Context, userID string, amount int64, at time.Time) (credit.Balance, error)

	// TopUp adds amount to total credits. Returns ErrNotFound if no row.
	TopUp(ctx context.Context, userID string, amount int64, at time.Time) (credit.Balance, error)

	// AppendUsageEvent stores an immutable usage event.
	AppendUsageEvent(ctx context.Context, e usage.Event) error

	// ListUsage returns the most recent events for a user, newest first.
	ListUsage(ctx context.Context, userID string, limit int) ([]usage.Event, error)

	// InsertPurchase stores a new purchase. Returns ErrDuplicate on id or
	// payment reference conflict.
	InsertPurchase(ctx context.Context, p credit.Purchase) error

	// GetPurchase returns a purchase by id, or ErrNotFound.
	GetPurchase(ctx context.Context, id string) (credit.Purchase, error)

	// GetPurchaseByReference returns a purchase by payment reference, or ErrNotFound.
	GetPurchaseByReference(ctx context.Context, ref string) (credit.Purchase, error)

	// TransitionPurchase moves a purchase from -> to atomically.
	// Returns ErrNotFound or ErrWrongState when it cannot.
	TransitionPurchase(ctx context.Context, id string, from, to credit.PurchaseStatus, at time.Time) (credit.Purchase, error)

	// CompletePurchase moves a pending purchase to completed and adds its
	// credits to the owner's balance as one atomic write: either both happen
	// or neither does. Returns ErrNotFound when the purchase or the balance
	// row is missing and ErrWrongState when the purchase is not pending.
	CompletePurchase(ctx context.Context, id string, at time.Time) (credit.Purchase, credit.Balance, error)

	// ListPurchases returns a user's purchases, newest first.
	ListPurchases(ctx context.Context, userID string, limit int) ([]credit.Purchase, error)

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
}

// -----------------------------------------------------------------------------
// Payment Ports
// -----------------------------------------------------------------------------

// CheckoutRequest describes a checkout to be opened for a plan.
type CheckoutRequest struct {
	UserID     string
	PurchaseID string // pre-allocated, echoed back in webhook metadata
	Plan       plan.Plan
	SuccessURL string
	CancelURL  string
}

// Checkout is an opened checkout session.
type Checkout struct {
	PaymentReference string
	RedirectURL      string
}

// WebhookEvent is a verified payment provider notification.
type WebhookEvent struct {
	ID   string // provider event id, used for delivery dedup
	Type string
	Data map[string]any
}

// PaymentProvider abstracts payment provider operations.
type PaymentProvider interface {
	// Name returns the provider name (e.g., "stripe", "dummy").
	Name() string

	// CreateCheckout opens a one-time checkout for a plan.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error)

	// ParseWebhook verifies and decodes a webhook payload.
	ParseWebhook(payload []byte, signature string) (WebhookEvent, error)
}

// PaymentWebhookHandler applies provider notifications to purchases.
type PaymentWebhookHandler interface {
	// HandlePaymentSucceeded completes the purchase identified by ref
	// (payment reference) or, failing that, by purchaseID.
	HandlePaymentSucceeded(ctx context.Context, ref, purchaseID string) (credit.CompleteOutcome, error)

	// HandlePaymentFailed fails the identified purchase.
	HandlePaymentFailed(ctx context.Context, ref, purchaseID string) (credit.CompleteOutcome, error)
}

// EventDeduper remembers webhook deliveries that were fully handled.
// A delivery is remembered only after it is handled, so one that crashed or
// failed midway is processed again when the provider retries it.
type EventDeduper interface {
	// Seen reports whether an event id was already handled.
	Seen(ctx context.Context, provider, eventID string) (bool, error)

	// Remember records an event id as handled.
	Remember(ctx context.Context, provider, eventID string) error
}
