package credit

import "time"

// PurchaseStatus is the lifecycle state of a purchase.
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusFailed    PurchaseStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s PurchaseStatus) IsTerminal() bool {
	return s == PurchaseStatusCompleted || s == PurchaseStatusFailed
}

// Valid reports whether s is a known status.
func (s PurchaseStatus) Valid() bool {
	switch s {
	case PurchaseStatusPending, PurchaseStatusCompleted, PurchaseStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is allowed.
// Only pending purchases move, and only to a terminal state.
func CanTransition(from, to PurchaseStatus) bool {
	return from == PurchaseStatusPending && to.IsTerminal()
}

// Purchase is one attempt to buy a credit plan (value type).
// Credits is a snapshot of the plan at purchase time.
type Purchase struct {
	ID               string
	UserID           string
	PlanID           string
	Credits          int64
	Amount           int64 // minor units
	Currency         string
	PaymentReference string // gateway identifier, e.g. checkout session id
	Status           PurchaseStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// CompleteOutcome is the result of finalizing a purchase.
type CompleteOutcome string

const (
	OutcomeCompleted        CompleteOutcome = "completed"
	OutcomeFailed           CompleteOutcome = "failed"
	OutcomeNotFound         CompleteOutcome = "not_found"
	OutcomeAlreadyFinalized CompleteOutcome = "already_finalized"
)

// Applied reports whether the call performed the transition.
func (o CompleteOutcome) Applied() bool {
	return o == OutcomeCompleted || o == OutcomeFailed
}
