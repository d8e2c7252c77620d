package credit

import "errors"

// Expected outcomes. Callers branch on these; they are not failures.
var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrPurchaseNotFound    = errors.New("purchase not found")
	ErrPurchaseFinalized   = errors.New("purchase already finalized")
	ErrPlanNotFound        = errors.New("plan not found")
	ErrInvalidAmount       = errors.New("credit amount must be positive")
	ErrInvalidUserID       = errors.New("user id is required")
)

// ErrStorageUnavailable means the ledger store could not be reached or timed
// out. It is retryable and must never be reported as a zero balance.
var ErrStorageUnavailable = errors.New("credit storage unavailable")
