// Package credit provides balance and purchase value types and pure functions.
package credit

import "time"

// DefaultFreeGrant is the number of credits seeded into a new balance.
const DefaultFreeGrant int64 = 10

// Balance is a user's credit position (value type).
// Remaining credits are always derived, never stored.
type Balance struct {
	UserID       string
	TotalCredits int64 // increased only by top-ups
	UsedCredits  int64 // increased only by deductions
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewBalance returns the seed row for a user seen for the first time.
func NewBalance(userID string, freeGrant int64, now time.Time) Balance {
	if freeGrant < 0 {
		freeGrant = 0
	}
	return Balance{
		UserID:       userID,
		TotalCredits: freeGrant,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Remaining returns TotalCredits - UsedCredits.
func (b Balance) Remaining() int64 {
	return b.TotalCredits - b.UsedCredits
}

// CanAfford reports whether n credits can be deducted without
// UsedCredits exceeding TotalCredits.
func (b Balance) CanAfford(n int64) bool {
	return n >= 0 && b.UsedCredits+n <= b.TotalCredits
}

// Valid reports whether the balance satisfies its invariants.
func (b Balance) Valid() bool {
	return b.TotalCredits >= 0 && b.UsedCredits >= 0 && b.UsedCredits <= b.TotalCredits
}
