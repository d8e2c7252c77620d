// Package memory provides in-memory implementations of storage ports.
// Suitable for tests and single-instance development servers.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/artpar/creditgate/domain/credit"
	"github.com/artpar/creditgate/domain/usage"
	"github.com/artpar/creditgate/ports"
)

// LedgerStore is an in-memory implementation of ports.LedgerStore.
// Every conditional write is evaluated under one mutex, which gives the same
// atomicity a database gives for a single process.
type LedgerStore struct {
	mu        sync.RWMutex
	balances  map[string]credit.Balance
	events    []usage.Event
	purchases map[string]credit.Purchase
	byRef     map[string]string // payment reference -> purchase ID
}

// NewLedgerStore creates a new in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		balances:  make(map[string]credit.Balance),
		purchases: make(map[string]credit.Purchase),
		byRef:     make(map[string]string),
	}
}

// GetBalance returns the balance row for a user.
func (s *LedgerStore) GetBalance(ctx context.Context, userID string) (credit.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.balances[userID]
	if !ok {
		return credit.Balance{}, ports.ErrNotFound
	}
	return b, nil
}

// InsertBalanceIfAbsent stores initial unless a row already exists.
func (s *LedgerStore) InsertBalanceIfAbsent(ctx context.Context, initial credit.Balance) (credit.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.balances[initial.UserID]; ok {
		return existing, nil
	}
	s.balances[initial.UserID] = initial
	return initial, nil
}

// Deduct adds amount to used credits if the balance covers it.
func (s *LedgerStore) Deduct(ctx context.Context, userID string, amount int64, at time.Time) (credit.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[userID]
	if !ok {
		return credit.Balance{}, ports.ErrNotFound
	}
	if !b.CanAfford(amount) {
		return b, credit.ErrInsufficientCredits
	}

	b.UsedCredits += amount
	b.UpdatedAt = at
	s.balances[userID] = b
	return b, nil
}

// TopUp adds amount to total credits.
func (s *LedgerStore) TopUp(ctx context.Context, userID string, amount int64, at time.Time) (credit.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[userID]
	if !ok {
		return credit.Balance{}, ports.ErrNotFound
	}

	b.TotalCredits += amount
	b.UpdatedAt = at
	s.balances[userID] = b
	return b, nil
}

// AppendUsageEvent stores a usage event.
func (s *LedgerStore) AppendUsageEvent(ctx context.Context, e usage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, e)
	return nil
}

// ListUsage returns the newest events for a user.
func (s *LedgerStore) ListUsage(ctx context.Context, userID string, limit int) ([]usage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []usage.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].UserID != userID {
			continue
		}
		result = append(result, s.events[i])
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// InsertPurchase stores a new purchase.
func (s *LedgerStore) InsertPurchase(ctx context.Context, p credit.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.purchases[p.ID]; exists {
		return ports.ErrDuplicate
	}
	if p.PaymentReference != "" {
		if _, exists := s.byRef[p.PaymentReference]; exists {
			return ports.ErrDuplicate
		}
		s.byRef[p.PaymentReference] = p.ID
	}
	s.purchases[p.ID] = p
	return nil
}

// GetPurchase retrieves a purchase by ID.
func (s *LedgerStore) GetPurchase(ctx context.Context, id string) (credit.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.purchases[id]
	if !ok {
		return credit.Purchase{}, ports.ErrNotFound
	}
	return p, nil
}

// GetPurchaseByReference retrieves a purchase by payment reference.
func (s *LedgerStore) GetPurchaseByReference(ctx context.Context, ref string) (credit.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byRef[ref]
	if !ok {
		return credit.Purchase{}, ports.ErrNotFound
	}
	return s.purchases[id], nil
}

// TransitionPurchase moves a purchase from one status to another.
func (s *LedgerStore) TransitionPurchase(ctx context.Context, id string, from, to credit.PurchaseStatus, at time.Time) (credit.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[id]
	if !ok {
		return credit.Purchase{}, ports.ErrNotFound
	}
	if p.Status != from {
		return p, ports.ErrWrongState
	}

	p.Status = to
	p.UpdatedAt = at
	if to == credit.PurchaseStatusCompleted {
		completed := at
		p.CompletedAt = &completed
	}
	s.purchases[id] = p
	return p, nil
}

// CompletePurchase completes a pending purchase and tops up its owner.
func (s *LedgerStore) CompletePurchase(ctx context.Context, id string, at time.Time) (credit.Purchase, credit.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[id]
	if !ok {
		return credit.Purchase{}, credit.Balance{}, ports.ErrNotFound
	}
	if p.Status != credit.PurchaseStatusPending {
		return p, credit.Balance{}, ports.ErrWrongState
	}
	b, ok := s.balances[p.UserID]
	if !ok {
		return p, credit.Balance{}, ports.ErrNotFound
	}

	completed := at
	p.Status = credit.PurchaseStatusCompleted
	p.UpdatedAt = at
	p.CompletedAt = &completed
	b.TotalCredits += p.Credits
	b.UpdatedAt = at

	s.purchases[id] = p
	s.balances[p.UserID] = b
	return p, b, nil
}

// ListPurchases returns a user's purchases, newest first.
func (s *LedgerStore) ListPurchases(ctx context.Context, userID string, limit int) ([]credit.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []credit.Purchase
	for _, p := range s.purchases {
		if p.UserID == userID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Ping always succeeds.
func (s *LedgerStore) Ping(ctx context.Context) error {
	return nil
}

// Ensure interface compliance.
var _ ports.LedgerStore = (*LedgerStore)(nil)
