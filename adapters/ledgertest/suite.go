// Package ledgertest provides a conformance suite for ports.LedgerStore
// implementations and a fault-injecting wrapper for service tests.
//
// Usage:
//
//	func TestLedgerStore(t *testing.T) {
//		ledgertest.Run(t, func(t *testing.T) ports.LedgerStore {
//			return sqlite.NewLedgerStore(setupTestDB(t))
//		})
//	}
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/artpar/creditgate/domain/credit"
	"github.com/artpar/creditgate/domain/usage"
	"github.com/artpar/creditgate/ports"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) ports.LedgerStore

var epoch = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetBalance_NotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetBalance(context.Background(), "nobody")
		if !errors.Is(err, ports.ErrNotFound) {
			t.Errorf("GetBalance() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("InsertBalanceIfAbsent_Idempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, err := s.InsertBalanceIfAbsent(ctx, credit.NewBalance("u1", 10, epoch))
		if err != nil {
			t.Fatalf("first insert: %v", err)
		}
		if first.TotalCredits != 10 || first.UsedCredits != 0 {
			t.Errorf("first = %+v", first)
		}

		second, err := s.InsertBalanceIfAbsent(ctx, credit.NewBalance("u1", 99, epoch.Add(time.Hour)))
		if err != nil {
			t.Fatalf("second insert: %v", err)
		}
		if second.TotalCredits != 10 {
			t.Errorf("second insert re-seeded balance: %+v", second)
		}
	})

	t.Run("InsertBalanceIfAbsent_Concurrent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				b, err := s.InsertBalanceIfAbsent(ctx, credit.NewBalance("racer", 10, epoch))
				if err != nil {
					errs <- err
					return
				}
				if b.TotalCredits != 10 || b.UsedCredits != 0 {
					errs <- fmt.Errorf("insert %d saw %+v", i, b)
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Error(err)
		}
	})

	t.Run("Deduct", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustSeed(t, s, "u1", 10)

		b, err := s.Deduct(ctx, "u1", 4, epoch.Add(time.Minute))
		if err != nil {
			t.Fatalf("Deduct() error = %v", err)
		}
		if b.UsedCredits != 4 || b.Remaining() != 6 {
			t.Errorf("after deduct = %+v", b)
		}

		if _, err := s.Deduct(ctx, "u1", 7, epoch); !errors.Is(err, credit.ErrInsufficientCredits) {
			t.Errorf("overdraw error = %v, want ErrInsufficientCredits", err)
		}

		b, err = s.Deduct(ctx, "u1", 6, epoch)
		if err != nil {
			t.Fatalf("exact deduct: %v", err)
		}
		if b.Remaining() != 0 {
			t.Errorf("Remaining = %d, want 0", b.Remaining())
		}

		got, _ := s.GetBalance(ctx, "u1")
		if got.UsedCredits != 10 || got.TotalCredits != 10 {
			t.Errorf("stored = %+v", got)
		}
	})

	t.Run("Deduct_MissingRow", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Deduct(context.Background(), "ghost", 1, epoch)
		if !errors.Is(err, ports.ErrNotFound) {
			t.Errorf("Deduct() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("Deduct_ConcurrentNeverOverdraws", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustSeed(t, s, "u1", 3)

		var ok, declined int32
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Deduct(ctx, "u1", 2, epoch)
				switch {
				case err == nil:
					atomic.AddInt32(&ok, 1)
				case errors.Is(err, credit.ErrInsufficientCredits):
					atomic.AddInt32(&declined, 1)
				default:
					t.Errorf("Deduct() unexpected error = %v", err)
				}
			}()
		}
		wg.Wait()

		if ok != 1 || declined != 1 {
			t.Errorf("successes = %d, declined = %d, want 1 and 1", ok, declined)
		}
		b, _ := s.GetBalance(ctx, "u1")
		if !b.Valid() || b.UsedCredits != 2 {
			t.Errorf("balance after race = %+v", b)
		}
	})

	t.Run("Deduct_ManyConcurrent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustSeed(t, s, "u1", 25)

		var ok int32
		var wg sync.WaitGroup
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Deduct(ctx, "u1", 1, epoch); err == nil {
					atomic.AddInt32(&ok, 1)
				}
			}()
		}
		wg.Wait()

		if ok != 25 {
			t.Errorf("successes = %d, want 25", ok)
		}
		b, _ := s.GetBalance(ctx, "u1")
		if b.UsedCredits != 25 || !b.Valid() {
			t.Errorf("balance = %+v", b)
		}
	})

	t.Run("TopUp", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustSeed(t, s, "u1", 10)

		if _, err := s.Deduct(ctx, "u1", 10, epoch); err != nil {
			t.Fatalf("Deduct: %v", err)
		}
		b, err := s.TopUp(ctx, "u1", 500, epoch.Add(time.Hour))
		if err != nil {
			t.Fatalf("TopUp() error = %v", err)
		}
		if b.TotalCredits != 510 || b.UsedCredits != 10 || b.Remaining() != 500 {
			t.Errorf("after top-up = %+v", b)
		}
		if !b.UpdatedAt.Equal(epoch.Add(time.Hour)) {
			t.Errorf("UpdatedAt = %v", b.UpdatedAt)
		}

		if _, err := s.TopUp(ctx, "ghost", 1, epoch); !errors.Is(err, ports.ErrNotFound) {
			t.Errorf("TopUp(ghost) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("UsageEvents", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			e := usage.Event{
				ID:          fmt.Sprintf("evt_%d", i),
				UserID:      "u1",
				ModelID:     "gpt-4",
				CreditsUsed: 5,
				TokensUsed:  int64(100 * i),
				RequestType: "chat",
				CreatedAt:   epoch.Add(time.Duration(i) * time.Minute),
			}
			if err := s.AppendUsageEvent(ctx, e); err != nil {
				t.Fatalf("AppendUsageEvent: %v", err)
			}
		}
		if err := s.AppendUsageEvent(ctx, usage.Event{ID: "other", UserID: "u2", ModelID: "m", CreditsUsed: 1, CreatedAt: epoch}); err != nil {
			t.Fatalf("AppendUsageEvent: %v", err)
		}

		events, err := s.ListUsage(ctx, "u1", 3)
		if err != nil {
			t.Fatalf("ListUsage: %v", err)
		}
		if len(events) != 3 {
			t.Fatalf("len = %d, want 3", len(events))
		}
		if events[0].ID != "evt_4" || events[2].ID != "evt_2" {
			t.Errorf("order = %s..%s, want newest first", events[0].ID, events[2].ID)
		}
		if events[0].TokensUsed != 400 || events[0].RequestType != "chat" || events[0].CreditsUsed != 5 {
			t.Errorf("event fields = %+v", events[0])
		}

		none, err := s.ListUsage(ctx, "nobody", 10)
		if err != nil || len(none) != 0 {
			t.Errorf("ListUsage(nobody) = %v, %v", none, err)
		}
	})

	t.Run("Purchases", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		p := credit.Purchase{
			ID:               "pur_1",
			UserID:           "u1",
			PlanID:           "pro",
			Credits:          500,
			Amount:           2999,
			Currency:         "usd",
			PaymentReference: "cs_test_1",
			Status:           credit.PurchaseStatusPending,
			CreatedAt:        epoch,
			UpdatedAt:        epoch,
		}
		if err := s.InsertPurchase(ctx, p); err != nil {
			t.Fatalf("InsertPurchase: %v", err)
		}
		if err := s.InsertPurchase(ctx, p); !errors.Is(err, ports.ErrDuplicate) {
			t.Errorf("duplicate insert error = %v, want ErrDuplicate", err)
		}

		got, err := s.GetPurchase(ctx, "pur_1")
		if err != nil {
			t.Fatalf("GetPurchase: %v", err)
		}
		if got.Credits != 500 || got.Status != credit.PurchaseStatusPending || got.CompletedAt != nil {
			t.Errorf("GetPurchase = %+v", got)
		}

		byRef, err := s.GetPurchaseByReference(ctx, "cs_test_1")
		if err != nil || byRef.ID != "pur_1" {
			t.Errorf("GetPurchaseByReference = %+v, %v", byRef, err)
		}
		if _, err := s.GetPurchase(ctx, "missing"); !errors.Is(err, ports.ErrNotFound) {
			t.Errorf("GetPurchase(missing) error = %v", err)
		}
		if _, err := s.GetPurchaseByReference(ctx, "missing"); !errors.Is(err, ports.ErrNotFound) {
			t.Errorf("GetPurchaseByReference(missing) error = %v", err)
		}

		done, err := s.TransitionPurchase(ctx, "pur_1", credit.PurchaseStatusPending, credit.PurchaseStatusCompleted, epoch.Add(time.Minute))
		if err != nil {
			t.Fatalf("TransitionPurchase: %v", err)
		}
		if done.Status != credit.PurchaseStatusCompleted || done.CompletedAt == nil {
			t.Errorf("after transition = %+v", done)
		}

		_, err = s.TransitionPurchase(ctx, "pur_1", credit.PurchaseStatusPending, credit.PurchaseStatusCompleted, epoch)
		if !errors.Is(err, ports.ErrWrongState) {
			t.Errorf("second transition error = %v, want ErrWrongState", err)
		}
		_, err = s.TransitionPurchase(ctx, "pur_1", credit.PurchaseStatusPending, credit.PurchaseStatusFailed, epoch)
		if !errors.Is(err, ports.ErrWrongState) {
			t.Errorf("fail after complete error = %v, want ErrWrongState", err)
		}
		_, err = s.TransitionPurchase(ctx, "missing", credit.PurchaseStatusPending, credit.PurchaseStatusCompleted, epoch)
		if !errors.Is(err, ports.ErrNotFound) {
			t.Errorf("missing transition error = %v, want ErrNotFound", err)
		}
	})

	t.Run("TransitionPurchase_ConcurrentOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		p := credit.Purchase{ID: "pur_race", UserID: "u1", PlanID: "pro", Credits: 500, Currency: "usd",
			Status: credit.PurchaseStatusPending, CreatedAt: epoch, UpdatedAt: epoch}
		if err := s.InsertPurchase(ctx, p); err != nil {
			t.Fatalf("InsertPurchase: %v", err)
		}

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 6; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.TransitionPurchase(ctx, "pur_race", credit.PurchaseStatusPending, credit.PurchaseStatusCompleted, epoch)
				if err == nil {
					atomic.AddInt32(&wins, 1)
				} else if !errors.Is(err, ports.ErrWrongState) {
					t.Errorf("unexpected error = %v", err)
				}
			}()
		}
		wg.Wait()

		if wins != 1 {
			t.Errorf("transitions won = %d, want 1", wins)
		}
	})

	t.Run("CompletePurchase", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustSeed(t, s, "u1", 10)
		mustInsertPending(t, s, "pur_1", "u1", 500)

		p, b, err := s.CompletePurchase(ctx, "pur_1", epoch.Add(time.Minute))
		if err != nil {
			t.Fatalf("CompletePurchase: %v", err)
		}
		if p.Status != credit.PurchaseStatusCompleted || p.CompletedAt == nil {
			t.Errorf("purchase = %+v", p)
		}
		if b.TotalCredits != 510 || b.UsedCredits != 0 {
			t.Errorf("balance = %+v, want total 510", b)
		}

		p, _, err = s.CompletePurchase(ctx, "pur_1", epoch.Add(2*time.Minute))
		if !errors.Is(err, ports.ErrWrongState) {
			t.Errorf("second complete error = %v, want ErrWrongState", err)
		}
		if p.Status != credit.PurchaseStatusCompleted {
			t.Errorf("second complete purchase = %+v, want current row", p)
		}
		if got, _ := s.GetBalance(ctx, "u1"); got.TotalCredits != 510 {
			t.Errorf("TotalCredits = %d after second complete, want 510", got.TotalCredits)
		}

		if _, _, err := s.CompletePurchase(ctx, "missing", epoch); !errors.Is(err, ports.ErrNotFound) {
			t.Errorf("missing complete error = %v, want ErrNotFound", err)
		}
	})

	t.Run("CompletePurchase_MissingBalanceChangesNothing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustInsertPending(t, s, "pur_orphan", "ghost", 500)

		if _, _, err := s.CompletePurchase(ctx, "pur_orphan", epoch); !errors.Is(err, ports.ErrNotFound) {
			t.Fatalf("error = %v, want ErrNotFound", err)
		}
		p, err := s.GetPurchase(ctx, "pur_orphan")
		if err != nil {
			t.Fatalf("GetPurchase: %v", err)
		}
		if p.Status != credit.PurchaseStatusPending || p.CompletedAt != nil {
			t.Errorf("purchase = %+v, want still pending", p)
		}

		mustSeed(t, s, "ghost", 0)
		if _, b, err := s.CompletePurchase(ctx, "pur_orphan", epoch); err != nil || b.TotalCredits != 500 {
			t.Errorf("retry = %+v, %v, want total 500", b, err)
		}
	})

	t.Run("CompletePurchase_ConcurrentGrantsOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustSeed(t, s, "u1", 10)
		mustInsertPending(t, s, "pur_race", "u1", 500)

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 6; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := s.CompletePurchase(ctx, "pur_race", epoch)
				if err == nil {
					atomic.AddInt32(&wins, 1)
				} else if !errors.Is(err, ports.ErrWrongState) {
					t.Errorf("unexpected error = %v", err)
				}
			}()
		}
		wg.Wait()

		if wins != 1 {
			t.Errorf("completions won = %d, want 1", wins)
		}
		if b, _ := s.GetBalance(ctx, "u1"); b.TotalCredits != 510 {
			t.Errorf("TotalCredits = %d, want 510", b.TotalCredits)
		}
	})

	t.Run("ListPurchases", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			p := credit.Purchase{
				ID:        fmt.Sprintf("pur_%d", i),
				UserID:    "u1",
				PlanID:    "starter",
				Credits:   100,
				Currency:  "usd",
				Status:    credit.PurchaseStatusPending,
				CreatedAt: epoch.Add(time.Duration(i) * time.Hour),
				UpdatedAt: epoch,
			}
			if err := s.InsertPurchase(ctx, p); err != nil {
				t.Fatalf("InsertPurchase: %v", err)
			}
		}

		list, err := s.ListPurchases(ctx, "u1", 2)
		if err != nil {
			t.Fatalf("ListPurchases: %v", err)
		}
		if len(list) != 2 || list[0].ID != "pur_2" || list[1].ID != "pur_1" {
			t.Errorf("ListPurchases = %+v", list)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := newStore(t).Ping(context.Background()); err != nil {
			t.Errorf("Ping() error = %v", err)
		}
	})
}

func mustSeed(t *testing.T, s ports.LedgerStore, userID string, credits int64) {
	t.Helper()
	if _, err := s.InsertBalanceIfAbsent(context.Background(), credit.NewBalance(userID, credits, epoch)); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
}

func mustInsertPending(t *testing.T, s ports.LedgerStore, id, userID string, credits int64) {
	t.Helper()
	p := credit.Purchase{ID: id, UserID: userID, PlanID: "pro", Credits: credits, Currency: "usd",
		Status: credit.PurchaseStatusPending, CreatedAt: epoch, UpdatedAt: epoch}
	if err := s.InsertPurchase(context.Background(), p); err != nil {
		t.Fatalf("InsertPurchase: %v", err)
	}
}
