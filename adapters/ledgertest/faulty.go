package ledgertest

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/creditgate/domain/credit"
	"github.com/artpar/creditgate/domain/usage"
	"github.com/artpar/creditgate/ports"
)

// Op names a LedgerStore method for fault injection.
type Op string

const (
	OpGetBalance             Op = "GetBalance"
	OpInsertBalanceIfAbsent  Op = "InsertBalanceIfAbsent"
	OpDeduct                 Op = "Deduct"
	OpTopUp                  Op = "TopUp"
	OpAppendUsageEvent       Op = "AppendUsageEvent"
	OpListUsage              Op = "ListUsage"
	OpInsertPurchase         Op = "InsertPurchase"
	OpGetPurchase            Op = "GetPurchase"
	OpGetPurchaseByReference Op = "GetPurchaseByReference"
	OpTransitionPurchase     Op = "TransitionPurchase"
	OpCompletePurchase       Op = "CompletePurchase"
	OpListPurchases          Op = "ListPurchases"
	OpPing                   Op = "Ping"
)

// Faulty wraps a store and fails selected operations.
// A configured Hang blocks the operation until its context is done.
type Faulty struct {
	ports.LedgerStore

	mu    sync.Mutex
	fails map[Op]error
	hangs map[Op]bool
	calls map[Op]int
}

// NewFaulty wraps inner with no faults configured.
func NewFaulty(inner ports.LedgerStore) *Faulty {
	return &Faulty{
		LedgerStore: inner,
		fails:       make(map[Op]error),
		hangs:       make(map[Op]bool),
		calls:       make(map[Op]int),
	}
}

// Fail makes op return err until Heal is called.
func (f *Faulty) Fail(op Op, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails[op] = err
}

// Hang makes op block until its context is cancelled.
func (f *Faulty) Hang(op Op) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangs[op] = true
}

// Heal clears all configured faults.
func (f *Faulty) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails = make(map[Op]error)
	f.hangs = make(map[Op]bool)
}

// Calls returns how many times op was invoked.
func (f *Faulty) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Faulty) check(ctx context.Context, op Op) error {
	f.mu.Lock()
	f.calls[op]++
	err := f.fails[op]
	hang := f.hangs[op]
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *Faulty) GetBalance(ctx context.Context, userID string) (credit.Balance, error) {
	if err := f.check(ctx, OpGetBalance); err != nil {
		return credit.Balance{}, err
	}
	return f.LedgerStore.GetBalance(ctx, userID)
}

func (f *Faulty) InsertBalanceIfAbsent(ctx context.Context, initial credit.Balance) (credit.Balance, error) {
	if err := f.check(ctx, OpInsertBalanceIfAbsent); err != nil {
		return credit.Balance{}, err
	}
	return f.LedgerStore.InsertBalanceIfAbsent(ctx, initial)
}

func (f *Faulty) Deduct(ctx context.Context, userID string, amount int64, at time.Time) (credit.Balance, error) {
	if err := f.check(ctx, OpDeduct); err != nil {
		return credit.Balance{}, err
	}
	return f.LedgerStore.Deduct(ctx, userID, amount, at)
}

func (f *Faulty) TopUp(ctx context.Context, userID string, amount int64, at time.Time) (credit.Balance, error) {
	if err := f.check(ctx, OpTopUp); err != nil {
		return credit.Balance{}, err
	}
	return f.LedgerStore.TopUp(ctx, userID, amount, at)
}

func (f *Faulty) AppendUsageEvent(ctx context.Context, e usage.Event) error {
	if err := f.check(ctx, OpAppendUsageEvent); err != nil {
		return err
	}
	return f.LedgerStore.AppendUsageEvent(ctx, e)
}

func (f *Faulty) ListUsage(ctx context.Context, userID string, limit int) ([]usage.Event, error) {
	if err := f.check(ctx, OpListUsage); err != nil {
		return nil, err
	}
	return f.LedgerStore.ListUsage(ctx, userID, limit)
}

func (f *Faulty) InsertPurchase(ctx context.Context, p credit.Purchase) error {
	if err := f.check(ctx, OpInsertPurchase); err != nil {
		return err
	}
	return f.LedgerStore.InsertPurchase(ctx, p)
}

func (f *Faulty) GetPurchase(ctx context.Context, id string) (credit.Purchase, error) {
	if err := f.check(ctx, OpGetPurchase); err != nil {
		return credit.Purchase{}, err
	}
	return f.LedgerStore.GetPurchase(ctx, id)
}

func (f *Faulty) GetPurchaseByReference(ctx context.Context, ref string) (credit.Purchase, error) {
	if err := f.check(ctx, OpGetPurchaseByReference); err != nil {
		return credit.Purchase{}, err
	}
	return f.LedgerStore.GetPurchaseByReference(ctx, ref)
}

func (f *Faulty) TransitionPurchase(ctx context.Context, id string, from, to credit.PurchaseStatus, at time.Time) (credit.Purchase, error) {
	if err := f.check(ctx, OpTransitionPurchase); err != nil {
		return credit.Purchase{}, err
	}
	return f.LedgerStore.TransitionPurchase(ctx, id, from, to, at)
}

func (f *Faulty) CompletePurchase(ctx context.Context, id string, at time.Time) (credit.Purchase, credit.Balance, error) {
	if err := f.check(ctx, OpCompletePurchase); err != nil {
		return credit.Purchase{}, credit.Balance{}, err
	}
	return f.LedgerStore.CompletePurchase(ctx, id, at)
}

func (f *Faulty) ListPurchases(ctx context.Context, userID string, limit int) ([]credit.Purchase, error) {
	if err := f.check(ctx, OpListPurchases); err != nil {
		return nil, err
	}
	return f.LedgerStore.ListPurchases(ctx, userID, limit)
}

func (f *Faulty) Ping(ctx context.Context) error {
	if err := f.check(ctx, OpPing); err != nil {
		return err
	}
	return f.LedgerStore.Ping(ctx)
}

// Ensure interface compliance.
var _ ports.LedgerStore = (*Faulty)(nil)
