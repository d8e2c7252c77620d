package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/creditgate/domain/credit"
	"github.com/artpar/creditgate/domain/usage"
	"github.com/artpar/creditgate/ports"
)

// LedgerStore implements ports.LedgerStore using SQLite.
// Balance and purchase mutations are conditional statements inside one
// transaction, so correctness holds across processes sharing the database file.
type LedgerStore struct {
	db *DB
}

// NewLedgerStore creates a new SQLite ledger store.
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

const balanceColumns = `user_id, total_credits, used_credits, created_at, updated_at`

// GetBalance returns the balance row for a user.
func (s *LedgerStore) GetBalance(ctx context.Context, userID string) (credit.Balance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+balanceColumns+`
		FROM credit_balances
		WHERE user_id = ?
	`, userID)

	b, err := scanBalance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return credit.Balance{}, ports.ErrNotFound
	}
	return b, err
}

// InsertBalanceIfAbsent seeds a balance row unless one exists, then reads it.
func (s *LedgerStore) InsertBalanceIfAbsent(ctx context.Context, initial credit.Balance) (credit.Balance, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_balances (user_id, total_credits, used_credits, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, initial.UserID, initial.TotalCredits, initial.UsedCredits,
		initial.CreatedAt.UTC(), initial.UpdatedAt.UTC())
	if err != nil {
		return credit.Balance{}, fmt.Errorf("insert balance: %w", err)
	}

	return s.GetBalance(ctx, initial.UserID)
}

// Deduct increments used credits only when the balance covers amount.
// The guard and the increment are one UPDATE statement.
func (s *LedgerStore) Deduct(ctx context.Context, userID string, amount int64, at time.Time) (credit.Balance, error) {
	var b credit.Balance
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE credit_balances
			SET used_credits = used_credits + ?, updated_at = ?
			WHERE user_id = ? AND used_credits + ? <= total_credits
		`, amount, at.UTC(), userID, amount)
		if err != nil {
			return fmt.Errorf("deduct: %w", err)
		}

		b, err = getBalanceTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return credit.ErrInsufficientCredits
		}
		return nil
	})
	return b, err
}

// TopUp increments total credits.
func (s *LedgerStore) TopUp(ctx context.Context, userID string, amount int64, at time.Time) (credit.Balance, error) {
	var b credit.Balance
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE credit_balances
			SET total_credits = total_credits + ?, updated_at = ?
			WHERE user_id = ?
		`, amount, at.UTC(), userID)
		if err != nil {
			return fmt.Errorf("top up: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ports.ErrNotFound
		}

		b, err = getBalanceTx(ctx, tx, userID)
		return err
	})
	return b, err
}

// inTx runs fn in a transaction and rolls back on any error. Expected
// outcomes such as ErrWrongState are returned after a statement that changed
// nothing, so rolling them back loses no work.
func (s *LedgerStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func getBalanceTx(ctx context.Context, tx *sql.Tx, userID string) (credit.Balance, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+balanceColumns+`
		FROM credit_balances
		WHERE user_id = ?
	`, userID)

	b, err := scanBalance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return credit.Balance{}, ports.ErrNotFound
	}
	return b, err
}

// AppendUsageEvent stores a usage event.
func (s *LedgerStore) AppendUsageEvent(ctx context.Context, e usage.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_usage_events (id, user_id, model_id, credits_used, tokens_used, request_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.UserID, e.ModelID, e.CreditsUsed, e.TokensUsed, e.RequestType, e.CreatedAt.UTC())
	if isUniqueConstraintError(err) {
		return ports.ErrDuplicate
	}
	return err
}

// ListUsage returns the newest usage events for a user.
func (s *LedgerStore) ListUsage(ctx context.Context, userID string, limit int) ([]usage.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, model_id, credits_used, tokens_used, request_type, created_at
		FROM credit_usage_events
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []usage.Event
	for rows.Next() {
		var e usage.Event
		if err := rows.Scan(&e.ID, &e.UserID, &e.ModelID, &e.CreditsUsed, &e.TokensUsed, &e.RequestType, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

const purchaseColumns = `id, user_id, plan_id, credits, amount, currency, payment_reference,
	status, created_at, updated_at, completed_at`

// InsertPurchase stores a new purchase.
func (s *LedgerStore) InsertPurchase(ctx context.Context, p credit.Purchase) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_purchases (`+purchaseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.UserID, p.PlanID, p.Credits, p.Amount, p.Currency, p.PaymentReference,
		string(p.Status), p.CreatedAt.UTC(), p.UpdatedAt.UTC(), nullTime(p.CompletedAt))
	if isUniqueConstraintError(err) {
		return ports.ErrDuplicate
	}
	return err
}

// GetPurchase retrieves a purchase by ID.
func (s *LedgerStore) GetPurchase(ctx context.Context, id string) (credit.Purchase, error) {
	return s.getPurchase(ctx, "id", id)
}

// GetPurchaseByReference retrieves a purchase by payment reference.
func (s *LedgerStore) GetPurchaseByReference(ctx context.Context, ref string) (credit.Purchase, error) {
	if ref == "" {
		return credit.Purchase{}, ports.ErrNotFound
	}
	return s.getPurchase(ctx, "payment_reference", ref)
}

func (s *LedgerStore) getPurchase(ctx context.Context, column, value string) (credit.Purchase, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM credit_purchases
		WHERE `+column+` = ?
	`, value)

	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return credit.Purchase{}, ports.ErrNotFound
	}
	return p, err
}

// TransitionPurchase moves a purchase to a new status only if it is
// currently in from. Duplicate webhook deliveries lose the race here.
func (s *LedgerStore) TransitionPurchase(ctx context.Context, id string, from, to credit.PurchaseStatus, at time.Time) (credit.Purchase, error) {
	var completedAt any
	if to == credit.PurchaseStatusCompleted {
		completedAt = at.UTC()
	}

	var p credit.Purchase
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE credit_purchases
			SET status = ?, updated_at = ?, completed_at = COALESCE(?, completed_at)
			WHERE id = ? AND status = ?
		`, string(to), at.UTC(), completedAt, id, string(from))
		if err != nil {
			return fmt.Errorf("transition purchase: %w", err)
		}

		p, err = getPurchaseTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ports.ErrWrongState
		}
		return nil
	})
	return p, err
}

// CompletePurchase completes a pending purchase and tops up its owner in
// one transaction. A missing balance row rolls the status change back.
func (s *LedgerStore) CompletePurchase(ctx context.Context, id string, at time.Time) (credit.Purchase, credit.Balance, error) {
	var (
		p credit.Purchase
		b credit.Balance
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		p, err = getPurchaseTx(ctx, tx, id)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE credit_purchases
			SET status = ?, updated_at = ?, completed_at = ?
			WHERE id = ? AND status = ?
		`, string(credit.PurchaseStatusCompleted), at.UTC(), at.UTC(), id, string(credit.PurchaseStatusPending))
		if err != nil {
			return fmt.Errorf("complete purchase: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ports.ErrWrongState
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE credit_balances
			SET total_credits = total_credits + ?, updated_at = ?
			WHERE user_id = ?
		`, p.Credits, at.UTC(), p.UserID)
		if err != nil {
			return fmt.Errorf("grant purchase credits: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ports.ErrNotFound
		}

		if p, err = getPurchaseTx(ctx, tx, id); err != nil {
			return err
		}
		b, err = getBalanceTx(ctx, tx, p.UserID)
		return err
	})
	return p, b, err
}

func getPurchaseTx(ctx context.Context, tx *sql.Tx, id string) (credit.Purchase, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM credit_purchases
		WHERE id = ?
	`, id)

	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return credit.Purchase{}, ports.ErrNotFound
	}
	return p, err
}

// ListPurchases returns a user's purchases, newest first.
func (s *LedgerStore) ListPurchases(ctx context.Context, userID string, limit int) ([]credit.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM credit_purchases
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var purchases []credit.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

// Ping verifies the database is reachable.
func (s *LedgerStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBalance(row scanner) (credit.Balance, error) {
	var b credit.Balance
	err := row.Scan(&b.UserID, &b.TotalCredits, &b.UsedCredits, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func scanPurchase(row scanner) (credit.Purchase, error) {
	var p credit.Purchase
	var status string
	var completedAt sql.NullTime

	err := row.Scan(&p.ID, &p.UserID, &p.PlanID, &p.Credits, &p.Amount, &p.Currency,
		&p.PaymentReference, &status, &p.CreatedAt, &p.UpdatedAt, &completedAt)
	if err != nil {
		return credit.Purchase{}, err
	}

	p.Status = credit.PurchaseStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	return p, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// Ensure interface compliance.
var _ ports.LedgerStore = (*LedgerStore)(nil)
