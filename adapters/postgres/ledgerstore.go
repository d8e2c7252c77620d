package postgres

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

// LedgerStore implements ports.LedgerStore using PostgreSQL.
type LedgerStore struct {
	db *DB
}

// NewLedgerStore creates a new PostgreSQL ledger store.
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

const balanceColumns = `user_id, total_credits, used_credits, created_at, updated_at`

// GetBalance returns the balance row for a user.
func (s *LedgerStore) GetBalance(ctx context.Context, userID string) (credit.Balance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+balanceColumns+`
		FROM credit_balances
		WHERE user_id = $1
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
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO NOTHING
	`, initial.UserID, initial.TotalCredits, initial.UsedCredits, initial.CreatedAt.UTC(), initial.UpdatedAt.UTC())
	if err != nil {
		return credit.Balance{}, fmt.Errorf("insert balance: %w", err)
	}

	return s.GetBalance(ctx, initial.UserID)
}

// Deduct increments used credits only when the balance covers amount.
func (s *LedgerStore) Deduct(ctx context.Context, userID string, amount int64, at time.Time) (credit.Balance, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE credit_balances
		SET used_credits = used_credits + $1, updated_at = $2
		WHERE user_id = $3 AND used_credits + $1 <= total_credits
		RETURNING `+balanceColumns,
		amount, at.UTC(), userID)

	b, err := scanBalance(row)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.GetBalance(ctx, userID)
		if getErr != nil {
			return credit.Balance{}, getErr
		}
		return current, credit.ErrInsufficientCredits
	}
	if err != nil {
		return credit.Balance{}, fmt.Errorf("deduct: %w", err)
	}
	return b, nil
}

// TopUp increments total credits.
func (s *LedgerStore) TopUp(ctx context.Context, userID string, amount int64, at time.Time) (credit.Balance, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE credit_balances
		SET total_credits = total_credits + $1, updated_at = $2
		WHERE user_id = $3
		RETURNING `+balanceColumns,
		amount, at.UTC(), userID)

	b, err := scanBalance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return credit.Balance{}, ports.ErrNotFound
	}
	if err != nil {
		return credit.Balance{}, fmt.Errorf("top up: %w", err)
	}
	return b, nil
}

// AppendUsageEvent stores a usage event.
func (s *LedgerStore) AppendUsageEvent(ctx context.Context, e usage.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_usage_events (id, user_id, model_id, credits_used, tokens_used, request_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.UserID, e.ModelID, e.CreditsUsed, e.TokensUsed, e.RequestType, e.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return ports.ErrDuplicate
	}
	return err
}

// ListUsage returns the newest usage events for a user.
func (s *LedgerStore) ListUsage(ctx context.Context, userID string, limit int) ([]usage.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, model_id, credits_used, tokens_used, request_type, created_at
		FROM credit_usage_events
		WHERE user_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2
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
	var completedAt sql.NullTime
	if p.CompletedAt != nil {
		completedAt = sql.NullTime{Time: p.CompletedAt.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_purchases (`+purchaseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, p.ID, p.UserID, p.PlanID, p.Credits, p.Amount, p.Currency, p.PaymentReference,
		string(p.Status), p.CreatedAt.UTC(), p.UpdatedAt.UTC(), completedAt)
	if isUniqueViolation(err) {
		return ports.ErrDuplicate
	}
	return err
}

// GetPurchase retrieves a purchase by ID.
func (s *LedgerStore) GetPurchase(ctx context.Context, id string) (credit.Purchase, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+purchaseColumns+` FROM credit_purchases WHERE id = $1
	`, id)
	return notFoundIfNoRows(scanPurchase(row))
}

// GetPurchaseByReference retrieves a purchase by payment reference.
func (s *LedgerStore) GetPurchaseByReference(ctx context.Context, ref string) (credit.Purchase, error) {
	if ref == "" {
		return credit.Purchase{}, ports.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+purchaseColumns+` FROM credit_purchases WHERE payment_reference = $1
	`, ref)
	return notFoundIfNoRows(scanPurchase(row))
}

// TransitionPurchase moves a purchase to a new status only if it is
// currently in from.
func (s *LedgerStore) TransitionPurchase(ctx context.Context, id string, from, to credit.PurchaseStatus, at time.Time) (credit.Purchase, error) {
	var completedAt sql.NullTime
	if to == credit.PurchaseStatusCompleted {
		completedAt = sql.NullTime{Time: at.UTC(), Valid: true}
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE credit_purchases
		SET status = $1, updated_at = $2, completed_at = COALESCE($3, completed_at)
		WHERE id = $4 AND status = $5
		RETURNING `+purchaseColumns,
		string(to), at.UTC(), completedAt, id, string(from))

	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.GetPurchase(ctx, id)
		if getErr != nil {
			return credit.Purchase{}, getErr
		}
		return current, ports.ErrWrongState
	}
	if err != nil {
		return credit.Purchase{}, fmt.Errorf("transition purchase: %w", err)
	}
	return p, nil
}

// CompletePurchase completes a pending purchase and tops up its owner in
// one transaction. The purchase row is locked by its guarded UPDATE, so a
// concurrent completion waits and then finds it no longer pending.
func (s *LedgerStore) CompletePurchase(ctx context.Context, id string, at time.Time) (credit.Purchase, credit.Balance, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return credit.Purchase{}, credit.Balance{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		UPDATE credit_purchases
		SET status = $1, updated_at = $2, completed_at = $2
		WHERE id = $3 AND status = $4
		RETURNING `+purchaseColumns,
		string(credit.PurchaseStatusCompleted), at.UTC(), id, string(credit.PurchaseStatusPending))

	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		tx.Rollback()
		current, getErr := s.GetPurchase(ctx, id)
		if getErr != nil {
			return credit.Purchase{}, credit.Balance{}, getErr
		}
		return current, credit.Balance{}, ports.ErrWrongState
	}
	if err != nil {
		return credit.Purchase{}, credit.Balance{}, fmt.Errorf("complete purchase: %w", err)
	}

	row = tx.QueryRowContext(ctx, `
		UPDATE credit_balances
		SET total_credits = total_credits + $1, updated_at = $2
		WHERE user_id = $3
		RETURNING `+balanceColumns,
		p.Credits, at.UTC(), p.UserID)

	b, err := scanBalance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return credit.Purchase{}, credit.Balance{}, ports.ErrNotFound
	}
	if err != nil {
		return credit.Purchase{}, credit.Balance{}, fmt.Errorf("grant purchase credits: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return credit.Purchase{}, credit.Balance{}, fmt.Errorf("commit: %w", err)
	}
	return p, b, nil
}

// ListPurchases returns a user's purchases, newest first.
func (s *LedgerStore) ListPurchases(ctx context.Context, userID string, limit int) ([]credit.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM credit_purchases
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
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

func notFoundIfNoRows(p credit.Purchase, err error) (credit.Purchase, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return credit.Purchase{}, ports.ErrNotFound
	}
	return p, err
}

// Ensure interface compliance.
var _ ports.LedgerStore = (*LedgerStore)(nil)
