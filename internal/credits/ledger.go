// Package credits implements the billing ledger. The only gate that matters
// is the conditional decrement: a user's balance is mutated by a single
// atomic statement guarded on sufficient funds, so no interleaving of
// concurrent sessions can overdraw an account.
package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"dev.helix.panel/internal/models"
)

// ErrInsufficientCredits is returned when a deduction would overdraw the
// account. No state changes when it is returned.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ErrAccountNotFound is returned when the user has no credit account.
var ErrAccountNotFound = errors.New("credit account not found")

// Pool is the subset of pgxpool.Pool the ledger uses. Tests substitute an
// in-memory implementation that preserves the conditional-update semantics.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger manages credit balances and their audit trail.
type Ledger struct {
	pool Pool
	log  *logrus.Logger
}

// NewLedger creates a ledger over the given pool.
func NewLedger(pool Pool, log *logrus.Logger) *Ledger {
	if log == nil {
		log = logrus.New()
	}
	return &Ledger{pool: pool, log: log}
}

// EnsureSchema creates the ledger tables if they do not exist.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS user_credits (
			user_id VARCHAR(255) PRIMARY KEY,
			balance INT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS credit_ledger (
			id VARCHAR(255) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			delta INT NOT NULL,
			balance INT NOT NULL,
			reason TEXT NOT NULL,
			session_id VARCHAR(255),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_credit_ledger_user_id ON credit_ledger(user_id);
		CREATE INDEX IF NOT EXISTS idx_credit_ledger_session_id ON credit_ledger(session_id);
	`
	if _, err := l.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create credit tables: %w", err)
	}
	return nil
}

// CreateAccount provisions an account with a starting balance.
func (l *Ledger) CreateAccount(ctx context.Context, userID string, balance int) error {
	query := `
		INSERT INTO user_credits (user_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := l.pool.Exec(ctx, query, userID, balance); err != nil {
		return fmt.Errorf("failed to create credit account: %w", err)
	}
	return nil
}

// Balance reads the current balance. The read is not a reservation; only
// Deduct gates spending.
func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := l.pool.QueryRow(ctx, `SELECT balance FROM user_credits WHERE user_id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("user %s: %w", userID, ErrAccountNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

// HasSufficientCredits is the advisory pre-flight check. It short-circuits
// obviously doomed sessions before any generation work starts; the atomic
// deduct remains the actual gate.
func (l *Ledger) HasSufficientCredits(ctx context.Context, userID string, required int) (bool, error) {
	balance, err := l.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance >= required, nil
}

// Deduct atomically subtracts amount from the user's balance if and only if
// the balance covers it, and records a ledger entry. Returns the remaining
// balance, or ErrInsufficientCredits with no state change.
func (l *Ledger) Deduct(ctx context.Context, userID string, amount int, sessionID string) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("deduct amount must be positive, got %d", amount)
	}

	query := `
		UPDATE user_credits
		SET balance = balance - $2, updated_at = NOW()
		WHERE user_id = $1 AND balance >= $2
		RETURNING balance
	`
	var remaining int
	err := l.pool.QueryRow(ctx, query, userID, amount).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		// Zero rows means the guard failed: either no account or not
		// enough balance. Distinguish for the caller.
		if _, balErr := l.Balance(ctx, userID); balErr != nil {
			return 0, balErr
		}
		return 0, ErrInsufficientCredits
	}
	if err != nil {
		return 0, fmt.Errorf("failed to deduct credits: %w", err)
	}

	l.record(ctx, models.CreditLedgerEntry{
		UserID:    userID,
		Delta:     -amount,
		Balance:   remaining,
		Reason:    "debate session debit",
		SessionID: sessionID,
	})

	l.log.WithFields(logrus.Fields{
		"user":      userID,
		"amount":    amount,
		"remaining": remaining,
		"session":   sessionID,
	}).Info("Credits deducted")

	return remaining, nil
}

// Refund unconditionally adds amount back to the user's balance. It fails
// only when the account does not exist.
func (l *Ledger) Refund(ctx context.Context, userID string, amount int, sessionID, reason string) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("refund amount must be positive, got %d", amount)
	}
	if reason == "" {
		reason = "refund"
	}

	query := `
		UPDATE user_credits
		SET balance = balance + $2, updated_at = NOW()
		WHERE user_id = $1
		RETURNING balance
	`
	var newBalance int
	err := l.pool.QueryRow(ctx, query, userID, amount).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("user %s: %w", userID, ErrAccountNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to refund credits: %w", err)
	}

	l.record(ctx, models.CreditLedgerEntry{
		UserID:    userID,
		Delta:     amount,
		Balance:   newBalance,
		Reason:    reason,
		SessionID: sessionID,
	})

	l.log.WithFields(logrus.Fields{
		"user":    userID,
		"amount":  amount,
		"balance": newBalance,
		"reason":  reason,
	}).Info("Credits refunded")

	return newBalance, nil
}

// record appends the audit entry. A failed audit write is logged, not
// propagated; the balance mutation already committed and must not be
// reported as failed.
func (l *Ledger) record(ctx context.Context, entry models.CreditLedgerEntry) {
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now()

	query := `
		INSERT INTO credit_ledger (id, user_id, delta, balance, reason, session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := l.pool.Exec(ctx, query,
		entry.ID, entry.UserID, entry.Delta, entry.Balance, entry.Reason, entry.SessionID, entry.CreatedAt,
	); err != nil {
		l.log.WithError(err).Error("Failed to record credit ledger entry")
	}
}
