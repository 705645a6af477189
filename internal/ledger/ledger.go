// Package ledger moves credits from a tenant's remaining balance to used,
// atomically with respect to every other deduction for the same tenant.
package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/DukeRupert/fiesta/internal/domain"
)

// Store opens per-tenant balance transactions.
type Store interface {
	// Begin starts a transaction scoped to one tenant's balance.
	Begin(ctx context.Context, tenantID uuid.UUID) (Tx, error)

	// Balance reads the current balance without locking.
	Balance(ctx context.Context, tenantID uuid.UUID) (domain.Balance, error)
}

// Tx is a single-tenant balance transaction. After LockAndRead returns, no
// other transaction for the same tenant can read or write the balance until
// Commit or Rollback.
type Tx interface {
	// LockAndRead locks the tenant's balance and returns it. Returns a
	// domain.ENOTFOUND error when the tenant has no subscription.
	LockAndRead(ctx context.Context) (domain.Balance, error)

	// Write stages the new balance.
	Write(ctx context.Context, b domain.Balance) error

	Commit() error

	// Rollback releases the lock and discards staged writes. Calling it
	// after Commit is a no-op.
	Rollback() error
}

// Ledger performs credit deductions against a Store.
type Ledger struct {
	store  Store
	logger *slog.Logger
}

// New creates a new ledger
func New(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger,
	}
}

// Deduct subtracts credits from the tenant's balance and returns the new
// balance. A zero amount is a read that returns the current balance.
func (l *Ledger) Deduct(ctx context.Context, tenantID uuid.UUID, credits int64) (domain.Balance, error) {
	const op = "ledger.deduct"

	if credits < 0 {
		return domain.Balance{}, domain.Invalid(op, "credits must not be negative")
	}

	tx, err := l.store.Begin(ctx, tenantID)
	if err != nil {
		return domain.Balance{}, internalOr(err, op, "begin transaction")
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			l.logger.Error("ledger rollback failed", "tenant_id", tenantID, "error", rbErr)
		}
	}()

	current, err := tx.LockAndRead(ctx)
	if err != nil {
		return domain.Balance{}, internalOr(err, op, "read balance")
	}
	if credits == 0 {
		return current, nil
	}
	if !current.Covers(credits) {
		return current, domain.InsufficientCredits(op, credits, current.CreditsRemaining)
	}

	next := current.Deduct(credits)
	if err := tx.Write(ctx, next); err != nil {
		return domain.Balance{}, internalOr(err, op, "write balance")
	}
	if err := tx.Commit(); err != nil {
		return domain.Balance{}, internalOr(err, op, "commit transaction")
	}
	committed = true

	l.logger.Debug("credits deducted",
		"tenant_id", tenantID,
		"credits", credits,
		"credits_remaining", next.CreditsRemaining,
	)
	return next, nil
}

// Balance returns the tenant's current balance.
func (l *Ledger) Balance(ctx context.Context, tenantID uuid.UUID) (domain.Balance, error) {
	const op = "ledger.balance"

	b, err := l.store.Balance(ctx, tenantID)
	if err != nil {
		return domain.Balance{}, internalOr(err, op, "read balance")
	}
	return b, nil
}

// internalOr passes coded errors through and wraps everything else as
// internal.
func internalOr(err error, op, message string) error {
	var e *domain.Error
	if errors.As(err, &e) {
		return err
	}
	return domain.Internal(err, op, message)
}
