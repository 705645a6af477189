package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/DukeRupert/fiesta/internal/domain"
	"github.com/DukeRupert/fiesta/internal/entitlement"
	"github.com/DukeRupert/fiesta/internal/ledger"
)

// SubscriptionStore reads and writes the subscriptions table. It serves the
// entitlement guard and, through Begin, the credit ledger.
type SubscriptionStore struct {
	db *sql.DB
}

// NewSubscriptionStore creates a store on db.
func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

var (
	_ ledger.Store                  = (*SubscriptionStore)(nil)
	_ entitlement.SubscriptionStore = (*SubscriptionStore)(nil)
)

const selectSubscription = `
SELECT tenant_id, tier, status, allowed_models,
       credits_limit, credits_used, credits_remaining,
       rate_limit_per_minute, created_at, updated_at
FROM subscriptions
WHERE tenant_id = $1`

// Get returns the tenant's subscription.
func (s *SubscriptionStore) Get(ctx context.Context, tenantID uuid.UUID) (*domain.Subscription, error) {
	const op = "postgres.subscription.get"

	var sub domain.Subscription
	var status string
	err := s.db.QueryRowContext(ctx, selectSubscription, tenantID).Scan(
		&sub.TenantID,
		&sub.Tier,
		&status,
		pq.Array(&sub.AllowedModels),
		&sub.Balance.CreditsLimit,
		&sub.Balance.CreditsUsed,
		&sub.Balance.CreditsRemaining,
		&sub.RateLimitPerMinute,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.SubscriptionNotFound(op, tenantID.String())
	}
	if err != nil {
		return nil, dbError(err, op)
	}
	sub.Status = domain.SubscriptionStatus(status)
	return &sub, nil
}

// Balance reads the tenant's balance without locking.
func (s *SubscriptionStore) Balance(ctx context.Context, tenantID uuid.UUID) (domain.Balance, error) {
	const op = "postgres.subscription.balance"

	var b domain.Balance
	err := s.db.QueryRowContext(ctx,
		`SELECT credits_limit, credits_used, credits_remaining FROM subscriptions WHERE tenant_id = $1`,
		tenantID,
	).Scan(&b.CreditsLimit, &b.CreditsUsed, &b.CreditsRemaining)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Balance{}, domain.SubscriptionNotFound(op, tenantID.String())
	}
	if err != nil {
		return domain.Balance{}, dbError(err, op)
	}
	return b, nil
}

// Put creates the subscription or replaces every field of an existing one.
func (s *SubscriptionStore) Put(ctx context.Context, sub domain.Subscription) error {
	const op = "postgres.subscription.put"

	if !sub.Status.Valid() {
		return domain.Errorf(domain.EINVALID, op, "unknown status %q", sub.Status)
	}
	if !sub.Balance.Valid() {
		return domain.Invalid(op, "credits_used + credits_remaining must equal credits_limit")
	}
	allowed := sub.AllowedModels
	if allowed == nil {
		allowed = []string{}
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO subscriptions (
    tenant_id, tier, status, allowed_models,
    credits_limit, credits_used, credits_remaining, rate_limit_per_minute
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (tenant_id) DO UPDATE SET
    tier = EXCLUDED.tier,
    status = EXCLUDED.status,
    allowed_models = EXCLUDED.allowed_models,
    credits_limit = EXCLUDED.credits_limit,
    credits_used = EXCLUDED.credits_used,
    credits_remaining = EXCLUDED.credits_remaining,
    rate_limit_per_minute = EXCLUDED.rate_limit_per_minute,
    updated_at = NOW()`,
		sub.TenantID,
		sub.Tier,
		string(sub.Status),
		pq.Array(allowed),
		sub.Balance.CreditsLimit,
		sub.Balance.CreditsUsed,
		sub.Balance.CreditsRemaining,
		sub.RateLimitPerMinute,
	)
	return dbError(err, op)
}

// Begin opens a database transaction for a ledger deduction.
func (s *SubscriptionStore) Begin(ctx context.Context, tenantID uuid.UUID) (ledger.Tx, error) {
	const op = "postgres.ledger.begin"

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, dbError(err, op)
	}
	return &tx{tx: sqlTx, tenantID: tenantID}, nil
}

// tx locks the tenant's row with SELECT ... FOR UPDATE; the lock is held
// until Commit or Rollback.
type tx struct {
	tx       *sql.Tx
	tenantID uuid.UUID
}

func (t *tx) LockAndRead(ctx context.Context) (domain.Balance, error) {
	const op = "postgres.ledger.lock"

	var b domain.Balance
	err := t.tx.QueryRowContext(ctx, `
SELECT credits_limit, credits_used, credits_remaining
FROM subscriptions
WHERE tenant_id = $1
FOR UPDATE`,
		t.tenantID,
	).Scan(&b.CreditsLimit, &b.CreditsUsed, &b.CreditsRemaining)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Balance{}, domain.SubscriptionNotFound(op, t.tenantID.String())
	}
	if err != nil {
		return domain.Balance{}, dbError(err, op)
	}
	return b, nil
}

func (t *tx) Write(ctx context.Context, b domain.Balance) error {
	const op = "postgres.ledger.write"

	if !b.Valid() {
		return domain.Errorf(domain.EINTERNAL, op, "balance invariant violated")
	}
	res, err := t.tx.ExecContext(ctx, `
UPDATE subscriptions
SET credits_used = $2, credits_remaining = $3, updated_at = NOW()
WHERE tenant_id = $1 AND credits_limit = $4`,
		t.tenantID, b.CreditsUsed, b.CreditsRemaining, b.CreditsLimit,
	)
	if err != nil {
		return dbError(err, op)
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return domain.Errorf(domain.EINTERNAL, op, "balance row changed during deduction")
	}
	return nil
}

func (t *tx) Commit() error {
	return dbError(t.tx.Commit(), "postgres.ledger.commit")
}

func (t *tx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return dbError(err, "postgres.ledger.rollback")
}
