package ledger_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/fiesta/internal/domain"
	"github.com/DukeRupert/fiesta/internal/ledger"
	"github.com/DukeRupert/fiesta/internal/memory"
)

func newLedger(t *testing.T, remaining int64) (*ledger.Ledger, *memory.Store, uuid.UUID) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store := memory.NewStore()
	tenantID := uuid.New()
	store.Put(domain.Subscription{
		TenantID: tenantID,
		Tier:     "pro",
		Status:   domain.SubscriptionStatusActive,
		Balance:  domain.Balance{CreditsLimit: remaining, CreditsRemaining: remaining},
	})
	return ledger.New(store, logger), store, tenantID
}

// =============================================================================
// Deduct
// =============================================================================

func TestDeduct(t *testing.T) {
	l, _, tenantID := newLedger(t, 100)

	b, err := l.Deduct(context.Background(), tenantID, 40)

	require.NoError(t, err)
	assert.Equal(t, domain.Balance{CreditsLimit: 100, CreditsUsed: 40, CreditsRemaining: 60}, b)
}

func TestDeduct_Errors(t *testing.T) {
	tests := []struct {
		name     string
		credits  int64
		tenant   func(uuid.UUID) uuid.UUID
		wantCode string
	}{
		{"negative", -1, func(id uuid.UUID) uuid.UUID { return id }, domain.EINVALID},
		{"insufficient", 101, func(id uuid.UUID) uuid.UUID { return id }, domain.EINSUFFICIENTCREDITS},
		{"unknown tenant", 1, func(uuid.UUID) uuid.UUID { return uuid.New() }, domain.ENOTFOUND},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _, tenantID := newLedger(t, 100)

			_, err := l.Deduct(context.Background(), tt.tenant(tenantID), tt.credits)

			assert.Equal(t, tt.wantCode, domain.ErrorCode(err))
			after, balErr := l.Balance(context.Background(), tenantID)
			require.NoError(t, balErr)
			assert.Equal(t, int64(100), after.CreditsRemaining, "failed deduction must not change the balance")
		})
	}
}

func TestDeduct_InsufficientMessage(t *testing.T) {
	l, _, tenantID := newLedger(t, 5)

	_, err := l.Deduct(context.Background(), tenantID, 8)

	assert.Equal(t, "need 8 credits, have 5", domain.ErrorMessage(err))
}

func TestDeduct_ZeroIsRead(t *testing.T) {
	l, _, tenantID := newLedger(t, 100)

	b, err := l.Deduct(context.Background(), tenantID, 0)

	require.NoError(t, err)
	assert.Equal(t, int64(100), b.CreditsRemaining)
	assert.Zero(t, b.CreditsUsed)
}

func TestDeduct_ExactBalance(t *testing.T) {
	l, _, tenantID := newLedger(t, 10)

	b, err := l.Deduct(context.Background(), tenantID, 10)

	require.NoError(t, err)
	assert.Zero(t, b.CreditsRemaining)
	assert.True(t, b.Valid())
}

// =============================================================================
// Concurrency
// =============================================================================

func TestDeduct_TwoConcurrentFinalizations(t *testing.T) {
	l, _, tenantID := newLedger(t, 10)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = l.Deduct(context.Background(), tenantID, 8)
		}()
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case domain.IsCode(err, domain.EINSUFFICIENTCREDITS):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)

	b, err := l.Balance(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.CreditsRemaining)
	assert.Equal(t, int64(8), b.CreditsUsed)
}

func TestDeduct_CreditInvariantUnderConcurrency(t *testing.T) {
	const (
		start   = 1000
		workers = 50
		perCall = 7
		calls   = 10
	)
	l, _, tenantID := newLedger(t, start)

	var succeeded atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := 0; c < calls; c++ {
				_, err := l.Deduct(context.Background(), tenantID, perCall)
				if err == nil {
					succeeded.Add(1)
				} else if !domain.IsCode(err, domain.EINSUFFICIENTCREDITS) {
					t.Errorf("unexpected error: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	b, err := l.Balance(context.Background(), tenantID)
	require.NoError(t, err)
	assert.True(t, b.Valid())
	assert.Equal(t, succeeded.Load()*perCall, b.CreditsUsed)
	assert.Equal(t, int64(start/perCall), succeeded.Load())
	assert.Less(t, b.CreditsRemaining, int64(perCall))
}

func TestDeduct_IndependentTenants(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store := memory.NewStore()
	l := ledger.New(store, logger)

	ids := make([]uuid.UUID, 20)
	for i := range ids {
		ids[i] = uuid.New()
		store.Put(domain.Subscription{
			TenantID: ids[i],
			Status:   domain.SubscriptionStatusActive,
			Balance:  domain.Balance{CreditsLimit: 50, CreditsRemaining: 50},
		})
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		for j := 0; j < 5; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.Deduct(context.Background(), id, 10)
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	for _, id := range ids {
		b, err := l.Balance(context.Background(), id)
		require.NoError(t, err)
		assert.Zero(t, b.CreditsRemaining)
	}
}

// =============================================================================
// Store failures
// =============================================================================

type failingStore struct {
	beginErr  error
	commitErr error
	rolled    bool
}

func (s *failingStore) Begin(ctx context.Context, tenantID uuid.UUID) (ledger.Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &failingTx{store: s}, nil
}

func (s *failingStore) Balance(ctx context.Context, tenantID uuid.UUID) (domain.Balance, error) {
	return domain.Balance{}, errors.New("connection reset")
}

type failingTx struct{ store *failingStore }

func (t *failingTx) LockAndRead(ctx context.Context) (domain.Balance, error) {
	return domain.Balance{CreditsLimit: 10, CreditsRemaining: 10}, nil
}
func (t *failingTx) Write(ctx context.Context, b domain.Balance) error { return nil }
func (t *failingTx) Commit() error { return t.store.commitErr }
func (t *failingTx) Rollback() error {
	t.store.rolled = true
	return nil
}

func TestDeduct_StoreFailuresAreInternal(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	t.Run("begin", func(t *testing.T) {
		l := ledger.New(&failingStore{beginErr: errors.New("pool exhausted")}, logger)
		_, err := l.Deduct(context.Background(), uuid.New(), 1)
		assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
	})

	t.Run("commit rolls back", func(t *testing.T) {
		store := &failingStore{commitErr: errors.New("serialization failure")}
		l := ledger.New(store, logger)
		_, err := l.Deduct(context.Background(), uuid.New(), 1)
		assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
		assert.True(t, store.rolled)
	})

	t.Run("balance", func(t *testing.T) {
		l := ledger.New(&failingStore{}, logger)
		_, err := l.Balance(context.Background(), uuid.New())
		assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
	})
}
