// Package memory provides process-local implementations of the subscription,
// balance and usage stores. It backs STORE=memory and the package tests.
package memory

import (
	"context"
	"hash/fnv"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/fiesta/internal/domain"
	"github.com/DukeRupert/fiesta/internal/ledger"
)

const numShards = 32

// Store keeps subscriptions in a sharded map. A shard lock guards only the
// map; each subscription has its own lock, held by a ledger transaction from
// LockAndRead until Commit or Rollback.
type Store struct {
	shards [numShards]shard
}

type shard struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*entry
}

type entry struct {
	mu  sync.Mutex
	sub domain.Subscription
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i].entries = make(map[uuid.UUID]*entry)
	}
	return s
}

// Put creates or replaces a subscription.
func (s *Store) Put(sub domain.Subscription) {
	sub.AllowedModels = slices.Clone(sub.AllowedModels)
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	sub.UpdatedAt = time.Now().UTC()

	sh := s.shardFor(sub.TenantID)
	sh.mu.Lock()
	e, ok := sh.entries[sub.TenantID]
	if !ok {
		sh.entries[sub.TenantID] = &entry{sub: sub}
		sh.mu.Unlock()
		return
	}
	sh.mu.Unlock()

	e.mu.Lock()
	e.sub = sub
	e.mu.Unlock()
}

// Get returns a copy of the tenant's subscription.
func (s *Store) Get(ctx context.Context, tenantID uuid.UUID) (*domain.Subscription, error) {
	const op = "memory.subscription.get"

	e := s.lookup(tenantID)
	if e == nil {
		return nil, domain.SubscriptionNotFound(op, tenantID.String())
	}
	e.mu.Lock()
	sub := e.sub
	e.mu.Unlock()
	sub.AllowedModels = slices.Clone(sub.AllowedModels)
	return &sub, nil
}

// Balance returns the tenant's balance.
func (s *Store) Balance(ctx context.Context, tenantID uuid.UUID) (domain.Balance, error) {
	sub, err := s.Get(ctx, tenantID)
	if err != nil {
		return domain.Balance{}, err
	}
	return sub.Balance, nil
}

// Begin starts a balance transaction for tenantID.
func (s *Store) Begin(ctx context.Context, tenantID uuid.UUID) (ledger.Tx, error) {
	return &tx{tenantID: tenantID, entry: s.lookup(tenantID)}, nil
}

func (s *Store) shardFor(id uuid.UUID) *shard {
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	return &s.shards[h.Sum32()%numShards]
}

func (s *Store) lookup(id uuid.UUID) *entry {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.entries[id]
}

type tx struct {
	tenantID uuid.UUID
	entry    *entry

	locked bool
	staged *domain.Balance
}

func (t *tx) LockAndRead(ctx context.Context) (domain.Balance, error) {
	const op = "memory.ledger.lock"

	if t.entry == nil {
		return domain.Balance{}, domain.SubscriptionNotFound(op, t.tenantID.String())
	}
	if !t.locked {
		t.entry.mu.Lock()
		t.locked = true
	}
	return t.entry.sub.Balance, nil
}

func (t *tx) Write(ctx context.Context, b domain.Balance) error {
	const op = "memory.ledger.write"

	if !t.locked {
		return domain.Errorf(domain.EINTERNAL, op, "write without lock")
	}
	if !b.Valid() {
		return domain.Errorf(domain.EINTERNAL, op, "balance invariant violated")
	}
	t.staged = &b
	return nil
}

func (t *tx) Commit() error {
	if !t.locked {
		return nil
	}
	if t.staged != nil {
		t.entry.sub.Balance = *t.staged
		t.entry.sub.UpdatedAt = time.Now().UTC()
	}
	t.release()
	return nil
}

func (t *tx) Rollback() error {
	if t.locked {
		t.release()
	}
	return nil
}

func (t *tx) release() {
	t.staged = nil
	t.locked = false
	t.entry.mu.Unlock()
}
