package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/fiesta/internal/domain"
	"github.com/DukeRupert/fiesta/internal/memory"
	"github.com/DukeRupert/fiesta/internal/ratelimit"
)

// =============================================================================
// Test doubles
// =============================================================================

type stubCatalog struct {
	multipliers map[string]float64
	tiers       map[string][]string
}

func (c stubCatalog) Multiplier(model string) float64 {
	if m, ok := c.multipliers[model]; ok {
		return m
	}
	return 2.5
}

func (c stubCatalog) AllowedModels(tier string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, m := range c.tiers[tier] {
		out[m] = struct{}{}
	}
	return out
}

// fixedCounter reports the same token count for any text.
type fixedCounter int

func (c fixedCounter) CountTokens(string) int { return int(c) }

type erroringStore struct{}

func (erroringStore) Get(context.Context, uuid.UUID) (*domain.Subscription, error) {
	return nil, errors.New("connection refused")
}

func intPtr(v int) *int { return &v }
func floatPtr(v float64) *float64 { return &v }

type fixture struct {
	guard   *Guard
	store   *memory.Store
	limiter *ratelimit.Limiter
	tenant  uuid.UUID
}

func newFixture(t *testing.T, sub domain.Subscription) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store := memory.NewStore()
	if sub.TenantID == uuid.Nil {
		sub.TenantID = uuid.New()
	}
	store.Put(sub)

	limiter := ratelimit.New(time.Minute, logger)
	t.Cleanup(limiter.Close)

	catalog := stubCatalog{
		multipliers: map[string]float64{"gpt-4o": 1.0, "gemini-2.5-flash": 0.325, "claude-3-opus": 60},
		tiers: map[string][]string{
			"free": {"gemini-2.5-flash"},
			"pro":  {"gpt-4o", "gemini-2.5-flash", "claude-3-opus"},
		},
	}

	return fixture{
		guard:   New(store, catalog, limiter, logger),
		store:   store,
		limiter: limiter,
		tenant:  sub.TenantID,
	}
}

func activeSub(remaining int64) domain.Subscription {
	return domain.Subscription{
		Tier:               "pro",
		Status:             domain.SubscriptionStatusActive,
		Balance:            domain.Balance{CreditsLimit: remaining, CreditsRemaining: remaining},
		RateLimitPerMinute: 60,
	}
}

// =============================================================================
// Admit
// =============================================================================

func TestAdmit_Success(t *testing.T) {
	f := newFixture(t, activeSub(5000))

	adm, err := f.guard.Admit(context.Background(), Request{
		TenantID: f.tenant,
		Prompt:   "hello there",
		Model:    "gpt-4o",
	}, fixedCounter(2))

	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", adm.Model)
	assert.Equal(t, DefaultMaxTokens, adm.MaxTokens)
	assert.InDelta(t, DefaultTemperature, adm.Temperature, 1e-9)
	assert.Equal(t, 1.0, adm.Multiplier)
	assert.Equal(t, 2, adm.EstimatedPromptTokens)
	assert.Equal(t, int64(1002), adm.RequiredCredits)
	assert.Equal(t, f.tenant, adm.Subscription.TenantID)
}

func TestAdmit_InsufficientCreditsScenario(t *testing.T) {
	// 100 credits, multiplier 1.0, 50 prompt tokens, max_tokens 60 → need 110.
	f := newFixture(t, activeSub(100))

	_, err := f.guard.Admit(context.Background(), Request{
		TenantID:  f.tenant,
		Prompt:    "long prompt",
		Model:     "gpt-4o",
		MaxTokens: intPtr(60),
	}, fixedCounter(50))

	require.Error(t, err)
	assert.Equal(t, domain.EINSUFFICIENTCREDITS, domain.ErrorCode(err))
	assert.Equal(t, "need 110 credits, have 100", domain.ErrorMessage(err))
}

func TestAdmit_FractionalMultiplierRoundsUp(t *testing.T) {
	// (3 + 7) × 0.325 = 3.25 → 4 credits.
	f := newFixture(t, activeSub(4))

	adm, err := f.guard.Admit(context.Background(), Request{
		TenantID:  f.tenant,
		Prompt:    "hi",
		Model:     "gemini-2.5-flash",
		MaxTokens: intPtr(7),
	}, fixedCounter(3))

	require.NoError(t, err)
	assert.Equal(t, int64(4), adm.RequiredCredits)
}

func TestAdmit_Denials(t *testing.T) {
	tests := []struct {
		name     string
		sub      func(*domain.Subscription)
		req      func(*Request)
		wantCode string
	}{
		{
			name:     "unknown tenant",
			req:      func(r *Request) { r.TenantID = uuid.New() },
			wantCode: domain.ENOTFOUND,
		},
		{
			name:     "expired",
			sub:      func(s *domain.Subscription) { s.Status = domain.SubscriptionStatusExpired },
			wantCode: domain.EINACTIVE,
		},
		{
			name:     "suspended",
			sub:      func(s *domain.Subscription) { s.Status = domain.SubscriptionStatusSuspended },
			wantCode: domain.EINACTIVE,
		},
		{
			name:     "model outside tier",
			sub:      func(s *domain.Subscription) { s.Tier = "free" },
			wantCode: domain.EMODELNOTALLOWED,
		},
		{
			name:     "model outside subscription list",
			sub:      func(s *domain.Subscription) { s.AllowedModels = []string{"gemini-2.5-flash"} },
			wantCode: domain.EMODELNOTALLOWED,
		},
		{
			name:     "unknown tier allows nothing",
			sub:      func(s *domain.Subscription) { s.Tier = "platinum" },
			wantCode: domain.EMODELNOTALLOWED,
		},
		{
			name:     "zero rate ceiling",
			sub:      func(s *domain.Subscription) { s.RateLimitPerMinute = 0 },
			wantCode: domain.ERATELIMIT,
		},
		{
			name:     "expensive model",
			req:      func(r *Request) { r.Model = "claude-3-opus" },
			wantCode: domain.EINSUFFICIENTCREDITS,
		},
		{
			name:     "empty prompt",
			req:      func(r *Request) { r.Prompt = "  " },
			wantCode: domain.EINVALID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := activeSub(5000)
			if tt.sub != nil {
				tt.sub(&sub)
			}
			f := newFixture(t, sub)

			req := Request{TenantID: f.tenant, Prompt: "hello", Model: "gpt-4o"}
			if tt.req != nil {
				tt.req(&req)
			}

			adm, err := f.guard.Admit(context.Background(), req, fixedCounter(1))

			assert.Nil(t, adm)
			assert.Equal(t, tt.wantCode, domain.ErrorCode(err))
		})
	}
}

func TestAdmit_CheckOrder(t *testing.T) {
	// Inactive and not allowed and broke: inactive is reported first.
	sub := activeSub(0)
	sub.Status = domain.SubscriptionStatusSuspended
	sub.Tier = "free"
	f := newFixture(t, sub)

	_, err := f.guard.Admit(context.Background(), Request{TenantID: f.tenant, Prompt: "x", Model: "gpt-4o"}, fixedCounter(1))

	assert.Equal(t, domain.EINACTIVE, domain.ErrorCode(err))
	assert.Zero(t, f.limiter.Count(f.tenant.String()), "denied before the rate check must not consume a slot")
}

func TestAdmit_RateLimitCeiling(t *testing.T) {
	sub := activeSub(5000)
	sub.RateLimitPerMinute = 2
	f := newFixture(t, sub)
	req := Request{TenantID: f.tenant, Prompt: "x", Model: "gpt-4o", MaxTokens: intPtr(1)}

	for i := 0; i < 2; i++ {
		_, err := f.guard.Admit(context.Background(), req, fixedCounter(1))
		require.NoError(t, err)
	}

	_, err := f.guard.Admit(context.Background(), req, fixedCounter(1))
	assert.Equal(t, domain.ERATELIMIT, domain.ErrorCode(err))
}

func TestAdmit_StoreFailureIsInternal(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	limiter := ratelimit.New(time.Minute, logger)
	t.Cleanup(limiter.Close)
	g := New(erroringStore{}, stubCatalog{}, limiter, logger)

	_, err := g.Admit(context.Background(), Request{TenantID: uuid.New(), Prompt: "x", Model: "gpt-4o"}, fixedCounter(1))

	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
	assert.NotContains(t, domain.ErrorMessage(err), "connection refused")
}

// =============================================================================
// Normalize
// =============================================================================

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
		wantMax int
		wantT   float64
	}{
		{"defaults", Request{Prompt: "p"}, false, 1000, 0.7},
		{"explicit zero max tokens", Request{Prompt: "p", MaxTokens: intPtr(0)}, false, 0, 0.7},
		{"ceiling", Request{Prompt: "p", MaxTokens: intPtr(32768)}, false, 32768, 0.7},
		{"above ceiling", Request{Prompt: "p", MaxTokens: intPtr(32769)}, true, 0, 0},
		{"negative max tokens", Request{Prompt: "p", MaxTokens: intPtr(-1)}, true, 0, 0},
		{"temperature bounds", Request{Prompt: "p", Temperature: floatPtr(2)}, false, 1000, 2},
		{"temperature zero", Request{Prompt: "p", Temperature: floatPtr(0)}, false, 1000, 0},
		{"temperature too high", Request{Prompt: "p", Temperature: floatPtr(2.01)}, true, 0, 0},
		{"temperature negative", Request{Prompt: "p", Temperature: floatPtr(-0.1)}, true, 0, 0},
		{"empty prompt", Request{}, true, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.req)
			if tt.wantErr {
				assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMax, *got.MaxTokens)
			assert.InDelta(t, tt.wantT, *got.Temperature, 1e-9)
			assert.Equal(t, DefaultModel, got.Model)
		})
	}
}
