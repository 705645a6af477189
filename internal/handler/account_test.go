package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/fiesta/internal/catalog"
	"github.com/DukeRupert/fiesta/internal/domain"
	"github.com/DukeRupert/fiesta/internal/memory"
	"github.com/DukeRupert/fiesta/internal/provider/mock"
	"github.com/DukeRupert/fiesta/internal/router"
)

func newAccountMux(t *testing.T, store *memory.Store, tenantID uuid.UUID) *http.ServeMux {
	t.Helper()
	cat, err := catalog.Default(discardLogger())
	require.NoError(t, err)

	mux := http.NewServeMux()
	routes := router.New(mock.New(discardLogger()))
	NewAccountHandler(cat, routes, store, discardLogger()).RegisterRoutes(mux, func(next http.Handler) http.Handler {
		return withTenant(tenantID, next)
	})
	return mux
}

func TestModels_ListsCatalog(t *testing.T) {
	rec := httptest.NewRecorder()

	newAccountMux(t, memory.NewStore(), uuid.New()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Models []ModelInfo `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Models)

	byID := make(map[string]ModelInfo)
	for _, m := range body.Models {
		byID[m.ID] = m
	}
	echo, ok := byID["mock-echo"]
	require.True(t, ok, "mock-echo should be listed")
	assert.InDelta(t, 2.5, echo.Multiplier, 1e-9)
	assert.NotEmpty(t, echo.LowestTier)
}

func TestProviders_ListsRoutableAdapters(t *testing.T) {
	rec := httptest.NewRecorder()

	newAccountMux(t, memory.NewStore(), uuid.New()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/providers", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Providers []ProviderInfo `json:"providers"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Providers, 1)
	assert.Equal(t, "mock", body.Providers[0].Name)
	assert.Contains(t, body.Providers[0].Models, "mock-echo")
}

func TestBalance_ReturnsSubscription(t *testing.T) {
	store := memory.NewStore()
	tenant := uuid.New()
	store.Put(domain.Subscription{
		TenantID:           tenant,
		Tier:               "pro",
		Status:             domain.SubscriptionStatusActive,
		Balance:            domain.Balance{CreditsLimit: 100, CreditsUsed: 30, CreditsRemaining: 70},
		RateLimitPerMinute: 60,
	})
	rec := httptest.NewRecorder()

	newAccountMux(t, store, tenant).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/balance", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got BalanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, tenant, got.TenantID)
	assert.Equal(t, "pro", got.Tier)
	assert.Equal(t, "active", got.Status)
	assert.Equal(t, int64(70), got.CreditsRemaining)
	assert.Equal(t, int64(30), got.CreditsUsed)
	assert.Equal(t, 60, got.RateLimitPerMinute)
}

func TestBalance_UnknownTenant(t *testing.T) {
	rec := httptest.NewRecorder()

	newAccountMux(t, memory.NewStore(), uuid.New()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/balance", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.ENOTFOUND)
}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	tests := []struct {
		name string
		db   Pinger
		want int
	}{
		{"no store", nil, http.StatusOK},
		{"store up", stubPinger{}, http.StatusOK},
		{"store down", stubPinger{err: errors.New("connection refused")}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()

			Health(tt.db, discardLogger()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.want, rec.Code)
			assert.NotContains(t, rec.Body.String(), "connection refused")
		})
	}
}
