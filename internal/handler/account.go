package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/DukeRupert/fiesta/internal/auth"
	"github.com/DukeRupert/fiesta/internal/catalog"
	"github.com/DukeRupert/fiesta/internal/domain"
	"github.com/DukeRupert/fiesta/internal/provider"
)

// Catalog lists the models the gateway knows about.
type Catalog interface {
	Models() []catalog.Model
	LowestTier(model string) string
}

// Subscriptions reads a tenant's subscription.
type Subscriptions interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*domain.Subscription, error)
}

// Providers lists the upstream adapters requests can be routed to.
type Providers interface {
	Adapters() []provider.Adapter
}

// ProviderInfo is one entry of GET /v1/providers.
type ProviderInfo struct {
	Name   string   `json:"name"`
	Models []string `json:"models"`
}

// ModelInfo is one entry of GET /v1/models.
type ModelInfo struct {
	ID           string  `json:"id"`
	Label        string  `json:"label"`
	Provider     string  `json:"provider"`
	Description  string  `json:"description,omitempty"`
	Multiplier   float64 `json:"credit_multiplier"`
	InputCost1K  float64 `json:"input_cost_1k"`
	OutputCost1K float64 `json:"output_cost_1k"`
	LowestTier   string  `json:"lowest_tier,omitempty"`
}

// BalanceResponse is the body of GET /v1/balance.
type BalanceResponse struct {
	TenantID           uuid.UUID `json:"tenant_id"`
	Tier               string    `json:"tier"`
	Status             string    `json:"status"`
	CreditsLimit       int64     `json:"credits_limit"`
	CreditsUsed        int64     `json:"credits_used"`
	CreditsRemaining   int64     `json:"credits_remaining"`
	RateLimitPerMinute int       `json:"rate_limit_per_minute"`
}

// AccountHandler serves read-only catalog and balance information.
type AccountHandler struct {
	catalog       Catalog
	providers     Providers
	subscriptions Subscriptions
	logger        *slog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(cat Catalog, providers Providers, subs Subscriptions, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		catalog:       cat,
		providers:     providers,
		subscriptions: subs,
		logger:        logger,
	}
}

// RegisterRoutes registers the account routes behind requireTenant.
//
// Routes:
// - GET /v1/models    -> Models
// - GET /v1/providers -> Providers
// - GET /v1/balance   -> Balance
func (h *AccountHandler) RegisterRoutes(mux *http.ServeMux, requireTenant func(http.Handler) http.Handler) {
	mux.Handle("GET /v1/models", requireTenant(http.HandlerFunc(h.Models)))
	mux.Handle("GET /v1/providers", requireTenant(http.HandlerFunc(h.Providers)))
	mux.Handle("GET /v1/balance", requireTenant(http.HandlerFunc(h.Balance)))
}

// Models lists the catalog with the lowest tier that unlocks each model.
func (h *AccountHandler) Models(w http.ResponseWriter, r *http.Request) {
	models := h.catalog.Models()
	out := make([]ModelInfo, 0, len(models))
	for _, m := range models {
		out = append(out, ModelInfo{
			ID:           m.ID,
			Label:        m.Label,
			Provider:     m.Provider,
			Description:  m.Description,
			Multiplier:   m.Multiplier,
			InputCost1K:  m.InputCost1K,
			OutputCost1K: m.OutputCost1K,
			LowestTier:   h.catalog.LowestTier(m.ID),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": out})
}

// Providers lists the routable adapters with the catalog models each serves.
func (h *AccountHandler) Providers(w http.ResponseWriter, r *http.Request) {
	byProvider := make(map[string][]string)
	for _, m := range h.catalog.Models() {
		byProvider[m.Provider] = append(byProvider[m.Provider], m.ID)
	}

	adapters := h.providers.Adapters()
	out := make([]ProviderInfo, 0, len(adapters))
	for _, a := range adapters {
		models := byProvider[a.Name()]
		if models == nil {
			models = []string{}
		}
		out = append(out, ProviderInfo{Name: a.Name(), Models: models})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

// Balance returns the authenticated tenant's credit position.
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	const op = "handler.balance"

	tenantID, ok := auth.TenantFromRequest(r)
	if !ok {
		ErrorResponse(w, r, h.logger, domain.Unauthenticated(op, "Authentication required"))
		return
	}

	sub, err := h.subscriptions.Get(r.Context(), tenantID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{
		TenantID:           sub.TenantID,
		Tier:               sub.Tier,
		Status:             string(sub.Status),
		CreditsLimit:       sub.Balance.CreditsLimit,
		CreditsUsed:        sub.Balance.CreditsUsed,
		CreditsRemaining:   sub.Balance.CreditsRemaining,
		RateLimitPerMinute: sub.RateLimitPerMinute,
	})
}
