// Package entitlement decides whether a tenant may issue a request: it
// checks the subscription, the model allow-list, the per-minute request
// ceiling and a worst-case credit estimate, in that order.
package entitlement

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/DukeRupert/fiesta/internal/domain"
	"github.com/DukeRupert/fiesta/internal/metrics"
)

// Request defaults and bounds.
const (
	DefaultModel       = "mock-echo"
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.7
	MaxTokensCeiling   = 32768
	MinTemperature     = 0.0
	MaxTemperature     = 2.0
)

// SubscriptionStore reads tenant subscriptions.
type SubscriptionStore interface {
	// Get returns a domain.ENOTFOUND error when the tenant has none.
	Get(ctx context.Context, tenantID uuid.UUID) (*domain.Subscription, error)
}

// Catalog supplies credit multipliers and tier allow-lists.
type Catalog interface {
	Multiplier(model string) float64
	AllowedModels(tier string) map[string]struct{}
}

// Limiter admits requests under a per-key ceiling.
type Limiter interface {
	Admit(key string, ceiling int) bool
}

// TokenCounter estimates prompt tokens. Every provider.Adapter is one.
type TokenCounter interface {
	CountTokens(text string) int
}

// Request is an inbound generation request. Nil optional fields take the
// defaults.
type Request struct {
	TenantID       uuid.UUID
	Prompt         string
	Model          string
	ConversationID string
	MaxTokens      *int
	Temperature    *float64
}

// Admission is the result of a successful check.
type Admission struct {
	Subscription          domain.Subscription // Snapshot at admission time
	Model                 string
	MaxTokens             int
	Temperature           float64
	Multiplier            float64
	EstimatedPromptTokens int
	RequiredCredits       int64 // ceil((prompt estimate + max tokens) × multiplier)
}

// Guard performs entitlement checks.
type Guard struct {
	subs    SubscriptionStore
	catalog Catalog
	limiter Limiter
	logger  *slog.Logger
}

// New creates a new guard
func New(subs SubscriptionStore, catalog Catalog, limiter Limiter, logger *slog.Logger) *Guard {
	return &Guard{
		subs:    subs,
		catalog: catalog,
		limiter: limiter,
		logger:  logger,
	}
}

// Admit validates req and runs the checks, short-circuiting on the first
// failure. A request that reaches the rate-limit check consumes a slot even
// if the credit check then fails.
func (g *Guard) Admit(ctx context.Context, req Request, counter TokenCounter) (*Admission, error) {
	const op = "entitlement.admit"

	adm, err := g.admit(ctx, req, counter)
	if err != nil {
		code := domain.ErrorCode(err)
		metrics.AdmissionResult(code)
		if code == domain.EINTERNAL {
			g.logger.Error("admission failed", "tenant_id", req.TenantID, "model", req.Model, "error", err)
			return nil, domain.Internal(err, op, "entitlement check failed")
		}
		g.logger.Info("request denied",
			"tenant_id", req.TenantID,
			"model", req.Model,
			"reason", code,
		)
		return nil, err
	}

	metrics.AdmissionResult("admitted")
	return adm, nil
}

func (g *Guard) admit(ctx context.Context, req Request, counter TokenCounter) (*Admission, error) {
	const op = "entitlement.admit"

	req, err := Normalize(req)
	if err != nil {
		return nil, err
	}

	// 1. Subscription exists
	sub, err := g.subs.Get(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	// 2. Subscription is active
	if !sub.IsActive() {
		return nil, domain.SubscriptionInactive(op, sub.Status)
	}

	// 3. Model is allowed
	if !g.modelAllowed(sub, req.Model) {
		return nil, domain.ModelNotAllowed(op, req.Model)
	}

	// 4. Request rate
	if !g.limiter.Admit(req.TenantID.String(), sub.RateLimitPerMinute) {
		return nil, domain.RateLimit(op)
	}

	// 5. Worst-case credits
	multiplier := g.catalog.Multiplier(req.Model)
	promptTokens := counter.CountTokens(req.Prompt)
	required := domain.CreditsFor(promptTokens+*req.MaxTokens, multiplier)
	if !sub.Balance.Covers(required) {
		return nil, domain.InsufficientCredits(op, required, sub.Balance.CreditsRemaining)
	}

	return &Admission{
		Subscription:          *sub,
		Model:                 req.Model,
		MaxTokens:             *req.MaxTokens,
		Temperature:           *req.Temperature,
		Multiplier:            multiplier,
		EstimatedPromptTokens: promptTokens,
		RequiredCredits:       required,
	}, nil
}

// modelAllowed checks the subscription's own list, or its tier's list when
// the subscription has none.
func (g *Guard) modelAllowed(sub *domain.Subscription, model string) bool {
	if len(sub.AllowedModels) > 0 {
		for _, m := range sub.AllowedModels {
			if m == model {
				return true
			}
		}
		return false
	}
	_, ok := g.catalog.AllowedModels(sub.Tier)[model]
	return ok
}

// Normalize validates req and fills in the default model, max tokens and
// temperature. The returned request has non-nil optional fields.
func Normalize(req Request) (Request, error) {
	const op = "entitlement.validate"

	if strings.TrimSpace(req.Prompt) == "" {
		return req, domain.Invalid(op, "prompt is required")
	}
	if req.Model == "" {
		req.Model = DefaultModel
	}

	maxTokens := DefaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	if maxTokens < 0 {
		return req, domain.Invalid(op, "max_tokens must not be negative")
	}
	if maxTokens > MaxTokensCeiling {
		return req, domain.Errorf(domain.EINVALID, op, "max_tokens must be at most %d", MaxTokensCeiling)
	}

	temperature := DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	if temperature < MinTemperature || temperature > MaxTemperature {
		return req, domain.Errorf(domain.EINVALID, op, "temperature must be between %.0f and %.0f", MinTemperature, MaxTemperature)
	}

	req.MaxTokens = &maxTokens
	req.Temperature = &temperature
	return req, nil
}
