package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/fiesta/internal/domain"
	"github.com/DukeRupert/fiesta/internal/metrics"
	"github.com/DukeRupert/fiesta/internal/provider"
)

type finalization struct {
	tenantID         uuid.UUID
	conversationID   string
	adapter          provider.Adapter
	model            string
	multiplier       float64
	promptTokens     int
	completionTokens int
	outcome          domain.UsageOutcome
}

type charge struct {
	credits int64
	balance domain.Balance
}

// finalize charges the ledger and records usage. It runs on a context
// detached from the caller, so a disconnect cannot abort the charge, bounded
// by FinalizeTimeout. A usage recording failure is logged and ignored.
func (g *Gateway) finalize(ctx context.Context, f finalization, logger *slog.Logger) (charge, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.config.FinalizeTimeout)
	defer cancel()

	total := f.promptTokens + f.completionTokens
	credits := domain.CreditsFor(total, f.multiplier)

	balance, err := g.ledger.Deduct(fctx, f.tenantID, credits)
	if err != nil {
		logger.Error("finalize charge failed",
			"credits", credits,
			"tokens", total,
			"error", err,
		)
		return charge{}, err
	}

	cost := f.adapter.EstimateCost(f.promptTokens, f.completionTokens, f.model)
	metrics.Consumption(f.adapter.Name(), f.promptTokens, f.completionTokens, credits, cost)

	rec := domain.NewUsageRecord(f.tenantID, f.adapter.Name(), f.model, f.promptTokens, f.completionTokens)
	rec.ConversationID = f.conversationID
	rec.Credits = credits
	rec.CostUSD = cost
	rec.Outcome = f.outcome
	if err := g.usage.Record(fctx, rec); err != nil {
		logger.Warn("usage record failed", "usage_id", rec.ID, "error", err)
	}

	logger.Info("usage finalized",
		"prompt_tokens", f.promptTokens,
		"completion_tokens", f.completionTokens,
		"credits", credits,
		"credits_remaining", balance.CreditsRemaining,
		"outcome", f.outcome,
	)
	return charge{credits: credits, balance: balance}, nil
}

func recordUpstreamError(providerName string, kind outcome) {
	metrics.UpstreamError(providerName, kind.String())
}

func finished(mode, providerName string, state State, code string, started time.Time) {
	if code == "" {
		code = "ok"
	}
	metrics.SessionFinished(mode, providerName, string(state), code, time.Since(started))
}
