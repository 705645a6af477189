// Package gateway runs streaming and non-streaming generation sessions. It
// drives the admitted request through the upstream adapter, relays text to
// the caller, recovers from streaming failures by generating and emulating,
// and finalizes usage against the credit ledger.
package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/fiesta/internal/domain"
	"github.com/DukeRupert/fiesta/internal/entitlement"
	"github.com/DukeRupert/fiesta/internal/provider"
)

// Guard admits requests.
type Guard interface {
	Admit(ctx context.Context, req entitlement.Request, counter entitlement.TokenCounter) (*entitlement.Admission, error)
}

// Router resolves a model to its adapter. Select never returns nil.
type Router interface {
	Select(model string) provider.Adapter
}

// Ledger charges credits.
type Ledger interface {
	Deduct(ctx context.Context, tenantID uuid.UUID, credits int64) (domain.Balance, error)
}

// UsageRecorder stores consumption facts. Implementations are expected to
// return quickly.
type UsageRecorder interface {
	Record(ctx context.Context, rec domain.UsageRecord) error
}

// Defaults for Config.
const (
	DefaultUpstreamTimeout = 60 * time.Second
	DefaultFinalizeTimeout = 10 * time.Second
)

// Config tunes session behavior.
type Config struct {
	UpstreamTimeout time.Duration // Bound on the whole upstream exchange
	FinalizeTimeout time.Duration // Bound on charging after the caller left
	Emulation       Emulator
}

func (c Config) withDefaults() Config {
	if c.UpstreamTimeout <= 0 {
		c.UpstreamTimeout = DefaultUpstreamTimeout
	}
	if c.FinalizeTimeout <= 0 {
		c.FinalizeTimeout = DefaultFinalizeTimeout
	}
	if c.Emulation.ChunkSize <= 0 {
		c.Emulation.ChunkSize = DefaultChunkSize
	}
	return c
}

// Gateway orchestrates sessions. Safe for concurrent use; it holds no
// per-request state.
type Gateway struct {
	guard  Guard
	router Router
	ledger Ledger
	usage  UsageRecorder
	config Config
	logger *slog.Logger
}

// New creates a new gateway
func New(guard Guard, router Router, ledger Ledger, usage UsageRecorder, config Config, logger *slog.Logger) *Gateway {
	return &Gateway{
		guard:  guard,
		router: router,
		ledger: ledger,
		usage:  usage,
		config: config.withDefaults(),
		logger: logger,
	}
}

// admit normalizes req, resolves its adapter and runs the entitlement
// checks with that adapter's token counter.
func (g *Gateway) admit(ctx context.Context, req entitlement.Request) (entitlement.Request, provider.Adapter, *entitlement.Admission, error) {
	req, err := entitlement.Normalize(req)
	if err != nil {
		return req, nil, nil, err
	}
	adapter := g.router.Select(req.Model)
	adm, err := g.guard.Admit(ctx, req, adapter)
	if err != nil {
		return req, nil, nil, err
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	return req, adapter, adm, nil
}

// Stream admits req and, if admitted, runs a streaming session that
// delivers events through emit.
//
// An admission failure is returned before anything is emitted, so the
// caller can still answer with an HTTP status. Once admitted, Stream
// returns nil and every outcome, including upstream failures, panics and
// caller disconnects, is reported as exactly one terminal event.
func (g *Gateway) Stream(ctx context.Context, req entitlement.Request, emit Emitter) error {
	req, adapter, adm, err := g.admit(ctx, req)
	if err != nil {
		return err
	}

	s := g.newSession(req, adapter, adm, emit)
	s.run(ctx)
	return nil
}

// Completion is the result of a non-streaming request.
type Completion struct {
	MessageID        string
	ConversationID   string
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TokensUsed       int
	CreditsUsed      int64
	CreditsRemaining int64
}

// Complete admits req, generates the whole answer in one upstream call and
// charges for it.
func (g *Gateway) Complete(ctx context.Context, req entitlement.Request) (*Completion, error) {
	const op = "gateway.complete"

	started := time.Now()
	req, adapter, adm, err := g.admit(ctx, req)
	if err != nil {
		return nil, err
	}
	name := adapter.Name()
	logger := g.logger.With(
		"tenant_id", req.TenantID,
		"model", adm.Model,
		"provider", name,
		"conversation_id", req.ConversationID,
	)

	uctx, cancel := context.WithTimeout(ctx, g.config.UpstreamTimeout)
	defer cancel()

	result, err := adapter.Generate(uctx, params(adm, req.Prompt))
	if err != nil {
		kind := classify(err)
		recordUpstreamError(name, kind)
		logger.Warn("upstream generate failed", "kind", kind.String(), "error", err)
		finished("complete", name, StateFailed, domain.EUPSTREAM, started)
		return nil, domain.Upstream(err, op)
	}

	// Same counter as the admission estimate and the streaming path.
	promptTokens := adapter.CountTokens(req.Prompt)
	completionTokens := adapter.CountTokens(result.Content)

	charge, err := g.finalize(ctx, finalization{
		tenantID:         req.TenantID,
		conversationID:   req.ConversationID,
		adapter:          adapter,
		model:            adm.Model,
		multiplier:       adm.Multiplier,
		promptTokens:     promptTokens,
		completionTokens: completionTokens,
		outcome:          domain.UsageOutcomeDone,
	}, logger)
	if err != nil {
		finished("complete", name, StateFailed, domain.ErrorCode(err), started)
		return nil, err
	}

	finished("complete", name, StateDone, "", started)
	return &Completion{
		MessageID:        uuid.NewString(),
		ConversationID:   req.ConversationID,
		Content:          result.Content,
		Model:            adm.Model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TokensUsed:       promptTokens + completionTokens,
		CreditsUsed:      charge.credits,
		CreditsRemaining: charge.balance.CreditsRemaining,
	}, nil
}

func params(adm *entitlement.Admission, prompt string) provider.GenerateParams {
	return provider.GenerateParams{
		Prompt:      prompt,
		Model:       adm.Model,
		MaxTokens:   adm.MaxTokens,
		Temperature: adm.Temperature,
	}
}

// classify tags an adapter error.
func classify(err error) outcome {
	switch {
	case err == nil:
		return outcomeOK
	case provider.IsQuotaError(err):
		return outcomeQuota
	default:
		return outcomeFailed
	}
}
