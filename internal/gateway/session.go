package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/fiesta/internal/domain"
	"github.com/DukeRupert/fiesta/internal/entitlement"
	"github.com/DukeRupert/fiesta/internal/metrics"
	"github.com/DukeRupert/fiesta/internal/provider"
)

// errDisconnected marks a session whose caller went away.
var errDisconnected = errors.New("caller disconnected")

// session is the request-scoped state of one streaming request. It is owned
// by a single goroutine and never shared.
type session struct {
	g       *Gateway
	req     entitlement.Request
	adm     *entitlement.Admission
	adapter provider.Adapter
	emit    Emitter
	logger  *slog.Logger

	state      State
	started    time.Time
	text       strings.Builder
	chunks     int
	fellBack   bool
	generated  string // Full fallback content, charged even if the replay is cut short
	terminated bool
}

func (g *Gateway) newSession(req entitlement.Request, adapter provider.Adapter, adm *entitlement.Admission, emit Emitter) *session {
	return &session{
		g:       g,
		req:     req,
		adm:     adm,
		adapter: adapter,
		emit:    emit,
		logger: g.logger.With(
			"tenant_id", req.TenantID,
			"model", adm.Model,
			"provider", adapter.Name(),
			"conversation_id", req.ConversationID,
		),
		state:   StateAdmitted,
		started: time.Now(),
	}
}

func (s *session) transition(to State) {
	if s.state == to {
		return
	}
	s.logger.Debug("session state", "from", s.state, "to", to)
	s.state = to
}

// run drives the session to a terminal state. It never panics and emits
// exactly one terminal event.
func (s *session) run(ctx context.Context) {
	const op = "gateway.stream"

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session panic", "panic", r, "state", s.state, "stack", string(debug.Stack()))
			s.fail(domain.EINTERNAL, domain.ErrorMessage(domain.Internal(nil, op, "session panic")), "panic")
		}
	}()

	s.transition(StateDispatched)
	err := s.relay(ctx)
	s.finish(ctx, err)
}

// relay streams from the adapter and falls back to generate-and-emulate
// when the stream produced nothing. It returns nil when the text is
// complete, errDisconnected when the caller left, or the upstream error.
func (s *session) relay(ctx context.Context) error {
	p := params(s.adm, s.req.Prompt)
	name := s.adapter.Name()

	tag, err := s.relayStream(ctx, p)
	switch {
	case errors.Is(err, errDisconnected):
		return err
	case tag == outcomeOK:
		return nil
	case tag == outcomeQuota:
		recordUpstreamError(name, tag)
		s.logger.Warn("upstream refused for quota", "chunks", s.chunks, "error", err)
		return err
	case tag == outcomeFailed && s.chunks > 0:
		recordUpstreamError(name, tag)
		s.logger.Warn("upstream stream failed after relaying", "chunks", s.chunks, "error", err)
		return err
	}

	if err != nil {
		recordUpstreamError(name, tag)
	}
	return s.fallback(ctx, p, tag, err)
}

// relayStream forwards deltas until the stream ends and tags the result.
// The stream is closed before it returns.
func (s *session) relayStream(ctx context.Context, p provider.GenerateParams) (outcome, error) {
	uctx, cancel := context.WithTimeout(ctx, s.g.config.UpstreamTimeout)
	defer cancel()

	stream, err := s.adapter.StreamGenerate(uctx, p)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeFailed, errDisconnected
		}
		return classify(err), err
	}
	defer stream.Close()

	s.transition(StateRelaying)
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return outcomeFailed, errDisconnected
			}
			return classify(err), err
		}
		if strings.TrimSpace(delta) == "" {
			continue
		}
		if err := s.forward(ctx, delta); err != nil {
			return outcomeFailed, err
		}
	}

	if s.chunks == 0 {
		return outcomeEmpty, nil
	}
	return outcomeOK, nil
}

// fallback makes one non-streaming call, with its own upstream deadline,
// and replays its content through the emulator. Every emulated window is
// relayed, blank or not, so the chunks concatenate to the content.
func (s *session) fallback(ctx context.Context, p provider.GenerateParams, tag outcome, cause error) error {
	name := s.adapter.Name()
	metrics.Fallback(name, tag.String())
	s.logger.Info("falling back to generate", "reason", tag.String(), "error", cause)

	uctx, cancel := context.WithTimeout(ctx, s.g.config.UpstreamTimeout)
	result, err := s.adapter.Generate(uctx, p)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return errDisconnected
		}
		recordUpstreamError(name, classify(err))
		s.logger.Warn("fallback generate failed", "error", err)
		return err
	}
	if strings.TrimSpace(result.Content) == "" {
		recordUpstreamError(name, outcomeEmpty)
		return provider.Upstream(name, provider.ErrEmptyResponse)
	}

	s.fellBack = true
	s.generated = result.Content
	s.transition(StateRelaying)

	ectx, stop := context.WithCancel(ctx)
	defer stop()
	for chunk := range s.g.config.Emulation.Emulate(ectx, result.Content) {
		if err := s.forward(ctx, chunk); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return errDisconnected
	}
	return nil
}

// forward accumulates delta and relays it. The text counts as produced
// even when the caller is gone before it is delivered.
func (s *session) forward(ctx context.Context, delta string) error {
	if ctx.Err() != nil {
		return errDisconnected
	}

	s.text.WriteString(delta)
	if err := s.send(chunkEvent(delta)); err != nil {
		s.logger.Info("caller stopped reading", "error", err)
		return errDisconnected
	}

	name := s.adapter.Name()
	if s.chunks == 0 {
		metrics.FirstChunk(name, time.Since(s.started))
	}
	s.chunks++
	metrics.ChunkRelayed(name)
	return nil
}

// finish charges for whatever the upstream produced and emits the terminal
// event.
//
// An upstream failure before any text reaches the caller costs nothing. A
// failure after text was relayed is charged for that text and still
// reported as upstream_error. A disconnect is charged for the text produced
// so far, including a delta the caller never received and the whole
// fallback content, and ends with a done event describing the charge.
func (s *session) finish(ctx context.Context, err error) {
	const op = "gateway.stream"

	disconnected := errors.Is(err, errDisconnected)
	if err != nil && !disconnected && s.chunks == 0 {
		s.fail(domain.EUPSTREAM, domain.ErrorMessage(domain.Upstream(err, op)), domain.EUPSTREAM)
		return
	}

	s.transition(StateFinalizing)

	f := finalization{
		tenantID:       s.req.TenantID,
		conversationID: s.req.ConversationID,
		adapter:        s.adapter,
		model:          s.adm.Model,
		multiplier:     s.adm.Multiplier,
		outcome:        domain.UsageOutcomeDone,
	}
	completion := s.text.String()
	if s.fellBack {
		completion = s.generated
	}
	if completion != "" {
		f.promptTokens = s.adapter.CountTokens(s.req.Prompt)
		f.completionTokens = s.adapter.CountTokens(completion)
	}
	switch {
	case err != nil:
		f.outcome = domain.UsageOutcomePartial
	case s.fellBack:
		f.outcome = domain.UsageOutcomeFallback
	}

	charged, ferr := s.g.finalize(ctx, f, s.logger)

	if err != nil && !disconnected {
		s.fail(domain.EUPSTREAM, domain.ErrorMessage(domain.Upstream(err, op)), domain.EUPSTREAM)
		return
	}
	if ferr != nil {
		code := domain.ErrorCode(ferr)
		if code != domain.EINSUFFICIENTCREDITS {
			code = domain.EINTERNAL
		}
		s.fail(code, domain.ErrorMessage(ferr), code)
		return
	}

	s.transition(StateDone)
	metricCode := ""
	if disconnected {
		metricCode = "disconnected"
	}
	s.terminate(Event{
		Type:             EventDone,
		MessageID:        uuid.NewString(),
		ConversationID:   s.req.ConversationID,
		TokensUsed:       f.promptTokens + f.completionTokens,
		CreditsUsed:      charged.credits,
		CreditsRemaining: charged.balance.CreditsRemaining,
		Model:            s.adm.Model,
	}, metricCode)
}

// fail moves to FAILED and emits the error event.
func (s *session) fail(code, message, metricCode string) {
	s.transition(StateFailed)
	s.terminate(errorEvent(code, message), metricCode)
}

// terminate emits ev unless a terminal event was already emitted.
func (s *session) terminate(ev Event, metricCode string) {
	if s.terminated {
		return
	}
	s.terminated = true
	finished("stream", s.adapter.Name(), s.state, metricCode, s.started)

	if err := s.send(ev); err != nil {
		s.logger.Debug("terminal event not delivered", "type", ev.Type, "error", err)
	}
}

// send calls emit, converting a panic into an error.
func (s *session) send(ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("emit panicked: %v", r)
		}
	}()
	return s.emit(ev)
}
