// Package mock provides a deterministic, in-process provider.Adapter. It is
// the router's default for unrecognized models and the test double for the
// gateway.
package mock

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/DukeRupert/fiesta/internal/provider"
)

// Rates charge 0.0001 USD per token in both directions.
var Rates = provider.RateTable{Default: provider.Rate{Input: 0.1, Output: 0.1}}

// Provider is a mock adapter. With no configuration it echoes the prompt.
// The exported fields customize behavior in tests and must be set before
// the adapter is shared.
type Provider struct {
	logger *slog.Logger

	// Configurable responses for testing
	GenerateResponse *provider.Result
	GenerateError    error
	StreamDeltas     []string // Deltas to stream instead of the echoed words
	StreamOpenError  error    // Returned by StreamGenerate itself
	StreamError      error    // Returned by Recv after StreamDeltas are exhausted
	StreamHang       bool     // Block after StreamDeltas until ctx is done

	mu                  sync.Mutex
	generateCalls       int
	streamGenerateCalls int
}

// New creates a new mock adapter
func New(logger *slog.Logger) *Provider {
	return &Provider{
		logger: logger,
	}
}

func (p *Provider) Name() string {
	return "mock"
}

// Generate returns the configured response or echoes the prompt
func (p *Provider) Generate(ctx context.Context, params provider.GenerateParams) (*provider.Result, error) {
	p.mu.Lock()
	p.generateCalls++
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, provider.Upstream(p.Name(), err)
	}
	if p.GenerateError != nil {
		return nil, p.GenerateError
	}
	if p.GenerateResponse != nil {
		result := *p.GenerateResponse
		return &result, nil
	}

	content := echo(params.Prompt)
	promptTokens := p.CountTokens(params.Prompt)
	completionTokens := p.CountTokens(content)
	return &provider.Result{
		Content:          content,
		Model:            params.Model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}, nil
}

// StreamGenerate streams the configured deltas or the echoed words
func (p *Provider) StreamGenerate(ctx context.Context, params provider.GenerateParams) (provider.Stream, error) {
	p.mu.Lock()
	p.streamGenerateCalls++
	p.mu.Unlock()

	if p.StreamOpenError != nil {
		return nil, p.StreamOpenError
	}

	deltas := p.StreamDeltas
	if deltas == nil {
		deltas = words(echo(params.Prompt))
	}
	return &stream{
		ctx:    ctx,
		name:   p.Name(),
		deltas: append([]string(nil), deltas...),
		err:    p.StreamError,
		hang:   p.StreamHang,
	}, nil
}

// CountTokens approximates tokens as words
func (p *Provider) CountTokens(text string) int {
	return provider.CountWords(text)
}

// EstimateCost applies the flat mock rate
func (p *Provider) EstimateCost(promptTokens, completionTokens int, model string) float64 {
	return Rates.Cost(promptTokens, completionTokens, model)
}

// GenerateCalls returns how many times Generate was called
func (p *Provider) GenerateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generateCalls
}

// StreamGenerateCalls returns how many times StreamGenerate was called
func (p *Provider) StreamGenerateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streamGenerateCalls
}

// Reset clears call counters and custom responses for testing
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generateCalls = 0
	p.streamGenerateCalls = 0
	p.GenerateResponse = nil
	p.GenerateError = nil
	p.StreamDeltas = nil
	p.StreamOpenError = nil
	p.StreamError = nil
	p.StreamHang = false
}

func echo(prompt string) string {
	return "Mock response: " + prompt
}

// words splits text into deltas that keep their trailing space.
func words(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, len(fields))
	for i, f := range fields {
		if i < len(fields)-1 {
			f += " "
		}
		out[i] = f
	}
	return out
}

type stream struct {
	ctx    context.Context
	name   string
	deltas []string
	err    error
	hang   bool
	closed bool
}

func (s *stream) Recv() (string, error) {
	if s.closed {
		return "", provider.ErrStreamClosed
	}
	if err := s.ctx.Err(); err != nil {
		return "", provider.Upstream(s.name, err)
	}
	if len(s.deltas) > 0 {
		d := s.deltas[0]
		s.deltas = s.deltas[1:]
		return d, nil
	}
	if s.hang {
		<-s.ctx.Done()
		return "", provider.Upstream(s.name, s.ctx.Err())
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *stream) Close() error {
	s.closed = true
	return nil
}
