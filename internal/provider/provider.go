// Package provider defines the contract every upstream generation backend
// implements, plus the pieces adapters share: upstream errors, token
// counters, per-model rate tables and a `data:` event-stream decoder.
//
// Adapters are pure translators. They never retry, fall back, or emulate
// streaming; those policies belong to the gateway so they are implemented
// once.
package provider

import (
	"context"
	"net/http"
	"time"
)

// Adapter normalizes one upstream's wire protocol.
type Adapter interface {
	// Name returns the provider identifier used in usage records and metrics.
	Name() string

	// Generate returns the complete, non-streaming result.
	Generate(ctx context.Context, params GenerateParams) (*Result, error)

	// StreamGenerate opens a lazy, single-pass stream of text deltas.
	// The stream is not restartable; callers must Close it.
	StreamGenerate(ctx context.Context, params GenerateParams) (Stream, error)

	// CountTokens approximates the token count of text without network access.
	CountTokens(text string) int

	// EstimateCost returns the USD cost of a request. Pure function of the
	// adapter's rate table.
	EstimateCost(promptTokens, completionTokens int, model string) float64
}

// Stream yields text deltas until io.EOF.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// GenerateParams contains the parameters of one generation request.
type GenerateParams struct {
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Result is the canonical non-streaming result.
type Result struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Config contains common configuration for HTTP-backed adapters.
type Config struct {
	APIKey         string
	BaseURL        string        // Overrides the adapter's default endpoint
	RequestTimeout time.Duration // Bound on a whole upstream call, stream included
	HTTPClient     *http.Client  // Optional; built from RequestTimeout when nil
}

// DefaultRequestTimeout bounds upstream calls when no timeout is configured.
const DefaultRequestTimeout = 60 * time.Second

// Client returns the configured HTTP client or a new one with the timeout.
func (c Config) Client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &http.Client{Timeout: timeout}
}

// Endpoint returns BaseURL when set, otherwise fallback.
func (c Config) Endpoint(fallback string) string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return fallback
}
