package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/DukeRupert/fiesta/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return NewOpenAI(provider.Config{APIKey: "sk-test", BaseURL: srv.URL}, logger)
}

func drain(t *testing.T, s provider.Stream) ([]string, error) {
	t.Helper()
	defer s.Close()
	var deltas []string
	for {
		d, err := s.Recv()
		if err == io.EOF {
			return deltas, nil
		}
		if err != nil {
			return deltas, err
		}
		deltas = append(deltas, d)
	}
}

// =============================================================================
// Generate
// =============================================================================

func TestGenerate(t *testing.T) {
	var got apiRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"Hello there"}}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`)
	})

	result, err := p.Generate(context.Background(), provider.GenerateParams{
		Prompt:      "Say hello",
		Model:       "gpt-4o-mini",
		MaxTokens:   50,
		Temperature: 0.2,
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello there", result.Content)
	assert.Equal(t, "gpt-4o-mini", result.Model)
	assert.Equal(t, 5, result.PromptTokens)
	assert.Equal(t, 2, result.CompletionTokens)
	assert.Equal(t, 7, result.TotalTokens)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.False(t, got.Stream)
	assert.Equal(t, 50, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "Say hello", got.Messages[0].Content)
}

func TestGenerate_CountsTokensWhenUsageMissing(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"one two three"}}]}`)
	})

	result, err := p.Generate(context.Background(), provider.GenerateParams{Prompt: "a b", Model: "sonar"})

	require.NoError(t, err)
	assert.Equal(t, "sonar", result.Model)
	assert.Equal(t, 2, result.PromptTokens)
	assert.Equal(t, 3, result.CompletionTokens)
	assert.Equal(t, 5, result.TotalTokens)
}

func TestGenerate_ErrorStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantMsg   string
		wantQuota bool
	}{
		{"quota", http.StatusTooManyRequests, `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota"}}`, "You exceeded your current quota", true},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided"}}`, "Incorrect API key provided", false},
		{"unparseable body", http.StatusBadGateway, `upstream down`, "upstream down", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := p.Generate(context.Background(), provider.GenerateParams{Prompt: "hi", Model: "gpt-4o"})

			var ue *provider.UpstreamError
			require.ErrorAs(t, err, &ue)
			assert.Equal(t, "openai", ue.Provider)
			assert.Equal(t, tt.status, ue.StatusCode)
			assert.Equal(t, tt.wantMsg, ue.Message)
			assert.Equal(t, tt.wantQuota, provider.IsQuotaError(err))
		})
	}
}

func TestGenerate_MissingKey(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	p := NewGrok(provider.Config{}, logger)

	_, err := p.Generate(context.Background(), provider.GenerateParams{Prompt: "hi", Model: "grok-2"})
	assert.ErrorIs(t, err, provider.ErrNoAPIKey)

	_, err = p.StreamGenerate(context.Background(), provider.GenerateParams{Prompt: "hi", Model: "grok-2"})
	assert.ErrorIs(t, err, provider.ErrNoAPIKey)
}

func TestGenerate_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	p := NewOpenAI(provider.Config{APIKey: "sk-test", BaseURL: srv.URL, RequestTimeout: 50 * time.Millisecond}, logger)

	_, err := p.Generate(context.Background(), provider.GenerateParams{Prompt: "hi", Model: "gpt-4o"})

	var ue *provider.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "openai", ue.Provider)
}

// =============================================================================
// StreamGenerate
// =============================================================================

func TestStreamGenerate(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, ": ping\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	s, err := p.StreamGenerate(context.Background(), provider.GenerateParams{Prompt: "hi", Model: "gpt-4o"})
	require.NoError(t, err)

	deltas, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
}

func TestStreamGenerate_EndsWithoutDone(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"only\"}}]}\n\n")
	})

	s, err := p.StreamGenerate(context.Background(), provider.GenerateParams{Prompt: "hi", Model: "gpt-4o"})
	require.NoError(t, err)

	deltas, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, deltas)
}

func TestStreamGenerate_MidStreamError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"server overloaded\"}}\n\n")
	})

	s, err := p.StreamGenerate(context.Background(), provider.GenerateParams{Prompt: "hi", Model: "gpt-4o"})
	require.NoError(t, err)

	deltas, err := drain(t, s)
	assert.Equal(t, []string{"partial"}, deltas)

	var ue *provider.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "server overloaded", ue.Message)
}

func TestStreamGenerate_MalformedChunk(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {not json}\n\n")
	})

	s, err := p.StreamGenerate(context.Background(), provider.GenerateParams{Prompt: "hi", Model: "gpt-4o"})
	require.NoError(t, err)

	_, err = drain(t, s)
	var ue *provider.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "{not json}", string(ue.Raw))
}

func TestStreamGenerate_RecvAfterClose(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	s, err := p.StreamGenerate(context.Background(), provider.GenerateParams{Prompt: "hi", Model: "gpt-4o"})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Recv()
	assert.ErrorIs(t, err, provider.ErrStreamClosed)
}

// =============================================================================
// Offline helpers
// =============================================================================

func TestEstimateCost(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	tests := []struct {
		name  string
		p     *Provider
		model string
		want  float64
	}{
		{"gpt-4o-mini", NewOpenAI(provider.Config{}, logger), "gpt-4o-mini", 0.00015 + 0.0006},
		{"gpt-4o", NewOpenAI(provider.Config{}, logger), "gpt-4o", 0.005 + 0.015},
		{"grok-2", NewGrok(provider.Config{}, logger), "grok-2", 0.002 + 0.006},
		{"grok default", NewGrok(provider.Config{}, logger), "grok-beta", 0.001 + 0.003},
		{"sonar-pro", NewPerplexity(provider.Config{}, logger), "perplexity-sonar-pro", 0.001 + 0.004},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.p.EstimateCost(1000, 1000, tt.model), 1e-12)
		})
	}
}

func TestNames(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	assert.Equal(t, "openai", NewOpenAI(provider.Config{}, logger).Name())
	assert.Equal(t, "grok", NewGrok(provider.Config{}, logger).Name())
	assert.Equal(t, "perplexity", NewPerplexity(provider.Config{}, logger).Name())
}
