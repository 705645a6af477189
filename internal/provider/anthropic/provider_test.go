package anthropic

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

	"github.com/DukeRupert/fiesta/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return New(provider.Config{APIKey: "test-key", BaseURL: srv.URL}, logger)
}

func writeEvent(w io.Writer, name, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

func TestGenerate(t *testing.T) {
	var got apiRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, APIVersion, r.Header.Get("anthropic-version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-haiku-20240307","content":[{"type":"text","text":"Hi "},{"type":"text","text":"there"}],"usage":{"input_tokens":12,"output_tokens":3}}`)
	})

	result, err := p.Generate(context.Background(), provider.GenerateParams{
		Prompt:      "Hello",
		Model:       "claude-3-haiku-20240307",
		Temperature: 0.7,
	})

	require.NoError(t, err)
	assert.Equal(t, "Hi there", result.Content)
	assert.Equal(t, 12, result.PromptTokens)
	assert.Equal(t, 3, result.CompletionTokens)
	assert.Equal(t, 15, result.TotalTokens)

	assert.Equal(t, DefaultMaxTokens, got.MaxTokens)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.7, *got.Temperature, 1e-9)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "Hello", got.Messages[0].Content[0].Text)
}

func TestGenerate_ErrorStatus(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		fmt.Fprint(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	})

	_, err := p.Generate(context.Background(), provider.GenerateParams{Prompt: "Hello", Model: "claude-3-opus-20240229"})

	var ue *provider.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 529, ue.StatusCode)
	assert.Equal(t, "Overloaded", ue.Message)
	assert.False(t, provider.IsQuotaError(err))
}

func TestGenerate_RateLimited(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"type":"error","error":{"type":"rate_limit_error","message":"Number of requests has exceeded your rate limit"}}`)
	})

	_, err := p.Generate(context.Background(), provider.GenerateParams{Prompt: "Hello", Model: "claude-3-haiku-20240307"})

	assert.True(t, provider.IsQuotaError(err))
}

func TestStreamGenerate(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "message_start", `{"type":"message_start","message":{"id":"msg_1"}}`)
		writeEvent(w, "content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`)
		writeEvent(w, "ping", `{"type":"ping"}`)
		writeEvent(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`)
		writeEvent(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":", world"}}`)
		writeEvent(w, "content_block_stop", `{"type":"content_block_stop","index":0}`)
		writeEvent(w, "message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":3}}`)
		writeEvent(w, "message_stop", `{"type":"message_stop"}`)
	})

	s, err := p.StreamGenerate(context.Background(), provider.GenerateParams{Prompt: "Hello", Model: "claude-3-5-sonnet-20240620"})
	require.NoError(t, err)
	defer s.Close()

	var deltas []string
	for {
		d, err := s.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		deltas = append(deltas, d)
	}
	assert.Equal(t, []string{"Hello", ", world"}, deltas)
}

func TestStreamGenerate_ErrorEvent(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeEvent(w, "message_start", `{"type":"message_start","message":{"id":"msg_1"}}`)
		writeEvent(w, "error", `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	})

	s, err := p.StreamGenerate(context.Background(), provider.GenerateParams{Prompt: "Hello", Model: "claude-3-haiku-20240307"})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Recv()
	var ue *provider.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "Overloaded", ue.Message)
}

func TestMissingKey(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	p := New(provider.Config{}, logger)

	_, err := p.StreamGenerate(context.Background(), provider.GenerateParams{Prompt: "Hello", Model: "claude-3-haiku-20240307"})

	assert.ErrorIs(t, err, provider.ErrNoAPIKey)
}

func TestEstimateCost(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	p := New(provider.Config{}, logger)

	assert.InDelta(t, 0.00025+0.00125, p.EstimateCost(1000, 1000, "claude-3-haiku-20240307"), 1e-12)
	assert.InDelta(t, 0.015+0.075, p.EstimateCost(1000, 1000, "claude-3-opus-20240229"), 1e-12)
	assert.InDelta(t, 0.003+0.015, p.EstimateCost(1000, 1000, "claude-next"), 1e-12)
}
