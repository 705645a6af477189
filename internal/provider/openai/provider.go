// Package openai implements provider.Adapter for upstreams that speak the
// OpenAI chat-completions protocol: OpenAI itself, xAI Grok and Perplexity.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/fiesta/internal/provider"
)

const (
	// OpenAIBaseURL is the base URL for the OpenAI API
	OpenAIBaseURL = "https://api.openai.com/v1"

	// GrokBaseURL is the base URL for the xAI API
	GrokBaseURL = "https://api.x.ai/v1"

	// PerplexityBaseURL is the base URL for the Perplexity API
	PerplexityBaseURL = "https://api.perplexity.ai"

	chatCompletionsPath = "/chat/completions"
)

// Rate tables in USD per 1k tokens. More specific IDs come first.
var (
	OpenAIRates = provider.RateTable{
		Entries: []provider.RateEntry{
			{Match: "gpt-4o-mini", Rate: provider.Rate{Input: 0.00015, Output: 0.0006}},
			{Match: "gpt-4o", Rate: provider.Rate{Input: 0.005, Output: 0.015}},
			{Match: "gpt-4-turbo", Rate: provider.Rate{Input: 0.01, Output: 0.03}},
			{Match: "gpt-4", Rate: provider.Rate{Input: 0.03, Output: 0.06}},
			{Match: "gpt-3.5", Rate: provider.Rate{Input: 0.0005, Output: 0.0015}},
			{Match: "o1-mini", Rate: provider.Rate{Input: 0.003, Output: 0.012}},
			{Match: "o1", Rate: provider.Rate{Input: 0.015, Output: 0.06}},
		},
		Default: provider.Rate{Input: 0.0005, Output: 0.0015},
	}

	GrokRates = provider.RateTable{
		Entries: []provider.RateEntry{
			{Match: "grok-2", Rate: provider.Rate{Input: 0.002, Output: 0.006}},
		},
		Default: provider.Rate{Input: 0.001, Output: 0.003},
	}

	PerplexityRates = provider.RateTable{
		Entries: []provider.RateEntry{
			{Match: "sonar-pro", Rate: provider.Rate{Input: 0.001, Output: 0.004}},
		},
		Default: provider.Rate{Input: 0.0005, Output: 0.002},
	}
)

// Config contains configuration for one OpenAI-compatible upstream
type Config struct {
	Name           string // Provider identifier, e.g. "openai" or "grok"
	DefaultBaseURL string
	Rates          provider.RateTable
	Provider       provider.Config
}

// Provider implements provider.Adapter over the chat-completions protocol
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	rates   provider.RateTable
	client  *http.Client
	logger  *slog.Logger
}

// New creates an adapter. A missing API key is not an error here; every
// call fails instead, so the router can always hand out an adapter.
func New(config Config, logger *slog.Logger) *Provider {
	return &Provider{
		name:    config.Name,
		baseURL: strings.TrimRight(config.Provider.Endpoint(config.DefaultBaseURL), "/"),
		apiKey:  config.Provider.APIKey,
		rates:   config.Rates,
		client:  config.Provider.Client(),
		logger:  logger,
	}
}

// NewOpenAI creates the OpenAI adapter
func NewOpenAI(config provider.Config, logger *slog.Logger) *Provider {
	return New(Config{Name: "openai", DefaultBaseURL: OpenAIBaseURL, Rates: OpenAIRates, Provider: config}, logger)
}

// NewGrok creates the xAI Grok adapter
func NewGrok(config provider.Config, logger *slog.Logger) *Provider {
	return New(Config{Name: "grok", DefaultBaseURL: GrokBaseURL, Rates: GrokRates, Provider: config}, logger)
}

// NewPerplexity creates the Perplexity adapter
func NewPerplexity(config provider.Config, logger *slog.Logger) *Provider {
	return New(Config{Name: "perplexity", DefaultBaseURL: PerplexityBaseURL, Rates: PerplexityRates, Provider: config}, logger)
}

func (p *Provider) Name() string {
	return p.name
}

// Generate performs a non-streaming chat completion
func (p *Provider) Generate(ctx context.Context, params provider.GenerateParams) (*provider.Result, error) {
	resp, err := p.do(ctx, params, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, provider.Upstream(p.name, fmt.Errorf("decode response: %w", err))
	}
	if len(apiResp.Choices) == 0 {
		return nil, provider.Upstream(p.name, provider.ErrEmptyResponse)
	}

	content := apiResp.Choices[0].Message.Content
	result := &provider.Result{
		Content:          content,
		Model:            apiResp.Model,
		PromptTokens:     apiResp.Usage.PromptTokens,
		CompletionTokens: apiResp.Usage.CompletionTokens,
		TotalTokens:      apiResp.Usage.TotalTokens,
	}
	if result.Model == "" {
		result.Model = params.Model
	}
	if result.TotalTokens == 0 {
		result.PromptTokens = p.CountTokens(params.Prompt)
		result.CompletionTokens = p.CountTokens(content)
		result.TotalTokens = result.PromptTokens + result.CompletionTokens
	}
	return result, nil
}

// StreamGenerate opens a streaming chat completion
func (p *Provider) StreamGenerate(ctx context.Context, params provider.GenerateParams) (provider.Stream, error) {
	resp, err := p.do(ctx, params, true)
	if err != nil {
		return nil, err
	}
	return newStream(p.name, resp), nil
}

// CountTokens approximates tokens as words
func (p *Provider) CountTokens(text string) int {
	return provider.CountWords(text)
}

// EstimateCost prices a request from the adapter's rate table
func (p *Provider) EstimateCost(promptTokens, completionTokens int, model string) float64 {
	return p.rates.Cost(promptTokens, completionTokens, model)
}

// do sends one request and returns the response when the status is 200.
func (p *Provider) do(ctx context.Context, params provider.GenerateParams, stream bool) (*http.Response, error) {
	if p.apiKey == "" {
		return nil, provider.MissingKey(p.name)
	}

	reqBody := apiRequest{
		Model: params.Model,
		Messages: []apiMessage{
			{Role: "user", Content: params.Prompt},
		},
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		Stream:      stream,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, provider.Upstream(p.name, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+chatCompletionsPath, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, provider.Upstream(p.name, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, provider.Upstream(p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		err := provider.ResponseError(p.name, resp, errorMessage)
		p.logger.Warn("upstream returned error status",
			"provider", p.name,
			"model", params.Model,
			"status", resp.StatusCode,
		)
		return nil, err
	}
	return resp, nil
}

// errorMessage extracts error.message from an error body.
func errorMessage(raw []byte) string {
	var errResp apiErrorResponse
	if err := json.Unmarshal(raw, &errResp); err != nil || errResp.Error == nil {
		return ""
	}
	return errResp.Error.Message
}

// API request/response types

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature"`
	Stream      bool         `json:"stream,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	ID      string      `json:"id"`
	Model   string      `json:"model"`
	Choices []apiChoice `json:"choices"`
	Usage   apiUsage    `json:"usage"`
}

type apiChoice struct {
	Index        int        `json:"index"`
	Message      apiMessage `json:"message"`
	Delta        apiMessage `json:"delta"`
	FinishReason string     `json:"finish_reason"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiErrorResponse struct {
	Error *apiError `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Code    any    `json:"code"`
	Message string `json:"message"`
}
