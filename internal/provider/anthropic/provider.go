// Package anthropic implements provider.Adapter over the Anthropic Messages API.
package anthropic

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
	// APIBaseURL is the base URL for the Anthropic API
	APIBaseURL = "https://api.anthropic.com/v1"

	// APIVersion is the Anthropic API version
	APIVersion = "2023-06-01"

	// DefaultMaxTokens is sent when the caller leaves max_tokens unset; the
	// Messages API requires it.
	DefaultMaxTokens = 1024

	messagesPath = "/messages"
)

// Rates in USD per 1k tokens.
var Rates = provider.RateTable{
	Entries: []provider.RateEntry{
		{Match: "haiku", Rate: provider.Rate{Input: 0.00025, Output: 0.00125}},
		{Match: "opus", Rate: provider.Rate{Input: 0.015, Output: 0.075}},
		{Match: "sonnet", Rate: provider.Rate{Input: 0.003, Output: 0.015}},
	},
	Default: provider.Rate{Input: 0.003, Output: 0.015},
}

// Provider implements provider.Adapter using Anthropic's Messages API
type Provider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// New creates a new Anthropic adapter
func New(config provider.Config, logger *slog.Logger) *Provider {
	return &Provider{
		baseURL: strings.TrimRight(config.Endpoint(APIBaseURL), "/"),
		apiKey:  config.APIKey,
		client:  config.Client(),
		logger:  logger,
	}
}

func (p *Provider) Name() string {
	return "anthropic"
}

// Generate performs a single Messages API call
func (p *Provider) Generate(ctx context.Context, params provider.GenerateParams) (*provider.Result, error) {
	resp, err := p.do(ctx, params, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, provider.Upstream(p.Name(), fmt.Errorf("decode response: %w", err))
	}

	var text strings.Builder
	for _, content := range apiResp.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}

	result := &provider.Result{
		Content:          text.String(),
		Model:            apiResp.Model,
		PromptTokens:     apiResp.Usage.InputTokens,
		CompletionTokens: apiResp.Usage.OutputTokens,
		TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
	}
	if result.Model == "" {
		result.Model = params.Model
	}
	if result.TotalTokens == 0 {
		result.PromptTokens = p.CountTokens(params.Prompt)
		result.CompletionTokens = p.CountTokens(result.Content)
		result.TotalTokens = result.PromptTokens + result.CompletionTokens
	}
	return result, nil
}

// StreamGenerate opens a Messages API event stream
func (p *Provider) StreamGenerate(ctx context.Context, params provider.GenerateParams) (provider.Stream, error) {
	resp, err := p.do(ctx, params, true)
	if err != nil {
		return nil, err
	}
	return newStream(p.Name(), resp), nil
}

// CountTokens approximates tokens as words
func (p *Provider) CountTokens(text string) int {
	return provider.CountWords(text)
}

// EstimateCost prices a request from the Claude rate table
func (p *Provider) EstimateCost(promptTokens, completionTokens int, model string) float64 {
	return Rates.Cost(promptTokens, completionTokens, model)
}

// do builds and executes the HTTP request, returning the response on 200.
func (p *Provider) do(ctx context.Context, params provider.GenerateParams, stream bool) (*http.Response, error) {
	if p.apiKey == "" {
		return nil, provider.MissingKey(p.Name())
	}

	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	temperature := params.Temperature

	reqBody := apiRequest{
		Model:       params.Model,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
		Stream:      stream,
		Messages: []apiMessage{
			{
				Role: "user",
				Content: []apiContent{
					{Type: "text", Text: params.Prompt},
				},
			},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, provider.Upstream(p.Name(), fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+messagesPath, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, provider.Upstream(p.Name(), fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", APIVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, provider.Upstream(p.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		p.logger.Warn("upstream returned error status",
			"provider", p.Name(),
			"model", params.Model,
			"status", resp.StatusCode,
		)
		return nil, provider.ResponseError(p.Name(), resp, errorMessage)
	}
	return resp, nil
}

// errorMessage extracts error.message from an error body or error event.
func errorMessage(raw []byte) string {
	var errResp apiErrorResponse
	if err := json.Unmarshal(raw, &errResp); err != nil {
		return ""
	}
	return errResp.Error.Message
}

// API request/response types

type apiRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature *float64     `json:"temperature,omitempty"`
	Stream      bool         `json:"stream,omitempty"`
	Messages    []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	ID      string       `json:"id"`
	Type    string       `json:"type"`
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
	Model   string       `json:"model"`
	Usage   apiUsage     `json:"usage"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type apiErrorResponse struct {
	Type  string   `json:"type"`
	Error apiError `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// apiStreamEvent covers the fields of every event type the stream reads.
type apiStreamEvent struct {
	Type  string    `json:"type"`
	Delta apiDelta  `json:"delta"`
	Error *apiError `json:"error"`
}

type apiDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
