// Package gemini implements provider.Adapter over the Google Generative
// Language API (generateContent and streamGenerateContent).
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/DukeRupert/fiesta/internal/provider"
)

const (
	// APIBaseURL is the base URL for the Generative Language API
	APIBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// Rates in USD per 1k tokens.
var Rates = provider.RateTable{
	Entries: []provider.RateEntry{
		{Match: "1.5-flash", Rate: provider.Rate{Input: 0.000075, Output: 0.0003}},
		{Match: "1.5-pro", Rate: provider.Rate{Input: 0.00125, Output: 0.005}},
		{Match: "flash", Rate: provider.Rate{Input: 0.0001, Output: 0.0004}},
		{Match: "pro", Rate: provider.Rate{Input: 0.00125, Output: 0.00375}},
	},
	Default: provider.Rate{Input: 0.0001, Output: 0.0004},
}

// Provider implements provider.Adapter for Gemini models
type Provider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// New creates a new Gemini adapter
func New(config provider.Config, logger *slog.Logger) *Provider {
	return &Provider{
		baseURL: strings.TrimRight(config.Endpoint(APIBaseURL), "/"),
		apiKey:  config.APIKey,
		client:  config.Client(),
		logger:  logger,
	}
}

func (p *Provider) Name() string {
	return "gemini"
}

// Generate calls generateContent
func (p *Provider) Generate(ctx context.Context, params provider.GenerateParams) (*provider.Result, error) {
	resp, err := p.do(ctx, params, "generateContent")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, provider.Upstream(p.Name(), fmt.Errorf("decode response: %w", err))
	}
	if apiResp.Error != nil {
		return nil, p.bodyError(apiResp.Error)
	}

	content := apiResp.text()
	result := &provider.Result{
		Content: content,
		Model:   params.Model,
	}
	if u := apiResp.UsageMetadata; u != nil && u.TotalTokenCount > 0 {
		result.PromptTokens = u.PromptTokenCount
		result.CompletionTokens = u.CandidatesTokenCount
		result.TotalTokens = u.TotalTokenCount
	} else {
		result.PromptTokens = p.CountTokens(params.Prompt)
		result.CompletionTokens = p.CountTokens(content)
		result.TotalTokens = result.PromptTokens + result.CompletionTokens
	}
	return result, nil
}

// StreamGenerate calls streamGenerateContent
func (p *Provider) StreamGenerate(ctx context.Context, params provider.GenerateParams) (provider.Stream, error) {
	resp, err := p.do(ctx, params, "streamGenerateContent")
	if err != nil {
		return nil, err
	}
	return newStream(p, resp), nil
}

// CountTokens approximates tokens as one per four bytes
func (p *Provider) CountTokens(text string) int {
	return provider.CountQuarterBytes(text)
}

// EstimateCost prices a request from the Gemini rate table
func (p *Provider) EstimateCost(promptTokens, completionTokens int, model string) float64 {
	return Rates.Cost(promptTokens, completionTokens, model)
}

func (p *Provider) do(ctx context.Context, params provider.GenerateParams, method string) (*http.Response, error) {
	if p.apiKey == "" {
		return nil, provider.MissingKey(p.Name())
	}

	temperature := params.Temperature
	reqBody := apiRequest{
		Contents: []apiContent{
			{Role: "user", Parts: []apiPart{{Text: params.Prompt}}},
		},
		GenerationConfig: apiGenerationConfig{
			MaxOutputTokens: params.MaxTokens,
			Temperature:     &temperature,
		},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, provider.Upstream(p.Name(), fmt.Errorf("marshal request: %w", err))
	}

	endpoint := fmt.Sprintf("%s/models/%s:%s", p.baseURL, url.PathEscape(params.Model), method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, provider.Upstream(p.Name(), fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.apiKey)

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

// bodyError converts an error object embedded in a 200 body.
func (p *Provider) bodyError(e *apiError) error {
	raw, _ := json.Marshal(e)
	return provider.StatusError(p.Name(), e.Code, e.describe(), raw)
}

func errorMessage(raw []byte) string {
	// Error bodies are either an object or, for the streaming method, an
	// array holding one object.
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var arr []apiResponse
		if err := json.Unmarshal(trimmed, &arr); err != nil || len(arr) == 0 || arr[0].Error == nil {
			return ""
		}
		return arr[0].Error.describe()
	}
	var resp apiResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil || resp.Error == nil {
		return ""
	}
	return resp.Error.describe()
}

// API request/response types

type apiRequest struct {
	Contents         []apiContent        `json:"contents"`
	GenerationConfig apiGenerationConfig `json:"generationConfig"`
}

type apiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type apiContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []apiPart `json:"parts"`
}

type apiPart struct {
	Text string `json:"text"`
}

type apiResponse struct {
	Candidates    []apiCandidate `json:"candidates"`
	UsageMetadata *apiUsage      `json:"usageMetadata"`
	Error         *apiError      `json:"error"`
}

// text concatenates the parts of the first candidate.
func (r *apiResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String()
}

type apiCandidate struct {
	Content      apiContent `json:"content"`
	FinishReason string     `json:"finishReason"`
}

type apiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (e *apiError) describe() string {
	switch {
	case e.Status != "" && e.Message != "":
		return e.Status + ": " + e.Message
	case e.Message != "":
		return e.Message
	default:
		return e.Status
	}
}
