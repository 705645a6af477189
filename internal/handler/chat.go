// Package handler contains the HTTP handlers of the gateway.
//
// This file implements the chat endpoints: the streaming session and the
// single-response completion.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/DukeRupert/fiesta/internal/auth"
	"github.com/DukeRupert/fiesta/internal/domain"
	"github.com/DukeRupert/fiesta/internal/entitlement"
	"github.com/DukeRupert/fiesta/internal/gateway"
)

// maxBodyBytes bounds a chat request body.
const maxBodyBytes = 1 << 20

// Gateway runs generation sessions.
type Gateway interface {
	Stream(ctx context.Context, req entitlement.Request, emit gateway.Emitter) error
	Complete(ctx context.Context, req entitlement.Request) (*gateway.Completion, error)
}

// =============================================================================
// Request / Response Types
// =============================================================================

// ChatRequest is the body of both chat endpoints. The tenant always comes
// from the bearer token.
type ChatRequest struct {
	Prompt         string   `json:"prompt"`
	Model          string   `json:"model"`
	ConversationID string   `json:"conversation_id,omitempty"`
	MaxTokens      *int     `json:"max_tokens,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
}

// ChatResponse is the body of a successful POST /v1/chat.
type ChatResponse struct {
	MessageID        string `json:"message_id"`
	ConversationID   string `json:"conversation_id"`
	Content          string `json:"content"`
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TokensUsed       int    `json:"tokens_used"`
	CreditsUsed      int64  `json:"credits_used"`
	CreditsRemaining int64  `json:"credits_remaining"`
}

// =============================================================================
// Handler Configuration
// =============================================================================

// ChatHandler handles generation requests.
type ChatHandler struct {
	gateway Gateway
	logger  *slog.Logger
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(gw Gateway, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		gateway: gw,
		logger:  logger,
	}
}

// RegisterRoutes registers the chat routes behind requireTenant.
//
// Routes:
// - POST /v1/stream/chat -> Stream
// - POST /v1/chat        -> Chat
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux, requireTenant func(http.Handler) http.Handler) {
	mux.Handle("POST /v1/stream/chat", requireTenant(http.HandlerFunc(h.Stream)))
	mux.Handle("POST /v1/chat", requireTenant(http.HandlerFunc(h.Chat)))
}

// =============================================================================
// POST /v1/stream/chat
// =============================================================================

// Stream runs a streaming session. Admission failures are answered with a
// status code; after that every outcome arrives as a terminal event in a
// 200 response.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	req, err := h.decode(w, r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	ew := newEventWriter(w, r)
	if err := h.gateway.Stream(r.Context(), req, ew.Emit); err != nil {
		if ew.started {
			h.logger.Error("stream returned error after start", "error", err)
			return
		}
		ErrorResponse(w, r, h.logger, err)
	}
}

// =============================================================================
// POST /v1/chat
// =============================================================================

// Chat generates the complete answer in one response.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	req, err := h.decode(w, r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	c, err := h.gateway.Complete(r.Context(), req)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		MessageID:        c.MessageID,
		ConversationID:   c.ConversationID,
		Content:          c.Content,
		Model:            c.Model,
		PromptTokens:     c.PromptTokens,
		CompletionTokens: c.CompletionTokens,
		TokensUsed:       c.TokensUsed,
		CreditsUsed:      c.CreditsUsed,
		CreditsRemaining: c.CreditsRemaining,
	})
}

// decode reads the body and binds it to the authenticated tenant.
func (h *ChatHandler) decode(w http.ResponseWriter, r *http.Request) (entitlement.Request, error) {
	const op = "handler.chat"

	tenantID, ok := auth.TenantFromRequest(r)
	if !ok {
		return entitlement.Request{}, domain.Unauthenticated(op, "Authentication required")
	}

	var body ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return entitlement.Request{}, domain.Invalid(op, "request body too large")
		}
		return entitlement.Request{}, domain.Invalid(op, "request body must be a JSON object")
	}

	return requestFor(tenantID, body), nil
}

func requestFor(tenantID uuid.UUID, body ChatRequest) entitlement.Request {
	return entitlement.Request{
		TenantID:       tenantID,
		Prompt:         body.Prompt,
		Model:          body.Model,
		ConversationID: body.ConversationID,
		MaxTokens:      body.MaxTokens,
		Temperature:    body.Temperature,
	}
}
