package domain

import (
	"time"

	"github.com/google/uuid"
)

// UsageOutcome describes how the request that produced a usage record ended.
type UsageOutcome string

const (
	UsageOutcomeDone     UsageOutcome = "done"     // Streamed and finalized normally
	UsageOutcomeFallback UsageOutcome = "fallback" // Finalized from an emulated stream
	UsageOutcomePartial  UsageOutcome = "partial"  // Upstream failed after relaying some text
)

// UsageRecord is an immutable, append-only consumption fact.
type UsageRecord struct {
	ID               uuid.UUID    `json:"id"`
	TenantID         uuid.UUID    `json:"tenant_id"`
	ConversationID   string       `json:"conversation_id,omitempty"`
	Provider         string       `json:"provider"`
	Model            string       `json:"model"`
	PromptTokens     int          `json:"prompt_tokens"`
	CompletionTokens int          `json:"completion_tokens"`
	TotalTokens      int          `json:"total_tokens"`
	Credits          int64        `json:"credits"`
	CostUSD          float64      `json:"cost_usd"`
	Outcome          UsageOutcome `json:"outcome"`
	CreatedAt        time.Time    `json:"created_at"`
}

// NewUsageRecord fills in identity, totals and timestamp.
func NewUsageRecord(tenantID uuid.UUID, provider, model string, promptTokens, completionTokens int) UsageRecord {
	return UsageRecord{
		ID:               uuid.New(),
		TenantID:         tenantID,
		Provider:         provider,
		Model:            model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		Outcome:          UsageOutcomeDone,
		CreatedAt:        time.Now().UTC(),
	}
}
