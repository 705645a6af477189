package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/sqlc-dev/pqtype"

	"github.com/DukeRupert/fiesta/internal/domain"
)

// UsageSink appends usage records to the usage_records table.
type UsageSink struct {
	db *sql.DB
}

// NewUsageSink creates a sink on db.
func NewUsageSink(db *sql.DB) *UsageSink {
	return &UsageSink{db: db}
}

// usageMetadata is the jsonb metadata column.
type usageMetadata struct {
	ConversationID string `json:"conversation_id,omitempty"`
}

// Record inserts rec. Re-recording the same ID is a no-op.
func (s *UsageSink) Record(ctx context.Context, rec domain.UsageRecord) error {
	const op = "postgres.usage.record"

	metadata, err := metadataFor(rec)
	if err != nil {
		return domain.Internal(err, op, "encode usage metadata")
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO usage_records (
    id, tenant_id, provider, model,
    prompt_tokens, completion_tokens, total_tokens,
    credits, cost_usd, outcome, metadata, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO NOTHING`,
		rec.ID,
		rec.TenantID,
		rec.Provider,
		rec.Model,
		rec.PromptTokens,
		rec.CompletionTokens,
		rec.TotalTokens,
		rec.Credits,
		rec.CostUSD,
		string(rec.Outcome),
		metadata,
		rec.CreatedAt,
	)
	return dbError(err, op)
}

// metadataFor returns a NULL metadata value when there is nothing to store.
func metadataFor(rec domain.UsageRecord) (pqtype.NullRawMessage, error) {
	if rec.ConversationID == "" {
		return pqtype.NullRawMessage{Valid: false}, nil
	}
	raw, err := json.Marshal(usageMetadata{ConversationID: rec.ConversationID})
	if err != nil {
		return pqtype.NullRawMessage{}, err
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}, nil
}
