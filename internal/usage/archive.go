package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/fiesta/internal/domain"
	"github.com/DukeRupert/fiesta/internal/storage"
)

// Archive writes each record as one JSON object to an object store, under
// storage.UsageKey. Records are immutable, so an existing key is left as is.
type Archive struct {
	store storage.Storage
}

// NewArchive creates an archive on store.
func NewArchive(store storage.Storage) *Archive {
	return &Archive{store: store}
}

func (a *Archive) Record(ctx context.Context, rec domain.UsageRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode usage record: %w", err)
	}

	key := storage.UsageKey(rec.TenantID, rec.ID, rec.CreatedAt)
	err = a.store.Put(ctx, key, bytes.NewReader(body), storage.PutOptions{ContentType: "application/json"})
	if storage.IsKeyExists(err) {
		return nil
	}
	return err
}

// Load reads back the archived record with the given identity.
func (a *Archive) Load(ctx context.Context, tenantID, id uuid.UUID, createdAt time.Time) (domain.UsageRecord, error) {
	key := storage.UsageKey(tenantID, id, createdAt)
	rc, _, err := a.store.Get(ctx, key)
	if err != nil {
		return domain.UsageRecord{}, err
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		return domain.UsageRecord{}, fmt.Errorf("read usage record: %w", err)
	}

	var rec domain.UsageRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return domain.UsageRecord{}, fmt.Errorf("decode usage record: %w", err)
	}
	if rec.ID == uuid.Nil {
		return domain.UsageRecord{}, fmt.Errorf("usage record at %s has no id", key)
	}
	return rec, nil
}
