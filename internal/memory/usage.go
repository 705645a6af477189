package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/DukeRupert/fiesta/internal/domain"
)

// UsageLog is an append-only in-memory usage sink.
type UsageLog struct {
	mu      sync.Mutex
	records []domain.UsageRecord
}

// NewUsageLog creates an empty log.
func NewUsageLog() *UsageLog {
	return &UsageLog{}
}

// Record appends rec.
func (l *UsageLog) Record(ctx context.Context, rec domain.UsageRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

// Records returns the tenant's records in insertion order. uuid.Nil returns
// every record.
func (l *UsageLog) Records(tenantID uuid.UUID) []domain.UsageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.UsageRecord
	for _, r := range l.records {
		if tenantID == uuid.Nil || r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out
}
