package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/fiesta/internal/domain"
	"github.com/DukeRupert/fiesta/internal/worker"
)

// JobTypeRecordUsage is the worker job type of queued usage records.
const JobTypeRecordUsage = "record_usage"

// Enqueuer accepts jobs without blocking. *worker.Worker is one.
type Enqueuer interface {
	Enqueue(jobType string, payload any) error
}

// Queue is a Sink that hands records to a background worker and returns
// immediately. When the worker's queue is full the record is dropped and
// the error returned.
type Queue struct {
	jobs   Enqueuer
	logger *slog.Logger
}

// NewQueue creates a queue in front of jobs.
func NewQueue(jobs Enqueuer, logger *slog.Logger) *Queue {
	return &Queue{jobs: jobs, logger: logger}
}

func (q *Queue) Record(ctx context.Context, rec domain.UsageRecord) error {
	if err := q.jobs.Enqueue(JobTypeRecordUsage, rec); err != nil {
		q.logger.Warn("usage record dropped",
			"usage_id", rec.ID,
			"tenant_id", rec.TenantID,
			"credits", rec.Credits,
			"error", err,
		)
		return fmt.Errorf("enqueue usage record: %w", err)
	}
	return nil
}

// Handler is the worker.JobHandler that writes queued records to a sink.
type Handler struct {
	sink Sink
}

var _ worker.JobHandler = (*Handler)(nil)

// NewHandler creates a handler delivering to sink.
func NewHandler(sink Sink) *Handler {
	return &Handler{sink: sink}
}

func (h *Handler) Type() string {
	return JobTypeRecordUsage
}

func (h *Handler) Handle(ctx context.Context, payload []byte) error {
	var rec domain.UsageRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return worker.NewPermanentError(fmt.Errorf("decode usage record: %w", err))
	}
	return h.sink.Record(ctx, rec)
}
