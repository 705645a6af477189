// Package usage delivers consumption records to their sinks: the database,
// the object-store archive, or both, behind a bounded asynchronous queue.
package usage

import (
	"context"
	"errors"

	"github.com/DukeRupert/fiesta/internal/domain"
)

// Sink stores usage records.
type Sink interface {
	Record(ctx context.Context, rec domain.UsageRecord) error
}

// Multi records to every sink and joins their errors. A failing sink does
// not stop the others.
type Multi []Sink

func (m Multi) Record(ctx context.Context, rec domain.UsageRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every record.
type Discard struct{}

func (Discard) Record(context.Context, domain.UsageRecord) error { return nil }
