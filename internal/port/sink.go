package port

import (
	"context"

	"threatfeed/internal/domain"
)

// SnapshotSink publishes the full aggregate table. A failed Publish must
// leave the previously published artifact intact.
type SnapshotSink interface {
	Publish(ctx context.Context, rows []domain.AggregateRecord) error
	Close() error
}

// DocumentSource yields decoded documents in file order until ctx ends
// (or, when not following, until EOF).
type DocumentSource interface {
	Run(ctx context.Context, out chan<- domain.Document) error
}
