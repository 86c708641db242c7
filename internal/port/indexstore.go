package port

import "threatfeed/internal/domain"

// StateStore persists derived state so a restart can resume.
type StateStore interface {
	// PutEntry durably records a vector store entry.
	PutEntry(entry domain.Entry) error

	// ListEntries returns persisted entries in sequence order.
	ListEntries() ([]domain.Entry, error)

	// SaveCheckpoint atomically replaces the aggregate table and the
	// per-chain ingestion offsets.
	SaveCheckpoint(cp domain.Checkpoint) error

	// LoadCheckpoint returns the last saved checkpoint (zero if none).
	LoadCheckpoint() (domain.Checkpoint, error)

	Close() error
}
