package store

import (
	"fmt"

	"threatfeed/internal/adapter/memstore"
	"threatfeed/internal/port"
)

var _ port.VectorStore = (*PersistentVectorStore)(nil)

// PersistentVectorStore serves searches from memory and writes every
// append through to a StateStore.
type PersistentVectorStore struct {
	mem   *memstore.VectorStore
	state port.StateStore
}

// NewPersistentVectorStore loads the entries already in state into mem.
func NewPersistentVectorStore(mem *memstore.VectorStore, state port.StateStore) (*PersistentVectorStore, error) {
	entries, err := state.ListEntries()
	if err != nil {
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	if err := mem.Restore(entries); err != nil {
		return nil, fmt.Errorf("failed to restore vectors: %w", err)
	}
	return &PersistentVectorStore{mem: mem, state: state}, nil
}

// Append adds the item in memory first, so it is searchable even when the
// write-through fails; the error is still reported.
func (s *PersistentVectorStore) Append(item port.VectorItem) (uint64, error) {
	seq, err := s.mem.Append(item)
	if err != nil {
		return 0, err
	}
	entry, _ := s.mem.Entry(seq)
	if err := s.state.PutEntry(entry); err != nil {
		return seq, fmt.Errorf("failed to persist vector %d: %w", seq, err)
	}
	return seq, nil
}

func (s *PersistentVectorStore) Search(query []float32, k int) ([]port.VectorResult, error) {
	return s.mem.Search(query, k)
}

func (s *PersistentVectorStore) Count() int {
	return s.mem.Count()
}
