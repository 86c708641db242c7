// Package memstore holds the in-memory, append-only vector index.
package memstore

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"threatfeed/internal/domain"
	"threatfeed/internal/port"
)

var _ port.VectorStore = (*VectorStore)(nil)

// ErrDimensionMismatch is returned for vectors of the wrong width.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// VectorStore ranks entries by cosine similarity. Vectors are L2-normalized
// on insert, so a score is the dot product of two unit vectors. Equal
// scores are ordered by sequence number, oldest first.
//
// Entries are never modified once appended. Search copies the slice header
// under the read lock and scores outside it, so appends proceed while a
// query runs and a query sees every entry appended before it started.
type VectorStore struct {
	mu        sync.RWMutex
	dimension int
	entries   []domain.Entry
}

func NewVectorStore(dimension int) *VectorStore {
	return &VectorStore{dimension: dimension}
}

// Dimension returns the accepted vector width.
func (s *VectorStore) Dimension() int {
	return s.dimension
}

// Append normalizes item.Vector into a new entry and returns its sequence
// number. The caller's slice is not retained.
func (s *VectorStore) Append(item port.VectorItem) (uint64, error) {
	if len(item.Vector) != s.dimension {
		return 0, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, s.dimension, len(item.Vector))
	}
	entry := domain.Entry{
		DocID:  item.DocID,
		Vector: normalize(item.Vector),
		Text:   item.Text,
		Metadata: domain.Metadata{
			Title:     item.Title,
			URL:       item.URL,
			Timestamp: item.Unix,
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Seq = uint64(len(s.entries))
	s.entries = append(s.entries, entry)
	return entry.Seq, nil
}

// Restore appends previously persisted entries in the order given,
// renumbering them so sequence numbers stay dense.
func (s *VectorStore) Restore(entries []domain.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if len(e.Vector) != s.dimension {
			return fmt.Errorf("%w: entry %s has %d, expected %d", ErrDimensionMismatch, e.DocID, len(e.Vector), s.dimension)
		}
		e.Seq = uint64(len(s.entries))
		e.Vector = normalize(e.Vector)
		s.entries = append(s.entries, e)
	}
	return nil
}

// Entry returns the entry with the given sequence number.
func (s *VectorStore) Entry(seq uint64) (domain.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if seq >= uint64(len(s.entries)) {
		return domain.Entry{}, false
	}
	return s.entries[seq], true
}

// Search returns up to k entries most similar to query.
func (s *VectorStore) Search(query []float32, k int) ([]port.VectorResult, error) {
	if len(query) != s.dimension {
		return nil, fmt.Errorf("query %w: expected %d, got %d", ErrDimensionMismatch, s.dimension, len(query))
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	entries := s.entries
	s.mu.RUnlock()

	if len(entries) == 0 {
		return nil, nil
	}

	q := normalize(query)

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(entries))
	for i := range entries {
		scores[i] = scored{idx: i, score: dot(q, entries[i].Vector)}
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].idx < scores[j].idx
	})

	if k > len(scores) {
		k = len(scores)
	}

	results := make([]port.VectorResult, k)
	for i := 0; i < k; i++ {
		e := entries[scores[i].idx]
		results[i] = port.VectorResult{
			Seq:   e.Seq,
			DocID: e.DocID,
			Score: scores[i].score,
			Text:  e.Text,
			Title: e.Metadata.Title,
			URL:   e.Metadata.URL,
			Unix:  e.Metadata.Timestamp,
		}
	}
	return results, nil
}

// Count returns the number of entries.
func (s *VectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
