// Package store persists pipeline state in a bbolt file so a restarted
// process can resume instead of replaying the whole log.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"threatfeed/internal/domain"
	"threatfeed/internal/port"
)

var _ port.StateStore = (*BoltStore)(nil)

var (
	bucketVectors      = []byte("vectors")
	bucketAggregates   = []byte("aggregates")
	bucketMeta         = []byte("meta")
	keyAggregateOffset = []byte("aggregate_offset")
	keyIndexOffset     = []byte("index_offset")
)

type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketVectors, bucketAggregates, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

type storedEntry struct {
	DocID     string    `json:"doc_id"`
	Vector    []float32 `json:"v"`
	Text      string    `json:"text"`
	Title     string    `json:"title,omitempty"`
	URL       string    `json:"url"`
	Timestamp float64   `json:"ts"`
}

// PutEntry appends an entry under the bucket's next sequence key. The
// entry's own Seq is not stored; restore order is key order.
func (s *BoltStore) PutEntry(entry domain.Entry) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(storedEntry{
			DocID:     entry.DocID,
			Vector:    entry.Vector,
			Text:      entry.Text,
			Title:     entry.Metadata.Title,
			URL:       entry.Metadata.URL,
			Timestamp: entry.Metadata.Timestamp,
		})
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

func (s *BoltStore) ListEntries() ([]domain.Entry, error) {
	var entries []domain.Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVectors).ForEach(func(k, v []byte) error {
			var stored storedEntry
			if err := json.Unmarshal(v, &stored); err != nil {
				return fmt.Errorf("failed to decode entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			entries = append(entries, domain.Entry{
				Seq:    uint64(len(entries)),
				DocID:  stored.DocID,
				Vector: stored.Vector,
				Text:   stored.Text,
				Metadata: domain.Metadata{
					Title:     stored.Title,
					URL:       stored.URL,
					Timestamp: stored.Timestamp,
				},
			})
			return nil
		})
	})
	return entries, err
}

// SaveCheckpoint replaces the aggregate table and both offsets in one
// transaction, so a crash leaves either the old checkpoint or the new one.
func (s *BoltStore) SaveCheckpoint(cp domain.Checkpoint) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketAggregates); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(bucketAggregates)
		if err != nil {
			return err
		}
		for i, row := range cp.Rows {
			data, err := json.Marshal(row)
			if err != nil {
				return err
			}
			if err := b.Put(itob(uint64(i)), data); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(keyAggregateOffset, itob(uint64(cp.AggregateOffset))); err != nil {
			return err
		}
		return meta.Put(keyIndexOffset, itob(uint64(cp.IndexOffset)))
	})
}

// LoadCheckpoint returns rows in the order they were saved.
func (s *BoltStore) LoadCheckpoint() (domain.Checkpoint, error) {
	var cp domain.Checkpoint
	err := s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		cp.AggregateOffset = btoi(meta.Get(keyAggregateOffset))
		cp.IndexOffset = btoi(meta.Get(keyIndexOffset))
		return tx.Bucket(bucketAggregates).ForEach(func(k, v []byte) error {
			var row domain.AggregateRecord
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			cp.Rows = append(cp.Rows, row)
			return nil
		})
	})
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// EntryCount returns the number of persisted vector entries.
func (s *BoltStore) EntryCount() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketVectors).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}
