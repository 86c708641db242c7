// Package aggregator maintains per-(word, minute) keyword counts.
//
// State is a mutable key->count map updated by a single writer. There is
// no watermark: a late document still increments its bucket, and no
// bucket is ever finalized or evicted.
package aggregator

import (
	"sort"
	"sync"

	"threatfeed/internal/domain"
	"threatfeed/internal/logger"
)

type cell struct {
	count   int64
	ordinal uint64 // first-seen order, breaks count ties in snapshots
}

// Aggregator counts filtered keyword occurrences per time bucket.
type Aggregator struct {
	mu        sync.RWMutex
	cells     map[domain.BucketKey]*cell
	nextOrd   uint64
	version   uint64
	offset    int64
	applied   int64
	warnAt    int
	warned    bool
	cached    []domain.AggregateRecord
	cachedVer uint64
	hasCache  bool
}

// New creates an empty aggregator. keyWarnThreshold <= 0 disables the
// one-time memory growth warning.
func New(keyWarnThreshold int) *Aggregator {
	return &Aggregator{
		cells:  make(map[domain.BucketKey]*cell),
		warnAt: keyWarnThreshold,
	}
}

// Apply records every occurrence in words at the document's event-time
// bucket and moves the checkpoint offset to the document's; documents are
// applied in log order. A document with no words still moves the offset
// but does not change the version.
func (a *Aggregator) Apply(doc domain.Document, words []string) {
	bucket := domain.BucketOf(doc.Timestamp)

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, w := range words {
		key := domain.BucketKey{Word: w, Bucket: bucket}
		c, ok := a.cells[key]
		if !ok {
			c = &cell{ordinal: a.nextOrd}
			a.nextOrd++
			a.cells[key] = c
		}
		c.count++
	}
	if len(words) > 0 {
		a.version++
	}
	a.offset = doc.Offset
	a.applied++

	if a.warnAt > 0 && !a.warned && len(a.cells) >= a.warnAt {
		a.warned = true
		logger.Warn("aggregator holds %d keys; buckets are never evicted (aggregate.retention=unbounded)", len(a.cells))
	}
}

// Restore seeds the aggregator from a previously saved table. Row order is
// taken as first-seen order. It must be called before any Apply.
func (a *Aggregator) Restore(rows []domain.AggregateRecord, offset int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, r := range rows {
		key := domain.BucketKey{Word: r.Word, Bucket: r.Bucket}
		if c, ok := a.cells[key]; ok {
			c.count += r.Count
			continue
		}
		a.cells[key] = &cell{count: r.Count, ordinal: a.nextOrd}
		a.nextOrd++
	}
	if len(rows) > 0 {
		a.version++
	}
	a.offset = offset
}

// Snapshot returns the full table sorted by count descending, ties in
// first-seen order. With no intervening Apply the same rows are returned.
// Offset is the checkpoint cursor matching exactly these rows.
func (a *Aggregator) Snapshot() domain.Snapshot {
	a.mu.RLock()
	if a.hasCache && a.cachedVer == a.version {
		snap := domain.Snapshot{Version: a.version, Offset: a.offset, Rows: cloneRows(a.cached)}
		a.mu.RUnlock()
		return snap
	}

	type row struct {
		rec     domain.AggregateRecord
		ordinal uint64
	}
	rows := make([]row, 0, len(a.cells))
	for key, c := range a.cells {
		rows = append(rows, row{
			rec:     domain.AggregateRecord{Word: key.Word, Bucket: key.Bucket, Count: c.count},
			ordinal: c.ordinal,
		})
	}
	version, offset := a.version, a.offset
	a.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].rec.Count != rows[j].rec.Count {
			return rows[i].rec.Count > rows[j].rec.Count
		}
		return rows[i].ordinal < rows[j].ordinal
	})

	out := make([]domain.AggregateRecord, len(rows))
	for i, r := range rows {
		out[i] = r.rec
	}

	a.mu.Lock()
	// Only cache if no update slipped in while sorting.
	if a.version == version {
		a.cached = out
		a.cachedVer = version
		a.hasCache = true
	}
	a.mu.Unlock()

	return domain.Snapshot{Version: version, Offset: offset, Rows: cloneRows(out)}
}

// Count returns the current count for one key.
func (a *Aggregator) Count(word string, bucket int64) int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if c, ok := a.cells[domain.BucketKey{Word: word, Bucket: bucket}]; ok {
		return c.count
	}
	return 0
}

// Version increases whenever the table changes.
func (a *Aggregator) Version() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.version
}

// Offset returns the input position of the last applied document.
func (a *Aggregator) Offset() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.offset
}

// Keys returns the number of (word, bucket) keys held.
func (a *Aggregator) Keys() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.cells)
}

// Applied returns the number of documents applied.
func (a *Aggregator) Applied() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.applied
}

// Totals sums counts per word across buckets, sorted by total descending
// then word, and truncated to top (top <= 0 means all).
func Totals(rows []domain.AggregateRecord, top int) []domain.WordTotal {
	sums := make(map[string]int64)
	for _, r := range rows {
		sums[r.Word] += r.Count
	}
	totals := make([]domain.WordTotal, 0, len(sums))
	for w, c := range sums {
		totals = append(totals, domain.WordTotal{Word: w, Count: c})
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].Count != totals[j].Count {
			return totals[i].Count > totals[j].Count
		}
		return totals[i].Word < totals[j].Word
	})
	if top > 0 && len(totals) > top {
		totals = totals[:top]
	}
	return totals
}

func cloneRows(rows []domain.AggregateRecord) []domain.AggregateRecord {
	out := make([]domain.AggregateRecord, len(rows))
	copy(out, rows)
	return out
}
