package domain

import "math"

// BucketSeconds is the width of an aggregation bucket.
const BucketSeconds = 60

// Document is one scraped record decoded from the input log.
type Document struct {
	ID         string
	URL        string
	FullText   string
	Title      string
	Timestamp  float64
	SourceType string
	// Offset is the byte position just past this document's line.
	Offset int64
}

// BucketKey identifies an aggregate cell.
type BucketKey struct {
	Word   string
	Bucket int64
}

// BucketOf maps an event timestamp (unix seconds) to its bucket.
func BucketOf(ts float64) int64 {
	return int64(math.Floor(ts / BucketSeconds))
}

type AggregateRecord struct {
	Word   string `json:"word"`
	Bucket int64  `json:"bucket"`
	Count  int64  `json:"count"`
}

// Snapshot is the full aggregate table at one version.
type Snapshot struct {
	Version uint64
	Offset  int64
	Rows    []AggregateRecord
}

// Checkpoint is the durable resume point. The two chains read the log
// independently, so each keeps its own offset.
type Checkpoint struct {
	Rows            []AggregateRecord
	AggregateOffset int64
	IndexOffset     int64
}

type Metadata struct {
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

// Entry is an immutable vector store record.
type Entry struct {
	Seq      uint64
	DocID    string
	Vector   []float32
	Text     string
	Metadata Metadata
}

type RetrievalResult struct {
	DocID    string
	Score    float64
	Text     string
	Metadata Metadata
}

// WordTotal is a per-word count summed over all buckets.
type WordTotal struct {
	Word  string `json:"word"`
	Count int64  `json:"count"`
}

// PackedContext is retrieved context formatted for a generation prompt.
type PackedContext struct {
	Query   string   `json:"query"`
	Context string   `json:"context"`
	Reports []Report `json:"reports"`
	Sources []string `json:"sources,omitempty"`
}

type Report struct {
	Index int     `json:"index"`
	Title string  `json:"title"`
	URL   string  `json:"url"`
	Score float64 `json:"score"`
	Text  string  `json:"text"`
}

// PipelineStats is a point-in-time view of pipeline counters.
type PipelineStats struct {
	LinesRead     int64  `json:"lines_read"`
	Documents     int64  `json:"documents"`
	Malformed     int64  `json:"malformed"`
	Aggregated    int64  `json:"aggregated"`
	Indexed       int64  `json:"indexed"`
	IndexErrors   int64  `json:"index_errors"`
	Keys          int    `json:"keys"`
	Version       uint64 `json:"version"`
	Offset        int64  `json:"offset"`
	SinkFailures  int64  `json:"sink_failures"`
	LastPublished uint64 `json:"last_published"`
}
