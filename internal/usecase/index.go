package usecase

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"threatfeed/internal/domain"
	"threatfeed/internal/port"
)

// Indexer embeds documents and appends them to the vector store. Each
// document is handled independently: a failure or panic affects only that
// document.
type Indexer struct {
	embedder     port.Embedder
	store        port.VectorStore
	maxTextChars int
	timeout      time.Duration

	indexed atomic.Int64
	failed  atomic.Int64
}

// IndexerOptions tunes an Indexer.
type IndexerOptions struct {
	// MaxTextChars truncates the stored excerpt; 0 keeps the full text.
	MaxTextChars int

	// Timeout bounds one embedding call; 0 disables it.
	Timeout time.Duration
}

// NewIndexer creates an indexer.
func NewIndexer(embedder port.Embedder, store port.VectorStore, opts IndexerOptions) *Indexer {
	return &Indexer{
		embedder:     embedder,
		store:        store,
		maxTextChars: opts.MaxTextChars,
		timeout:      opts.Timeout,
	}
}

// Index embeds doc and appends it. Errors are counted and returned; the
// caller decides whether to log them.
func (ix *Indexer) Index(ctx context.Context, doc domain.Document) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while indexing %s: %v", doc.URL, r)
		}
		if err != nil {
			ix.failed.Add(1)
		} else {
			ix.indexed.Add(1)
		}
	}()

	if ix.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ix.timeout)
		defer cancel()
	}

	vectors, err := ix.embedder.Embed(ctx, []string{doc.FullText})
	if err != nil {
		return fmt.Errorf("failed to embed %s: %w", doc.URL, err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("failed to embed %s: got %d vectors", doc.URL, len(vectors))
	}

	text := doc.FullText
	if ix.maxTextChars > 0 {
		text = excerpt(text, ix.maxTextChars)
	}

	if _, err := ix.store.Append(port.VectorItem{
		DocID:  doc.ID,
		Vector: vectors[0],
		Text:   text,
		Title:  doc.Title,
		URL:    doc.URL,
		Unix:   doc.Timestamp,
	}); err != nil {
		return fmt.Errorf("failed to store vector for %s: %w", doc.URL, err)
	}
	return nil
}

// Indexed returns the number of documents appended.
func (ix *Indexer) Indexed() int64 {
	return ix.indexed.Load()
}

// Failed returns the number of documents that could not be indexed.
func (ix *Indexer) Failed() int64 {
	return ix.failed.Load()
}
