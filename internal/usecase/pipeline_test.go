package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"threatfeed/config"
	"threatfeed/internal/adapter/aggregator"
	"threatfeed/internal/adapter/analyzer"
	"threatfeed/internal/adapter/fs"
	"threatfeed/internal/adapter/ingest"
	"threatfeed/internal/adapter/memstore"
	"threatfeed/internal/adapter/retriever"
	"threatfeed/internal/adapter/sink"
	"threatfeed/internal/adapter/store"
	"threatfeed/internal/domain"
	"threatfeed/internal/port"
)

const testDim = 128

func writeDocs(t *testing.T, path string, docs ...domain.Document) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	for _, d := range docs {
		line, err := ingest.Encode(d)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			t.Fatal(err)
		}
	}
}

type harness struct {
	dir      string
	logPath  string
	sinkPath string
	agg      *aggregator.Aggregator
	store    *memstore.VectorStore
	indexer  *Indexer
	pipeline *Pipeline
	search   *RetrieveUseCase
}

func newHarness(t *testing.T, vocab []string, snk port.SnapshotSink, emb port.Embedder) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		dir:      dir,
		logPath:  filepath.Join(dir, "stream_buffer.jsonl"),
		sinkPath: filepath.Join(dir, "live_alerts.csv"),
		agg:      aggregator.New(0),
		store:    memstore.NewVectorStore(testDim),
	}
	if snk == nil {
		s, err := sink.NewCSVSink(h.sinkPath)
		if err != nil {
			t.Fatal(err)
		}
		snk = s
	}
	if emb == nil {
		emb = newScripted(testDim)
	}
	h.indexer = NewIndexer(emb, h.store, IndexerOptions{})
	h.pipeline = NewPipeline(ingest.Options{Path: h.logPath}, analyzer.NewKeywordFilter(vocab), h.agg, h.indexer, snk, nil,
		PipelineOptions{Workers: 2, QueueSize: 4, SinkInterval: 10 * time.Millisecond})
	h.search = NewRetrieveUseCase(retriever.NewSemanticRetriever(h.store, emb), config.RetrieveConfig{DefaultK: 3, MaxK: 10})
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.pipeline.Run(ctx); err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}
}

func TestPipelineKernelScenario(t *testing.T) {
	h := newHarness(t, []string{"kernel"}, nil, nil)
	writeDocs(t, h.logPath,
		domain.Document{URL: "u1", FullText: "kernel kernel exploit", Timestamp: 0},
		domain.Document{URL: "u2", FullText: "kernel", Timestamp: 30},
		domain.Document{URL: "u3", FullText: "kernel", Timestamp: 65},
	)
	h.run(t)

	rows, err := fs.ReadCSVFile(h.sinkPath)
	if err != nil {
		t.Fatal(err)
	}
	expected := []domain.AggregateRecord{
		{Word: "kernel", Bucket: 0, Count: 3},
		{Word: "kernel", Bucket: 1, Count: 1},
	}
	if len(rows) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, rows)
	}
	for i := range expected {
		if rows[i] != expected[i] {
			t.Errorf("row %d: expected %+v, got %+v", i, expected[i], rows[i])
		}
	}

	stats := h.pipeline.Stats()
	if stats.Documents != 3 || stats.Aggregated != 3 || stats.Indexed != 3 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.LastPublished != stats.Version {
		t.Errorf("expected last published %d, got %d", stats.Version, stats.LastPublished)
	}
}

func TestPipelineHeapRetrievalScenario(t *testing.T) {
	h := newHarness(t, config.DefaultVocabulary(), nil, nil)
	writeDocs(t, h.logPath, domain.Document{
		URL:       "https://x/heap",
		Title:     "Heap bug",
		FullText:  "A heap overflow in the kernel allocator",
		Timestamp: 100,
	})
	h.run(t)

	results, err := h.search.Retrieve(context.Background(), "heap overflow", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly one result, got %d", len(results))
	}
	if results[0].Metadata.Title != "Heap bug" || results[0].Metadata.URL != "https://x/heap" {
		t.Errorf("metadata not returned verbatim: %+v", results[0].Metadata)
	}
}

func TestPipelineKeywordFreeDocumentStillIndexed(t *testing.T) {
	h := newHarness(t, config.DefaultVocabulary(), nil, nil)
	writeDocs(t, h.logPath, domain.Document{
		URL:       "https://x/cake",
		Title:     "Cake",
		FullText:  "grandmother's lemon cake recipe",
		Timestamp: 10,
	})
	h.run(t)

	if rows := h.pipeline.Snapshot().Rows; len(rows) != 0 {
		t.Errorf("expected zero aggregate rows, got %v", rows)
	}
	results, err := h.search.Retrieve(context.Background(), "lemon cake", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Metadata.URL != "https://x/cake" {
		t.Errorf("expected the cake document, got %+v", results)
	}

	// the empty table is still published so readers find a file
	if _, err := os.Stat(h.sinkPath); err != nil {
		t.Errorf("expected published snapshot: %v", err)
	}
}

func TestPipelineIndexFailureDoesNotAffectAggregation(t *testing.T) {
	h := newHarness(t, []string{"rce"}, nil, nil)
	writeDocs(t, h.logPath,
		domain.Document{URL: "a", FullText: "rce PANIC", Timestamp: 0},
		domain.Document{URL: "b", FullText: "rce again", Timestamp: 1},
	)
	h.run(t)

	if got := h.agg.Count("rce", 0); got != 2 {
		t.Errorf("expected rce count 2, got %d", got)
	}
	stats := h.pipeline.Stats()
	if stats.Indexed != 1 || stats.IndexErrors != 1 {
		t.Errorf("expected 1 indexed and 1 error, got %+v", stats)
	}
}

type flakySink struct {
	mu       sync.Mutex
	failures int
	calls    int
	last     []domain.AggregateRecord
}

func (s *flakySink) Publish(ctx context.Context, rows []domain.AggregateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("disk full")
	}
	s.last = rows
	return nil
}

func (s *flakySink) Close() error { return nil }

func TestPipelineSinkFailureDoesNotAffectIndexing(t *testing.T) {
	snk := &flakySink{failures: 1000}
	h := newHarness(t, []string{"tls"}, snk, nil)
	writeDocs(t, h.logPath, domain.Document{URL: "a", FullText: "tls downgrade", Timestamp: 0})
	h.run(t)

	if h.store.Count() != 1 {
		t.Errorf("expected 1 indexed document, got %d", h.store.Count())
	}
	if h.pipeline.Stats().SinkFailures == 0 {
		t.Error("expected sink failures to be counted")
	}
}

func TestPipelineSinkRetriesAfterFailure(t *testing.T) {
	snk := &flakySink{failures: 1}
	h := newHarness(t, []string{"tls"}, snk, nil)
	writeDocs(t, h.logPath, domain.Document{URL: "a", FullText: "tls", Timestamp: 0})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := ingest.Options{Path: h.logPath, Follow: true, PollInterval: 10 * time.Millisecond}
	p := NewPipeline(source, analyzer.NewKeywordFilter([]string{"tls"}), h.agg, h.indexer, snk, nil,
		PipelineOptions{Workers: 1, SinkInterval: 10 * time.Millisecond})

	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		snk.mu.Lock()
		ok := len(snk.last) == 1
		snk.mu.Unlock()
		if ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("snapshot was never published")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// runResumed runs one non-following pipeline over logPath, resuming from
// whatever checkpoint statePath holds.
func runResumed(t *testing.T, logPath, statePath string, emb port.Embedder) (*aggregator.Aggregator, *store.PersistentVectorStore) {
	t.Helper()
	st, err := store.NewBoltStore(statePath)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	cp, err := st.LoadCheckpoint()
	if err != nil {
		t.Fatal(err)
	}
	agg := aggregator.New(0)
	agg.Restore(cp.Rows, cp.AggregateOffset)
	vectors, err := store.NewPersistentVectorStore(memstore.NewVectorStore(testDim), st)
	if err != nil {
		t.Fatal(err)
	}
	snk, err := sink.NewCSVSink(filepath.Join(filepath.Dir(logPath), "alerts.csv"))
	if err != nil {
		t.Fatal(err)
	}

	p := NewPipeline(ingest.Options{Path: logPath}, analyzer.NewKeywordFilter([]string{"ssh"}), agg,
		NewIndexer(emb, vectors, IndexerOptions{}), snk, st,
		PipelineOptions{Workers: 2, SinkInterval: time.Hour, AggregateResume: cp.AggregateOffset, IndexResume: cp.IndexOffset})
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	return agg, vectors
}

func TestPipelineResume(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "stream.jsonl")
	statePath := filepath.Join(dir, "state.db")
	emb := newScripted(testDim)

	writeDocs(t, logPath,
		domain.Document{URL: "a", FullText: "ssh ssh", Timestamp: 0},
		domain.Document{URL: "b", FullText: "ssh", Timestamp: 61},
	)
	agg, vectors := runResumed(t, logPath, statePath, emb)
	if agg.Count("ssh", 0) != 2 || vectors.Count() != 2 {
		t.Fatalf("first run: unexpected state count=%d vectors=%d", agg.Count("ssh", 0), vectors.Count())
	}

	writeDocs(t, logPath, domain.Document{URL: "c", FullText: "ssh", Timestamp: 0})
	agg, vectors = runResumed(t, logPath, statePath, emb)

	if got := agg.Count("ssh", 0); got != 3 {
		t.Errorf("expected ssh@0 = 3 after resume, got %d", got)
	}
	if got := agg.Count("ssh", 1); got != 1 {
		t.Errorf("expected ssh@1 = 1 after resume, got %d", got)
	}
	if vectors.Count() != 3 {
		t.Errorf("expected 3 vectors after resume, got %d", vectors.Count())
	}
}

func TestPipelineResumeAfterTruncation(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "stream.jsonl")
	statePath := filepath.Join(dir, "state.db")
	emb := newScripted(testDim)

	writeDocs(t, logPath,
		domain.Document{URL: "a", FullText: "ssh ssh", Timestamp: 0},
		domain.Document{URL: "b", FullText: "ssh", Timestamp: 61},
		domain.Document{URL: "c", FullText: "ssh", Timestamp: 2},
	)
	runResumed(t, logPath, statePath, emb)

	// rotate: the new log is shorter than both saved offsets
	if err := os.WriteFile(logPath, nil, 0644); err != nil {
		t.Fatal(err)
	}
	writeDocs(t, logPath, domain.Document{URL: "d", FullText: "ssh", Timestamp: 3})

	agg, vectors := runResumed(t, logPath, statePath, emb)
	if got := agg.Count("ssh", 0); got != 4 {
		t.Errorf("expected ssh@0 = 4 after truncation, got %d", got)
	}
	if vectors.Count() != 4 {
		t.Errorf("expected 4 vectors after truncation, got %d", vectors.Count())
	}
}

func TestPipelineStalledEmbedderDoesNotDelayAggregation(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "stream.jsonl")
	const n = 50
	docs := make([]domain.Document, n)
	for i := range docs {
		docs[i] = domain.Document{URL: "u", FullText: "kernel STALL", Timestamp: 1}
	}
	writeDocs(t, logPath, docs...)

	agg := aggregator.New(0)
	indexer := NewIndexer(newScripted(testDim), memstore.NewVectorStore(testDim), IndexerOptions{Timeout: 200 * time.Millisecond})
	source := ingest.Options{Path: logPath, Follow: true, PollInterval: 10 * time.Millisecond}
	p := NewPipeline(source, analyzer.NewKeywordFilter([]string{"kernel"}), agg, indexer, &flakySink{}, nil,
		PipelineOptions{Workers: 2, QueueSize: 4, SinkInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	deadline := time.After(time.Second)
	for agg.Count("kernel", 0) < n {
		select {
		case <-deadline:
			t.Fatalf("aggregation held back by embedding: %d/%d counted", agg.Count("kernel", 0), n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline did not stop")
	}
}

// ctxSink fails like a file sink when called with a cancelled context.
type ctxSink struct {
	mu        sync.Mutex
	cancelled int
	last      []domain.AggregateRecord
}

func (s *ctxSink) Publish(ctx context.Context, rows []domain.AggregateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		s.cancelled++
		return err
	}
	s.last = rows
	return nil
}

func (s *ctxSink) Close() error { return nil }

func TestPipelineShutdownDoesNotCountSinkFailures(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "stream.jsonl")
	writeDocs(t, logPath, domain.Document{URL: "a", FullText: "rootkit STALL", Timestamp: 0})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snk := &ctxSink{}
	indexer := NewIndexer(newScripted(testDim), memstore.NewVectorStore(testDim), IndexerOptions{Timeout: 200 * time.Millisecond})
	source := ingest.Options{Path: logPath, Follow: true, PollInterval: 10 * time.Millisecond}
	// cancel as soon as the document is counted; the stalled embedding
	// keeps the pipeline draining across several ticks
	p := NewPipeline(source, analyzer.NewKeywordFilter([]string{"rootkit"}), aggregator.New(0), indexer, snk, nil,
		PipelineOptions{Workers: 1, SinkInterval: 5 * time.Millisecond, OnApplied: func(int64) { cancel() }})

	if err := p.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := p.Stats().SinkFailures; got != 0 {
		t.Errorf("expected no sink failures on shutdown, got %d", got)
	}
	snk.mu.Lock()
	defer snk.mu.Unlock()
	if snk.cancelled != 0 {
		t.Errorf("expected no publish with a cancelled context, got %d", snk.cancelled)
	}
	if len(snk.last) != 1 {
		t.Errorf("expected final snapshot with 1 row, got %v", snk.last)
	}
}

func TestWatermarkOutOfOrderCompletion(t *testing.T) {
	w := newWatermark(5)
	w.add(1, 10)
	w.add(2, 20)
	w.add(3, 30)

	w.complete(2)
	if w.value() != 5 {
		t.Errorf("expected 5 while first is pending, got %d", w.value())
	}
	w.complete(1)
	if w.value() != 20 {
		t.Errorf("expected 20, got %d", w.value())
	}
	w.complete(3)
	if w.value() != 30 {
		t.Errorf("expected 30, got %d", w.value())
	}
}

func TestPipelineReadErrorIsReturned(t *testing.T) {
	dir := t.TempDir()
	// a directory cannot be read as a log
	snk, err := sink.NewCSVSink(filepath.Join(t.TempDir(), "a.csv"))
	if err != nil {
		t.Fatal(err)
	}
	p := NewPipeline(ingest.Options{Path: dir}, analyzer.NewKeywordFilter([]string{"x"}), aggregator.New(0),
		NewIndexer(newScripted(8), memstore.NewVectorStore(8), IndexerOptions{}), snk, nil, PipelineOptions{})
	err = p.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "read log") {
		t.Errorf("expected read error, got %v", err)
	}
}
