package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"threatfeed/internal/adapter/aggregator"
	"threatfeed/internal/adapter/ingest"
	"threatfeed/internal/domain"
	"threatfeed/internal/logger"
	"threatfeed/internal/port"
)

// PipelineOptions sizes and schedules the pipeline.
type PipelineOptions struct {
	Workers      int
	QueueSize    int
	SinkInterval time.Duration

	// Log offsets each chain's reader starts from. A previous run already
	// applied everything before them.
	AggregateResume int64
	IndexResume     int64

	// OnApplied, if set, is called from the aggregation loop after each
	// document with its log offset.
	OnApplied func(offset int64)
}

// Pipeline runs two independent chains over the same log: keyword
// aggregation (one loop) and embedding (a worker pool). Each chain tails
// the log with its own reader, so a slow embedder never holds back the
// counts. A sink loop publishes aggregate snapshots and, when a state
// store is set, checkpoints both chains.
type Pipeline struct {
	aggReader *ingest.Reader
	idxReader *ingest.Reader
	filter    port.KeywordExtractor
	agg       *aggregator.Aggregator
	indexer   *Indexer
	sink      port.SnapshotSink
	state     port.StateStore
	opts      PipelineOptions

	wm            *watermark
	aggPanics     atomic.Int64
	sinkFailures  atomic.Int64
	lastPublished atomic.Uint64
}

// NewPipeline wires the stages together. source.Offset is ignored: the
// readers start at opts.AggregateResume and opts.IndexResume. state may
// be nil.
func NewPipeline(
	source ingest.Options,
	filter port.KeywordExtractor,
	agg *aggregator.Aggregator,
	indexer *Indexer,
	sink port.SnapshotSink,
	state port.StateStore,
	opts PipelineOptions,
) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.SinkInterval <= 0 {
		opts.SinkInterval = time.Second
	}
	aggSource, idxSource := source, source
	aggSource.Offset = opts.AggregateResume
	idxSource.Offset = opts.IndexResume
	return &Pipeline{
		aggReader: ingest.NewReader(aggSource),
		idxReader: ingest.NewReader(idxSource),
		filter:    filter,
		agg:       agg,
		indexer:   indexer,
		sink:      sink,
		state:     state,
		opts:      opts,
		wm:        newWatermark(opts.IndexResume),
	}
}

type indexJob struct {
	doc domain.Document
	seq uint64
}

// Run blocks until both readers stop (ctx cancelled, or EOF when not
// following) and both chains have drained. Documents already queued when
// ctx is cancelled are still processed, then a final snapshot and
// checkpoint are written.
func (p *Pipeline) Run(ctx context.Context) error {
	aggCh := make(chan domain.Document, p.opts.QueueSize)
	docs := make(chan domain.Document, p.opts.QueueSize)
	idxCh := make(chan indexJob, p.opts.QueueSize)

	var aggErr, idxErr error
	go func() {
		defer close(aggCh)
		aggErr = p.aggReader.Run(ctx, aggCh)
	}()
	go func() {
		defer close(docs)
		idxErr = p.idxReader.Run(ctx, docs)
	}()

	// sequence index jobs so the watermark can track completion
	go func() {
		defer close(idxCh)
		var seq uint64
		for doc := range docs {
			seq++
			p.wm.add(seq, doc.Offset)
			idxCh <- indexJob{doc: doc, seq: seq}
		}
	}()

	var chains sync.WaitGroup
	chains.Add(1)
	go func() {
		defer chains.Done()
		for doc := range aggCh {
			p.aggregate(doc)
		}
	}()

	// in-flight embeddings finish after shutdown; each is bounded by the
	// indexer timeout
	drainCtx := context.WithoutCancel(ctx)
	for i := 0; i < p.opts.Workers; i++ {
		chains.Add(1)
		go func() {
			defer chains.Done()
			for job := range idxCh {
				if err := p.indexer.Index(drainCtx, job.doc); err != nil {
					logger.Warn("index: %v", err)
				}
				p.wm.complete(job.seq)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		chains.Wait()
		close(done)
	}()

	ticker := time.NewTicker(p.opts.SinkInterval)
	defer ticker.Stop()

	st := &flushState{}
	for {
		select {
		case <-ticker.C:
			// after cancellation only the final flush below publishes
			if ctx.Err() == nil {
				p.flush(ctx, st)
			}
		case <-done:
			p.flush(drainCtx, st)
			if err := errors.Join(aggErr, idxErr); err != nil {
				return fmt.Errorf("failed to read log: %w", err)
			}
			return nil
		}
	}
}

func (p *Pipeline) aggregate(doc domain.Document) {
	defer func() {
		if r := recover(); r != nil {
			p.aggPanics.Add(1)
			logger.Error("aggregate: panic on document at offset %d: %v", doc.Offset, r)
		}
	}()
	p.agg.Apply(doc, p.filter.Extract(doc.FullText))
	if p.opts.OnApplied != nil {
		p.opts.OnApplied(doc.Offset)
	}
}

// flushState is owned by the sink loop.
type flushState struct {
	published bool
	saved     bool
	savedCP   domain.Checkpoint
	savedVer  uint64
}

// flush publishes the snapshot if it changed since the last successful
// publish, then saves a checkpoint if anything moved.
func (p *Pipeline) flush(ctx context.Context, st *flushState) {
	snap := p.agg.Snapshot()

	if !st.published || snap.Version != p.lastPublished.Load() {
		if err := p.sink.Publish(ctx, snap.Rows); err != nil {
			p.sinkFailures.Add(1)
			logger.Error("sink: publish of version %d failed, retrying next cycle: %v", snap.Version, err)
		} else {
			st.published = true
			p.lastPublished.Store(snap.Version)
			logger.Debug("sink: published version %d (%d rows)", snap.Version, len(snap.Rows))
		}
	}

	if p.state == nil {
		return
	}
	cp := domain.Checkpoint{
		Rows:            snap.Rows,
		AggregateOffset: snap.Offset,
		IndexOffset:     p.wm.value(),
	}
	if st.saved && st.savedVer == snap.Version &&
		st.savedCP.AggregateOffset == cp.AggregateOffset && st.savedCP.IndexOffset == cp.IndexOffset {
		return
	}
	if err := p.state.SaveCheckpoint(cp); err != nil {
		logger.Error("checkpoint: %v", err)
		return
	}
	st.saved = true
	st.savedVer = snap.Version
	st.savedCP = cp
}

// Stats returns current pipeline counters.
func (p *Pipeline) Stats() domain.PipelineStats {
	rs := p.aggReader.Stats()
	return domain.PipelineStats{
		LinesRead:     rs.LinesRead,
		Documents:     rs.Documents,
		Malformed:     rs.Malformed,
		Aggregated:    p.agg.Applied(),
		Indexed:       p.indexer.Indexed(),
		IndexErrors:   p.indexer.Failed(),
		Keys:          p.agg.Keys(),
		Version:       p.agg.Version(),
		Offset:        rs.Offset,
		SinkFailures:  p.sinkFailures.Load(),
		LastPublished: p.lastPublished.Load(),
	}
}

// Snapshot returns the aggregator's current table.
func (p *Pipeline) Snapshot() domain.Snapshot {
	return p.agg.Snapshot()
}

// watermark tracks the highest log offset below which every dispatched
// document has finished indexing. Workers complete out of order.
type watermark struct {
	mu      sync.Mutex
	pending []pendingDoc
	done    map[uint64]bool
	mark    int64
}

type pendingDoc struct {
	seq    uint64
	offset int64
}

func newWatermark(start int64) *watermark {
	return &watermark{done: make(map[uint64]bool), mark: start}
}

func (w *watermark) add(seq uint64, offset int64) {
	w.mu.Lock()
	w.pending = append(w.pending, pendingDoc{seq: seq, offset: offset})
	w.mu.Unlock()
}

func (w *watermark) complete(seq uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.done[seq] = true
	for len(w.pending) > 0 && w.done[w.pending[0].seq] {
		head := w.pending[0]
		delete(w.done, head.seq)
		w.mark = head.offset
		w.pending = w.pending[1:]
	}
}

func (w *watermark) value() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mark
}
