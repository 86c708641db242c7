package cli

import (
	"errors"
	"fmt"

	"threatfeed/config"
	"threatfeed/internal/adapter/aggregator"
	"threatfeed/internal/adapter/analyzer"
	"threatfeed/internal/adapter/cache"
	"threatfeed/internal/adapter/embedding"
	"threatfeed/internal/adapter/ingest"
	"threatfeed/internal/adapter/memstore"
	"threatfeed/internal/adapter/retriever"
	"threatfeed/internal/adapter/sink"
	"threatfeed/internal/adapter/store"
	"threatfeed/internal/domain"
	"threatfeed/internal/logger"
	"threatfeed/internal/port"
	"threatfeed/internal/usecase"
)

// engine is one fully wired pipeline plus the retrieval path over its
// vector store.
type engine struct {
	pipeline *usecase.Pipeline
	retrieve *usecase.RetrieveUseCase
	vectors  port.VectorStore
	resumed  domain.Checkpoint
	closers  []func() error
}

type engineOptions struct {
	logPath   string
	follow    bool
	onApplied func(offset int64)
}

func buildEngine(cfg *config.Config, opts engineOptions) (_ *engine, err error) {
	eng := &engine{}
	defer func() {
		if err != nil {
			_ = eng.Close()
		}
	}()

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	logger.Info("embedding with %s", embedding.Fingerprint(embedder))

	mem := memstore.NewVectorStore(embedder.Dimension())
	var vectors port.VectorStore = mem
	var state port.StateStore

	if cfg.Store.Path != "" {
		if err := config.EnsureStateDir(cfg.Store.Path); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
		st, err := store.NewBoltStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open state store: %w", err)
		}
		eng.closers = append(eng.closers, st.Close)

		rebuilt, err := st.Prepare(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare state store: %w", err)
		}
		if rebuilt != "" {
			logger.Warn("state cleared, replaying from the start: %s", rebuilt)
		}

		if cfg.Ingest.Start == config.StartResume {
			eng.resumed, err = st.LoadCheckpoint()
			if err != nil {
				return nil, fmt.Errorf("failed to load checkpoint: %w", err)
			}
		} else if err := st.Clear(); err != nil {
			return nil, fmt.Errorf("failed to clear state: %w", err)
		}

		pv, err := store.NewPersistentVectorStore(mem, st)
		if err != nil {
			return nil, err
		}
		vectors = pv
		state = st
	}
	eng.vectors = vectors

	agg := aggregator.New(cfg.Aggregate.KeyWarnThreshold)
	agg.Restore(eng.resumed.Rows, eng.resumed.AggregateOffset)

	snk, err := sink.New(cfg.Sink)
	if err != nil {
		return nil, err
	}
	eng.closers = append(eng.closers, snk.Close)

	source := ingest.Options{
		Path:         opts.logPath,
		Follow:       opts.follow,
		PollInterval: cfg.Ingest.PollInterval,
		MaxLineBytes: cfg.Ingest.MaxLineBytes,
	}
	indexer := usecase.NewIndexer(embedder, vectors, usecase.IndexerOptions{
		MaxTextChars: cfg.Index.MaxTextChars,
		Timeout:      cfg.Embedding.Timeout,
	})
	eng.pipeline = usecase.NewPipeline(source, analyzer.NewKeywordFilter(cfg.Keywords.Vocabulary),
		agg, indexer, snk, state, usecase.PipelineOptions{
			Workers:         cfg.Index.Workers,
			QueueSize:       cfg.Pipeline.QueueSize,
			SinkInterval:    cfg.Sink.Interval,
			AggregateResume: eng.resumed.AggregateOffset,
			IndexResume:     eng.resumed.IndexOffset,
			OnApplied:       opts.onApplied,
		})

	var r port.Retriever = retriever.NewSemanticRetriever(vectors, embedder)
	if cfg.Retrieve.CacheSize > 0 {
		r = cache.NewCachedRetriever(r, cache.NewQueryCache(cfg.Retrieve.CacheSize, cfg.Retrieve.CacheTTL), vectors)
	}
	eng.retrieve = usecase.NewRetrieveUseCase(r, cfg.Retrieve)

	return eng, nil
}

// Close releases stores in reverse order of opening.
func (e *engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

func printStats(s domain.PipelineStats) {
	fmt.Printf("  Lines read:     %d\n", s.LinesRead)
	fmt.Printf("  Documents:      %d (%d malformed)\n", s.Documents, s.Malformed)
	fmt.Printf("  Aggregated:     %d\n", s.Aggregated)
	fmt.Printf("  Indexed:        %d (%d failed)\n", s.Indexed, s.IndexErrors)
	fmt.Printf("  Aggregate keys: %d\n", s.Keys)
	fmt.Printf("  Log offset:     %d\n", s.Offset)
	if s.SinkFailures > 0 {
		fmt.Printf("  Sink failures:  %d\n", s.SinkFailures)
	}
}
