package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatfeed/config"
	"threatfeed/internal/adapter/aggregator"
	"threatfeed/internal/adapter/fs"
	"threatfeed/internal/adapter/ingest"
	"threatfeed/internal/domain"
)

func appendDocs(t *testing.T, path string, docs ...domain.Document) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)
	defer f.Close()
	for _, d := range docs {
		line, err := ingest.Encode(d)
		require.NoError(t, err)
		_, err = f.Write(append(line, '\n'))
		require.NoError(t, err)
	}
}

func testConfig(dir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Embedding.Dimension = 64
	cfg.Sink.Path = filepath.Join(dir, "alerts.csv")
	cfg.Sink.Interval = time.Hour
	cfg.Store.Path = filepath.Join(dir, ".threatfeed", "state.db")
	return cfg
}

func runOnce(t *testing.T, cfg *config.Config, logPath string) *engine {
	t.Helper()
	eng, err := buildEngine(cfg, engineOptions{logPath: logPath})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	require.NoError(t, eng.pipeline.Run(context.Background()))
	return eng
}

func TestEngineReplayPublishesAndServes(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "stream.jsonl")
	cfg := testConfig(dir)

	appendDocs(t, logPath,
		domain.Document{URL: "u1", Title: "t1", FullText: "kernel kernel exploit", Timestamp: 0},
		domain.Document{URL: "u2", Title: "t2", FullText: "kernel", Timestamp: 30},
		domain.Document{URL: "u3", Title: "t3", FullText: "kernel", Timestamp: 65},
		domain.Document{URL: "https://x/heap", Title: "Heap", FullText: "heap overflow in allocator", Timestamp: 70},
	)

	eng := runOnce(t, cfg, logPath)

	rows, err := fs.LoadSnapshots(context.Background(), cfg.Sink.Path, "csv")
	require.NoError(t, err)
	assert.Contains(t, rows, domain.AggregateRecord{Word: "kernel", Bucket: 0, Count: 3})
	assert.Contains(t, rows, domain.AggregateRecord{Word: "kernel", Bucket: 1, Count: 1})
	assert.Contains(t, rows, domain.AggregateRecord{Word: "exploit", Bucket: 0, Count: 1})

	results, err := eng.retrieve.Retrieve(context.Background(), "heap overflow", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://x/heap", results[0].Metadata.URL)
	assert.Equal(t, 4, eng.vectors.Count())
}

func TestEngineResumeContinuesFromCheckpoint(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "stream.jsonl")
	cfg := testConfig(dir)

	appendDocs(t, logPath,
		domain.Document{URL: "a", FullText: "ssh ssh", Timestamp: 0},
		domain.Document{URL: "b", FullText: "ssh", Timestamp: 61},
	)
	first := runOnce(t, cfg, logPath)
	require.NoError(t, first.Close())

	appendDocs(t, logPath, domain.Document{URL: "c", FullText: "ssh", Timestamp: 1})

	cfg.Ingest.Start = config.StartResume
	second := runOnce(t, cfg, logPath)

	snap := second.pipeline.Snapshot()
	assert.Equal(t, []domain.WordTotal{{Word: "ssh", Count: 4}}, aggregator.Totals(snap.Rows, 0))
	assert.Equal(t, 3, second.vectors.Count())
	assert.Equal(t, int64(1), second.pipeline.Stats().Documents, "only the appended document is read")
}

func TestEngineReplayClearsPersistedState(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "stream.jsonl")
	cfg := testConfig(dir)

	appendDocs(t, logPath, domain.Document{URL: "a", FullText: "rce in chrome", Timestamp: 0})
	first := runOnce(t, cfg, logPath)
	require.NoError(t, first.Close())

	second := runOnce(t, cfg, logPath)
	assert.Equal(t, 1, second.vectors.Count())
	assert.Equal(t, []domain.WordTotal{{Word: "chrome", Count: 1}, {Word: "rce", Count: 1}},
		aggregator.Totals(second.pipeline.Snapshot().Rows, 0))
}

func TestEngineWithoutStore(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "stream.jsonl")
	cfg := testConfig(dir)
	cfg.Store.Path = ""
	cfg.Sink.Format = "sqlite"
	cfg.Sink.Path = filepath.Join(dir, "alerts.db")
	cfg.Retrieve.CacheSize = 8

	appendDocs(t, logPath, domain.Document{URL: "a", FullText: "uefi rootkit", Timestamp: 0})
	eng := runOnce(t, cfg, logPath)

	rows, err := fs.LoadSnapshots(context.Background(), cfg.Sink.Path, "sqlite")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	for i := 0; i < 2; i++ {
		results, err := eng.retrieve.Retrieve(context.Background(), "rootkit", 3)
		require.NoError(t, err)
		assert.Len(t, results, 1)
	}
}

func TestResolvePath(t *testing.T) {
	old := rootDir
	defer func() { rootDir = old }()
	rootDir = "/srv/feeds"

	assert.Equal(t, "", resolvePath(""))
	assert.Equal(t, "/abs/log.jsonl", resolvePath("/abs/log.jsonl"))
	assert.Equal(t, filepath.Join("/srv/feeds", "live_alerts.csv"), resolvePath("live_alerts.csv"))
}
