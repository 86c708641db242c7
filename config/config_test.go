package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if len(cfg.Keywords.Vocabulary) != 41 {
		t.Errorf("expected 41 vocabulary terms, got %d", len(cfg.Keywords.Vocabulary))
	}
	if cfg.Retrieve.DefaultK != 3 {
		t.Errorf("expected DefaultK=3, got %d", cfg.Retrieve.DefaultK)
	}
	if cfg.Ingest.Start != StartReplay {
		t.Errorf("expected Start=replay, got %s", cfg.Ingest.Start)
	}
	if cfg.Sink.Path != "live_alerts.csv" {
		t.Errorf("expected Sink.Path=live_alerts.csv, got %s", cfg.Sink.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Errorf("expected no error for non-existent file, got %v", err)
	}
	if cfg == nil {
		t.Error("expected default config, got nil")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "threatfeed.yaml")

	content := `
ingest:
  log_path: /var/feeds/stream.jsonl
  poll_interval: 250ms
keywords:
  vocabulary: [kernel, heap]
retrieve:
  default_k: 5
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Ingest.LogPath != "/var/feeds/stream.jsonl" {
		t.Errorf("expected LogPath=/var/feeds/stream.jsonl, got %s", cfg.Ingest.LogPath)
	}
	if cfg.Ingest.PollInterval != 250*time.Millisecond {
		t.Errorf("expected PollInterval=250ms, got %v", cfg.Ingest.PollInterval)
	}
	if len(cfg.Keywords.Vocabulary) != 2 {
		t.Errorf("expected 2 vocabulary terms, got %v", cfg.Keywords.Vocabulary)
	}
	if cfg.Retrieve.DefaultK != 5 {
		t.Errorf("expected DefaultK=5, got %d", cfg.Retrieve.DefaultK)
	}
	// untouched sections keep defaults
	if cfg.Embedding.Dimension != 384 {
		t.Errorf("expected Dimension=384, got %d", cfg.Embedding.Dimension)
	}
}

func TestLoad_ValidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "threatfeed.toml")

	content := `
[sink]
format = "sqlite"
path = "alerts.db"

[embedding]
provider = "mock"
dimension = 16
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sink.Format != "sqlite" {
		t.Errorf("expected Format=sqlite, got %s", cfg.Sink.Format)
	}
	if cfg.Embedding.Dimension != 16 {
		t.Errorf("expected Dimension=16, got %d", cfg.Embedding.Dimension)
	}
}

func TestLoadFromDir(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "threatfeed.yaml")

	content := `
sink:
  path: out/alerts.csv
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Sink.Path != "out/alerts.csv" {
		t.Errorf("expected Sink.Path=out/alerts.csv, got %s", cfg.Sink.Path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty vocabulary", func(c *Config) { c.Keywords.Vocabulary = nil }},
		{"bounded retention", func(c *Config) { c.Aggregate.Retention = "24h" }},
		{"resume without store", func(c *Config) { c.Ingest.Start = StartResume }},
		{"unknown start", func(c *Config) { c.Ingest.Start = "tail" }},
		{"unknown sink", func(c *Config) { c.Sink.Format = "parquet" }},
		{"zero dimension", func(c *Config) { c.Embedding.Dimension = 0 }},
		{"k above max", func(c *Config) { c.Retrieve.DefaultK = 100 }},
	}

	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mutate(cfg)
		err := cfg.Validate()
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: expected ErrInvalidConfig, got %v", tt.name, err)
		}
	}

	cfg := DefaultConfig()
	cfg.Ingest.Start = StartResume
	cfg.Store.Path = "state.db"
	if err := cfg.Validate(); err != nil {
		t.Errorf("resume with store path should validate, got %v", err)
	}
}

func TestStatePath(t *testing.T) {
	path := StatePath("/home/user/project")
	expected := filepath.Join("/home/user/project", ".threatfeed", "state.db")
	if path != expected {
		t.Errorf("expected %s, got %s", expected, path)
	}
}
