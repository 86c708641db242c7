package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// RetentionUnbounded is the only supported aggregate retention policy.
const RetentionUnbounded = "unbounded"

// Restart modes for the ingestion reader.
const (
	StartReplay = "replay"
	StartResume = "resume"
)

// Config holds all configuration for threatfeed.
type Config struct {
	Ingest    IngestConfig    `yaml:"ingest" toml:"ingest"`
	Keywords  KeywordsConfig  `yaml:"keywords" toml:"keywords"`
	Aggregate AggregateConfig `yaml:"aggregate" toml:"aggregate"`
	Sink      SinkConfig      `yaml:"sink" toml:"sink"`
	Embedding EmbeddingConfig `yaml:"embedding" toml:"embedding"`
	Index     IndexConfig     `yaml:"index" toml:"index"`
	Store     StoreConfig     `yaml:"store" toml:"store"`
	Retrieve  RetrieveConfig  `yaml:"retrieve" toml:"retrieve"`
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Pipeline  PipelineConfig  `yaml:"pipeline" toml:"pipeline"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// IngestConfig controls how the document log is tailed.
type IngestConfig struct {
	LogPath      string        `yaml:"log_path" toml:"log_path"`
	PollInterval time.Duration `yaml:"poll_interval" toml:"poll_interval"`
	MaxLineBytes int           `yaml:"max_line_bytes" toml:"max_line_bytes"`
	Start        string        `yaml:"start" toml:"start"` // "replay" or "resume"
}

// KeywordsConfig holds the fixed keyword vocabulary.
type KeywordsConfig struct {
	Vocabulary []string `yaml:"vocabulary" toml:"vocabulary"`
}

// AggregateConfig holds time-bucket aggregation settings.
type AggregateConfig struct {
	Retention        string `yaml:"retention" toml:"retention"`
	KeyWarnThreshold int    `yaml:"key_warn_threshold" toml:"key_warn_threshold"`
}

// SinkConfig controls snapshot publication.
type SinkConfig struct {
	Format   string        `yaml:"format" toml:"format"` // "csv" or "sqlite"
	Path     string        `yaml:"path" toml:"path"`
	Interval time.Duration `yaml:"interval" toml:"interval"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider" toml:"provider"` // "hash", "ollama", "openai", "mock"
	Model             string        `yaml:"model" toml:"model"`
	BaseURL           string        `yaml:"base_url" toml:"base_url"`
	APIKeyEnv         string        `yaml:"api_key_env" toml:"api_key_env"`
	Dimension         int           `yaml:"dimension" toml:"dimension"`
	MaxInputChars     int           `yaml:"max_input_chars" toml:"max_input_chars"`
	Timeout           time.Duration `yaml:"timeout" toml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int           `yaml:"burst" toml:"burst"`
}

// IndexConfig holds embedding indexer settings.
type IndexConfig struct {
	Workers      int `yaml:"workers" toml:"workers"`
	MaxTextChars int `yaml:"max_text_chars" toml:"max_text_chars"`
}

// StoreConfig points at the optional durable state file.
type StoreConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	DefaultK  int           `yaml:"default_k" toml:"default_k"`
	MaxK      int           `yaml:"max_k" toml:"max_k"`
	MinScore  float64       `yaml:"min_score" toml:"min_score"` // Filter results below this score (0 = disabled)
	CacheSize int           `yaml:"cache_size" toml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl" toml:"cache_ttl"`
	Endpoint  string        `yaml:"endpoint" toml:"endpoint"`
	Timeout   time.Duration `yaml:"timeout" toml:"timeout"`
}

// ServerConfig holds retrieval server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr" toml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// PipelineConfig sizes the queues between pipeline stages.
type PipelineConfig struct {
	QueueSize int `yaml:"queue_size" toml:"queue_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
}

// DefaultVocabulary is the built-in security keyword set.
func DefaultVocabulary() []string {
	return []string{
		"buffer", "overflow", "heap", "stack", "rop", "shellcode", "uaf", "free",
		"kernel", "driver", "dma", "ebpf", "kvm", "hypervisor", "rootkit", "boot",
		"firmware", "bios", "uefi", "ring0",
		"cve", "zeroday", "0day", "rce", "lpe", "bypass", "injection",
		"linux", "windows", "android", "ios", "chrome", "ssh", "ssl", "tls",
		"exploit", "malware", "ransomware", "privesc", "sandbox", "xss",
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Ingest: IngestConfig{
			LogPath:      "stream_buffer.jsonl",
			PollInterval: 500 * time.Millisecond,
			MaxLineBytes: 8 << 20,
			Start:        StartReplay,
		},
		Keywords: KeywordsConfig{
			Vocabulary: DefaultVocabulary(),
		},
		Aggregate: AggregateConfig{
			Retention:        RetentionUnbounded,
			KeyWarnThreshold: 1_000_000,
		},
		Sink: SinkConfig{
			Format:   "csv",
			Path:     "live_alerts.csv",
			Interval: time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider:          "hash",
			Model:             "nomic-embed-text",
			APIKeyEnv:         "OPENAI_API_KEY",
			Dimension:         384,
			MaxInputChars:     8000,
			Timeout:           30 * time.Second,
			RequestsPerSecond: 10,
			Burst:             1,
		},
		Index: IndexConfig{
			Workers:      2,
			MaxTextChars: 0,
		},
		Retrieve: RetrieveConfig{
			DefaultK: 3,
			MaxK:     50,
			CacheTTL: time.Minute,
			Endpoint: "http://localhost:9000/v1/retrieve",
			Timeout:  5 * time.Second,
		},
		Server: ServerConfig{
			Addr:            "0.0.0.0:9000",
			ShutdownTimeout: 5 * time.Second,
		},
		Pipeline: PipelineConfig{
			QueueSize: 1024,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML or TOML file (chosen by extension).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir loads configuration from a directory.
func LoadFromDir(dir string) (*Config, error) {
	candidates := []string{
		filepath.Join(dir, "threatfeed.yaml"),
		filepath.Join(dir, "threatfeed.toml"),
		filepath.Join(dir, ".threatfeed", "config.yaml"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks values that cannot be defaulted silently.
func (c *Config) Validate() error {
	if len(c.Keywords.Vocabulary) == 0 {
		return fmt.Errorf("%w: keywords.vocabulary is empty", ErrInvalidConfig)
	}
	if c.Aggregate.Retention != RetentionUnbounded {
		return fmt.Errorf("%w: aggregate.retention must be %q, got %q", ErrInvalidConfig, RetentionUnbounded, c.Aggregate.Retention)
	}
	switch c.Ingest.Start {
	case StartReplay:
	case StartResume:
		if c.Store.Path == "" {
			return fmt.Errorf("%w: ingest.start=resume requires store.path", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: ingest.start must be %q or %q, got %q", ErrInvalidConfig, StartReplay, StartResume, c.Ingest.Start)
	}
	switch c.Sink.Format {
	case "csv", "sqlite":
	default:
		return fmt.Errorf("%w: unsupported sink.format %q", ErrInvalidConfig, c.Sink.Format)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("%w: embedding.dimension must be positive", ErrInvalidConfig)
	}
	if c.Retrieve.DefaultK <= 0 || c.Retrieve.MaxK < c.Retrieve.DefaultK {
		return fmt.Errorf("%w: retrieve.default_k must be in [1, max_k]", ErrInvalidConfig)
	}
	return nil
}

// StatePath returns the default durable state path inside dir.
func StatePath(dir string) string {
	return filepath.Join(dir, ".threatfeed", "state.db")
}

// EnsureStateDir ensures the parent directory of the state file exists.
func EnsureStateDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}
