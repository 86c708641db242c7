package sink

import (
	"fmt"

	"threatfeed/config"
	"threatfeed/internal/port"
)

// New opens the sink selected by cfg.Format.
func New(cfg config.SinkConfig) (port.SnapshotSink, error) {
	switch cfg.Format {
	case "", "csv":
		return NewCSVSink(cfg.Path)
	case "sqlite":
		return NewSQLiteSink(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown sink format: %s", cfg.Format)
	}
}
