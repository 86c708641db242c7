// Package sink publishes aggregate snapshots for dashboards to poll.
package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"threatfeed/internal/domain"
	"threatfeed/internal/port"
)

var _ port.SnapshotSink = (*CSVSink)(nil)

// Header is the column order of every published table.
var Header = []string{"word", "count", "bucket"}

// CSVSink rewrites a CSV file on every publish. The new table is written
// to a temporary file in the same directory and renamed over the old one,
// so readers see either the previous table or the new one.
type CSVSink struct {
	path string
}

func NewCSVSink(path string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create sink directory: %w", err)
		}
	}
	return &CSVSink{path: path}, nil
}

func (s *CSVSink) Path() string {
	return s.path
}

func (s *CSVSink) Publish(ctx context.Context, rows []domain.AggregateRecord) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	record := make([]string, 3)
	for _, row := range rows {
		record[0] = row.Word
		record[1] = strconv.FormatInt(row.Count, 10)
		record[2] = strconv.FormatInt(row.Bucket, 10)
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

func (s *CSVSink) Close() error {
	return nil
}
