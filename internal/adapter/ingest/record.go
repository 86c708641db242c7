package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"threatfeed/internal/domain"
)

// ErrMissingField is returned when a log line lacks a required field.
var ErrMissingField = errors.New("missing required field")

// record mirrors one input log line. Pointer fields distinguish absent
// from empty; extra scraper fields (headings, links, meta...) are ignored.
type record struct {
	URL        *string  `json:"url"`
	FullText   *string  `json:"full_text"`
	PageTitle  string   `json:"page_title"`
	Timestamp  *float64 `json:"timestamp"`
	SourceType string   `json:"source_type"`
}

// Decode parses and validates a single JSON line.
func Decode(line []byte) (domain.Document, error) {
	line = bytes.TrimSpace(line)
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return domain.Document{}, fmt.Errorf("failed to decode record: %w", err)
	}
	switch {
	case rec.URL == nil:
		return domain.Document{}, fmt.Errorf("%w: url", ErrMissingField)
	case rec.FullText == nil:
		return domain.Document{}, fmt.Errorf("%w: full_text", ErrMissingField)
	case rec.Timestamp == nil:
		return domain.Document{}, fmt.Errorf("%w: timestamp", ErrMissingField)
	}
	return domain.Document{
		URL:        *rec.URL,
		FullText:   *rec.FullText,
		Title:      rec.PageTitle,
		Timestamp:  *rec.Timestamp,
		SourceType: rec.SourceType,
	}, nil
}

// Encode renders a document as one log line (without the newline). The
// replay tests and the benchmark producer use it to write fixtures.
func Encode(doc domain.Document) ([]byte, error) {
	rec := record{
		URL:        &doc.URL,
		FullText:   &doc.FullText,
		PageTitle:  doc.Title,
		Timestamp:  &doc.Timestamp,
		SourceType: doc.SourceType,
	}
	return json.Marshal(rec)
}
