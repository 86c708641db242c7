package fs

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"threatfeed/internal/adapter/sink"
	"threatfeed/internal/domain"
	"threatfeed/internal/logger"
)

// ErrNoSnapshot is returned when a path resolves to no snapshot files.
var ErrNoSnapshot = errors.New("no snapshot found")

// Resolve expands a snapshot location into file paths: a file is itself,
// a directory yields every CSV under it, anything with glob metacharacters
// is matched with doublestar. Results are sorted.
func Resolve(location string) ([]string, error) {
	var paths []string

	if strings.ContainsAny(location, "*?[{") {
		matches, err := doublestar.FilepathGlob(location)
		if err != nil {
			return nil, fmt.Errorf("failed to expand %s: %w", location, err)
		}
		paths = matches
	} else {
		info, err := os.Stat(location)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, location)
			}
			return nil, err
		}
		if !info.IsDir() {
			return []string{location}, nil
		}
		tables, err := findTables(location, tablePattern)
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", location, err)
		}
		for _, f := range tables {
			paths = append(paths, f.Path)
		}
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, location)
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadCSV parses a word,count,bucket table. Columns are located by
// header name, so column order does not matter. Rows with non-integer
// values are skipped.
func ReadCSV(r io.Reader) ([]domain.AggregateRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, want := range sink.Header {
		if _, ok := cols[want]; !ok {
			return nil, fmt.Errorf("snapshot header missing column %q", want)
		}
	}

	var rows []domain.AggregateRecord
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}
		get := func(name string) string {
			if i := cols[name]; i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		count, err := strconv.ParseInt(get("count"), 10, 64)
		if err != nil {
			logger.Debug("snapshot line %d: skipping invalid count %q", line, get("count"))
			continue
		}
		bucket, err := strconv.ParseInt(get("bucket"), 10, 64)
		if err != nil {
			logger.Debug("snapshot line %d: skipping invalid bucket %q", line, get("bucket"))
			continue
		}
		rows = append(rows, domain.AggregateRecord{Word: get("word"), Count: count, Bucket: bucket})
	}
	return rows, nil
}

// ReadCSVFile opens and parses one CSV snapshot.
func ReadCSVFile(path string) ([]domain.AggregateRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// LoadSnapshots reads every table at location and concatenates the rows.
// format "sqlite" reads a single database file instead.
func LoadSnapshots(ctx context.Context, location, format string) ([]domain.AggregateRecord, error) {
	if format == "sqlite" {
		rows, err := sink.ReadSQLite(ctx, location)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, location)
			}
			return nil, err
		}
		return rows, nil
	}

	paths, err := Resolve(location)
	if err != nil {
		return nil, err
	}
	var all []domain.AggregateRecord
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := ReadCSVFile(p)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}
	return all, nil
}
