// Package ingest tails the append-only document log.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oklog/ulid/v2"

	"threatfeed/internal/domain"
	"threatfeed/internal/logger"
	"threatfeed/internal/port"
)

var _ port.DocumentSource = (*Reader)(nil)

// Default configuration values.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultMaxLineBytes = 8 << 20
)

// Options configures a Reader.
type Options struct {
	// Path is the newline-delimited JSON log to read.
	Path string

	// Offset is the byte position to start from (0 replays the whole log).
	Offset int64

	// Follow keeps the reader waiting for appended lines instead of
	// returning at EOF.
	Follow bool

	// PollInterval is the fallback wakeup when no fs event arrives.
	PollInterval time.Duration

	// MaxLineBytes bounds a single line; longer lines are skipped.
	MaxLineBytes int
}

// Stats are cumulative reader counters.
type Stats struct {
	LinesRead int64
	Documents int64
	Malformed int64
	Offset    int64
}

// Reader decodes complete lines from the log in file order. A trailing
// line without a newline is left in place until it is terminated.
type Reader struct {
	opts    Options
	offset  int64
	entropy io.Reader

	lines     atomic.Int64
	docs      atomic.Int64
	malformed atomic.Int64
	pos       atomic.Int64
}

// NewReader creates a reader.
func NewReader(opts Options) *Reader {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	r := &Reader{
		opts:    opts,
		offset:  opts.Offset,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	r.pos.Store(opts.Offset)
	return r
}

// Stats returns a snapshot of the counters.
func (r *Reader) Stats() Stats {
	return Stats{
		LinesRead: r.lines.Load(),
		Documents: r.docs.Load(),
		Malformed: r.malformed.Load(),
		Offset:    r.pos.Load(),
	}
}

// Run emits documents to out until ctx is cancelled. When not following
// it returns nil once the complete lines present at EOF are consumed.
// Run does not close out.
func (r *Reader) Run(ctx context.Context, out chan<- domain.Document) error {
	var events <-chan fsnotify.Event
	if r.opts.Follow {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			logger.Warn("ingest: fsnotify unavailable, polling only: %v", err)
		} else {
			defer watcher.Close()
			if err := watcher.Add(filepath.Dir(r.opts.Path)); err != nil {
				logger.Warn("ingest: cannot watch %s, polling only: %v", filepath.Dir(r.opts.Path), err)
			} else {
				events = watcher.Events
			}
		}
	}

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	target := filepath.Clean(r.opts.Path)
	for {
		if err := r.drain(ctx, out); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !r.opts.Follow {
				return err
			}
			logger.Warn("ingest: %v", err)
		}
		if !r.opts.Follow {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
		case <-ticker.C:
		}
	}
}

// drain reads every complete line currently past the offset.
func (r *Reader) drain(ctx context.Context, out chan<- domain.Document) error {
	f, err := os.Open(r.opts.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil // producer has not created it yet
		}
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat log: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("log path %s is a directory", r.opts.Path)
	}
	if info.Size() < r.offset {
		logger.Warn("ingest: %s shrank to %d bytes (offset %d), restarting from 0", r.opts.Path, info.Size(), r.offset)
		r.setOffset(0)
	}
	if info.Size() == r.offset {
		return nil
	}
	if _, err := f.Seek(r.offset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek log: %w", err)
	}

	br := bufio.NewReaderSize(f, 64*1024)
	for {
		line, n, complete, err := r.readLine(br)
		if !complete {
			// EOF inside a partial line: leave it for the next pass
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("failed to read log: %w", err)
			}
			return nil
		}
		next := r.offset + n
		r.lines.Add(1)

		if line == nil {
			logger.Warn("ingest: skipping line at offset %d longer than %d bytes", r.offset, r.opts.MaxLineBytes)
			r.malformed.Add(1)
			r.setOffset(next)
			continue
		}
		if len(bytes.TrimSpace(line)) == 0 {
			r.setOffset(next)
			continue
		}

		doc, err := Decode(line)
		if err != nil {
			logger.Warn("ingest: skipping malformed line at offset %d: %v", r.offset, err)
			r.malformed.Add(1)
			r.setOffset(next)
			continue
		}
		doc.ID = ulid.MustNew(ulid.Timestamp(time.Now()), r.entropy).String()
		doc.Offset = next

		select {
		case out <- doc:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.docs.Add(1)
		r.setOffset(next)
	}
}

// readLine returns one newline-terminated line and the bytes it spans. An
// oversized line is consumed but returned as nil. complete is false when
// EOF (or an error) is hit before the newline.
func (r *Reader) readLine(br *bufio.Reader) (line []byte, n int64, complete bool, err error) {
	var buf []byte
	oversized := false
	for {
		chunk, err := br.ReadSlice('\n')
		n += int64(len(chunk))
		if !oversized {
			if len(buf)+len(chunk) > r.opts.MaxLineBytes+1 {
				oversized = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		switch {
		case err == nil:
			if oversized {
				return nil, n, true, nil
			}
			return buf, n, true, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return nil, n, false, err
		}
	}
}

func (r *Reader) setOffset(off int64) {
	r.offset = off
	r.pos.Store(off)
}
