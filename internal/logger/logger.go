// Package logger provides leveled diagnostics for threatfeed.
// Messages go to stderr as "[LEVEL] message" lines; the minimum level
// comes from logging.level or the --log-level flag.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a logging severity.
type Level int

// Supported levels, lowest first.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu     sync.RWMutex
	level            = LevelInfo
	output io.Writer = os.Stderr
)

// ParseLevel converts a config string to a Level. Unknown values map to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// SetLevel sets the minimum level that is written.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// SetOutput sets the output writer. Defaults to os.Stderr. Useful for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

func logf(l Level, format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if l < level {
		return
	}
	fmt.Fprintf(output, "%s [%s] %s\n", time.Now().Format(time.RFC3339), l, fmt.Sprintf(format, args...))
}

// Debug logs a debug message.
func Debug(format string, args ...any) { logf(LevelDebug, format, args...) }

// Info logs an informational message.
func Info(format string, args ...any) { logf(LevelInfo, format, args...) }

// Warn logs a warning.
func Warn(format string, args ...any) { logf(LevelWarn, format, args...) }

// Error logs an error.
func Error(format string, args ...any) { logf(LevelError, format, args...) }
