package applog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxFileSize = 5 << 20 // 5 MB
	maxValueLen = 200
	truncSuffix = "…"
)

var (
	mu     sync.Mutex
	file   *os.File
	logger *zerolog.Logger
	debug  bool
)

// Init opens the log file for appending. Call once at startup.
// If the file exceeds 5 MB, it is rotated (renamed to .log.1) before opening.
// Safe to skip: all log calls are no-ops until then.
func Init(dir string) error {
	path := filepath.Join(dir, "threadsum.log")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// Rotate if too large.
	if info, err := os.Stat(path); err == nil && info.Size() > maxFileSize {
		os.Rename(path, path+".1")
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	mu.Lock()
	if file != nil {
		file.Close()
	}
	file = f
	setWriter(f)
	mu.Unlock()
	return nil
}

// InitWriter logs to w instead of a file. Used by --plain mode and tests.
func InitWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	setWriter(w)
}

// SetDebug enables Debug events.
func SetDebug(on bool) {
	mu.Lock()
	debug = on
	mu.Unlock()
}

func setWriter(w io.Writer) {
	zerolog.TimeFieldFormat = "2006-01-02T15:04:05.000Z07:00"
	l := zerolog.New(w).With().Timestamp().Logger()
	logger = &l
}

// Close flushes and closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		file.Close()
		file = nil
	}
	logger = nil
}

// Info logs a structured event line.
//
//	applog.Info("feed.connected", "remote", addr)
//	applog.Info("dispatch.sent", "id", 5, "attempt", 2)
func Info(event string, kv ...any) {
	write(zerolog.InfoLevel, event, nil, kv)
}

// Error logs an event with an error.
//
//	applog.Error("relay.write", err, "id", frameID)
func Error(event string, err error, kv ...any) {
	write(zerolog.ErrorLevel, event, err, kv)
}

// Debug logs high-volume events (ticks, discarded responses) when enabled.
func Debug(event string, kv ...any) {
	mu.Lock()
	on := debug
	mu.Unlock()
	if !on {
		return
	}
	write(zerolog.DebugLevel, event, nil, kv)
}

func write(level zerolog.Level, event string, err error, kv []any) {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		return
	}

	ev := logger.WithLevel(level).Str("event", event)
	if err != nil {
		ev = ev.Str("err", truncate(err.Error()))
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		switch v := kv[i+1].(type) {
		case int:
			ev = ev.Int(key, v)
		case int64:
			ev = ev.Int64(key, v)
		case uint64:
			ev = ev.Uint64(key, v)
		case bool:
			ev = ev.Bool(key, v)
		case time.Duration:
			ev = ev.Dur(key, v)
		default:
			ev = ev.Str(key, truncate(fmt.Sprint(v)))
		}
	}
	ev.Send()
}

func truncate(s string) string {
	if len(s) > maxValueLen {
		return s[:maxValueLen] + truncSuffix
	}
	return s
}
