package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// LogMetadata is the first JSON line in each log file.
type LogMetadata struct {
	RunID     string `json:"run_id"`
	ModelID   string `json:"model_id,omitempty"`
	StartedAt string `json:"started_at"`
}

// LogEntry is a single JSON log line written after the metadata line.
type LogEntry struct {
	Timestamp string         `json:"ts"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// LogWriter abstracts a secondary destination for log entries.
type LogWriter interface {
	Write(level Level, msg string, attrs map[string]any)
	Close()
}

// FileLogWriter appends structured log lines to <dir>/<runID>.jsonl.
type FileLogWriter struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileLogWriter creates dir if needed, opens the run's log file and writes
// the metadata line.
func NewFileLogWriter(dir, runID, modelID string) (*FileLogWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("log writer: mkdir %q: %w", dir, err)
	}

	path := filepath.Join(dir, runID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("log writer: open %q: %w", path, err)
	}

	meta, err := sonic.Marshal(LogMetadata{
		RunID:     runID,
		ModelID:   modelID,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("log writer: marshal metadata: %w", err)
	}
	if _, err := f.Write(append(meta, '\n')); err != nil {
		f.Close()
		return nil, fmt.Errorf("log writer: write metadata: %w", err)
	}

	return &FileLogWriter{file: f}, nil
}

// Write appends one entry. Marshal failures drop the entry.
func (w *FileLogWriter) Write(level Level, msg string, attrs map[string]any) {
	data, err := sonic.Marshal(LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   msg,
		Attrs:     StringifyErrors(attrs),
	})
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.file.Write(append(data, '\n'))
	}
}

// Close closes the underlying file. Further writes are ignored.
func (w *FileLogWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
}

// StringifyErrors replaces error values with their message; errors marshal
// to {} otherwise.
func StringifyErrors(attrs map[string]any) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if err, ok := v.(error); ok {
			out[k] = err.Error()
			continue
		}
		out[k] = v
	}
	return out
}

// NewTeeLogger creates a Logger that sends every entry to both the base
// logger's handler and writer. Child loggers created via With() inherit this.
func NewTeeLogger(base *Logger, writer LogWriter) *Logger {
	minLevel := LevelInfo
	if base != nil {
		minLevel = base.minLevel
	}
	handler := func(level Level, msg string, attrs map[string]any) {
		if base != nil && base.handlerFunc != nil {
			base.handlerFunc(level, msg, attrs)
		}
		writer.Write(level, msg, attrs)
	}
	return NewLogger(handler, minLevel)
}

type multiLogWriter []LogWriter

// MultiLogWriter duplicates every entry to each non-nil writer.
func MultiLogWriter(writers ...LogWriter) LogWriter {
	var out multiLogWriter
	for _, w := range writers {
		if w != nil {
			out = append(out, w)
		}
	}
	return out
}

func (m multiLogWriter) Write(level Level, msg string, attrs map[string]any) {
	for _, w := range m {
		w.Write(level, msg, attrs)
	}
}

func (m multiLogWriter) Close() {
	for _, w := range m {
		w.Close()
	}
}
