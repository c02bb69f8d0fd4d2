package core

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level orders log severities; entries below the logger's minimum are dropped.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel maps a name such as "debug" or "WARN" to a Level. Unknown names
// yield LevelInfo.
func ParseLevel(name string) Level {
	for lvl, n := range levelNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return lvl
		}
	}
	return LevelInfo
}

var (
	loggerMu       sync.RWMutex
	loggerInstance = NewDevelopmentLogger(os.Stdout, LevelInfo)
)

// SetLogger sets the global logger instance
func SetLogger(logger *Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	loggerInstance = logger
}

// GetLogger retrieves the global logger instance
func GetLogger() *Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return loggerInstance
}

// HandlerFunc receives every entry that passes the level filter.
type HandlerFunc func(level Level, msg string, attrs map[string]any)

type Logger struct {
	handlerFunc HandlerFunc
	minLevel    Level
	attrs       map[string]any
}

func NewLogger(handler HandlerFunc, minLevel Level) *Logger {
	return &Logger{
		handlerFunc: handler,
		minLevel:    minLevel,
		attrs:       make(map[string]any),
	}
}

// NewDevelopmentLogger writes one human-readable line per entry to out.
func NewDevelopmentLogger(out *os.File, minLevel Level) *Logger {
	var mu sync.Mutex
	handler := func(level Level, msg string, attrs map[string]any) {
		line := formatLine(time.Now(), level, msg, attrs)
		mu.Lock()
		defer mu.Unlock()
		if level >= LevelError && out == os.Stdout {
			fmt.Fprint(os.Stderr, line)
			return
		}
		fmt.Fprint(out, line)
	}
	return NewLogger(handler, minLevel)
}

// NewNopLogger discards everything. Tests use it to keep output quiet.
func NewNopLogger() *Logger {
	return NewLogger(nil, LevelError+1)
}

func formatLine(ts time.Time, level Level, msg string, attrs map[string]any) string {
	var b strings.Builder
	b.WriteString(ts.Format(time.RFC3339))
	b.WriteString(" [")
	b.WriteString(level.String())
	b.WriteString("] ")
	b.WriteString(msg)
	if len(attrs) > 0 {
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, attrs[k])
		}
	}
	b.WriteByte('\n')
	return b.String()
}

func (l *Logger) log(level Level, msg string, args ...any) {
	if l == nil || l.handlerFunc == nil || level < l.minLevel {
		return
	}
	if len(args) > 0 {
		// Detect slog-style key-value pairs: even number of args where
		// odd-positioned args (keys) are strings.
		if isKeyValuePairs(args) {
			attrs := make(map[string]any, len(l.attrs)+len(args)/2)
			for k, v := range l.attrs {
				attrs[k] = v
			}
			for i := 0; i < len(args)-1; i += 2 {
				key, _ := args[i].(string)
				attrs[key] = args[i+1]
			}
			l.handlerFunc(level, msg, attrs)
			return
		}
		msg = fmt.Sprintf(msg, args...)
	}
	l.handlerFunc(level, msg, l.attrs)
}

// isKeyValuePairs returns true if args look like slog-style key-value pairs:
// even count and every key (even index) is a string.
func isKeyValuePairs(args []any) bool {
	if len(args)%2 != 0 {
		return false
	}
	for i := 0; i < len(args); i += 2 {
		if _, ok := args[i].(string); !ok {
			return false
		}
	}
	return true
}

func (l *Logger) Trace(msg string, args ...any) { l.log(LevelTrace, msg, args...) }
func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, msg, args...) }

func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, format, args...) }

// With returns a child logger carrying attrs on every entry.
func (l *Logger) With(attrs map[string]any) *Logger {
	if l == nil {
		return nil
	}
	combined := make(map[string]any, len(l.attrs)+len(attrs))
	for k, v := range l.attrs {
		combined[k] = v
	}
	for k, v := range attrs {
		combined[k] = v
	}
	return &Logger{
		handlerFunc: l.handlerFunc,
		minLevel:    l.minLevel,
		attrs:       combined,
	}
}

// Enabled reports whether entries at level would be emitted.
func (l *Logger) Enabled(level Level) bool {
	return l != nil && l.handlerFunc != nil && level >= l.minLevel
}

// OrDefault returns l, or the global logger when l is nil.
func (l *Logger) OrDefault() *Logger {
	if l == nil {
		return GetLogger()
	}
	return l
}
