package subflow

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
)

// Logger is the logging contract used across the pipeline. Messages are
// printf-style.
type Logger interface {
	Trace(msg string, args ...any)
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Fatal(msg string, args ...any)
	WithContext(ctx context.Context) Logger
}

// FieldsLogger is implemented by loggers that carry structured fields.
type FieldsLogger interface {
	WithFields(map[string]any) Logger
}

// Level orders log severities.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = [...]string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l Level) String() string {
	if l < LevelTrace || l > LevelFatal {
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
	return levelNames[l]
}

// FmtLogger writes plain text lines. It is the logger used when callers do
// not bring their own.
type FmtLogger struct {
	sink   *lineSink
	min    Level
	ctx    context.Context
	fields map[string]any
}

type lineSink struct {
	mu  sync.Mutex
	out io.Writer
}

// FmtOption configures a FmtLogger.
type FmtOption func(*FmtLogger)

// WithMinLevel drops entries below min.
func WithMinLevel(min Level) FmtOption {
	return func(l *FmtLogger) {
		l.min = min
	}
}

// NewFmtLogger creates a logger writing to out, or stderr when out is nil.
func NewFmtLogger(out io.Writer, opts ...FmtOption) *FmtLogger {
	if out == nil {
		out = os.Stderr
	}
	l := &FmtLogger{sink: &lineSink{out: out}, ctx: context.Background()}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

func (l *FmtLogger) Trace(msg string, args ...any) { l.write(LevelTrace, msg, args) }
func (l *FmtLogger) Debug(msg string, args ...any) { l.write(LevelDebug, msg, args) }
func (l *FmtLogger) Info(msg string, args ...any)  { l.write(LevelInfo, msg, args) }
func (l *FmtLogger) Warn(msg string, args ...any)  { l.write(LevelWarn, msg, args) }
func (l *FmtLogger) Error(msg string, args ...any) { l.write(LevelError, msg, args) }
func (l *FmtLogger) Fatal(msg string, args ...any) { l.write(LevelFatal, msg, args) }

// WithContext returns a copy bound to ctx.
func (l *FmtLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		ctx = context.Background()
	}
	next := l.derive()
	next.ctx = ctx
	return next
}

// WithFields returns a copy carrying fields in addition to the current ones.
func (l *FmtLogger) WithFields(fields map[string]any) Logger {
	next := l.derive()
	next.fields = mergeFields(next.fields, fields)
	return next
}

func (l *FmtLogger) derive() *FmtLogger {
	if l == nil {
		return NewFmtLogger(nil)
	}
	cp := *l
	return &cp
}

func (l *FmtLogger) write(level Level, msg string, args []any) {
	if l == nil || level < l.min {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}

	var b strings.Builder
	b.WriteString(time.Now().UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, " %-5s %s", level, strings.TrimSpace(msg))
	if len(l.fields) > 0 {
		b.WriteByte(' ')
		b.WriteString(formatFields(l.fields))
	}
	b.WriteByte('\n')

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	_, _ = io.WriteString(l.sink.out, b.String())
}

// nopLogger drops everything.
type nopLogger struct{}

func (nopLogger) Trace(string, ...any)                  {}
func (nopLogger) Debug(string, ...any)                  {}
func (nopLogger) Info(string, ...any)                   {}
func (nopLogger) Warn(string, ...any)                   {}
func (nopLogger) Error(string, ...any)                  {}
func (nopLogger) Fatal(string, ...any)                  {}
func (n nopLogger) WithContext(context.Context) Logger { return n }

func normalizeLogger(logger Logger) Logger {
	if logger == nil {
		return nopLogger{}
	}
	return logger
}

// withLoggerFields attaches fields when the logger supports them and returns
// it unchanged otherwise.
func withLoggerFields(logger Logger, fields map[string]any) Logger {
	logger = normalizeLogger(logger)
	if fl, ok := logger.(FieldsLogger); ok {
		return fl.WithFields(fields)
	}
	return logger
}

func mergeFields(base, extra map[string]any) map[string]any {
	if len(base)+len(extra) == 0 {
		return nil
	}
	out := make(map[string]any, len(base)+len(extra))
	maps.Copy(out, base)
	maps.Copy(out, extra)
	return out
}

func formatFields(fields map[string]any) string {
	keys := slices.Sorted(maps.Keys(fields))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, fields[k])
	}
	return strings.Join(parts, " ")
}
