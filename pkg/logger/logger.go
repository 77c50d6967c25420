package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with typed fields and an optional collector that
// aggregates repeated errors for shipping elsewhere.
type Logger struct {
	zl        zerolog.Logger
	collector atomic.Pointer[LogCollector]
}

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr, or file path
	TimeFormat string
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	out, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = timeFormat

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
	}

	zl := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		CallerWithSkipFrameCount(4).
		Logger()
	return &Logger{zl: zl}, nil
}

func openOutput(target string) (io.Writer, error) {
	switch target {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", target, err)
	}
	return f, nil
}

// NewWithWriter builds a JSON logger on w. Used by the CLI and tests.
func NewWithWriter(w io.Writer, level string) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return &Logger{zl: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.write(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...Field) { l.write(l.zl.Info(), msg, fields) }

func (l *Logger) Warn(msg string, fields ...Field) {
	l.write(l.zl.Warn(), msg, fields)
	if c := l.collector.Load(); c != nil && c.config.Warnings {
		l.collect(c, zerolog.WarnLevel, msg, fields)
	}
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.write(l.zl.Error(), msg, fields)
	if c := l.collector.Load(); c != nil {
		l.collect(c, zerolog.ErrorLevel, msg, fields)
	}
}

func (l *Logger) write(e *zerolog.Event, msg string, fields []Field) {
	if e == nil {
		return
	}
	for _, f := range fields {
		f.apply(e)
	}
	e.Msg(msg)
}

// collect is called from Warn/Error, so the user frame is two levels up.
func (l *Logger) collect(c *LogCollector, level zerolog.Level, msg string, fields []Field) {
	caller := "unknown"
	if _, file, line, ok := runtime.Caller(2); ok {
		caller = fmt.Sprintf("%s/%s:%d", filepath.Base(filepath.Dir(file)), filepath.Base(file), line)
	}
	values := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		values[f.key] = f.plain()
	}
	c.AddLog(level.String(), msg, values, caller)
}

// AddCollector starts aggregating error logs, replacing any running collector.
// Publish failures are reported on this logger without re-entering the
// collector.
func (l *Logger) AddCollector(cfg *CollectionConfig) {
	l.RemoveCollector()
	c := NewLogCollector(cfg)
	c.onError = func(err error, entries int) {
		l.zl.Warn().Err(err).Int("entries", entries).Str("topic", cfg.Topic).Msg("log collector publish failed")
	}
	l.collector.Store(c)
}

// RemoveCollector flushes and stops the collector.
func (l *Logger) RemoveCollector() {
	if c := l.collector.Swap(nil); c != nil {
		c.Close()
	}
}

// Field is a typed key/value pair attached to a log line.
type Field struct {
	key string
	val interface{}
}

func (f Field) apply(e *zerolog.Event) {
	switch v := f.val.(type) {
	case nil:
	case string:
		e.Str(f.key, v)
	case int:
		e.Int(f.key, v)
	case int64:
		e.Int64(f.key, v)
	case float64:
		e.Float64(f.key, v)
	case bool:
		e.Bool(f.key, v)
	case []string:
		e.Strs(f.key, v)
	case error:
		e.AnErr(f.key, v)
	default:
		e.Interface(f.key, v)
	}
}

// plain returns the value in a JSON-friendly form for the collector.
func (f Field) plain() interface{} {
	if err, ok := f.val.(error); ok {
		return err.Error()
	}
	return f.val
}

func String(key, value string) Field { return Field{key, value} }
func Int(key string, value int) Field { return Field{key, value} }
func Int64(key string, value int64) Field { return Field{key, value} }
func Float64(key string, value float64) Field { return Field{key, value} }
func Bool(key string, value bool) Field { return Field{key, value} }
func Strings(key string, value []string) Field { return Field{key, value} }
func Any(key string, value interface{}) Field { return Field{key, value} }

// Error attaches err under the "error" key. A nil error is omitted.
func Error(err error) Field { return Field{"error", err} }

// Duration logs whole milliseconds.
func Duration(key string, value time.Duration) Field {
	return Field{key, value.Milliseconds()}
}
