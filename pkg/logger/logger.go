// Package logger is a thin structured-logging layer over zerolog. Errors,
// and optionally warnings, can also be folded into a LogCollector that
// ships de-duplicated digests to a Publisher.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Logger struct {
	zl        zerolog.Logger
	collector *atomic.Pointer[LogCollector]
}

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr or a file path
	TimeFormat string
	Service    string // added to every line when set
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	out, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	tf := cfg.TimeFormat
	if tf == "" {
		tf = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = tf
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	zctx := zerolog.New(out).Level(level).With().Timestamp().CallerWithSkipFrameCount(3)
	if cfg.Service != "" {
		zctx = zctx.Str("service", cfg.Service)
	}
	return &Logger{zl: zctx.Logger(), collector: new(atomic.Pointer[LogCollector])}, nil
}

func openOutput(dest string) (io.Writer, error) {
	switch dest {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(dest, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// NewNop discards everything.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop(), collector: new(atomic.Pointer[LogCollector])}
}

// NewWriter logs JSON to w at debug level. Used by tests that assert on output.
func NewWriter(w io.Writer) *Logger {
	return &Logger{zl: zerolog.New(w).Level(zerolog.DebugLevel), collector: new(atomic.Pointer[LogCollector])}
}

// With returns a child logger that carries fields and shares the collector.
func (l *Logger) With(fields ...Field) *Logger {
	zctx := l.zl.With()
	for _, f := range fields {
		zctx = zctx.Interface(f.Key, f.value())
	}
	return &Logger{zl: zctx.Logger(), collector: l.collector}
}

func (l *Logger) emit(ev *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		f.addTo(ev)
	}
	ev.Msg(msg)
}

func (l *Logger) Debug(msg string, fields ...Field) { l.emit(l.zl.Debug(), msg, fields) }

func (l *Logger) Info(msg string, fields ...Field) { l.emit(l.zl.Info(), msg, fields) }

func (l *Logger) Warn(msg string, fields ...Field) {
	l.emit(l.zl.Warn(), msg, fields)
	if c := l.collector.Load(); c != nil && c.config.IncludeWarn {
		c.AddLog("warn", msg, fieldMap(fields), callerOf(2))
	}
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.emit(l.zl.Error(), msg, fields)
	if c := l.collector.Load(); c != nil {
		c.AddLog("error", msg, fieldMap(fields), callerOf(2))
	}
}

// AddCollector replaces any running collector.
func (l *Logger) AddCollector(cfg *CollectionConfig) {
	if old := l.collector.Swap(NewLogCollector(cfg)); old != nil {
		old.Close()
	}
}

// RemoveCollector flushes and stops the collector.
func (l *Logger) RemoveCollector() {
	if old := l.collector.Swap(nil); old != nil {
		old.Close()
	}
}

func callerOf(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	return filepath.Base(filepath.Dir(file)) + "/" + filepath.Base(file) + ":" + strconv.Itoa(line)
}

func fieldMap(fields []Field) map[string]interface{} {
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Key] = f.value()
	}
	return m
}

type fieldKind uint8

const (
	kindString fieldKind = iota
	kindInt
	kindFloat
	kindBool
	kindTime
	kindError
	kindAny
)

// Field is one key/value pair on a log line.
type Field struct {
	Key  string
	kind fieldKind
	s    string
	i    int64
	f    float64
	t    time.Time
	err  error
	any  interface{}
}

func (f Field) addTo(ev *zerolog.Event) {
	switch f.kind {
	case kindString:
		ev.Str(f.Key, f.s)
	case kindInt:
		ev.Int64(f.Key, f.i)
	case kindFloat:
		ev.Float64(f.Key, f.f)
	case kindBool:
		ev.Bool(f.Key, f.i != 0)
	case kindTime:
		ev.Time(f.Key, f.t)
	case kindError:
		ev.AnErr(f.Key, f.err)
	default:
		ev.Interface(f.Key, f.any)
	}
}

// value is the form stored in collector digests.
func (f Field) value() interface{} {
	switch f.kind {
	case kindString:
		return f.s
	case kindInt:
		return f.i
	case kindFloat:
		return f.f
	case kindBool:
		return f.i != 0
	case kindTime:
		return f.t.Format(time.RFC3339)
	case kindError:
		if f.err == nil {
			return nil
		}
		return f.err.Error()
	default:
		return f.any
	}
}

func String(key, value string) Field { return Field{Key: key, kind: kindString, s: value} }

func Strings(key string, value []string) Field {
	return Field{Key: key, kind: kindString, s: strings.Join(value, ",")}
}

func Int(key string, value int) Field { return Field{Key: key, kind: kindInt, i: int64(value)} }

func Int64(key string, value int64) Field { return Field{Key: key, kind: kindInt, i: value} }

func Float64(key string, value float64) Field { return Field{Key: key, kind: kindFloat, f: value} }

func Bool(key string, value bool) Field {
	f := Field{Key: key, kind: kindBool}
	if value {
		f.i = 1
	}
	return f
}

func Error(err error) Field { return Field{Key: "error", kind: kindError, err: err} }

// Duration logs whole milliseconds.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, kind: kindInt, i: value.Milliseconds()}
}

func Time(key string, value time.Time) Field { return Field{Key: key, kind: kindTime, t: value} }

// Date logs only the calendar day of value.
func Date(key string, value time.Time) Field {
	return Field{Key: key, kind: kindString, s: value.Format("2006-01-02")}
}

func Any(key string, value interface{}) Field { return Field{Key: key, kind: kindAny, any: value} }
