package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// levelFatal sits above slog.LevelError so handlers filter it like an error
const levelFatal = slog.Level(12)

// String returns string representation of log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) slog() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	case FatalLevel:
		return levelFatal
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a configuration string to a LogLevel, defaulting to InfoLevel
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	case "fatal":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// Format selects the handler used to render entries
type Format string

const (
	// FormatJSON writes one JSON object per line
	FormatJSON Format = "json"
	// FormatConsole writes colourised human-readable lines
	FormatConsole Format = "console"
)

// Fields represents structured log fields
type Fields map[string]interface{}

type contextKey int

const requestIDKey contextKey = iota

// WithRequestID stores a request ID that every entry logged with ctx carries
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom returns the request ID stored in ctx, if any
func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

var exit = os.Exit

// StructuredLogger provides structured logging with context on top of log/slog
type StructuredLogger struct {
	mu       sync.RWMutex
	level    *slog.LevelVar
	format   Format
	handler  slog.Handler
	service  string
	version  string
	hostname string
}

// NewStructuredLogger creates a new structured logger writing to stdout
func NewStructuredLogger(service, version string, level LogLevel, format Format) *StructuredLogger {
	hostname, _ := os.Hostname()

	lv := new(slog.LevelVar)
	lv.Set(level.slog())

	l := &StructuredLogger{
		level:    lv,
		format:   format,
		service:  service,
		version:  version,
		hostname: hostname,
	}
	l.handler = l.newHandler(os.Stdout)
	return l
}

func (l *StructuredLogger) newHandler(w io.Writer) slog.Handler {
	if l.format == FormatConsole {
		return tint.NewHandler(w, &tint.Options{
			Level:       l.level,
			TimeFormat:  time.Kitchen,
			ReplaceAttr: replaceLevel,
		})
	}

	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: l.level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				a.Key = "timestamp"
				a.Value = slog.TimeValue(a.Value.Time().UTC())
			case slog.MessageKey:
				a.Key = "message"
			}
			return replaceLevel(groups, a)
		},
	})
}

func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 || a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= levelFatal {
		a.Value = slog.StringValue(FatalLevel.String())
	}
	return a
}

// SetOutput sets the output destination for logs
func (l *StructuredLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = l.newHandler(w)
}

// SetLevel sets the minimum log level
func (l *StructuredLogger) SetLevel(level LogLevel) {
	l.level.Set(level.slog())
}

// Slog exposes the logger to libraries that accept a *slog.Logger
func (l *StructuredLogger) Slog() *slog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slog.New(l.handler).With("service", l.service)
}

// Debug logs a debug message with structured fields
func (l *StructuredLogger) Debug(ctx context.Context, message string, fields Fields) {
	l.log(ctx, DebugLevel, message, fields, nil)
}

// Info logs an info message with structured fields
func (l *StructuredLogger) Info(ctx context.Context, message string, fields Fields) {
	l.log(ctx, InfoLevel, message, fields, nil)
}

// Warn logs a warning message with structured fields
func (l *StructuredLogger) Warn(ctx context.Context, message string, fields Fields) {
	l.log(ctx, WarnLevel, message, fields, nil)
}

// Error logs an error message with structured fields and error details
func (l *StructuredLogger) Error(ctx context.Context, message string, fields Fields, err error) {
	l.log(ctx, ErrorLevel, message, fields, err)
}

// Fatal logs a fatal message and exits the program
func (l *StructuredLogger) Fatal(ctx context.Context, message string, fields Fields, err error) {
	l.log(ctx, FatalLevel, message, fields, err)
	exit(1)
}

func (l *StructuredLogger) log(ctx context.Context, level LogLevel, message string, fields Fields, err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	l.mu.RLock()
	handler := l.handler
	l.mu.RUnlock()

	if !handler.Enabled(ctx, level.slog()) {
		return
	}

	record := slog.NewRecord(time.Now(), level.slog(), message, 0)
	record.AddAttrs(
		slog.String("service", l.service),
		slog.String("version", l.version),
		slog.String("hostname", l.hostname),
	)

	if requestID := RequestIDFrom(ctx); requestID != "" {
		record.AddAttrs(slog.String("request_id", requestID))
	}

	if len(fields) > 0 {
		record.AddAttrs(fieldsGroup(fields))
	}

	// caller is the public method's caller: log <- Info/Error <- caller
	if level >= ErrorLevel {
		if pc, file, line, ok := runtime.Caller(2); ok {
			record.AddAttrs(slog.String("file", file), slog.Int("line", line))
			if fn := runtime.FuncForPC(pc); fn != nil {
				record.AddAttrs(slog.String("function", fn.Name()))
			}
		}

		if err != nil {
			record.AddAttrs(slog.String("error", err.Error()))
			if level == FatalLevel {
				record.AddAttrs(slog.String("stack_trace", captureStackTrace()))
			}
		}
	}

	_ = handler.Handle(ctx, record)
}

func fieldsGroup(fields Fields) slog.Attr {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]any, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}
	return slog.Group("fields", attrs...)
}

// captureStackTrace captures the current stack trace
func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// WithFields creates a new logger with additional fields
func (l *StructuredLogger) WithFields(fields Fields) *ContextLogger {
	return &ContextLogger{
		logger: l,
		fields: fields,
	}
}

// ContextLogger wraps StructuredLogger with additional context fields
type ContextLogger struct {
	logger *StructuredLogger
	fields Fields
}

// Debug logs a debug message with context fields
func (c *ContextLogger) Debug(ctx context.Context, message string, fields Fields) {
	c.logger.log(ctx, DebugLevel, message, c.mergeFields(fields), nil)
}

// Info logs an info message with context fields
func (c *ContextLogger) Info(ctx context.Context, message string, fields Fields) {
	c.logger.log(ctx, InfoLevel, message, c.mergeFields(fields), nil)
}

// Warn logs a warning message with context fields
func (c *ContextLogger) Warn(ctx context.Context, message string, fields Fields) {
	c.logger.log(ctx, WarnLevel, message, c.mergeFields(fields), nil)
}

// Error logs an error message with context fields
func (c *ContextLogger) Error(ctx context.Context, message string, fields Fields, err error) {
	c.logger.log(ctx, ErrorLevel, message, c.mergeFields(fields), err)
}

// Fatal logs a fatal message with context fields
func (c *ContextLogger) Fatal(ctx context.Context, message string, fields Fields, err error) {
	c.logger.log(ctx, FatalLevel, message, c.mergeFields(fields), err)
	exit(1)
}

// mergeFields merges context fields with provided fields
func (c *ContextLogger) mergeFields(fields Fields) Fields {
	merged := make(Fields, len(c.fields)+len(fields))

	for k, v := range c.fields {
		merged[k] = v
	}

	// Override with provided fields
	for k, v := range fields {
		merged[k] = v
	}

	return merged
}
