// Package logger provides structured, context-aware logging shared by every
// component of the merge-queue service.
package logger

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ContextKey namespaces values this package stores on a context.Context.
type ContextKey string

const (
	// PipelineIDKey is the context key for the pipeline a log line concerns.
	PipelineIDKey ContextKey = "pipeline_id"
	// TraceIDKey is the context key for a request/event trace ID.
	TraceIDKey ContextKey = "trace_id"
	loggerKey  ContextKey = "logger"
)

// Logger wraps logrus.Logger with the service's field conventions.
type Logger struct {
	*logrus.Logger
	component string
}

// Config configures a Logger. Mirrors the env-driven fields the rest of the
// service reads via internal/config.
type Config struct {
	Level  string
	Format string
}

// New builds a Logger for component using cfg.
func New(component string, cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.EqualFold(cfg.Format, "text") {
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}
	l.SetOutput(os.Stdout)

	return &Logger{Logger: l, component: component}
}

// NewFromEnv builds a Logger for component using LOG_LEVEL/LOG_FORMAT,
// defaulting to info/json when unset.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, Config{Level: level, Format: format})
}

// WithContext returns a logrus.Entry enriched with any pipeline/trace IDs
// stashed on ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if pid := ctx.Value(PipelineIDKey); pid != nil {
		entry = entry.WithField("pipeline_id", pid)
	}
	if trace, ok := ctx.Value(TraceIDKey).(string); ok && trace != "" {
		entry = entry.WithField("trace_id", trace)
	}
	return entry
}

// WithFields returns a logrus.Entry with component plus the given fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithPipeline adds a pipeline_id field for the given ID (any fmt.Stringer
// or scalar works as v).
func WithPipeline(ctx context.Context, v interface{}) context.Context {
	return context.WithValue(ctx, PipelineIDKey, v)
}

// WithTraceID stashes a trace ID on ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// Attach stashes l on ctx so FromContext can retrieve it downstream, e.g.
// inside the pure pipeline engine which only accepts a context.Context.
func Attach(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext retrieves a Logger attached via Attach, falling back to a
// default built by NewFromEnv so call sites never need a nil check.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok && l != nil {
		return l
	}
	return defaultLogger
}

var defaultLogger = NewFromEnv("mergequeue")
