// Package logging provides structured logging for offstore runs.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with additional context fields.
type Logger struct {
	*slog.Logger
}

type contextKey string

const (
	runIDKey     contextKey = "run_id"
	datasetKey   contextKey = "dataset"
	partitionKey contextKey = "partition"
	stageKey     contextKey = "stage"
)

// Options controls handler construction.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json or text
}

// RunInfo describes a batch run for log correlation.
type RunInfo struct {
	RunID   string
	Dataset string
	Column  string
	Mode    string
	DryRun  bool
}

// New creates a new Logger with JSON output on stdout.
func New() *Logger {
	return NewWithWriter(os.Stdout)
}

// NewWithWriter creates a new Logger with JSON output to the provided writer.
func NewWithWriter(w io.Writer) *Logger {
	l, _ := NewWithOptions(w, Options{})
	return l
}

// NewWithOptions creates a Logger honoring the level and format options.
func NewWithOptions(w io.Writer, opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	hopts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "json":
		handler = slog.NewJSONHandler(w, hopts)
	case "text":
		handler = slog.NewTextHandler(w, hopts)
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	return &Logger{Logger: slog.New(handler)}, nil
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWithWriter(io.Discard)
}

// WithContext returns a logger with context values attached.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		logger = logger.With(slog.String("run_id", runID))
	}
	if dataset, ok := ctx.Value(datasetKey).(string); ok && dataset != "" {
		logger = logger.With(slog.String("dataset", dataset))
	}
	if stage, ok := ctx.Value(stageKey).(string); ok && stage != "" {
		logger = logger.With(slog.String("stage", stage))
	}
	if partition, ok := ctx.Value(partitionKey).(string); ok && partition != "" {
		logger = logger.With(slog.String("partition", partition))
	}

	return &Logger{Logger: logger}
}

// WithRunInfo returns a logger with run information attached.
func (l *Logger) WithRunInfo(info *RunInfo) *Logger {
	logger := l.Logger

	if info.RunID != "" {
		logger = logger.With(slog.String("run_id", info.RunID))
	}
	if info.Dataset != "" {
		logger = logger.With(slog.String("dataset", info.Dataset))
	}
	if info.Column != "" {
		logger = logger.With(slog.String("column", info.Column))
	}
	if info.Mode != "" {
		logger = logger.With(slog.String("mode", info.Mode))
	}
	if info.DryRun {
		logger = logger.With(slog.Bool("dry_run", true))
	}

	return &Logger{Logger: logger}
}

// With returns a new logger with additional attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// ContextWithRunID adds a run ID to the context.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// ContextWithDataset adds a dataset name to the context.
func ContextWithDataset(ctx context.Context, dataset string) context.Context {
	return context.WithValue(ctx, datasetKey, dataset)
}

// ContextWithPartition adds a partition key to the context.
func ContextWithPartition(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, partitionKey, key)
}

// ContextWithStage adds the orchestrator stage to the context.
func ContextWithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey, stage)
}

// RunIDFromContext extracts the run ID from the context.
func RunIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}

// PartitionFromContext extracts the partition key from the context.
func PartitionFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(partitionKey).(string); ok {
		return p
	}
	return ""
}
