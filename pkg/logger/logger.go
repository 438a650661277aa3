// Package logger provides structured logging for tabular.
//
// A process-wide zap logger is installed with Init; packages that take a
// *zap.Logger at construction fall back to it through OrGet and scope it to
// themselves with Component or ForTable.
package logger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	mu           sync.Mutex
)

// contextKey is the type for context keys
type contextKey string

const (
	// TransferIDKey is the context key for the transfer identifier
	TransferIDKey contextKey = "transfer_id"
	// TableKey is the context key for the table identifier
	TableKey contextKey = "table"
	// CommandKey is the context key for the CLI command name
	CommandKey contextKey = "command"
)

var contextKeys = []contextKey{TransferIDKey, TableKey, CommandKey}

// Config represents logger configuration
type Config struct {
	Level       string
	Development bool
	Encoding    string // json or console
	OutputPaths []string
}

// Init installs the global logger, replacing any previous one.
func Init(cfg Config) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	globalLogger = l
	mu.Unlock()
	return nil
}

// New builds a zap logger. Empty fields default to info level and json
// encoding on stderr; stdout is left to command output.
func New(cfg Config) (*zap.Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "json"
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stderr"}
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.StringDurationEncoder
	if cfg.Development {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zcfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         cfg.Encoding,
		EncoderConfig:    enc,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	var opts []zap.Option
	if cfg.Development {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	l, err := zcfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return l, nil
}

// Get returns the global logger, creating a default one on first use.
func Get() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if globalLogger == nil {
		l, err := New(Config{})
		if err != nil {
			l = zap.NewNop()
		}
		globalLogger = l
	}
	return globalLogger
}

// OrGet returns l, or the global logger when l is nil
func OrGet(l *zap.Logger) *zap.Logger {
	if l != nil {
		return l
	}
	return Get()
}

// Component scopes l (or the global logger) to a named component.
func Component(l *zap.Logger, name string, fields ...zap.Field) *zap.Logger {
	return OrGet(l).With(append([]zap.Field{zap.String("component", name)}, fields...)...)
}

// ForTable scopes l to a backend component and one table.
func ForTable(l *zap.Logger, backend, table string) *zap.Logger {
	return Component(l, backend, zap.String(string(TableKey), table))
}

// NewContext returns a copy of ctx carrying value under key.
func NewContext(ctx context.Context, key contextKey, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

// ContextFields returns the transfer, table and command values carried by
// ctx as fields, in that order.
func ContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	for _, k := range contextKeys {
		if v, ok := ctx.Value(k).(string); ok {
			fields = append(fields, zap.String(string(k), v))
		}
	}
	return fields
}

// WithContext annotates l (or the global logger) with ContextFields(ctx).
func WithContext(ctx context.Context, l *zap.Logger) *zap.Logger {
	l = OrGet(l)
	if fields := ContextFields(ctx); len(fields) > 0 {
		l = l.With(fields...)
	}
	return l
}

// With creates a child of the global logger with additional fields
func With(fields ...zap.Field) *zap.Logger {
	return Get().With(fields...)
}

// Sync flushes any buffered log entries
func Sync() error {
	mu.Lock()
	l := globalLogger
	mu.Unlock()
	if l != nil {
		return l.Sync()
	}
	return nil
}
