package logger

import (
	"context"
	"fmt"
	"os"
	"time"

	"runcell/pkg/utils/contextkey"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var globalLogger *Logger

// Logger wraps zap logger with context support
type Logger struct {
	zap *zap.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // file path or "stdout"
	ErrorPath  string // error log file path or "stderr"
}

// Init initializes the global logger
func Init(cfg Config) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	globalLogger = logger
	return nil
}

// NewLogger creates a new logger instance
func NewLogger(cfg Config) (*Logger, error) {
	// Parse log level
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	// Encoder config
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    "func",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     customTimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	// Choose encoder
	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	// Output paths
	outputPath := cfg.OutputPath
	if outputPath == "" {
		outputPath = "stdout"
	}

	errorPath := cfg.ErrorPath
	if errorPath == "" {
		errorPath = "stderr"
	}

	// Create writer syncer
	var writeSyncer zapcore.WriteSyncer
	if outputPath == "stdout" {
		writeSyncer = zapcore.AddSync(os.Stdout)
	} else {
		file, err := os.OpenFile(outputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writeSyncer = zapcore.AddSync(file)
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)

	// Create logger with caller info
	zapLogger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))

	return &Logger{zap: zapLogger}, nil
}

// customTimeEncoder formats time in RFC3339 format
func customTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format(time.RFC3339))
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// WithContext extracts fields from context (like trace_id) and returns logger with those fields
func (l *Logger) WithContext(ctx context.Context) *zap.Logger {
	fields := extractFieldsFromContext(ctx)
	return l.zap.With(fields...)
}

// extractFieldsFromContext extracts structured fields from context
func extractFieldsFromContext(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if ctx == nil {
		return fields
	}

	for _, k := range []struct {
		key  interface{}
		name string
	}{
		{contextkey.TraceID, "trace_id"},
		{contextkey.RequestID, "request_id"},
		{contextkey.RunID, "run_id"},
	} {
		if v := ctx.Value(k.key); v != nil {
			fields = append(fields, zap.String(k.name, fmt.Sprint(v)))
		}
	}

	return fields
}

// WithRunID returns a context whose log entries carry the run id
func WithRunID(ctx context.Context, runID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextkey.RunID, runID)
}

// Global logger convenience functions

// Debug logs a debug message
func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	if globalLogger == nil {
		return
	}
	globalLogger.WithContext(ctx).Debug(msg, fields...)
}

// Info logs an info message
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	if globalLogger == nil {
		return
	}
	globalLogger.WithContext(ctx).Info(msg, fields...)
}

// Warn logs a warning message
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	if globalLogger == nil {
		return
	}
	globalLogger.WithContext(ctx).Warn(msg, fields...)
}

// Error logs an error message
func Error(ctx context.Context, msg string, fields ...zap.Field) {
	if globalLogger == nil {
		return
	}
	globalLogger.WithContext(ctx).Error(msg, fields...)
}

// Sync flushes the global logger
func Sync() error {
	if globalLogger == nil {
		return nil
	}
	return globalLogger.Sync()
}

// FromZap wraps an existing zap logger
func FromZap(z *zap.Logger) *Logger {
	return &Logger{zap: z}
}

// SetLogger replaces the global logger and returns the previous one
func SetLogger(l *Logger) *Logger {
	prev := globalLogger
	globalLogger = l
	return prev
}
