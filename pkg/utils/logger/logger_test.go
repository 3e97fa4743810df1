package logger_test

import (
	"context"
	"testing"

	"runcell/pkg/utils/contextkey"
	"runcell/pkg/utils/logger"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextFieldsAreAttached(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := logger.SetLogger(logger.FromZap(zap.New(core)))
	t.Cleanup(func() { logger.SetLogger(prev) })

	ctx := context.WithValue(context.Background(), contextkey.TraceID, "trace-1")
	ctx = logger.WithRunID(ctx, "run-1")
	logger.Info(ctx, "run finished", zap.Int("lines", 3))
	logger.Warnf(context.Background(), "cache %s", "degraded")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["trace_id"] != "trace-1" || fields["run_id"] != "run-1" || fields["lines"] != int64(3) {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if _, ok := fields["request_id"]; ok {
		t.Fatalf("request_id should be absent")
	}
	if entries[1].Message != "cache degraded" || entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("unexpected entry: %+v", entries[1])
	}
}

func TestNilLoggerIsSilent(t *testing.T) {
	prev := logger.SetLogger(nil)
	t.Cleanup(func() { logger.SetLogger(prev) })

	logger.Info(context.Background(), "dropped")
	if err := logger.Sync(); err != nil {
		t.Fatalf("sync on nil logger: %v", err)
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	if _, err := logger.NewLogger(logger.Config{Level: "loud"}); err == nil {
		t.Fatalf("expected invalid level error")
	}
}
