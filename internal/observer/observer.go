// Package observer defines metrics hooks for compilation and execution.
package observer

import (
	"context"
	"time"
)

// MetricsRecorder records compile and run metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, compiler string, ok bool, cached bool, elapsed time.Duration)
	ObserveRun(ctx context.Context, outcome string, permissionDenied bool, elapsed time.Duration, outputLines int)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) ObserveCompile(context.Context, string, bool, bool, time.Duration) {}
func (Nop) ObserveRun(context.Context, string, bool, time.Duration, int)      {}
