package sandbox

import (
	"time"
)

// Outcome is the terminal state of a run.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeThrew     Outcome = "threw"
	OutcomeTimedOut  Outcome = "timedOut"
	OutcomeKilled    Outcome = "killed"
)

// ThrownInfo describes an uncaught throwable.
type ThrownInfo struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// Interval is a closed time range.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// RunResult is the immutable record of one execution.
type RunResult struct {
	RunID              string              `json:"runId"`
	Completed          bool                `json:"completed"`
	TimedOut           bool                `json:"timedOut"`
	Killed             bool                `json:"killed,omitempty"`
	PermissionDenied   bool                `json:"permissionDenied"`
	Returned           *string             `json:"returned,omitempty"`
	Threw              *ThrownInfo         `json:"threw,omitempty"`
	OutputLines        []OutputLine        `json:"outputLines"`
	PermissionRequests []PermissionRequest `json:"permissionRequests"`
	TruncatedLines     int                 `json:"truncatedLines"`
	Interval           Interval            `json:"interval"`
	ExecutionInterval  Interval            `json:"executionInterval"`
	PluginResults      map[string]any      `json:"pluginResults,omitempty"`
}

// Outcome classifies the result.
func (r *RunResult) Outcome() Outcome {
	switch {
	case r.Killed:
		return OutcomeKilled
	case r.TimedOut:
		return OutcomeTimedOut
	case r.Threw != nil:
		return OutcomeThrew
	default:
		return OutcomeCompleted
	}
}

// Stdout joins captured standard output lines.
func (r *RunResult) Stdout() string {
	return joinLines(r.OutputLines, ConsoleStdout)
}

// Stderr joins captured standard error lines.
func (r *RunResult) Stderr() string {
	return joinLines(r.OutputLines, ConsoleStderr)
}

// Output joins both streams in timestamp order.
func (r *RunResult) Output() string {
	return joinLines(r.OutputLines, "")
}

// PluginResult returns the result recorded by the named plugin.
func (r *RunResult) PluginResult(name string) (any, bool) {
	v, ok := r.PluginResults[name]
	return v, ok
}
