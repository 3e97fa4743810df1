package artifact

import (
	"context"
	"fmt"
	"strings"
)

// CompileOptions tunes a compile. UseCache only decides whether the cache
// is consulted; it is not part of the cache key.
type CompileOptions struct {
	EmitLineNumbers  bool `json:"emitLineNumbers" yaml:"emitLineNumbers"`
	WarningsAsErrors bool `json:"warningsAsErrors" yaml:"warningsAsErrors"`
	UseCache         bool `json:"useCache" yaml:"useCache"`
}

// DefaultCompileOptions returns the options used when a request sets none.
func DefaultCompileOptions() CompileOptions {
	return CompileOptions{EmitLineNumbers: true, UseCache: true}
}

func (o CompileOptions) cacheKey() string {
	return fmt.Sprintf("lines=%t,werror=%t", o.EmitLineNumbers, o.WarningsAsErrors)
}

// Severity of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Location points into a source file. Line and Column are 1-based; zero
// means unknown.
type Location struct {
	Source string `json:"source"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// Diagnostic is one compiler message.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Location Location `json:"location"`
	Message  string   `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d:%d: %s: %s", d.Location.Source, d.Location.Line, d.Location.Column, d.Severity, d.Message)
}

// CompileError reports a failed compile with its diagnostics.
type CompileError struct {
	Diagnostics []Diagnostic
}

func (e *CompileError) Error() string {
	var errs []string
	for _, d := range e.Diagnostics {
		if d.Severity == SeverityError {
			errs = append(errs, d.String())
		}
	}
	if len(errs) == 0 {
		return "compilation failed"
	}
	return "compilation failed: " + strings.Join(errs, "; ")
}

// CompileOutput is what a successful compile produces.
type CompileOutput struct {
	Classes     map[string][]byte
	Diagnostics []Diagnostic
}

// Compiler turns sources into class bytecode. Failures carrying
// diagnostics are returned as *CompileError.
type Compiler interface {
	Name() string
	Compile(ctx context.Context, src Source, opts CompileOptions) (*CompileOutput, error)
}
