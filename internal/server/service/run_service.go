package service

import (
	"context"
	"errors"
	"time"

	"runcell/internal/artifact"
	"runcell/internal/sandbox"
	appErr "runcell/pkg/errors"
	"runcell/pkg/utils/logger"

	"go.uber.org/zap"
)

// DefaultMaxSourceBytes bounds the total size of one request's sources.
const DefaultMaxSourceBytes = 1 << 20

// Config wires the run service.
type Config struct {
	Cache          *artifact.Cache
	Executor       sandbox.Executor
	DefaultCompile artifact.CompileOptions
	MaxSourceBytes int
}

// RunService compiles sources through the artifact cache and executes them.
type RunService struct {
	cache          *artifact.Cache
	executor       sandbox.Executor
	defaultCompile artifact.CompileOptions
	maxSourceBytes int
}

// RunInput is one compile-and-run request.
type RunInput struct {
	Sources map[string]string
	Compile *artifact.CompileOptions
	Run     sandbox.RunRequest
}

// RunOutput is the outcome of a successful compile followed by a run.
type RunOutput struct {
	Cached          bool                  `json:"cached"`
	CompileMessages []artifact.Diagnostic `json:"compileMessages"`
	Result          *sandbox.RunResult    `json:"result"`
}

// Status reports cache and run counters.
type Status struct {
	Compiler     string         `json:"compiler"`
	Cache        artifact.Stats `json:"cache"`
	ActiveRuns   []string       `json:"activeRuns"`
	OwnedThreads int            `json:"ownedThreads"`
	CheckedAt    time.Time      `json:"checkedAt"`
}

// NewRunService validates cfg.
func NewRunService(cfg Config) (*RunService, error) {
	if cfg.Cache == nil || cfg.Executor == nil {
		return nil, appErr.New(appErr.ConfigInvalid).WithMessage("run service needs a cache and an executor")
	}
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = DefaultMaxSourceBytes
	}
	return &RunService{
		cache:          cfg.Cache,
		executor:       cfg.Executor,
		defaultCompile: cfg.DefaultCompile,
		maxSourceBytes: cfg.MaxSourceBytes,
	}, nil
}

// Run compiles the sources and executes the result. A failed compile is
// reported as CompilationFailed with the diagnostics in the details.
func (s *RunService) Run(ctx context.Context, in RunInput) (*RunOutput, error) {
	src, err := artifact.NewSource(in.Sources)
	if err != nil {
		return nil, err
	}
	if src.Size() > s.maxSourceBytes {
		return nil, appErr.Newf(appErr.SourceTooLarge, "sources are %d bytes, limit is %d", src.Size(), s.maxSourceBytes)
	}
	opts := s.defaultCompile
	if in.Compile != nil {
		opts = *in.Compile
	}

	art, cached, err := s.cache.Get(ctx, src, opts)
	if err != nil {
		var ce *artifact.CompileError
		if errors.As(err, &ce) {
			return nil, appErr.New(appErr.CompilationFailed).
				WithMessage(ce.Error()).
				WithDetail("diagnostics", ce.Diagnostics)
		}
		logger.Error(ctx, "compile failed", zap.Error(err))
		return nil, appErr.Wrap(err, appErr.CompilerUnavailable)
	}

	res, err := s.executor.Execute(ctx, art, in.Run)
	if err != nil {
		return nil, err
	}
	return &RunOutput{
		Cached:          cached,
		CompileMessages: art.Diagnostics(),
		Result:          res,
	}, nil
}

// Kill stops a run in progress.
func (s *RunService) Kill(ctx context.Context, runID string) error {
	return s.executor.Kill(ctx, runID)
}

// Status snapshots the cache and the active runs.
func (s *RunService) Status() Status {
	return Status{
		Compiler:     s.cache.Compiler().Name(),
		Cache:        s.cache.Stats(),
		ActiveRuns:   s.executor.ActiveRunIDs(),
		OwnedThreads: sandbox.OwnedThreads(),
		CheckedAt:    time.Now(),
	}
}
