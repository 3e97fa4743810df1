package sandbox

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"runcell/internal/artifact"
	"runcell/internal/observer"
	"runcell/internal/vm"
	appErr "runcell/pkg/errors"
	"runcell/pkg/utils/logger"

	"go.uber.org/zap"
)

// DefaultShutdownGrace bounds how long teardown waits for stopped threads.
const DefaultShutdownGrace = 200 * time.Millisecond

// Config controls controller behavior.
type Config struct {
	DefaultTimeout time.Duration
	ShutdownGrace  time.Duration
}

// Executor runs compiled artifacts under a capability policy.
type Executor interface {
	Execute(ctx context.Context, art *artifact.CompiledArtifact, req RunRequest) (*RunResult, error)
	Kill(ctx context.Context, runID string) error
	ActiveRunIDs() []string
}

// Controller drives runs from creation to teardown. ctx only carries
// logging values; runs end by deadline or Kill.
type Controller struct {
	cfg     Config
	metrics observer.MetricsRecorder

	active sync.Map // run id -> *activeRun
}

type activeRun struct {
	rc     *RunContext
	killed chan struct{}
	once   sync.Once
}

// NewController installs the process-wide hook and router on first use.
func NewController(cfg Config, metrics observer.MetricsRecorder) *Controller {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	if metrics == nil {
		metrics = observer.Nop{}
	}
	Install()
	return &Controller{cfg: cfg, metrics: metrics}
}

type outcome struct {
	value vm.Value
	err   error
}

// Execute runs the entry method of art and always returns a result once
// the run has started. Setup failures are returned as errors.
func (c *Controller) Execute(ctx context.Context, art *artifact.CompiledArtifact, req RunRequest) (*RunResult, error) {
	if art == nil {
		return nil, appErr.New(appErr.InvalidRunRequest).WithMessage("artifact is required")
	}
	req, err := req.withDefaults(c.cfg.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	policy, err := NewPolicy(req.Permissions, req.UnsafeExceptions, req.MaxExtraThreads, req.MaxOutputLines)
	if err != nil {
		return nil, err
	}
	rc := newRunContext(policy, req.Plugins)
	loader, err := NewIsolatedLoader(art, policy, req.ClassLoader, req.Plugins, rc)
	if err != nil {
		return nil, err
	}
	rc.loader = loader

	worker := vm.NewThread("", loader, rc.control)
	if err := resolveEntry(loader, worker, req.EntryClass, req.EntryMethod); err != nil {
		return nil, err
	}

	run := &activeRun{rc: rc, killed: make(chan struct{})}
	c.active.Store(rc.id, run)
	defer c.active.Delete(rc.id)

	ctx = logger.WithRunID(ctx, rc.id)
	logger.Debug(ctx, "run started",
		zap.String("entry", req.EntryClass+"."+req.EntryMethod),
		zap.Duration("timeout", req.Timeout))

	rc.adopt(worker)
	start := time.Now()
	deadline := start.Add(req.Timeout)
	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	done := make(chan outcome, 1)
	go func() {
		v, err := worker.Invoke(req.EntryClass, req.EntryMethod)
		done <- outcome{value: v, err: err}
	}()

	var (
		out      outcome
		finished bool
		timedOut bool
		killed   bool
	)
	select {
	case out = <-done:
		finished = true
	case <-timer.C:
		timedOut = true
	case <-run.killed:
		killed = true
	}
	if finished && out.err == nil && req.WaitForShutdown {
		if !rc.waitIdle(time.Until(deadline)) {
			timedOut = true
		}
	}
	execEnd := time.Now()

	c.teardown(ctx, rc, done, finished)
	select {
	case <-run.killed:
		killed = true
	default:
	}

	stdout, stdoutDropped := rc.stdout.snapshot()
	stderr, stderrDropped := rc.stderr.snapshot()
	audit := rc.auditLog()
	res := &RunResult{
		RunID:              rc.id,
		TimedOut:           timedOut && !killed,
		Killed:             killed,
		OutputLines:        mergeLines(stdout, stderr),
		PermissionRequests: audit,
		TruncatedLines:     stdoutDropped + stderrDropped,
		Interval:           Interval{Start: start, End: time.Now()},
		ExecutionInterval:  Interval{Start: start, End: execEnd},
		PluginResults:      rc.pluginResults(),
	}
	for _, r := range audit {
		if !r.Granted {
			res.PermissionDenied = true
			break
		}
	}
	if finished && !timedOut && !killed {
		var thrown *vm.Thrown
		switch {
		case out.err == nil:
			res.Completed = true
			if out.value != nil {
				s := vm.Stringify(out.value)
				res.Returned = &s
			}
		case errors.As(out.err, &thrown):
			res.Threw = &ThrownInfo{Type: thrown.Type(), Message: thrown.Message()}
		default:
			res.Threw = &ThrownInfo{Type: vm.ClassInternalError.Name, Message: out.err.Error()}
		}
	}

	c.metrics.ObserveRun(ctx, string(res.Outcome()), res.PermissionDenied, res.Interval.Duration(), len(res.OutputLines))
	logger.Debug(ctx, "run finished",
		zap.String("outcome", string(res.Outcome())),
		zap.Bool("permission_denied", res.PermissionDenied),
		zap.Duration("elapsed", res.Interval.Duration()))
	return res, nil
}

// teardown stops the run, waits a bounded time for its threads, flushes
// pending output and drops every registry entry of the run.
func (c *Controller) teardown(ctx context.Context, rc *RunContext, done <-chan outcome, finished bool) {
	rc.shutdown()
	grace := time.NewTimer(c.cfg.ShutdownGrace)
	defer grace.Stop()
	if !finished {
		select {
		case <-done:
		case <-grace.C:
			logger.Warn(ctx, "entry thread ignored shutdown", zap.Duration("grace", c.cfg.ShutdownGrace))
		}
	}
	if !rc.waitIdle(c.cfg.ShutdownGrace) {
		logger.Warn(ctx, "run threads still alive after shutdown", zap.Duration("grace", c.cfg.ShutdownGrace))
	}
	rc.stdout.flush()
	rc.stderr.flush()
	rc.unregisterAll()
}

func resolveEntry(loader *IsolatedLoader, t *vm.Thread, className, method string) error {
	if !loader.Defines(className) {
		return appErr.Newf(appErr.ClassNotFound, "class %s not found", className).WithDetail("class", className)
	}
	cls, err := loader.LoadClass(t, className)
	if err != nil {
		return appErr.Wrapf(err, appErr.ClassNotFound, "class %s could not be loaded: %v", className, err).WithDetail("class", className)
	}
	m, ok := cls.Method(method)
	if !ok || m.Params != 0 {
		return appErr.Newf(appErr.MethodNotFound, "method %s.%s() not found", className, method).
			WithDetail("class", className).
			WithDetail("method", method)
	}
	return nil
}

// Kill stops a running execution. Its result reports killed.
func (c *Controller) Kill(ctx context.Context, runID string) error {
	if runID == "" {
		return appErr.ValidationError("runId", "is required")
	}
	v, ok := c.active.Load(runID)
	if !ok {
		return appErr.NotFoundError("run " + runID)
	}
	run := v.(*activeRun)
	run.once.Do(func() {
		close(run.killed)
		run.rc.shutdown()
	})
	logger.Info(ctx, "run killed", zap.String("run_id", runID))
	return nil
}

// ActiveRunIDs returns the ids of runs in progress, sorted.
func (c *Controller) ActiveRunIDs() []string {
	var ids []string
	c.active.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	sort.Strings(ids)
	return ids
}

// ActiveRuns returns the number of runs in progress.
func (c *Controller) ActiveRuns() int {
	return len(c.ActiveRunIDs())
}

var _ Executor = (*Controller)(nil)
