package sandbox

import (
	"sync"
	"sync/atomic"
	"time"

	"runcell/internal/vm"

	"github.com/google/uuid"
)

// PermissionRequest is one audited capability check.
type PermissionRequest struct {
	Permission vm.Permission `json:"permission"`
	Granted    bool          `json:"granted"`
}

// RunContext is the per-run state consulted by the hook and the router.
// It is created by the controller and dropped from every registry when
// the run ends.
type RunContext struct {
	id      string
	policy  *Policy
	control *vm.Control
	loader  *IsolatedLoader

	stdout *outputBuffer
	stderr *outputBuffer
	seq    atomic.Int64

	collectors map[string]Collector

	shuttingDown atomic.Bool
	released     atomic.Bool

	mu        sync.Mutex
	threads   map[int64]*vm.Thread
	extraLive int
	work      int
	idle      chan struct{}
	audit     []PermissionRequest
}

func newRunContext(policy *Policy, plugins []Plugin) *RunContext {
	rc := &RunContext{
		id:         uuid.NewString(),
		policy:     policy,
		control:    vm.NewControl(),
		collectors: make(map[string]Collector, len(plugins)),
		threads:    make(map[int64]*vm.Thread),
	}
	rc.stdout = newOutputBuffer(ConsoleStdout, policy.MaxOutputLines(), &rc.seq)
	rc.stderr = newOutputBuffer(ConsoleStderr, policy.MaxOutputLines(), &rc.seq)
	for _, p := range plugins {
		rc.collectors[p.Name()] = p.NewCollector()
	}
	return rc
}

// ID identifies the run in logs and kill requests.
func (rc *RunContext) ID() string {
	return rc.id
}

func (rc *RunContext) record(p vm.Permission, granted bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.audit = append(rc.audit, PermissionRequest{Permission: p, Granted: granted})
}

func (rc *RunContext) auditLog() []PermissionRequest {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]PermissionRequest(nil), rc.audit...)
}

func (rc *RunContext) adopt(t *vm.Thread) {
	rc.mu.Lock()
	rc.threads[t.ID()] = t
	rc.mu.Unlock()
	registry.register(t, rc)
	if rc.released.Load() {
		registry.unregister(t, rc)
	}
}

func (rc *RunContext) release(t *vm.Thread) {
	rc.mu.Lock()
	delete(rc.threads, t.ID())
	rc.mu.Unlock()
	registry.unregister(t, rc)
}

// beginWork counts a spawned thread or a submitted task.
func (rc *RunContext) beginWork() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.work == 0 {
		rc.idle = make(chan struct{})
	}
	rc.work++
}

func (rc *RunContext) endWork() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.work == 0 {
		return
	}
	rc.work--
	if rc.work == 0 {
		close(rc.idle)
	}
}

// waitIdle waits until no spawned thread or task is outstanding, or the
// timeout passes. It reports whether the run went idle.
func (rc *RunContext) waitIdle(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		rc.mu.Lock()
		if rc.work == 0 {
			rc.mu.Unlock()
			return true
		}
		ch := rc.idle
		rc.mu.Unlock()
		select {
		case <-ch:
		case <-timer.C:
			return false
		}
	}
}

// tryStartThread applies the thread cap and counts the new thread.
func (rc *RunContext) tryStartThread() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.extraLive >= rc.policy.MaxExtraThreads() {
		return false
	}
	rc.extraLive++
	if rc.work == 0 {
		rc.idle = make(chan struct{})
	}
	rc.work++
	return true
}

func (rc *RunContext) threadExited() {
	rc.mu.Lock()
	if rc.extraLive > 0 {
		rc.extraLive--
	}
	rc.mu.Unlock()
	rc.endWork()
}

// shutdown stops every thread of the run and discards further output.
func (rc *RunContext) shutdown() {
	rc.shuttingDown.Store(true)
	rc.control.Stop()
}

// unregisterAll removes every thread of the run from the registry.
func (rc *RunContext) unregisterAll() {
	rc.released.Store(true)
	rc.mu.Lock()
	threads := make([]*vm.Thread, 0, len(rc.threads))
	for _, t := range rc.threads {
		threads = append(threads, t)
	}
	rc.threads = make(map[int64]*vm.Thread)
	rc.mu.Unlock()
	for _, t := range threads {
		registry.unregister(t, rc)
	}
}

func (rc *RunContext) pluginResults() map[string]any {
	if len(rc.collectors) == 0 {
		return nil
	}
	out := make(map[string]any, len(rc.collectors))
	for name, c := range rc.collectors {
		out[name] = c.Result()
	}
	return out
}
