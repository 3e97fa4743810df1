package sandbox

import (
	"sync"

	"runcell/internal/vm"
)

// capabilityHook is the process-wide vm.Hook. Threads that belong to no
// run are left alone; owned threads are checked against their run's
// policy and every decision is audited.
type capabilityHook struct{}

var installOnce sync.Once

// Install puts the capability hook and the output router in place. It is
// safe to call more than once.
func Install() {
	installOnce.Do(func() {
		vm.InstallHook(capabilityHook{})
		installRouter()
	})
}

func threadDeath() error {
	return vm.NewThrown(vm.ClassThreadDeath, "")
}

func denied(p vm.Permission) error {
	return vm.NewThrown(vm.ClassSecurityException, "access denied: "+p.String())
}

func (capabilityHook) CheckPermission(t *vm.Thread, p vm.Permission) error {
	if t.Control().Stopped() {
		return threadDeath()
	}
	rc := registry.lookup(t)
	if rc == nil {
		return nil
	}
	granted := rc.policy.Allows(p)
	rc.record(p, granted)
	if !granted {
		return denied(p)
	}
	return nil
}

func (capabilityHook) ThreadStarting(parent, child *vm.Thread) error {
	if parent.Control().Stopped() {
		return threadDeath()
	}
	rc := registry.lookup(parent)
	if rc == nil {
		return nil
	}
	if rc.shuttingDown.Load() {
		rc.record(vm.Permission{Type: vm.PermRuntime, Target: "createThreadAfterTimeout"}, false)
		return threadDeath()
	}
	if !rc.tryStartThread() {
		p := vm.Permission{Type: vm.PermRuntime, Target: "exceedThreadLimit"}
		rc.record(p, false)
		return denied(p)
	}
	rc.adopt(child)
	return nil
}

func (capabilityHook) ThreadExited(child *vm.Thread) {
	if rc := registry.lookup(child); rc != nil {
		rc.threadExited()
	}
}

// TaskSubmitted hands the submitting run back as the task owner. Tasks
// submitted by unowned threads carry a nil owner and stay unconfined.
func (capabilityHook) TaskSubmitted(submitter *vm.Thread) (any, error) {
	if submitter.Control().Stopped() {
		return nil, threadDeath()
	}
	rc := registry.lookup(submitter)
	if rc == nil {
		return nil, nil
	}
	if rc.shuttingDown.Load() {
		rc.record(vm.Permission{Type: vm.PermRuntime, Target: "createThreadAfterTimeout"}, false)
		return nil, threadDeath()
	}
	rc.beginWork()
	return rc, nil
}

func (capabilityHook) TaskStarting(worker *vm.Thread, owner any) error {
	if worker.Control().Stopped() {
		return threadDeath()
	}
	if rc, ok := owner.(*RunContext); ok && rc != nil {
		rc.adopt(worker)
	}
	return nil
}

func (capabilityHook) TaskFinished(worker *vm.Thread, owner any) {
	rc, ok := owner.(*RunContext)
	if !ok || rc == nil {
		return
	}
	if worker != nil {
		rc.release(worker)
	}
	rc.endWork()
}

func (capabilityHook) Trace(t *vm.Thread, source string, line int) {
	rc := registry.lookup(t)
	if rc == nil {
		return
	}
	for _, c := range rc.collectors {
		c.Trace(t, source, line)
	}
}
