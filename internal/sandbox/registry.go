package sandbox

import (
	"sync"

	"runcell/internal/vm"
)

// threadRegistry maps thread IDs to the run owning them. It is the only
// process-wide table consulted on the hot path and takes no global lock.
type threadRegistry struct {
	owners sync.Map // int64 -> *RunContext
}

var registry = &threadRegistry{}

func (r *threadRegistry) register(t *vm.Thread, rc *RunContext) {
	r.owners.Store(t.ID(), rc)
}

// unregister removes t only while it still belongs to rc, so a worker
// that already moved on to another run is left alone.
func (r *threadRegistry) unregister(t *vm.Thread, rc *RunContext) {
	r.owners.CompareAndDelete(t.ID(), rc)
}

func (r *threadRegistry) lookup(t *vm.Thread) *RunContext {
	if t == nil {
		return nil
	}
	v, ok := r.owners.Load(t.ID())
	if !ok {
		return nil
	}
	return v.(*RunContext)
}

// size counts registered threads across all runs.
func (r *threadRegistry) size() int {
	n := 0
	r.owners.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// OwnedThreads returns the number of threads currently confined to a run.
func OwnedThreads() int {
	return registry.size()
}
