package vm

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
)

// Control is the stop switch shared by every thread of one run.
// A nil *Control never stops.
type Control struct {
	stopped   atomic.Bool
	once      sync.Once
	done      chan struct{}
	allocated atomic.Int64
}

func NewControl() *Control {
	return &Control{done: make(chan struct{})}
}

// Stop makes every thread using c throw ThreadDeath at its next
// instruction or blocking call.
func (c *Control) Stop() {
	if c == nil {
		return
	}
	c.once.Do(func() {
		c.stopped.Store(true)
		close(c.done)
	})
}

func (c *Control) Stopped() bool {
	return c != nil && c.stopped.Load()
}

// Done is closed by Stop. It is nil for a nil Control.
func (c *Control) Done() <-chan struct{} {
	if c == nil {
		return nil
	}
	return c.done
}

// charge adds n bytes to the run's allocation total and reports whether
// the total is still within the budget.
func (c *Control) charge(n int) bool {
	if c == nil {
		return true
	}
	return c.allocated.Add(int64(n)) <= maxRunAllocation.Load()
}

// Allocated returns the bytes charged to c so far.
func (c *Control) Allocated() int64 {
	if c == nil {
		return 0
	}
	return c.allocated.Load()
}

var threadIDs atomic.Int64

// Thread is one interpreter thread. A Thread is used by a single
// goroutine at a time.
type Thread struct {
	id      int64
	name    string
	loader  Loader
	control *Control
	depth   int
}

// NewThread creates a thread bound to loader and control. An empty name
// becomes "cell-<id>".
func NewThread(name string, loader Loader, control *Control) *Thread {
	id := threadIDs.Add(1)
	if name == "" {
		name = "cell-" + strconv.FormatInt(id, 10)
	}
	return &Thread{id: id, name: name, loader: loader, control: control}
}

func (t *Thread) ID() int64         { return t.id }
func (t *Thread) Name() string      { return t.name }
func (t *Thread) Loader() Loader    { return t.loader }
func (t *Thread) Control() *Control { return t.control }

// Invoke calls a static method and returns its result. A throwable that
// escapes the method is returned as *Thrown.
func (t *Thread) Invoke(className, method string, args ...Value) (Value, error) {
	v, thrown := t.invokeStatic(className, method, args)
	if thrown != nil {
		return nil, thrown
	}
	return v, nil
}

// ThreadHandle is the value returned by Thread.start.
type ThreadHandle struct {
	thread *Thread
	done   chan struct{}
	thrown *Thrown
}

// Thread returns the started thread.
func (h *ThreadHandle) Thread() *Thread {
	return h.thread
}

func threadDeath() *Thrown {
	return NewThrown(ClassThreadDeath, "")
}

// asThrown converts a Go error into a throwable.
func asThrown(err error) *Thrown {
	var thrown *Thrown
	if errors.As(err, &thrown) {
		return thrown
	}
	return NewThrown(ClassInternalError, err.Error())
}
