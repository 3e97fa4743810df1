package vm

import (
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// TaskHandle is the value returned by Dispatcher.submit.
type TaskHandle struct {
	done   chan struct{}
	value  Value
	thrown *Thrown
}

// task captures the submitter's loader and control at submit time, so
// it stays bound to the submitting run after the submitter moves on.
type task struct {
	owner     any
	loader    Loader
	control   *Control
	className string
	method    string
	handle    *TaskHandle
}

// Dispatcher is the process-wide pool shared by every run. Workers are
// long-lived threads with stable IDs; while a task runs its worker takes
// the loader and control captured when the task was submitted.
type Dispatcher struct {
	queue   chan task
	workers []*Thread
}

const dispatcherQueueSize = 1024

var (
	dispatcherOnce sync.Once
	dispatcherSize atomic.Int64
	dispatcher     *Dispatcher
)

// ConfigureDispatcher sets the worker count. It only has an effect
// before the first task is submitted.
func ConfigureDispatcher(workers int) {
	dispatcherSize.Store(int64(workers))
}

func sharedDispatcher() *Dispatcher {
	dispatcherOnce.Do(func() {
		n := int(dispatcherSize.Load())
		if n <= 0 {
			n = max(runtime.GOMAXPROCS(0), 2)
		}
		dispatcher = &Dispatcher{queue: make(chan task, dispatcherQueueSize)}
		for i := 0; i < n; i++ {
			w := NewThread("dispatcher-"+strconv.Itoa(i), nil, nil)
			dispatcher.workers = append(dispatcher.workers, w)
			go dispatcher.work(w)
		}
	})
	return dispatcher
}

// WorkerIDs returns the thread IDs of the shared dispatcher's workers.
func WorkerIDs() []int64 {
	d := sharedDispatcher()
	ids := make([]int64, len(d.workers))
	for i, w := range d.workers {
		ids[i] = w.ID()
	}
	return ids
}

func (d *Dispatcher) work(w *Thread) {
	for tk := range d.queue {
		d.run(w, tk)
	}
}

func (d *Dispatcher) run(w *Thread, tk task) {
	h := tk.handle
	w.loader = tk.loader
	w.control = tk.control
	w.depth = 0
	defer func() {
		hook().TaskFinished(w, tk.owner)
		w.loader = nil
		w.control = nil
		close(h.done)
	}()
	if err := hook().TaskStarting(w, tk.owner); err != nil {
		h.thrown = asThrown(err)
		return
	}
	if w.control.Stopped() {
		h.thrown = threadDeath()
		return
	}
	h.value, h.thrown = w.invokeStatic(tk.className, tk.method, nil)
}

func dispatcherSubmit(t *Thread, args []Value) (Value, error) {
	className, method, err := methodRef(args[0])
	if err != nil {
		return nil, err
	}
	owner, err := hook().TaskSubmitted(t)
	if err != nil {
		return nil, err
	}
	h := &TaskHandle{done: make(chan struct{})}
	tk := task{
		owner:     owner,
		loader:    t.loader,
		control:   t.control,
		className: className,
		method:    method,
		handle:    h,
	}
	select {
	case sharedDispatcher().queue <- tk:
		return h, nil
	case <-t.control.Done():
		hook().TaskFinished(nil, owner)
		return nil, threadDeath()
	}
}

func dispatcherAwait(t *Thread, args []Value) (Value, error) {
	h, ok := args[0].(*TaskHandle)
	if !ok {
		if args[0] == nil {
			return nil, NewThrown(ClassNullPointerException, "await on null")
		}
		return nil, castError(args[0], "Task")
	}
	select {
	case <-h.done:
	case <-t.control.Done():
		return nil, threadDeath()
	}
	if h.thrown != nil {
		return nil, h.thrown
	}
	return h.value, nil
}
