package vm

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// Permission names a sensitive operation.
type Permission struct {
	Type   string `json:"type" yaml:"type"`
	Target string `json:"target" yaml:"target"`
	Action string `json:"action,omitempty" yaml:"action,omitempty"`
}

func (p Permission) String() string {
	if p.Action == "" {
		return fmt.Sprintf("%s %s", p.Type, p.Target)
	}
	return fmt.Sprintf("%s %s %s", p.Type, p.Target, p.Action)
}

// Hook is consulted by the runtime before every sensitive operation and
// on thread and task lifecycle events. Errors returned by a Hook are
// thrown into the calling thread; a *Thrown is thrown as is.
type Hook interface {
	CheckPermission(t *Thread, p Permission) error
	// ThreadStarting runs on the parent before child executes anything.
	ThreadStarting(parent, child *Thread) error
	ThreadExited(child *Thread)
	// TaskSubmitted runs on the submitter when a dispatcher task is queued.
	// The returned owner travels with the task and is handed back to
	// TaskStarting and TaskFinished; the submitter itself may be gone or
	// serving another run by then.
	TaskSubmitted(submitter *Thread) (owner any, err error)
	// TaskStarting runs on the worker before the task body executes.
	TaskStarting(worker *Thread, owner any) error
	// TaskFinished runs once per submitted task. worker is nil when the
	// task never reached a worker.
	TaskFinished(worker *Thread, owner any)
	Trace(t *Thread, source string, line int)
}

// AllowAll is the hook in effect until one is installed.
type AllowAll struct{}

func (AllowAll) CheckPermission(*Thread, Permission) error { return nil }
func (AllowAll) ThreadStarting(*Thread, *Thread) error     { return nil }
func (AllowAll) ThreadExited(*Thread)                      {}
func (AllowAll) TaskSubmitted(*Thread) (any, error)        { return nil, nil }
func (AllowAll) TaskStarting(*Thread, any) error           { return nil }
func (AllowAll) TaskFinished(*Thread, any)                 {}
func (AllowAll) Trace(*Thread, string, int)                {}

// Stream receives console output together with the writing thread.
type Stream interface {
	WriteFrom(t *Thread, p []byte)
}

// WriterStream forwards to an io.Writer, ignoring the thread.
type WriterStream struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterStream(w io.Writer) *WriterStream {
	return &WriterStream{w: w}
}

func (s *WriterStream) WriteFrom(_ *Thread, p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.w.Write(p)
}

type hookBox struct{ Hook }

type streamBox struct{ out, err Stream }

var (
	currentHook    atomic.Pointer[hookBox]
	currentStreams atomic.Pointer[streamBox]
)

func init() {
	currentHook.Store(&hookBox{AllowAll{}})
	currentStreams.Store(&streamBox{out: NewWriterStream(os.Stdout), err: NewWriterStream(os.Stderr)})
}

// InstallHook replaces the process-wide hook and returns the previous one.
func InstallHook(h Hook) Hook {
	if h == nil {
		h = AllowAll{}
	}
	return currentHook.Swap(&hookBox{h}).Hook
}

// InstallStreams replaces the process-wide console streams and returns
// the previous pair.
func InstallStreams(stdout, stderr Stream) (Stream, Stream) {
	old := currentStreams.Swap(&streamBox{out: stdout, err: stderr})
	return old.out, old.err
}

func hook() Hook {
	return currentHook.Load().Hook
}

func streams() *streamBox {
	return currentStreams.Load()
}
