package sandbox

import (
	"time"

	"runcell/internal/vm"
)

// outputRouter is the process-wide console stream pair. Writes from owned
// threads land in their run's buffers; everything else goes to the
// streams that were installed before.
type outputRouter struct {
	console  Console
	previous vm.Stream
}

func installRouter() {
	out := &outputRouter{console: ConsoleStdout}
	errs := &outputRouter{console: ConsoleStderr}
	out.previous, errs.previous = vm.InstallStreams(out, errs)
}

func (r *outputRouter) WriteFrom(t *vm.Thread, p []byte) {
	if t != nil && t.Control().Stopped() {
		return
	}
	rc := registry.lookup(t)
	if rc == nil {
		if r.previous != nil {
			r.previous.WriteFrom(t, p)
		}
		return
	}
	if rc.shuttingDown.Load() {
		return
	}
	buf := rc.stdout
	if r.console == ConsoleStderr {
		buf = rc.stderr
	}
	buf.write(t.ID(), p, time.Now())
}
