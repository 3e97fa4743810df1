package vm

import (
	"time"
)

func methodRef(v Value) (string, string, error) {
	ref, err := stringArg(v)
	if err != nil {
		return "", "", err
	}
	className, method := splitRef(ref)
	if className == "" {
		return "", "", NewThrown(ClassIllegalArgumentException, "bad method reference "+ref)
	}
	return className, method, nil
}

func threadStart(t *Thread, args []Value) (Value, error) {
	className, method, err := methodRef(args[0])
	if err != nil {
		return nil, err
	}
	child := NewThread("", t.loader, t.control)
	if err := hook().ThreadStarting(t, child); err != nil {
		return nil, err
	}
	h := &ThreadHandle{thread: child, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer hook().ThreadExited(child)
		_, thrown := child.invokeStatic(className, method, nil)
		if thrown == nil {
			return
		}
		h.thrown = thrown
		if !thrown.IsA("ThreadDeath") {
			msg := "Exception in thread \"" + child.Name() + "\" " + Stringify(thrown.Object) + "\n"
			streams().err.WriteFrom(child, []byte(msg))
		}
	}()
	return h, nil
}

func threadJoin(t *Thread, args []Value) (Value, error) {
	h, ok := args[0].(*ThreadHandle)
	if !ok {
		if args[0] == nil {
			return nil, NewThrown(ClassNullPointerException, "join on null")
		}
		return nil, castError(args[0], "Thread")
	}
	select {
	case <-h.done:
		return nil, nil
	case <-t.control.Done():
		return nil, threadDeath()
	}
}

func threadSleep(t *Thread, args []Value) (Value, error) {
	ms, ok := args[0].(int64)
	if !ok {
		return nil, castError(args[0], "Integer")
	}
	if ms < 0 {
		return nil, NewThrown(ClassIllegalArgumentException, "timeout value is negative")
	}
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil, nil
	case <-t.control.Done():
		return nil, threadDeath()
	}
}
