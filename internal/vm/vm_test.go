package vm_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"runcell/internal/artifact"
	"runcell/internal/compiler"
	"runcell/internal/vm"
	"runcell/internal/vm/bytecode"
)

type captureStream struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (c *captureStream) WriteFrom(_ *vm.Thread, p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Write(p)
}

func (c *captureStream) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func captureOutput(t *testing.T) *captureStream {
	t.Helper()
	out := &captureStream{}
	prevOut, prevErr := vm.InstallStreams(out, out)
	t.Cleanup(func() { vm.InstallStreams(prevOut, prevErr) })
	return out
}

func compile(t *testing.T, files map[string]string) map[string][]byte {
	t.Helper()
	src, err := artifact.NewSource(files)
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	out, err := compiler.NewAssembler().Compile(context.Background(), src, artifact.DefaultCompileOptions())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return out.Classes
}

func thrownType(t *testing.T, err error) string {
	t.Helper()
	var thrown *vm.Thrown
	if !errors.As(err, &thrown) {
		t.Fatalf("expected thrown error, got %v", err)
	}
	return thrown.Type()
}

const counterProgram = `
.class Counter
.field value
.method <clinit> 0 0
.line 1
    pushs "init"
    call Console.println 1
    pop
    push 41
    putstatic value
    return
.end
.method main 0 0
.line 5
    getstatic value
    push 1
    add
    dup
    putstatic value
    retval
.end
`

func TestStaticInitializerRunsOncePerLoader(t *testing.T) {
	out := captureOutput(t)
	classes := compile(t, map[string]string{"Counter.cell": counterProgram})

	loader := vm.NewClassLoader(classes, vm.LoaderOptions{})
	th := vm.NewThread("", loader, nil)
	for _, want := range []int64{42, 43} {
		v, err := th.Invoke("Counter", "main")
		if err != nil {
			t.Fatalf("invoke: %v", err)
		}
		if v != want {
			t.Fatalf("expected %d, got %v", want, v)
		}
	}

	fresh := vm.NewThread("", vm.NewClassLoader(classes, vm.LoaderOptions{}), nil)
	v, err := fresh.Invoke("Counter", "main")
	if err != nil || v != int64(42) {
		t.Fatalf("expected fresh loader to start over, got %v %v", v, err)
	}
	if got := out.String(); got != "init\ninit\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

const guardProgram = `
.class Guard
.method main 0 1
.line 1
Ltry:
    pushnil
    call Object.toString 1
    retval
Lend:
Lh:
    store 0
    pushs "caught"
    retval
.catch NullPointerException from Ltry to Lend using Lh
.end
`

func TestExcludedHandlerDoesNotCatch(t *testing.T) {
	classes := compile(t, map[string]string{"Guard.cell": guardProgram})

	plain := vm.NewThread("", vm.NewClassLoader(classes, vm.LoaderOptions{}), nil)
	v, err := plain.Invoke("Guard", "main")
	if err != nil || v != "caught" {
		t.Fatalf("expected handler to catch, got %v %v", v, err)
	}

	exclude := func(cf *bytecode.ClassFile) (*bytecode.ClassFile, error) {
		for i := range cf.Methods {
			for j := range cf.Methods[i].Handlers {
				h := &cf.Methods[i].Handlers[j]
				h.Excludes = append(h.Excludes, "NullPointerException")
			}
		}
		return cf, nil
	}
	guarded := vm.NewThread("", vm.NewClassLoader(classes, vm.LoaderOptions{Transform: exclude}), nil)
	_, err = guarded.Invoke("Guard", "main")
	if got := thrownType(t, err); got != "NullPointerException" {
		t.Fatalf("expected NullPointerException, got %s", got)
	}
}

const spinProgram = `
.class Spin
.method main 0 1
.line 1
Ltry:
    jmp Ltry
Lend:
    return
Lh:
    store 0
    jmp Ltry
.catch * from Ltry to Lend using Lh
.end
`

func TestStopThrowsThreadDeathPastHandlers(t *testing.T) {
	classes := compile(t, map[string]string{"Spin.cell": spinProgram})
	control := vm.NewControl()
	th := vm.NewThread("", vm.NewClassLoader(classes, vm.LoaderOptions{}), control)

	done := make(chan error, 1)
	go func() {
		_, err := th.Invoke("Spin", "main")
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	control.Stop()

	select {
	case err := <-done:
		if got := thrownType(t, err); got != "ThreadDeath" {
			t.Fatalf("expected ThreadDeath, got %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("thread did not stop")
	}
}

const threadsProgram = `
.class Threads
.method main 0 1
.line 1
    pushs "Threads.worker"
    call Thread.start 1
    store 0
    load 0
    call Thread.join 1
    pop
    pushs "joined"
    call Console.println 1
    pop
    pushs "Threads.compute"
    call Dispatcher.submit 1
    call Dispatcher.await 1
    retval
.end
.method worker 0 0
.line 10
    pushs "worker"
    call Console.println 1
    pop
    return
.end
.method compute 0 0
.line 15
    push 6
    push 7
    mul
    retval
.end
`

func TestThreadsAndDispatcher(t *testing.T) {
	out := captureOutput(t)
	classes := compile(t, map[string]string{"Threads.cell": threadsProgram})
	th := vm.NewThread("", vm.NewClassLoader(classes, vm.LoaderOptions{}), nil)

	v, err := th.Invoke("Threads", "main")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if v != int64(42) {
		t.Fatalf("expected 42 from dispatched task, got %v", v)
	}
	if got := out.String(); got != "worker\njoined\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

const failureProgram = `
.class Bad
.field x
.method <clinit> 0 0
.line 1
    push 1
    push 0
    div
    putstatic x
    return
.end
.method main 0 0
.line 3
    getstatic x
    retval
.end

.class Deep
.method main 0 0
.line 1
    call main 0
    retval
.end

.class Concat
.method main 0 0
.line 1
    pushs "a"
    push 1
    add
    retval
.end
`

func TestRuntimeFailures(t *testing.T) {
	classes := compile(t, map[string]string{"Failures.cell": failureProgram})
	th := vm.NewThread("", vm.NewClassLoader(classes, vm.LoaderOptions{}), nil)

	_, err := th.Invoke("Bad", "main")
	if got := thrownType(t, err); got != "ExceptionInInitializerError" {
		t.Fatalf("expected ExceptionInInitializerError, got %s", got)
	}
	_, err = th.Invoke("Bad", "main")
	if got := thrownType(t, err); got != "NoClassDefFoundError" {
		t.Fatalf("expected NoClassDefFoundError, got %s", got)
	}
	_, err = th.Invoke("Deep", "main")
	if got := thrownType(t, err); got != "StackOverflowError" {
		t.Fatalf("expected StackOverflowError, got %s", got)
	}
	_, err = th.Invoke("Missing", "main")
	if got := thrownType(t, err); got != "ClassNotFoundException" {
		t.Fatalf("expected ClassNotFoundException, got %s", got)
	}
	v, err := th.Invoke("Concat", "main")
	if err != nil || v != "a1" {
		t.Fatalf("expected string concatenation, got %v %v", v, err)
	}
}

type denyFiles struct{ vm.AllowAll }

func (denyFiles) CheckPermission(_ *vm.Thread, p vm.Permission) error {
	if p.Type == vm.PermFile {
		return vm.NewThrown(vm.ClassSecurityException, p.String())
	}
	return nil
}

func TestHookDeniesPermission(t *testing.T) {
	prev := vm.InstallHook(denyFiles{})
	t.Cleanup(func() { vm.InstallHook(prev) })

	src := ".class Reader\n.method main 0 0\n.line 1\n    pushs \"/etc/passwd\"\n    call Files.read 1\n    retval\n.end\n"
	classes := compile(t, map[string]string{"Reader.cell": src})
	th := vm.NewThread("", vm.NewClassLoader(classes, vm.LoaderOptions{}), nil)
	_, err := th.Invoke("Reader", "main")
	var thrown *vm.Thrown
	if !errors.As(err, &thrown) || thrown.Type() != "SecurityException" || thrown.Message() != "file /etc/passwd read" {
		t.Fatalf("expected SecurityException, got %v", err)
	}
}

const limitsProgram = `
.class Grow
.method main 0 1
.line 1
    pushs "x"
    store 0
Lloop:
    load 0
    load 0
    add
    store 0
    jmp Lloop
.end
.class Pile
.method main 0 0
.line 1
Lloop:
    push 1
    jmp Lloop
.end
`

func withLimits(t *testing.T, l vm.Limits) {
	t.Helper()
	prev := vm.CurrentLimits()
	vm.SetLimits(l)
	t.Cleanup(func() { vm.SetLimits(prev) })
}

func TestStringGrowthThrowsOutOfMemory(t *testing.T) {
	withLimits(t, vm.Limits{MaxStringBytes: 1024})
	classes := compile(t, map[string]string{"Limits.cell": limitsProgram})
	th := vm.NewThread("", vm.NewClassLoader(classes, vm.LoaderOptions{}), nil)

	_, err := th.Invoke("Grow", "main")
	if got := thrownType(t, err); got != "OutOfMemoryError" {
		t.Fatalf("expected OutOfMemoryError, got %s", got)
	}
	var thrown *vm.Thrown
	errors.As(err, &thrown)
	if !thrown.IsA("Error") {
		t.Fatalf("expected OutOfMemoryError to be an Error")
	}
}

func TestRunAllocationBudget(t *testing.T) {
	withLimits(t, vm.Limits{MaxStringBytes: 1 << 20, MaxRunAllocation: 4096})
	classes := compile(t, map[string]string{"Limits.cell": limitsProgram})
	control := vm.NewControl()
	th := vm.NewThread("", vm.NewClassLoader(classes, vm.LoaderOptions{}), control)

	_, err := th.Invoke("Grow", "main")
	var thrown *vm.Thrown
	if !errors.As(err, &thrown) || thrown.Type() != "OutOfMemoryError" {
		t.Fatalf("expected OutOfMemoryError, got %v", err)
	}
	if thrown.Message() != "run allocation budget exhausted" {
		t.Fatalf("unexpected message %q", thrown.Message())
	}
	if control.Allocated() <= 4096 {
		t.Fatalf("expected allocation past the budget, got %d", control.Allocated())
	}
}

func TestOperandStackOverflow(t *testing.T) {
	withLimits(t, vm.Limits{MaxStackDepth: 16})
	classes := compile(t, map[string]string{"Limits.cell": limitsProgram})
	th := vm.NewThread("", vm.NewClassLoader(classes, vm.LoaderOptions{}), nil)

	_, err := th.Invoke("Pile", "main")
	var thrown *vm.Thrown
	if !errors.As(err, &thrown) || thrown.Type() != "StackOverflowError" {
		t.Fatalf("expected StackOverflowError, got %v", err)
	}
	if thrown.Message() != "operand stack overflow" {
		t.Fatalf("unexpected message %q", thrown.Message())
	}
}
