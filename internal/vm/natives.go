package vm

import (
	"net"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Native is a runtime library method implemented in Go.
type Native struct {
	Arity int
	Fn    func(t *Thread, args []Value) (Value, error)
}

// Runtime library classes.
var (
	ClassConsole    = libraryClass("Console", ClassObject)
	ClassThread     = libraryClass("Thread", ClassObject)
	ClassDispatcher = libraryClass("Dispatcher", ClassObject)
	ClassFiles      = libraryClass("Files", ClassObject)
	ClassSystem     = libraryClass("System", ClassObject)
	ClassNet        = libraryClass("Net", ClassObject)
	ClassString     = libraryClass("String", ClassObject)
	ClassInteger    = libraryClass("Integer", ClassObject)
	ClassReflect    = libraryClass("Reflect", ClassObject)
)

// Permission types checked by the runtime library.
const (
	PermFile     = "file"
	PermProperty = "property"
	PermRuntime  = "runtime"
	PermNet      = "net"
)

var properties = map[string]string{
	"os.name":         runtime.GOOS,
	"os.arch":         runtime.GOARCH,
	"line.separator":  "\n",
	"file.separator":  "/",
	"path.separator":  ":",
	"runcell.version": "1",
}

func init() {
	def := func(c *Class, name string, arity int, fn func(t *Thread, args []Value) (Value, error)) {
		c.natives[name] = Native{Arity: arity, Fn: fn}
	}

	def(ClassConsole, "print", 1, printTo(false, false))
	def(ClassConsole, "println", 1, printTo(false, true))
	def(ClassConsole, "eprint", 1, printTo(true, false))
	def(ClassConsole, "eprintln", 1, printTo(true, true))
	def(ClassConsole, "setOut", 1, func(t *Thread, _ []Value) (Value, error) {
		return nil, check(t, PermRuntime, "setIO", "")
	})

	def(ClassThread, "start", 1, threadStart)
	def(ClassThread, "join", 1, threadJoin)
	def(ClassThread, "sleep", 1, threadSleep)
	def(ClassThread, "current", 0, func(t *Thread, _ []Value) (Value, error) {
		return t.Name(), nil
	})

	def(ClassDispatcher, "submit", 1, dispatcherSubmit)
	def(ClassDispatcher, "await", 1, dispatcherAwait)

	def(ClassFiles, "read", 1, func(t *Thread, args []Value) (Value, error) {
		path, err := stringArg(args[0])
		if err != nil {
			return nil, err
		}
		if err := check(t, PermFile, path, "read"); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, NewThrown(ClassIOException, err.Error())
		}
		return string(data), nil
	})
	def(ClassFiles, "write", 2, func(t *Thread, args []Value) (Value, error) {
		path, err := stringArg(args[0])
		if err != nil {
			return nil, err
		}
		if err := check(t, PermFile, path, "write"); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(Stringify(args[1])), 0o644); err != nil {
			return nil, NewThrown(ClassIOException, err.Error())
		}
		return nil, nil
	})

	def(ClassSystem, "getProperty", 1, func(t *Thread, args []Value) (Value, error) {
		name, err := stringArg(args[0])
		if err != nil {
			return nil, err
		}
		if err := check(t, PermProperty, name, "read"); err != nil {
			return nil, err
		}
		if v, ok := properties[name]; ok {
			return v, nil
		}
		return nil, nil
	})
	def(ClassSystem, "getenv", 1, func(t *Thread, args []Value) (Value, error) {
		name, err := stringArg(args[0])
		if err != nil {
			return nil, err
		}
		if err := check(t, PermRuntime, "getenv."+name, ""); err != nil {
			return nil, err
		}
		if v, ok := os.LookupEnv(name); ok {
			return v, nil
		}
		return nil, nil
	})
	def(ClassSystem, "exit", 1, func(t *Thread, args []Value) (Value, error) {
		code, ok := args[0].(int64)
		if !ok {
			return nil, castError(args[0], "Integer")
		}
		if err := check(t, PermRuntime, "exitVM."+strconv.FormatInt(code, 10), ""); err != nil {
			return nil, err
		}
		os.Exit(int(code))
		return nil, nil
	})
	def(ClassSystem, "currentTimeMillis", 0, func(*Thread, []Value) (Value, error) {
		return time.Now().UnixMilli(), nil
	})

	def(ClassNet, "connect", 2, func(t *Thread, args []Value) (Value, error) {
		host, err := stringArg(args[0])
		if err != nil {
			return nil, err
		}
		port, ok := args[1].(int64)
		if !ok {
			return nil, castError(args[1], "Integer")
		}
		addr := net.JoinHostPort(host, strconv.FormatInt(port, 10))
		if err := check(t, PermNet, addr, "connect"); err != nil {
			return nil, err
		}
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err != nil {
			return nil, NewThrown(ClassIOException, err.Error())
		}
		_ = conn.Close()
		return true, nil
	})

	def(ClassObject, "toString", 1, func(_ *Thread, args []Value) (Value, error) {
		if args[0] == nil {
			return nil, NewThrown(ClassNullPointerException, "toString on null")
		}
		return Stringify(args[0]), nil
	})
	def(ClassThrowable, "getMessage", 1, func(_ *Thread, args []Value) (Value, error) {
		obj, ok := args[0].(*Object)
		if !ok || obj == nil {
			if args[0] == nil {
				return nil, NewThrown(ClassNullPointerException, "getMessage on null")
			}
			return nil, castError(args[0], "Throwable")
		}
		if obj.Message == "" {
			return nil, nil
		}
		return obj.Message, nil
	})
	def(ClassString, "length", 1, func(_ *Thread, args []Value) (Value, error) {
		s, err := stringArg(args[0])
		if err != nil {
			return nil, err
		}
		return int64(len([]rune(s))), nil
	})
	def(ClassInteger, "parse", 1, func(_ *Thread, args []Value) (Value, error) {
		s, err := stringArg(args[0])
		if err != nil {
			return nil, err
		}
		n, perr := strconv.ParseInt(s, 10, 64)
		if perr != nil {
			return nil, NewThrown(ClassNumberFormatException, "For input string: \""+s+"\"")
		}
		return n, nil
	})
	def(ClassReflect, "getStatic", 1, func(t *Thread, args []Value) (Value, error) {
		ref, err := stringArg(args[0])
		if err != nil {
			return nil, err
		}
		className, field := splitRef(ref)
		c, thrown := t.loadClass(className)
		if thrown != nil {
			return nil, thrown
		}
		v, ok := c.Static(field)
		if !ok {
			return nil, NewThrown(ClassNoSuchFieldError, ref)
		}
		return v, nil
	})
}

func check(t *Thread, typ, target, action string) error {
	return hook().CheckPermission(t, Permission{Type: typ, Target: target, Action: action})
}

func stringArg(v Value) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case nil:
		return "", NewThrown(ClassNullPointerException, "")
	default:
		return "", castError(v, "String")
	}
}

func printTo(stderr, newline bool) func(t *Thread, args []Value) (Value, error) {
	return func(t *Thread, args []Value) (Value, error) {
		text := Stringify(args[0])
		if newline {
			text += "\n"
		}
		s := streams()
		if stderr {
			s.err.WriteFrom(t, []byte(text))
		} else {
			s.out.WriteFrom(t, []byte(text))
		}
		return nil, nil
	}
}
