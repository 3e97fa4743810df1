package vm

import (
	"fmt"
	"sync"

	"runcell/internal/vm/bytecode"
)

type initState int

const (
	initPending initState = iota
	initRunning
	initDone
	initFailed
)

// Class is a defined class. Artifact classes are defined per loader, so
// their static fields and initialization state belong to one loader.
// Library classes are process-wide and carry no state.
type Class struct {
	Name       string
	Super      *Class
	SourceFile string

	library bool
	methods map[string]*bytecode.Method
	natives map[string]Native

	staticMu sync.Mutex
	statics  map[string]Value

	initMu    sync.Mutex
	init      initState
	initOwner int64
	initDone  chan struct{}
}

// Library reports whether c belongs to the runtime library.
func (c *Class) Library() bool {
	return c.library
}

// IsA reports whether c is name or a subclass of it.
func (c *Class) IsA(name string) bool {
	for k := c; k != nil; k = k.Super {
		if k.Name == name {
			return true
		}
	}
	return false
}

// IsThrowable reports whether instances of c can be thrown.
func (c *Class) IsThrowable() bool {
	return c.IsA("Throwable")
}

// HasMethod reports whether c or a superclass declares a bytecode method.
func (c *Class) HasMethod(name string) bool {
	_, _, ok := c.findMethod(name)
	return ok
}

// Method returns the bytecode of a method declared by c or inherited
// from a superclass.
func (c *Class) Method(name string) (*bytecode.Method, bool) {
	m, _, ok := c.findMethod(name)
	return m, ok
}

func (c *Class) findMethod(name string) (*bytecode.Method, *Class, bool) {
	for k := c; k != nil; k = k.Super {
		if m, ok := k.methods[name]; ok {
			return m, k, true
		}
	}
	return nil, nil, false
}

func (c *Class) native(name string) (Native, bool) {
	for k := c; k != nil; k = k.Super {
		if fn, ok := k.natives[name]; ok {
			return fn, true
		}
	}
	return Native{}, false
}

// Static reads a static field without triggering initialization.
func (c *Class) Static(field string) (Value, bool) {
	c.staticMu.Lock()
	defer c.staticMu.Unlock()
	v, ok := c.statics[field]
	return v, ok
}

func (c *Class) setStatic(field string, v Value) bool {
	c.staticMu.Lock()
	defer c.staticMu.Unlock()
	if _, ok := c.statics[field]; !ok {
		return false
	}
	c.statics[field] = v
	return true
}

// DefineClass builds a class from a decoded class file. super must be the
// already defined superclass named by cf.Super, or nil for Object.
func DefineClass(cf *bytecode.ClassFile, super *Class) (*Class, error) {
	if super == nil {
		super = ClassObject
	}
	if cf.Super != "" && cf.Super != super.Name {
		return nil, fmt.Errorf("define %s: superclass %s does not match %s", cf.Name, super.Name, cf.Super)
	}
	c := &Class{
		Name:       cf.Name,
		Super:      super,
		SourceFile: cf.SourceFile,
		methods:    make(map[string]*bytecode.Method, len(cf.Methods)),
		statics:    make(map[string]Value, len(cf.Fields)),
	}
	for i := range cf.Methods {
		m := cf.Methods[i]
		c.methods[m.Name] = &m
	}
	for _, f := range cf.Fields {
		c.statics[f] = nil
	}
	return c, nil
}

var library = map[string]*Class{}

func libraryClass(name string, super *Class) *Class {
	c := &Class{Name: name, Super: super, library: true, natives: map[string]Native{}}
	library[name] = c
	return c
}

// LibraryClass looks up a runtime library class.
func LibraryClass(name string) (*Class, bool) {
	c, ok := library[name]
	return c, ok
}

// Builtin throwable hierarchy.
var (
	ClassObject    = libraryClass("Object", nil)
	ClassThrowable = libraryClass("Throwable", ClassObject)

	ClassException                = libraryClass("Exception", ClassThrowable)
	ClassRuntimeException         = libraryClass("RuntimeException", ClassException)
	ClassNullPointerException     = libraryClass("NullPointerException", ClassRuntimeException)
	ClassArithmeticException      = libraryClass("ArithmeticException", ClassRuntimeException)
	ClassClassCastException       = libraryClass("ClassCastException", ClassRuntimeException)
	ClassIllegalStateException    = libraryClass("IllegalStateException", ClassRuntimeException)
	ClassIllegalArgumentException = libraryClass("IllegalArgumentException", ClassRuntimeException)
	ClassNumberFormatException    = libraryClass("NumberFormatException", ClassIllegalArgumentException)
	ClassIndexOutOfBounds         = libraryClass("IndexOutOfBoundsException", ClassRuntimeException)
	ClassSecurityException        = libraryClass("SecurityException", ClassRuntimeException)
	ClassInterruptedException     = libraryClass("InterruptedException", ClassException)
	ClassClassNotFoundException   = libraryClass("ClassNotFoundException", ClassException)
	ClassIOException              = libraryClass("IOException", ClassException)

	ClassError                       = libraryClass("Error", ClassThrowable)
	ClassThreadDeath                 = libraryClass("ThreadDeath", ClassError)
	ClassStackOverflowError          = libraryClass("StackOverflowError", ClassError)
	ClassNoSuchMethodError           = libraryClass("NoSuchMethodError", ClassError)
	ClassNoSuchFieldError            = libraryClass("NoSuchFieldError", ClassError)
	ClassNoClassDefFoundError        = libraryClass("NoClassDefFoundError", ClassError)
	ClassExceptionInInitializerError = libraryClass("ExceptionInInitializerError", ClassError)
	ClassVerifyError                 = libraryClass("VerifyError", ClassError)
	ClassInternalError               = libraryClass("InternalError", ClassError)
	ClassOutOfMemoryError            = libraryClass("OutOfMemoryError", ClassError)
)
