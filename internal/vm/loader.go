package vm

import (
	"fmt"
	"sync"

	"runcell/internal/vm/bytecode"
)

// Loader resolves class names for a thread. Errors are thrown into the
// requesting thread; a missing class should be reported as a
// ClassNotFoundException *Thrown.
type Loader interface {
	LoadClass(t *Thread, name string) (*Class, error)
}

// LoaderOptions customizes a ClassLoader.
type LoaderOptions struct {
	// Transform rewrites each class file before it is defined. It receives
	// a private copy.
	Transform func(cf *bytecode.ClassFile) (*bytecode.ClassFile, error)
	// Filter decides whether a library class may be used. Classes from
	// the byte map are never filtered.
	Filter func(t *Thread, name string) error
	// AllowTrace lets transformed code carry trace instructions.
	AllowTrace bool
}

// ClassLoader defines classes lazily from a name to bytecode map. Library
// classes resolve first and cannot be shadowed.
type ClassLoader struct {
	classes map[string][]byte
	opts    LoaderOptions

	mu       sync.Mutex
	defined  map[string]*Class
	defining map[string]bool
}

func NewClassLoader(classes map[string][]byte, opts LoaderOptions) *ClassLoader {
	return &ClassLoader{
		classes:  classes,
		opts:     opts,
		defined:  make(map[string]*Class),
		defining: make(map[string]bool),
	}
}

// Defines reports whether name is backed by the loader's bytecode.
func (l *ClassLoader) Defines(name string) bool {
	_, ok := l.classes[name]
	return ok
}

// LoadClass implements Loader.
func (l *ClassLoader) LoadClass(t *Thread, name string) (*Class, error) {
	if c, ok := library[name]; ok {
		if l.opts.Filter != nil {
			if err := l.opts.Filter(t, name); err != nil {
				return nil, err
			}
		}
		return c, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.defineLocked(t, name)
}

func (l *ClassLoader) defineLocked(t *Thread, name string) (*Class, error) {
	if c, ok := l.defined[name]; ok {
		return c, nil
	}
	data, ok := l.classes[name]
	if !ok {
		return nil, NewThrown(ClassClassNotFoundException, name)
	}
	if l.defining[name] {
		return nil, NewThrown(ClassVerifyError, "class circularity: "+name)
	}
	l.defining[name] = true
	defer delete(l.defining, name)

	cf, err := bytecode.Decode(data)
	if err != nil {
		return nil, NewThrown(ClassVerifyError, err.Error())
	}
	if cf.Name != name {
		return nil, NewThrown(ClassNoClassDefFoundError, fmt.Sprintf("%s (wrong name: %s)", name, cf.Name))
	}
	if l.opts.Transform != nil {
		cf, err = l.opts.Transform(cf.Clone())
		if err != nil {
			return nil, NewThrown(ClassVerifyError, err.Error())
		}
	}
	if err := bytecode.Verify(cf, bytecode.VerifyOptions{AllowTrace: l.opts.AllowTrace}); err != nil {
		return nil, NewThrown(ClassVerifyError, err.Error())
	}

	var super *Class
	if cf.Super != "" {
		if lib, ok := library[cf.Super]; ok {
			super = lib
		} else {
			super, err = l.defineLocked(t, cf.Super)
			if err != nil {
				return nil, err
			}
		}
	}
	c, err := DefineClass(cf, super)
	if err != nil {
		return nil, NewThrown(ClassVerifyError, err.Error())
	}
	l.defined[name] = c
	return c, nil
}

// Loaded returns the classes defined so far.
func (l *ClassLoader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.defined))
	for name := range l.defined {
		names = append(names, name)
	}
	return names
}
