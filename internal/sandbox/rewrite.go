package sandbox

import (
	"slices"

	"runcell/internal/vm"
	"runcell/internal/vm/bytecode"
)

// hierarchy resolves superclass chains across artifact and library
// classes without defining anything.
type hierarchy struct {
	supers map[string]string
}

func (h hierarchy) ancestors(name string) []string {
	var chain []string
	seen := make(map[string]bool)
	for name != "" && !seen[name] {
		seen[name] = true
		chain = append(chain, name)
		if super, ok := h.supers[name]; ok {
			if super == "" {
				super = vm.ClassObject.Name
			}
			name = super
			continue
		}
		if c, ok := vm.LibraryClass(name); ok {
			for k := c.Super; k != nil; k = k.Super {
				chain = append(chain, k.Name)
			}
		}
		break
	}
	return chain
}

func (h hierarchy) isThrowable(name string) bool {
	return slices.Contains(h.ancestors(name), vm.ClassThrowable.Name)
}

// relatedToUnsafe reports whether a handler of type handlerType could
// intercept an instance of unsafe: it catches everything, it names a
// supertype of unsafe, or it names a subtype of unsafe.
func (h hierarchy) relatedToUnsafe(handlerType, unsafe string) bool {
	if handlerType == "" {
		return true
	}
	return slices.Contains(h.ancestors(unsafe), handlerType) || slices.Contains(h.ancestors(handlerType), unsafe)
}

// stripUnsafeHandlers marks every handler that could intercept an unsafe
// throwable so the interpreter skips it for those types. Neither catch
// bodies nor finally bodies run for an unsafe throwable.
func stripUnsafeHandlers(cf *bytecode.ClassFile, unsafe []string, h hierarchy) {
	for i := range cf.Methods {
		m := &cf.Methods[i]
		for j := range m.Handlers {
			hd := &m.Handlers[j]
			for _, u := range unsafe {
				if h.relatedToUnsafe(hd.Type, u) && !slices.Contains(hd.Excludes, u) {
					hd.Excludes = append(hd.Excludes, u)
				}
			}
		}
	}
}
