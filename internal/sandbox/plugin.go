package sandbox

import (
	"runcell/internal/vm"
	"runcell/internal/vm/bytecode"
)

// Plugin instruments classes as the isolated loader defines them and
// collects data for one run.
type Plugin interface {
	Name() string
	// Instrument rewrites a private copy of a class file.
	Instrument(cf *bytecode.ClassFile) (*bytecode.ClassFile, error)
	NewCollector() Collector
}

// Collector receives trace events from threads owned by a run. It must be
// safe for concurrent use.
type Collector interface {
	Trace(t *vm.Thread, source string, line int)
	Result() any
}
