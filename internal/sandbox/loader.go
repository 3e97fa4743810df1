package sandbox

import (
	"strings"

	"runcell/internal/artifact"
	"runcell/internal/vm"
	"runcell/internal/vm/bytecode"
	"runcell/pkg/errors"
)

// IsolatedLoader defines an artifact's classes for exactly one run. Every
// class is rewritten on first use: handlers that could intercept unsafe
// throwables are neutralized and plugins instrument the code. Nothing it
// defines is visible to other runs.
type IsolatedLoader struct {
	*vm.ClassLoader
	hier hierarchy
}

// NewIsolatedLoader validates the policy's unsafe exceptions against the
// artifact and prepares a loader. Denied library classes are recorded on
// run's audit log.
func NewIsolatedLoader(art *artifact.CompiledArtifact, policy *Policy, cfg ClassLoaderConfig, plugins []Plugin, run *RunContext) (*IsolatedLoader, error) {
	classes := art.Classes()
	hier := hierarchy{supers: make(map[string]string, len(classes))}
	for name, data := range classes {
		cf, err := bytecode.Decode(data)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ArtifactDecodeFailed, "decode class %s", name)
		}
		hier.supers[name] = cf.Super
	}
	unsafe := policy.Unsafe()
	for _, u := range unsafe {
		if !hier.isThrowable(u) {
			return nil, errors.Newf(errors.InvalidUnsafeType, "unsafe exception %s is not a throwable", u)
		}
	}

	transform := func(cf *bytecode.ClassFile) (*bytecode.ClassFile, error) {
		stripUnsafeHandlers(cf, unsafe, hier)
		for _, p := range plugins {
			var err error
			if cf, err = p.Instrument(cf); err != nil {
				return nil, err
			}
		}
		return cf, nil
	}
	filter := func(_ *vm.Thread, name string) error {
		if classAllowed(cfg, name) {
			return nil
		}
		if run != nil {
			run.record(vm.Permission{Type: vm.PermRuntime, Target: "loadClass." + name}, false)
		}
		return vm.NewThrown(vm.ClassClassNotFoundException, name)
	}

	return &IsolatedLoader{
		ClassLoader: vm.NewClassLoader(classes, vm.LoaderOptions{
			Transform:  transform,
			Filter:     filter,
			AllowTrace: len(plugins) > 0,
		}),
		hier: hier,
	}, nil
}

func classAllowed(cfg ClassLoaderConfig, name string) bool {
	if c, ok := vm.LibraryClass(name); ok && (c.IsThrowable() || c == vm.ClassObject) {
		return true
	}
	if len(cfg.Whitelist) > 0 {
		return matchesAny(cfg.Whitelist, name)
	}
	return !matchesAny(cfg.Blacklist, name)
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if p == name || (strings.HasSuffix(p, "*") && strings.HasPrefix(name, strings.TrimSuffix(p, "*"))) {
			return true
		}
	}
	return false
}
