package sandbox

import (
	"time"

	"runcell/internal/vm"
	"runcell/pkg/errors"
)

const (
	DefaultEntryClass     = "Main"
	DefaultEntryMethod    = "main"
	DefaultTimeout        = 100 * time.Millisecond
	DefaultMaxOutputLines = 1024
)

// DefaultClassBlacklist is used when a request names neither list.
var DefaultClassBlacklist = []string{"Reflect"}

// ClassLoaderConfig restricts which runtime library classes a run may
// use. Entries match a class name exactly or, with a trailing "*", by
// prefix. At most one list may be set.
type ClassLoaderConfig struct {
	Whitelist []string `json:"whitelist,omitempty" yaml:"whitelist"`
	Blacklist []string `json:"blacklist,omitempty" yaml:"blacklist"`
}

// RunRequest describes one execution.
type RunRequest struct {
	EntryClass       string
	EntryMethod      string
	Timeout          time.Duration
	Permissions      []vm.Permission
	UnsafeExceptions []string
	MaxExtraThreads  int
	MaxOutputLines   int
	WaitForShutdown  bool
	ClassLoader      ClassLoaderConfig
	Plugins          []Plugin
}

func (r RunRequest) withDefaults(defaultTimeout time.Duration) (RunRequest, error) {
	if r.EntryClass == "" {
		r.EntryClass = DefaultEntryClass
	}
	if r.EntryMethod == "" {
		r.EntryMethod = DefaultEntryMethod
	}
	if r.Timeout == 0 {
		r.Timeout = defaultTimeout
	}
	if r.MaxOutputLines == 0 {
		r.MaxOutputLines = DefaultMaxOutputLines
	}
	switch {
	case r.Timeout < 0:
		return r, errors.ValidationError("timeout", "must be positive")
	case r.MaxExtraThreads < 0:
		return r, errors.ValidationError("maxExtraThreads", "must not be negative")
	case r.MaxOutputLines < 0:
		return r, errors.ValidationError("maxOutputLines", "must not be negative")
	case len(r.ClassLoader.Whitelist) > 0 && len(r.ClassLoader.Blacklist) > 0:
		return r, errors.New(errors.InvalidRunRequest).WithMessage("class loader whitelist and blacklist are mutually exclusive")
	}
	if len(r.ClassLoader.Whitelist) == 0 && len(r.ClassLoader.Blacklist) == 0 {
		r.ClassLoader.Blacklist = DefaultClassBlacklist
	}
	names := make(map[string]bool, len(r.Plugins))
	for _, p := range r.Plugins {
		if p == nil || names[p.Name()] {
			return r, errors.New(errors.InvalidRunRequest).WithMessage("plugins must be distinct and non-nil")
		}
		names[p.Name()] = true
	}
	return r, nil
}
