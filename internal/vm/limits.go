package vm

import (
	"fmt"
	"sync/atomic"
)

const (
	// DefaultMaxCallDepth bounds nested calls per thread.
	DefaultMaxCallDepth = 1024
	// DefaultMaxStackDepth bounds the operand stack of one frame.
	DefaultMaxStackDepth = 1024
	// DefaultMaxStringBytes bounds a single string built by the program.
	DefaultMaxStringBytes = 4 << 20
	// DefaultMaxRunAllocation bounds the bytes of strings one run may
	// build over its lifetime.
	DefaultMaxRunAllocation = 256 << 20
)

var (
	maxCallDepth     atomic.Int64
	maxStackDepth    atomic.Int64
	maxStringBytes   atomic.Int64
	maxRunAllocation atomic.Int64
)

func init() {
	SetLimits(Limits{})
}

// Limits caps what a program may consume. Zero fields take the defaults.
type Limits struct {
	MaxCallDepth     int
	MaxStackDepth    int
	MaxStringBytes   int
	MaxRunAllocation int64
}

// SetLimits replaces the process-wide interpreter limits.
func SetLimits(l Limits) {
	maxCallDepth.Store(int64(orDefault(l.MaxCallDepth, DefaultMaxCallDepth)))
	maxStackDepth.Store(int64(orDefault(l.MaxStackDepth, DefaultMaxStackDepth)))
	maxStringBytes.Store(int64(orDefault(l.MaxStringBytes, DefaultMaxStringBytes)))
	if l.MaxRunAllocation <= 0 {
		l.MaxRunAllocation = DefaultMaxRunAllocation
	}
	maxRunAllocation.Store(l.MaxRunAllocation)
}

// CurrentLimits returns the limits in effect.
func CurrentLimits() Limits {
	return Limits{
		MaxCallDepth:     int(maxCallDepth.Load()),
		MaxStackDepth:    int(maxStackDepth.Load()),
		MaxStringBytes:   int(maxStringBytes.Load()),
		MaxRunAllocation: maxRunAllocation.Load(),
	}
}

func orDefault(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

func isString(v Value) bool {
	_, ok := v.(string)
	return ok
}

// concat builds a+b as strings, charging the result to the thread's run.
// The length is checked before the string is built.
func (t *Thread) concat(a, b Value) (Value, *Thrown) {
	sa, sb := Stringify(a), Stringify(b)
	n := len(sa) + len(sb)
	if int64(n) > maxStringBytes.Load() {
		return nil, NewThrown(ClassOutOfMemoryError, fmt.Sprintf("string of %d bytes exceeds the %d byte limit", n, maxStringBytes.Load()))
	}
	if !t.control.charge(n) {
		return nil, NewThrown(ClassOutOfMemoryError, "run allocation budget exhausted")
	}
	return sa + sb, nil
}
