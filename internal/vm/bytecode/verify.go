package bytecode

import (
	"fmt"
	"strings"
)

// VerifyOptions tunes Verify.
type VerifyOptions struct {
	// AllowTrace permits OpTrace, which only instrumentation may emit.
	AllowTrace bool
}

// Verify checks structural well-formedness of every method in c.
func Verify(c *ClassFile, opts VerifyOptions) error {
	if c.Name == "" {
		return fmt.Errorf("verify: class without name")
	}
	if c.Super == c.Name {
		return fmt.Errorf("verify %s: class extends itself", c.Name)
	}
	seen := make(map[string]bool, len(c.Methods))
	for i := range c.Methods {
		m := &c.Methods[i]
		if seen[m.Name] {
			return fmt.Errorf("verify %s: duplicate method %s", c.Name, m.Name)
		}
		seen[m.Name] = true
		if err := verifyMethod(m, opts); err != nil {
			return fmt.Errorf("verify %s.%s: %w", c.Name, m.Name, err)
		}
	}
	return nil
}

func verifyMethod(m *Method, opts VerifyOptions) error {
	if m.Name == "" {
		return fmt.Errorf("method without name")
	}
	if m.Params < 0 || m.Locals < m.Params {
		return fmt.Errorf("params %d exceed locals %d", m.Params, m.Locals)
	}
	if m.Name == ClinitName && m.Params != 0 {
		return fmt.Errorf("static initializer takes parameters")
	}
	n := len(m.Code)
	if n == 0 {
		return fmt.Errorf("empty code")
	}
	for pc, in := range m.Code {
		if !in.Op.Valid() {
			return fmt.Errorf("pc %d: unknown opcode %d", pc, in.Op)
		}
		switch in.Op {
		case OpJump, OpJumpIf, OpJumpIfNot:
			if in.A < 0 || in.A >= int64(n) {
				return fmt.Errorf("pc %d: jump target %d out of range", pc, in.A)
			}
		case OpLoad, OpStore:
			if in.A < 0 || in.A >= int64(m.Locals) {
				return fmt.Errorf("pc %d: local %d out of range", pc, in.A)
			}
		case OpCall:
			if in.A < 0 || !strings.Contains(in.S, ".") {
				return fmt.Errorf("pc %d: bad call %q/%d", pc, in.S, in.A)
			}
		case OpGetStatic, OpPutStatic:
			if !strings.Contains(in.S, ".") {
				return fmt.Errorf("pc %d: unqualified field %q", pc, in.S)
			}
		case OpNew:
			if in.S == "" {
				return fmt.Errorf("pc %d: new without type", pc)
			}
		case OpTrace:
			if !opts.AllowTrace {
				return fmt.Errorf("pc %d: trace outside instrumented code", pc)
			}
		}
	}
	last := m.Code[n-1].Op
	if last != OpReturn && last != OpReturnValue && last != OpThrow && last != OpJump {
		return fmt.Errorf("code falls off the end")
	}
	for i, h := range m.Handlers {
		if h.Start < 0 || h.Start >= h.End || h.End > n {
			return fmt.Errorf("handler %d: bad range [%d, %d)", i, h.Start, h.End)
		}
		if h.Target < 0 || h.Target >= n {
			return fmt.Errorf("handler %d: target %d out of range", i, h.Target)
		}
	}
	prev := -1
	for i, e := range m.Lines {
		if e.PC < 0 || e.PC >= n || e.PC < prev {
			return fmt.Errorf("line entry %d: bad pc %d", i, e.PC)
		}
		prev = e.PC
	}
	return nil
}
