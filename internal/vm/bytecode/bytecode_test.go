package bytecode_test

import (
	"bytes"
	"testing"

	"runcell/internal/vm/bytecode"
)

func sampleClass() *bytecode.ClassFile {
	return &bytecode.ClassFile{
		Name:       "Main",
		SourceFile: "Main.cell",
		Fields:     []string{"count"},
		Methods: []bytecode.Method{{
			Name:   "main",
			Locals: 1,
			Code: []bytecode.Instr{
				{Op: bytecode.OpPush, A: 1},
				{Op: bytecode.OpStore, A: 0},
				{Op: bytecode.OpLoad, A: 0},
				{Op: bytecode.OpJumpIfNot, A: 5},
				{Op: bytecode.OpJump, A: 2},
				{Op: bytecode.OpReturn},
			},
			Handlers: []bytecode.Handler{{Start: 2, End: 5, Target: 5, Type: "Exception"}},
			Lines:    []bytecode.LineEntry{{PC: 0, Line: 1}, {PC: 2, Line: 2}, {PC: 5, Line: 3}},
		}},
	}
}

func TestEncodeDecodeDeterministic(t *testing.T) {
	a, err := bytecode.Encode(sampleClass())
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	b, err := bytecode.Encode(sampleClass())
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("expected identical encodings")
	}
	decoded, err := bytecode.Decode(a)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Name != "Main" || decoded.Version != bytecode.Version || len(decoded.Methods) != 1 {
		t.Fatalf("unexpected decoded class: %+v", decoded)
	}
	if _, err := bytecode.Decode([]byte("JUNK")); err == nil {
		t.Fatalf("expected bad magic error")
	}
}

func TestInsertBeforeRemapsTargets(t *testing.T) {
	m := sampleClass().Methods[0]
	trace := bytecode.Instr{Op: bytecode.OpTrace, S: "Main.cell"}
	out, err := bytecode.InsertBefore(m, map[int][]bytecode.Instr{
		0: {trace},
		2: {trace},
		5: {trace},
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if len(out.Code) != len(m.Code)+3 {
		t.Fatalf("unexpected code length %d", len(out.Code))
	}
	// original pc 2 moved to 4, its trace block starts at 3
	if out.Code[3].Op != bytecode.OpTrace || out.Code[4].Op != bytecode.OpLoad {
		t.Fatalf("unexpected layout: %+v", out.Code)
	}
	if jmp := out.Code[6]; jmp.Op != bytecode.OpJump || jmp.A != 3 {
		t.Fatalf("expected back jump to trace block, got %+v", jmp)
	}
	if jif := out.Code[5]; jif.Op != bytecode.OpJumpIfNot || jif.A != 7 {
		t.Fatalf("expected forward jump to trace block, got %+v", jif)
	}
	h := out.Handlers[0]
	if h.Start != 3 || h.End != 7 || h.Target != 7 {
		t.Fatalf("unexpected handler remap: %+v", h)
	}
	if out.Lines[1].PC != 3 || out.Lines[2].PC != 7 {
		t.Fatalf("unexpected line remap: %+v", out.Lines)
	}
	if m.Code[4].A != 2 {
		t.Fatalf("input method must not be modified")
	}
	c := sampleClass()
	c.Methods[0] = out
	if err := bytecode.Verify(c, bytecode.VerifyOptions{AllowTrace: true}); err != nil {
		t.Fatalf("rewritten class failed verification: %v", err)
	}
	if err := bytecode.Verify(c, bytecode.VerifyOptions{}); err == nil {
		t.Fatalf("expected trace to be rejected without AllowTrace")
	}
}

func TestVerifyRejectsBrokenCode(t *testing.T) {
	c := sampleClass()
	c.Methods[0].Code[4].A = 99
	if err := bytecode.Verify(c, bytecode.VerifyOptions{}); err == nil {
		t.Fatalf("expected out of range jump to fail")
	}
	c = sampleClass()
	c.Methods[0].Code = c.Methods[0].Code[:4]
	if err := bytecode.Verify(c, bytecode.VerifyOptions{}); err == nil {
		t.Fatalf("expected fall-through to fail")
	}
}

func TestLineAt(t *testing.T) {
	m := sampleClass().Methods[0]
	if got := m.LineAt(3); got != 2 {
		t.Fatalf("expected line 2, got %d", got)
	}
}
