// Package compiler contains the reference compiler for cell assembly
// sources (.cell files).
package compiler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"runcell/internal/artifact"
	"runcell/internal/vm/bytecode"
)

// Name is the compiler name recorded in artifacts and cache keys.
const Name = "cellasm"

// Assembler implements artifact.Compiler for cell assembly.
type Assembler struct{}

func NewAssembler() *Assembler {
	return &Assembler{}
}

func (a *Assembler) Name() string {
	return Name
}

// Compile assembles every file of src. Files are processed in path order
// so diagnostics are deterministic.
func (a *Assembler) Compile(ctx context.Context, src artifact.Source, opts artifact.CompileOptions) (*artifact.CompileOutput, error) {
	asm := &assembly{opts: opts, classes: make(map[string]*bytecode.ClassFile), origin: make(map[string]artifact.Location)}
	for _, path := range src.Paths() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, _ := src.File(path)
		asm.file(path, content)
	}

	diags := asm.diags
	failed := false
	for i := range diags {
		if diags[i].Severity == artifact.SeverityWarning && opts.WarningsAsErrors {
			diags[i].Severity = artifact.SeverityError
		}
		if diags[i].Severity == artifact.SeverityError {
			failed = true
		}
	}
	if failed {
		return nil, &artifact.CompileError{Diagnostics: diags}
	}

	out := &artifact.CompileOutput{Classes: make(map[string][]byte, len(asm.classes)), Diagnostics: diags}
	for name, cf := range asm.classes {
		data, err := bytecode.Encode(cf)
		if err != nil {
			return nil, err
		}
		out.Classes[name] = data
	}
	return out, nil
}

type fixup struct {
	pc    int
	label string
	loc   artifact.Location
}

type catchDecl struct {
	typ               string
	from, to, handler string
	loc               artifact.Location
}

type methodBuilder struct {
	m         bytecode.Method
	loc       artifact.Location
	labels    map[string]int
	labelLocs map[string]artifact.Location
	used      map[string]bool
	fixups    []fixup
	catches   []catchDecl
}

type assembly struct {
	opts    artifact.CompileOptions
	diags   []artifact.Diagnostic
	classes map[string]*bytecode.ClassFile
	origin  map[string]artifact.Location

	path   string
	class  *bytecode.ClassFile
	method *methodBuilder
}

func (a *assembly) report(sev artifact.Severity, loc artifact.Location, format string, args ...any) {
	a.diags = append(a.diags, artifact.Diagnostic{Severity: sev, Location: loc, Message: fmt.Sprintf(format, args...)})
}

func (a *assembly) errorf(loc artifact.Location, format string, args ...any) {
	a.report(artifact.SeverityError, loc, format, args...)
}

func (a *assembly) file(path, content string) {
	a.path = path
	a.class = nil
	a.method = nil
	before := len(a.classes)
	lines := strings.Split(content, "\n")
	for i, raw := range lines {
		lineNo := i + 1
		toks, err := tokenize(raw)
		if err != nil {
			a.errorf(artifact.Location{Source: path, Line: lineNo}, "%v", err)
			continue
		}
		a.line(lineNo, toks)
	}
	if a.method != nil {
		a.errorf(a.method.loc, "method %s is missing .end", a.method.m.Name)
		a.method = nil
	}
	if len(a.classes) == before {
		a.report(artifact.SeverityWarning, artifact.Location{Source: path}, "file defines no classes")
	}
}

func (a *assembly) line(lineNo int, toks []token) {
	if len(toks) == 0 {
		return
	}
	loc := func(t token) artifact.Location {
		return artifact.Location{Source: a.path, Line: lineNo, Column: t.col}
	}
	head := toks[0]
	if !head.quoted && strings.HasSuffix(head.text, ":") && len(head.text) > 1 {
		a.label(strings.TrimSuffix(head.text, ":"), loc(head))
		toks = toks[1:]
		if len(toks) == 0 {
			return
		}
		head = toks[0]
	}
	if !head.quoted && strings.HasPrefix(head.text, ".") {
		a.directive(head.text, toks[1:], loc(head), loc)
		return
	}
	a.instruction(toks, loc)
}

func (a *assembly) label(name string, loc artifact.Location) {
	if a.method == nil {
		a.errorf(loc, "label %s outside method", name)
		return
	}
	if _, dup := a.method.labels[name]; dup {
		a.errorf(loc, "duplicate label %s", name)
		return
	}
	a.method.labels[name] = len(a.method.m.Code)
	a.method.labelLocs[name] = loc
}

func (a *assembly) directive(name string, args []token, at artifact.Location, loc func(token) artifact.Location) {
	switch name {
	case ".class":
		if len(args) != 1 {
			a.errorf(at, ".class takes one name")
			return
		}
		if a.method != nil {
			a.errorf(a.method.loc, "method %s is missing .end", a.method.m.Name)
			a.method = nil
		}
		className := args[0].text
		if prev, dup := a.origin[className]; dup {
			a.errorf(loc(args[0]), "duplicate class %s (first defined at %s:%d)", className, prev.Source, prev.Line)
			a.class = &bytecode.ClassFile{Name: className}
			return
		}
		a.class = &bytecode.ClassFile{Name: className, SourceFile: a.path}
		a.classes[className] = a.class
		a.origin[className] = loc(args[0])
	case ".super", ".source":
		if a.class == nil || a.method != nil || len(args) != 1 {
			a.errorf(at, "%s takes one argument inside a class header", name)
			return
		}
		if name == ".super" {
			a.class.Super = args[0].text
		} else {
			a.class.SourceFile = args[0].text
		}
	case ".field":
		if a.class == nil || a.method != nil || len(args) == 0 {
			a.errorf(at, ".field needs names inside a class header")
			return
		}
		for _, f := range args {
			a.class.Fields = append(a.class.Fields, f.text)
		}
	case ".method":
		a.beginMethod(args, at, loc)
	case ".end":
		if a.method == nil {
			a.errorf(at, ".end without .method")
			return
		}
		a.endMethod()
	case ".line":
		if a.method == nil || len(args) != 1 {
			a.errorf(at, ".line takes one number inside a method")
			return
		}
		n, err := strconv.Atoi(args[0].text)
		if err != nil || n <= 0 {
			a.errorf(loc(args[0]), "bad line number %q", args[0].text)
			return
		}
		if !a.opts.EmitLineNumbers {
			return
		}
		m := &a.method.m
		pc := len(m.Code)
		if k := len(m.Lines); k > 0 && m.Lines[k-1].PC == pc {
			m.Lines[k-1].Line = n
			return
		}
		m.Lines = append(m.Lines, bytecode.LineEntry{PC: pc, Line: n})
	case ".catch":
		a.catch(args, at, loc)
	default:
		a.errorf(at, "unknown directive %s", name)
	}
}

func (a *assembly) beginMethod(args []token, at artifact.Location, loc func(token) artifact.Location) {
	if a.class == nil {
		a.errorf(at, ".method outside class")
		return
	}
	if a.method != nil {
		a.errorf(a.method.loc, "method %s is missing .end", a.method.m.Name)
	}
	if len(args) < 1 || len(args) > 3 {
		a.errorf(at, ".method takes a name, parameter count and local count")
		return
	}
	nums := []int{0, -1}
	for i, t := range args[1:] {
		n, err := strconv.Atoi(t.text)
		if err != nil || n < 0 {
			a.errorf(loc(t), "bad count %q", t.text)
			return
		}
		nums[i] = n
	}
	if nums[1] < 0 {
		nums[1] = nums[0]
	}
	a.method = &methodBuilder{
		m:         bytecode.Method{Name: args[0].text, Params: nums[0], Locals: nums[1]},
		loc:       loc(args[0]),
		labels:    make(map[string]int),
		labelLocs: make(map[string]artifact.Location),
		used:      make(map[string]bool),
	}
}

func (a *assembly) catch(args []token, at artifact.Location, loc func(token) artifact.Location) {
	if a.method == nil {
		a.errorf(at, ".catch outside method")
		return
	}
	if len(args) != 7 || args[1].text != "from" || args[3].text != "to" || args[5].text != "using" {
		a.errorf(at, "expected .catch <Type|*> from <label> to <label> using <label>")
		return
	}
	typ := args[0].text
	if typ == "*" {
		typ = ""
	}
	a.method.catches = append(a.method.catches, catchDecl{
		typ: typ, from: args[2].text, to: args[4].text, handler: args[6].text, loc: loc(args[0]),
	})
}

func (a *assembly) resolve(mb *methodBuilder, name string, loc artifact.Location) (int, bool) {
	pc, ok := mb.labels[name]
	if !ok {
		a.errorf(loc, "undefined label %s", name)
		return 0, false
	}
	mb.used[name] = true
	return pc, true
}

func (a *assembly) endMethod() {
	mb := a.method
	a.method = nil
	for _, f := range mb.fixups {
		if pc, ok := a.resolve(mb, f.label, f.loc); ok {
			mb.m.Code[f.pc].A = int64(pc)
		}
	}
	for _, c := range mb.catches {
		from, ok1 := a.resolve(mb, c.from, c.loc)
		to, ok2 := a.resolve(mb, c.to, c.loc)
		target, ok3 := a.resolve(mb, c.handler, c.loc)
		if ok1 && ok2 && ok3 {
			mb.m.Handlers = append(mb.m.Handlers, bytecode.Handler{Start: from, End: to, Target: target, Type: c.typ})
		}
	}
	unused := make([]string, 0)
	for name := range mb.labelLocs {
		if !mb.used[name] {
			unused = append(unused, name)
		}
	}
	sort.Strings(unused)
	for _, name := range unused {
		a.report(artifact.SeverityWarning, mb.labelLocs[name], "label %s is never used", name)
	}
	if a.opts.EmitLineNumbers && len(mb.m.Lines) == 0 {
		a.report(artifact.SeverityWarning, mb.loc, "method %s has no line information", mb.m.Name)
	}
	if _, dup := a.class.Method(mb.m.Name); dup {
		a.errorf(mb.loc, "duplicate method %s.%s", a.class.Name, mb.m.Name)
		return
	}
	probe := bytecode.ClassFile{Name: a.class.Name, Methods: []bytecode.Method{mb.m}}
	if err := bytecode.Verify(&probe, bytecode.VerifyOptions{}); err != nil {
		a.errorf(mb.loc, "%v", err)
		return
	}
	a.class.Methods = append(a.class.Methods, mb.m)
}

func (a *assembly) qualify(ref string) string {
	if strings.Contains(ref, ".") {
		return ref
	}
	return a.class.Name + "." + ref
}

func (a *assembly) instruction(toks []token, loc func(token) artifact.Location) {
	head := toks[0]
	args := toks[1:]
	if a.method == nil {
		a.errorf(loc(head), "instruction %s outside method", head.text)
		return
	}
	op, ok := bytecode.LookupOp(head.text)
	if !ok || head.quoted {
		a.errorf(loc(head), "unknown instruction %s", head.text)
		return
	}
	want := 0
	switch op {
	case bytecode.OpPush, bytecode.OpPushStr, bytecode.OpPushBool, bytecode.OpLoad, bytecode.OpStore,
		bytecode.OpGetStatic, bytecode.OpPutStatic, bytecode.OpJump, bytecode.OpJumpIf, bytecode.OpJumpIfNot,
		bytecode.OpNew:
		want = 1
	case bytecode.OpCall:
		want = -1
	case bytecode.OpTrace:
		a.errorf(loc(head), "instruction trace is reserved")
		return
	}
	if want >= 0 && len(args) != want {
		a.errorf(loc(head), "%s takes %d operand(s), got %d", op, want, len(args))
		return
	}
	if op != bytecode.OpPushStr {
		for _, t := range args {
			if t.quoted {
				a.errorf(loc(t), "unexpected string operand")
				return
			}
		}
	}

	in := bytecode.Instr{Op: op}
	mb := a.method
	switch op {
	case bytecode.OpPush, bytecode.OpLoad, bytecode.OpStore:
		n, err := strconv.ParseInt(args[0].text, 10, 64)
		if err != nil {
			a.errorf(loc(args[0]), "bad integer %q", args[0].text)
			return
		}
		if op != bytecode.OpPush && (n < 0 || n >= int64(mb.m.Locals)) {
			a.errorf(loc(args[0]), "local %d out of range (method has %d)", n, mb.m.Locals)
			return
		}
		in.A = n
	case bytecode.OpPushStr:
		if !args[0].quoted {
			a.errorf(loc(args[0]), "pushs expects a quoted string")
			return
		}
		in.S = args[0].text
	case bytecode.OpPushBool:
		switch args[0].text {
		case "true":
			in.A = 1
		case "false":
		default:
			a.errorf(loc(args[0]), "bad boolean %q", args[0].text)
			return
		}
	case bytecode.OpGetStatic, bytecode.OpPutStatic:
		in.S = a.qualify(args[0].text)
	case bytecode.OpJump, bytecode.OpJumpIf, bytecode.OpJumpIfNot:
		mb.fixups = append(mb.fixups, fixup{pc: len(mb.m.Code), label: args[0].text, loc: loc(args[0])})
	case bytecode.OpNew:
		in.S = args[0].text
	case bytecode.OpCall:
		if len(args) < 1 || len(args) > 2 {
			a.errorf(loc(head), "call takes a method reference and an optional argument count")
			return
		}
		in.S = a.qualify(args[0].text)
		if len(args) == 2 {
			n, err := strconv.Atoi(args[1].text)
			if err != nil || n < 0 {
				a.errorf(loc(args[1]), "bad argument count %q", args[1].text)
				return
			}
			in.A = int64(n)
		}
	}
	mb.m.Code = append(mb.m.Code, in)
}
