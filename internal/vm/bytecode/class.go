// Package bytecode defines the cell class-file format: classes, methods,
// exception tables and line tables, plus the codec and the rewriting
// helpers used by instrumentation passes.
package bytecode

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Version is the class-file format version written by Encode.
const Version = 1

// ClinitName is the name of the static initializer method.
const ClinitName = "<clinit>"

var magic = []byte("CELL")

// ClassFile is the decoded form of one compiled class.
type ClassFile struct {
	Version    int      `cbor:"1,keyasint"`
	Name       string   `cbor:"2,keyasint"`
	Super      string   `cbor:"3,keyasint,omitempty"`
	SourceFile string   `cbor:"4,keyasint,omitempty"`
	Fields     []string `cbor:"5,keyasint,omitempty"`
	Methods    []Method `cbor:"6,keyasint,omitempty"`
}

// Method is a static method body.
type Method struct {
	Name     string      `cbor:"1,keyasint"`
	Params   int         `cbor:"2,keyasint"`
	Locals   int         `cbor:"3,keyasint"`
	Code     []Instr     `cbor:"4,keyasint"`
	Handlers []Handler   `cbor:"5,keyasint,omitempty"`
	Lines    []LineEntry `cbor:"6,keyasint,omitempty"`
}

// Instr is one instruction. A carries integers, local slots and jump
// targets; S carries strings, member references and type names.
type Instr struct {
	Op Op     `cbor:"1,keyasint"`
	A  int64  `cbor:"2,keyasint,omitempty"`
	S  string `cbor:"3,keyasint,omitempty"`
}

// Handler is an exception table entry covering [Start, End). An empty
// Type catches every throwable. Instances of any type named in Excludes
// are never intercepted by the handler.
type Handler struct {
	Start    int      `cbor:"1,keyasint"`
	End      int      `cbor:"2,keyasint"`
	Target   int      `cbor:"3,keyasint"`
	Type     string   `cbor:"4,keyasint,omitempty"`
	Excludes []string `cbor:"5,keyasint,omitempty"`
}

// CatchesAll reports whether h is a catch-any (finally) handler.
func (h Handler) CatchesAll() bool {
	return h.Type == ""
}

// LineEntry marks PC as the first instruction of source line Line.
type LineEntry struct {
	PC   int `cbor:"1,keyasint"`
	Line int `cbor:"2,keyasint"`
}

// Method looks up a method by name.
func (c *ClassFile) Method(name string) (*Method, bool) {
	for i := range c.Methods {
		if c.Methods[i].Name == name {
			return &c.Methods[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy so rewriting passes never touch shared data.
func (c *ClassFile) Clone() *ClassFile {
	out := *c
	out.Fields = append([]string(nil), c.Fields...)
	out.Methods = make([]Method, len(c.Methods))
	for i, m := range c.Methods {
		out.Methods[i] = m.clone()
	}
	return &out
}

func (m Method) clone() Method {
	out := m
	out.Code = append([]Instr(nil), m.Code...)
	out.Lines = append([]LineEntry(nil), m.Lines...)
	out.Handlers = make([]Handler, len(m.Handlers))
	for i, h := range m.Handlers {
		h.Excludes = append([]string(nil), h.Excludes...)
		out.Handlers[i] = h
	}
	return out
}

// LineAt returns the source line for pc, or 0 when unknown.
func (m *Method) LineAt(pc int) int {
	line := 0
	for _, e := range m.Lines {
		if e.PC > pc {
			break
		}
		line = e.Line
	}
	return line
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("bytecode: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 20,
	}.DecMode()
	if err != nil {
		panic("bytecode: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode serializes a class file. Equal class files produce identical bytes.
func Encode(c *ClassFile) ([]byte, error) {
	if c.Version == 0 {
		cp := *c
		cp.Version = Version
		c = &cp
	}
	body, err := encMode.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode class %s: %w", c.Name, err)
	}
	out := make([]byte, 0, len(magic)+len(body))
	out = append(out, magic...)
	return append(out, body...), nil
}

// Decode parses bytes produced by Encode.
func Decode(data []byte) (*ClassFile, error) {
	if !bytes.HasPrefix(data, magic) {
		return nil, fmt.Errorf("decode class: bad magic")
	}
	var c ClassFile
	if err := decMode.Unmarshal(data[len(magic):], &c); err != nil {
		return nil, fmt.Errorf("decode class: %w", err)
	}
	if c.Version != Version {
		return nil, fmt.Errorf("decode class %s: unsupported version %d", c.Name, c.Version)
	}
	if c.Name == "" {
		return nil, fmt.Errorf("decode class: missing name")
	}
	return &c, nil
}
