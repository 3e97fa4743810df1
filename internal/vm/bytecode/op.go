package bytecode

import "fmt"

// Op is a single cell VM opcode.
type Op uint8

const (
	OpNop Op = iota
	OpPush
	OpPushStr
	OpPushNil
	OpPushBool
	OpLoad
	OpStore
	OpGetStatic
	OpPutStatic
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpNot
	OpJump
	OpJumpIf
	OpJumpIfNot
	OpCall
	OpReturn
	OpReturnValue
	OpPop
	OpDup
	OpNew
	OpThrow
	// OpTrace is only emitted by instrumentation passes.
	OpTrace

	opCount
)

var opNames = [opCount]string{
	OpNop:         "nop",
	OpPush:        "push",
	OpPushStr:     "pushs",
	OpPushNil:     "pushnil",
	OpPushBool:    "pushbool",
	OpLoad:        "load",
	OpStore:       "store",
	OpGetStatic:   "getstatic",
	OpPutStatic:   "putstatic",
	OpAdd:         "add",
	OpSub:         "sub",
	OpMul:         "mul",
	OpDiv:         "div",
	OpMod:         "mod",
	OpNeg:         "neg",
	OpEq:          "eq",
	OpNe:          "ne",
	OpLt:          "lt",
	OpLe:          "le",
	OpGt:          "gt",
	OpGe:          "ge",
	OpNot:         "not",
	OpJump:        "jmp",
	OpJumpIf:      "jif",
	OpJumpIfNot:   "jifnot",
	OpCall:        "call",
	OpReturn:      "return",
	OpReturnValue: "retval",
	OpPop:         "pop",
	OpDup:         "dup",
	OpNew:         "new",
	OpThrow:       "throw",
	OpTrace:       "trace",
}

var opByName = func() map[string]Op {
	m := make(map[string]Op, len(opNames))
	for i, name := range opNames {
		m[name] = Op(i)
	}
	return m
}()

func (o Op) String() string {
	if o < opCount {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Valid reports whether o is a known opcode.
func (o Op) Valid() bool {
	return o < opCount
}

// IsJump reports whether A holds a code offset for o.
func (o Op) IsJump() bool {
	return o == OpJump || o == OpJumpIf || o == OpJumpIfNot
}

// LookupOp resolves a mnemonic.
func LookupOp(name string) (Op, bool) {
	op, ok := opByName[name]
	return op, ok
}
