package bytecode

import (
	"fmt"
	"sort"
)

// InsertBefore returns a copy of m with the given instructions placed in
// front of the original instruction at each key. Jumps, handler ranges,
// handler targets and line entries that referred to an original PC now
// refer to the start of the inserted block, so inserted code runs on
// every path that reaches that PC. Inserted instructions must not jump.
func InsertBefore(m Method, inserts map[int][]Instr) (Method, error) {
	if len(inserts) == 0 {
		return m.clone(), nil
	}
	n := len(m.Code)
	pcs := make([]int, 0, len(inserts))
	for pc, block := range inserts {
		if pc < 0 || pc >= n {
			return Method{}, fmt.Errorf("insert at pc %d outside method %s (len %d)", pc, m.Name, n)
		}
		for _, in := range block {
			if in.Op.IsJump() {
				return Method{}, fmt.Errorf("inserted block at pc %d contains a jump", pc)
			}
		}
		pcs = append(pcs, pc)
	}
	sort.Ints(pcs)

	// blockStart[old] is the new PC of the first instruction placed in
	// front of old (or of old itself when nothing was inserted).
	blockStart := make([]int, n+1)
	shift := 0
	next := 0
	for old := 0; old <= n; old++ {
		blockStart[old] = old + shift
		if next < len(pcs) && pcs[next] == old {
			shift += len(inserts[old])
			next++
		}
	}

	out := m.clone()
	out.Code = make([]Instr, 0, n+shift)
	for old, in := range m.Code {
		out.Code = append(out.Code, inserts[old]...)
		if in.Op.IsJump() {
			target := int(in.A)
			if target < 0 || target > n {
				return Method{}, fmt.Errorf("jump at pc %d to %d outside method %s", old, target, m.Name)
			}
			in.A = int64(blockStart[target])
		}
		out.Code = append(out.Code, in)
	}
	for i := range out.Handlers {
		h := &out.Handlers[i]
		if h.Start < 0 || h.End > n || h.Target < 0 || h.Target >= n {
			return Method{}, fmt.Errorf("handler %d of method %s out of range", i, m.Name)
		}
		h.Start = blockStart[h.Start]
		h.End = blockStart[h.End]
		h.Target = blockStart[h.Target]
	}
	for i := range out.Lines {
		e := &out.Lines[i]
		if e.PC < 0 || e.PC >= n {
			return Method{}, fmt.Errorf("line entry %d of method %s out of range", i, m.Name)
		}
		e.PC = blockStart[e.PC]
	}
	return out, nil
}
