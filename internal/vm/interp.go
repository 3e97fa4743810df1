package vm

import (
	"fmt"
	"strings"

	"runcell/internal/vm/bytecode"
)

func splitRef(ref string) (string, string) {
	i := strings.LastIndexByte(ref, '.')
	if i <= 0 || i == len(ref)-1 {
		return "", ref
	}
	return ref[:i], ref[i+1:]
}

func (t *Thread) loadClass(name string) (*Class, *Thrown) {
	if t.loader == nil {
		if c, ok := library[name]; ok {
			return c, nil
		}
		return nil, NewThrown(ClassClassNotFoundException, name)
	}
	c, err := t.loader.LoadClass(t, name)
	if err != nil {
		return nil, asThrown(err)
	}
	return c, nil
}

func (t *Thread) invokeStatic(className, method string, args []Value) (Value, *Thrown) {
	if t.control.Stopped() {
		return nil, threadDeath()
	}
	if className == "" {
		return nil, NewThrown(ClassNoSuchMethodError, method)
	}
	c, thrown := t.loadClass(className)
	if thrown != nil {
		return nil, thrown
	}
	if m, owner, ok := c.findMethod(method); ok {
		if m.Params != len(args) {
			return nil, NewThrown(ClassNoSuchMethodError, fmt.Sprintf("%s.%s/%d", className, method, len(args)))
		}
		if thrown := t.ensureInit(owner); thrown != nil {
			return nil, thrown
		}
		return t.run(owner, m, args)
	}
	if fn, ok := c.native(method); ok {
		if fn.Arity != len(args) {
			return nil, NewThrown(ClassNoSuchMethodError, fmt.Sprintf("%s.%s/%d", className, method, len(args)))
		}
		return t.callNative(className+"."+method, fn, args)
	}
	return nil, NewThrown(ClassNoSuchMethodError, className+"."+method)
}

func (t *Thread) callNative(name string, fn Native, args []Value) (v Value, thrown *Thrown) {
	defer func() {
		if r := recover(); r != nil {
			v, thrown = nil, NewThrown(ClassInternalError, fmt.Sprintf("%s: %v", name, r))
		}
	}()
	out, err := fn.Fn(t, args)
	if err != nil {
		return nil, asThrown(err)
	}
	return out, nil
}

// ensureInit runs the static initializer of c once per class. A thread
// already initializing c proceeds; other threads wait for it.
func (t *Thread) ensureInit(c *Class) *Thrown {
	if c.library {
		return nil
	}
	for {
		c.initMu.Lock()
		switch c.init {
		case initDone:
			c.initMu.Unlock()
			return nil
		case initFailed:
			c.initMu.Unlock()
			return NewThrown(ClassNoClassDefFoundError, "Could not initialize class "+c.Name)
		case initRunning:
			if c.initOwner == t.id {
				c.initMu.Unlock()
				return nil
			}
			ch := c.initDone
			c.initMu.Unlock()
			select {
			case <-ch:
			case <-t.control.Done():
				return threadDeath()
			}
		default:
			c.init = initRunning
			c.initOwner = t.id
			ch := make(chan struct{})
			c.initDone = ch
			c.initMu.Unlock()

			thrown := t.runInitializer(c)

			c.initMu.Lock()
			if thrown != nil {
				c.init = initFailed
			} else {
				c.init = initDone
			}
			close(ch)
			c.initMu.Unlock()
			return thrown
		}
	}
}

func (t *Thread) runInitializer(c *Class) *Thrown {
	if c.Super != nil {
		if thrown := t.ensureInit(c.Super); thrown != nil {
			return thrown
		}
	}
	m, ok := c.methods[bytecode.ClinitName]
	if !ok {
		return nil
	}
	_, thrown := t.run(c, m, nil)
	if thrown == nil || thrown.IsA("Error") {
		return thrown
	}
	wrapped := NewThrown(ClassExceptionInInitializerError, Stringify(thrown.Object))
	wrapped.Object.Cause = thrown.Object
	return wrapped
}

func (t *Thread) handlerFor(m *bytecode.Method, pc int, thrown *Thrown) int {
	if t.control.Stopped() {
		return -1
	}
	cls := thrown.Object.Class
next:
	for _, h := range m.Handlers {
		if pc < h.Start || pc >= h.End {
			continue
		}
		if !h.CatchesAll() && !cls.IsA(h.Type) {
			continue
		}
		for _, x := range h.Excludes {
			if cls.IsA(x) {
				continue next
			}
		}
		return h.Target
	}
	return -1
}

func (t *Thread) run(c *Class, m *bytecode.Method, args []Value) (Value, *Thrown) {
	if int64(t.depth) >= maxCallDepth.Load() {
		return nil, NewThrown(ClassStackOverflowError, "")
	}
	t.depth++
	defer func() { t.depth-- }()

	locals := make([]Value, m.Locals)
	copy(locals, args)
	stack := make([]Value, 0, 8)
	pc := 0

	for {
		cur := pc
		var thrown *Thrown
		if t.control.Stopped() {
			thrown = threadDeath()
		} else if pc < 0 || pc >= len(m.Code) {
			thrown = NewThrown(ClassVerifyError, fmt.Sprintf("%s.%s: pc %d out of range", c.Name, m.Name, pc))
		} else {
			in := m.Code[pc]
			pc++
			var ret Value
			var done bool
			stack, ret, done, pc, thrown = t.step(c, in, locals, stack, pc)
			if done {
				return ret, nil
			}
			if thrown == nil && int64(len(stack)) > maxStackDepth.Load() {
				thrown = NewThrown(ClassStackOverflowError, "operand stack overflow")
			}
		}
		if thrown == nil {
			continue
		}
		target := t.handlerFor(m, cur, thrown)
		if target < 0 {
			return nil, thrown
		}
		stack = append(stack[:0], thrown.Object)
		pc = target
	}
}

// step executes one instruction. It returns the updated stack and pc, and
// done with the return value once the method returns.
func (t *Thread) step(c *Class, in bytecode.Instr, locals, stack []Value, pc int) ([]Value, Value, bool, int, *Thrown) {
	pop := func() (Value, bool) {
		if len(stack) == 0 {
			return nil, false
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, true
	}
	fail := func(thrown *Thrown) ([]Value, Value, bool, int, *Thrown) {
		return stack, nil, false, pc, thrown
	}
	underflow := func() ([]Value, Value, bool, int, *Thrown) {
		return fail(NewThrown(ClassVerifyError, "operand stack underflow"))
	}

	switch in.Op {
	case bytecode.OpNop:
	case bytecode.OpPush:
		stack = append(stack, in.A)
	case bytecode.OpPushStr:
		stack = append(stack, in.S)
	case bytecode.OpPushNil:
		stack = append(stack, nil)
	case bytecode.OpPushBool:
		stack = append(stack, in.A != 0)
	case bytecode.OpLoad:
		stack = append(stack, locals[in.A])
	case bytecode.OpStore:
		v, ok := pop()
		if !ok {
			return underflow()
		}
		locals[in.A] = v
	case bytecode.OpGetStatic, bytecode.OpPutStatic:
		className, field := splitRef(in.S)
		owner, thrown := t.loadClass(className)
		if thrown != nil {
			return fail(thrown)
		}
		if thrown := t.ensureInit(owner); thrown != nil {
			return fail(thrown)
		}
		if in.Op == bytecode.OpGetStatic {
			v, ok := owner.Static(field)
			if !ok {
				return fail(NewThrown(ClassNoSuchFieldError, in.S))
			}
			stack = append(stack, v)
			break
		}
		v, ok := pop()
		if !ok {
			return underflow()
		}
		if !owner.setStatic(field, v) {
			return fail(NewThrown(ClassNoSuchFieldError, in.S))
		}
	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod,
		bytecode.OpEq, bytecode.OpNe, bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
		b, ok1 := pop()
		a, ok2 := pop()
		if !ok1 || !ok2 {
			return underflow()
		}
		var v Value
		var thrown *Thrown
		if in.Op == bytecode.OpAdd && (isString(a) || isString(b)) {
			v, thrown = t.concat(a, b)
		} else {
			v, thrown = binary(in.Op, a, b)
		}
		if thrown != nil {
			return fail(thrown)
		}
		stack = append(stack, v)
	case bytecode.OpNeg:
		v, ok := pop()
		if !ok {
			return underflow()
		}
		n, isInt := v.(int64)
		if !isInt {
			return fail(castError(v, "Integer"))
		}
		stack = append(stack, -n)
	case bytecode.OpNot:
		v, ok := pop()
		if !ok {
			return underflow()
		}
		b, isBool := v.(bool)
		if !isBool {
			return fail(castError(v, "Boolean"))
		}
		stack = append(stack, !b)
	case bytecode.OpJump:
		pc = int(in.A)
	case bytecode.OpJumpIf, bytecode.OpJumpIfNot:
		v, ok := pop()
		if !ok {
			return underflow()
		}
		b, isBool := v.(bool)
		if !isBool {
			return fail(castError(v, "Boolean"))
		}
		if b == (in.Op == bytecode.OpJumpIf) {
			pc = int(in.A)
		}
	case bytecode.OpCall:
		argc := int(in.A)
		if len(stack) < argc {
			return underflow()
		}
		args := make([]Value, argc)
		copy(args, stack[len(stack)-argc:])
		stack = stack[:len(stack)-argc]
		className, method := splitRef(in.S)
		v, thrown := t.invokeStatic(className, method, args)
		if thrown != nil {
			return fail(thrown)
		}
		stack = append(stack, v)
	case bytecode.OpReturn:
		return stack, nil, true, pc, nil
	case bytecode.OpReturnValue:
		v, ok := pop()
		if !ok {
			return underflow()
		}
		return stack, v, true, pc, nil
	case bytecode.OpPop:
		if _, ok := pop(); !ok {
			return underflow()
		}
	case bytecode.OpDup:
		if len(stack) == 0 {
			return underflow()
		}
		stack = append(stack, stack[len(stack)-1])
	case bytecode.OpNew:
		msg, ok := pop()
		if !ok {
			return underflow()
		}
		cls, thrown := t.loadClass(in.S)
		if thrown != nil {
			return fail(thrown)
		}
		if !cls.IsThrowable() {
			return fail(NewThrown(ClassVerifyError, "cannot instantiate "+cls.Name))
		}
		if thrown := t.ensureInit(cls); thrown != nil {
			return fail(thrown)
		}
		obj := &Object{Class: cls}
		if msg != nil {
			obj.Message = Stringify(msg)
		}
		stack = append(stack, obj)
	case bytecode.OpThrow:
		v, ok := pop()
		if !ok {
			return underflow()
		}
		switch x := v.(type) {
		case nil:
			return fail(NewThrown(ClassNullPointerException, "throw null"))
		case *Object:
			return fail(&Thrown{Object: x})
		default:
			return fail(castError(v, "Throwable"))
		}
	case bytecode.OpTrace:
		hook().Trace(t, in.S, int(in.A))
	default:
		return fail(NewThrown(ClassVerifyError, "unknown opcode "+in.Op.String()))
	}
	return stack, nil, false, pc, nil
}

func castError(v Value, want string) *Thrown {
	return NewThrown(ClassClassCastException, fmt.Sprintf("%s cannot be cast to %s", typeName(v), want))
}

func binary(op bytecode.Op, a, b Value) (Value, *Thrown) {
	switch op {
	case bytecode.OpEq:
		return a == b, nil
	case bytecode.OpNe:
		return a != b, nil
	}
	switch x := a.(type) {
	case int64:
		y, ok := b.(int64)
		if !ok {
			return nil, castError(b, "Integer")
		}
		return intOp(op, x, y)
	case string:
		y, ok := b.(string)
		if !ok {
			return nil, castError(b, "String")
		}
		if v, ok := compare(op, strings.Compare(x, y)); ok {
			return v, nil
		}
		return nil, castError(a, "Integer")
	default:
		return nil, castError(a, "Integer")
	}
}

func intOp(op bytecode.Op, x, y int64) (Value, *Thrown) {
	switch op {
	case bytecode.OpAdd:
		return x + y, nil
	case bytecode.OpSub:
		return x - y, nil
	case bytecode.OpMul:
		return x * y, nil
	case bytecode.OpDiv, bytecode.OpMod:
		if y == 0 {
			return nil, NewThrown(ClassArithmeticException, "/ by zero")
		}
		if op == bytecode.OpDiv {
			return x / y, nil
		}
		return x % y, nil
	}
	cmp := 0
	if x < y {
		cmp = -1
	} else if x > y {
		cmp = 1
	}
	v, _ := compare(op, cmp)
	return v, nil
}

func compare(op bytecode.Op, cmp int) (Value, bool) {
	switch op {
	case bytecode.OpLt:
		return cmp < 0, true
	case bytecode.OpLe:
		return cmp <= 0, true
	case bytecode.OpGt:
		return cmp > 0, true
	case bytecode.OpGe:
		return cmp >= 0, true
	}
	return nil, false
}
