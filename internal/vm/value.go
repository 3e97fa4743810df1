package vm

import (
	"strconv"
)

// Value is any value held on the operand stack, in a local slot or in a
// static field: nil, int64, string, bool, *Object, *ThreadHandle or
// *TaskHandle.
type Value = any

// Object is a throwable instance.
type Object struct {
	Class   *Class
	Message string
	Cause   *Object
}

// Thrown carries a throwable out of the interpreter as a Go error.
type Thrown struct {
	Object *Object
}

// NewThrown builds a throwable of the given class.
func NewThrown(class *Class, message string) *Thrown {
	return &Thrown{Object: &Object{Class: class, Message: message}}
}

func (e *Thrown) Error() string {
	return Stringify(e.Object)
}

// Type returns the class name of the throwable.
func (e *Thrown) Type() string {
	return e.Object.Class.Name
}

// Message returns the detail message, possibly empty.
func (e *Thrown) Message() string {
	return e.Object.Message
}

// IsA reports whether the throwable is an instance of the named class.
func (e *Thrown) IsA(name string) bool {
	return e.Object.Class.IsA(name)
}

// Stringify renders a value the way Console.print does.
func Stringify(v Value) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case *Object:
		if x == nil {
			return "null"
		}
		if x.Message == "" {
			return x.Class.Name
		}
		return x.Class.Name + ": " + x.Message
	case *ThreadHandle:
		return "Thread[" + x.thread.Name() + "]"
	case *TaskHandle:
		return "Task"
	default:
		return "?"
	}
}

func typeName(v Value) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return "String"
	case int64:
		return "Integer"
	case bool:
		return "Boolean"
	case *Object:
		return x.Class.Name
	case *ThreadHandle:
		return "Thread"
	case *TaskHandle:
		return "Task"
	default:
		return "?"
	}
}
