// Package image defines the binary module image the source compiler emits and
// the loader links: a checksummed, compressed record of struct types, host
// imports and bytecode functions.
package image

import (
	"errors"
	"fmt"

	"buildexpr/materializer-go/pkg/runtime"
)

// ErrMalformed marks images that cannot be decoded or fail verification.
var ErrMalformed = errors.New("malformed module image")

// NoReceiver marks a plain (non-method) function.
const NoReceiver int32 = -1

type Module struct {
	Name      string
	Imports   []string // host package paths the module depends on
	Natives   []NativeRef
	Types     []Type
	Functions []Function
}

// NativeRef names one host function called by the module.
type NativeRef struct {
	Path   string
	Name   string
	Params []runtime.Kind
	Result runtime.Kind
}

func (n NativeRef) Symbol() string { return n.Path + "." + n.Name }

type Field struct {
	Name string
	Kind runtime.Kind
}

// Type is a generated struct type plus the host interfaces its pointer method
// set implements, spelled "path.Name".
type Type struct {
	Name       string
	Fields     []Field
	Implements []string
}

type Function struct {
	Name            string
	Receiver        int32 // index into Types or NoReceiver
	PointerReceiver bool
	Params          []runtime.Kind // excluding the receiver
	Result          runtime.Kind
	Locals          int32 // slots including receiver and params
	Consts          []runtime.Value
	Code            []Instr
}

// Arity counts the stack arguments a call pops, receiver included.
func (f *Function) Arity() int {
	if f.Receiver != NoReceiver {
		return len(f.Params) + 1
	}
	return len(f.Params)
}

// Symbol is the module-level name: "Name" or "Type.Name" for methods.
func (m *Module) Symbol(fn *Function) string {
	if fn.Receiver == NoReceiver {
		return fn.Name
	}
	if int(fn.Receiver) >= len(m.Types) || fn.Receiver < 0 {
		return "?." + fn.Name
	}
	return m.Types[fn.Receiver].Name + "." + fn.Name
}

type Instr struct {
	Op Op
	A  int32
	B  int32
}

func (i Instr) String() string {
	switch i.Op.operands() {
	case 0:
		return i.Op.String()
	case 1:
		return fmt.Sprintf("%s %d", i.Op, i.A)
	default:
		return fmt.Sprintf("%s %d %d", i.Op, i.A, i.B)
	}
}
