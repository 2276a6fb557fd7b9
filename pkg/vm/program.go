// Package vm executes linked module images. A Program is immutable once
// linked; every call runs on its own machine, so concurrent calls into the
// same program share no mutable state.
package vm

import (
	"errors"
	"fmt"

	"buildexpr/materializer-go/pkg/host"
	"buildexpr/materializer-go/pkg/image"
	"buildexpr/materializer-go/pkg/runtime"
)

// DefaultMaxDepth bounds nested calls inside generated code.
const DefaultMaxDepth = 512

// Function is a linked bytecode function.
type Function struct {
	Symbol          string
	Name            string
	Receiver        *runtime.StructType
	PointerReceiver bool
	Params          []runtime.Kind
	Result          runtime.Kind
	locals          int
	consts          []runtime.Value
	code            []image.Instr
}

// Arity counts the arguments a call takes, receiver included.
func (f *Function) Arity() int {
	if f.Receiver != nil {
		return len(f.Params) + 1
	}
	return len(f.Params)
}

// Program is a linked module.
type Program struct {
	Name      string
	Functions []*Function
	Types     []*runtime.StructType
	natives   []host.Native
	symbols   []string
	maxDepth  int
}

// Link binds a verified image to resolved host natives. natives must be in
// the order of m.Natives.
func Link(m *image.Module, natives []host.Native, maxDepth int) (*Program, error) {
	if m == nil {
		return nil, errors.New("vm: nil module")
	}
	if len(natives) != len(m.Natives) {
		return nil, fmt.Errorf("vm: module needs %d natives, got %d", len(m.Natives), len(natives))
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	p := &Program{
		Name:     m.Name,
		natives:  natives,
		symbols:  make([]string, len(m.Natives)),
		maxDepth: maxDepth,
	}
	for idx, ref := range m.Natives {
		p.symbols[idx] = ref.Symbol()
	}
	p.Types = make([]*runtime.StructType, len(m.Types))
	for idx, t := range m.Types {
		fields := make([]runtime.Field, len(t.Fields))
		for j, f := range t.Fields {
			fields[j] = runtime.Field{Name: f.Name, Kind: f.Kind}
		}
		p.Types[idx] = &runtime.StructType{Name: t.Name, Fields: fields}
	}
	p.Functions = make([]*Function, len(m.Functions))
	for idx := range m.Functions {
		src := &m.Functions[idx]
		fn := &Function{
			Symbol:          m.Symbol(src),
			Name:            src.Name,
			PointerReceiver: src.PointerReceiver,
			Params:          src.Params,
			Result:          src.Result,
			locals:          int(src.Locals),
			consts:          src.Consts,
			code:            src.Code,
		}
		if src.Receiver != image.NoReceiver {
			fn.Receiver = p.Types[src.Receiver]
		}
		p.Functions[idx] = fn
	}
	return p, nil
}

// Call runs fn with args, checking them against its signature first.
func (p *Program) Call(fn *Function, args []runtime.Value) (runtime.Value, error) {
	if fn == nil {
		return nil, errors.New("vm: nil function")
	}
	if err := p.checkArgs(fn, args); err != nil {
		return nil, err
	}
	m := &machine{prog: p, stack: make([]runtime.Value, 0, 16)}
	return m.call(fn, args)
}

func (p *Program) checkArgs(fn *Function, args []runtime.Value) error {
	if len(args) != fn.Arity() {
		return fmt.Errorf("vm: %s takes %d arguments, got %d", fn.Symbol, fn.Arity(), len(args))
	}
	params := args
	if fn.Receiver != nil {
		inst, ok := args[0].(*runtime.StructInstance)
		if !ok || inst == nil || inst.Type != fn.Receiver {
			return fmt.Errorf("vm: %s needs a %s receiver", fn.Symbol, fn.Receiver.Name)
		}
		params = args[1:]
	}
	for idx, want := range fn.Params {
		if params[idx] == nil || params[idx].Kind() != want {
			got := "nil"
			if params[idx] != nil {
				got = params[idx].Kind().String()
			}
			return fmt.Errorf("vm: %s argument %d: want %s, got %s", fn.Symbol, idx, want, got)
		}
	}
	return nil
}
