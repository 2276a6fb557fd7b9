package vm

import (
	"fmt"

	"buildexpr/materializer-go/pkg/image"
	"buildexpr/materializer-go/pkg/runtime"
)

type machine struct {
	prog  *Program
	stack []runtime.Value
	depth int
}

type frame struct {
	fn     *Function
	locals []runtime.Value
	pc     int
}

func (m *machine) call(fn *Function, args []runtime.Value) (runtime.Value, error) {
	if m.depth >= m.prog.maxDepth {
		return nil, runtime.NewFault(fn.Symbol, 0, runtime.ErrCallDepth)
	}
	m.depth++
	defer func() { m.depth-- }()

	f := &frame{fn: fn, locals: make([]runtime.Value, fn.locals)}
	copy(f.locals, args)
	if fn.Receiver != nil && !fn.PointerReceiver {
		if inst, ok := f.locals[0].(*runtime.StructInstance); ok {
			f.locals[0] = inst.Clone()
		}
	}
	base := len(m.stack)
	defer func() { m.stack = m.stack[:base] }()

	code := fn.code
	for f.pc < len(code) {
		instr := code[f.pc]
		switch instr.Op {
		case image.OpNop:
			f.pc++
		case image.OpConst:
			m.stack = append(m.stack, fn.consts[instr.A])
			f.pc++
		case image.OpLoad:
			val := f.locals[instr.A]
			if val == nil {
				return nil, m.fault(f, "read of unassigned local %d", instr.A)
			}
			m.stack = append(m.stack, val)
			f.pc++
		case image.OpStore:
			val, err := m.pop(f, base)
			if err != nil {
				return nil, err
			}
			f.locals[instr.A] = val
			f.pc++
		case image.OpPop:
			if _, err := m.pop(f, base); err != nil {
				return nil, err
			}
			f.pc++
		case image.OpDup:
			if len(m.stack) <= base {
				return nil, m.fault(f, "stack underflow")
			}
			m.stack = append(m.stack, m.stack[len(m.stack)-1])
			f.pc++
		case image.OpField:
			if err := m.execField(f, base, instr); err != nil {
				return nil, err
			}
		case image.OpSetField:
			if err := m.execSetField(f, base, instr); err != nil {
				return nil, err
			}
		case image.OpAddF, image.OpSubF, image.OpMulF, image.OpDivF,
			image.OpEqF, image.OpNeF, image.OpLtF, image.OpLeF, image.OpGtF, image.OpGeF:
			if err := m.execFloatBinary(f, base, instr.Op); err != nil {
				return nil, err
			}
		case image.OpAddI, image.OpSubI, image.OpMulI, image.OpDivI, image.OpRemI,
			image.OpEqI, image.OpNeI, image.OpLtI, image.OpLeI, image.OpGtI, image.OpGeI:
			if err := m.execIntBinary(f, base, instr.Op); err != nil {
				return nil, err
			}
		case image.OpEqB, image.OpNeB:
			if err := m.execBoolBinary(f, base, instr.Op); err != nil {
				return nil, err
			}
		case image.OpNegF, image.OpNegI, image.OpNot, image.OpIntToFloat, image.OpFloatToInt:
			if err := m.execUnary(f, base, instr.Op); err != nil {
				return nil, err
			}
		case image.OpJump:
			f.pc = int(instr.A)
		case image.OpJumpIfFalse:
			val, err := m.pop(f, base)
			if err != nil {
				return nil, err
			}
			cond, ok := val.(runtime.BoolValue)
			if !ok {
				return nil, m.fault(f, "condition is %s, not bool", val.Kind())
			}
			if cond.Val {
				f.pc++
			} else {
				f.pc = int(instr.A)
			}
		case image.OpCall:
			if err := m.execCall(f, base, instr); err != nil {
				return nil, err
			}
		case image.OpCallNative:
			if err := m.execCallNative(f, base, instr); err != nil {
				return nil, err
			}
		case image.OpReturn:
			if instr.A == 0 {
				if fn.Result != runtime.KindVoid {
					return nil, m.fault(f, "missing %s result", fn.Result)
				}
				return runtime.VoidValue{}, nil
			}
			val, err := m.pop(f, base)
			if err != nil {
				return nil, err
			}
			if val.Kind() != fn.Result {
				return nil, m.fault(f, "returned %s, declared %s", val.Kind(), fn.Result)
			}
			return val, nil
		default:
			return nil, m.fault(f, "unknown opcode %s", instr.Op)
		}
	}
	return nil, m.fault(f, "fell off the end of the function")
}

func (m *machine) fault(f *frame, format string, args ...any) error {
	return runtime.Faultf(f.fn.Symbol, f.pc, format, args...)
}

func (m *machine) pop(f *frame, base int) (runtime.Value, error) {
	if len(m.stack) <= base {
		return nil, m.fault(f, "stack underflow")
	}
	last := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return last, nil
}

// popArgs removes the top n values, preserving their order.
func (m *machine) popArgs(f *frame, base, n int) ([]runtime.Value, error) {
	if len(m.stack)-base < n {
		return nil, m.fault(f, "stack underflow")
	}
	args := make([]runtime.Value, n)
	copy(args, m.stack[len(m.stack)-n:])
	m.stack = m.stack[:len(m.stack)-n]
	return args, nil
}

func (m *machine) execField(f *frame, base int, instr image.Instr) error {
	val, err := m.pop(f, base)
	if err != nil {
		return err
	}
	inst, ok := val.(*runtime.StructInstance)
	if !ok || inst == nil {
		return m.fault(f, "field access on %s", val.Kind())
	}
	if int(instr.A) >= len(inst.Fields) {
		return m.fault(f, "field %d out of range for %s", instr.A, inst.Type.Name)
	}
	m.stack = append(m.stack, inst.Fields[instr.A])
	f.pc++
	return nil
}

func (m *machine) execSetField(f *frame, base int, instr image.Instr) error {
	val, err := m.pop(f, base)
	if err != nil {
		return err
	}
	target, err := m.pop(f, base)
	if err != nil {
		return err
	}
	inst, ok := target.(*runtime.StructInstance)
	if !ok || inst == nil {
		return m.fault(f, "field assignment on %s", target.Kind())
	}
	if int(instr.A) >= len(inst.Fields) {
		return m.fault(f, "field %d out of range for %s", instr.A, inst.Type.Name)
	}
	if want := inst.Type.Fields[instr.A].Kind; val.Kind() != want {
		return m.fault(f, "field %s.%s holds %s, not %s", inst.Type.Name, inst.Type.Fields[instr.A].Name, want, val.Kind())
	}
	inst.Fields[instr.A] = val
	f.pc++
	return nil
}

func (m *machine) execCall(f *frame, base int, instr image.Instr) error {
	callee := m.prog.Functions[instr.A]
	args, err := m.popArgs(f, base, int(instr.B))
	if err != nil {
		return err
	}
	if err := m.prog.checkArgs(callee, args); err != nil {
		return m.fault(f, "%v", err)
	}
	result, err := m.call(callee, args)
	if err != nil {
		return err
	}
	if callee.Result != runtime.KindVoid {
		m.stack = append(m.stack, result)
	}
	f.pc++
	return nil
}

func (m *machine) execCallNative(f *frame, base int, instr image.Instr) error {
	native := m.prog.natives[instr.A]
	args, err := m.popArgs(f, base, int(instr.B))
	if err != nil {
		return err
	}
	result, err := native.Fn(args)
	if err != nil {
		return runtime.NewFault(f.fn.Symbol, f.pc, fmt.Errorf("%s: %w", m.prog.symbols[instr.A], err))
	}
	if native.Result != runtime.KindVoid {
		if result == nil || result.Kind() != native.Result {
			return m.fault(f, "%s returned the wrong kind", m.prog.symbols[instr.A])
		}
		m.stack = append(m.stack, result)
	}
	f.pc++
	return nil
}
