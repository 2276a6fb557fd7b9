package vm

import (
	"math"

	"buildexpr/materializer-go/pkg/image"
	"buildexpr/materializer-go/pkg/runtime"
)

func (m *machine) execFloatBinary(f *frame, base int, op image.Op) error {
	right, err := m.pop(f, base)
	if err != nil {
		return err
	}
	left, err := m.pop(f, base)
	if err != nil {
		return err
	}
	l, lok := left.(runtime.FloatValue)
	r, rok := right.(runtime.FloatValue)
	if !lok || !rok {
		return m.fault(f, "%s needs float64 operands, got %s and %s", op, left.Kind(), right.Kind())
	}
	var result runtime.Value
	switch op {
	case image.OpAddF:
		result = runtime.FloatValue{Val: l.Val + r.Val}
	case image.OpSubF:
		result = runtime.FloatValue{Val: l.Val - r.Val}
	case image.OpMulF:
		result = runtime.FloatValue{Val: l.Val * r.Val}
	case image.OpDivF:
		result = runtime.FloatValue{Val: l.Val / r.Val}
	case image.OpEqF:
		result = runtime.BoolValue{Val: l.Val == r.Val}
	case image.OpNeF:
		result = runtime.BoolValue{Val: l.Val != r.Val}
	case image.OpLtF:
		result = runtime.BoolValue{Val: l.Val < r.Val}
	case image.OpLeF:
		result = runtime.BoolValue{Val: l.Val <= r.Val}
	case image.OpGtF:
		result = runtime.BoolValue{Val: l.Val > r.Val}
	default:
		result = runtime.BoolValue{Val: l.Val >= r.Val}
	}
	m.stack = append(m.stack, result)
	f.pc++
	return nil
}

func (m *machine) execIntBinary(f *frame, base int, op image.Op) error {
	right, err := m.pop(f, base)
	if err != nil {
		return err
	}
	left, err := m.pop(f, base)
	if err != nil {
		return err
	}
	l, lok := left.(runtime.IntegerValue)
	r, rok := right.(runtime.IntegerValue)
	if !lok || !rok {
		return m.fault(f, "%s needs int operands, got %s and %s", op, left.Kind(), right.Kind())
	}
	var result runtime.Value
	switch op {
	case image.OpAddI:
		result = runtime.IntegerValue{Val: l.Val + r.Val}
	case image.OpSubI:
		result = runtime.IntegerValue{Val: l.Val - r.Val}
	case image.OpMulI:
		result = runtime.IntegerValue{Val: l.Val * r.Val}
	case image.OpDivI, image.OpRemI:
		if r.Val == 0 {
			return runtime.NewFault(f.fn.Symbol, f.pc, runtime.ErrDivideByZero)
		}
		// MinInt64 / -1 wraps like Go instead of trapping.
		if r.Val == -1 {
			if op == image.OpDivI {
				result = runtime.IntegerValue{Val: -l.Val}
			} else {
				result = runtime.IntegerValue{Val: 0}
			}
		} else if op == image.OpDivI {
			result = runtime.IntegerValue{Val: l.Val / r.Val}
		} else {
			result = runtime.IntegerValue{Val: l.Val % r.Val}
		}
	case image.OpEqI:
		result = runtime.BoolValue{Val: l.Val == r.Val}
	case image.OpNeI:
		result = runtime.BoolValue{Val: l.Val != r.Val}
	case image.OpLtI:
		result = runtime.BoolValue{Val: l.Val < r.Val}
	case image.OpLeI:
		result = runtime.BoolValue{Val: l.Val <= r.Val}
	case image.OpGtI:
		result = runtime.BoolValue{Val: l.Val > r.Val}
	default:
		result = runtime.BoolValue{Val: l.Val >= r.Val}
	}
	m.stack = append(m.stack, result)
	f.pc++
	return nil
}

func (m *machine) execBoolBinary(f *frame, base int, op image.Op) error {
	right, err := m.pop(f, base)
	if err != nil {
		return err
	}
	left, err := m.pop(f, base)
	if err != nil {
		return err
	}
	l, lok := left.(runtime.BoolValue)
	r, rok := right.(runtime.BoolValue)
	if !lok || !rok {
		return m.fault(f, "%s needs bool operands, got %s and %s", op, left.Kind(), right.Kind())
	}
	if op == image.OpEqB {
		m.stack = append(m.stack, runtime.BoolValue{Val: l.Val == r.Val})
	} else {
		m.stack = append(m.stack, runtime.BoolValue{Val: l.Val != r.Val})
	}
	f.pc++
	return nil
}

func (m *machine) execUnary(f *frame, base int, op image.Op) error {
	operand, err := m.pop(f, base)
	if err != nil {
		return err
	}
	var result runtime.Value
	switch v := operand.(type) {
	case runtime.FloatValue:
		switch op {
		case image.OpNegF:
			result = runtime.FloatValue{Val: -v.Val}
		case image.OpFloatToInt:
			result = runtime.IntegerValue{Val: floatToInt(v.Val)}
		}
	case runtime.IntegerValue:
		switch op {
		case image.OpNegI:
			result = runtime.IntegerValue{Val: -v.Val}
		case image.OpIntToFloat:
			result = runtime.FloatValue{Val: float64(v.Val)}
		}
	case runtime.BoolValue:
		if op == image.OpNot {
			result = runtime.BoolValue{Val: !v.Val}
		}
	}
	if result == nil {
		return m.fault(f, "%s cannot apply to %s", op, operand.Kind())
	}
	m.stack = append(m.stack, result)
	f.pc++
	return nil
}

// floatToInt truncates toward zero; NaN and out-of-range values saturate so
// the result does not depend on the host architecture.
func floatToInt(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	default:
		return int64(v)
	}
}
