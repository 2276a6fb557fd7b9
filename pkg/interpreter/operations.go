package interpreter

import (
	"fmt"
	"go/token"
	"math"

	"buildexpr/materializer-go/pkg/runtime"
)

// applyBinary evaluates a non-logical binary operator. Two ints stay int;
// an int meeting a float64 is widened first.
func applyBinary(op token.Token, left, right runtime.Value) (runtime.Value, error) {
	if l, ok := left.(runtime.IntegerValue); ok {
		if r, ok := right.(runtime.IntegerValue); ok {
			return intBinary(op, l.Val, r.Val)
		}
	}
	if l, ok := left.(runtime.BoolValue); ok {
		if r, ok := right.(runtime.BoolValue); ok {
			switch op {
			case token.EQL:
				return runtime.BoolValue{Val: l.Val == r.Val}, nil
			case token.NEQ:
				return runtime.BoolValue{Val: l.Val != r.Val}, nil
			}
		}
	}
	l, lok := numeric(left)
	r, rok := numeric(right)
	if !lok || !rok {
		return nil, fmt.Errorf("invalid operation: %s %s %s", left.Kind(), op, right.Kind())
	}
	return floatBinary(op, l, r)
}

func numeric(v runtime.Value) (float64, bool) {
	if _, ok := v.(runtime.BoolValue); ok {
		return 0, false
	}
	return runtime.AsFloat(v)
}

func intBinary(op token.Token, l, r int64) (runtime.Value, error) {
	switch op {
	case token.ADD:
		return runtime.IntegerValue{Val: l + r}, nil
	case token.SUB:
		return runtime.IntegerValue{Val: l - r}, nil
	case token.MUL:
		return runtime.IntegerValue{Val: l * r}, nil
	case token.QUO, token.REM:
		if r == 0 {
			return nil, runtime.ErrDivideByZero
		}
		if r == -1 {
			if op == token.QUO {
				return runtime.IntegerValue{Val: -l}, nil
			}
			return runtime.IntegerValue{Val: 0}, nil
		}
		if op == token.QUO {
			return runtime.IntegerValue{Val: l / r}, nil
		}
		return runtime.IntegerValue{Val: l % r}, nil
	}
	return compare(op, intCompare(l, r))
}

func floatBinary(op token.Token, l, r float64) (runtime.Value, error) {
	switch op {
	case token.ADD:
		return runtime.FloatValue{Val: l + r}, nil
	case token.SUB:
		return runtime.FloatValue{Val: l - r}, nil
	case token.MUL:
		return runtime.FloatValue{Val: l * r}, nil
	case token.QUO:
		return runtime.FloatValue{Val: l / r}, nil
	case token.REM:
		return nil, fmt.Errorf("invalid operation: operator %% not defined on float64")
	}
	// NaN compares unequal to everything, including itself.
	if math.IsNaN(l) || math.IsNaN(r) {
		return runtime.BoolValue{Val: op == token.NEQ}, nil
	}
	c := 0
	if l < r {
		c = -1
	} else if l > r {
		c = 1
	}
	return compare(op, c)
}

func intCompare(l, r int64) int {
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	default:
		return 0
	}
}

func compare(op token.Token, c int) (runtime.Value, error) {
	switch op {
	case token.EQL:
		return runtime.BoolValue{Val: c == 0}, nil
	case token.NEQ:
		return runtime.BoolValue{Val: c != 0}, nil
	case token.LSS:
		return runtime.BoolValue{Val: c < 0}, nil
	case token.LEQ:
		return runtime.BoolValue{Val: c <= 0}, nil
	case token.GTR:
		return runtime.BoolValue{Val: c > 0}, nil
	case token.GEQ:
		return runtime.BoolValue{Val: c >= 0}, nil
	}
	return nil, fmt.Errorf("operator %s is not supported", op)
}

// convert applies a float64(...) or int(...) conversion.
func convert(v runtime.Value, to string) (runtime.Value, error) {
	switch n := v.(type) {
	case runtime.FloatValue:
		if to == "float64" {
			return n, nil
		}
		if math.IsNaN(n.Val) || math.IsInf(n.Val, 0) {
			return nil, fmt.Errorf("cannot convert %s to int", runtime.Format(n))
		}
		return runtime.IntegerValue{Val: int64(n.Val)}, nil
	case runtime.IntegerValue:
		if to == "int" {
			return n, nil
		}
		return runtime.FloatValue{Val: float64(n.Val)}, nil
	}
	return nil, fmt.Errorf("cannot convert %s to %s", v.Kind(), to)
}
