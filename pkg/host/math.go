package host

import (
	"fmt"
	"math"

	"buildexpr/materializer-go/pkg/runtime"
)

const mathSource = `package math

const (
	Pi = 3.14159265358979323846264338327950288419716939937510582097494459
	E  = 2.71828182845904523536028747135266249775724709369995957496696763
)

func Sqrt(x float64) float64
func Abs(x float64) float64
func Floor(x float64) float64
func Ceil(x float64) float64
func Trunc(x float64) float64
func Exp(x float64) float64
func Log(x float64) float64
func Sin(x float64) float64
func Cos(x float64) float64
func Pow(x, y float64) float64
func Hypot(p, q float64) float64
func Min(x, y float64) float64
func Max(x, y float64) float64
func Mod(x, y float64) float64
func Inf(sign int) float64
func NaN() float64
func IsNaN(f float64) bool
func IsInf(f float64, sign int) bool
`

func mathPackage() *Package {
	return &Package{
		Path:   "math",
		Source: mathSource,
		Natives: map[string]Native{
			"Sqrt":  float1(math.Sqrt),
			"Abs":   float1(math.Abs),
			"Floor": float1(math.Floor),
			"Ceil":  float1(math.Ceil),
			"Trunc": float1(math.Trunc),
			"Exp":   float1(math.Exp),
			"Log":   float1(math.Log),
			"Sin":   float1(math.Sin),
			"Cos":   float1(math.Cos),
			"Pow":   float2(math.Pow),
			"Hypot": float2(math.Hypot),
			"Min":   float2(math.Min),
			"Max":   float2(math.Max),
			"Mod":   float2(math.Mod),
			"Inf": {
				Params: []runtime.Kind{runtime.KindInteger},
				Result: runtime.KindFloat,
				Fn: func(args []runtime.Value) (runtime.Value, error) {
					sign, err := intArg(args, 0)
					if err != nil {
						return nil, err
					}
					return runtime.FloatValue{Val: math.Inf(int(sign))}, nil
				},
			},
			"NaN": {
				Result: runtime.KindFloat,
				Fn: func([]runtime.Value) (runtime.Value, error) {
					return runtime.FloatValue{Val: math.NaN()}, nil
				},
			},
			"IsNaN": {
				Params: []runtime.Kind{runtime.KindFloat},
				Result: runtime.KindBool,
				Fn: func(args []runtime.Value) (runtime.Value, error) {
					f, err := floatArg(args, 0)
					if err != nil {
						return nil, err
					}
					return runtime.BoolValue{Val: math.IsNaN(f)}, nil
				},
			},
			"IsInf": {
				Params: []runtime.Kind{runtime.KindFloat, runtime.KindInteger},
				Result: runtime.KindBool,
				Fn: func(args []runtime.Value) (runtime.Value, error) {
					f, err := floatArg(args, 0)
					if err != nil {
						return nil, err
					}
					sign, err := intArg(args, 1)
					if err != nil {
						return nil, err
					}
					return runtime.BoolValue{Val: math.IsInf(f, int(sign))}, nil
				},
			},
		},
	}
}

func float1(fn func(float64) float64) Native {
	return Native{
		Params: []runtime.Kind{runtime.KindFloat},
		Result: runtime.KindFloat,
		Fn: func(args []runtime.Value) (runtime.Value, error) {
			x, err := floatArg(args, 0)
			if err != nil {
				return nil, err
			}
			return runtime.FloatValue{Val: fn(x)}, nil
		},
	}
}

func float2(fn func(float64, float64) float64) Native {
	return Native{
		Params: []runtime.Kind{runtime.KindFloat, runtime.KindFloat},
		Result: runtime.KindFloat,
		Fn: func(args []runtime.Value) (runtime.Value, error) {
			x, err := floatArg(args, 0)
			if err != nil {
				return nil, err
			}
			y, err := floatArg(args, 1)
			if err != nil {
				return nil, err
			}
			return runtime.FloatValue{Val: fn(x, y)}, nil
		},
	}
}

func floatArg(args []runtime.Value, idx int) (float64, error) {
	if idx >= len(args) {
		return 0, fmt.Errorf("missing argument %d", idx)
	}
	if f, ok := args[idx].(runtime.FloatValue); ok {
		return f.Val, nil
	}
	return 0, fmt.Errorf("argument %d: expected float64, got %s", idx, kindOf(args[idx]))
}

func intArg(args []runtime.Value, idx int) (int64, error) {
	if idx >= len(args) {
		return 0, fmt.Errorf("missing argument %d", idx)
	}
	if n, ok := args[idx].(runtime.IntegerValue); ok {
		return n.Val, nil
	}
	return 0, fmt.Errorf("argument %d: expected int, got %s", idx, kindOf(args[idx]))
}

func kindOf(v runtime.Value) string {
	if v == nil {
		return "nil"
	}
	return v.Kind().String()
}
