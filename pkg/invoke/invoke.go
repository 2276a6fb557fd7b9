// Package invoke resolves symbols in loaded modules and calls them with
// ordinary Go values.
package invoke

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"buildexpr/materializer-go/pkg/loader"
	"buildexpr/materializer-go/pkg/runtime"
	"buildexpr/materializer-go/pkg/vm"
)

// SymbolNotFoundError reports a function, type or method missing from a module.
type SymbolNotFoundError struct {
	Module string
	Kind   string
	Name   string
}

func (e *SymbolNotFoundError) Error() string {
	return fmt.Sprintf("invoke: %s %s not found in module %s", e.Kind, e.Name, e.Module)
}

const (
	ReasonArguments   = "argument mismatch"
	ReasonConformance = "contract not implemented"
	ReasonFault       = "execution fault"
	ReasonPanic       = "panic"
	ReasonResult      = "result mismatch"
)

// InvokeError reports a failed call: bad arguments, or a failure raised by
// the generated code itself.
type InvokeError struct {
	Symbol string
	Reason string
	Err    error
}

func (e *InvokeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invoke: %s: %s", e.Symbol, e.Reason)
	}
	return fmt.Sprintf("invoke: %s: %s: %v", e.Symbol, e.Reason, e.Err)
}

func (e *InvokeError) Unwrap() error { return e.Err }

// Target is a resolved callable. Method targets either carry a bound
// receiver or take the receiver as their first argument.
type Target struct {
	prog *vm.Program
	fn   *vm.Function
	recv *runtime.StructInstance
}

// ResolveFunction finds a plain function by name.
func ResolveFunction(h *loader.Handle, name string) (*Target, error) {
	fn, ok := h.Function(name)
	if !ok {
		return nil, &SymbolNotFoundError{Module: h.Name(), Kind: "function", Name: name}
	}
	return &Target{prog: h.Program(), fn: fn}, nil
}

func (t *Target) Symbol() string { return t.fn.Symbol }

// Arity is the number of arguments Invoke expects.
func (t *Target) Arity() int {
	if t.recv != nil {
		return len(t.fn.Params)
	}
	return t.fn.Arity()
}

// Invoke marshals args, runs the target and returns its result. Faults and
// panics raised while running are returned as *InvokeError.
func (t *Target) Invoke(args ...any) (runtime.Value, error) {
	values, err := t.marshal(args)
	if err != nil {
		return nil, &InvokeError{Symbol: t.Symbol(), Reason: ReasonArguments, Err: err}
	}
	return call(t.prog, t.fn, values)
}

// InvokeFloat invokes the target and unboxes a numeric result.
func (t *Target) InvokeFloat(args ...any) (float64, error) {
	result, err := t.Invoke(args...)
	if err != nil {
		return 0, err
	}
	f, ok := runtime.AsFloat(result)
	if !ok {
		return 0, &InvokeError{
			Symbol: t.Symbol(),
			Reason: ReasonResult,
			Err:    fmt.Errorf("result is %s, not float64", result.Kind()),
		}
	}
	return f, nil
}

func (t *Target) marshal(args []any) ([]runtime.Value, error) {
	fn := t.fn
	if len(args) != t.Arity() {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", fn.Symbol, t.Arity(), len(args))
	}
	values := make([]runtime.Value, 0, fn.Arity())
	if fn.Receiver != nil {
		recv := t.recv
		if recv == nil {
			var err error
			if recv, err = receiver(fn, args[0]); err != nil {
				return nil, err
			}
			args = args[1:]
		}
		values = append(values, recv)
	}
	for idx, arg := range args {
		val, err := marshalArg(arg, fn.Params[idx])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", idx, err)
		}
		values = append(values, val)
	}
	return values, nil
}

func receiver(fn *vm.Function, arg any) (*runtime.StructInstance, error) {
	switch r := arg.(type) {
	case *Instance:
		if r != nil && r.value.Type == fn.Receiver {
			return r.value, nil
		}
	case *runtime.StructInstance:
		if r != nil && r.Type == fn.Receiver {
			return r, nil
		}
	}
	return nil, fmt.Errorf("receiver: want %s instance, got %T", fn.Receiver.Name, arg)
}

// marshalArg converts a Go value to the runtime kind a parameter expects.
// Integers widen to float64; floats narrow to int only when integral.
func marshalArg(arg any, want runtime.Kind) (runtime.Value, error) {
	if v, ok := arg.(runtime.Value); ok {
		if v.Kind() != want {
			return nil, fmt.Errorf("cannot use %s as %s", v.Kind(), want)
		}
		return v, nil
	}
	rv := reflect.ValueOf(arg)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		switch want {
		case runtime.KindFloat:
			return runtime.FloatValue{Val: f}, nil
		case runtime.KindInteger:
			if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
				return runtime.IntegerValue{Val: int64(f)}, nil
			}
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch want {
		case runtime.KindFloat:
			return runtime.FloatValue{Val: float64(rv.Int())}, nil
		case runtime.KindInteger:
			return runtime.IntegerValue{Val: rv.Int()}, nil
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		switch want {
		case runtime.KindFloat:
			return runtime.FloatValue{Val: float64(rv.Uint())}, nil
		case runtime.KindInteger:
			if rv.Uint() <= math.MaxInt64 {
				return runtime.IntegerValue{Val: int64(rv.Uint())}, nil
			}
		}
	case reflect.Bool:
		if want == runtime.KindBool {
			return runtime.BoolValue{Val: rv.Bool()}, nil
		}
	case reflect.Invalid:
		return nil, fmt.Errorf("cannot use nil as %s", want)
	}
	return nil, fmt.Errorf("cannot use %T(%v) as %s", arg, arg, want)
}

// call runs fn and turns VM errors and panics into *InvokeError.
func call(p *vm.Program, fn *vm.Function, values []runtime.Value) (result runtime.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &InvokeError{Symbol: fn.Symbol, Reason: ReasonPanic, Err: fmt.Errorf("%v", r)}
		}
	}()
	result, err = p.Call(fn, values)
	if err != nil {
		reason := ReasonArguments
		var fault *runtime.Fault
		if errors.As(err, &fault) {
			reason = ReasonFault
		}
		return nil, &InvokeError{Symbol: fn.Symbol, Reason: reason, Err: err}
	}
	return result, nil
}
