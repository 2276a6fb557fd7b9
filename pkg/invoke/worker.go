package invoke

import (
	"fmt"
	"reflect"
	"slices"

	"go.uber.org/multierr"

	"buildexpr/materializer-go/pkg/contract"
	"buildexpr/materializer-go/pkg/loader"
	"buildexpr/materializer-go/pkg/runtime"
	"buildexpr/materializer-go/pkg/vm"
)

var workerInterface = reflect.TypeOf((*contract.Worker)(nil)).Elem()

// TypeHandle is a constructible type inside a loaded module.
type TypeHandle struct {
	handle *loader.Handle
	typ    *loader.Type
}

// ResolveType finds a struct type by name.
func ResolveType(h *loader.Handle, name string) (*TypeHandle, error) {
	typ, ok := h.Type(name)
	if !ok {
		return nil, &SymbolNotFoundError{Module: h.Name(), Kind: "type", Name: name}
	}
	return &TypeHandle{handle: h, typ: typ}, nil
}

func (t *TypeHandle) Name() string { return t.typ.Name() }

// Method resolves an unbound method; Invoke takes the receiver first.
func (t *TypeHandle) Method(name string) (*Target, error) {
	fn, ok := t.typ.Method(name)
	if !ok {
		return nil, &SymbolNotFoundError{Module: t.handle.Name(), Kind: "method", Name: t.Name() + "." + name}
	}
	return &Target{prog: t.handle.Program(), fn: fn}, nil
}

// New constructs a zero-valued instance.
func (t *TypeHandle) New() *Instance {
	return &Instance{typ: t, value: t.typ.Struct.New()}
}

// Instance is a constructed value of a module type.
type Instance struct {
	typ   *TypeHandle
	value *runtime.StructInstance
}

func (i *Instance) Value() *runtime.StructInstance { return i.value }

// Method resolves a method bound to i.
func (i *Instance) Method(name string) (*Target, error) {
	target, err := i.typ.Method(name)
	if err != nil {
		return nil, err
	}
	target.recv = i.value
	return target, nil
}

// BindWorker constructs typeName and returns it as a contract.Worker. The
// module must declare conformance and Work must take and return float64;
// both are checked here, once, so Work calls dispatch straight to the
// resolved method.
func BindWorker(h *loader.Handle, typeName string) (contract.Worker, error) {
	th, err := ResolveType(h, typeName)
	if err != nil {
		return nil, err
	}
	if !th.typ.Conforms(workerInterface) {
		return nil, &InvokeError{
			Symbol: typeName,
			Reason: ReasonConformance,
			Err:    fmt.Errorf("%s does not implement %s.Worker", typeName, contract.PackagePath),
		}
	}
	fn, ok := th.typ.Method("Work")
	if !ok {
		return nil, &SymbolNotFoundError{Module: h.Name(), Kind: "method", Name: typeName + ".Work"}
	}
	if !slices.Equal(fn.Params, []runtime.Kind{runtime.KindFloat}) || fn.Result != runtime.KindFloat {
		return nil, &InvokeError{
			Symbol: fn.Symbol,
			Reason: ReasonConformance,
			Err:    fmt.Errorf("%s must be func(float64) float64", fn.Symbol),
		}
	}
	return &worker{prog: h.Program(), fn: fn, recv: th.typ.Struct.New()}, nil
}

// worker adapts a generated type to contract.Worker. A worker whose Work
// mutates its receiver must not be shared between goroutines.
type worker struct {
	prog *vm.Program
	fn   *vm.Function
	recv *runtime.StructInstance
}

func (w *worker) TryWork(x float64) (float64, error) {
	result, err := call(w.prog, w.fn, []runtime.Value{w.recv, runtime.FloatValue{Val: x}})
	if err != nil {
		return 0, err
	}
	return w.checkResult(result)
}

func (w *worker) checkResult(result runtime.Value) (float64, error) {
	f, ok := result.(runtime.FloatValue)
	if !ok {
		return 0, &InvokeError{
			Symbol: w.fn.Symbol,
			Reason: ReasonResult,
			Err:    fmt.Errorf("result is %s, not float64", kindOf(result)),
		}
	}
	return f.Val, nil
}

func kindOf(v runtime.Value) string {
	if v == nil {
		return "nil"
	}
	return v.Kind().String()
}

// Work panics with *InvokeError if the generated code faults; use
// contract.Do to receive the error instead.
func (w *worker) Work(x float64) float64 {
	result, err := w.TryWork(x)
	if err != nil {
		panic(err)
	}
	return result
}

// RegisterWorkers registers a constructor for every type in h that conforms
// to contract.Worker and returns their names.
func RegisterWorkers(reg *contract.Registry, h *loader.Handle) ([]string, error) {
	var (
		names []string
		errs  error
	)
	for _, name := range h.Types() {
		typ, _ := h.Type(name)
		if !typ.Conforms(workerInterface) {
			continue
		}
		typeName := name
		err := reg.Register(typeName, func() (contract.Worker, error) {
			return BindWorker(h, typeName)
		})
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		names = append(names, typeName)
	}
	return names, errs
}
