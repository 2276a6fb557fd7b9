package invoke

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildexpr/materializer-go/pkg/compiler"
	"buildexpr/materializer-go/pkg/contract"
	"buildexpr/materializer-go/pkg/host"
	"buildexpr/materializer-go/pkg/image"
	"buildexpr/materializer-go/pkg/loader"
	"buildexpr/materializer-go/pkg/runtime"
	"buildexpr/materializer-go/pkg/vm"
)

const moduleSource = `package expression

import "buildexpr/contracts"

type Worker struct{}

var _ contracts.Worker = (*Worker)(nil)

func (w *Worker) Work(x float64) float64 {
	return ((3 * x) / 2) + 4
}

type Faulty struct{}

func (f *Faulty) Work(x float64) float64 {
	n := int(x)
	return float64(10 / n)
}

type Tally struct {
	n int
}

func (t *Tally) Bump(by int) int {
	t.n += by
	return t.n
}

func Evaluate(x float64) float64 {
	return ((3 * x) / 2) + 4
}

func Div(a, b int) int { return a / b }

func IsBig(x float64) bool { return x > 100 }
`

func load(t *testing.T, reg *host.Registry, src string, refs ...string) *loader.Handle {
	t.Helper()
	mod, err := compiler.New(reg).Compile(compiler.SourceUnit{Name: "expression", Text: src, References: refs})
	require.NoError(t, err)
	h, err := loader.New(reg).Load(mod.Image)
	require.NoError(t, err)
	return h
}

func loadModule(t *testing.T) *loader.Handle {
	return load(t, host.Default(), moduleSource, contract.PackagePath)
}

func TestResolveAndInvokeFunction(t *testing.T) {
	h := loadModule(t)
	target, err := ResolveFunction(h, "Evaluate")
	require.NoError(t, err)
	assert.Equal(t, "Evaluate", target.Symbol())
	assert.Equal(t, 1, target.Arity())

	value, err := target.Invoke(2.3)
	require.NoError(t, err)
	assert.InDelta(t, 7.45, value.(runtime.FloatValue).Val, 1e-12)

	x := 2.3
	want := float64(float64(3*x)/2) + 4
	first, err := target.InvokeFloat(x)
	require.NoError(t, err)
	second, err := target.InvokeFloat(x)
	require.NoError(t, err)
	assert.True(t, runtime.SameBits(want, first))
	assert.True(t, runtime.SameBits(first, second), "repeated calls must agree")

	promoted, err := target.InvokeFloat(2)
	require.NoError(t, err)
	assert.Equal(t, 7.0, promoted)
}

func TestResolveMissingSymbols(t *testing.T) {
	h := loadModule(t)
	var notFound *SymbolNotFoundError

	_, err := ResolveFunction(h, "Evalute")
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "function", notFound.Kind)
	assert.EqualError(t, err, "invoke: function Evalute not found in module expression")

	_, err = ResolveType(h, "Wroker")
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "type", notFound.Kind)

	th, err := ResolveType(h, "Worker")
	require.NoError(t, err)
	_, err = th.Method("Wrok")
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "Worker.Wrok", notFound.Name)
}

func TestInvokeArgumentErrors(t *testing.T) {
	h := loadModule(t)
	evaluate, err := ResolveFunction(h, "Evaluate")
	require.NoError(t, err)
	div, err := ResolveFunction(h, "Div")
	require.NoError(t, err)

	cases := map[string]struct {
		target *Target
		args   []any
		want   string
	}{
		"too few":        {evaluate, nil, "Evaluate takes 1 arguments, got 0"},
		"too many":       {evaluate, []any{1.0, 2.0}, "Evaluate takes 1 arguments, got 2"},
		"string":         {evaluate, []any{"2.3"}, "argument 0: cannot use string(2.3) as float64"},
		"nil":            {evaluate, []any{nil}, "argument 0: cannot use nil as float64"},
		"fractional int": {div, []any{1.5, 1}, "argument 0: cannot use float64(1.5) as int"},
		"wrong value":    {div, []any{runtime.BoolValue{Val: true}, 1}, "argument 0: cannot use bool as int"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tc.target.Invoke(tc.args...)
			var ierr *InvokeError
			require.True(t, errors.As(err, &ierr), "got %v", err)
			assert.Equal(t, ReasonArguments, ierr.Reason)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	got, err := div.Invoke(4.0, uint8(2))
	require.NoError(t, err)
	assert.Equal(t, runtime.IntegerValue{Val: 2}, got)
}

func TestInvokeWrapsFaults(t *testing.T) {
	h := loadModule(t)
	div, err := ResolveFunction(h, "Div")
	require.NoError(t, err)

	_, err = div.Invoke(1, 0)
	var ierr *InvokeError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, ReasonFault, ierr.Reason)
	assert.True(t, errors.Is(err, runtime.ErrDivideByZero))
	var fault *runtime.Fault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, "Div", fault.Function)

	isBig, err := ResolveFunction(h, "IsBig")
	require.NoError(t, err)
	_, err = isBig.InvokeFloat(1)
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, ReasonResult, ierr.Reason)
}

func TestInvokeRecoversHostPanics(t *testing.T) {
	reg := host.Default()
	reg.MustRegister(&host.Package{
		Path:   "boom",
		Source: "package boom\n\nfunc Explode(x float64) float64\n",
		Natives: map[string]host.Native{
			"Explode": {
				Params: []runtime.Kind{runtime.KindFloat},
				Result: runtime.KindFloat,
				Fn: func([]runtime.Value) (runtime.Value, error) {
					panic("kaboom")
				},
			},
		},
	})
	src := "package p\n\nimport \"boom\"\n\nfunc Run(x float64) float64 { return boom.Explode(x) }\n"
	h := load(t, reg, src, "boom")
	run, err := ResolveFunction(h, "Run")
	require.NoError(t, err)

	_, err = run.Invoke(1.0)
	var ierr *InvokeError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, ReasonPanic, ierr.Reason)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestMethodsAndInstances(t *testing.T) {
	h := loadModule(t)
	th, err := ResolveType(h, "Tally")
	require.NoError(t, err)
	assert.Equal(t, "Tally", th.Name())

	inst := th.New()
	bump, err := inst.Method("Bump")
	require.NoError(t, err)
	assert.Equal(t, 1, bump.Arity())
	got, err := bump.Invoke(2)
	require.NoError(t, err)
	assert.Equal(t, runtime.IntegerValue{Val: 2}, got)
	got, err = bump.Invoke(3)
	require.NoError(t, err)
	assert.Equal(t, runtime.IntegerValue{Val: 5}, got)

	unbound, err := th.Method("Bump")
	require.NoError(t, err)
	assert.Equal(t, 2, unbound.Arity())
	got, err = unbound.Invoke(inst, 1)
	require.NoError(t, err)
	assert.Equal(t, runtime.IntegerValue{Val: 6}, got)
	assert.Equal(t, runtime.IntegerValue{Val: 6}, inst.Value().Fields[0])

	_, err = unbound.Invoke(5, 1)
	var ierr *InvokeError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, ReasonArguments, ierr.Reason)
	assert.Contains(t, err.Error(), "want Tally instance")
}

func TestBindWorker(t *testing.T) {
	h := loadModule(t)
	w, err := BindWorker(h, "Worker")
	require.NoError(t, err)

	x := 2.3
	want := float64(float64(3*x)/2) + 4
	assert.True(t, runtime.SameBits(want, w.Work(x)))
	got, err := contract.Do(w, x)
	require.NoError(t, err)
	assert.InDelta(t, 7.45, got, 1e-12)
	assert.True(t, math.IsInf(w.Work(math.Inf(1)), 1))
}

func TestBindWorkerChecksConformance(t *testing.T) {
	h := loadModule(t)

	_, err := BindWorker(h, "Tally")
	var ierr *InvokeError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, ReasonConformance, ierr.Reason)

	_, err = BindWorker(h, "Missing")
	var notFound *SymbolNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestWorkerFaults(t *testing.T) {
	h := loadModule(t)
	w, err := BindWorker(h, "Faulty")
	require.NoError(t, err)

	got, err := contract.Do(w, 5)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)

	_, err = contract.Do(w, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, runtime.ErrDivideByZero))

	defer func() {
		r := recover()
		require.NotNil(t, r, "Work must panic on a fault")
		perr, ok := r.(error)
		require.True(t, ok)
		var ierr *InvokeError
		assert.True(t, errors.As(perr, &ierr))
	}()
	w.Work(0)
}

func TestWorkerRejectsWrongResultKind(t *testing.T) {
	reg := host.Default()
	mod, err := compiler.New(reg).Compile(compiler.SourceUnit{Name: "expression", Text: moduleSource, References: []string{contract.PackagePath}})
	require.NoError(t, err)
	m, err := image.Decode(mod.Image)
	require.NoError(t, err)
	patched := false
	for idx := range m.Functions {
		fn := &m.Functions[idx]
		if fn.Receiver == image.NoReceiver || m.Types[fn.Receiver].Name != "Worker" || fn.Name != "Work" {
			continue
		}
		fn.Consts = []runtime.Value{runtime.IntegerValue{Val: 1}}
		fn.Code = []image.Instr{{Op: image.OpConst, A: 0}, {Op: image.OpReturn, A: 1}}
		patched = true
	}
	require.True(t, patched)
	data, err := image.Encode(m)
	require.NoError(t, err)

	h, err := loader.New(reg).Load(data)
	require.NoError(t, err)
	w, err := BindWorker(h, "Worker")
	require.NoError(t, err)

	require.NotPanics(t, func() {
		_, err = contract.Do(w, 2.3)
	})
	var ierr *InvokeError
	require.True(t, errors.As(err, &ierr), "got %v", err)
	assert.Equal(t, ReasonFault, ierr.Reason)
	assert.Contains(t, err.Error(), "returned int, declared float64")
}

func TestWorkerResultKindIsChecked(t *testing.T) {
	w := &worker{fn: &vm.Function{Symbol: "Worker.Work"}}
	_, err := w.checkResult(runtime.IntegerValue{Val: 1})
	var ierr *InvokeError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, ReasonResult, ierr.Reason)
	assert.EqualError(t, err, "invoke: Worker.Work: result mismatch: result is int, not float64")

	got, err := w.checkResult(runtime.FloatValue{Val: 7.5})
	require.NoError(t, err)
	assert.Equal(t, 7.5, got)
}

func TestRegisterWorkers(t *testing.T) {
	h := loadModule(t)
	reg := contract.NewRegistry()
	names, err := RegisterWorkers(reg, h)
	require.NoError(t, err)
	assert.Equal(t, []string{"Faulty", "Worker"}, names)

	w, err := reg.New("Worker")
	require.NoError(t, err)
	assert.InDelta(t, 7.45, w.Work(2.3), 1e-12)

	names, err = RegisterWorkers(reg, h)
	assert.Empty(t, names)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}
