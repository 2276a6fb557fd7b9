package vm

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildexpr/materializer-go/pkg/host"
	"buildexpr/materializer-go/pkg/image"
	"buildexpr/materializer-go/pkg/runtime"
)

var (
	floatK = runtime.KindFloat
	intK   = runtime.KindInteger
)

func testModule() *image.Module {
	return &image.Module{
		Name:    "vmtest",
		Imports: []string{"math"},
		Natives: []image.NativeRef{{Path: "math", Name: "Sqrt", Params: []runtime.Kind{floatK}, Result: floatK}},
		Types:   []image.Type{{Name: "Counter", Fields: []image.Field{{Name: "n", Kind: intK}}}},
		Functions: []image.Function{
			{ // 0: Evaluate(x) = ((3 * x) / 2) + 4
				Name: "Evaluate", Receiver: image.NoReceiver, Params: []runtime.Kind{floatK}, Result: floatK, Locals: 1,
				Consts: []runtime.Value{runtime.FloatValue{Val: 3}, runtime.FloatValue{Val: 2}, runtime.FloatValue{Val: 4}},
				Code: []image.Instr{
					{Op: image.OpConst, A: 0}, {Op: image.OpLoad, A: 0}, {Op: image.OpMulF},
					{Op: image.OpConst, A: 1}, {Op: image.OpDivF},
					{Op: image.OpConst, A: 2}, {Op: image.OpAddF},
					{Op: image.OpReturn, A: 1},
				},
			},
			{ // 1: Quot(a, b int) int = a / b
				Name: "Quot", Receiver: image.NoReceiver, Params: []runtime.Kind{intK, intK}, Result: intK, Locals: 2,
				Code: []image.Instr{
					{Op: image.OpLoad, A: 0}, {Op: image.OpLoad, A: 1}, {Op: image.OpDivI}, {Op: image.OpReturn, A: 1},
				},
			},
			{ // 2: Forever() float64 = Forever()
				Name: "Forever", Receiver: image.NoReceiver, Result: floatK, Locals: 0,
				Code: []image.Instr{{Op: image.OpCall, A: 2, B: 0}, {Op: image.OpReturn, A: 1}},
			},
			{ // 3: (*Counter) Bump() { c.n = c.n + 1 }
				Name: "Bump", Receiver: 0, PointerReceiver: true, Locals: 1,
				Consts: []runtime.Value{runtime.IntegerValue{Val: 1}},
				Code: []image.Instr{
					{Op: image.OpLoad, A: 0},
					{Op: image.OpLoad, A: 0}, {Op: image.OpField, A: 0}, {Op: image.OpConst, A: 0}, {Op: image.OpAddI},
					{Op: image.OpSetField, A: 0},
					{Op: image.OpReturn},
				},
			},
			{ // 4: (Counter) Peek() int { c.n = 99; return c.n }
				Name: "Peek", Receiver: 0, Result: intK, Locals: 1,
				Consts: []runtime.Value{runtime.IntegerValue{Val: 99}},
				Code: []image.Instr{
					{Op: image.OpLoad, A: 0}, {Op: image.OpConst, A: 0}, {Op: image.OpSetField, A: 0},
					{Op: image.OpLoad, A: 0}, {Op: image.OpField, A: 0},
					{Op: image.OpReturn, A: 1},
				},
			},
			{ // 5: Root(x) = math.Sqrt(x)
				Name: "Root", Receiver: image.NoReceiver, Params: []runtime.Kind{floatK}, Result: floatK, Locals: 1,
				Code: []image.Instr{{Op: image.OpLoad, A: 0}, {Op: image.OpCallNative, A: 0, B: 1}, {Op: image.OpReturn, A: 1}},
			},
			{ // 6: Abs(x int) int { if x < 0 { return -x }; return x }
				Name: "Abs", Receiver: image.NoReceiver, Params: []runtime.Kind{intK}, Result: intK, Locals: 1,
				Consts: []runtime.Value{runtime.IntegerValue{Val: 0}},
				Code: []image.Instr{
					{Op: image.OpLoad, A: 0}, {Op: image.OpConst, A: 0}, {Op: image.OpLtI},
					{Op: image.OpJumpIfFalse, A: 7},
					{Op: image.OpLoad, A: 0}, {Op: image.OpNegI}, {Op: image.OpReturn, A: 1},
					{Op: image.OpLoad, A: 0}, {Op: image.OpReturn, A: 1},
				},
			},
		},
	}
}

func link(t *testing.T) *Program {
	t.Helper()
	m := testModule()
	require.NoError(t, image.Verify(m))
	sqrt, err := host.Default().Native("math", "Sqrt")
	require.NoError(t, err)
	prog, err := Link(m, []host.Native{sqrt}, 64)
	require.NoError(t, err)
	return prog
}

func TestEvaluateMatchesIEEE(t *testing.T) {
	prog := link(t)
	x := 2.3
	got, err := prog.Call(prog.Functions[0], []runtime.Value{runtime.FloatValue{Val: x}})
	require.NoError(t, err)
	want := float64(float64(3*x)/2) + 4
	assert.Equal(t, math.Float64bits(want), math.Float64bits(got.(runtime.FloatValue).Val))
	assert.InDelta(t, 7.45, got.(runtime.FloatValue).Val, 1e-12)
}

func TestIntegerDivideByZeroFaults(t *testing.T) {
	prog := link(t)
	got, err := prog.Call(prog.Functions[1], []runtime.Value{runtime.IntegerValue{Val: 7}, runtime.IntegerValue{Val: 2}})
	require.NoError(t, err)
	assert.Equal(t, runtime.IntegerValue{Val: 3}, got)

	_, err = prog.Call(prog.Functions[1], []runtime.Value{runtime.IntegerValue{Val: 7}, runtime.IntegerValue{Val: 0}})
	require.Error(t, err)
	var fault *runtime.Fault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, "Quot", fault.Function)
	assert.True(t, errors.Is(err, runtime.ErrDivideByZero))

	got, err = prog.Call(prog.Functions[1], []runtime.Value{runtime.IntegerValue{Val: math.MinInt64}, runtime.IntegerValue{Val: -1}})
	require.NoError(t, err)
	assert.Equal(t, runtime.IntegerValue{Val: math.MinInt64}, got)
}

func TestReturnKindFaults(t *testing.T) {
	m := &image.Module{
		Name: "badreturn",
		Functions: []image.Function{{
			Name: "Half", Receiver: image.NoReceiver, Params: []runtime.Kind{floatK}, Result: floatK, Locals: 1,
			Consts: []runtime.Value{runtime.IntegerValue{Val: 1}},
			Code:   []image.Instr{{Op: image.OpConst, A: 0}, {Op: image.OpReturn, A: 1}},
		}},
	}
	require.NoError(t, image.Verify(m))
	prog, err := Link(m, nil, 0)
	require.NoError(t, err)

	_, err = prog.Call(prog.Functions[0], []runtime.Value{runtime.FloatValue{Val: 2.3}})
	var fault *runtime.Fault
	require.True(t, errors.As(err, &fault), "got %v", err)
	assert.Contains(t, err.Error(), "returned int, declared float64")
}

func TestCallDepthFaults(t *testing.T) {
	prog := link(t)
	_, err := prog.Call(prog.Functions[2], nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, runtime.ErrCallDepth))
}

func TestReceivers(t *testing.T) {
	prog := link(t)
	counter := prog.Types[0].New()

	_, err := prog.Call(prog.Functions[3], []runtime.Value{counter})
	require.NoError(t, err)
	_, err = prog.Call(prog.Functions[3], []runtime.Value{counter})
	require.NoError(t, err)
	assert.Equal(t, runtime.IntegerValue{Val: 2}, counter.Fields[0], "pointer receivers mutate the instance")

	got, err := prog.Call(prog.Functions[4], []runtime.Value{counter})
	require.NoError(t, err)
	assert.Equal(t, runtime.IntegerValue{Val: 99}, got)
	assert.Equal(t, runtime.IntegerValue{Val: 2}, counter.Fields[0], "value receivers work on a copy")
}

func TestNativeAndBranches(t *testing.T) {
	prog := link(t)
	got, err := prog.Call(prog.Functions[5], []runtime.Value{runtime.FloatValue{Val: 2.25}})
	require.NoError(t, err)
	assert.Equal(t, runtime.FloatValue{Val: 1.5}, got)

	got, err = prog.Call(prog.Functions[6], []runtime.Value{runtime.IntegerValue{Val: -5}})
	require.NoError(t, err)
	assert.Equal(t, runtime.IntegerValue{Val: 5}, got)
	got, err = prog.Call(prog.Functions[6], []runtime.Value{runtime.IntegerValue{Val: 8}})
	require.NoError(t, err)
	assert.Equal(t, runtime.IntegerValue{Val: 8}, got)
}

func TestCallChecksArguments(t *testing.T) {
	prog := link(t)
	_, err := prog.Call(prog.Functions[0], nil)
	assert.EqualError(t, err, "vm: Evaluate takes 1 arguments, got 0")
	_, err = prog.Call(prog.Functions[0], []runtime.Value{runtime.IntegerValue{Val: 1}})
	assert.EqualError(t, err, "vm: Evaluate argument 0: want float64, got int")
	_, err = prog.Call(prog.Functions[3], []runtime.Value{runtime.FloatValue{Val: 1}})
	assert.EqualError(t, err, "vm: Counter.Bump needs a Counter receiver")
}

func TestConcurrentCalls(t *testing.T) {
	prog := link(t)
	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			x := float64(i)
			got, err := prog.Call(prog.Functions[0], []runtime.Value{runtime.FloatValue{Val: x}})
			if err != nil {
				errs <- err
				return
			}
			if got.(runtime.FloatValue).Val != float64(float64(3*x)/2)+4 {
				errs <- errors.New("wrong result")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestFloatToIntSaturates(t *testing.T) {
	assert.Equal(t, int64(3), floatToInt(3.9))
	assert.Equal(t, int64(-3), floatToInt(-3.9))
	assert.Equal(t, int64(0), floatToInt(math.NaN()))
	assert.Equal(t, int64(math.MaxInt64), floatToInt(math.Inf(1)))
	assert.Equal(t, int64(math.MinInt64), floatToInt(math.Inf(-1)))
}
