package loader

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildexpr/materializer-go/pkg/compiler"
	"buildexpr/materializer-go/pkg/contract"
	"buildexpr/materializer-go/pkg/host"
	"buildexpr/materializer-go/pkg/image"
	"buildexpr/materializer-go/pkg/runtime"
)

const workerSource = `package expression

import (
	"buildexpr/contracts"
	"math"
)

type Worker struct {
	scale float64
}

var _ contracts.Worker = (*Worker)(nil)

func (w *Worker) Work(x float64) float64 {
	return ((3 * x) / 2) + 4
}

func (w *Worker) Root(x float64) float64 { return math.Sqrt(x) }

func Evaluate(x float64) float64 {
	return ((3 * x) / 2) + 4
}
`

var workerType = reflect.TypeOf((*contract.Worker)(nil)).Elem()

func compile(t *testing.T) []byte {
	t.Helper()
	mod, err := compiler.New(host.Default()).Compile(compiler.SourceUnit{
		Name:       "expression",
		Text:       workerSource,
		References: []string{contract.PackagePath, "math"},
	})
	require.NoError(t, err)
	return mod.Image
}

func TestLoadResolvesSymbols(t *testing.T) {
	data := compile(t)
	h, err := New(host.Default()).Load(data)
	require.NoError(t, err)

	assert.Equal(t, "expression", h.Name())
	assert.Equal(t, []string{"Evaluate"}, h.Functions())
	assert.Equal(t, []string{"Worker"}, h.Types())
	digest, err := image.Digest(data)
	require.NoError(t, err)
	assert.Equal(t, digest, h.Digest())

	fn, ok := h.Function("Evaluate")
	require.True(t, ok)
	got, err := h.Program().Call(fn, []runtime.Value{runtime.FloatValue{Val: 2.3}})
	require.NoError(t, err)
	assert.InDelta(t, 7.45, got.(runtime.FloatValue).Val, 1e-12)

	typ, ok := h.Type("Worker")
	require.True(t, ok)
	assert.Equal(t, "Worker", typ.Name())
	assert.Equal(t, []string{"Root", "Work"}, typ.Methods())
	assert.Equal(t, []string{contract.PackagePath + ".Worker"}, typ.Interfaces)
	assert.True(t, typ.Conforms(workerType))
	assert.False(t, typ.Conforms(reflect.TypeOf((*error)(nil)).Elem()))

	root, ok := typ.Method("Root")
	require.True(t, ok)
	got, err = h.Program().Call(root, []runtime.Value{typ.Struct.New(), runtime.FloatValue{Val: 9}})
	require.NoError(t, err)
	assert.Equal(t, runtime.FloatValue{Val: 3}, got)

	_, ok = h.Function("Evalute")
	assert.False(t, ok)
}

func TestLoadRejectsMalformedImages(t *testing.T) {
	data := compile(t)
	corrupt := append([]byte(nil), data...)
	corrupt[len(corrupt)-1] ^= 0x55

	for name, input := range map[string][]byte{"garbage": []byte("not an image"), "corrupt": corrupt} {
		t.Run(name, func(t *testing.T) {
			h, err := New(host.Default()).Load(input)
			require.Error(t, err)
			assert.Nil(t, h)
			var lerr *LoadError
			require.True(t, errors.As(err, &lerr))
			assert.Equal(t, ReasonMalformed, lerr.Reason)
			assert.True(t, errors.Is(err, image.ErrMalformed))
		})
	}
}

func TestLoadRejectsUnmetDependencies(t *testing.T) {
	data := compile(t)

	mismatched := host.NewRegistry()
	mismatched.MustRegister(&host.Package{
		Path: "math",
		Natives: map[string]host.Native{
			"Sqrt": {Params: []runtime.Kind{runtime.KindInteger}, Result: runtime.KindFloat},
		},
	})
	withContracts := func(reg *host.Registry) *host.Registry {
		contracts, _ := host.Default().Package(contract.PackagePath)
		reg.MustRegister(contracts)
		return reg
	}
	noNatives := host.NewRegistry()
	noNatives.MustRegister(&host.Package{Path: "math"})

	cases := map[string]struct {
		reg  *host.Registry
		want string
	}{
		"contracts missing": {host.Default().Without(contract.PackagePath), "import buildexpr/contracts is not loaded"},
		"math missing":      {host.Default().Without("math"), "import math is not loaded"},
		"native missing":    {withContracts(noNatives), "package math has no function Sqrt"},
		"signature drift":   {withContracts(mismatched), "math.Sqrt: host signature (int) float64 does not match (float64) float64"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h, err := New(tc.reg).Load(data)
			require.Error(t, err)
			assert.Nil(t, h)
			var lerr *LoadError
			require.True(t, errors.As(err, &lerr))
			assert.Equal(t, ReasonUnmetDependency, lerr.Reason)
			assert.Equal(t, "expression", lerr.Module)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadTwiceGivesIndependentHandles(t *testing.T) {
	data := compile(t)
	l := New(host.Default())
	first, err := l.Load(data)
	require.NoError(t, err)
	second, err := l.Load(data)
	require.NoError(t, err)

	a, _ := first.Type("Worker")
	b, _ := second.Type("Worker")
	assert.NotSame(t, a.Struct, b.Struct)
	assert.NotSame(t, first.Program(), second.Program())

	fn, _ := first.Function("Evaluate")
	got, err := first.Program().Call(fn, []runtime.Value{runtime.FloatValue{Val: 1}})
	require.NoError(t, err)
	assert.Equal(t, runtime.FloatValue{Val: 5.5}, got)
}

func TestMaxCallDepth(t *testing.T) {
	mod, err := compiler.New(host.Default()).Compile(compiler.SourceUnit{
		Name: "deep",
		Text: "package deep\n\nfunc Down(n int) int {\n\tif n == 0 {\n\t\treturn 0\n\t}\n\treturn Down(n-1) + 1\n}\n",
	})
	require.NoError(t, err)

	h, err := New(host.Default(), WithMaxCallDepth(8)).Load(mod.Image)
	require.NoError(t, err)
	fn, _ := h.Function("Down")

	got, err := h.Program().Call(fn, []runtime.Value{runtime.IntegerValue{Val: 7}})
	require.NoError(t, err)
	assert.Equal(t, runtime.IntegerValue{Val: 7}, got)

	_, err = h.Program().Call(fn, []runtime.Value{runtime.IntegerValue{Val: 8}})
	assert.True(t, errors.Is(err, runtime.ErrCallDepth))
}
