package graph

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reference(x float64) float64 {
	return float64(float64(3.0*x)/2.0) + 4.0
}

func TestCompileFormulaMatchesReference(t *testing.T) {
	fn, err := Compile(Formula())
	require.NoError(t, err)
	unary, err := fn.Unary()
	require.NoError(t, err)

	inputs := []float64{2.3, 0, -1, 1e-300, 1e300, -7.25, math.MaxFloat64, math.SmallestNonzeroFloat64}
	for _, x := range inputs {
		want := reference(x)
		got := unary(x)
		assert.Equal(t, math.Float64bits(want), math.Float64bits(got), "x=%v", x)

		walked, err := Eval(Formula(), x)
		require.NoError(t, err)
		assert.Equal(t, math.Float64bits(want), math.Float64bits(walked), "x=%v", x)
	}
	assert.InDelta(t, 7.45, unary(2.3), 1e-12)
}

func TestCompileIsRepeatable(t *testing.T) {
	fn, err := Compile(Formula())
	require.NoError(t, err)
	first, err := fn.Call(2.3)
	require.NoError(t, err)
	second, err := fn.Call(2.3)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDivisionByZeroFollowsIEEE(t *testing.T) {
	b := NewBuilder()
	x := b.Param("x")
	g, err := b.Build(b.Div(x, b.Const(0)))
	require.NoError(t, err)
	fn, err := Compile(g)
	require.NoError(t, err)

	got, err := fn.Call(1)
	require.NoError(t, err)
	assert.True(t, math.IsInf(got, 1))

	got, err = fn.Call(0)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got))
}

func TestMultipleParameters(t *testing.T) {
	b := NewBuilder()
	x := b.Param("x")
	y := b.Param("y")
	again := b.Param("x")
	g, err := b.Build(b.Sub(b.Mul(x, y), again))
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, g.Params())

	fn, err := Compile(g)
	require.NoError(t, err)
	got, err := fn.Call(3, 5)
	require.NoError(t, err)
	assert.Equal(t, 12.0, got)

	_, err = fn.Call(3)
	assert.Error(t, err)
	_, err = fn.Unary()
	assert.Error(t, err)
}

func TestValidateRejectsBadGraphs(t *testing.T) {
	cases := []struct {
		name   string
		nodes  []Node
		params []string
		root   NodeID
		want   string
	}{
		{name: "empty", root: 0, want: "graph: empty graph"},
		{name: "root out of range", nodes: []Node{Constant(1)}, root: 3, want: "graph: root 3 out of range"},
		{name: "undeclared slot", nodes: []Node{Parameter(1)}, params: []string{"x"}, root: 0, want: "graph: node 0: parameter slot 1 not declared"},
		{name: "forward reference", nodes: []Node{Constant(1), Binary(OpAdd, 0, 2), Constant(2)}, root: 1, want: "graph: node 1: operands 0, 2 must reference earlier nodes"},
		{name: "self reference", nodes: []Node{Binary(OpMul, 0, 0)}, root: 0, want: "graph: node 0: operands 0, 0 must reference earlier nodes"},
		{name: "duplicate param", nodes: []Node{Parameter(0)}, params: []string{"x", "x"}, root: 0, want: `graph: duplicate parameter "x"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewGraph(tc.nodes, tc.params, tc.root)
			require.Error(t, err)
			var graphErr *GraphError
			require.True(t, errors.As(err, &graphErr))
			assert.Equal(t, tc.want, err.Error())
		})
	}
}

func TestBuilderRejectsForwardOperands(t *testing.T) {
	b := NewBuilder()
	c := b.Const(1)
	root := b.Add(c, NodeID(9))
	_, err := b.Build(root)
	require.Error(t, err)
}

func TestStringRendersInfix(t *testing.T) {
	assert.Equal(t, "((3 * x) / 2) + 4", Formula().String())
}

func TestNewGraphCopiesArena(t *testing.T) {
	nodes := []Node{Constant(1), Constant(2), Binary(OpAdd, 0, 1)}
	g, err := NewGraph(nodes, nil, 2)
	require.NoError(t, err)
	nodes[0] = Constant(100)

	want := []Node{Constant(1), Constant(2), Binary(OpAdd, 0, 1)}
	got := make([]Node, g.Len())
	for idx := range got {
		got[idx] = g.Node(NodeID(idx))
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("arena mismatch (-want +got):\n%s", diff)
	}
}
