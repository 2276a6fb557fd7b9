package graph

import "fmt"

// Function is a compiled graph. The closure tree is built once by Compile;
// calls never inspect node tags again.
type Function struct {
	arity int
	eval  func(args []float64) float64
}

// Compile lowers g to a closure tree.
func Compile(g *Graph) (*Function, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	lowered := make([]func([]float64) float64, len(g.nodes))
	for idx, node := range g.nodes {
		lowered[idx] = lowerNode(node, lowered)
	}
	return &Function{arity: len(g.params), eval: lowered[g.root]}, nil
}

func lowerNode(node Node, lowered []func([]float64) float64) func([]float64) float64 {
	switch node.Kind {
	case NodeConstant:
		v := node.Value
		return func([]float64) float64 { return v }
	case NodeParameter:
		slot := node.Slot
		return func(args []float64) float64 { return args[slot] }
	default:
		left, right := lowered[node.Left], lowered[node.Right]
		switch node.Op {
		case OpAdd:
			return func(args []float64) float64 { return left(args) + right(args) }
		case OpSub:
			return func(args []float64) float64 { return left(args) - right(args) }
		case OpMul:
			return func(args []float64) float64 { return left(args) * right(args) }
		default:
			return func(args []float64) float64 { return left(args) / right(args) }
		}
	}
}

// Arity is the number of declared parameters.
func (f *Function) Arity() int { return f.arity }

// Call evaluates the function with one argument per declared parameter.
func (f *Function) Call(args ...float64) (float64, error) {
	if len(args) != f.arity {
		return 0, fmt.Errorf("graph: expected %d arguments, got %d", f.arity, len(args))
	}
	return f.eval(args), nil
}

// Unary returns a plain func(float64) float64 for single-parameter graphs.
func (f *Function) Unary() (func(float64) float64, error) {
	if f.arity != 1 {
		return nil, fmt.Errorf("graph: unary call needs 1 parameter, graph declares %d", f.arity)
	}
	eval := f.eval
	return func(x float64) float64 {
		return eval([]float64{x})
	}, nil
}

// Eval walks the arena for every call. It is the interpretive reference the
// compiled form is checked against.
func Eval(g *Graph, args ...float64) (float64, error) {
	if err := g.Validate(); err != nil {
		return 0, err
	}
	if len(args) != len(g.params) {
		return 0, fmt.Errorf("graph: expected %d arguments, got %d", len(g.params), len(args))
	}
	return evalNode(g, g.root, args), nil
}

func evalNode(g *Graph, id NodeID, args []float64) float64 {
	node := g.nodes[id]
	switch node.Kind {
	case NodeConstant:
		return node.Value
	case NodeParameter:
		return args[node.Slot]
	}
	l := evalNode(g, node.Left, args)
	r := evalNode(g, node.Right, args)
	switch node.Op {
	case OpAdd:
		return l + r
	case OpSub:
		return l - r
	case OpMul:
		return l * r
	default:
		return l / r
	}
}
