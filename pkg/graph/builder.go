package graph

import "fmt"

// Builder appends nodes to an arena. Parameters are declared in call order.
type Builder struct {
	nodes  []Node
	params []string
	slots  map[string]int
	err    error
}

func NewBuilder() *Builder {
	return &Builder{slots: make(map[string]int)}
}

// Param declares (or reuses) a parameter and returns a node reading it.
func (b *Builder) Param(name string) NodeID {
	slot, ok := b.slots[name]
	if !ok {
		slot = len(b.params)
		b.params = append(b.params, name)
		b.slots[name] = slot
	}
	return b.push(Parameter(slot))
}

func (b *Builder) Const(v float64) NodeID { return b.push(Constant(v)) }

func (b *Builder) Add(l, r NodeID) NodeID { return b.binary(OpAdd, l, r) }

func (b *Builder) Sub(l, r NodeID) NodeID { return b.binary(OpSub, l, r) }

func (b *Builder) Mul(l, r NodeID) NodeID { return b.binary(OpMul, l, r) }

func (b *Builder) Div(l, r NodeID) NodeID { return b.binary(OpDiv, l, r) }

func (b *Builder) binary(op Op, l, r NodeID) NodeID {
	next := NodeID(len(b.nodes))
	if b.err == nil && (l < 0 || l >= next || r < 0 || r >= next) {
		b.err = &GraphError{Node: next, Message: fmt.Sprintf("operands %d, %d must reference earlier nodes", l, r)}
	}
	return b.push(Binary(op, l, r))
}

func (b *Builder) push(n Node) NodeID {
	b.nodes = append(b.nodes, n)
	return NodeID(len(b.nodes) - 1)
}

// Build freezes the arena into a graph rooted at root.
func (b *Builder) Build(root NodeID) (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	return NewGraph(b.nodes, b.params, root)
}

// Formula builds the canonical ((3 * x) / 2) + 4 graph.
func Formula() *Graph {
	b := NewBuilder()
	x := b.Param("x")
	root := b.Add(b.Div(b.Mul(b.Const(3), x), b.Const(2)), b.Const(4))
	g, err := b.Build(root)
	if err != nil {
		panic(err)
	}
	return g
}
