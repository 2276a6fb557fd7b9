// Package graph builds typed computation graphs over float64 values and lowers
// them to directly callable functions. Graphs are arenas of immutable nodes
// referenced by index; a node may only refer to nodes created before it, so
// every graph is acyclic by construction.
package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeKind tags the node variant.
type NodeKind uint8

const (
	NodeConstant NodeKind = iota
	NodeParameter
	NodeBinary
)

func (k NodeKind) String() string {
	switch k {
	case NodeConstant:
		return "constant"
	case NodeParameter:
		return "parameter"
	case NodeBinary:
		return "binary"
	default:
		return fmt.Sprintf("node_kind_%d", int(k))
	}
}

// Op is a binary operator.
type Op uint8

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
)

func (op Op) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	default:
		return fmt.Sprintf("op_%d", int(op))
	}
}

// NodeID indexes a node inside its graph's arena.
type NodeID int

// Node is the tagged variant Constant | Parameter | Binary.
type Node struct {
	Kind  NodeKind
	Value float64 // Constant
	Slot  int     // Parameter
	Op    Op      // Binary
	Left  NodeID  // Binary
	Right NodeID  // Binary
}

// Constant returns a constant node.
func Constant(v float64) Node { return Node{Kind: NodeConstant, Value: v} }

// Parameter returns a node bound to parameter slot.
func Parameter(slot int) Node { return Node{Kind: NodeParameter, Slot: slot} }

// Binary returns an operator node over two earlier nodes.
func Binary(op Op, left, right NodeID) Node {
	return Node{Kind: NodeBinary, Op: op, Left: left, Right: right}
}

// Graph is a root node plus its ordered parameter list.
type Graph struct {
	nodes  []Node
	params []string
	root   NodeID
}

// NewGraph validates and wraps an arena. The slices are copied.
func NewGraph(nodes []Node, params []string, root NodeID) (*Graph, error) {
	g := &Graph{
		nodes:  append([]Node(nil), nodes...),
		params: append([]string(nil), params...),
		root:   root,
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// GraphError reports a structural problem with a graph.
type GraphError struct {
	Node    NodeID
	Message string
}

func (e *GraphError) Error() string {
	if e.Node < 0 {
		return "graph: " + e.Message
	}
	return fmt.Sprintf("graph: node %d: %s", e.Node, e.Message)
}

// Validate checks parameter slots, operator tags and that children precede parents.
func (g *Graph) Validate() error {
	if g == nil {
		return &GraphError{Node: -1, Message: "nil graph"}
	}
	if len(g.nodes) == 0 {
		return &GraphError{Node: -1, Message: "empty graph"}
	}
	if g.root < 0 || int(g.root) >= len(g.nodes) {
		return &GraphError{Node: -1, Message: fmt.Sprintf("root %d out of range", g.root)}
	}
	seen := make(map[string]struct{}, len(g.params))
	for _, name := range g.params {
		if _, dup := seen[name]; dup {
			return &GraphError{Node: -1, Message: fmt.Sprintf("duplicate parameter %q", name)}
		}
		seen[name] = struct{}{}
	}
	for idx, node := range g.nodes {
		id := NodeID(idx)
		switch node.Kind {
		case NodeConstant:
		case NodeParameter:
			if node.Slot < 0 || node.Slot >= len(g.params) {
				return &GraphError{Node: id, Message: fmt.Sprintf("parameter slot %d not declared", node.Slot)}
			}
		case NodeBinary:
			if node.Op > OpDiv {
				return &GraphError{Node: id, Message: fmt.Sprintf("unknown operator %s", node.Op)}
			}
			if node.Left < 0 || node.Left >= id || node.Right < 0 || node.Right >= id {
				return &GraphError{Node: id, Message: fmt.Sprintf("operands %d, %d must reference earlier nodes", node.Left, node.Right)}
			}
		default:
			return &GraphError{Node: id, Message: fmt.Sprintf("unknown node kind %s", node.Kind)}
		}
	}
	return nil
}

// Params returns the declared parameter names in slot order.
func (g *Graph) Params() []string { return append([]string(nil), g.params...) }

// Root returns the root node id.
func (g *Graph) Root() NodeID { return g.root }

// Len returns the arena size.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the node at id.
func (g *Graph) Node(id NodeID) Node { return g.nodes[id] }

// String renders the graph rooted at Root as parenthesised infix text that
// the interpreter host and the Go subset both accept.
func (g *Graph) String() string {
	var b strings.Builder
	g.write(&b, g.root, true)
	return b.String()
}

func (g *Graph) write(b *strings.Builder, id NodeID, top bool) {
	node := g.nodes[id]
	switch node.Kind {
	case NodeConstant:
		b.WriteString(strconv.FormatFloat(node.Value, 'g', -1, 64))
	case NodeParameter:
		b.WriteString(g.params[node.Slot])
	case NodeBinary:
		if !top {
			b.WriteByte('(')
		}
		g.write(b, node.Left, false)
		b.WriteByte(' ')
		b.WriteString(node.Op.String())
		b.WriteByte(' ')
		g.write(b, node.Right, false)
		if !top {
			b.WriteByte(')')
		}
	}
}
