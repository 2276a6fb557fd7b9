package runtime

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the runtime value category.
type Kind uint8

const (
	KindVoid Kind = iota
	KindFloat
	KindInteger
	KindBool
	KindStructInstance
)

func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindFloat:
		return "float64"
	case KindInteger:
		return "int"
	case KindBool:
		return "bool"
	case KindStructInstance:
		return "struct_instance"
	default:
		return fmt.Sprintf("unknown_kind_%d", int(k))
	}
}

// Valid reports whether k names a known kind.
func (k Kind) Valid() bool {
	return k <= KindStructInstance
}

// Value is the shared behaviour for all runtime values.
type Value interface {
	Kind() Kind
}

//-----------------------------------------------------------------------------
// Scalars
//-----------------------------------------------------------------------------

type FloatValue struct {
	Val float64
}

func (v FloatValue) Kind() Kind { return KindFloat }

type IntegerValue struct {
	Val int64
}

func (v IntegerValue) Kind() Kind { return KindInteger }

type BoolValue struct {
	Val bool
}

func (v BoolValue) Kind() Kind { return KindBool }

type VoidValue struct{}

func (VoidValue) Kind() Kind { return KindVoid }

//-----------------------------------------------------------------------------
// Structs
//-----------------------------------------------------------------------------

// Field describes one struct field slot.
type Field struct {
	Name string
	Kind Kind
}

// StructType is the runtime shape of a generated struct type.
type StructType struct {
	Name   string
	Fields []Field
}

// New returns a zero-valued instance of t.
func (t *StructType) New() *StructInstance {
	fields := make([]Value, len(t.Fields))
	for idx, field := range t.Fields {
		fields[idx] = ZeroValue(field.Kind)
	}
	return &StructInstance{Type: t, Fields: fields}
}

// FieldIndex returns the slot of the named field.
func (t *StructType) FieldIndex(name string) (int, bool) {
	for idx, field := range t.Fields {
		if field.Name == name {
			return idx, true
		}
	}
	return -1, false
}

type StructInstance struct {
	Type   *StructType
	Fields []Value
}

func (v *StructInstance) Kind() Kind { return KindStructInstance }

// Clone copies the instance so value receivers cannot mutate the caller's copy.
func (v *StructInstance) Clone() *StructInstance {
	if v == nil {
		return nil
	}
	fields := make([]Value, len(v.Fields))
	copy(fields, v.Fields)
	return &StructInstance{Type: v.Type, Fields: fields}
}

//-----------------------------------------------------------------------------
// Helpers
//-----------------------------------------------------------------------------

// ZeroValue returns the zero value for a scalar kind.
func ZeroValue(kind Kind) Value {
	switch kind {
	case KindFloat:
		return FloatValue{}
	case KindInteger:
		return IntegerValue{}
	case KindBool:
		return BoolValue{}
	default:
		return VoidValue{}
	}
}

// AsFloat widens numeric values to float64.
func AsFloat(v Value) (float64, bool) {
	switch n := v.(type) {
	case FloatValue:
		return n.Val, true
	case IntegerValue:
		return float64(n.Val), true
	default:
		return 0, false
	}
}

// Format renders a value for display.
func Format(v Value) string {
	switch n := v.(type) {
	case nil:
		return "<nil>"
	case FloatValue:
		return strconv.FormatFloat(n.Val, 'g', -1, 64)
	case IntegerValue:
		return strconv.FormatInt(n.Val, 10)
	case BoolValue:
		return strconv.FormatBool(n.Val)
	case VoidValue:
		return "void"
	case *StructInstance:
		if n == nil || n.Type == nil {
			return "<nil struct>"
		}
		parts := make([]string, len(n.Fields))
		for idx, field := range n.Fields {
			parts[idx] = n.Type.Fields[idx].Name + ": " + Format(field)
		}
		return n.Type.Name + "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// SameBits compares floats bitwise so NaN payloads and signed zeros count.
func SameBits(a, b float64) bool {
	return math.Float64bits(a) == math.Float64bits(b)
}
