package runtime

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructTypeNewZeroesFields(t *testing.T) {
	typ := &StructType{Name: "Worker", Fields: []Field{
		{Name: "scale", Kind: KindFloat},
		{Name: "calls", Kind: KindInteger},
		{Name: "ready", Kind: KindBool},
	}}
	inst := typ.New()
	require.Len(t, inst.Fields, 3)
	assert.Equal(t, FloatValue{}, inst.Fields[0])
	assert.Equal(t, IntegerValue{}, inst.Fields[1])
	assert.Equal(t, BoolValue{}, inst.Fields[2])
	assert.Equal(t, KindStructInstance, inst.Kind())

	idx, ok := typ.FieldIndex("calls")
	require.True(t, ok)
	assert.Equal(t, 1, idx)
	_, ok = typ.FieldIndex("missing")
	assert.False(t, ok)
}

func TestStructInstanceCloneIsIndependent(t *testing.T) {
	typ := &StructType{Name: "Counter", Fields: []Field{{Name: "n", Kind: KindInteger}}}
	orig := typ.New()
	clone := orig.Clone()
	clone.Fields[0] = IntegerValue{Val: 7}
	assert.Equal(t, IntegerValue{}, orig.Fields[0])
	assert.Equal(t, "Counter{n: 7}", Format(clone))
}

func TestAsFloat(t *testing.T) {
	f, ok := AsFloat(IntegerValue{Val: 3})
	require.True(t, ok)
	assert.Equal(t, 3.0, f)

	f, ok = AsFloat(FloatValue{Val: 7.45})
	require.True(t, ok)
	assert.Equal(t, 7.45, f)

	_, ok = AsFloat(BoolValue{Val: true})
	assert.False(t, ok)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "7.45", Format(FloatValue{Val: 7.45}))
	assert.Equal(t, "+Inf", Format(FloatValue{Val: math.Inf(1)}))
	assert.Equal(t, "-12", Format(IntegerValue{Val: -12}))
	assert.Equal(t, "true", Format(BoolValue{Val: true}))
	assert.Equal(t, "void", Format(VoidValue{}))
}

func TestSameBits(t *testing.T) {
	assert.True(t, SameBits(math.NaN(), math.NaN()))
	assert.False(t, SameBits(0, math.Copysign(0, -1)))
}

func TestFaultUnwraps(t *testing.T) {
	err := NewFault("Evaluate", 4, ErrDivideByZero)
	assert.True(t, errors.Is(err, ErrDivideByZero))
	assert.Equal(t, "runtime fault in Evaluate at pc 4: integer divide by zero", err.Error())
}
