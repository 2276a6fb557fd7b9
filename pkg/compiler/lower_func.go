package compiler

import (
	"go/ast"
	"go/types"
	"math"

	"buildexpr/materializer-go/pkg/image"
	"buildexpr/materializer-go/pkg/runtime"
)

type loopContext struct {
	breaks    []int
	continues []int
}

type constKey struct {
	kind runtime.Kind
	bits uint64
}

// funcLowering holds the state for one function body.
type funcLowering struct {
	l      *lowering
	fn     *image.Function
	sig    *types.Signature
	slots  map[*types.Var]int32
	locals int32
	consts map[constKey]int32
	code   []image.Instr
	loops  []loopContext
	named  *types.Var
}

func newFuncLowering(l *lowering, fn *image.Function, sig *types.Signature) *funcLowering {
	fl := &funcLowering{
		l:      l,
		fn:     fn,
		sig:    sig,
		slots:  make(map[*types.Var]int32),
		consts: make(map[constKey]int32),
	}
	if recv := sig.Recv(); recv != nil {
		fl.declare(recv)
	}
	for i := 0; i < sig.Params().Len(); i++ {
		fl.declare(sig.Params().At(i))
	}
	if results := sig.Results(); results.Len() == 1 && results.At(0).Name() != "" {
		fl.named = results.At(0)
	}
	return fl
}

func (fl *funcLowering) lowerBody(body *ast.BlockStmt) error {
	if fl.named != nil {
		slot := fl.declare(fl.named)
		fl.emitConst(runtime.ZeroValue(fl.fn.Result))
		fl.emit(image.Instr{Op: image.OpStore, A: slot})
	}
	if err := fl.lowerStmts(body.List); err != nil {
		return err
	}
	fl.finish()
	fl.fn.Locals = fl.locals
	fl.fn.Code = fl.code
	return nil
}

// finish appends a return when control can reach the end of the code.
// go/types has already rejected value functions that can actually get there.
func (fl *funcLowering) finish() {
	end := int32(len(fl.code))
	needed := len(fl.code) == 0
	if !needed {
		last := fl.code[len(fl.code)-1].Op
		needed = last != image.OpReturn && last != image.OpJump
	}
	for _, in := range fl.code {
		if in.Op.IsJump() && in.A == end {
			needed = true
		}
	}
	if !needed {
		return
	}
	switch {
	case fl.fn.Result == runtime.KindVoid:
		fl.emit(image.Instr{Op: image.OpReturn})
	case fl.named != nil:
		fl.emit(image.Instr{Op: image.OpLoad, A: fl.slots[fl.named]})
		fl.emit(image.Instr{Op: image.OpReturn, A: 1})
	default:
		fl.emitConst(runtime.ZeroValue(fl.fn.Result))
		fl.emit(image.Instr{Op: image.OpReturn, A: 1})
	}
}

func (fl *funcLowering) emit(in image.Instr) int {
	fl.code = append(fl.code, in)
	return len(fl.code) - 1
}

func (fl *funcLowering) patchJump(index, target int) {
	if index < 0 || index >= len(fl.code) {
		return
	}
	fl.code[index].A = int32(target)
}

func (fl *funcLowering) emitConst(v runtime.Value) {
	key := constKey{kind: v.Kind()}
	switch c := v.(type) {
	case runtime.FloatValue:
		key.bits = math.Float64bits(c.Val)
	case runtime.IntegerValue:
		key.bits = uint64(c.Val)
	case runtime.BoolValue:
		if c.Val {
			key.bits = 1
		}
	}
	idx, ok := fl.consts[key]
	if !ok {
		idx = int32(len(fl.fn.Consts))
		fl.fn.Consts = append(fl.fn.Consts, v)
		fl.consts[key] = idx
	}
	fl.emit(image.Instr{Op: image.OpConst, A: idx})
}

func (fl *funcLowering) declare(v *types.Var) int32 {
	if slot, ok := fl.slots[v]; ok {
		return slot
	}
	slot := fl.locals
	fl.locals++
	fl.slots[v] = slot
	return slot
}

func (fl *funcLowering) temp() int32 {
	slot := fl.locals
	fl.locals++
	return slot
}

func (fl *funcLowering) pushLoop() {
	fl.loops = append(fl.loops, loopContext{})
}

func (fl *funcLowering) popLoop(continueTarget, end int) {
	loop := fl.loops[len(fl.loops)-1]
	fl.loops = fl.loops[:len(fl.loops)-1]
	for _, idx := range loop.breaks {
		fl.patchJump(idx, end)
	}
	for _, idx := range loop.continues {
		fl.patchJump(idx, continueTarget)
	}
}
