package compiler

import (
	"go/ast"
	"go/constant"
	"go/token"
	"go/types"

	"buildexpr/materializer-go/pkg/image"
	"buildexpr/materializer-go/pkg/runtime"
)

func (fl *funcLowering) emitExpr(e ast.Expr) error {
	if tv, ok := fl.l.info.Types[e]; ok && tv.Value != nil {
		return fl.emitConstant(e, tv)
	}
	switch x := e.(type) {
	case *ast.ParenExpr:
		return fl.emitExpr(x.X)
	case *ast.Ident:
		return fl.emitIdent(x)
	case *ast.BinaryExpr:
		return fl.emitBinary(x)
	case *ast.UnaryExpr:
		return fl.emitUnary(x)
	case *ast.CallExpr:
		return fl.emitCall(x)
	case *ast.SelectorExpr:
		return fl.emitSelector(x)
	case *ast.StarExpr:
		// Only receivers are struct valued; *recv is the same instance.
		return fl.emitExpr(x.X)
	default:
		return unsupportedf(e, "%s expressions are not supported", nodeName(e))
	}
}

func (fl *funcLowering) emitConstant(e ast.Expr, tv types.TypeAndValue) error {
	kind, ok := scalarKind(tv.Type)
	if !ok {
		return unsupportedf(e, "constant of type %s is not supported", tv.Type)
	}
	switch kind {
	case runtime.KindFloat:
		f, _ := constant.Float64Val(constant.ToFloat(tv.Value))
		fl.emitConst(runtime.FloatValue{Val: f})
	case runtime.KindInteger:
		i, exact := constant.Int64Val(constant.ToInt(tv.Value))
		if !exact {
			return unsupportedf(e, "constant %s overflows int", tv.Value)
		}
		fl.emitConst(runtime.IntegerValue{Val: i})
	default:
		fl.emitConst(runtime.BoolValue{Val: constant.BoolVal(tv.Value)})
	}
	return nil
}

func (fl *funcLowering) emitIdent(id *ast.Ident) error {
	v, ok := fl.l.info.Uses[id].(*types.Var)
	if !ok {
		return unsupportedf(id, "%s cannot be used as a value", id.Name)
	}
	slot, ok := fl.slots[v]
	if !ok {
		return unsupportedf(id, "%s is not a local variable", id.Name)
	}
	fl.emit(image.Instr{Op: image.OpLoad, A: slot})
	return nil
}

func (fl *funcLowering) emitBinary(x *ast.BinaryExpr) error {
	switch x.Op {
	case token.LAND:
		if err := fl.emitExpr(x.X); err != nil {
			return err
		}
		fl.emit(image.Instr{Op: image.OpDup})
		jumpToEnd := fl.emit(image.Instr{Op: image.OpJumpIfFalse, A: -1})
		fl.emit(image.Instr{Op: image.OpPop})
		if err := fl.emitExpr(x.Y); err != nil {
			return err
		}
		fl.patchJump(jumpToEnd, len(fl.code))
		return nil
	case token.LOR:
		if err := fl.emitExpr(x.X); err != nil {
			return err
		}
		fl.emit(image.Instr{Op: image.OpDup})
		jumpToRight := fl.emit(image.Instr{Op: image.OpJumpIfFalse, A: -1})
		jumpToEnd := fl.emit(image.Instr{Op: image.OpJump, A: -1})
		fl.patchJump(jumpToRight, len(fl.code))
		fl.emit(image.Instr{Op: image.OpPop})
		if err := fl.emitExpr(x.Y); err != nil {
			return err
		}
		fl.patchJump(jumpToEnd, len(fl.code))
		return nil
	case token.EQL, token.NEQ, token.LSS, token.LEQ, token.GTR, token.GEQ:
		kind, err := fl.operandKind(x)
		if err != nil {
			return err
		}
		code, ok := comparisonOp(x.Op, kind)
		if !ok {
			return unsupportedf(x, "operator %s on %s is not supported", x.Op, kind)
		}
		return fl.emitOperands(x, code)
	default:
		kind, err := fl.kindOf(x)
		if err != nil {
			return err
		}
		code, ok := arithmeticOp(x.Op, kind)
		if !ok {
			return unsupportedf(x, "operator %s on %s is not supported", x.Op, kind)
		}
		return fl.emitOperands(x, code)
	}
}

func (fl *funcLowering) emitOperands(x *ast.BinaryExpr, code image.Op) error {
	if err := fl.emitExpr(x.X); err != nil {
		return err
	}
	if err := fl.emitExpr(x.Y); err != nil {
		return err
	}
	fl.emit(image.Instr{Op: code})
	return nil
}

// operandKind is the kind both comparison operands share.
func (fl *funcLowering) operandKind(x *ast.BinaryExpr) (runtime.Kind, error) {
	left := fl.l.info.Types[x.X].Type
	if basic, ok := left.(*types.Basic); ok && basic.Info()&types.IsUntyped != 0 {
		return fl.kindOf(x.Y)
	}
	return fl.kindOf(x.X)
}

func (fl *funcLowering) emitUnary(x *ast.UnaryExpr) error {
	kind, err := fl.kindOf(x)
	if err != nil {
		return err
	}
	var code image.Op
	switch {
	case x.Op == token.ADD && kind != runtime.KindBool:
		return fl.emitExpr(x.X)
	case x.Op == token.SUB && kind == runtime.KindFloat:
		code = image.OpNegF
	case x.Op == token.SUB && kind == runtime.KindInteger:
		code = image.OpNegI
	case x.Op == token.NOT && kind == runtime.KindBool:
		code = image.OpNot
	default:
		return unsupportedf(x, "unary operator %s is not supported", x.Op)
	}
	if err := fl.emitExpr(x.X); err != nil {
		return err
	}
	fl.emit(image.Instr{Op: code})
	return nil
}

func (fl *funcLowering) emitCall(call *ast.CallExpr) error {
	if call.Ellipsis.IsValid() {
		return unsupportedf(call, "variadic calls are not supported")
	}
	funTV := fl.l.info.Types[call.Fun]
	if funTV.IsType() {
		return fl.emitConversion(call, funTV.Type)
	}
	if funTV.IsBuiltin() {
		return unsupportedf(call, "builtin %s is not supported", types.ExprString(call.Fun))
	}
	switch fun := ast.Unparen(call.Fun).(type) {
	case *ast.Ident:
		callee, ok := fl.l.info.Uses[fun].(*types.Func)
		if !ok {
			return unsupportedf(call, "calls through function values are not supported")
		}
		idx, ok := fl.l.funcs[callee]
		if !ok {
			return unsupportedf(call, "%s is not a module function", fun.Name)
		}
		if err := fl.emitArgs(call.Args); err != nil {
			return err
		}
		fl.emit(image.Instr{Op: image.OpCall, A: idx, B: int32(len(call.Args))})
		return nil
	case *ast.SelectorExpr:
		if sel, ok := fl.l.info.Selections[fun]; ok {
			return fl.emitMethodCall(call, fun, sel)
		}
		callee, ok := fl.l.info.Uses[fun.Sel].(*types.Func)
		if !ok || callee.Pkg() == nil || callee.Pkg() == fl.l.pkg {
			return unsupportedf(call, "call of %s is not supported", fun.Sel.Name)
		}
		idx, err := fl.l.nativeIndex(call, callee)
		if err != nil {
			return err
		}
		if err := fl.emitArgs(call.Args); err != nil {
			return err
		}
		fl.emit(image.Instr{Op: image.OpCallNative, A: idx, B: int32(len(call.Args))})
		return nil
	default:
		return unsupportedf(call, "calls through function values are not supported")
	}
}

func (fl *funcLowering) emitMethodCall(call *ast.CallExpr, fun *ast.SelectorExpr, sel *types.Selection) error {
	if sel.Kind() != types.MethodVal {
		return unsupportedf(call, "call of %s is not supported", fun.Sel.Name)
	}
	if len(sel.Index()) != 1 {
		return unsupportedf(call, "promoted method %s is not supported", fun.Sel.Name)
	}
	callee, _ := sel.Obj().(*types.Func)
	idx, ok := fl.l.funcs[callee]
	if !ok {
		return unsupportedf(call, "method %s is not declared in this module", fun.Sel.Name)
	}
	if err := fl.emitExpr(fun.X); err != nil {
		return err
	}
	if err := fl.emitArgs(call.Args); err != nil {
		return err
	}
	fl.emit(image.Instr{Op: image.OpCall, A: idx, B: int32(len(call.Args) + 1)})
	return nil
}

func (fl *funcLowering) emitArgs(args []ast.Expr) error {
	for _, arg := range args {
		if err := fl.emitExpr(arg); err != nil {
			return err
		}
	}
	return nil
}

func (fl *funcLowering) emitConversion(call *ast.CallExpr, target types.Type) error {
	if len(call.Args) != 1 {
		return unsupportedf(call, "conversion takes one argument")
	}
	to, ok := scalarKind(target)
	if !ok {
		return unsupportedf(call, "conversion to %s is not supported", target)
	}
	from, err := fl.kindOf(call.Args[0])
	if err != nil {
		return err
	}
	if err := fl.emitExpr(call.Args[0]); err != nil {
		return err
	}
	switch {
	case from == to:
	case from == runtime.KindInteger && to == runtime.KindFloat:
		fl.emit(image.Instr{Op: image.OpIntToFloat})
	case from == runtime.KindFloat && to == runtime.KindInteger:
		fl.emit(image.Instr{Op: image.OpFloatToInt})
	default:
		return unsupportedf(call, "conversion from %s to %s is not supported", from, to)
	}
	return nil
}

func (fl *funcLowering) emitSelector(x *ast.SelectorExpr) error {
	field, err := fl.fieldIndex(x)
	if err != nil {
		return err
	}
	if err := fl.emitExpr(x.X); err != nil {
		return err
	}
	fl.emit(image.Instr{Op: image.OpField, A: field})
	return nil
}

func (fl *funcLowering) fieldIndex(x *ast.SelectorExpr) (int32, error) {
	sel, ok := fl.l.info.Selections[x]
	if !ok || sel.Kind() != types.FieldVal {
		return 0, unsupportedf(x, "%s cannot be used as a value", x.Sel.Name)
	}
	if len(sel.Index()) != 1 {
		return 0, unsupportedf(x, "promoted field %s is not supported", x.Sel.Name)
	}
	return int32(sel.Index()[0]), nil
}

func arithmeticOp(op token.Token, kind runtime.Kind) (image.Op, bool) {
	switch kind {
	case runtime.KindFloat:
		switch op {
		case token.ADD:
			return image.OpAddF, true
		case token.SUB:
			return image.OpSubF, true
		case token.MUL:
			return image.OpMulF, true
		case token.QUO:
			return image.OpDivF, true
		}
	case runtime.KindInteger:
		switch op {
		case token.ADD:
			return image.OpAddI, true
		case token.SUB:
			return image.OpSubI, true
		case token.MUL:
			return image.OpMulI, true
		case token.QUO:
			return image.OpDivI, true
		case token.REM:
			return image.OpRemI, true
		}
	}
	return image.OpNop, false
}

func comparisonOp(op token.Token, kind runtime.Kind) (image.Op, bool) {
	var ops [6]image.Op
	switch kind {
	case runtime.KindFloat:
		ops = [6]image.Op{image.OpEqF, image.OpNeF, image.OpLtF, image.OpLeF, image.OpGtF, image.OpGeF}
	case runtime.KindInteger:
		ops = [6]image.Op{image.OpEqI, image.OpNeI, image.OpLtI, image.OpLeI, image.OpGtI, image.OpGeI}
	case runtime.KindBool:
		switch op {
		case token.EQL:
			return image.OpEqB, true
		case token.NEQ:
			return image.OpNeB, true
		}
		return image.OpNop, false
	default:
		return image.OpNop, false
	}
	switch op {
	case token.EQL:
		return ops[0], true
	case token.NEQ:
		return ops[1], true
	case token.LSS:
		return ops[2], true
	case token.LEQ:
		return ops[3], true
	case token.GTR:
		return ops[4], true
	case token.GEQ:
		return ops[5], true
	}
	return image.OpNop, false
}
