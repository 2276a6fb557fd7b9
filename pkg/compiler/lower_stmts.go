package compiler

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"strings"

	"buildexpr/materializer-go/pkg/image"
	"buildexpr/materializer-go/pkg/runtime"
)

var assignOps = map[token.Token]token.Token{
	token.ADD_ASSIGN: token.ADD,
	token.SUB_ASSIGN: token.SUB,
	token.MUL_ASSIGN: token.MUL,
	token.QUO_ASSIGN: token.QUO,
	token.REM_ASSIGN: token.REM,
}

func (fl *funcLowering) lowerStmts(list []ast.Stmt) error {
	for _, stmt := range list {
		if err := fl.lowerStmt(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (fl *funcLowering) lowerStmt(stmt ast.Stmt) error {
	switch s := stmt.(type) {
	case *ast.EmptyStmt:
		return nil
	case *ast.BlockStmt:
		return fl.lowerStmts(s.List)
	case *ast.ExprStmt:
		return fl.lowerExprStmt(s)
	case *ast.ReturnStmt:
		return fl.lowerReturn(s)
	case *ast.AssignStmt:
		return fl.lowerAssign(s)
	case *ast.IncDecStmt:
		op := token.ADD
		if s.Tok == token.DEC {
			op = token.SUB
		}
		kind, err := fl.kindOf(s.X)
		if err != nil {
			return err
		}
		return fl.update(s.X, op, kind, func() error {
			fl.emitConst(one(kind))
			return nil
		})
	case *ast.DeclStmt:
		return fl.lowerDecl(s)
	case *ast.IfStmt:
		return fl.lowerIf(s)
	case *ast.ForStmt:
		return fl.lowerFor(s)
	case *ast.BranchStmt:
		return fl.lowerBranch(s)
	default:
		return unsupportedf(stmt, "%s statements are not supported", nodeName(stmt))
	}
}

func (fl *funcLowering) lowerExprStmt(s *ast.ExprStmt) error {
	call, ok := ast.Unparen(s.X).(*ast.CallExpr)
	if !ok {
		return unsupportedf(s, "expression statement must be a call")
	}
	if err := fl.emitExpr(call); err != nil {
		return err
	}
	if tv := fl.l.info.Types[call]; !tv.IsVoid() {
		fl.emit(image.Instr{Op: image.OpPop})
	}
	return nil
}

func (fl *funcLowering) lowerReturn(s *ast.ReturnStmt) error {
	if len(s.Results) == 0 {
		if fl.fn.Result == runtime.KindVoid {
			fl.emit(image.Instr{Op: image.OpReturn})
			return nil
		}
		fl.emit(image.Instr{Op: image.OpLoad, A: fl.slots[fl.named]})
		fl.emit(image.Instr{Op: image.OpReturn, A: 1})
		return nil
	}
	if len(s.Results) != 1 {
		return unsupportedf(s, "multiple results are not supported")
	}
	if err := fl.emitExpr(s.Results[0]); err != nil {
		return err
	}
	fl.emit(image.Instr{Op: image.OpReturn, A: 1})
	return nil
}

func (fl *funcLowering) lowerAssign(s *ast.AssignStmt) error {
	if op, ok := assignOps[s.Tok]; ok {
		kind, err := fl.kindOf(s.Lhs[0])
		if err != nil {
			return err
		}
		return fl.update(s.Lhs[0], op, kind, func() error {
			return fl.emitExpr(s.Rhs[0])
		})
	}
	if s.Tok != token.ASSIGN && s.Tok != token.DEFINE {
		return unsupportedf(s, "assignment operator %s is not supported", s.Tok)
	}
	if len(s.Lhs) != len(s.Rhs) {
		return unsupportedf(s, "multi-value assignment is not supported")
	}
	return fl.assignAll(s.Lhs, s.Rhs)
}

// assignAll evaluates every right-hand side before storing any of them.
func (fl *funcLowering) assignAll(lhs []ast.Expr, rhs []ast.Expr) error {
	if len(lhs) == 1 {
		return fl.store(lhs[0], func() error { return fl.emitExpr(rhs[0]) })
	}
	temps := make([]int32, len(rhs))
	for i, expr := range rhs {
		if err := fl.emitExpr(expr); err != nil {
			return err
		}
		temps[i] = fl.temp()
		fl.emit(image.Instr{Op: image.OpStore, A: temps[i]})
	}
	for i, target := range lhs {
		slot := temps[i]
		err := fl.store(target, func() error {
			fl.emit(image.Instr{Op: image.OpLoad, A: slot})
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// store writes the value produced by value into target.
func (fl *funcLowering) store(target ast.Expr, value func() error) error {
	switch t := ast.Unparen(target).(type) {
	case *ast.Ident:
		if t.Name == "_" {
			if err := value(); err != nil {
				return err
			}
			fl.emit(image.Instr{Op: image.OpPop})
			return nil
		}
		v, err := fl.localVar(t)
		if err != nil {
			return err
		}
		if _, ok := scalarKind(v.Type()); !ok {
			return unsupportedf(t, "%s: values of type %s are not supported", t.Name, v.Type())
		}
		slot := fl.declare(v)
		if err := value(); err != nil {
			return err
		}
		fl.emit(image.Instr{Op: image.OpStore, A: slot})
		return nil
	case *ast.SelectorExpr:
		field, err := fl.fieldIndex(t)
		if err != nil {
			return err
		}
		if err := fl.emitExpr(t.X); err != nil {
			return err
		}
		if err := value(); err != nil {
			return err
		}
		fl.emit(image.Instr{Op: image.OpSetField, A: field})
		return nil
	default:
		return unsupportedf(target, "cannot assign to %s", nodeName(target))
	}
}

// update lowers target op= value.
func (fl *funcLowering) update(target ast.Expr, op token.Token, kind runtime.Kind, value func() error) error {
	code, ok := arithmeticOp(op, kind)
	if !ok {
		return unsupportedf(target, "operator %s on %s is not supported", op, kind)
	}
	switch t := ast.Unparen(target).(type) {
	case *ast.Ident:
		v, err := fl.localVar(t)
		if err != nil {
			return err
		}
		slot, ok := fl.slots[v]
		if !ok {
			return unsupportedf(t, "%s is not a local variable", t.Name)
		}
		fl.emit(image.Instr{Op: image.OpLoad, A: slot})
		if err := value(); err != nil {
			return err
		}
		fl.emit(image.Instr{Op: code})
		fl.emit(image.Instr{Op: image.OpStore, A: slot})
		return nil
	case *ast.SelectorExpr:
		field, err := fl.fieldIndex(t)
		if err != nil {
			return err
		}
		if err := fl.emitExpr(t.X); err != nil {
			return err
		}
		if err := fl.emitExpr(t.X); err != nil {
			return err
		}
		fl.emit(image.Instr{Op: image.OpField, A: field})
		if err := value(); err != nil {
			return err
		}
		fl.emit(image.Instr{Op: code})
		fl.emit(image.Instr{Op: image.OpSetField, A: field})
		return nil
	default:
		return unsupportedf(target, "cannot assign to %s", nodeName(target))
	}
}

func (fl *funcLowering) lowerDecl(s *ast.DeclStmt) error {
	gen, ok := s.Decl.(*ast.GenDecl)
	if !ok {
		return unsupportedf(s, "declaration is not supported")
	}
	switch gen.Tok {
	case token.CONST:
		return nil
	case token.VAR:
	default:
		return unsupportedf(s, "local %s declarations are not supported", gen.Tok)
	}
	for _, spec := range gen.Specs {
		vs := spec.(*ast.ValueSpec)
		lhs := make([]ast.Expr, len(vs.Names))
		for i, name := range vs.Names {
			lhs[i] = name
		}
		if len(vs.Values) == len(vs.Names) {
			if err := fl.assignAll(lhs, vs.Values); err != nil {
				return err
			}
			continue
		}
		if len(vs.Values) != 0 {
			return unsupportedf(vs, "multi-value declaration is not supported")
		}
		for _, name := range vs.Names {
			if name.Name == "_" {
				continue
			}
			v, err := fl.localVar(name)
			if err != nil {
				return err
			}
			kind, ok := scalarKind(v.Type())
			if !ok {
				return unsupportedf(name, "%s: values of type %s are not supported", name.Name, v.Type())
			}
			fl.emitConst(runtime.ZeroValue(kind))
			fl.emit(image.Instr{Op: image.OpStore, A: fl.declare(v)})
		}
	}
	return nil
}

func (fl *funcLowering) lowerIf(s *ast.IfStmt) error {
	if s.Init != nil {
		if err := fl.lowerStmt(s.Init); err != nil {
			return err
		}
	}
	if err := fl.emitExpr(s.Cond); err != nil {
		return err
	}
	jumpToElse := fl.emit(image.Instr{Op: image.OpJumpIfFalse, A: -1})
	if err := fl.lowerStmts(s.Body.List); err != nil {
		return err
	}
	if s.Else == nil {
		fl.patchJump(jumpToElse, len(fl.code))
		return nil
	}
	jumpToEnd := fl.emit(image.Instr{Op: image.OpJump, A: -1})
	fl.patchJump(jumpToElse, len(fl.code))
	if err := fl.lowerStmt(s.Else); err != nil {
		return err
	}
	fl.patchJump(jumpToEnd, len(fl.code))
	return nil
}

func (fl *funcLowering) lowerFor(s *ast.ForStmt) error {
	if s.Init != nil {
		if err := fl.lowerStmt(s.Init); err != nil {
			return err
		}
	}
	loopStart := len(fl.code)
	jumpToExit := -1
	if s.Cond != nil {
		if err := fl.emitExpr(s.Cond); err != nil {
			return err
		}
		jumpToExit = fl.emit(image.Instr{Op: image.OpJumpIfFalse, A: -1})
	}
	fl.pushLoop()
	if err := fl.lowerStmts(s.Body.List); err != nil {
		return err
	}
	continueTarget := len(fl.code)
	if s.Post != nil {
		if err := fl.lowerStmt(s.Post); err != nil {
			return err
		}
	}
	fl.emit(image.Instr{Op: image.OpJump, A: int32(loopStart)})
	loopEnd := len(fl.code)
	fl.patchJump(jumpToExit, loopEnd)
	fl.popLoop(continueTarget, loopEnd)
	return nil
}

func (fl *funcLowering) lowerBranch(s *ast.BranchStmt) error {
	if s.Label != nil {
		return unsupportedf(s, "labeled %s is not supported", s.Tok)
	}
	if len(fl.loops) == 0 || (s.Tok != token.BREAK && s.Tok != token.CONTINUE) {
		return unsupportedf(s, "%s is not supported here", s.Tok)
	}
	idx := fl.emit(image.Instr{Op: image.OpJump, A: -1})
	loop := &fl.loops[len(fl.loops)-1]
	if s.Tok == token.BREAK {
		loop.breaks = append(loop.breaks, idx)
	} else {
		loop.continues = append(loop.continues, idx)
	}
	return nil
}

// localVar returns the variable an identifier defines or refers to.
func (fl *funcLowering) localVar(id *ast.Ident) (*types.Var, error) {
	obj := fl.l.info.Defs[id]
	if obj == nil {
		obj = fl.l.info.Uses[id]
	}
	v, ok := obj.(*types.Var)
	if !ok || v.IsField() || v.Parent() == fl.l.pkg.Scope() {
		return nil, unsupportedf(id, "%s is not a local variable", id.Name)
	}
	return v, nil
}

func (fl *funcLowering) kindOf(e ast.Expr) (runtime.Kind, error) {
	tv, ok := fl.l.info.Types[e]
	if !ok {
		return runtime.KindVoid, unsupportedf(e, "expression has no type")
	}
	kind, ok := scalarKind(tv.Type)
	if !ok {
		return runtime.KindVoid, unsupportedf(e, "values of type %s are not supported", tv.Type)
	}
	return kind, nil
}

func one(kind runtime.Kind) runtime.Value {
	if kind == runtime.KindFloat {
		return runtime.FloatValue{Val: 1}
	}
	return runtime.IntegerValue{Val: 1}
}

// nodeName turns *ast.SwitchStmt into "switch".
func nodeName(n ast.Node) string {
	name := strings.TrimPrefix(fmt.Sprintf("%T", n), "*ast.")
	name = strings.TrimSuffix(strings.TrimSuffix(name, "Stmt"), "Expr")
	return strings.ToLower(name)
}
