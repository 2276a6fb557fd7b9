package interpreter

import (
	"fmt"
	"go/ast"
	"go/constant"
	"go/token"
	"strconv"

	"buildexpr/materializer-go/pkg/host"
	"buildexpr/materializer-go/pkg/runtime"
)

type evaluator struct {
	host     *Host
	fset     *token.FileSet
	bindings map[string]float64
}

func (ev *evaluator) fail(node ast.Node, err error, format string, args ...any) error {
	pos := ev.fset.Position(node.Pos())
	return &EvalError{
		Message:  fmt.Sprintf(format, args...),
		Location: Location{Line: pos.Line, Column: pos.Column},
		Err:      err,
	}
}

func (ev *evaluator) eval(expr ast.Expr) (runtime.Value, error) {
	switch e := expr.(type) {
	case *ast.BasicLit:
		return ev.literal(e)
	case *ast.ParenExpr:
		return ev.eval(e.X)
	case *ast.Ident:
		return ev.ident(e)
	case *ast.UnaryExpr:
		return ev.unary(e)
	case *ast.BinaryExpr:
		return ev.binary(e)
	case *ast.CallExpr:
		return ev.call(e)
	case *ast.SelectorExpr:
		return ev.selector(e)
	default:
		return nil, ev.fail(expr, nil, "unsupported expression %T", expr)
	}
}

func (ev *evaluator) literal(lit *ast.BasicLit) (runtime.Value, error) {
	switch lit.Kind {
	case token.INT:
		n, err := strconv.ParseInt(lit.Value, 0, 64)
		if err != nil {
			return nil, ev.fail(lit, err, "integer literal %s out of range", lit.Value)
		}
		return runtime.IntegerValue{Val: n}, nil
	case token.FLOAT:
		f, err := strconv.ParseFloat(lit.Value, 64)
		if err != nil {
			return nil, ev.fail(lit, err, "invalid float literal %s", lit.Value)
		}
		return runtime.FloatValue{Val: f}, nil
	default:
		return nil, ev.fail(lit, nil, "unsupported literal %s", lit.Value)
	}
}

func (ev *evaluator) ident(id *ast.Ident) (runtime.Value, error) {
	if v, ok := ev.bindings[id.Name]; ok {
		return runtime.FloatValue{Val: v}, nil
	}
	switch id.Name {
	case "true":
		return runtime.BoolValue{Val: true}, nil
	case "false":
		return runtime.BoolValue{Val: false}, nil
	}
	return nil, ev.fail(id, nil, "undefined: %s", id.Name)
}

func (ev *evaluator) unary(e *ast.UnaryExpr) (runtime.Value, error) {
	operand, err := ev.eval(e.X)
	if err != nil {
		return nil, err
	}
	switch v := operand.(type) {
	case runtime.FloatValue:
		switch e.Op {
		case token.SUB:
			return runtime.FloatValue{Val: -v.Val}, nil
		case token.ADD:
			return v, nil
		}
	case runtime.IntegerValue:
		switch e.Op {
		case token.SUB:
			return runtime.IntegerValue{Val: -v.Val}, nil
		case token.ADD:
			return v, nil
		}
	case runtime.BoolValue:
		if e.Op == token.NOT {
			return runtime.BoolValue{Val: !v.Val}, nil
		}
	}
	return nil, ev.fail(e, nil, "invalid operation: operator %s not defined on %s", e.Op, operand.Kind())
}

func (ev *evaluator) binary(e *ast.BinaryExpr) (runtime.Value, error) {
	left, err := ev.eval(e.X)
	if err != nil {
		return nil, err
	}
	if e.Op == token.LAND || e.Op == token.LOR {
		return ev.logical(e, left)
	}
	right, err := ev.eval(e.Y)
	if err != nil {
		return nil, err
	}
	val, err := applyBinary(e.Op, left, right)
	if err != nil {
		return nil, ev.fail(e, err, "%v", err)
	}
	return val, nil
}

func (ev *evaluator) logical(e *ast.BinaryExpr, left runtime.Value) (runtime.Value, error) {
	l, ok := left.(runtime.BoolValue)
	if !ok {
		return nil, ev.fail(e.X, nil, "invalid operation: operator %s not defined on %s", e.Op, left.Kind())
	}
	if (e.Op == token.LAND && !l.Val) || (e.Op == token.LOR && l.Val) {
		return l, nil
	}
	right, err := ev.eval(e.Y)
	if err != nil {
		return nil, err
	}
	r, ok := right.(runtime.BoolValue)
	if !ok {
		return nil, ev.fail(e.Y, nil, "invalid operation: operator %s not defined on %s", e.Op, right.Kind())
	}
	return r, nil
}

func (ev *evaluator) call(e *ast.CallExpr) (runtime.Value, error) {
	if e.Ellipsis.IsValid() {
		return nil, ev.fail(e, nil, "variadic calls are not supported")
	}
	switch fun := e.Fun.(type) {
	case *ast.Ident:
		if fun.Name != "float64" && fun.Name != "int" {
			return nil, ev.fail(fun, nil, "undefined function: %s", fun.Name)
		}
		if len(e.Args) != 1 {
			return nil, ev.fail(e, nil, "conversion to %s takes one argument", fun.Name)
		}
		arg, err := ev.eval(e.Args[0])
		if err != nil {
			return nil, err
		}
		val, err := convert(arg, fun.Name)
		if err != nil {
			return nil, ev.fail(e, err, "%v", err)
		}
		return val, nil
	case *ast.SelectorExpr:
		pkg, name, err := ev.qualified(fun)
		if err != nil {
			return nil, err
		}
		native, ok := pkg.Natives[name]
		if !ok {
			return nil, ev.fail(fun.Sel, nil, "undefined: %s.%s", fun.X, name)
		}
		return ev.callNative(e, native, pkg.Path+"."+name)
	default:
		return nil, ev.fail(e, nil, "unsupported call")
	}
}

func (ev *evaluator) callNative(e *ast.CallExpr, native host.Native, symbol string) (runtime.Value, error) {
	if len(e.Args) != len(native.Params) {
		return nil, ev.fail(e, nil, "%s takes %d arguments, got %d", symbol, len(native.Params), len(e.Args))
	}
	args := make([]runtime.Value, len(e.Args))
	for idx, expr := range e.Args {
		val, err := ev.eval(expr)
		if err != nil {
			return nil, err
		}
		if native.Params[idx] == runtime.KindFloat {
			if f, ok := runtime.AsFloat(val); ok {
				val = runtime.FloatValue{Val: f}
			}
		}
		if val.Kind() != native.Params[idx] {
			return nil, ev.fail(expr, nil, "%s argument %d: cannot use %s as %s", symbol, idx, val.Kind(), native.Params[idx])
		}
		args[idx] = val
	}
	result, err := native.Fn(args)
	if err != nil {
		return nil, ev.fail(e, err, "%s: %v", symbol, err)
	}
	return result, nil
}

func (ev *evaluator) selector(e *ast.SelectorExpr) (runtime.Value, error) {
	pkg, name, err := ev.qualified(e)
	if err != nil {
		return nil, err
	}
	c, err := ev.host.constant(pkg, name)
	if err != nil {
		return nil, ev.fail(e, err, "host package %s: %v", pkg.Path, err)
	}
	if c == nil {
		return nil, ev.fail(e.Sel, nil, "undefined: %s.%s", e.X, name)
	}
	switch v := constant.ToFloat(c.Val()); {
	case c.Val().Kind() == constant.Int:
		n, exact := constant.Int64Val(c.Val())
		if !exact {
			return nil, ev.fail(e, nil, "constant %s.%s overflows int", e.X, name)
		}
		return runtime.IntegerValue{Val: n}, nil
	case c.Val().Kind() == constant.Bool:
		return runtime.BoolValue{Val: constant.BoolVal(c.Val())}, nil
	case v.Kind() == constant.Float:
		f, _ := constant.Float64Val(v)
		return runtime.FloatValue{Val: f}, nil
	default:
		return nil, ev.fail(e, nil, "constant %s.%s is not numeric", e.X, name)
	}
}

// qualified resolves pkg.Name where pkg names a host package.
func (ev *evaluator) qualified(e *ast.SelectorExpr) (*host.Package, string, error) {
	id, ok := e.X.(*ast.Ident)
	if !ok {
		return nil, "", ev.fail(e, nil, "unsupported selector")
	}
	pkg, ok := ev.host.hostPackage(id.Name)
	if !ok {
		return nil, "", ev.fail(id, nil, "undefined: %s", id.Name)
	}
	return pkg, e.Sel.Name, nil
}
