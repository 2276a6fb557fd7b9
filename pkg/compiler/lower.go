package compiler

import (
	"errors"
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"slices"
	"sort"
	"strings"

	"buildexpr/materializer-go/pkg/host"
	"buildexpr/materializer-go/pkg/image"
	"buildexpr/materializer-go/pkg/runtime"
)

// lowering turns a checked file into an image module.
type lowering struct {
	reg     *host.Registry
	fset    *token.FileSet
	info    *types.Info
	pkg     *types.Package
	mod     *image.Module
	types   map[*types.TypeName]int32
	funcs   map[*types.Func]int32
	natives map[string]int32
	diags   []Diagnostic
}

// unsupported aborts lowering of the current function.
type unsupported struct {
	pos token.Pos
	msg string
}

func (u *unsupported) Error() string { return u.msg }

func unsupportedf(node ast.Node, format string, args ...any) error {
	var pos token.Pos
	if node != nil {
		pos = node.Pos()
	}
	return &unsupported{pos: pos, msg: fmt.Sprintf(format, args...)}
}

func newLowering(reg *host.Registry, fset *token.FileSet, info *types.Info, pkg *types.Package, name string) *lowering {
	return &lowering{
		reg:     reg,
		fset:    fset,
		info:    info,
		pkg:     pkg,
		mod:     &image.Module{Name: name},
		types:   make(map[*types.TypeName]int32),
		funcs:   make(map[*types.Func]int32),
		natives: make(map[string]int32),
	}
}

func (l *lowering) report(err error) {
	diag := Diagnostic{Severity: SeverityError, Phase: PhaseLower, Message: err.Error()}
	var u *unsupported
	if errors.As(err, &u) && u.pos.IsValid() {
		diag.Location = locationOf(l.fset.Position(u.pos))
	}
	l.diags = append(l.diags, diag)
}

func (l *lowering) lowerFile(file *ast.File) (*image.Module, []Symbol) {
	for _, spec := range file.Imports {
		path := strings.Trim(spec.Path.Value, "\"`")
		if spec.Name != nil && (spec.Name.Name == "." || spec.Name.Name == "_") {
			l.report(unsupportedf(spec, "import form %s %q is not supported", spec.Name.Name, path))
			continue
		}
		if !slices.Contains(l.mod.Imports, path) {
			l.mod.Imports = append(l.mod.Imports, path)
		}
	}
	sort.Strings(l.mod.Imports)

	var funcs []*ast.FuncDecl
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.GenDecl:
			l.collectGenDecl(d)
		case *ast.FuncDecl:
			funcs = append(funcs, d)
		}
	}
	var bodies []*ast.FuncDecl
	for _, fd := range funcs {
		if err := l.declareFunc(fd); err != nil {
			l.report(err)
			continue
		}
		bodies = append(bodies, fd)
	}
	if len(l.diags) > 0 {
		return nil, nil
	}
	for _, fd := range bodies {
		if err := l.lowerFunc(fd); err != nil {
			l.report(err)
		}
	}
	l.recordConformance()
	return l.mod, l.symbols()
}

func (l *lowering) collectGenDecl(d *ast.GenDecl) {
	switch d.Tok {
	case token.IMPORT, token.CONST:
		// Constants are folded at every use.
	case token.TYPE:
		for _, spec := range d.Specs {
			if err := l.declareType(spec.(*ast.TypeSpec)); err != nil {
				l.report(err)
			}
		}
	case token.VAR:
		for _, spec := range d.Specs {
			vs := spec.(*ast.ValueSpec)
			for _, name := range vs.Names {
				if name.Name != "_" {
					l.report(unsupportedf(name, "package variable %s is not supported", name.Name))
				}
			}
		}
	}
}

func (l *lowering) declareType(spec *ast.TypeSpec) error {
	if spec.TypeParams != nil {
		return unsupportedf(spec, "generic type %s is not supported", spec.Name.Name)
	}
	if spec.Assign.IsValid() {
		return unsupportedf(spec, "type alias %s is not supported", spec.Name.Name)
	}
	obj, _ := l.info.Defs[spec.Name].(*types.TypeName)
	if obj == nil {
		return unsupportedf(spec, "type %s was not resolved", spec.Name.Name)
	}
	st, ok := obj.Type().Underlying().(*types.Struct)
	if !ok {
		return unsupportedf(spec, "type %s: only struct types are supported", spec.Name.Name)
	}
	typ := image.Type{Name: obj.Name()}
	for i := 0; i < st.NumFields(); i++ {
		field := st.Field(i)
		if field.Embedded() {
			return unsupportedf(spec, "type %s: embedded field %s is not supported", obj.Name(), field.Name())
		}
		kind, ok := scalarKind(field.Type())
		if !ok {
			return unsupportedf(spec, "type %s: field %s has unsupported type %s", obj.Name(), field.Name(), field.Type())
		}
		typ.Fields = append(typ.Fields, image.Field{Name: field.Name(), Kind: kind})
	}
	l.types[obj] = int32(len(l.mod.Types))
	l.mod.Types = append(l.mod.Types, typ)
	return nil
}

func (l *lowering) declareFunc(fd *ast.FuncDecl) error {
	obj, _ := l.info.Defs[fd.Name].(*types.Func)
	if obj == nil {
		return unsupportedf(fd, "function %s was not resolved", fd.Name.Name)
	}
	if fd.Name.Name == "init" || fd.Name.Name == "_" {
		return unsupportedf(fd, "function %s is not supported", fd.Name.Name)
	}
	if fd.Body == nil {
		return unsupportedf(fd, "function %s has no body", fd.Name.Name)
	}
	if fd.Type.TypeParams != nil {
		return unsupportedf(fd, "generic function %s is not supported", fd.Name.Name)
	}
	sig := obj.Type().(*types.Signature)
	fn := image.Function{Name: obj.Name(), Receiver: image.NoReceiver}
	if recv := sig.Recv(); recv != nil {
		typeIdx, pointer, err := l.receiverType(fd, recv)
		if err != nil {
			return err
		}
		fn.Receiver = typeIdx
		fn.PointerReceiver = pointer
	}
	if sig.Variadic() {
		return unsupportedf(fd, "variadic function %s is not supported", obj.Name())
	}
	params := sig.Params()
	for i := 0; i < params.Len(); i++ {
		kind, ok := scalarKind(params.At(i).Type())
		if !ok {
			return unsupportedf(fd, "%s: parameter %d has unsupported type %s", obj.Name(), i, params.At(i).Type())
		}
		fn.Params = append(fn.Params, kind)
	}
	switch results := sig.Results(); results.Len() {
	case 0:
		fn.Result = runtime.KindVoid
	case 1:
		kind, ok := scalarKind(results.At(0).Type())
		if !ok {
			return unsupportedf(fd, "%s: unsupported result type %s", obj.Name(), results.At(0).Type())
		}
		fn.Result = kind
	default:
		return unsupportedf(fd, "%s: multiple results are not supported", obj.Name())
	}
	l.funcs[obj] = int32(len(l.mod.Functions))
	l.mod.Functions = append(l.mod.Functions, fn)
	return nil
}

func (l *lowering) receiverType(fd *ast.FuncDecl, recv *types.Var) (int32, bool, error) {
	t := recv.Type()
	pointer := false
	if ptr, ok := t.(*types.Pointer); ok {
		t = ptr.Elem()
		pointer = true
	}
	named, ok := t.(*types.Named)
	if !ok {
		return 0, false, unsupportedf(fd, "method %s has unsupported receiver %s", fd.Name.Name, recv.Type())
	}
	idx, ok := l.types[named.Obj()]
	if !ok {
		return 0, false, unsupportedf(fd, "method %s: receiver type %s is not a supported struct", fd.Name.Name, named.Obj().Name())
	}
	return idx, pointer, nil
}

func (l *lowering) lowerFunc(fd *ast.FuncDecl) error {
	obj := l.info.Defs[fd.Name].(*types.Func)
	fn := &l.mod.Functions[l.funcs[obj]]
	fl := newFuncLowering(l, fn, obj.Type().(*types.Signature))
	if err := fl.lowerBody(fd.Body); err != nil {
		return fmt.Errorf("%s: %w", l.mod.Symbol(fn), err)
	}
	return nil
}

// recordConformance stores the host interfaces each type's pointer method
// set implements.
func (l *lowering) recordConformance() {
	for _, imported := range l.pkg.Imports() {
		hostPkg, ok := l.reg.Package(imported.Path())
		if !ok {
			continue
		}
		names := make([]string, 0, len(hostPkg.Interfaces))
		for name := range hostPkg.Interfaces {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			tn, ok := imported.Scope().Lookup(name).(*types.TypeName)
			if !ok {
				continue
			}
			iface, ok := tn.Type().Underlying().(*types.Interface)
			if !ok {
				continue
			}
			for typeName, idx := range l.types {
				if types.Implements(types.NewPointer(typeName.Type()), iface) {
					t := &l.mod.Types[idx]
					t.Implements = append(t.Implements, imported.Path()+"."+name)
				}
			}
		}
	}
	for idx := range l.mod.Types {
		sort.Strings(l.mod.Types[idx].Implements)
	}
}

func (l *lowering) symbols() []Symbol {
	qualifier := types.RelativeTo(l.pkg)
	var out []Symbol
	for obj, idx := range l.types {
		out = append(out, Symbol{
			Name:      l.mod.Types[idx].Name,
			Kind:      "type",
			Signature: types.TypeString(obj.Type().Underlying(), qualifier),
		})
	}
	for obj, idx := range l.funcs {
		fn := &l.mod.Functions[idx]
		kind := "func"
		if fn.Receiver != image.NoReceiver {
			kind = "method"
		}
		out = append(out, Symbol{
			Name:      l.mod.Symbol(fn),
			Kind:      kind,
			Signature: types.TypeString(obj.Type(), qualifier),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// nativeIndex returns the module slot of a host function, adding it on first use.
func (l *lowering) nativeIndex(node ast.Node, fn *types.Func) (int32, error) {
	path := fn.Pkg().Path()
	symbol := path + "." + fn.Name()
	if idx, ok := l.natives[symbol]; ok {
		return idx, nil
	}
	if _, err := l.reg.Native(path, fn.Name()); err != nil {
		return 0, unsupportedf(node, "%s has no host implementation", symbol)
	}
	sig := fn.Type().(*types.Signature)
	if sig.Variadic() || sig.Results().Len() > 1 {
		return 0, unsupportedf(node, "%s has an unsupported signature", symbol)
	}
	ref := image.NativeRef{Path: path, Name: fn.Name(), Result: runtime.KindVoid}
	for i := 0; i < sig.Params().Len(); i++ {
		kind, ok := scalarKind(sig.Params().At(i).Type())
		if !ok {
			return 0, unsupportedf(node, "%s: unsupported parameter type %s", symbol, sig.Params().At(i).Type())
		}
		ref.Params = append(ref.Params, kind)
	}
	if sig.Results().Len() == 1 {
		kind, ok := scalarKind(sig.Results().At(0).Type())
		if !ok {
			return 0, unsupportedf(node, "%s: unsupported result type %s", symbol, sig.Results().At(0).Type())
		}
		ref.Result = kind
	}
	idx := int32(len(l.mod.Natives))
	l.natives[symbol] = idx
	l.mod.Natives = append(l.mod.Natives, ref)
	return idx, nil
}

// scalarKind maps float64, int and bool (typed or untyped) to runtime kinds.
func scalarKind(t types.Type) (runtime.Kind, bool) {
	basic, ok := t.Underlying().(*types.Basic)
	if !ok {
		return runtime.KindVoid, false
	}
	switch basic.Kind() {
	case types.Float64, types.UntypedFloat:
		return runtime.KindFloat, true
	case types.Int, types.UntypedInt:
		return runtime.KindInteger, true
	case types.Bool, types.UntypedBool:
		return runtime.KindBool, true
	default:
		return runtime.KindVoid, false
	}
}
