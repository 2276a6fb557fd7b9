package image

import (
	"fmt"
	"strings"

	"buildexpr/materializer-go/pkg/runtime"
)

// Verify checks the structural invariants the VM relies on: every index an
// instruction carries is in range, jumps land inside the function, calls match
// the callee's arity, and code never runs off the end.
func Verify(m *Module) error {
	if m == nil {
		return fmt.Errorf("%w: nil module", ErrMalformed)
	}
	imports := make(map[string]struct{}, len(m.Imports))
	for _, path := range m.Imports {
		if path == "" {
			return malformed("empty import path")
		}
		if _, dup := imports[path]; dup {
			return malformed("duplicate import %s", path)
		}
		imports[path] = struct{}{}
	}
	for idx, n := range m.Natives {
		if _, ok := imports[n.Path]; !ok {
			return malformed("native %d (%s) uses undeclared import %s", idx, n.Name, n.Path)
		}
		if err := scalarKinds(n.Params, n.Result); err != nil {
			return malformed("native %s: %v", n.Symbol(), err)
		}
	}
	typeNames := make(map[string]struct{}, len(m.Types))
	for _, t := range m.Types {
		if t.Name == "" {
			return malformed("unnamed type")
		}
		if _, dup := typeNames[t.Name]; dup {
			return malformed("duplicate type %s", t.Name)
		}
		typeNames[t.Name] = struct{}{}
		for _, f := range t.Fields {
			if !scalar(f.Kind) {
				return malformed("type %s field %s has kind %s", t.Name, f.Name, f.Kind)
			}
		}
		for _, iface := range t.Implements {
			dot := strings.LastIndexByte(iface, '.')
			if dot <= 0 || dot == len(iface)-1 {
				return malformed("type %s implements malformed reference %q", t.Name, iface)
			}
			if _, ok := imports[iface[:dot]]; !ok {
				return malformed("type %s implements %s from undeclared import", t.Name, iface)
			}
		}
	}
	symbols := make(map[string]struct{}, len(m.Functions))
	for idx := range m.Functions {
		fn := &m.Functions[idx]
		if fn.Receiver != NoReceiver && (fn.Receiver < 0 || int(fn.Receiver) >= len(m.Types)) {
			return malformed("function %s has receiver type %d out of range", fn.Name, fn.Receiver)
		}
		symbol := m.Symbol(fn)
		if fn.Name == "" {
			return malformed("unnamed function %d", idx)
		}
		if _, dup := symbols[symbol]; dup {
			return malformed("duplicate function %s", symbol)
		}
		symbols[symbol] = struct{}{}
		if err := verifyFunction(m, fn); err != nil {
			return malformed("function %s: %v", symbol, err)
		}
	}
	return nil
}

func verifyFunction(m *Module, fn *Function) error {
	if fn.Result != runtime.KindVoid && !scalar(fn.Result) {
		return fmt.Errorf("result kind %s", fn.Result)
	}
	for _, k := range fn.Params {
		if !scalar(k) {
			return fmt.Errorf("parameter kind %s", k)
		}
	}
	if int(fn.Locals) < fn.Arity() {
		return fmt.Errorf("%d locals cannot hold %d arguments", fn.Locals, fn.Arity())
	}
	for idx, c := range fn.Consts {
		if c == nil || !scalar(c.Kind()) {
			return fmt.Errorf("constant %d is not a scalar", idx)
		}
	}
	if len(fn.Code) == 0 {
		return fmt.Errorf("empty body")
	}
	if last := fn.Code[len(fn.Code)-1].Op; last != OpReturn && last != OpJump {
		return fmt.Errorf("code falls off the end after %s", last)
	}
	for pc, in := range fn.Code {
		if !in.Op.Valid() {
			return fmt.Errorf("pc %d: unknown opcode %d", pc, in.Op)
		}
		switch in.Op {
		case OpConst:
			if in.A < 0 || int(in.A) >= len(fn.Consts) {
				return fmt.Errorf("pc %d: constant %d out of range", pc, in.A)
			}
		case OpLoad, OpStore:
			if in.A < 0 || in.A >= fn.Locals {
				return fmt.Errorf("pc %d: local %d out of range", pc, in.A)
			}
		case OpField, OpSetField:
			if in.A < 0 {
				return fmt.Errorf("pc %d: negative field index", pc)
			}
		case OpJump, OpJumpIfFalse:
			if in.A < 0 || int(in.A) >= len(fn.Code) {
				return fmt.Errorf("pc %d: jump target %d out of range", pc, in.A)
			}
		case OpCall:
			if in.A < 0 || int(in.A) >= len(m.Functions) {
				return fmt.Errorf("pc %d: call target %d out of range", pc, in.A)
			}
			if callee := &m.Functions[in.A]; int(in.B) != callee.Arity() {
				return fmt.Errorf("pc %d: call passes %d arguments, %s takes %d", pc, in.B, m.Symbol(callee), callee.Arity())
			}
		case OpCallNative:
			if in.A < 0 || int(in.A) >= len(m.Natives) {
				return fmt.Errorf("pc %d: native %d out of range", pc, in.A)
			}
			if n := m.Natives[in.A]; int(in.B) != len(n.Params) {
				return fmt.Errorf("pc %d: native call passes %d arguments, %s takes %d", pc, in.B, n.Symbol(), len(n.Params))
			}
		case OpReturn:
			if (in.A != 0) != (fn.Result != runtime.KindVoid) {
				return fmt.Errorf("pc %d: return arity does not match result kind %s", pc, fn.Result)
			}
		}
	}
	return nil
}

func scalar(k runtime.Kind) bool {
	return k == runtime.KindFloat || k == runtime.KindInteger || k == runtime.KindBool
}

func scalarKinds(params []runtime.Kind, result runtime.Kind) error {
	for _, k := range params {
		if !scalar(k) {
			return fmt.Errorf("parameter kind %s", k)
		}
	}
	if result != runtime.KindVoid && !scalar(result) {
		return fmt.Errorf("result kind %s", result)
	}
	return nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
