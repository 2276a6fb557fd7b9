package image

import (
	"fmt"
	"strings"

	"buildexpr/materializer-go/pkg/runtime"
)

// Disassemble renders m as readable text for debugging and the CLI.
func Disassemble(m *Module) string {
	var b strings.Builder
	fmt.Fprintf(&b, "module %s\n", m.Name)
	for _, path := range m.Imports {
		fmt.Fprintf(&b, "import %q\n", path)
	}
	for idx, n := range m.Natives {
		fmt.Fprintf(&b, "native #%d %s%s\n", idx, n.Symbol(), signature(n.Params, n.Result))
	}
	for _, t := range m.Types {
		fields := make([]string, len(t.Fields))
		for idx, f := range t.Fields {
			fields[idx] = f.Name + " " + f.Kind.String()
		}
		fmt.Fprintf(&b, "type %s {%s}", t.Name, strings.Join(fields, "; "))
		if len(t.Implements) > 0 {
			fmt.Fprintf(&b, " implements %s", strings.Join(t.Implements, ", "))
		}
		b.WriteByte('\n')
	}
	for idx := range m.Functions {
		fn := &m.Functions[idx]
		recv := ""
		if fn.Receiver != NoReceiver {
			recv = "*"
			if !fn.PointerReceiver {
				recv = ""
			}
			recv = "(" + recv + m.Types[fn.Receiver].Name + ") "
		}
		fmt.Fprintf(&b, "func #%d %s%s%s locals=%d\n", idx, recv, fn.Name, signature(fn.Params, fn.Result), fn.Locals)
		for pc, in := range fn.Code {
			fmt.Fprintf(&b, "  %04d %s", pc, in)
			if in.Op == OpConst && int(in.A) < len(fn.Consts) {
				fmt.Fprintf(&b, "\t; %s", runtime.Format(fn.Consts[in.A]))
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func signature(params []runtime.Kind, result runtime.Kind) string {
	parts := make([]string, len(params))
	for idx, k := range params {
		parts[idx] = k.String()
	}
	out := "(" + strings.Join(parts, ", ") + ")"
	if result != runtime.KindVoid {
		out += " " + result.String()
	}
	return out
}
