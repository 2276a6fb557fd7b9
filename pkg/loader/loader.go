// Package loader links module images against the host and exposes their
// symbols. Every Load creates an independent program; handles from earlier
// loads are never touched.
package loader

import (
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"

	"buildexpr/materializer-go/pkg/host"
	"buildexpr/materializer-go/pkg/image"
	"buildexpr/materializer-go/pkg/runtime"
	"buildexpr/materializer-go/pkg/vm"
)

const (
	ReasonMalformed       = "malformed image"
	ReasonUnmetDependency = "unmet dependency"
)

// LoadError reports an image that could not be made resolvable.
type LoadError struct {
	Module string
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	if e == nil {
		return "loader: load failed"
	}
	name := e.Module
	if name == "" {
		name = "<unknown>"
	}
	if e.Err == nil {
		return fmt.Sprintf("loader: %s: %s", name, e.Reason)
	}
	return fmt.Sprintf("loader: %s: %s: %v", name, e.Reason, e.Err)
}

func (e *LoadError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type Option func(*Loader)

func WithLogger(log *zap.Logger) Option {
	return func(l *Loader) {
		if log != nil {
			l.log = log
		}
	}
}

// WithMaxCallDepth bounds nested calls inside loaded code.
func WithMaxCallDepth(depth int) Option {
	return func(l *Loader) {
		l.maxDepth = depth
	}
}

type Loader struct {
	reg      *host.Registry
	log      *zap.Logger
	maxDepth int
}

func New(reg *host.Registry, opts ...Option) *Loader {
	if reg == nil {
		reg = host.Default()
	}
	l := &Loader{reg: reg, log: zap.NewNop(), maxDepth: vm.DefaultMaxDepth}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load decodes data, resolves its imports against the host and links it.
func (l *Loader) Load(data []byte) (*Handle, error) {
	m, err := image.Decode(data)
	if err != nil {
		return nil, &LoadError{Reason: ReasonMalformed, Err: err}
	}
	digest, _ := image.Digest(data)

	for _, path := range m.Imports {
		if _, ok := l.reg.Package(path); !ok {
			return nil, l.unmet(m, fmt.Errorf("import %s is not loaded in the host", path))
		}
	}
	natives := make([]host.Native, len(m.Natives))
	for idx, ref := range m.Natives {
		native, err := l.reg.Native(ref.Path, ref.Name)
		if err != nil {
			return nil, l.unmet(m, err)
		}
		if !slices.Equal(native.Params, ref.Params) || native.Result != ref.Result {
			return nil, l.unmet(m, fmt.Errorf("%s: host signature %s does not match %s",
				ref.Symbol(), signature(native.Params, native.Result), signature(ref.Params, ref.Result)))
		}
		natives[idx] = native
	}

	prog, err := vm.Link(m, natives, l.maxDepth)
	if err != nil {
		return nil, &LoadError{Module: m.Name, Reason: ReasonMalformed, Err: err}
	}
	h := &Handle{
		name:   m.Name,
		digest: digest,
		prog:   prog,
		funcs:  make(map[string]*vm.Function),
		types:  make(map[string]*Type, len(m.Types)),
	}
	for idx, t := range m.Types {
		typ := &Type{
			Struct:     prog.Types[idx],
			Interfaces: t.Implements,
			methods:    make(map[string]*vm.Function),
			ifaces:     make([]reflect.Type, 0, len(t.Implements)),
		}
		for _, ref := range t.Implements {
			dot := strings.LastIndexByte(ref, '.')
			iface, err := l.reg.Interface(ref[:dot], ref[dot+1:])
			if err != nil {
				return nil, l.unmet(m, fmt.Errorf("type %s: %w", t.Name, err))
			}
			typ.ifaces = append(typ.ifaces, iface)
		}
		h.types[t.Name] = typ
	}
	for _, fn := range prog.Functions {
		if fn.Receiver == nil {
			h.funcs[fn.Name] = fn
			continue
		}
		h.types[fn.Receiver.Name].methods[fn.Name] = fn
	}
	l.log.Debug("Loaded module",
		zap.String("module", m.Name),
		zap.Uint64("digest", digest),
		zap.Int("functions", len(prog.Functions)),
		zap.Int("natives", len(natives)),
	)
	return h, nil
}

func (l *Loader) unmet(m *image.Module, err error) error {
	l.log.Debug("Unmet dependency", zap.String("module", m.Name), zap.Error(err))
	return &LoadError{Module: m.Name, Reason: ReasonUnmetDependency, Err: err}
}

func signature(params []runtime.Kind, result runtime.Kind) string {
	parts := make([]string, len(params))
	for idx, k := range params {
		parts[idx] = k.String()
	}
	return "(" + strings.Join(parts, ", ") + ") " + result.String()
}

// Handle is a loaded module's symbol table.
type Handle struct {
	name   string
	digest uint64
	prog   *vm.Program
	funcs  map[string]*vm.Function
	types  map[string]*Type
}

func (h *Handle) Name() string { return h.name }

// Digest is the content hash of the image the handle was loaded from.
func (h *Handle) Digest() uint64 { return h.digest }

func (h *Handle) Program() *vm.Program { return h.prog }

// Functions lists plain (non-method) functions in sorted order.
func (h *Handle) Functions() []string {
	names := make([]string, 0, len(h.funcs))
	for name := range h.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Types lists struct type names in sorted order.
func (h *Handle) Types() []string {
	names := make([]string, 0, len(h.types))
	for name := range h.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *Handle) Function(name string) (*vm.Function, bool) {
	fn, ok := h.funcs[name]
	return fn, ok
}

func (h *Handle) Type(name string) (*Type, bool) {
	t, ok := h.types[name]
	return t, ok
}

// Type is a loaded struct type with its methods and resolved host interfaces.
type Type struct {
	Struct     *runtime.StructType
	Interfaces []string // "path.Name" of each host interface implemented
	methods    map[string]*vm.Function
	ifaces     []reflect.Type
}

func (t *Type) Name() string { return t.Struct.Name }

func (t *Type) Method(name string) (*vm.Function, bool) {
	fn, ok := t.methods[name]
	return fn, ok
}

// Methods lists method names in sorted order.
func (t *Type) Methods() []string {
	names := make([]string, 0, len(t.methods))
	for name := range t.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Conforms reports whether the module declared that t implements iface.
func (t *Type) Conforms(iface reflect.Type) bool {
	for _, candidate := range t.ifaces {
		if candidate == iface {
			return true
		}
	}
	return false
}
