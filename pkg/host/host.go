// Package host describes what is already loaded in the running process: the
// packages generated code may reference, their declarations for the type
// checker, and their native implementations for the linker.
package host

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"buildexpr/materializer-go/pkg/contract"
	"buildexpr/materializer-go/pkg/runtime"
)

// Native is a host function callable from generated code.
type Native struct {
	Params []runtime.Kind
	Result runtime.Kind
	Fn     func(args []runtime.Value) (runtime.Value, error)
}

// Package is one importable host package.
type Package struct {
	Path       string
	Source     string // Go declarations handed to the type checker
	Natives    map[string]Native
	Interfaces map[string]reflect.Type
}

// Registry is the set of host packages. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	packages map[string]*Package
}

func NewRegistry() *Registry {
	return &Registry{packages: make(map[string]*Package)}
}

// Default returns a registry with the math surface and the worker contract.
func Default() *Registry {
	reg := NewRegistry()
	reg.MustRegister(mathPackage())
	reg.MustRegister(contractsPackage())
	return reg
}

func (r *Registry) Register(pkg *Package) error {
	if pkg == nil || pkg.Path == "" {
		return fmt.Errorf("host: package path is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.packages[pkg.Path]; exists {
		return fmt.Errorf("host: package %s already registered", pkg.Path)
	}
	r.packages[pkg.Path] = pkg
	return nil
}

func (r *Registry) MustRegister(pkg *Package) {
	if err := r.Register(pkg); err != nil {
		panic(err)
	}
}

// Package looks up a package by import path.
func (r *Registry) Package(path string) (*Package, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pkg, ok := r.packages[path]
	return pkg, ok
}

// Paths lists registered import paths in sorted order.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	paths := make([]string, 0, len(r.packages))
	for path := range r.packages {
		paths = append(paths, path)
	}
	r.mu.RUnlock()
	sort.Strings(paths)
	return paths
}

// Without returns a copy of the registry lacking the given paths.
func (r *Registry) Without(paths ...string) *Registry {
	drop := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		drop[path] = struct{}{}
	}
	out := NewRegistry()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for path, pkg := range r.packages {
		if _, skip := drop[path]; skip {
			continue
		}
		out.packages[path] = pkg
	}
	return out
}

// Native resolves path.name to a native function.
func (r *Registry) Native(path, name string) (Native, error) {
	pkg, ok := r.Package(path)
	if !ok {
		return Native{}, fmt.Errorf("host: package %s is not loaded", path)
	}
	native, ok := pkg.Natives[name]
	if !ok {
		return Native{}, fmt.Errorf("host: package %s has no function %s", path, name)
	}
	return native, nil
}

// Interface resolves path.name to the Go interface type generated types may satisfy.
func (r *Registry) Interface(path, name string) (reflect.Type, error) {
	pkg, ok := r.Package(path)
	if !ok {
		return nil, fmt.Errorf("host: package %s is not loaded", path)
	}
	typ, ok := pkg.Interfaces[name]
	if !ok {
		return nil, fmt.Errorf("host: package %s has no interface %s", path, name)
	}
	return typ, nil
}

func contractsPackage() *Package {
	return &Package{
		Path:   contract.PackagePath,
		Source: contract.Source,
		Interfaces: map[string]reflect.Type{
			"Worker": reflect.TypeOf((*contract.Worker)(nil)).Elem(),
		},
	}
}
