// Package contract defines the capability contract generated types implement
// and a registry of constructors keyed by type name.
package contract

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// PackagePath is the import path generated source uses to reach the contract.
const PackagePath = "buildexpr/contracts"

// Source declares the contract for the source compiler. It must keep the
// exact shape of Worker.
const Source = `package contracts

// Worker transforms one double into another.
type Worker interface {
	Work(x float64) float64
}
`

// Worker is the fixed capability every conforming generated type exposes.
type Worker interface {
	Work(x float64) float64
}

// FallibleWorker is implemented by workers backed by generated code, whose
// execution can fault.
type FallibleWorker interface {
	Worker
	TryWork(x float64) (float64, error)
}

// Do calls w, surfacing faults as errors when w can report them.
func Do(w Worker, x float64) (float64, error) {
	if w == nil {
		return 0, errors.New("contract: nil worker")
	}
	if fw, ok := w.(FallibleWorker); ok {
		return fw.TryWork(x)
	}
	return w.Work(x), nil
}

// WorkerFunc adapts a plain function to Worker.
type WorkerFunc func(x float64) float64

func (f WorkerFunc) Work(x float64) float64 { return f(x) }

// Constructor builds a fresh worker instance.
type Constructor func() (Worker, error)

// ErrUnknownType is returned by Registry.New for unregistered names.
var ErrUnknownType = errors.New("contract: unknown worker type")

// Registry maps type names to constructors. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register adds ctor under name. Names are unique.
func (r *Registry) Register(name string, ctor Constructor) error {
	if name == "" {
		return errors.New("contract: empty type name")
	}
	if ctor == nil {
		return fmt.Errorf("contract: nil constructor for %s", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ctors[name]; exists {
		return fmt.Errorf("contract: type %s already registered", name)
	}
	r.ctors[name] = ctor
	return nil
}

// New constructs a worker registered under name.
func (r *Registry) New(name string) (Worker, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	return ctor()
}

// Names lists registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
