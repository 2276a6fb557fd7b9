package interpreter

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"go/types"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"buildexpr/materializer-go/pkg/host"
	"buildexpr/materializer-go/pkg/runtime"
)

// Location is a 1-based position inside the evaluated text.
type Location struct {
	Line   int
	Column int
}

// EvalError reports a syntax error or a failure while evaluating.
type EvalError struct {
	Message  string
	Location Location
	Err      error
}

func (e *EvalError) Error() string {
	if e.Location.Line == 0 {
		return "eval: " + e.Message
	}
	return fmt.Sprintf("eval: %d:%d: %s", e.Location.Line, e.Location.Column, e.Message)
}

func (e *EvalError) Unwrap() error { return e.Err }

type Option func(*Host)

func WithLogger(log *zap.Logger) Option {
	return func(h *Host) {
		if log != nil {
			h.log = log
		}
	}
}

// Host evaluates expressions against the host packages in a registry.
// Safe for concurrent use.
type Host struct {
	reg *host.Registry
	log *zap.Logger

	mu     sync.Mutex
	consts map[string]*types.Package
}

func New(reg *host.Registry, opts ...Option) *Host {
	if reg == nil {
		reg = host.Default()
	}
	h := &Host{reg: reg, log: zap.NewNop(), consts: make(map[string]*types.Package)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Evaluate parses and evaluates text with no variables bound.
func (h *Host) Evaluate(text string) (runtime.Value, error) {
	return h.EvaluateWith(text, nil)
}

// EvaluateWith evaluates text with each binding visible as a float64 variable.
func (h *Host) EvaluateWith(text string, bindings map[string]float64) (runtime.Value, error) {
	start := time.Now()
	fset := token.NewFileSet()
	expr, err := parser.ParseExprFrom(fset, "", text, parser.SkipObjectResolution)
	if err != nil {
		return nil, syntaxError(err)
	}
	ev := &evaluator{host: h, fset: fset, bindings: bindings}
	val, err := ev.eval(expr)
	if err != nil {
		return nil, err
	}
	h.log.Debug("Evaluated expression",
		zap.String("text", text),
		zap.String("result", runtime.Format(val)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return val, nil
}

// EvaluateFloat evaluates text and widens a numeric result to float64.
func (h *Host) EvaluateFloat(text string, bindings map[string]float64) (float64, error) {
	val, err := h.EvaluateWith(text, bindings)
	if err != nil {
		return 0, err
	}
	f, ok := runtime.AsFloat(val)
	if !ok {
		return 0, &EvalError{Message: fmt.Sprintf("result is %s, not a number", val.Kind())}
	}
	return f, nil
}

func syntaxError(err error) error {
	var list scanner.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		first := list[0]
		return &EvalError{
			Message:  "syntax error: " + first.Msg,
			Location: Location{Line: first.Pos.Line, Column: first.Pos.Column},
			Err:      err,
		}
	}
	return &EvalError{Message: "syntax error: " + err.Error(), Err: err}
}

// hostPackage finds a registered package by its import name.
func (h *Host) hostPackage(name string) (*host.Package, bool) {
	for _, p := range h.reg.Paths() {
		if path.Base(p) == name {
			return h.reg.Package(p)
		}
	}
	return nil, false
}

// constant looks up an exported constant declared by a host package stub.
func (h *Host) constant(pkg *host.Package, name string) (*types.Const, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	checked, ok := h.consts[pkg.Path]
	if !ok {
		fset := token.NewFileSet()
		file, err := parser.ParseFile(fset, pkg.Path+".stub.go", pkg.Source, parser.SkipObjectResolution)
		if err != nil {
			return nil, err
		}
		conf := types.Config{}
		checked, err = conf.Check(pkg.Path, fset, []*ast.File{file}, nil)
		if err != nil {
			return nil, err
		}
		h.consts[pkg.Path] = checked
	}
	c, _ := checked.Scope().Lookup(name).(*types.Const)
	return c, nil
}
