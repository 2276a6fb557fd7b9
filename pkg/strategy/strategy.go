// Package strategy runs the formula through each materialization strategy:
// a compiled expression graph, a compiled module invoked by name, the
// interpreter, and a compiled type bound to contract.Worker.
package strategy

import (
	"context"
	"errors"
	"fmt"

	"buildexpr/materializer-go/pkg/compiler"
	"buildexpr/materializer-go/pkg/contract"
	"buildexpr/materializer-go/pkg/graph"
	"buildexpr/materializer-go/pkg/interpreter"
	"buildexpr/materializer-go/pkg/invoke"
)

// Strategy names.
const (
	NameExpressions = "expressions"
	NameReflection  = "reflection"
	NameInterpreter = "interpreter"
	NameContract    = "contract"
)

// Strategy computes f(x) by one materialization route.
type Strategy interface {
	Name() string
	Calculate(ctx context.Context, x float64) (float64, error)
}

// FormulaSource is the formula as a module with a static Evaluate function.
const FormulaSource = `package expression

func Evaluate(x float64) float64 {
	return ((3 * x) / 2) + 4
}
`

// WorkerSource is the formula as a type implementing contracts.Worker.
const WorkerSource = `package worker

import "buildexpr/contracts"

type Worker struct{}

var _ contracts.Worker = (*Worker)(nil)

func (w *Worker) Work(x float64) float64 {
	return ((3 * x) / 2) + 4
}
`

// FormulaUnit returns the source unit for the reflection strategy.
func FormulaUnit() compiler.SourceUnit {
	return compiler.SourceUnit{Name: "expression", Text: FormulaSource}
}

// WorkerUnit returns the source unit for the contract strategy.
func WorkerUnit() compiler.SourceUnit {
	return compiler.SourceUnit{Name: "worker", Text: WorkerSource, References: []string{contract.PackagePath}}
}

//-----------------------------------------------------------------------------
// Expressions
//-----------------------------------------------------------------------------

// Expressions evaluates a graph compiled once into a closure.
type Expressions struct {
	fn func(float64) float64
}

func NewExpressions(g *graph.Graph) (*Expressions, error) {
	compiled, err := graph.Compile(g)
	if err != nil {
		return nil, err
	}
	fn, err := compiled.Unary()
	if err != nil {
		return nil, err
	}
	return &Expressions{fn: fn}, nil
}

func (s *Expressions) Name() string { return NameExpressions }

func (s *Expressions) Calculate(ctx context.Context, x float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.fn(x), nil
}

//-----------------------------------------------------------------------------
// Reflection
//-----------------------------------------------------------------------------

// Reflection materializes a module and invokes a static function by name.
type Reflection struct {
	pipeline *Pipeline
	unit     compiler.SourceUnit
	function string
}

func NewReflection(p *Pipeline, unit compiler.SourceUnit, function string) *Reflection {
	return &Reflection{pipeline: p, unit: unit, function: function}
}

func (s *Reflection) Name() string { return NameReflection }

func (s *Reflection) Calculate(ctx context.Context, x float64) (float64, error) {
	h, err := s.pipeline.Materialize(ctx, s.unit)
	if err != nil {
		return 0, err
	}
	target, err := invoke.ResolveFunction(h, s.function)
	if err != nil {
		return 0, err
	}
	return s.pipeline.timeInvoke(func() (float64, error) {
		return target.InvokeFloat(x)
	})
}

//-----------------------------------------------------------------------------
// Interpreter
//-----------------------------------------------------------------------------

// Interpreter evaluates expression text with x bound.
type Interpreter struct {
	host *interpreter.Host
	text string
}

func NewInterpreter(h *interpreter.Host, text string) *Interpreter {
	return &Interpreter{host: h, text: text}
}

func (s *Interpreter) Name() string { return NameInterpreter }

func (s *Interpreter) Calculate(ctx context.Context, x float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.host.EvaluateFloat(s.text, map[string]float64{"x": x})
}

//-----------------------------------------------------------------------------
// Contract
//-----------------------------------------------------------------------------

// Contract materializes a module and calls Work on one of its types through
// contract.Worker.
type Contract struct {
	pipeline *Pipeline
	unit     compiler.SourceUnit
	typeName string
}

func NewContract(p *Pipeline, unit compiler.SourceUnit, typeName string) *Contract {
	return &Contract{pipeline: p, unit: unit, typeName: typeName}
}

func (s *Contract) Name() string { return NameContract }

func (s *Contract) Calculate(ctx context.Context, x float64) (float64, error) {
	h, err := s.pipeline.Materialize(ctx, s.unit)
	if err != nil {
		return 0, err
	}
	w, err := invoke.BindWorker(h, s.typeName)
	if err != nil {
		return 0, err
	}
	return s.pipeline.timeInvoke(func() (float64, error) {
		return contract.Do(w, x)
	})
}

//-----------------------------------------------------------------------------
// Defaults
//-----------------------------------------------------------------------------

// Defaults returns the four strategies over the canonical formula, in
// expressions, reflection, interpreter, contract order.
func Defaults(p *Pipeline, h *interpreter.Host) ([]Strategy, error) {
	formula := graph.Formula()
	expressions, err := NewExpressions(formula)
	if err != nil {
		return nil, fmt.Errorf("expressions: %w", err)
	}
	return []Strategy{
		expressions,
		NewReflection(p, FormulaUnit(), "Evaluate"),
		NewInterpreter(h, formula.String()),
		NewContract(p, WorkerUnit(), "Worker"),
	}, nil
}

func invokeLabel(err error) string {
	var (
		notFound *invoke.SymbolNotFoundError
		invErr   *invoke.InvokeError
		evalErr  *interpreter.EvalError
	)
	switch {
	case errors.As(err, &notFound):
		return LabelNotFound
	case errors.As(err, &invErr):
		return LabelInvokeError
	case errors.As(err, &evalErr):
		return LabelEvalError
	default:
		return LabelGenericError
	}
}
