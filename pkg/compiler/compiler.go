// Package compiler turns a single Go source file into a module image.
//
// The source language is a typed subset of Go: struct types with scalar
// fields, functions and methods over float64, int and bool, package
// constants, and calls into host packages the unit declares as references.
// Parsing and type checking use go/parser and go/types; lowering emits stack
// bytecode for pkg/vm.
package compiler

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"buildexpr/materializer-go/pkg/host"
	"buildexpr/materializer-go/pkg/image"
)

// SourceUnit is one compilation request. References lists the host import
// paths the source may use.
type SourceUnit struct {
	Name       string
	Text       string
	References []string
}

// Symbol describes one exported entry of a compiled module.
type Symbol struct {
	Name      string // "Evaluate" or "Worker.Work"
	Kind      string // "func", "method" or "type"
	Signature string
}

// Module is a compiled, not yet loaded, module image. Warnings never
// prevent a module from being produced.
type Module struct {
	Name     string
	Image    []byte
	Digest   uint64
	Symbols  []Symbol
	Warnings []Diagnostic
}

type Option func(*Compiler)

// WithLogger sets the logger used for compile events.
func WithLogger(log *zap.Logger) Option {
	return func(c *Compiler) {
		if log != nil {
			c.log = log
		}
	}
}

// Compiler is stateless between calls and safe for concurrent use.
type Compiler struct {
	reg *host.Registry
	log *zap.Logger
}

func New(reg *host.Registry, opts ...Option) *Compiler {
	if reg == nil {
		reg = host.Default()
	}
	c := &Compiler{reg: reg, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile parses, checks and lowers unit. It returns either a complete module
// or a *CompileError, never both.
func (c *Compiler) Compile(unit SourceUnit) (*Module, error) {
	start := time.Now()
	name := unit.Name
	fset := token.NewFileSet()
	filename := "source.go"
	if name != "" {
		filename = name + ".go"
	}
	file, err := parser.ParseFile(fset, filename, unit.Text, parser.AllErrors|parser.SkipObjectResolution)
	if err != nil {
		if name == "" {
			name = "source"
		}
		return nil, c.fail(name, parseDiagnostics(err))
	}
	if name == "" {
		name = file.Name.Name
	}

	info := &types.Info{
		Types:      make(map[ast.Expr]types.TypeAndValue),
		Defs:       make(map[*ast.Ident]types.Object),
		Uses:       make(map[*ast.Ident]types.Object),
		Selections: make(map[*ast.SelectorExpr]*types.Selection),
	}
	var diags []Diagnostic
	conf := types.Config{
		Importer: newHostImporter(c.reg, unit.References, fset),
		Error: func(err error) {
			diags = append(diags, checkDiagnostic(err))
		},
	}
	pkg, _ := conf.Check(file.Name.Name, fset, []*ast.File{file}, info)
	if len(diags) > 0 {
		return nil, c.fail(name, diags)
	}

	low := newLowering(c.reg, fset, info, pkg, name)
	mod, symbols := low.lowerFile(file)
	if len(low.diags) > 0 {
		return nil, c.fail(name, low.diags)
	}
	data, err := image.Encode(mod)
	if err != nil {
		return nil, fmt.Errorf("compiler: emit %s: %w", name, err)
	}
	digest, err := image.Digest(data)
	if err != nil {
		return nil, fmt.Errorf("compiler: emit %s: %w", name, err)
	}
	warnings := unusedReferences(file, unit.References)
	c.log.Debug("Compiled module",
		zap.String("module", name),
		zap.Int("functions", len(mod.Functions)),
		zap.Int("types", len(mod.Types)),
		zap.Int("bytes", len(data)),
		zap.Int("warnings", len(warnings)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &Module{Name: name, Image: data, Digest: digest, Symbols: symbols, Warnings: warnings}, nil
}

// unusedReferences warns about declared host references the file never imports.
func unusedReferences(file *ast.File, refs []string) []Diagnostic {
	imported := make(map[string]struct{}, len(file.Imports))
	for _, spec := range file.Imports {
		if path, err := strconv.Unquote(spec.Path.Value); err == nil {
			imported[path] = struct{}{}
		}
	}
	var warnings []Diagnostic
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		if _, ok := imported[ref]; ok {
			continue
		}
		warnings = append(warnings, Diagnostic{
			Severity: SeverityWarning,
			Phase:    PhaseCheck,
			Message:  fmt.Sprintf("reference %s is declared but not imported", ref),
		})
	}
	return warnings
}

func (c *Compiler) fail(name string, diags []Diagnostic) error {
	sort.SliceStable(diags, func(i, j int) bool {
		a, b := diags[i].Location, diags[j].Location
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
	c.log.Debug("Compilation failed",
		zap.String("module", name),
		zap.String("phase", string(diags[0].Phase)),
		zap.Int("diagnostics", len(diags)),
	)
	return &CompileError{Module: name, Diagnostics: diags}
}
