package compiler

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"

	"buildexpr/materializer-go/pkg/host"
)

// hostImporter serves the declared references of one source unit by type
// checking the host package stubs. Anything else is invisible to the unit.
type hostImporter struct {
	reg      *host.Registry
	declared map[string]struct{}
	fset     *token.FileSet
	loaded   map[string]*types.Package
}

func newHostImporter(reg *host.Registry, references []string, fset *token.FileSet) *hostImporter {
	declared := make(map[string]struct{}, len(references))
	for _, ref := range references {
		declared[ref] = struct{}{}
	}
	return &hostImporter{
		reg:      reg,
		declared: declared,
		fset:     fset,
		loaded:   make(map[string]*types.Package),
	}
}

func (imp *hostImporter) Import(path string) (*types.Package, error) {
	if pkg, ok := imp.loaded[path]; ok {
		return pkg, nil
	}
	if _, ok := imp.declared[path]; !ok {
		return nil, fmt.Errorf("%s is not a declared reference", path)
	}
	hostPkg, ok := imp.reg.Package(path)
	if !ok {
		return nil, fmt.Errorf("%s is not available in the host", path)
	}
	file, err := parser.ParseFile(imp.fset, path+".stub.go", hostPkg.Source, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("host stub %s: %w", path, err)
	}
	conf := types.Config{Importer: noImports{}}
	pkg, err := conf.Check(path, imp.fset, []*ast.File{file}, nil)
	if err != nil {
		return nil, fmt.Errorf("host stub %s: %w", path, err)
	}
	imp.loaded[path] = pkg
	return pkg, nil
}

type noImports struct{}

func (noImports) Import(path string) (*types.Package, error) {
	return nil, fmt.Errorf("host stubs cannot import %s", path)
}
