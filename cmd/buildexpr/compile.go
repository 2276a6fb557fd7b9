package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"buildexpr/materializer-go/pkg/compiler"
	"buildexpr/materializer-go/pkg/image"
)

type compileFlags struct {
	name   string
	refs   []string
	disasm bool
}

func newCompileCommand(a *app) *cobra.Command {
	var flags compileFlags
	cmd := &cobra.Command{
		Use:   "compile <file.go>",
		Short: "Compile a source file and list its symbols; nothing is written",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return a.compile(args[0], flags)
		},
	}
	bindOptions(newViper(), cmd.Flags(), []opt{
		{destP: &flags.name, flag: "name", desc: "module name (default: file name)"},
		{destP: &flags.refs, flag: "ref", desc: "host packages the source may import"},
		{destP: &flags.disasm, flag: "disasm", desc: "print the bytecode"},
	})
	return cmd
}

// readUnit reads path into a source unit named after the file.
func readUnit(path, name string, refs []string) (compiler.SourceUnit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return compiler.SourceUnit{}, err
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return compiler.SourceUnit{Name: name, Text: string(data), References: refs}, nil
}

func (a *app) compile(path string, flags compileFlags) error {
	unit, err := readUnit(path, flags.name, flags.refs)
	if err != nil {
		return err
	}
	mod, err := compiler.New(a.reg, compiler.WithLogger(a.log)).Compile(unit)
	if err != nil {
		var compileErr *compiler.CompileError
		if errors.As(err, &compileErr) {
			for _, d := range compileErr.Diagnostics {
				fmt.Fprintf(a.stderr, "%s:%s\n", path, d)
			}
		}
		return err
	}

	for _, d := range mod.Warnings {
		fmt.Fprintf(a.stderr, "%s:%s\n", path, d)
	}
	fmt.Fprintf(a.stdout, "module %s digest %016x (%d bytes)\n", mod.Name, mod.Digest, len(mod.Image))
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	for _, sym := range mod.Symbols {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", sym.Kind, sym.Name, sym.Signature)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if flags.disasm {
		m, err := image.Decode(mod.Image)
		if err != nil {
			return err
		}
		fmt.Fprint(a.stdout, image.Disassemble(m))
	}
	return nil
}
