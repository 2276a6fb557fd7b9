package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"buildexpr/materializer-go/pkg/interpreter"
	"buildexpr/materializer-go/pkg/runtime"
)

func newEvalCommand(a *app) *cobra.Command {
	var binds []string
	cmd := &cobra.Command{
		Use:   "eval <expression>",
		Short: "Evaluate one Go expression with the interpreter",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			bindings, err := parseBindings(binds)
			if err != nil {
				return err
			}
			h := interpreter.New(a.reg, interpreter.WithLogger(a.log))
			val, err := h.EvaluateWith(args[0], bindings)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, runtime.Format(val))
			return nil
		},
	}
	bindOptions(newViper(), cmd.Flags(), []opt{
		{destP: &binds, flag: "bind", desc: "variable bindings as name=value"},
	})
	return cmd
}

func parseBindings(binds []string) (map[string]float64, error) {
	bindings := make(map[string]float64, len(binds))
	for _, bind := range binds {
		name, text, ok := strings.Cut(bind, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("--bind %q: want name=value", bind)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return nil, fmt.Errorf("--bind %s: %w", name, err)
		}
		bindings[name] = v
	}
	return bindings, nil
}
