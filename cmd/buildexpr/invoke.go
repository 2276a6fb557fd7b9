package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"buildexpr/materializer-go/pkg/contract"
	"buildexpr/materializer-go/pkg/invoke"
	"buildexpr/materializer-go/pkg/runtime"
	"buildexpr/materializer-go/pkg/strategy"
)

type invokeFlags struct {
	name     string
	refs     []string
	function string
	args     []string
	worker   string
	x        float64
}

func newInvokeCommand(a *app) *cobra.Command {
	var flags invokeFlags
	cmd := &cobra.Command{
		Use:   "invoke <file.go>",
		Short: "Compile, load and call a function or a contract worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return a.invoke(args[0], flags)
		},
	}
	bindOptions(newViper(), cmd.Flags(), []opt{
		{destP: &flags.name, flag: "name", desc: "module name (default: file name)"},
		{destP: &flags.refs, flag: "ref", desc: "host packages the source may import"},
		{destP: &flags.function, flag: "func", desc: "static function to call"},
		{destP: &flags.args, flag: "arg", desc: "arguments for --func"},
		{destP: &flags.worker, flag: "worker", desc: "type to bind as contracts.Worker"},
		{destP: &flags.x, flag: "x", dflt: 2.3, desc: "input for --worker"},
	})
	return cmd
}

func (a *app) invoke(path string, flags invokeFlags) error {
	if (flags.function == "") == (flags.worker == "") {
		return fmt.Errorf("exactly one of --func and --worker is required")
	}
	unit, err := readUnit(path, flags.name, flags.refs)
	if err != nil {
		return err
	}
	p := strategy.NewPipeline(a.reg, strategy.WithLogger(a.log))
	h, err := p.Materialize(context.Background(), unit)
	if err != nil {
		return err
	}

	if flags.worker != "" {
		workers := contract.NewRegistry()
		if _, err := invoke.RegisterWorkers(workers, h); err != nil {
			return err
		}
		w, err := workers.New(flags.worker)
		if err != nil {
			return err
		}
		v, err := contract.Do(w, flags.x)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, runtime.Format(runtime.FloatValue{Val: v}))
		return nil
	}

	target, err := invoke.ResolveFunction(h, flags.function)
	if err != nil {
		return err
	}
	args := make([]any, len(flags.args))
	for idx, text := range flags.args {
		args[idx] = parseArg(text)
	}
	v, err := target.Invoke(args...)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, runtime.Format(v))
	return nil
}

// parseArg reads an int, a float64 or a bool; anything else stays a string
// and is rejected by the invoker.
func parseArg(text string) any {
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(text); err == nil {
		return b
	}
	return text
}
