package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"buildexpr/materializer-go/pkg/compiler"
	"buildexpr/materializer-go/pkg/config"
	"buildexpr/materializer-go/pkg/graph"
	"buildexpr/materializer-go/pkg/interpreter"
	"buildexpr/materializer-go/pkg/logging"
	"buildexpr/materializer-go/pkg/runtime"
	"buildexpr/materializer-go/pkg/strategy"
)

type runFlags struct {
	inputs       []string
	strategies   []string
	configPath   string
	cache        bool
	printMetrics bool
	maxCallDepth int
}

func newRunCommand(a *app) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the formula through every selected strategy and check they agree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, flags)
		},
	}
	bindOptions(newViper(), cmd.Flags(), []opt{
		{destP: &flags.inputs, flag: "x", desc: "input values (default 2.3)"},
		{destP: &flags.strategies, flag: "strategies", desc: "strategies to run (default all)"},
		{destP: &flags.configPath, flag: "config", desc: "YAML run file"},
		{destP: &flags.cache, flag: "cache", desc: "reuse loaded modules for identical sources"},
		{destP: &flags.printMetrics, flag: "print-metrics", desc: "print Prometheus metrics after the run"},
		{destP: &flags.maxCallDepth, flag: "max-call-depth", desc: "nested call limit in generated code"},
	})
	return cmd
}

func (a *app) run(cmd *cobra.Command, flags runFlags) error {
	rf, err := a.runFile(cmd, flags)
	if err != nil {
		return err
	}

	metrics := strategy.NewMetrics()
	opts := []strategy.Option{
		strategy.WithLogger(a.log),
		strategy.WithMetrics(metrics),
		strategy.WithMaxCallDepth(rf.MaxCallDepth),
	}
	if rf.Cache {
		opts = append(opts, strategy.WithCache())
	}
	p := strategy.NewPipeline(a.reg, opts...)
	strategies, err := a.strategies(p, rf)
	if err != nil {
		return err
	}

	ctx := logging.NewContext(context.Background(), a.log)
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "X\tSTRATEGY\tRESULT\tELAPSED")
	var errs error
	for _, x := range rf.Inputs {
		results, err := strategy.RunAll(ctx, strategies, x)
		errs = multierr.Append(errs, err)
		for _, r := range results {
			value := runtime.Format(runtime.FloatValue{Val: r.Value})
			if r.Err != nil {
				value = "error: " + r.Err.Error()
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", runtime.Format(runtime.FloatValue{Val: x}), r.Strategy, value, r.Elapsed)
		}
		if err := strategy.Agree(results); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("x = %v: %w", x, err))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if errs == nil {
		fmt.Fprintf(a.stdout, "all %d strategies agree\n", len(strategies))
	}

	if flags.printMetrics {
		if err := writeMetrics(a.stdout, metrics); err != nil {
			return err
		}
	}
	return errs
}

// runFile merges the optional run file with explicitly set flags.
func (a *app) runFile(cmd *cobra.Command, flags runFlags) (*config.RunFile, error) {
	rf := config.Default()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return nil, err
		}
		rf = loaded
		if !cmd.Flags().Changed("log-level") && !cmd.Flags().Changed("log-format") {
			log, err := rf.Log.Build(a.stderr)
			if err != nil {
				return nil, err
			}
			a.log = log
		}
	}
	if len(flags.inputs) > 0 {
		inputs := make([]float64, 0, len(flags.inputs))
		for _, text := range flags.inputs {
			x, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("--x: %w", err)
			}
			inputs = append(inputs, x)
		}
		rf.Inputs = inputs
	}
	if len(flags.strategies) > 0 {
		rf.Strategies = flags.strategies
	}
	if flags.cache {
		rf.Cache = true
	}
	if flags.maxCallDepth > 0 {
		rf.MaxCallDepth = flags.maxCallDepth
	}
	if err := rf.Validate(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (a *app) strategies(p *strategy.Pipeline, rf *config.RunFile) ([]strategy.Strategy, error) {
	formula := graph.Formula()
	out := make([]strategy.Strategy, 0, len(rf.Strategies))
	for _, name := range rf.Strategies {
		var s strategy.Strategy
		switch name {
		case strategy.NameExpressions:
			expressions, err := strategy.NewExpressions(formula)
			if err != nil {
				return nil, err
			}
			s = expressions
		case strategy.NameReflection:
			unit, symbol, err := sourceUnit(rf.Reflection, strategy.FormulaUnit(), "Evaluate")
			if err != nil {
				return nil, err
			}
			s = strategy.NewReflection(p, unit, symbol)
		case strategy.NameInterpreter:
			s = strategy.NewInterpreter(interpreter.New(a.reg, interpreter.WithLogger(a.log)), formula.String())
		case strategy.NameContract:
			unit, symbol, err := sourceUnit(rf.Contract, strategy.WorkerUnit(), "Worker")
			if err != nil {
				return nil, err
			}
			s = strategy.NewContract(p, unit, symbol)
		default:
			return nil, fmt.Errorf("unknown strategy %q", name)
		}
		out = append(out, strategy.Instrument(s, p.Metrics()))
	}
	return out, nil
}

func sourceUnit(src *config.Source, dflt compiler.SourceUnit, symbol string) (compiler.SourceUnit, string, error) {
	if src == nil {
		return dflt, symbol, nil
	}
	text, err := src.Read()
	if err != nil {
		return compiler.SourceUnit{}, "", err
	}
	name := src.Name
	if name == "" {
		name = dflt.Name
	}
	return compiler.SourceUnit{Name: name, Text: text, References: src.References}, src.Symbol, nil
}

func writeMetrics(w io.Writer, m *strategy.Metrics) error {
	reg := prometheus.NewRegistry()
	for _, c := range m.PrometheusCollectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	var (
		families []*dto.MetricFamily
		err      error
	)
	if families, err = reg.Gather(); err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
