// Command buildexpr materializes f(x) = (3x/2) + 4 through each strategy
// and exposes the compile, load and invoke stages individually.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"buildexpr/materializer-go/pkg/host"
	"buildexpr/materializer-go/pkg/logging"
)

const cliToolVersion = "buildexpr 0.1.0-dev"

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app carries state shared by every subcommand.
type app struct {
	stdout io.Writer
	stderr io.Writer
	reg    *host.Registry
	log    *zap.Logger

	logLevel  string
	logFormat string
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr, reg: host.Default(), log: zap.NewNop()}
	cmd := &cobra.Command{
		Use:           "buildexpr",
		Short:         "Materialize and run f(x) = (3x/2) + 4 without a precompiled function",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setupLogger()
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	v := newViper()
	bindOptions(v, cmd.PersistentFlags(), []opt{
		{destP: &a.logLevel, flag: "log-level", dflt: "warn", desc: "log level: debug, info, warn or error"},
		{destP: &a.logFormat, flag: "log-format", dflt: "console", desc: "log format: console or json"},
	})

	cmd.AddCommand(
		newRunCommand(a),
		newEvalCommand(a),
		newCompileCommand(a),
		newInvokeCommand(a),
		newVersionCommand(a),
	)
	return cmd
}

func (a *app) setupLogger() error {
	level, err := logging.ParseLevel(a.logLevel)
	if err != nil {
		return err
	}
	log, err := logging.New(a.stderr, level, a.logFormat)
	if err != nil {
		return err
	}
	a.log = log
	return nil
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			fmt.Fprintln(a.stdout, cliToolVersion)
			return nil
		},
	}
}
