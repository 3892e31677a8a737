package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/thomasrohde/sandscript/pkg/ast"
	"github.com/thomasrohde/sandscript/pkg/diagnostics"
	"github.com/thomasrohde/sandscript/pkg/evaluator"
	"github.com/thomasrohde/sandscript/pkg/runtime"
)

type runFlags struct {
	sandbox sandboxFlags
	code    string
	pretty  bool
	stats   bool
	report  string
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Run a script",
		Long: `Run a script under the sandbox and print its result as JSON.

Code can be provided via:
  - File argument: sandscript run script.ss
  - Inline flag: sandscript run -c 'print(1 + 1)'
  - Stdin: echo 'print(1 + 1)' | sandscript run -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScript(cmd, args, &f)
		},
	}
	cmd.Flags().StringVarP(&f.code, "code", "c", "", "Code to execute")
	cmd.Flags().BoolVar(&f.pretty, "pretty", false, "Human-readable diagnostics")
	cmd.Flags().BoolVar(&f.stats, "stats", false, "Print instruction and allocation statistics to stderr")
	cmd.Flags().StringVar(&f.report, "report", "", "Write a CBOR run report to this file")
	addSandboxFlags(cmd.Flags(), &f.sandbox)
	return cmd
}

func runScript(cmd *cobra.Command, args []string, f *runFlags) error {
	source, filename, err := readSource(cmd, args, f.code)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	opts, err := f.sandbox.options(cmd)
	if err != nil {
		return err
	}

	rtOpts := []runtime.Option{
		runtime.WithSandbox(opts),
		runtime.WithLogger(logger),
		runtime.WithOutput(cmd.OutOrStdout()),
		runtime.WithLoader(os.DirFS(loaderRoot(filename))),
	}
	if f.stats || f.report != "" {
		rtOpts = append(rtOpts, runtime.WithAllocationTracking())
	}
	rt := runtime.New(rtOpts...)
	script := rt.NewScript(filename)

	res, runErr := script.Run(cmd.Context(), source)
	if f.stats && res != nil {
		printStats(cmd.ErrOrStderr(), res)
	}
	if f.report != "" {
		if err := writeReport(f.report, runtime.NewReport(script, res, runErr)); err != nil {
			return exitWith(exitUsage, err)
		}
	}
	if runErr != nil {
		return reportError(cmd, runErr, res, f.pretty)
	}
	return printValue(cmd.OutOrStdout(), res.Value)
}

// readSource returns the script text and the name used in diagnostics.
func readSource(cmd *cobra.Command, args []string, code string) (string, string, error) {
	switch {
	case code != "":
		return code, "<code>", nil
	case len(args) == 0 || args[0] == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", "", exitWith(exitUsage, fmt.Errorf("reading stdin: %w", err))
		}
		return string(data), "<stdin>", nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		diag := diagnostics.MakeDiag(diagnostics.EIO, fmt.Sprintf("cannot read file: %s", args[0]), nil, "")
		fmt.Fprintln(cmd.ErrOrStderr(), diagnostics.FormatDiagnostics([]diagnostics.Diagnostic{diag}, false))
		return "", "", exitWith(exitUsage, nil)
	}
	return string(data), args[0], nil
}

// loaderRoot is the directory require and dofile resolve against.
func loaderRoot(filename string) string {
	switch filename {
	case "<code>", "<stdin>":
		return "."
	}
	return filepath.Dir(filename)
}

func printValue(w io.Writer, v evaluator.Value) error {
	if _, null := v.(evaluator.Null); v == nil || null {
		return nil
	}
	data, err := evaluator.ValueToJSON(v)
	if errors.Is(err, evaluator.ErrNotSerializable) {
		fmt.Fprintln(w, evaluator.ToString(v))
		return nil
	}
	if err != nil {
		return exitWith(exitRuntime, fmt.Errorf("serializing result: %w", err))
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func printStats(w io.Writer, res *runtime.Result) {
	fmt.Fprintf(w, "instructions: %s\n", humanize.Comma(res.Instructions))
	if s := res.Snapshot; s != nil {
		fmt.Fprintf(w, "memory: current %s, peak %s, allocated %s, freed %s\n",
			humanize.IBytes(uint64(max(s.CurrentBytes, 0))),
			humanize.IBytes(uint64(max(s.PeakBytes, 0))),
			humanize.IBytes(uint64(max(s.TotalAllocated, 0))),
			humanize.IBytes(uint64(max(s.TotalFreed, 0))))
		fmt.Fprintf(w, "coroutines: live %d, peak %d, created %d\n",
			s.CurrentCoroutines, s.PeakCoroutines, s.TotalCoroutinesCreated)
	}
}

func writeReport(path string, r *runtime.Report) error {
	data, err := r.EncodeCBOR()
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

func faultSpan(res *runtime.Result) *ast.Span {
	if res == nil {
		return nil
	}
	return res.FaultSpan
}
