// Command sandscript runs sandscript programs under a resource-governing
// sandbox.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/thomasrohde/sandscript/pkg/diagnostics"
	"github.com/thomasrohde/sandscript/pkg/runtime"
	"github.com/thomasrohde/sandscript/pkg/sandbox"
)

// Exit codes.
const (
	exitOK          = 0
	exitUsage       = 1
	exitDiagnostics = 2
	exitViolation   = 3
	exitRuntime     = 4
)

// exitError carries a process exit code out of a command. A nil err means
// the command already reported the failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitUsage
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sandscript",
		Short: "Run scripts under a resource-governing sandbox",
		Long: `sandscript - Run untrusted scripts with bounded instructions, call depth,
memory and coroutines, and with dangerous modules and functions denied.

Sandbox policy comes from a profile (.sandscript.yaml or .sandscript.jsonc in
the working directory, or ~/.sandscript/profile.yaml), falling back to the
restrictive preset. Flags override the profile.

Exit codes: 0 success, 1 usage or I/O error, 2 diagnostics,
3 sandbox violation, 4 runtime error.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().String("log-level", "warn", "Log level: debug, info, warn, error")

	root.AddCommand(
		newRunCmd(),
		newCheckCmd(),
		newFmtCmd(),
		newReplCmd(),
		newBatchCmd(),
		newReportCmd(),
		newProfileCmd(),
	)
	return root
}

// newLogger builds the stderr logger for --log-level.
func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	name, _ := cmd.Flags().GetString("log-level")
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return nil, exitWith(exitUsage, fmt.Errorf("invalid --log-level %q", name))
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})), nil
}

// reportError prints err as a diagnostic and returns the matching exit
// error.
func reportError(cmd *cobra.Command, err error, res *runtime.Result, pretty bool) error {
	var de *runtime.DiagnosticError
	if errors.As(err, &de) {
		fmt.Fprintln(cmd.ErrOrStderr(), diagnostics.FormatDiagnostics(de.Diagnostics, pretty))
		return exitWith(exitDiagnostics, nil)
	}
	d := runtime.Diagnostic(err, faultSpan(res))
	fmt.Fprintln(cmd.ErrOrStderr(), diagnostics.FormatDiagnostics([]diagnostics.Diagnostic{d}, pretty))
	return exitWith(exitCodeFor(err), nil)
}

func exitCodeFor(err error) int {
	var de *runtime.DiagnosticError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &de):
		return exitDiagnostics
	case errors.Is(err, sandbox.ErrViolation):
		return exitViolation
	}
	return exitRuntime
}

// exitCodeForReport mirrors exitCodeFor for a batch report.
func exitCodeForReport(r *runtime.Report) int {
	switch {
	case r.OK:
		return exitOK
	case r.Violation != nil:
		return exitViolation
	case len(r.Diagnostics) > 0 && isStatic(r.Diagnostics[0].Code):
		return exitDiagnostics
	}
	return exitRuntime
}

func isStatic(code string) bool {
	switch code {
	case diagnostics.ELex, diagnostics.EParse, diagnostics.ELimits:
		return true
	}
	return false
}
