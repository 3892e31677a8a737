package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thomasrohde/sandscript/pkg/diagnostics"
	"github.com/thomasrohde/sandscript/pkg/runtime"
)

func newCheckCmd() *cobra.Command {
	var (
		pretty bool
		sb     sandboxFlags
	)
	cmd := &cobra.Command{
		Use:   "check <file>...",
		Short: "Validate scripts against the sandbox without running them",
		Long: `Validate scripts without running them.

check reports syntax errors, invalid limits headers, names that are never
bound, and module or function accesses the effective sandbox denies.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := sb.options(cmd)
			if err != nil {
				return err
			}
			rt := runtime.New(runtime.WithSandbox(opts))
			var all []diagnostics.Diagnostic
			for _, file := range args {
				source, err := os.ReadFile(file)
				if err != nil {
					all = append(all, diagnostics.MakeDiag(diagnostics.EIO, fmt.Sprintf("cannot read file: %s", file), nil, ""))
					continue
				}
				all = append(all, rt.Check(string(source), file)...)
			}
			if len(all) > 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), diagnostics.FormatDiagnostics(all, pretty))
				return exitWith(exitDiagnostics, nil)
			}
			if pretty {
				fmt.Fprintln(cmd.OutOrStdout(), "No errors found.")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "[]")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Human-readable diagnostics")
	addSandboxFlags(cmd.Flags(), &sb)
	return cmd
}
