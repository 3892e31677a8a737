package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thomasrohde/sandscript/pkg/diagnostics"
	"github.com/thomasrohde/sandscript/pkg/formatter"
	"github.com/thomasrohde/sandscript/pkg/runtime"
)

func newFmtCmd() *cobra.Command {
	var write, force bool
	cmd := &cobra.Command{
		Use:   "fmt <file>...",
		Short: "Pretty-print scripts",
		Long: `Pretty-print scripts to stdout, or rewrite them in place with --write.

Comments are not preserved. Files containing comments are left untouched
by --write unless --force is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := runtime.New(runtime.WithCache(nil))
			stderr := cmd.ErrOrStderr()
			failed := false
			for _, file := range args {
				source, err := os.ReadFile(file)
				if err != nil {
					diag := diagnostics.MakeDiag(diagnostics.EIO, fmt.Sprintf("cannot read file: %s", file), nil, "")
					fmt.Fprintln(stderr, diagnostics.FormatDiagnostics([]diagnostics.Diagnostic{diag}, false))
					failed = true
					continue
				}
				formatted, err := rt.Format(string(source), file)
				if err != nil {
					var de *runtime.DiagnosticError
					if errors.As(err, &de) {
						fmt.Fprintln(stderr, diagnostics.FormatDiagnostics(de.Diagnostics, false))
					} else {
						fmt.Fprintln(stderr, err)
					}
					failed = true
					continue
				}
				comments := formatter.HasComments(string(source))
				if !write {
					if comments {
						fmt.Fprintf(stderr, "warning: %s: comments are not preserved by the formatter\n", file)
					}
					fmt.Fprint(cmd.OutOrStdout(), formatted)
					continue
				}
				if comments && !force {
					fmt.Fprintf(stderr, "skipping %s: it has comments, which formatting would drop (use --force)\n", file)
					continue
				}
				if err := os.WriteFile(file, []byte(formatted), 0o644); err != nil {
					return exitWith(exitUsage, fmt.Errorf("writing %s: %w", file, err))
				}
			}
			if failed {
				return exitWith(exitDiagnostics, nil)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&write, "write", "w", false, "Rewrite files in place")
	cmd.Flags().BoolVar(&force, "force", false, "With --write, rewrite files even if comments would be lost")
	return cmd
}
