package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thomasrohde/sandscript/internal/codec"
	"github.com/thomasrohde/sandscript/pkg/runtime"
)

func newReportCmd() *cobra.Command {
	var asJSON, diag bool
	cmd := &cobra.Command{
		Use:   "report <file>",
		Short: "Print a report file written by run --report or batch --report",
		Long: `Print the reports stored in a CBOR report file, one line per run.

--json prints them as JSON. --diag prints the raw CBOR in diagnostic
notation (RFC 8949), with integer keys as they appear on disk.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return exitWith(exitUsage, fmt.Errorf("cannot read file: %s", args[0]))
			}
			out := cmd.OutOrStdout()
			if diag {
				notation, err := codec.Diagnose(data)
				if err != nil {
					return exitWith(exitUsage, fmt.Errorf("%s: %w", args[0], err))
				}
				fmt.Fprintln(out, notation)
				return nil
			}

			reports, err := runtime.ReadReports(bytes.NewReader(data))
			if err != nil {
				return exitWith(exitUsage, fmt.Errorf("%s: %w", args[0], err))
			}
			if asJSON {
				data, err := json.MarshalIndent(reports, "", "  ")
				if err != nil {
					return exitWith(exitUsage, err)
				}
				fmt.Fprintln(out, string(data))
				return nil
			}
			for _, r := range reports {
				fmt.Fprintln(out, summarize(r))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print reports as JSON")
	cmd.Flags().BoolVar(&diag, "diag", false, "Print CBOR diagnostic notation")
	cmd.MarkFlagsMutuallyExclusive("json", "diag")
	return cmd
}
