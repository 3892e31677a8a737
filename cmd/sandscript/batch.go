package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thomasrohde/sandscript/pkg/runtime"
)

func newBatchCmd() *cobra.Command {
	var (
		sb       sandboxFlags
		jobs     int
		asJSON   bool
		reportTo string
	)
	cmd := &cobra.Command{
		Use:   "batch <file>...",
		Short: "Run several scripts concurrently, each in its own context",
		Long: `Run several scripts concurrently. Each script gets its own execution
context and its own sandbox counters; a violation in one script never stops
the others. The exit code is the highest any script produced.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			opts, err := sb.options(cmd)
			if err != nil {
				return err
			}

			sources := make([]runtime.Source, len(args))
			for i, file := range args {
				data, err := os.ReadFile(file)
				if err != nil {
					return exitWith(exitUsage, fmt.Errorf("cannot read file: %s", file))
				}
				sources[i] = runtime.Source{Name: file, Code: string(data)}
			}

			rtOpts := []runtime.Option{
				runtime.WithSandbox(opts),
				runtime.WithLogger(logger),
				runtime.WithAllocationTracking(),
			}
			if jobs > 0 {
				rtOpts = append(rtOpts, runtime.WithParallelism(jobs))
			}
			reports, err := runtime.New(rtOpts...).RunAll(cmd.Context(), sources)
			if err != nil {
				return exitWith(exitRuntime, err)
			}

			if reportTo != "" {
				if err := writeReportFile(reportTo, reports); err != nil {
					return exitWith(exitUsage, fmt.Errorf("writing reports: %w", err))
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				data, err := json.MarshalIndent(reports, "", "  ")
				if err != nil {
					return exitWith(exitUsage, err)
				}
				fmt.Fprintln(out, string(data))
			} else {
				for _, r := range reports {
					fmt.Fprintln(out, summarize(r))
				}
			}

			code := exitOK
			for _, r := range reports {
				code = max(code, exitCodeForReport(r))
			}
			if code != exitOK {
				return exitWith(code, nil)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "Scripts to run at once (default: GOMAXPROCS)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print reports as JSON")
	cmd.Flags().StringVar(&reportTo, "report", "", "Write the reports to this file as a CBOR sequence")
	addSandboxFlags(cmd.Flags(), &sb)
	return cmd
}

func writeReportFile(path string, reports []*runtime.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := runtime.WriteReports(f, reports); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// summarize renders a report as one line.
func summarize(r *runtime.Report) string {
	if r.OK {
		if r.Value == "" {
			return fmt.Sprintf("%s: ok (%d instructions)", r.Name, r.Instructions)
		}
		return fmt.Sprintf("%s: ok %s (%d instructions)", r.Name, r.Value, r.Instructions)
	}
	if len(r.Diagnostics) == 0 {
		return fmt.Sprintf("%s: failed", r.Name)
	}
	d := r.Diagnostics[0]
	return fmt.Sprintf("%s: %s %s", r.Name, d.Code, d.Message)
}
