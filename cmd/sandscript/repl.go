package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/thomasrohde/sandscript/pkg/diagnostics"
	"github.com/thomasrohde/sandscript/pkg/evaluator"
	"github.com/thomasrohde/sandscript/pkg/runtime"
)

func newReplCmd() *cobra.Command {
	var (
		sb      sandboxFlags
		history string
	)
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive REPL with persistent state",
		Long: `Start an interactive REPL session. Globals persist between lines and
every line runs under the sandbox.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			opts, err := sb.options(cmd)
			if err != nil {
				return err
			}
			if history == "" {
				home, _ := os.UserHomeDir()
				history = filepath.Join(home, ".sandscript_history")
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:            "> ",
				HistoryFile:       history,
				HistoryLimit:      1000,
				InterruptPrompt:   "^C",
				EOFPrompt:         "exit",
				HistorySearchFold: true,
			})
			if err != nil {
				return exitWith(exitUsage, fmt.Errorf("initializing readline: %w", err))
			}
			defer rl.Close()

			rt := runtime.New(
				runtime.WithSandbox(opts),
				runtime.WithLogger(logger),
				runtime.WithOutput(rl.Stdout()),
				runtime.WithLoader(os.DirFS(".")),
			)
			script := rt.NewScript("<repl>")
			fmt.Fprintf(rl.Stderr(), "sandscript REPL, %s (type 'exit' to quit, Ctrl+D to exit)\n", opts)
			return replLoop(cmd.Context(), rl, script)
		},
	}
	cmd.Flags().StringVar(&history, "history", "", "History file path (default: ~/.sandscript_history)")
	addSandboxFlags(cmd.Flags(), &sb)
	return cmd
}

func replLoop(ctx context.Context, rl *readline.Instance, script *runtime.Script) error {
	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if inMultiLine {
				multiLine.Reset()
				inMultiLine = false
				rl.SetPrompt("> ")
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return exitWith(exitUsage, fmt.Errorf("reading input: %w", err))
		}

		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt(". ")
			continue
		}
		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt("> ")
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		evalLine(ctx, rl.Stdout(), rl.Stderr(), script, line)
	}
}

// evalLine runs one REPL entry, printing its value or its error. Errors
// never end the session.
func evalLine(ctx context.Context, stdout, stderr io.Writer, script *runtime.Script, line string) {
	res, err := script.Run(ctx, line)
	if err != nil {
		var de *runtime.DiagnosticError
		if errors.As(err, &de) {
			fmt.Fprintln(stderr, diagnostics.FormatDiagnostics(de.Diagnostics, true))
			return
		}
		fmt.Fprintln(stderr, diagnostics.FormatDiagnostic(runtime.Diagnostic(err, faultSpan(res)), true))
		return
	}
	if _, null := res.Value.(evaluator.Null); res.Value != nil && !null {
		fmt.Fprintln(stdout, evaluator.ToString(res.Value))
	}
}
