package evaluator

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"

	"github.com/thomasrohde/sandscript/pkg/ast"
	"github.com/thomasrohde/sandscript/pkg/diagnostics"
	"github.com/thomasrohde/sandscript/pkg/sandbox"
)

// ApplyLimits returns opts tightened by the program's limits header. A header
// can lower a limit or add one the host left unlimited, never raise or
// remove one. opts is returned unchanged when the program has no header.
func ApplyLimits(opts *sandbox.Options, program *ast.Program) (*sandbox.Options, error) {
	if opts == nil {
		opts = sandbox.Unrestricted()
	}
	var out *sandbox.Options
	for _, h := range program.Headers {
		decl, ok := h.(*ast.LimitsDecl)
		if !ok {
			continue
		}
		if out == nil {
			out = opts.Copy()
		}
		for _, f := range decl.Fields {
			n, err := limitValue(f)
			if err != nil {
				return nil, err
			}
			switch f.Key {
			case "instructions":
				out.SetMaxInstructions(tighten(out.MaxInstructions(), n))
			case "depth":
				out.SetMaxCallStackDepth(int(tighten(int64(out.MaxCallStackDepth()), n)))
			case "memory":
				out.SetMaxMemoryBytes(tighten(out.MaxMemoryBytes(), n))
			case "coroutines":
				out.SetMaxCoroutines(int(tighten(int64(out.MaxCoroutines()), n)))
			default:
				return nil, limitsError(f.Span, "unknown limit '%s'", f.Key)
			}
		}
	}
	if out == nil {
		return opts, nil
	}
	return out, nil
}

func tighten(current, requested int64) int64 {
	if current <= 0 || requested < current {
		return requested
	}
	return current
}

// limitValue reads a positive integer. memory also accepts a size string
// such as "64 MiB".
func limitValue(f ast.RecordField) (int64, error) {
	switch v := f.Value.(type) {
	case *ast.NumberLiteral:
		if v.Value < 1 || v.Value != math.Trunc(v.Value) || v.Value > 1<<53 {
			return 0, limitsError(f.Span, "limit '%s' must be a positive integer", f.Key)
		}
		return int64(v.Value), nil
	case *ast.StrLiteral:
		if f.Key != "memory" {
			break
		}
		n, err := humanize.ParseBytes(v.Value)
		if err != nil || n == 0 || n > math.MaxInt64 {
			return 0, limitsError(f.Span, "invalid memory size %q", v.Value)
		}
		return int64(n), nil
	}
	return 0, limitsError(f.Span, "limit '%s' must be a positive integer", f.Key)
}

func limitsError(span ast.Span, format string, args ...any) *RuntimeError {
	return &RuntimeError{Code: diagnostics.ELimits, Message: fmt.Sprintf(format, args...), Span: &span}
}
