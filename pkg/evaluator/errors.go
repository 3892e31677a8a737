package evaluator

import (
	"context"
	"errors"
	"fmt"

	"github.com/thomasrohde/sandscript/pkg/ast"
	"github.com/thomasrohde/sandscript/pkg/diagnostics"
	"github.com/thomasrohde/sandscript/pkg/sandbox"
)

// RuntimeError represents a script-level error. It is catchable by pcall.
type RuntimeError struct {
	Code    string
	Message string
	Span    *ast.Span

	// Value is the payload passed to error(); nil for interpreter errors.
	Value Value

	// Err is the underlying host error, if any.
	Err error
}

func (e *RuntimeError) Error() string {
	return e.Message
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// Diagnostic converts the error for display.
func (e *RuntimeError) Diagnostic() diagnostics.Diagnostic {
	return diagnostics.MakeDiag(e.Code, e.Message, e.Span, "")
}

// Errorf creates a RuntimeError without a span. The evaluator attaches the
// span of the failing call when the error crosses a call boundary.
func Errorf(code, format string, args ...any) *RuntimeError {
	return &RuntimeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// errCoroutineClosed unwinds a suspended coroutine that is being closed.
var errCoroutineClosed = errors.New("coroutine closed")

// isFatal reports whether err must escape pcall. Sandbox violations and
// cancellation always propagate to the host.
func isFatal(err error) bool {
	if errors.Is(err, sandbox.ErrViolation) || errors.Is(err, errCoroutineClosed) {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// withSpan annotates err with span when it is a RuntimeError that has none,
// and converts plain host errors into RuntimeErrors.
func withSpan(err error, span ast.Span) error {
	if err == nil || isFatal(err) {
		return err
	}
	var rt *RuntimeError
	if errors.As(err, &rt) {
		if rt.Span == nil {
			s := span
			rt.Span = &s
		}
		return err
	}
	s := span
	return &RuntimeError{Code: diagnostics.ERuntime, Message: err.Error(), Span: &s, Err: err}
}
