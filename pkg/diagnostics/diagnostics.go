// Package diagnostics defines sandscript diagnostics for parse and runtime errors.
package diagnostics

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/thomasrohde/sandscript/pkg/ast"
	"github.com/thomasrohde/sandscript/pkg/sandbox"
)

// Diagnostic code constants.
const (
	ELex     = "E_LEX"
	EParse   = "E_PARSE"
	ERuntime = "E_RUNTIME"
	EType    = "E_TYPE"
	EUnbound = "E_UNBOUND"
	ECall    = "E_CALL"
	EIndex   = "E_INDEX"
	EIO      = "E_IO"
	EAssert  = "E_ASSERT"
	EError   = "E_ERROR"
	ELimits  = "E_LIMITS"
	EImport  = "E_IMPORT"
	ECo      = "E_COROUTINE"
	EAst     = "E_AST"

	ESandboxInstructions = "E_SANDBOX_INSTRUCTIONS"
	ESandboxRecursion    = "E_SANDBOX_RECURSION"
	ESandboxMemory       = "E_SANDBOX_MEMORY"
	ESandboxCoroutines   = "E_SANDBOX_COROUTINES"
	ESandboxModule       = "E_SANDBOX_MODULE"
	ESandboxFunction     = "E_SANDBOX_FUNCTION"
)

// CodeForViolation maps a violation kind to its diagnostic code.
func CodeForViolation(kind sandbox.ViolationKind) string {
	switch kind {
	case sandbox.InstructionLimitExceeded:
		return ESandboxInstructions
	case sandbox.RecursionLimitExceeded:
		return ESandboxRecursion
	case sandbox.MemoryLimitExceeded:
		return ESandboxMemory
	case sandbox.CoroutineLimitExceeded:
		return ESandboxCoroutines
	case sandbox.ModuleAccessDenied:
		return ESandboxModule
	case sandbox.FunctionAccessDenied:
		return ESandboxFunction
	}
	return ERuntime
}

// Diagnostic represents a parse or runtime diagnostic.
type Diagnostic struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Span    *ast.Span `json:"span,omitempty"`
	Hint    string    `json:"hint,omitempty"`
}

// MakeDiag creates a new Diagnostic.
func MakeDiag(code, message string, span *ast.Span, hint string) Diagnostic {
	return Diagnostic{
		Code:    code,
		Message: message,
		Span:    span,
		Hint:    hint,
	}
}

// FromViolation turns a sandbox violation into a diagnostic, keeping the
// violation's stable message.
func FromViolation(v *sandbox.ViolationError, span *ast.Span) Diagnostic {
	d := MakeDiag(CodeForViolation(v.ViolationType()), v.Error(), span, "")
	switch v.ViolationType() {
	case sandbox.InstructionLimitExceeded:
		d.Hint = "raise the instruction limit or look for an unbounded loop"
	case sandbox.RecursionLimitExceeded:
		d.Hint = "raise the call depth limit or look for unbounded recursion"
	case sandbox.ModuleAccessDenied, sandbox.FunctionAccessDenied:
		d.Hint = "the sandbox profile restricts this name"
	}
	return d
}

// FormatDiagnostic formats a single diagnostic for display.
func FormatDiagnostic(d Diagnostic, pretty bool) string {
	if !pretty {
		b, _ := json.Marshal(d)
		return string(b)
	}
	loc := "<unknown>"
	if d.Span != nil {
		loc = fmt.Sprintf("%s:%d:%d", d.Span.File, d.Span.StartLine, d.Span.StartCol)
	}
	out := fmt.Sprintf("error[%s]: %s\n  --> %s", d.Code, d.Message, loc)
	if d.Hint != "" {
		out += fmt.Sprintf("\n  hint: %s", d.Hint)
	}
	return out
}

// FormatDiagnostics formats a slice of diagnostics for display.
func FormatDiagnostics(diags []Diagnostic, pretty bool) string {
	if !pretty {
		b, _ := json.Marshal(diags)
		return string(b)
	}
	parts := make([]string, len(diags))
	for i, d := range diags {
		parts[i] = FormatDiagnostic(d, true)
	}
	return strings.Join(parts, "\n\n")
}
