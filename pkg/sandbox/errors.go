package sandbox

import (
	"errors"
)

// Argument errors. These report misuse by the embedding code and are never
// wrapped in a ViolationError.
var (
	// ErrNegativeBytes is returned when a negative byte count is recorded.
	ErrNegativeBytes = errors.New("sandbox: byte count must not be negative")

	// ErrEmptyName is returned when a module or function name is empty or blank.
	ErrEmptyName = errors.New("sandbox: name must not be empty")

	// ErrNilOptions is returned when copying from a nil *Options.
	ErrNilOptions = errors.New("sandbox: source options must not be nil")
)

// ErrViolation matches every *ViolationError under errors.Is.
var ErrViolation = errors.New("sandbox violation")

var _ error = (*ViolationError)(nil)

// ViolationError aborts a script when a limit or restriction is breached and
// no handler forgave it.
type ViolationError struct {
	details Violation
}

// NewViolationError wraps details.
func NewViolationError(details Violation) *ViolationError {
	return &ViolationError{details: details}
}

// NewLimitViolationError builds an error from a limit kind. Access kinds fall
// back to the instruction-limit shape.
func NewLimitViolationError(kind ViolationKind, limit, actual int64) *ViolationError {
	var d Violation
	switch kind {
	case RecursionLimitExceeded:
		d = RecursionLimit(limit, actual)
	case MemoryLimitExceeded:
		d = MemoryLimit(limit, actual)
	case CoroutineLimitExceeded:
		d = CoroutineLimit(limit, actual)
	default:
		d = InstructionLimit(limit, actual)
	}
	return &ViolationError{details: d}
}

// NewAccessViolationError builds an error from an access kind. Limit kinds
// fall back to the module shape.
func NewAccessViolationError(kind ViolationKind, name string) *ViolationError {
	if kind == FunctionAccessDenied {
		return &ViolationError{details: FunctionAccess(name)}
	}
	return &ViolationError{details: ModuleAccess(name)}
}

// Error returns the violation message.
func (e *ViolationError) Error() string { return e.details.FormatMessage() }

// Is reports ErrViolation as a match.
func (e *ViolationError) Is(target error) bool { return target == ErrViolation }

// Details returns the violation.
func (e *ViolationError) Details() Violation { return e.details }

// ViolationType returns the violation kind.
func (e *ViolationError) ViolationType() ViolationKind { return e.details.Kind }

// ConfiguredLimit returns the breached limit, 0 for access denials.
func (e *ViolationError) ConfiguredLimit() int64 { return e.details.Limit }

// ActualValue returns the value that breached the limit, 0 for access denials.
func (e *ViolationError) ActualValue() int64 { return e.details.Actual }

// DeniedAccessName returns the denied module or function, "" for limit breaches.
func (e *ViolationError) DeniedAccessName() string { return e.details.Name }

// AsViolation extracts the first *ViolationError in err's chain.
func AsViolation(err error) (*ViolationError, bool) {
	var v *ViolationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
