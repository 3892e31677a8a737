package sandbox

import "fmt"

// ViolationKind identifies which limit or restriction was breached.
type ViolationKind int

// Violation kinds. The numeric values appear in reports and are stable.
const (
	InstructionLimitExceeded ViolationKind = iota + 1 // too many instructions
	RecursionLimitExceeded                            // call stack too deep
	MemoryLimitExceeded                               // tracked bytes over budget
	CoroutineLimitExceeded                            // too many live coroutines
	ModuleAccessDenied                                // restricted module used
	FunctionAccessDenied                              // restricted function used
)

var kindNames = map[ViolationKind]string{
	InstructionLimitExceeded: "InstructionLimitExceeded",
	RecursionLimitExceeded:   "RecursionLimitExceeded",
	MemoryLimitExceeded:      "MemoryLimitExceeded",
	CoroutineLimitExceeded:   "CoroutineLimitExceeded",
	ModuleAccessDenied:       "ModuleAccessDenied",
	FunctionAccessDenied:     "FunctionAccessDenied",
}

// String returns the kind name, e.g. "MemoryLimitExceeded".
func (k ViolationKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ViolationKind(%d)", int(k))
}

// IsLimit reports whether k carries a limit/actual pair.
func (k ViolationKind) IsLimit() bool {
	return k >= InstructionLimitExceeded && k <= CoroutineLimitExceeded
}

// IsAccess reports whether k carries an access name.
func (k ViolationKind) IsAccess() bool {
	return k == ModuleAccessDenied || k == FunctionAccessDenied
}

// Violation describes one breach. Limit kinds fill Limit and Actual; access
// kinds fill Name. Violations compare with ==.
type Violation struct {
	Kind   ViolationKind `json:"kind" cbor:"1,keyasint"`
	Limit  int64         `json:"limit,omitempty" cbor:"2,keyasint,omitempty"`
	Actual int64         `json:"actual,omitempty" cbor:"3,keyasint,omitempty"`
	Name   string        `json:"name,omitempty" cbor:"4,keyasint,omitempty"`
}

// InstructionLimit describes executed instructions passing limit.
func InstructionLimit(limit, executed int64) Violation {
	return Violation{Kind: InstructionLimitExceeded, Limit: limit, Actual: executed}
}

// RecursionLimit describes a call depth passing limit.
func RecursionLimit(limit, depth int64) Violation {
	return Violation{Kind: RecursionLimitExceeded, Limit: limit, Actual: depth}
}

// MemoryLimit describes tracked bytes passing limit.
func MemoryLimit(limit, used int64) Violation {
	return Violation{Kind: MemoryLimitExceeded, Limit: limit, Actual: used}
}

// CoroutineLimit describes a coroutine count passing limit.
func CoroutineLimit(limit, count int64) Violation {
	return Violation{Kind: CoroutineLimitExceeded, Limit: limit, Actual: count}
}

// ModuleAccess describes use of a restricted module.
func ModuleAccess(name string) Violation {
	return Violation{Kind: ModuleAccessDenied, Name: name}
}

// FunctionAccess describes use of a restricted function.
func FunctionAccess(name string) Violation {
	return Violation{Kind: FunctionAccessDenied, Name: name}
}

// IsLimitViolation reports whether v is a numeric limit breach.
func (v Violation) IsLimitViolation() bool { return v.Kind.IsLimit() }

// IsAccessDenial reports whether v is a denied module or function.
func (v Violation) IsAccessDenial() bool { return v.Kind.IsAccess() }

// FormatMessage renders the stable, user-facing description of v.
func (v Violation) FormatMessage() string {
	switch v.Kind {
	case InstructionLimitExceeded:
		return fmt.Sprintf("Sandbox violation: instruction limit exceeded (limit: %d, executed: %d)", v.Limit, v.Actual)
	case RecursionLimitExceeded:
		return fmt.Sprintf("Sandbox violation: recursion limit exceeded (limit: %d, depth: %d)", v.Limit, v.Actual)
	case MemoryLimitExceeded:
		return fmt.Sprintf("Sandbox violation: memory limit exceeded (limit: %d bytes, used: %d bytes)", v.Limit, v.Actual)
	case CoroutineLimitExceeded:
		return fmt.Sprintf("Sandbox violation: coroutine limit exceeded (limit: %d, count: %d)", v.Limit, v.Actual)
	case ModuleAccessDenied:
		return fmt.Sprintf("Sandbox violation: access to module '%s' is denied", v.accessName())
	case FunctionAccessDenied:
		return fmt.Sprintf("Sandbox violation: access to function '%s' is denied", v.accessName())
	default:
		return fmt.Sprintf("Sandbox violation: %s", v.Kind)
	}
}

// String is FormatMessage.
func (v Violation) String() string { return v.FormatMessage() }

func (v Violation) accessName() string {
	if v.Name == "" {
		return "(unknown)"
	}
	return v.Name
}
