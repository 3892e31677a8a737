package sandbox

import (
	"fmt"
	"sort"
	"strings"
)

// Script is the execution context handed to violation handlers.
type Script interface {
	ID() string
	Name() string
	Tracker() *AllocationTracker
}

// LimitHandler decides whether a limit breach is forgiven. current is the
// value that breached the limit. Returning true lets the script continue.
type LimitHandler func(s Script, current int64) bool

// AccessHandler decides whether a denied module or function may be used
// this one time.
type AccessHandler func(s Script, name string) bool

// Options is the sandbox policy for one or more script contexts: numeric
// limits (zero means unlimited), restricted module and function names, and
// optional handlers per violation kind.
//
// Options is read-mostly and may be shared between contexts once configured.
// It is not safe to mutate while scripts using it are running.
type Options struct {
	maxInstructions   int64
	maxCallStackDepth int
	maxMemoryBytes    int64
	maxCoroutines     int

	restrictedModules   map[string]struct{}
	restrictedFunctions map[string]struct{}

	onInstructionLimit LimitHandler
	onRecursionLimit   LimitHandler
	onMemoryLimit      LimitHandler
	onCoroutineLimit   LimitHandler
	onModuleDenied     AccessHandler
	onFunctionDenied   AccessHandler

	frozen bool
}

// New returns options with no limits and no restrictions.
func New() *Options {
	return &Options{
		restrictedModules:   make(map[string]struct{}),
		restrictedFunctions: make(map[string]struct{}),
	}
}

// Clone copies src. Restriction sets are copied; handlers are shared.
func Clone(src *Options) (*Options, error) {
	if src == nil {
		return nil, ErrNilOptions
	}
	return src.Copy(), nil
}

// Copy returns an unfrozen copy of o.
func (o *Options) Copy() *Options {
	c := *o
	c.frozen = false
	c.restrictedModules = copySet(o.restrictedModules)
	c.restrictedFunctions = copySet(o.restrictedFunctions)
	return &c
}

// Frozen reports whether o is the shared Unrestricted instance. Mutating a
// frozen instance returns a modified copy instead.
func (o *Options) Frozen() bool { return o.frozen }

func (o *Options) writable() *Options {
	if o.frozen {
		return o.Copy()
	}
	return o
}

// MaxInstructions returns the instruction limit, 0 when unlimited.
func (o *Options) MaxInstructions() int64 { return o.maxInstructions }

// MaxCallStackDepth returns the call depth limit, 0 when unlimited.
func (o *Options) MaxCallStackDepth() int { return o.maxCallStackDepth }

// MaxMemoryBytes returns the tracked memory limit, 0 when unlimited.
func (o *Options) MaxMemoryBytes() int64 { return o.maxMemoryBytes }

// MaxCoroutines returns the live coroutine limit, 0 when unlimited.
func (o *Options) MaxCoroutines() int { return o.maxCoroutines }

// SetMaxInstructions sets the instruction limit. Negative values mean
// unlimited.
func (o *Options) SetMaxInstructions(n int64) *Options {
	w := o.writable()
	w.maxInstructions = max(n, 0)
	return w
}

// SetMaxCallStackDepth sets the call depth limit. Negative values mean
// unlimited.
func (o *Options) SetMaxCallStackDepth(n int) *Options {
	w := o.writable()
	w.maxCallStackDepth = max(n, 0)
	return w
}

// SetMaxMemoryBytes sets the tracked memory limit. Negative values mean
// unlimited.
func (o *Options) SetMaxMemoryBytes(n int64) *Options {
	w := o.writable()
	w.maxMemoryBytes = max(n, 0)
	return w
}

// SetMaxCoroutines sets the live coroutine limit. Negative values mean
// unlimited.
func (o *Options) SetMaxCoroutines(n int) *Options {
	w := o.writable()
	w.maxCoroutines = max(n, 0)
	return w
}

// HasInstructionLimit reports whether instructions are bounded.
func (o *Options) HasInstructionLimit() bool { return o.maxInstructions > 0 }

// HasCallStackDepthLimit reports whether call depth is bounded.
func (o *Options) HasCallStackDepthLimit() bool { return o.maxCallStackDepth > 0 }

// HasMemoryLimit reports whether tracked memory is bounded.
func (o *Options) HasMemoryLimit() bool { return o.maxMemoryBytes > 0 }

// HasCoroutineLimit reports whether live coroutines are bounded.
func (o *Options) HasCoroutineLimit() bool { return o.maxCoroutines > 0 }

// HasModuleRestrictions reports whether any module is restricted.
func (o *Options) HasModuleRestrictions() bool { return len(o.restrictedModules) > 0 }

// HasFunctionRestrictions reports whether any function is restricted.
func (o *Options) HasFunctionRestrictions() bool {
	return len(o.restrictedFunctions) > 0
}

// RestrictModule denies scripts access to the named module.
func (o *Options) RestrictModule(name string) (*Options, error) {
	if err := checkName(name, "module"); err != nil {
		return o, err
	}
	w := o.writable()
	w.restrictedModules[name] = struct{}{}
	return w, nil
}

// RestrictModules restricts each name in turn, stopping at the first invalid
// one.
func (o *Options) RestrictModules(names ...string) (*Options, error) {
	w := o
	for _, name := range names {
		var err error
		if w, err = w.RestrictModule(name); err != nil {
			return w, err
		}
	}
	return w, nil
}

// RestrictFunction denies scripts access to the named global function.
// Module members are named "module.function".
func (o *Options) RestrictFunction(name string) (*Options, error) {
	if err := checkName(name, "function"); err != nil {
		return o, err
	}
	w := o.writable()
	w.restrictedFunctions[name] = struct{}{}
	return w, nil
}

// RestrictFunctions restricts each name in turn, stopping at the first
// invalid one.
func (o *Options) RestrictFunctions(names ...string) (*Options, error) {
	w := o
	for _, name := range names {
		var err error
		if w, err = w.RestrictFunction(name); err != nil {
			return w, err
		}
	}
	return w, nil
}

// AllowModule lifts a module restriction. Unknown or empty names are ignored.
func (o *Options) AllowModule(name string) *Options {
	if name == "" {
		return o
	}
	if _, ok := o.restrictedModules[name]; !ok {
		return o
	}
	w := o.writable()
	delete(w.restrictedModules, name)
	return w
}

// AllowFunction lifts a function restriction. Unknown or empty names are
// ignored.
func (o *Options) AllowFunction(name string) *Options {
	if name == "" {
		return o
	}
	if _, ok := o.restrictedFunctions[name]; !ok {
		return o
	}
	w := o.writable()
	delete(w.restrictedFunctions, name)
	return w
}

// IsModuleRestricted reports whether the named module is denied.
func (o *Options) IsModuleRestricted(name string) bool {
	_, ok := o.restrictedModules[name]
	return ok
}

// IsFunctionRestricted reports whether the named function is denied.
func (o *Options) IsFunctionRestricted(name string) bool {
	_, ok := o.restrictedFunctions[name]
	return ok
}

// RestrictedModules returns the restricted module names, sorted.
func (o *Options) RestrictedModules() []string { return sortedKeys(o.restrictedModules) }

// RestrictedFunctions returns the restricted function names, sorted.
func (o *Options) RestrictedFunctions() []string { return sortedKeys(o.restrictedFunctions) }

// OnInstructionLimitExceeded sets the handler consulted on an instruction breach.
func (o *Options) OnInstructionLimitExceeded(h LimitHandler) *Options {
	w := o.writable()
	w.onInstructionLimit = h
	return w
}

// OnRecursionLimitExceeded sets the handler consulted on a call depth breach.
func (o *Options) OnRecursionLimitExceeded(h LimitHandler) *Options {
	w := o.writable()
	w.onRecursionLimit = h
	return w
}

// OnMemoryLimitExceeded sets the handler consulted on a memory breach.
func (o *Options) OnMemoryLimitExceeded(h LimitHandler) *Options {
	w := o.writable()
	w.onMemoryLimit = h
	return w
}

// OnCoroutineLimitExceeded sets the handler consulted on a coroutine breach.
func (o *Options) OnCoroutineLimitExceeded(h LimitHandler) *Options {
	w := o.writable()
	w.onCoroutineLimit = h
	return w
}

// OnModuleAccessDenied sets the handler consulted when a restricted module is used.
func (o *Options) OnModuleAccessDenied(h AccessHandler) *Options {
	w := o.writable()
	w.onModuleDenied = h
	return w
}

// OnFunctionAccessDenied sets the handler consulted when a restricted function is used.
func (o *Options) OnFunctionAccessDenied(h AccessHandler) *Options {
	w := o.writable()
	w.onFunctionDenied = h
	return w
}

// InstructionLimitHandler returns the instruction breach handler, or nil.
func (o *Options) InstructionLimitHandler() LimitHandler { return o.onInstructionLimit }

// RecursionLimitHandler returns the call depth breach handler, or nil.
func (o *Options) RecursionLimitHandler() LimitHandler { return o.onRecursionLimit }

// MemoryLimitHandler returns the memory breach handler, or nil.
func (o *Options) MemoryLimitHandler() LimitHandler { return o.onMemoryLimit }

// CoroutineLimitHandler returns the coroutine breach handler, or nil.
func (o *Options) CoroutineLimitHandler() LimitHandler { return o.onCoroutineLimit }

// ModuleAccessHandler returns the module access handler, or nil.
func (o *Options) ModuleAccessHandler() AccessHandler { return o.onModuleDenied }

// FunctionAccessHandler returns the function access handler, or nil.
func (o *Options) FunctionAccessHandler() AccessHandler { return o.onFunctionDenied }

// String summarizes the limits and restrictions for logs.
func (o *Options) String() string {
	return fmt.Sprintf("Options(instructions=%d, depth=%d, memory=%d, coroutines=%d, modules=%v, functions=%v)",
		o.maxInstructions, o.maxCallStackDepth, o.maxMemoryBytes, o.maxCoroutines,
		o.RestrictedModules(), o.RestrictedFunctions())
}

func checkName(name, what string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("restrict %s %q: %w", what, name, ErrEmptyName)
	}
	return nil
}

func copySet(src map[string]struct{}) map[string]struct{} {
	dst := make(map[string]struct{}, len(src))
	for k := range src {
		dst[k] = struct{}{}
	}
	return dst
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
