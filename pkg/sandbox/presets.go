package sandbox

import "slices"

// Preset defaults.
const (
	DefaultModerateInstructions    int64 = 10_000_000
	DefaultModerateCallStackDepth        = 512
	DefaultRestrictiveInstructions int64 = 1_000_000
	DefaultRestrictiveCallStack          = 256
)

var (
	dangerousModules   = []string{"io", "os", "debug"}
	dangerousFunctions = []string{"load", "loadstring", "loadfile", "dofile"}
)

// DangerousModules returns the modules the restrictive preset denies. The
// slice is a copy.
func DangerousModules() []string { return slices.Clone(dangerousModules) }

// DangerousFunctions returns the global functions the restrictive preset
// denies. The slice is a copy.
func DangerousFunctions() []string { return slices.Clone(dangerousFunctions) }

var unrestricted = func() *Options {
	o := New()
	o.frozen = true
	return o
}()

// Unrestricted returns the shared policy with no limits and no restrictions.
// It is frozen: setters called on it return a modified copy.
func Unrestricted() *Options { return unrestricted }

// Moderate limits instructions and call depth to the default moderate values
// without restricting any names.
func Moderate() *Options {
	return ModerateWith(DefaultModerateInstructions, DefaultModerateCallStackDepth)
}

// ModerateWith is Moderate with explicit limits.
func ModerateWith(maxInstructions int64, maxCallStackDepth int) *Options {
	return New().SetMaxInstructions(maxInstructions).SetMaxCallStackDepth(maxCallStackDepth)
}

// Restrictive limits instructions and call depth and denies the dangerous
// modules and dynamic-loading functions.
func Restrictive() *Options {
	return RestrictiveWith(DefaultRestrictiveInstructions, DefaultRestrictiveCallStack)
}

// RestrictiveWith is Restrictive with explicit limits.
func RestrictiveWith(maxInstructions int64, maxCallStackDepth int) *Options {
	o := New().SetMaxInstructions(maxInstructions).SetMaxCallStackDepth(maxCallStackDepth)
	for _, m := range dangerousModules {
		o.restrictedModules[m] = struct{}{}
	}
	for _, f := range dangerousFunctions {
		o.restrictedFunctions[f] = struct{}{}
	}
	return o
}

// Preset returns a fresh copy of the named preset: "unrestricted",
// "moderate", or "restrictive".
func Preset(name string) (*Options, bool) {
	switch name {
	case "unrestricted", "none", "":
		return New(), true
	case "moderate":
		return Moderate(), true
	case "restrictive", "strict":
		return Restrictive(), true
	}
	return nil, false
}
