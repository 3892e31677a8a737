package sandbox

import (
	"io"
	"log/slog"
)

// GuardConfig tunes a Guard beyond what Options expresses.
type GuardConfig struct {
	// Logger receives one record per breach. Nil discards.
	Logger *slog.Logger

	// TrackAllocations forces an AllocationTracker even when no memory or
	// coroutine limit is configured, so that snapshots are available.
	TrackAllocations bool

	// Tracker is reused when set, so counters survive across runs of the
	// same script context.
	Tracker *AllocationTracker

	// MemoryBaseline restores the memory baseline a previous guard left
	// behind on the same Tracker, so a forgiven breach stays forgiven.
	MemoryBaseline int64
}

// Guard applies Options to one script execution context. The interpreter
// calls it at every instrumented site; each method either returns nil to
// continue or a *ViolationError that must abort the script.
//
// A breach consults the matching handler exactly once. No handler, or a
// handler returning false, is fatal. A handler returning true forgives the
// breach; for instruction, memory and coroutine limits the baseline is moved
// so the script receives a fresh budget.
type Guard struct {
	script  Script
	opts    *Options
	tracker *AllocationTracker
	logger  *slog.Logger

	executed      int64 // since the last forgiven instruction breach
	totalExecuted int64
	memBaseline   int64
	coBaseline    int64
}

// NewGuard returns a guard enforcing opts for script. Nil opts means
// Unrestricted.
func NewGuard(script Script, opts *Options, cfg GuardConfig) *Guard {
	if opts == nil {
		opts = Unrestricted()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	g := &Guard{script: script, opts: opts, logger: logger, tracker: cfg.Tracker}
	if g.tracker == nil && (cfg.TrackAllocations || opts.HasMemoryLimit() || opts.HasCoroutineLimit()) {
		g.tracker = NewAllocationTracker()
	}
	if g.tracker != nil && cfg.Tracker != nil {
		g.memBaseline = min(max(cfg.MemoryBaseline, 0), g.tracker.currentBytes)
	}
	return g
}

// Options returns the policy the guard enforces.
func (g *Guard) Options() *Options { return g.opts }

// MemoryBaseline returns the tracked byte count the memory limit is measured
// from. It is zero until a memory breach is forgiven.
func (g *Guard) MemoryBaseline() int64 { return g.memBaseline }

// Tracker returns the allocation tracker, or nil when no tracking is
// configured.
func (g *Guard) Tracker() *AllocationTracker { return g.tracker }

// Executed returns the number of instruction steps taken since the guard was
// created, including steps before any forgiven breach.
func (g *Guard) Executed() int64 { return g.totalExecuted }

// Snapshot returns the tracker's counters when tracking is on.
func (g *Guard) Snapshot() (AllocationSnapshot, bool) {
	if g.tracker == nil {
		return AllocationSnapshot{}, false
	}
	return g.tracker.CreateSnapshot(), true
}

// Step counts one instruction.
func (g *Guard) Step() error {
	g.totalExecuted++
	g.executed++
	limit := g.opts.maxInstructions
	if limit <= 0 || g.executed <= limit {
		return nil
	}
	if g.forgive(InstructionLimit(limit, g.executed), g.opts.onInstructionLimit) {
		g.executed = 0
		return nil
	}
	return NewViolationError(InstructionLimit(limit, g.executed))
}

// EnterCall checks a call frame push. depth is the stack depth including the
// new frame.
func (g *Guard) EnterCall(depth int) error {
	limit := int64(g.opts.maxCallStackDepth)
	if limit <= 0 || int64(depth) <= limit {
		return nil
	}
	v := RecursionLimit(limit, int64(depth))
	if g.forgive(v, g.opts.onRecursionLimit) {
		return nil
	}
	return NewViolationError(v)
}

// Allocate records bytes and checks the memory limit.
func (g *Guard) Allocate(bytes int64) error {
	if g.tracker == nil {
		return nil
	}
	if err := g.tracker.RecordAllocation(bytes); err != nil {
		return err
	}
	limit := g.opts.maxMemoryBytes
	if limit <= 0 {
		return nil
	}
	used := g.tracker.currentBytes - g.memBaseline
	if used <= limit {
		return nil
	}
	v := MemoryLimit(limit, used)
	if g.forgive(v, g.opts.onMemoryLimit) {
		g.memBaseline = g.tracker.currentBytes
		return nil
	}
	return NewViolationError(v)
}

// Free records bytes released by the script. Releases are capped at the
// tracked total, since values handed in by the host were never charged.
func (g *Guard) Free(bytes int64) error {
	if g.tracker == nil {
		return nil
	}
	if bytes > g.tracker.currentBytes && bytes >= 0 {
		bytes = g.tracker.currentBytes
	}
	if err := g.tracker.RecordDeallocation(bytes); err != nil {
		return err
	}
	if g.tracker.currentBytes < g.memBaseline {
		g.memBaseline = g.tracker.currentBytes
	}
	return nil
}

// BeginCoroutine checks the coroutine limit and, if allowed, counts the new
// coroutine. The check precedes counting, so the limit is inclusive.
func (g *Guard) BeginCoroutine() error {
	if g.tracker == nil {
		return nil
	}
	limit := int64(g.opts.maxCoroutines)
	if limit > 0 {
		live := g.tracker.currentCoroutines - g.coBaseline
		if live < 0 {
			g.coBaseline = g.tracker.currentCoroutines
			live = 0
		}
		if live >= limit {
			if !g.forgive(CoroutineLimit(limit, live), g.opts.onCoroutineLimit) {
				return NewViolationError(CoroutineLimit(limit, live+1))
			}
			g.coBaseline = g.tracker.currentCoroutines
		}
	}
	g.tracker.RecordCoroutineCreated()
	return nil
}

// EndCoroutine records that a coroutine finished or was closed.
func (g *Guard) EndCoroutine() {
	if g.tracker == nil {
		return
	}
	g.tracker.RecordCoroutineDisposed()
	if g.tracker.currentCoroutines < g.coBaseline {
		g.coBaseline = g.tracker.currentCoroutines
	}
}

// CheckModule runs the access protocol for a built-in module lookup.
func (g *Guard) CheckModule(name string) error {
	if !g.opts.IsModuleRestricted(name) {
		return nil
	}
	return g.checkAccess(ModuleAccess(name), g.opts.onModuleDenied)
}

// CheckFunction runs the access protocol for a built-in function lookup.
func (g *Guard) CheckFunction(name string) error {
	if !g.opts.IsFunctionRestricted(name) {
		return nil
	}
	return g.checkAccess(FunctionAccess(name), g.opts.onFunctionDenied)
}

func (g *Guard) checkAccess(v Violation, h AccessHandler) error {
	if h != nil && h(g.script, v.Name) {
		g.logger.Info("sandbox access allowed by handler", g.attrs(v)...)
		return nil
	}
	g.logger.Warn("sandbox access denied", g.attrs(v)...)
	return NewViolationError(v)
}

func (g *Guard) forgive(v Violation, h LimitHandler) bool {
	if h != nil && h(g.script, v.Actual) {
		g.logger.Info("sandbox limit forgiven", g.attrs(v)...)
		return true
	}
	g.logger.Warn("sandbox limit exceeded", g.attrs(v)...)
	return false
}

func (g *Guard) attrs(v Violation) []any {
	attrs := []any{slog.String("kind", v.Kind.String())}
	if g.script != nil {
		attrs = append(attrs, slog.String("script", g.script.ID()))
	}
	if v.IsAccessDenial() {
		return append(attrs, slog.String("name", v.Name))
	}
	return append(attrs, slog.Int64("limit", v.Limit), slog.Int64("actual", v.Actual))
}
