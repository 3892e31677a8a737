// Package runtime provides the top-level sandscript runtime: it owns the
// sandbox policy and built-ins, and hands out script execution contexts.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/thomasrohde/sandscript/pkg/ast"
	"github.com/thomasrohde/sandscript/pkg/cache"
	"github.com/thomasrohde/sandscript/pkg/diagnostics"
	"github.com/thomasrohde/sandscript/pkg/evaluator"
	"github.com/thomasrohde/sandscript/pkg/formatter"
	"github.com/thomasrohde/sandscript/pkg/sandbox"
	"github.com/thomasrohde/sandscript/pkg/stdlib"
	"github.com/thomasrohde/sandscript/pkg/validator"
)

// Result holds the outcome of one run.
type Result struct {
	Value        evaluator.Value
	Instructions int64

	// Snapshot is the script's allocation counters after the run, nil when
	// allocation tracking is off.
	Snapshot *sandbox.AllocationSnapshot

	// FaultSpan locates the construct that raised a sandbox violation.
	FaultSpan *ast.Span
}

// Runtime wires together the sandscript components for execution.
type Runtime struct {
	modules     *stdlib.Registry
	sandbox     *sandbox.Options
	logger      *slog.Logger
	output      io.Writer
	cache       *cache.Cache
	loader      fs.FS
	track       bool
	parallelism int
}

// Option is a functional option for configuring the Runtime.
type Option func(*Runtime)

// WithSandbox sets the host sandbox policy. Nil means unrestricted.
func WithSandbox(opts *sandbox.Options) Option {
	return func(rt *Runtime) {
		rt.sandbox = opts
	}
}

// WithLogger sets the logger for runtime and sandbox events.
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) {
		rt.logger = l
	}
}

// WithOutput sets where print writes.
func WithOutput(w io.Writer) Option {
	return func(rt *Runtime) {
		rt.output = w
	}
}

// WithModules replaces the built-in function and module registry. Nil keeps
// the default registry.
func WithModules(r *stdlib.Registry) Option {
	return func(rt *Runtime) {
		if r != nil {
			rt.modules = r
		}
	}
}

// WithCache sets the parsed-program cache. Nil disables caching.
func WithCache(c *cache.Cache) Option {
	return func(rt *Runtime) {
		rt.cache = c
	}
}

// WithAllocationTracking keeps allocation counters even when no memory or
// coroutine limit is configured.
func WithAllocationTracking() Option {
	return func(rt *Runtime) {
		rt.track = true
	}
}

// WithLoader sets the file system used by loadfile, dofile and require.
func WithLoader(fsys fs.FS) Option {
	return func(rt *Runtime) {
		rt.loader = fsys
	}
}

// WithParallelism bounds how many scripts RunAll executes at once.
func WithParallelism(n int) Option {
	return func(rt *Runtime) {
		rt.parallelism = n
	}
}

// New creates a new Runtime with the given options.
// By default every built-in is registered and the sandbox is unrestricted.
func New(opts ...Option) *Runtime {
	rt := &Runtime{
		modules:     stdlib.Default(),
		sandbox:     sandbox.Unrestricted(),
		logger:      NopLogger(),
		output:      io.Discard,
		cache:       cache.New(cache.DefaultCapacity),
		parallelism: goruntime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.sandbox == nil {
		rt.sandbox = sandbox.Unrestricted()
	}
	if rt.logger == nil {
		rt.logger = NopLogger()
	}
	return rt
}

// Sandbox returns the host sandbox policy.
func (rt *Runtime) Sandbox() *sandbox.Options { return rt.sandbox }

// Script is one execution context. Globals and allocation counters persist
// across its runs; instruction counts start over each run. A Script runs
// one source at a time.
type Script struct {
	rt      *Runtime
	id      string
	name    string
	globals *evaluator.Env

	run     sync.Mutex // held for a whole Run
	mu          sync.Mutex
	tracker     *sandbox.AllocationTracker
	memBaseline int64
}

var _ sandbox.Script = (*Script)(nil)

// NewScript creates an execution context. name is used as the file name in
// diagnostics.
func (rt *Runtime) NewScript(name string) *Script {
	return &Script{
		rt:      rt,
		id:      ulid.Make().String(),
		name:    name,
		globals: evaluator.NewEnv(nil),
	}
}

func (s *Script) ID() string   { return s.id }
func (s *Script) Name() string { return s.name }

// Tracker returns the context's allocation tracker, nil until a run needed
// one.
func (s *Script) Tracker() *sandbox.AllocationTracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker
}

// Options returns the host sandbox policy the context runs under.
func (s *Script) Options() *sandbox.Options { return s.rt.sandbox }

// Globals returns the context's global scope.
func (s *Script) Globals() *evaluator.Env { return s.globals }

// Run parses and executes source in this context. Parse errors return a
// *DiagnosticError. A sandbox breach returns the *sandbox.ViolationError
// together with the partial Result.
func (s *Script) Run(ctx context.Context, source string) (*Result, error) {
	s.run.Lock()
	defer s.run.Unlock()

	prog, diags := s.rt.cache.ParseCached(source, s.name)
	if len(diags) > 0 {
		return nil, &DiagnosticError{Diagnostics: diags}
	}
	opts, err := evaluator.ApplyLimits(s.rt.sandbox, prog)
	if err != nil {
		return nil, diagnosticErrorFrom(err)
	}

	// Handlers read the tracker through Tracker while the script runs.
	s.mu.Lock()
	guard := sandbox.NewGuard(s, opts, sandbox.GuardConfig{
		Logger:           s.rt.logger,
		TrackAllocations: s.rt.track,
		Tracker:          s.tracker,
		MemoryBaseline:   s.memBaseline,
	})
	s.tracker = guard.Tracker()
	s.mu.Unlock()

	log := s.rt.logger.With("script", s.id, "name", s.name)
	log.Debug("script starting", "sandbox", opts.String())

	res, err := evaluator.Execute(ctx, prog, evaluator.ExecOptions{
		Guard:    guard,
		Builtins: s.rt.modules,
		Globals:  s.globals,
		Output:   s.rt.output,
		Logger:   log,
		Loader:   s.rt.loader,
		Parse:    s.rt.cache.ParseCached,
	})
	s.mu.Lock()
	s.memBaseline = guard.MemoryBaseline()
	s.mu.Unlock()

	result := &Result{Value: res.Value, Instructions: res.Instructions, FaultSpan: res.FaultSpan}
	if snap, ok := guard.Snapshot(); ok {
		result.Snapshot = &snap
	}
	if err != nil {
		log.Debug("script failed", "instructions", result.Instructions, "error", err)
		return result, err
	}
	log.Debug("script finished", "instructions", result.Instructions)
	return result, nil
}

// Run parses and executes source in a fresh context.
func (rt *Runtime) Run(ctx context.Context, source, filename string) (*Result, error) {
	return rt.NewScript(filename).Run(ctx, source)
}

// Check parses source and validates it without executing it: the limits
// header, names that are never bound, and module or function accesses the
// effective sandbox denies.
func (rt *Runtime) Check(source, filename string) []diagnostics.Diagnostic {
	prog, diags := rt.cache.ParseCached(source, filename)
	if len(diags) > 0 {
		return diags
	}
	opts, err := evaluator.ApplyLimits(rt.sandbox, prog)
	if err != nil {
		return []diagnostics.Diagnostic{Diagnostic(err, nil)}
	}
	return validator.Validate(prog, validator.Config{Builtins: rt.modules, Sandbox: opts})
}

// Format parses source and returns it pretty-printed. Parse failures return
// a *DiagnosticError.
func (rt *Runtime) Format(source, filename string) (string, error) {
	prog, diags := rt.cache.ParseCached(source, filename)
	if len(diags) > 0 {
		return "", &DiagnosticError{Diagnostics: diags}
	}
	return formatter.Format(prog), nil
}

// Source is a named script for RunAll.
type Source struct {
	Name string
	Code string
}

// RunAll runs each source in its own context, concurrently. Script
// failures are recorded in the reports; the error is non-nil only when ctx
// ends before every script ran.
func (rt *Runtime) RunAll(ctx context.Context, sources []Source) ([]*Report, error) {
	reports := make([]*Report, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	if rt.parallelism > 0 {
		g.SetLimit(rt.parallelism)
	}
	for i, src := range sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			script := rt.NewScript(src.Name)
			res, err := script.Run(gctx, src.Code)
			reports[i] = NewReport(script, res, err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, fmt.Errorf("running scripts: %w", err)
	}
	return reports, nil
}

// NopLogger returns a logger that discards everything.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Diagnostic converts a run error into a diagnostic. span locates sandbox
// violations, which carry no position of their own.
func Diagnostic(err error, span *ast.Span) diagnostics.Diagnostic {
	if v, ok := sandbox.AsViolation(err); ok {
		return diagnostics.FromViolation(v, span)
	}
	var rt *evaluator.RuntimeError
	if errors.As(err, &rt) {
		return rt.Diagnostic()
	}
	var de *DiagnosticError
	if errors.As(err, &de) && len(de.Diagnostics) > 0 {
		return de.Diagnostics[0]
	}
	return diagnostics.MakeDiag(diagnostics.ERuntime, err.Error(), nil, "")
}

// DiagnosticError wraps diagnostics as an error.
type DiagnosticError struct {
	Diagnostics []diagnostics.Diagnostic
}

func (e *DiagnosticError) Error() string {
	msgs := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		msgs[i] = fmt.Sprintf("%s: %s", d.Code, d.Message)
	}
	return strings.Join(msgs, "; ")
}

func diagnosticErrorFrom(err error) *DiagnosticError {
	return &DiagnosticError{Diagnostics: []diagnostics.Diagnostic{Diagnostic(err, nil)}}
}
