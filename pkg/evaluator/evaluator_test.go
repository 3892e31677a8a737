package evaluator_test

import (
	"bytes"
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/sandscript/pkg/diagnostics"
	"github.com/thomasrohde/sandscript/pkg/evaluator"
	"github.com/thomasrohde/sandscript/pkg/parser"
	"github.com/thomasrohde/sandscript/pkg/sandbox"
	"github.com/thomasrohde/sandscript/pkg/stdlib"
)

// --- helpers ---

func defaultOpts() evaluator.ExecOptions {
	return evaluator.ExecOptions{Builtins: stdlib.Default()}
}

func withGuard(opts *sandbox.Options) evaluator.ExecOptions {
	o := defaultOpts()
	o.Guard = sandbox.NewGuard(nil, opts, sandbox.GuardConfig{})
	return o
}

func runWith(t *testing.T, src string, opts evaluator.ExecOptions) (*evaluator.ExecResult, error) {
	t.Helper()
	prog, diags := parser.Parse(src, "test.ss")
	require.Empty(t, diags, "parse errors: %s", diagnostics.FormatDiagnostics(diags, false))
	return evaluator.Execute(context.Background(), prog, opts)
}

func mustRun(t *testing.T, src string) evaluator.Value {
	t.Helper()
	res, err := runWith(t, src, defaultOpts())
	require.NoError(t, err)
	return res.Value
}

func render(t *testing.T, src string) string {
	t.Helper()
	return evaluator.ToString(mustRun(t, src))
}

func runtimeErr(t *testing.T, src string) *evaluator.RuntimeError {
	t.Helper()
	_, err := runWith(t, src, defaultOpts())
	require.Error(t, err)
	var rt *evaluator.RuntimeError
	require.ErrorAs(t, err, &rt)
	return rt
}

func violation(t *testing.T, err error) *sandbox.ViolationError {
	t.Helper()
	require.Error(t, err)
	v, ok := sandbox.AsViolation(err)
	require.True(t, ok, "expected a sandbox violation, got %v", err)
	return v
}

// --- language semantics ---

func TestExpressions(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`1 + 2 * 3`, "7"},
		{`(1 + 2) * 3`, "9"},
		{`7 / 2`, "3.5"},
		{`-7 % 3`, "2"},
		{`"a" + 1`, "a1"},
		{`1 + "a" + null`, "1anull"},
		{`[1] + [2, 3]`, "[1, 2, 3]"},
		{`"abc" < "abd"`, "true"},
		{`[1, { a: 2 }] == [1, { a: 2 }]`, "true"},
		{`1 == "1"`, "false"},
		{`null || "fallback"`, "fallback"},
		{`0 && crash()`, "0"},
		{`!""`, "true"},
		{`"héllo"[1]`, "é"},
		{`{ a: 1 }.b`, "null"},
		{`{ a: { b: 2 } }["a"].b`, "2"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			assert.Equal(t, tt.want, render(t, tt.src))
		})
	}
}

func TestStatements(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"let and assign", `let x = 1; x = x + 1; x`, "2"},
		{"block scope", `let x = 1; if (true) { let x = 2 } x`, "1"},
		{"if else chain", `let n = 5; if (n < 3) { "low" } else if (n < 6) { "mid" } else { "high" }`, "mid"},
		{"while break continue", `
let i = 0
let sum = 0
while (true) {
  i = i + 1
  if (i > 10) { break }
  if (i % 2 == 0) { continue }
  sum = sum + i
}
sum`, "25"},
		{"for over list", `let s = 0; for (x in [1, 2, 3]) { s = s + x } s`, "6"},
		{"for over record keys", `let ks = ""; for (k in { a: 1, b: 2 }) { ks = ks + k } ks`, "ab"},
		{"for over string", `let n = 0; for (c in "héllo") { n = n + 1 } n`, "5"},
		{"list append by index", `let l = [1]; l[1] = 2; l[0] = 0; l`, "[0, 2]"},
		{"record field set", `let r = {}; r.a = 1; r["b"] = 2; r`, "{ a: 1, b: 2 }"},
		{"top level return", `return 4; 5`, "4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, render(t, tt.src))
		})
	}
}

func TestFunctionsAndClosures(t *testing.T) {
	assert.Equal(t, "55", render(t, `
fn fib(n) { if (n < 2) { return n } return fib(n - 1) + fib(n - 2) }
fib(10)`))

	assert.Equal(t, "[1, 2, 3]", render(t, `
fn counter() {
  let n = 0
  return fn() { n = n + 1; return n }
}
let c = counter();
[c(), c(), c()]`))

	assert.Equal(t, "null", render(t, `fn f(a, b) { return b } f(1)`))
	assert.Equal(t, "null", render(t, `fn f() { 1 } f()`))
}

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		src  string
		code string
		msg  string
	}{
		{`nope`, diagnostics.EUnbound, "unbound variable 'nope'"},
		{`x = 1`, diagnostics.EUnbound, "assignment to undeclared variable 'x'"},
		{`break`, diagnostics.ERuntime, "break outside loop"},
		{`fn f() { continue } while (true) { f() }`, diagnostics.ERuntime, "continue outside loop"},
		{`let x = 3; x()`, diagnostics.ECall, "attempt to call a number value"},
		{`1 / 0`, diagnostics.EType, "division by zero"},
		{`[1, 2][2]`, diagnostics.EIndex, "list index 2 out of range (length 2)"},
		{`-"a"`, diagnostics.EType, "operator '-' cannot be applied to string"},
		{`for (x in 3) {}`, diagnostics.EType, "cannot iterate over number"},
		{`string.nope`, diagnostics.EUnbound, "module 'string' has no member 'nope'"},
		{`1 < "a"`, diagnostics.EType, "operator '<' cannot be applied to number and string"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			rt := runtimeErr(t, tt.src)
			assert.Equal(t, tt.code, rt.Code)
			assert.Equal(t, tt.msg, rt.Message)
			assert.NotNil(t, rt.Span)
		})
	}
}

func TestErrorSpanPointsAtCall(t *testing.T) {
	rt := runtimeErr(t, "let a = 1\nstring.upper(a)")
	require.NotNil(t, rt.Span)
	assert.Equal(t, 2, rt.Span.StartLine)
}

func TestStackOverflowWithoutDepthLimit(t *testing.T) {
	rt := runtimeErr(t, `fn f() { return f() } f()`)
	assert.Equal(t, diagnostics.ERuntime, rt.Code)
	assert.Equal(t, "stack overflow", rt.Message)
}

func TestPersistentGlobals(t *testing.T) {
	opts := defaultOpts()
	opts.Globals = evaluator.NewEnv(nil)
	_, err := runWith(t, `let total = 40`, opts)
	require.NoError(t, err)
	res, err := runWith(t, `total + 2`, opts)
	require.NoError(t, err)
	assert.Equal(t, "42", evaluator.ToString(res.Value))
}

func TestPrintOutput(t *testing.T) {
	var out bytes.Buffer
	opts := defaultOpts()
	opts.Output = &out
	_, err := runWith(t, `for (x in range(3)) { print("item", x) }`, opts)
	require.NoError(t, err)
	assert.Equal(t, "item\t0\nitem\t1\nitem\t2\n", out.String())
}

func TestContextCancellation(t *testing.T) {
	prog, diags := parser.Parse(`while (true) {}`, "test.ss")
	require.Empty(t, diags)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := evaluator.Execute(ctx, prog, defaultOpts())
	require.ErrorIs(t, err, context.Canceled)
}

// --- sandbox enforcement ---

func TestInstructionCount(t *testing.T) {
	res, err := runWith(t, `1`, defaultOpts())
	require.NoError(t, err)
	// One statement and one expression.
	assert.Equal(t, int64(2), res.Instructions)
}

func TestInstructionLimit(t *testing.T) {
	res, err := runWith(t, `while (true) {}`, withGuard(sandbox.New().SetMaxInstructions(10)))
	v := violation(t, err)
	assert.Equal(t, sandbox.InstructionLimitExceeded, v.ViolationType())
	assert.Equal(t, int64(10), v.ConfiguredLimit())
	assert.Equal(t, int64(11), v.ActualValue())
	assert.Equal(t, "Sandbox violation: instruction limit exceeded (limit: 10, executed: 11)", v.Error())
	require.NotNil(t, res)
	require.NotNil(t, res.FaultSpan)
	assert.Equal(t, 1, res.FaultSpan.StartLine)
}

func TestInstructionLimitForgiveness(t *testing.T) {
	calls := 0
	opts := sandbox.New().SetMaxInstructions(50).OnInstructionLimitExceeded(func(_ sandbox.Script, current int64) bool {
		calls++
		assert.Equal(t, int64(51), current)
		return calls <= 2
	})
	res, err := runWith(t, `while (true) {}`, withGuard(opts))
	v := violation(t, err)
	assert.Equal(t, sandbox.InstructionLimitExceeded, v.ViolationType())
	assert.Equal(t, 3, calls)
	assert.Equal(t, int64(153), res.Instructions)
}

func TestRecursionLimit(t *testing.T) {
	_, err := runWith(t, `fn f(n) { return f(n + 1) } f(0)`, withGuard(sandbox.New().SetMaxCallStackDepth(5)))
	v := violation(t, err)
	assert.Equal(t, sandbox.RecursionLimitExceeded, v.ViolationType())
	assert.Equal(t, int64(5), v.ConfiguredLimit())
	assert.Equal(t, int64(6), v.ActualValue())
}

func TestRecursionWithinLimit(t *testing.T) {
	res, err := runWith(t, `fn f(n) { if (n == 0) { return 0 } return f(n - 1) } f(4)`,
		withGuard(sandbox.New().SetMaxCallStackDepth(5)))
	require.NoError(t, err)
	assert.Equal(t, "0", evaluator.ToString(res.Value))
}

func TestMemoryLimit(t *testing.T) {
	_, err := runWith(t, `
let s = ""
while (true) { s = s + "xxxxxxxxxx" }
`, withGuard(sandbox.New().SetMaxMemoryBytes(1000)))
	v := violation(t, err)
	assert.Equal(t, sandbox.MemoryLimitExceeded, v.ViolationType())
	assert.Equal(t, int64(1000), v.ConfiguredLimit())
	assert.Greater(t, v.ActualValue(), int64(1000))
}

func TestMemoryLimitForgivenessResetsBaseline(t *testing.T) {
	forgiven := 0
	opts := sandbox.New().SetMaxMemoryBytes(500).OnMemoryLimitExceeded(func(sandbox.Script, int64) bool {
		forgiven++
		return forgiven == 1
	})
	_, err := runWith(t, `let l = []; while (true) { list.push(l, 1) }`, withGuard(opts))
	v := violation(t, err)
	assert.Equal(t, sandbox.MemoryLimitExceeded, v.ViolationType())
	assert.Equal(t, 2, forgiven)
	// The second breach is measured from the forgiven level.
	assert.LessOrEqual(t, v.ActualValue(), int64(500+evaluator.CostValue))
}

func TestCoroutineLimitIsInclusive(t *testing.T) {
	opts := withGuard(sandbox.New().SetMaxCoroutines(2))
	_, err := runWith(t, `
let a = coroutine.create(fn() {})
let b = coroutine.create(fn() {})
`, opts)
	require.NoError(t, err)

	_, err = runWith(t, `
let a = coroutine.create(fn() {})
let b = coroutine.create(fn() {})
let c = coroutine.create(fn() {})
`, withGuard(sandbox.New().SetMaxCoroutines(2)))
	v := violation(t, err)
	assert.Equal(t, sandbox.CoroutineLimitExceeded, v.ViolationType())
	assert.Equal(t, int64(2), v.ConfiguredLimit())
	assert.Equal(t, int64(3), v.ActualValue())
	assert.Equal(t, "Sandbox violation: coroutine limit exceeded (limit: 2, count: 3)", v.Error())
}

func TestFinishedCoroutinesFreeTheirSlot(t *testing.T) {
	res, err := runWith(t, `
let n = 0
for (i in range(5)) {
  let co = coroutine.create(fn() { return 1 })
  n = n + coroutine.resume(co)
}
n`, withGuard(sandbox.New().SetMaxCoroutines(1)))
	require.NoError(t, err)
	assert.Equal(t, "5", evaluator.ToString(res.Value))
}

func TestLiveCoroutinesClosedAtEnd(t *testing.T) {
	opts := defaultOpts()
	opts.Guard = sandbox.NewGuard(nil, nil, sandbox.GuardConfig{TrackAllocations: true})
	_, err := runWith(t, `
let co = coroutine.create(fn() { coroutine.yield(1); coroutine.yield(2) })
coroutine.resume(co)
`, opts)
	require.NoError(t, err)
	tr := opts.Guard.Tracker()
	assert.Equal(t, int64(0), tr.CurrentCoroutines())
	assert.Equal(t, int64(1), tr.TotalCoroutinesCreated())
	assert.Equal(t, int64(1), tr.PeakCoroutines())
}

func TestModuleAccessDenied(t *testing.T) {
	res, err := runWith(t, "let a = 1\nio.read(\"x\")", withGuard(sandbox.Restrictive()))
	v := violation(t, err)
	assert.Equal(t, sandbox.ModuleAccessDenied, v.ViolationType())
	assert.Equal(t, "io", v.DeniedAccessName())
	assert.Equal(t, "Sandbox violation: access to module 'io' is denied", v.Error())
	require.NotNil(t, res.FaultSpan)
	assert.Equal(t, 2, res.FaultSpan.StartLine)
}

func TestModuleAccessViaImportAndRequire(t *testing.T) {
	_, err := runWith(t, "import os\nlet x = 1", withGuard(sandbox.Restrictive()))
	assert.Equal(t, sandbox.ModuleAccessDenied, violation(t, err).ViolationType())

	_, err = runWith(t, `require("debug")`, withGuard(sandbox.Restrictive()))
	assert.Equal(t, "debug", violation(t, err).DeniedAccessName())

	res, err := runWith(t, "import string as s\ns.upper(\"ok\")", withGuard(sandbox.Restrictive()))
	require.NoError(t, err)
	assert.Equal(t, "OK", evaluator.ToString(res.Value))
}

func TestFunctionAccessDenied(t *testing.T) {
	_, err := runWith(t, `load("return 1")`, withGuard(sandbox.Restrictive()))
	v := violation(t, err)
	assert.Equal(t, sandbox.FunctionAccessDenied, v.ViolationType())
	assert.Equal(t, "load", v.DeniedAccessName())
	assert.Equal(t, "Sandbox violation: access to function 'load' is denied", v.Error())
}

func TestAccessHandlerAllowsSingleUse(t *testing.T) {
	var asked []string
	opts := sandbox.Restrictive().OnFunctionAccessDenied(func(_ sandbox.Script, name string) bool {
		asked = append(asked, name)
		return len(asked) == 1
	})
	res, err := runWith(t, `
let first = load("return 1")()
let second = load("return 2")()
first + second`, withGuard(opts))
	v := violation(t, err)
	assert.Equal(t, "load", v.DeniedAccessName())
	assert.Equal(t, []string{"load", "load"}, asked)
	assert.Nil(t, res.Value)
}

func TestAccessNamesAreCaseSensitive(t *testing.T) {
	opts, err := sandbox.New().RestrictModule("IO")
	require.NoError(t, err)
	_, err = runWith(t, `io.exists(".")`, withGuard(opts))
	require.NoError(t, err)
}

func TestPcallNeverCatchesViolations(t *testing.T) {
	_, err := runWith(t, `pcall(fn() { io.read("x") })`, withGuard(sandbox.Restrictive()))
	assert.Equal(t, sandbox.ModuleAccessDenied, violation(t, err).ViolationType())

	_, err = runWith(t, `pcall(fn() { fn r() { return r() } r() })`,
		withGuard(sandbox.New().SetMaxCallStackDepth(20)))
	assert.Equal(t, sandbox.RecursionLimitExceeded, violation(t, err).ViolationType())
}

func TestViolationInsideCoroutinePropagates(t *testing.T) {
	_, err := runWith(t, `
let co = coroutine.create(fn() { while (true) {} })
coroutine.resume(co)
`, withGuard(sandbox.New().SetMaxInstructions(100)))
	assert.Equal(t, sandbox.InstructionLimitExceeded, violation(t, err).ViolationType())
}

// --- coroutines ---

func TestCoroutineGenerator(t *testing.T) {
	assert.Equal(t, "[10, 20, 30]", render(t, `
let gen = coroutine.create(fn() {
  for (i in [1, 2, 3]) { coroutine.yield(i * 10) }
})
let out = []
for (v in gen) { list.push(out, v) }
out`))
}

func TestCoroutineResumeValues(t *testing.T) {
	assert.Equal(t, `["suspended", 3, "suspended", 10, "dead"]`, render(t, `
let co = coroutine.create(fn(a, b) {
  let got = coroutine.yield(a + b)
  return got * 2
})
let s0 = coroutine.status(co)
let first = coroutine.resume(co, 1, 2)
let s1 = coroutine.status(co)
let second = coroutine.resume(co, 5);
[s0, first, s1, second, coroutine.status(co)]`))
}

func TestCoroutineWrapAndRunning(t *testing.T) {
	assert.Equal(t, "[1, 2]", render(t, `
let gen = coroutine.wrap(fn() { coroutine.yield(1); coroutine.yield(2) });
[gen(), gen()]`))

	assert.Equal(t, `[false, true, "running"]`, render(t, `
let inside = null
let co = coroutine.create(fn() {
  inside = [coroutine.isyieldable(), coroutine.status(coroutine.running())]
})
coroutine.resume(co);
[coroutine.isyieldable(), inside[0], inside[1]]`))
}

func TestCoroutineErrors(t *testing.T) {
	rt := runtimeErr(t, `let co = coroutine.create(fn() {}); coroutine.resume(co); coroutine.resume(co)`)
	assert.Equal(t, diagnostics.ECo, rt.Code)
	assert.Equal(t, "cannot resume dead coroutine", rt.Message)

	rt = runtimeErr(t, `coroutine.yield(1)`)
	assert.Equal(t, diagnostics.ECo, rt.Code)

	rt = runtimeErr(t, `coroutine.create(1)`)
	assert.Equal(t, diagnostics.EType, rt.Code)

	rt = runtimeErr(t, `let co = coroutine.create(fn() { error("inside") }); coroutine.resume(co)`)
	assert.Equal(t, diagnostics.EError, rt.Code)
	assert.Equal(t, "inside", rt.Message)
}

func TestCoroutineClose(t *testing.T) {
	assert.Equal(t, `[true, "dead"]`, render(t, `
let co = coroutine.create(fn() { coroutine.yield(1) })
coroutine.resume(co);
[coroutine.close(co), coroutine.status(co)]`))
}

// --- chunk and module loading ---

func loaderOpts(out *bytes.Buffer) evaluator.ExecOptions {
	opts := defaultOpts()
	opts.Output = out
	opts.Loader = fstest.MapFS{
		"lib/util.ss": {Data: []byte(`
print("loading util")
fn double(x) { return x * 2 }
return { double: double }
`)},
		"main.ss":   {Data: []byte(`return 6 * 7`)},
		"broken.ss": {Data: []byte(`let = 1`)},
	}
	return opts
}

func TestRequireScriptModule(t *testing.T) {
	var out bytes.Buffer
	res, err := runWith(t, `
let a = require("lib.util")
let b = require("lib.util")
a.double(4) + b.double(1)`, loaderOpts(&out))
	require.NoError(t, err)
	assert.Equal(t, "10", evaluator.ToString(res.Value))
	assert.Equal(t, "loading util\n", out.String())
}

func TestRequireMissingModule(t *testing.T) {
	var out bytes.Buffer
	_, err := runWith(t, `require("nope")`, loaderOpts(&out))
	var rt *evaluator.RuntimeError
	require.ErrorAs(t, err, &rt)
	assert.Equal(t, diagnostics.EImport, rt.Code)
	assert.Equal(t, "module 'nope' not found", rt.Message)
}

func TestDoFileAndLoadFile(t *testing.T) {
	var out bytes.Buffer
	res, err := runWith(t, `dofile("main.ss") + loadfile("main.ss")()`, loaderOpts(&out))
	require.NoError(t, err)
	assert.Equal(t, "84", evaluator.ToString(res.Value))

	_, err = runWith(t, `dofile("broken.ss")`, loaderOpts(&out))
	var rt *evaluator.RuntimeError
	require.ErrorAs(t, err, &rt)
	assert.Equal(t, diagnostics.EParse, rt.Code)

	_, err = runWith(t, `dofile("absent.ss")`, loaderOpts(&out))
	require.ErrorAs(t, err, &rt)
	assert.Equal(t, diagnostics.EIO, rt.Code)
}

func TestLoadFileWithoutLoader(t *testing.T) {
	rt := runtimeErr(t, `loadfile("main.ss")`)
	assert.Equal(t, diagnostics.EIO, rt.Code)
}

func TestLoadString(t *testing.T) {
	assert.Equal(t, "3", render(t, `load("return 1 + 2")()`))
	assert.Equal(t, "5", render(t, `let g = 2; loadstring("return g + 3")()`))

	rt := runtimeErr(t, `load("limits { instructions: 5 }")`)
	assert.Equal(t, diagnostics.ELimits, rt.Code)

	rt = runtimeErr(t, `load("let = 2", "chunk")`)
	assert.Equal(t, diagnostics.EParse, rt.Code)
	assert.Contains(t, rt.Message, "chunk: ")
}

func TestLoadedChunkCountsAsFrame(t *testing.T) {
	_, err := runWith(t, `fn f() { return load("return 1")() } f()`,
		withGuard(sandbox.New().SetMaxCallStackDepth(1)))
	v := violation(t, err)
	assert.Equal(t, sandbox.RecursionLimitExceeded, v.ViolationType())
	assert.Equal(t, int64(2), v.ActualValue())
}
