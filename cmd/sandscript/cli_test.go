package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/sandscript/pkg/runtime"
	"github.com/thomasrohde/sandscript/pkg/sandbox"
)

type cliResult struct {
	code   int
	stdout string
	stderr string
}

// execute runs the CLI with no user or project profile in reach.
func execute(t *testing.T, stdin string, args ...string) cliResult {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return cliResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCLIHelp(t *testing.T) {
	r := execute(t, "", "--help")
	require.Equal(t, exitOK, r.code)
	for _, phrase := range []string{"sandscript", "run", "check", "fmt", "repl", "batch", "report", "profile", "Exit codes"} {
		assert.Contains(t, r.stdout, phrase)
	}
}

func TestCLIRunHelp(t *testing.T) {
	r := execute(t, "", "run", "--help")
	require.Equal(t, exitOK, r.code)
	for _, flag := range []string{
		"--code", "--preset", "--profile", "--max-instructions", "--max-depth",
		"--max-memory", "--max-coroutines", "--restrict-module", "--restrict-function",
		"--allow-module", "--allow-function", "--stats", "--report", "--log-level",
	} {
		assert.Contains(t, r.stdout, flag)
	}
}

func TestCLIReplHelp(t *testing.T) {
	r := execute(t, "", "repl", "--help")
	require.Equal(t, exitOK, r.code)
	assert.Contains(t, r.stdout, "--history")
	assert.Contains(t, r.stdout, "Multi-line input")
}

func TestRunInline(t *testing.T) {
	r := execute(t, "", "run", "-c", `print("hi"); [1, "a", { b: true }]`)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Equal(t, "hi\n[1,\"a\",{\"b\":true}]\n", r.stdout)
}

func TestRunNullPrintsNothing(t *testing.T) {
	r := execute(t, "", "run", "-c", `let x = 1`)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Empty(t, r.stdout)
}

func TestRunStdin(t *testing.T) {
	r := execute(t, "6 * 7", "run", "-")
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Equal(t, "42\n", r.stdout)
}

func TestRunFileWithRequire(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "util.ss", `return { twice: fn(n) { return n * 2 } }`)
	main := writeFile(t, dir, "main.ss", `let u = require("util"); u.twice(21)`)
	r := execute(t, "", "run", main)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Equal(t, "42\n", r.stdout)
}

func TestRunMissingFile(t *testing.T) {
	r := execute(t, "", "run", filepath.Join(t.TempDir(), "nope.ss"))
	assert.Equal(t, exitUsage, r.code)
	assert.Contains(t, r.stderr, "E_IO")
}

func TestRunExitCodes(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
		diag string
	}{
		{"parse error", []string{"-c", "let = 1"}, exitDiagnostics, "E_PARSE"},
		{"bad limits header", []string{"-c", "limits { speed: 1 }\n1"}, exitDiagnostics, "E_LIMITS"},
		{"instruction limit", []string{"--max-instructions", "10", "-c", "while (true) {}"}, exitViolation, "E_SANDBOX_INSTRUCTIONS"},
		{"depth limit", []string{"--max-depth", "5", "-c", "fn f() { return f() } f()"}, exitViolation, "E_SANDBOX_RECURSION"},
		{"memory limit", []string{"--max-memory", "1KiB", "-c", `let s = ""; while (true) { s = s + "xxxxxxxx" }`}, exitViolation, "E_SANDBOX_MEMORY"},
		{"coroutine limit", []string{"--max-coroutines", "1", "-c", "let a = coroutine.create(fn() {}); let b = coroutine.create(fn() {})"}, exitViolation, "E_SANDBOX_COROUTINES"},
		{"restricted by default", []string{"-c", "os.time()"}, exitViolation, "E_SANDBOX_MODULE"},
		{"restricted function", []string{"--restrict-function", "string.rep", "-c", `string.rep("a", 2)`}, exitViolation, "E_SANDBOX_FUNCTION"},
		{"runtime error", []string{"-c", `error("boom")`}, exitRuntime, "E_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := execute(t, "", append([]string{"run"}, tt.args...)...)
			assert.Equal(t, tt.code, r.code, r.stderr)
			assert.Contains(t, r.stderr, tt.diag)
		})
	}
}

func TestRunAllowModule(t *testing.T) {
	r := execute(t, "", "run", "--allow-module", "os", "-c", `type(os.time())`)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Equal(t, "\"number\"\n", r.stdout)
}

func TestRunPresetUnrestricted(t *testing.T) {
	r := execute(t, "", "run", "--preset", "unrestricted", "-c", `type(os.time())`)
	require.Equal(t, exitOK, r.code, r.stderr)
}

func TestRunUnknownPreset(t *testing.T) {
	r := execute(t, "", "run", "--preset", "paranoid", "-c", `1`)
	assert.Equal(t, exitUsage, r.code)
	assert.Contains(t, r.stderr, "unknown sandbox preset")
}

func TestRunProjectProfile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, ".sandscript.yaml", "preset: unrestricted\nmax_instructions: 10\n")
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"run", "-c", "while (true) {}"}, strings.NewReader(""), &stdout, &stderr)
	assert.Equal(t, exitViolation, code)
	assert.Contains(t, stderr.String(), "limit: 10")
}

func TestRunPrettyDiagnostics(t *testing.T) {
	r := execute(t, "", "run", "--pretty", "--max-instructions", "10", "-c", "while (true) {}")
	assert.Equal(t, exitViolation, r.code)
	assert.Contains(t, r.stderr, "error[E_SANDBOX_INSTRUCTIONS]: Sandbox violation: instruction limit exceeded (limit: 10, executed: 11)")
	assert.Contains(t, r.stderr, "--> <code>:1:")
}

func TestRunStats(t *testing.T) {
	r := execute(t, "", "run", "--stats", "-c", `let l = [1, 2, 3]`)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stderr, "instructions: ")
	assert.Contains(t, r.stderr, "memory: current ")
	assert.Contains(t, r.stderr, "coroutines: live 0")
}

func TestRunReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.cbor")
	r := execute(t, "", "run", "--max-instructions", "10", "--report", path, "-c", "while (true) {}")
	require.Equal(t, exitViolation, r.code)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	report, err := runtime.DecodeReport(data)
	require.NoError(t, err)
	assert.False(t, report.OK)
	assert.Equal(t, "<code>", report.Name)
	require.NotNil(t, report.Violation)
	assert.Equal(t, sandbox.InstructionLimitExceeded, report.Violation.Kind)
	assert.NotNil(t, report.Snapshot)
}

func TestInvalidLogLevel(t *testing.T) {
	r := execute(t, "", "run", "--log-level", "loud", "-c", "1")
	assert.Equal(t, exitUsage, r.code)
	assert.Contains(t, r.stderr, "invalid --log-level")
}

func TestDebugLogging(t *testing.T) {
	r := execute(t, "", "run", "--log-level", "debug", "-c", "1")
	require.Equal(t, exitOK, r.code)
	assert.Contains(t, r.stderr, "script finished")
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.ss", "let x = 1")
	bad := writeFile(t, dir, "bad.ss", "let x = ")

	r := execute(t, "", "check", good)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Equal(t, "[]\n", r.stdout)

	r = execute(t, "", "check", "--pretty", good)
	assert.Equal(t, "No errors found.\n", r.stdout)

	r = execute(t, "", "check", good, bad)
	assert.Equal(t, exitDiagnostics, r.code)
	assert.Contains(t, r.stderr, "E_PARSE")
}

func TestCheckSandbox(t *testing.T) {
	dir := t.TempDir()
	clock := writeFile(t, dir, "clock.ss", "os.time()")

	r := execute(t, "", "check", clock)
	assert.Equal(t, exitDiagnostics, r.code)
	assert.Contains(t, r.stderr, "E_SANDBOX_MODULE")

	r = execute(t, "", "check", "--allow-module", "os", clock)
	assert.Equal(t, exitOK, r.code, r.stderr)

	typo := writeFile(t, dir, "typo.ss", "prnt(1)")
	r = execute(t, "", "check", "--preset", "unrestricted", typo)
	assert.Equal(t, exitDiagnostics, r.code)
	assert.Contains(t, r.stderr, "unbound variable 'prnt'")
}

func TestFmt(t *testing.T) {
	dir := t.TempDir()
	messy := writeFile(t, dir, "messy.ss", "let x=1\nx*2")

	r := execute(t, "", "fmt", messy)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Equal(t, "let x = 1\nx * 2\n", r.stdout)

	r = execute(t, "", "fmt", "--write", messy)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Empty(t, r.stdout)
	b, err := os.ReadFile(messy)
	require.NoError(t, err)
	assert.Equal(t, "let x = 1\nx * 2\n", string(b))

	commented := writeFile(t, dir, "commented.ss", "# note\nlet y=2")
	r = execute(t, "", "fmt", "-w", commented)
	require.Equal(t, exitOK, r.code)
	assert.Contains(t, r.stderr, "skipping")
	b, err = os.ReadFile(commented)
	require.NoError(t, err)
	assert.Equal(t, "# note\nlet y=2", string(b))

	bad := writeFile(t, dir, "bad.ss", "let = 1")
	r = execute(t, "", "fmt", bad)
	assert.Equal(t, exitDiagnostics, r.code)
	assert.Contains(t, r.stderr, "E_PARSE")
}

func TestBatch(t *testing.T) {
	dir := t.TempDir()
	ok := writeFile(t, dir, "ok.ss", "1 + 1")
	loop := writeFile(t, dir, "loop.ss", "while (true) {}")
	boom := writeFile(t, dir, "boom.ss", `error("boom")`)

	r := execute(t, "", "batch", "--max-instructions", "100", ok, loop, boom)
	assert.Equal(t, exitRuntime, r.code)
	lines := strings.Split(strings.TrimSpace(r.stdout), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], ok+": ok 2 ("), lines[0])
	assert.Contains(t, lines[1], "E_SANDBOX_INSTRUCTIONS")
	assert.Contains(t, lines[2], "E_ERROR boom")
}

func TestBatchJSON(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.ss", "let x = 3; x")
	r := execute(t, "", "batch", "--json", a)
	require.Equal(t, exitOK, r.code, r.stderr)

	var reports []map[string]any
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, true, reports[0]["ok"])
	assert.Equal(t, "3", reports[0]["value"])
	assert.NotEmpty(t, reports[0]["scriptId"])
}

func TestBatchReportFile(t *testing.T) {
	dir := t.TempDir()
	ok := writeFile(t, dir, "ok.ss", "1 + 1")
	loop := writeFile(t, dir, "loop.ss", "while (true) {}")
	path := filepath.Join(dir, "batch.cbor")

	r := execute(t, "", "batch", "--max-instructions", "100", "--report", path, ok, loop)
	require.Equal(t, exitViolation, r.code, r.stderr)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	reports, err := runtime.ReadReports(f)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.True(t, reports[0].OK)
	require.NotNil(t, reports[1].Violation)
	assert.Equal(t, sandbox.InstructionLimitExceeded, reports[1].Violation.Kind)

	r = execute(t, "", "report", path)
	require.Equal(t, exitOK, r.code, r.stderr)
	lines := strings.Split(strings.TrimSpace(r.stdout), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], ok+": ok 2 ("), lines[0])
	assert.Contains(t, lines[1], "E_SANDBOX_INSTRUCTIONS")

	r = execute(t, "", "report", "--json", path)
	require.Equal(t, exitOK, r.code, r.stderr)
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &decoded))
	assert.Len(t, decoded, 2)

	r = execute(t, "", "report", "--diag", path)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.True(t, strings.HasPrefix(r.stdout, "{1: "), r.stdout)
	assert.Contains(t, r.stdout, "}, {1: ")
}

func TestReportReadsRunReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.cbor")
	r := execute(t, "", "run", "--report", path, "-c", "40 + 2")
	require.Equal(t, exitOK, r.code, r.stderr)

	r = execute(t, "", "report", path)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.True(t, strings.HasPrefix(r.stdout, "<code>: ok 42 ("), r.stdout)

	r = execute(t, "", "report", filepath.Join(t.TempDir(), "missing.cbor"))
	assert.Equal(t, exitUsage, r.code)
}

func TestProfileShow(t *testing.T) {
	r := execute(t, "", "profile", "show", "--preset", "moderate", "--max-memory", "64MiB")
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "preset: moderate")
	assert.Contains(t, r.stdout, "max_memory: 64 MiB")

	r = execute(t, "", "profile", "show", "--effective")
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "# source: default")
	assert.Contains(t, r.stdout, "max_instructions: 1000000")
	assert.Contains(t, r.stdout, "- os")
}

func TestProfileCheck(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.yaml", "preset: moderate\n")
	bad := writeFile(t, dir, "bad.jsonc", `{"preset": "paranoid"}`)

	r := execute(t, "", "profile", "check", good)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "good.yaml: ok")

	r = execute(t, "", "profile", "check", good, bad)
	assert.Equal(t, exitDiagnostics, r.code)
	assert.Contains(t, r.stderr, "unknown sandbox preset")
}

func TestEvalLineKeepsState(t *testing.T) {
	script := runtime.New().NewScript("<repl>")
	var stdout, stderr bytes.Buffer
	ctx := context.Background()
	evalLine(ctx, &stdout, &stderr, script, "let n = 2")
	evalLine(ctx, &stdout, &stderr, script, "n * 21")
	evalLine(ctx, &stdout, &stderr, script, "let = ")
	evalLine(ctx, &stdout, &stderr, script, "n + 1")
	assert.Equal(t, "42\n3\n", stdout.String())
	assert.Contains(t, stderr.String(), "error[E_PARSE]")
}
