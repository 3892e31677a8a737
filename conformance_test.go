package sandscript_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/sandscript/internal/testutil"
	"github.com/thomasrohde/sandscript/pkg/diagnostics"
	"github.com/thomasrohde/sandscript/pkg/evaluator"
	"github.com/thomasrohde/sandscript/pkg/runtime"
	"github.com/thomasrohde/sandscript/pkg/sandbox"
)

func TestConformance(t *testing.T) {
	dirs, err := testutil.ListScenarios(testutil.ScenariosDir)
	require.NoError(t, err)
	require.NotEmpty(t, dirs)

	for _, dir := range dirs {
		t.Run(filepath.Base(dir), func(t *testing.T) {
			scenario, err := testutil.LoadScenario(dir)
			require.NoError(t, err)
			source, filename, err := testutil.ReadProgramFile(dir, scenario.Cmd)
			require.NoError(t, err)

			switch scenario.Cmd[0] {
			case "check":
				runCheckScenario(t, source, filename, scenario)
			case "run":
				runRunScenario(t, dir, source, filename, scenario)
			default:
				t.Skipf("unsupported command: %s", scenario.Cmd[0])
			}
		})
	}
}

func runCheckScenario(t *testing.T, source, filename string, scenario *testutil.Scenario) {
	t.Helper()
	opts, err := scenario.Profile().Options()
	require.NoError(t, err)
	diags := runtime.New(runtime.WithSandbox(opts)).Check(source, filename)
	if len(diags) > 0 {
		checkDiagExpectations(t, diags, scenario, 2)
		return
	}
	assert.Equal(t, scenario.Expect.ExitCode, 0, "exit code")
	if scenario.Expect.StdoutJSON != nil {
		assert.Equal(t, normalizeJSON(t, scenario.Expect.StdoutJSON), "[]")
	}
}

func runRunScenario(t *testing.T, dir, source, filename string, scenario *testutil.Scenario) {
	t.Helper()
	opts, err := scenario.Profile().Options()
	require.NoError(t, err)

	var stdout bytes.Buffer
	rt := runtime.New(
		runtime.WithSandbox(opts),
		runtime.WithOutput(&stdout),
		runtime.WithLoader(os.DirFS(dir)),
		runtime.WithAllocationTracking(),
	)
	script := rt.NewScript(filename)
	res, runErr := script.Run(context.Background(), source)
	checkReportExpectations(t, runtime.NewReport(script, res, runErr), scenario)

	if runErr != nil {
		var de *runtime.DiagnosticError
		if errors.As(runErr, &de) {
			checkDiagExpectations(t, de.Diagnostics, scenario, 2)
			return
		}
		diag := runtime.Diagnostic(runErr, res.FaultSpan)
		checkDiagExpectations(t, []diagnostics.Diagnostic{diag}, scenario, exitCodeFor(runErr))
		return
	}

	assert.Equal(t, scenario.Expect.ExitCode, 0, "exit code")
	if scenario.Expect.StdoutText != "" {
		assert.Equal(t, scenario.Expect.StdoutText, stdout.String())
	}
	if scenario.Expect.StdoutJSON != nil {
		actualJSON, err := evaluator.ValueToJSON(res.Value)
		require.NoError(t, err)
		assert.Equal(t, normalizeJSON(t, scenario.Expect.StdoutJSON), normalizeJSON(t, actualJSON))
	}
}

func exitCodeFor(err error) int {
	if errors.Is(err, sandbox.ErrViolation) {
		return 3
	}
	return 4
}

func checkDiagExpectations(t *testing.T, diags []diagnostics.Diagnostic, scenario *testutil.Scenario, exitCode int) {
	t.Helper()
	assert.Equal(t, scenario.Expect.ExitCode, exitCode, "exit code (diagnostics: %v)", diags)

	stderrOutput := diagnostics.FormatDiagnostics(diags, scenario.Pretty())
	if scenario.Expect.StderrContains != "" {
		assert.Contains(t, stderrOutput, scenario.Expect.StderrContains)
	}
	if scenario.Expect.StderrJSONSubset != nil {
		var expectedSubset []map[string]any
		require.NoError(t, json.Unmarshal(scenario.Expect.StderrJSONSubset, &expectedSubset))

		diagsJSON, err := json.Marshal(diags)
		require.NoError(t, err)
		var actualDiags []any
		require.NoError(t, json.Unmarshal(diagsJSON, &actualDiags))

		for _, expected := range expectedSubset {
			found := false
			for _, actual := range actualDiags {
				if isSubset(expected, actual) {
					found = true
					break
				}
			}
			assert.True(t, found, "stderr JSON subset not found: %v in %s", expected, diagsJSON)
		}
	}
}

func checkReportExpectations(t *testing.T, report *runtime.Report, scenario *testutil.Scenario) {
	t.Helper()
	if scenario.Expect.ReportJSONSubset == nil {
		return
	}
	var expected any
	require.NoError(t, json.Unmarshal(scenario.Expect.ReportJSONSubset, &expected))
	data, err := report.EncodeJSON()
	require.NoError(t, err)
	var actual any
	require.NoError(t, json.Unmarshal(data, &actual))
	assert.True(t, isSubset(expected, actual), "report mismatch:\n  expected subset: %v\n  got: %s", expected, data)
}

func normalizeJSON(t *testing.T, raw []byte) string {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal(raw, &v), "raw: %s", raw)
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

// isSubset checks if expected is a subset of actual (for JSON comparison).
func isSubset(expected, actual any) bool {
	switch e := expected.(type) {
	case map[string]any:
		a, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, ev := range e {
			av, exists := a[k]
			if !exists || !isSubset(ev, av) {
				return false
			}
		}
		return true

	case []any:
		a, ok := actual.([]any)
		if !ok || len(e) > len(a) {
			return false
		}
		for i, ev := range e {
			if !isSubset(ev, a[i]) {
				return false
			}
		}
		return true

	case float64:
		af, ok := actual.(float64)
		return ok && e == af

	case string:
		as, ok := actual.(string)
		return ok && e == as

	case bool:
		ab, ok := actual.(bool)
		return ok && e == ab

	case nil:
		return actual == nil

	default:
		return fmt.Sprintf("%v", expected) == fmt.Sprintf("%v", actual)
	}
}
