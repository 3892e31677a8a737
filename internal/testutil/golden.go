// Package testutil loads the file-driven conformance scenarios.
package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/thomasrohde/sandscript/pkg/policy"
)

// ScenariosDir is the scenarios root, relative to the module root.
const ScenariosDir = "testdata/scenarios"

// Scenario is one conformance case, loaded from a scenario.json file next
// to the script it runs.
type Scenario struct {
	// Cmd is the command and script file: ["run", "main.ss"] or
	// ["check", "main.ss", "--pretty"].
	Cmd []string `json:"cmd"`

	// Sandbox is the profile the script runs under. Nil means the
	// restrictive default.
	Sandbox *policy.Profile `json:"sandbox,omitempty"`

	Meta   *ScenarioMeta  `json:"meta,omitempty"`
	Expect ExpectedResult `json:"expect"`
}

// ScenarioMeta holds optional scenario metadata.
type ScenarioMeta struct {
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ExpectedResult describes the expected outcome of running a scenario.
type ExpectedResult struct {
	ExitCode         int             `json:"exitCode"`
	StdoutJSON       json.RawMessage `json:"stdoutJson,omitempty"`
	StdoutText       string          `json:"stdoutText,omitempty"`
	StderrJSONSubset json.RawMessage `json:"stderrJsonSubset,omitempty"`
	StderrContains   string          `json:"stderrContains,omitempty"`
	ReportJSONSubset json.RawMessage `json:"reportJsonSubset,omitempty"`
}

// Pretty reports whether the scenario asks for human-readable diagnostics.
func (s *Scenario) Pretty() bool {
	for _, arg := range s.Cmd {
		if arg == "--pretty" {
			return true
		}
	}
	return false
}

// Profile returns the sandbox profile, defaulting to restrictive.
func (s *Scenario) Profile() *policy.Profile {
	if s.Sandbox == nil {
		return policy.Default()
	}
	return s.Sandbox
}

// LoadScenario loads a scenario from a directory containing scenario.json.
func LoadScenario(dir string) (*Scenario, error) {
	data, err := os.ReadFile(filepath.Join(dir, "scenario.json"))
	if err != nil {
		return nil, err
	}
	var s Scenario
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	if len(s.Cmd) < 2 {
		return nil, fmt.Errorf("%s: cmd needs a command and a script", dir)
	}
	return &s, nil
}

// ListScenarios returns all scenario directories under the given root.
func ListScenarios(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			scenarioPath := filepath.Join(root, e.Name(), "scenario.json")
			if _, err := os.Stat(scenarioPath); err == nil {
				dirs = append(dirs, filepath.Join(root, e.Name()))
			}
		}
	}
	return dirs, nil
}

// ReadProgramFile reads the script named by the scenario cmd.
func ReadProgramFile(scenarioDir string, cmd []string) (string, string, error) {
	filename := cmd[1]
	source, err := os.ReadFile(filepath.Join(scenarioDir, filename))
	if err != nil {
		return "", "", err
	}
	return string(source), filename, nil
}
