// Package policy loads sandbox profiles: the limits and name restrictions
// a host applies to every script it runs.
package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/thomasrohde/sandscript/pkg/sandbox"
)

// Profile is the on-disk form of a sandbox policy. Limits and restrictions
// are applied on top of Preset; allow lists lift restrictions the preset or
// the restrict lists added.
type Profile struct {
	Preset            string   `yaml:"preset,omitempty" json:"preset,omitempty"`
	MaxInstructions   int64    `yaml:"max_instructions,omitempty" json:"max_instructions,omitempty"`
	MaxCallStackDepth int      `yaml:"max_call_stack_depth,omitempty" json:"max_call_stack_depth,omitempty"`
	MaxMemory         ByteSize `yaml:"max_memory,omitempty" json:"max_memory,omitempty"`
	MaxCoroutines     int      `yaml:"max_coroutines,omitempty" json:"max_coroutines,omitempty"`
	RestrictModules   []string `yaml:"restrict_modules,omitempty" json:"restrict_modules,omitempty"`
	RestrictFunctions []string `yaml:"restrict_functions,omitempty" json:"restrict_functions,omitempty"`
	AllowModules      []string `yaml:"allow_modules,omitempty" json:"allow_modules,omitempty"`
	AllowFunctions    []string `yaml:"allow_functions,omitempty" json:"allow_functions,omitempty"`
}

// Format is a profile file syntax.
type Format string

const (
	FormatYAML  Format = "yaml"
	FormatJSONC Format = "jsonc"
)

var (
	ErrUnknownPreset = errors.New("unknown sandbox preset")
	ErrUnknownFormat = errors.New("unknown profile format")
)

// ProjectFiles are the profile names searched in a project directory, in
// order.
var ProjectFiles = []string{".sandscript.yaml", ".sandscript.jsonc"}

// Default returns the profile used when no file is found.
func Default() *Profile {
	return &Profile{Preset: "restrictive"}
}

// Options builds the sandbox options the profile describes.
func (p *Profile) Options() (*sandbox.Options, error) {
	opts, ok := sandbox.Preset(p.Preset)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownPreset, p.Preset)
	}
	switch {
	case p.MaxInstructions < 0:
		return nil, errors.New("max_instructions must not be negative")
	case p.MaxCallStackDepth < 0:
		return nil, errors.New("max_call_stack_depth must not be negative")
	case p.MaxMemory < 0:
		return nil, errors.New("max_memory must not be negative")
	case p.MaxCoroutines < 0:
		return nil, errors.New("max_coroutines must not be negative")
	}
	if p.MaxInstructions > 0 {
		opts = opts.SetMaxInstructions(p.MaxInstructions)
	}
	if p.MaxCallStackDepth > 0 {
		opts = opts.SetMaxCallStackDepth(p.MaxCallStackDepth)
	}
	if p.MaxMemory > 0 {
		opts = opts.SetMaxMemoryBytes(int64(p.MaxMemory))
	}
	if p.MaxCoroutines > 0 {
		opts = opts.SetMaxCoroutines(p.MaxCoroutines)
	}

	var err error
	if opts, err = opts.RestrictModules(p.RestrictModules...); err != nil {
		return nil, err
	}
	if opts, err = opts.RestrictFunctions(p.RestrictFunctions...); err != nil {
		return nil, err
	}
	for _, name := range p.AllowModules {
		opts = opts.AllowModule(name)
	}
	for _, name := range p.AllowFunctions {
		opts = opts.AllowFunction(name)
	}
	return opts, nil
}

// FromOptions describes opts as a profile with no preset.
func FromOptions(opts *sandbox.Options) *Profile {
	return &Profile{
		Preset:            "unrestricted",
		MaxInstructions:   opts.MaxInstructions(),
		MaxCallStackDepth: opts.MaxCallStackDepth(),
		MaxMemory:         ByteSize(opts.MaxMemoryBytes()),
		MaxCoroutines:     opts.MaxCoroutines(),
		RestrictModules:   opts.RestrictedModules(),
		RestrictFunctions: opts.RestrictedFunctions(),
	}
}

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json", ".jsonc":
		return FormatJSONC, nil
	}
	return "", fmt.Errorf("%w for %s", ErrUnknownFormat, path)
}

// Parse decodes a profile. Unknown keys are errors so typos do not silently
// loosen a sandbox.
func Parse(data []byte, format Format) (*Profile, error) {
	var p Profile
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing YAML profile: %w", err)
		}
	case FormatJSONC:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("parsing JSONC profile: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownFormat, format)
	}
	if _, err := p.Options(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadFile reads a profile, choosing the format from the extension.
func LoadFile(path string) (*Profile, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Load finds the profile for a project.
// Precedence: project (.sandscript.yaml, then .sandscript.jsonc), then user
// (~/.sandscript/profile.yaml), then Default. The returned path is empty
// when the default applies. A profile that exists but does not parse is an
// error rather than a fallback.
func Load(projectDir string) (*Profile, string, error) {
	candidates := make([]string, 0, len(ProjectFiles)+1)
	for _, name := range ProjectFiles {
		candidates = append(candidates, filepath.Join(projectDir, name))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".sandscript", "profile.yaml"))
	}

	for _, path := range candidates {
		p, err := LoadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return p, path, nil
	}
	return Default(), "", nil
}

// Marshal encodes a profile as YAML.
func Marshal(p *Profile) ([]byte, error) {
	return yaml.Marshal(p)
}
