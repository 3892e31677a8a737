package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/thomasrohde/sandscript/pkg/policy"
	"github.com/thomasrohde/sandscript/pkg/sandbox"
)

// sandboxFlags are the policy flags shared by run, check, repl and batch.
type sandboxFlags struct {
	preset            string
	profile           string
	maxInstructions   int64
	maxDepth          int
	maxMemory         policy.ByteSize
	maxCoroutines     int
	restrictModules   []string
	restrictFunctions []string
	allowModules      []string
	allowFunctions    []string
}

func addSandboxFlags(fs *pflag.FlagSet, f *sandboxFlags) {
	fs.StringVar(&f.preset, "preset", "", "Sandbox preset: unrestricted, moderate, restrictive")
	fs.StringVar(&f.profile, "profile", "", "Sandbox profile file (.yaml or .jsonc)")
	fs.Int64Var(&f.maxInstructions, "max-instructions", 0, "Instruction limit")
	fs.IntVar(&f.maxDepth, "max-depth", 0, "Call stack depth limit")
	fs.Var(&f.maxMemory, "max-memory", "Tracked memory limit, e.g. 64MiB")
	fs.IntVar(&f.maxCoroutines, "max-coroutines", 0, "Live coroutine limit")
	fs.StringSliceVar(&f.restrictModules, "restrict-module", nil, "Deny a module (repeatable)")
	fs.StringSliceVar(&f.restrictFunctions, "restrict-function", nil, "Deny a function, e.g. os.exec (repeatable)")
	fs.StringSliceVar(&f.allowModules, "allow-module", nil, "Lift a module restriction (repeatable)")
	fs.StringSliceVar(&f.allowFunctions, "allow-function", nil, "Lift a function restriction (repeatable)")
}

// resolveProfile loads the base profile and layers the flags over it.
// It returns the profile and the file it came from, empty for the default.
func (f *sandboxFlags) resolveProfile(cmd *cobra.Command) (*policy.Profile, string, error) {
	var (
		p    *policy.Profile
		path string
		err  error
	)
	switch {
	case f.profile != "":
		path = f.profile
		p, err = policy.LoadFile(path)
	case f.preset != "":
		p = &policy.Profile{}
	default:
		var cwd string
		if cwd, err = os.Getwd(); err == nil {
			p, path, err = policy.Load(cwd)
		}
	}
	if err != nil {
		return nil, "", exitWith(exitUsage, err)
	}

	flags := cmd.Flags()
	if f.preset != "" {
		p.Preset = f.preset
	}
	if flags.Changed("max-instructions") {
		p.MaxInstructions = f.maxInstructions
	}
	if flags.Changed("max-depth") {
		p.MaxCallStackDepth = f.maxDepth
	}
	if flags.Changed("max-memory") {
		p.MaxMemory = f.maxMemory
	}
	if flags.Changed("max-coroutines") {
		p.MaxCoroutines = f.maxCoroutines
	}
	p.RestrictModules = append(p.RestrictModules, f.restrictModules...)
	p.RestrictFunctions = append(p.RestrictFunctions, f.restrictFunctions...)
	p.AllowModules = append(p.AllowModules, f.allowModules...)
	p.AllowFunctions = append(p.AllowFunctions, f.allowFunctions...)
	return p, path, nil
}

// options resolves the sandbox options for a command.
func (f *sandboxFlags) options(cmd *cobra.Command) (*sandbox.Options, error) {
	p, _, err := f.resolveProfile(cmd)
	if err != nil {
		return nil, err
	}
	opts, err := p.Options()
	if err != nil {
		return nil, exitWith(exitUsage, fmt.Errorf("sandbox profile: %w", err))
	}
	return opts, nil
}
