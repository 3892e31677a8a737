package stdlib

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/thomasrohde/sandscript/pkg/diagnostics"
	"github.com/thomasrohde/sandscript/pkg/evaluator"
)

const defaultExecTimeout = 30 * time.Second

var processStart = time.Now()

// osModule exposes process and shell access. It is one of the modules the
// restrictive preset denies.
func osModule() *evaluator.Module {
	return evaluator.NewModule("os", map[string]evaluator.NativeFunc{
		"exec":   osExec,
		"getenv": osGetenv,
		"time":   osTime,
		"clock":  osClock,
	})
}

// os.exec(cmd, { cwd, env, timeoutMs }?) → { exitCode, stdout, stderr, durationMs }
func osExec(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	cmdStr, err := argString("os.exec", args, 0)
	if err != nil {
		return nil, err
	}
	opts, err := optRecord("os.exec", args, 1)
	if err != nil {
		return nil, err
	}

	timeout := defaultExecTimeout
	if ms := recordNumber(opts, "timeoutMs", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(t.Context(), timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/c", cmdStr)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", cmdStr)
	}
	cmd.Dir = recordString(opts, "cwd", "")
	cmd.Env = os.Environ()
	if v, ok := opts.Get("env"); ok {
		if env, ok := v.(*evaluator.Record); ok {
			for _, kv := range env.Pairs {
				if s, ok := kv.Value.(evaluator.String); ok {
					cmd.Env = append(cmd.Env, kv.Key+"="+s.Value)
				}
			}
		}
	}

	start := time.Now()
	stdout, err := cmd.Output()
	elapsed := time.Since(start)

	exitCode, stderr := 0, ""
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, evaluator.Errorf(diagnostics.EIO, "os.exec: %s", err)
		}
		exitCode = exitErr.ExitCode()
		stderr = string(exitErr.Stderr)
	}
	t.Logger().Debug("os.exec", "cmd", cmdStr, "exit", exitCode, "elapsed", elapsed)

	if err := t.Allocate(int64(len(stdout) + len(stderr))); err != nil {
		return nil, err
	}
	return t.MakeRecord([]evaluator.KeyValue{
		{Key: "exitCode", Value: num(exitCode)},
		{Key: "stdout", Value: evaluator.NewString(string(stdout))},
		{Key: "stderr", Value: evaluator.NewString(stderr)},
		{Key: "durationMs", Value: evaluator.NewNumber(float64(elapsed.Milliseconds()))},
	})
}

// os.getenv(name) → string or null
func osGetenv(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	name, err := argString("os.getenv", args, 0)
	if err != nil {
		return nil, err
	}
	v, ok := os.LookupEnv(name)
	if !ok {
		return evaluator.NewNull(), nil
	}
	return t.MakeString(v)
}

// os.time() → seconds since the Unix epoch
func osTime(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	return evaluator.NewNumber(float64(time.Now().UnixMilli()) / 1000), nil
}

// os.clock() → seconds since the host process started
func osClock(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	return evaluator.NewNumber(time.Since(processStart).Seconds()), nil
}
