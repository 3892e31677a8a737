package stdlib

import (
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/thomasrohde/sandscript/pkg/diagnostics"
	"github.com/thomasrohde/sandscript/pkg/evaluator"
)

// ioModule exposes the host filesystem. It is one of the modules the
// restrictive preset denies.
func ioModule() *evaluator.Module {
	return evaluator.NewModule("io", map[string]evaluator.NativeFunc{
		"read":   ioRead,
		"write":  ioWrite,
		"list":   ioList,
		"exists": ioExists,
	})
}

func ioErr(fn string, err error) error {
	return evaluator.Errorf(diagnostics.EIO, "%s: %s", fn, err)
}

// io.read(path) → string
func ioRead(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	path, err := argString("io.read", args, 0)
	if err != nil {
		return nil, err
	}
	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, ioErr("io.read", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, ioErr("io.read", err)
	}
	// Charge before reading so an oversized file never reaches memory.
	if err := t.Allocate(evaluator.CostString + info.Size()); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, ioErr("io.read", err)
	}
	return evaluator.NewString(string(data)), nil
}

// io.write(path, data, { format: "raw" | "json" }?) → { kind, path, bytes, blake3 }
//
// Strings are written as-is in raw mode; every other value is written as
// JSON, indented when format is "json".
func ioWrite(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	path, err := argString("io.write", args, 0)
	if err != nil {
		return nil, err
	}
	opts, err := optRecord("io.write", args, 2)
	if err != nil {
		return nil, err
	}
	format := recordString(opts, "format", "raw")

	data := arg(args, 1)
	var content []byte
	if s, ok := data.(evaluator.String); ok && format != "json" {
		content = []byte(s.Value)
	} else {
		indent := 0
		if format == "json" {
			indent = 2
		}
		encoded, err := jsonEncode(t, []evaluator.Value{data, num(indent)})
		if err != nil {
			return nil, err
		}
		content = []byte(encoded.(evaluator.String).Value)
	}

	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, ioErr("io.write", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, ioErr("io.write", err)
	}
	if err := os.WriteFile(resolved, content, 0o644); err != nil {
		return nil, ioErr("io.write", err)
	}

	sum := blake3.Sum256(content)
	t.Logger().Debug("io.write", "path", resolved, "bytes", len(content))
	return t.MakeRecord([]evaluator.KeyValue{
		{Key: "kind", Value: evaluator.NewString("file")},
		{Key: "path", Value: evaluator.NewString(resolved)},
		{Key: "bytes", Value: num(len(content))},
		{Key: "blake3", Value: evaluator.NewString(hex.EncodeToString(sum[:]))},
	})
}

// io.list(path) → list of { name, type }
func ioList(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	path, err := argString("io.list", args, 0)
	if err != nil {
		return nil, err
	}
	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, ioErr("io.list", err)
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, ioErr("io.list", err)
	}

	items := make([]evaluator.Value, len(entries))
	for i, entry := range entries {
		kind := "other"
		if entry.IsDir() {
			kind = "directory"
		} else if entry.Type().IsRegular() {
			kind = "file"
		}
		rec, err := t.MakeRecord([]evaluator.KeyValue{
			{Key: "name", Value: evaluator.NewString(entry.Name())},
			{Key: "type", Value: evaluator.NewString(kind)},
		})
		if err != nil {
			return nil, err
		}
		items[i] = rec
	}
	return t.MakeList(items)
}

// io.exists(path) → bool
func ioExists(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	path, err := argString("io.exists", args, 0)
	if err != nil {
		return nil, err
	}
	resolved, err := filepath.Abs(path)
	if err != nil {
		return evaluator.NewBool(false), nil
	}
	_, err = os.Stat(resolved)
	return evaluator.NewBool(err == nil), nil
}
