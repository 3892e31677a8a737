package stdlib

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/thomasrohde/sandscript/pkg/diagnostics"
	"github.com/thomasrohde/sandscript/pkg/evaluator"
)

// maxRange caps the number of items range may produce.
const maxRange = 1_000_000

func registerGlobals(r *Registry) {
	r.Register("print", stdlibPrint)
	r.Register("len", stdlibLen)
	r.Register("type", stdlibType)
	r.Register("tostring", stdlibToString)
	r.Register("tonumber", stdlibToNumber)
	r.Register("assert", stdlibAssert)
	r.Register("error", stdlibError)
	r.Register("pcall", stdlibPcall)
	r.Register("range", stdlibRange)

	// Chunk and module loading. The dangerous subset is what the
	// restrictive sandbox preset denies.
	r.Register("require", stdlibRequire)
	r.Register("load", stdlibLoad)
	r.Register("loadstring", stdlibLoad)
	r.Register("loadfile", stdlibLoadFile)
	r.Register("dofile", stdlibDoFile)
}

// print(...) writes its arguments separated by tabs
func stdlibPrint(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = evaluator.ToString(a)
	}
	if _, err := fmt.Fprintln(t.Output(), strings.Join(parts, "\t")); err != nil {
		return nil, evaluator.Errorf(diagnostics.EIO, "print: %s", err)
	}
	return evaluator.NewNull(), nil
}

// len(v) → length of list, record, or string
func stdlibLen(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	switch v := arg(args, 0).(type) {
	case *evaluator.List:
		return num(len(v.Items)), nil
	case *evaluator.Record:
		return num(len(v.Pairs)), nil
	case evaluator.String:
		return num(utf8.RuneCountInString(v.Value)), nil
	}
	return nil, typeErr("len", "cannot take length of %s", evaluator.TypeName(arg(args, 0)))
}

// type(v) → string
func stdlibType(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	return evaluator.NewString(evaluator.TypeName(arg(args, 0))), nil
}

// tostring(v) → string
func stdlibToString(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	if s, ok := arg(args, 0).(evaluator.String); ok {
		return s, nil
	}
	return t.MakeString(evaluator.ToString(arg(args, 0)))
}

// tonumber(v) → number, or null when v is not numeric
func stdlibToNumber(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	switch v := arg(args, 0).(type) {
	case evaluator.Number:
		return v, nil
	case evaluator.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Value), 64)
		if err != nil || math.IsNaN(f) {
			return evaluator.NewNull(), nil
		}
		return evaluator.NewNumber(f), nil
	}
	return evaluator.NewNull(), nil
}

// assert(cond, msg?) → cond
func stdlibAssert(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	cond := arg(args, 0)
	if evaluator.Truthy(cond) {
		return cond, nil
	}
	msg := "assertion failed"
	if len(args) > 1 {
		msg = evaluator.ToString(args[1])
	}
	return nil, evaluator.Errorf(diagnostics.EAssert, "%s", msg)
}

// error(v) raises v as a script error
func stdlibError(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	v := arg(args, 0)
	return nil, &evaluator.RuntimeError{Code: diagnostics.EError, Message: evaluator.ToString(v), Value: v}
}

// pcall(fn, ...) → { ok: true, value } or { ok: false, error }
//
// Sandbox violations and cancellation are never caught.
func stdlibPcall(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	fn, err := argFunc("pcall", args, 0)
	if err != nil {
		return nil, err
	}
	var rest []evaluator.Value
	if len(args) > 1 {
		rest = args[1:]
	}
	v, callErr := t.Call(fn, rest...)
	if callErr == nil {
		return t.MakeRecord([]evaluator.KeyValue{
			{Key: "ok", Value: evaluator.NewBool(true)},
			{Key: "value", Value: v},
		})
	}
	if evaluator.IsFatal(callErr) {
		return nil, callErr
	}
	var payload evaluator.Value = evaluator.NewString(callErr.Error())
	var rt *evaluator.RuntimeError
	if errors.As(callErr, &rt) && rt.Value != nil {
		payload = rt.Value
	}
	return t.MakeRecord([]evaluator.KeyValue{
		{Key: "ok", Value: evaluator.NewBool(false)},
		{Key: "error", Value: payload},
	})
}

// range(to) | range(from, to) | range(from, to, step) → list of numbers
func stdlibRange(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	from, to, step := 0.0, 0.0, 1.0
	var err error
	switch len(args) {
	case 1:
		to, err = argNumber("range", args, 0)
	case 2, 3:
		if from, err = argNumber("range", args, 0); err != nil {
			return nil, err
		}
		if to, err = argNumber("range", args, 1); err != nil {
			return nil, err
		}
		if len(args) == 3 {
			step, err = argNumber("range", args, 2)
		}
	default:
		return nil, typeErr("range", "expects 1 to 3 arguments, got %d", len(args))
	}
	if err != nil {
		return nil, err
	}
	if step == 0 {
		return nil, typeErr("range", "step must not be zero")
	}

	count := math.Ceil((to - from) / step)
	if count <= 0 || math.IsNaN(count) {
		return t.MakeList(nil)
	}
	if count > maxRange {
		return nil, evaluator.Errorf(diagnostics.ERuntime, "range too large: %.0f items", count)
	}
	items := make([]evaluator.Value, 0, int(count))
	for i := 0; i < int(count); i++ {
		items = append(items, evaluator.NewNumber(from+float64(i)*step))
	}
	return t.MakeList(items)
}

// require(name) → module
func stdlibRequire(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	name, err := argString("require", args, 0)
	if err != nil {
		return nil, err
	}
	return t.Require(name)
}

// load(source, chunkname?) → function
func stdlibLoad(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	src, err := argString("load", args, 0)
	if err != nil {
		return nil, err
	}
	chunk := "=(load)"
	if len(args) > 1 {
		if chunk, err = argString("load", args, 1); err != nil {
			return nil, err
		}
	}
	fn, err := t.Load(src, chunk)
	if err != nil {
		return nil, err
	}
	return fn, nil
}

// loadfile(path) → function
func stdlibLoadFile(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	path, err := argString("loadfile", args, 0)
	if err != nil {
		return nil, err
	}
	fn, err := t.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return fn, nil
}

// dofile(path) → result of running the file
func stdlibDoFile(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	path, err := argString("dofile", args, 0)
	if err != nil {
		return nil, err
	}
	fn, err := t.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return t.Call(fn)
}
