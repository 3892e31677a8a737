package stdlib

import (
	"math"

	"github.com/thomasrohde/sandscript/pkg/diagnostics"
	"github.com/thomasrohde/sandscript/pkg/evaluator"
)

func typeErr(fn, format string, args ...any) error {
	return evaluator.Errorf(diagnostics.EType, fn+": "+format, args...)
}

func arg(args []evaluator.Value, i int) evaluator.Value {
	if i < len(args) && args[i] != nil {
		return args[i]
	}
	return evaluator.NewNull()
}

func argString(fn string, args []evaluator.Value, i int) (string, error) {
	s, ok := arg(args, i).(evaluator.String)
	if !ok {
		return "", typeErr(fn, "argument %d must be a string, got %s", i+1, evaluator.TypeName(arg(args, i)))
	}
	return s.Value, nil
}

func argNumber(fn string, args []evaluator.Value, i int) (float64, error) {
	n, ok := arg(args, i).(evaluator.Number)
	if !ok {
		return 0, typeErr(fn, "argument %d must be a number, got %s", i+1, evaluator.TypeName(arg(args, i)))
	}
	return n.Value, nil
}

func argInt(fn string, args []evaluator.Value, i int) (int, error) {
	n, err := argNumber(fn, args, i)
	if err != nil {
		return 0, err
	}
	if n != math.Trunc(n) || math.Abs(n) > math.MaxInt32 {
		return 0, typeErr(fn, "argument %d must be an integer", i+1)
	}
	return int(n), nil
}

func argList(fn string, args []evaluator.Value, i int) (*evaluator.List, error) {
	l, ok := arg(args, i).(*evaluator.List)
	if !ok {
		return nil, typeErr(fn, "argument %d must be a list, got %s", i+1, evaluator.TypeName(arg(args, i)))
	}
	return l, nil
}

func argRecord(fn string, args []evaluator.Value, i int) (*evaluator.Record, error) {
	r, ok := arg(args, i).(*evaluator.Record)
	if !ok {
		return nil, typeErr(fn, "argument %d must be a record, got %s", i+1, evaluator.TypeName(arg(args, i)))
	}
	return r, nil
}

// optRecord returns the record at i, or an empty one when the argument is
// absent or null.
func optRecord(fn string, args []evaluator.Value, i int) (*evaluator.Record, error) {
	if _, isNull := arg(args, i).(evaluator.Null); isNull {
		return evaluator.NewRecord(nil), nil
	}
	return argRecord(fn, args, i)
}

func argFunc(fn string, args []evaluator.Value, i int) (evaluator.Value, error) {
	switch v := arg(args, i).(type) {
	case *evaluator.Closure, *evaluator.Builtin:
		return v, nil
	}
	return nil, typeErr(fn, "argument %d must be a function, got %s", i+1, evaluator.TypeName(arg(args, i)))
}

func recordString(r *evaluator.Record, key, def string) string {
	if v, ok := r.Get(key); ok {
		if s, ok := v.(evaluator.String); ok {
			return s.Value
		}
	}
	return def
}

func recordNumber(r *evaluator.Record, key string, def float64) float64 {
	if v, ok := r.Get(key); ok {
		if n, ok := v.(evaluator.Number); ok {
			return n.Value
		}
	}
	return def
}

func num(n int) evaluator.Value {
	return evaluator.NewNumber(float64(n))
}
