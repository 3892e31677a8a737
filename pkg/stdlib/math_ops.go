package stdlib

import (
	"math"

	"github.com/thomasrohde/sandscript/pkg/evaluator"
)

func mathModule() *evaluator.Module {
	m := evaluator.NewModule("math", map[string]evaluator.NativeFunc{
		"abs":   unaryMath("math.abs", math.Abs),
		"floor": unaryMath("math.floor", math.Floor),
		"ceil":  unaryMath("math.ceil", math.Ceil),
		"round": unaryMath("math.round", math.Round),
		"sqrt":  unaryMath("math.sqrt", math.Sqrt),
		"pow":   mathPow,
		"max":   mathExtreme("math.max", math.Max),
		"min":   mathExtreme("math.min", math.Min),
	})
	m.Members["pi"] = evaluator.NewNumber(math.Pi)
	m.Members["huge"] = evaluator.NewNumber(math.Inf(1))
	return m
}

func unaryMath(name string, f func(float64) float64) evaluator.NativeFunc {
	return func(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
		x, err := argNumber(name, args, 0)
		if err != nil {
			return nil, err
		}
		return evaluator.NewNumber(f(x)), nil
	}
}

// math.pow(x, y) → number
func mathPow(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	x, err := argNumber("math.pow", args, 0)
	if err != nil {
		return nil, err
	}
	y, err := argNumber("math.pow", args, 1)
	if err != nil {
		return nil, err
	}
	return evaluator.NewNumber(math.Pow(x, y)), nil
}

// math.max(a, b, ...) / math.min(a, b, ...) → number. A single list
// argument is spread.
func mathExtreme(name string, pick func(a, b float64) float64) evaluator.NativeFunc {
	return func(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
		if len(args) == 1 {
			if l, ok := args[0].(*evaluator.List); ok {
				args = l.Items
			}
		}
		if len(args) == 0 {
			return nil, typeErr(name, "expects at least one number")
		}
		best, err := argNumber(name, args, 0)
		if err != nil {
			return nil, err
		}
		for i := 1; i < len(args); i++ {
			n, err := argNumber(name, args, i)
			if err != nil {
				return nil, err
			}
			best = pick(best, n)
		}
		return evaluator.NewNumber(best), nil
	}
}
