package stdlib

import (
	"strings"
	"unicode/utf8"

	"github.com/thomasrohde/sandscript/pkg/evaluator"
)

func stringModule() *evaluator.Module {
	return evaluator.NewModule("string", map[string]evaluator.NativeFunc{
		"upper":    stringUpper,
		"lower":    stringLower,
		"trim":     stringTrim,
		"len":      stringLen,
		"sub":      stringSub,
		"split":    stringSplit,
		"find":     stringFind,
		"contains": stringContains,
		"starts":   stringStarts,
		"ends":     stringEnds,
		"replace":  stringReplace,
		"rep":      stringRep,
		"chars":    stringChars,
		"format":   stringFormat,
	})
}

// string.upper(s) → string
func stringUpper(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	s, err := argString("string.upper", args, 0)
	if err != nil {
		return nil, err
	}
	return t.MakeString(strings.ToUpper(s))
}

// string.lower(s) → string
func stringLower(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	s, err := argString("string.lower", args, 0)
	if err != nil {
		return nil, err
	}
	return t.MakeString(strings.ToLower(s))
}

// string.trim(s) → string
func stringTrim(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	s, err := argString("string.trim", args, 0)
	if err != nil {
		return nil, err
	}
	return evaluator.NewString(strings.TrimSpace(s)), nil
}

// string.len(s) → number of characters
func stringLen(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	s, err := argString("string.len", args, 0)
	if err != nil {
		return nil, err
	}
	return num(utf8.RuneCountInString(s)), nil
}

// string.sub(s, start, end?) → characters [start, end), clamped
func stringSub(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	s, err := argString("string.sub", args, 0)
	if err != nil {
		return nil, err
	}
	runes := []rune(s)
	start, err := argInt("string.sub", args, 1)
	if err != nil {
		return nil, err
	}
	end := len(runes)
	if len(args) > 2 {
		if end, err = argInt("string.sub", args, 2); err != nil {
			return nil, err
		}
	}
	start, end = clampRange(start, end, len(runes))
	return evaluator.NewString(string(runes[start:end])), nil
}

// clampRange maps [start, end) onto [0, n]. Negative indexes count from the
// end.
func clampRange(start, end, n int) (int, int) {
	if start < 0 {
		start += n
	}
	if end < 0 {
		end += n
	}
	start = max(0, min(start, n))
	end = max(start, min(end, n))
	return start, end
}

// string.split(s, sep) → list
func stringSplit(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	s, err := argString("string.split", args, 0)
	if err != nil {
		return nil, err
	}
	sep, err := argString("string.split", args, 1)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(s, sep)
	items := make([]evaluator.Value, len(parts))
	for i, p := range parts {
		items[i] = evaluator.NewString(p)
	}
	return t.MakeList(items)
}

// string.find(s, sub) → character index or -1
func stringFind(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	s, err := argString("string.find", args, 0)
	if err != nil {
		return nil, err
	}
	sub, err := argString("string.find", args, 1)
	if err != nil {
		return nil, err
	}
	i := strings.Index(s, sub)
	if i < 0 {
		return num(-1), nil
	}
	return num(utf8.RuneCountInString(s[:i])), nil
}

// string.contains(s, sub) → bool
func stringContains(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	s, err := argString("string.contains", args, 0)
	if err != nil {
		return nil, err
	}
	sub, err := argString("string.contains", args, 1)
	if err != nil {
		return nil, err
	}
	return evaluator.NewBool(strings.Contains(s, sub)), nil
}

// string.starts(s, prefix) → bool
func stringStarts(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	s, err := argString("string.starts", args, 0)
	if err != nil {
		return nil, err
	}
	prefix, err := argString("string.starts", args, 1)
	if err != nil {
		return nil, err
	}
	return evaluator.NewBool(strings.HasPrefix(s, prefix)), nil
}

// string.ends(s, suffix) → bool
func stringEnds(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	s, err := argString("string.ends", args, 0)
	if err != nil {
		return nil, err
	}
	suffix, err := argString("string.ends", args, 1)
	if err != nil {
		return nil, err
	}
	return evaluator.NewBool(strings.HasSuffix(s, suffix)), nil
}

// string.replace(s, old, new) → string with every occurrence replaced
func stringReplace(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	s, err := argString("string.replace", args, 0)
	if err != nil {
		return nil, err
	}
	old, err := argString("string.replace", args, 1)
	if err != nil {
		return nil, err
	}
	repl, err := argString("string.replace", args, 2)
	if err != nil {
		return nil, err
	}
	return t.MakeString(strings.ReplaceAll(s, old, repl))
}

// string.rep(s, n) → s repeated n times
//
// The result is charged to the memory budget before it is built.
func stringRep(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	s, err := argString("string.rep", args, 0)
	if err != nil {
		return nil, err
	}
	n, err := argInt("string.rep", args, 1)
	if err != nil {
		return nil, err
	}
	if n <= 0 || s == "" {
		return evaluator.NewString(""), nil
	}
	if err := t.Allocate(int64(len(s)) * int64(n)); err != nil {
		return nil, err
	}
	return evaluator.NewString(strings.Repeat(s, n)), nil
}

// string.chars(s) → list of single-character strings
func stringChars(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	s, err := argString("string.chars", args, 0)
	if err != nil {
		return nil, err
	}
	items := make([]evaluator.Value, 0, len(s))
	for _, r := range s {
		items = append(items, evaluator.NewString(string(r)))
	}
	return t.MakeList(items)
}

// string.format(template, ...) → template with each "{}" replaced by the
// next argument
func stringFormat(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	tmpl, err := argString("string.format", args, 0)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	next := 1
	for {
		i := strings.Index(tmpl, "{}")
		if i < 0 {
			sb.WriteString(tmpl)
			break
		}
		sb.WriteString(tmpl[:i])
		sb.WriteString(evaluator.ToString(arg(args, next)))
		next++
		tmpl = tmpl[i+2:]
	}
	return t.MakeString(sb.String())
}
