package stdlib

import (
	"sort"
	"strings"

	"github.com/thomasrohde/sandscript/pkg/evaluator"
)

func listModule() *evaluator.Module {
	return evaluator.NewModule("list", map[string]evaluator.NativeFunc{
		"push":     listPush,
		"pop":      listPop,
		"insert":   listInsert,
		"remove":   listRemove,
		"slice":    listSlice,
		"concat":   listConcat,
		"map":      listMap,
		"filter":   listFilter,
		"reduce":   listReduce,
		"find":     listFind,
		"sort":     listSort,
		"reverse":  listReverse,
		"contains": listContains,
		"index":    listIndex,
		"join":     listJoin,
		"unique":   listUnique,
		"flat":     listFlat,
	})
}

// list.push(l, v, ...) → l, growing it in place
func listPush(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	l, err := argList("list.push", args, 0)
	if err != nil {
		return nil, err
	}
	vals := args[1:]
	if err := t.Allocate(int64(len(vals)) * evaluator.CostValue); err != nil {
		return nil, err
	}
	l.Items = append(l.Items, vals...)
	return l, nil
}

// list.pop(l) → last item or null, shrinking l in place
func listPop(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	l, err := argList("list.pop", args, 0)
	if err != nil {
		return nil, err
	}
	if len(l.Items) == 0 {
		return evaluator.NewNull(), nil
	}
	last := l.Items[len(l.Items)-1]
	l.Items = l.Items[:len(l.Items)-1]
	if err := t.Free(evaluator.CostValue); err != nil {
		return nil, err
	}
	return last, nil
}

// list.insert(l, i, v) → l with v inserted before index i
func listInsert(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	l, err := argList("list.insert", args, 0)
	if err != nil {
		return nil, err
	}
	i, err := argInt("list.insert", args, 1)
	if err != nil {
		return nil, err
	}
	if i < 0 || i > len(l.Items) {
		return nil, typeErr("list.insert", "index %d out of range (length %d)", i, len(l.Items))
	}
	if err := t.Allocate(evaluator.CostValue); err != nil {
		return nil, err
	}
	l.Items = append(l.Items, nil)
	copy(l.Items[i+1:], l.Items[i:])
	l.Items[i] = arg(args, 2)
	return l, nil
}

// list.remove(l, i) → removed item, shrinking l in place
func listRemove(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	l, err := argList("list.remove", args, 0)
	if err != nil {
		return nil, err
	}
	i, err := argInt("list.remove", args, 1)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(l.Items) {
		return nil, typeErr("list.remove", "index %d out of range (length %d)", i, len(l.Items))
	}
	removed := l.Items[i]
	l.Items = append(l.Items[:i], l.Items[i+1:]...)
	if err := t.Free(evaluator.CostValue); err != nil {
		return nil, err
	}
	return removed, nil
}

// list.slice(l, start, end?) → new list of items [start, end)
func listSlice(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	l, err := argList("list.slice", args, 0)
	if err != nil {
		return nil, err
	}
	start, err := argInt("list.slice", args, 1)
	if err != nil {
		return nil, err
	}
	end := len(l.Items)
	if len(args) > 2 {
		if end, err = argInt("list.slice", args, 2); err != nil {
			return nil, err
		}
	}
	start, end = clampRange(start, end, len(l.Items))
	return t.MakeList(append([]evaluator.Value(nil), l.Items[start:end]...))
}

// list.concat(a, b) → new list
func listConcat(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	a, err := argList("list.concat", args, 0)
	if err != nil {
		return nil, err
	}
	b, err := argList("list.concat", args, 1)
	if err != nil {
		return nil, err
	}
	items := make([]evaluator.Value, 0, len(a.Items)+len(b.Items))
	items = append(items, a.Items...)
	items = append(items, b.Items...)
	return t.MakeList(items)
}

// list.map(l, fn(item, index)) → new list
func listMap(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	l, err := argList("list.map", args, 0)
	if err != nil {
		return nil, err
	}
	fn, err := argFunc("list.map", args, 1)
	if err != nil {
		return nil, err
	}
	out := make([]evaluator.Value, 0, len(l.Items))
	for i, item := range l.Items {
		v, err := t.Call(fn, item, num(i))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return t.MakeList(out)
}

// list.filter(l, fn(item, index)) → new list of items fn accepts
func listFilter(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	l, err := argList("list.filter", args, 0)
	if err != nil {
		return nil, err
	}
	fn, err := argFunc("list.filter", args, 1)
	if err != nil {
		return nil, err
	}
	var out []evaluator.Value
	for i, item := range l.Items {
		keep, err := t.Call(fn, item, num(i))
		if err != nil {
			return nil, err
		}
		if evaluator.Truthy(keep) {
			out = append(out, item)
		}
	}
	return t.MakeList(out)
}

// list.reduce(l, fn(acc, item, index), init) → acc
func listReduce(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	l, err := argList("list.reduce", args, 0)
	if err != nil {
		return nil, err
	}
	fn, err := argFunc("list.reduce", args, 1)
	if err != nil {
		return nil, err
	}
	acc := arg(args, 2)
	for i, item := range l.Items {
		if acc, err = t.Call(fn, acc, item, num(i)); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// list.find(l, fn(item)) → first accepted item or null
func listFind(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	l, err := argList("list.find", args, 0)
	if err != nil {
		return nil, err
	}
	fn, err := argFunc("list.find", args, 1)
	if err != nil {
		return nil, err
	}
	for _, item := range l.Items {
		ok, err := t.Call(fn, item)
		if err != nil {
			return nil, err
		}
		if evaluator.Truthy(ok) {
			return item, nil
		}
	}
	return evaluator.NewNull(), nil
}

// list.sort(l, less?) → new sorted list. less(a, b) returns true when a
// orders before b.
func listSort(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	l, err := argList("list.sort", args, 0)
	if err != nil {
		return nil, err
	}
	var less evaluator.Value
	if len(args) > 1 {
		if less, err = argFunc("list.sort", args, 1); err != nil {
			return nil, err
		}
	}

	sorted := append([]evaluator.Value(nil), l.Items...)
	var callErr error
	sort.SliceStable(sorted, func(i, j int) bool {
		if callErr != nil {
			return false
		}
		if less == nil {
			return compareValues(sorted[i], sorted[j]) < 0
		}
		v, err := t.Call(less, sorted[i], sorted[j])
		if err != nil {
			callErr = err
			return false
		}
		return evaluator.Truthy(v)
	})
	if callErr != nil {
		return nil, callErr
	}
	return t.MakeList(sorted)
}

func compareValues(a, b evaluator.Value) int {
	aNum, aIsNum := a.(evaluator.Number)
	bNum, bIsNum := b.(evaluator.Number)
	if aIsNum && bIsNum {
		if aNum.Value < bNum.Value {
			return -1
		}
		if aNum.Value > bNum.Value {
			return 1
		}
		return 0
	}

	aStr, aIsStr := a.(evaluator.String)
	bStr, bIsStr := b.(evaluator.String)
	if aIsStr && bIsStr {
		return strings.Compare(aStr.Value, bStr.Value)
	}

	// Mixed types order by their rendering.
	return strings.Compare(evaluator.ToString(a), evaluator.ToString(b))
}

// list.reverse(l) → new list in reverse order
func listReverse(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	l, err := argList("list.reverse", args, 0)
	if err != nil {
		return nil, err
	}
	out := make([]evaluator.Value, len(l.Items))
	for i, item := range l.Items {
		out[len(out)-1-i] = item
	}
	return t.MakeList(out)
}

// list.contains(l, v) → bool, by deep equality
func listContains(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	l, err := argList("list.contains", args, 0)
	if err != nil {
		return nil, err
	}
	return evaluator.NewBool(indexOf(l, arg(args, 1)) >= 0), nil
}

// list.index(l, v) → index of the first equal item or -1
func listIndex(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	l, err := argList("list.index", args, 0)
	if err != nil {
		return nil, err
	}
	return num(indexOf(l, arg(args, 1))), nil
}

func indexOf(l *evaluator.List, v evaluator.Value) int {
	for i, item := range l.Items {
		if evaluator.Equal(item, v) {
			return i
		}
	}
	return -1
}

// list.join(l, sep?) → string
func listJoin(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	l, err := argList("list.join", args, 0)
	if err != nil {
		return nil, err
	}
	sep := ""
	if len(args) > 1 {
		if sep, err = argString("list.join", args, 1); err != nil {
			return nil, err
		}
	}
	parts := make([]string, len(l.Items))
	for i, item := range l.Items {
		parts[i] = evaluator.ToString(item)
	}
	return t.MakeString(strings.Join(parts, sep))
}

// list.unique(l) → new list without duplicates, first occurrence wins
func listUnique(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	l, err := argList("list.unique", args, 0)
	if err != nil {
		return nil, err
	}
	result := evaluator.NewList(nil)
	for _, item := range l.Items {
		if indexOf(result, item) < 0 {
			result.Items = append(result.Items, item)
		}
	}
	return t.MakeList(result.Items)
}

// list.flat(l) → new list with nested lists spliced in one level
func listFlat(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	l, err := argList("list.flat", args, 0)
	if err != nil {
		return nil, err
	}
	var result []evaluator.Value
	for _, item := range l.Items {
		if sub, ok := item.(*evaluator.List); ok {
			result = append(result, sub.Items...)
		} else {
			result = append(result, item)
		}
	}
	return t.MakeList(result)
}
