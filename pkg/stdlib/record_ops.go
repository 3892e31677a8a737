package stdlib

import (
	"github.com/thomasrohde/sandscript/pkg/evaluator"
)

func recordModule() *evaluator.Module {
	return evaluator.NewModule("record", map[string]evaluator.NativeFunc{
		"keys":    recordKeys,
		"values":  recordValues,
		"entries": recordEntries,
		"merge":   recordMerge,
		"has":     recordHas,
		"get":     recordGet,
		"remove":  recordRemove,
	})
}

// record.keys(r) → list of strings
func recordKeys(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	rec, err := argRecord("record.keys", args, 0)
	if err != nil {
		return nil, err
	}
	items := make([]evaluator.Value, len(rec.Pairs))
	for i, kv := range rec.Pairs {
		items[i] = evaluator.NewString(kv.Key)
	}
	return t.MakeList(items)
}

// record.values(r) → list
func recordValues(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	rec, err := argRecord("record.values", args, 0)
	if err != nil {
		return nil, err
	}
	items := make([]evaluator.Value, len(rec.Pairs))
	for i, kv := range rec.Pairs {
		items[i] = kv.Value
	}
	return t.MakeList(items)
}

// record.entries(r) → list of { key, value } records
func recordEntries(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	rec, err := argRecord("record.entries", args, 0)
	if err != nil {
		return nil, err
	}
	items := make([]evaluator.Value, len(rec.Pairs))
	for i, kv := range rec.Pairs {
		entry, err := t.MakeRecord([]evaluator.KeyValue{
			{Key: "key", Value: evaluator.NewString(kv.Key)},
			{Key: "value", Value: kv.Value},
		})
		if err != nil {
			return nil, err
		}
		items[i] = entry
	}
	return t.MakeList(items)
}

// record.merge(a, b) → new record (b wins on conflicts)
func recordMerge(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	a, err := argRecord("record.merge", args, 0)
	if err != nil {
		return nil, err
	}
	b, err := argRecord("record.merge", args, 1)
	if err != nil {
		return nil, err
	}

	result := evaluator.NewRecord(append([]evaluator.KeyValue(nil), a.Pairs...))
	for _, kv := range b.Pairs {
		result.Set(kv.Key, kv.Value)
	}
	if err := t.Allocate(evaluator.CostRecord + int64(len(result.Pairs))*evaluator.CostEntry); err != nil {
		return nil, err
	}
	return result, nil
}

// record.has(r, key) → bool
func recordHas(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	rec, err := argRecord("record.has", args, 0)
	if err != nil {
		return nil, err
	}
	key, err := argString("record.has", args, 1)
	if err != nil {
		return nil, err
	}
	_, ok := rec.Get(key)
	return evaluator.NewBool(ok), nil
}

// record.get(r, key, default?) → value or default
func recordGet(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	rec, err := argRecord("record.get", args, 0)
	if err != nil {
		return nil, err
	}
	key, err := argString("record.get", args, 1)
	if err != nil {
		return nil, err
	}
	if v, ok := rec.Get(key); ok {
		return v, nil
	}
	return arg(args, 2), nil
}

// record.remove(r, key) → removed value or null, shrinking r in place
func recordRemove(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	rec, err := argRecord("record.remove", args, 0)
	if err != nil {
		return nil, err
	}
	key, err := argString("record.remove", args, 1)
	if err != nil {
		return nil, err
	}
	v, ok := rec.Get(key)
	if !ok {
		return evaluator.NewNull(), nil
	}
	rec.Delete(key)
	if err := t.Free(evaluator.CostEntry); err != nil {
		return nil, err
	}
	return v, nil
}
