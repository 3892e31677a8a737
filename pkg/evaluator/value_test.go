package evaluator_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/sandscript/pkg/evaluator"
)

func TestTruthy(t *testing.T) {
	falsy := []evaluator.Value{
		evaluator.NewNull(), evaluator.NewBool(false), evaluator.NewNumber(0), evaluator.NewString(""),
	}
	for _, v := range falsy {
		assert.False(t, evaluator.Truthy(v), "%s should be falsy", evaluator.ToString(v))
	}
	truthy := []evaluator.Value{
		evaluator.NewBool(true), evaluator.NewNumber(-1), evaluator.NewString("0"),
		evaluator.NewList(nil), evaluator.NewRecord(nil),
	}
	for _, v := range truthy {
		assert.True(t, evaluator.Truthy(v), "%s should be truthy", evaluator.ToString(v))
	}
}

func TestEqual(t *testing.T) {
	a := evaluator.NewList([]evaluator.Value{evaluator.NewNumber(1), evaluator.NewString("x")})
	b := evaluator.NewList([]evaluator.Value{evaluator.NewNumber(1), evaluator.NewString("x")})
	assert.True(t, evaluator.Equal(a, b))

	r1 := evaluator.NewRecord([]evaluator.KeyValue{{Key: "a", Value: evaluator.NewNumber(1)}, {Key: "b", Value: evaluator.NewNull()}})
	r2 := evaluator.NewRecord([]evaluator.KeyValue{{Key: "b", Value: evaluator.NewNull()}, {Key: "a", Value: evaluator.NewNumber(1)}})
	assert.True(t, evaluator.Equal(r1, r2))

	assert.False(t, evaluator.Equal(evaluator.NewNumber(1), evaluator.NewString("1")))
	assert.False(t, evaluator.Equal(evaluator.NewNumber(math.NaN()), evaluator.NewNumber(math.NaN())))

	f := &evaluator.Builtin{Name: "f"}
	assert.True(t, evaluator.Equal(f, f))
	assert.False(t, evaluator.Equal(f, &evaluator.Builtin{Name: "f"}))
}

func TestRecordOrderAndMutation(t *testing.T) {
	r := evaluator.NewRecord(nil)
	assert.True(t, r.Set("z", evaluator.NewNumber(1)))
	assert.True(t, r.Set("a", evaluator.NewNumber(2)))
	assert.False(t, r.Set("z", evaluator.NewNumber(3)))
	assert.Equal(t, []string{"z", "a"}, r.Keys())

	v, ok := r.Get("z")
	require.True(t, ok)
	assert.Equal(t, evaluator.NewNumber(3), v)

	assert.True(t, r.Delete("z"))
	assert.False(t, r.Delete("z"))
	assert.Equal(t, []string{"a"}, r.Keys())
	v, ok = r.Get("a")
	require.True(t, ok)
	assert.Equal(t, evaluator.NewNumber(2), v)
}

func TestToString(t *testing.T) {
	nested := evaluator.NewRecord([]evaluator.KeyValue{
		{Key: "name", Value: evaluator.NewString("a\"b")},
		{Key: "items", Value: evaluator.NewList([]evaluator.Value{evaluator.NewNumber(1.5), evaluator.NewNull()})},
		{Key: "empty", Value: evaluator.NewRecord(nil)},
	})
	assert.Equal(t, `{ name: "a\"b", items: [1.5, null], empty: {} }`, evaluator.ToString(nested))
	assert.Equal(t, "plain", evaluator.ToString(evaluator.NewString("plain")))
	assert.Equal(t, "<builtin print>", evaluator.ToString(&evaluator.Builtin{Name: "print"}))
}

func TestToStringCyclic(t *testing.T) {
	l := evaluator.NewList(nil)
	l.Items = append(l.Items, l)
	assert.Contains(t, evaluator.ToString(l), "...")
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "boolean", evaluator.TypeName(evaluator.NewBool(true)))
	assert.Equal(t, "list", evaluator.TypeName(evaluator.NewList(nil)))
	assert.Equal(t, "function", evaluator.TypeName(&evaluator.Builtin{}))
	assert.Equal(t, "module", evaluator.TypeName(evaluator.NewModule("m", nil)))
}

func TestNewModuleQualifiesNames(t *testing.T) {
	noop := func(*evaluator.Thread, []evaluator.Value) (evaluator.Value, error) { return nil, nil }
	m := evaluator.NewModule("text", map[string]evaluator.NativeFunc{"b": noop, "a": noop})
	assert.Equal(t, []string{"a", "b"}, m.Names())
	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, "text.a", v.(*evaluator.Builtin).Name)
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "42", evaluator.FormatNumber(42))
	assert.Equal(t, "-3", evaluator.FormatNumber(-3))
	assert.Equal(t, "0.1", evaluator.FormatNumber(0.1))
	assert.Equal(t, "1e+20", evaluator.FormatNumber(1e20))
}

func TestValueToJSON(t *testing.T) {
	rec := evaluator.NewRecord([]evaluator.KeyValue{
		{Key: "z", Value: evaluator.NewNumber(2)},
		{Key: "a", Value: evaluator.NewList([]evaluator.Value{evaluator.NewNumber(0.5), evaluator.NewBool(false)})},
	})
	data, err := evaluator.ValueToJSON(rec)
	require.NoError(t, err)
	assert.Equal(t, `{"z":2,"a":[0.5,false]}`, string(data))

	_, err = evaluator.ValueToJSON(evaluator.NewNumber(math.Inf(1)))
	require.ErrorIs(t, err, evaluator.ErrNotSerializable)
	_, err = evaluator.ValueToJSON(&evaluator.Builtin{Name: "f"})
	require.ErrorIs(t, err, evaluator.ErrNotSerializable)
	assert.Equal(t, "null", evaluator.ValueToJSONString(&evaluator.Builtin{Name: "f"}))
}

func TestEnv(t *testing.T) {
	root := evaluator.NewEnv(nil)
	root.Define("x", evaluator.NewNumber(1))
	child := root.Child()
	child.Define("y", evaluator.NewNumber(2))

	v, ok := child.Get("x")
	require.True(t, ok)
	assert.Equal(t, evaluator.NewNumber(1), v)

	assert.True(t, child.Assign("x", evaluator.NewNumber(5)))
	v, _ = root.Get("x")
	assert.Equal(t, evaluator.NewNumber(5), v)

	assert.False(t, child.Assign("missing", evaluator.NewNull()))
	assert.False(t, root.Has("y"))
	assert.True(t, child.Has("y"))
}
