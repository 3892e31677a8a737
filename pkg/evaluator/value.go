// Package evaluator implements the sandscript tree-walking interpreter.
package evaluator

import (
	"sort"
	"strings"

	"github.com/thomasrohde/sandscript/pkg/ast"
)

// Value is the interface for all sandscript runtime values.
// The sealed marker method restricts implementations to this package.
type Value interface {
	value() // sealed marker
}

// Null represents a null value.
type Null struct{}

func (Null) value() {}

// Bool represents a boolean value.
type Bool struct {
	Value bool
}

func (Bool) value() {}

// Number represents a numeric value. All numbers are float64.
type Number struct {
	Value float64
}

func (Number) value() {}

// String represents an immutable string value.
type String struct {
	Value string
}

func (String) value() {}

// List is a mutable ordered list shared by reference.
type List struct {
	Items []Value
}

func (*List) value() {}

// KeyValue is a key-value pair in an ordered record.
type KeyValue struct {
	Key   string
	Value Value
}

// Record is a mutable map of string keys to values shared by reference.
// Insertion order is preserved via the Pairs slice.
type Record struct {
	Pairs []KeyValue
	index map[string]int // lazy index for lookups
}

func (*Record) value() {}

// Closure is a user function together with the scope it was created in.
type Closure struct {
	Fn  *ast.FnExpr
	Env *Env
}

func (*Closure) value() {}

// Name returns the declared function name, or "anonymous".
func (c *Closure) Name() string {
	if c.Fn.Name == "" {
		return "anonymous"
	}
	return c.Fn.Name
}

// NativeFunc is the Go implementation of a built-in function.
type NativeFunc func(t *Thread, args []Value) (Value, error)

// Builtin is a host function callable from scripts.
type Builtin struct {
	Name string
	Fn   NativeFunc
}

func (*Builtin) value() {}

// Module is a named table of built-in members such as string or io.
type Module struct {
	Name    string
	Members map[string]Value
}

func (*Module) value() {}

// NewModule creates a module from native functions. Each function is
// registered under its short name and carries the qualified name
// "module.fn" for diagnostics.
func NewModule(name string, funcs map[string]NativeFunc) *Module {
	m := &Module{Name: name, Members: make(map[string]Value, len(funcs))}
	for fn, impl := range funcs {
		m.Members[fn] = &Builtin{Name: name + "." + fn, Fn: impl}
	}
	return m
}

// Get returns a module member.
func (m *Module) Get(name string) (Value, bool) {
	v, ok := m.Members[name]
	return v, ok
}

// Names returns the member names in sorted order.
func (m *Module) Names() []string {
	names := make([]string, 0, len(m.Members))
	for k := range m.Members {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// NewNull creates a null value.
func NewNull() Value {
	return Null{}
}

// NewBool creates a boolean value.
func NewBool(b bool) Value {
	return Bool{Value: b}
}

// NewNumber creates a numeric value.
func NewNumber(n float64) Value {
	return Number{Value: n}
}

// NewString creates a string value.
func NewString(s string) Value {
	return String{Value: s}
}

// NewList creates a list value.
func NewList(items []Value) *List {
	return &List{Items: items}
}

// NewRecord creates a record value from key-value pairs.
func NewRecord(pairs []KeyValue) *Record {
	r := &Record{Pairs: pairs}
	r.reindex()
	return r
}

func (r *Record) reindex() {
	r.index = make(map[string]int, len(r.Pairs))
	for i, kv := range r.Pairs {
		r.index[kv.Key] = i
	}
}

// Get retrieves a value by key from the record.
func (r *Record) Get(key string) (Value, bool) {
	if r.index == nil {
		r.reindex()
	}
	i, ok := r.index[key]
	if !ok {
		return nil, false
	}
	return r.Pairs[i].Value, true
}

// Set sets a value by key in the record, preserving insertion order.
// It reports whether a new key was added.
func (r *Record) Set(key string, val Value) bool {
	if r.index == nil {
		r.reindex()
	}
	if i, ok := r.index[key]; ok {
		r.Pairs[i].Value = val
		return false
	}
	r.index[key] = len(r.Pairs)
	r.Pairs = append(r.Pairs, KeyValue{Key: key, Value: val})
	return true
}

// Delete removes key and reports whether it was present.
func (r *Record) Delete(key string) bool {
	if r.index == nil {
		r.reindex()
	}
	i, ok := r.index[key]
	if !ok {
		return false
	}
	r.Pairs = append(r.Pairs[:i], r.Pairs[i+1:]...)
	r.reindex()
	return true
}

// Keys returns all keys in insertion order.
func (r *Record) Keys() []string {
	keys := make([]string, len(r.Pairs))
	for i, kv := range r.Pairs {
		keys[i] = kv.Key
	}
	return keys
}

// Truthy returns the boolean interpretation of a value.
// null, false, 0, and "" are falsy; everything else is truthy.
func Truthy(v Value) bool {
	switch val := v.(type) {
	case nil, Null:
		return false
	case Bool:
		return val.Value
	case Number:
		return val.Value != 0
	case String:
		return val.Value != ""
	default:
		return true
	}
}

// TypeName returns the script-visible type name of v.
func TypeName(v Value) string {
	switch v.(type) {
	case nil, Null:
		return "null"
	case Bool:
		return "boolean"
	case Number:
		return "number"
	case String:
		return "string"
	case *List:
		return "list"
	case *Record:
		return "record"
	case *Closure, *Builtin:
		return "function"
	case *Module:
		return "module"
	case *Coroutine:
		return "coroutine"
	default:
		return "unknown"
	}
}

// Equal compares two values. Scalars, lists and records compare
// structurally; functions, modules and coroutines compare by identity.
func Equal(a, b Value) bool {
	if a == nil {
		a = Null{}
	}
	if b == nil {
		b = Null{}
	}

	switch av := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok

	case Bool:
		bv, ok := b.(Bool)
		return ok && av.Value == bv.Value

	case Number:
		bv, ok := b.(Number)
		return ok && av.Value == bv.Value

	case String:
		bv, ok := b.(String)
		return ok && av.Value == bv.Value

	case *List:
		bv, ok := b.(*List)
		if !ok || len(av.Items) != len(bv.Items) {
			return false
		}
		for i := range av.Items {
			if !Equal(av.Items[i], bv.Items[i]) {
				return false
			}
		}
		return true

	case *Record:
		bv, ok := b.(*Record)
		if !ok || len(av.Pairs) != len(bv.Pairs) {
			return false
		}
		for _, kv := range av.Pairs {
			bVal, found := bv.Get(kv.Key)
			if !found || !Equal(kv.Value, bVal) {
				return false
			}
		}
		return true
	}

	return a == b
}

// ToString renders v the way print and tostring show it.
func ToString(v Value) string {
	var sb strings.Builder
	writeValue(&sb, v, false, 0)
	return sb.String()
}

const maxRenderDepth = 32

func writeValue(sb *strings.Builder, v Value, quote bool, depth int) {
	if depth > maxRenderDepth {
		sb.WriteString("...")
		return
	}
	switch val := v.(type) {
	case nil, Null:
		sb.WriteString("null")
	case Bool:
		if val.Value {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case Number:
		sb.WriteString(FormatNumber(val.Value))
	case String:
		if quote {
			sb.WriteString(QuoteString(val.Value))
		} else {
			sb.WriteString(val.Value)
		}
	case *List:
		sb.WriteByte('[')
		for i, item := range val.Items {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeValue(sb, item, true, depth+1)
		}
		sb.WriteByte(']')
	case *Record:
		if len(val.Pairs) == 0 {
			sb.WriteString("{}")
			return
		}
		sb.WriteString("{ ")
		for i, kv := range val.Pairs {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(kv.Key)
			sb.WriteString(": ")
			writeValue(sb, kv.Value, true, depth+1)
		}
		sb.WriteString(" }")
	case *Closure:
		sb.WriteString("<fn " + val.Name() + ">")
	case *Builtin:
		sb.WriteString("<builtin " + val.Name + ">")
	case *Module:
		sb.WriteString("<module " + val.Name + ">")
	case *Coroutine:
		sb.WriteString("<coroutine " + val.Status().String() + ">")
	default:
		sb.WriteString("<unknown>")
	}
}

// QuoteString renders s as a double-quoted sandscript string literal.
func QuoteString(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
