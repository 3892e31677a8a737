package evaluator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

// ErrNotSerializable is returned when a value has no JSON form.
var ErrNotSerializable = errors.New("value is not JSON serializable")

// ValueToJSON marshals a Value to JSON bytes.
// Records preserve key order. Numbers output integers without decimal point.
func ValueToJSON(v Value) ([]byte, error) {
	raw, err := valueToRaw(v, 0)
	if err != nil {
		return nil, err
	}
	return json.Marshal(raw)
}

func valueToRaw(v Value, depth int) (any, error) {
	if depth > maxRenderDepth {
		return nil, fmt.Errorf("%w: nesting too deep", ErrNotSerializable)
	}

	switch val := v.(type) {
	case nil, Null:
		return nil, nil

	case Bool:
		return val.Value, nil

	case Number:
		if math.IsInf(val.Value, 0) || math.IsNaN(val.Value) {
			return nil, fmt.Errorf("%w: %s", ErrNotSerializable, FormatNumber(val.Value))
		}
		// Output integers without decimal point
		if val.Value == math.Trunc(val.Value) && val.Value >= math.MinInt64 && val.Value <= math.MaxInt64 {
			return int64(val.Value), nil
		}
		return val.Value, nil

	case String:
		return val.Value, nil

	case *List:
		items := make([]any, len(val.Items))
		for i, item := range val.Items {
			raw, err := valueToRaw(item, depth+1)
			if err != nil {
				return nil, err
			}
			items[i] = raw
		}
		return items, nil

	case *Record:
		rec := &orderedRecord{keys: make([]string, len(val.Pairs)), values: make([]any, len(val.Pairs))}
		for i, kv := range val.Pairs {
			raw, err := valueToRaw(kv.Value, depth+1)
			if err != nil {
				return nil, err
			}
			rec.keys[i] = kv.Key
			rec.values[i] = raw
		}
		return rec, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrNotSerializable, TypeName(v))
}

// orderedRecord preserves key order in JSON output.
type orderedRecord struct {
	keys   []string
	values []any
}

func (o *orderedRecord) MarshalJSON() ([]byte, error) {
	if len(o.keys) == 0 {
		return []byte("{}"), nil
	}

	buf := []byte{'{'}
	for i, key := range o.keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyBytes, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyBytes...)
		buf = append(buf, ':')

		valBytes, err := json.Marshal(o.values[i])
		if err != nil {
			return nil, err
		}
		buf = append(buf, valBytes...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// ValueToJSONString is a convenience that returns a string.
func ValueToJSONString(v Value) string {
	b, err := ValueToJSON(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// DecodeJSON converts a JSON document to a Value, preserving object key
// order. Every list, record and string is charged to the sandbox memory
// budget as it is built; a breach aborts the decode with the
// *sandbox.ViolationError.
func (t *Thread) DecodeJSON(data []byte) (Value, error) {
	return parseJSON(data, t.Allocate)
}

func parseJSON(data []byte, charge func(int64) error) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec, charge)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder, charge func(int64) error) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '[':
			var items []Value
			for dec.More() {
				item, err := decodeValue(dec, charge)
				if err != nil {
					return nil, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			if err := charge(listCost(len(items))); err != nil {
				return nil, err
			}
			return NewList(items), nil
		case '{':
			rec := NewRecord(nil)
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, _ := keyTok.(string)
				val, err := decodeValue(dec, charge)
				if err != nil {
					return nil, err
				}
				rec.Set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			if err := charge(recordCost(len(rec.Pairs))); err != nil {
				return nil, err
			}
			return rec, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %q", t)
	case nil:
		return NewNull(), nil
	case bool:
		return NewBool(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, err
		}
		return NewNumber(f), nil
	case string:
		if err := charge(stringCost(t)); err != nil {
			return nil, err
		}
		return NewString(t), nil
	}
	return nil, fmt.Errorf("unexpected JSON token %v", tok)
}

// FormatNumber formats a float64 as an integer string if it's a whole number.
func FormatNumber(n float64) string {
	if n == math.Trunc(n) && !math.IsInf(n, 0) && !math.IsNaN(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}
