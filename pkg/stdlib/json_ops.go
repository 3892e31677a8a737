package stdlib

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/thomasrohde/sandscript/pkg/diagnostics"
	"github.com/thomasrohde/sandscript/pkg/evaluator"
	"github.com/thomasrohde/sandscript/pkg/sandbox"
)

func jsonModule() *evaluator.Module {
	return evaluator.NewModule("json", map[string]evaluator.NativeFunc{
		"encode": jsonEncode,
		"decode": jsonDecode,
	})
}

// json.encode(v, indent?) → string. indent is a number of spaces.
func jsonEncode(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	data, err := evaluator.ValueToJSON(arg(args, 0))
	if err != nil {
		return nil, evaluator.Errorf(diagnostics.EType, "json.encode: %s", err)
	}
	if len(args) > 1 {
		n, err := argInt("json.encode", args, 1)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			var buf bytes.Buffer
			if err := json.Indent(&buf, data, "", strings.Repeat(" ", min(n, 8))); err != nil {
				return nil, evaluator.Errorf(diagnostics.ERuntime, "json.encode: %s", err)
			}
			data = buf.Bytes()
		}
	}
	return t.MakeString(string(data))
}

// json.decode(s) → value
func jsonDecode(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	s, err := argString("json.decode", args, 0)
	if err != nil {
		return nil, err
	}
	v, err := t.DecodeJSON([]byte(s))
	if err != nil {
		if _, ok := sandbox.AsViolation(err); ok {
			return nil, err
		}
		return nil, evaluator.Errorf(diagnostics.ERuntime, "json.decode: %s", err)
	}
	return v, nil
}
