package runtime

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/thomasrohde/sandscript/internal/codec"
	"github.com/thomasrohde/sandscript/pkg/ast"
	"github.com/thomasrohde/sandscript/pkg/diagnostics"
	"github.com/thomasrohde/sandscript/pkg/evaluator"
	"github.com/thomasrohde/sandscript/pkg/sandbox"
)

// Report summarizes one run for hosts and tooling. It encodes to JSON for
// people and to CBOR for machines.
type Report struct {
	ScriptID     string                      `json:"scriptId" cbor:"1,keyasint"`
	Name         string                      `json:"name" cbor:"2,keyasint"`
	OK           bool                        `json:"ok" cbor:"3,keyasint"`
	Value        string                      `json:"value,omitempty" cbor:"4,keyasint,omitempty"`
	Instructions int64                       `json:"instructions" cbor:"5,keyasint"`
	Snapshot     *sandbox.AllocationSnapshot `json:"snapshot,omitempty" cbor:"6,keyasint,omitempty"`
	Violation    *sandbox.Violation          `json:"violation,omitempty" cbor:"7,keyasint,omitempty"`
	Diagnostics  []diagnostics.Diagnostic    `json:"diagnostics,omitempty" cbor:"8,keyasint,omitempty"`
}

// NewReport builds the report for a run of script. res may be nil when the
// source did not parse.
func NewReport(script *Script, res *Result, err error) *Report {
	r := &Report{ScriptID: script.ID(), Name: script.Name(), OK: err == nil}
	var span *ast.Span
	if res != nil {
		r.Instructions = res.Instructions
		r.Snapshot = res.Snapshot
		span = res.FaultSpan
		if err == nil && res.Value != nil {
			r.Value = evaluator.ToString(res.Value)
		}
	}
	if err == nil {
		return r
	}
	if v, ok := sandbox.AsViolation(err); ok {
		details := v.Details()
		r.Violation = &details
	}
	if de, ok := err.(*DiagnosticError); ok {
		r.Diagnostics = de.Diagnostics
	} else {
		r.Diagnostics = []diagnostics.Diagnostic{Diagnostic(err, span)}
	}
	return r
}

// EncodeCBOR encodes the report in deterministic CBOR.
func (r *Report) EncodeCBOR() ([]byte, error) {
	return codec.Marshal(r)
}

// EncodeJSON encodes the report as indented JSON.
func (r *Report) EncodeJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// DecodeReport reads a report written by EncodeCBOR.
func DecodeReport(data []byte) (*Report, error) {
	var r Report
	if err := codec.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// WriteReports streams reports to w as a CBOR sequence, one data item per
// report.
func WriteReports(w io.Writer, reports []*Report) error {
	enc := codec.NewEncoder(w)
	for _, r := range reports {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

// ReadReports decodes a sequence written by WriteReports. A single report
// from EncodeCBOR reads as a sequence of one.
func ReadReports(r io.Reader) ([]*Report, error) {
	dec := codec.NewDecoder(r)
	var reports []*Report
	for {
		var rep Report
		err := dec.Decode(&rep)
		if errors.Is(err, io.EOF) {
			return reports, nil
		}
		if err != nil {
			return reports, err
		}
		reports = append(reports, &rep)
	}
}
