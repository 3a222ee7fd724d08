// Package types defines the payloads exchanged with the operation catalog and
// the guards that validate them before they are trusted.
package types

import "encoding/json"

// DescriptionOperation describes one invocable operation exposed under a
// catalog prefix.
type DescriptionOperation struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Func string `json:"func,omitempty"`
	Desc string `json:"desc,omitempty"`
}

// DescriptionParamsOpt documents one parameter (or the return value) of an
// operation. It has the same shape as DescriptionOperation.
type DescriptionParamsOpt = DescriptionOperation

// DescriptionOperations is the listing returned when a catalog path is read.
type DescriptionOperations struct {
	Operations []DescriptionOperation `json:"operations"`
}

// Has reports whether name is a declared operation in the listing.
func (d *DescriptionOperations) Has(name string) bool {
	if d == nil {
		return false
	}
	for _, op := range d.Operations {
		if op.Name == name {
			return true
		}
	}
	return false
}

// Names returns the declared operation names in listing order.
func (d *DescriptionOperations) Names() []string {
	if d == nil {
		return nil
	}
	names := make([]string, 0, len(d.Operations))
	for _, op := range d.Operations {
		names = append(names, op.Name)
	}
	return names
}

// Information is the parameter documentation of an operation.
//
// Raw holds the body exactly as the server sent it. The typed fields are
// filled only when the body matches their shape; Raw is what gets marshaled
// back out.
type Information struct {
	Parameters   []DescriptionParamsOpt          `json:"parameters,omitempty"`
	ParametersKV map[string]DescriptionParamsOpt `json:"parameterskv,omitempty"`
	Return       *DescriptionParamsOpt           `json:"return,omitempty"`
	Raw          json.RawMessage                 `json:"-"`
}

// IsEmpty reports whether no documentation is present.
func (i *Information) IsEmpty() bool {
	if i == nil {
		return true
	}
	if len(i.Parameters) > 0 || len(i.ParametersKV) > 0 || i.Return != nil {
		return false
	}
	if len(i.Raw) == 0 {
		return true
	}
	var obj map[string]any
	return json.Unmarshal(i.Raw, &obj) == nil && len(obj) == 0
}

// MarshalJSON emits Raw when set, the typed fields otherwise.
func (i Information) MarshalJSON() ([]byte, error) {
	if len(i.Raw) > 0 {
		return i.Raw, nil
	}
	type plain Information
	return json.Marshal(plain(i))
}

// Parameters is the envelope sent with every operation invocation.
type Parameters struct {
	Parameters   []any          `json:"parameters"`
	ParametersKV map[string]any `json:"parameterskv"`
}

// Result is the mandatory shape of a successful operation reply.
// Errs, when non-empty, is a server-side error message.
type Result struct {
	Data json.RawMessage `json:"data"`
	Type string          `json:"type"`
	Errs string          `json:"errs,omitempty"`
}

// DecodeData unmarshals the result data into v.
func (r *Result) DecodeData(v any) error {
	return json.Unmarshal(r.Data, v)
}
