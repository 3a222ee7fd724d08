package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

const logPrefix = "types:guards"

var (
	// ErrNotJSON is returned by the Decode helpers when the body is not JSON.
	ErrNotJSON = errors.New("payload is not valid json")
	// ErrShape is returned by the Decode helpers when the body fails its guard.
	ErrShape = errors.New("payload does not have the expected shape")
)

// The guards below accept values produced by decoding JSON into an
// interface{} (map[string]any, []any, string, float64, bool, nil).

func optionalString(obj map[string]any, key string) bool {
	v, ok := obj[key]
	if !ok {
		return true
	}
	_, isString := v.(string)
	return isString
}

// IsDescriptionOperation reports whether v is an object with a string name and
// optional string type, func and desc.
func IsDescriptionOperation(v any) bool {
	obj, ok := v.(map[string]any)
	if !ok {
		return false
	}
	_, hasName := obj["name"].(string)
	return hasName &&
		optionalString(obj, "type") &&
		optionalString(obj, "func") &&
		optionalString(obj, "desc")
}

// IsDescriptionParamsOpt is the guard for parameter documentation.
var IsDescriptionParamsOpt = IsDescriptionOperation

// IsDescriptionOperations reports whether v is an object with an operations
// array whose every element is an operation description.
func IsDescriptionOperations(v any) bool {
	obj, ok := v.(map[string]any)
	if !ok {
		return false
	}
	ops, ok := obj["operations"].([]any)
	if !ok {
		return false
	}
	for _, op := range ops {
		if !IsDescriptionOperation(op) {
			return false
		}
	}
	return true
}

// IsInformation reports whether v is valid operation documentation. All three
// fields are optional.
func IsInformation(v any) bool {
	obj, ok := v.(map[string]any)
	if !ok {
		return false
	}

	if raw, in := obj["parameters"]; in {
		params, ok := raw.([]any)
		if !ok {
			return false
		}
		for _, p := range params {
			if !IsDescriptionParamsOpt(p) {
				return false
			}
		}
	}

	if raw, in := obj["parameterskv"]; in {
		kv, ok := raw.(map[string]any)
		if !ok {
			return false
		}
		for _, p := range kv {
			if !IsDescriptionParamsOpt(p) {
				return false
			}
		}
	}

	if raw, in := obj["return"]; in && !IsDescriptionParamsOpt(raw) {
		return false
	}
	return true
}

// IsParameters reports whether v is a parameter envelope. v may be any Go
// value: it must survive a JSON round trip, and the encoded object must carry
// a parameters array.
//
// The parameterskv check is a chain of alternatives that accepts every value,
// including a missing field. Call sites rely on that leniency.
func IsParameters(v any) bool {
	if v == nil {
		return false
	}
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return false
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return false
	}

	_, hasParams := obj["parameters"].([]any)

	kv, inObj := obj["parameterskv"]
	_, isPlain := kv.(map[string]any)
	_, isArray := kv.([]any)
	isObjectType := isPlain || isArray || (inObj && kv == nil)

	hasParamsKV := inObj && isObjectType
	hasParamsKV = hasParamsKV || !inObj || kv != nil
	hasParamsKV = hasParamsKV || !isArray
	hasParamsKV = hasParamsKV || isPlain
	hasParamsKV = hasParamsKV || !inObj

	return hasParams && hasParamsKV
}

// IsResult reports whether v is a result envelope: data present, type a
// string, errs absent or a string.
func IsResult(v any) bool {
	obj, ok := v.(map[string]any)
	if !ok {
		return false
	}
	_, hasData := obj["data"]
	_, hasType := obj["type"].(string)
	return hasData && hasType && optionalString(obj, "errs")
}

func decodeGuarded[T any](data []byte, guard func(any) bool) (*T, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s - %w: %v", logPrefix, ErrNotJSON, err)
	}
	if !guard(raw) {
		return nil, fmt.Errorf("%s - %w", logPrefix, ErrShape)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%s - %w: %v", logPrefix, ErrShape, err)
	}
	return &out, nil
}

// DecodeOperations decodes and guards a catalog listing.
func DecodeOperations(data []byte) (*DescriptionOperations, error) {
	return decodeGuarded[DescriptionOperations](data, IsDescriptionOperations)
}

// DecodeInformation decodes and guards operation documentation.
func DecodeInformation(data []byte) (*Information, error) {
	return decodeGuarded[Information](data, IsInformation)
}

// DecodeResult decodes and guards a result envelope.
func DecodeResult(data []byte) (*Result, error) {
	return decodeGuarded[Result](data, IsResult)
}
