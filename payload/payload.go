// Package payload models the untyped JSON value carried by a job.
//
// OmniQ treats a job's payload as opaque JSON text on the wire. Client
// code that wants to inspect it without committing to a concrete Go
// type works against Value, a small tagged union over the JSON data
// model (null, bool, number, string, array, object), plus a pair of
// type-safe generic accessors for pulling typed fields back out of an
// object payload.
package payload

import (
	"encoding/json"
	"errors"
)

// Kind identifies which JSON shape a Value holds.
type Kind uint8

const (
	// Null represents a JSON null value, or a payload that failed to parse.
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "null"
	}
}

// ErrNotObjectOrArray is returned by ValidateForPublish (and, indirectly, by
// Ops.Publish) when a payload is not a JSON object or array.
var ErrNotObjectOrArray = errors.New("payload: must be a JSON object or array")

// Value is an opaque JSON value together with the raw text it was
// decoded from.
//
// Value is read-only once constructed: build one with Parse or
// Wrap, never by mutating fields directly.
type Value struct {
	kind Kind
	data any
	raw  json.RawMessage
}

// Parse decodes raw JSON text into a Value.
//
// If raw does not parse as JSON, Parse returns a Null-kind Value
// whose Raw() still returns the original bytes, mirroring the
// runloop's "pass the raw string as the payload" fallback (spec
// §4.5 step 9).
func Parse(raw []byte) Value {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return Value{kind: Null, raw: append(json.RawMessage(nil), raw...)}
	}
	return Value{kind: kindOf(data), data: data, raw: append(json.RawMessage(nil), raw...)}
}

// Wrap builds a Value directly from a decoded Go value (as produced by
// encoding/json unmarshalling into `any`), recomputing its raw text.
func Wrap(data any) Value {
	raw, err := json.Marshal(data)
	if err != nil {
		return Value{kind: Null}
	}
	return Value{kind: kindOf(data), data: data, raw: raw}
}

func kindOf(data any) Kind {
	switch data.(type) {
	case nil:
		return Null
	case bool:
		return Bool
	case float64:
		return Number
	case string:
		return String
	case []any:
		return Array
	case map[string]any:
		return Object
	default:
		return Null
	}
}

// Kind reports which JSON shape this Value holds.
func (v Value) Kind() Kind { return v.kind }

// Raw returns the original JSON text the Value was parsed from.
func (v Value) Raw() []byte { return v.raw }

// Interface returns the underlying decoded value: nil, bool, float64,
// string, []any, or map[string]any.
func (v Value) Interface() any { return v.data }

// ValidateForPublish enforces the publish contract: the payload must
// be a JSON object or array, never null, a string, a number, or a
// boolean.
func ValidateForPublish(raw []byte) error {
	v := Parse(raw)
	if v.kind != Object && v.kind != Array {
		return ErrNotObjectOrArray
	}
	return nil
}

// Get retrieves the metadata-style field named by key from an Object
// payload and attempts to cast it to T.
//
// If the payload is not an Object, the key is absent, or the stored
// value is not of type T, Get returns the zero value of T and false.
func Get[T any](v Value, key string) (T, bool) {
	var zero T
	obj, ok := v.data.(map[string]any)
	if !ok {
		return zero, false
	}
	raw, ok := obj[key]
	if !ok {
		return zero, false
	}
	typed, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Set returns a new Value with key set to value within an Object
// payload. If v is not currently an Object, a fresh empty object is
// used as the base.
func Set[T any](v Value, key string, value T) Value {
	obj, ok := v.data.(map[string]any)
	if !ok {
		obj = map[string]any{}
	} else {
		copied := make(map[string]any, len(obj)+1)
		for k, existing := range obj {
			copied[k] = existing
		}
		obj = copied
	}
	obj[key] = value
	return Wrap(obj)
}
