// Package document holds the dynamic document model and the encoder that
// turns a document into index entries according to a schema.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	NullValue ValueKind = iota
	StringValue
	IntValue
	FloatValue
	BoolValue
	ArrayValue
	ObjectValue
)

func (k ValueKind) String() string {
	switch k {
	case NullValue:
		return "null"
	case StringValue:
		return "string"
	case IntValue:
		return "integer"
	case FloatValue:
		return "float"
	case BoolValue:
		return "bool"
	case ArrayValue:
		return "array"
	case ObjectValue:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a JSON-shaped tagged variant. Integers are kept exact; numbers
// that do not fit an int64 become floats.
type Value struct {
	Kind   ValueKind
	Str    string
	Int    int64
	Float  float64
	Bool   bool
	Array  []Value
	Object map[string]Value
}

func String(s string) Value           { return Value{Kind: StringValue, Str: s} }
func Int(i int64) Value               { return Value{Kind: IntValue, Int: i} }
func Float(f float64) Value           { return Value{Kind: FloatValue, Float: f} }
func Bool(b bool) Value               { return Value{Kind: BoolValue, Bool: b} }
func Array(items ...Value) Value      { return Value{Kind: ArrayValue, Array: items} }
func Object(m map[string]Value) Value { return Value{Kind: ObjectValue, Object: m} }

// IsNumber reports whether v holds an integer or a float.
func (v Value) IsNumber() bool {
	return v.Kind == IntValue || v.Kind == FloatValue
}

// Number returns the numeric value as a float64.
func (v Value) Number() float64 {
	if v.Kind == IntValue {
		return float64(v.Int)
	}
	return v.Float
}

// Interface converts v into plain Go values suitable for encoding/json.
func (v Value) Interface() any {
	switch v.Kind {
	case StringValue:
		return v.Str
	case IntValue:
		return v.Int
	case FloatValue:
		return v.Float
	case BoolValue:
		return v.Bool
	case ArrayValue:
		out := make([]any, len(v.Array))
		for i, item := range v.Array {
			out[i] = item.Interface()
		}
		return out
	case ObjectValue:
		out := make(map[string]any, len(v.Object))
		for k, item := range v.Object {
			out[k] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// FromInterface converts decoded JSON-like Go values into a Value.
func FromInterface(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return x, nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case json.Number:
		return numberValue(x.String())
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			v, err := FromInterface(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Array(items...), nil
	case []string:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = String(item)
		}
		return Array(items...), nil
	case map[string]any:
		obj := make(map[string]Value, len(x))
		for k, item := range x {
			v, err := FromInterface(item)
			if err != nil {
				return Value{}, err
			}
			obj[k] = v
		}
		return Object(obj), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

func numberValue(text string) (Value, error) {
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return Int(i), nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Value{}, fmt.Errorf("invalid number %q: %w", text, err)
	}
	return Float(f), nil
}

// marshalFloat always writes a fraction or an exponent, so that
// numberValue reads the text back as a float.
func marshalFloat(f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("unsupported float value %v", f)
	}
	text := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(text, ".eE") {
		text += ".0"
	}
	return []byte(text), nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case IntValue:
		return []byte(strconv.FormatInt(v.Int, 10)), nil
	case FloatValue:
		return marshalFloat(v.Float)
	case ArrayValue:
		if v.Array == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.Array)
	case ObjectValue:
		if v.Object == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.Object)
	default:
		return json.Marshal(v.Interface())
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromInterface(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Equal compares two values structurally. An integer and a float holding the
// same number are not equal.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case NullValue:
		return true
	case StringValue:
		return v.Str == other.Str
	case IntValue:
		return v.Int == other.Int
	case FloatValue:
		return v.Float == other.Float
	case BoolValue:
		return v.Bool == other.Bool
	case ArrayValue:
		if len(v.Array) != len(other.Array) {
			return false
		}
		for i := range v.Array {
			if !v.Array[i].Equal(other.Array[i]) {
				return false
			}
		}
		return true
	case ObjectValue:
		if len(v.Object) != len(other.Object) {
			return false
		}
		for k, item := range v.Object {
			o, ok := other.Object[k]
			if !ok || !item.Equal(o) {
				return false
			}
		}
		return true
	}
	return false
}

// Keys returns the object's keys in sorted order so flattening is
// deterministic.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.Object))
	for k := range v.Object {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Document is an external record: field name to value.
type Document map[string]Value

// ParseJSON decodes a JSON object into a Document, keeping integers exact.
func ParseJSON(data []byte) (Document, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	if v.Kind != ObjectValue {
		return nil, fmt.Errorf("decoding document: expected object, got %s", v.Kind)
	}
	return Document(v.Object), nil
}

// FromMap converts a map of plain Go values into a Document.
func FromMap(m map[string]any) (Document, error) {
	doc := make(Document, len(m))
	for k, raw := range m {
		v, err := FromInterface(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		doc[k] = v
	}
	return doc, nil
}
