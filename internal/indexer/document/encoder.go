package document

import (
	"errors"
	"fmt"
	"math"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/analyzer"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/schema"
)

var (
	ErrMissingIdentifier = errors.New("document has no identifier")
	ErrTypeMismatch      = errors.New("value does not match field kind")
)

// EncodeError reports why a single document was rejected.
type EncodeError struct {
	Field string
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode: field %q: %s", e.Field, e.Err.Error())
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

func mismatch(field string, expected string, got Value) error {
	return &EncodeError{
		Field: field,
		Err:   fmt.Errorf("%w: expected %s, got %s", ErrTypeMismatch, expected, got.Kind),
	}
}

// LeafKind says which column of an Entry carries its value.
type LeafKind uint8

const (
	LeafTerm LeafKind = iota + 1
	LeafInt
	LeafFloat
)

// Entry is one indexable (path, value) pair. Paths inside NestedDynamic
// fields are dotted, e.g. "features.lang".
type Entry struct {
	Path     string
	Leaf     LeafKind
	Term     string
	Position int
	Int      int64
	Float    float64
}

// EncodedDocument is the analyzed form of a Document, ready for a segment.
type EncodedDocument struct {
	ID      string
	Entries []Entry
	Stored  map[string]Value
}

// Encoder applies a schema and its analyzers to documents. It holds no
// mutable state and may be shared across goroutines.
type Encoder struct {
	schema    *schema.Schema
	analyzers map[string]analyzer.Analyzer
}

func NewEncoder(s *schema.Schema, registry *analyzer.Registry) (*Encoder, error) {
	if err := s.CheckAnalyzers(registry.Has); err != nil {
		return nil, err
	}
	e := &Encoder{
		schema:    s,
		analyzers: make(map[string]analyzer.Analyzer),
	}
	for _, f := range s.Fields() {
		if !f.Kind.Analyzed() {
			continue
		}
		a, err := registry.Get(f.Analyzer)
		if err != nil {
			return nil, err
		}
		e.analyzers[f.Name] = a
	}
	return e, nil
}

// Schema returns the schema this encoder applies.
func (e *Encoder) Schema() *schema.Schema {
	return e.schema
}

// Encode validates doc against the schema and produces its index entries.
// Fields not declared in the schema are ignored.
func (e *Encoder) Encode(doc Document) (*EncodedDocument, error) {
	idField := e.schema.IDField()
	idValue, ok := doc[idField]
	if !ok || idValue.Kind != StringValue || idValue.Str == "" {
		return nil, &EncodeError{Field: idField, Err: ErrMissingIdentifier}
	}
	out := &EncodedDocument{
		ID:     idValue.Str,
		Stored: make(map[string]Value),
	}
	for _, f := range e.schema.Fields() {
		v, ok := doc[f.Name]
		if !ok || v.Kind == NullValue {
			continue
		}
		var err error
		switch f.Kind {
		case schema.ExactString:
			err = e.encodeExact(out, f, v)
		case schema.AnalyzedText, schema.MultiValuedText:
			err = e.encodeText(out, f, v)
		case schema.Integer64:
			err = e.encodeInt(out, f, v)
		case schema.NestedDynamic:
			if v.Kind != ObjectValue {
				v = Object(map[string]Value{"value": v})
			}
			positions := make(map[string]int)
			err = e.flatten(out, f, f.Name, v, positions)
		}
		if err != nil {
			return nil, err
		}
		if f.Stored {
			out.Stored[f.Name] = doc[f.Name]
		}
	}
	return out, nil
}

// each calls fn for v, or for every non-null element when v is an array.
func each(v Value, fn func(Value) error) error {
	if v.Kind != ArrayValue {
		return fn(v)
	}
	for _, item := range v.Array {
		if item.Kind == NullValue {
			continue
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeExact(out *EncodedDocument, f schema.FieldDefinition, v Value) error {
	pos := 0
	return each(v, func(item Value) error {
		if item.Kind != StringValue {
			return mismatch(f.Name, "string", item)
		}
		out.Entries = append(out.Entries, Entry{Path: f.Name, Leaf: LeafTerm, Term: item.Str, Position: pos})
		pos++
		return nil
	})
}

func (e *Encoder) encodeText(out *EncodedDocument, f schema.FieldDefinition, v Value) error {
	a := e.analyzers[f.Name]
	base := 0
	return each(v, func(item Value) error {
		if item.Kind != StringValue {
			return mismatch(f.Name, "string", item)
		}
		base = appendTokens(out, f.Name, a.Tokenize(item.Str), base)
		return nil
	})
}

func (e *Encoder) encodeInt(out *EncodedDocument, f schema.FieldDefinition, v Value) error {
	return each(v, func(item Value) error {
		n, ok := asInt64(item)
		if !ok {
			return mismatch(f.Name, "integer", item)
		}
		out.Entries = append(out.Entries, Entry{Path: f.Name, Leaf: LeafInt, Int: n})
		return nil
	})
}

func (e *Encoder) flatten(out *EncodedDocument, f schema.FieldDefinition, path string, v Value, positions map[string]int) error {
	switch v.Kind {
	case NullValue:
		return nil
	case ObjectValue:
		for _, key := range v.Keys() {
			if err := e.flatten(out, f, path+"."+key, v.Object[key], positions); err != nil {
				return err
			}
		}
	case ArrayValue:
		for _, item := range v.Array {
			if err := e.flatten(out, f, path, item, positions); err != nil {
				return err
			}
		}
	case StringValue:
		positions[path] = appendTokens(out, path, e.analyzers[f.Name].Tokenize(v.Str), positions[path])
	case IntValue, FloatValue:
		out.Entries = append(out.Entries, Entry{Path: path, Leaf: LeafFloat, Float: v.Number()})
	case BoolValue:
		out.Entries = append(out.Entries, Entry{Path: path, Leaf: LeafTerm, Term: BoolTerm(v.Bool), Position: positions[path]})
		positions[path]++
	default:
		return mismatch(path, "json value", v)
	}
	return nil
}

// appendTokens adds text entries starting at base and returns the next free
// position.
func appendTokens(out *EncodedDocument, path string, tokens []analyzer.Token, base int) int {
	next := base
	for _, tok := range tokens {
		pos := base + tok.Position
		out.Entries = append(out.Entries, Entry{Path: path, Leaf: LeafTerm, Term: tok.Term, Position: pos})
		if pos >= next {
			next = pos + 1
		}
	}
	return next
}

func asInt64(v Value) (int64, bool) {
	switch v.Kind {
	case IntValue:
		return v.Int, true
	case FloatValue:
		if v.Float != math.Trunc(v.Float) || v.Float < math.MinInt64 || v.Float >= math.MaxInt64 {
			return 0, false
		}
		return int64(v.Float), true
	}
	return 0, false
}

// BoolTerm is the indexed term for a boolean leaf.
func BoolTerm(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
