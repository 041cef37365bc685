// Package schema declares the fields an index accepts and how each one is
// tokenized, stored, and queried. A Schema is immutable once defined.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind is the indexing behaviour of a declared field.
type Kind int

const (
	ExactString Kind = iota + 1
	AnalyzedText
	MultiValuedText
	Integer64
	NestedDynamic
)

var kindNames = map[Kind]string{
	ExactString:     "exact",
	AnalyzedText:    "text",
	MultiValuedText: "multi_text",
	Integer64:       "i64",
	NestedDynamic:   "json",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a configuration name onto a Kind.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == strings.ToLower(strings.TrimSpace(name)) {
			return k, nil
		}
	}
	return 0, &Error{Field: name, Err: ErrUnsupportedKind}
}

func (k Kind) MarshalText() ([]byte, error) {
	name, ok := kindNames[k]
	if !ok {
		return nil, &Error{Field: k.String(), Err: ErrUnsupportedKind}
	}
	return []byte(name), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Analyzed reports whether values of this kind pass through an analyzer.
func (k Kind) Analyzed() bool {
	return k == AnalyzedText || k == MultiValuedText || k == NestedDynamic
}

var (
	ErrDuplicateField    = errors.New("duplicate field")
	ErrUnsupportedKind   = errors.New("unsupported field kind")
	ErrUnknownField      = errors.New("unknown field")
	ErrMissingAnalyzer   = errors.New("analyzed field has no analyzer")
	ErrUnknownAnalyzer   = errors.New("unknown analyzer")
	ErrSchemaMismatch    = errors.New("schema does not match existing index")
	ErrInvalidIdentifier = errors.New("identifier field must be a declared exact field")
)

// Error is returned for every schema violation. Use errors.Is against the
// package sentinels to classify it.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Field == "" {
		return "schema: " + e.Err.Error()
	}
	return fmt.Sprintf("schema: %s %q", e.Err.Error(), e.Field)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// FieldDefinition describes one declared field.
type FieldDefinition struct {
	Name     string `json:"name" yaml:"name" toml:"name"`
	Kind     Kind   `json:"kind" yaml:"kind" toml:"kind"`
	Stored   bool   `json:"stored" yaml:"stored" toml:"stored"`
	Analyzer string `json:"analyzer,omitempty" yaml:"analyzer" toml:"analyzer"`
}

// Schema is an ordered, name-keyed set of field definitions plus the name of
// the field holding each document's unique identifier.
type Schema struct {
	idField string
	fields  []FieldDefinition
	byName  map[string]int
}

// Define validates fields and returns an immutable Schema.
func Define(idField string, fields []FieldDefinition) (*Schema, error) {
	s := &Schema{
		idField: idField,
		fields:  make([]FieldDefinition, 0, len(fields)),
		byName:  make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if f.Name == "" {
			return nil, &Error{Err: ErrUnknownField}
		}
		if _, exists := s.byName[f.Name]; exists {
			return nil, &Error{Field: f.Name, Err: ErrDuplicateField}
		}
		if _, ok := kindNames[f.Kind]; !ok {
			return nil, &Error{Field: f.Name, Err: ErrUnsupportedKind}
		}
		if f.Kind.Analyzed() && f.Analyzer == "" {
			return nil, &Error{Field: f.Name, Err: ErrMissingAnalyzer}
		}
		if !f.Kind.Analyzed() {
			f.Analyzer = ""
		}
		s.byName[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	idx, ok := s.byName[idField]
	if !ok || s.fields[idx].Kind != ExactString {
		return nil, &Error{Field: idField, Err: ErrInvalidIdentifier}
	}
	// The identifier is always stored so results can carry it.
	s.fields[idx].Stored = true
	return s, nil
}

// IDField returns the name of the identifier field.
func (s *Schema) IDField() string {
	return s.idField
}

// Fields returns a copy of the declared fields in declaration order.
func (s *Schema) Fields() []FieldDefinition {
	out := make([]FieldDefinition, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field looks up a declared field by its exact name.
func (s *Schema) Field(name string) (FieldDefinition, bool) {
	idx, ok := s.byName[name]
	if !ok {
		return FieldDefinition{}, false
	}
	return s.fields[idx], true
}

// Resolved is the result of resolving a possibly dotted field path.
type Resolved struct {
	Field FieldDefinition
	// Path is the full indexed path, e.g. "features.lang".
	Path string
	// Leaf is the part after the declared field, empty for direct matches.
	Leaf string
}

// Dynamic reports whether the path points inside a NestedDynamic field.
func (r Resolved) Dynamic() bool {
	return r.Leaf != ""
}

// Resolve finds the declared field for name. Dotted names resolve against the
// longest declared prefix, which must be a NestedDynamic field.
func (s *Schema) Resolve(name string) (Resolved, error) {
	if f, ok := s.Field(name); ok {
		return Resolved{Field: f, Path: name}, nil
	}
	for i := len(name) - 1; i > 0; i-- {
		if name[i] != '.' {
			continue
		}
		f, ok := s.Field(name[:i])
		if !ok {
			continue
		}
		leaf := name[i+1:]
		if f.Kind != NestedDynamic || leaf == "" {
			break
		}
		return Resolved{Field: f, Path: name, Leaf: leaf}, nil
	}
	return Resolved{}, &Error{Field: name, Err: ErrUnknownField}
}

// CheckAnalyzers verifies every analyzed field names a registered analyzer.
func (s *Schema) CheckAnalyzers(has func(name string) bool) error {
	for _, f := range s.fields {
		if f.Kind.Analyzed() && !has(f.Analyzer) {
			return &Error{Field: f.Name, Err: fmt.Errorf("%w %q", ErrUnknownAnalyzer, f.Analyzer)}
		}
	}
	return nil
}

// Equal reports whether two schemas declare the same fields in the same order.
func (s *Schema) Equal(other *Schema) bool {
	if other == nil || s.idField != other.idField || len(s.fields) != len(other.fields) {
		return false
	}
	for i := range s.fields {
		if s.fields[i] != other.fields[i] {
			return false
		}
	}
	return true
}

// Compatible returns a mismatch error naming the first differing field.
func (s *Schema) Compatible(existing *Schema) error {
	if s.Equal(existing) {
		return nil
	}
	if existing == nil {
		return &Error{Err: ErrSchemaMismatch}
	}
	for _, f := range existing.fields {
		cur, ok := s.Field(f.Name)
		if !ok || cur != f {
			return &Error{Field: f.Name, Err: ErrSchemaMismatch}
		}
	}
	for _, f := range s.fields {
		if _, ok := existing.Field(f.Name); !ok {
			return &Error{Field: f.Name, Err: ErrSchemaMismatch}
		}
	}
	return &Error{Field: s.idField, Err: ErrSchemaMismatch}
}

type schemaJSON struct {
	IDField string            `json:"id_field"`
	Fields  []FieldDefinition `json:"fields"`
}

func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(schemaJSON{IDField: s.idField, Fields: s.fields})
}

func (s *Schema) UnmarshalJSON(data []byte) error {
	var raw schemaJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding schema: %w", err)
	}
	parsed, err := Define(raw.IDField, raw.Fields)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

// Blog returns the blog-post schema used when none is configured.
func Blog() *Schema {
	s, err := Define("id", []FieldDefinition{
		{Name: "id", Kind: ExactString, Stored: true},
		{Name: "title", Kind: AnalyzedText, Stored: true, Analyzer: "zh_ngram"},
		{Name: "body", Kind: AnalyzedText, Stored: true, Analyzer: "zh_ngram"},
		{Name: "tags", Kind: MultiValuedText, Stored: true, Analyzer: "whitespace_lc"},
		{Name: "create_at", Kind: Integer64, Stored: true},
		{Name: "status", Kind: ExactString, Stored: true},
		{Name: "features", Kind: NestedDynamic, Stored: true, Analyzer: "simple"},
	})
	if err != nil {
		panic(err)
	}
	return s
}

// DefaultSearchFields are queried by bare terms when the caller names none.
var DefaultSearchFields = []string{"title", "body", "tags", "features"}
