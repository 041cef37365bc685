package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefineRejectsDuplicateField(t *testing.T) {
	_, err := Define("id", []FieldDefinition{
		{Name: "id", Kind: ExactString},
		{Name: "title", Kind: AnalyzedText, Analyzer: "zh_ngram"},
		{Name: "title", Kind: ExactString},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateField))

	var schemaErr *Error
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "title", schemaErr.Field)
}

func TestDefineRejectsUnsupportedKind(t *testing.T) {
	_, err := Define("id", []FieldDefinition{
		{Name: "id", Kind: ExactString},
		{Name: "blob", Kind: Kind(42)},
	})
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}

func TestDefineRequiresAnalyzerForTextKinds(t *testing.T) {
	_, err := Define("id", []FieldDefinition{
		{Name: "id", Kind: ExactString},
		{Name: "body", Kind: AnalyzedText},
	})
	assert.ErrorIs(t, err, ErrMissingAnalyzer)
}

func TestDefineRequiresExactIdentifier(t *testing.T) {
	_, err := Define("id", []FieldDefinition{
		{Name: "title", Kind: AnalyzedText, Analyzer: "simple"},
	})
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	_, err = Define("id", []FieldDefinition{
		{Name: "id", Kind: Integer64},
	})
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestIdentifierAlwaysStored(t *testing.T) {
	s, err := Define("id", []FieldDefinition{{Name: "id", Kind: ExactString}})
	require.NoError(t, err)
	f, ok := s.Field("id")
	require.True(t, ok)
	assert.True(t, f.Stored)
}

func TestResolveDottedPath(t *testing.T) {
	s := Blog()

	r, err := s.Resolve("title")
	require.NoError(t, err)
	assert.Equal(t, AnalyzedText, r.Field.Kind)
	assert.False(t, r.Dynamic())

	r, err = s.Resolve("features.lang")
	require.NoError(t, err)
	assert.Equal(t, "features", r.Field.Name)
	assert.Equal(t, "lang", r.Leaf)
	assert.Equal(t, "features.lang", r.Path)

	r, err = s.Resolve("features.meta.source")
	require.NoError(t, err)
	assert.Equal(t, "meta.source", r.Leaf)

	_, err = s.Resolve("title.sub")
	assert.ErrorIs(t, err, ErrUnknownField)

	_, err = s.Resolve("missing")
	assert.ErrorIs(t, err, ErrUnknownField)

	_, err = s.Resolve("features.")
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestResolvePrefersLongestPrefix(t *testing.T) {
	s, err := Define("id", []FieldDefinition{
		{Name: "id", Kind: ExactString},
		{Name: "meta", Kind: NestedDynamic, Analyzer: "simple"},
		{Name: "meta.inner", Kind: NestedDynamic, Analyzer: "whitespace_lc"},
	})
	require.NoError(t, err)

	r, err := s.Resolve("meta.inner.key")
	require.NoError(t, err)
	assert.Equal(t, "meta.inner", r.Field.Name)
	assert.Equal(t, "key", r.Leaf)

	r, err = s.Resolve("meta.other")
	require.NoError(t, err)
	assert.Equal(t, "meta", r.Field.Name)
}

func TestCheckAnalyzers(t *testing.T) {
	s := Blog()
	known := map[string]bool{"zh_ngram": true, "whitespace_lc": true, "simple": true}
	require.NoError(t, s.CheckAnalyzers(func(name string) bool { return known[name] }))

	delete(known, "simple")
	err := s.CheckAnalyzers(func(name string) bool { return known[name] })
	assert.ErrorIs(t, err, ErrUnknownAnalyzer)
}

func TestCompatible(t *testing.T) {
	a := Blog()
	require.NoError(t, a.Compatible(Blog()))

	b, err := Define("id", []FieldDefinition{
		{Name: "id", Kind: ExactString},
		{Name: "title", Kind: ExactString},
	})
	require.NoError(t, err)
	err = a.Compatible(b)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestSchemaJSON(t *testing.T) {
	data, err := json.Marshal(Blog())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"json"`)

	var decoded Schema
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, Blog().Equal(&decoded))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("I64")
	require.NoError(t, err)
	assert.Equal(t, Integer64, k)

	_, err = ParseKind("float")
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}
