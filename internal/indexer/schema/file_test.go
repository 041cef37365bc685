package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFileFormats(t *testing.T) {
	files := map[string]string{
		"schema.json": `{"id_field":"sku","fields":[
			{"name":"sku","kind":"exact"},
			{"name":"name","kind":"text","analyzer":"whitespace_lc","stored":true},
			{"name":"price","kind":"i64"}]}`,
		"schema.yaml": `
id_field: sku
fields:
  - {name: sku, kind: exact}
  - {name: name, kind: text, analyzer: whitespace_lc, stored: true}
  - {name: price, kind: i64}
`,
		"schema.toml": `
id_field = "sku"
[[fields]]
name = "sku"
kind = "exact"
[[fields]]
name = "name"
kind = "text"
analyzer = "whitespace_lc"
stored = true
[[fields]]
name = "price"
kind = "i64"
`,
	}
	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			s, err := LoadFile(writeFile(t, name, content))
			require.NoError(t, err)
			assert.Equal(t, "sku", s.IDField())
			f, ok := s.Field("price")
			require.True(t, ok)
			assert.Equal(t, Integer64, f.Kind)
			f, _ = s.Field("name")
			assert.Equal(t, "whitespace_lc", f.Analyzer)
		})
	}
}

func TestLoadFileDefaults(t *testing.T) {
	s, err := LoadFile("")
	require.NoError(t, err)
	assert.True(t, s.Equal(Blog()))

	s, err = LoadFile(writeFile(t, "s.json", `{"fields":[{"name":"id","kind":"exact"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "id", s.IDField())
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(writeFile(t, "s.xml", `<schema/>`))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "s.json", `{"fields":[{"name":"id","kind":"blob"}]}`))
	assert.ErrorIs(t, err, ErrUnsupportedKind)

	_, err = LoadFile(writeFile(t, "s.yaml", "fields:\n  - {name: body, kind: text}\n  - {name: id, kind: exact}\n"))
	assert.ErrorIs(t, err, ErrMissingAnalyzer)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
