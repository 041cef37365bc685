package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type schemaFile struct {
	IDField string            `json:"id_field" yaml:"id_field" toml:"id_field"`
	Fields  []FieldDefinition `json:"fields" yaml:"fields" toml:"fields"`
}

// LoadFile reads a schema declaration from a JSON, YAML or TOML file,
// chosen by extension. An empty path returns Blog.
func LoadFile(path string) (*Schema, error) {
	if path == "" {
		return Blog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}

	var raw schemaFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, &raw)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	case ".toml":
		err = toml.Unmarshal(data, &raw)
	default:
		return nil, fmt.Errorf("unsupported schema file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing schema file %s: %w", path, err)
	}
	if raw.IDField == "" {
		raw.IDField = "id"
	}
	s, err := Define(raw.IDField, raw.Fields)
	if err != nil {
		return nil, fmt.Errorf("schema file %s: %w", path, err)
	}
	return s, nil
}
