package constants

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/v2"
)

// tomlParser adapts BurntSushi/toml to koanf.Parser.
type tomlParser struct{}

func (tomlParser) Unmarshal(b []byte) (map[string]any, error) {
	out := make(map[string]any)
	if _, err := toml.Decode(string(b), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (tomlParser) Marshal(m map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// parserFor picks a parser from the file extension. JSON documents go through
// the YAML parser, which accepts them unchanged.
func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".toml":
		return tomlParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported constants format %q", filepath.Ext(path))
	}
}
