package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// File is the on-disk policy format. Explicit rules are evaluated before
// rules derived from wildcards.
type File struct {
	Rules     []Rule              `json:"rules" yaml:"rules"`
	Wildcards map[string]Decision `json:"wildcards" yaml:"wildcards"`
}

// LoadFile reads a YAML, JSON or JSONC policy file and compiles it.
func LoadFile(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := ParseFile(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f.Engine()
}

// ParseFile decodes policy data. ext selects the format; anything other than
// .yaml or .yml is treated as JSONC.
func ParseFile(data []byte, ext string) (*File, error) {
	var f File
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &f); err != nil {
			return nil, err
		}
	}
	return &f, nil
}

// Engine compiles the file's rules followed by its wildcard rules.
func (f *File) Engine() (*Engine, error) {
	rules := append([]Rule(nil), f.Rules...)
	if len(f.Wildcards) > 0 {
		wr, err := FromWildcards(f.Wildcards)
		if err != nil {
			return nil, err
		}
		rules = append(rules, wr...)
	}
	return NewEngine(rules)
}
