package feature

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/andresmejia3/spectra/internal/errors"
)

// Definition names one per-frame column of Feature.dat and its element type.
type Definition struct {
	Name string
	Kind Kind
}

type definitionFile struct {
	Definitions []struct {
		Name string `yaml:"name"`
		Type string `yaml:"type"`
	} `yaml:"definitions"`
}

//go:embed features.yaml
var defaultDefinitions []byte

// DefaultDefinitions returns the column layout the bundled engine writes.
func DefaultDefinitions() []Definition {
	defs, err := ParseDefinitions(defaultDefinitions)
	if err != nil {
		panic(fmt.Sprintf("feature: embedded definitions are invalid: %v", err))
	}
	return defs
}

// LoadDefinitions reads an ordered definition list from a YAML file.
// An empty path yields the embedded defaults.
func LoadDefinitions(path string) ([]Definition, error) {
	if path == "" {
		return DefaultDefinitions(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "feature", "LoadDefinitions", "read definitions file")
	}
	return ParseDefinitions(data)
}

// ParseDefinitions decodes a YAML definition list, rejecting unknown type codes,
// duplicate names and names that collide with reserved columns.
func ParseDefinitions(data []byte) ([]Definition, error) {
	var file definitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.WrapFatal(err, "feature", "ParseDefinitions", "yaml unmarshal")
	}
	if len(file.Definitions) == 0 {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "feature", "ParseDefinitions", "no definitions")
	}

	defs := make([]Definition, 0, len(file.Definitions))
	seen := make(map[string]bool, len(file.Definitions))
	for i, d := range file.Definitions {
		if d.Name == "" {
			return nil, errors.WrapFatal(fmt.Errorf("definition %d has no name: %w", i, errors.ErrInvalidConfig),
				"feature", "ParseDefinitions", "validate")
		}
		if d.Name == ConfidencesColumn || seen[d.Name] {
			return nil, errors.WrapFatal(fmt.Errorf("duplicate or reserved feature %q: %w", d.Name, errors.ErrInvalidConfig),
				"feature", "ParseDefinitions", "validate")
		}
		kind, ok := ParseKind(d.Type)
		if !ok {
			return nil, errors.WrapFatal(fmt.Errorf("feature %q has unsupported type %q: %w", d.Name, d.Type, errors.ErrInvalidConfig),
				"feature", "ParseDefinitions", "validate")
		}
		seen[d.Name] = true
		defs = append(defs, Definition{Name: d.Name, Kind: kind})
	}
	return defs, nil
}
