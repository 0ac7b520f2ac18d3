package connectors

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/incident-engine/pkg/config"
)

type definitionsFile struct {
	Sources []config.SourceConfig `yaml:"sources"`
}

// LoadDefinitions reads source definitions from a YAML file with a top-level
// "sources" list. Every entry is validated.
func LoadDefinitions(path string) ([]config.SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source definitions: %w", err)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions decodes and validates source definitions.
func ParseDefinitions(data []byte) ([]config.SourceConfig, error) {
	var f definitionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse source definitions: %w", err)
	}
	seen := make(map[string]bool, len(f.Sources))
	for i := range f.Sources {
		if err := f.Sources[i].Validate(); err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		if seen[f.Sources[i].Name] {
			return nil, fmt.Errorf("sources[%d]: duplicate source name %q", i, f.Sources[i].Name)
		}
		seen[f.Sources[i].Name] = true
	}
	return f.Sources, nil
}

// MergeDefinitions appends extra to base. A name present in both is an error.
func MergeDefinitions(base, extra []config.SourceConfig) ([]config.SourceConfig, error) {
	seen := make(map[string]bool, len(base))
	for _, s := range base {
		seen[s.Name] = true
	}
	out := append([]config.SourceConfig(nil), base...)
	for _, s := range extra {
		if seen[s.Name] {
			return nil, fmt.Errorf("source %q defined more than once", s.Name)
		}
		seen[s.Name] = true
		out = append(out, s)
	}
	return out, nil
}
