package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/uiforensics/elementcap/internal/extract"
)

type probesFile struct {
	Probes []extract.LibraryProbe `yaml:"probes"`
}

// LoadProbes reads and validates a library-probe YAML file. An empty path
// selects the built-in probe set.
func LoadProbes(path string) ([]extract.LibraryProbe, error) {
	if path == "" {
		return extract.DefaultProbes(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("probes config: %w", err)
	}
	var pf probesFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("probes config: %w", err)
	}
	for i, p := range pf.Probes {
		if p.Name == "" {
			return nil, fmt.Errorf("probes config: probe[%d] missing name", i)
		}
		if p.Global == "" && p.Attribute == "" && p.ScriptSubstring == "" {
			return nil, fmt.Errorf("probes config: probe[%d] (%s) has no detection rule", i, p.Name)
		}
	}
	return pf.Probes, nil
}
