package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadYAML decodes a YAML file into target.
func LoadYAML(path string, target interface{}) error {
	// #nosec G304 -- path is supplied by the caller; untrusted inputs are
	// the caller's problem to validate.
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening YAML file %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("decoding YAML file %s: %w", path, err)
	}
	return nil
}
