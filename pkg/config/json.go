package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadJSON decodes a JSON file into target.
func LoadJSON(path string, target interface{}) error {
	// #nosec G304 -- path is supplied by the caller.
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening JSON file %s: %w", path, err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("decoding JSON file %s: %w", path, err)
	}
	return nil
}
