// Package config provides JSON-based configuration loading with
// environment variable expansion and cascading overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

// Load loads configuration from a JSON file with environment variable
// expansion, unmarshalling over target so keys absent from the file keep
// their current values.
func Load[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	expandedData := os.ExpandEnv(string(data))

	if err := json.Unmarshal([]byte(expandedData), target); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	if validator, ok := any(target).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	return nil
}

// LoadCascade applies each named file over target in order. Missing
// files are skipped: every layer of the cascade is optional except the
// last non-empty name, which must exist when require is true.
func LoadCascade[T any](target *T, require string, filenames ...string) error {
	for _, f := range filenames {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			if f == require {
				return fmt.Errorf("config file not found: %s", f)
			}
			continue
		}
		if err := Load(f, target); err != nil {
			return err
		}
	}
	return nil
}

// MustLoad loads configuration and panics on failure.
func MustLoad[T any](filename string, target *T) {
	if err := Load(filename, target); err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
}
