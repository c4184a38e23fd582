// Package config provides YAML-based configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

// Load loads configuration from a YAML file with environment variable expansion.
// Keys absent from the file keep the values already in target.
func Load[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	if err := Parse(data, target); err != nil {
		return fmt.Errorf("config file %s: %w", filename, err)
	}
	return nil
}

// LoadOptional is Load, except that a missing file leaves target as is and
// only validates it.
func LoadOptional[T any](filename string, target *T) (bool, error) {
	err := Load(filename, target)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := validate(target); err != nil {
		return false, err
	}
	return false, nil
}

// Parse decodes YAML into target after expanding ${VAR} references, then
// validates it.
func Parse[T any](data []byte, target *T) error {
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), target); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return validate(target)
}

func validate[T any](target *T) error {
	if validator, ok := any(target).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}
	return nil
}
