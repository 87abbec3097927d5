package backup

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadSystemConfig reads a YAML configuration file, applies defaults and
// environment overrides, and validates the result. A missing path yields the
// default configuration.
func LoadSystemConfig(path string) (*SystemConfig, error) {
	config := &SystemConfig{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, NewValidationError(fmt.Sprintf("failed to read configuration file %s", path), err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, NewValidationError("failed to parse configuration file", err)
		}
	}

	config.SetDefaults()
	config.LoadFromEnvironment()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// SaveSystemConfig writes a configuration file with owner-only permissions.
// Used by the init command to emit a starting configuration.
func SaveSystemConfig(config *SystemConfig, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return NewValidationError("failed to marshal configuration", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return NewStorageError(fmt.Sprintf("failed to write configuration file %s", path), err)
	}
	return nil
}
