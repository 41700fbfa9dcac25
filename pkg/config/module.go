package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DEFAULT []byte

func readFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch filepath.Ext(path) {
	case ".json":
		return json.Unmarshal(data, config)
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	}

	return fmt.Errorf("not in a valid format")
}

// Process reads the provided configuration files in order, layering each
// over the compiled-in defaults. With no files, the default configuration
// is used.
func Process(configPaths []string) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(DEFAULT, &config); err != nil {
		return nil, fmt.Errorf("invalid default config: %v", err)
	}

	for _, path := range configPaths {
		if err := readFile(&config, path); err != nil {
			return nil, fmt.Errorf(
				"could not process config file %s: %v",
				path,
				err,
			)
		}
	}

	if config.Server.FPS <= 0 {
		return nil, fmt.Errorf("fps must be positive")
	}
	if config.Server.MaxGames <= 0 {
		return nil, fmt.Errorf("maxGames must be positive")
	}
	if len(config.Server.Layouts) == 0 {
		return nil, fmt.Errorf("at least one layout is required")
	}

	return &config, nil
}
