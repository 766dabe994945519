// Package config loads the yaml configuration of the example binary.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	StorePath        string `yaml:"storePath"`
	MinimumFreeGB    int    `yaml:"minimumFreeGB"`
	LogLevel         string `yaml:"logLevel"`
	CompactBatchSize int    `yaml:"compactBatchSize"`
}

// Load reads the yaml file at path and fills in defaults. A missing file is
// not an error; the defaults are returned.
func Load(path string) (Config, error) {
	config := Config{
		StorePath:        "data",
		MinimumFreeGB:    1,
		LogLevel:         "info",
		CompactBatchSize: 100,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return config, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if config.StorePath == "" {
		config.StorePath = "data"
	}
	if config.MinimumFreeGB == 0 {
		config.MinimumFreeGB = 1
	}
	if config.CompactBatchSize == 0 {
		config.CompactBatchSize = 100
	}

	return config, nil
}
