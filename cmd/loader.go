package cmd

import (
	_ "embed" // Required for go:embed
	"fmt"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-notification-service/notifyservice/config"
)

//go:embed notifier/config.yaml
var configFile []byte

// Load parses the embedded configuration file for the service. The result is
// the Stage 1 config; callers still apply environment overrides.
func Load(logger zerolog.Logger) (*config.AppConfig, error) {
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedded yaml config: %w", err)
	}
	return config.NewConfigFromYaml(&yamlCfg, logger)
}
