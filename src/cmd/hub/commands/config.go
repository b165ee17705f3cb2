package commands

import (
	"github.com/mosaicnetworks/hub/src/config"
)

// CLIConfig contains configuration for the Run command
type CLIConfig struct {
	Hub config.Config `mapstructure:",squash"`
}

// NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Hub: *config.NewDefaultConfig(),
	}
}
