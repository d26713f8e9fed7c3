package app

import (
	"fmt"

	"github.com/teslashibe/go-eyeface/internal/config"
)

// Config holds everything needed to assemble the application.
type Config struct {
	config.Env

	Debug       bool // general debug logging
	DebugCycles bool // per-cycle traces
}

// ConfigError reports an invalid application setting.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Message)
}

// Validate checks the settings New cannot work without.
func (c Config) Validate() error {
	if err := c.Env.Validate(); err != nil {
		return &ConfigError{Field: "env", Message: err.Error()}
	}
	if c.ConfigPath == "" {
		return &ConfigError{Field: "config", Message: "settings file path is required"}
	}
	if c.Source == config.SourceReplay && c.ReplayPath == "" {
		return &ConfigError{Field: "replay", Message: "replay source requires a capture file"}
	}
	if c.Source == config.SourceBridge && c.BridgeURL == "" {
		return &ConfigError{Field: "bridge_url", Message: "bridge source requires a URL"}
	}
	return nil
}
