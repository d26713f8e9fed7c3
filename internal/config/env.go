// Package config provides process configuration for go-eyeface commands.
//
// Values come from EYEFACE_* environment variables; commands apply
// flag overrides on top.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Source kinds accepted by EYEFACE_SOURCE.
const (
	SourceSerial = "serial"
	SourceBridge = "bridge"
	SourceReplay = "replay"
)

// Env holds the process settings. Conditioning tunables live in the
// settings file named by ConfigPath, not here.
type Env struct {
	ConfigPath     string        `env:"EYEFACE_CONFIG"          envDefault:"eyeface.yaml"`
	ReloadInterval time.Duration `env:"EYEFACE_RELOAD_INTERVAL" envDefault:"2s"`

	Listen string `env:"EYEFACE_LISTEN" envDefault:":8090"`

	Source     string `env:"EYEFACE_SOURCE"      envDefault:"replay"`
	SerialPort string `env:"EYEFACE_SERIAL_PORT" envDefault:"/dev/ttyUSB0"`
	SerialBaud int    `env:"EYEFACE_SERIAL_BAUD" envDefault:"115200"`
	BridgeURL  string `env:"EYEFACE_BRIDGE_URL"  envDefault:"ws://127.0.0.1:8765/gaze"`
	ReplayPath string `env:"EYEFACE_REPLAY"      envDefault:"testdata/capture.jsonl"`
	ReplayLoop bool   `env:"EYEFACE_REPLAY_LOOP" envDefault:"true"`

	RecordDB string `env:"EYEFACE_RECORD_DB"`

	LogLevel  string `env:"EYEFACE_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"EYEFACE_LOG_FORMAT" envDefault:"text"`
}

// Load parses the environment into an Env and validates it.
func Load() (Env, error) {
	var cfg Env
	if err := env.Parse(&cfg); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Env{}, err
	}
	return cfg, nil
}

// Validate checks the fields that have a fixed set of values.
func (e Env) Validate() error {
	switch e.Source {
	case SourceSerial, SourceBridge, SourceReplay:
	default:
		return fmt.Errorf("source must be one of %s, %s, %s; got %q", SourceSerial, SourceBridge, SourceReplay, e.Source)
	}
	if e.ReloadInterval < 0 {
		return fmt.Errorf("reload interval must not be negative, got %v", e.ReloadInterval)
	}
	if e.Source == SourceSerial && e.SerialPort == "" {
		return fmt.Errorf("serial source requires EYEFACE_SERIAL_PORT")
	}
	return nil
}
