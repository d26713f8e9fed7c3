package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "eyeface.yaml", cfg.ConfigPath)
	assert.Equal(t, 2*time.Second, cfg.ReloadInterval)
	assert.Equal(t, ":8090", cfg.Listen)
	assert.Equal(t, SourceReplay, cfg.Source)
	assert.Equal(t, 115200, cfg.SerialBaud)
	assert.True(t, cfg.ReplayLoop)
	assert.Empty(t, cfg.RecordDB)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("EYEFACE_SOURCE", "serial")
	t.Setenv("EYEFACE_SERIAL_PORT", "/dev/ttyACM0")
	t.Setenv("EYEFACE_SERIAL_BAUD", "230400")
	t.Setenv("EYEFACE_RECORD_DB", "/tmp/eyeface.db")
	t.Setenv("EYEFACE_RELOAD_INTERVAL", "500ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, SourceSerial, cfg.Source)
	assert.Equal(t, "/dev/ttyACM0", cfg.SerialPort)
	assert.Equal(t, 230400, cfg.SerialBaud)
	assert.Equal(t, "/tmp/eyeface.db", cfg.RecordDB)
	assert.Equal(t, 500*time.Millisecond, cfg.ReloadInterval)
}

func TestLoad_RejectsUnknownSource(t *testing.T) {
	t.Setenv("EYEFACE_SOURCE", "usb")
	_, err := Load()
	assert.ErrorContains(t, err, "source must be one of")
}

func TestLoad_RejectsMalformedValues(t *testing.T) {
	t.Setenv("EYEFACE_SERIAL_BAUD", "fast")
	_, err := Load()
	assert.ErrorContains(t, err, "parse env")
}
