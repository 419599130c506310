package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()

	assert.Equal(t, 9600, c.Serial.BaudRate)
	assert.Equal(t, 8, c.Serial.DataBits)
	assert.Equal(t, 1, c.Serial.StopBits)
	assert.Equal(t, "none", c.Serial.Parity)
	assert.Equal(t, 2*time.Second, c.Serial.ReadTimeout)
	assert.Equal(t, 2*time.Second, c.Serial.WriteTimeout)

	assert.Equal(t, 0x03, c.Hopper.Address)
	assert.Equal(t, "msb", c.Hopper.ByteOrder)
	assert.False(t, c.Hopper.StrictChecksum)

	assert.Equal(t, 3*time.Second, c.Monitor.PollInterval)
	assert.Equal(t, 100*time.Millisecond, c.Monitor.StopStep)
	assert.Equal(t, 2*time.Second, c.Monitor.StopTimeout)
	assert.Equal(t, time.Second, c.Monitor.ErrorBackoff)

	assert.Equal(t, 200, c.Safety.CoinCountThreshold)
	assert.Equal(t, 5, c.Safety.PaidMultiplierThreshold)
	assert.False(t, c.Safety.AutoStop)

	require.NoError(t, c.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
serial:
  port: /dev/ttyS3
  read_timeout: 1500ms
hopper:
  address: 5
  byte_order: lsb
safety:
  auto_stop: true
log:
  modules:
    serial: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyS3", c.Serial.Port)
	assert.Equal(t, 1500*time.Millisecond, c.Serial.ReadTimeout)
	assert.Equal(t, 9600, c.Serial.BaudRate)
	assert.Equal(t, 5, c.Hopper.Address)
	assert.Equal(t, "lsb", c.Hopper.ByteOrder)
	assert.True(t, c.Safety.AutoStop)
	assert.Equal(t, "debug", c.Log.Modules["serial"])
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hopper:\n  address: 3\n"), 0o644))

	t.Setenv("HOPPER_SERIAL_PORT", "/dev/ttyACM9")
	t.Setenv("HOPPER_HOPPER_ADDRESS", "7")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM9", c.Serial.Port)
	assert.Equal(t, 7, c.Hopper.Address)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"地址越界", "hopper:\n  address: 300\n"},
		{"字节序非法", "hopper:\n  byte_order: middle\n"},
		{"波特率非法", "serial:\n  baud_rate: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
