package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fako1024/brewster/pkg/brewometer"
	"github.com/fako1024/brewster/pkg/calibration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Nil(t, err)
	assert.Equal(t, brewometer.DefaultSlots(), cfg.Slots)
	assert.Equal(t, calibration.DefaultTable(), cfg.Calibration)
	assert.Equal(t, 1, cfg.Parallelism)
}

func TestLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brewster.json")
	require.Nil(t, os.WriteFile(path, []byte(`{"database": "/var/lib/brewster.db", "parallelism": 4, "mqtt": {"broker": "tcp://localhost:1883"}}`), 0644))

	cfg, err := Load(path)
	require.Nil(t, err)
	assert.Equal(t, "/var/lib/brewster.db", cfg.Database)
	assert.Equal(t, 4, cfg.Parallelism)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "Brew", cfg.ProductName)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BREWSTER_DB", "/tmp/env.db")
	t.Setenv("BREWSTER_INFLUX_BUCKET", "brewing")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Nil(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.Database)
	assert.Equal(t, "brewing", cfg.Influx.Bucket)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brewster.json")

	cfg := Default()
	cfg.Slots.Tilt = 0x3f
	cfg.Calibration = calibration.Table{Measured: []float64{0, 100}, Reference: []float64{1, 1.1}}
	require.Nil(t, cfg.Save(path))

	loaded, err := Load(path)
	require.Nil(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no database", func(c *Config) { c.Database = "" }},
		{"bad calibration", func(c *Config) { c.Calibration.Reference = c.Calibration.Reference[:2] }},
		{"zero slot", func(c *Config) { c.Slots.Battery = 0 }},
		{"zero parallelism", func(c *Config) { c.Parallelism = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			assert.NotNil(t, cfg.Validate())
		})
	}
	assert.Nil(t, Default().Validate())
}

func TestInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brewster.json")
	require.Nil(t, os.WriteFile(path, []byte(`{"parallelism": "many"}`), 0644))

	_, err := Load(path)
	assert.NotNil(t, err)
}
