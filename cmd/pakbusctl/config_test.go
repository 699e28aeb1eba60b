// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, "localhost:6785", cfg.Endpoint)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
endpoint: 10.0.0.7:6785
station: 12
neighbor: 3
security_code: 4660
round_trip: 12s
timezone: Etc/GMT+7
watch:
  interval: 30s
  set: true
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7:6785", cfg.Endpoint)
	assert.EqualValues(t, 12, cfg.Station)
	assert.EqualValues(t, 3, cfg.Neighbor)
	assert.EqualValues(t, 0x1234, cfg.SecurityCode)
	assert.Equal(t, 12*time.Second, cfg.RoundTrip)
	assert.Equal(t, 30*time.Second, cfg.Watch.Interval)
	assert.True(t, cfg.Watch.Set)
	assert.Equal(t, "json", cfg.Log.Format)

	// untouched keys keep their defaults
	assert.EqualValues(t, 4094, cfg.Node)
	assert.Equal(t, 2*time.Second, cfg.Watch.Tolerance)
	assert.Equal(t, []string{"stderr"}, cfg.Log.Outputs)

	require.NoError(t, cfg.Validate())
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Etc/GMT+7", loc.String())
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("station: [1, 2\n"), 0o644))
	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "parsing config")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		errMsg string
	}{
		{"no endpoint", func(c *Config) { c.Endpoint = "" }, "endpoint is required"},
		{"zero node", func(c *Config) { c.Node = 0 }, "node address"},
		{"broadcast station", func(c *Config) { c.Station = 4095 }, "station address"},
		{"neighbor range", func(c *Config) { c.Neighbor = 5000 }, "neighbor address"},
		{"same address", func(c *Config) { c.Station = c.Node }, "must differ"},
		{"short round trip", func(c *Config) { c.RoundTrip = time.Second }, "round trip"},
		{"long round trip", func(c *Config) { c.RoundTrip = time.Minute }, "round trip"},
		{"pump interval", func(c *Config) { c.PumpInterval = 0 }, "pump interval"},
		{"timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}

func TestDefaultPath(t *testing.T) {
	assert.True(t, strings.HasSuffix(DefaultPath(), filepath.Join(".pakbus", "config.yaml")))
}
