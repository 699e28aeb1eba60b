// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/destiny/pakbus"
)

// DefaultPort is the TCP port dataloggers listen on for PakBus.
const DefaultPort = 6785

// Config holds the pakbusctl settings.
type Config struct {
	// Endpoint is the host:port of the datalogger.
	Endpoint       string        `yaml:"endpoint"`
	Node           uint16        `yaml:"node"`
	Station        uint16        `yaml:"station"`
	Neighbor       uint16        `yaml:"neighbor"`
	SecurityCode   uint16        `yaml:"security_code"`
	RoundTrip      time.Duration `yaml:"round_trip"`
	LinkDelay      time.Duration `yaml:"link_delay"`
	AllowUnquoted  bool          `yaml:"allow_unquoted"`
	VerifyInterval uint16        `yaml:"verify_interval"`
	// Timezone is the zone the logger clock is kept in.
	Timezone       string        `yaml:"timezone"`
	// PumpInterval is how often timers are advanced when no input arrives.
	PumpInterval   time.Duration `yaml:"pump_interval"`

	Watch WatchConfig `yaml:"watch"`
	Log   LogConfig   `yaml:"log"`
}

type WatchConfig struct {
	Interval      time.Duration `yaml:"interval"`
	Tolerance     time.Duration `yaml:"tolerance"`
	// Set corrects the logger clock when it drifts past Tolerance.
	Set           bool          `yaml:"set"`
	MetricsListen string        `yaml:"metrics_listen"`
}

type LogConfig struct {
	Level       string         `yaml:"level"`
	Format      string         `yaml:"format"`
	Outputs     []string       `yaml:"outputs"`
	Development bool           `yaml:"development"`
	Rotation    RotationConfig `yaml:"rotation"`
}

type RotationConfig struct {
	Enable     bool   `yaml:"enable"`
	Filename   string `yaml:"filename"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// DefaultConfig returns the settings used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:       fmt.Sprintf("localhost:%d", DefaultPort),
		Node:           4094,
		Station:        1,
		RoundTrip:      pakbus.DefaultRoundTrip,
		VerifyInterval: 60,
		Timezone:       "Local",
		PumpInterval:   100 * time.Millisecond,
		Watch: WatchConfig{
			Interval:      time.Minute,
			Tolerance:     2 * time.Second,
			MetricsListen: ":9109",
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
		},
	}
}

// DefaultPath returns ~/.pakbus/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pakbus/config.yaml"
	}
	return filepath.Join(home, ".pakbus", "config.yaml")
}

// LoadConfig reads the file at path over the defaults. A missing file is
// not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the addresses and intervals.
func (c *Config) Validate() error {
	switch {
	case c.Endpoint == "":
		return errors.New("endpoint is required")
	case c.Node == 0 || pakbus.Address(c.Node) >= pakbus.MaxAddress:
		return fmt.Errorf("node address %d out of range 1..%d", c.Node, pakbus.MaxAddress-1)
	case c.Station == 0 || pakbus.Address(c.Station) >= pakbus.MaxAddress:
		return fmt.Errorf("station address %d out of range 1..%d", c.Station, pakbus.MaxAddress-1)
	case pakbus.Address(c.Neighbor) >= pakbus.MaxAddress:
		return fmt.Errorf("neighbor address %d out of range", c.Neighbor)
	case c.Station == c.Node:
		return errors.New("station and node addresses must differ")
	case c.RoundTrip < pakbus.MinRoundTrip || c.RoundTrip > pakbus.MaxRoundTrip:
		return fmt.Errorf("round trip %s out of range %s..%s", c.RoundTrip, pakbus.MinRoundTrip, pakbus.MaxRoundTrip)
	case c.PumpInterval <= 0:
		return errors.New("pump interval must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
