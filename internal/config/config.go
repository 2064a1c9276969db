// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

// Package config holds the process-level configuration for cmd/bridge:
// where to listen, where the metrics endpoint lives, and how to reach the
// persistence layer (spec §6, out of core scope beyond the DSN string).
// The shape follows the teacher's data.Config (YAML, validated on parse),
// ported from launchpad.net/goyaml to the canonical gopkg.in/yaml.v2.
package config

import (
	"errors"
	"fmt"

	yaml "gopkg.in/yaml.v2"
)

// Config is the top-level process configuration read from a YAML file or
// produced by flags/environment in cmd/bridge.
type Config struct {
	Listen struct {
		Address string `yaml:"address"`
	} `yaml:"listen"`

	Metrics struct {
		Path string `yaml:"path"`
	} `yaml:"metrics"`

	Store struct {
		DSN string `yaml:"dsn"`
	} `yaml:"store"`

	Supervisor struct {
		StopTimeoutMs    int `yaml:"stop_timeout_ms"`
		RestartDelayMs   int `yaml:"restart_delay_ms"`
		InboundQueueSize int `yaml:"inbound_queue_size"`
	} `yaml:"supervisor"`
}

// Default returns a Config matching the values spec §5 pins down
// (1000-capacity inbound queue, >=500ms restart delay) plus the teacher's
// TerminationTimeout default for stop().
func Default() *Config {
	c := &Config{}
	c.Listen.Address = ":8080"
	c.Metrics.Path = "/metrics"
	c.Supervisor.StopTimeoutMs = 5000
	c.Supervisor.RestartDelayMs = 500
	c.Supervisor.InboundQueueSize = 1000
	return c
}

// Validate checks the invariants cmd/bridge relies on before calling
// Supervisor.Start.
func (c *Config) Validate() error {
	if c.Listen.Address == "" {
		return errors.New("config: listen.address must not be empty")
	}
	if c.Supervisor.InboundQueueSize <= 0 {
		return errors.New("config: supervisor.inbound_queue_size must be positive")
	}
	if c.Supervisor.RestartDelayMs < 500 {
		return fmt.Errorf("config: supervisor.restart_delay_ms must be >= 500 (spec §4.4 TIME_WAIT settling), got %d", c.Supervisor.RestartDelayMs)
	}
	return nil
}

// Parse reads a YAML document into a validated Config, the way the
// teacher's data.ParseConfig does for paprika's job file.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
