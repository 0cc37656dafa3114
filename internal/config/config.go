// Package config loads the GCS core's configuration: which UDP ports to
// discover UAVs on, MAVLink timeouts, and logging. A Config is built
// from Default(), overlaid with a YAML file when one is given, then
// with GCS_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all core configuration.
type Config struct {
	Discovery DiscoveryConfig `yaml:"discovery"`
	MAVLink   MAVLinkConfig   `yaml:"mavlink"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DiscoveryConfig controls which UDP ports discovery opens Links on and
// how UAV display names are derived from the port
// ("<prefix><port-offset>").
type DiscoveryConfig struct {
	PeerHost    string `yaml:"peer_host"`
	Ports       []int  `yaml:"ports"`
	NamePrefix  string `yaml:"name_prefix"`
	NameOffset  int    `yaml:"name_offset"`
	HandshakeMs int    `yaml:"handshake_timeout_ms"`
}

// MAVLinkConfig holds protocol-level timeouts and the GCS identity.
type MAVLinkConfig struct {
	SourceSystem      uint8 `yaml:"source_system"`
	SourceComponent   uint8 `yaml:"source_component"`
	HeartbeatPeriodMs int   `yaml:"heartbeat_period_ms"`
	RequestTimeoutMs  int   `yaml:"request_timeout_ms"` // per MISSION_REQUEST wait
	AckTimeoutMs      int   `yaml:"ack_timeout_ms"`     // MISSION_ACK wait
	ArmTimeoutMs      int   `yaml:"arm_timeout_ms"`
	ModeTimeoutMs     int   `yaml:"mode_timeout_ms"`
	StaleAfterMs      int   `yaml:"stale_after_ms"` // heartbeat-stale threshold
	SweepIntervalMs   int   `yaml:"sweep_interval_ms"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns the stock configuration: one port (14550), a 10s
// mission-request timeout, 5s ack timeout, 10s arm/mode timeouts, 60s
// heartbeat-stale threshold, 5s discovery handshake and sweep.
func Default() *Config {
	return &Config{
		Discovery: DiscoveryConfig{
			PeerHost:    "127.0.0.1",
			Ports:       []int{14550},
			NamePrefix:  "БВС-",
			NameOffset:  219,
			HandshakeMs: 5000,
		},
		MAVLink: MAVLinkConfig{
			SourceSystem:      250,
			SourceComponent:   1,
			HeartbeatPeriodMs: 1000,
			RequestTimeoutMs:  10000,
			AckTimeoutMs:      5000,
			ArmTimeoutMs:      10000,
			ModeTimeoutMs:     10000,
			StaleAfterMs:      60000,
			SweepIntervalMs:   5000,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Validate checks the configuration for obviously broken values.
func (c *Config) Validate() error {
	if len(c.Discovery.Ports) == 0 {
		return fmt.Errorf("discovery.ports must list at least one port")
	}
	for _, p := range c.Discovery.Ports {
		if p < 1 || p > 65535 {
			return fmt.Errorf("invalid discovery port: %d", p)
		}
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	return nil
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.MAVLink.RequestTimeoutMs) * time.Millisecond
}
func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.MAVLink.AckTimeoutMs) * time.Millisecond
}
func (c *Config) ArmTimeout() time.Duration {
	return time.Duration(c.MAVLink.ArmTimeoutMs) * time.Millisecond
}
func (c *Config) ModeTimeout() time.Duration {
	return time.Duration(c.MAVLink.ModeTimeoutMs) * time.Millisecond
}
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.MAVLink.StaleAfterMs) * time.Millisecond
}
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.MAVLink.SweepIntervalMs) * time.Millisecond
}
func (c *Config) HeartbeatPeriod() time.Duration {
	return time.Duration(c.MAVLink.HeartbeatPeriodMs) * time.Millisecond
}
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Discovery.HandshakeMs) * time.Millisecond
}

// Load reads a YAML config file, falling back to Default() values for
// anything unset. A missing file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides layers GCS_* environment variables over
// file-loaded values.
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("GCS_PEER_HOST"); host != "" {
		cfg.Discovery.PeerHost = host
	}
	if level := os.Getenv("GCS_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if offset := os.Getenv("GCS_NAME_OFFSET"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			cfg.Discovery.NameOffset = n
		}
	}
}
