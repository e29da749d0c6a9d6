// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the Hearth client configuration.
//
// Configuration comes from a single YAML file named by the
// HEARTH_CONFIG environment variable or a --config flag. There is no
// automatic discovery and environment variables do not override file
// values; the file is the single source of truth.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the Hearth client core.
type Config struct {
	// Relay configures the signaling transport.
	Relay RelayConfig `yaml:"relay"`

	// RTC configures peer sessions.
	RTC RTCConfig `yaml:"rtc"`

	// Audio configures the local audio pipeline.
	Audio AudioConfig `yaml:"audio"`
}

// RelayConfig configures the connection to the signaling relay.
type RelayConfig struct {
	// URL is the websocket endpoint of the relay (e.g.
	// "wss://relay.hearth.chat/ws").
	URL string `yaml:"url"`

	// Backoff controls automatic reconnection after an unexpected
	// disconnect.
	Backoff BackoffConfig `yaml:"backoff"`

	// QueueCapacity bounds the offline publish queue. When full, the
	// oldest queued message is evicted. Default: 100.
	QueueCapacity int `yaml:"queue_capacity"`

	// MaxSendAttempts bounds delivery attempts per queued message
	// before it is dropped and logged. Default: 3.
	MaxSendAttempts int `yaml:"max_send_attempts"`

	// HeartbeatInterval is the ping cadence on an established
	// connection. Zero disables heartbeats. Default: 25s.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// BackoffConfig is the reconnect backoff policy:
// delay(n) = min(Max, Base × Multiplier^n).
type BackoffConfig struct {
	Base       time.Duration `yaml:"base"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`

	// MaxAttempts is the reconnect budget before the transport gives
	// up and reports a persistent error. Default: 10.
	MaxAttempts int `yaml:"max_attempts"`
}

// RTCConfig configures peer link negotiation.
type RTCConfig struct {
	// ICEServers lists STUN/TURN servers handed to every new peer
	// link, in order.
	ICEServers []ICEServerConfig `yaml:"ice_servers"`

	// RelayOnly restricts candidate gathering to TURN relay
	// candidates. Default: false.
	RelayOnly bool `yaml:"relay_only"`

	// CandidateBufferCap bounds the per-peer buffer for ICE
	// candidates that arrive before the remote description. Default: 100.
	CandidateBufferCap int `yaml:"candidate_buffer_cap"`

	// GracePeriod is how long a transiently disconnected link may
	// stay down before it is torn down. Default: 4s.
	GracePeriod time.Duration `yaml:"grace_period"`

	// QualityInterval is the per-peer stats sampling cadence. Zero
	// disables sampling. Default: 2s.
	QualityInterval time.Duration `yaml:"quality_interval"`
}

// ICEServerConfig is one STUN or TURN server entry.
type ICEServerConfig struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

// AudioConfig selects the audio pipeline preset and optional overrides.
type AudioConfig struct {
	// Preset names a parameter bundle: clean, office, noisy, podcast.
	// Empty means the documented defaults.
	Preset string `yaml:"preset"`

	// GateThresholdDB overrides the preset's noise gate threshold
	// when non-zero.
	GateThresholdDB float64 `yaml:"gate_threshold_db"`
}

// Default returns the default configuration. The relay URL has no
// default — the config file (or flag) must provide it.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			Backoff: BackoffConfig{
				Base:        time.Second,
				Max:         30 * time.Second,
				Multiplier:  1.5,
				MaxAttempts: 10,
			},
			QueueCapacity:     100,
			MaxSendAttempts:   3,
			HeartbeatInterval: 25 * time.Second,
		},
		RTC: RTCConfig{
			ICEServers: []ICEServerConfig{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
			},
			CandidateBufferCap: 100,
			GracePeriod:        4 * time.Second,
			QualityInterval:    2 * time.Second,
		},
	}
}

// Load loads configuration from the file named by HEARTH_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv("HEARTH_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("HEARTH_CONFIG environment variable not set; " +
			"set it to the path of your hearth.yaml, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path, merged over Default().
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Relay.URL == "" {
		errs = append(errs, fmt.Errorf("relay.url is required"))
	}
	if c.Relay.Backoff.Base <= 0 {
		errs = append(errs, fmt.Errorf("relay.backoff.base must be positive"))
	}
	if c.Relay.Backoff.Max < c.Relay.Backoff.Base {
		errs = append(errs, fmt.Errorf("relay.backoff.max must be >= base"))
	}
	if c.Relay.Backoff.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("relay.backoff.multiplier must be >= 1"))
	}
	if c.Relay.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("relay.queue_capacity must be positive"))
	}
	if c.RTC.CandidateBufferCap <= 0 {
		errs = append(errs, fmt.Errorf("rtc.candidate_buffer_cap must be positive"))
	}
	if c.RTC.GracePeriod <= 0 {
		errs = append(errs, fmt.Errorf("rtc.grace_period must be positive"))
	}
	for i, server := range c.RTC.ICEServers {
		if len(server.URLs) == 0 {
			errs = append(errs, fmt.Errorf("rtc.ice_servers[%d].urls is empty", i))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
