// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package audio

import (
	"fmt"
	"time"
)

// FilterConfig parameterizes a single high-pass or low-pass section.
type FilterConfig struct {
	Enabled bool
	Freq    float64
	Q       float64
}

// PeakingConfig parameterizes the presence boost section.
type PeakingConfig struct {
	Enabled bool
	Freq    float64
	Q       float64
	GainDB  float64
}

// CompressorConfig parameterizes the soft-knee compressor.
type CompressorConfig struct {
	Enabled     bool
	ThresholdDB float64
	Ratio       float64
	KneeDB      float64
	Attack      time.Duration
	Release     time.Duration
	MakeupDB    float64
}

// GateConfig parameterizes the noise gate.
type GateConfig struct {
	Enabled     bool
	ThresholdDB float64
	Attack      time.Duration
	Release     time.Duration
}

// Config holds the full pipeline configuration. Stages run in a fixed
// order: high-pass, low-pass, presence, compressor, gate.
type Config struct {
	SampleRate float64

	HighPass   FilterConfig
	LowPass    FilterConfig
	Presence   PeakingConfig
	Compressor CompressorConfig
	Gate       GateConfig
}

// DefaultConfig returns the baseline voice-chat configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate: 48000,
		HighPass:   FilterConfig{Enabled: true, Freq: 80, Q: 0.707},
		LowPass:    FilterConfig{Enabled: true, Freq: 12000, Q: 0.707},
		Presence:   PeakingConfig{Enabled: false, Freq: 3000, Q: 1, GainDB: 3},
		Compressor: CompressorConfig{
			Enabled:     true,
			ThresholdDB: -24,
			Ratio:       3,
			KneeDB:      6,
			Attack:      5 * time.Millisecond,
			Release:     100 * time.Millisecond,
			MakeupDB:    6,
		},
		Gate: GateConfig{
			Enabled:     true,
			ThresholdDB: -50,
			Attack:      10 * time.Millisecond,
			Release:     200 * time.Millisecond,
		},
	}
}

func (c Config) validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %v", c.SampleRate)
	}
	nyquist := c.SampleRate / 2
	for name, f := range map[string]FilterConfig{"high-pass": c.HighPass, "low-pass": c.LowPass} {
		if f.Enabled && (f.Freq <= 0 || f.Freq >= nyquist) {
			return fmt.Errorf("%s frequency %v outside (0, %v)", name, f.Freq, nyquist)
		}
		if f.Enabled && f.Q <= 0 {
			return fmt.Errorf("%s Q must be positive, got %v", name, f.Q)
		}
	}
	if c.Presence.Enabled {
		if c.Presence.Freq <= 0 || c.Presence.Freq >= nyquist {
			return fmt.Errorf("presence frequency %v outside (0, %v)", c.Presence.Freq, nyquist)
		}
		if c.Presence.Q <= 0 {
			return fmt.Errorf("presence Q must be positive, got %v", c.Presence.Q)
		}
	}
	if c.Compressor.Enabled && c.Compressor.Ratio < 1 {
		return fmt.Errorf("compressor ratio must be >= 1, got %v", c.Compressor.Ratio)
	}
	return nil
}

// Update carries a partial configuration change. Nil sections are left
// untouched; within a section, nil fields are left untouched.
type Update struct {
	HighPass   *FilterUpdate
	LowPass    *FilterUpdate
	Presence   *PeakingUpdate
	Compressor *CompressorUpdate
	Gate       *GateUpdate
}

// FilterUpdate is a partial FilterConfig.
type FilterUpdate struct {
	Enabled *bool
	Freq    *float64
	Q       *float64
}

func (u *FilterUpdate) apply(cfg *FilterConfig) {
	if u.Enabled != nil {
		cfg.Enabled = *u.Enabled
	}
	if u.Freq != nil {
		cfg.Freq = *u.Freq
	}
	if u.Q != nil {
		cfg.Q = *u.Q
	}
}

// PeakingUpdate is a partial PeakingConfig.
type PeakingUpdate struct {
	Enabled *bool
	Freq    *float64
	Q       *float64
	GainDB  *float64
}

func (u *PeakingUpdate) apply(cfg *PeakingConfig) {
	if u.Enabled != nil {
		cfg.Enabled = *u.Enabled
	}
	if u.Freq != nil {
		cfg.Freq = *u.Freq
	}
	if u.Q != nil {
		cfg.Q = *u.Q
	}
	if u.GainDB != nil {
		cfg.GainDB = *u.GainDB
	}
}

// CompressorUpdate is a partial CompressorConfig.
type CompressorUpdate struct {
	Enabled     *bool
	ThresholdDB *float64
	Ratio       *float64
	KneeDB      *float64
	Attack      *time.Duration
	Release     *time.Duration
	MakeupDB    *float64
}

func (u *CompressorUpdate) apply(cfg *CompressorConfig) {
	if u.Enabled != nil {
		cfg.Enabled = *u.Enabled
	}
	if u.ThresholdDB != nil {
		cfg.ThresholdDB = *u.ThresholdDB
	}
	if u.Ratio != nil {
		cfg.Ratio = *u.Ratio
	}
	if u.KneeDB != nil {
		cfg.KneeDB = *u.KneeDB
	}
	if u.Attack != nil {
		cfg.Attack = *u.Attack
	}
	if u.Release != nil {
		cfg.Release = *u.Release
	}
	if u.MakeupDB != nil {
		cfg.MakeupDB = *u.MakeupDB
	}
}

// GateUpdate is a partial GateConfig.
type GateUpdate struct {
	Enabled     *bool
	ThresholdDB *float64
	Attack      *time.Duration
	Release     *time.Duration
}

func (u *GateUpdate) apply(cfg *GateConfig) {
	if u.Enabled != nil {
		cfg.Enabled = *u.Enabled
	}
	if u.ThresholdDB != nil {
		cfg.ThresholdDB = *u.ThresholdDB
	}
	if u.Attack != nil {
		cfg.Attack = *u.Attack
	}
	if u.Release != nil {
		cfg.Release = *u.Release
	}
}
