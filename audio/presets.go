// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package audio

import "fmt"

// Preset returns a named configuration tuned for a capture
// environment. Known presets are "clean", "office", "noisy", and
// "podcast".
func Preset(name string) (Config, error) {
	cfg := DefaultConfig()
	switch name {
	case "clean":
		// Quiet room with a decent microphone: light touch.
		cfg.Gate.ThresholdDB = -60
		cfg.Compressor.Ratio = 2
		cfg.Presence.Enabled = false
	case "office":
		// Keyboard clatter and HVAC rumble.
		cfg.HighPass.Freq = 100
		cfg.Gate.ThresholdDB = -50
	case "noisy":
		// Open-plan or street noise: aggressive gate and squash.
		cfg.HighPass.Freq = 120
		cfg.Gate.ThresholdDB = -40
		cfg.Compressor.Ratio = 4
	case "podcast":
		// Broadcast voice: presence lift and denser compression.
		cfg.Presence.Enabled = true
		cfg.Presence.GainDB = 4
		cfg.Compressor.Ratio = 3
		cfg.Compressor.MakeupDB = 8
		cfg.Gate.ThresholdDB = -55
	default:
		return Config{}, fmt.Errorf("unknown audio preset %q", name)
	}
	return cfg, nil
}
