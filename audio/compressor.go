// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package audio

import "math"

// silenceFloorDB is the level reported for samples at or near zero so
// the dB domain stays finite.
const silenceFloorDB = -100.0

// compressor is a feedforward soft-knee compressor. The gain computer
// and envelope follower run in the dB domain per sample.
type compressor struct {
	thresholdDB float64
	ratio       float64
	kneeDB      float64
	makeupDB    float64

	attackCoef  float64
	releaseCoef float64

	// envelope is the smoothed gain reduction in dB (>= 0).
	envelope float64
}

func (c *compressor) configure(sampleRate float64, cfg CompressorConfig) {
	c.thresholdDB = cfg.ThresholdDB
	c.ratio = cfg.Ratio
	c.kneeDB = cfg.KneeDB
	c.makeupDB = cfg.MakeupDB
	c.attackCoef = smoothingCoef(sampleRate, cfg.Attack.Seconds())
	c.releaseCoef = smoothingCoef(sampleRate, cfg.Release.Seconds())
}

// reduction returns the desired gain reduction in dB for an input
// level, applying the soft knee around the threshold.
func (c *compressor) reduction(levelDB float64) float64 {
	over := levelDB - c.thresholdDB
	switch {
	case over <= -c.kneeDB/2:
		return 0
	case over >= c.kneeDB/2:
		return over - over/c.ratio
	default:
		// Quadratic interpolation inside the knee.
		t := over + c.kneeDB/2
		return (1 - 1/c.ratio) * t * t / (2 * c.kneeDB)
	}
}

// process compresses the frame in place.
func (c *compressor) process(frame []float32) {
	for i, sample := range frame {
		levelDB := silenceFloorDB
		if abs := math.Abs(float64(sample)); abs > 0 {
			levelDB = 20 * math.Log10(abs)
			if levelDB < silenceFloorDB {
				levelDB = silenceFloorDB
			}
		}
		target := c.reduction(levelDB)
		coef := c.releaseCoef
		if target > c.envelope {
			coef = c.attackCoef
		}
		c.envelope = target + coef*(c.envelope-target)
		gainDB := c.makeupDB - c.envelope
		frame[i] = sample * float32(math.Pow(10, gainDB/20))
	}
}

func (c *compressor) reset() {
	c.envelope = 0
}

// smoothingCoef converts a time constant to a one-pole smoothing
// coefficient at the given sample rate. A zero time constant yields an
// instantaneous (coefficient zero) response.
func smoothingCoef(sampleRate, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return math.Exp(-1 / (sampleRate * seconds))
}
