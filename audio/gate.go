// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package audio

import "math"

// blockDuration is the metering interval. The meter accumulates this
// many seconds of samples before emitting a level, so the gate decides
// once per block regardless of frame size.
const blockDuration = 0.01

// meter accumulates squared samples into fixed ~10 ms blocks and
// reports the RMS level of each completed block in dBFS.
type meter struct {
	blockSize int
	sumSq     float64
	count     int
	levelDB   float64

	// onBlock is invoked with the block level each time a block
	// completes.
	onBlock func(levelDB float64)
}

func (m *meter) configure(sampleRate float64) {
	m.blockSize = int(sampleRate * blockDuration)
	if m.blockSize < 1 {
		m.blockSize = 1
	}
	m.levelDB = silenceFloorDB
}

// observe feeds a frame through the meter. It does not modify the
// frame.
func (m *meter) observe(frame []float32) {
	for _, sample := range frame {
		s := float64(sample)
		m.sumSq += s * s
		m.count++
		if m.count < m.blockSize {
			continue
		}
		rms := math.Sqrt(m.sumSq / float64(m.count))
		m.levelDB = silenceFloorDB
		if rms > 0 {
			if db := 20 * math.Log10(rms); db > silenceFloorDB {
				m.levelDB = db
			}
		}
		m.sumSq = 0
		m.count = 0
		if m.onBlock != nil {
			m.onBlock(m.levelDB)
		}
	}
}

func (m *meter) reset() {
	m.sumSq = 0
	m.count = 0
	m.levelDB = silenceFloorDB
}

// gate is a noise gate driven by the meter's block levels. The target
// gain snaps to 1 when a block exceeds the threshold and 0 otherwise;
// the applied gain follows the target with asymmetric smoothing so the
// gate opens faster than it closes.
type gate struct {
	thresholdDB float64
	attackCoef  float64
	releaseCoef float64

	target float64
	gain   float64
}

func (g *gate) configure(sampleRate float64, cfg GateConfig) {
	g.thresholdDB = cfg.ThresholdDB
	g.attackCoef = smoothingCoef(sampleRate, cfg.Attack.Seconds())
	g.releaseCoef = smoothingCoef(sampleRate, cfg.Release.Seconds())
}

// update records the latest block level decision.
func (g *gate) update(levelDB float64) {
	if levelDB >= g.thresholdDB {
		g.target = 1
	} else {
		g.target = 0
	}
}

// process applies the smoothed gate gain to the frame in place.
func (g *gate) process(frame []float32) {
	for i, sample := range frame {
		coef := g.releaseCoef
		if g.target > g.gain {
			coef = g.attackCoef
		}
		g.gain = g.target + coef*(g.gain-g.target)
		frame[i] = sample * float32(g.gain)
	}
}

func (g *gate) reset() {
	g.target = 0
	g.gain = 0
}
