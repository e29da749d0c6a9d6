// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package audio

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by pipeline operations after Close.
var ErrClosed = errors.New("audio: pipeline closed")

// Source delivers mono float32 PCM frames. ReadFrame fills frame and
// returns the number of samples written, following the io.Reader
// contract for short reads and errors.
type Source interface {
	ReadFrame(frame []float32) (int, error)
}

// Pipeline pulls frames from a Source and runs them through the
// processing chain. It is itself a Source, so pipelines compose with
// anything that consumes one.
type Pipeline struct {
	source Source

	mu         sync.Mutex
	cfg        Config
	highPass   biquad
	lowPass    biquad
	presence   biquad
	compressor compressor
	meter      meter
	gate       gate
	closed     bool

	// level holds the latest block level as a float64 bit pattern.
	level atomic.Uint64
}

// Build wraps source with a pipeline configured by cfg.
func Build(source Source, cfg Config) (*Pipeline, error) {
	if source == nil {
		return nil, errors.New("audio: nil source")
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("audio config: %w", err)
	}
	p := &Pipeline{source: source}
	p.level.Store(math.Float64bits(silenceFloorDB))
	p.meter.onBlock = func(levelDB float64) {
		p.level.Store(math.Float64bits(levelDB))
		p.gate.update(levelDB)
	}
	p.configure(cfg)
	return p, nil
}

// configure reapplies cfg to every stage. Callers hold mu except
// during construction.
func (p *Pipeline) configure(cfg Config) {
	p.cfg = cfg
	p.highPass.setHighPass(cfg.SampleRate, cfg.HighPass.Freq, cfg.HighPass.Q)
	p.lowPass.setLowPass(cfg.SampleRate, cfg.LowPass.Freq, cfg.LowPass.Q)
	p.presence.setPeaking(cfg.SampleRate, cfg.Presence.Freq, cfg.Presence.Q, cfg.Presence.GainDB)
	p.compressor.configure(cfg.SampleRate, cfg.Compressor)
	p.meter.configure(cfg.SampleRate)
	p.gate.configure(cfg.SampleRate, cfg.Gate)
}

// ReadFrame pulls one frame from the source and processes it in place.
func (p *Pipeline) ReadFrame(frame []float32) (int, error) {
	n, err := p.source.ReadFrame(frame)
	if n == 0 {
		return n, err
	}
	got := frame[:n]

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	if p.cfg.HighPass.Enabled {
		p.highPass.process(got)
	}
	if p.cfg.LowPass.Enabled {
		p.lowPass.process(got)
	}
	if p.cfg.Presence.Enabled {
		p.presence.process(got)
	}
	if p.cfg.Compressor.Enabled {
		p.compressor.process(got)
	}
	// The meter always runs: CurrentLevel reports even when the gate
	// is disabled.
	p.meter.observe(got)
	if p.cfg.Gate.Enabled {
		p.gate.process(got)
	}
	return n, err
}

// UpdateConfig applies a partial configuration change while the
// pipeline keeps running. Filter state is preserved where the section
// is unchanged so audio does not click.
func (p *Pipeline) UpdateConfig(update Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	cfg := p.cfg
	if update.HighPass != nil {
		update.HighPass.apply(&cfg.HighPass)
	}
	if update.LowPass != nil {
		update.LowPass.apply(&cfg.LowPass)
	}
	if update.Presence != nil {
		update.Presence.apply(&cfg.Presence)
	}
	if update.Compressor != nil {
		update.Compressor.apply(&cfg.Compressor)
	}
	if update.Gate != nil {
		update.Gate.apply(&cfg.Gate)
	}
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	p.configure(cfg)
	return nil
}

// Config returns a copy of the active configuration.
func (p *Pipeline) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// CurrentLevel returns the most recent metering block's RMS level in
// dBFS. Safe to call from any goroutine.
func (p *Pipeline) CurrentLevel() float64 {
	return math.Float64frombits(p.level.Load())
}

// Close marks the pipeline closed. Subsequent ReadFrame and
// UpdateConfig calls return ErrClosed.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.closed = true
	p.highPass.reset()
	p.lowPass.reset()
	p.presence.reset()
	p.compressor.reset()
	p.meter.reset()
	p.gate.reset()
	return nil
}
