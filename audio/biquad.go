// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package audio

import "math"

// biquad is a second-order IIR filter section with RBJ cookbook
// coefficients. State is kept in float64 to avoid accumulating
// float32 rounding error across frames.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64

	x1, x2 float64
	y1, y2 float64
}

// setHighPass configures the section as a high-pass at freq Hz.
func (f *biquad) setHighPass(sampleRate, freq, q float64) {
	w0 := 2 * math.Pi * freq / sampleRate
	cosW0 := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)

	b0 := (1 + cosW0) / 2
	b1 := -(1 + cosW0)
	b2 := (1 + cosW0) / 2
	a0 := 1 + alpha
	a1 := -2 * cosW0
	a2 := 1 - alpha
	f.normalize(b0, b1, b2, a0, a1, a2)
}

// setLowPass configures the section as a low-pass at freq Hz.
func (f *biquad) setLowPass(sampleRate, freq, q float64) {
	w0 := 2 * math.Pi * freq / sampleRate
	cosW0 := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)

	b0 := (1 - cosW0) / 2
	b1 := 1 - cosW0
	b2 := (1 - cosW0) / 2
	a0 := 1 + alpha
	a1 := -2 * cosW0
	a2 := 1 - alpha
	f.normalize(b0, b1, b2, a0, a1, a2)
}

// setPeaking configures the section as a peaking EQ at freq Hz with
// gainDB of boost (or cut, when negative).
func (f *biquad) setPeaking(sampleRate, freq, q, gainDB float64) {
	amp := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / sampleRate
	cosW0 := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)

	b0 := 1 + alpha*amp
	b1 := -2 * cosW0
	b2 := 1 - alpha*amp
	a0 := 1 + alpha/amp
	a1 := -2 * cosW0
	a2 := 1 - alpha/amp
	f.normalize(b0, b1, b2, a0, a1, a2)
}

func (f *biquad) normalize(b0, b1, b2, a0, a1, a2 float64) {
	f.b0 = b0 / a0
	f.b1 = b1 / a0
	f.b2 = b2 / a0
	f.a1 = a1 / a0
	f.a2 = a2 / a0
}

// process filters the frame in place.
func (f *biquad) process(frame []float32) {
	for i, sample := range frame {
		x := float64(sample)
		y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
		f.x2, f.x1 = f.x1, x
		f.y2, f.y1 = f.y1, y
		frame[i] = float32(y)
	}
}

// reset clears the filter state.
func (f *biquad) reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}
