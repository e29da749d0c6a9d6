// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
)

// SampleWriter consumes timed media samples. Satisfied by
// *webrtc.TrackLocalStaticSample.
type SampleWriter interface {
	WriteSample(media.Sample) error
}

// FeedTrack pulls ~10 ms frames from source, converts them to 16-bit
// little-endian PCM, and writes them to track until the source is
// exhausted or ctx is cancelled. Pacing comes from the source itself;
// a live capture stream blocks between frames.
func FeedTrack(ctx context.Context, source Source, track SampleWriter, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", sampleRate)
	}
	frame := make([]float32, sampleRate/100)
	for ctx.Err() == nil {
		n, err := source.ReadFrame(frame)
		if n > 0 {
			data := make([]byte, n*2)
			for i, s := range frame[:n] {
				binary.LittleEndian.PutUint16(data[i*2:], uint16(pcm16(s)))
			}
			sample := media.Sample{
				Data:     data,
				Duration: time.Duration(n) * time.Second / time.Duration(sampleRate),
			}
			if werr := track.WriteSample(sample); werr != nil {
				return fmt.Errorf("writing track sample: %w", werr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
	return ctx.Err()
}

// pcm16 converts a float32 sample in [-1, 1] to s16, clipping values
// outside the range.
func pcm16(s float32) int16 {
	v := math.Round(float64(s) * 32767)
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}
