// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/hearth-chat/hearth/audio"
)

// pcmSource adapts a raw little-endian float32 PCM stream to
// audio.Source. The capture convention is 48 kHz mono.
type pcmSource struct {
	r   *bufio.Reader
	buf []byte
}

func newPCMSource(r io.Reader) audio.Source {
	return &pcmSource{r: bufio.NewReader(r)}
}

func (s *pcmSource) ReadFrame(frame []float32) (int, error) {
	want := len(frame) * 4
	if cap(s.buf) < want {
		s.buf = make([]byte, want)
	}
	n, err := io.ReadFull(s.r, s.buf[:want])
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	samples := n / 4
	for i := 0; i < samples; i++ {
		bits := binary.LittleEndian.Uint32(s.buf[i*4:])
		frame[i] = math.Float32frombits(bits)
	}
	return samples, err
}
