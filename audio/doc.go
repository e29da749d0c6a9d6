// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package audio cleans a raw capture stream for outbound transmission:
// a fixed chain of high-pass, low-pass, presence, compressor, and
// noise gate stages over float32 PCM frames, plus an instantaneous
// loudness reading for speaking detection.
//
// The pipeline is pull-based: it wraps a Source and is itself a
// Source, so it slots between the capture device and the outbound
// track. All processing is frame-driven; the ~10 ms gate tick counts
// samples, not wall time, so behavior is deterministic in tests.
package audio
