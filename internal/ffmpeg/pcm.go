package ffmpeg

import (
	"encoding/binary"
)

// CrossfadeMixer blends the tail of an outgoing PCM stream with the head of
// an incoming one using a linear gain ramp over a fixed sample window. Both
// inputs must share the pipeline PCMFormat (s16le interleaved).
type CrossfadeMixer struct {
	totalFrames int
	doneFrames  int
	channels    int
}

// NewCrossfadeMixer creates a mixer spanning the given number of frames
// (sample instants across all channels).
func NewCrossfadeMixer(totalFrames, channels int) *CrossfadeMixer {
	if totalFrames < 1 {
		totalFrames = 1
	}
	if channels < 1 {
		channels = 2
	}
	return &CrossfadeMixer{totalFrames: totalFrames, channels: channels}
}

// Done reports whether the ramp has fully transitioned to the incoming
// stream.
func (m *CrossfadeMixer) Done() bool {
	return m.doneFrames >= m.totalFrames
}

// Mix blends equal-length tail and head buffers in place into dst, advancing
// the ramp position. All three slices must have the same length, which must
// be a multiple of the frame size (2 bytes × channels). Returns the number
// of bytes produced.
func (m *CrossfadeMixer) Mix(dst, tail, head []byte) int {
	frameBytes := 2 * m.channels
	n := min(len(tail), len(head))
	n -= n % frameBytes

	for off := 0; off < n; off += frameBytes {
		// Linear ramp: outgoing gain falls as incoming rises.
		t := float64(m.doneFrames) / float64(m.totalFrames)
		if t > 1 {
			t = 1
		}
		for c := 0; c < m.channels; c++ {
			i := off + c*2
			a := int16(binary.LittleEndian.Uint16(tail[i:]))
			b := int16(binary.LittleEndian.Uint16(head[i:]))
			mixed := float64(a)*(1-t) + float64(b)*t
			binary.LittleEndian.PutUint16(dst[i:], uint16(clampSample(mixed)))
		}
		m.doneFrames++
	}

	return n
}

// clampSample bounds a mixed value to the s16 range.
func clampSample(v float64) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int16(v)
	}
}
