// Package audio provides the in-memory PCM buffer used throughout the
// generation pipeline and an ffmpeg-backed codec for moving buffers to and
// from audio files.
package audio

import (
	"errors"
	"math"
	"time"
)

// Static errors for buffer operations.
var (
	// ErrInvalidSampleRate is returned when a buffer has a non-positive sample rate.
	ErrInvalidSampleRate = errors.New("audio: sample rate must be positive")
	// ErrInvalidChannels is returned when a buffer has a non-positive channel count.
	ErrInvalidChannels = errors.New("audio: channel count must be positive")
	// ErrMisalignedSamples is returned when the sample count is not a multiple of the channel count.
	ErrMisalignedSamples = errors.New("audio: sample count is not a multiple of channel count")
)

// Buffer is a block of interleaved floating point PCM samples in [-1, 1].
//
// A frame is one sample per channel. All lengths and offsets exposed by Buffer
// are expressed in frames unless stated otherwise.
type Buffer struct {
	// Samples holds interleaved samples (L R L R ... for stereo).
	Samples []float32
	// SampleRate is the number of frames per second.
	SampleRate int
	// Channels is the number of interleaved channels.
	Channels int
}

// NewBuffer allocates a silent buffer holding the given number of frames.
func NewBuffer(frames, sampleRate, channels int) Buffer {
	if frames < 0 {
		frames = 0
	}
	return Buffer{
		Samples:    make([]float32, frames*channels),
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

// Validate checks the buffer's format fields and sample alignment.
func (b Buffer) Validate() error {
	if b.SampleRate <= 0 {
		return ErrInvalidSampleRate
	}
	if b.Channels <= 0 {
		return ErrInvalidChannels
	}
	if len(b.Samples)%b.Channels != 0 {
		return ErrMisalignedSamples
	}
	return nil
}

// IsEmpty reports whether the buffer holds no samples.
func (b Buffer) IsEmpty() bool {
	return len(b.Samples) == 0
}

// Frames returns the number of frames in the buffer.
func (b Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// FramesFor converts a duration to a frame count at the buffer's sample rate.
func (b Buffer) FramesFor(d time.Duration) int {
	return FramesFor(d, b.SampleRate)
}

// Clone returns a deep copy of the buffer.
func (b Buffer) Clone() Buffer {
	samples := make([]float32, len(b.Samples))
	copy(samples, b.Samples)
	return Buffer{Samples: samples, SampleRate: b.SampleRate, Channels: b.Channels}
}

// Slice returns the frames in [from, to) sharing the underlying storage.
// Bounds are clamped to the buffer.
func (b Buffer) Slice(from, to int) Buffer {
	n := b.Frames()
	from = min(max(from, 0), n)
	to = min(max(to, from), n)
	return Buffer{
		Samples:    b.Samples[from*b.Channels : to*b.Channels],
		SampleRate: b.SampleRate,
		Channels:   b.Channels,
	}
}

// Fit returns a buffer of exactly frames frames: longer buffers are
// truncated, shorter ones are padded with silence. The receiver is not
// modified when padding is needed.
func (b Buffer) Fit(frames int) Buffer {
	switch n := b.Frames(); {
	case n == frames:
		return b
	case n > frames:
		return b.Slice(0, frames)
	default:
		out := NewBuffer(frames, b.SampleRate, b.Channels)
		copy(out.Samples, b.Samples)
		return out
	}
}

// FramesFor converts a duration to a frame count at sampleRate, rounding to
// the nearest frame.
func FramesFor(d time.Duration, sampleRate int) int {
	return int(math.Round(d.Seconds() * float64(sampleRate)))
}

// Clip limits a sample to the valid [-1, 1] amplitude range.
func Clip(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
