package extended

import (
	"fmt"
	"math"
	"time"

	"github.com/maauso/longtrack-api/internal/audio"
)

// Curve is a crossfade gain curve.
type Curve string

const (
	// CurveEqualPower uses cos/sin gains so uncorrelated material keeps a
	// constant perceived loudness through the transition.
	CurveEqualPower Curve = "equal_power"
	// CurveLinear uses 1-t / t amplitude gains.
	CurveLinear Curve = "linear"
	// CurveSmoothstep uses the 3t^2 - 2t^3 S-curve.
	CurveSmoothstep Curve = "smoothstep"
)

// IsValid reports whether c names a known curve. The empty curve is valid
// and means CurveEqualPower.
func (c Curve) IsValid() bool {
	switch c {
	case "", CurveEqualPower, CurveLinear, CurveSmoothstep:
		return true
	default:
		return false
	}
}

// Gains returns the fade-out and fade-in gains at position t in [0, 1].
func (c Curve) Gains(t float64) (out, in float64) {
	t = min(max(t, 0), 1)
	switch c {
	case CurveLinear:
		return 1 - t, t
	case CurveSmoothstep:
		g := t * t * (3 - 2*t)
		return 1 - g, g
	default:
		return math.Cos(t * math.Pi / 2), math.Sin(t * math.Pi / 2)
	}
}

// Stitch merges next onto the end of acc across their shared overlap.
//
// The last overlap of acc and the first overlap of next cover the same
// stretch of the track. The first crossfade frames of that stretch blend acc
// out and next in; the remainder of the stretch takes next's samples, so
// the result is acc[:len-overlap] ++ blend ++ next[crossfade:]. When either
// buffer is shorter than the overlap, the overlap shrinks to fit.
// The fade window sits at the start of the overlap, not its end: blending
// at the end would hand back to acc after next had already taken over.
//
// An empty acc returns next unchanged. Otherwise acc's storage is reused
// for the result, so callers must not keep using acc afterwards.
func Stitch(acc, next audio.Buffer, overlap, crossfade time.Duration, curve Curve) (audio.Buffer, error) {
	if acc.IsEmpty() {
		return next, nil
	}
	if acc.SampleRate != next.SampleRate || acc.Channels != next.Channels {
		return audio.Buffer{}, &StitchError{Reason: fmt.Sprintf(
			"format mismatch: accumulator %d ch @ %d Hz, segment %d ch @ %d Hz",
			acc.Channels, acc.SampleRate, next.Channels, next.SampleRate)}
	}
	if err := next.Validate(); err != nil {
		return audio.Buffer{}, &StitchError{Reason: err.Error()}
	}

	overlapFrames := min(next.FramesFor(overlap), acc.Frames(), next.Frames())
	if overlapFrames <= 0 {
		return audio.Buffer{}, &StitchError{Reason: "overlap region is empty"}
	}
	fadeFrames := min(next.FramesFor(crossfade), overlapFrames)

	ch := acc.Channels
	head := acc.Frames() - overlapFrames

	// Blend before appending: the append below may overwrite acc's tail.
	blend := make([]float32, fadeFrames*ch)
	for j := 0; j < fadeFrames; j++ {
		gOut, gIn := curve.Gains(float64(j) / float64(fadeFrames))
		for c := 0; c < ch; c++ {
			a := float64(acc.Samples[(head+j)*ch+c])
			b := float64(next.Samples[j*ch+c])
			blend[j*ch+c] = audio.Clip(float32(a*gOut + b*gIn))
		}
	}

	samples := append(acc.Samples[:head*ch], next.Samples...)
	copy(samples[head*ch:], blend)

	return audio.Buffer{
		Samples:    samples,
		SampleRate: acc.SampleRate,
		Channels:   ch,
	}, nil
}

// applyEdgeFade ramps the first and last frames of buf in and out linearly.
// Buffers shorter than two ramps are left alone.
func applyEdgeFade(buf audio.Buffer, frames int) {
	n := buf.Frames()
	if frames <= 0 || n < frames*2 {
		return
	}
	ch := buf.Channels
	for i := 0; i < frames; i++ {
		gain := float32(i) / float32(frames)
		for c := 0; c < ch; c++ {
			buf.Samples[i*ch+c] *= gain
			buf.Samples[(n-1-i)*ch+c] *= gain
		}
	}
}
