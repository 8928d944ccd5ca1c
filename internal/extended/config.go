package extended

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/longtrack-api/internal/audio"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// GenerationConfig holds the duration settings for one extended run.
// It is built by the caller per run and never mutated afterwards.
//
// Invariants: 0 < CrossfadeDuration <= OverlapDuration < SegmentDuration,
// TargetDuration > 0, SampleRate > 0. A TargetDuration at or below
// SegmentDuration is accepted and takes the single-segment fast path.
type GenerationConfig struct {
	TargetDuration    time.Duration `validate:"gt=0"`
	SegmentDuration   time.Duration `validate:"gt=0"`
	OverlapDuration   time.Duration `validate:"gt=0"`
	CrossfadeDuration time.Duration `validate:"gt=0"`
	SampleRate        int           `validate:"gt=0"`
	Channels          int           `validate:"gt=0"`

	// MaxSegmentDuration is the longest render the backend can produce
	// coherently. Zero disables the check.
	MaxSegmentDuration time.Duration `validate:"gte=0"`
	// Curve selects the crossfade gain curve. Empty means CurveEqualPower.
	Curve Curve `validate:"omitempty,oneof=equal_power linear smoothstep"`
	// LengthTolerance is how far a segment's actual length may drift from
	// the requested duration before the run fails with a StitchError.
	LengthTolerance time.Duration `validate:"gte=0"`
	// EdgeFade applies a short fade-in and fade-out to the final buffer.
	// Zero leaves the edges untouched.
	EdgeFade time.Duration `validate:"gte=0"`
}

// DefaultGenerationConfig returns the documented defaults: a four minute
// track built from 28 second segments with 4 seconds of overlap.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		TargetDuration:     240 * time.Second,
		SegmentDuration:    28 * time.Second,
		OverlapDuration:    4 * time.Second,
		CrossfadeDuration:  2 * time.Second,
		SampleRate:         32000,
		Channels:           2,
		MaxSegmentDuration: 30 * time.Second,
		Curve:              CurveEqualPower,
		LengthTolerance:    500 * time.Millisecond,
	}
}

// WithTarget returns a copy of the config with a different target duration.
func (c GenerationConfig) WithTarget(target time.Duration) GenerationConfig {
	c.TargetDuration = target
	return c
}

// TargetFrames is the exact output length in frames.
func (c GenerationConfig) TargetFrames() int {
	return audio.FramesFor(c.TargetDuration, c.SampleRate)
}

// Step is the distance between consecutive segment start offsets.
func (c GenerationConfig) Step() time.Duration {
	return c.SegmentDuration - c.OverlapDuration
}

// Validate checks all invariants and returns a *ConfigError on failure.
func (c GenerationConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ConfigError{
				Field:  fe.Field(),
				Reason: fmt.Sprintf("fails %q (got %v)", fe.ActualTag(), fe.Value()),
			}
		}
		return &ConfigError{Reason: err.Error()}
	}

	if c.CrossfadeDuration > c.OverlapDuration {
		return &ConfigError{Field: "CrossfadeDuration", Reason: fmt.Sprintf("%v exceeds overlap %v", c.CrossfadeDuration, c.OverlapDuration)}
	}
	if c.OverlapDuration >= c.SegmentDuration {
		return &ConfigError{Field: "OverlapDuration", Reason: fmt.Sprintf("%v must be shorter than segment %v", c.OverlapDuration, c.SegmentDuration)}
	}
	if c.MaxSegmentDuration > 0 && c.SegmentDuration > c.MaxSegmentDuration {
		return &ConfigError{Field: "SegmentDuration", Reason: fmt.Sprintf("%v exceeds backend limit %v", c.SegmentDuration, c.MaxSegmentDuration)}
	}
	if audio.FramesFor(c.CrossfadeDuration, c.SampleRate) == 0 {
		return &ConfigError{Field: "CrossfadeDuration", Reason: "is shorter than one sample period"}
	}
	if c.TargetFrames() == 0 {
		return &ConfigError{Field: "TargetDuration", Reason: "is shorter than one sample period"}
	}
	return nil
}
