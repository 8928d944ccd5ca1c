package extended

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by the typed errors below via errors.Is.
var (
	// ErrInvalidConfig matches every *ConfigError.
	ErrInvalidConfig = errors.New("extended: invalid generation config")
	// ErrSegmentGeneration matches every *SegmentGenerationError.
	ErrSegmentGeneration = errors.New("extended: segment generation failed")
	// ErrStitch matches every *StitchError.
	ErrStitch = errors.New("extended: stitch failed")
	// ErrCancelled matches every *CancelledError.
	ErrCancelled = errors.New("extended: generation cancelled")
)

// ConfigError reports invalid duration relationships or format settings.
// It is always returned before any backend work starts.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidConfig, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrInvalidConfig, e.Field, e.Reason)
}

// Is reports whether target is ErrInvalidConfig.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// SegmentGenerationError reports a backend failure for one segment. The run
// is aborted and no partial audio is returned.
type SegmentGenerationError struct {
	SegmentIndex int
	SegmentCount int
	// Config is a snapshot of the run configuration, so callers can decide
	// whether to retry the whole run or a reduced-scope one.
	Config GenerationConfig
	Cause  error
}

func (e *SegmentGenerationError) Error() string {
	return fmt.Sprintf("%s: segment %d/%d: %v", ErrSegmentGeneration, e.SegmentIndex+1, e.SegmentCount, e.Cause)
}

// Is reports whether target is ErrSegmentGeneration.
func (e *SegmentGenerationError) Is(target error) bool {
	return target == ErrSegmentGeneration
}

// Unwrap returns the backend error.
func (e *SegmentGenerationError) Unwrap() error {
	return e.Cause
}

// StitchError reports a segment buffer that cannot be merged into the
// accumulator: a zero-length overlap, a format mismatch, or a length far
// from the requested duration.
type StitchError struct {
	SegmentIndex int
	Reason       string
}

func (e *StitchError) Error() string {
	return fmt.Sprintf("%s: segment %d: %s", ErrStitch, e.SegmentIndex, e.Reason)
}

// Is reports whether target is ErrStitch.
func (e *StitchError) Is(target error) bool {
	return target == ErrStitch
}

// CancelledError reports cooperative cancellation observed between segments.
// Partially stitched audio is discarded.
type CancelledError struct {
	// SegmentIndex is the segment that was about to start (or was running
	// when the backend gave up because of the cancelled context).
	SegmentIndex int
	Cause        error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("%s before segment %d: %v", ErrCancelled, e.SegmentIndex, e.Cause)
}

// Is reports whether target is ErrCancelled.
func (e *CancelledError) Is(target error) bool {
	return target == ErrCancelled
}

// Unwrap returns the context error.
func (e *CancelledError) Unwrap() error {
	return e.Cause
}
