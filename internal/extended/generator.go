// Package extended turns a duration-limited audio backend into one that can
// render tracks of any length. A run plans overlapping segments, asks the
// backend for each one in order with a role-specific prompt, and crossfades
// the results into a single buffer of exactly the requested length.
package extended

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/longtrack-api/internal/audio"
)

// Backend renders a prompt into at most a few tens of seconds of audio.
// onProgress receives the local completion fraction in [0, 1] and may be
// called any number of times before Generate returns. The returned buffer
// is read by the caller; spare capacity behind its samples is never written.
type Backend interface {
	Generate(ctx context.Context, prompt string, duration time.Duration, onProgress func(float64)) (audio.Buffer, error)
}

// BackendFunc adapts a plain function to Backend.
type BackendFunc func(ctx context.Context, prompt string, duration time.Duration, onProgress func(float64)) (audio.Buffer, error)

// Generate calls f.
func (f BackendFunc) Generate(ctx context.Context, prompt string, duration time.Duration, onProgress func(float64)) (audio.Buffer, error) {
	return f(ctx, prompt, duration, onProgress)
}

// SegmentObserver is notified around each backend call. It lets callers
// track per-segment state without the orchestrator holding it.
type SegmentObserver interface {
	OnSegmentStart(seg SegmentPlan, prompt string)
	OnSegmentDone(seg SegmentPlan, rendered time.Duration)
}

// Generator runs extended generations against one backend.
// It holds no per-run state and is safe for concurrent use.
type Generator struct {
	backend  Backend
	cfg      GenerationConfig
	logger   *slog.Logger
	observer SegmentObserver
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithObserver registers a segment observer.
func WithObserver(o SegmentObserver) Option {
	return func(g *Generator) {
		g.observer = o
	}
}

// NewGenerator creates a Generator bound to backend and cfg.
// cfg is validated up front; each run validates again with its own target.
func NewGenerator(backend Backend, cfg GenerationConfig, opts ...Option) (*Generator, error) {
	if backend == nil {
		return nil, &ConfigError{Field: "Backend", Reason: "is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Generator{
		backend: backend,
		cfg:     cfg,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Config returns the generator's bound configuration.
func (g *Generator) Config() GenerationConfig {
	return g.cfg
}

// Plan returns the segment plan a run for target would use.
// A zero target means the configured TargetDuration.
func (g *Generator) Plan(target time.Duration) ([]SegmentPlan, error) {
	cfg, err := g.runConfig(target)
	if err != nil {
		return nil, err
	}
	return Plan(cfg.TargetDuration, cfg.SegmentDuration, cfg.OverlapDuration)
}

// Process renders prompt into a buffer exactly target long.
// A zero target means the configured TargetDuration.
//
// Segments are generated strictly in order, one backend call at a time.
// Progress is reported synchronously; the last event on success has
// OverallFraction 1. On any failure no audio is returned.
// Cancellation of ctx is checked between segments.
func (g *Generator) Process(ctx context.Context, prompt string, target time.Duration, progress ProgressReporter) (audio.Buffer, error) {
	cfg, err := g.runConfig(target)
	if err != nil {
		return audio.Buffer{}, err
	}

	plan, err := Plan(cfg.TargetDuration, cfg.SegmentDuration, cfg.OverlapDuration)
	if err != nil {
		return audio.Buffer{}, err
	}

	logger := g.logger.With(
		slog.Duration("target", cfg.TargetDuration),
		slog.Int("segment_count", len(plan)),
	)
	logger.Info("starting extended generation",
		slog.Duration("segment", cfg.SegmentDuration),
		slog.Duration("overlap", cfg.OverlapDuration),
		slog.Duration("crossfade", cfg.CrossfadeDuration),
		slog.String("curve", string(cfg.Curve)),
	)

	tracker := newProgressTracker(progress, len(plan))
	start := time.Now()

	var acc audio.Buffer
	for _, seg := range plan {
		if err := ctx.Err(); err != nil {
			logger.Warn("generation cancelled", slog.Int("segment_index", seg.Index))
			return audio.Buffer{}, &CancelledError{SegmentIndex: seg.Index, Cause: err}
		}

		buf, err := g.renderSegment(ctx, cfg, seg, prompt, tracker, logger)
		if err != nil {
			return audio.Buffer{}, err
		}

		if len(plan) == 1 {
			// Single segment: the backend output is the track.
			acc = buf
		} else {
			if acc.IsEmpty() && cap(buf.Samples) > len(buf.Samples) {
				// Stitch appends into acc; keep that off backend-owned storage.
				buf = buf.Clone()
			}
			acc, err = Stitch(acc, buf, cfg.OverlapDuration, cfg.CrossfadeDuration, cfg.Curve)
			if err != nil {
				return audio.Buffer{}, withSegment(err, seg.Index)
			}
			logger.Debug("segment stitched",
				slog.Int("segment_index", seg.Index),
				slog.Int("accumulated_frames", acc.Frames()),
			)
		}
		tracker.report(seg.Index, 1)
	}

	out := acc.Fit(cfg.TargetFrames())
	if cfg.EdgeFade > 0 {
		out = out.Clone()
		applyEdgeFade(out, audio.FramesFor(cfg.EdgeFade, cfg.SampleRate))
	}
	tracker.finish()

	logger.Info("extended generation complete",
		slog.Int("frames", out.Frames()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

// renderSegment makes one backend call and checks the returned buffer.
func (g *Generator) renderSegment(ctx context.Context, cfg GenerationConfig, seg SegmentPlan, base string, tracker *progressTracker, logger *slog.Logger) (audio.Buffer, error) {
	prompt := AugmentSegment(base, seg)
	logger.Info("generating segment",
		slog.Int("segment_index", seg.Index),
		slog.String("role", string(seg.Role)),
		slog.Duration("start_offset", seg.StartOffset),
		slog.Duration("duration", seg.Duration),
	)

	if g.observer != nil {
		g.observer.OnSegmentStart(seg, prompt)
	}
	tracker.begin(seg.Index)
	tracker.report(seg.Index, 0)

	buf, err := g.backend.Generate(ctx, prompt, seg.Duration, func(local float64) {
		tracker.report(seg.Index, local)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return audio.Buffer{}, &CancelledError{SegmentIndex: seg.Index, Cause: ctxErr}
		}
		logger.Error("segment generation failed",
			slog.Int("segment_index", seg.Index),
			slog.String("error", err.Error()),
		)
		return audio.Buffer{}, &SegmentGenerationError{
			SegmentIndex: seg.Index,
			SegmentCount: seg.Count,
			Config:       cfg,
			Cause:        err,
		}
	}

	if err := checkSegment(cfg, seg, buf); err != nil {
		logger.Error("segment rejected",
			slog.Int("segment_index", seg.Index),
			slog.String("error", err.Error()),
		)
		return audio.Buffer{}, err
	}

	if g.observer != nil {
		g.observer.OnSegmentDone(seg, buf.Duration())
	}
	return buf, nil
}

// runConfig resolves and validates the configuration for one run.
func (g *Generator) runConfig(target time.Duration) (GenerationConfig, error) {
	cfg := g.cfg
	if target != 0 {
		cfg = cfg.WithTarget(target)
	}
	if err := cfg.Validate(); err != nil {
		return GenerationConfig{}, err
	}
	return cfg, nil
}

// checkSegment rejects buffers in the wrong format or far from the
// requested length.
func checkSegment(cfg GenerationConfig, seg SegmentPlan, buf audio.Buffer) error {
	if err := buf.Validate(); err != nil {
		return &StitchError{SegmentIndex: seg.Index, Reason: err.Error()}
	}
	if buf.SampleRate != cfg.SampleRate || buf.Channels != cfg.Channels {
		return &StitchError{SegmentIndex: seg.Index, Reason: fmt.Sprintf(
			"backend returned %d ch @ %d Hz, want %d ch @ %d Hz",
			buf.Channels, buf.SampleRate, cfg.Channels, cfg.SampleRate)}
	}
	if buf.IsEmpty() {
		return &StitchError{SegmentIndex: seg.Index, Reason: "backend returned no audio"}
	}

	want := audio.FramesFor(seg.Duration, cfg.SampleRate)
	drift := buf.Frames() - want
	if drift < 0 {
		drift = -drift
	}
	if drift > audio.FramesFor(cfg.LengthTolerance, cfg.SampleRate) {
		return &StitchError{SegmentIndex: seg.Index, Reason: fmt.Sprintf(
			"backend returned %v of audio for a %v request (tolerance %v)",
			buf.Duration(), seg.Duration, cfg.LengthTolerance)}
	}
	return nil
}

// withSegment stamps the segment index onto stitch errors raised by Stitch.
func withSegment(err error, index int) error {
	var se *StitchError
	if errors.As(err, &se) {
		se.SegmentIndex = index
		return se
	}
	return fmt.Errorf("segment %d: %w", index, err)
}
