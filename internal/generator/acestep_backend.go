package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/maauso/longtrack-api/internal/acestep"
	"github.com/maauso/longtrack-api/internal/audio"
	"github.com/maauso/longtrack-api/internal/extended"
)

// Static errors for the ACE-Step backend.
var (
	// ErrGenerationFailed is returned when the provider reports a failed task.
	ErrGenerationFailed = errors.New("generator: task failed")
	// ErrSegmentTimedOut is returned when a task does not finish within the segment timeout.
	ErrSegmentTimedOut = errors.New("generator: segment timed out")
	// ErrTruncatedRender is returned when a task's file is shorter than requested.
	ErrTruncatedRender = errors.New("generator: render shorter than requested")
)

// ACEStepBackend renders single segments through the ACE-Step API.
type ACEStepBackend struct {
	client       acestep.Client
	codec        audio.Codec
	sampleRate   int
	channels     int
	maxDuration  time.Duration
	pollInterval time.Duration
	timeout      time.Duration
	tolerance    time.Duration
	renderRatio  float64
	tempDir      string
	submit       acestep.SubmitOptions
	logger       *slog.Logger
}

// BackendOption configures an ACEStepBackend.
type BackendOption func(*ACEStepBackend)

// WithMaxDuration caps the length requested per task. Zero disables the cap.
func WithMaxDuration(d time.Duration) BackendOption {
	return func(b *ACEStepBackend) {
		b.maxDuration = d
	}
}

// WithPollInterval sets how often task status is polled.
func WithPollInterval(d time.Duration) BackendOption {
	return func(b *ACEStepBackend) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

// WithSegmentTimeout bounds each task. Zero means no limit.
func WithSegmentTimeout(d time.Duration) BackendOption {
	return func(b *ACEStepBackend) {
		b.timeout = d
	}
}

// WithLengthTolerance sets how much shorter than requested a rendered file
// may be before it is rejected without decoding.
func WithLengthTolerance(d time.Duration) BackendOption {
	return func(b *ACEStepBackend) {
		if d >= 0 {
			b.tolerance = d
		}
	}
}

// WithRenderRatio sets the expected render time per second of audio, used
// to estimate progress while a task runs.
func WithRenderRatio(r float64) BackendOption {
	return func(b *ACEStepBackend) {
		b.renderRatio = r
	}
}

// WithTempDir sets where downloaded segments are staged.
func WithTempDir(dir string) BackendOption {
	return func(b *ACEStepBackend) {
		b.tempDir = dir
	}
}

// WithSubmitOptions sets the task defaults. Caption and Duration are
// overwritten per call.
func WithSubmitOptions(opts acestep.SubmitOptions) BackendOption {
	return func(b *ACEStepBackend) {
		b.submit = opts
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) BackendOption {
	return func(b *ACEStepBackend) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewACEStepBackend creates a backend that decodes every segment to
// sampleRate and channels.
func NewACEStepBackend(client acestep.Client, codec audio.Codec, sampleRate, channels int, opts ...BackendOption) *ACEStepBackend {
	b := &ACEStepBackend{
		client:       client,
		codec:        codec,
		sampleRate:   sampleRate,
		channels:     channels,
		maxDuration:  30 * time.Second,
		pollInterval: 2 * time.Second,
		tolerance:    500 * time.Millisecond,
		renderRatio:  0.5,
		submit:       acestep.DefaultSubmitOptions(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Generate submits one task, waits for it, and returns the decoded audio.
func (b *ACEStepBackend) Generate(ctx context.Context, prompt string, duration time.Duration, onProgress func(float64)) (audio.Buffer, error) {
	report := func(f float64) {
		if onProgress != nil {
			onProgress(f)
		}
	}

	if b.maxDuration > 0 && duration > b.maxDuration {
		b.logger.Warn("segment duration capped",
			slog.Duration("requested", duration),
			slog.Duration("max", b.maxDuration),
		)
		duration = b.maxDuration
	}

	runCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	opts := b.submit
	opts.Caption = prompt
	opts.Duration = duration

	taskID, err := b.client.Submit(runCtx, opts)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("acestep backend submit: %w", err)
	}
	report(0)

	logger := b.logger.With(slog.String("task_id", taskID))
	logger.Info("segment task submitted", slog.Duration("duration", duration))

	fileRef, err := b.wait(runCtx, taskID, duration, report)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return audio.Buffer{}, fmt.Errorf("%w: task %s after %v", ErrSegmentTimedOut, taskID, b.timeout)
		}
		return audio.Buffer{}, err
	}

	path, err := b.download(runCtx, fileRef)
	if err != nil {
		return audio.Buffer{}, err
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove segment file", slog.String("path", path), slog.String("error", err.Error()))
		}
	}()

	rendered, err := b.codec.DurationOf(runCtx, path)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("acestep backend probe: %w", err)
	}
	if rendered+b.tolerance < duration {
		return audio.Buffer{}, fmt.Errorf("%w: task %s rendered %v of %v", ErrTruncatedRender, taskID, rendered, duration)
	}

	buf, err := b.codec.Decode(runCtx, path, b.sampleRate, b.channels)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("acestep backend decode: %w", err)
	}

	report(1)
	logger.Info("segment task completed", slog.Duration("rendered", buf.Duration()))
	return buf, nil
}

// wait polls taskID until it reaches a terminal status and returns the
// output file reference.
func (b *ACEStepBackend) wait(ctx context.Context, taskID string, duration time.Duration, report func(float64)) (string, error) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	start := time.Now()
	expected := time.Duration(float64(duration) * b.renderRatio)

	for {
		res, err := b.client.Poll(ctx, taskID)
		if err != nil {
			return "", fmt.Errorf("acestep backend poll: %w", err)
		}

		status := FromACEStep(res.Status)
		if status.IsTerminal() {
			if status == StatusFailed {
				return "", fmt.Errorf("%w: task %s: %s", ErrGenerationFailed, taskID, res.Error)
			}
			return res.FileRef, nil
		}
		report(estimateProgress(time.Since(start), expected))

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// download stages the task output in a temp file and returns its path.
func (b *ACEStepBackend) download(ctx context.Context, fileRef string) (string, error) {
	f, err := os.CreateTemp(b.tempDir, "segment-*"+b.extensionFor(fileRef))
	if err != nil {
		return "", fmt.Errorf("acestep backend: create temp file: %w", err)
	}
	path := f.Name()
	_ = f.Close()

	if err := b.client.Download(ctx, fileRef, path); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("acestep backend download: %w", err)
	}
	return path, nil
}

// extensionFor guesses the container from a file reference, falling back to
// the requested audio format.
func (b *ACEStepBackend) extensionFor(fileRef string) string {
	if u, err := url.Parse(fileRef); err == nil {
		if ext := filepath.Ext(u.Query().Get("path")); ext != "" {
			return ext
		}
		if ext := filepath.Ext(u.Path); ext != "" {
			return ext
		}
	}
	if b.submit.AudioFormat != "" {
		return "." + b.submit.AudioFormat
	}
	return ".wav"
}

// estimateProgress maps elapsed render time to a local fraction that never
// reaches 1 before the task actually completes.
func estimateProgress(elapsed, expected time.Duration) float64 {
	if expected <= 0 {
		return 0
	}
	return min(float64(elapsed)/float64(expected), 0.95)
}

// Compile-time check that ACEStepBackend implements extended.Backend.
var _ extended.Backend = (*ACEStepBackend)(nil)
