package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/maauso/longtrack-api/internal/audio"
	"github.com/maauso/longtrack-api/internal/extended"
	"github.com/maauso/longtrack-api/internal/storage"
)

// Service errors.
var (
	// ErrJobRunning is returned when an operation needs an idle job.
	ErrJobRunning = errors.New("job: job is running")
	// ErrJobFinished is returned when cancelling a job that already ended.
	ErrJobFinished = errors.New("job: job already finished")
	// ErrJobNotQueued is returned when processing a job that is not IN_QUEUE.
	ErrJobNotQueued = errors.New("job: job is not queued")
	// ErrOutputNotAvailable is returned when a job has no local track.
	ErrOutputNotAvailable = errors.New("job: output not available")
)

// GenerateTrackInput contains the parameters of a track request.
// Zero durations and an empty curve fall back to the service defaults.
type GenerateTrackInput struct {
	// Prompt is the base style prompt applied to every segment.
	Prompt string
	// Duration is the requested track length.
	Duration time.Duration
	// SegmentDuration overrides the backend render length.
	SegmentDuration time.Duration
	// OverlapDuration overrides the shared audio between segments.
	OverlapDuration time.Duration
	// CrossfadeDuration overrides the blend length inside the overlap.
	CrossfadeDuration time.Duration
	// Curve overrides the crossfade gain curve.
	Curve extended.Curve
	// PushToS3 indicates whether to upload the final track to S3.
	PushToS3 bool
}

// GenerateTrackService orchestrates long-track generation jobs.
// It coordinates the extended generator, the audio codec, storage, and
// job persistence.
type GenerateTrackService struct {
	repo     Repository
	backend  extended.Backend
	codec    audio.Codec
	storage  storage.Storage
	defaults extended.GenerationConfig
	logger   *slog.Logger

	outputExt  string
	jobTimeout time.Duration

	// mu serializes job start and cancellation so a queued job is either
	// cancelled or registered as running, never both.
	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// ServiceOption configures a GenerateTrackService.
type ServiceOption func(*GenerateTrackService)

// WithOutputFormat sets the container extension of finished tracks.
// Defaults to ".wav".
func WithOutputFormat(ext string) ServiceOption {
	return func(s *GenerateTrackService) {
		if ext == "" {
			return
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		s.outputExt = ext
	}
}

// WithJobTimeout bounds the whole run of a job. Zero disables the limit.
func WithJobTimeout(d time.Duration) ServiceOption {
	return func(s *GenerateTrackService) {
		if d >= 0 {
			s.jobTimeout = d
		}
	}
}

// NewGenerateTrackService creates a new GenerateTrackService.
// defaults supplies every generation setting a request leaves unset.
func NewGenerateTrackService(
	repo Repository,
	backend extended.Backend,
	codec audio.Codec,
	store storage.Storage,
	defaults extended.GenerationConfig,
	logger *slog.Logger,
	opts ...ServiceOption,
) *GenerateTrackService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &GenerateTrackService{
		repo:      repo,
		backend:   backend,
		codec:     codec,
		storage:   store,
		defaults:  defaults,
		logger:    logger,
		outputExt: ".wav",
		running:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// resolveConfig merges the input overrides onto the defaults and validates
// the result.
func (s *GenerateTrackService) resolveConfig(input GenerateTrackInput) (extended.GenerationConfig, error) {
	cfg := s.defaults
	if input.Duration != 0 {
		cfg.TargetDuration = input.Duration
	}
	if input.SegmentDuration != 0 {
		cfg.SegmentDuration = input.SegmentDuration
	}
	if input.OverlapDuration != 0 {
		cfg.OverlapDuration = input.OverlapDuration
	}
	if input.CrossfadeDuration != 0 {
		cfg.CrossfadeDuration = input.CrossfadeDuration
	}
	if input.Curve != "" {
		cfg.Curve = input.Curve
	}
	if err := cfg.Validate(); err != nil {
		return extended.GenerationConfig{}, err
	}
	return cfg, nil
}

// PreviewPlan returns the resolved configuration and segment plan for
// input without creating a job.
func (s *GenerateTrackService) PreviewPlan(input GenerateTrackInput) (extended.GenerationConfig, []extended.SegmentPlan, error) {
	cfg, err := s.resolveConfig(input)
	if err != nil {
		return extended.GenerationConfig{}, nil, err
	}
	plan, err := extended.Plan(cfg.TargetDuration, cfg.SegmentDuration, cfg.OverlapDuration)
	if err != nil {
		return extended.GenerationConfig{}, nil, err
	}
	return cfg, plan, nil
}

// CreateJob validates input, plans the segments and persists a new job in
// IN_QUEUE status. Invalid settings return a *extended.ConfigError and no
// job is created.
func (s *GenerateTrackService) CreateJob(ctx context.Context, input GenerateTrackInput) (*Job, error) {
	cfg, plan, err := s.PreviewPlan(input)
	if err != nil {
		return nil, err
	}

	job := New()
	job.Prompt = input.Prompt
	job.Config = cfg
	job.PushToS3 = input.PushToS3
	job.SetPlan(plan)

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.Duration("target", cfg.TargetDuration),
		slog.Int("segment_count", len(plan)),
		slog.Bool("push_to_s3", input.PushToS3),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return job, nil
}

// GetJob retrieves a job by ID.
func (s *GenerateTrackService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns all jobs, oldest first.
func (s *GenerateTrackService) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// ProcessExistingJob runs the generation workflow for a queued job.
//
// The workflow:
//  1. Move the job to RUNNING and register its cancel function
//  2. Run the extended generator, recording segment state and progress
//  3. Encode the track into a temp file
//  4. Optionally push it to S3
//  5. Update the job to COMPLETED, or to FAILED/CANCELLED/TIMED_OUT
//
// The returned error is the run error; the job record always reflects it.
func (s *GenerateTrackService) ProcessExistingJob(ctx context.Context, jobID string) error {
	job, runCtx, err := s.begin(ctx, jobID)
	if err != nil {
		return err
	}
	defer s.finish(jobID)

	logger := s.logger.With(slog.String("job_id", jobID))
	logger.Info("processing job",
		slog.Int("segment_count", len(job.Segments)),
		slog.Duration("target", job.Config.TargetDuration),
	)

	rec := &jobRecorder{ctx: ctx, job: job, repo: s.repo, logger: logger}
	gen, err := extended.NewGenerator(s.backend, job.Config,
		extended.WithLogger(logger),
		extended.WithObserver(rec),
	)
	if err != nil {
		return s.failJob(ctx, job, runCtx, err, logger)
	}

	buf, err := gen.Process(runCtx, job.Prompt, 0, extended.ProgressFunc(rec.progress))
	if err != nil {
		return s.failJob(ctx, job, runCtx, err, logger)
	}

	path, audioURL, err := s.storeTrack(runCtx, job, buf)
	if err != nil {
		return s.failJob(ctx, job, runCtx, err, logger)
	}

	job.SetOutput(path, audioURL)
	if err := job.Complete(); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if err := s.repo.Save(ctx, job); err != nil {
		return fmt.Errorf("save job: %w", err)
	}

	logger.Info("job completed",
		slog.String("output_path", path),
		slog.String("audio_url", audioURL),
	)
	return nil
}

// begin loads a queued job, marks it RUNNING and registers its run context.
func (s *GenerateTrackService) begin(ctx context.Context, jobID string) (*Job, context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.GetStatus() != StatusInQueue {
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrJobNotQueued, jobID, job.GetStatus())
	}
	if err := job.Start(); err != nil {
		return nil, nil, err
	}
	if err := s.repo.Save(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("save job: %w", err)
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if s.jobTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.jobTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	s.running[jobID] = cancel
	return job, runCtx, nil
}

// finish releases the run context of a job.
func (s *GenerateTrackService) finish(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.running[jobID]; ok {
		cancel()
		delete(s.running, jobID)
	}
}

// storeTrack encodes buf into a temp file and uploads it when requested.
func (s *GenerateTrackService) storeTrack(ctx context.Context, job *Job, buf audio.Buffer) (path, audioURL string, err error) {
	path, err = s.storage.CreateTemp(ctx, job.ID, s.outputExt)
	if err != nil {
		return "", "", fmt.Errorf("reserve output: %w", err)
	}
	if err := s.codec.Encode(ctx, buf, path); err != nil {
		_ = s.storage.CleanupTemp(context.WithoutCancel(ctx), []string{path})
		return "", "", fmt.Errorf("encode track: %w", err)
	}
	if !job.PushToS3 {
		return path, "", nil
	}

	r, err := s.storage.LoadTemp(ctx, path)
	if err != nil {
		return "", "", fmt.Errorf("open track: %w", err)
	}
	defer func() { _ = r.Close() }()

	audioURL, err = s.storage.UploadToS3(ctx, job.ID+s.outputExt, r)
	if err != nil {
		_ = s.storage.CleanupTemp(context.WithoutCancel(ctx), []string{path})
		return "", "", fmt.Errorf("push to S3: %w", err)
	}
	return path, audioURL, nil
}

// failJob classifies err, records it on the job and saves it.
func (s *GenerateTrackService) failJob(ctx context.Context, job *Job, runCtx context.Context, runErr error, logger *slog.Logger) error {
	kind, segment := Classify(runErr)
	if kind == ErrorKindInternal {
		// Encoding or upload aborted by the run context.
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			kind = ErrorKindTimedOut
		case runCtx.Err() != nil:
			kind = ErrorKindCancelled
		}
	}

	logger.Error("job failed",
		slog.String("error_kind", string(kind)),
		slog.Int("failed_segment", segment),
		slog.String("error", runErr.Error()),
	)

	if err := job.Fail(kind, runErr.Error(), segment); err != nil {
		return errors.Join(runErr, fmt.Errorf("fail job: %w", err))
	}
	if err := s.repo.Save(ctx, job); err != nil {
		return errors.Join(runErr, fmt.Errorf("save job: %w", err))
	}
	return runErr
}

// CancelJob stops a job. A running job has its context cancelled and ends
// CANCELLED once the generator observes it; a queued job is cancelled
// directly. Finished jobs return ErrJobFinished.
func (s *GenerateTrackService) CancelJob(ctx context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if cancel, ok := s.running[jobID]; ok {
		s.logger.Info("cancelling running job", slog.String("job_id", jobID))
		cancel()
		return job, nil
	}

	if job.IsTerminal() {
		return nil, ErrJobFinished
	}

	if err := job.Cancel(); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}
	s.logger.Info("cancelled queued job", slog.String("job_id", jobID))
	return job, nil
}

// DeleteJob removes a job and its local track. Running jobs must be
// cancelled first and return ErrJobRunning.
func (s *GenerateTrackService) DeleteJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.running[jobID]; ok {
		return ErrJobRunning
	}

	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return err
	}

	if job.OutputPath != "" {
		if err := s.storage.CleanupTemp(ctx, []string{job.OutputPath}); err != nil {
			s.logger.Warn("failed to remove job output",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.repo.Delete(ctx, jobID); err != nil {
		return err
	}
	s.logger.Info("job deleted", slog.String("job_id", jobID))
	return nil
}

// OpenOutput opens the local track of a completed job.
// The caller must close the returned reader.
func (s *GenerateTrackService) OpenOutput(ctx context.Context, jobID string) (*Job, io.ReadCloser, error) {
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.GetStatus() != StatusCompleted || job.OutputPath == "" {
		return nil, nil, ErrOutputNotAvailable
	}
	r, err := s.storage.LoadTemp(ctx, job.OutputPath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrOutputNotAvailable, err)
	}
	return job, r, nil
}

// jobRecorder mirrors generator events onto the job record.
type jobRecorder struct {
	ctx    context.Context
	job    *Job
	repo   Repository
	logger *slog.Logger
}

var _ extended.SegmentObserver = (*jobRecorder)(nil)

func (r *jobRecorder) OnSegmentStart(seg extended.SegmentPlan, prompt string) {
	r.job.StartSegment(seg.Index, prompt)
	r.save()
}

func (r *jobRecorder) OnSegmentDone(seg extended.SegmentPlan, rendered time.Duration) {
	r.job.CompleteSegment(seg.Index, rendered)
	r.save()
}

func (r *jobRecorder) progress(ev extended.ProgressEvent) {
	// 100 is reserved for a stored track.
	pct := min(int(math.Floor(ev.OverallFraction*100)), 99)
	if pct <= r.job.GetProgress() {
		return
	}
	r.job.UpdateProgress(pct)
	r.save()
}

func (r *jobRecorder) save() {
	if err := r.repo.Save(r.ctx, r.job); err != nil {
		r.logger.Warn("failed to save job progress", slog.String("error", err.Error()))
	}
}
