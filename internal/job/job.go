// Package job provides the Job aggregate for long-track generation requests.
// It includes the Job entity with its state machine and per-segment records,
// the repository port for persistence, and the GenerateTrackService use case.
package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/maauso/longtrack-api/internal/extended"
	"github.com/maauso/longtrack-api/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job is waiting to be processed.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates segments are being generated.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the track was rendered and stored.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the run stopped with an error.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled by a client.
	StatusCancelled Status = "CANCELLED"
	// StatusTimedOut indicates the run exceeded the job time limit.
	StatusTimedOut Status = "TIMED_OUT"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled, StatusTimedOut},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusTimedOut:  {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// ErrorKind classifies why a job did not complete.
type ErrorKind string

const (
	// ErrorKindConfig is an invalid duration or format configuration.
	ErrorKindConfig ErrorKind = "CONFIG_ERROR"
	// ErrorKindSegmentGeneration is a backend failure on one segment.
	ErrorKindSegmentGeneration ErrorKind = "SEGMENT_GENERATION_ERROR"
	// ErrorKindStitch is a segment that could not be merged.
	ErrorKindStitch ErrorKind = "STITCH_ERROR"
	// ErrorKindCancelled is a run stopped by cancellation.
	ErrorKindCancelled ErrorKind = "CANCELLED"
	// ErrorKindTimedOut is a run stopped by the job time limit.
	ErrorKindTimedOut ErrorKind = "TIMED_OUT"
	// ErrorKindInternal is a failure after generation (encoding, storage).
	ErrorKindInternal ErrorKind = "INTERNAL_ERROR"
)

// NoSegment marks the absence of a failing segment.
const NoSegment = -1

// Classify maps a run error to its kind and, when known, the failing segment.
func Classify(err error) (ErrorKind, int) {
	var (
		cfgErr    *extended.ConfigError
		segErr    *extended.SegmentGenerationError
		stitchErr *extended.StitchError
		cancelErr *extended.CancelledError
	)
	switch {
	case errors.As(err, &cancelErr):
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrorKindTimedOut, cancelErr.SegmentIndex
		}
		return ErrorKindCancelled, cancelErr.SegmentIndex
	case errors.As(err, &segErr):
		return ErrorKindSegmentGeneration, segErr.SegmentIndex
	case errors.As(err, &stitchErr):
		return ErrorKindStitch, stitchErr.SegmentIndex
	case errors.As(err, &cfgErr):
		return ErrorKindConfig, NoSegment
	default:
		return ErrorKindInternal, NoSegment
	}
}

// SegmentStatus represents the status of a single segment.
type SegmentStatus string

const (
	// SegmentStatusPending indicates the segment has not started.
	SegmentStatusPending SegmentStatus = "PENDING"
	// SegmentStatusProcessing indicates the backend is rendering the segment.
	SegmentStatusProcessing SegmentStatus = "PROCESSING"
	// SegmentStatusCompleted indicates the segment was rendered and accepted.
	SegmentStatusCompleted SegmentStatus = "COMPLETED"
	// SegmentStatusFailed indicates the segment failed.
	SegmentStatusFailed SegmentStatus = "FAILED"
)

// Segment records the progress of one planned backend call.
type Segment struct {
	// ID is the unique identifier for this segment record.
	ID string
	// Index is the position of this segment in the plan.
	Index int
	// Role is the structural role (intro, middle, outro).
	Role extended.Role
	// Hint is the development hint appended to middle segments.
	Hint string
	// Prompt is the augmented prompt sent to the backend.
	Prompt string
	// StartOffset is where the segment starts in the final track.
	StartOffset time.Duration
	// Duration is the requested segment length.
	Duration time.Duration
	// Rendered is the length the backend actually returned.
	Rendered time.Duration
	// Status is the current segment status.
	Status SegmentStatus
	// Error contains the failure message if the segment failed.
	Error string
	// StartedAt is when the backend call started.
	StartedAt time.Time
	// CompletedAt is when the backend call finished.
	CompletedAt time.Time
}

// Job represents a long-track generation request.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// Prompt is the base style prompt.
	Prompt string
	// Config is the resolved generation configuration for this job.
	Config extended.GenerationConfig
	// Segments holds one record per planned segment.
	Segments []Segment
	// Progress is the percentage of completion (0-100). It never decreases.
	Progress int
	// Error contains the error message if the job did not complete.
	Error string
	// ErrorKind classifies Error.
	ErrorKind ErrorKind
	// FailedSegment is the index of the segment that failed, or NoSegment.
	FailedSegment int
	// OutputPath is the local path of the encoded track.
	OutputPath string
	// PushToS3 indicates whether to upload the result to S3.
	PushToS3 bool
	// AudioURL is the S3 URL if PushToS3 was true.
	AudioURL string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial IN_QUEUE status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:            jobID,
		Status:        StatusInQueue,
		Segments:      make([]Segment, 0),
		FailedSegment: NoSegment,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED and sets progress to 100.
func (j *Job) Complete() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.Progress = 100
	return nil
}

// Fail records the error and transitions the job to the terminal state
// matching kind: CANCELLED, TIMED_OUT, or FAILED.
func (j *Job) Fail(kind ErrorKind, errMsg string, segment int) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	target := StatusFailed
	switch kind {
	case ErrorKindCancelled:
		target = StatusCancelled
	case ErrorKindTimedOut:
		target = StatusTimedOut
	}
	if err := j.transitionLocked(target); err != nil {
		return err
	}

	j.Error = errMsg
	j.ErrorKind = kind
	j.FailedSegment = segment
	if kind == ErrorKindSegmentGeneration && segment >= 0 && segment < len(j.Segments) {
		j.Segments[segment].Status = SegmentStatusFailed
		j.Segments[segment].Error = errMsg
		j.Segments[segment].CompletedAt = j.UpdatedAt
	}
	return nil
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel() error {
	return j.Fail(ErrorKindCancelled, "cancelled before processing started", NoSegment)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// GetProgress returns the current progress percentage (thread-safe).
func (j *Job) GetProgress() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Progress
}

// SetPlan replaces the segment records with one PENDING record per planned segment.
func (j *Job) SetPlan(plan []extended.SegmentPlan) {
	j.mu.Lock()
	defer j.mu.Unlock()

	segments := make([]Segment, len(plan))
	for i, p := range plan {
		segments[i] = Segment{
			ID:          id.Segment(j.ID, p.Index),
			Index:       p.Index,
			Role:        p.Role,
			Hint:        p.PromptSuffixHint,
			StartOffset: p.StartOffset,
			Duration:    p.Duration,
			Status:      SegmentStatusPending,
		}
	}
	j.Segments = segments
	j.UpdatedAt = time.Now()
}

// StartSegment marks a segment as PROCESSING with the prompt sent for it.
func (j *Job) StartSegment(index int, prompt string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if index < 0 || index >= len(j.Segments) {
		return
	}
	now := time.Now()
	j.Segments[index].Status = SegmentStatusProcessing
	j.Segments[index].Prompt = prompt
	j.Segments[index].StartedAt = now
	j.UpdatedAt = now
}

// CompleteSegment marks a segment as COMPLETED.
func (j *Job) CompleteSegment(index int, rendered time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if index < 0 || index >= len(j.Segments) {
		return
	}
	now := time.Now()
	j.Segments[index].Status = SegmentStatusCompleted
	j.Segments[index].Rendered = rendered
	j.Segments[index].CompletedAt = now
	j.UpdatedAt = now
}

// UpdateProgress sets the progress percentage, clamped to 0-100.
// Values below the current progress are ignored.
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	progress = min(max(progress, 0), 100)
	if progress < j.Progress {
		return
	}
	j.Progress = progress
	j.UpdatedAt = time.Now()
}

// SetOutput sets the output track path and optional S3 URL.
func (j *Job) SetOutput(path, audioURL string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputPath = path
	j.AudioURL = audioURL
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted ||
		j.Status == StatusFailed ||
		j.Status == StatusCancelled ||
		j.Status == StatusTimedOut
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	segments := make([]Segment, len(j.Segments))
	copy(segments, j.Segments)

	return &Job{
		ID:            j.ID,
		Status:        j.Status,
		Prompt:        j.Prompt,
		Config:        j.Config,
		Segments:      segments,
		Progress:      j.Progress,
		Error:         j.Error,
		ErrorKind:     j.ErrorKind,
		FailedSegment: j.FailedSegment,
		OutputPath:    j.OutputPath,
		PushToS3:      j.PushToS3,
		AudioURL:      j.AudioURL,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
	}
}
