// Package server provides the HTTP server for the LongTrack API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/longtrack-api/internal/extended"
	"github.com/maauso/longtrack-api/internal/job"
)

// GenerationSettings are the optional duration overrides shared by job and
// plan requests. Omitted values use the server defaults.
type GenerationSettings struct {
	// DurationSec is the requested track length in seconds.
	DurationSec float64 `json:"duration_sec" validate:"gt=0,lte=3600"`
	// SegmentSec overrides the length of each backend render.
	SegmentSec float64 `json:"segment_sec,omitempty" validate:"omitempty,gt=0"`
	// OverlapSec overrides the audio shared by consecutive segments.
	OverlapSec float64 `json:"overlap_sec,omitempty" validate:"omitempty,gt=0"`
	// CrossfadeSec overrides the blend length inside each overlap.
	CrossfadeSec float64 `json:"crossfade_sec,omitempty" validate:"omitempty,gt=0"`
	// Curve selects the crossfade gain curve.
	Curve string `json:"curve,omitempty" validate:"omitempty,oneof=equal_power linear smoothstep"`
}

// CreateJobRequest is the HTTP request body for creating a new job.
type CreateJobRequest struct {
	// Prompt is the style prompt for the whole track.
	Prompt string `json:"prompt" validate:"required,max=2000"`
	GenerationSettings
	// PushToS3 indicates whether to upload the final track to S3.
	PushToS3 bool `json:"push_to_s3"`
}

// PlanRequest is the HTTP request body for a dry-run plan preview.
type PlanRequest struct {
	GenerationSettings
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
	// SegmentCount is the number of planned backend calls.
	SegmentCount int `json:"segment_count"`
}

// SegmentResponse describes one planned or processed segment.
type SegmentResponse struct {
	Index       int     `json:"index"`
	Role        string  `json:"role"`
	Hint        string  `json:"hint,omitempty"`
	StartSec    float64 `json:"start_sec"`
	DurationSec float64 `json:"duration_sec"`
	RenderedSec float64 `json:"rendered_sec,omitempty"`
	Status      string  `json:"status,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Status is the current job status.
	Status string `json:"status"`
	// Prompt is the base style prompt.
	Prompt string `json:"prompt"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	// DurationSec is the requested track length.
	DurationSec float64 `json:"duration_sec"`
	// Segments lists the per-segment state (omitted in listings).
	Segments []SegmentResponse `json:"segments,omitempty"`
	// Error contains any error message if the job did not complete.
	Error string `json:"error,omitempty"`
	// ErrorKind classifies Error.
	ErrorKind string `json:"error_kind,omitempty"`
	// FailedSegment is the index of the segment that failed, if any.
	FailedSegment *int `json:"failed_segment,omitempty"`
	// AudioBase64 is the base64-encoded track (if push_to_s3=false and completed).
	AudioBase64 string `json:"audio_base64,omitempty"`
	// AudioURL is the S3 URL of the track (if push_to_s3=true and completed).
	AudioURL string `json:"audio_url,omitempty"`
	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the job reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobListResponse is the HTTP response for listing jobs.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// PlanResponse is the HTTP response for a plan preview.
type PlanResponse struct {
	DurationSec  float64           `json:"duration_sec"`
	SegmentSec   float64           `json:"segment_sec"`
	OverlapSec   float64           `json:"overlap_sec"`
	CrossfadeSec float64           `json:"crossfade_sec"`
	Curve        string            `json:"curve"`
	SegmentCount int               `json:"segment_count"`
	Segments     []SegmentResponse `json:"segments"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Backend describes a failed backend check.
	Backend string `json:"backend,omitempty"`
}

func seconds(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

// toInput maps request settings onto the service input.
func (s GenerationSettings) toInput() job.GenerateTrackInput {
	return job.GenerateTrackInput{
		Duration:          seconds(s.DurationSec),
		SegmentDuration:   seconds(s.SegmentSec),
		OverlapDuration:   seconds(s.OverlapSec),
		CrossfadeDuration: seconds(s.CrossfadeSec),
		Curve:             extended.Curve(s.Curve),
	}
}

func planSegments(plan []extended.SegmentPlan) []SegmentResponse {
	out := make([]SegmentResponse, len(plan))
	for i, p := range plan {
		out[i] = SegmentResponse{
			Index:       p.Index,
			Role:        string(p.Role),
			Hint:        p.PromptSuffixHint,
			StartSec:    p.StartOffset.Seconds(),
			DurationSec: p.Duration.Seconds(),
		}
	}
	return out
}

func jobSegments(segments []job.Segment) []SegmentResponse {
	out := make([]SegmentResponse, len(segments))
	for i, s := range segments {
		out[i] = SegmentResponse{
			Index:       s.Index,
			Role:        string(s.Role),
			Hint:        s.Hint,
			StartSec:    s.StartOffset.Seconds(),
			DurationSec: s.Duration.Seconds(),
			RenderedSec: s.Rendered.Seconds(),
			Status:      string(s.Status),
			Error:       s.Error,
		}
	}
	return out
}

// newJobResponse maps a job onto its response, without audio content.
func newJobResponse(j *job.Job, withSegments bool) JobResponse {
	resp := JobResponse{
		ID:          j.ID,
		Status:      string(j.Status),
		Prompt:      j.Prompt,
		Progress:    j.Progress,
		DurationSec: j.Config.TargetDuration.Seconds(),
		Error:       j.Error,
		ErrorKind:   string(j.ErrorKind),
		AudioURL:    j.AudioURL,
		CreatedAt:   j.CreatedAt,
	}
	if withSegments {
		resp.Segments = jobSegments(j.Segments)
	}
	if j.FailedSegment != job.NoSegment {
		idx := j.FailedSegment
		resp.FailedSegment = &idx
	}
	if !j.CompletedAt.IsZero() {
		at := j.CompletedAt
		resp.CompletedAt = &at
	}
	return resp
}
