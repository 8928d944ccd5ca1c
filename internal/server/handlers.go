package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/longtrack-api/internal/extended"
	"github.com/maauso/longtrack-api/internal/job"
	"github.com/maauso/longtrack-api/internal/job/id"
	"github.com/maauso/longtrack-api/internal/storage"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker func(ctx context.Context) error

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            *job.GenerateTrackService
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
	healthCheck        HealthChecker
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateJob only creates the job and returns immediately
// without starting background processing.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithHealthCheck makes GET /health probe the generation backend.
func WithHealthCheck(check HealthChecker) HandlerOption {
	return func(h *Handlers) {
		h.healthCheck = check
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.GenerateTrackService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		validator:          validator.New(validator.WithRequiredStructEnabled()),
		logger:             logger,
		enableAsyncProcess: true, // Default to enabled
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.healthCheck != nil {
		if err := h.healthCheck(r.Context()); err != nil {
			h.logger.Warn("backend health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Backend: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateJob handles POST /jobs requests.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if !h.decode(w, r, &req) {
		return
	}

	input := req.toInput()
	input.Prompt = req.Prompt
	input.PushToS3 = req.PushToS3

	createdJob, err := h.service.CreateJob(r.Context(), input)
	if err != nil {
		if errors.Is(err, extended.ErrInvalidConfig) {
			writeError(w, http.StatusBadRequest, err.Error(), "INVALID_CONFIG")
			return
		}
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	// Start processing in background with a detached context
	// Use context.WithoutCancel to prevent cancellation when the request ends
	if h.enableAsyncProcess {
		go func(ctx context.Context, jobID string) {
			if processErr := h.service.ProcessExistingJob(ctx, jobID); processErr != nil {
				h.logger.Error("background processing failed",
					slog.String("job_id", jobID),
					slog.String("error", processErr.Error()),
				)
			}
		}(context.WithoutCancel(r.Context()), createdJob.ID)
	}

	h.logger.Info("job created",
		slog.String("job_id", createdJob.ID),
		slog.Float64("duration_sec", req.DurationSec),
		slog.Int("segment_count", len(createdJob.Segments)),
	)

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:           createdJob.ID,
		Status:       string(createdJob.Status),
		SegmentCount: len(createdJob.Segments),
	})
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}

	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, newJobResponse(j, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}

	foundJob, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeJobError(w, jobID, err, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	resp := newJobResponse(foundJob, true)

	// Include the track inline if it was not pushed to S3
	if foundJob.Status == job.StatusCompleted && resp.AudioURL == "" {
		if data, err := h.readOutput(r.Context(), jobID); err != nil {
			// Don't fail the request, just log and omit the audio
			h.logger.Error("failed to read output track",
				slog.String("job_id", jobID),
				slog.String("path", foundJob.OutputPath),
				slog.String("error", err.Error()),
			)
		} else {
			resp.AudioBase64 = base64.StdEncoding.EncodeToString(data)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetJobAudio handles GET /jobs/{id}/audio requests by streaming the track.
func (h *Handlers) GetJobAudio(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}

	foundJob, rc, err := h.service.OpenOutput(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrOutputNotAvailable) {
			writeError(w, http.StatusNotFound, "audio not available", "AUDIO_NOT_AVAILABLE")
			return
		}
		h.writeJobError(w, jobID, err, "failed to open audio", "AUDIO_FETCH_FAILED")
		return
	}
	defer func() { _ = rc.Close() }()

	ext := filepath.Ext(foundJob.OutputPath)
	contentType := storage.ContentType(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+foundJob.ID+ext+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("failed to stream audio",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// CancelJob handles POST /jobs/{id}/cancel requests.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}

	cancelled, err := h.service.CancelJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobFinished) {
			writeError(w, http.StatusConflict, "job already finished", "JOB_FINISHED")
			return
		}
		h.writeJobError(w, jobID, err, "failed to cancel job", "JOB_CANCEL_FAILED")
		return
	}

	h.logger.Info("job cancel requested", slog.String("job_id", jobID))
	writeJSON(w, http.StatusAccepted, newJobResponse(cancelled, false))
}

// DeleteJob handles DELETE /jobs/{id} requests.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteJob(r.Context(), jobID); err != nil {
		if errors.Is(err, job.ErrJobRunning) {
			writeError(w, http.StatusConflict, "job is running; cancel it first", "JOB_RUNNING")
			return
		}
		h.writeJobError(w, jobID, err, "failed to delete job", "JOB_DELETE_FAILED")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Plan handles POST /plan requests with a dry-run segment plan.
func (h *Handlers) Plan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if !h.decode(w, r, &req) {
		return
	}

	cfg, plan, err := h.service.PreviewPlan(req.toInput())
	if err != nil {
		if errors.Is(err, extended.ErrInvalidConfig) {
			writeError(w, http.StatusBadRequest, err.Error(), "INVALID_CONFIG")
			return
		}
		h.logger.Error("failed to plan", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to plan", "PLAN_FAILED")
		return
	}

	curve := cfg.Curve
	if curve == "" {
		curve = extended.CurveEqualPower
	}
	writeJSON(w, http.StatusOK, PlanResponse{
		DurationSec:  cfg.TargetDuration.Seconds(),
		SegmentSec:   cfg.SegmentDuration.Seconds(),
		OverlapSec:   cfg.OverlapDuration.Seconds(),
		CrossfadeSec: cfg.CrossfadeDuration.Seconds(),
		Curve:        string(curve),
		SegmentCount: len(plan),
		Segments:     planSegments(plan),
	})
}

// decode reads and validates a JSON body, writing the error response on
// failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

func (h *Handlers) readOutput(ctx context.Context, jobID string) ([]byte, error) {
	_, rc, err := h.service.OpenOutput(ctx, jobID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

// writeJobError maps job lookup errors onto responses.
func (h *Handlers) writeJobError(w http.ResponseWriter, jobID string, err error, msg, code string) {
	if errors.Is(err, job.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return
	}
	h.logger.Error(msg,
		slog.String("job_id", jobID),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, msg, code)
}

func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return "", false
	}
	// Malformed IDs can never match a stored job.
	if !id.Valid(jobID) {
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return "", false
	}
	return jobID, true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
