package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/longtrack-api/internal/audio"
	"github.com/maauso/longtrack-api/internal/extended"
	"github.com/maauso/longtrack-api/internal/job"
	"github.com/maauso/longtrack-api/internal/storage"
)

// mockCodec implements audio.Codec for testing.
type mockCodec struct {
	mock.Mock
}

func (m *mockCodec) Decode(ctx context.Context, path string, sampleRate, channels int) (audio.Buffer, error) {
	args := m.Called(ctx, path, sampleRate, channels)
	return args.Get(0).(audio.Buffer), args.Error(1)
}

func (m *mockCodec) Encode(ctx context.Context, buf audio.Buffer, outPath string) error {
	args := m.Called(ctx, buf, outPath)
	return args.Error(0)
}

func (m *mockCodec) DurationOf(ctx context.Context, path string) (time.Duration, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(time.Duration), args.Error(1)
}

var trackBytes = []byte("RIFF....WAVEfmt ")

func testDefaults() extended.GenerationConfig {
	return extended.GenerationConfig{
		TargetDuration:     10 * time.Second,
		SegmentDuration:    6 * time.Second,
		OverlapDuration:    2 * time.Second,
		CrossfadeDuration:  time.Second,
		SampleRate:         100,
		Channels:           1,
		MaxSegmentDuration: 30 * time.Second,
		Curve:              extended.CurveEqualPower,
	}
}

func flatBackend() extended.BackendFunc {
	return func(ctx context.Context, _ string, d time.Duration, _ func(float64)) (audio.Buffer, error) {
		if err := ctx.Err(); err != nil {
			return audio.Buffer{}, err
		}
		return audio.NewBuffer(audio.FramesFor(d, 100), 100, 1), nil
	}
}

type testEnv struct {
	handlers *Handlers
	service  *job.GenerateTrackService
	repo     job.Repository
	codec    *mockCodec
}

func newTestHandlers(t *testing.T, backend extended.Backend, opts ...HandlerOption) testEnv {
	t.Helper()
	repo := job.NewMemoryRepository()
	codec := &mockCodec{}
	codec.On("Encode", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			_ = os.WriteFile(args.String(2), trackBytes, 0o600)
		}).
		Return(nil)

	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := job.NewGenerateTrackService(repo, backend, codec, local, testDefaults(), logger)

	// Disable async processing; tests drive ProcessExistingJob themselves
	opts = append([]HandlerOption{WithAsyncProcessing(false)}, opts...)
	return testEnv{
		handlers: NewHandlers(svc, logger, opts...),
		service:  svc,
		repo:     repo,
		codec:    codec,
	}
}

func postJSON(t *testing.T, path string, body any) *http.Request {
	t.Helper()
	bodyJSON, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(bodyJSON))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHealth(t *testing.T) {
	env := newTestHandlers(t, flatBackend())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	env.handlers.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestHealth_BackendDown(t *testing.T) {
	env := newTestHandlers(t, flatBackend(), WithHealthCheck(func(context.Context) error {
		return errors.New("acestep: unhealthy")
	}))

	rec := httptest.NewRecorder()
	env.handlers.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Contains(t, resp.Backend, "unhealthy")
}

func TestCreateJob_Success(t *testing.T) {
	env := newTestHandlers(t, flatBackend())

	req := postJSON(t, "/jobs", CreateJobRequest{
		Prompt:             "warm lofi hip hop",
		GenerationSettings: GenerationSettings{DurationSec: 14},
	})
	rec := httptest.NewRecorder()

	env.handlers.CreateJob(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp CreateJobResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "IN_QUEUE", resp.Status)
	assert.Equal(t, 3, resp.SegmentCount)

	saved, err := env.repo.FindByID(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "warm lofi hip hop", saved.Prompt)
	assert.Equal(t, 14*time.Second, saved.Config.TargetDuration)
}

func TestCreateJob_Overrides(t *testing.T) {
	env := newTestHandlers(t, flatBackend())

	req := postJSON(t, "/jobs", CreateJobRequest{
		Prompt: "ambient",
		GenerationSettings: GenerationSettings{
			DurationSec:  20,
			SegmentSec:   8,
			OverlapSec:   3,
			CrossfadeSec: 1.5,
			Curve:        "smoothstep",
		},
		PushToS3: true,
	})
	rec := httptest.NewRecorder()

	env.handlers.CreateJob(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp CreateJobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	saved, err := env.repo.FindByID(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, 8*time.Second, saved.Config.SegmentDuration)
	assert.Equal(t, 3*time.Second, saved.Config.OverlapDuration)
	assert.Equal(t, 1500*time.Millisecond, saved.Config.CrossfadeDuration)
	assert.Equal(t, extended.CurveSmoothstep, saved.Config.Curve)
	assert.True(t, saved.PushToS3)
}

func TestCreateJob_InvalidJSON(t *testing.T) {
	env := newTestHandlers(t, flatBackend())

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader([]byte("invalid json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	env.handlers.CreateJob(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JSON", decodeError(t, rec).Code)
}

func TestCreateJob_ValidationError(t *testing.T) {
	tests := []struct {
		name string
		body CreateJobRequest
	}{
		{"missing prompt", CreateJobRequest{GenerationSettings: GenerationSettings{DurationSec: 60}}},
		{"missing duration", CreateJobRequest{Prompt: "x"}},
		{"negative duration", CreateJobRequest{Prompt: "x", GenerationSettings: GenerationSettings{DurationSec: -5}}},
		{"too long", CreateJobRequest{Prompt: "x", GenerationSettings: GenerationSettings{DurationSec: 7200}}},
		{"negative overlap", CreateJobRequest{Prompt: "x", GenerationSettings: GenerationSettings{DurationSec: 60, OverlapSec: -1}}},
		{"unknown curve", CreateJobRequest{Prompt: "x", GenerationSettings: GenerationSettings{DurationSec: 60, Curve: "cubic"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestHandlers(t, flatBackend())
			rec := httptest.NewRecorder()

			env.handlers.CreateJob(rec, postJSON(t, "/jobs", tt.body))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)
		})
	}
}

func TestCreateJob_InvalidConfig(t *testing.T) {
	env := newTestHandlers(t, flatBackend())

	// Passes request validation but crossfade exceeds overlap.
	req := postJSON(t, "/jobs", CreateJobRequest{
		Prompt:             "x",
		GenerationSettings: GenerationSettings{DurationSec: 60, OverlapSec: 2, CrossfadeSec: 3},
	})
	rec := httptest.NewRecorder()

	env.handlers.CreateJob(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "INVALID_CONFIG", resp.Code)
	assert.Contains(t, resp.Error, "CrossfadeDuration")

	jobs, err := env.repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestCreateJob_AsyncProcessing(t *testing.T) {
	env := newTestHandlers(t, flatBackend(), WithAsyncProcessing(true))

	rec := httptest.NewRecorder()
	env.handlers.CreateJob(rec, postJSON(t, "/jobs", CreateJobRequest{
		Prompt:             "x",
		GenerationSettings: GenerationSettings{DurationSec: 10},
	}))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp CreateJobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	assert.Eventually(t, func() bool {
		j, err := env.repo.FindByID(context.Background(), resp.ID)
		return err == nil && j.Status == job.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestGetJob_Queued(t *testing.T) {
	env := newTestHandlers(t, flatBackend())
	ctx := context.Background()

	created, err := env.service.CreateJob(ctx, job.GenerateTrackInput{Prompt: "x", Duration: 14 * time.Second})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+created.ID, nil)
	req.SetPathValue("id", created.ID)
	rec := httptest.NewRecorder()

	env.handlers.GetJob(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, created.ID, resp.ID)
	assert.Equal(t, "IN_QUEUE", resp.Status)
	assert.Equal(t, 0, resp.Progress)
	assert.Equal(t, 14.0, resp.DurationSec)
	assert.Nil(t, resp.FailedSegment)
	assert.Nil(t, resp.CompletedAt)
	require.Len(t, resp.Segments, 3)
	assert.Equal(t, "intro", resp.Segments[0].Role)
	assert.Equal(t, 4.0, resp.Segments[1].StartSec)
	assert.Equal(t, "PENDING", resp.Segments[2].Status)
	assert.Empty(t, resp.AudioBase64)
}

func TestGetJob_CompletedWithAudioBase64(t *testing.T) {
	env := newTestHandlers(t, flatBackend())
	ctx := context.Background()

	created, err := env.service.CreateJob(ctx, job.GenerateTrackInput{Prompt: "x"})
	require.NoError(t, err)
	require.NoError(t, env.service.ProcessExistingJob(ctx, created.ID))

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+created.ID, nil)
	req.SetPathValue("id", created.ID)
	rec := httptest.NewRecorder()

	env.handlers.GetJob(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "COMPLETED", resp.Status)
	assert.Equal(t, 100, resp.Progress)
	assert.NotNil(t, resp.CompletedAt)
	assert.Empty(t, resp.AudioURL)

	decoded, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	require.NoError(t, err)
	assert.Equal(t, trackBytes, decoded)
}

func TestGetJob_WithS3URL(t *testing.T) {
	env := newTestHandlers(t, flatBackend())
	ctx := context.Background()

	testJob := job.New()
	testJob.PushToS3 = true
	require.NoError(t, testJob.Start())
	testJob.SetOutput("/tmp/does-not-matter.wav", "https://bucket.s3.amazonaws.com/track.wav")
	require.NoError(t, testJob.Complete())
	require.NoError(t, env.repo.Save(ctx, testJob))

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+testJob.ID, nil)
	req.SetPathValue("id", testJob.ID)
	rec := httptest.NewRecorder()

	env.handlers.GetJob(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "https://bucket.s3.amazonaws.com/track.wav", resp.AudioURL)
	assert.Empty(t, resp.AudioBase64)
}

func TestGetJob_FailedSegment(t *testing.T) {
	calls := 0
	backend := extended.BackendFunc(func(ctx context.Context, p string, d time.Duration, onProgress func(float64)) (audio.Buffer, error) {
		calls++
		if calls == 2 {
			return audio.Buffer{}, errors.New("gpu out of memory")
		}
		return flatBackend()(ctx, p, d, onProgress)
	})
	env := newTestHandlers(t, backend)
	ctx := context.Background()

	created, err := env.service.CreateJob(ctx, job.GenerateTrackInput{Prompt: "x", Duration: 14 * time.Second})
	require.NoError(t, err)
	require.Error(t, env.service.ProcessExistingJob(ctx, created.ID))

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+created.ID, nil)
	req.SetPathValue("id", created.ID)
	rec := httptest.NewRecorder()

	env.handlers.GetJob(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "FAILED", resp.Status)
	assert.Equal(t, "SEGMENT_GENERATION_ERROR", resp.ErrorKind)
	require.NotNil(t, resp.FailedSegment)
	assert.Equal(t, 1, *resp.FailedSegment)
	assert.Contains(t, resp.Error, "gpu out of memory")
	assert.Equal(t, "FAILED", resp.Segments[1].Status)
	assert.Empty(t, resp.AudioBase64)
}

func TestGetJob_NotFound(t *testing.T) {
	env := newTestHandlers(t, flatBackend())

	req := httptest.NewRequest(http.MethodGet, "/jobs/nonexistent", nil)
	req.SetPathValue("id", "nonexistent")
	rec := httptest.NewRecorder()

	env.handlers.GetJob(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decodeError(t, rec).Code)
}

func TestGetJob_UnknownWellFormedID(t *testing.T) {
	env := newTestHandlers(t, flatBackend())
	unknown := job.New().ID

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+unknown, nil)
	req.SetPathValue("id", unknown)
	rec := httptest.NewRecorder()

	env.handlers.GetJob(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decodeError(t, rec).Code)
}

func TestGetJob_MissingID(t *testing.T) {
	env := newTestHandlers(t, flatBackend())

	req := httptest.NewRequest(http.MethodGet, "/jobs/", nil)
	rec := httptest.NewRecorder()

	env.handlers.GetJob(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_JOB_ID", decodeError(t, rec).Code)
}

func TestGetJobAudio(t *testing.T) {
	env := newTestHandlers(t, flatBackend())
	ctx := context.Background()

	created, err := env.service.CreateJob(ctx, job.GenerateTrackInput{Prompt: "x"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+created.ID+"/audio", nil)
	req.SetPathValue("id", created.ID)
	rec := httptest.NewRecorder()
	env.handlers.GetJobAudio(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "AUDIO_NOT_AVAILABLE", decodeError(t, rec).Code)

	require.NoError(t, env.service.ProcessExistingJob(ctx, created.ID))

	rec = httptest.NewRecorder()
	env.handlers.GetJobAudio(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), created.ID+".wav")
	assert.Equal(t, trackBytes, rec.Body.Bytes())
}

func TestListJobs(t *testing.T) {
	env := newTestHandlers(t, flatBackend())
	ctx := context.Background()

	rec := httptest.NewRecorder()
	env.handlers.ListJobs(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jobs":[]}`, rec.Body.String())

	first, err := env.service.CreateJob(ctx, job.GenerateTrackInput{Prompt: "a"})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	second, err := env.service.CreateJob(ctx, job.GenerateTrackInput{Prompt: "b"})
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	env.handlers.ListJobs(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp JobListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Jobs, 2)
	assert.Equal(t, first.ID, resp.Jobs[0].ID)
	assert.Equal(t, second.ID, resp.Jobs[1].ID)
	assert.Empty(t, resp.Jobs[0].Segments)
}

func TestCancelJob(t *testing.T) {
	env := newTestHandlers(t, flatBackend())
	ctx := context.Background()

	created, err := env.service.CreateJob(ctx, job.GenerateTrackInput{Prompt: "x"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/jobs/"+created.ID+"/cancel", nil)
	req.SetPathValue("id", created.ID)
	rec := httptest.NewRecorder()

	env.handlers.CancelJob(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	var resp JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "CANCELLED", resp.Status)
	assert.Equal(t, "CANCELLED", resp.ErrorKind)

	// A second cancel conflicts.
	rec = httptest.NewRecorder()
	env.handlers.CancelJob(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "JOB_FINISHED", decodeError(t, rec).Code)
}

func TestCancelJob_NotFound(t *testing.T) {
	env := newTestHandlers(t, flatBackend())

	req := httptest.NewRequest(http.MethodPost, "/jobs/nonexistent/cancel", nil)
	req.SetPathValue("id", "nonexistent")
	rec := httptest.NewRecorder()

	env.handlers.CancelJob(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decodeError(t, rec).Code)
}

func TestDeleteJob(t *testing.T) {
	env := newTestHandlers(t, flatBackend())
	ctx := context.Background()

	created, err := env.service.CreateJob(ctx, job.GenerateTrackInput{Prompt: "x"})
	require.NoError(t, err)
	require.NoError(t, env.service.ProcessExistingJob(ctx, created.ID))

	done, err := env.repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	require.FileExists(t, done.OutputPath)

	req := httptest.NewRequest(http.MethodDelete, "/jobs/"+created.ID, nil)
	req.SetPathValue("id", created.ID)
	rec := httptest.NewRecorder()

	env.handlers.DeleteJob(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NoFileExists(t, done.OutputPath)

	_, err = env.repo.FindByID(ctx, created.ID)
	assert.ErrorIs(t, err, job.ErrJobNotFound)

	rec = httptest.NewRecorder()
	env.handlers.DeleteJob(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteJob_Running(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	backend := extended.BackendFunc(func(ctx context.Context, _ string, _ time.Duration, _ func(float64)) (audio.Buffer, error) {
		close(started)
		<-release
		return audio.Buffer{}, ctx.Err()
	})
	env := newTestHandlers(t, backend)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	created, err := env.service.CreateJob(ctx, job.GenerateTrackInput{Prompt: "x", Duration: 5 * time.Second})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = env.service.ProcessExistingJob(ctx, created.ID)
		close(done)
	}()
	<-started

	req := httptest.NewRequest(http.MethodDelete, "/jobs/"+created.ID, nil)
	req.SetPathValue("id", created.ID)
	rec := httptest.NewRecorder()

	env.handlers.DeleteJob(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "JOB_RUNNING", decodeError(t, rec).Code)

	cancel()
	close(release)
	<-done
}

func TestPlan(t *testing.T) {
	env := newTestHandlers(t, flatBackend())

	rec := httptest.NewRecorder()
	env.handlers.Plan(rec, postJSON(t, "/plan", PlanRequest{GenerationSettings{
		DurationSec: 60,
		SegmentSec:  28,
		OverlapSec:  4,
	}}))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp PlanResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 60.0, resp.DurationSec)
	assert.Equal(t, 28.0, resp.SegmentSec)
	assert.Equal(t, 4.0, resp.OverlapSec)
	assert.Equal(t, 1.0, resp.CrossfadeSec)
	assert.Equal(t, "equal_power", resp.Curve)
	assert.Equal(t, 3, resp.SegmentCount)
	require.Len(t, resp.Segments, 3)
	assert.Equal(t, "outro", resp.Segments[2].Role)
	assert.Equal(t, 48.0, resp.Segments[2].StartSec)
	assert.Equal(t, 12.0, resp.Segments[2].DurationSec)

	// Plans never create jobs.
	jobs, err := env.repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestPlan_InvalidConfig(t *testing.T) {
	env := newTestHandlers(t, flatBackend())

	rec := httptest.NewRecorder()
	env.handlers.Plan(rec, postJSON(t, "/plan", PlanRequest{GenerationSettings{
		DurationSec: 60,
		SegmentSec:  40,
	}}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_CONFIG", decodeError(t, rec).Code)
}

func TestRouter_Integration(t *testing.T) {
	env := newTestHandlers(t, flatBackend())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	router := NewRouter(env.handlers, logger, DefaultConfig())

	// Test health endpoint
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	// Test POST /jobs
	req = postJSON(t, "/jobs", CreateJobRequest{
		Prompt:             "x",
		GenerationSettings: GenerationSettings{DurationSec: 30},
	})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var createResp CreateJobResponse
	err := json.NewDecoder(rec.Body).Decode(&createResp)
	require.NoError(t, err)

	// Test GET /jobs/{id}
	req = httptest.NewRequest(http.MethodGet, "/jobs/"+createResp.ID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Test GET /jobs
	req = httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Test POST /jobs/{id}/cancel
	req = httptest.NewRequest(http.MethodPost, "/jobs/"+createResp.ID+"/cancel", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// Test DELETE /jobs/{id}
	req = httptest.NewRequest(http.MethodDelete, "/jobs/"+createResp.ID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Test POST /plan
	req = postJSON(t, "/plan", PlanRequest{GenerationSettings{DurationSec: 240}})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Wrong method
	req = httptest.NewRequest(http.MethodPut, "/jobs", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = w.Header().Get(RequestIDHeader)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "caller-id-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "caller-id-1", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "caller-id-1", seen)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
}

func TestCORSMiddleware(t *testing.T) {
	env := newTestHandlers(t, flatBackend())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := Config{AllowedOrigins: []string{"https://example.com"}}
	router := NewRouter(env.handlers, logger, cfg)

	// Test with allowed origin
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, RequestIDHeader, rec.Header().Get("Access-Control-Expose-Headers"))

	// Disallowed origin gets no CORS headers
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	// Test OPTIONS preflight
	req = httptest.NewRequest(http.MethodOptions, "/jobs", nil)
	req.Header.Set("Origin", "https://example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	// Create a handler that panics
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := RecoveryMiddleware(logger)(panicHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	// Should not panic
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec).Code)
}
