package acestep

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Static errors for ACE-Step client operations.
var (
	// ErrBaseURLRequired is returned when the API base URL is not provided.
	ErrBaseURLRequired = errors.New("acestep: base URL is required")
	// ErrTaskIDRequired is returned when the task ID is not provided.
	ErrTaskIDRequired = errors.New("acestep: task ID is required")
	// ErrNoTaskIDReturned is returned when the submit response contains no task ID.
	ErrNoTaskIDReturned = errors.New("acestep: submit failed: no task ID returned")
	// ErrSubmitFailed is returned when the API rejects a task.
	ErrSubmitFailed = errors.New("acestep: submit failed")
	// ErrNoOutputFile is returned when a finished task lists no audio file.
	ErrNoOutputFile = errors.New("acestep: no audio file in result")
	// ErrFileRefRequired is returned when Download is called without a file reference.
	ErrFileRefRequired = errors.New("acestep: file reference is required")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("acestep: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("acestep: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("acestep: request failed")
	// ErrUnhealthy is returned when the health endpoint does not report OK.
	ErrUnhealthy = errors.New("acestep: service unhealthy")
)

// Client defines the interface for interacting with the ACE-Step API.
type Client interface {
	// Submit queues a generation task and returns its ID.
	Submit(ctx context.Context, opts SubmitOptions) (taskID string, err error)

	// Poll checks the status of a task.
	Poll(ctx context.Context, taskID string) (PollResult, error)

	// Download writes the audio behind fileRef to destPath.
	Download(ctx context.Context, fileRef, destPath string) error

	// Health checks that the API is up.
	Health(ctx context.Context) error
}

// HTTPClient is the HTTP implementation of the ACE-Step Client interface.
type HTTPClient struct {
	apiKey      string
	baseURL     string
	outputDir   string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// WithOutputDir sets the directory where the API's output volume is mounted.
// When set, Download copies finished files from disk instead of over HTTP.
func WithOutputDir(dir string) ClientOption {
	return func(hc *HTTPClient) {
		hc.outputDir = dir
	}
}

// NewClient creates a new ACE-Step HTTP client.
// The API key is optional. If not set via WithAPIKey it is read from
// ACESTEP_API_KEY; local deployments usually run without one.
func NewClient(baseURL string, opts ...ClientOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	c := &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("ACESTEP_API_KEY")
	}

	return c, nil
}

// Submit queues a generation task and returns its ID.
func (c *HTTPClient) Submit(ctx context.Context, opts SubmitOptions) (string, error) {
	defaults := DefaultSubmitOptions()
	if opts.Lyrics == "" {
		opts.Lyrics = defaults.Lyrics
	}
	if opts.InferenceSteps == 0 {
		opts.InferenceSteps = defaults.InferenceSteps
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = defaults.BatchSize
	}
	if opts.AudioFormat == "" {
		opts.AudioFormat = defaults.AudioFormat
	}

	bodyBytes, err := json.Marshal(releaseRequest{
		Caption:        opts.Caption,
		Lyrics:         opts.Lyrics,
		Duration:       opts.Duration.Seconds(),
		InferenceSteps: opts.InferenceSteps,
		Seed:           opts.Seed,
		BatchSize:      opts.BatchSize,
		AudioFormat:    opts.AudioFormat,
	})
	if err != nil {
		return "", fmt.Errorf("acestep: marshal request: %w", err)
	}

	var resp releaseResponse
	if err := c.doRequestWithRetry(ctx, http.MethodPost, c.baseURL+"/release_task", bodyBytes, &resp); err != nil {
		return "", err
	}

	if resp.Code != 0 && resp.Code != http.StatusOK {
		return "", fmt.Errorf("%w (code %d): %s", ErrSubmitFailed, resp.Code, resp.Error)
	}
	if resp.Data.TaskID == "" {
		if resp.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrSubmitFailed, resp.Error)
		}
		return "", ErrNoTaskIDReturned
	}

	return resp.Data.TaskID, nil
}

// Poll checks the status of a task.
func (c *HTTPClient) Poll(ctx context.Context, taskID string) (PollResult, error) {
	if taskID == "" {
		return PollResult{}, ErrTaskIDRequired
	}

	bodyBytes, err := json.Marshal(queryRequest{TaskIDList: []string{taskID}})
	if err != nil {
		return PollResult{}, fmt.Errorf("acestep: marshal request: %w", err)
	}

	var resp queryResponse
	if err := c.doRequestWithRetry(ctx, http.MethodPost, c.baseURL+"/query_result", bodyBytes, &resp); err != nil {
		return PollResult{}, err
	}

	if len(resp.Data) == 0 {
		return PollResult{Status: StatusQueued}, nil
	}

	task := resp.Data[0]
	switch task.Status {
	case taskSucceeded:
		ref, err := firstFile(task.Result)
		if err != nil {
			return PollResult{}, err
		}
		return PollResult{Status: StatusSucceeded, FileRef: ref}, nil
	case taskFailed:
		msg := task.Result
		if msg == "" {
			msg = "generation failed"
		}
		return PollResult{Status: StatusFailed, Error: msg}, nil
	default:
		return PollResult{Status: StatusRunning}, nil
	}
}

// Download writes the audio behind fileRef to destPath. File references look
// like "/v1/audio?path=outputs/task/0.wav"; when the output volume is mounted
// locally the file is copied from there, otherwise it is fetched over HTTP.
func (c *HTTPClient) Download(ctx context.Context, fileRef, destPath string) error {
	if fileRef == "" {
		return ErrFileRefRequired
	}

	if local := c.localPath(fileRef); local != "" {
		return copyFile(local, destPath)
	}

	dlURL := fileRef
	if !strings.HasPrefix(fileRef, "http://") && !strings.HasPrefix(fileRef, "https://") {
		dlURL = c.baseURL + "/" + strings.TrimLeft(fileRef, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dlURL, nil)
	if err != nil {
		return fmt.Errorf("acestep: create download request: %w", err)
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("acestep: download request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: download returned status %d", ErrRequestFailed, resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("acestep: create output file: %w", err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("acestep: copy download data: %w", err)
	}

	return nil
}

// Health checks that the API is up.
func (c *HTTPClient) Health(ctx context.Context) error {
	if err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/health", nil, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	return nil
}

// localPath resolves fileRef against the mounted output volume. It returns
// "" when no volume is configured or the file is not there.
func (c *HTTPClient) localPath(fileRef string) string {
	if c.outputDir == "" {
		return ""
	}
	u, err := url.Parse(fileRef)
	if err != nil {
		return ""
	}
	rel := u.Query().Get("path")
	if rel == "" {
		return ""
	}
	p := filepath.Join(c.outputDir, filepath.Clean("/"+rel))
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, endpoint string, body []byte, result any) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("acestep: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := c.doRequest(ctx, method, endpoint, body, result)
		if err == nil {
			return nil
		}

		if !isRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("acestep: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, method, endpoint string, body []byte, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("acestep: create request: %w", err)
	}

	c.setAuth(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("acestep: request failed: %w", err)
		}
		return &retryableError{err: fmt.Errorf("acestep: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("acestep: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))}
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("acestep: unmarshal response: %w", err)
		}
	}

	return nil
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// firstFile extracts the first file reference from a task's result JSON.
func firstFile(resultJSON string) (string, error) {
	var items []resultItem
	if err := json.Unmarshal([]byte(resultJSON), &items); err != nil {
		return "", fmt.Errorf("acestep: parse result items: %w", err)
	}
	if len(items) == 0 || items[0].File == "" {
		return "", ErrNoOutputFile
	}
	return items[0].File, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("acestep: open shared output: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("acestep: create output file: %w", err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("acestep: copy shared output: %w", err)
	}
	return nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
