// Package acestep provides an HTTP client for the ACE-Step music generation API.
package acestep

import "time"

// Status represents the state of an ACE-Step task.
type Status string

// Task states. The API reports numeric codes; QUEUED is used while the task
// is not yet visible to /query_result.
const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Numeric task codes returned by /query_result.
const (
	taskRunning   = 0
	taskSucceeded = 1
	taskFailed    = 2
)

// SubmitOptions contains the parameters of one generation task.
type SubmitOptions struct {
	Caption        string        // Style prompt describing the music
	Lyrics         string        // Lyrics, or "[instrumental]"
	Duration       time.Duration // Requested audio length
	InferenceSteps int           // Diffusion steps (default: 8)
	Seed           int           // Seed, -1 for random
	BatchSize      int           // Number of variations (default: 1)
	AudioFormat    string        // Output container (default: "wav")
}

// DefaultSubmitOptions returns the defaults used for instrumental segments.
func DefaultSubmitOptions() SubmitOptions {
	return SubmitOptions{
		Lyrics:         "[instrumental]",
		InferenceSteps: 8,
		Seed:           -1,
		BatchSize:      1,
		AudioFormat:    "wav",
	}
}

// releaseRequest is the request body for /release_task.
type releaseRequest struct {
	Caption        string  `json:"caption"`
	Lyrics         string  `json:"lyrics"`
	Duration       float64 `json:"audio_duration"`
	InferenceSteps int     `json:"inference_steps"`
	Seed           int     `json:"seed"`
	BatchSize      int     `json:"batch_size"`
	AudioFormat    string  `json:"audio_format"`
}

// releaseResponse is the response from /release_task.
type releaseResponse struct {
	Data struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
	Code  int    `json:"code"`
	Error string `json:"error,omitempty"`
}

// queryRequest is the request body for /query_result.
type queryRequest struct {
	TaskIDList []string `json:"task_id_list"`
}

// queryResponse is the response from /query_result.
type queryResponse struct {
	Data []taskResult `json:"data"`
	Code int          `json:"code"`
}

// taskResult is one entry of a /query_result response.
type taskResult struct {
	TaskID string `json:"task_id"`
	Status int    `json:"status"`
	Result string `json:"result"` // JSON-encoded []resultItem
}

// resultItem describes one generated file.
type resultItem struct {
	File   string `json:"file"`
	Status int    `json:"status"`
}

// PollResult contains the result of polling a task.
type PollResult struct {
	Status  Status
	FileRef string // Server-relative file reference (only set when Status is StatusSucceeded)
	Error   string // Error message (only set when Status is StatusFailed)
}
