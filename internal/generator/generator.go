// Package generator adapts music generation providers to extended.Backend,
// the segment renderer used by the extended generation pipeline.
package generator

import "github.com/maauso/longtrack-api/internal/acestep"

// Status represents the status of a provider task.
type Status string

// Common task statuses across providers.
const (
	StatusInQueue   Status = "IN_QUEUE"  // Task waiting in queue
	StatusRunning   Status = "RUNNING"   // Task is currently rendering
	StatusCompleted Status = "COMPLETED" // Task finished successfully
	StatusFailed    Status = "FAILED"    // Task failed with error
)

// IsTerminal returns true if the status represents a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// FromACEStep maps an ACE-Step task status to the common status.
func FromACEStep(s acestep.Status) Status {
	switch s {
	case acestep.StatusQueued:
		return StatusInQueue
	case acestep.StatusRunning:
		return StatusRunning
	case acestep.StatusSucceeded:
		return StatusCompleted
	case acestep.StatusFailed:
		return StatusFailed
	default:
		return Status(s)
	}
}
