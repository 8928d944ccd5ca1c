// Package id provides unique identifier generation for jobs and segments.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// Generate creates a new unique job ID.
// Format: trk-<uuid>
// Example: trk-7b0f6c1e-3d0a-4f4e-9a53-2f3c8f7e9b10
func Generate() string {
	return "trk-" + uuid.NewString()
}

// Segment derives the ID of a job's segment record.
// Example: trk-7b0f...-seg-03
func Segment(jobID string, index int) string {
	return fmt.Sprintf("%s-seg-%02d", jobID, index)
}

// Valid reports whether s looks like an ID produced by Generate.
func Valid(s string) bool {
	if len(s) <= len("trk-") || s[:4] != "trk-" {
		return false
	}
	return uuid.Validate(s[4:]) == nil
}
