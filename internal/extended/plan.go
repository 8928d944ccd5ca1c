package extended

import (
	"fmt"
	"time"
)

// Role is a segment's structural position in the track.
type Role string

const (
	// RoleIntro is the first segment (and the only one in single-segment plans).
	RoleIntro Role = "intro"
	// RoleMiddle is any segment between the first and the last.
	RoleMiddle Role = "middle"
	// RoleOutro is the last segment of a multi-segment plan.
	RoleOutro Role = "outro"
)

// Development hints attached to middle segments.
const (
	HintBuilding    = "building"
	HintBridge      = "bridge"
	HintDevelopment = "development"
)

// SegmentPlan describes one backend call.
type SegmentPlan struct {
	Index            int           `json:"index"`
	Count            int           `json:"count"`
	Role             Role          `json:"role"`
	PromptSuffixHint string        `json:"prompt_suffix_hint,omitempty"`
	StartOffset      time.Duration `json:"start_offset"`
	Duration         time.Duration `json:"duration"`
}

// End returns the segment's end offset in the final track.
func (s SegmentPlan) End() time.Duration {
	return s.StartOffset + s.Duration
}

// IsLast reports whether the segment is the final one of its plan.
func (s SegmentPlan) IsLast() bool {
	return s.Index == s.Count-1
}

// Plan splits target into overlapping segments of at most segment length.
//
// Consecutive segments start step = segment - overlap apart. The last
// segment is shortened so the plan ends exactly at target. Targets at or
// below the segment length yield a single intro segment of length target.
// The result depends only on the inputs.
func Plan(target, segment, overlap time.Duration) ([]SegmentPlan, error) {
	if target <= 0 {
		return nil, &ConfigError{Field: "TargetDuration", Reason: fmt.Sprintf("must be positive, got %v", target)}
	}
	if segment <= 0 {
		return nil, &ConfigError{Field: "SegmentDuration", Reason: fmt.Sprintf("must be positive, got %v", segment)}
	}
	if overlap < 0 {
		return nil, &ConfigError{Field: "OverlapDuration", Reason: fmt.Sprintf("must not be negative, got %v", overlap)}
	}
	step := segment - overlap
	if step <= 0 {
		return nil, &ConfigError{Field: "OverlapDuration", Reason: fmt.Sprintf("%v leaves no forward step in a %v segment", overlap, segment)}
	}

	if target <= segment {
		return []SegmentPlan{{
			Index:    0,
			Count:    1,
			Role:     RoleIntro,
			Duration: target,
		}}, nil
	}

	// ceil((target - overlap) / step); target > segment > overlap so the
	// numerator is positive and count >= 2.
	count := int((target - overlap + step - 1) / step)
	count = max(count, 1)

	plans := make([]SegmentPlan, count)
	for i := range plans {
		start := time.Duration(i) * step
		dur := segment
		if i == count-1 {
			dur = target - start
		}
		plans[i] = SegmentPlan{
			Index:            i,
			Count:            count,
			Role:             roleFor(i, count),
			PromptSuffixHint: hintFor(i, count),
			StartOffset:      start,
			Duration:         dur,
		}
	}
	return plans, nil
}

func roleFor(i, count int) Role {
	switch {
	case i == 0:
		return RoleIntro
	case i == count-1:
		return RoleOutro
	default:
		return RoleMiddle
	}
}

func hintFor(i, count int) string {
	if roleFor(i, count) != RoleMiddle {
		return ""
	}
	switch {
	case i == count/2:
		return HintBridge
	case i < count/3:
		return HintBuilding
	default:
		return HintDevelopment
	}
}
