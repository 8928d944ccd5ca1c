package extended

import "strings"

var roleInstructions = map[Role]string{
	RoleIntro:  "introduction, opening section that establishes the main theme, instrumentation and mood",
	RoleMiddle: "continuation that develops the theme, consistent with the established style, tempo, key and instrumentation",
	RoleOutro:  "conclusion, ending section that resolves the theme and winds down to a natural outro",
}

// Augment appends a role instruction to the base prompt. Unknown roles
// leave the prompt unchanged.
func Augment(base string, role Role) string {
	instr, ok := roleInstructions[role]
	if !ok {
		return base
	}
	return compose(base, instr)
}

// AugmentSegment is Augment plus the segment's development hint, if any.
func AugmentSegment(base string, seg SegmentPlan) string {
	instr, ok := roleInstructions[seg.Role]
	if !ok {
		return base
	}
	if seg.PromptSuffixHint != "" {
		instr += ", " + seg.PromptSuffixHint
	}
	return compose(base, instr)
}

func compose(base, instr string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return "(" + instr + ")"
	}
	return base + " (" + instr + ")"
}
