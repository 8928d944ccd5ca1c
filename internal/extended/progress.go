package extended

import "sync"

// ProgressEvent is one overall progress update for a run.
type ProgressEvent struct {
	OverallFraction float64 `json:"overall_fraction"`
	SegmentIndex    int     `json:"segment_index"`
	SegmentCount    int     `json:"segment_count"`
}

// ProgressReporter receives progress events synchronously on the
// orchestrating goroutine. Implementations must return promptly: a blocked
// reporter stalls the whole run.
type ProgressReporter interface {
	ReportProgress(ev ProgressEvent)
}

// ProgressFunc adapts a plain function to ProgressReporter.
type ProgressFunc func(ev ProgressEvent)

// ReportProgress calls f(ev). A nil f drops the event.
func (f ProgressFunc) ReportProgress(ev ProgressEvent) {
	if f != nil {
		f(ev)
	}
}

// Aggregate maps a segment-local fraction to an overall fraction:
// (index + local) / count, clamped to [0, 1].
func Aggregate(index, count int, local float64) float64 {
	if count <= 0 {
		return 0
	}
	local = min(max(local, 0), 1)
	index = min(max(index, 0), count-1)
	return min((float64(index)+local)/float64(count), 1)
}

// progressTracker turns backend progress into monotonic overall events for
// one run. Events for segments that already finished are dropped.
type progressTracker struct {
	mu       sync.Mutex
	reporter ProgressReporter
	count    int
	segment  int
	last     float64
	lastSeg  int
	emitted  bool
}

func newProgressTracker(reporter ProgressReporter, count int) *progressTracker {
	return &progressTracker{reporter: reporter, count: count}
}

// begin moves the tracker to segment index.
func (t *progressTracker) begin(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.segment = index
}

// report emits Aggregate(index, count, local) unless it would go backwards
// or repeat the previous event.
func (t *progressTracker) report(index int, local float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reporter == nil || index != t.segment {
		return
	}
	overall := Aggregate(index, t.count, local)
	if t.emitted && (overall < t.last || (overall == t.last && index == t.lastSeg)) {
		return
	}
	t.last = overall
	t.lastSeg = index
	t.emitted = true
	t.reporter.ReportProgress(ProgressEvent{
		OverallFraction: overall,
		SegmentIndex:    index,
		SegmentCount:    t.count,
	})
}

// finish emits the closing 1.0 event if it has not been sent yet.
func (t *progressTracker) finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reporter == nil || (t.emitted && t.last >= 1) {
		return
	}
	t.last = 1
	t.lastSeg = t.count - 1
	t.emitted = true
	t.reporter.ReportProgress(ProgressEvent{
		OverallFraction: 1,
		SegmentIndex:    t.count - 1,
		SegmentCount:    t.count,
	})
}
