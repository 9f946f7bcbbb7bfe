package work

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ProgressReporter logs run progress, throttled so that national-scale runs
// (tens of thousands of tasks) do not flood the log. Completion always
// bypasses the throttle.
type ProgressReporter struct {
	log         zerolog.Logger
	total       int
	done        int
	failed      int
	lastReport  time.Time
	minInterval time.Duration
	mu          sync.Mutex
}

// NewProgressReporter creates a reporter for a run of total tasks.
func NewProgressReporter(total int, log zerolog.Logger) *ProgressReporter {
	return &ProgressReporter{
		log:         log,
		total:       total,
		minInterval: 2 * time.Second,
	}
}

// TaskDone records a completed or failed task and possibly emits a progress
// line.
func (pr *ProgressReporter) TaskDone(task Task, failed bool, elapsed time.Duration) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	pr.done++
	if failed {
		pr.failed++
	}

	now := time.Now()
	if now.Sub(pr.lastReport) < pr.minInterval && pr.done != pr.total {
		return
	}
	pr.lastReport = now

	pr.log.Info().
		Int("done", pr.done).
		Int("total", pr.total).
		Int("failed", pr.failed).
		Str("task", task.String()).
		Dur("task_elapsed", elapsed).
		Msg("aggregation progress")
}
