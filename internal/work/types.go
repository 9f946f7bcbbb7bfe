// Package work provides the aggregation coordinator: it expands the
// configured locations and intensity measure types into independent units
// of work, fans them out to a bounded worker pool, and collects the run
// summary.
package work

import (
	"fmt"
	"time"
)

// Task is one independent unit of work: aggregate every configured
// statistic for a single (location, IMT).
type Task struct {
	Location string
	IMT      string
}

func (t Task) String() string {
	return t.Location + "/" + t.IMT
}

// Tasks builds the full cross product of locations and IMTs in a
// deterministic order: locations outer, IMTs inner.
func Tasks(locations, imts []string) ([]Task, error) {
	if len(locations) == 0 {
		return nil, fmt.Errorf("no locations configured")
	}
	if len(imts) == 0 {
		return nil, fmt.Errorf("no intensity measure types configured")
	}
	tasks := make([]Task, 0, len(locations)*len(imts))
	for _, loc := range locations {
		for _, imt := range imts {
			tasks = append(tasks, Task{Location: loc, IMT: imt})
		}
	}
	return tasks, nil
}

// TaskFailure records a unit of work that hit a fatal condition. Sibling
// tasks keep running; the failure list fails the run summary at the end.
type TaskFailure struct {
	Task Task
	Err  error
}

func (f TaskFailure) String() string {
	return fmt.Sprintf("%s: %v", f.Task, f.Err)
}

// Result is the outcome of one aggregation run.
type Result struct {
	Total     int           // Units of work generated
	Completed int           // Units of work that persisted their aggregates
	Skipped   int           // Units never submitted because a stop was requested
	Written   int           // Aggregate curves written to the store
	Failed    []TaskFailure // Fatal per-task conditions
	Elapsed   time.Duration
}

// OK reports whether every generated unit of work completed.
func (r *Result) OK() bool {
	return len(r.Failed) == 0 && r.Skipped == 0
}
