package work

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/GNS-Science/toshi-hazard-post/internal/aggregation"
	"github.com/GNS-Science/toshi-hazard-post/internal/hazard"
	"github.com/GNS-Science/toshi-hazard-post/internal/logictree"
	"github.com/GNS-Science/toshi-hazard-post/internal/scratch"
	"github.com/GNS-Science/toshi-hazard-post/internal/store"
)

// RealizationSource supplies realization curves for one (location, IMT) in
// branch enumeration order.
type RealizationSource interface {
	FetchRealizations(ctx context.Context, location, imt string, branchIDs []string) ([]hazard.Curve, error)
}

// AggregateSink persists the aggregate curves for one (location, IMT).
// Writes must be idempotent per (location, IMT, statistic) key.
type AggregateSink interface {
	StoreAggregates(ctx context.Context, location, imt string, curves map[aggregation.Statistic]hazard.Curve) error
}

// Options configures a Coordinator.
type Options struct {
	Tree       *logictree.LogicTree
	Source     RealizationSource
	Sink       AggregateSink
	Engine     *aggregation.Engine
	Statistics []aggregation.Statistic

	NumWorkers    int           // <1 sizes from the host
	RetryAttempts int           // Bounded attempts for transient store errors (min 1)
	RetryBackoff  time.Duration // Initial backoff, doubled per attempt
	ScratchDir    string        // Non-empty routes matrices through scratch files
	Log           zerolog.Logger
}

// Coordinator owns one aggregation run configuration. The logic tree is
// enumerated exactly once, at construction; the resulting branch list and
// weight vector are immutable and shared read-only by every worker. The
// Coordinator itself holds no hazard data across units of work.
type Coordinator struct {
	source     RealizationSource
	sink       AggregateSink
	engine     *aggregation.Engine
	stats      []aggregation.Statistic
	branchIDs  []string
	weights    []float64
	workers    int
	attempts   int
	backoff    time.Duration
	scratchDir string
	log        zerolog.Logger
}

// NewCoordinator validates and enumerates the logic tree and builds a
// coordinator. A logic tree error here aborts before any work is
// dispatched.
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Tree == nil {
		return nil, fmt.Errorf("no logic tree supplied")
	}
	if opts.Source == nil || opts.Sink == nil {
		return nil, fmt.Errorf("realization source and aggregate sink are required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("aggregation engine is required")
	}
	if len(opts.Statistics) == 0 {
		return nil, fmt.Errorf("no aggregate statistics configured")
	}

	branches, err := opts.Tree.Enumerate()
	if err != nil {
		return nil, err
	}

	workers := opts.NumWorkers
	if workers < 1 {
		workers = DefaultWorkers(opts.Log)
	}
	attempts := opts.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	opts.Log.Info().
		Int("branches", len(branches)).
		Int("workers", workers).
		Str("quantile_rule", string(opts.Engine.Rule())).
		Msg("coordinator ready")

	return &Coordinator{
		source:     opts.Source,
		sink:       opts.Sink,
		engine:     opts.Engine,
		stats:      opts.Statistics,
		branchIDs:  logictree.BranchIDs(branches),
		weights:    logictree.Weights(branches),
		workers:    workers,
		attempts:   attempts,
		backoff:    backoff,
		scratchDir: opts.ScratchDir,
		log:        opts.Log,
	}, nil
}

// BranchCount returns the number of enumerated composite branches.
func (c *Coordinator) BranchCount() int { return len(c.branchIDs) }

// Run executes one aggregation run over the cross product of locations and
// IMTs. Units of work are independent and complete in any order. A fatal
// task error is recorded and does not cancel siblings. Cancelling ctx stops
// new submissions; in-flight tasks run to completion on a detached context.
func (c *Coordinator) Run(ctx context.Context, locations, imts []string) (*Result, error) {
	tasks, err := Tasks(locations, imts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	c.log.Info().Int("tasks", len(tasks)).Msg("starting aggregation run")

	reporter := NewProgressReporter(len(tasks), c.log)
	result := &Result{Total: len(tasks)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(c.workers)

	submitted := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			// Stop requested: no new submissions, in-flight work finishes.
			break
		}
		submitted++
		task := task
		g.Go(func() error {
			taskStart := time.Now()
			written, err := c.runTask(context.WithoutCancel(ctx), task)

			mu.Lock()
			if err != nil {
				result.Failed = append(result.Failed, TaskFailure{Task: task, Err: err})
				c.log.Error().Err(err).
					Str("location", task.Location).
					Str("imt", task.IMT).
					Msg("aggregation task failed")
			} else {
				result.Completed++
				result.Written += written
			}
			mu.Unlock()

			reporter.TaskDone(task, err != nil, time.Since(taskStart))
			return nil
		})
	}
	_ = g.Wait()

	result.Skipped = len(tasks) - submitted
	result.Elapsed = time.Since(start)

	summary := c.log.Info()
	if !result.OK() {
		summary = c.log.Warn()
	}
	summary.
		Int("completed", result.Completed).
		Int("failed", len(result.Failed)).
		Int("skipped", result.Skipped).
		Int("curves_written", result.Written).
		Dur("elapsed", result.Elapsed).
		Msg("aggregation run finished")
	for _, f := range result.Failed {
		c.log.Warn().Str("task", f.Task.String()).Err(f.Err).Msg("failed task")
	}

	return result, nil
}

// runTask performs one unit of work: bulk fetch, optional scratch handoff,
// aggregate, persist. The realization matrix is exclusively owned here and
// discarded on return.
func (c *Coordinator) runTask(ctx context.Context, task Task) (int, error) {
	var curves []hazard.Curve
	err := c.withRetry(task, "fetch realizations", func() error {
		var ferr error
		curves, ferr = c.source.FetchRealizations(ctx, task.Location, task.IMT, c.branchIDs)
		return ferr
	})
	if err != nil {
		return 0, err
	}

	levels := curves[0].Levels
	matrix := make([][]float64, len(curves))
	for i, curve := range curves {
		matrix[i] = curve.Values
	}
	weights := c.weights

	if c.scratchDir != "" {
		// File-based handoff: serialize once, consume exactly once. The
		// file is owned by this task alone and is gone after Consume.
		path, werr := scratch.Write(c.scratchDir, &scratch.Table{
			Location: task.Location,
			IMT:      task.IMT,
			Levels:   levels,
			Matrix:   matrix,
			Weights:  weights,
		})
		if werr != nil {
			return 0, werr
		}
		table, cerr := scratch.Consume(path)
		if cerr != nil {
			return 0, cerr
		}
		levels, matrix, weights = table.Levels, table.Matrix, table.Weights
	}

	aggregates, err := c.engine.Aggregate(levels, matrix, weights, c.stats)
	if err != nil {
		return 0, fmt.Errorf("aggregation for %s failed: %w", task, err)
	}

	err = c.withRetry(task, "store aggregates", func() error {
		return c.sink.StoreAggregates(ctx, task.Location, task.IMT, aggregates)
	})
	if err != nil {
		return 0, err
	}
	return len(aggregates), nil
}

// withRetry runs fn, retrying transient store errors with exponential
// backoff up to the configured attempt bound. Non-transient errors are
// returned immediately.
func (c *Coordinator) withRetry(task Task, op string, fn func() error) error {
	backoff := c.backoff
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		err = fn()
		if err == nil || !store.IsTransient(err) {
			return err
		}
		if attempt < c.attempts {
			c.log.Warn().Err(err).
				Str("task", task.String()).
				Str("op", op).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("transient store error, retrying")
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return fmt.Errorf("%s for %s failed after %d attempts: %w", op, task, c.attempts, err)
}
