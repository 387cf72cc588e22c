// Package executor implements a bounded fan-out primitive for running
// multiple generation tasks concurrently, plus a companion that admits
// tasks in priority order while still returning results in submission
// order (errgroup.Group.SetLimit concurrency control, atomic execution
// counters).
package executor

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arborcore/assistant-core/core"
)

// DefaultMaxParallel bounds concurrent task execution when unset.
const DefaultMaxParallel = 10

// Task is one unit of parallel work; it returns a Response or an error.
type Task func(ctx context.Context) (core.Response, error)

// PriorityTask pairs a Task with an admission priority. Lower Priority
// values are admitted to the concurrency-limited pool first; submission
// order is preserved only in the returned Results slice, not in
// execution start order.
type PriorityTask struct {
	Task     Task
	Priority int
}

// Result is one task's outcome, indexed by its submission position.
type Result struct {
	Response core.Response
	Err      error
}

// Executor runs Tasks under a bounded concurrency limit and an overall
// timeout, with cancellable in-flight batches.
type Executor struct {
	maxParallel int
	logger      *zap.Logger

	mu        sync.Mutex
	cancels   map[int64]context.CancelFunc
	nextBatch int64

	totalTasks int64
	failedTasks int64
}

// New creates an Executor bounded to maxParallel concurrent tasks. A
// non-positive maxParallel falls back to DefaultMaxParallel.
func New(maxParallel int, logger *zap.Logger) *Executor {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		maxParallel: maxParallel,
		logger:      logger.With(zap.String("component", "executor")),
		cancels:     make(map[int64]context.CancelFunc),
	}
}

// Parallel runs tasks concurrently, bounded by maxParallel, under an
// overall timeout. Results are returned in submission order regardless
// of completion order.
func (e *Executor) Parallel(ctx context.Context, tasks []Task, timeout time.Duration) []Result {
	wrapped := make([]PriorityTask, len(tasks))
	for i, t := range tasks {
		wrapped[i] = PriorityTask{Task: t, Priority: i}
	}
	return e.run(ctx, wrapped, timeout, false)
}

// ParallelWithPriority runs tasks concurrently, admitting them into the
// bounded pool in ascending-priority order (lower Priority runs first
// when the pool is saturated), but still returns Results indexed by
// original submission position.
func (e *Executor) ParallelWithPriority(ctx context.Context, tasks []PriorityTask, timeout time.Duration) []Result {
	return e.run(ctx, tasks, timeout, true)
}

func (e *Executor) run(ctx context.Context, tasks []PriorityTask, timeout time.Duration, priorityOrder bool) []Result {
	results := make([]Result, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	batchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	batchID := e.register(cancel)
	defer e.unregister(batchID)

	order := make([]int, len(tasks))
	for i := range order {
		order[i] = i
	}
	if priorityOrder {
		sort.SliceStable(order, func(a, b int) bool {
			return tasks[order[a]].Priority < tasks[order[b]].Priority
		})
	}

	var g errgroup.Group
	g.SetLimit(e.maxParallel)

	for _, idx := range order {
		i := idx
		g.Go(func() error {
			select {
			case <-batchCtx.Done():
				results[i] = Result{Err: core.NewTimeoutError("cancelled before start", batchCtx.Err())}
				atomic.AddInt64(&e.failedTasks, 1)
				return nil
			default:
			}

			resp, err := tasks[i].Task(batchCtx)
			results[i] = Result{Response: resp, Err: err}
			if err != nil {
				atomic.AddInt64(&e.failedTasks, 1)
			}
			return nil
		})
	}

	_ = g.Wait()
	atomic.AddInt64(&e.totalTasks, int64(len(tasks)))
	return results
}

func (e *Executor) register(cancel context.CancelFunc) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextBatch
	e.nextBatch++
	e.cancels[id] = cancel
	return id
}

func (e *Executor) unregister(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancels, id)
}

// CancelAll cancels every currently in-flight Parallel/ParallelWithPriority
// batch. Tasks already started observe ctx cancellation on their next
// context check; tasks not yet admitted return a timeout-kind error.
func (e *Executor) CancelAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cancel := range e.cancels {
		cancel()
	}
}

// Stats returns cumulative execution counters.
func (e *Executor) Stats() (total, failed int64) {
	return atomic.LoadInt64(&e.totalTasks), atomic.LoadInt64(&e.failedTasks)
}
