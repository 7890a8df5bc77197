package executor

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/tylerbutler/buildgraph/internal/cache"
	"github.com/tylerbutler/buildgraph/internal/ctxlog"
	"github.com/tylerbutler/buildgraph/internal/handlers"
	"github.com/tylerbutler/buildgraph/internal/runner"
	"github.com/tylerbutler/buildgraph/internal/taskgraph"
	"github.com/tylerbutler/buildgraph/internal/workerpool"
)

// Options configures one executor run.
type Options struct {
	// Concurrency bounds how many tasks execute at once; zero means host
	// parallelism.
	Concurrency int
	// Force executes every task regardless of cache state.
	Force bool
	// Pool, when non-nil, runs task commands inside the memory-recycled
	// worker pool instead of directly on the dispatch goroutine.
	Pool *workerpool.Pool
}

// Executor is a concurrency-bounded scheduler over a task graph.
type Executor struct {
	graph    *taskgraph.Graph
	cache    *cache.Engine
	registry *handlers.Registry
	run      runner.CommandRunner
	opts     Options

	mu        sync.Mutex
	cond      *sync.Cond
	ready     taskHeap
	remaining int
	enqueued  map[string]time.Time

	result *Result
}

// New returns an executor over the graph. cacheEngine may not be nil; use a
// read-only engine to observe cache behavior without mutating it.
func New(graph *taskgraph.Graph, cacheEngine *cache.Engine, registry *handlers.Registry, run runner.CommandRunner, opts Options) *Executor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.NumCPU()
	}
	e := &Executor{
		graph:    graph,
		cache:    cacheEngine,
		registry: registry,
		run:      run,
		opts:     opts,
		enqueued: make(map[string]time.Time),
		result:   &Result{Tasks: make(map[string]*TaskResult)},
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Run executes the graph and returns the per-task results and aggregate
// statistics. Command failures are reported in the result, not as the
// returned error; the error covers executor-level problems only.
func (e *Executor) Run(ctx context.Context) (*Result, error) {
	logger := ctxlog.FromContext(ctx)
	start := time.Now()

	e.mu.Lock()
	e.remaining = e.graph.Size()
	for _, t := range e.graph.Roots() {
		e.enqueueLocked(t)
	}
	e.mu.Unlock()

	logger.Debug("Executor starting.", "tasks", e.graph.Size(), "concurrency", e.opts.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < e.opts.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			e.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()

	e.result.Elapsed = time.Since(start)
	logger.Info("Build finished.",
		"built", e.result.Built, "cached", e.result.Cached,
		"skipped", e.result.Skipped, "failed", e.result.Failed,
		"elapsed", e.result.Elapsed, "queue_wait", e.result.QueueWait)
	return e.result, nil
}

// enqueueLocked marks a task ready. Caller holds e.mu.
func (e *Executor) enqueueLocked(t *taskgraph.Task) {
	t.SetState(taskgraph.Queued)
	e.enqueued[t.ID()] = time.Now()
	heap.Push(&e.ready, t)
	e.cond.Signal()
}

// worker is the core processing loop for a single concurrent worker.
func (e *Executor) worker(ctx context.Context, workerID int) {
	logger := ctxlog.FromContext(ctx).With("workerID", workerID)
	logger.Debug("Worker started.")

	for {
		e.mu.Lock()
		for len(e.ready) == 0 && e.remaining > 0 {
			e.cond.Wait()
		}
		if e.remaining == 0 {
			e.mu.Unlock()
			break
		}
		t := heap.Pop(&e.ready).(*taskgraph.Task)
		queueWait := time.Since(e.enqueued[t.ID()])
		e.mu.Unlock()

		if ctx.Err() != nil {
			e.finish(ctx, t, &TaskResult{ID: t.ID(), Status: SkippedStatus, Err: ctx.Err(), QueueWait: queueWait})
			continue
		}

		taskLogger := logger.With("task", t.ID())
		taskLogger.Debug("Worker picked up task.")
		t.SetState(taskgraph.Running)

		tr := e.runTask(ctx, t)
		tr.QueueWait = queueWait
		e.finish(ctx, t, tr)
	}
	logger.Debug("Worker finished.")
}

// finish commits a task's terminal state, updates statistics, and either
// unlocks dependents or skips them transitively.
func (e *Executor) finish(ctx context.Context, t *taskgraph.Task, tr *TaskResult) {
	logger := ctxlog.FromContext(ctx)

	e.mu.Lock()
	e.result.Tasks[t.ID()] = tr
	e.result.QueueWait += tr.QueueWait
	switch tr.Status {
	case Success:
		e.result.Built++
		t.SetState(taskgraph.Succeeded)
	case UpToDate:
		e.result.Cached++
		t.SetState(taskgraph.RestoredFromCache)
	case Failed:
		e.result.Failed++
		t.SetState(taskgraph.Failed)
		t.Err = tr.Err
	case SkippedStatus:
		e.result.Skipped++
		t.SetState(taskgraph.Skipped)
		t.Err = tr.Err
	}
	e.remaining--
	e.mu.Unlock()

	if tr.Status == Failed || tr.Status == SkippedStatus {
		if tr.Status == Failed {
			logger.Error("Task failed.", "task", t.ID(), "error", tr.Err)
		}
		e.skipDependents(ctx, t)
	} else {
		for _, dependent := range t.Dependents {
			if dependent.DecrementDepCount() == 0 {
				e.mu.Lock()
				e.enqueueLocked(dependent)
				e.mu.Unlock()
			}
		}
	}

	e.mu.Lock()
	if e.remaining == 0 {
		e.cond.Broadcast()
	}
	e.mu.Unlock()
}

// skipDependents transitively marks every task downstream of a failed task
// as skipped. Skipped tasks never consult or write the cache.
func (e *Executor) skipDependents(ctx context.Context, t *taskgraph.Task) {
	logger := ctxlog.FromContext(ctx)
	for _, dependent := range t.Dependents {
		dependent.SkipOnce.Do(func() {
			logger.Warn("Skipping task due to upstream failure.",
				"task", dependent.ID(), "upstream", t.ID())
			err := fmt.Errorf("skipped: upstream task %s failed", t.ID())
			dependent.SetState(taskgraph.Skipped)
			dependent.Err = err

			e.mu.Lock()
			e.result.Tasks[dependent.ID()] = &TaskResult{ID: dependent.ID(), Status: SkippedStatus, Err: err}
			e.result.Skipped++
			e.remaining--
			e.mu.Unlock()

			e.skipDependents(ctx, dependent)
		})
	}
}

// runTask executes (or restores) a single task and returns its outcome.
func (e *Executor) runTask(ctx context.Context, t *taskgraph.Task) *TaskResult {
	logger := ctxlog.FromContext(ctx).With("task", t.ID())
	start := time.Now()

	done := func(tr *TaskResult) *TaskResult {
		tr.Duration = time.Since(start)
		return tr
	}

	ctor := e.registry.Resolve(t)
	h := ctor(t, e.run)

	inputs, err := h.InputFiles(ctx)
	if err != nil {
		return done(&TaskResult{ID: t.ID(), Status: Failed, Err: fmt.Errorf("resolving inputs: %w", err)})
	}

	var outputGlobs []string
	if globber, ok := h.(handlers.OutputGlobber); ok {
		outputGlobs = globber.OutputGlobs()
	}

	key, err := e.cache.Key(ctx, t, inputs, outputGlobs)
	if err != nil {
		return done(&TaskResult{ID: t.ID(), Status: Failed, Err: err})
	}
	t.CacheKey = key

	if !e.opts.Force && key != "" {
		if tr := e.tryRestore(ctx, t, key); tr != nil {
			return done(tr)
		}
	}

	logger.Debug("Executing task.", "command", t.Command)
	execErr := e.execute(ctx, h)
	if execErr != nil {
		tr := &TaskResult{ID: t.ID(), Status: Failed, Err: execErr}
		var exitErr *runner.ExitError
		if errors.As(execErr, &exitErr) {
			tr.ExitCode = exitErr.ExitCode
		}
		return done(tr)
	}

	if key != "" {
		e.storeOutputs(ctx, t, h, key)
	}
	return done(&TaskResult{ID: t.ID(), Status: Success})
}

// tryRestore attempts a cache short-circuit. A corrupted entry degrades to
// re-execution with a warning rather than serving bad artifacts.
func (e *Executor) tryRestore(ctx context.Context, t *taskgraph.Task, key string) *TaskResult {
	logger := ctxlog.FromContext(ctx).With("task", t.ID())

	entry, hit, err := e.cache.Lookup(ctx, key)
	if err != nil {
		logger.Warn("Cache lookup failed, executing task.", "error", err)
		return nil
	}
	if !hit {
		return nil
	}

	if err := e.cache.Restore(ctx, entry, t.Pkg.Dir); err != nil {
		var corrupt *cache.CorruptEntryError
		if errors.As(err, &corrupt) {
			logger.Warn("Cache entry corrupted, forcing rebuild.", "key", key, "artifact", corrupt.Path)
		} else {
			logger.Warn("Cache restore failed, executing task.", "error", err)
		}
		return nil
	}

	logger.Debug("Task restored from cache.", "key", key, "artifacts", entry.OutputCount())
	return &TaskResult{ID: t.ID(), Status: UpToDate}
}

func (e *Executor) execute(ctx context.Context, h handlers.Handler) error {
	if e.opts.Pool == nil {
		return h.Execute(ctx)
	}
	var err error
	e.opts.Pool.Run(func() { err = h.Execute(ctx) })
	return err
}

// storeOutputs records the task's fresh artifacts under its key. Store
// failures cost future cache hits, not the build.
func (e *Executor) storeOutputs(ctx context.Context, t *taskgraph.Task, h handlers.Handler, key string) {
	logger := ctxlog.FromContext(ctx).With("task", t.ID())

	absOutputs, err := h.OutputFiles(ctx)
	if err != nil {
		logger.Warn("Failed to resolve outputs, skipping cache store.", "error", err)
		return
	}
	rel := make([]string, 0, len(absOutputs))
	for _, out := range absOutputs {
		r, err := filepath.Rel(t.Pkg.Dir, out)
		if err != nil {
			logger.Warn("Output outside package directory, skipping cache store.", "output", out)
			return
		}
		rel = append(rel, r)
	}
	if err := e.cache.Store(ctx, t, key, rel); err != nil {
		logger.Warn("Failed to store cache entry.", "error", err)
	}
}
