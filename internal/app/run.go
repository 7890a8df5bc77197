package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tylerbutler/buildgraph/internal/cache"
	"github.com/tylerbutler/buildgraph/internal/ctxlog"
	"github.com/tylerbutler/buildgraph/internal/executor"
	"github.com/tylerbutler/buildgraph/internal/pkggraph"
	"github.com/tylerbutler/buildgraph/internal/taskgraph"
	"github.com/tylerbutler/buildgraph/internal/workerpool"
)

// Run executes the full pipeline: load, resolve, graph, execute, report. A
// configuration or graph error aborts before any task is dispatched.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if err := a.loadPlugins(ctx); err != nil {
		return fmt.Errorf("failed to load plugins: %w", err)
	}

	ws, err := a.loadWorkspace(ctx)
	if err != nil {
		return fmt.Errorf("failed to load workspace: %w", err)
	}

	result, err := a.Execute(ctx, ws, a.cfg.Tasks)
	if err != nil {
		return err
	}

	a.report(result)
	if result.Status() == executor.Failed {
		failures := result.Failures()
		sort.Slice(failures, func(i, j int) bool { return failures[i].ID < failures[j].ID })
		for _, f := range failures {
			a.logger.Error("Task failed.", "task", f.ID, "exit_code", f.ExitCode, "error", f.Err)
		}
		return fmt.Errorf("build failed: %d task(s) failed, %d skipped", result.Failed, result.Skipped)
	}

	a.logger.Debug("App.Run method finished.")
	return nil
}

// Execute builds and runs the task graph for an already-loaded workspace.
// This is the programmatic entry point; the package set and resolved task
// tables are supplied by the caller.
func (a *App) Execute(ctx context.Context, ws *Workspace, taskNames []string) (*executor.Result, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	logger := a.logger

	filter := pkggraph.FilterAll
	if a.cfg.SameReleaseGroup {
		filter = pkggraph.FilterSameReleaseGroup
	}

	logger.Debug("Building package dependency graph...")
	pg, err := pkggraph.Build(ctx, ws.Packages, pkggraph.Options{
		Filter:            filter,
		ReleaseGroupRoots: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build package graph: %w", err)
	}

	logger.Debug("Building task graph...")
	tg, err := taskgraph.Build(ctx, pg, ws.Tables, taskNames, taskgraph.Options{
		StrictCrossPackage: a.cfg.StrictCrossPackage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build task graph: %w", err)
	}

	if tg.Size() == 0 {
		logger.Warn("No tasks matched, nothing to do.", "tasks", taskNames)
		return &executor.Result{Tasks: map[string]*executor.TaskResult{}}, nil
	}

	engine := cache.New(a.cfg.CacheDir, cache.Options{
		ReadOnly:    a.cfg.CacheReadOnly,
		Verify:      a.cfg.CacheVerify,
		Fix:         a.cfg.CacheFix,
		Concurrency: a.cfg.Concurrency,
	})

	var pool *workerpool.Pool
	if a.cfg.WorkerPool {
		memLimit := uint64(a.cfg.WorkerPoolMemMB) * 1024 * 1024
		pool = workerpool.New(a.cfg.Concurrency, memLimit)
		defer pool.Close()
	}

	logger.Info("Starting build.", "tasks", tg.Size(), "concurrency", a.cfg.Concurrency, "force", a.cfg.Force)
	exec := executor.New(tg, engine, a.registry, a.runner, executor.Options{
		Concurrency: a.cfg.Concurrency,
		Force:       a.cfg.Force,
		Pool:        pool,
	})
	result, err := exec.Run(ctx)
	if err != nil {
		return nil, err
	}

	if a.cfg.CachePruneAge > 0 || a.cfg.CachePruneMaxMB > 0 {
		maxBytes := int64(a.cfg.CachePruneMaxMB) * 1024 * 1024
		if pruneErr := engine.Prune(ctx, a.cfg.CachePruneAge, maxBytes); pruneErr != nil {
			// A failed prune costs disk space, not correctness.
			logger.Warn("Cache prune failed.", "error", pruneErr)
		}
	}
	return result, nil
}

const timeUnit = time.Millisecond

// report prints the aggregate summary in a stable order.
func (a *App) report(result *executor.Result) {
	fmt.Fprintf(a.outW, "\n%d built, %d up to date, %d skipped, %d failed (%s elapsed)\n",
		result.Built, result.Cached, result.Skipped, result.Failed, result.Elapsed.Round(timeUnit))

	ids := make([]string, 0, len(result.Tasks))
	for id := range result.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		tr := result.Tasks[id]
		fmt.Fprintf(a.outW, "  %-12s %s\n", tr.Status, id)
	}
}
