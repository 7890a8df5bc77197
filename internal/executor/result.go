// Package executor walks the task graph in dependency order, dispatching
// runnable tasks to bounded worker capacity with cache short-circuiting and
// per-subtree failure isolation.
package executor

import (
	"time"

	"github.com/tylerbutler/buildgraph/internal/taskgraph"
)

// Status is the outcome classification for a task or a whole build.
type Status int

const (
	// Success means work was executed and completed.
	Success Status = iota
	// UpToDate means the cache satisfied the task without execution.
	UpToDate
	// Failed means the task's command failed (or a graph ancestor did).
	Failed
	// SkippedStatus means the task never ran because an upstream failed.
	SkippedStatus
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case UpToDate:
		return "up to date"
	case Failed:
		return "failed"
	case SkippedStatus:
		return "skipped"
	default:
		return "unknown"
	}
}

// TaskResult is the recorded outcome of one task.
type TaskResult struct {
	ID        string
	Status    Status
	Err       error
	ExitCode  int
	Duration  time.Duration
	QueueWait time.Duration
}

// Result aggregates a full build run: per-task outcomes plus statistics.
type Result struct {
	Tasks map[string]*TaskResult

	Built   int
	Cached  int
	Skipped int
	Failed  int

	// Elapsed is wall time for the whole run; QueueWait sums the time tasks
	// spent ready but waiting for worker capacity.
	Elapsed   time.Duration
	QueueWait time.Duration
}

// Status reports the aggregate outcome: Failed if anything failed, UpToDate
// when nothing needed to execute, Success otherwise.
func (r *Result) Status() Status {
	switch {
	case r.Failed > 0:
		return Failed
	case r.Built == 0 && r.Skipped == 0:
		return UpToDate
	default:
		return Success
	}
}

// Failures returns every failed task result, not just the first.
func (r *Result) Failures() []*TaskResult {
	var out []*TaskResult
	for _, tr := range r.Tasks {
		if tr.Status == Failed {
			out = append(out, tr)
		}
	}
	return out
}

// taskHeap is a max-heap by critical-path weight, so tasks unblocking the
// most downstream work dispatch first. Ties break by ID for determinism.
type taskHeap []*taskgraph.Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Weight != h[j].Weight {
		return h[i].Weight > h[j].Weight
	}
	return h[i].ID() < h[j].ID()
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*taskgraph.Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
