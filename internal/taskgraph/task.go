// Package taskgraph expands the package dependency graph into the
// fine-grained task graph: one node per (package, task name), with
// dependsOn, cross-package, and before/after ordering edges resolved.
package taskgraph

import (
	"sync"
	"sync/atomic"

	"github.com/tylerbutler/buildgraph/internal/config"
	"github.com/tylerbutler/buildgraph/internal/pkggraph"
)

// State is the lifecycle state of a task during a build run.
type State int32

const (
	NotStarted State = iota
	Queued
	Running
	Succeeded
	Failed
	Skipped
	RestoredFromCache
)

// String returns the state name for logs and summaries.
func (s State) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	case RestoredFromCache:
		return "restored from cache"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	switch s {
	case Succeeded, Failed, Skipped, RestoredFromCache:
		return true
	default:
		return false
	}
}

// Successful reports whether the state satisfies downstream dependencies.
func (s State) Successful() bool {
	return s == Succeeded || s == RestoredFromCache
}

// Task is one (package, task name) unit of work: a resolved definition, its
// upstream dependencies as direct references, and runtime state.
type Task struct {
	Pkg  *pkggraph.Package
	Name string
	Def  *config.TaskDefinition

	// Command is the literal command line for directly runnable tasks;
	// empty for pure aggregators.
	Command string

	// Deps and Dependents are wired during graph construction and read-only
	// afterwards.
	Deps       map[string]*Task
	Dependents map[string]*Task

	// Weight is the critical-path length through this task's dependents; the
	// executor schedules heavier tasks first.
	Weight int

	state    atomic.Int32
	depCount atomic.Int32

	// SkipOnce guards transitive skip propagation so a task is only ever
	// skipped once even when several upstream failures reach it.
	SkipOnce sync.Once

	// Err holds the failure (or skip cause) once the task is terminal.
	Err error

	// CacheKey is the content-derived key, set lazily by the cache engine
	// once upstream keys are known. Empty means not cacheable.
	CacheKey string
}

// ID returns the unique "package#task" identifier.
func (t *Task) ID() string {
	return t.Pkg.Name + "#" + t.Name
}

// Runnable reports whether the task maps to an invokable command.
func (t *Task) Runnable() bool {
	return t.Command != ""
}

// State returns the task's current state.
func (t *Task) State() State {
	return State(t.state.Load())
}

// SetState transitions the task's state.
func (t *Task) SetState(s State) {
	t.state.Store(int32(s))
}

// DecrementDepCount records one upstream completion and returns the number
// of upstream tasks still pending.
func (t *Task) DecrementDepCount() int32 {
	return t.depCount.Add(-1)
}

// setInitialCounters seeds the pending-dependency counter after the graph is
// fully linked.
func (t *Task) setInitialCounters() {
	t.depCount.Store(int32(len(t.Deps)))
}
