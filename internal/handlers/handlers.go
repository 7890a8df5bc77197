// Package handlers resolves which execution strategy handles a given task's
// command: declarative tasks with inline cache globs, plugin-declared
// handlers, built-in handlers for well-known commands, or a generic
// passthrough for everything else.
package handlers

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tylerbutler/buildgraph/internal/runner"
	"github.com/tylerbutler/buildgraph/internal/taskgraph"
)

// Handler is the capability interface every execution strategy implements.
// Input and output files are relative to the package directory; a handler
// reporting neither makes its task non-cacheable.
type Handler interface {
	InputFiles(ctx context.Context) ([]string, error)
	OutputFiles(ctx context.Context) ([]string, error)
	Execute(ctx context.Context) error
}

// Constructor builds a handler bound to one task.
type Constructor func(task *taskgraph.Task, run runner.CommandRunner) Handler

// globHandler executes the task's command and discovers cache inputs/outputs
// through glob patterns relative to the package directory.
type globHandler struct {
	task    *taskgraph.Task
	run     runner.CommandRunner
	inputs  []string
	outputs []string
}

func (h *globHandler) InputFiles(ctx context.Context) ([]string, error) {
	return expandGlobs(h.task.Pkg.Dir, h.inputs)
}

func (h *globHandler) OutputFiles(ctx context.Context) ([]string, error) {
	return expandGlobs(h.task.Pkg.Dir, h.outputs)
}

func (h *globHandler) Execute(ctx context.Context) error {
	if !h.task.Runnable() {
		return nil
	}
	_, err := h.run.Run(ctx, h.task.Command, h.task.Pkg.Dir)
	return err
}

// OutputGlobs returns the handler's declared output patterns; the cache
// engine globs them again after execution to pick up fresh artifacts.
func (h *globHandler) OutputGlobs() []string { return h.outputs }

// OutputGlobber is implemented by handlers whose outputs are declared as
// patterns rather than discovered.
type OutputGlobber interface {
	OutputGlobs() []string
}

// shellHandler is the generic fallback: an opaque, non-cacheable shell
// invocation.
type shellHandler struct {
	task *taskgraph.Task
	run  runner.CommandRunner
}

func (h *shellHandler) InputFiles(ctx context.Context) ([]string, error)  { return nil, nil }
func (h *shellHandler) OutputFiles(ctx context.Context) ([]string, error) { return nil, nil }

func (h *shellHandler) Execute(ctx context.Context) error {
	if !h.task.Runnable() {
		return nil
	}
	_, err := h.run.Run(ctx, h.task.Command, h.task.Pkg.Dir)
	return err
}

// expandGlobs resolves patterns against dir, returning absolute paths of
// existing regular files. Patterns that match nothing are fine; declared
// outputs may not exist before a first build.
func expandGlobs(dir string, patterns []string) ([]string, error) {
	fsys := os.DirFS(dir)
	seen := make(map[string]struct{})
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			info, err := fs.Stat(fsys, m)
			if err != nil || info.IsDir() {
				continue
			}
			abs := filepath.Join(dir, m)
			if _, dup := seen[abs]; dup {
				continue
			}
			seen[abs] = struct{}{}
			files = append(files, abs)
		}
	}
	sort.Strings(files)
	return files, nil
}
