package app

import (
	"errors"
	"time"
)

// Config holds everything an App instance needs to run a build.
type Config struct {
	// WorkspacePath points at the workspace .hcl file or a directory of them.
	WorkspacePath string

	// Tasks are the task names to build (e.g. "build", "lint").
	Tasks []string

	// PluginPaths are handler plugin manifests, loaded in order; later
	// plugins win command-name collisions.
	PluginPaths []string

	LogFormat string
	LogLevel  string

	// Concurrency bounds simultaneous task execution; zero means host
	// parallelism.
	Concurrency int
	// Force rebuilds every task regardless of cache state.
	Force bool

	CacheDir      string
	CacheReadOnly bool
	CacheVerify   bool
	CacheFix      bool

	// CachePruneAge evicts cache entries older than this after the build;
	// CachePruneMaxMB then evicts oldest-first until the cache fits. Zero
	// disables the respective policy.
	CachePruneAge   time.Duration
	CachePruneMaxMB int

	// WorkerPool routes command execution through the memory-recycled pool.
	WorkerPool bool
	// WorkerPoolMemMB is the per-worker recycle threshold in megabytes.
	WorkerPoolMemMB int

	// SameReleaseGroup restricts dependency edges to packages within the
	// same release group.
	SameReleaseGroup bool

	// StrictCrossPackage makes a "^task" reference to a dependency lacking
	// the task an error instead of a silently omitted edge.
	StrictCrossPackage bool
}

// NewConfig validates a Config.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.WorkspacePath == "" {
		return nil, errors.New("WorkspacePath is a required configuration field and cannot be empty")
	}
	if len(cfg.Tasks) == 0 {
		return nil, errors.New("at least one task name is required")
	}
	if cfg.CacheDir == "" {
		return nil, errors.New("CacheDir is a required configuration field and cannot be empty")
	}
	return &cfg, nil
}
