// Package cli parses command-line arguments into an app configuration.
package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tylerbutler/buildgraph/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("buildgraph", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
buildgraph - a task-graph build orchestrator for package monorepos.

Usage:
  buildgraph [options] [TASK ...]

Arguments:
  TASK
    One or more task names to build (default: build).

Options:
`)
		flagSet.PrintDefaults()
	}

	workspaceFlag := flagSet.String("workspace", "", "Path to the workspace .hcl file or directory.")
	wFlag := flagSet.String("w", "", "Path to the workspace .hcl file or directory (shorthand).")
	concurrencyFlag := flagSet.Int("concurrency", 0, "Maximum tasks executing at once. 0 uses host parallelism.")
	forceFlag := flagSet.Bool("force", false, "Execute every task regardless of cache state.")
	cacheDirFlag := flagSet.String("cache-dir", ".buildgraph-cache", "Directory for the incremental build cache.")
	cacheReadOnlyFlag := flagSet.Bool("cache-read-only", false, "Consult the cache but never write to it.")
	cacheVerifyFlag := flagSet.Bool("cache-verify", false, "Re-hash restored artifacts against the stored manifest.")
	cacheFixFlag := flagSet.Bool("cache-fix", false, "Delete and regenerate corrupted cache entries.")
	cachePruneAgeFlag := flagSet.Duration("cache-prune-age", 0, "After the build, evict cache entries older than this (e.g. 720h). 0 disables.")
	cachePruneMaxFlag := flagSet.Int("cache-prune-max-mb", 0, "After the build, evict oldest entries until the cache fits this size (MB). 0 disables.")
	workerPoolFlag := flagSet.Bool("worker-pool", false, "Run commands inside the memory-recycled worker pool.")
	workerPoolMemFlag := flagSet.Int("worker-pool-mem-mb", 512, "Per-worker allocation threshold (MB) before recycling.")
	pluginsFlag := flagSet.String("plugins", "", "Comma-separated list of plugin manifest paths.")
	sameGroupFlag := flagSet.Bool("same-release-group", false, "Only follow dependencies within the same release group.")
	strictFlag := flagSet.Bool("strict-cross-package", false, "Error on ^task references to packages lacking the task.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	workspace := *workspaceFlag
	if workspace == "" {
		workspace = *wFlag
	}
	if workspace == "" {
		slog.Debug("No workspace path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	tasks := flagSet.Args()
	if len(tasks) == 0 {
		tasks = []string{"build"}
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	var plugins []string
	if *pluginsFlag != "" {
		for _, p := range strings.Split(*pluginsFlag, ",") {
			if p = strings.TrimSpace(p); p != "" {
				plugins = append(plugins, p)
			}
		}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		WorkspacePath:      workspace,
		Tasks:              tasks,
		PluginPaths:        plugins,
		LogFormat:          logFormat,
		LogLevel:           logLevel,
		Concurrency:        *concurrencyFlag,
		Force:              *forceFlag,
		CacheDir:           *cacheDirFlag,
		CacheReadOnly:      *cacheReadOnlyFlag,
		CacheVerify:        *cacheVerifyFlag,
		CacheFix:           *cacheFixFlag,
		CachePruneAge:      *cachePruneAgeFlag,
		CachePruneMaxMB:    *cachePruneMaxFlag,
		WorkerPool:         *workerPoolFlag,
		WorkerPoolMemMB:    *workerPoolMemFlag,
		SameReleaseGroup:   *sameGroupFlag,
		StrictCrossPackage: *strictFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	return config, false, nil
}
