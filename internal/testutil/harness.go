package testutil

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tylerbutler/buildgraph/internal/app"
	"github.com/tylerbutler/buildgraph/internal/runner"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// FakeRunner is a CommandRunner that records every command it receives and
// returns scripted outcomes instead of spawning processes. Safe for
// concurrent use.
type FakeRunner struct {
	mu       sync.Mutex
	commands []string

	// FailOn maps a command string to the exit code it should fail with.
	FailOn map[string]int

	// OnRun, when set, is invoked for every command after recording. It can
	// create output files so cache-related assertions have real artifacts.
	OnRun func(command, dir string) error
}

// NewFakeRunner returns a FakeRunner where every command succeeds.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{FailOn: map[string]int{}}
}

// Run implements runner.CommandRunner.
func (f *FakeRunner) Run(ctx context.Context, command, dir string) (*runner.Result, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()

	if f.OnRun != nil {
		if err := f.OnRun(command, dir); err != nil {
			return nil, err
		}
	}

	if code, ok := f.FailOn[command]; ok {
		return &runner.Result{ExitCode: code}, &runner.ExitError{
			Command:  command,
			Dir:      dir,
			ExitCode: code,
			Stderr:   []byte("scripted failure"),
		}
	}
	return &runner.Result{}, nil
}

// Commands returns a copy of every command executed so far, in execution
// order.
func (f *FakeRunner) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// CallCount returns how many times the given command was executed.
func (f *FakeRunner) CallCount(command string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.commands {
		if c == command {
			n++
		}
	}
	return n
}

// HarnessResult holds the outcomes of an integration test run.
type HarnessResult struct {
	LogOutput string
	Err       error
	Runner    *FakeRunner
	App       *app.App
	Dir       string
}

// Options tweaks the harness configuration for a single run.
type Options struct {
	Tasks              []string
	Force              bool
	CacheReadOnly      bool
	Concurrency        int
	StrictCrossPackage bool
	Runner             *FakeRunner
	PluginPaths        []string
}

// RunBuild writes the given files into a temporary workspace, runs a full
// build through the app, and captures logs, results, and executed commands.
// File paths are relative to the workspace root; the workspace configuration
// must be named "workspace.hcl".
func RunBuild(t *testing.T, files map[string]string, opts Options) *HarnessResult {
	t.Helper()
	return RunBuildWithContext(context.Background(), t, files, opts)
}

// RunBuildWithContext is RunBuild with a caller-provided context.
func RunBuildWithContext(ctx context.Context, t *testing.T, files map[string]string, opts Options) *HarnessResult {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", ".tmp-buildgraph-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	for name, content := range files {
		filePath := filepath.Join(tmpDir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0755))
		require.NoError(t, os.WriteFile(filePath, []byte(content), 0644))
	}

	tasks := opts.Tasks
	if len(tasks) == 0 {
		tasks = []string{"build"}
	}
	concurrency := opts.Concurrency
	if concurrency == 0 {
		concurrency = 4
	}

	appConfig, err := app.NewConfig(app.Config{
		WorkspacePath:      filepath.Join(tmpDir, "workspace.hcl"),
		Tasks:              tasks,
		PluginPaths:        opts.PluginPaths,
		LogFormat:          "text",
		LogLevel:           "debug",
		Concurrency:        concurrency,
		Force:              opts.Force,
		CacheDir:           filepath.Join(tmpDir, ".cache"),
		CacheReadOnly:      opts.CacheReadOnly,
		StrictCrossPackage: opts.StrictCrossPackage,
	})
	require.NoError(t, err)

	logBuffer := &SafeBuffer{}
	testApp := app.NewApp(logBuffer, appConfig)

	fake := opts.Runner
	if fake == nil {
		fake = NewFakeRunner()
	}
	testApp.SetRunner(fake)

	runErr := testApp.Run(ctx)

	if os.Getenv("BUILDGRAPH_TEST_LOGS") == "true" {
		t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
	}

	return &HarnessResult{
		LogOutput: logBuffer.String(),
		Err:       runErr,
		Runner:    fake,
		App:       testApp,
		Dir:       tmpDir,
	}
}

// WriteWorkspace is a helper for tests that only need the configuration file.
// It returns the temp directory containing workspace.hcl.
func WriteWorkspace(t *testing.T, content string) string {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", ".tmp-buildgraph-ws-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "workspace.hcl"), []byte(content), 0644))
	return tmpDir
}

// TouchFiles creates empty files at each relative path under dir.
func TouchFiles(t *testing.T, dir string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(dir, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(fmt.Sprintf("content of %s\n", p)), 0644))
	}
}
