// Package runner defines the command runner collaborator: executing a task's
// underlying command in a package directory and capturing its outcome.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/tylerbutler/buildgraph/internal/ctxlog"
)

// Result is the captured outcome of one command invocation.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// CommandRunner runs a command string in a working directory. Implementations
// must be safe for concurrent use.
type CommandRunner interface {
	Run(ctx context.Context, command, dir string) (*Result, error)
}

// ExitError reports a command that ran but exited non-zero. It carries the
// captured output so failures are actionable without re-running verbosely.
type ExitError struct {
	Command  string
	Dir      string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d in %s", e.Command, e.ExitCode, e.Dir)
	if out := strings.TrimSpace(string(e.Stderr)); out != "" {
		msg += ": " + out
	}
	return msg
}

// ExecRunner invokes commands through the system shell, matching how package
// manager scripts are declared. Once dispatched a command runs to completion;
// ctx is used for logging only, not for killing the process.
type ExecRunner struct{}

// NewExecRunner returns the default command runner.
func NewExecRunner() *ExecRunner { return &ExecRunner{} }

// Run implements CommandRunner.
func (r *ExecRunner) Run(ctx context.Context, command, dir string) (*Result, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Running command.", "command", command, "dir", dir)

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, &ExitError{
				Command:  command,
				Dir:      dir,
				ExitCode: result.ExitCode,
				Stdout:   result.Stdout,
				Stderr:   result.Stderr,
			}
		}
		return nil, fmt.Errorf("failed to start command %q: %w", command, err)
	}
	return result, nil
}
