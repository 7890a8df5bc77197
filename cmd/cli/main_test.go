package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tylerbutler/buildgraph/internal/cli"
)

func TestRunWithoutArgsPrintsUsage(t *testing.T) {
	var buf bytes.Buffer
	err := run(&buf, nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Usage:")
}

func TestRunPropagatesParseErrors(t *testing.T) {
	var buf bytes.Buffer
	err := run(&buf, []string{"-w", "ws.hcl", "-log-level", "bogus"})

	var exitErr *cli.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.Code)
}

func TestRunMissingWorkspaceFile(t *testing.T) {
	var buf bytes.Buffer
	err := run(&buf, []string{"-w", "/nonexistent/workspace.hcl"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load workspace")
}
