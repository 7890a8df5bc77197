package app_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tylerbutler/buildgraph/internal/app"
	"github.com/tylerbutler/buildgraph/internal/testutil"
)

const twoPackageWorkspace = `
buildtasks {
  task "build" {
    depends_on = ["^build"]
  }
}

package "core" {
  version = "1.0.0"
  dir     = "packages/core"
  scripts = {
    build = "compile-core"
  }
}

package "site" {
  version = "1.0.0"
  dir     = "packages/site"
  dependencies = {
    core = "workspace:^1.0.0"
  }
  scripts = {
    build = "compile-site"
  }
}
`

func TestRunBuildsDependenciesFirst(t *testing.T) {
	result := testutil.RunBuild(t, map[string]string{
		"workspace.hcl": twoPackageWorkspace,
	}, testutil.Options{})

	require.NoError(t, result.Err)
	assert.Equal(t, []string{"compile-core", "compile-site"}, result.Runner.Commands())
}

func TestRunReportsFailures(t *testing.T) {
	runner := testutil.NewFakeRunner()
	runner.FailOn["compile-core"] = 1

	result := testutil.RunBuild(t, map[string]string{
		"workspace.hcl": twoPackageWorkspace,
	}, testutil.Options{Runner: runner})

	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "1 task(s) failed, 1 skipped")
	assert.Equal(t, 0, runner.CallCount("compile-site"), "downstream of a failure must not run")
}

func TestRunNoMatchingTasks(t *testing.T) {
	result := testutil.RunBuild(t, map[string]string{
		"workspace.hcl": twoPackageWorkspace,
	}, testutil.Options{Tasks: []string{"deploy"}})

	require.NoError(t, result.Err)
	assert.Empty(t, result.Runner.Commands())
}

func TestRunMissingWorkspace(t *testing.T) {
	result := testutil.RunBuild(t, map[string]string{
		"README.md": "not a workspace",
	}, testutil.Options{})

	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "failed to load workspace")
}

func TestRunRejectsInvalidConfiguration(t *testing.T) {
	result := testutil.RunBuild(t, map[string]string{
		"workspace.hcl": `
package "broken" {
  version = "1.0.0"
  dir     = "packages/broken"

  task "deploy" {
    depends_on = []
  }
}
`,
	}, testutil.Options{Tasks: []string{"deploy"}})

	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "no such command")
}

func TestRunStrictCrossPackage(t *testing.T) {
	files := map[string]string{
		"workspace.hcl": `
buildtasks {
  task "build" {
    depends_on = ["^build"]
  }
}

package "app" {
  version = "1.0.0"
  dir     = "packages/app"
  dependencies = {
    assets = "*"
  }
  scripts = {
    build = "compile-app"
  }
}

package "assets" {
  version = "1.0.0"
  dir     = "packages/assets"
}
`,
	}

	t.Run("default omits the edge", func(t *testing.T) {
		result := testutil.RunBuild(t, files, testutil.Options{})
		require.NoError(t, result.Err)
		assert.Equal(t, 1, result.Runner.CallCount("compile-app"))
	})

	t.Run("strict mode fails the build before execution", func(t *testing.T) {
		result := testutil.RunBuild(t, files, testutil.Options{StrictCrossPackage: true})
		require.Error(t, result.Err)
		assert.Contains(t, result.Err.Error(), "no such task")
		assert.Empty(t, result.Runner.Commands())
	})
}

func TestNewConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  app.Config
	}{
		{"missing workspace", app.Config{Tasks: []string{"build"}, CacheDir: "c"}},
		{"missing tasks", app.Config{WorkspacePath: "w", CacheDir: "c"}},
		{"missing cache dir", app.Config{WorkspacePath: "w", Tasks: []string{"build"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := app.NewConfig(tc.cfg)
			assert.Error(t, err)
		})
	}

	cfg, err := app.NewConfig(app.Config{WorkspacePath: "w", Tasks: []string{"build"}, CacheDir: "c"})
	require.NoError(t, err)
	assert.Equal(t, "w", cfg.WorkspacePath)
}
