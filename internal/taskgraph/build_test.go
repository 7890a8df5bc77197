package taskgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tylerbutler/buildgraph/internal/config"
	"github.com/tylerbutler/buildgraph/internal/pkggraph"
)

func buildPkgGraph(t *testing.T, pkgs []*pkggraph.Package) *pkggraph.Graph {
	t.Helper()
	g, err := pkggraph.Build(context.Background(), pkgs, pkggraph.Options{})
	require.NoError(t, err)
	return g
}

func buildTable(defs ...*config.TaskDefinition) *config.TaskTable {
	table := config.NewTaskTable()
	for _, d := range defs {
		table.Add(d)
	}
	return table
}

func crossBuildDef() *config.TaskDefinition {
	return &config.TaskDefinition{Name: "build", DependsOn: []string{"^build"}, Script: true}
}

func TestBuildExpandsCrossPackageReferences(t *testing.T) {
	pkgs := []*pkggraph.Package{
		{Name: "app", Dependencies: map[string]string{"lib": "*", "util": "*"}, Commands: map[string]string{"build": "tsc"}},
		{Name: "lib", Commands: map[string]string{"build": "tsc"}},
		{Name: "util", Commands: map[string]string{"build": "tsc"}},
	}
	tables := map[string]*config.TaskTable{
		"app":  buildTable(crossBuildDef()),
		"lib":  buildTable(crossBuildDef()),
		"util": buildTable(crossBuildDef()),
	}

	g, err := Build(context.Background(), buildPkgGraph(t, pkgs), tables, []string{"build"}, Options{})
	require.NoError(t, err)

	require.Equal(t, 3, g.Size())
	app, ok := g.Lookup("app", "build")
	require.True(t, ok)
	assert.Len(t, app.Deps, 2)
	assert.Contains(t, app.Deps, "lib#build")
	assert.Contains(t, app.Deps, "util#build")

	roots := g.Roots()
	require.Len(t, roots, 2)
	assert.Equal(t, "lib#build", roots[0].ID())
	assert.Equal(t, "util#build", roots[1].ID())
}

func TestBuildOmitsMissingCrossPackageTasks(t *testing.T) {
	pkgs := []*pkggraph.Package{
		{Name: "app", Dependencies: map[string]string{"lib": "*", "assets": "*"}, Commands: map[string]string{"build": "tsc"}},
		{Name: "lib", Commands: map[string]string{"build": "tsc"}},
		{Name: "assets", Commands: map[string]string{}},
	}
	tables := map[string]*config.TaskTable{
		"app":    buildTable(crossBuildDef()),
		"lib":    buildTable(crossBuildDef()),
		"assets": buildTable(),
	}

	t.Run("default mode omits the edge silently", func(t *testing.T) {
		g, err := Build(context.Background(), buildPkgGraph(t, pkgs), tables, []string{"build"}, Options{})
		require.NoError(t, err)

		app, _ := g.Lookup("app", "build")
		assert.Len(t, app.Deps, 1)
		_, hasAssets := g.Lookup("assets", "build")
		assert.False(t, hasAssets)
	})

	t.Run("strict mode reports the missing task", func(t *testing.T) {
		_, err := Build(context.Background(), buildPkgGraph(t, pkgs), tables, []string{"build"}, Options{
			StrictCrossPackage: true,
		})

		var missing *MissingCrossPackageError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "app", missing.Package)
		assert.Equal(t, "build", missing.Ref)
		assert.Equal(t, "assets", missing.Dependency)
	})
}

func TestBuildReportsUnknownReference(t *testing.T) {
	pkgs := []*pkggraph.Package{
		{Name: "app", Commands: map[string]string{"build": "tsc"}},
	}
	tables := map[string]*config.TaskTable{
		"app": buildTable(&config.TaskDefinition{Name: "build", DependsOn: []string{"nope"}, Script: true}),
	}

	_, err := Build(context.Background(), buildPkgGraph(t, pkgs), tables, []string{"build"}, Options{})

	var refErr *ReferenceError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, "app", refErr.Package)
	assert.Equal(t, "nope", refErr.Ref)
}

func TestBuildConvertsOrderingHints(t *testing.T) {
	pkgs := []*pkggraph.Package{
		{Name: "app", Commands: map[string]string{"build": "tsc", "copy": "cp", "docs": "typedoc"}},
	}
	tables := map[string]*config.TaskTable{
		"app": buildTable(
			&config.TaskDefinition{Name: "build", Script: true},
			&config.TaskDefinition{Name: "copy", Before: []string{"build"}, Script: true},
			&config.TaskDefinition{Name: "docs", After: []string{"build"}, Script: true},
		),
	}

	g, err := Build(context.Background(), buildPkgGraph(t, pkgs), tables, []string{"build", "copy", "docs"}, Options{})
	require.NoError(t, err)

	build, _ := g.Lookup("app", "build")
	docs, _ := g.Lookup("app", "docs")
	assert.Contains(t, build.Deps, "app#copy")
	assert.Contains(t, docs.Deps, "app#build")
}

func TestBuildSiblingWildcardHint(t *testing.T) {
	pkgs := []*pkggraph.Package{
		{Name: "app", Commands: map[string]string{"build": "tsc", "docs": "typedoc", "clean": "rimraf"}},
	}
	tables := map[string]*config.TaskTable{
		"app": buildTable(
			&config.TaskDefinition{Name: "build", Script: true},
			&config.TaskDefinition{Name: "docs", Script: true},
			&config.TaskDefinition{Name: "clean", Before: []string{"*"}, Script: true},
		),
	}

	g, err := Build(context.Background(), buildPkgGraph(t, pkgs), tables, []string{"build", "docs", "clean"}, Options{})
	require.NoError(t, err)

	build, _ := g.Lookup("app", "build")
	docs, _ := g.Lookup("app", "docs")
	assert.Contains(t, build.Deps, "app#clean")
	assert.Contains(t, docs.Deps, "app#clean")
}

func TestBuildDetectsTaskCycle(t *testing.T) {
	pkgs := []*pkggraph.Package{
		{Name: "app", Commands: map[string]string{}},
	}
	tables := map[string]*config.TaskTable{
		"app": buildTable(
			&config.TaskDefinition{Name: "x", DependsOn: []string{"y"}},
			&config.TaskDefinition{Name: "y", DependsOn: []string{"x"}},
		),
	}

	_, err := Build(context.Background(), buildPkgGraph(t, pkgs), tables, []string{"x"}, Options{})

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	require.GreaterOrEqual(t, len(cycleErr.Chain), 3)
	assert.Equal(t, cycleErr.Chain[0], cycleErr.Chain[len(cycleErr.Chain)-1])
}

func TestBuildComputesCriticalPathWeights(t *testing.T) {
	pkgs := []*pkggraph.Package{
		{Name: "top", Dependencies: map[string]string{"mid": "*"}, Commands: map[string]string{"build": "tsc"}},
		{Name: "mid", Dependencies: map[string]string{"leaf": "*"}, Commands: map[string]string{"build": "tsc"}},
		{Name: "leaf", Commands: map[string]string{"build": "tsc"}},
	}
	tables := map[string]*config.TaskTable{
		"top":  buildTable(crossBuildDef()),
		"mid":  buildTable(crossBuildDef()),
		"leaf": buildTable(crossBuildDef()),
	}

	g, err := Build(context.Background(), buildPkgGraph(t, pkgs), tables, []string{"build"}, Options{})
	require.NoError(t, err)

	top, _ := g.Lookup("top", "build")
	mid, _ := g.Lookup("mid", "build")
	leaf, _ := g.Lookup("leaf", "build")
	assert.Equal(t, 1, top.Weight)
	assert.Equal(t, 2, mid.Weight)
	assert.Equal(t, 3, leaf.Weight)
}

func TestBuildBareCommandTask(t *testing.T) {
	pkgs := []*pkggraph.Package{
		{Name: "app", Commands: map[string]string{"lint": "eslint src"}},
	}
	tables := map[string]*config.TaskTable{"app": buildTable()}

	g, err := Build(context.Background(), buildPkgGraph(t, pkgs), tables, []string{"lint"}, Options{})
	require.NoError(t, err)

	lint, ok := g.Lookup("app", "lint")
	require.True(t, ok)
	assert.True(t, lint.Runnable())
	assert.Equal(t, "eslint src", lint.Command)
}
