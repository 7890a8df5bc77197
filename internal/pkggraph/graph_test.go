package pkggraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPkg(name, version string, deps map[string]string) *Package {
	return &Package{Name: name, Version: version, Dependencies: deps}
}

func TestBuildAssignsLevels(t *testing.T) {
	pkgs := []*Package{
		testPkg("leaf", "1.0.0", nil),
		testPkg("mid", "1.0.0", map[string]string{"leaf": "workspace:*"}),
		testPkg("top", "1.0.0", map[string]string{"mid": "workspace:*", "leaf": "workspace:*"}),
	}

	g, err := Build(context.Background(), pkgs, Options{})
	require.NoError(t, err)

	assert.Equal(t, 0, g.Nodes["leaf"].Level)
	assert.Equal(t, 1, g.Nodes["mid"].Level)
	assert.Equal(t, 2, g.Nodes["top"].Level)

	// Every dependency sits strictly below its dependent.
	for _, node := range g.Nodes {
		for _, dep := range node.Deps {
			assert.Less(t, dep.Level, node.Level,
				"dependency %s must be below %s", dep.Pkg.Name, node.Pkg.Name)
		}
	}

	sorted := g.SortedNodes()
	assert.Equal(t, "leaf", sorted[0].Pkg.Name)
	assert.Equal(t, "top", sorted[2].Pkg.Name)
}

func TestBuildReportsCycleChain(t *testing.T) {
	pkgs := []*Package{
		testPkg("a", "1.0.0", map[string]string{"b": "*"}),
		testPkg("b", "1.0.0", map[string]string{"a": "*"}),
	}

	_, err := Build(context.Background(), pkgs, Options{})

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"a", "b", "a"}, cycleErr.Chain)
}

func TestBuildReportsMissingDependency(t *testing.T) {
	pkgs := []*Package{
		testPkg("app", "1.0.0", map[string]string{"lib": "*"}),
		testPkg("lib", "1.0.0", nil),
	}

	_, err := Build(context.Background(), pkgs, Options{
		Matched: func(p *Package) bool { return p.Name == "app" },
	})

	var missing *MissingDependencyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "lib", missing.Package)
	assert.Equal(t, []string{"app"}, missing.RequiredBy)
}

func TestRangeSatisfied(t *testing.T) {
	cases := []struct {
		name     string
		declared string
		version  string
		want     bool
	}{
		{"workspace protocol always satisfies", "workspace:^1.0.0", "2.0.0", true},
		{"star satisfies anything", "*", "0.0.1", true},
		{"empty range satisfies anything", "", "1.0.0", true},
		{"caret range within major", "^1.0.0", "1.2.3", true},
		{"caret range across major", "^1.0.0", "2.0.0", false},
		{"tilde range", "~1.2.0", "1.2.9", true},
		{"unparseable range", "not-a-range", "1.0.0", false},
		{"unparseable version", "^1.0.0", "latest", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, rangeSatisfied(tc.declared, tc.version))
		})
	}
}

func TestBuildSkipsUnsatisfiedRanges(t *testing.T) {
	pkgs := []*Package{
		testPkg("app", "1.0.0", map[string]string{"lib": "^2.0.0"}),
		testPkg("lib", "1.0.0", nil),
	}

	g, err := Build(context.Background(), pkgs, Options{})
	require.NoError(t, err)

	// The declared range does not admit the in-repo version, so no edge.
	assert.Empty(t, g.Nodes["app"].Deps)
	assert.Equal(t, 0, g.Nodes["app"].Level)
}

func TestReleaseGroupRoots(t *testing.T) {
	client := testPkg("ui", "1.0.0", nil)
	client.ReleaseGroup = "client"
	api := testPkg("api-client", "1.0.0", nil)
	api.ReleaseGroup = "client"
	server := testPkg("server", "1.0.0", nil)

	g, err := Build(context.Background(), []*Package{client, api, server}, Options{ReleaseGroupRoots: true})
	require.NoError(t, err)

	root, ok := g.Nodes["group:client"]
	require.True(t, ok)
	require.Len(t, root.Deps, 2)
	assert.Equal(t, "api-client", root.Deps[0].Pkg.Name)
	assert.Equal(t, "ui", root.Deps[1].Pkg.Name)
	assert.Equal(t, 1, root.Level)

	_, hasServerGroup := g.Nodes["group:"]
	assert.False(t, hasServerGroup, "packages without a release group get no root")
}

func TestFilterSameReleaseGroup(t *testing.T) {
	ui := testPkg("ui", "1.0.0", map[string]string{"shared": "*", "server": "*"})
	ui.ReleaseGroup = "client"
	shared := testPkg("shared", "1.0.0", nil)
	shared.ReleaseGroup = "client"
	server := testPkg("server", "1.0.0", nil)
	server.ReleaseGroup = "backend"

	g, err := Build(context.Background(), []*Package{ui, shared, server}, Options{
		Filter: FilterSameReleaseGroup,
	})
	require.NoError(t, err)

	require.Len(t, g.Nodes["ui"].Deps, 1)
	assert.Equal(t, "shared", g.Nodes["ui"].Deps[0].Pkg.Name)
}
