package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func table(defs ...*TaskDefinition) *TaskTable {
	t := NewTaskTable()
	for _, d := range defs {
		t.Add(d)
	}
	return t
}

func TestResolveInheritToken(t *testing.T) {
	ctx := context.Background()
	commands := map[string]string{"build": "tsc", "clean": "rimraf dist"}

	t.Run("splices inherited entries in place", func(t *testing.T) {
		global := table(&TaskDefinition{Name: "build", DependsOn: []string{"^build"}, Script: true, scriptSet: true})
		local := table(&TaskDefinition{Name: "build", DependsOn: []string{"clean", "..."}})

		resolved, err := Resolve(ctx, global, local, commands, "pkg-a")
		require.NoError(t, err)
		assert.Equal(t, []string{"clean", "^build"}, resolved.Lookup("build").DependsOn)
	})

	t.Run("preserves local entries on both sides of the token", func(t *testing.T) {
		global := table(&TaskDefinition{Name: "build", DependsOn: []string{"^build", "clean"}, Script: true, scriptSet: true})
		local := table(&TaskDefinition{Name: "build", DependsOn: []string{"pre", "...", "post"}})

		resolved, err := Resolve(ctx, global, local, commands, "pkg-a")
		require.NoError(t, err)
		assert.Equal(t, []string{"pre", "^build", "clean", "post"}, resolved.Lookup("build").DependsOn)
	})

	t.Run("local list without token replaces the inherited list", func(t *testing.T) {
		global := table(&TaskDefinition{Name: "build", DependsOn: []string{"^build"}, Script: true, scriptSet: true})
		local := table(&TaskDefinition{Name: "build", DependsOn: []string{"clean"}})

		resolved, err := Resolve(ctx, global, local, commands, "pkg-a")
		require.NoError(t, err)
		assert.Equal(t, []string{"clean"}, resolved.Lookup("build").DependsOn)
	})

	t.Run("token with no inherited list leaves only local entries", func(t *testing.T) {
		global := table(&TaskDefinition{Name: "build", Script: true, scriptSet: true})
		local := table(&TaskDefinition{Name: "build", DependsOn: []string{"clean", "..."}})

		resolved, err := Resolve(ctx, global, local, commands, "pkg-a")
		require.NoError(t, err)
		assert.Equal(t, []string{"clean"}, resolved.Lookup("build").DependsOn)
	})
}

func TestResolveGlobalVisibility(t *testing.T) {
	ctx := context.Background()
	global := table(
		&TaskDefinition{Name: "compile", DependsOn: []string{"^compile"}, Script: true, scriptSet: true},
		&TaskDefinition{Name: "test", DependsOn: []string{"compile"}, Script: true, scriptSet: true},
		&TaskDefinition{Name: "full", DependsOn: []string{"compile", "test", "missing"}, Script: false, scriptSet: true},
	)
	commands := map[string]string{"compile": "tsc"}

	resolved, err := Resolve(ctx, global, nil, commands, "pkg-a")
	require.NoError(t, err)

	t.Run("runnable templates without a command are dropped", func(t *testing.T) {
		assert.Nil(t, resolved.Lookup("test"))
		assert.NotNil(t, resolved.Lookup("compile"))
	})

	t.Run("cross-package references survive filtering", func(t *testing.T) {
		assert.Equal(t, []string{"^compile"}, resolved.Lookup("compile").DependsOn)
	})

	t.Run("aggregator lists keep only satisfiable references", func(t *testing.T) {
		require.NotNil(t, resolved.Lookup("full"))
		assert.Equal(t, []string{"compile"}, resolved.Lookup("full").DependsOn)
	})
}

func TestResolveInheritsScriptAndGlobs(t *testing.T) {
	ctx := context.Background()
	global := table(&TaskDefinition{
		Name:      "build",
		Script:    true,
		scriptSet: true,
		Inputs:    []string{"src/**"},
		Outputs:   []string{"dist/**"},
	})
	commands := map[string]string{"build": "tsc"}

	t.Run("unset fields inherit from the template", func(t *testing.T) {
		local := table(&TaskDefinition{Name: "build", DependsOn: []string{"..."}})
		resolved, err := Resolve(ctx, global, local, commands, "pkg-a")
		require.NoError(t, err)

		def := resolved.Lookup("build")
		assert.True(t, def.Script)
		assert.Equal(t, []string{"src/**"}, def.Inputs)
		assert.Equal(t, []string{"dist/**"}, def.Outputs)
	})

	t.Run("explicit local globs win", func(t *testing.T) {
		local := table(&TaskDefinition{Name: "build", Inputs: []string{"lib/**"}})
		resolved, err := Resolve(ctx, global, local, commands, "pkg-a")
		require.NoError(t, err)
		assert.Equal(t, []string{"lib/**"}, resolved.Lookup("build").Inputs)
	})
}

func TestResolveValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("runnable task without a command", func(t *testing.T) {
		local := table(&TaskDefinition{Name: "deploy", Script: true, scriptSet: true})
		_, err := Resolve(ctx, nil, local, map[string]string{}, "pkg-a")

		var cfgErr *Error
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, KindMissingCommand, cfgErr.Kind)
		assert.Equal(t, "deploy", cfgErr.Task)
	})

	t.Run("aggregator with ordering hints", func(t *testing.T) {
		local := table(&TaskDefinition{Name: "full", Script: false, scriptSet: true, Before: []string{"build"}})
		_, err := Resolve(ctx, nil, local, map[string]string{}, "pkg-a")

		var cfgErr *Error
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, KindInvalidTaskShape, cfgErr.Kind)
	})

	t.Run("command re-entering the orchestrator", func(t *testing.T) {
		local := table(&TaskDefinition{Name: "build", Script: true, scriptSet: true})
		commands := map[string]string{"build": "buildgraph build -w ."}
		_, err := Resolve(ctx, nil, local, commands, "pkg-a")

		var cfgErr *Error
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, KindRecursiveInvocation, cfgErr.Kind)
	})
}
