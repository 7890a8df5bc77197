package app

import (
	"context"
	"os"
	"path/filepath"

	"github.com/tylerbutler/buildgraph/internal/config"
	"github.com/tylerbutler/buildgraph/internal/ctxlog"
	"github.com/tylerbutler/buildgraph/internal/pkggraph"
)

// Workspace is the loaded, resolved form of a workspace: the package set and
// each package's fully resolved task table.
type Workspace struct {
	Packages []*pkggraph.Package

	// Global is the workspace-wide task template table.
	Global *config.TaskTable

	// Tables maps package name to its resolved task definition table.
	Tables map[string]*config.TaskTable
}

// loadWorkspace reads the workspace configuration and resolves every
// package's task table against the global templates. Configuration errors
// here are fatal and pre-execution.
func (a *App) loadWorkspace(ctx context.Context) (*Workspace, error) {
	logger := ctxlog.FromContext(ctx)

	ws, err := a.loader.LoadWorkspace(ctx, a.cfg.WorkspacePath)
	if err != nil {
		return nil, err
	}

	root := a.cfg.WorkspacePath
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		root = filepath.Dir(root)
	}

	out := &Workspace{
		Global: ws.Global,
		Tables: make(map[string]*config.TaskTable, len(ws.Packages)),
	}
	for _, manifest := range ws.Packages {
		pkg := &pkggraph.Package{
			Name:         manifest.Name,
			Version:      manifest.Version,
			Dir:          filepath.Join(root, manifest.Dir),
			Workspace:    manifest.Workspace,
			ReleaseGroup: manifest.ReleaseGroup,
			Dependencies: manifest.Dependencies,
			Commands:     manifest.Scripts,
		}
		table, err := config.Resolve(ctx, ws.Global, manifest.Tasks, pkg.Commands, pkg.Name)
		if err != nil {
			return nil, err
		}
		out.Packages = append(out.Packages, pkg)
		out.Tables[pkg.Name] = table
	}

	logger.Debug("Workspace loaded and task tables resolved.", "packages", len(out.Packages))
	return out, nil
}
