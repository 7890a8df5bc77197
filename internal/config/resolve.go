package config

import (
	"context"
	"strings"

	"github.com/tylerbutler/buildgraph/internal/ctxlog"
)

// OrchestratorCommand is the command name a task script must not invoke;
// recursively re-entering the orchestrator from a task deadlocks the build.
const OrchestratorCommand = "buildgraph"

// Resolve merges the global task template table with a package's local
// override table (which may be nil) against the package's set of directly
// runnable commands, producing the fully resolved task definition table for
// that package.
//
// Global entries are inherited subject to visibility rules: a runnable
// template is skipped entirely when the package has no command of that name,
// and its list entries are filtered to references the package can actually
// satisfy. Local entries replace the inherited ones unless they splice them
// back in with the "..." token.
func Resolve(ctx context.Context, global *TaskTable, local *TaskTable, commands map[string]string, pkgName string) (*TaskTable, error) {
	logger := ctxlog.FromContext(ctx).With("package", pkgName)
	resolved := NewTaskTable()

	if global != nil {
		for _, name := range global.Order {
			tmpl := global.Tasks[name]
			if tmpl.Script {
				if _, ok := commands[name]; !ok {
					// A template cannot force a package to expose work it
					// doesn't have.
					logger.Debug("Skipping global task template without a matching command.", "task", name)
					continue
				}
			}
			def := tmpl.clone()
			def.DependsOn = filterVisible(def.DependsOn, global, local, commands)
			def.Before = filterVisible(def.Before, global, local, commands)
			def.After = filterVisible(def.After, global, local, commands)
			resolved.Add(def)
		}
	}

	if local != nil {
		for _, name := range local.Order {
			override := local.Tasks[name]
			tmpl := global.Lookup(name)

			def := override.clone()
			if tmpl != nil {
				def.DependsOn = expandInherit(def.DependsOn, tmpl.DependsOn)
				def.Before = expandInherit(def.Before, tmpl.Before)
				def.After = expandInherit(def.After, tmpl.After)
				if !override.scriptSet {
					def.Script = tmpl.Script
				}
				if def.Inputs == nil {
					def.Inputs = append([]string(nil), tmpl.Inputs...)
				}
				if def.Outputs == nil {
					def.Outputs = append([]string(nil), tmpl.Outputs...)
				}
			}
			resolved.Add(def)
		}
	}

	for _, name := range resolved.Order {
		if err := validate(resolved.Tasks[name], commands, pkgName); err != nil {
			return nil, err
		}
	}

	logger.Debug("Resolved task definition table.", "tasks", len(resolved.Order))
	return resolved, nil
}

// expandInherit applies the "..." expansion rule: the token is replaced in
// place by the inherited list, preserving the relative order of the local
// entries around it. A local list without the token fully replaces the
// inherited list.
func expandInherit(local, inherited []string) []string {
	idx := -1
	for i, entry := range local {
		if entry == InheritToken {
			idx = i
			break
		}
	}
	if idx < 0 {
		return local
	}

	merged := make([]string, 0, len(local)+len(inherited)-1)
	merged = append(merged, local[:idx]...)
	merged = append(merged, inherited...)
	for _, entry := range local[idx+1:] {
		if entry != InheritToken {
			merged = append(merged, entry)
		}
	}
	return merged
}

// filterVisible keeps a globally-inherited entry only if it is cross-package
// (leading "^"), a wildcard, names a non-runnable task, or names a command
// the package actually has.
func filterVisible(entries []string, global, local *TaskTable, commands map[string]string) []string {
	if len(entries) == 0 {
		return entries
	}
	kept := make([]string, 0, len(entries))
	for _, entry := range entries {
		switch {
		case strings.HasPrefix(entry, "^"):
			kept = append(kept, entry)
		case entry == WildcardSiblings:
			kept = append(kept, entry)
		case isAggregator(entry, global, local):
			kept = append(kept, entry)
		default:
			if _, ok := commands[entry]; ok {
				kept = append(kept, entry)
			}
		}
	}
	return kept
}

// isAggregator reports whether name refers to a declared non-runnable task.
func isAggregator(name string, global, local *TaskTable) bool {
	if def := local.Lookup(name); def != nil {
		return !def.Script
	}
	if def := global.Lookup(name); def != nil {
		return !def.Script
	}
	return false
}

func validate(def *TaskDefinition, commands map[string]string, pkgName string) error {
	if !def.Script {
		if len(def.Before) > 0 || len(def.After) > 0 {
			return &Error{Kind: KindInvalidTaskShape, Package: pkgName, Task: def.Name}
		}
		return nil
	}

	command, ok := commands[def.Name]
	if !ok {
		return &Error{Kind: KindMissingCommand, Package: pkgName, Task: def.Name}
	}
	if fields := strings.Fields(command); len(fields) > 0 && fields[0] == OrchestratorCommand {
		return &Error{Kind: KindRecursiveInvocation, Package: pkgName, Task: def.Name, Detail: command}
	}
	return nil
}
