package taskgraph

import (
	"context"
	"sort"
	"strings"

	"github.com/tylerbutler/buildgraph/internal/config"
	"github.com/tylerbutler/buildgraph/internal/ctxlog"
	"github.com/tylerbutler/buildgraph/internal/pkggraph"
)

// Options configures task graph construction.
type Options struct {
	// StrictCrossPackage turns a "^task" reference to a dependency package
	// lacking that task into an error instead of silently omitting the edge.
	StrictCrossPackage bool
}

// Graph is the fully linked task graph for one build run.
type Graph struct {
	// Tasks is keyed by Task.ID().
	Tasks map[string]*Task

	byPkg map[string]map[string]*Task
}

// Size returns the number of tasks in the graph.
func (g *Graph) Size() int { return len(g.Tasks) }

// Lookup returns the task for a package and task name.
func (g *Graph) Lookup(pkgName, taskName string) (*Task, bool) {
	t, ok := g.byPkg[pkgName][taskName]
	return t, ok
}

// SortedTasks returns all tasks ordered by ID for deterministic iteration.
func (g *Graph) SortedTasks() []*Task {
	tasks := make([]*Task, 0, len(g.Tasks))
	for _, t := range g.Tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID() < tasks[j].ID() })
	return tasks
}

// Roots returns the tasks with no upstream dependencies.
func (g *Graph) Roots() []*Task {
	var roots []*Task
	for _, t := range g.SortedTasks() {
		if len(t.Deps) == 0 {
			roots = append(roots, t)
		}
	}
	return roots
}

type graphBuilder struct {
	pg     *pkggraph.Graph
	tables map[string]*config.TaskTable
	opts   Options
	graph  *Graph
	queue  []*Task
}

// Build expands the package graph into concrete tasks and wires every edge:
// same-package dependsOn, cross-package "^task" references, and before/after
// ordering hints converted into dependency-equivalent edges. Construction
// fails before any execution on unknown references or cycles.
func Build(ctx context.Context, pg *pkggraph.Graph, tables map[string]*config.TaskTable, taskNames []string, opts Options) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	b := &graphBuilder{
		pg:     pg,
		tables: tables,
		opts:   opts,
		graph: &Graph{
			Tasks: make(map[string]*Task),
			byPkg: make(map[string]map[string]*Task),
		},
	}

	// Seed a task per matched package and requested task name; the closure
	// below pulls in everything they depend on.
	for _, node := range pg.SortedNodes() {
		if _, ok := tables[node.Pkg.Name]; !ok {
			continue // pseudo-packages (release-group roots) carry no tasks
		}
		for _, name := range taskNames {
			if b.defines(node.Pkg, name) {
				b.ensure(node.Pkg, name)
			}
		}
	}

	// Closure over dependsOn references. The queue grows as edges pull in
	// aggregator and upstream tasks.
	for len(b.queue) > 0 {
		task := b.queue[0]
		b.queue = b.queue[1:]
		if err := b.linkDependsOn(ctx, task); err != nil {
			return nil, err
		}
	}

	if err := b.linkOrderingHints(ctx); err != nil {
		return nil, err
	}

	if err := detectCycles(b.graph); err != nil {
		return nil, err
	}

	computeWeights(b.graph)
	for _, t := range b.graph.Tasks {
		t.setInitialCounters()
	}

	logger.Debug("Task graph built.", "tasks", len(b.graph.Tasks))
	return b.graph, nil
}

// defines reports whether the package either declares the task or directly
// exposes a command of that name.
func (b *graphBuilder) defines(pkg *pkggraph.Package, name string) bool {
	if b.tables[pkg.Name].Lookup(name) != nil {
		return true
	}
	return pkg.HasCommand(name)
}

// ensure returns the task node for (pkg, name), creating and queueing it on
// first sight.
func (b *graphBuilder) ensure(pkg *pkggraph.Package, name string) *Task {
	if t, ok := b.graph.byPkg[pkg.Name][name]; ok {
		return t
	}

	def := b.tables[pkg.Name].Lookup(name)
	if def == nil {
		// A bare command with no declared task definition.
		def = &config.TaskDefinition{Name: name, Script: true}
	}

	t := &Task{
		Pkg:        pkg,
		Name:       name,
		Def:        def,
		Deps:       make(map[string]*Task),
		Dependents: make(map[string]*Task),
	}
	if def.Script {
		t.Command = pkg.Commands[name]
	}

	b.graph.Tasks[t.ID()] = t
	if b.graph.byPkg[pkg.Name] == nil {
		b.graph.byPkg[pkg.Name] = make(map[string]*Task)
	}
	b.graph.byPkg[pkg.Name][name] = t
	b.queue = append(b.queue, t)
	return t
}

func (b *graphBuilder) linkDependsOn(ctx context.Context, task *Task) error {
	logger := ctxlog.FromContext(ctx)
	node := b.pg.Nodes[task.Pkg.Name]

	for _, ref := range task.Def.DependsOn {
		if crossRef, ok := strings.CutPrefix(ref, "^"); ok {
			for _, depNode := range node.Deps {
				if _, hasTable := b.tables[depNode.Pkg.Name]; !hasTable {
					continue
				}
				if !b.defines(depNode.Pkg, crossRef) {
					if b.opts.StrictCrossPackage {
						return &MissingCrossPackageError{
							Package:    task.Pkg.Name,
							Task:       task.Name,
							Ref:        crossRef,
							Dependency: depNode.Pkg.Name,
						}
					}
					// Absence of a task in an upstream package is valid.
					logger.Debug("Cross-package task reference omitted.",
						"task", task.ID(), "ref", ref, "dependency", depNode.Pkg.Name)
					continue
				}
				addEdge(b.ensure(depNode.Pkg, crossRef), task)
			}
			continue
		}

		if !b.defines(task.Pkg, ref) {
			return &ReferenceError{Package: task.Pkg.Name, Task: task.Name, Ref: ref}
		}
		addEdge(b.ensure(task.Pkg, ref), task)
	}
	return nil
}

// linkOrderingHints converts before/after hints into ordering edges at graph
// closure: a task listed as "before X" becomes a dependency of X. Hints only
// bind tasks already in the graph; naming an absent sibling is not an error.
func (b *graphBuilder) linkOrderingHints(ctx context.Context) error {
	for _, task := range b.graph.SortedTasks() {
		for _, ref := range task.Def.Before {
			for _, target := range b.orderingTargets(task, ref) {
				addEdge(task, target)
			}
		}
		for _, ref := range task.Def.After {
			for _, target := range b.orderingTargets(task, ref) {
				addEdge(target, task)
			}
		}
	}
	return nil
}

func (b *graphBuilder) orderingTargets(task *Task, ref string) []*Task {
	var targets []*Task
	switch {
	case ref == config.WildcardSiblings:
		for _, sibling := range b.graph.byPkg[task.Pkg.Name] {
			if sibling != task {
				targets = append(targets, sibling)
			}
		}
	case ref == config.WildcardDependencies:
		node := b.pg.Nodes[task.Pkg.Name]
		for _, depNode := range node.Deps {
			for _, t := range b.graph.byPkg[depNode.Pkg.Name] {
				targets = append(targets, t)
			}
		}
	case strings.HasPrefix(ref, "^"):
		name := strings.TrimPrefix(ref, "^")
		node := b.pg.Nodes[task.Pkg.Name]
		for _, depNode := range node.Deps {
			if t, ok := b.graph.byPkg[depNode.Pkg.Name][name]; ok {
				targets = append(targets, t)
			}
		}
	default:
		if t, ok := b.graph.byPkg[task.Pkg.Name][ref]; ok && t != task {
			targets = append(targets, t)
		}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].ID() < targets[j].ID() })
	return targets
}

// addEdge records that `to` depends on `from`.
func addEdge(from, to *Task) {
	if from == to {
		return
	}
	to.Deps[from.ID()] = from
	from.Dependents[to.ID()] = to
}

// detectCycles walks the dependency edges with an in-progress set, the same
// technique the package graph uses, and reports the full chain on re-entry.
func detectCycles(g *Graph) error {
	const (
		unvisited = iota
		visiting
		done
	)
	marks := make(map[string]int, len(g.Tasks))

	var visit func(t *Task, stack []string) error
	visit = func(t *Task, stack []string) error {
		switch marks[t.ID()] {
		case done:
			return nil
		case visiting:
			chain := append(trimToCycle(stack, t.ID()), t.ID())
			return &CycleError{Chain: chain}
		}
		marks[t.ID()] = visiting
		stack = append(stack, t.ID())

		for _, id := range sortedKeys(t.Deps) {
			if err := visit(t.Deps[id], stack); err != nil {
				return err
			}
		}
		marks[t.ID()] = done
		return nil
	}

	for _, t := range g.SortedTasks() {
		if err := visit(t, nil); err != nil {
			return err
		}
	}
	return nil
}

func trimToCycle(stack []string, reentered string) []string {
	for i, id := range stack {
		if id == reentered {
			return append([]string(nil), stack[i:]...)
		}
	}
	return append([]string(nil), stack...)
}

func sortedKeys(m map[string]*Task) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// computeWeights assigns each task the length of the longest dependent chain
// below it. The executor prioritizes heavier tasks to shorten tail latency.
func computeWeights(g *Graph) {
	memo := make(map[string]int, len(g.Tasks))

	var weigh func(t *Task) int
	weigh = func(t *Task) int {
		if w, ok := memo[t.ID()]; ok {
			return w
		}
		maxDependent := 0
		for _, dep := range t.Dependents {
			if w := weigh(dep); w > maxDependent {
				maxDependent = w
			}
		}
		w := maxDependent + 1
		memo[t.ID()] = w
		t.Weight = w
		return w
	}

	for _, t := range g.Tasks {
		weigh(t)
	}
}
