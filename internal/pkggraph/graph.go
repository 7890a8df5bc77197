package pkggraph

import (
	"context"
	"sort"

	"github.com/tylerbutler/buildgraph/internal/ctxlog"
)

// Level sentinels. A node holding LevelUnresolved after graph closure points
// at an edge target that never initialized; levelVisiting marks a node whose
// level computation is in progress, so re-entering it is a cycle.
const (
	LevelUnresolved = -1
	levelVisiting   = -2
)

// Node is a package-level graph node. Mutated during construction; read-only
// afterwards.
type Node struct {
	Pkg *Package

	// Deps are the packages this node's package depends on.
	Deps []*Node
	// Dependents are the packages that depend on this node's package.
	Dependents []*Node

	// Level is the topological depth: leaves are 0, otherwise
	// 1 + max(level of dependencies).
	Level int

	// placeholder marks a node seeded only because an edge pointed at it;
	// its level is never assigned, which the validation pass reports.
	placeholder bool
	requiredBy  []string
}

// Graph is the package dependency graph keyed by package name.
type Graph struct {
	Nodes map[string]*Node
}

// FilterFunc decides whether a dependency edge from one package to another is
// part of this build. Policies such as "same release group only" are encoded
// here by the caller.
type FilterFunc func(from, to *Package) bool

// FilterAll admits every dependency edge between matched packages.
func FilterAll(from, to *Package) bool { return true }

// FilterSameReleaseGroup admits only edges within one release group.
func FilterSameReleaseGroup(from, to *Package) bool {
	return from.ReleaseGroup == to.ReleaseGroup
}

// Options configures graph construction.
type Options struct {
	// Filter decides edge admission; nil admits everything.
	Filter FilterFunc

	// Matched selects the packages to seed nodes for; nil matches all.
	Matched func(*Package) bool

	// ReleaseGroupRoots adds a pseudo-package node per release group whose
	// dependencies are every matched package in that group.
	ReleaseGroupRoots bool
}

// Build constructs the package dependency graph: seed a node per matched
// package, walk declared dependencies adding edges for in-set targets whose
// version range is satisfied and which pass the filter, then assign levels
// and validate.
func Build(ctx context.Context, pkgs []*Package, opts Options) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Building package dependency graph.", "packages", len(pkgs))

	filter := opts.Filter
	if filter == nil {
		filter = FilterAll
	}

	byName := make(map[string]*Package, len(pkgs))
	for _, p := range pkgs {
		byName[p.Name] = p
	}

	graph := &Graph{Nodes: make(map[string]*Node)}
	var matched []*Package
	for _, p := range pkgs {
		if opts.Matched != nil && !opts.Matched(p) {
			continue
		}
		matched = append(matched, p)
		graph.Nodes[p.Name] = &Node{Pkg: p, Level: LevelUnresolved}
	}

	// Edge pass. A dependency that passes the filter but was not matched
	// seeds a placeholder node so validation can report it.
	for _, p := range matched {
		node := graph.Nodes[p.Name]
		for depName, declaredRange := range p.Dependencies {
			target, inSet := byName[depName]
			if !inSet {
				continue // external dependency, not ours to build
			}
			if !rangeSatisfied(declaredRange, target.Version) {
				logger.Debug("Dependency version range not satisfied, edge skipped.",
					"package", p.Name, "dependency", depName, "range", declaredRange)
				continue
			}
			if !filter(p, target) {
				continue
			}
			depNode, ok := graph.Nodes[depName]
			if !ok {
				depNode = &Node{Pkg: target, Level: LevelUnresolved, placeholder: true}
				graph.Nodes[depName] = depNode
			}
			if depNode.placeholder {
				depNode.requiredBy = append(depNode.requiredBy, p.Name)
			}
			node.Deps = append(node.Deps, depNode)
			depNode.Dependents = append(depNode.Dependents, node)
		}
	}

	if opts.ReleaseGroupRoots {
		addReleaseGroupRoots(graph, matched)
	}

	if err := assignLevels(graph); err != nil {
		return nil, err
	}
	if err := validateLevels(graph); err != nil {
		return nil, err
	}

	logger.Debug("Package dependency graph built.", "nodes", len(graph.Nodes))
	return graph, nil
}

// addReleaseGroupRoots seeds one pseudo-package per release group depending
// on every matched package in the group, so group-wide operations have a
// single anchor node.
func addReleaseGroupRoots(graph *Graph, matched []*Package) {
	groups := make(map[string][]*Node)
	for _, p := range matched {
		if p.ReleaseGroup == "" {
			continue
		}
		groups[p.ReleaseGroup] = append(groups[p.ReleaseGroup], graph.Nodes[p.Name])
	}
	for group, members := range groups {
		rootName := "group:" + group
		root := &Node{
			Pkg:   &Package{Name: rootName, ReleaseGroup: group},
			Level: LevelUnresolved,
		}
		sort.Slice(members, func(i, j int) bool { return members[i].Pkg.Name < members[j].Pkg.Name })
		for _, member := range members {
			root.Deps = append(root.Deps, member)
			member.Dependents = append(member.Dependents, root)
		}
		graph.Nodes[rootName] = root
	}
}

// assignLevels computes each node's topological level via memoized recursion.
// A node is marked in-progress before recursing into its dependencies;
// re-entering an in-progress node means the chain is circular.
func assignLevels(graph *Graph) error {
	names := make([]string, 0, len(graph.Nodes))
	for name := range graph.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	var visit func(n *Node, stack []string) error
	visit = func(n *Node, stack []string) error {
		if n.placeholder {
			return nil
		}
		switch n.Level {
		case levelVisiting:
			chain := append(cycleSuffix(stack, n.Pkg.Name), n.Pkg.Name)
			return &CycleError{Chain: chain}
		case LevelUnresolved:
		default:
			return nil
		}

		n.Level = levelVisiting
		stack = append(stack, n.Pkg.Name)

		maxDep := -1
		for _, dep := range n.Deps {
			if err := visit(dep, stack); err != nil {
				return err
			}
			if dep.Level > maxDep {
				maxDep = dep.Level
			}
		}
		n.Level = maxDep + 1
		return nil
	}

	for _, name := range names {
		if err := visit(graph.Nodes[name], nil); err != nil {
			return err
		}
	}
	return nil
}

// cycleSuffix trims the visit stack to the part belonging to the cycle.
func cycleSuffix(stack []string, reentered string) []string {
	for i, name := range stack {
		if name == reentered {
			return append([]string(nil), stack[i:]...)
		}
	}
	return append([]string(nil), stack...)
}

// validateLevels reports any node whose level never left the unresolved
// sentinel after full closure.
func validateLevels(graph *Graph) error {
	names := make([]string, 0, len(graph.Nodes))
	for name := range graph.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		node := graph.Nodes[name]
		if node.Level == LevelUnresolved || node.Level == levelVisiting {
			sort.Strings(node.requiredBy)
			return &MissingDependencyError{Package: name, RequiredBy: node.requiredBy}
		}
	}
	return nil
}

// SortedNodes returns the nodes ordered by (level, name) for deterministic
// traversal.
func (g *Graph) SortedNodes() []*Node {
	nodes := make([]*Node, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Level != nodes[j].Level {
			return nodes[i].Level < nodes[j].Level
		}
		return nodes[i].Pkg.Name < nodes[j].Pkg.Name
	})
	return nodes
}
