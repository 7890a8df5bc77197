// Package pkggraph builds the package-level dependency graph: one node per
// matched package, edges from declared dependencies, topological levels, and
// cycle/missing-dependency detection.
package pkggraph

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Package is a unit of buildable work: a unique name, a version, runnable
// commands, declared dependencies with version ranges, and membership in one
// workspace and one release group. Immutable after load.
type Package struct {
	Name         string
	Version      string
	Dir          string
	Workspace    string
	ReleaseGroup string

	// Dependencies maps dependency package name to its declared version range.
	Dependencies map[string]string

	// Commands maps task name to the command line the package runs for it.
	Commands map[string]string
}

// HasCommand reports whether the package directly exposes the named command.
func (p *Package) HasCommand(name string) bool {
	_, ok := p.Commands[name]
	return ok
}

// workspaceRangePrefix is the sentinel version range used by workspace
// protocols; it always refers to the in-repo copy of the dependency.
const workspaceRangePrefix = "workspace:"

// rangeSatisfied reports whether the dependency's declared range admits the
// given version. A workspace sentinel range always satisfies; otherwise the
// range is interpreted as a semantic-version constraint. Unparseable ranges
// or versions never satisfy.
func rangeSatisfied(declared, version string) bool {
	if strings.HasPrefix(declared, workspaceRangePrefix) || declared == "*" || declared == "" {
		return true
	}
	constraint, err := semver.NewConstraint(declared)
	if err != nil {
		return false
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return constraint.Check(v)
}
