package pkggraph

import (
	"fmt"
	"strings"
)

// CycleError reports a circular package dependency, naming the full chain
// discovered during level assignment.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular package dependency: %s", strings.Join(e.Chain, " -> "))
}

// MissingDependencyError reports a dependency edge whose target package never
// initialized: it passed the dependency filter but was not part of the
// matched package set.
type MissingDependencyError struct {
	Package    string
	RequiredBy []string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("missing package dependency: %s (required by %s)",
		e.Package, strings.Join(e.RequiredBy, ", "))
}
