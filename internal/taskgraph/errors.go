package taskgraph

import (
	"fmt"
	"strings"
)

// CycleError reports a circular task dependency with the full chain.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular task dependency: %s", strings.Join(e.Chain, " -> "))
}

// ReferenceError reports a dependsOn entry naming a task the same package
// neither defines nor exposes as a command.
type ReferenceError struct {
	Package string
	Task    string
	Ref     string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("task %s#%s depends on unknown task %q", e.Package, e.Task, e.Ref)
}

// MissingCrossPackageError reports, in strict mode, a "^task" reference to a
// dependency package that lacks the task. Outside strict mode the edge is
// silently omitted.
type MissingCrossPackageError struct {
	Package    string
	Task       string
	Ref        string
	Dependency string
}

func (e *MissingCrossPackageError) Error() string {
	return fmt.Sprintf("task %s#%s references ^%s but dependency package %s has no such task",
		e.Package, e.Task, e.Ref, e.Dependency)
}
