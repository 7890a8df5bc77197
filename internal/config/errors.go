package config

import "fmt"

// ErrorKind discriminates the configuration error taxonomy.
type ErrorKind int

const (
	// KindMissingCommand marks a task declared runnable in a package that
	// exposes no command of that name.
	KindMissingCommand ErrorKind = iota
	// KindInvalidTaskShape marks a non-runnable task declaring before/after
	// ordering hints.
	KindInvalidTaskShape
	// KindRecursiveInvocation marks a task whose command invokes the
	// orchestrator itself.
	KindRecursiveInvocation
	// KindParse marks a malformed configuration file.
	KindParse
)

// Error is a configuration error carrying enough context (package and task
// name) to be actionable without re-running verbosely.
type Error struct {
	Kind    ErrorKind
	Package string
	Task    string
	Detail  string
}

func (e *Error) Error() string {
	where := e.Package
	if e.Task != "" {
		where = fmt.Sprintf("%s#%s", e.Package, e.Task)
	}
	switch e.Kind {
	case KindMissingCommand:
		return fmt.Sprintf("configuration error: task %s is runnable but the package has no such command", where)
	case KindInvalidTaskShape:
		return fmt.Sprintf("configuration error: task %s is not runnable and must not declare before/after", where)
	case KindRecursiveInvocation:
		return fmt.Sprintf("configuration error: task %s recursively invokes the build orchestrator (%s)", where, e.Detail)
	default:
		return fmt.Sprintf("configuration error: %s: %s", where, e.Detail)
	}
}
