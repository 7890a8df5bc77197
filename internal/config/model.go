// Package config implements the task configuration layer: parsing task
// definition tables from HCL and resolving a package's effective task table
// by merging global templates with package-local overrides.
package config

// InheritToken is the literal list entry that splices the corresponding
// globally-inherited list into a package-local list.
const InheritToken = "..."

// Wildcard tokens usable in before/after lists.
const (
	WildcardSiblings     = "*"  // all sibling tasks in the same package
	WildcardDependencies = "^*" // all tasks in dependency packages
)

// TaskDefinition describes a single named task, either as a global template
// entry or as a fully resolved per-package definition.
type TaskDefinition struct {
	Name string

	// DependsOn lists hard ordering requirements. A plain name refers to a
	// task in the same package; a "^" prefix refers to that task in every
	// direct dependency package.
	DependsOn []string

	// Before and After are soft ordering hints relative to sibling tasks.
	// Only meaningful on directly runnable tasks.
	Before []string
	After  []string

	// Script reports whether the task maps to a literal invokable command
	// (true) or is purely a dependency aggregator (false).
	Script bool

	// scriptSet tracks whether Script was declared explicitly, so local
	// definitions can inherit the template's value.
	scriptSet bool

	// Inputs and Outputs are glob patterns, relative to the package
	// directory, declaring the task's cache inputs and outputs. A task with
	// neither is not cacheable.
	Inputs  []string
	Outputs []string
}

// Declarative reports whether the task states its cache inputs or outputs
// directly in configuration.
func (d *TaskDefinition) Declarative() bool {
	return len(d.Inputs) > 0 || len(d.Outputs) > 0
}

// clone returns a deep copy of the definition.
func (d *TaskDefinition) clone() *TaskDefinition {
	c := *d
	c.DependsOn = append([]string(nil), d.DependsOn...)
	c.Before = append([]string(nil), d.Before...)
	c.After = append([]string(nil), d.After...)
	c.Inputs = append([]string(nil), d.Inputs...)
	c.Outputs = append([]string(nil), d.Outputs...)
	return &c
}

// TaskTable is an ordered collection of task definitions. Order preserves
// declaration order, which matters for deterministic resolution output.
type TaskTable struct {
	Tasks map[string]*TaskDefinition
	Order []string
}

// NewTaskTable returns an empty table.
func NewTaskTable() *TaskTable {
	return &TaskTable{Tasks: make(map[string]*TaskDefinition)}
}

// Add inserts or replaces a definition, keeping declaration order stable.
func (t *TaskTable) Add(def *TaskDefinition) {
	if _, exists := t.Tasks[def.Name]; !exists {
		t.Order = append(t.Order, def.Name)
	}
	t.Tasks[def.Name] = def
}

// Lookup returns the definition for name, or nil.
func (t *TaskTable) Lookup(name string) *TaskDefinition {
	if t == nil {
		return nil
	}
	return t.Tasks[name]
}

// PackageManifest is the parsed form of a "package" block in a workspace
// file: identity, dependency declarations, runnable scripts, and the local
// task override table.
type PackageManifest struct {
	Name         string
	Version      string
	Dir          string
	Workspace    string
	ReleaseGroup string

	// Dependencies maps dependency package name to a declared version range.
	Dependencies map[string]string

	// Scripts maps task name to the literal command line it runs.
	Scripts map[string]string

	// Tasks is the package-local task override table. May be nil.
	Tasks *TaskTable
}

// WorkspaceFile is the parsed form of a full workspace configuration file:
// the global task template table plus every package manifest.
type WorkspaceFile struct {
	Global   *TaskTable
	Packages []*PackageManifest
}
