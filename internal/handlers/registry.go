package handlers

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tylerbutler/buildgraph/internal/ctxlog"
	"github.com/tylerbutler/buildgraph/internal/runner"
	"github.com/tylerbutler/buildgraph/internal/taskgraph"
)

// HandlerSpec declares how a command is handled: the cache input/output glob
// patterns its handler reports. Plugins and built-ins are both expressed this
// way; the handler itself is always the generic glob executor.
type HandlerSpec struct {
	Command string   `yaml:"command"`
	Inputs  []string `yaml:"inputs"`
	Outputs []string `yaml:"outputs"`
}

// Plugin is pure data: a named mapping from command names to handler specs.
type Plugin struct {
	Name     string        `yaml:"name"`
	Handlers []HandlerSpec `yaml:"handlers"`
}

// LoadPlugin parses a plugin manifest file.
func LoadPlugin(path string) (*Plugin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin manifest: %w", err)
	}
	var p Plugin
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plugin manifest %s: %w", path, err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("plugin manifest %s has no name", path)
	}
	return &p, nil
}

// builtinSpecs covers well-known commands whose cache surface follows strong
// conventions. Plugins override these.
var builtinSpecs = map[string]HandlerSpec{
	"tsc": {
		Command: "tsc",
		Inputs:  []string{"src/**/*.ts", "src/**/*.tsx", "tsconfig.json"},
		Outputs: []string{"dist/**", "lib/**"},
	},
	"eslint": {
		Command: "eslint",
		Inputs:  []string{"src/**", ".eslintrc*", "eslint.config.*"},
	},
	"api-extractor": {
		Command: "api-extractor",
		Inputs:  []string{"lib/**/*.d.ts", "api-extractor.json"},
		Outputs: []string{"api-report/**"},
	},
}

// Registry resolves an execution strategy per task. Resolution priority,
// highest first: declarative task, plugin handler, built-in handler, generic
// shell fallback. Resolution is cached per distinct command name.
type Registry struct {
	mu       sync.Mutex
	plugins  map[string]HandlerSpec
	resolved map[string]Constructor
}

// NewRegistry returns a registry with only the built-in table active.
func NewRegistry() *Registry {
	return &Registry{
		plugins:  make(map[string]HandlerSpec),
		resolved: make(map[string]Constructor),
	}
}

// RegisterPlugin installs a plugin's handler mappings. Two plugins claiming
// the same command are resolved by load order: later wins.
func (r *Registry) RegisterPlugin(ctx context.Context, p *Plugin) {
	logger := ctxlog.FromContext(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, spec := range p.Handlers {
		if prev, ok := r.plugins[spec.Command]; ok {
			logger.Debug("Plugin handler overrides earlier registration.",
				"command", spec.Command, "plugin", p.Name, "previous_inputs", prev.Inputs)
		}
		r.plugins[spec.Command] = spec
	}
	// Invalidate cached resolutions; a later plugin may change them.
	r.resolved = make(map[string]Constructor)
	logger.Debug("Plugin registered.", "plugin", p.Name, "handlers", len(p.Handlers))
}

// LoadPlugins reads and registers every manifest path in order.
func (r *Registry) LoadPlugins(ctx context.Context, paths ...string) error {
	for _, path := range paths {
		p, err := LoadPlugin(path)
		if err != nil {
			return err
		}
		r.RegisterPlugin(ctx, p)
	}
	return nil
}

// Resolve returns the handler constructor for a task.
func (r *Registry) Resolve(task *taskgraph.Task) Constructor {
	// Declarative tasks state their cache surface inline; no lookup needed.
	if task.Def.Declarative() {
		inputs := task.Def.Inputs
		outputs := task.Def.Outputs
		return func(t *taskgraph.Task, run runner.CommandRunner) Handler {
			return &globHandler{task: t, run: run, inputs: inputs, outputs: outputs}
		}
	}

	command := commandWord(task.Command)
	r.mu.Lock()
	defer r.mu.Unlock()

	if ctor, ok := r.resolved[command]; ok {
		return ctor
	}

	var ctor Constructor
	if spec, ok := r.plugins[command]; ok {
		ctor = specConstructor(spec)
	} else if spec, ok := builtinSpecs[command]; ok {
		ctor = specConstructor(spec)
	} else {
		ctor = func(t *taskgraph.Task, run runner.CommandRunner) Handler {
			return &shellHandler{task: t, run: run}
		}
	}
	r.resolved[command] = ctor
	return ctor
}

func specConstructor(spec HandlerSpec) Constructor {
	return func(t *taskgraph.Task, run runner.CommandRunner) Handler {
		return &globHandler{task: t, run: run, inputs: spec.Inputs, outputs: spec.Outputs}
	}
}

// commandWord extracts the executable word from a command line.
func commandWord(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
