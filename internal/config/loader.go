package config

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/tylerbutler/buildgraph/internal/ctxlog"
	"github.com/tylerbutler/buildgraph/internal/fsutil"
)

// Loader reads workspace configuration files and translates them into the
// format-agnostic model.
type Loader struct {
	parser *hclparse.Parser
}

// NewLoader returns a Loader backed by a fresh HCL parser.
func NewLoader() *Loader {
	return &Loader{parser: hclparse.NewParser()}
}

var fileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "buildtasks"},
		{Type: "package", LabelNames: []string{"name"}},
	},
}

var taskBlocksSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "task", LabelNames: []string{"name"}},
	},
}

var packageSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "version", Required: true},
		{Name: "dir", Required: true},
		{Name: "workspace"},
		{Name: "release_group"},
		{Name: "dependencies"},
		{Name: "scripts"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "task", LabelNames: []string{"name"}},
	},
}

// LoadWorkspace parses the workspace file (or every .hcl file under a
// directory) into a WorkspaceFile model.
func (l *Loader) LoadWorkspace(ctx context.Context, path string) (*WorkspaceFile, error) {
	logger := ctxlog.FromContext(ctx)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat workspace path: %w", err)
	}

	paths := []string{path}
	if info.IsDir() {
		paths, err = fsutil.FindFilesByExtension(path, ".hcl")
		if err != nil {
			return nil, fmt.Errorf("failed to scan workspace directory: %w", err)
		}
	}
	logger.Debug("Loading workspace configuration.", "files", len(paths))

	ws := &WorkspaceFile{Global: NewTaskTable()}
	for _, p := range paths {
		if err := l.loadFile(ctx, p, ws); err != nil {
			return nil, err
		}
	}
	logger.Debug("Workspace configuration loaded.", "packages", len(ws.Packages))
	return ws, nil
}

func (l *Loader) loadFile(ctx context.Context, path string, ws *WorkspaceFile) error {
	file, diags := l.parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return &Error{Kind: KindParse, Package: path, Detail: diags.Error()}
	}

	content, diags := file.Body.Content(fileSchema)
	if diags.HasErrors() {
		return &Error{Kind: KindParse, Package: path, Detail: diags.Error()}
	}

	for _, block := range content.Blocks {
		switch block.Type {
		case "buildtasks":
			if err := l.decodeTaskBlocks(block.Body, ws.Global, path); err != nil {
				return err
			}
		case "package":
			manifest, err := l.decodePackage(ctx, block)
			if err != nil {
				return err
			}
			ws.Packages = append(ws.Packages, manifest)
		}
	}
	return nil
}

func (l *Loader) decodeTaskBlocks(body hcl.Body, table *TaskTable, where string) error {
	content, diags := body.Content(taskBlocksSchema)
	if diags.HasErrors() {
		return &Error{Kind: KindParse, Package: where, Detail: diags.Error()}
	}
	for _, block := range content.Blocks {
		def, err := decodeTask(block)
		if err != nil {
			return err
		}
		table.Add(def)
	}
	return nil
}

func (l *Loader) decodePackage(ctx context.Context, block *hcl.Block) (*PackageManifest, error) {
	name := block.Labels[0]
	content, diags := block.Body.Content(packageSchema)
	if diags.HasErrors() {
		return nil, &Error{Kind: KindParse, Package: name, Detail: diags.Error()}
	}

	manifest := &PackageManifest{
		Name:         name,
		Dependencies: map[string]string{},
		Scripts:      map[string]string{},
	}

	for attrName, attr := range content.Attributes {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, &Error{Kind: KindParse, Package: name, Detail: diags.Error()}
		}
		switch attrName {
		case "version":
			s, err := stringValue(val)
			if err != nil {
				return nil, attrError(name, attrName, err)
			}
			manifest.Version = s
		case "dir":
			s, err := stringValue(val)
			if err != nil {
				return nil, attrError(name, attrName, err)
			}
			manifest.Dir = s
		case "workspace":
			s, err := stringValue(val)
			if err != nil {
				return nil, attrError(name, attrName, err)
			}
			manifest.Workspace = s
		case "release_group":
			s, err := stringValue(val)
			if err != nil {
				return nil, attrError(name, attrName, err)
			}
			manifest.ReleaseGroup = s
		case "dependencies":
			m, err := stringMapValue(val)
			if err != nil {
				return nil, attrError(name, attrName, err)
			}
			manifest.Dependencies = m
		case "scripts":
			m, err := stringMapValue(val)
			if err != nil {
				return nil, attrError(name, attrName, err)
			}
			manifest.Scripts = m
		}
	}

	for _, taskBlock := range content.Blocks {
		def, err := decodeTask(taskBlock)
		if err != nil {
			return nil, err
		}
		if manifest.Tasks == nil {
			manifest.Tasks = NewTaskTable()
		}
		manifest.Tasks.Add(def)
	}

	ctxlog.FromContext(ctx).Debug("Decoded package manifest.",
		"package", name, "scripts", len(manifest.Scripts), "overrides", manifest.Tasks != nil)
	return manifest, nil
}

func decodeTask(block *hcl.Block) (*TaskDefinition, error) {
	name := block.Labels[0]
	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, &Error{Kind: KindParse, Task: name, Detail: diags.Error()}
	}

	def := &TaskDefinition{Name: name, Script: true}
	for attrName, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, &Error{Kind: KindParse, Task: name, Detail: diags.Error()}
		}
		var err error
		switch attrName {
		case "depends_on":
			def.DependsOn, err = stringListValue(val)
		case "before":
			def.Before, err = stringListValue(val)
		case "after":
			def.After, err = stringListValue(val)
		case "inputs":
			def.Inputs, err = stringListValue(val)
		case "outputs":
			def.Outputs, err = stringListValue(val)
		case "script":
			def.Script, err = boolValue(val)
			def.scriptSet = true
		default:
			err = fmt.Errorf("unsupported attribute %q", attrName)
		}
		if err != nil {
			return nil, attrError(name, attrName, err)
		}
	}
	return def, nil
}

func attrError(where, attr string, err error) error {
	return &Error{Kind: KindParse, Package: where, Detail: fmt.Sprintf("attribute %q: %v", attr, err)}
}

func stringValue(val cty.Value) (string, error) {
	converted, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", err
	}
	if converted.IsNull() {
		return "", nil
	}
	return converted.AsString(), nil
}

func boolValue(val cty.Value) (bool, error) {
	converted, err := convert.Convert(val, cty.Bool)
	if err != nil {
		return false, err
	}
	if converted.IsNull() {
		return false, nil
	}
	return converted.True(), nil
}

func stringListValue(val cty.Value) ([]string, error) {
	if val.IsNull() {
		return nil, nil
	}
	if !val.Type().IsTupleType() && !val.Type().IsListType() && !val.Type().IsSetType() {
		return nil, fmt.Errorf("expected a list of strings, got %s", val.Type().FriendlyName())
	}
	var out []string
	for _, elem := range val.AsValueSlice() {
		s, err := stringValue(elem)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func stringMapValue(val cty.Value) (map[string]string, error) {
	if val.IsNull() {
		return map[string]string{}, nil
	}
	if !val.Type().IsObjectType() && !val.Type().IsMapType() {
		return nil, fmt.Errorf("expected a map of strings, got %s", val.Type().FriendlyName())
	}
	out := make(map[string]string)
	for key, elem := range val.AsValueMap() {
		s, err := stringValue(elem)
		if err != nil {
			return nil, err
		}
		out[key] = s
	}
	return out, nil
}
