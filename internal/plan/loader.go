package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/loom/internal/errors"
	"github.com/felixgeelhaar/loom/internal/graph"
)

// PlanFile is a plan on disk. Tasks describe the default plan; Candidates
// optionally hold alternative variants replayed by FileProvider.
type PlanFile struct {
	Version    string       `json:"version,omitempty" yaml:"version,omitempty"`
	Goal       string       `json:"goal,omitempty" yaml:"goal,omitempty"`
	Tasks      []graph.Node `json:"tasks,omitempty" yaml:"tasks,omitempty"`
	Edges      []graph.Edge `json:"edges,omitempty" yaml:"edges,omitempty"`
	Candidates []Variant    `json:"candidates,omitempty" yaml:"candidates,omitempty"`
}

// Variant is one named alternative plan.
type Variant struct {
	Name  string       `json:"name" yaml:"name"`
	Tasks []graph.Node `json:"tasks" yaml:"tasks"`
	Edges []graph.Edge `json:"edges,omitempty" yaml:"edges,omitempty"`
}

// Graph builds the default plan, or the first variant when there are no
// top-level tasks.
func (f *PlanFile) Graph() (*graph.Graph, error) {
	if len(f.Tasks) > 0 {
		return graph.Build(f.Tasks, f.Edges)
	}
	if len(f.Candidates) > 0 {
		return graph.Build(f.Candidates[0].Tasks, f.Candidates[0].Edges)
	}
	return nil, fmt.Errorf("plan file has no tasks")
}

// Variants returns the plans available for candidate generation.
func (f *PlanFile) Variants() []Variant {
	if len(f.Candidates) > 0 {
		return f.Candidates
	}
	return []Variant{{Name: "default", Tasks: f.Tasks, Edges: f.Edges}}
}

// Problem is a validation finding for one variant.
type Problem struct {
	Variant string `json:"variant" yaml:"variant"`
	Error   string `json:"error" yaml:"error"`
	Code    string `json:"code,omitempty" yaml:"code,omitempty"`
}

// Validate builds every variant and reports each failure. A file with no
// problems returns nil.
func (f *PlanFile) Validate() []Problem {
	if len(f.Tasks) == 0 && len(f.Candidates) == 0 {
		return []Problem{{Variant: "default", Error: "plan must have at least one task"}}
	}

	var problems []Problem
	seen := make(map[string]bool)
	for _, v := range f.Variants() {
		if seen[v.Name] {
			problems = append(problems, Problem{Variant: v.Name, Error: "duplicate variant name"})
			continue
		}
		seen[v.Name] = true
		if len(v.Tasks) == 0 {
			problems = append(problems, Problem{Variant: v.Name, Error: "variant has no tasks"})
			continue
		}
		if _, err := graph.Build(v.Tasks, v.Edges); err != nil {
			p := Problem{Variant: v.Name, Error: err.Error()}
			if code, ok := errors.CodeOf(err); ok {
				p.Code = string(code)
			}
			problems = append(problems, p)
		}
	}
	return problems
}

// LoadPlanFile reads a YAML or JSON plan file, chosen by extension.
func LoadPlanFile(path string) (*PlanFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewPlanNotFoundError(path)
		}
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	var f PlanFile
	format := formatOf(path)
	if format == "json" {
		err = json.Unmarshal(data, &f)
	} else {
		err = yaml.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, errors.NewFileUnmarshalError(path, strings.ToUpper(format), err)
	}
	return &f, nil
}

// SavePlanFile writes f as YAML or JSON, chosen by extension.
func SavePlanFile(f *PlanFile, path string) error {
	var (
		data []byte
		err  error
	)
	if formatOf(path) == "json" {
		data, err = json.MarshalIndent(f, "", "  ")
	} else {
		data, err = yaml.Marshal(f)
	}
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("create plan directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write plan file: %w", err)
	}
	return nil
}

// FromGraph captures a graph as a plan file.
func FromGraph(goal string, g *graph.Graph) *PlanFile {
	doc := g.Document()
	return &PlanFile{Version: "1", Goal: goal, Tasks: doc.Nodes, Edges: doc.Edges}
}

func formatOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return "json"
	}
	return "yaml"
}

// FileProvider replays the variants of a plan file. Variance index i maps
// to variant i modulo the number of variants.
type FileProvider struct {
	file *PlanFile
}

// NewFileProvider creates a provider over f.
func NewFileProvider(f *PlanFile) *FileProvider {
	return &FileProvider{file: f}
}

// Draft implements Provider.
func (p *FileProvider) Draft(ctx context.Context, _ string, v VarianceConfig) (*graph.Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	variants := p.file.Variants()
	variant := variants[v.Index%len(variants)]
	if len(variant.Tasks) == 0 {
		return nil, fmt.Errorf("variant %q has no tasks", variant.Name)
	}
	return graph.Build(variant.Tasks, variant.Edges)
}
