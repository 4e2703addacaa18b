// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/craftline/production-tracker/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed stages.yaml
var defaultGraphYAML []byte

var errEmptyGraph = errors.New("stage graph has no stages")

// Graph is the fixed, ordered sequence of production stages. It is immutable
// once built and safe for concurrent use.
type Graph struct {
	defs  []domain.StageDef
	index map[domain.Stage]int
}

type graphFile struct {
	Stages []graphFileStage `yaml:"stages"`
}

type graphFileStage struct {
	Stage string `yaml:"stage"`
	Label string `yaml:"label"`
	Color string `yaml:"color"`
}

// NewGraph builds a graph from stage definitions in the given order. Every
// stage must belong to the closed stage set and appear once.
func NewGraph(defs []domain.StageDef) (*Graph, error) {
	if len(defs) == 0 {
		return nil, errEmptyGraph
	}

	g := &Graph{
		defs:  make([]domain.StageDef, 0, len(defs)),
		index: make(map[domain.Stage]int, len(defs)),
	}
	for _, def := range defs {
		if !def.Stage.Valid() {
			return nil, fmt.Errorf("unknown stage %q", def.Stage)
		}
		if _, dup := g.index[def.Stage]; dup {
			return nil, fmt.Errorf("duplicate stage %q", def.Stage)
		}
		if strings.TrimSpace(def.Label) == "" {
			def.Label = defaultLabel(def.Stage)
		}
		g.index[def.Stage] = len(g.defs)
		g.defs = append(g.defs, def)
	}

	return g, nil
}

// ParseGraph reads a YAML stage graph document.
func ParseGraph(data []byte) (*Graph, error) {
	var doc graphFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing stage graph: %w", err)
	}

	defs := make([]domain.StageDef, 0, len(doc.Stages))
	for _, s := range doc.Stages {
		stage, err := domain.ParseStage(s.Stage)
		if err != nil {
			return nil, fmt.Errorf("parsing stage graph: %w", err)
		}
		defs = append(defs, domain.StageDef{
			Stage: stage,
			Label: strings.TrimSpace(s.Label),
			Color: strings.TrimSpace(s.Color),
		})
	}

	g, err := NewGraph(defs)
	if err != nil {
		return nil, fmt.Errorf("invalid stage graph: %w", err)
	}
	return g, nil
}

// LoadGraph reads a YAML stage graph from fsys.
func LoadGraph(fsys fs.FS, path string) (*Graph, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("reading stage graph: %w", err)
	}
	return ParseGraph(data)
}

// LoadGraphFile reads the stage graph at path on the local filesystem. An
// empty path selects the embedded default.
func LoadGraphFile(path string) (*Graph, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultGraph(), nil
	}
	return LoadGraph(os.DirFS(filepath.Dir(path)), filepath.Base(path))
}

// DefaultGraph returns the embedded factory stage graph.
func DefaultGraph() *Graph {
	g, err := ParseGraph(defaultGraphYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded stage graph: %v", err))
	}
	return g
}

func (g *Graph) OrderedStages() []domain.Stage {
	out := make([]domain.Stage, len(g.defs))
	for i, def := range g.defs {
		out[i] = def.Stage
	}
	return out
}

func (g *Graph) Definitions() []domain.StageDef {
	out := make([]domain.StageDef, len(g.defs))
	copy(out, g.defs)
	return out
}

func (g *Graph) Definition(s domain.Stage) (domain.StageDef, bool) {
	i, ok := g.index[s]
	if !ok {
		return domain.StageDef{}, false
	}
	return g.defs[i], true
}

func (g *Graph) Contains(s domain.Stage) bool {
	_, ok := g.index[s]
	return ok
}

func (g *Graph) Position(s domain.Stage) (int, bool) {
	i, ok := g.index[s]
	return i, ok
}

func (g *Graph) Len() int {
	return len(g.defs)
}

// NextStage returns the stage after current. ok is false when current is the
// last stage or not part of the graph.
func (g *Graph) NextStage(current domain.Stage) (next domain.Stage, ok bool) {
	i, found := g.index[current]
	if !found || i == len(g.defs)-1 {
		return "", false
	}
	return g.defs[i+1].Stage, true
}

func (g *Graph) IsLastStage(s domain.Stage) bool {
	i, ok := g.index[s]
	return ok && i == len(g.defs)-1
}

func (g *Graph) FirstStage() domain.Stage {
	return g.defs[0].Stage
}

func (g *Graph) LastStage() domain.Stage {
	return g.defs[len(g.defs)-1].Stage
}

func defaultLabel(s domain.Stage) string {
	parts := strings.Split(string(s), "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
