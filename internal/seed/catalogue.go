// SPDX-License-Identifier: Apache-2.0

// Package seed loads the inspection check catalogue and writes it to a check
// store.
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/craftline/production-tracker/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed checks.yaml
var defaultCatalogueYAML []byte

// CheckSeeder creates a check or updates the sequence of an existing one.
type CheckSeeder interface {
	UpsertCheck(ctx context.Context, params domain.CreateCheckParams) (domain.Check, error)
}

// Catalogue is the ordered list of checks to seed.
type Catalogue []domain.CreateCheckParams

type catalogueFile struct {
	Stages []catalogueStage `yaml:"stages"`
}

type catalogueStage struct {
	Stage  string   `yaml:"stage"`
	Checks []string `yaml:"checks"`
}

// Parse reads a YAML catalogue. Sequence numbers follow document order within
// each stage, starting at 1.
func Parse(data []byte) (Catalogue, error) {
	var doc catalogueFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing check catalogue: %w", err)
	}

	seen := make(map[string]bool)
	out := make(Catalogue, 0, 32)
	for _, s := range doc.Stages {
		stage, err := domain.ParseStage(s.Stage)
		if err != nil {
			return nil, fmt.Errorf("invalid check catalogue: %w", err)
		}
		for i, name := range s.Checks {
			name = strings.TrimSpace(name)
			if name == "" {
				return nil, fmt.Errorf("invalid check catalogue: %s: empty check name", stage)
			}
			key := string(stage) + "/" + name
			if seen[key] {
				return nil, fmt.Errorf("invalid check catalogue: %s: duplicate check %q", stage, name)
			}
			seen[key] = true
			out = append(out, domain.CreateCheckParams{
				Stage:    stage,
				Name:     name,
				Sequence: i + 1,
			})
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("invalid check catalogue: no checks")
	}
	return out, nil
}

// Load reads a YAML catalogue from fsys.
func Load(fsys fs.FS, path string) (Catalogue, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("reading check catalogue: %w", err)
	}
	return Parse(data)
}

// Default returns the embedded catalogue.
func Default() Catalogue {
	c, err := Parse(defaultCatalogueYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded check catalogue: %v", err))
	}
	return c
}

// Apply upserts every check in the catalogue. It is safe to run repeatedly.
func Apply(ctx context.Context, store CheckSeeder, catalogue Catalogue, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	for i, params := range catalogue {
		if _, err := store.UpsertCheck(ctx, params); err != nil {
			return i, fmt.Errorf("seed check %s/%q: %w", params.Stage, params.Name, err)
		}
	}

	logger.Info("check catalogue seeded", "checks", len(catalogue))
	return len(catalogue), nil
}
