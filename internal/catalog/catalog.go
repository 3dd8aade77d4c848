// Package catalog resolves template identifiers to source repositories.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/splax/templatehub/internal/domain"
)

// ErrNotFound is returned for unknown template identifiers.
var ErrNotFound = fmt.Errorf("template %w", domain.ErrNotFound)

// Catalog looks up templates by id.
type Catalog interface {
	Get(ctx context.Context, id string) (domain.Template, error)
	List(ctx context.Context) ([]domain.Template, error)
}

type document struct {
	Templates []domain.Template `yaml:"templates"`
}

// Static is an immutable in-memory catalog.
type Static struct {
	templates map[string]domain.Template
}

var _ Catalog = (*Static)(nil)

// NewStatic validates templates and indexes them by id.
func NewStatic(templates []domain.Template) (*Static, error) {
	index := make(map[string]domain.Template, len(templates))
	for i, tpl := range templates {
		tpl.ID = strings.TrimSpace(tpl.ID)
		if tpl.ID == "" {
			return nil, fmt.Errorf("template %d: id is required", i)
		}
		if _, _, err := tpl.SourceRepo(); err != nil {
			return nil, fmt.Errorf("template %s: %w", tpl.ID, err)
		}
		if _, dup := index[tpl.ID]; dup {
			return nil, fmt.Errorf("template %s: duplicate id", tpl.ID)
		}
		if tpl.Name == "" {
			tpl.Name = tpl.ID
		}
		index[tpl.ID] = tpl
	}
	return &Static{templates: index}, nil
}

// LoadFile reads a YAML catalog of the form
//
//	templates:
//	  - id: portfolio
//	    name: Developer Portfolio
//	    repo_url: https://github.com/acme/portfolio-template
//	    tech_stack: nextjs
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if len(doc.Templates) == 0 {
		return nil, errors.New("catalog has no templates")
	}
	return NewStatic(doc.Templates)
}

// Get returns the template with the given id.
func (s *Static) Get(_ context.Context, id string) (domain.Template, error) {
	tpl, ok := s.templates[strings.TrimSpace(id)]
	if !ok {
		return domain.Template{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return tpl, nil
}

// List returns all templates ordered by id.
func (s *Static) List(_ context.Context) ([]domain.Template, error) {
	out := make([]domain.Template, 0, len(s.templates))
	for _, tpl := range s.templates {
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
