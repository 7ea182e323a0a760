package integrations

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gopkg.in/yaml.v3"

	"github.com/ManuelReschke/MockupSuite/app/models"
)

//go:embed catalog.yaml
var catalogYAML []byte

type CatalogEntry struct {
	Slug       string      `yaml:"slug"`
	Name       string      `yaml:"name"`
	Category   string      `yaml:"category"`
	Status     string      `yaml:"status"`
	Scopes     []string    `yaml:"scopes"`
	Operations []Operation `yaml:"operations"`
}

// Catalog is the static list of supported platforms.
type Catalog struct {
	Integrations []CatalogEntry `yaml:"integrations"`
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse integration catalog: %w", err)
	}
	seen := map[string]bool{}
	for _, e := range c.Integrations {
		if e.Slug == "" || e.Name == "" {
			return nil, fmt.Errorf("catalog entry without slug or name")
		}
		if seen[e.Slug] {
			return nil, fmt.Errorf("duplicate catalog slug %q", e.Slug)
		}
		seen[e.Slug] = true
		if e.Status != models.IntegrationStatusActive && e.Status != models.IntegrationStatusComingSoon {
			return nil, fmt.Errorf("catalog entry %s has invalid status %q", e.Slug, e.Status)
		}
		for _, op := range e.Operations {
			if !op.Valid() {
				return nil, fmt.Errorf("catalog entry %s lists unknown operation %q", e.Slug, op)
			}
		}
	}
	return &c, nil
}

// DefaultCatalog parses the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(catalogYAML)
}

func (c *Catalog) Entry(slug string) (CatalogEntry, bool) {
	for _, e := range c.Integrations {
		if e.Slug == slug {
			return e, true
		}
	}
	return CatalogEntry{}, false
}

func (c *Catalog) Supports(slug string, op Operation) bool {
	e, ok := c.Entry(slug)
	if !ok {
		return false
	}
	for _, o := range e.Operations {
		if o == op {
			return true
		}
	}
	return false
}

type IntegrationUpserter interface {
	Upsert(ctx context.Context, integration *models.Integration) error
}

// Seed writes the catalog into the integrations table.
func (c *Catalog) Seed(ctx context.Context, repo IntegrationUpserter) error {
	for _, e := range c.Integrations {
		row := &models.Integration{
			Slug:     e.Slug,
			Name:     e.Name,
			Category: e.Category,
			Status:   e.Status,
			Scopes:   strings.Join(e.Scopes, " "),
		}
		if err := repo.Upsert(ctx, row); err != nil {
			return fmt.Errorf("seed integration %s: %w", e.Slug, err)
		}
	}
	log.Infof("[Integrations] catalog seeded with %d platforms", len(c.Integrations))
	return nil
}
