package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/techcortex/buildcheck/internal/domain"
)

// ReadFile parses a YAML catalog document.
//
//	categories: [...]
//	templates:  [...]
//	parts:      [...]
//	rules:      [...]
func ReadFile(path string) (*domain.CatalogData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var data domain.CatalogData
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file %s: %w", path, err)
	}
	return &data, nil
}

// ImportStats counts what Import wrote.
type ImportStats struct {
	Categories int
	Templates  int
	Parts      int
	Rules      int
}

// Import writes catalog data into the repository. The data is indexed
// first so a structurally broken tree is rejected before anything is
// written; rule and template problems are logged and imported anyway.
func Import(ctx context.Context, repo domain.Repository, tenantID string, data *domain.CatalogData, opts Options) (ImportStats, error) {
	var stats ImportStats

	snap, err := New(data, opts)
	if err != nil {
		return stats, err
	}
	for _, problem := range snap.Problems() {
		slog.Warn("catalog problem", "tenant_id", tenantID, "error", problem)
	}

	// Parents before children.
	ordered := make([]domain.Category, 0, len(data.Categories))
	for _, c := range data.Categories {
		if !c.IsSubcategory {
			ordered = append(ordered, c)
		}
	}
	for _, c := range data.Categories {
		if c.IsSubcategory {
			ordered = append(ordered, c)
		}
	}

	for i := range ordered {
		if err := repo.SaveCategory(ctx, tenantID, &ordered[i]); err != nil {
			return stats, fmt.Errorf("failed to save category %s: %w", ordered[i].ID, err)
		}
		stats.Categories++
	}
	for i := range data.Templates {
		if err := repo.SaveTemplate(ctx, tenantID, &data.Templates[i]); err != nil {
			return stats, fmt.Errorf("failed to save template %s: %w", data.Templates[i].ID, err)
		}
		stats.Templates++
	}
	for i := range data.Parts {
		if err := repo.SavePart(ctx, tenantID, &data.Parts[i]); err != nil {
			return stats, fmt.Errorf("failed to save part %s: %w", data.Parts[i].ID, err)
		}
		stats.Parts++
	}
	for i := range data.Rules {
		if err := repo.SaveRule(ctx, tenantID, &data.Rules[i]); err != nil {
			return stats, fmt.Errorf("failed to save rule %s: %w", data.Rules[i].ID, err)
		}
		stats.Rules++
	}

	slog.Info("catalog imported",
		"tenant_id", tenantID,
		"categories", stats.Categories,
		"templates", stats.Templates,
		"parts", stats.Parts,
		"rules", stats.Rules,
	)
	return stats, nil
}
