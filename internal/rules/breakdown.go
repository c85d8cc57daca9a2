package rules

import (
	"strings"

	"github.com/techcortex/buildcheck/internal/domain"
)

// CategoryFindings groups the findings that mention one category.
type CategoryFindings struct {
	CategoryID string           `json:"categoryId"`
	Slug       string           `json:"slug"`
	Name       string           `json:"name"`
	Issues     []domain.Finding `json:"issues,omitempty"`
	Warnings   []domain.Finding `json:"warnings,omitempty"`
}

// CategoryBreakdown associates findings with categories by matching the
// finding labels against category names and slugs. The association is
// loose: a finding appears under every category either label matches.
// Only categories with at least one finding are returned, in the order
// given.
func CategoryBreakdown(result domain.ValidationResult, categories []domain.Category) []CategoryFindings {
	var breakdown []CategoryFindings

	for _, c := range categories {
		entry := CategoryFindings{CategoryID: c.ID, Slug: c.Slug, Name: c.Name}
		for _, f := range result.Findings() {
			if !mentions(f, c) {
				continue
			}
			if f.Severity == domain.SeverityError {
				entry.Issues = append(entry.Issues, f)
			} else {
				entry.Warnings = append(entry.Warnings, f)
			}
		}
		if len(entry.Issues)+len(entry.Warnings) > 0 {
			breakdown = append(breakdown, entry)
		}
	}
	return breakdown
}

func mentions(f domain.Finding, c domain.Category) bool {
	name := strings.ToLower(strings.TrimSpace(c.Name))
	slug := strings.ToLower(c.Slug)
	spaced := strings.ReplaceAll(slug, "-", " ")

	for _, label := range []string{f.PrimaryLabel, f.SecondaryLabel} {
		l := strings.ToLower(strings.TrimSpace(label))
		if l == "" {
			continue
		}
		if l == name || l == slug || l == spaced {
			return true
		}
		if name != "" && strings.Contains(l, name) {
			return true
		}
	}
	return false
}
