package catalogtest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/techcortex/buildcheck/internal/domain"
)

// Repository is an in-memory domain.Repository seeded from catalog data.
// It ignores tenants and counts schema reads.
type Repository struct {
	mu          sync.Mutex
	data        domain.CatalogData
	validations map[string]*domain.Validation

	SchemaReads atomic.Int64
	PartReads   atomic.Int64
}

// NewRepository seeds a repository. data may be nil.
func NewRepository(data *domain.CatalogData) *Repository {
	r := &Repository{validations: make(map[string]*domain.Validation)}
	if data != nil {
		r.data = *data
	}
	return r
}

func (r *Repository) SaveCategory(ctx context.Context, tenantID string, category *domain.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.Categories = append(r.data.Categories, *category)
	return nil
}

func (r *Repository) ListCategories(ctx context.Context, tenantID string) ([]domain.Category, error) {
	r.SchemaReads.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Category(nil), r.data.Categories...), nil
}

func (r *Repository) SaveTemplate(ctx context.Context, tenantID string, template *domain.AttributeTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.Templates = append(r.data.Templates, *template)
	return nil
}

func (r *Repository) ListTemplates(ctx context.Context, tenantID string) ([]domain.AttributeTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AttributeTemplate(nil), r.data.Templates...), nil
}

func (r *Repository) SavePart(ctx context.Context, tenantID string, part *domain.Part) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.Parts = append(r.data.Parts, *part)
	return nil
}

func (r *Repository) GetParts(ctx context.Context, tenantID string, partIDs []string) ([]domain.Part, error) {
	r.PartReads.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool, len(partIDs))
	for _, id := range partIDs {
		want[id] = true
	}
	var parts []domain.Part
	for _, p := range r.data.Parts {
		if want[p.ID] {
			parts = append(parts, p)
		}
	}
	return parts, nil
}

func (r *Repository) SaveRule(ctx context.Context, tenantID string, rule *domain.CompatibilityRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.data.Rules {
		if r.data.Rules[i].ID == rule.ID {
			r.data.Rules[i] = *rule
			return nil
		}
	}
	r.data.Rules = append(r.data.Rules, *rule)
	return nil
}

func (r *Repository) GetRule(ctx context.Context, tenantID string, ruleID string) (*domain.CompatibilityRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.data.Rules {
		if r.data.Rules[i].ID == ruleID {
			rule := r.data.Rules[i]
			return &rule, nil
		}
	}
	return nil, &domain.NotFoundError{Kind: "rule", ID: ruleID}
}

func (r *Repository) ListRules(ctx context.Context, tenantID string) ([]domain.CompatibilityRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.CompatibilityRule(nil), r.data.Rules...), nil
}

func (r *Repository) SaveValidation(ctx context.Context, tenantID string, validation *domain.Validation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := *validation
	r.validations[v.ID] = &v
	return nil
}

func (r *Repository) GetValidation(ctx context.Context, tenantID string, validationID string) (*domain.Validation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.validations[validationID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "validation", ID: validationID}
	}
	out := *v
	return &out, nil
}

// Validations returns every saved validation.
func (r *Repository) Validations() []domain.Validation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Validation, 0, len(r.validations))
	for _, v := range r.validations {
		out = append(out, *v)
	}
	return out
}

func (r *Repository) Ping(ctx context.Context) error { return nil }

func (r *Repository) Close() error { return nil }
