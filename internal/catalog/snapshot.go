// Package catalog provides the read-only catalog snapshot the engine
// evaluates against: the attribute schema registry, the category hierarchy
// resolver and the rule store view.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/techcortex/buildcheck/internal/domain"
)

// Options tunes how a snapshot interprets the catalog.
type Options struct {
	// MultiSelect lists the parent slugs whose slots accept several parts.
	MultiSelect []string
}

// DefaultOptions mirrors domain.DefaultEngineConfig.
func DefaultOptions() Options {
	return Options{MultiSelect: domain.DefaultEngineConfig().MultiSelectCategories}
}

// RuleBinding is a rule applicable to a category pair. When Swapped is set,
// the pair was given as (secondary, primary) and the caller must swap the
// parts before evaluating.
type RuleBinding struct {
	Rule    *domain.CompatibilityRule
	Swapped bool

	// Err is the configuration error detected at load time, if any.
	Err error
}

// Snapshot is an immutable, indexed view of one catalog fetch.
// It is safe for concurrent readers.
type Snapshot struct {
	categories []domain.Category
	byID       map[string]*domain.Category
	bySlug     map[string]*domain.Category

	templates           map[string]*domain.AttributeTemplate
	templatesByCategory map[string][]domain.AttributeTemplate

	parts map[string]*domain.Part

	rules       []domain.CompatibilityRule
	rulesByPair map[string][]int
	ruleErrs    map[string]error
	unbound     []int

	multiSelect map[string]bool
	problems    []error
}

// New indexes catalog data. Structural violations of the category tree are
// returned as errors; per-template and per-rule misconfigurations are
// recorded as problems and surfaced during evaluation instead.
func New(data *domain.CatalogData, opts Options) (*Snapshot, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: catalog data is required", domain.ErrInvalidInput)
	}

	s := &Snapshot{
		byID:                make(map[string]*domain.Category, len(data.Categories)),
		bySlug:              make(map[string]*domain.Category, len(data.Categories)),
		templates:           make(map[string]*domain.AttributeTemplate, len(data.Templates)),
		templatesByCategory: make(map[string][]domain.AttributeTemplate),
		parts:               make(map[string]*domain.Part, len(data.Parts)),
		rulesByPair:         make(map[string][]int),
		ruleErrs:            make(map[string]error),
		multiSelect:         make(map[string]bool, len(opts.MultiSelect)),
	}
	for _, slug := range opts.MultiSelect {
		s.multiSelect[slug] = true
	}

	if err := s.indexCategories(data.Categories); err != nil {
		return nil, err
	}
	s.indexTemplates(data.Templates)
	s.indexParts(data.Parts)
	s.indexRules(data.Rules)

	return s, nil
}

func (s *Snapshot) indexCategories(categories []domain.Category) error {
	s.categories = make([]domain.Category, len(categories))
	copy(s.categories, categories)

	for i := range s.categories {
		c := &s.categories[i]
		if c.ID == "" || c.Slug == "" {
			return fmt.Errorf("%w: category %q must have an id and a slug", domain.ErrInvalidInput, c.Name)
		}
		if _, dup := s.byID[c.ID]; dup {
			return fmt.Errorf("%w: duplicate category id %q", domain.ErrInvalidInput, c.ID)
		}
		if _, dup := s.bySlug[c.Slug]; dup {
			return fmt.Errorf("%w: duplicate category slug %q", domain.ErrInvalidInput, c.Slug)
		}
		s.byID[c.ID] = c
		s.bySlug[c.Slug] = c
	}

	// One level of nesting only.
	for i := range s.categories {
		c := &s.categories[i]
		if !c.IsSubcategory {
			continue
		}
		if c.ParentID == nil {
			return fmt.Errorf("%w: subcategory %q has no parent", domain.ErrInvalidInput, c.Slug)
		}
		parent, ok := s.byID[*c.ParentID]
		if !ok {
			return fmt.Errorf("%w: subcategory %q references unknown parent %q", domain.ErrInvalidInput, c.Slug, *c.ParentID)
		}
		if parent.IsSubcategory {
			return fmt.Errorf("%w: subcategory %q is nested under subcategory %q", domain.ErrInvalidInput, c.Slug, parent.Slug)
		}
	}
	return nil
}

func (s *Snapshot) indexTemplates(templates []domain.AttributeTemplate) {
	for i := range templates {
		t := templates[i]
		if _, ok := s.byID[t.CategoryID]; !ok {
			s.problems = append(s.problems, &domain.ConfigurationError{
				Subject: "template " + t.ID,
				Reason:  fmt.Sprintf("unknown category %q", t.CategoryID),
			})
			continue
		}
		if err := t.Check(); err != nil {
			s.problems = append(s.problems, err)
		}
		s.templates[t.ID] = &t
		s.templatesByCategory[t.CategoryID] = append(s.templatesByCategory[t.CategoryID], t)
	}
}

func (s *Snapshot) indexParts(parts []domain.Part) {
	for i := range parts {
		p := parts[i]
		if _, ok := s.byID[p.CategoryID]; !ok {
			s.problems = append(s.problems, fmt.Errorf("part %q: %w", p.ID, &domain.NotFoundError{Kind: "category", ID: p.CategoryID}))
			continue
		}
		s.parts[p.ID] = &p
	}
}

// indexRules keeps every rule. A rule with an unknown type or category is
// kept with its load error so evaluation can report it; one whose category
// is missing cannot match a pair and is listed as unbound instead.
func (s *Snapshot) indexRules(rules []domain.CompatibilityRule) {
	s.rules = make([]domain.CompatibilityRule, 0, len(rules))
	for _, r := range rules {
		ruleType, err := domain.ParseRuleType(string(r.RuleType))
		if err != nil {
			s.failRule(r.ID, &domain.ConfigurationError{Subject: "rule " + r.ID, Reason: err.Error()})
		} else {
			r.RuleType = ruleType
		}

		if !s.categoriesKnown(&r) {
			s.failRule(r.ID, &domain.ConfigurationError{
				Subject: "rule " + r.ID,
				Reason:  fmt.Sprintf("references unknown category (%s, %s)", r.PrimaryCategoryID, r.SecondaryCategoryID),
			})
		}
		s.rules = append(s.rules, r)
	}

	sort.SliceStable(s.rules, func(i, j int) bool { return s.rules[i].ID < s.rules[j].ID })

	for i := range s.rules {
		r := &s.rules[i]
		if !s.categoriesKnown(r) {
			s.unbound = append(s.unbound, i)
			continue
		}

		key := pairKey(r.PrimaryCategoryID, r.SecondaryCategoryID)
		s.rulesByPair[key] = append(s.rulesByPair[key], i)

		if _, failed := s.ruleErrs[r.ID]; failed {
			continue
		}
		if err := s.checkRule(r); err != nil {
			s.failRule(r.ID, err)
		}
	}
}

// failRule records the first load error of a rule.
func (s *Snapshot) failRule(id string, err error) {
	s.problems = append(s.problems, err)
	if _, ok := s.ruleErrs[id]; !ok {
		s.ruleErrs[id] = err
	}
}

func (s *Snapshot) categoriesKnown(r *domain.CompatibilityRule) bool {
	_, okPrimary := s.byID[r.PrimaryCategoryID]
	_, okSecondary := s.byID[r.SecondaryCategoryID]
	return okPrimary && okSecondary
}

// checkRule validates a rule against the schema registry.
func (s *Snapshot) checkRule(r *domain.CompatibilityRule) error {
	if err := r.CheckPayload(); err != nil {
		return err
	}
	if err := s.checkRuleAttribute(r, r.PrimaryCategoryID, r.PrimaryAttributeID); err != nil {
		return err
	}
	return s.checkRuleAttribute(r, r.SecondaryCategoryID, r.SecondaryAttributeID)
}

func (s *Snapshot) checkRuleAttribute(r *domain.CompatibilityRule, categoryID, templateID string) error {
	t, ok := s.templates[templateID]
	if !ok {
		return &domain.ConfigurationError{
			Subject: "rule " + r.ID,
			Reason:  fmt.Sprintf("references unknown attribute %q", templateID),
		}
	}
	if t.CategoryID != categoryID {
		return &domain.ConfigurationError{
			Subject: "rule " + r.ID,
			Reason:  fmt.Sprintf("attribute %q belongs to category %q, not %q", templateID, t.CategoryID, categoryID),
		}
	}
	if !t.IsCompatibilityKey {
		return &domain.ConfigurationError{
			Subject: "rule " + r.ID,
			Reason:  fmt.Sprintf("attribute %q is not a compatibility key", t.Name),
		}
	}
	if err := t.Check(); err != nil {
		return &domain.ConfigurationError{Subject: "rule " + r.ID, Reason: err.Error()}
	}
	return nil
}

func pairKey(primaryID, secondaryID string) string {
	return primaryID + "\x00" + secondaryID
}

// ---------------------------------------------------------------------------
// Category hierarchy
// ---------------------------------------------------------------------------

// Categories returns the category tree in declared order.
func (s *Snapshot) Categories() []domain.Category {
	out := make([]domain.Category, len(s.categories))
	copy(out, s.categories)
	return out
}

// Category looks a category up by id.
func (s *Snapshot) Category(id string) (*domain.Category, bool) {
	c, ok := s.byID[id]
	return c, ok
}

// CategoryBySlug looks a category up by slug.
func (s *Snapshot) CategoryBySlug(slug string) (*domain.Category, bool) {
	c, ok := s.bySlug[slug]
	return c, ok
}

// ResolveParent returns the top-level category for a slug.
func (s *Snapshot) ResolveParent(slug string) (*domain.Category, error) {
	c, ok := s.bySlug[slug]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "category", ID: slug}
	}
	return s.parentOf(c), nil
}

// ResolveParentSlug maps a subcategory slug to its parent's slug and
// returns any other slug unchanged.
func (s *Snapshot) ResolveParentSlug(slug string) (string, error) {
	parent, err := s.ResolveParent(slug)
	if err != nil {
		return "", err
	}
	return parent.Slug, nil
}

// ParentOfCategoryID resolves a category id to its top-level category.
func (s *Snapshot) ParentOfCategoryID(id string) (*domain.Category, bool) {
	c, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return s.parentOf(c), true
}

func (s *Snapshot) parentOf(c *domain.Category) *domain.Category {
	if c.IsSubcategory && c.ParentID != nil {
		if parent, ok := s.byID[*c.ParentID]; ok {
			return parent
		}
	}
	return c
}

// IsMultiSelect reports whether the slot for slug accepts an ordered list
// of parts.
func (s *Snapshot) IsMultiSelect(slug string) bool {
	parent, err := s.ResolveParentSlug(slug)
	if err != nil {
		return false
	}
	return s.multiSelect[parent]
}

// ---------------------------------------------------------------------------
// Attribute schema registry
// ---------------------------------------------------------------------------

// TemplatesFor returns the attribute templates of a category.
func (s *Snapshot) TemplatesFor(categoryID string) ([]domain.AttributeTemplate, error) {
	if _, ok := s.byID[categoryID]; !ok {
		return nil, &domain.NotFoundError{Kind: "category", ID: categoryID}
	}
	templates := s.templatesByCategory[categoryID]
	out := make([]domain.AttributeTemplate, len(templates))
	copy(out, templates)
	return out, nil
}

// CompatibilityKeyTemplatesFor returns only the templates that take part in
// rule evaluation.
func (s *Snapshot) CompatibilityKeyTemplatesFor(categoryID string) ([]domain.AttributeTemplate, error) {
	templates, err := s.TemplatesFor(categoryID)
	if err != nil {
		return nil, err
	}
	keys := templates[:0]
	for _, t := range templates {
		if t.IsCompatibilityKey {
			keys = append(keys, t)
		}
	}
	return keys, nil
}

// Template looks a template up by id.
func (s *Snapshot) Template(id string) (*domain.AttributeTemplate, bool) {
	t, ok := s.templates[id]
	return t, ok
}

// TemplateByName looks a template up by its internal name within a category.
func (s *Snapshot) TemplateByName(categoryID, name string) (*domain.AttributeTemplate, bool) {
	for i := range s.templatesByCategory[categoryID] {
		if s.templatesByCategory[categoryID][i].Name == name {
			return s.templates[s.templatesByCategory[categoryID][i].ID], true
		}
	}
	return nil, false
}

// AttributeValue returns a part's value for a template, looked up by
// template id first and internal name second. Nil and blank values count
// as missing.
func (s *Snapshot) AttributeValue(part *domain.Part, templateID string) (any, bool) {
	if part == nil || part.Attributes == nil {
		return nil, false
	}
	if v, ok := part.Attributes[templateID]; ok && present(v) {
		return v, true
	}
	if t, ok := s.templates[templateID]; ok {
		if v, ok := part.Attributes[t.Name]; ok && present(v) {
			return v, true
		}
	}
	return nil, false
}

// NamedValue returns a part's value for the attribute called name. The
// name is resolved to a template of the part's category, or of its parent,
// and read by template id first; a bare name key is the last resort.
func (s *Snapshot) NamedValue(part *domain.Part, name string) (any, bool) {
	if part == nil {
		return nil, false
	}
	categories := []string{part.CategoryID}
	if parent, ok := s.ParentOfCategoryID(part.CategoryID); ok && parent.ID != part.CategoryID {
		categories = append(categories, parent.ID)
	}
	for _, categoryID := range categories {
		if t, ok := s.TemplateByName(categoryID, name); ok {
			if v, ok := s.AttributeValue(part, t.ID); ok {
				return v, true
			}
		}
	}
	if v, ok := part.Attributes[name]; ok && present(v) {
		return v, true
	}
	return nil, false
}

func present(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(val) != ""
	case []any:
		return len(val) > 0
	case []string:
		return len(val) > 0
	}
	return true
}

// ---------------------------------------------------------------------------
// Parts and rules
// ---------------------------------------------------------------------------

// Part looks a part up by id.
func (s *Snapshot) Part(id string) (*domain.Part, bool) {
	p, ok := s.parts[id]
	return p, ok
}

// Rules returns every rule sorted by id, including those that failed to
// load; see RuleError.
func (s *Snapshot) Rules() []domain.CompatibilityRule {
	out := make([]domain.CompatibilityRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// RulesBetween returns every rule whose declared categories match the pair
// in either order. A rule declared between a category and itself is
// returned once, unswapped.
func (s *Snapshot) RulesBetween(categoryA, categoryB string) []RuleBinding {
	var bindings []RuleBinding
	for _, idx := range s.rulesByPair[pairKey(categoryA, categoryB)] {
		r := &s.rules[idx]
		bindings = append(bindings, RuleBinding{Rule: r, Err: s.ruleErrs[r.ID]})
	}
	if categoryA != categoryB {
		for _, idx := range s.rulesByPair[pairKey(categoryB, categoryA)] {
			r := &s.rules[idx]
			bindings = append(bindings, RuleBinding{Rule: r, Swapped: true, Err: s.ruleErrs[r.ID]})
		}
	}
	sort.SliceStable(bindings, func(i, j int) bool { return bindings[i].Rule.ID < bindings[j].Rule.ID })
	return bindings
}

// UnboundRules returns the rules that reference a category missing from
// the catalog. They never match a pair; each carries its load error.
func (s *Snapshot) UnboundRules() []RuleBinding {
	bindings := make([]RuleBinding, 0, len(s.unbound))
	for _, idx := range s.unbound {
		r := &s.rules[idx]
		bindings = append(bindings, RuleBinding{Rule: r, Err: s.ruleErrs[r.ID]})
	}
	return bindings
}

// RuleError returns the configuration error recorded for a rule.
func (s *Snapshot) RuleError(id string) error {
	return s.ruleErrs[id]
}

// Problems returns the configuration problems found while indexing.
func (s *Snapshot) Problems() []error {
	out := make([]error, len(s.problems))
	copy(out, s.problems)
	return out
}
