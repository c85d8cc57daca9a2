// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/techcortex/buildcheck/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	return nil
}

// SaveCategory upserts a category.
func (r *SQLRepository) SaveCategory(ctx context.Context, tenantID string, c *domain.Category) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	var parent sql.NullString
	if c.ParentID != nil {
		parent = sql.NullString{String: *c.ParentID, Valid: true}
	}

	query := `
		INSERT INTO categories (id, tenant_id, name, slug, is_subcategory, parent_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			slug = excluded.slug,
			is_subcategory = excluded.is_subcategory,
			parent_id = excluded.parent_id
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.ID, tenantID, c.Name, c.Slug, boolInt(c.IsSubcategory), parent,
	)
	if err != nil {
		return fmt.Errorf("failed to save category %s: %w", c.ID, err)
	}
	return nil
}

// ListCategories returns the tenant's category tree ordered by id.
func (r *SQLRepository) ListCategories(ctx context.Context, tenantID string) ([]domain.Category, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, name, slug, is_subcategory, parent_id
		FROM categories
		WHERE tenant_id = ?
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []domain.Category
	for rows.Next() {
		var c domain.Category
		var sub int
		var parent sql.NullString

		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &sub, &parent); err != nil {
			return nil, err
		}
		c.IsSubcategory = sub == 1
		if parent.Valid {
			p := parent.String
			c.ParentID = &p
		}
		categories = append(categories, c)
	}

	return categories, rows.Err()
}

// SaveTemplate upserts an attribute template.
func (r *SQLRepository) SaveTemplate(ctx context.Context, tenantID string, t *domain.AttributeTemplate) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	enumValues, err := json.Marshal(t.EnumValues)
	if err != nil {
		return fmt.Errorf("failed to encode enum values: %w", err)
	}

	query := `
		INSERT INTO attribute_templates (
			id, tenant_id, category_id, name, display_name, data_kind,
			enum_values, is_compatibility_key, is_required
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			category_id = excluded.category_id,
			name = excluded.name,
			display_name = excluded.display_name,
			data_kind = excluded.data_kind,
			enum_values = excluded.enum_values,
			is_compatibility_key = excluded.is_compatibility_key,
			is_required = excluded.is_required
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		t.ID, tenantID, t.CategoryID, t.Name, t.DisplayName, string(t.DataKind),
		string(enumValues), boolInt(t.IsCompatibilityKey), boolInt(t.IsRequired),
	)
	if err != nil {
		return fmt.Errorf("failed to save template %s: %w", t.ID, err)
	}
	return nil
}

// ListTemplates returns every attribute template of the tenant.
func (r *SQLRepository) ListTemplates(ctx context.Context, tenantID string) ([]domain.AttributeTemplate, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, category_id, name, display_name, data_kind,
			   enum_values, is_compatibility_key, is_required
		FROM attribute_templates
		WHERE tenant_id = ?
		ORDER BY category_id, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []domain.AttributeTemplate
	for rows.Next() {
		var t domain.AttributeTemplate
		var display, enumValues sql.NullString
		var kind string
		var key, required int

		if err := rows.Scan(
			&t.ID, &t.CategoryID, &t.Name, &display, &kind,
			&enumValues, &key, &required,
		); err != nil {
			return nil, err
		}

		t.DisplayName = display.String
		t.DataKind = domain.DataKind(kind)
		t.IsCompatibilityKey = key == 1
		t.IsRequired = required == 1
		if enumValues.Valid && enumValues.String != "" {
			if err := json.Unmarshal([]byte(enumValues.String), &t.EnumValues); err != nil {
				return nil, fmt.Errorf("failed to parse enum values for %s: %w", t.ID, err)
			}
		}
		templates = append(templates, t)
	}

	return templates, rows.Err()
}

// SavePart upserts a part. Attributes are stored as a JSON object.
func (r *SQLRepository) SavePart(ctx context.Context, tenantID string, p *domain.Part) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	attributes := p.Attributes
	if attributes == nil {
		attributes = map[string]any{}
	}
	encoded, err := json.Marshal(attributes)
	if err != nil {
		return fmt.Errorf("failed to encode attributes for part %s: %w", p.ID, err)
	}

	query := `
		INSERT INTO parts (id, tenant_id, category_id, name, attributes, price, in_stock)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			category_id = excluded.category_id,
			name = excluded.name,
			attributes = excluded.attributes,
			price = excluded.price,
			in_stock = excluded.in_stock
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		p.ID, tenantID, p.CategoryID, p.Name, string(encoded), p.Price, boolInt(p.InStock),
	)
	if err != nil {
		return fmt.Errorf("failed to save part %s: %w", p.ID, err)
	}
	return nil
}

// GetParts fetches the given parts. Unknown ids are skipped; callers
// compare the result against what they asked for.
func (r *SQLRepository) GetParts(ctx context.Context, tenantID string, partIDs []string) ([]domain.Part, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if len(partIDs) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(partIDs)+1)
	args = append(args, tenantID)
	for _, id := range partIDs {
		args = append(args, id)
	}

	query := `
		SELECT id, category_id, name, attributes, price, in_stock
		FROM parts
		WHERE tenant_id = ? AND id IN (` + placeholders(len(partIDs)) + `)
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parts []domain.Part
	for rows.Next() {
		var p domain.Part
		var attributes string
		var inStock int

		if err := rows.Scan(&p.ID, &p.CategoryID, &p.Name, &attributes, &p.Price, &inStock); err != nil {
			return nil, err
		}
		p.InStock = inStock == 1
		if err := json.Unmarshal([]byte(attributes), &p.Attributes); err != nil {
			return nil, fmt.Errorf("failed to parse attributes for part %s: %w", p.ID, err)
		}
		parts = append(parts, p)
	}

	return parts, rows.Err()
}

// SaveRule upserts a compatibility rule.
func (r *SQLRepository) SaveRule(ctx context.Context, tenantID string, rule *domain.CompatibilityRule) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	var values sql.NullString
	if len(rule.CompatibleValues) > 0 {
		encoded, err := json.Marshal(rule.CompatibleValues)
		if err != nil {
			return fmt.Errorf("failed to encode compatible values: %w", err)
		}
		values = sql.NullString{String: string(encoded), Valid: true}
	}

	query := `
		INSERT INTO compatibility_rules (
			id, tenant_id, name, description,
			primary_category_id, primary_attribute_id,
			secondary_category_id, secondary_attribute_id,
			rule_type, compatible_values, min_value, max_value, custom_check_ref, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			primary_category_id = excluded.primary_category_id,
			primary_attribute_id = excluded.primary_attribute_id,
			secondary_category_id = excluded.secondary_category_id,
			secondary_attribute_id = excluded.secondary_attribute_id,
			rule_type = excluded.rule_type,
			compatible_values = excluded.compatible_values,
			min_value = excluded.min_value,
			max_value = excluded.max_value,
			custom_check_ref = excluded.custom_check_ref,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.PrimaryCategoryID, rule.PrimaryAttributeID,
		rule.SecondaryCategoryID, rule.SecondaryAttributeID,
		string(rule.RuleType), values,
		nullFloat(rule.MinValue), nullFloat(rule.MaxValue),
		rule.CustomCheckRef, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save rule %s: %w", rule.ID, err)
	}
	return nil
}

const ruleColumns = `
	id, name, description,
	primary_category_id, primary_attribute_id,
	secondary_category_id, secondary_attribute_id,
	rule_type, compatible_values, min_value, max_value, custom_check_ref
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.CompatibilityRule, error) {
	var rule domain.CompatibilityRule
	var description, values, customRef sql.NullString
	var ruleType string
	var minValue, maxValue sql.NullFloat64

	if err := row.Scan(
		&rule.ID, &rule.Name, &description,
		&rule.PrimaryCategoryID, &rule.PrimaryAttributeID,
		&rule.SecondaryCategoryID, &rule.SecondaryAttributeID,
		&ruleType, &values, &minValue, &maxValue, &customRef,
	); err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.RuleType = domain.RuleType(ruleType)
	rule.CustomCheckRef = customRef.String
	if minValue.Valid {
		v := minValue.Float64
		rule.MinValue = &v
	}
	if maxValue.Valid {
		v := maxValue.Float64
		rule.MaxValue = &v
	}
	if values.Valid && values.String != "" {
		if err := json.Unmarshal([]byte(values.String), &rule.CompatibleValues); err != nil {
			return nil, fmt.Errorf("failed to parse compatible values for rule %s: %w", rule.ID, err)
		}
	}
	return &rule, nil
}

// GetRule retrieves a rule by id with tenant isolation.
func (r *SQLRepository) GetRule(ctx context.Context, tenantID string, ruleID string) (*domain.CompatibilityRule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + ruleColumns + ` FROM compatibility_rules WHERE tenant_id = ? AND id = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "rule", ID: ruleID}
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRules returns every rule of the tenant ordered by id.
func (r *SQLRepository) ListRules(ctx context.Context, tenantID string) ([]domain.CompatibilityRule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + ruleColumns + ` FROM compatibility_rules WHERE tenant_id = ? ORDER BY id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.CompatibilityRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}

	return rules, rows.Err()
}

// SaveValidation stores a validation result with tenant isolation.
func (r *SQLRepository) SaveValidation(ctx context.Context, tenantID string, v *domain.Validation) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	selection, err := json.Marshal(v.Selection)
	if err != nil {
		return fmt.Errorf("failed to encode selection: %w", err)
	}
	result, err := json.Marshal(v.Result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	metadata, err := json.Marshal(v.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		INSERT INTO validations (
			id, tenant_id, build_id, status, stage, timestamp,
			selection, result, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		v.ID, tenantID, v.BuildID, string(v.Result.Status), string(v.Result.Stage), v.Timestamp.UTC(),
		string(selection), string(result), string(metadata),
	)
	if err != nil {
		return fmt.Errorf("failed to save validation %s: %w", v.ID, err)
	}
	return nil
}

// GetValidation retrieves a validation by id with tenant isolation.
func (r *SQLRepository) GetValidation(ctx context.Context, tenantID string, validationID string) (*domain.Validation, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, build_id, timestamp, selection, result, metadata
		FROM validations
		WHERE tenant_id = ? AND id = ?
	`

	var v domain.Validation
	var buildID sql.NullString
	var selection, result, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, validationID).Scan(
		&v.ID, &v.TenantID, &buildID, &v.Timestamp, &selection, &result, &metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "validation", ID: validationID}
	}
	if err != nil {
		return nil, err
	}

	v.BuildID = buildID.String
	if err := json.Unmarshal([]byte(selection), &v.Selection); err != nil {
		return nil, fmt.Errorf("failed to parse selection: %w", err)
	}
	if err := json.Unmarshal([]byte(result), &v.Result); err != nil {
		return nil, fmt.Errorf("failed to parse result: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &v.Metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	return &v, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
