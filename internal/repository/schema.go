package repository

// Schema definitions for the buildcheck catalog store.
// Compatible with both SQLite and PostgreSQL.

const schemaCategories = `
CREATE TABLE IF NOT EXISTS categories (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    slug TEXT NOT NULL,
    is_subcategory INTEGER NOT NULL DEFAULT 0,
    parent_id TEXT,
    PRIMARY KEY (id, tenant_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_categories_slug ON categories(tenant_id, slug);
`

// schemaTemplates defines attribute templates. enum_values is a JSON array.
const schemaTemplates = `
CREATE TABLE IF NOT EXISTS attribute_templates (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    category_id TEXT NOT NULL,
    name TEXT NOT NULL,
    display_name TEXT,
    data_kind TEXT NOT NULL,
    enum_values TEXT,
    is_compatibility_key INTEGER NOT NULL DEFAULT 0,
    is_required INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_templates_category ON attribute_templates(tenant_id, category_id);
`

const schemaParts = `
CREATE TABLE IF NOT EXISTS parts (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    category_id TEXT NOT NULL,
    name TEXT NOT NULL,
    attributes TEXT NOT NULL,
    price REAL NOT NULL DEFAULT 0,
    in_stock INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_parts_category ON parts(tenant_id, category_id);
`

const schemaRules = `
CREATE TABLE IF NOT EXISTS compatibility_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    primary_category_id TEXT NOT NULL,
    primary_attribute_id TEXT NOT NULL,
    secondary_category_id TEXT NOT NULL,
    secondary_attribute_id TEXT NOT NULL,
    rule_type TEXT NOT NULL,
    compatible_values TEXT,
    min_value REAL,
    max_value REAL,
    custom_check_ref TEXT,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_rules_primary ON compatibility_rules(tenant_id, primary_category_id);
CREATE INDEX IF NOT EXISTS idx_rules_secondary ON compatibility_rules(tenant_id, secondary_category_id);
`

// schemaValidations stores one row per delivered validation run.
const schemaValidations = `
CREATE TABLE IF NOT EXISTS validations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    build_id TEXT,
    status TEXT NOT NULL,
    stage TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    selection TEXT NOT NULL,
    result TEXT NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_validations_tenant ON validations(tenant_id);
CREATE INDEX IF NOT EXISTS idx_validations_build ON validations(tenant_id, build_id);
CREATE INDEX IF NOT EXISTS idx_validations_status ON validations(tenant_id, status);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCategories,
		schemaTemplates,
		schemaParts,
		schemaRules,
		schemaValidations,
	}
}
