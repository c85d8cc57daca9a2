package domain

import (
	"fmt"
)

// Category is a node of the part category tree.
// Subcategories (e.g. a specific drive type) point at a top-level parent.
type Category struct {
	ID            string  `json:"id" yaml:"id"`
	Name          string  `json:"name" yaml:"name"`
	Slug          string  `json:"slug" yaml:"slug"`
	IsSubcategory bool    `json:"isSubcategory" yaml:"isSubcategory"`
	ParentID      *string `json:"parentId,omitempty" yaml:"parentId,omitempty"`
}

// DataKind is the declared value kind of an attribute template.
type DataKind string

const (
	KindText           DataKind = "text"
	KindNumber         DataKind = "number"
	KindBoolean        DataKind = "boolean"
	KindEnum           DataKind = "enum"
	KindSocket         DataKind = "socket"
	KindMemoryType     DataKind = "memory_type"
	KindPowerConnector DataKind = "power_connector"
)

// IsEnumerated reports whether values of this kind come from a closed list.
func (k DataKind) IsEnumerated() bool {
	switch k {
	case KindEnum, KindSocket, KindMemoryType, KindPowerConnector:
		return true
	}
	return false
}

// ParseDataKind validates a stored data kind.
func ParseDataKind(s string) (DataKind, error) {
	switch k := DataKind(s); k {
	case KindText, KindNumber, KindBoolean, KindEnum, KindSocket, KindMemoryType, KindPowerConnector:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown data kind %q", ErrInvalidInput, s)
}

// AttributeTemplate declares a named attribute parts of a category may carry.
type AttributeTemplate struct {
	ID                 string   `json:"id" yaml:"id"`
	CategoryID         string   `json:"categoryId" yaml:"categoryId"`
	Name               string   `json:"name" yaml:"name"`
	DisplayName        string   `json:"displayName" yaml:"displayName"`
	DataKind           DataKind `json:"dataKind" yaml:"dataKind"`
	EnumValues         []string `json:"enumValues,omitempty" yaml:"enumValues,omitempty"`
	IsCompatibilityKey bool     `json:"isCompatibilityKey" yaml:"isCompatibilityKey"`
	IsRequired         bool     `json:"isRequired" yaml:"isRequired"`
}

// Label returns the human-facing name of the template.
func (t *AttributeTemplate) Label() string {
	if t.DisplayName != "" {
		return t.DisplayName
	}
	return t.Name
}

// Check enforces the enumerated-kind invariant.
func (t *AttributeTemplate) Check() error {
	if _, err := ParseDataKind(string(t.DataKind)); err != nil {
		return &ConfigurationError{Subject: "template " + t.ID, Reason: err.Error()}
	}
	if t.DataKind.IsEnumerated() && len(t.EnumValues) == 0 {
		return &ConfigurationError{
			Subject: "template " + t.ID,
			Reason:  fmt.Sprintf("data kind %s requires enum values", t.DataKind),
		}
	}
	return nil
}

// Part is a catalogued component with free-form attribute values.
// Price and InStock are carried through to results untouched.
type Part struct {
	ID         string         `json:"id" yaml:"id"`
	CategoryID string         `json:"categoryId" yaml:"categoryId"`
	Name       string         `json:"name" yaml:"name"`
	Attributes map[string]any `json:"attributes" yaml:"attributes"`
	Price      float64        `json:"price" yaml:"price"`
	InStock    bool           `json:"inStock" yaml:"inStock"`
}

// CatalogData is the raw snapshot exchanged with the store, the cache and
// catalog import files.
type CatalogData struct {
	Categories []Category          `json:"categories" yaml:"categories"`
	Templates  []AttributeTemplate `json:"templates" yaml:"templates"`
	Parts      []Part              `json:"parts,omitempty" yaml:"parts,omitempty"`
	Rules      []CompatibilityRule `json:"rules" yaml:"rules"`
}
