// Package catalogtest provides a small desktop PC catalog for tests.
package catalogtest

import "github.com/techcortex/buildcheck/internal/domain"

// Category ids.
const (
	CPU     = "cat-cpu"
	Board   = "cat-mb"
	Memory  = "cat-ram"
	GPU     = "cat-gpu"
	PSU     = "cat-psu"
	Storage = "cat-storage"
	NVMe    = "cat-nvme"
	Case    = "cat-case"
	Cooler  = "cat-cooler"
)

// Part ids.
const (
	CPUAM5       = "cpu-7800x3d"
	CPUAM4       = "cpu-5600x"
	BoardAM5     = "mb-b650"
	BoardAM4     = "mb-b550"
	RAMDDR5      = "ram-ddr5-16"
	RAMDDR5B     = "ram-ddr5-16b"
	RAMDDR4      = "ram-ddr4-16"
	GPU8Pin      = "gpu-4070"
	GPU6Pin      = "gpu-3050"
	PSU500       = "psu-500"
	PSU450       = "psu-450"
	PSU750       = "psu-750"
	SSD          = "ssd-990"
	CaseATX      = "case-atx"
	CaseITX      = "case-itx"
	CoolerTower  = "cooler-tower"
	CPUNoSocket  = "cpu-engineering-sample"
	BoardNoValue = "mb-unknown"
)

func ptr[T any](v T) *T { return &v }

// Catalog returns a fresh copy of the fixture catalog.
func Catalog() *domain.CatalogData {
	return &domain.CatalogData{
		Categories: []domain.Category{
			{ID: CPU, Name: "Processor", Slug: "processor"},
			{ID: Board, Name: "Motherboard", Slug: "motherboard"},
			{ID: Memory, Name: "Memory", Slug: "memory"},
			{ID: GPU, Name: "Graphics Card", Slug: "graphics-card"},
			{ID: PSU, Name: "Power Supply", Slug: "power-supply"},
			{ID: Storage, Name: "Storage", Slug: "storage"},
			{ID: NVMe, Name: "NVMe SSD", Slug: "nvme-ssd", IsSubcategory: true, ParentID: ptr(Storage)},
			{ID: Case, Name: "Case", Slug: "case"},
			{ID: Cooler, Name: "CPU Cooler", Slug: "cooling"},
		},
		Templates: []domain.AttributeTemplate{
			{ID: "tpl-cpu-socket", CategoryID: CPU, Name: "socket", DisplayName: "Socket", DataKind: domain.KindSocket, EnumValues: []string{"AM4", "AM5", "LGA1700"}, IsCompatibilityKey: true, IsRequired: true},
			{ID: "tpl-cpu-tdp", CategoryID: CPU, Name: "tdp", DisplayName: "TDP", DataKind: domain.KindNumber},
			{ID: "tpl-mb-socket", CategoryID: Board, Name: "socket", DisplayName: "Socket", DataKind: domain.KindSocket, EnumValues: []string{"AM4", "AM5", "LGA1700"}, IsCompatibilityKey: true, IsRequired: true},
			{ID: "tpl-mb-memory", CategoryID: Board, Name: "memory_type", DisplayName: "Memory Type", DataKind: domain.KindMemoryType, EnumValues: []string{"DDR4", "DDR5"}, IsCompatibilityKey: true},
			{ID: "tpl-mb-form", CategoryID: Board, Name: "form_factor", DisplayName: "Form Factor", DataKind: domain.KindEnum, EnumValues: []string{"ATX", "Micro-ATX", "Mini-ITX"}, IsCompatibilityKey: true},
			{ID: "tpl-ram-type", CategoryID: Memory, Name: "memory_type", DisplayName: "Memory Type", DataKind: domain.KindMemoryType, EnumValues: []string{"DDR4", "DDR5"}, IsCompatibilityKey: true},
			{ID: "tpl-gpu-psu", CategoryID: GPU, Name: "recommended_psu_power", DisplayName: "Recommended PSU", DataKind: domain.KindNumber, IsCompatibilityKey: true},
			{ID: "tpl-gpu-connector", CategoryID: GPU, Name: "power_connector", DisplayName: "Power Connector", DataKind: domain.KindPowerConnector, EnumValues: []string{"6-pin", "8-pin", "12VHPWR"}, IsCompatibilityKey: true},
			{ID: "tpl-psu-wattage", CategoryID: PSU, Name: "wattage", DisplayName: "Wattage", DataKind: domain.KindNumber, IsCompatibilityKey: true},
			{ID: "tpl-psu-connectors", CategoryID: PSU, Name: "connectors", DisplayName: "Connectors", DataKind: domain.KindPowerConnector, EnumValues: []string{"6-pin", "8-pin", "24-pin", "12VHPWR"}, IsCompatibilityKey: true},
			{ID: "tpl-case-forms", CategoryID: Case, Name: "supported_form_factors", DisplayName: "Supported Form Factors", DataKind: domain.KindText, IsCompatibilityKey: true},
			{ID: "tpl-nvme-interface", CategoryID: NVMe, Name: "interface", DisplayName: "Interface", DataKind: domain.KindText},
		},
		Parts: []domain.Part{
			{ID: CPUAM5, CategoryID: CPU, Name: "Ryzen 7 7800X3D", Price: 449, InStock: true, Attributes: map[string]any{"tpl-cpu-socket": "AM5", "tdp": 120.0}},
			{ID: CPUAM4, CategoryID: CPU, Name: "Ryzen 5 5600X", Price: 159, InStock: true, Attributes: map[string]any{"socket": "AM4", "tdp": 65.0}},
			{ID: CPUNoSocket, CategoryID: CPU, Name: "Engineering Sample", Price: 0, InStock: false, Attributes: map[string]any{}},
			{ID: BoardAM5, CategoryID: Board, Name: "B650 Tomahawk", Price: 219, InStock: true, Attributes: map[string]any{"socket": "AM5", "memory_type": "DDR5", "form_factor": "ATX"}},
			{ID: BoardAM4, CategoryID: Board, Name: "B550 Mortar", Price: 129, InStock: true, Attributes: map[string]any{"socket": "am4 ", "memory_type": "DDR4", "form_factor": "Micro-ATX"}},
			{ID: BoardNoValue, CategoryID: Board, Name: "Unlabelled Board", Price: 99, InStock: true, Attributes: map[string]any{"socket": ""}},
			{ID: RAMDDR5, CategoryID: Memory, Name: "DDR5-6000 16GB", Price: 59, InStock: true, Attributes: map[string]any{"memory_type": "DDR5"}},
			{ID: RAMDDR5B, CategoryID: Memory, Name: "DDR5-6000 16GB", Price: 59, InStock: true, Attributes: map[string]any{"memory_type": "DDR5"}},
			{ID: RAMDDR4, CategoryID: Memory, Name: "DDR4-3200 16GB", Price: 39, InStock: true, Attributes: map[string]any{"memory_type": "DDR4"}},
			{ID: GPU8Pin, CategoryID: GPU, Name: "RTX 4070", Price: 549, InStock: true, Attributes: map[string]any{"recommended_psu_power": 500.0, "power_connector": "8-pin", "power_draw": 200.0}},
			{ID: GPU6Pin, CategoryID: GPU, Name: "RTX 3050", Price: 179, InStock: false, Attributes: map[string]any{"recommended_psu_power": 300.0, "power_connector": "6-pin", "power_draw": -5.0}},
			{ID: PSU500, CategoryID: PSU, Name: "500W Bronze", Price: 49, InStock: true, Attributes: map[string]any{"wattage": 500.0, "connectors": []any{"8-pin", "24-pin"}}},
			{ID: PSU450, CategoryID: PSU, Name: "450W Bronze", Price: 39, InStock: true, Attributes: map[string]any{"wattage": "450", "connectors": []any{"8-pin", "24-pin"}}},
			{ID: PSU750, CategoryID: PSU, Name: "750W Gold", Price: 99, InStock: true, Attributes: map[string]any{"wattage": 750.0, "connectors": []any{"6-pin", "8-pin", "24-pin", "12VHPWR"}}},
			{ID: SSD, CategoryID: NVMe, Name: "990 Pro 2TB", Price: 169, InStock: true, Attributes: map[string]any{"interface": "PCIe 4.0"}},
			{ID: CaseATX, CategoryID: Case, Name: "Mid Tower", Price: 89, InStock: true, Attributes: map[string]any{"supported_form_factors": "ATX, Micro-ATX, Mini-ITX"}},
			{ID: CaseITX, CategoryID: Case, Name: "SFF Box", Price: 109, InStock: true, Attributes: map[string]any{"supported_form_factors": "Mini-ITX"}},
			{ID: CoolerTower, CategoryID: Cooler, Name: "Tower Cooler", Price: 35, InStock: true, Attributes: map[string]any{}},
		},
		Rules: []domain.CompatibilityRule{
			{ID: "rule-01-socket", Name: "CPU socket", PrimaryCategoryID: CPU, PrimaryAttributeID: "tpl-cpu-socket", SecondaryCategoryID: Board, SecondaryAttributeID: "tpl-mb-socket", RuleType: domain.RuleExactMatch},
			{ID: "rule-02-memory", Name: "Memory type", PrimaryCategoryID: Board, PrimaryAttributeID: "tpl-mb-memory", SecondaryCategoryID: Memory, SecondaryAttributeID: "tpl-ram-type", RuleType: domain.RuleExactMatch},
			{ID: "rule-03-psu-wattage", Name: "PSU wattage", PrimaryCategoryID: GPU, PrimaryAttributeID: "tpl-gpu-psu", SecondaryCategoryID: PSU, SecondaryAttributeID: "tpl-psu-wattage", RuleType: domain.RuleRangeCheck, MinValue: ptr(550.0)},
			{ID: "rule-04-connector", Name: "GPU power connector", PrimaryCategoryID: PSU, PrimaryAttributeID: "tpl-psu-connectors", SecondaryCategoryID: GPU, SecondaryAttributeID: "tpl-gpu-connector", RuleType: domain.RuleCompatibleValues, CompatibleValues: []string{"8-pin", "24-pin"}},
			{ID: "rule-05-form-factor", Name: "Case form factor", PrimaryCategoryID: Board, PrimaryAttributeID: "tpl-mb-form", SecondaryCategoryID: Case, SecondaryAttributeID: "tpl-case-forms", RuleType: domain.RuleCustom, CustomCheckRef: "form_factor_fits"},
		},
	}
}

// Rule returns a pointer to the fixture rule with the given id, or nil.
func Rule(data *domain.CatalogData, id string) *domain.CompatibilityRule {
	for i := range data.Rules {
		if data.Rules[i].ID == id {
			return &data.Rules[i]
		}
	}
	return nil
}

// Part returns the fixture part with the given id, or nil.
func Part(data *domain.CatalogData, id string) *domain.Part {
	for i := range data.Parts {
		if data.Parts[i].ID == id {
			return &data.Parts[i]
		}
	}
	return nil
}
