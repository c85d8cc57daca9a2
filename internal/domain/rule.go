package domain

import (
	"fmt"
	"strings"
)

// RuleType selects the evaluation strategy of a compatibility rule.
type RuleType string

const (
	RuleExactMatch       RuleType = "exact_match"
	RuleCompatibleValues RuleType = "compatible_values"
	RuleRangeCheck       RuleType = "range_check"
	RuleCustom           RuleType = "custom"
)

// ParseRuleType rejects unknown variants. Called when a snapshot is loaded
// so that evaluation never sees an unknown strategy.
func ParseRuleType(s string) (RuleType, error) {
	switch t := RuleType(strings.ToLower(strings.TrimSpace(s))); t {
	case RuleExactMatch, RuleCompatibleValues, RuleRangeCheck, RuleCustom:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown rule type %q", ErrInvalidInput, s)
}

// CompatibilityRule binds a primary category+attribute to a secondary
// category+attribute under one strategy.
type CompatibilityRule struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	PrimaryCategoryID    string `json:"primaryCategoryId" yaml:"primaryCategoryId"`
	PrimaryAttributeID   string `json:"primaryAttributeId" yaml:"primaryAttributeId"`
	SecondaryCategoryID  string `json:"secondaryCategoryId" yaml:"secondaryCategoryId"`
	SecondaryAttributeID string `json:"secondaryAttributeId" yaml:"secondaryAttributeId"`

	RuleType RuleType `json:"ruleType" yaml:"ruleType"`

	// Strategy payload. Only the fields relevant to RuleType are set.
	CompatibleValues []string `json:"compatibleValues,omitempty" yaml:"compatibleValues,omitempty"`
	MinValue         *float64 `json:"minValue,omitempty" yaml:"minValue,omitempty"`
	MaxValue         *float64 `json:"maxValue,omitempty" yaml:"maxValue,omitempty"`
	CustomCheckRef   string   `json:"customCheckRef,omitempty" yaml:"customCheckRef,omitempty"`
}

// CheckPayload verifies that exactly the payload fields relevant to the rule
// type are populated.
func (r *CompatibilityRule) CheckPayload() error {
	hasValues := len(r.CompatibleValues) > 0
	hasRange := r.MinValue != nil || r.MaxValue != nil
	hasCustom := r.CustomCheckRef != ""

	var reason string
	switch r.RuleType {
	case RuleExactMatch:
		if hasValues || hasRange || hasCustom {
			reason = "exact_match takes no payload"
		}
	case RuleCompatibleValues:
		switch {
		case !hasValues:
			reason = "compatible_values requires compatibleValues"
		case hasRange || hasCustom:
			reason = "compatible_values carries foreign payload"
		}
	case RuleRangeCheck:
		switch {
		case !hasRange:
			reason = "range_check requires minValue or maxValue"
		case hasValues || hasCustom:
			reason = "range_check carries foreign payload"
		case r.MinValue != nil && r.MaxValue != nil && *r.MinValue > *r.MaxValue:
			reason = fmt.Sprintf("range_check minValue %g exceeds maxValue %g", *r.MinValue, *r.MaxValue)
		}
	case RuleCustom:
		switch {
		case !hasCustom:
			reason = "custom requires customCheckRef"
		case hasValues || hasRange:
			reason = "custom carries foreign payload"
		}
	default:
		reason = fmt.Sprintf("unknown rule type %q", r.RuleType)
	}

	if reason != "" {
		return &ConfigurationError{Subject: "rule " + r.ID, Reason: reason}
	}
	return nil
}

// Involves reports whether the rule relates the given category.
func (r *CompatibilityRule) Involves(categoryID string) bool {
	return r.PrimaryCategoryID == categoryID || r.SecondaryCategoryID == categoryID
}
