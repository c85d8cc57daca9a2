package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// SlotSelection is the ordered list of part ids chosen for one slot.
// Single-select slots hold at most one id.
type SlotSelection []string

// UnmarshalJSON accepts either a single part id or an array of ids.
func (s *SlotSelection) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*s = nil
			return nil
		}
		*s = SlotSelection{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("%w: slot selection must be a part id or a list of part ids", ErrInvalidInput)
	}
	*s = many
	return nil
}

// Selection maps a category slug to the parts chosen for that slot.
// It is owned by the caller and never mutated by the engine.
type Selection map[string]SlotSelection

// Slugs returns the non-empty slot slugs in sorted order.
func (s Selection) Slugs() []string {
	slugs := make([]string, 0, len(s))
	for slug, ids := range s {
		if len(ids) > 0 {
			slugs = append(slugs, slug)
		}
	}
	sort.Strings(slugs)
	return slugs
}

// PartIDs returns every selected part id, slots in slug order.
func (s Selection) PartIDs() []string {
	var ids []string
	for _, slug := range s.Slugs() {
		ids = append(ids, s[slug]...)
	}
	return ids
}

// PartCount returns the number of selected parts, counting repeats.
func (s Selection) PartCount() int {
	n := 0
	for _, ids := range s {
		n += len(ids)
	}
	return n
}

// Severity classifies a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one compatibility result produced by evaluating one rule
// against one part pair.
type Finding struct {
	Severity        Severity `json:"severity"`
	RuleID          string   `json:"ruleId,omitempty"`
	PrimaryLabel    string   `json:"primaryLabel"`
	SecondaryLabel  string   `json:"secondaryLabel"`
	PrimaryPartID   string   `json:"primaryPartId,omitempty"`
	SecondaryPartID string   `json:"secondaryPartId,omitempty"`
	Message         string   `json:"message"`
	Details         string   `json:"details,omitempty"`
}

// Labels used for findings that concern the run itself rather than a rule.
const (
	SystemLabel     = "System"
	ValidationLabel = "Validation"
)

// BuildStatus is the aggregate status of a build.
type BuildStatus string

const (
	StatusValid   BuildStatus = "valid"
	StatusWarning BuildStatus = "warning"
	StatusError   BuildStatus = "error"
)

// Stage is the progressive-validation state of a selection.
type Stage string

const (
	StageEmpty        Stage = "empty"
	StageInsufficient Stage = "insufficient"
	StageEvaluable    Stage = "evaluable"
)

// ValidationResult is produced fresh on every run and never mutated.
type ValidationResult struct {
	IsValid             bool        `json:"isValid"`
	Status              BuildStatus `json:"status"`
	Stage               Stage       `json:"stage"`
	Issues              []Finding   `json:"issues"`
	Warnings            []Finding   `json:"warnings"`
	TotalPowerDrawWatts float64     `json:"totalPowerDrawWatts"`
	RecommendedPsuWatts float64     `json:"recommendedPsuWatts"`

	// Pass-through catalog fields, not used by the engine.
	TotalPrice       float64  `json:"totalPrice"`
	UnavailableParts []string `json:"unavailableParts,omitempty"`
}

// Findings returns issues followed by warnings.
func (r ValidationResult) Findings() []Finding {
	all := make([]Finding, 0, len(r.Issues)+len(r.Warnings))
	all = append(all, r.Issues...)
	return append(all, r.Warnings...)
}

// Validation is the persisted record of one validation run.
type Validation struct {
	ID        string             `json:"id"`
	TenantID  string             `json:"tenantId"`
	BuildID   string             `json:"buildId,omitempty"`
	Selection Selection          `json:"selection"`
	Result    ValidationResult   `json:"result"`
	Timestamp time.Time          `json:"timestamp"`
	Metadata  ValidationMetadata `json:"metadata"`
}

// ValidationMetadata contains processing information.
type ValidationMetadata struct {
	TraceID        string `json:"traceId,omitempty"`
	Generation     uint64 `json:"generation,omitempty"`
	PairsEvaluated int    `json:"pairsEvaluated"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	TotalMs        int64  `json:"totalMs"`
	EngineVersion  string `json:"engineVersion"`
}
