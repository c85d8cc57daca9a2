package validation

import (
	"time"

	"github.com/google/uuid"

	"github.com/techcortex/buildcheck/internal/domain"
)

// RecordInput identifies a run for persistence.
type RecordInput struct {
	TenantID   string
	BuildID    string
	TraceID    string
	Generation uint64
	Selection  domain.Selection
}

// Record turns a report into a persistable validation with a fresh id.
func Record(in RecordInput, report *Report) *domain.Validation {
	return &domain.Validation{
		ID:        uuid.New().String(),
		TenantID:  in.TenantID,
		BuildID:   in.BuildID,
		Selection: in.Selection,
		Result:    report.Result,
		Timestamp: time.Now().UTC(),
		Metadata: domain.ValidationMetadata{
			TraceID:        in.TraceID,
			Generation:     in.Generation,
			PairsEvaluated: report.Stats.Pairs,
			RulesEvaluated: report.Stats.RulesEvaluated,
			TotalMs:        report.Stats.Duration.Milliseconds(),
			EngineVersion:  EngineVersion,
		},
	}
}
