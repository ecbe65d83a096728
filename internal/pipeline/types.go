package pipeline

import (
	"github.com/lucasnoah/imgchar/internal/stage"
)

// Run status values. The terminal ones mirror stage.Kind.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusTruncated = "truncated"
	StatusFailed    = "failed"
)

// RunState is the persisted record of one image-characterization run.
type RunState struct {
	RunID       string                  `json:"run_id"`
	DataID      map[string]string       `json:"data_id"`
	Family      string                  `json:"dataset_family"`
	Status      string                  `json:"status"`
	Requested   stage.Mask              `json:"requested"`
	Enabled     stage.Mask              `json:"enabled"`
	Ran         []stage.ID              `json:"ran"`
	Truncations []stage.TruncationEvent `json:"truncations,omitempty"`
	Warnings    []string                `json:"warnings,omitempty"`
	FailedStage *stage.ID               `json:"failed_stage,omitempty"`
	Error       string                  `json:"error,omitempty"`
	ContextKeys []string                `json:"context_keys,omitempty"`
	Published   []string                `json:"published,omitempty"`
	Skipped     []string                `json:"skipped,omitempty"`
	CreatedAt   string                  `json:"created_at"`
	UpdatedAt   string                  `json:"updated_at"`
}

// ApplyOutcome copies the terminal state of out into rs.
func (rs *RunState) ApplyOutcome(out *stage.Outcome) {
	rs.Status = out.Kind.String()
	rs.Requested = out.Requested
	rs.Enabled = out.Enabled
	rs.Ran = append([]stage.ID(nil), out.Ran...)
	rs.Truncations = out.Truncations
	rs.Warnings = out.Warnings
	rs.FailedStage = out.FailedStage
	rs.Error = ""
	if out.Err != nil {
		rs.Error = out.Err.Error()
	}
	if out.Context != nil {
		rs.ContextKeys = out.Context.Keys()
	}
}

// Terminal reports whether the run has finished.
func (rs *RunState) Terminal() bool {
	return rs.Status != StatusRunning
}
