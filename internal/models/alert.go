package models

import (
	"errors"
	"time"
)

// AlertType identifies what condition a rule watches for. Values persisted
// from older versions may not match any known constant; such rules are kept
// but never trigger.
type AlertType string

const (
	TypeJobFailure      AlertType = "JOB_FAILURE"
	TypeJobSuccess      AlertType = "JOB_SUCCESS"
	TypeAnyJobFailure   AlertType = "ANY_JOB_FAILURE"
	TypeAssetFailure    AlertType = "ASSET_FAILURE"
	TypeAssetSuccess    AlertType = "ASSET_SUCCESS"
	TypeAssetCheckError AlertType = "ASSET_CHECK_ERROR"
)

// IsKnown reports whether the type is part of the supported set.
func (t AlertType) IsKnown() bool {
	switch t {
	case TypeJobFailure, TypeJobSuccess, TypeAnyJobFailure,
		TypeAssetFailure, TypeAssetSuccess, TypeAssetCheckError:
		return true
	default:
		return false
	}
}

// RequiresTarget reports whether rules of this type need a target to be
// evaluable. ANY_JOB_FAILURE watches every job and has no fixed target.
func (t AlertType) RequiresTarget() bool {
	return t != TypeAnyJobFailure
}

// IsAssetType reports whether the type matches asset-job runs rather than
// a named pipeline.
func (t AlertType) IsAssetType() bool {
	switch t {
	case TypeAssetFailure, TypeAssetSuccess, TypeAssetCheckError:
		return true
	default:
		return false
	}
}

// Validation errors for rules.
var (
	ErrEmptyName     = errors.New("rule name cannot be empty")
	ErrMissingTarget = errors.New("rule type requires a target")
)

// Rule is a user-defined monitoring condition. The rule store owns the
// durable representation; copies held during an evaluation pass are
// transient snapshots.
type Rule struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Type       AlertType `json:"type"`
	TargetID   string    `json:"targetId,omitempty"`
	TargetName string    `json:"targetName,omitempty"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"createdAt"`

	// Evaluation metadata, written back after every pass.
	LastChecked        time.Time `json:"lastChecked,omitempty"`
	LastTriggered      time.Time `json:"lastTriggered,omitempty"`
	LastTriggeredRunID string    `json:"lastTriggeredRunId,omitempty"`
}

// Validate checks creation-time requirements. Unknown types are accepted so
// that rules persisted by newer versions keep loading.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return ErrEmptyName
	}
	if r.Type.IsKnown() && r.Type.RequiresTarget() && r.TargetID == "" {
		return ErrMissingTarget
	}
	return nil
}

// Notification records a rule having fired. Fields are copied from the rule
// at fire time, not live-linked.
type Notification struct {
	ID          string    `json:"id"`
	AlertID     string    `json:"alertId"`
	AlertName   string    `json:"alertName"`
	Type        AlertType `json:"type"`
	TargetName  string    `json:"targetName,omitempty"`
	TriggeredAt time.Time `json:"triggeredAt"`
	RunID       string    `json:"runId,omitempty"`
	AssetKey    string    `json:"assetKey,omitempty"`
	Message     string    `json:"message"`
	Read        bool      `json:"read"`
}

// EvaluationResult is what the evaluator reports for one rule. Evaluator
// faults are folded into ShouldTrigger=false with a diagnostic message,
// never an error.
type EvaluationResult struct {
	ShouldTrigger bool   `json:"shouldTrigger"`
	RunID         string `json:"runId,omitempty"`
	AssetKey      string `json:"assetKey,omitempty"`
	Message       string `json:"message"`
}

// PassOutcome is the coarse result reported to the scheduler.
type PassOutcome string

const (
	PassSuccess PassOutcome = "success"
	PassNoData  PassOutcome = "no-data"
	PassFailed  PassOutcome = "failed"
	// PassSkipped means a pass was already in flight.
	PassSkipped PassOutcome = "skipped"
)

// PassResult is the aggregate outcome of one evaluation pass. The full
// detail is only surfaced to manual/diagnostic callers.
type PassResult struct {
	Outcome        PassOutcome `json:"outcome"`
	TriggeredCount int         `json:"triggeredCount"`
	Errors         []string    `json:"errors"`
}
