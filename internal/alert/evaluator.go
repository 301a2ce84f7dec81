package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"dagster-alert/internal/dagster"
	"dagster-alert/internal/logging"
	"dagster-alert/internal/metrics"
	"dagster-alert/internal/models"
)

// RunSource is the run-query port the evaluator reads from.
type RunSource interface {
	FetchRecentRuns(ctx context.Context, limit int) ([]dagster.Run, error)
}

// Evaluator decides per rule whether a condition newly holds. Evaluate
// never returns an error: query failures, malformed rules and unknown
// types all degrade to a non-triggering result with a diagnostic message,
// so one rule can never abort a pass.
type Evaluator interface {
	Evaluate(ctx context.Context, rule models.Rule, since time.Time) models.EvaluationResult
}

// RunEvaluator evaluates rules against a bounded window of recent runs.
type RunEvaluator struct {
	runs       RunSource
	fetchLimit int
	log        zerolog.Logger
}

func NewRunEvaluator(runs RunSource, fetchLimit int) *RunEvaluator {
	if fetchLimit <= 0 {
		fetchLimit = 50
	}
	return &RunEvaluator{
		runs:       runs,
		fetchLimit: fetchLimit,
		log:        logging.WithComponent("evaluator"),
	}
}

func (e *RunEvaluator) Evaluate(ctx context.Context, rule models.Rule, since time.Time) models.EvaluationResult {
	metrics.RulesEvaluatedTotal.Inc()

	wantStatus, ok := statusFor(rule.Type)
	if !ok {
		return models.EvaluationResult{Message: fmt.Sprintf("unknown alert type %q", rule.Type)}
	}
	if rule.Type.RequiresTarget() && rule.TargetID == "" {
		return models.EvaluationResult{Message: "alert has no target configured"}
	}

	runs, err := e.runs.FetchRecentRuns(ctx, e.fetchLimit)
	if err != nil {
		metrics.RunQueryFailuresTotal.Inc()
		e.log.Error().Err(err).Str("alert_id", rule.ID).Msg("run query failed")
		return models.EvaluationResult{Message: "run query failed"}
	}
	if len(runs) == 0 {
		return models.EvaluationResult{Message: "no runs found"}
	}

	// Predicates apply in order: target, status, recency, dedup key.
	// Runs arrive newest first; the first survivor is the trigger source.
	for _, run := range runs {
		if !matchesTarget(rule, run) {
			continue
		}
		if run.Status != wantStatus {
			continue
		}
		if run.StartTime == nil || run.StartTime.Before(since) {
			continue
		}
		if run.ID == rule.LastTriggeredRunID {
			continue
		}
		res := models.EvaluationResult{
			ShouldTrigger: true,
			RunID:         run.ID,
			Message:       triggerMessage(rule, run),
		}
		if rule.Type.IsAssetType() {
			res.AssetKey = rule.TargetID
		}
		return res
	}

	if wantStatus == dagster.StatusSuccess {
		return models.EvaluationResult{Message: "no successes detected"}
	}
	return models.EvaluationResult{Message: "no failures detected"}
}

// statusFor maps a rule type to the run status it watches for. The second
// return is false for unrecognized persisted types.
func statusFor(t models.AlertType) (string, bool) {
	switch t {
	case models.TypeJobFailure, models.TypeAnyJobFailure,
		models.TypeAssetFailure, models.TypeAssetCheckError:
		return dagster.StatusFailure, true
	case models.TypeJobSuccess, models.TypeAssetSuccess:
		return dagster.StatusSuccess, true
	default:
		return "", false
	}
}

func matchesTarget(rule models.Rule, run dagster.Run) bool {
	switch {
	case rule.Type == models.TypeAnyJobFailure:
		return true
	case rule.Type.IsAssetType():
		// Asset conditions surface through runs of the reserved asset
		// job, not through the asset's own name.
		return run.PipelineName == dagster.AssetJobName
	default:
		return run.PipelineName == rule.TargetID
	}
}

func triggerMessage(rule models.Rule, run dagster.Run) string {
	subject := rule.TargetName
	if subject == "" {
		subject = rule.TargetID
	}
	switch rule.Type {
	case models.TypeJobFailure:
		return fmt.Sprintf("Job %q failed", subject)
	case models.TypeJobSuccess:
		return fmt.Sprintf("Job %q completed successfully", subject)
	case models.TypeAnyJobFailure:
		return fmt.Sprintf("Job %q failed", run.PipelineName)
	case models.TypeAssetFailure:
		return fmt.Sprintf("Asset %q materialization failed", subject)
	case models.TypeAssetSuccess:
		return fmt.Sprintf("Asset %q materialization succeeded", subject)
	case models.TypeAssetCheckError:
		return fmt.Sprintf("Asset %q check failed", subject)
	default:
		return fmt.Sprintf("Alert %q triggered", rule.Name)
	}
}
