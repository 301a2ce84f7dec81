package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dagster-alert/internal/logging"
	"dagster-alert/internal/metrics"
	"dagster-alert/internal/models"
	"dagster-alert/internal/storage"
)

// Engine runs evaluation passes and fronts the rule and notification
// stores for UI/CLI callers. A pass is a pure function of (rules,
// checkpoint, run-query responses): all cross-pass state lives in the
// stores.
type Engine struct {
	rules         *storage.RuleStore
	notifications *storage.NotificationStore
	checkpoint    *storage.CheckpointStore
	evaluator     Evaluator
	dispatcher    *Dispatcher
	retentionDays int
	log           zerolog.Logger
	now           func() time.Time

	passMu     sync.Mutex
	passActive bool
}

func NewEngine(
	rules *storage.RuleStore,
	notifications *storage.NotificationStore,
	checkpoint *storage.CheckpointStore,
	evaluator Evaluator,
	dispatcher *Dispatcher,
	retentionDays int,
) *Engine {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	return &Engine{
		rules:         rules,
		notifications: notifications,
		checkpoint:    checkpoint,
		evaluator:     evaluator,
		dispatcher:    dispatcher,
		retentionDays: retentionDays,
		log:           logging.WithComponent("engine"),
		now:           time.Now,
	}
}

// RunPass evaluates every enabled rule once against a shared since
// boundary. Per-rule failures are isolated: they land in the result's
// error list and the pass still advances the checkpoint. Overlapping
// invocations are rejected rather than queued.
func (e *Engine) RunPass(ctx context.Context) models.PassResult {
	if !e.beginPass() {
		e.log.Warn().Msg("pass already in progress, skipping")
		metrics.PassesTotal.WithLabelValues(string(models.PassSkipped)).Inc()
		return models.PassResult{Outcome: models.PassSkipped}
	}
	defer e.endPass()

	started := e.now()
	defer func() {
		metrics.PassDuration.Observe(time.Since(started).Seconds())
	}()

	result := e.runPass(ctx)
	metrics.PassesTotal.WithLabelValues(string(result.Outcome)).Inc()
	e.log.Info().
		Str("outcome", string(result.Outcome)).
		Int("triggered", result.TriggeredCount).
		Int("errors", len(result.Errors)).
		Msg("pass completed")
	return result
}

func (e *Engine) runPass(ctx context.Context) models.PassResult {
	rules, err := e.rules.List(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("cannot load rules")
		return models.PassResult{
			Outcome: models.PassFailed,
			Errors:  []string{fmt.Sprintf("load rules: %v", err)},
		}
	}

	var enabled []models.Rule
	for _, r := range rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	if len(enabled) == 0 {
		return models.PassResult{Outcome: models.PassNoData}
	}

	// One boundary for the whole pass: every rule sees the same window.
	since, err := e.checkpoint.Read(ctx)
	if err != nil {
		e.log.Warn().Err(err).Time("since", since).Msg("checkpoint unreadable, using default")
	}

	var errs []string
	triggered := 0
	for _, rule := range enabled {
		res := e.evaluator.Evaluate(ctx, rule, since)
		if res.ShouldTrigger {
			if err := e.dispatcher.Dispatch(ctx, rule, res); err != nil {
				// Leave the dedup key untouched so the next pass
				// retries delivery of this run.
				errs = append(errs, fmt.Sprintf("alert %s: %v", rule.ID, err))
				e.log.Error().Err(err).Str("alert_id", rule.ID).Msg("dispatch failed")
			} else {
				triggered++
				now := e.now()
				patch := storage.RulePatch{
					LastTriggered:      &now,
					LastTriggeredRunID: &res.RunID,
				}
				if _, err := e.rules.Update(ctx, rule.ID, patch); err != nil {
					errs = append(errs, fmt.Sprintf("alert %s: record trigger: %v", rule.ID, err))
					e.log.Error().Err(err).Str("alert_id", rule.ID).Msg("cannot record trigger metadata")
				}
			}
		}
		checked := e.now()
		if _, err := e.rules.Update(ctx, rule.ID, storage.RulePatch{LastChecked: &checked}); err != nil {
			errs = append(errs, fmt.Sprintf("alert %s: record check: %v", rule.ID, err))
			e.log.Error().Err(err).Str("alert_id", rule.ID).Msg("cannot record check metadata")
		}
	}

	// Advance only after the rule loop so a crash mid-pass re-evaluates
	// the same window. Repeat notifications stay suppressed by the
	// per-rule dedup key, not by checkpoint precision.
	if err := e.checkpoint.Write(ctx, e.now()); err != nil {
		errs = append(errs, fmt.Sprintf("advance checkpoint: %v", err))
		e.log.Error().Err(err).Msg("cannot advance checkpoint")
	}

	if err := e.notifications.PruneOlderThan(ctx, e.retentionDays); err != nil {
		e.log.Warn().Err(err).Msg("prune failed")
	}
	if err := e.dispatcher.RefreshBadge(ctx); err != nil {
		e.log.Warn().Err(err).Msg("badge refresh failed")
	}

	outcome := models.PassNoData
	if triggered > 0 {
		outcome = models.PassSuccess
	}
	return models.PassResult{Outcome: outcome, TriggeredCount: triggered, Errors: errs}
}

// ManualTrigger runs a pass outside the scheduled cadence and hands the
// full aggregate result back for inspection.
func (e *Engine) ManualTrigger(ctx context.Context) models.PassResult {
	e.log.Info().Msg("manual trigger")
	return e.RunPass(ctx)
}

func (e *Engine) beginPass() bool {
	e.passMu.Lock()
	defer e.passMu.Unlock()
	if e.passActive {
		return false
	}
	e.passActive = true
	return true
}

func (e *Engine) endPass() {
	e.passMu.Lock()
	e.passActive = false
	e.passMu.Unlock()
}

// Rule CRUD passthrough, the UI-facing surface.

func (e *Engine) ListRules(ctx context.Context) ([]models.Rule, error) {
	return e.rules.List(ctx)
}

func (e *Engine) AddRule(ctx context.Context, rule models.Rule) (models.Rule, error) {
	return e.rules.Add(ctx, rule)
}

func (e *Engine) UpdateRule(ctx context.Context, id string, patch storage.RulePatch) (models.Rule, error) {
	return e.rules.Update(ctx, id, patch)
}

func (e *Engine) DeleteRule(ctx context.Context, id string) error {
	return e.rules.Delete(ctx, id)
}

func (e *Engine) ToggleRule(ctx context.Context, id string) (models.Rule, error) {
	return e.rules.Toggle(ctx, id)
}

// Notification read operations.

func (e *Engine) ListNotifications(ctx context.Context) ([]models.Notification, error) {
	return e.notifications.List(ctx)
}

func (e *Engine) MarkNotificationRead(ctx context.Context, id string) error {
	if err := e.notifications.MarkRead(ctx, id); err != nil {
		return err
	}
	return e.dispatcher.RefreshBadge(ctx)
}

func (e *Engine) MarkAllNotificationsRead(ctx context.Context) error {
	if err := e.notifications.MarkAllRead(ctx); err != nil {
		return err
	}
	return e.dispatcher.RefreshBadge(ctx)
}

func (e *Engine) UnreadCount(ctx context.Context) (int, error) {
	return e.notifications.UnreadCount(ctx)
}

func (e *Engine) ClearNotifications(ctx context.Context) error {
	if err := e.notifications.ClearAll(ctx); err != nil {
		return err
	}
	return e.dispatcher.RefreshBadge(ctx)
}

// Snapshot is the engine half of the diagnostic status surface; the
// scheduler adapter contributes registration state.
type Snapshot struct {
	RuleCount        int       `json:"ruleCount"`
	EnabledRuleCount int       `json:"enabledRuleCount"`
	UnreadCount      int       `json:"unreadCount"`
	LastCheckpoint   time.Time `json:"lastCheckpoint"`
	CheckpointAge    string    `json:"checkpointAge"`
}

func (e *Engine) Status(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	rules, err := e.rules.List(ctx)
	if err != nil {
		return snap, err
	}
	snap.RuleCount = len(rules)
	for _, r := range rules {
		if r.Enabled {
			snap.EnabledRuleCount++
		}
	}
	unread, err := e.notifications.UnreadCount(ctx)
	if err != nil {
		return snap, err
	}
	snap.UnreadCount = unread
	cp, err := e.checkpoint.Read(ctx)
	if err != nil {
		return snap, err
	}
	snap.LastCheckpoint = cp
	snap.CheckpointAge = e.now().Sub(cp).Round(time.Second).String()
	return snap, nil
}
