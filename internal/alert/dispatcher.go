package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dagster-alert/internal/logging"
	"dagster-alert/internal/metrics"
	"dagster-alert/internal/models"
	"dagster-alert/internal/notification"
	"dagster-alert/internal/storage"
)

// Dispatcher turns a positive evaluation into a sink notification plus a
// history entry. It is the only writer of notification content; read
// state is mutated elsewhere.
type Dispatcher struct {
	sink  notification.Sink
	store *storage.NotificationStore
	log   zerolog.Logger
	now   func() time.Time
}

func NewDispatcher(sink notification.Sink, store *storage.NotificationStore) *Dispatcher {
	return &Dispatcher{
		sink:  sink,
		store: store,
		log:   logging.WithComponent("dispatcher"),
		now:   time.Now,
	}
}

// Dispatch delivers one trigger. The caller has already confirmed
// ShouldTrigger. Permission denial is not an error: the trigger is
// dropped and only logged, per the engine's error taxonomy.
func (d *Dispatcher) Dispatch(ctx context.Context, rule models.Rule, res models.EvaluationResult) error {
	granted, err := d.sink.RequestPermission(ctx)
	if err != nil {
		d.log.Warn().Err(err).Str("alert_id", rule.ID).Msg("permission request failed")
	}
	if !granted {
		d.log.Warn().Str("alert_id", rule.ID).Msg("notification permission not granted, dropping trigger")
		return nil
	}

	msg := notification.Message{
		Title: rule.Name,
		Body:  res.Message,
		Data: map[string]string{
			"alertId":  rule.ID,
			"runId":    res.RunID,
			"assetKey": res.AssetKey,
			"type":     string(rule.Type),
		},
	}
	if err := d.sink.Schedule(ctx, msg); err != nil {
		metrics.DispatchFailuresTotal.Inc()
		return fmt.Errorf("schedule notification for alert %s: %w", rule.ID, err)
	}

	entry := models.Notification{
		ID:          uuid.NewString(),
		AlertID:     rule.ID,
		AlertName:   rule.Name,
		Type:        rule.Type,
		TargetName:  rule.TargetName,
		TriggeredAt: d.now(),
		RunID:       res.RunID,
		AssetKey:    res.AssetKey,
		Message:     res.Message,
	}
	if err := d.store.Append(ctx, entry); err != nil {
		metrics.DispatchFailuresTotal.Inc()
		return fmt.Errorf("record notification for alert %s: %w", rule.ID, err)
	}

	metrics.TriggersTotal.WithLabelValues(string(rule.Type)).Inc()
	d.log.Info().
		Str("alert_id", rule.ID).
		Str("alert_name", rule.Name).
		Str("run_id", res.RunID).
		Msg("alert dispatched")
	return nil
}

// RefreshBadge pushes the current unread count to the sink.
func (d *Dispatcher) RefreshBadge(ctx context.Context) error {
	unread, err := d.store.UnreadCount(ctx)
	if err != nil {
		return err
	}
	metrics.UnreadNotifications.Set(float64(unread))
	return d.sink.SetBadge(ctx, unread)
}
