package notification

import (
	"context"

	"dagster-alert/internal/logging"
)

// ConsoleSink writes notifications to the structured log.
type ConsoleSink struct{}

func (c *ConsoleSink) Name() string { return "console" }

func (c *ConsoleSink) RequestPermission(ctx context.Context) (bool, error) {
	return true, nil
}

func (c *ConsoleSink) Schedule(ctx context.Context, msg Message) error {
	logger := logging.WithComponent("console-sink")
	logger.Info().
		Str("title", msg.Title).
		Str("body", msg.Body).
		Interface("data", msg.Data).
		Msg("alert notification")
	return nil
}

func (c *ConsoleSink) SetBadge(ctx context.Context, count int) error {
	logger := logging.WithComponent("console-sink")
	logger.Debug().
		Int("unread", count).
		Msg("badge updated")
	return nil
}
