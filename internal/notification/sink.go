package notification

import (
	"context"
	"errors"
	"time"

	"dagster-alert/internal/config"
)

// Message is the payload handed to a sink when a rule fires.
type Message struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Sink is the notification delivery port. RequestPermission mirrors
// OS-level notification permission; sinks without such a concept always
// grant. SetBadge publishes the unread counter.
type Sink interface {
	Name() string
	RequestPermission(ctx context.Context) (bool, error)
	Schedule(ctx context.Context, msg Message) error
	SetBadge(ctx context.Context, count int) error
}

// BuildSinks assembles the configured sinks. The console sink is always
// present so a bare config still surfaces alerts somewhere.
func BuildSinks(cfg config.Notifications) ([]Sink, error) {
	sinks := []Sink{&ConsoleSink{}}
	if cfg.Webhook.URL != "" {
		sinks = append(sinks, &WebhookSink{
			URL:     cfg.Webhook.URL,
			Headers: cfg.Webhook.Headers,
			Timeout: parseDurationDefault(cfg.Webhook.Timeout, 5*time.Second),
		})
	}
	if cfg.NATS.URL != "" {
		ns, err := NewNATSSink(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ns)
	}
	return sinks, nil
}

// MultiSink fans out to every configured sink. Permission is granted only
// when every sink grants; delivery errors are joined so one failing sink
// does not hide another's.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Name() string { return "multi" }

func (m *MultiSink) RequestPermission(ctx context.Context) (bool, error) {
	var errs []error
	granted := true
	for _, s := range m.sinks {
		ok, err := s.RequestPermission(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		if !ok {
			granted = false
		}
	}
	return granted, errors.Join(errs...)
}

func (m *MultiSink) Schedule(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Schedule(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) SetBadge(ctx context.Context, count int) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.SetBadge(ctx, count); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func parseDurationDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
