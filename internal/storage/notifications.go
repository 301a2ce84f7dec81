package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dagster-alert/internal/logging"
	"dagster-alert/internal/models"
)

const notificationsKey = "alerts/notifications"

// DefaultHistoryCap bounds the notification log.
const DefaultHistoryCap = 100

// NotificationStore keeps a capped, newest-first log of fired
// notifications. The cap is enforced on every append.
type NotificationStore struct {
	mu  sync.Mutex
	kv  KV
	cap int
	log zerolog.Logger
	now func() time.Time
}

func NewNotificationStore(kv KV, cap int) *NotificationStore {
	if cap <= 0 {
		cap = DefaultHistoryCap
	}
	return &NotificationStore{
		kv:  kv,
		cap: cap,
		log: logging.WithComponent("notification-store"),
		now: time.Now,
	}
}

func (s *NotificationStore) List(ctx context.Context) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Append prepends a notification and truncates the log to the cap.
func (s *NotificationStore) Append(ctx context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.load(ctx)
	if err != nil {
		return err
	}
	items = append([]models.Notification{n}, items...)
	if len(items) > s.cap {
		items = items[:s.cap]
	}
	return s.save(ctx, items)
}

func (s *NotificationStore) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.load(ctx)
	if err != nil {
		return err
	}
	for i := range items {
		if items[i].ID == id {
			if items[i].Read {
				return nil
			}
			items[i].Read = true
			return s.save(ctx, items)
		}
	}
	return ErrNotFound
}

func (s *NotificationStore) MarkAllRead(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.load(ctx)
	if err != nil {
		return err
	}
	for i := range items {
		items[i].Read = true
	}
	return s.save(ctx, items)
}

func (s *NotificationStore) UnreadCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, n := range items {
		if !n.Read {
			count++
		}
	}
	return count, nil
}

// PruneOlderThan drops notifications older than the retention window.
func (s *NotificationStore) PruneOlderThan(ctx context.Context, days int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.load(ctx)
	if err != nil {
		return err
	}
	cutoff := s.now().AddDate(0, 0, -days)
	kept := items[:0]
	for _, n := range items {
		if n.TriggeredAt.After(cutoff) {
			kept = append(kept, n)
		}
	}
	if len(kept) == len(items) {
		return nil
	}
	return s.save(ctx, kept)
}

func (s *NotificationStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, []models.Notification{})
}

func (s *NotificationStore) load(ctx context.Context) ([]models.Notification, error) {
	data, err := s.kv.Get(ctx, notificationsKey)
	if err != nil {
		return nil, fmt.Errorf("load notifications: %w", err)
	}
	if data == nil {
		return []models.Notification{}, nil
	}
	var items []models.Notification
	if err := json.Unmarshal(data, &items); err != nil {
		s.log.Error().Err(err).Msg("notification log is corrupt, treating as empty")
		return []models.Notification{}, nil
	}
	return items, nil
}

func (s *NotificationStore) save(ctx context.Context, items []models.Notification) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal notifications: %w", err)
	}
	if err := s.kv.Set(ctx, notificationsKey, data); err != nil {
		return fmt.Errorf("save notifications: %w", err)
	}
	return nil
}
