package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"dagster-alert/internal/logging"
)

const checkpointKey = "alerts/last_check"

// DefaultCheckpointAge is how far back a fresh install looks. Without it
// the first pass would re-fire on arbitrarily old history.
const DefaultCheckpointAge = time.Hour

// CheckpointStore holds the single "evaluated up through this instant"
// timestamp shared by all rules in a pass.
type CheckpointStore struct {
	kv  KV
	log zerolog.Logger
	now func() time.Time
}

func NewCheckpointStore(kv KV) *CheckpointStore {
	return &CheckpointStore{
		kv:  kv,
		log: logging.WithComponent("checkpoint-store"),
		now: time.Now,
	}
}

// Read returns the checkpoint, or now minus one hour when missing or
// unreadable. The returned timestamp is always usable; the error is for
// the caller's log only.
func (s *CheckpointStore) Read(ctx context.Context) (time.Time, error) {
	fallback := s.now().Add(-DefaultCheckpointAge)
	data, err := s.kv.Get(ctx, checkpointKey)
	if err != nil {
		return fallback, err
	}
	if data == nil {
		return fallback, nil
	}
	millis, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		s.log.Error().Err(err).Msg("checkpoint is corrupt, using default")
		return fallback, nil
	}
	return time.UnixMilli(millis), nil
}

func (s *CheckpointStore) Write(ctx context.Context, t time.Time) error {
	return s.kv.Set(ctx, checkpointKey, []byte(strconv.FormatInt(t.UnixMilli(), 10)))
}
