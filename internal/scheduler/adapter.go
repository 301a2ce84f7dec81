package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"dagster-alert/internal/alert"
	"dagster-alert/internal/logging"
	"dagster-alert/internal/models"
)

// TaskName is the engine's well-known registration key.
const TaskName = "dagster-alerts-background-fetch"

// Adapter wires the engine's pass into the task scheduler. Scheduled
// invocations only log the coarse outcome; the full aggregate result is
// reserved for ManualTrigger callers.
type Adapter struct {
	sched    TaskScheduler
	engine   *alert.Engine
	interval time.Duration
	log      zerolog.Logger
}

func NewAdapter(sched TaskScheduler, engine *alert.Engine, interval time.Duration) *Adapter {
	if interval <= 0 {
		interval = MinInterval
	}
	return &Adapter{
		sched:    sched,
		engine:   engine,
		interval: interval,
		log:      logging.WithComponent("scheduler"),
	}
}

// Register installs the scheduled pass. Idempotent: an existing
// registration under the task name is left alone.
func (a *Adapter) Register() error {
	if a.sched.IsRegistered(TaskName) {
		a.log.Debug().Msg("scheduled pass already registered")
		return nil
	}
	opts := Options{
		MinimumInterval: a.interval,
		StopOnTerminate: false,
		StartOnBoot:     true,
	}
	if err := a.sched.Register(TaskName, opts, a.runScheduled); err != nil {
		return err
	}
	a.log.Info().Dur("interval", a.interval).Msg("scheduled pass registered")
	return nil
}

func (a *Adapter) Unregister() error {
	if err := a.sched.Unregister(TaskName); err != nil {
		return err
	}
	a.log.Info().Msg("scheduled pass unregistered")
	return nil
}

func (a *Adapter) Registered() bool {
	return a.sched.IsRegistered(TaskName)
}

func (a *Adapter) Status() Status {
	return a.sched.Status()
}

// ManualTrigger runs a pass outside the scheduled cadence, for testing
// and diagnostics.
func (a *Adapter) ManualTrigger(ctx context.Context) models.PassResult {
	return a.engine.ManualTrigger(ctx)
}

func (a *Adapter) runScheduled() {
	result := a.engine.RunPass(context.Background())
	switch result.Outcome {
	case models.PassFailed:
		a.log.Error().Strs("errors", result.Errors).Msg("scheduled pass failed")
	default:
		a.log.Debug().
			Str("outcome", string(result.Outcome)).
			Int("triggered", result.TriggeredCount).
			Msg("scheduled pass finished")
	}
}
