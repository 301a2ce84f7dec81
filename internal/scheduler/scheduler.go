package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Status classifies the scheduler's availability, mirroring what OS task
// schedulers report.
type Status string

const (
	StatusAvailable  Status = "available"
	StatusDenied     Status = "denied"
	StatusRestricted Status = "restricted"
)

// MinInterval is the floor on the scheduling cadence. Most OS background
// schedulers refuse anything tighter than 15 minutes.
const MinInterval = 15 * time.Minute

// Options mirror the OS background-task registration knobs.
type Options struct {
	MinimumInterval time.Duration
	StopOnTerminate bool
	StartOnBoot     bool
}

// TaskScheduler is the OS periodic-task port. Implementations decide the
// actual cadence; callbacks may fire no more often than the minimum
// interval.
type TaskScheduler interface {
	IsRegistered(name string) bool
	Register(name string, opts Options, fn func()) error
	Unregister(name string) error
	Status() Status
}

// CronScheduler backs the port with an in-process cron runner.
type CronScheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

func NewCronScheduler() *CronScheduler {
	c := cron.New()
	c.Start()
	return &CronScheduler{
		cron:    c,
		entries: make(map[string]cron.EntryID),
	}
}

func (s *CronScheduler) IsRegistered(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[name]
	return ok
}

func (s *CronScheduler) Register(name string, opts Options, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("task %q already registered", name)
	}
	interval := opts.MinimumInterval
	if interval < MinInterval {
		interval = MinInterval
	}
	id := s.cron.Schedule(cron.Every(interval), cron.FuncJob(fn))
	s.entries[name] = id
	return nil
}

func (s *CronScheduler) Unregister(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[name]
	if !ok {
		return nil
	}
	s.cron.Remove(id)
	delete(s.entries, name)
	return nil
}

func (s *CronScheduler) Status() Status { return StatusAvailable }

// Stop halts the runner and waits for in-flight jobs to finish.
func (s *CronScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
