// Package maintenance runs periodic storage upkeep on a cron schedule.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rubiojr/volunteer/pkg/log"
)

// DefaultSchedule runs the optimizer once an hour.
const DefaultSchedule = "@hourly"

var logger = log.ForService("maintenance")

// Optimizer is implemented by every storage backend.
type Optimizer interface {
	Optimize(ctx context.Context) error
}

// Scheduler calls Optimize on a cron schedule. Runs never overlap: a tick
// that fires while the previous run is still going is skipped.
type Scheduler struct {
	target   Optimizer
	schedule string
	timeout  time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	lastRun *time.Time
	lastErr error
	busy    sync.Mutex
}

// New validates schedule and returns a stopped scheduler. An empty schedule
// means DefaultSchedule.
func New(target Optimizer, schedule string) (*Scheduler, error) {
	if target == nil {
		return nil, errors.New("maintenance: nil optimizer")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if err := ValidateSchedule(schedule); err != nil {
		return nil, err
	}
	return &Scheduler{
		target:   target,
		schedule: schedule,
		timeout:  10 * time.Minute,
	}, nil
}

// ValidateSchedule checks a standard cron expression or descriptor such as
// "@hourly" or "@every 30m". The empty string is valid.
func ValidateSchedule(schedule string) error {
	if schedule == "" {
		return nil
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("parsing schedule %q: %w", schedule, err)
	}
	return nil
}

func (s *Scheduler) Schedule() string {
	return s.schedule
}

// Start registers the job and starts the cron runner.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("maintenance scheduler already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.tick); err != nil {
		return fmt.Errorf("adding maintenance job: %w", err)
	}
	c.Start()
	s.cron = c
	s.running = true
	logger.Infof("storage maintenance scheduled (%s)", s.schedule)
	return nil
}

// Stop halts the runner and waits for an in-flight optimization to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	c := s.cron
	s.running = false
	s.cron = nil
	s.mu.Unlock()

	<-c.Stop().Done()
	logger.Infof("storage maintenance stopped")
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.RunOnce(ctx); err != nil {
		logger.Errorf("storage optimization failed: %v", err)
	}
}

// RunOnce optimizes immediately. It returns nil without doing anything when
// another run is in progress.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if !s.busy.TryLock() {
		logger.Debugf("optimization already running, skipping")
		return nil
	}
	defer s.busy.Unlock()

	start := time.Now()
	logger.Debugf("running storage optimization")
	err := s.target.Optimize(ctx)

	now := time.Now().UTC()
	s.mu.Lock()
	s.lastRun = &now
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("optimizing storage: %w", err)
	}
	logger.Infof("storage optimized in %v", time.Since(start).Round(time.Millisecond))
	return nil
}

// LastRun reports when the last run finished and its error, if any.
func (s *Scheduler) LastRun() (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}
