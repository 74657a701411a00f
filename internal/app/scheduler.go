package app

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the recovery sweep on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler wires the sweep onto the given cron expression.
func NewScheduler(schedule string, sweep *Sweep, logger *slog.Logger) (*Scheduler, error) {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	if _, err := c.AddFunc(schedule, sweep.Run); err != nil {
		return nil, err
	}
	return &Scheduler{cron: c, logger: logger}, nil
}

// Start begins scheduling in its own goroutine.
func (s *Scheduler) Start() {
	s.logger.Info("recovery sweep scheduler started")
	s.cron.Start()
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("recovery sweep scheduler stopped")
}
