// Package scheduler drives recurring runs from a cron expression, for
// deployments that emit a monthly batch unattended.
package scheduler

import (
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// Scheduler wraps a cron instance around a single run function. Runs
// never overlap: a tick that fires while a run is active is skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  arbor.ILogger
	running chan struct{}
}

// New creates a scheduler for the given cron spec and run function.
func New(spec string, run func(), logger arbor.ILogger) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(),
		logger:  logger,
		running: make(chan struct{}, 1),
	}

	_, err := s.cron.AddFunc(spec, func() {
		select {
		case s.running <- struct{}{}:
		default:
			logger.Warn().Msg("Previous run still active - skipping this tick")
			return
		}
		defer func() { <-s.running }()

		logger.Info().Str("schedule", spec).Msg("Scheduled run starting")
		run()
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins firing ticks in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts new ticks and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running <- struct{}{}
}
