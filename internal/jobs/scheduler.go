package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fitbridge/fitbridge-connect/internal/service/connect"
)

// sweepTimeout bounds one whole proactive pass; individual provider calls are
// bounded separately by the provider client.
const sweepTimeout = 15 * time.Minute

// Scheduler runs the proactive token rotation sweep on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	service connect.Service
	logger  *zap.Logger
}

// NewScheduler creates the job scheduler.
func NewScheduler(service connect.Service, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		service: service,
		logger:  logger,
	}
}

// Start registers the sweep job and starts the cron loop.
func (s *Scheduler) Start(schedule string) error {
	_, err := s.cron.AddFunc(schedule, s.runSweep)
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("rotation sweep scheduled", zap.String("schedule", schedule))
	return nil
}

// Stop halts the cron loop; a sweep already running finishes on its own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info("rotation sweep scheduler stopped")
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	result, err := s.service.Sweep(ctx)
	if err != nil {
		s.logger.Error("rotation sweep failed", zap.Error(err))
		return
	}
	s.logger.Info("rotation sweep completed",
		zap.Int("checked", result.Checked),
		zap.Int("refreshed", result.Refreshed),
		zap.Int("failed", result.Failed))
}
