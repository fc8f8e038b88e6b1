package usecase

import (
	"context"
	"log/slog"
	"time"

	"BidMailer/internal/config"
	"BidMailer/internal/ports"
)

// Scheduler wires the ticker driver with recurring pipeline runs for the
// optional daemon mode.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	cfg      config.Config
	dryRun   bool
	logger   *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring runs.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, cfg config.Config, dryRun bool, logger *slog.Logger) *Scheduler {
	return &Scheduler{driver: driver, pipeline: pipeline, cfg: cfg, dryRun: dryRun, logger: logger}
}

// Start registers the pipeline with the provided scheduler driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(trigger time.Time) {
		if _, err := s.pipeline.Run(ctx, s.cfg, s.dryRun); err != nil {
			if s.logger != nil {
				s.logger.Error("scheduled run failed", "trigger", trigger, "error", err)
			}
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
