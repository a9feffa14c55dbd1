package trigger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SchedulerConfig controls periodic firing.
type SchedulerConfig struct {
	Interval    time.Duration
	FireOnStart bool
}

// Firer is satisfied by *Trigger.
type Firer interface {
	Fire(ctx context.Context) (Result, error)
}

// Scheduler fires a trigger on a fixed interval.
type Scheduler struct {
	firer  Firer
	cfg    SchedulerConfig
	logger *zap.Logger
}

// NewScheduler creates a Scheduler. A non-positive interval defaults to 24h.
func NewScheduler(firer Firer, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{firer: firer, cfg: cfg, logger: logger}
}

// Run blocks until ctx is cancelled. Firing errors are logged and the loop
// keeps going.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Bool("fire_on_start", s.cfg.FireOnStart))

	if s.cfg.FireOnStart {
		s.fire(ctx)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.fire(ctx)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	res, err := s.firer.Fire(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("scheduled trigger failed", zap.Error(err))
		}
		return
	}
	s.logger.Debug("scheduled trigger fired", zap.String("message", res.Message), zap.Int("urls", res.URLs))
}
