package approval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the sweep every five minutes.
const DefaultSweepSchedule = "*/5 * * * *"

// Sweeper periodically expires stale PENDING workflows on a cron schedule.
type Sweeper struct {
	cron   *cron.Cron
	engine *Engine
	logger *slog.Logger
}

// NewSweeper creates a Sweeper running engine.ExpireStale on schedule,
// a standard five-field cron expression.
func NewSweeper(engine *Engine, schedule string, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		cron:   cron.New(),
		engine: engine,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start starts the cron scheduler in its own goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("workflow sweeper started")
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("workflow sweeper stopped")
}

// Sweep runs one expiry pass and returns the number of workflows expired.
func (s *Sweeper) Sweep(ctx context.Context) int {
	n, err := s.engine.ExpireStale(ctx)
	if err != nil {
		s.logger.Warn("workflow sweep failed", "expired", n, "error", err)
		return n
	}
	if n > 0 {
		s.logger.Info("workflow sweep", "expired", n)
	}
	return n
}
