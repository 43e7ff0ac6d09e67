// Package rotation reselects the active jury on a cron schedule.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"juryflow/jury"
)

// Reselector is implemented by *court.Court.
type Reselector interface {
	Reselect(ctx context.Context) ([]uint64, error)
}

// Scheduler calls Reselect on every tick of a cron spec. Ticks that arrive
// before the swap interval has elapsed are skipped quietly.
type Scheduler struct {
	cron   *cron.Cron
	target Reselector
	logger *zap.Logger

	mu    sync.Mutex
	ctx   context.Context
	stats Stats
}

// Stats counts scheduler outcomes since start.
type Stats struct {
	Rotations int
	Skipped   int
	Failures  int
}

func New(spec string, target Reselector, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cron:   cron.New(),
		target: target,
		logger: logger.With(zap.String("component", "rotation")),
		ctx:    context.Background(),
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("rotation: schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	ids, err := s.target.Reselect(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err == nil:
		s.stats.Rotations++
		s.logger.Info("active jury rotated", zap.Uint64s("active_jury", ids))
	case errors.Is(err, jury.ErrSwapTooEarly):
		s.stats.Skipped++
		s.logger.Debug("rotation skipped", zap.Error(err))
	default:
		s.stats.Failures++
		s.logger.Error("rotation failed", zap.Error(err))
	}
}

// Run starts the cron loop and blocks until ctx is done, then waits for a
// running tick to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("rotation scheduler started")
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("rotation scheduler stopped")
	return nil
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
