package session

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper runs Manager.Sweep on a cron schedule
type Sweeper struct {
	cron    *cron.Cron
	manager *Manager
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	onSweep func(evicted int)
}

// NewSweeper schedules idle eviction, e.g. "@every 1m". onSweep may be nil.
func NewSweeper(manager *Manager, schedule string, logger *zap.Logger, onSweep func(evicted int)) (*Sweeper, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sweeper{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		manager: manager,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		onSweep: onSweep,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

// Start begins the schedule in the background
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("session sweeper started")
}

// Stop halts the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("session sweeper stopped")
}

func (s *Sweeper) run() {
	n, err := s.manager.Sweep(s.ctx)
	if err != nil {
		s.logger.Warn("session sweep failed", zap.Error(err))
	}
	if n > 0 {
		s.logger.Info("evicted idle sessions", zap.Int("count", n))
	}
	if s.onSweep != nil {
		s.onSweep(n)
	}
}
