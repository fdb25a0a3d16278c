package moderation

import (
	"context"
	"sync"
	"time"
)

// Scheduler runs the sweep on a fixed interval until Stop is called.
type Scheduler struct {
	sweeper  *Sweeper
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewScheduler(sweeper *Sweeper, interval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		sweeper:  sweeper,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Scheduler) Start() {
	if s.interval <= 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.sweeper.Run(s.ctx); err != nil && s.ctx.Err() == nil {
					s.sweeper.logger.Error().Err(err).Msg("scheduled sweep failed")
				}
			}
		}
	}()
	s.sweeper.logger.Info().Dur("interval", s.interval).Msg("moderation scheduler started")
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}
