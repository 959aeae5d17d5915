package campaign

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"whatspro/pkg/logx"
)

// Scheduler starts scheduled campaigns once their start time has passed.
// It polls rather than arming one timer per campaign: due detection then
// survives restarts for free, from the persisted scheduled_at column.
type Scheduler struct {
	m    *Manager
	cron *cron.Cron
	log  logx.Logger
}

func NewScheduler(m *Manager, log logx.Logger) *Scheduler {
	return &Scheduler{m: m, cron: cron.New(), log: log}
}

func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc("@every 1m", func() { s.tick(ctx) })
	if err != nil {
		return err
	}
	s.cron.Start()
	// Campaigns that came due while the process was down start now.
	s.tick(ctx)
	return nil
}

func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.m.store.ListDueCampaigns(ctx, time.Now())
	if err != nil {
		s.log.Error("list due campaigns", logx.Err(err))
		return
	}
	for i := range due {
		c := &due[i]
		if err := s.m.Start(ctx, c.ID); err != nil {
			// No ready session yet: leave it scheduled, the next tick
			// retries.
			if errors.Is(err, ErrNoReadySessions) {
				s.log.Warn("scheduled campaign waiting for a ready session",
					logx.String("campaign", c.ID))
				continue
			}
			s.log.Error("start scheduled campaign",
				logx.String("campaign", c.ID), logx.Err(err))
			continue
		}
		s.log.Info("scheduled campaign started", logx.String("campaign", c.ID))
	}
}
