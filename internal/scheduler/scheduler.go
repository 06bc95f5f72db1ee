// Package scheduler periodically looks for projects past their end date and
// hands them to moderators for a reward or delete decision.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"activist-bot/internal/engine"
	"activist-bot/internal/models"
)

// Notifier tells moderators that a project has ended.
type Notifier interface {
	NotifyExpired(ref models.ProjectRef, p *models.Project) error
}

// Source lists expired projects.
type Source interface {
	ExpiredProjects(now time.Time) ([]engine.ProjectEntry, error)
}

type Scheduler struct {
	src      Source
	notifier Notifier
	interval time.Duration
	now      func() time.Time
	log      *zap.Logger

	mu sync.Mutex
	// notified maps a project reference to the day it was last announced.
	notified map[string]string
}

type Option func(*Scheduler)

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(src Source, n Notifier, interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		src:      src,
		notifier: n,
		interval: interval,
		now:      time.Now,
		log:      zap.NewNop(),
		notified: map[string]string{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run checks once immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	s.Tick(s.now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.Tick(s.now())
		}
	}
}

// Tick announces every expired project not yet announced today and returns
// how many notices went out.
func (s *Scheduler) Tick(now time.Time) int {
	expired, err := s.src.ExpiredProjects(now)
	if err != nil {
		s.log.Error("expired projects lookup failed", zap.Error(err))
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	day := now.Format("2006-01-02")
	seen := make(map[string]bool, len(expired))
	sent := 0
	for _, en := range expired {
		key := en.Ref.String()
		seen[key] = true
		if s.notified[key] == day {
			continue
		}
		if err := s.notifier.NotifyExpired(en.Ref, en.Project); err != nil {
			s.log.Warn("expiry notice failed", zap.Stringer("project", en.Ref), zap.Error(err))
			continue
		}
		s.notified[key] = day
		sent++
	}
	// Forget projects that were terminated or got a new date.
	for key := range s.notified {
		if !seen[key] {
			delete(s.notified, key)
		}
	}
	if sent > 0 {
		s.log.Info("expiry notices sent", zap.Int("count", sent))
	}
	return sent
}
