package balance

import (
	"context"
	"fmt"
	"sync"

	"broker-client/pkg/logging"
	"broker-client/pkg/session"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule refreshes the cache every 30 minutes.
const DefaultSchedule = "@every 30m"

// Scheduler periodically calls Refresh(false) while a session is stored.
type Scheduler struct {
	cron     *cron.Cron
	cache    *Cache
	sessions *session.Store
	schedule string
	logger   *logging.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler for cache. An empty schedule uses
// DefaultSchedule. Six-field specs with seconds are accepted.
func NewScheduler(cache *Cache, sessions *session.Store, schedule string) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		cache:    cache,
		sessions: sessions,
		schedule: schedule,
		logger:   logging.Global().Named("balance.scheduler"),
	}
}

// Start registers the refresh job and starts the cron loop. Jobs run with a
// context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, s.RunNow); err != nil {
		return fmt.Errorf("balance: register refresh schedule %q: %w", s.schedule, err)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("schedule", s.schedule))
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunNow runs one scheduled tick immediately.
func (s *Scheduler) RunNow() {
	ctx := s.jobContext()
	if ctx.Err() != nil {
		return
	}

	sess, err := s.sessions.Load(ctx)
	if err != nil {
		s.logger.Warn("failed to load session", zap.Error(err))
		return
	}
	if !sess.Authenticated() {
		s.logger.Debug("no session, skipping refresh")
		return
	}
	if err := s.cache.Refresh(ctx, false); err != nil {
		s.logger.Warn("scheduled refresh failed", zap.Error(err))
	}
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}
