package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/pautahq/newsbot/internal/store"
)

// FeedLister enumerates feeds eligible for scheduled refresh.
type FeedLister interface {
	ActiveFeeds(ctx context.Context) ([]*store.Feed, error)
}

// Scheduler periodically refreshes every active feed.
type Scheduler struct {
	service  *Service
	feeds    FeedLister
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler that refreshes active feeds every interval.
func NewScheduler(service *Service, feeds FeedLister, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{service: service, feeds: feeds, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled, refreshing all active feeds on each tick.
// The first pass runs after one full interval, not immediately.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("feed refresh scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("feed refresh scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce refreshes each active feed sequentially. Failures are logged and do
// not stop the pass.
func (s *Scheduler) runOnce(ctx context.Context) {
	feeds, err := s.feeds.ActiveFeeds(ctx)
	if err != nil {
		s.logger.Warn("listing active feeds failed", "error", err)
		return
	}

	for _, f := range feeds {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.service.RefreshFeed(ctx, f.ID); err != nil {
			s.logger.Warn("scheduled refresh failed", "feed_id", f.ID, "error", err)
		}
	}
}
