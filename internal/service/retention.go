package service

import (
	"context"
	"time"

	"github.com/timmy/listingsync/internal/logger"
)

// RetentionService periodically deletes audit log entries older than the
// retention window.
type RetentionService struct {
	purger    LogPurger
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

// NewRetentionService creates a sweeper. A non-positive retention disables it.
func NewRetentionService(purger LogPurger, retentionDays int, interval time.Duration) *RetentionService {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &RetentionService{
		purger:    purger,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  interval,
		now:       time.Now,
	}
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (s *RetentionService) Run(ctx context.Context) {
	if s.retention <= 0 {
		logger.CtxInfo(ctx, "Log retention disabled")
		return
	}
	ctx = logger.SetComponent(ctx, "retention")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Log retention sweep failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce deletes expired entries and returns how many were removed.
func (s *RetentionService) SweepOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	n, err := s.purger.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.With(logger.Fields{"cutoff": cutoff}).WithCount(int(n)).Info(ctx, "Purged expired log entries")
	}
	return n, nil
}
