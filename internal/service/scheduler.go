package service

import (
	"context"
	"time"

	"autoforwardx/internal/constants"

	"github.com/sirupsen/logrus"
)

// DeliveryLogCleaner deletes delivery log entries older than a cutoff.
type DeliveryLogCleaner interface {
	CleanupDeliveryLogs(ctx context.Context, before time.Time) (int64, error)
}

type Scheduler struct {
	store         DeliveryLogCleaner
	retentionDays int
	intervalHours int
	logger        *logrus.Logger
	stopCh        chan struct{}
	now           func() time.Time
}

func NewScheduler(store DeliveryLogCleaner, retentionDays, intervalHours int, logger *logrus.Logger) *Scheduler {
	if retentionDays <= 0 {
		retentionDays = constants.DefaultRetentionDays
	}
	if intervalHours <= 0 {
		intervalHours = constants.DefaultCleanupIntervalHours
	}
	return &Scheduler{
		store:         store,
		retentionDays: retentionDays,
		intervalHours: intervalHours,
		logger:        logger,
		stopCh:        make(chan struct{}),
		now:           time.Now,
	}
}

// Start runs one cleanup immediately and then on every tick until ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.intervalHours) * time.Hour)
	defer ticker.Stop()

	s.logger.Info("Starting cleanup scheduler")

	s.runCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	cutoff := s.now().UTC().AddDate(0, 0, -s.retentionDays)
	s.logger.WithField("retention_days", s.retentionDays).Info("Running scheduled cleanup")

	removed, err := s.store.CleanupDeliveryLogs(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("Failed to cleanup old delivery logs")
		return
	}
	s.logger.WithField("removed", removed).Info("Successfully completed cleanup")
}
