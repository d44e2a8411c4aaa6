package service

import (
	"context"
	"time"

	"autoforwardx/internal/metrics"

	"github.com/sirupsen/logrus"
)

// BacklogCounter reports queued tasks that are late.
type BacklogCounter interface {
	Overdue(threshold time.Duration) int
}

// DeliveryMonitor periodically reports tasks stuck in pair queues well past
// their scheduled time.
type DeliveryMonitor struct {
	queue          BacklogCounter
	checkInterval  time.Duration
	staleThreshold time.Duration
	logger         *logrus.Logger
	stopCh         chan struct{}
}

func NewDeliveryMonitor(queue BacklogCounter, checkInterval, staleThreshold time.Duration, logger *logrus.Logger) *DeliveryMonitor {
	return &DeliveryMonitor{
		queue:          queue,
		checkInterval:  checkInterval,
		staleThreshold: staleThreshold,
		logger:         logger,
		stopCh:         make(chan struct{}),
	}
}

func (m *DeliveryMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	m.logger.WithFields(logrus.Fields{
		"check_interval":  m.checkInterval,
		"stale_threshold": m.staleThreshold,
	}).Info("Starting delivery monitor")

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkBacklog()
		}
	}
}

func (m *DeliveryMonitor) Stop() {
	close(m.stopCh)
}

func (m *DeliveryMonitor) checkBacklog() int {
	count := m.queue.Overdue(m.staleThreshold)
	metrics.SetOverdueTasks(count)
	if count > 0 {
		m.logger.WithFields(logrus.Fields{
			"overdue_count": count,
			"threshold":     m.staleThreshold,
		}).Warn("Queued tasks are overdue; check halted pairs and account throttles")
	}
	return count
}
