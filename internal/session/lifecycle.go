package session

import (
	"context"
	"fmt"
	"time"

	"autoforwardx/internal/constants"
	apperrors "autoforwardx/internal/errors"
	"autoforwardx/internal/metrics"
	"autoforwardx/internal/models"
	"autoforwardx/internal/tracing"

	"github.com/sirupsen/logrus"
)

const statusWriteTimeout = 5 * time.Second

// connectAndSupervise performs the synchronous first connect and hands the
// account to its supervisor goroutine.
func (m *Manager) connectAndSupervise(ctx context.Context, s *accountSession) error {
	err := m.connect(ctx, s)
	switch {
	case err == nil:
		m.transition(s, models.AccountConnected, "", nil)
		m.startSupervisor(s, true)
		return nil
	case apperrors.HasCode(err, apperrors.ErrCodeSessionAuth):
		m.transition(s, models.AccountError, err.Error(), nil)
		return err
	default:
		m.transition(s, models.AccountDisconnected, err.Error(), nil)
		m.startSupervisor(s, false)
		return apperrors.WrapRetryable(err, apperrors.ErrCodeSessionUnavailable, "account connect failed, reconnecting in background")
	}
}

// connect builds a fresh client and connects it within the probe timeout.
func (m *Manager) connect(ctx context.Context, s *accountSession) error {
	factory := m.factories[s.account.Platform]
	client, err := factory(s.account)
	if err != nil {
		if _, ok := apperrors.As(err); ok {
			return err
		}
		return apperrors.NewSessionAuthError(string(s.account.Platform), err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		_ = client.Close()
		if _, ok := apperrors.As(err); !ok {
			err = apperrors.WrapRetryable(err, apperrors.ErrCodeSessionUnavailable, "connect failed")
		}
		return err
	}

	s.mu.Lock()
	s.client = client
	s.health.ConsecutiveFailures = 0
	s.health.LastSuccessfulProbe = time.Now()
	s.health.LastError = ""
	s.mu.Unlock()
	return nil
}

func (m *Manager) startSupervisor(s *accountSession, connected bool) {
	ctx, cancel := context.WithCancel(m.baseCtx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.fatal = make(chan string, 1)
	s.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(done)
		m.supervise(ctx, s, connected)
	}()
}

func (m *Manager) stopSupervisor(s *accountSession) {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done, s.fatal = nil, nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// supervise drives disconnected -> reconnecting -> (connected | disconnected | error).
func (m *Manager) supervise(ctx context.Context, s *accountSession, connected bool) {
	for {
		if connected {
			reason, fatal := m.runConnected(ctx, s)
			m.closeClient(s)
			if ctx.Err() != nil {
				return
			}
			if fatal {
				m.transition(s, models.AccountError, reason, nil)
				return
			}
			m.transition(s, models.AccountDisconnected, reason, nil)
		}

		delay := s.backoff.Next()
		retryAt := time.Now().Add(delay)
		m.transition(s, models.AccountReconnecting, fmt.Sprintf("attempt %d", s.backoff.Attempt()), &retryAt)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		err := m.connect(ctx, s)
		switch {
		case err == nil:
			s.backoff.Reset()
			m.transition(s, models.AccountConnected, "", nil)
			connected = true
		case ctx.Err() != nil:
			return
		case apperrors.HasCode(err, apperrors.ErrCodeSessionAuth):
			m.transition(s, models.AccountError, err.Error(), nil)
			return
		default:
			m.logger.WithError(err).WithFields(logrus.Fields{
				constants.LogFieldAccountID: s.account.ID,
				constants.LogFieldAttempt:   s.backoff.Attempt(),
			}).Warn("Reconnect attempt failed")
			m.transition(s, models.AccountDisconnected, err.Error(), nil)
			connected = false
		}
	}
}

// runConnected runs the listener and the health ticker until the session
// stops being healthy. fatal reports a credential rejection.
func (m *Manager) runConnected(ctx context.Context, s *accountSession) (reason string, fatal bool) {
	client := s.currentClient()
	if client == nil {
		return "client missing", false
	}
	s.mu.Lock()
	fatalCh := s.fatal
	s.mu.Unlock()

	listenCtx, stopListener := context.WithCancel(ctx)
	listenErr := make(chan error, 1)
	go func() { listenErr <- client.Listen(listenCtx, m.dispatchFor(s)) }()

	listenerDone := false
	defer func() {
		stopListener()
		if !listenerDone {
			<-listenErr
		}
	}()

	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", false
		case err := <-listenErr:
			listenerDone = true
			if ctx.Err() != nil {
				return "", false
			}
			if err == nil {
				return "listener stopped", false
			}
			return "listener stopped: " + err.Error(), apperrors.HasCode(err, apperrors.ErrCodeSessionAuth)
		case reason := <-fatalCh:
			return reason, true
		case <-ticker.C:
			status, err := m.probeClient(ctx, s, client)
			failures := m.recordProbe(s, status)
			if status.Healthy {
				continue
			}
			if apperrors.HasCode(err, apperrors.ErrCodeSessionAuth) {
				return status.Error, true
			}
			if failures >= m.cfg.FailureThreshold {
				return fmt.Sprintf("health check failed %d times: %s", failures, status.Error), false
			}
		}
	}
}

func (m *Manager) probeClient(ctx context.Context, s *accountSession, client Client) (models.HealthStatus, error) {
	ctx, span := tracing.StartSpan(ctx, "session.probe", tracing.AttrAccountID.String(s.account.ID))
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := client.Probe(probeCtx)
	latency := time.Since(start)
	metrics.ObserveProbe(string(s.account.Platform), latency, err)
	tracing.EndSpan(span, err)

	status := models.HealthStatus{
		AccountID: s.account.ID,
		Healthy:   err == nil,
		Latency:   latency,
		CheckedAt: time.Now(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status, err
}

// recordProbe updates the failure counter and returns its new value.
func (m *Manager) recordProbe(s *accountSession, status models.HealthStatus) int {
	s.mu.Lock()
	if status.Healthy {
		s.health.ConsecutiveFailures = 0
		s.health.LastSuccessfulProbe = status.CheckedAt
		s.health.LastError = ""
	} else {
		s.health.ConsecutiveFailures++
		s.health.LastError = status.Error
	}
	failures := s.health.ConsecutiveFailures
	stillConnected := s.health.Status == models.AccountConnected
	s.mu.Unlock()

	fields := logrus.Fields{
		constants.LogFieldAccountID: s.account.ID,
		constants.LogFieldFailures:  failures,
		constants.LogFieldDuration:  status.Latency.Milliseconds(),
	}
	if status.Healthy {
		m.logger.WithFields(fields).Debug("Account health check passed")
		if stillConnected {
			seen := status.CheckedAt
			m.persistStatus(s, models.AccountConnected, "", &seen)
		}
	} else {
		m.logger.WithFields(fields).WithField("error", status.Error).Warn("Account health check failed")
	}
	return failures
}

// transition records, persists and publishes a status change.
func (m *Manager) transition(s *accountSession, status models.AccountStatus, reason string, nextRetryAt *time.Time) {
	s.mu.Lock()
	previous := s.health.Status
	s.health.Status = status
	switch status {
	case models.AccountConnected:
		s.health.ReconnectAttempt = 0
		s.health.NextReconnectAt = time.Time{}
	case models.AccountReconnecting:
		s.health.ReconnectAttempt = s.backoff.Attempt()
		if nextRetryAt != nil {
			s.health.NextReconnectAt = *nextRetryAt
		}
	}
	if reason != "" && status != models.AccountReconnecting {
		s.health.LastError = reason
	}
	s.mu.Unlock()

	if previous == status && status != models.AccountReconnecting {
		return
	}

	var lastSeen *time.Time
	if status == models.AccountConnected {
		now := time.Now()
		lastSeen = &now
	}
	m.persistStatus(s, status, reason, lastSeen)
	metrics.RecordSessionTransition(string(s.account.Platform), string(status))

	m.logger.WithFields(logrus.Fields{
		constants.LogFieldAccountID:  s.account.ID,
		constants.LogFieldUserID:     s.account.UserID,
		constants.LogFieldPlatform:   s.account.Platform,
		constants.LogFieldStatus:     status,
		constants.LogFieldPrevStatus: previous,
	}).Info("Account session status changed")

	if m.publisher != nil {
		m.publisher.Publish(models.Event{
			Type:   models.EventSessionUpdate,
			UserID: s.account.UserID,
			Payload: models.SessionUpdate{
				AccountID:      s.account.ID,
				Platform:       s.account.Platform,
				Status:         status,
				PreviousStatus: previous,
				Reason:         reason,
				NextRetryAt:    nextRetryAt,
			},
		})
	}
}

func (m *Manager) persistStatus(s *accountSession, status models.AccountStatus, reason string, lastSeen *time.Time) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()
	if err := m.store.UpdateAccountStatus(ctx, s.account.ID, status, reason, lastSeen); err != nil {
		m.errLog.LogWarn(err, "Failed to persist account status", logrus.Fields{
			constants.LogFieldAccountID: s.account.ID,
			constants.LogFieldStatus:    status,
		})
	}
}
