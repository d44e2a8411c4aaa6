package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"autoforwardx/internal/constants"
	apperrors "autoforwardx/internal/errors"
	"autoforwardx/internal/events"
	"autoforwardx/internal/features"
	"autoforwardx/internal/metrics"
	"autoforwardx/internal/models"
	"autoforwardx/internal/retry"
	"autoforwardx/internal/tracing"
	"autoforwardx/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
)

// Config tunes health checks, call timeouts and reconnection.
type Config struct {
	HealthInterval     time.Duration
	ProbeTimeout       time.Duration
	SendTimeout        time.Duration
	FailureThreshold   int
	Reconnect          retry.BackoffConfig
	BreakerMaxFailures int
	BreakerTimeout     time.Duration
}

// ConfigFrom converts the file configuration.
func ConfigFrom(cfg models.SessionConfig) Config {
	return Config{
		HealthInterval:   time.Duration(cfg.HealthCheckIntervalSec) * time.Second,
		ProbeTimeout:     time.Duration(cfg.ProbeTimeoutSec) * time.Second,
		SendTimeout:      time.Duration(cfg.SendTimeoutSec) * time.Second,
		FailureThreshold: cfg.FailureThreshold,
		Reconnect: retry.BackoffConfig{
			InitialDelay: time.Duration(cfg.ReconnectInitialSec) * time.Second,
			MaxDelay:     time.Duration(cfg.ReconnectMaxSec) * time.Second,
			Multiplier:   cfg.ReconnectMultiplier,
		},
		BreakerMaxFailures: cfg.BreakerMaxFailures,
		BreakerTimeout:     time.Duration(cfg.BreakerTimeoutSec) * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.HealthInterval <= 0 {
		c.HealthInterval = constants.DefaultHealthCheckIntervalSec * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = constants.DefaultProbeTimeoutSec * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = constants.DefaultSendTimeoutSec * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = constants.DefaultFailureThreshold
	}
	if c.Reconnect.InitialDelay <= 0 {
		c.Reconnect = retry.ReconnectBackoffConfig()
	}
	// Reconnection never gives up on its own.
	c.Reconnect.MaxAttempts = 0
	if c.BreakerMaxFailures <= 0 {
		c.BreakerMaxFailures = constants.DefaultBreakerMaxFailures
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = constants.DefaultBreakerTimeoutSec * time.Second
	}
	return c
}

// Manager supervises one session per registered account.
type Manager struct {
	cfg       Config
	factories map[models.Platform]ClientFactory
	store     AccountStore
	publisher events.Publisher
	flags     *features.FlagManager
	logger    *logrus.Logger
	errLog    *apperrors.Logger

	handlerMu sync.RWMutex
	handler   MessageHandler

	mu       sync.RWMutex
	sessions map[string]*accountSession

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

type accountSession struct {
	account models.Account
	breaker *circuitbreaker.CircuitBreaker
	backoff *retry.Sequence

	mu     sync.Mutex
	client Client
	health models.HealthRecord
	fatal  chan string
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg Config, factories map[models.Platform]ClientFactory, store AccountStore, publisher events.Publisher, flags *features.FlagManager, logger *logrus.Logger) *Manager {
	if flags == nil {
		flags = features.NewFlagManager()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg.withDefaults(),
		factories: factories,
		store:     store,
		publisher: publisher,
		flags:     flags,
		logger:    logger,
		errLog:    apperrors.NewLogger(logger),
		sessions:  make(map[string]*accountSession),
		baseCtx:   ctx,
		stop:      cancel,
	}
}

// SetHandler installs the receiver of inbound messages from every account.
func (m *Manager) SetHandler(handler MessageHandler) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.handler = handler
}

// Register adds an account and connects it. A credential rejection leaves the
// account in error and is returned; any other failure leaves it reconnecting
// in the background and is returned as retryable.
func (m *Manager) Register(ctx context.Context, account models.Account) error {
	if _, ok := m.factories[account.Platform]; !ok {
		return apperrors.NewValidationError("platform", string(account.Platform), "no client available for platform")
	}

	m.mu.Lock()
	if _, exists := m.sessions[account.ID]; exists {
		m.mu.Unlock()
		return apperrors.NewConflictError("account", account.ID, "account session already registered")
	}
	s := &accountSession{
		account: account,
		backoff: retry.NewSequence(m.cfg.Reconnect),
		health:  models.HealthRecord{AccountID: account.ID},
	}
	s.breaker = circuitbreaker.New(circuitbreaker.Config{
		Name:        "account:" + account.ID,
		MaxFailures: m.cfg.BreakerMaxFailures,
		Timeout:     m.cfg.BreakerTimeout,
		IsFailure:   countsAgainstBreaker,
	}, m.logger)
	m.sessions[account.ID] = s
	m.mu.Unlock()

	m.transition(s, models.AccountConnecting, "", nil)
	return m.connectAndSupervise(ctx, s)
}

// Reconnect is an explicit user retry. It clears error and restarts the
// session from scratch.
func (m *Manager) Reconnect(ctx context.Context, accountID string) error {
	s, ok := m.session(accountID)
	if !ok {
		return apperrors.NewNotFoundError("account session", accountID)
	}

	m.stopSupervisor(s)
	m.closeClient(s)
	s.backoff.Reset()
	s.breaker.Reset()
	s.mu.Lock()
	s.health.ConsecutiveFailures = 0
	s.health.ReconnectAttempt = 0
	s.health.NextReconnectAt = time.Time{}
	s.mu.Unlock()

	m.transition(s, models.AccountConnecting, "manual reconnect", nil)
	return m.connectAndSupervise(ctx, s)
}

// Remove stops the account's goroutines and closes its client.
func (m *Manager) Remove(accountID string) {
	m.mu.Lock()
	s, ok := m.sessions[accountID]
	delete(m.sessions, accountID)
	m.mu.Unlock()
	if !ok {
		return
	}

	m.stopSupervisor(s)
	m.closeClient(s)
	m.logger.WithField(constants.LogFieldAccountID, accountID).Info("Account session removed")
}

// Stop shuts every session down and waits for the goroutines to exit.
func (m *Manager) Stop() {
	m.stop()
	m.wg.Wait()

	m.mu.RLock()
	sessions := make([]*accountSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()
	for _, s := range sessions {
		m.closeClient(s)
	}
}

// Health returns the volatile health record of an account.
func (m *Manager) Health(accountID string) (models.HealthRecord, error) {
	s, ok := m.session(accountID)
	if !ok {
		return models.HealthRecord{}, apperrors.NewNotFoundError("account session", accountID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health, nil
}

// Status returns the current status of an account, or false when unregistered.
func (m *Manager) Status(accountID string) (models.AccountStatus, bool) {
	s, ok := m.session(accountID)
	if !ok {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health.Status, true
}

// Probe checks the account's connection once without touching its failure counter.
func (m *Manager) Probe(ctx context.Context, accountID string) (models.HealthStatus, error) {
	s, ok := m.session(accountID)
	if !ok {
		return models.HealthStatus{}, apperrors.NewNotFoundError("account session", accountID)
	}
	client := s.currentClient()
	if client == nil {
		return models.HealthStatus{AccountID: accountID, Error: "not connected", CheckedAt: time.Now()}, nil
	}
	status, _ := m.probeClient(ctx, s, client)
	return status, nil
}

// Send delivers payload to chatID through the account's client.
func (m *Manager) Send(ctx context.Context, accountID, chatID string, payload models.Payload) (models.DeliveryResult, error) {
	var result models.DeliveryResult
	err := m.invoke(ctx, accountID, "send", func(ctx context.Context, client Client) error {
		var err error
		result, err = client.Send(ctx, chatID, payload)
		return err
	})
	if err != nil {
		return models.DeliveryResult{}, err
	}
	if result.DeliveredAt.IsZero() {
		result.DeliveredAt = time.Now()
	}
	return result, nil
}

// Edit rewrites a delivered message in place. ErrUnsupported is returned when
// the client cannot edit.
func (m *Manager) Edit(ctx context.Context, accountID, chatID, messageID string, payload models.Payload) error {
	return m.invoke(ctx, accountID, "edit", func(ctx context.Context, client Client) error {
		editor, ok := client.(Editor)
		if !ok {
			return ErrUnsupported
		}
		return editor.Edit(ctx, chatID, messageID, payload)
	})
}

// Delete removes a delivered message. ErrUnsupported is returned when the
// client cannot delete.
func (m *Manager) Delete(ctx context.Context, accountID, chatID, messageID string) error {
	return m.invoke(ctx, accountID, "delete", func(ctx context.Context, client Client) error {
		editor, ok := client.(Editor)
		if !ok {
			return ErrUnsupported
		}
		return editor.Delete(ctx, chatID, messageID)
	})
}

// History re-reads chatID after afterID. ErrUnsupported is returned when the
// client keeps no readable history.
func (m *Manager) History(ctx context.Context, accountID, chatID, afterID string, limit int) ([]models.InboundMessage, error) {
	var messages []models.InboundMessage
	err := m.invoke(ctx, accountID, "history", func(ctx context.Context, client Client) error {
		reader, ok := client.(HistoryReader)
		if !ok {
			return ErrUnsupported
		}
		var err error
		messages, err = reader.History(ctx, chatID, afterID, limit)
		return err
	})
	if err != nil {
		return nil, err
	}

	s, _ := m.session(accountID)
	for i := range messages {
		m.stamp(s, &messages[i])
	}
	return messages, nil
}

// ResolveMedia turns a source attachment into a downloadable URL through the
// account that observed it. ErrUnsupported is returned when the client
// cannot resolve files.
func (m *Manager) ResolveMedia(ctx context.Context, accountID string, att models.Attachment) (string, error) {
	var link string
	err := m.invoke(ctx, accountID, "resolve_media", func(ctx context.Context, client Client) error {
		resolver, ok := client.(MediaResolver)
		if !ok {
			return ErrUnsupported
		}
		var err error
		link, err = resolver.ResolveMedia(ctx, att)
		return err
	})
	return link, err
}

// invoke runs one outbound call with the send timeout, the optional circuit
// breaker and error classification.
func (m *Manager) invoke(ctx context.Context, accountID, operation string, call func(ctx context.Context, client Client) error) error {
	s, ok := m.session(accountID)
	if !ok {
		return apperrors.NewSessionUnavailableError(accountID, "unregistered")
	}

	s.mu.Lock()
	client, status := s.client, s.health.Status
	s.mu.Unlock()
	if client == nil || status != models.AccountConnected {
		return apperrors.NewSessionUnavailableError(accountID, string(status))
	}

	ctx, span := tracing.StartSpan(ctx, "session."+operation,
		tracing.AttrAccountID.String(accountID),
		tracing.AttrPlatform.String(string(s.account.Platform)),
	)
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
	defer cancel()

	start := time.Now()
	var err error
	if m.flags.IsEnabled(features.FlagSendCircuitBreaker) {
		err = s.breaker.Execute(callCtx, func(ctx context.Context) error { return call(ctx, client) })
	} else {
		err = call(callCtx, client)
	}
	if operation == "send" {
		metrics.ObserveSend(string(s.account.Platform), time.Since(start), err)
	}

	err = m.classify(ctx, callCtx, s, operation, err)
	tracing.EndSpan(span, err)
	return err
}

func (m *Manager) classify(parent, callCtx context.Context, s *accountSession, operation string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnsupported):
		return err
	case circuitbreaker.IsOpen(err):
		return apperrors.NewTransientDeliveryError(operation, err)
	case apperrors.HasCode(err, apperrors.ErrCodeSessionAuth):
		m.markFatal(s, err.Error())
		return err
	case parent.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return apperrors.NewTimeoutError(operation, m.cfg.SendTimeout.String())
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	return apperrors.NewTransientDeliveryError(operation, err)
}

func countsAgainstBreaker(err error) bool {
	if errors.Is(err, ErrUnsupported) {
		return false
	}
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeDeliveryPermanent, apperrors.ErrCodeRateLimitExceeded, apperrors.ErrCodeMediaUnavailable:
		return false
	}
	return true
}

func (m *Manager) session(accountID string) (*accountSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[accountID]
	return s, ok
}

func (s *accountSession) currentClient() Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

func (m *Manager) closeClient(s *accountSession) {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		m.logger.WithError(err).WithField(constants.LogFieldAccountID, s.account.ID).Debug("Failed to close platform client")
	}
}

// markFatal asks the supervisor to move the account to error.
func (m *Manager) markFatal(s *accountSession, reason string) {
	s.mu.Lock()
	fatal := s.fatal
	s.mu.Unlock()
	if fatal == nil {
		return
	}
	select {
	case fatal <- reason:
	default:
	}
}

// stamp fills the account-level fields of an inbound message.
func (m *Manager) stamp(s *accountSession, msg *models.InboundMessage) {
	if s != nil {
		msg.AccountID = s.account.ID
		msg.Platform = s.account.Platform
	}
	if msg.ArrivedAt.IsZero() {
		msg.ArrivedAt = time.Now()
	}
	if msg.Kind == "" {
		msg.Kind = models.MessageNew
	}
}

func (m *Manager) dispatchFor(s *accountSession) MessageHandler {
	return func(ctx context.Context, msg models.InboundMessage) {
		m.stamp(s, &msg)
		m.handlerMu.RLock()
		handler := m.handler
		m.handlerMu.RUnlock()
		if handler != nil {
			handler(ctx, msg)
		}
	}
}
