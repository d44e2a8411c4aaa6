package service

import (
	"context"
	"time"

	"autoforwardx/internal/models"
	"autoforwardx/internal/session"

	"github.com/stretchr/testify/mock"
)

type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) SetHandler(handler session.MessageHandler) {
	m.Called(handler)
}

func (m *mockSessions) Register(ctx context.Context, account models.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *mockSessions) Reconnect(ctx context.Context, accountID string) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

func (m *mockSessions) Remove(accountID string) {
	m.Called(accountID)
}

func (m *mockSessions) Health(accountID string) (models.HealthRecord, error) {
	args := m.Called(accountID)
	return args.Get(0).(models.HealthRecord), args.Error(1)
}

func (m *mockSessions) History(ctx context.Context, accountID, chatID, afterID string, limit int) ([]models.InboundMessage, error) {
	args := m.Called(ctx, accountID, chatID, afterID, limit)
	msgs, _ := args.Get(0).([]models.InboundMessage)
	return msgs, args.Error(1)
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, msg models.InboundMessage) (int, error) {
	args := m.Called(ctx, msg)
	return args.Int(0), args.Error(1)
}

func (m *mockDispatcher) Replay(ctx context.Context, pair models.ForwardingPair, msgs []models.InboundMessage) (int, error) {
	args := m.Called(ctx, pair, msgs)
	return args.Int(0), args.Error(1)
}

type mockCleaner struct {
	mock.Mock
}

func (m *mockCleaner) CleanupDeliveryLogs(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

type mockBacklog struct {
	mock.Mock
}

func (m *mockBacklog) Overdue(threshold time.Duration) int {
	args := m.Called(threshold)
	return args.Int(0)
}
