package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"autoforwardx/internal/database"
	apperrors "autoforwardx/internal/errors"
	"autoforwardx/internal/events"
	"autoforwardx/internal/features"
	"autoforwardx/internal/models"
	"autoforwardx/internal/registry"
	"autoforwardx/internal/session"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc         *Service
	store       *database.MemoryStore
	sessions    *mockSessions
	dispatcher  *mockDispatcher
	broadcaster *events.Broadcaster
	flags       *features.FlagManager
	caller      models.Caller
}

func newFixture(t *testing.T, plan models.PlanTier) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store := database.NewMemoryStore()
	broadcaster := events.NewBroadcaster(16, logger)
	reg := registry.New(store, broadcaster, 3, logger)
	sessions := &mockSessions{}
	dispatcher := &mockDispatcher{}
	flags := features.NewFlagManager()

	ctx := context.Background()
	_, err := store.EnsureUser(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, store.SetUserPlan(ctx, "user-1", plan, nil))

	return &fixture{
		svc:         NewService(store, sessions, reg, dispatcher, broadcaster, flags, 25, logger),
		store:       store,
		sessions:    sessions,
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		flags:       flags,
		caller:      models.Caller{UserID: "user-1"},
	}
}

func (f *fixture) addAccount(t *testing.T, id, userID string, platform models.Platform) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.store.CreateAccount(context.Background(), &models.Account{
		ID:        id,
		UserID:    userID,
		Platform:  platform,
		Status:    models.AccountConnected,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func (f *fixture) addPair(t *testing.T, pair models.ForwardingPair) {
	t.Helper()
	if pair.UserID == "" {
		pair.UserID = "user-1"
	}
	if pair.Status == "" {
		pair.Status = models.PairActive
	}
	if pair.SourcePlatform == "" {
		pair.SourcePlatform = models.PlatformTelegram
	}
	if pair.DestPlatform == "" {
		pair.DestPlatform = models.PlatformTelegram
	}
	require.NoError(t, f.store.CreatePair(context.Background(), &pair))
}

// staleAccountCounts reports the account counts as they were before another
// server instance wrote to the shared store.
type staleAccountCounts struct {
	*database.MemoryStore
}

func (staleAccountCounts) CountAccountsByPlatform(context.Context, string) (map[models.Platform]int, error) {
	return map[models.Platform]int{}, nil
}

func TestAddAccount(t *testing.T) {
	t.Run("connects and persists", func(t *testing.T) {
		f := newFixture(t, models.PlanFree)
		f.sessions.On("Register", mock.Anything, mock.AnythingOfType("models.Account")).Return(nil).Once()

		account, err := f.svc.AddAccount(context.Background(), f.caller, models.AccountSpec{
			Platform:    models.PlatformTelegram,
			DisplayName: " news bot ",
			Credential:  "123456:secret",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, account.ID)
		assert.Equal(t, "user-1", account.UserID)
		assert.Equal(t, "news bot", account.DisplayName)
		assert.Equal(t, models.AccountConnecting, account.Status)

		accounts, err := f.svc.ListAccounts(context.Background(), f.caller)
		require.NoError(t, err)
		assert.Len(t, accounts, 1)
		f.sessions.AssertExpectations(t)
	})

	t.Run("plan account limit", func(t *testing.T) {
		f := newFixture(t, models.PlanFree)
		f.sessions.On("Register", mock.Anything, mock.Anything).Return(nil)
		ctx := context.Background()

		_, err := f.svc.AddAccount(ctx, f.caller, models.AccountSpec{Platform: models.PlatformTelegram, Credential: "1:a"})
		require.NoError(t, err)

		_, err = f.svc.AddAccount(ctx, f.caller, models.AccountSpec{Platform: models.PlatformTelegram, Credential: "2:b"})
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePlanLimitExceeded))

		_, err = f.svc.AddAccount(ctx, f.caller, models.AccountSpec{Platform: models.PlatformDiscord, Credential: "token"})
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePlanLimitExceeded))

		accounts, err := f.store.ListAccounts(ctx, "user-1")
		require.NoError(t, err)
		assert.Len(t, accounts, 1)
		f.sessions.AssertNumberOfCalls(t, "Register", 1)
	})

	t.Run("cap holds when counts lag another instance", func(t *testing.T) {
		f := newFixture(t, models.PlanFree)
		f.sessions.On("Register", mock.Anything, mock.Anything).Return(nil)
		f.addAccount(t, "tg-other", "user-1", models.PlatformTelegram)
		ctx := context.Background()

		logger := logrus.New()
		logger.SetLevel(logrus.ErrorLevel)
		lagging := NewService(staleAccountCounts{f.store}, f.sessions,
			registry.New(f.store, nil, 3, logger), f.dispatcher, f.broadcaster, f.flags, 25, logger)

		_, err := lagging.AddAccount(ctx, f.caller, models.AccountSpec{Platform: models.PlatformTelegram, Credential: "2:b"})
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePlanLimitExceeded))

		accounts, err := f.store.ListAccounts(ctx, "user-1")
		require.NoError(t, err)
		assert.Len(t, accounts, 1)
		f.sessions.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
	})

	t.Run("rejected credential rolls back", func(t *testing.T) {
		f := newFixture(t, models.PlanPro)
		authErr := apperrors.NewSessionAuthError("telegram", errors.New("unauthorized"))
		f.sessions.On("Register", mock.Anything, mock.Anything).Return(authErr).Once()
		f.sessions.On("Remove", mock.AnythingOfType("string")).Return().Once()

		_, err := f.svc.AddAccount(context.Background(), f.caller, models.AccountSpec{Platform: models.PlatformTelegram, Credential: "1:bad"})
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionAuth))

		accounts, err := f.store.ListAccounts(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Empty(t, accounts)
		f.sessions.AssertExpectations(t)
	})

	t.Run("transient connect failure keeps account", func(t *testing.T) {
		f := newFixture(t, models.PlanPro)
		unavailable := apperrors.NewTransientDeliveryError("connect", errors.New("connection reset"))
		f.sessions.On("Register", mock.Anything, mock.Anything).Return(unavailable).Once()

		account, err := f.svc.AddAccount(context.Background(), f.caller, models.AccountSpec{Platform: models.PlatformDiscord, Credential: "token"})
		require.NoError(t, err)
		assert.Equal(t, models.PlatformDiscord, account.Platform)
		f.sessions.AssertNotCalled(t, "Remove", mock.Anything)
	})

	tests := []struct {
		name   string
		caller models.Caller
		spec   models.AccountSpec
		code   apperrors.ErrorCode
	}{
		{"missing caller", models.Caller{}, models.AccountSpec{Platform: models.PlatformTelegram, Credential: "1:a"}, apperrors.ErrCodeAuthentication},
		{"unknown platform", models.Caller{UserID: "user-1"}, models.AccountSpec{Platform: "whatsapp", Credential: "x"}, apperrors.ErrCodeValidationFailed},
		{"blank credential", models.Caller{UserID: "user-1"}, models.AccountSpec{Platform: models.PlatformTelegram, Credential: "  "}, apperrors.ErrCodeValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, models.PlanElite)
			_, err := f.svc.AddAccount(context.Background(), tt.caller, tt.spec)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tt.code), "got %s", apperrors.GetCode(err))
			f.sessions.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
		})
	}
}

func TestRemoveAccount(t *testing.T) {
	t.Run("refused while pairs use it", func(t *testing.T) {
		f := newFixture(t, models.PlanPro)
		f.addAccount(t, "tg-1", "user-1", models.PlatformTelegram)
		f.addPair(t, models.ForwardingPair{ID: "p1", SourceAccountID: "tg-1", SourceChatID: "1", DestAccountID: "tg-1", DestChatID: "2"})

		err := f.svc.RemoveAccount(context.Background(), f.caller, "tg-1")
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
		f.sessions.AssertNotCalled(t, "Remove", mock.Anything)
	})

	t.Run("removes unused account", func(t *testing.T) {
		f := newFixture(t, models.PlanPro)
		f.addAccount(t, "tg-1", "user-1", models.PlatformTelegram)
		f.sessions.On("Remove", "tg-1").Return().Once()

		require.NoError(t, f.svc.RemoveAccount(context.Background(), f.caller, "tg-1"))
		_, err := f.store.GetAccount(context.Background(), "tg-1")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
		f.sessions.AssertExpectations(t)
	})

	t.Run("foreign account is not found", func(t *testing.T) {
		f := newFixture(t, models.PlanPro)
		f.addAccount(t, "tg-9", "user-2", models.PlatformTelegram)

		err := f.svc.RemoveAccount(context.Background(), f.caller, "tg-9")
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})
}

func TestReconnectAccount_RegistersWhenNoSession(t *testing.T) {
	f := newFixture(t, models.PlanPro)
	f.addAccount(t, "tg-1", "user-1", models.PlatformTelegram)
	f.sessions.On("Reconnect", mock.Anything, "tg-1").Return(apperrors.NewNotFoundError("session", "tg-1")).Once()
	f.sessions.On("Register", mock.Anything, mock.MatchedBy(func(a models.Account) bool { return a.ID == "tg-1" })).Return(nil).Once()

	account, err := f.svc.ReconnectAccount(context.Background(), f.caller, "tg-1")
	require.NoError(t, err)
	assert.Equal(t, "tg-1", account.ID)
	f.sessions.AssertExpectations(t)
}

func TestReconnectAccount_ReturnsAuthFailure(t *testing.T) {
	f := newFixture(t, models.PlanPro)
	f.addAccount(t, "tg-1", "user-1", models.PlatformTelegram)
	f.sessions.On("Reconnect", mock.Anything, "tg-1").
		Return(apperrors.NewSessionAuthError("telegram", errors.New("revoked"))).Once()

	_, err := f.svc.ReconnectAccount(context.Background(), f.caller, "tg-1")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionAuth))
}

func TestAccountHealth(t *testing.T) {
	f := newFixture(t, models.PlanPro)
	f.addAccount(t, "tg-1", "user-1", models.PlatformTelegram)
	f.addAccount(t, "tg-2", "user-1", models.PlatformTelegram)

	live := models.HealthRecord{AccountID: "tg-1", Status: models.AccountConnected, ConsecutiveFailures: 0}
	f.sessions.On("Health", "tg-1").Return(live, nil)
	f.sessions.On("Health", "tg-2").Return(models.HealthRecord{}, apperrors.NewNotFoundError("session", "tg-2"))

	record, err := f.svc.AccountHealth(context.Background(), f.caller, "tg-1")
	require.NoError(t, err)
	assert.Equal(t, live, record)

	record, err = f.svc.AccountHealth(context.Background(), f.caller, "tg-2")
	require.NoError(t, err)
	assert.Equal(t, "tg-2", record.AccountID)
	assert.Equal(t, models.AccountConnected, record.Status)
}

func TestListDeliveries(t *testing.T) {
	f := newFixture(t, models.PlanPro)
	ctx := context.Background()
	f.addPair(t, models.ForwardingPair{ID: "p1", SourceAccountID: "tg-1", SourceChatID: "1", DestAccountID: "tg-1", DestChatID: "2"})
	f.addPair(t, models.ForwardingPair{ID: "p9", UserID: "user-2", SourceAccountID: "tg-9", SourceChatID: "1", DestAccountID: "tg-9", DestChatID: "2"})
	for _, id := range []string{"10", "11", "12"} {
		require.NoError(t, f.store.InsertDeliveryLog(ctx, &models.DeliveryLog{
			PairID: "p1", UserID: "user-1", SourceMessageID: id, Status: models.DeliveryDelivered,
		}))
	}

	logs, err := f.svc.ListDeliveries(ctx, f.caller, "p1", 0)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "12", logs[0].SourceMessageID, "newest first")

	logs, err = f.svc.ListDeliveries(ctx, f.caller, "p1", 2)
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	_, err = f.svc.ListDeliveries(ctx, f.caller, "p9", 10)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestGetLimits(t *testing.T) {
	f := newFixture(t, models.PlanFree)

	limits, err := f.svc.GetLimits("pro")
	require.NoError(t, err)
	assert.Equal(t, models.PlanPro, limits.Tier)
	assert.Equal(t, 15, limits.MaxPairs[models.ShapeCrossPlatform])

	_, err = f.svc.GetLimits("platinum")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
}

func TestListPairs_EmptyIsNotNil(t *testing.T) {
	f := newFixture(t, models.PlanFree)
	pairs, err := f.svc.ListPairs(context.Background(), f.caller, models.PairFilter{})
	require.NoError(t, err)
	assert.NotNil(t, pairs)
	assert.Empty(t, pairs)
}

func recoveryFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, models.PlanElite)
	f.addAccount(t, "tg-1", "user-1", models.PlatformTelegram)
	f.addAccount(t, "tg-2", "user-1", models.PlatformTelegram)

	f.addPair(t, models.ForwardingPair{ID: "active", SourceAccountID: "tg-1", SourceChatID: "100", DestAccountID: "tg-1", DestChatID: "200", LastSourceMessageID: "41"})
	f.addPair(t, models.ForwardingPair{ID: "paused", Status: models.PairPaused, SourceAccountID: "tg-1", SourceChatID: "101", DestAccountID: "tg-1", DestChatID: "201", LastSourceMessageID: "7"})
	f.addPair(t, models.ForwardingPair{ID: "fresh", SourceAccountID: "tg-1", SourceChatID: "102", DestAccountID: "tg-1", DestChatID: "202"})
	f.addPair(t, models.ForwardingPair{ID: "offline", SourceAccountID: "tg-2", SourceChatID: "103", DestAccountID: "tg-1", DestChatID: "203", LastSourceMessageID: "9"})

	f.sessions.On("Register", mock.Anything, mock.MatchedBy(func(a models.Account) bool { return a.ID == "tg-1" })).Return(nil)
	f.sessions.On("Register", mock.Anything, mock.MatchedBy(func(a models.Account) bool { return a.ID == "tg-2" })).
		Return(apperrors.NewSessionAuthError("telegram", errors.New("revoked")))
	return f
}

func TestRecover_ReplaysOnlyCheckpointedActivePairs(t *testing.T) {
	f := recoveryFixture(t)
	missed := []models.InboundMessage{
		{AccountID: "tg-1", ChatID: "100", MessageID: "42", Kind: models.MessageNew, Text: "a"},
		{AccountID: "tg-1", ChatID: "100", MessageID: "43", Kind: models.MessageNew, Text: "b"},
	}
	f.sessions.On("History", mock.Anything, "tg-1", "100", "41", 25).Return(missed, nil).Once()
	f.dispatcher.On("Replay", mock.Anything, mock.MatchedBy(func(p models.ForwardingPair) bool { return p.ID == "active" }), missed).
		Return(2, nil).Once()

	report, err := f.svc.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{Accounts: 2, AccountsFailed: 1, Pairs: 4, Replayed: 2}, report)

	f.sessions.AssertNumberOfCalls(t, "History", 1)
	f.dispatcher.AssertExpectations(t)
}

func TestRecover_HistoryFlagOff(t *testing.T) {
	f := recoveryFixture(t)
	require.NoError(t, f.flags.Disable(features.FlagHistoryRecovery))

	report, err := f.svc.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Replayed)
	assert.Equal(t, 1, report.AccountsFailed)
	f.sessions.AssertNotCalled(t, "History", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRecover_UnsupportedHistoryIsSkipped(t *testing.T) {
	f := recoveryFixture(t)
	f.sessions.On("History", mock.Anything, "tg-1", "100", "41", 25).Return(nil, session.ErrUnsupported).Once()

	report, err := f.svc.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Replayed)
	f.dispatcher.AssertNotCalled(t, "Replay", mock.Anything, mock.Anything, mock.Anything)
}

func TestAttach_RoutesInboundToDispatcher(t *testing.T) {
	f := newFixture(t, models.PlanFree)
	var handler session.MessageHandler
	f.sessions.On("SetHandler", mock.Anything).Run(func(args mock.Arguments) {
		handler = args.Get(0).(session.MessageHandler)
	}).Return().Once()

	f.svc.Attach()
	require.NotNil(t, handler)

	msg := models.InboundMessage{AccountID: "tg-1", ChatID: "100", MessageID: "5", Kind: models.MessageNew}
	f.dispatcher.On("Dispatch", mock.Anything, msg).Return(1, nil).Once()
	handler(context.Background(), msg)

	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(0, errors.New("store down")).Once()
	handler(context.Background(), models.InboundMessage{AccountID: "tg-1", ChatID: "100", MessageID: "6"})

	f.dispatcher.AssertExpectations(t)
}

func TestSubscribe_ReceivesPairStatus(t *testing.T) {
	f := newFixture(t, models.PlanPro)
	f.addPair(t, models.ForwardingPair{ID: "p1", SourceAccountID: "tg-1", SourceChatID: "1", DestAccountID: "tg-1", DestChatID: "2"})

	_, err := f.svc.Subscribe(models.Caller{})
	require.Error(t, err)

	sub, err := f.svc.Subscribe(f.caller)
	require.NoError(t, err)
	defer sub.Close()

	pair, err := f.svc.PausePair(context.Background(), f.caller, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.PairPaused, pair.Status)

	select {
	case event := <-sub.Events():
		assert.Equal(t, models.EventPairStatus, event.Type)
		update, ok := event.Payload.(models.PairStatusUpdate)
		require.True(t, ok)
		assert.Equal(t, "p1", update.PairID)
		assert.Equal(t, models.PairPaused, update.Status)
	case <-time.After(time.Second):
		t.Fatal("no pair_status event")
	}
}
