package integration_test

import (
	"context"
	"io"
	"testing"
	"time"

	"autoforwardx/internal/database"
	"autoforwardx/internal/events"
	"autoforwardx/internal/features"
	"autoforwardx/internal/models"
	"autoforwardx/internal/queue"
	"autoforwardx/internal/registry"
	"autoforwardx/internal/retry"
	"autoforwardx/internal/service"
	"autoforwardx/internal/session"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// TestEnvironment is a fully wired engine over a fake platform network.
type TestEnvironment struct {
	t       *testing.T
	Store   database.Repository
	Network *FakeNetwork
	Flags   *features.FlagManager
	Events  *events.Broadcaster

	Registry *registry.Registry
	Sessions *session.Manager
	Queue    *queue.Queue
	Service  *service.Service

	logger  *logrus.Logger
	stopped bool
}

// NewTestEnvironment builds the engine. Components are stopped and the store
// closed when the test ends.
func NewTestEnvironment(t *testing.T, opts *TestDatabaseOptions) *TestEnvironment {
	t.Helper()

	store, closeStore := NewTestDatabase(t, opts)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	env := &TestEnvironment{
		t:       t,
		Store:   store,
		Network: NewFakeNetwork(),
		Flags:   features.NewFlagManager(),
		logger:  logger,
	}
	env.start()

	t.Cleanup(func() {
		env.Stop()
		closeStore()
	})
	return env
}

func (env *TestEnvironment) start() {
	env.Events = events.NewBroadcaster(64, env.logger)
	env.Registry = registry.New(env.Store, env.Events, 3, env.logger)

	factories := map[models.Platform]session.ClientFactory{
		models.PlatformTelegram: env.Network.Factory(),
		models.PlatformDiscord:  env.Network.Factory(),
	}
	env.Sessions = session.NewManager(session.Config{HealthInterval: time.Hour}, factories, env.Store, env.Events, env.Flags, env.logger)

	env.Queue = queue.New(queue.Config{
		Retry: retry.BackoffConfig{
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     50 * time.Millisecond,
			Multiplier:   2,
			MaxAttempts:  3,
		},
		MaxInFlightPerUser: 4,
		Throttle: queue.ThrottleConfig{
			PerMinute: map[models.Platform]int{
				models.PlatformTelegram: 6000,
				models.PlatformDiscord:  6000,
			},
			Burst: 50,
		},
	}, env.Registry, env.Sessions, env.Store, env.Events, env.Flags, env.logger)
	env.Registry.SetTaskController(env.Queue)

	env.Service = service.NewService(env.Store, env.Sessions, env.Registry, env.Queue, env.Events, env.Flags, 50, env.logger)
	env.Service.Attach()
	env.stopped = false
}

// Stop shuts the running components down. The store stays open.
func (env *TestEnvironment) Stop() {
	if env.stopped {
		return
	}
	env.stopped = true
	env.Queue.Stop()
	env.Sessions.Stop()
	env.Events.Close()
}

// Restart simulates a process restart: the components are rebuilt over the
// same store and network, and Recover is run.
func (env *TestEnvironment) Restart(ctx context.Context) service.RecoveryReport {
	env.t.Helper()
	env.Stop()
	env.start()

	report, err := env.Service.Recover(ctx)
	require.NoError(env.t, err)
	return report
}

// SetPlan moves a user onto a plan tier.
func (env *TestEnvironment) SetPlan(userID string, tier models.PlanTier) {
	env.t.Helper()
	ctx := context.Background()
	_, err := env.Store.EnsureUser(ctx, userID)
	require.NoError(env.t, err)
	require.NoError(env.t, env.Store.SetUserPlan(ctx, userID, tier, nil))
}

// AddAccount links an account and waits for its listener to come up.
func (env *TestEnvironment) AddAccount(caller models.Caller, spec models.AccountSpec) *models.Account {
	env.t.Helper()
	account, err := env.Service.AddAccount(context.Background(), caller, spec)
	require.NoError(env.t, err)
	require.True(env.t, env.WaitForCondition(func() bool {
		return env.Network.Listening(account.ID)
	}, 2*time.Second, 5*time.Millisecond), "listener for %s never started", account.ID)
	return account
}

// Inject delivers a source message through the account's live listener.
func (env *TestEnvironment) Inject(accountID string, msg models.InboundMessage) {
	env.t.Helper()
	require.NoError(env.t, env.Network.Inject(context.Background(), accountID, msg))
}

// WaitForSent waits until chatID has received n messages and returns them.
func (env *TestEnvironment) WaitForSent(chatID string, n int) []SentMessage {
	env.t.Helper()
	ok := env.WaitForCondition(func() bool {
		return len(env.Network.SentTo(chatID)) >= n
	}, 3*time.Second, 5*time.Millisecond)
	sent := env.Network.SentTo(chatID)
	require.True(env.t, ok, "expected %d messages in %s, got %d", n, chatID, len(sent))
	return sent
}

// WaitForCondition waits for a condition to become true within a timeout
func (env *TestEnvironment) WaitForCondition(condition func() bool, timeout time.Duration, checkInterval time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(checkInterval)
	}

	return false
}
