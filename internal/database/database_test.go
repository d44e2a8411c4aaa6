package database

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "autoforwardx/internal/errors"
	"autoforwardx/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "this-is-a-very-long-test-secret-key-for-encryption"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), "sqlite3", filepath.Join(t.TempDir(), "test.db"), testSecret)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func repositories(t *testing.T) map[string]Repository {
	return map[string]Repository{
		"sqlite": openTestStore(t),
		"memory": NewMemoryStore(),
	}
}

func testAccount(id, userID string, platform models.Platform) *models.Account {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Account{
		ID:          id,
		UserID:      userID,
		Platform:    platform,
		DisplayName: "bot " + id,
		Credential:  "token-" + id,
		Status:      models.AccountConnecting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func testPair(id, userID string, src, dst models.Platform) *models.ForwardingPair {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.ForwardingPair{
		ID:              id,
		UserID:          userID,
		SourceAccountID: "acc-src",
		SourceChatID:    "-100123",
		SourcePlatform:  src,
		DestAccountID:   "acc-dst",
		DestChatID:      "-100456",
		DestPlatform:    dst,
		Delay:           models.DelayPolicy{Mode: models.DelayFixed, Seconds: 30},
		Mode:            models.ModeFlags{CopyMode: true, StripMentions: true},
		Edit:            models.EditConfig{Header: "[fwd]"},
		Filters: models.FilterConfig{
			BlockedText:  []string{"spam"},
			Replacements: []models.ReplaceRule{{Search: "a", Replace: "b"}},
		},
		SyncEdits: true,
		Status:    models.PairActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "dsn", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestOpen_RejectsShortSecret(t *testing.T) {
	_, err := Open(context.Background(), "sqlite3", filepath.Join(t.TempDir(), "test.db"), "short")
	require.Error(t, err)
}

func TestRepository_Users(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := repo.GetUser(ctx, "u1")
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

			user, err := repo.EnsureUser(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, models.PlanFree, user.Plan)

			expires := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
			require.NoError(t, repo.SetUserPlan(ctx, "u1", models.PlanPro, &expires))

			user, err = repo.EnsureUser(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, models.PlanPro, user.Plan)
			require.NotNil(t, user.PlanExpiresAt)
			assert.True(t, expires.Equal(*user.PlanExpiresAt))

			err = repo.SetUserPlan(ctx, "missing", models.PlanPro, nil)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
		})
	}
}

func TestRepository_Accounts(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := repo.EnsureUser(ctx, "u1")
			require.NoError(t, err)

			require.NoError(t, repo.CreateAccount(ctx, testAccount("a1", "u1", models.PlatformTelegram)))
			require.NoError(t, repo.CreateAccount(ctx, testAccount("a2", "u1", models.PlatformTelegram)))
			require.NoError(t, repo.CreateAccount(ctx, testAccount("a3", "u1", models.PlatformDiscord)))

			err = repo.CreateAccount(ctx, testAccount("a3", "u1", models.PlatformDiscord))
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict), "duplicate id: %v", err)

			got, err := repo.GetAccount(ctx, "a1")
			require.NoError(t, err)
			assert.Equal(t, "token-a1", got.Credential)
			assert.Equal(t, models.AccountConnecting, got.Status)
			assert.Nil(t, got.LastSeen)

			seen := time.Now().UTC().Truncate(time.Second)
			require.NoError(t, repo.UpdateAccountStatus(ctx, "a1", models.AccountConnected, "", &seen))
			require.NoError(t, repo.UpdateAccountStatus(ctx, "a1", models.AccountDisconnected, "probe failed", nil))

			got, err = repo.GetAccount(ctx, "a1")
			require.NoError(t, err)
			assert.Equal(t, models.AccountDisconnected, got.Status)
			assert.Equal(t, "probe failed", got.StatusReason)
			require.NotNil(t, got.LastSeen, "last_seen is kept when not supplied")
			assert.True(t, seen.Equal(*got.LastSeen))

			counts, err := repo.CountAccountsByPlatform(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, 2, counts[models.PlatformTelegram])
			assert.Equal(t, 1, counts[models.PlatformDiscord])

			accounts, err := repo.ListAccounts(ctx, "u1")
			require.NoError(t, err)
			assert.Len(t, accounts, 3)

			require.NoError(t, repo.DeleteAccount(ctx, "a2"))
			_, err = repo.GetAccount(ctx, "a2")
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

			err = repo.UpdateAccountStatus(ctx, "a2", models.AccountError, "", nil)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
		})
	}
}

func TestStore_CredentialEncryptedAtRest(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	_, err := store.EnsureUser(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, store.CreateAccount(ctx, testAccount("a1", "u1", models.PlatformTelegram)))

	var raw string
	require.NoError(t, store.db.Get(&raw, "SELECT credential FROM accounts WHERE id = ?", "a1"))
	assert.NotEqual(t, "token-a1", raw)
	assert.NotContains(t, raw, "token")
}

func TestRepository_Pairs(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := repo.EnsureUser(ctx, "u1")
			require.NoError(t, err)
			require.NoError(t, repo.CreateAccount(ctx, testAccount("acc-src", "u1", models.PlatformTelegram)))
			require.NoError(t, repo.CreateAccount(ctx, testAccount("acc-dst", "u1", models.PlatformDiscord)))

			same := testPair("p1", "u1", models.PlatformTelegram, models.PlatformTelegram)
			cross := testPair("p2", "u1", models.PlatformTelegram, models.PlatformDiscord)
			require.NoError(t, repo.CreatePair(ctx, same))
			require.NoError(t, repo.CreatePair(ctx, cross))

			got, err := repo.GetPair(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, same.Mode, got.Mode)
			assert.Equal(t, same.Edit, got.Edit)
			assert.Equal(t, same.Filters, got.Filters)
			assert.Equal(t, same.Delay, got.Delay)
			assert.True(t, got.SyncEdits)

			counts, err := repo.CountPairsByShape(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, 1, counts[models.ShapeSamePlatform])
			assert.Equal(t, 1, counts[models.ShapeCrossPlatform])

			n, err := repo.CountPairsByAccount(ctx, "acc-dst")
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			got.Status = models.PairError
			got.StatusReason = "destination rejected"
			got.ConsecutiveFailures = 3
			got.SyncEdits = false
			require.NoError(t, repo.UpdatePair(ctx, got))
			require.NoError(t, repo.UpdatePairCheckpoint(ctx, "p1", "42"))

			got, err = repo.GetPair(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, models.PairError, got.Status)
			assert.Equal(t, 3, got.ConsecutiveFailures)
			assert.False(t, got.SyncEdits)
			assert.Equal(t, "42", got.LastSourceMessageID)

			pairs, err := repo.ListPairs(ctx, "u1")
			require.NoError(t, err)
			assert.Len(t, pairs, 2)

			deleted, err := repo.DeletePair(ctx, "p1")
			require.NoError(t, err)
			assert.True(t, deleted)
			deleted, err = repo.DeletePair(ctx, "p1")
			require.NoError(t, err)
			assert.False(t, deleted)

			_, err = repo.GetPair(ctx, "p1")
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
		})
	}
}

func TestRepository_CreatePairWithinCap(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := repo.EnsureUser(ctx, "u1")
			require.NoError(t, err)
			require.NoError(t, repo.CreateAccount(ctx, testAccount("acc-src", "u1", models.PlatformTelegram)))
			require.NoError(t, repo.CreateAccount(ctx, testAccount("acc-dst", "u1", models.PlatformDiscord)))

			const workers = 8
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				created int
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					pair := testPair(fmt.Sprintf("p%d", i), "u1", models.PlatformTelegram, models.PlatformTelegram)
					ok, err := repo.CreatePairWithin(ctx, pair, 3)
					assert.NoError(t, err)
					if ok {
						mu.Lock()
						created++
						mu.Unlock()
					}
				}(i)
			}
			wg.Wait()
			assert.Equal(t, 3, created)

			counts, err := repo.CountPairsByShape(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, 3, counts[models.ShapeSamePlatform])

			ok, err := repo.CreatePairWithin(ctx, testPair("cross", "u1", models.PlatformTelegram, models.PlatformDiscord), 1)
			require.NoError(t, err)
			assert.True(t, ok, "other shapes have their own cap")

			ok, err = repo.CreatePairWithin(ctx, testPair("extra", "u1", models.PlatformTelegram, models.PlatformTelegram), models.Unlimited)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestRepository_CreateAccountWithinCap(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := repo.EnsureUser(ctx, "u1")
			require.NoError(t, err)

			ok, err := repo.CreateAccountWithin(ctx, testAccount("a1", "u1", models.PlatformTelegram), 1)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = repo.CreateAccountWithin(ctx, testAccount("a2", "u1", models.PlatformTelegram), 1)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = repo.CreateAccountWithin(ctx, testAccount("a3", "u1", models.PlatformDiscord), 1)
			require.NoError(t, err)
			assert.True(t, ok)

			_, err = repo.GetAccount(ctx, "a2")
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

			got, err := repo.GetAccount(ctx, "a1")
			require.NoError(t, err)
			assert.Equal(t, "token-a1", got.Credential)
		})
	}
}

func TestRepository_DeliveryLogs(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()

			old := &models.DeliveryLog{PairID: "p1", UserID: "u1", SourceMessageID: "1", DestMessageID: "100", Status: models.DeliveryDelivered, CreatedAt: now.Add(-48 * time.Hour)}
			recent := &models.DeliveryLog{PairID: "p1", UserID: "u1", SourceMessageID: "2", DestMessageID: "101", Status: models.DeliveryDelivered, Attempts: 2, CreatedAt: now.Add(-time.Minute)}
			failed := &models.DeliveryLog{PairID: "p2", UserID: "u1", SourceMessageID: "3", Status: models.DeliveryFailed, Error: "forbidden", CreatedAt: now}
			for _, entry := range []*models.DeliveryLog{old, recent, failed} {
				require.NoError(t, repo.InsertDeliveryLog(ctx, entry))
				assert.NotEmpty(t, entry.ID)
			}

			found, err := repo.FindDeliveryLog(ctx, "p1", "2")
			require.NoError(t, err)
			require.NotNil(t, found)
			assert.Equal(t, "101", found.DestMessageID)

			found, err = repo.FindDeliveryLog(ctx, "p2", "3")
			require.NoError(t, err)
			assert.Nil(t, found, "failed deliveries have no destination message")

			n, err := repo.CountDeliveriesSince(ctx, "u1", now.Add(-24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			logs, err := repo.ListDeliveryLogs(ctx, "u1", "", 0)
			require.NoError(t, err)
			require.Len(t, logs, 3)
			assert.Equal(t, failed.ID, logs[0].ID, "newest first")

			logs, err = repo.ListDeliveryLogs(ctx, "u1", "p1", 1)
			require.NoError(t, err)
			require.Len(t, logs, 1)
			assert.Equal(t, recent.ID, logs[0].ID)

			removed, err := repo.CleanupDeliveryLogs(ctx, now.Add(-24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, int64(1), removed)

			logs, err = repo.ListDeliveryLogs(ctx, "", "", 0)
			require.NoError(t, err)
			assert.Len(t, logs, 2)
		})
	}
}
