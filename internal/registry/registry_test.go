package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"autoforwardx/internal/database"
	apperrors "autoforwardx/internal/errors"
	"autoforwardx/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingPublisher) Publish(event models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingPublisher) pairUpdates() []models.PairStatusUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PairStatusUpdate
	for _, e := range r.events {
		if update, ok := e.Payload.(models.PairStatusUpdate); ok {
			out = append(out, update)
		}
	}
	return out
}

type fakeTasks struct {
	mu        sync.Mutex
	cancelled []string
	held      []string
	resumed   []string
	removed   []string
}

func (f *fakeTasks) CancelPending(pairID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, pairID)
	return 2
}

func (f *fakeTasks) Hold(pairID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = append(f.held, pairID)
}

func (f *fakeTasks) Resume(pairID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed = append(f.resumed, pairID)
}

func (f *fakeTasks) Remove(pairID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, pairID)
}

type harness struct {
	registry  *Registry
	store     *database.MemoryStore
	publisher *recordingPublisher
	tasks     *fakeTasks
	caller    models.Caller
}

func newHarness(t *testing.T, plan models.PlanTier) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store := database.NewMemoryStore()
	publisher := &recordingPublisher{}
	tasks := &fakeTasks{}
	reg := New(store, publisher, 3, logger)
	reg.SetTaskController(tasks)

	ctx := context.Background()
	_, err := store.EnsureUser(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, store.SetUserPlan(ctx, "user-1", plan, nil))

	return &harness{
		registry:  reg,
		store:     store,
		publisher: publisher,
		tasks:     tasks,
		caller:    models.Caller{UserID: "user-1"},
	}
}

func (h *harness) addAccount(t *testing.T, id, userID string, platform models.Platform, status models.AccountStatus) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, h.store.CreateAccount(context.Background(), &models.Account{
		ID:        id,
		UserID:    userID,
		Platform:  platform,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func sameChatSpec(sourceChat, destChat string) models.PairSpec {
	return models.PairSpec{
		SourceAccountID: "tg-1",
		SourceChatID:    sourceChat,
		DestAccountID:   "tg-1",
		DestChatID:      destChat,
	}
}

func TestCreate_FreePlanAllowsExactlyOnePair(t *testing.T) {
	h := newHarness(t, models.PlanFree)
	h.addAccount(t, "tg-1", "user-1", models.PlatformTelegram, models.AccountConnected)
	ctx := context.Background()

	pair, err := h.registry.Create(ctx, h.caller, sameChatSpec("100", "200"))
	require.NoError(t, err)
	assert.Equal(t, models.PairActive, pair.Status)
	assert.Equal(t, models.ShapeSamePlatform, pair.Shape())
	assert.Len(t, h.registry.Match("tg-1", "100"), 1)

	_, err = h.registry.Create(ctx, h.caller, sameChatSpec("101", "201"))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePlanLimitExceeded))

	pairs, err := h.store.ListPairs(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, pairs, 1, "denied create must not persist")
}

func TestCreate_ConcurrentRaceRespectsLimit(t *testing.T) {
	h := newHarness(t, models.PlanFree)
	h.addAccount(t, "tg-1", "user-1", models.PlatformTelegram, models.AccountConnected)
	ctx := context.Background()

	const attempts = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		denied    int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.registry.Create(ctx, h.caller, sameChatSpec(fmt.Sprintf("src-%d", i), "dst"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if apperrors.HasCode(err, apperrors.ErrCodePlanLimitExceeded) {
				denied++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, denied)
	assert.Equal(t, 0, h.registry.locks.size())
}

func TestCreate_CrossPlatformRequiresFeature(t *testing.T) {
	tests := []struct {
		name    string
		plan    models.PlanTier
		wantErr apperrors.ErrorCode
	}{
		{name: "free denied", plan: models.PlanFree, wantErr: apperrors.ErrCodePlanLimitExceeded},
		{name: "pro allowed", plan: models.PlanPro},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.plan)
			h.addAccount(t, "tg-1", "user-1", models.PlatformTelegram, models.AccountConnected)
			h.addAccount(t, "dc-1", "user-1", models.PlatformDiscord, models.AccountConnected)

			pair, err := h.registry.Create(context.Background(), h.caller, models.PairSpec{
				SourceAccountID: "tg-1",
				SourceChatID:    "100",
				DestAccountID:   "dc-1",
				DestChatID:      "chan-1",
			})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePlanLimitExceeded) ||
					apperrors.HasCode(err, apperrors.ErrCodeFeatureNotAllowed))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.ShapeCrossPlatform, pair.Shape())
		})
	}
}

func TestCreate_DiscordToDiscordRequiresElite(t *testing.T) {
	tests := []struct {
		name    string
		plan    models.PlanTier
		allowed bool
	}{
		{name: "pro denied", plan: models.PlanPro},
		{name: "elite allowed", plan: models.PlanElite, allowed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.plan)
			h.addAccount(t, "dc-1", "user-1", models.PlatformDiscord, models.AccountConnected)

			_, err := h.registry.Create(context.Background(), h.caller, models.PairSpec{
				SourceAccountID: "dc-1",
				SourceChatID:    "chan-1",
				DestAccountID:   "dc-1",
				DestChatID:      "chan-2",
			})
			if tt.allowed {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeFeatureNotAllowed))
			assert.Contains(t, apperrors.GetUserMessage(err), "Discord → Discord")
			assert.Empty(t, h.registry.Match("dc-1", "chan-1"))
		})
	}
}

// staleCounts reports the pair counts as they were before another server
// instance wrote to the shared store.
type staleCounts struct {
	*database.MemoryStore
}

func (staleCounts) CountPairsByShape(context.Context, string) (map[models.PairShape]int, error) {
	return map[models.PairShape]int{}, nil
}

func TestCreate_CapHoldsAcrossInstances(t *testing.T) {
	h := newHarness(t, models.PlanFree)
	h.addAccount(t, "tg-1", "user-1", models.PlatformTelegram, models.AccountConnected)
	ctx := context.Background()

	other := New(h.store, nil, 3, logrus.New())
	_, err := other.Create(ctx, h.caller, sameChatSpec("100", "200"))
	require.NoError(t, err)

	lagging := New(staleCounts{h.store}, nil, 3, logrus.New())
	_, err = lagging.Create(ctx, h.caller, sameChatSpec("300", "400"))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePlanLimitExceeded))
	assert.Empty(t, lagging.Match("tg-1", "300"))

	pairs, err := h.store.ListPairs(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, pairs, 1)
}

func TestCreate_ValidationRunsBeforePolicyAndLookups(t *testing.T) {
	tests := []struct {
		name string
		spec models.PairSpec
	}{
		{name: "same source and destination", spec: sameChatSpec("100", "100")},
		{name: "missing destination chat", spec: sameChatSpec("100", "")},
		{name: "realtime with seconds", spec: func() models.PairSpec {
			s := sameChatSpec("100", "200")
			s.Delay = models.DelayPolicy{Mode: models.DelayRealtime, Seconds: 5}
			return s
		}()},
		{name: "delay too long", spec: func() models.PairSpec {
			s := sameChatSpec("100", "200")
			s.Delay = models.DelayPolicy{Mode: models.DelayCustom, Seconds: 8 * 24 * 3600}
			return s
		}()},
		{name: "bad regex", spec: func() models.PairSpec {
			s := sameChatSpec("100", "200")
			s.Filters.Replacements = []models.ReplaceRule{{Search: "([", Regex: true}}
			return s
		}()},
		{name: "empty keyword", spec: func() models.PairSpec {
			s := sameChatSpec("100", "200")
			s.Filters.BlockedText = []string{"ok", " "}
			return s
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// No accounts exist and the plan is free: validation must still win.
			h := newHarness(t, models.PlanFree)
			_, err := h.registry.Create(context.Background(), h.caller, tt.spec)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed), "got %v", err)
		})
	}
}

func TestCreate_AccountChecks(t *testing.T) {
	h := newHarness(t, models.PlanElite)
	h.addAccount(t, "tg-1", "user-1", models.PlatformTelegram, models.AccountConnected)
	h.addAccount(t, "tg-2", "user-1", models.PlatformTelegram, models.AccountError)
	h.addAccount(t, "tg-other", "user-2", models.PlatformTelegram, models.AccountConnected)
	ctx := context.Background()

	_, err := h.registry.Create(ctx, h.caller, models.PairSpec{
		SourceAccountID: "tg-1", SourceChatID: "1", DestAccountID: "tg-other", DestChatID: "2",
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	_, err = h.registry.Create(ctx, h.caller, models.PairSpec{
		SourceAccountID: "tg-2", SourceChatID: "1", DestAccountID: "tg-1", DestChatID: "2",
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
}

func TestPauseResume_Idempotent(t *testing.T) {
	h := newHarness(t, models.PlanFree)
	h.addAccount(t, "tg-1", "user-1", models.PlatformTelegram, models.AccountConnected)
	ctx := context.Background()

	pair, err := h.registry.Create(ctx, h.caller, sameChatSpec("100", "200"))
	require.NoError(t, err)

	first, err := h.registry.Pause(ctx, h.caller, pair.ID)
	require.NoError(t, err)
	second, err := h.registry.Pause(ctx, h.caller, pair.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PairPaused, first.Status)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, []string{pair.ID}, h.tasks.cancelled, "second pause is a no-op")
	assert.Empty(t, h.registry.Match("tg-1", "100"))

	_, err = h.registry.Resume(ctx, h.caller, pair.ID)
	require.NoError(t, err)
	again, err := h.registry.Resume(ctx, h.caller, pair.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PairActive, again.Status)
	assert.Equal(t, []string{pair.ID}, h.tasks.resumed)
	assert.Len(t, h.registry.Match("tg-1", "100"), 1)

	stored, err := h.store.GetPair(ctx, pair.ID)
	require.NoError(t, err)
	assert.Equal(t, pair.Delay, stored.Delay)
	assert.Equal(t, pair.Filters, stored.Filters)
}

func TestResume_RerunsPolicyAfterDowngrade(t *testing.T) {
	h := newHarness(t, models.PlanPro)
	h.addAccount(t, "tg-1", "user-1", models.PlatformTelegram, models.AccountConnected)
	ctx := context.Background()

	spec := sameChatSpec("100", "200")
	spec.Filters.BlockedText = []string{"spam"}
	pair, err := h.registry.Create(ctx, h.caller, spec)
	require.NoError(t, err)
	_, err = h.registry.Pause(ctx, h.caller, pair.ID)
	require.NoError(t, err)

	require.NoError(t, h.store.SetUserPlan(ctx, "user-1", models.PlanFree, nil))
	_, err = h.registry.Resume(ctx, h.caller, pair.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeFeatureNotAllowed))

	stored, err := h.store.GetPair(ctx, pair.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PairPaused, stored.Status)
}

func TestDelete_UnknownAndRepeatedAreNoOps(t *testing.T) {
	h := newHarness(t, models.PlanFree)
	h.addAccount(t, "tg-1", "user-1", models.PlatformTelegram, models.AccountConnected)
	ctx := context.Background()

	require.NoError(t, h.registry.Delete(ctx, h.caller, "missing"))

	pair, err := h.registry.Create(ctx, h.caller, sameChatSpec("100", "200"))
	require.NoError(t, err)
	require.NoError(t, h.registry.Delete(ctx, h.caller, pair.ID))
	require.NoError(t, h.registry.Delete(ctx, h.caller, pair.ID))

	assert.Equal(t, []string{pair.ID}, h.tasks.removed)
	assert.Empty(t, h.registry.Match("tg-1", "100"))

	deletedEvents := 0
	for _, update := range h.publisher.pairUpdates() {
		if update.Deleted {
			deletedEvents++
		}
	}
	assert.Equal(t, 1, deletedEvents)

	// The freed slot can be reused on the free plan.
	_, err = h.registry.Create(ctx, h.caller, sameChatSpec("101", "201"))
	require.NoError(t, err)
}

func TestDelete_OtherUsersPairUntouched(t *testing.T) {
	h := newHarness(t, models.PlanFree)
	h.addAccount(t, "tg-1", "user-1", models.PlatformTelegram, models.AccountConnected)
	ctx := context.Background()

	pair, err := h.registry.Create(ctx, h.caller, sameChatSpec("100", "200"))
	require.NoError(t, err)

	require.NoError(t, h.registry.Delete(ctx, models.Caller{UserID: "user-2"}, pair.ID))
	_, err = h.store.GetPair(ctx, pair.ID)
	require.NoError(t, err)
}

func TestUpdate_GatesOnlyNewlyEnabledFeatures(t *testing.T) {
	h := newHarness(t, models.PlanPro)
	h.addAccount(t, "tg-1", "user-1", models.PlatformTelegram, models.AccountConnected)
	ctx := context.Background()

	spec := sameChatSpec("100", "200")
	spec.Edit.Header = "[news]"
	pair, err := h.registry.Create(ctx, h.caller, spec)
	require.NoError(t, err)

	footer := models.EditConfig{Header: "[news]", Footer: "via bot"}
	updated, err := h.registry.Update(ctx, h.caller, pair.ID, models.PairPatch{Edit: &footer})
	require.NoError(t, err)
	assert.Equal(t, "via bot", updated.Edit.Footer)

	copyMode := models.ModeFlags{CopyMode: true}
	_, err = h.registry.Update(ctx, h.caller, pair.ID, models.PairPatch{Mode: &copyMode})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeFeatureNotAllowed))

	snapshot := h.registry.Match("tg-1", "100")
	require.Len(t, snapshot, 1)
	assert.Equal(t, "via bot", snapshot[0].Edit.Footer)
	assert.False(t, snapshot[0].Mode.CopyMode)
}

func TestRecordFailure_ThirdFailureHaltsPair(t *testing.T) {
	h := newHarness(t, models.PlanFree)
	h.addAccount(t, "tg-1", "user-1", models.PlatformTelegram, models.AccountConnected)
	ctx := context.Background()

	pair, err := h.registry.Create(ctx, h.caller, sameChatSpec("100", "200"))
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		halted, err := h.registry.RecordFailure(ctx, pair.ID, "chat not found")
		require.NoError(t, err)
		assert.False(t, halted, "failure %d", i)
	}
	halted, err := h.registry.RecordFailure(ctx, pair.ID, "chat not found")
	require.NoError(t, err)
	assert.True(t, halted)

	stored, err := h.store.GetPair(ctx, pair.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PairError, stored.Status)
	assert.Equal(t, 3, stored.ConsecutiveFailures)
	assert.Equal(t, []string{pair.ID}, h.tasks.held)
	assert.Empty(t, h.registry.Match("tg-1", "100"))

	updates := h.publisher.pairUpdates()
	last := updates[len(updates)-1]
	assert.Equal(t, models.PairError, last.Status)
	assert.Equal(t, "chat not found", last.Reason)

	resumed, err := h.registry.Resume(ctx, h.caller, pair.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PairActive, resumed.Status)
	assert.Zero(t, resumed.ConsecutiveFailures)
}

func TestRecordSuccess_ResetsFailuresAndAdvancesCheckpoint(t *testing.T) {
	h := newHarness(t, models.PlanFree)
	h.addAccount(t, "tg-1", "user-1", models.PlatformTelegram, models.AccountConnected)
	ctx := context.Background()

	pair, err := h.registry.Create(ctx, h.caller, sameChatSpec("100", "200"))
	require.NoError(t, err)

	_, err = h.registry.RecordFailure(ctx, pair.ID, "boom")
	require.NoError(t, err)
	require.NoError(t, h.registry.RecordSuccess(ctx, pair.ID, "42"))
	require.NoError(t, h.registry.RecordSuccess(ctx, pair.ID, "9"))

	stored, err := h.store.GetPair(ctx, pair.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.ConsecutiveFailures)
	assert.Equal(t, "42", stored.LastSourceMessageID, "older ids never move the checkpoint back")
}

func TestMarkError_HoldsAndPublishes(t *testing.T) {
	h := newHarness(t, models.PlanFree)
	h.addAccount(t, "tg-1", "user-1", models.PlatformTelegram, models.AccountConnected)
	ctx := context.Background()

	pair, err := h.registry.Create(ctx, h.caller, sameChatSpec("100", "200"))
	require.NoError(t, err)

	require.NoError(t, h.registry.MarkError(ctx, pair.ID, "feature filters not allowed"))
	require.NoError(t, h.registry.MarkError(ctx, pair.ID, "again"))

	stored, err := h.store.GetPair(ctx, pair.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PairError, stored.Status)
	assert.Equal(t, "feature filters not allowed", stored.StatusReason)
	assert.Equal(t, []string{pair.ID}, h.tasks.held)
}

func TestBulk_PartialFailuresDoNotAbort(t *testing.T) {
	h := newHarness(t, models.PlanPro)
	h.addAccount(t, "tg-1", "user-1", models.PlatformTelegram, models.AccountConnected)
	ctx := context.Background()

	a, err := h.registry.Create(ctx, h.caller, sameChatSpec("100", "200"))
	require.NoError(t, err)
	b, err := h.registry.Create(ctx, h.caller, sameChatSpec("101", "201"))
	require.NoError(t, err)

	h.addAccount(t, "tg-x", "user-2", models.PlatformTelegram, models.AccountConnected)
	foreign, err := New(h.store, nil, 3, logrus.New()).Create(ctx, models.Caller{UserID: "user-2"}, models.PairSpec{
		SourceAccountID: "tg-x", SourceChatID: "1", DestAccountID: "tg-x", DestChatID: "2",
	})
	require.NoError(t, err)

	result, err := h.registry.Bulk(ctx, h.caller, models.BulkRequest{
		Op:      models.BulkPause,
		PairIDs: []string{a.ID, foreign.ID, b.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Items, 3)
	assert.False(t, result.Items[1].OK)
	assert.Equal(t, string(apperrors.ErrCodeNotFound), result.Items[1].Code)

	scoped, err := h.registry.Bulk(ctx, h.caller, models.BulkRequest{Op: models.BulkResume, AccountID: "tg-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, scoped.Succeeded)

	_, err = h.registry.Bulk(ctx, h.caller, models.BulkRequest{Op: "archive", PairIDs: []string{a.ID}})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
}

func TestList_FiltersByStatusAndShape(t *testing.T) {
	h := newHarness(t, models.PlanPro)
	h.addAccount(t, "tg-1", "user-1", models.PlatformTelegram, models.AccountConnected)
	h.addAccount(t, "dc-1", "user-1", models.PlatformDiscord, models.AccountConnected)
	ctx := context.Background()

	same, err := h.registry.Create(ctx, h.caller, sameChatSpec("100", "200"))
	require.NoError(t, err)
	_, err = h.registry.Create(ctx, h.caller, models.PairSpec{
		SourceAccountID: "tg-1", SourceChatID: "100", DestAccountID: "dc-1", DestChatID: "chan",
	})
	require.NoError(t, err)
	_, err = h.registry.Pause(ctx, h.caller, same.ID)
	require.NoError(t, err)

	paused, err := h.registry.List(ctx, h.caller, models.PairFilter{Status: models.PairPaused})
	require.NoError(t, err)
	require.Len(t, paused, 1)
	assert.Equal(t, same.ID, paused[0].ID)

	cross, err := h.registry.List(ctx, h.caller, models.PairFilter{Shape: models.ShapeCrossPlatform})
	require.NoError(t, err)
	assert.Len(t, cross, 1)

	assert.Len(t, h.registry.Match("tg-1", "100"), 1, "only the active pair is matched")
}

func TestLoad_IndexesOnlyActivePairs(t *testing.T) {
	h := newHarness(t, models.PlanPro)
	h.addAccount(t, "tg-1", "user-1", models.PlatformTelegram, models.AccountConnected)
	ctx := context.Background()

	a, err := h.registry.Create(ctx, h.caller, sameChatSpec("100", "200"))
	require.NoError(t, err)
	_, err = h.registry.Create(ctx, h.caller, sameChatSpec("101", "201"))
	require.NoError(t, err)
	_, err = h.registry.Pause(ctx, h.caller, a.ID)
	require.NoError(t, err)

	fresh := New(h.store, nil, 3, logrus.New())
	pairs, err := fresh.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, pairs, 2)
	assert.Empty(t, fresh.Match("tg-1", "100"))
	assert.Len(t, fresh.Match("tg-1", "101"), 1)
	assert.Len(t, fresh.ActivePairs(), 1)
}

func TestNewerMessageID(t *testing.T) {
	tests := []struct {
		candidate, current string
		want               bool
	}{
		{"1", "", true},
		{"", "", false},
		{"10", "9", true},
		{"9", "10", false},
		{"abc", "abd", true},
		{"abc", "abc", false},
	}
	for _, tt := range tests {
		t.Run(tt.candidate+"_"+tt.current, func(t *testing.T) {
			assert.Equal(t, tt.want, newerMessageID(tt.candidate, tt.current))
		})
	}
}

func TestUserLocks_SerializesPerUser(t *testing.T) {
	locks := newUserLocks()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("user-1")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, locks.size())
}
