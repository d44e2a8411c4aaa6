package policy

import (
	"testing"

	"autoforwardx/internal/errors"
	"autoforwardx/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usageFor(tier models.PlanTier, same, cross int) Usage {
	return Usage{
		Plan: ForTier(tier),
		PairsByShape: map[models.PairShape]int{
			models.ShapeSamePlatform:  same,
			models.ShapeCrossPlatform: cross,
		},
		AccountsByPlatform: map[models.Platform]int{},
	}
}

func TestEvaluate_CreatePair(t *testing.T) {
	tests := []struct {
		name    string
		usage   Usage
		action  Action
		allowed bool
		code    errors.ErrorCode
		gate    string
	}{
		{
			name:    "free first same-platform pair",
			usage:   usageFor(models.PlanFree, 0, 0),
			action:  Action{Kind: ActionCreatePair, Shape: models.ShapeSamePlatform},
			allowed: true,
		},
		{
			name:   "free second same-platform pair",
			usage:  usageFor(models.PlanFree, 1, 0),
			action: Action{Kind: ActionCreatePair, Shape: models.ShapeSamePlatform},
			code:   errors.ErrCodePlanLimitExceeded,
			gate:   "max_pairs_same_platform",
		},
		{
			name:   "free cross-platform is a feature denial",
			usage:  usageFor(models.PlanFree, 0, 0),
			action: Action{Kind: ActionCreatePair, Shape: models.ShapeCrossPlatform},
			code:   errors.ErrCodeFeatureNotAllowed,
			gate:   "feature_cross_platform",
		},
		{
			name:    "pro cross-platform ignores full same-platform counter",
			usage:   usageFor(models.PlanPro, 15, 0),
			action:  Action{Kind: ActionCreatePair, Shape: models.ShapeCrossPlatform},
			allowed: true,
		},
		{
			name:   "pro copy mode denied",
			usage:  usageFor(models.PlanPro, 0, 0),
			action: Action{Kind: ActionCreatePair, Shape: models.ShapeSamePlatform, Features: []models.Feature{models.FeatureFilters, models.FeatureCopyMode}},
			code:   errors.ErrCodeFeatureNotAllowed,
			gate:   "feature_copy_mode",
		},
		{
			name:   "count gate reported before feature gate",
			usage:  usageFor(models.PlanFree, 1, 0),
			action: Action{Kind: ActionCreatePair, Shape: models.ShapeSamePlatform, Features: []models.Feature{models.FeatureCopyMode}},
			code:   errors.ErrCodePlanLimitExceeded,
			gate:   "max_pairs_same_platform",
		},
		{
			name:   "pro discord to discord route denied before the count gate",
			usage:  usageFor(models.PlanPro, 15, 0),
			action: Action{Kind: ActionCreatePair, Shape: models.ShapeSamePlatform, Features: []models.Feature{models.FeatureDiscordToDiscord}},
			code:   errors.ErrCodeFeatureNotAllowed,
			gate:   "feature_discord_to_discord",
		},
		{
			name:   "free discord to discord route denied",
			usage:  usageFor(models.PlanFree, 0, 0),
			action: Action{Kind: ActionCreatePair, Shape: models.ShapeSamePlatform, Features: []models.Feature{models.FeatureDiscordToDiscord}},
			code:   errors.ErrCodeFeatureNotAllowed,
			gate:   "feature_discord_to_discord",
		},
		{
			name:    "elite discord to discord route",
			usage:   usageFor(models.PlanElite, 0, 0),
			action:  Action{Kind: ActionCreatePair, Shape: models.ShapeSamePlatform, Features: []models.Feature{models.FeatureDiscordToDiscord}},
			allowed: true,
		},
		{
			name:   "pro resume of discord to discord pair after downgrade",
			usage:  usageFor(models.PlanPro, 1, 0),
			action: Action{Kind: ActionResumePair, Shape: models.ShapeSamePlatform, Features: []models.Feature{models.FeatureDiscordToDiscord}},
			code:   errors.ErrCodeFeatureNotAllowed,
			gate:   "feature_discord_to_discord",
		},
		{
			name:    "elite unlimited",
			usage:   usageFor(models.PlanElite, 5000, 5000),
			action:  Action{Kind: ActionCreatePair, Shape: models.ShapeCrossPlatform, Features: []models.Feature{models.FeatureCopyMode, models.FeatureEditSync}},
			allowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.usage, tt.action)
			assert.Equal(t, tt.allowed, d.Allowed)
			if !tt.allowed {
				assert.Equal(t, tt.code, d.Code)
				assert.Equal(t, tt.gate, d.Gate)
				assert.NotEmpty(t, d.Reason)
				require.Error(t, d.Err())
				assert.Equal(t, tt.code, errors.GetCode(d.Err()))
			} else {
				assert.NoError(t, d.Err())
			}
		})
	}
}

func TestEvaluate_ResumeAfterDowngrade(t *testing.T) {
	// three pairs created on pro, user is now on free
	usage := usageFor(models.PlanFree, 3, 0)

	d := Evaluate(usage, Action{Kind: ActionResumePair, Shape: models.ShapeSamePlatform})
	assert.False(t, d.Allowed)
	assert.Equal(t, errors.ErrCodePlanLimitExceeded, d.Code)

	// at the cap the paused pair is already counted, so resuming it is fine
	atCap := usageFor(models.PlanFree, 1, 0)
	assert.True(t, Evaluate(atCap, Action{Kind: ActionResumePair, Shape: models.ShapeSamePlatform}).Allowed)
}

func TestEvaluate_AddAccount(t *testing.T) {
	free := usageFor(models.PlanFree, 0, 0)

	d := Evaluate(free, Action{Kind: ActionAddAccount, Platform: models.PlatformDiscord})
	assert.False(t, d.Allowed)
	assert.Equal(t, "max_accounts_discord", d.Gate)
	assert.Contains(t, d.Reason, "does not support Discord")

	assert.True(t, Evaluate(free, Action{Kind: ActionAddAccount, Platform: models.PlatformTelegram}).Allowed)

	free.AccountsByPlatform[models.PlatformTelegram] = 1
	d = Evaluate(free, Action{Kind: ActionAddAccount, Platform: models.PlatformTelegram})
	assert.False(t, d.Allowed)
	assert.Equal(t, 1, d.Limit)
}

func TestEvaluate_UpdateOnlyGatesNewFeatures(t *testing.T) {
	usage := usageFor(models.PlanPro, 0, 0)

	prev := []models.Feature{models.FeatureCopyMode}
	next := []models.Feature{models.FeatureCopyMode, models.FeatureFilters}

	d := Evaluate(usage, Action{Kind: ActionUpdatePair, Features: NewlyEnabled(prev, next)})
	assert.True(t, d.Allowed, "grandfathered copy mode must not block an unrelated edit")

	d = Evaluate(usage, Action{Kind: ActionUpdatePair, Features: NewlyEnabled(nil, []models.Feature{models.FeatureScheduledForwarding})})
	assert.False(t, d.Allowed)
	assert.Equal(t, models.FeatureScheduledForwarding, d.Feature)
}

func TestEvaluate_DeliverQuota(t *testing.T) {
	usage := usageFor(models.PlanFree, 1, 0)
	usage.MessagesToday = 499
	assert.True(t, Evaluate(usage, Action{Kind: ActionDeliver}).Allowed)

	usage.MessagesToday = 500
	d := Evaluate(usage, Action{Kind: ActionDeliver})
	assert.False(t, d.Allowed)
	assert.Equal(t, "messages_per_day", d.Gate)
}

func TestEvaluate_UnknownAction(t *testing.T) {
	d := Evaluate(usageFor(models.PlanElite, 0, 0), Action{Kind: "launch_rocket"})
	assert.False(t, d.Allowed)
}

func TestLimitsReturnsCopies(t *testing.T) {
	p, ok := Limits(models.PlanFree)
	require.True(t, ok)
	p.MaxPairs[models.ShapeSamePlatform] = 100
	p.Features[models.FeatureCopyMode] = true

	again, _ := Limits(models.PlanFree)
	assert.Equal(t, 1, again.MaxPairs[models.ShapeSamePlatform])
	assert.False(t, again.Allows(models.FeatureCopyMode))

	_, ok = Limits("platinum")
	assert.False(t, ok)
	assert.Equal(t, models.PlanFree, ForTier("platinum").Tier)
}

func TestPlanTable(t *testing.T) {
	free := ForTier(models.PlanFree)
	pro := ForTier(models.PlanPro)
	elite := ForTier(models.PlanElite)

	assert.Equal(t, []int{1, 2, 3}, []int{free.PriorityWeight, pro.PriorityWeight, elite.PriorityWeight})
	assert.Equal(t, 0, free.MaxAccounts[models.PlatformDiscord])
	assert.Equal(t, 1, pro.MaxAccounts[models.PlatformDiscord])
	assert.True(t, pro.Allows(models.FeatureMessageEdit))
	assert.False(t, pro.Allows(models.FeatureCopyMode))
	assert.True(t, elite.Allows(models.FeatureScheduledForwarding))
	assert.False(t, pro.Allows(models.FeatureDiscordToDiscord))
	assert.True(t, elite.Allows(models.FeatureDiscordToDiscord))
	assert.Equal(t, models.Unlimited, elite.MaxPairs[models.ShapeSamePlatform])
}
