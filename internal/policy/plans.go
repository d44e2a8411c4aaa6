package policy

import (
	"fmt"

	"autoforwardx/internal/models"
)

// plans is the single source of tier limits. Never hand out the inner maps;
// Limits returns copies.
var plans = map[models.PlanTier]models.PlanPolicy{
	models.PlanFree: {
		Tier: models.PlanFree,
		MaxPairs: map[models.PairShape]int{
			models.ShapeSamePlatform:  1,
			models.ShapeCrossPlatform: 0,
		},
		MaxAccounts: map[models.Platform]int{
			models.PlatformTelegram: 1,
			models.PlatformDiscord:  0,
		},
		Features:       map[models.Feature]bool{},
		PriorityWeight: 1,
		MessagesPerDay: 500,
	},
	models.PlanPro: {
		Tier: models.PlanPro,
		MaxPairs: map[models.PairShape]int{
			models.ShapeSamePlatform:  15,
			models.ShapeCrossPlatform: 15,
		},
		MaxAccounts: map[models.Platform]int{
			models.PlatformTelegram: 2,
			models.PlatformDiscord:  1,
		},
		Features: map[models.Feature]bool{
			models.FeatureCrossPlatform: true,
			models.FeatureMessageEdit:   true,
			models.FeatureFilters:       true,
		},
		PriorityWeight: 2,
		MessagesPerDay: 5000,
	},
	models.PlanElite: {
		Tier: models.PlanElite,
		MaxPairs: map[models.PairShape]int{
			models.ShapeSamePlatform:  models.Unlimited,
			models.ShapeCrossPlatform: models.Unlimited,
		},
		MaxAccounts: map[models.Platform]int{
			models.PlatformTelegram: 3,
			models.PlatformDiscord:  3,
		},
		Features: map[models.Feature]bool{
			models.FeatureCrossPlatform:       true,
			models.FeatureCopyMode:            true,
			models.FeatureScheduledForwarding: true,
			models.FeatureMessageEdit:         true,
			models.FeatureFilters:             true,
			models.FeatureAPIAccess:           true,
			models.FeatureExportPDF:           true,
			models.FeatureEditSync:            true,
			models.FeatureDiscordToDiscord:    true,
		},
		PriorityWeight: 3,
		MessagesPerDay: 50000,
	},
}

// featureRequirement names the cheapest tier that unlocks a feature.
var featureRequirement = map[models.Feature]string{
	models.FeatureCrossPlatform:       "Pro or Elite",
	models.FeatureCopyMode:            "Elite",
	models.FeatureScheduledForwarding: "Elite",
	models.FeatureMessageEdit:         "Pro or Elite",
	models.FeatureFilters:             "Pro or Elite",
	models.FeatureAPIAccess:           "Elite",
	models.FeatureExportPDF:           "Elite",
	models.FeatureEditSync:            "Elite",
	models.FeatureDiscordToDiscord:    "Elite",
}

// Tiers lists the tiers from cheapest to most expensive.
var Tiers = []models.PlanTier{models.PlanFree, models.PlanPro, models.PlanElite}

// Limits returns a copy of the policy for tier. Unknown tiers are reported as not found.
func Limits(tier models.PlanTier) (models.PlanPolicy, bool) {
	p, ok := plans[tier]
	if !ok {
		return models.PlanPolicy{}, false
	}
	return clone(p), true
}

// ForTier is Limits with a free-plan fallback for unknown tiers.
func ForTier(tier models.PlanTier) models.PlanPolicy {
	if p, ok := Limits(tier); ok {
		return p
	}
	p, _ := Limits(models.PlanFree)
	return p
}

func clone(p models.PlanPolicy) models.PlanPolicy {
	out := p
	out.MaxPairs = make(map[models.PairShape]int, len(p.MaxPairs))
	for k, v := range p.MaxPairs {
		out.MaxPairs[k] = v
	}
	out.MaxAccounts = make(map[models.Platform]int, len(p.MaxAccounts))
	for k, v := range p.MaxAccounts {
		out.MaxAccounts[k] = v
	}
	out.Features = make(map[models.Feature]bool, len(p.Features))
	for k, v := range p.Features {
		out.Features[k] = v
	}
	return out
}

func tierName(tier models.PlanTier) string {
	switch tier {
	case models.PlanPro:
		return "Pro"
	case models.PlanElite:
		return "Elite"
	default:
		return "Free"
	}
}

func pairLimitHint(tier models.PlanTier, shape models.PairShape, max int) string {
	kind := "same-platform"
	if shape == models.ShapeCrossPlatform {
		kind = "cross-platform"
	}
	switch tier {
	case models.PlanFree:
		return fmt.Sprintf("Free plan is limited to %d %s forwarding pair. Upgrade to Pro for 15 pairs or Elite for unlimited pairs.", max, kind)
	case models.PlanPro:
		return fmt.Sprintf("Pro plan is limited to %d %s forwarding pairs. Upgrade to Elite for unlimited pairs.", max, kind)
	default:
		return fmt.Sprintf("Maximum %s forwarding pairs limit (%d) reached.", kind, max)
	}
}

func accountLimitHint(tier models.PlanTier, platform models.Platform, max int) string {
	switch {
	case tier == models.PlanFree && platform == models.PlatformDiscord:
		return "Free plan does not support Discord. Upgrade to Pro for Discord support."
	case tier == models.PlanFree:
		return "Free plan is limited to 1 Telegram account. Upgrade to Pro for 2 accounts or Elite for 3 accounts."
	case tier == models.PlanPro && platform == models.PlatformDiscord:
		return "Pro plan is limited to 1 Discord account. Upgrade to Elite for 3 accounts."
	case tier == models.PlanPro:
		return "Pro plan is limited to 2 Telegram accounts. Upgrade to Elite for 3 accounts."
	default:
		return fmt.Sprintf("Maximum %s accounts limit (%d) reached.", platform, max)
	}
}

func featureHint(tier models.PlanTier, feature models.Feature) string {
	if feature == models.FeatureCrossPlatform && tier == models.PlanFree {
		return "Free plan only supports Telegram → Telegram forwarding. Upgrade to Pro for cross-platform forwarding."
	}
	if feature == models.FeatureDiscordToDiscord {
		return fmt.Sprintf("%s plan does not support Discord → Discord forwarding. Upgrade to Elite to forward between Discord channels.", tierName(tier))
	}
	required, ok := featureRequirement[feature]
	if !ok {
		required = "a higher"
	}
	return fmt.Sprintf("The %s feature requires %s plan. Please upgrade to access this feature.", feature, required)
}

func quotaHint(tier models.PlanTier, max int) string {
	return fmt.Sprintf("%s plan allows %d forwarded messages per day. Delivery resumes tomorrow or after an upgrade.", tierName(tier), max)
}
