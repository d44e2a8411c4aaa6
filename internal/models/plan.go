package models

import "time"

// PlanTier is a subscription level.
type PlanTier string

const (
	PlanFree  PlanTier = "free"
	PlanPro   PlanTier = "pro"
	PlanElite PlanTier = "elite"
)

// Valid reports whether t names a known tier.
func (t PlanTier) Valid() bool {
	return t == PlanFree || t == PlanPro || t == PlanElite
}

// Feature is a boolean capability gated by plan.
type Feature string

const (
	FeatureCrossPlatform       Feature = "cross_platform"
	FeatureCopyMode            Feature = "copy_mode"
	FeatureScheduledForwarding Feature = "scheduled_forwarding"
	FeatureMessageEdit         Feature = "message_edit"
	FeatureFilters             Feature = "filters"
	FeatureAPIAccess           Feature = "api_access"
	FeatureExportPDF           Feature = "export_pdf"
	FeatureEditSync            Feature = "edit_sync"
	// FeatureDiscordToDiscord gates the Discord to Discord route, the only
	// same-platform route not open to every tier.
	FeatureDiscordToDiscord Feature = "discord_to_discord"
)

// Unlimited marks a limit without a ceiling.
const Unlimited = -1

// PlanPolicy is the immutable limit table for one tier.
type PlanPolicy struct {
	Tier           PlanTier          `json:"tier"`
	MaxPairs       map[PairShape]int `json:"max_pairs"`
	MaxAccounts    map[Platform]int  `json:"max_accounts"`
	Features       map[Feature]bool  `json:"features"`
	PriorityWeight int               `json:"priority_weight"`
	MessagesPerDay int               `json:"messages_per_day"`
}

// Allows reports whether the plan includes a feature.
func (p PlanPolicy) Allows(f Feature) bool {
	return p.Features[f]
}

// User is the subscriber that owns accounts and pairs.
type User struct {
	ID            string     `json:"id" db:"id"`
	Plan          PlanTier   `json:"plan" db:"plan"`
	PlanExpiresAt *time.Time `json:"plan_expires_at,omitempty" db:"plan_expires_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// EffectivePlan returns the tier in force at now; an expired plan falls back to free.
func (u User) EffectivePlan(now time.Time) PlanTier {
	if !u.Plan.Valid() {
		return PlanFree
	}
	if u.PlanExpiresAt != nil && now.After(*u.PlanExpiresAt) {
		return PlanFree
	}
	return u.Plan
}

// Caller is the explicit identity every operation acts on behalf of.
type Caller struct {
	UserID string
}
