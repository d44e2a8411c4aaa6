// Package policy evaluates subscription-tier limits. Every function here is
// pure: callers pass the usage snapshot and get back a decision.
package policy

import (
	"autoforwardx/internal/errors"
	"autoforwardx/internal/models"
)

// ActionKind names the usage-changing operation being gated.
type ActionKind string

const (
	ActionCreatePair ActionKind = "create_pair"
	ActionResumePair ActionKind = "resume_pair"
	ActionUpdatePair ActionKind = "update_pair"
	ActionAddAccount ActionKind = "add_account"
	ActionDeliver    ActionKind = "deliver"
)

// Action is a requested mutation. Shape applies to pair actions, Platform to
// account actions, Features to anything that turns on gated behaviour.
type Action struct {
	Kind     ActionKind
	Shape    models.PairShape
	Platform models.Platform
	Features []models.Feature
}

// Usage is the caller's plan and current counts. Pair counts include active,
// paused and errored pairs.
type Usage struct {
	Plan               models.PlanPolicy
	PairsByShape       map[models.PairShape]int
	AccountsByPlatform map[models.Platform]int
	MessagesToday      int
}

// Decision is the outcome of Evaluate. A denial names exactly one gate.
type Decision struct {
	Allowed bool
	Code    errors.ErrorCode
	Gate    string
	Reason  string
	Limit   int
	Feature models.Feature
}

// Err converts a denial into an AppError; it returns nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.Code == errors.ErrCodeFeatureNotAllowed {
		return errors.NewFeatureError(string(d.Feature), d.Reason)
	}
	return errors.NewPlanLimitError(d.Gate, d.Limit, d.Reason)
}

var allowed = Decision{Allowed: true}

// Evaluate runs the gates relevant to the action in a fixed order and returns
// the first failure. Gates never partially apply.
func Evaluate(usage Usage, action Action) Decision {
	plan := usage.Plan

	switch action.Kind {
	case ActionCreatePair, ActionResumePair:
		if action.Shape == models.ShapeCrossPlatform {
			if d := featureGate(plan, models.FeatureCrossPlatform); !d.Allowed {
				return d
			}
		}
		if hasFeature(action.Features, models.FeatureDiscordToDiscord) {
			if d := featureGate(plan, models.FeatureDiscordToDiscord); !d.Allowed {
				return d
			}
		}
		if d := pairGate(plan, usage, action); !d.Allowed {
			return d
		}
		return featureGates(plan, action.Features)

	case ActionUpdatePair:
		return featureGates(plan, action.Features)

	case ActionAddAccount:
		return accountGate(plan, usage, action.Platform)

	case ActionDeliver:
		if d := featureGates(plan, action.Features); !d.Allowed {
			return d
		}
		return quotaGate(plan, usage)
	}

	return Decision{
		Code:   errors.ErrCodeInvalidInput,
		Gate:   "action",
		Reason: "unknown action " + string(action.Kind),
	}
}

// pairGate checks only the counter for the action's shape. Creating needs
// headroom; resuming an already-counted pair is denied only when the user is
// over the cap, e.g. after a downgrade.
func pairGate(plan models.PlanPolicy, usage Usage, action Action) Decision {
	max, ok := plan.MaxPairs[action.Shape]
	if !ok {
		max = 0
	}
	if max == models.Unlimited {
		return allowed
	}
	count := usage.PairsByShape[action.Shape]

	over := count >= max
	if action.Kind == ActionResumePair {
		over = count > max
	}
	if !over {
		return allowed
	}
	return Decision{
		Code:   errors.ErrCodePlanLimitExceeded,
		Gate:   "max_pairs_" + string(action.Shape),
		Reason: pairLimitHint(plan.Tier, action.Shape, max),
		Limit:  max,
	}
}

func accountGate(plan models.PlanPolicy, usage Usage, platform models.Platform) Decision {
	max := plan.MaxAccounts[platform]
	if max == models.Unlimited || usage.AccountsByPlatform[platform] < max {
		return allowed
	}
	return Decision{
		Code:   errors.ErrCodePlanLimitExceeded,
		Gate:   "max_accounts_" + string(platform),
		Reason: accountLimitHint(plan.Tier, platform, max),
		Limit:  max,
	}
}

func featureGates(plan models.PlanPolicy, features []models.Feature) Decision {
	for _, f := range features {
		if d := featureGate(plan, f); !d.Allowed {
			return d
		}
	}
	return allowed
}

func hasFeature(features []models.Feature, want models.Feature) bool {
	for _, f := range features {
		if f == want {
			return true
		}
	}
	return false
}

func featureGate(plan models.PlanPolicy, feature models.Feature) Decision {
	if plan.Allows(feature) {
		return allowed
	}
	return Decision{
		Code:    errors.ErrCodeFeatureNotAllowed,
		Gate:    "feature_" + string(feature),
		Reason:  featureHint(plan.Tier, feature),
		Feature: feature,
	}
}

func quotaGate(plan models.PlanPolicy, usage Usage) Decision {
	if plan.MessagesPerDay == models.Unlimited || plan.MessagesPerDay <= 0 {
		return allowed
	}
	if usage.MessagesToday < plan.MessagesPerDay {
		return allowed
	}
	return Decision{
		Code:   errors.ErrCodePlanLimitExceeded,
		Gate:   "messages_per_day",
		Reason: quotaHint(plan.Tier, plan.MessagesPerDay),
		Limit:  plan.MessagesPerDay,
	}
}

// NewlyEnabled returns the features in next that are absent from prev, in next's order.
func NewlyEnabled(prev, next []models.Feature) []models.Feature {
	seen := make(map[models.Feature]bool, len(prev))
	for _, f := range prev {
		seen[f] = true
	}
	var added []models.Feature
	for _, f := range next {
		if !seen[f] {
			added = append(added, f)
		}
	}
	return added
}
