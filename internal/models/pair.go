package models

import "time"

// PairShape partitions pairs for plan counting.
type PairShape string

const (
	ShapeSamePlatform  PairShape = "same_platform"
	ShapeCrossPlatform PairShape = "cross_platform"
)

// ShapeOf classifies a source/destination platform combination.
func ShapeOf(source, destination Platform) PairShape {
	if source == destination {
		return ShapeSamePlatform
	}
	return ShapeCrossPlatform
}

// PairStatus is the lifecycle state of a forwarding pair.
type PairStatus string

const (
	PairActive PairStatus = "active"
	PairPaused PairStatus = "paused"
	PairError  PairStatus = "error"
)

// DelayMode selects how a pair's delivery delay is expressed.
type DelayMode string

const (
	DelayRealtime DelayMode = "realtime"
	DelayFixed    DelayMode = "fixed"
	DelayCustom   DelayMode = "custom"
)

// DelayPolicy is how long a pair holds a message before delivery.
type DelayPolicy struct {
	Mode    DelayMode `json:"mode"`
	Seconds int       `json:"seconds"`
}

// Duration returns the effective delay; realtime is always zero.
func (d DelayPolicy) Duration() time.Duration {
	if d.Mode == DelayRealtime || d.Mode == "" || d.Seconds <= 0 {
		return 0
	}
	return time.Duration(d.Seconds) * time.Second
}

// ModeFlags toggle how a delivery is authored.
type ModeFlags struct {
	CopyMode      bool `json:"copy_mode"`
	SilentMode    bool `json:"silent_mode"`
	StripMentions bool `json:"strip_mentions"`
}

// EditConfig rewrites the first and last lines of a message.
type EditConfig struct {
	Header       string `json:"header,omitempty"`
	Footer       string `json:"footer,omitempty"`
	RemoveHeader bool   `json:"remove_header"`
	RemoveFooter bool   `json:"remove_footer"`
}

// Active reports whether any edit is configured.
func (e EditConfig) Active() bool {
	return e.Header != "" || e.Footer != "" || e.RemoveHeader || e.RemoveFooter
}

// ReplaceRule substitutes Search with Replace; Regex switches to pattern matching.
type ReplaceRule struct {
	Search  string `json:"search"`
	Replace string `json:"replace"`
	Regex   bool   `json:"regex,omitempty"`
}

// FilterConfig decides which messages a pair drops and how text is rewritten.
type FilterConfig struct {
	BlockedText  []string      `json:"blocked_text,omitempty"`
	RequiredText []string      `json:"required_text,omitempty"`
	BlockImages  bool          `json:"block_images"`
	Replacements []ReplaceRule `json:"replacements,omitempty"`
}

// Active reports whether any filter is configured.
func (f FilterConfig) Active() bool {
	return len(f.BlockedText) > 0 || len(f.RequiredText) > 0 || f.BlockImages || len(f.Replacements) > 0
}

// ForwardingPair is a directed forwarding rule from one chat to another.
type ForwardingPair struct {
	ID                  string       `json:"id"`
	UserID              string       `json:"user_id"`
	SourceAccountID     string       `json:"source_account_id"`
	SourceChatID        string       `json:"source_chat_id"`
	SourcePlatform      Platform     `json:"source_platform"`
	DestAccountID       string       `json:"destination_account_id"`
	DestChatID          string       `json:"destination_chat_id"`
	DestPlatform        Platform     `json:"destination_platform"`
	Delay               DelayPolicy  `json:"delay"`
	Mode                ModeFlags    `json:"mode"`
	Edit                EditConfig   `json:"edit"`
	Filters             FilterConfig `json:"filters"`
	SyncEdits           bool         `json:"sync_edits"`
	Status              PairStatus   `json:"status"`
	StatusReason        string       `json:"status_reason,omitempty"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastSourceMessageID string       `json:"last_source_message_id,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// Shape classifies the pair for plan counting.
func (p ForwardingPair) Shape() PairShape {
	return ShapeOf(p.SourcePlatform, p.DestPlatform)
}

// Features lists the plan-gated features this pair's configuration uses.
func (p ForwardingPair) Features() []Feature {
	var features []Feature
	if p.Shape() == ShapeCrossPlatform {
		features = append(features, FeatureCrossPlatform)
	}
	if p.SourcePlatform == PlatformDiscord && p.DestPlatform == PlatformDiscord {
		features = append(features, FeatureDiscordToDiscord)
	}
	if p.Mode.CopyMode {
		features = append(features, FeatureCopyMode)
	}
	if p.Delay.Duration() > 0 {
		features = append(features, FeatureScheduledForwarding)
	}
	if p.Edit.Active() {
		features = append(features, FeatureMessageEdit)
	}
	if p.Filters.Active() {
		features = append(features, FeatureFilters)
	}
	if p.SyncEdits {
		features = append(features, FeatureEditSync)
	}
	return features
}

// PairSpec is the caller-supplied definition of a new pair.
type PairSpec struct {
	SourceAccountID string       `json:"source_account_id"`
	SourceChatID    string       `json:"source_chat_id"`
	DestAccountID   string       `json:"destination_account_id"`
	DestChatID      string       `json:"destination_chat_id"`
	Delay           DelayPolicy  `json:"delay"`
	Mode            ModeFlags    `json:"mode"`
	Edit            EditConfig   `json:"edit"`
	Filters         FilterConfig `json:"filters"`
	SyncEdits       bool         `json:"sync_edits"`
}

// PairPatch carries the fields of an update; nil fields are left unchanged.
type PairPatch struct {
	DestChatID *string       `json:"destination_chat_id,omitempty"`
	Delay      *DelayPolicy  `json:"delay,omitempty"`
	Mode       *ModeFlags    `json:"mode,omitempty"`
	Edit       *EditConfig   `json:"edit,omitempty"`
	Filters    *FilterConfig `json:"filters,omitempty"`
	SyncEdits  *bool         `json:"sync_edits,omitempty"`
}

// Apply returns a copy of pair with the patch applied.
func (p PairPatch) Apply(pair ForwardingPair) ForwardingPair {
	if p.DestChatID != nil {
		pair.DestChatID = *p.DestChatID
	}
	if p.Delay != nil {
		pair.Delay = *p.Delay
	}
	if p.Mode != nil {
		pair.Mode = *p.Mode
	}
	if p.Edit != nil {
		pair.Edit = *p.Edit
	}
	if p.Filters != nil {
		pair.Filters = *p.Filters
	}
	if p.SyncEdits != nil {
		pair.SyncEdits = *p.SyncEdits
	}
	return pair
}

// PairFilter narrows ListPairs results. Zero values match everything.
type PairFilter struct {
	Status    PairStatus `json:"status,omitempty"`
	AccountID string     `json:"account_id,omitempty"`
	Shape     PairShape  `json:"shape,omitempty"`
}

// Matches reports whether pair satisfies the filter.
func (f PairFilter) Matches(pair ForwardingPair) bool {
	if f.Status != "" && pair.Status != f.Status {
		return false
	}
	if f.AccountID != "" && pair.SourceAccountID != f.AccountID && pair.DestAccountID != f.AccountID {
		return false
	}
	if f.Shape != "" && pair.Shape() != f.Shape {
		return false
	}
	return true
}

// BulkOp names a batch pair operation.
type BulkOp string

const (
	BulkPause  BulkOp = "pause"
	BulkResume BulkOp = "resume"
	BulkDelete BulkOp = "delete"
)

// BulkRequest selects pairs either by explicit ids or by account scope.
type BulkRequest struct {
	Op        BulkOp   `json:"op"`
	PairIDs   []string `json:"pair_ids,omitempty"`
	AccountID string   `json:"account_id,omitempty"`
}

// BulkItemResult is the independent outcome of one item in a batch.
type BulkItemResult struct {
	PairID string `json:"pair_id"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

// BulkResult reports every item of a batch.
type BulkResult struct {
	Op        BulkOp           `json:"op"`
	Items     []BulkItemResult `json:"items"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
}
