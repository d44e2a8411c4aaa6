package features

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Operator feature flags. These switch engine capabilities on or off for the
// whole deployment; plan features gate them per user on top.
const (
	FlagEditSync           = "edit_sync"
	FlagAntiBanThrottle    = "anti_ban_throttle"
	FlagSendCircuitBreaker = "send_circuit_breaker"
	FlagRedisRelay         = "redis_relay"
	FlagHistoryRecovery    = "history_recovery"
)

// Flag represents a feature flag with metadata
type Flag struct {
	Name        string    `json:"name"`
	Enabled     bool      `json:"enabled"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FlagDefinition contains metadata about a flag
type FlagDefinition struct {
	Name         string
	Description  string
	DefaultValue bool
}

// DefaultFlags defines all available feature flags with their defaults
var DefaultFlags = []FlagDefinition{
	{FlagEditSync, "Propagate source edits and deletions to forwarded copies", false},
	{FlagAntiBanThrottle, "Rate-limit outbound sends per account", true},
	{FlagSendCircuitBreaker, "Trip a circuit breaker on repeated send failures per account", true},
	{FlagRedisRelay, "Relay events between instances through Redis", true},
	{FlagHistoryRecovery, "Re-fetch missed source messages after a restart", true},
}

// ErrFlagNotFound is returned for unknown flag names.
type ErrFlagNotFound struct {
	Name string
}

func (e ErrFlagNotFound) Error() string {
	return fmt.Sprintf("feature flag not found: %s", e.Name)
}

// FlagManager manages feature flags with thread-safe operations
type FlagManager struct {
	flags map[string]*Flag
	mu    sync.RWMutex
}

// NewFlagManager creates a manager holding the default flags.
func NewFlagManager() *FlagManager {
	fm := &FlagManager{flags: make(map[string]*Flag)}
	now := time.Now()
	for _, def := range DefaultFlags {
		fm.flags[def.Name] = &Flag{
			Name:        def.Name,
			Enabled:     def.DefaultValue,
			Description: def.Description,
			UpdatedAt:   now,
		}
	}
	return fm
}

// IsEnabled checks if a feature flag is enabled
func (fm *FlagManager) IsEnabled(flagName string) bool {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	flag, exists := fm.flags[flagName]
	return exists && flag.Enabled
}

// Set enables or disables a known flag.
func (fm *FlagManager) Set(flagName string, enabled bool) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	flag, exists := fm.flags[flagName]
	if !exists {
		return ErrFlagNotFound{Name: flagName}
	}
	if flag.Enabled != enabled {
		flag.Enabled = enabled
		flag.UpdatedAt = time.Now()
	}
	return nil
}

// Enable enables a feature flag
func (fm *FlagManager) Enable(flagName string) error {
	return fm.Set(flagName, true)
}

// Disable disables a feature flag
func (fm *FlagManager) Disable(flagName string) error {
	return fm.Set(flagName, false)
}

// Apply overlays configured values and returns the names it did not recognise.
func (fm *FlagManager) Apply(values map[string]bool) []string {
	var unknown []string
	for name, enabled := range values {
		if err := fm.Set(name, enabled); err != nil {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// ListFlags returns copies of all flags sorted by name.
func (fm *FlagManager) ListFlags() []Flag {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	result := make([]Flag, 0, len(fm.flags))
	for _, flag := range fm.flags {
		result = append(result, *flag)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
