package retry

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// BackoffConfig contains configuration for exponential backoff
type BackoffConfig struct {
	InitialDelay time.Duration `json:"initial_delay" mapstructure:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay" mapstructure:"max_delay"`
	Multiplier   float64       `json:"multiplier" mapstructure:"multiplier"`
	MaxAttempts  int           `json:"max_attempts" mapstructure:"max_attempts"`
	Jitter       bool          `json:"jitter" mapstructure:"jitter"`
}

// DefaultBackoffConfig is used for short internal retries such as opening the database.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	}
}

// ReconnectBackoffConfig yields 5s, 15s, 45s, 135s and then 5 minutes forever.
func ReconnectBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 5 * time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   3.0,
		MaxAttempts:  0,
	}
}

// DeliveryBackoffConfig spreads five send attempts over roughly ten minutes.
func DeliveryBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 15 * time.Second,
		MaxDelay:     10 * time.Minute,
		Multiplier:   3.0,
		MaxAttempts:  5,
	}
}

// Backoff implements exponential backoff with optional jitter
type Backoff struct {
	config BackoffConfig
}

// NewBackoff creates a new exponential backoff instance
func NewBackoff(config BackoffConfig) *Backoff {
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = config.InitialDelay
	}
	return &Backoff{
		config: config,
	}
}

// MaxAttempts returns the configured attempt ceiling; zero means unbounded.
func (b *Backoff) MaxAttempts() int {
	return b.config.MaxAttempts
}

// Retry executes the operation with exponential backoff retry logic
func (b *Backoff) Retry(ctx context.Context, operation func() error) error {
	return b.RetryWithPredicate(ctx, operation, func(error) bool { return true })
}

// RetryWithPredicate executes the operation with exponential backoff, using a predicate to determine if errors are retryable
func (b *Backoff) RetryWithPredicate(ctx context.Context, operation func() error, isRetryable func(error) bool) error {
	var lastErr error

	for attempt := 1; b.config.MaxAttempts <= 0 || attempt <= b.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if attempt == b.config.MaxAttempts {
			break
		}

		timer := time.NewTimer(b.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

// Delay returns the wait before retrying after the given (1-based) failed attempt.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.config.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= b.config.Multiplier
		if delay >= float64(b.config.MaxDelay) {
			break
		}
	}
	if delay > float64(b.config.MaxDelay) {
		delay = float64(b.config.MaxDelay)
	}

	// ±25% jitter, clamped to the configured window
	if b.config.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64() - 0.5) * 2 * jitter
		if delay < float64(b.config.InitialDelay) {
			delay = float64(b.config.InitialDelay)
		}
		if delay > float64(b.config.MaxDelay) {
			delay = float64(b.config.MaxDelay)
		}
	}

	return time.Duration(delay)
}

// Sequence is a stateful backoff cursor. Delays only grow until Reset.
type Sequence struct {
	mu      sync.Mutex
	backoff *Backoff
	attempt int
}

// NewSequence starts a sequence at its first delay.
func NewSequence(config BackoffConfig) *Sequence {
	return &Sequence{backoff: NewBackoff(config)}
}

// Next advances the sequence and returns the delay to wait.
func (s *Sequence) Next() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt++
	return s.backoff.Delay(s.attempt)
}

// Attempt returns how many delays have been handed out since the last reset.
func (s *Sequence) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Reset rewinds the sequence after a success.
func (s *Sequence) Reset() {
	s.mu.Lock()
	s.attempt = 0
	s.mu.Unlock()
}
