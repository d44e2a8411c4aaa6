package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"autoforwardx/internal/constants"
	"autoforwardx/internal/metrics"
	"autoforwardx/internal/models"

	"golang.org/x/time/rate"
)

// ThrottleConfig sets the per-account send rate by platform.
type ThrottleConfig struct {
	PerMinute map[models.Platform]int
	Burst     int
}

// ThrottleConfigFrom converts the file configuration.
func ThrottleConfigFrom(cfg models.ThrottleConfig) ThrottleConfig {
	out := ThrottleConfig{
		PerMinute: map[models.Platform]int{
			models.PlatformTelegram: cfg.TelegramPerMinute,
			models.PlatformDiscord:  cfg.DiscordPerMinute,
		},
		Burst: cfg.Burst,
	}
	if out.PerMinute[models.PlatformTelegram] <= 0 {
		out.PerMinute[models.PlatformTelegram] = constants.DefaultTelegramSendsPerMinute
	}
	if out.PerMinute[models.PlatformDiscord] <= 0 {
		out.PerMinute[models.PlatformDiscord] = constants.DefaultDiscordSendsPerMinute
	}
	if out.Burst <= 0 {
		out.Burst = constants.DefaultThrottleBurst
	}
	return out
}

// Throttle is the anti-ban limiter. Each destination account has one token
// bucket; when it is empty, waiters queue by plan weight and then by arrival.
// Nothing is ever dropped.
type Throttle struct {
	cfg     ThrottleConfig
	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}
	once    sync.Once
}

type bucket struct {
	limiter *rate.Limiter
	mu      sync.Mutex
	waiters waiterHeap
	seq     uint64
	running bool
	until   time.Time
}

type waiter struct {
	weight    int
	seq       uint64
	ready     chan struct{}
	cancelled bool
	index     int
}

// NewThrottle creates an empty throttle.
func NewThrottle(cfg ThrottleConfig) *Throttle {
	return &Throttle{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
}

// Wait blocks until accountID may send. Higher weight is served first.
func (t *Throttle) Wait(ctx context.Context, accountID string, platform models.Platform, weight int) error {
	b := t.bucket(accountID, platform)
	start := time.Now()

	b.mu.Lock()
	if len(b.waiters) == 0 && !time.Now().Before(b.until) && b.limiter.Allow() {
		b.mu.Unlock()
		return nil
	}
	b.seq++
	w := &waiter{weight: weight, seq: b.seq, ready: make(chan struct{})}
	heap.Push(&b.waiters, w)
	if !b.running {
		b.running = true
		go t.dispatch(b)
	}
	b.mu.Unlock()

	select {
	case <-w.ready:
		metrics.ObserveThrottleWait(time.Since(start))
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		select {
		case <-w.ready:
			// Granted while cancelling; the token is spent either way.
		default:
			w.cancelled = true
		}
		b.mu.Unlock()
		return ctx.Err()
	case <-t.done:
		return context.Canceled
	}
}

// Penalize stops the account's bucket from granting anything for d, e.g.
// after the platform answered with a rate limit.
func (t *Throttle) Penalize(accountID string, platform models.Platform, d time.Duration) {
	if d <= 0 {
		return
	}
	b := t.bucket(accountID, platform)
	b.mu.Lock()
	if until := time.Now().Add(d); until.After(b.until) {
		b.until = until
	}
	b.mu.Unlock()
}

// Waiting returns the number of queued waiters for an account.
func (t *Throttle) Waiting(accountID string) int {
	t.mu.Lock()
	b, ok := t.buckets[accountID]
	t.mu.Unlock()
	if !ok {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters)
}

// Close releases every waiter with an error and stops dispatchers.
func (t *Throttle) Close() {
	t.once.Do(func() { close(t.done) })
}

func (t *Throttle) bucket(accountID string, platform models.Platform) *bucket {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[accountID]
	if !ok {
		perMinute := t.cfg.PerMinute[platform]
		if perMinute <= 0 {
			perMinute = constants.DefaultTelegramSendsPerMinute
		}
		b = &bucket{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), t.cfg.Burst)}
		t.buckets[accountID] = b
	}
	return b
}

// dispatch hands out tokens to the best waiter until none are left.
func (t *Throttle) dispatch(b *bucket) {
	for {
		b.mu.Lock()
		b.dropCancelled()
		if len(b.waiters) == 0 {
			b.running = false
			b.mu.Unlock()
			return
		}
		pause := time.Until(b.until)
		b.mu.Unlock()

		if pause > 0 {
			if !t.sleep(pause) {
				return
			}
			continue
		}

		reservation := b.limiter.Reserve()
		if !t.sleep(reservation.Delay()) {
			reservation.Cancel()
			return
		}

		b.mu.Lock()
		if time.Now().Before(b.until) {
			// Penalized while sleeping; give the token back and wait again.
			b.mu.Unlock()
			reservation.Cancel()
			continue
		}
		b.dropCancelled()
		if len(b.waiters) > 0 {
			w := heap.Pop(&b.waiters).(*waiter)
			close(w.ready)
		}
		b.mu.Unlock()
	}
}

func (t *Throttle) sleep(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-t.done:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.done:
		return false
	case <-timer.C:
		return true
	}
}

func (b *bucket) dropCancelled() {
	for len(b.waiters) > 0 && b.waiters[0].cancelled {
		heap.Pop(&b.waiters)
	}
}

// waiterHeap orders by weight descending, then arrival.
type waiterHeap []*waiter

func (h waiterHeap) Len() int { return len(h) }

func (h waiterHeap) Less(i, j int) bool {
	if h[i].weight != h[j].weight {
		return h[i].weight > h[j].weight
	}
	return h[i].seq < h[j].seq
}

func (h waiterHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *waiterHeap) Push(x interface{}) {
	w := x.(*waiter)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *waiterHeap) Pop() interface{} {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	w.index = -1
	return w
}
