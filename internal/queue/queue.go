// Package queue schedules forwarded messages: it filters and transforms them
// per pair, holds them for the pair's delay, throttles sends per account and
// retries failures.
package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"autoforwardx/internal/constants"
	apperrors "autoforwardx/internal/errors"
	"autoforwardx/internal/events"
	"autoforwardx/internal/features"
	"autoforwardx/internal/metrics"
	"autoforwardx/internal/models"
	"autoforwardx/internal/policy"
	"autoforwardx/internal/retry"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

var errPairInactive = errors.New("pair is no longer active")

// Registry is the pair registry as seen by the queue.
type Registry interface {
	Match(accountID, chatID string) []models.ForwardingPair
	Active(pairID string) bool
	Usage(ctx context.Context, userID string) (policy.Usage, error)
	RecordFailure(ctx context.Context, pairID, reason string) (bool, error)
	RecordSuccess(ctx context.Context, pairID, sourceMessageID string) error
	MarkError(ctx context.Context, pairID, reason string) error
}

// Sender delivers through a destination account's session.
type Sender interface {
	Send(ctx context.Context, accountID, chatID string, payload models.Payload) (models.DeliveryResult, error)
	Edit(ctx context.Context, accountID, chatID, messageID string, payload models.Payload) error
	Delete(ctx context.Context, accountID, chatID, messageID string) error
	ResolveMedia(ctx context.Context, accountID string, att models.Attachment) (string, error)
}

// DeliveryStore records delivery outcomes.
type DeliveryStore interface {
	InsertDeliveryLog(ctx context.Context, entry *models.DeliveryLog) error
	FindDeliveryLog(ctx context.Context, pairID, sourceMessageID string) (*models.DeliveryLog, error)
	CountDeliveriesSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// Config tunes retries and concurrency.
type Config struct {
	Retry              retry.BackoffConfig
	MaxInFlightPerUser int64
	Throttle           ThrottleConfig
}

// ConfigFrom converts the file configuration.
func ConfigFrom(q models.QueueConfig, t models.ThrottleConfig) Config {
	cfg := Config{
		Retry:              retry.DeliveryBackoffConfig(),
		MaxInFlightPerUser: int64(q.MaxInFlightPerUser),
		Throttle:           ThrottleConfigFrom(t),
	}
	if q.MaxAttempts > 0 {
		cfg.Retry.MaxAttempts = q.MaxAttempts
	}
	if q.RetryInitialSec > 0 {
		cfg.Retry.InitialDelay = time.Duration(q.RetryInitialSec) * time.Second
	}
	if q.RetryMaxSec > 0 {
		cfg.Retry.MaxDelay = time.Duration(q.RetryMaxSec) * time.Second
	}
	if q.RetryMultiplier > 0 {
		cfg.Retry.Multiplier = q.RetryMultiplier
	}
	return cfg
}

func (c Config) withDefaults() Config {
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultDeliveryMaxAttempts
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry = retry.DeliveryBackoffConfig()
	}
	if c.MaxInFlightPerUser <= 0 {
		c.MaxInFlightPerUser = constants.DefaultMaxInFlightPerUser
	}
	if c.Throttle.PerMinute == nil {
		c.Throttle = ThrottleConfigFrom(models.ThrottleConfig{})
	}
	return c
}

// Queue owns one FIFO worker per pair.
type Queue struct {
	cfg        Config
	registry   Registry
	sender     Sender
	deliveries DeliveryStore
	publisher  events.Publisher
	flags      *features.FlagManager
	throttle   *Throttle
	backoff    *retry.Backoff
	logger     *logrus.Logger
	errLog     *apperrors.Logger
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[string]*worker
	users   map[string]*semaphore.Weighted
	stopped bool
}

// New creates a queue. Workers start lazily on the first task for a pair.
func New(cfg Config, registry Registry, sender Sender, deliveries DeliveryStore, publisher events.Publisher, flags *features.FlagManager, logger *logrus.Logger) *Queue {
	cfg = cfg.withDefaults()
	if flags == nil {
		flags = features.NewFlagManager()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:        cfg,
		registry:   registry,
		sender:     sender,
		deliveries: deliveries,
		publisher:  publisher,
		flags:      flags,
		throttle:   NewThrottle(cfg.Throttle),
		backoff:    retry.NewBackoff(cfg.Retry),
		logger:     logger,
		errLog:     apperrors.NewLogger(logger),
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		workers:    make(map[string]*worker),
		users:      make(map[string]*semaphore.Weighted),
	}
}

// Dispatch routes one inbound message to every active pair listening on its
// chat and returns how many tasks were enqueued.
func (q *Queue) Dispatch(ctx context.Context, msg models.InboundMessage) (int, error) {
	pairs := q.registry.Match(msg.AccountID, msg.ChatID)
	if len(pairs) == 0 {
		return 0, nil
	}
	if msg.ArrivedAt.IsZero() {
		msg.ArrivedAt = q.now()
	}
	if msg.Kind == "" {
		msg.Kind = models.MessageNew
	}

	usage := make(map[string]policy.Usage)
	enqueued := 0
	var firstErr error
	for _, pair := range pairs {
		ok, err := q.dispatchPair(ctx, pair, msg, usage)
		if err != nil {
			q.errLog.LogWarn(err, "Failed to dispatch message to pair", logrus.Fields{
				constants.LogFieldPairID:    pair.ID,
				constants.LogFieldMessageID: msg.MessageID,
			})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			enqueued++
		}
	}
	return enqueued, firstErr
}

// Replay dispatches recovered messages to a single pair, in order. Messages
// at or before the pair's checkpoint are skipped.
func (q *Queue) Replay(ctx context.Context, pair models.ForwardingPair, msgs []models.InboundMessage) (int, error) {
	usage := make(map[string]policy.Usage)
	enqueued := 0
	for _, msg := range msgs {
		if msg.Kind == "" {
			msg.Kind = models.MessageNew
		}
		if msg.ArrivedAt.IsZero() {
			msg.ArrivedAt = q.now()
		}
		if pair.LastSourceMessageID != "" && !messageAfter(msg.MessageID, pair.LastSourceMessageID) {
			continue
		}
		ok, err := q.dispatchPair(ctx, pair, msg, usage)
		if err != nil {
			return enqueued, err
		}
		if ok {
			enqueued++
		}
	}
	return enqueued, nil
}

// messageAfter compares platform message ids, numerically when both parse.
func messageAfter(candidate, current string) bool {
	a, errA := strconv.ParseUint(candidate, 10, 64)
	b, errB := strconv.ParseUint(current, 10, 64)
	if errA != nil || errB != nil {
		return candidate > current
	}
	return a > b
}

func (q *Queue) dispatchPair(ctx context.Context, pair models.ForwardingPair, msg models.InboundMessage, usageCache map[string]policy.Usage) (bool, error) {
	fields := logrus.Fields{
		constants.LogFieldPairID:    pair.ID,
		constants.LogFieldUserID:    pair.UserID,
		constants.LogFieldMessageID: msg.MessageID,
	}

	if msg.Kind != models.MessageNew && !(pair.SyncEdits && q.flags.IsEnabled(features.FlagEditSync)) {
		return false, nil
	}

	var payload models.Payload
	if msg.Kind != models.MessageDeleted {
		result := Transform(pair, msg)
		if result.Dropped {
			metrics.RecordDelivery(metrics.OutcomeFiltered)
			q.logger.WithFields(fields).WithField("reason", result.Reason).Debug("Message filtered for pair")
			return false, nil
		}
		payload = result.Payload
	}

	usage, ok := usageCache[pair.UserID]
	if !ok {
		var err error
		usage, err = q.registry.Usage(ctx, pair.UserID)
		if err != nil {
			return false, err
		}
		if q.deliveries != nil {
			now := q.now().UTC()
			dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
			count, err := q.deliveries.CountDeliveriesSince(ctx, pair.UserID, dayStart)
			if err != nil {
				return false, err
			}
			usage.MessagesToday = count
		}
		usageCache[pair.UserID] = usage
	}

	decision := policy.Evaluate(usage, policy.Action{Kind: policy.ActionDeliver, Features: pair.Features()})
	if !decision.Allowed {
		metrics.RecordPolicyDenial(decision.Gate)
		metrics.RecordDelivery(metrics.OutcomeDenied)
		denial := decision.Err()
		if decision.Code == apperrors.ErrCodeFeatureNotAllowed {
			q.logger.WithFields(fields).WithField("gate", decision.Gate).Warn("Pair uses a feature its plan no longer includes")
			return false, q.registry.MarkError(ctx, pair.ID, denial.Error())
		}
		q.logger.WithFields(fields).WithField("gate", decision.Gate).Info("Daily message quota reached, message not forwarded")
		q.publishTask(pair, &models.QueueTask{Source: msg, State: models.TaskFailed, LastError: denial.Error()}, q.Depth(pair.ID))
		return false, nil
	}

	task := newTask(pair, msg, payload, usage.Plan.PriorityWeight)
	depth, err := q.enqueue(pair, task)
	if errors.Is(err, errPairInactive) {
		metrics.RecordDelivery(metrics.OutcomeCancelled)
		q.logger.WithFields(fields).Debug("Pair paused or deleted during dispatch, message not forwarded")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	q.logger.WithFields(fields).WithFields(logrus.Fields{
		constants.LogFieldTaskID:     task.ID,
		constants.LogFieldQueueDepth: depth,
		"scheduled_at":               task.ScheduledAt,
		"kind":                       msg.Kind,
	}).Debug("Task enqueued")
	return true, nil
}

// enqueue appends the task to the pair's worker. The active check runs under
// q.mu, which CancelPending and Remove also take, so a task either lands
// before they sweep the worker or is refused.
func (q *Queue) enqueue(pair models.ForwardingPair, task *models.QueueTask) (int, error) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return 0, apperrors.New(apperrors.ErrCodeConflict, "delivery queue is stopped")
	}
	if !q.registry.Active(pair.ID) {
		q.mu.Unlock()
		return 0, errPairInactive
	}
	w, ok := q.workers[pair.ID]
	if !ok {
		w = newWorker(q.ctx, pair)
		q.workers[pair.ID] = w
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.run(w)
		}()
	}
	depth := w.push(pair, task)
	q.mu.Unlock()

	metrics.AddQueueDepth(1)
	q.publishTask(pair, task, depth)
	return depth, nil
}

// CancelPending drops every task of the pair that is not in flight.
func (q *Queue) CancelPending(pairID string) int {
	w := q.worker(pairID)
	if w == nil {
		return 0
	}
	cancelled := w.cancelPending()
	if len(cancelled) > 0 {
		metrics.AddQueueDepth(-len(cancelled))
		pair := w.snapshot()
		depth := w.depth()
		for _, task := range cancelled {
			metrics.RecordDelivery(metrics.OutcomeCancelled)
			q.publishTask(pair, task, depth)
		}
	}
	return len(cancelled)
}

// Hold keeps the pair's tasks queued without delivering them.
func (q *Queue) Hold(pairID string) {
	if w := q.worker(pairID); w != nil {
		w.setHeld(true)
	}
}

// Resume releases a held pair.
func (q *Queue) Resume(pairID string) {
	if w := q.worker(pairID); w != nil {
		w.setHeld(false)
	}
}

// Remove cancels the pair's tasks and stops its worker.
func (q *Queue) Remove(pairID string) {
	q.mu.Lock()
	w, ok := q.workers[pairID]
	delete(q.workers, pairID)
	q.mu.Unlock()
	if !ok {
		return
	}
	depth := w.depth()
	w.cancelPending()
	w.stop()
	metrics.AddQueueDepth(-depth)
}

// Depth returns the pair's queued tasks, including one in flight.
func (q *Queue) Depth(pairID string) int {
	if w := q.worker(pairID); w != nil {
		return w.depth()
	}
	return 0
}

// Stop cancels every worker and waits for them to exit. Pending tasks are lost.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	q.cancel()
	q.throttle.Close()
	q.wg.Wait()
	q.logger.Info("Delivery queue stopped")
}

// Overdue counts queued tasks that should have been sent more than
// threshold ago. Held workers and starved throttle buckets show up here.
func (q *Queue) Overdue(threshold time.Duration) int {
	cutoff := q.now().Add(-threshold)
	q.mu.Lock()
	workers := make([]*worker, 0, len(q.workers))
	for _, w := range q.workers {
		workers = append(workers, w)
	}
	q.mu.Unlock()

	n := 0
	for _, w := range workers {
		n += w.overdue(cutoff)
	}
	return n
}

func (q *Queue) worker(pairID string) *worker {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.workers[pairID]
}

func (q *Queue) userSemaphore(userID string) *semaphore.Weighted {
	q.mu.Lock()
	defer q.mu.Unlock()
	sem, ok := q.users[userID]
	if !ok {
		sem = semaphore.NewWeighted(q.cfg.MaxInFlightPerUser)
		q.users[userID] = sem
	}
	return sem
}

func (q *Queue) publishTask(pair models.ForwardingPair, task *models.QueueTask, depth int) {
	if q.publisher == nil {
		return
	}
	q.publisher.Publish(models.Event{
		Type:   models.EventQueueUpdate,
		UserID: pair.UserID,
		Payload: models.QueueUpdate{
			PairID:          pair.ID,
			TaskID:          task.ID,
			SourceMessageID: task.Source.MessageID,
			State:           task.State,
			Depth:           depth,
			Attempts:        task.Attempts,
			Error:           task.LastError,
			ScheduledAt:     task.ScheduledAt,
		},
	})
}
