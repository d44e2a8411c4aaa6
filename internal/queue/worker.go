package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"autoforwardx/internal/constants"
	apperrors "autoforwardx/internal/errors"
	"autoforwardx/internal/features"
	"autoforwardx/internal/metrics"
	"autoforwardx/internal/models"
	"autoforwardx/internal/session"
	"autoforwardx/internal/tracing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const logWriteTimeout = 5 * time.Second

// worker holds one pair's tasks in arrival order.
type worker struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}

	mu           sync.Mutex
	pair         models.ForwardingPair
	tasks        []*models.QueueTask
	inFlight     *models.QueueTask
	dropInFlight bool
	held         bool
}

func newWorker(parent context.Context, pair models.ForwardingPair) *worker {
	ctx, cancel := context.WithCancel(parent)
	return &worker{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
		pair:   pair,
	}
}

func newTask(pair models.ForwardingPair, msg models.InboundMessage, payload models.Payload, priority int) *models.QueueTask {
	return &models.QueueTask{
		ID:          uuid.NewString(),
		PairID:      pair.ID,
		UserID:      pair.UserID,
		Source:      msg,
		Payload:     payload,
		ScheduledAt: msg.ArrivedAt.Add(pair.Delay.Duration()),
		State:       models.TaskPending,
		Priority:    priority,
		CreatedAt:   time.Now(),
	}
}

func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// push appends a task and refreshes the pair snapshot the worker sends with.
func (w *worker) push(pair models.ForwardingPair, task *models.QueueTask) int {
	w.mu.Lock()
	w.pair = pair
	w.tasks = append(w.tasks, task)
	depth := len(w.tasks)
	w.mu.Unlock()
	w.signal()
	return depth
}

func (w *worker) cancelPending() []*models.QueueTask {
	w.mu.Lock()
	var cancelled, kept []*models.QueueTask
	for _, task := range w.tasks {
		if task == w.inFlight {
			kept = append(kept, task)
			continue
		}
		task.State = models.TaskCancelled
		cancelled = append(cancelled, task)
	}
	w.tasks = kept
	if w.inFlight != nil {
		w.dropInFlight = true
	}
	w.mu.Unlock()
	w.signal()
	return cancelled
}

func (w *worker) setHeld(held bool) {
	w.mu.Lock()
	w.held = held
	if !held {
		w.dropInFlight = false
	}
	w.mu.Unlock()
	w.signal()
}

func (w *worker) depth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tasks)
}

// overdue counts tasks whose scheduled time is before cutoff.
func (w *worker) overdue(cutoff time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, task := range w.tasks {
		if task.ScheduledAt.Before(cutoff) {
			n++
		}
	}
	return n
}

func (w *worker) snapshot() models.ForwardingPair {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pair
}

func (w *worker) stop() {
	w.cancel()
	<-w.done
}

// remove takes task off the queue and returns the new depth.
func (w *worker) remove(task *models.QueueTask) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, t := range w.tasks {
		if t == task {
			w.tasks = append(w.tasks[:i], w.tasks[i+1:]...)
			break
		}
	}
	if w.inFlight == task {
		w.inFlight = nil
	}
	return len(w.tasks)
}

// next returns the head task once it is due. The head never overtakes
// anything: later tasks wait behind it even if their time has come.
func (w *worker) next() (*models.QueueTask, models.ForwardingPair, bool) {
	for {
		w.mu.Lock()
		var (
			head *models.QueueTask
			wait time.Duration
		)
		if !w.held && len(w.tasks) > 0 {
			head = w.tasks[0]
			wait = time.Until(head.ScheduledAt)
			if wait <= 0 {
				w.inFlight = head
				w.dropInFlight = false
				head.State = models.TaskInFlight
				pair := w.pair
				w.mu.Unlock()
				return head, pair, true
			}
		}
		w.mu.Unlock()

		var (
			timer *time.Timer
			fire  <-chan time.Time
		)
		if head != nil {
			timer = time.NewTimer(wait)
			fire = timer.C
		}
		select {
		case <-w.ctx.Done():
			stopTimer(timer)
			return nil, models.ForwardingPair{}, false
		case <-w.wake:
			stopTimer(timer)
		case <-fire:
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (q *Queue) run(w *worker) {
	defer close(w.done)
	for {
		task, pair, ok := w.next()
		if !ok {
			return
		}
		if !q.registry.Active(pair.ID) {
			q.discard(w, pair, task)
			continue
		}
		q.deliver(w, pair, task)
	}
}

// discard drops a task whose pair left the active set while it waited.
func (q *Queue) discard(w *worker, pair models.ForwardingPair, task *models.QueueTask) {
	depth := w.remove(task)
	task.State = models.TaskCancelled
	metrics.AddQueueDepth(-1)
	metrics.RecordDelivery(metrics.OutcomeCancelled)
	q.logger.WithFields(logrus.Fields{
		constants.LogFieldPairID: pair.ID,
		constants.LogFieldTaskID: task.ID,
	}).Debug("Dropped task of inactive pair")
	q.publishTask(pair, task, depth)
}

// deliver makes one attempt at the task and settles its outcome.
func (q *Queue) deliver(w *worker, pair models.ForwardingPair, task *models.QueueTask) {
	ctx, span := tracing.StartSpan(w.ctx, "queue.deliver",
		tracing.AttrPairID.String(pair.ID),
		tracing.AttrTaskID.String(task.ID),
		tracing.AttrUserID.String(pair.UserID),
		tracing.AttrAttempt.Int(task.Attempts+1),
	)
	fields := logrus.Fields{
		constants.LogFieldPairID:    pair.ID,
		constants.LogFieldTaskID:    task.ID,
		constants.LogFieldMessageID: task.Source.MessageID,
		constants.LogFieldAttempt:   task.Attempts + 1,
	}

	destID, status, err := q.attempt(ctx, pair, task)
	tracing.EndSpan(span, err)
	if w.ctx.Err() != nil {
		return
	}

	w.mu.Lock()
	dropped := w.dropInFlight
	w.mu.Unlock()

	switch {
	case err == nil:
		depth := w.remove(task)
		task.State = models.TaskDelivered
		metrics.AddQueueDepth(-1)
		metrics.RecordDelivery(metrics.OutcomeDelivered)
		if status != "" {
			q.writeLog(pair, task, destID, status, "")
		}
		if status == models.DeliveryDelivered {
			if err := q.registry.RecordSuccess(ctx, pair.ID, task.Source.MessageID); err != nil {
				q.errLog.LogWarn(err, "Failed to record delivery success", fields)
			}
		}
		q.logger.WithFields(fields).WithField(constants.LogFieldDuration, time.Since(task.CreatedAt).Milliseconds()).Info("Message delivered")
		q.publishTask(pair, task, depth)

	case dropped:
		depth := w.remove(task)
		task.State = models.TaskCancelled
		task.LastError = err.Error()
		metrics.AddQueueDepth(-1)
		metrics.RecordDelivery(metrics.OutcomeCancelled)
		q.publishTask(pair, task, depth)

	case apperrors.HasCode(err, apperrors.ErrCodeMediaUnavailable):
		depth := w.remove(task)
		task.State = models.TaskCancelled
		task.LastError = err.Error()
		metrics.AddQueueDepth(-1)
		metrics.RecordDelivery(metrics.OutcomeFiltered)
		q.writeLog(pair, task, "", models.DeliverySkipped, apperrors.GetUserMessage(err))
		q.logger.WithFields(fields).WithError(err).Warn("Message skipped, nothing deliverable")
		q.publishTask(pair, task, depth)

	case apperrors.HasCode(err, apperrors.ErrCodeRateLimitExceeded):
		retryAfter := apperrors.GetRetryAfter(err)
		if retryAfter <= 0 {
			retryAfter = q.cfg.Retry.InitialDelay
		}
		q.throttle.Penalize(pair.DestAccountID, pair.DestPlatform, retryAfter)
		w.mu.Lock()
		task.State = models.TaskRetrying
		task.LastError = err.Error()
		task.ScheduledAt = time.Now().Add(retryAfter)
		w.inFlight = nil
		depth := len(w.tasks)
		w.mu.Unlock()
		metrics.RecordDelivery(metrics.OutcomeRateLimited)
		q.logger.WithFields(fields).WithField(constants.LogFieldRetryAfter, retryAfter.String()).Warn("Destination rate limited, task rescheduled")
		q.publishTask(pair, task, depth)

	case apperrors.HasCode(err, apperrors.ErrCodeDeliveryPermanent):
		task.Attempts++
		depth := w.remove(task)
		task.State = models.TaskFailed
		task.LastError = err.Error()
		metrics.AddQueueDepth(-1)
		metrics.RecordDelivery(metrics.OutcomeFailed)
		q.writeLog(pair, task, "", models.DeliveryFailed, err.Error())
		q.errLog.LogError(err, "Permanent delivery failure", fields)
		q.publishTask(pair, task, depth)

		halted, recordErr := q.registry.RecordFailure(ctx, pair.ID, apperrors.GetUserMessage(err))
		if recordErr != nil {
			q.errLog.LogWarn(recordErr, "Failed to record delivery failure", fields)
		}
		if halted {
			w.setHeld(true)
		}

	default:
		task.Attempts++
		task.LastError = err.Error()
		if task.Attempts >= q.backoff.MaxAttempts() {
			depth := w.remove(task)
			task.State = models.TaskFailed
			metrics.AddQueueDepth(-1)
			metrics.RecordDelivery(metrics.OutcomeFailed)
			q.writeLog(pair, task, "", models.DeliveryFailed, err.Error())
			q.errLog.LogError(err, "Delivery failed after retries", fields)
			q.publishTask(pair, task, depth)
			return
		}
		delay := q.backoff.Delay(task.Attempts)
		w.mu.Lock()
		task.State = models.TaskRetrying
		task.ScheduledAt = time.Now().Add(delay)
		w.inFlight = nil
		depth := len(w.tasks)
		w.mu.Unlock()
		metrics.RecordDelivery(metrics.OutcomeRetried)
		q.errLog.LogRetryableError(err, "Delivery attempt failed, retrying", logrus.Fields{
			constants.LogFieldPairID:  pair.ID,
			constants.LogFieldTaskID:  task.ID,
			constants.LogFieldAttempt: task.Attempts,
			constants.LogFieldDelay:   delay.String(),
		})
		q.publishTask(pair, task, depth)
	}
}

// attempt performs the platform call for a task: a send for new messages,
// an in-place edit or delete when propagating source changes. An empty
// status means there was nothing to do.
func (q *Queue) attempt(ctx context.Context, pair models.ForwardingPair, task *models.QueueTask) (string, models.DeliveryStatus, error) {
	if err := q.acquire(ctx, pair, task); err != nil {
		return "", "", err
	}
	defer q.userSemaphore(pair.UserID).Release(1)

	if task.Source.Kind == models.MessageEdited || task.Source.Kind == models.MessageDeleted {
		destID, status, err := q.propagate(ctx, pair, task)
		if err != nil || status != "" || task.Source.Kind == models.MessageDeleted {
			return destID, status, err
		}
		// The destination copy is unknown or cannot be edited: re-send.
		task.Payload.Forward = false
	}
	if !task.Payload.Forward && task.Source.ReplyToID != "" && task.Payload.ReplyToID == "" {
		// Replies thread onto our copy of the parent when one exists.
		if parentID, err := q.destinationMessage(ctx, pair.ID, task.Source.ReplyToID); err == nil {
			task.Payload.ReplyToID = parentID
		}
	}

	payload, err := q.prepareMedia(ctx, pair, task)
	if err != nil {
		return "", "", err
	}
	result, err := q.sender.Send(ctx, pair.DestAccountID, pair.DestChatID, payload)
	if err != nil {
		return "", "", err
	}
	return result.MessageID, models.DeliveryDelivered, nil
}

// prepareMedia asks the source account for download links of attachments the
// destination account cannot read on its own. Links stay off the task since
// tasks are published and may embed credentials.
func (q *Queue) prepareMedia(ctx context.Context, pair models.ForwardingPair, task *models.QueueTask) (models.Payload, error) {
	payload := task.Payload
	if payload.Forward || len(payload.Attachments) == 0 || pair.SourceAccountID == pair.DestAccountID {
		return payload, nil
	}

	attachments := make([]models.Attachment, 0, len(payload.Attachments))
	for _, att := range payload.Attachments {
		if att.URL == "" {
			link, err := q.sender.ResolveMedia(ctx, pair.SourceAccountID, att)
			if err != nil {
				if apperrors.IsRetryable(err) {
					return payload, err
				}
				q.logger.WithError(err).WithFields(logrus.Fields{
					constants.LogFieldPairID: pair.ID,
					constants.LogFieldTaskID: task.ID,
				}).Warn("Attachment cannot be fetched from source")
				continue
			}
			att.URL = link
		}
		attachments = append(attachments, att)
	}
	payload.Attachments = attachments
	if len(attachments) == 0 && strings.TrimSpace(payload.Text) == "" {
		return payload, apperrors.NewMediaUnavailableError("source media cannot be fetched", nil)
	}
	return payload, nil
}

func (q *Queue) propagate(ctx context.Context, pair models.ForwardingPair, task *models.QueueTask) (string, models.DeliveryStatus, error) {
	destID, err := q.destinationMessage(ctx, pair.ID, task.Source.MessageID)
	if err != nil || destID == "" {
		return "", "", err
	}

	if task.Source.Kind == models.MessageDeleted {
		err = q.sender.Delete(ctx, pair.DestAccountID, pair.DestChatID, destID)
		if err == nil {
			return destID, models.DeliveryDeleted, nil
		}
	} else {
		err = q.sender.Edit(ctx, pair.DestAccountID, pair.DestChatID, destID, task.Payload)
		if err == nil {
			return destID, models.DeliveryEdited, nil
		}
	}
	if errors.Is(err, session.ErrUnsupported) {
		return "", "", nil
	}
	return "", "", err
}

// acquire waits for the account's throttle and the user's in-flight slot.
func (q *Queue) acquire(ctx context.Context, pair models.ForwardingPair, task *models.QueueTask) error {
	if q.flags.IsEnabled(features.FlagAntiBanThrottle) {
		if err := q.throttle.Wait(ctx, pair.DestAccountID, pair.DestPlatform, task.Priority); err != nil {
			return err
		}
	}
	return q.userSemaphore(pair.UserID).Acquire(ctx, 1)
}

func (q *Queue) destinationMessage(ctx context.Context, pairID, sourceMessageID string) (string, error) {
	if q.deliveries == nil {
		return "", nil
	}
	entry, err := q.deliveries.FindDeliveryLog(ctx, pairID, sourceMessageID)
	if err != nil || entry == nil {
		return "", err
	}
	return entry.DestMessageID, nil
}

func (q *Queue) writeLog(pair models.ForwardingPair, task *models.QueueTask, destID string, status models.DeliveryStatus, errMsg string) {
	if q.deliveries == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), logWriteTimeout)
	defer cancel()
	attempts := task.Attempts
	if status != models.DeliveryFailed {
		attempts++
	}
	entry := &models.DeliveryLog{
		ID:              uuid.NewString(),
		PairID:          pair.ID,
		UserID:          pair.UserID,
		SourceMessageID: task.Source.MessageID,
		DestMessageID:   destID,
		Status:          status,
		Error:           errMsg,
		Attempts:        attempts,
		ProcessingMs:    time.Since(task.CreatedAt).Milliseconds(),
		CreatedAt:       time.Now().UTC(),
	}
	if err := q.deliveries.InsertDeliveryLog(ctx, entry); err != nil {
		q.errLog.LogWarn(err, "Failed to write delivery log", logrus.Fields{
			constants.LogFieldPairID: pair.ID,
			constants.LogFieldTaskID: task.ID,
		})
	}
}
