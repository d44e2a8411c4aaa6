// Package registry owns forwarding pairs: their lifecycle, plan enforcement
// on every mutation, and the index inbound messages are matched against.
package registry

import (
	"context"
	"strconv"
	"sync"
	"time"

	"autoforwardx/internal/constants"
	apperrors "autoforwardx/internal/errors"
	"autoforwardx/internal/events"
	"autoforwardx/internal/metrics"
	"autoforwardx/internal/models"
	"autoforwardx/internal/policy"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Store is the persistence the registry needs.
type Store interface {
	EnsureUser(ctx context.Context, userID string) (*models.User, error)
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	CreatePairWithin(ctx context.Context, pair *models.ForwardingPair, max int) (bool, error)
	UpdatePair(ctx context.Context, pair *models.ForwardingPair) error
	GetPair(ctx context.Context, id string) (*models.ForwardingPair, error)
	ListPairs(ctx context.Context, userID string) ([]models.ForwardingPair, error)
	DeletePair(ctx context.Context, id string) (bool, error)
	CountPairsByShape(ctx context.Context, userID string) (map[models.PairShape]int, error)
	UpdatePairCheckpoint(ctx context.Context, id, messageID string) error
}

// TaskController is the delivery queue as seen by the registry.
type TaskController interface {
	CancelPending(pairID string) int
	Hold(pairID string)
	Resume(pairID string)
	Remove(pairID string)
}

type matchKey struct {
	accountID string
	chatID    string
}

// Registry is safe for concurrent use.
type Registry struct {
	store     Store
	publisher events.Publisher
	logger    *logrus.Logger
	errLog    *apperrors.Logger
	locks     *userLocks
	threshold int
	now       func() time.Time

	tasksMu sync.RWMutex
	tasks   TaskController

	indexMu sync.RWMutex
	index   map[matchKey]map[string]models.ForwardingPair
	keys    map[string]matchKey
}

// New builds a registry. failureThreshold is the number of consecutive
// permanent delivery failures that moves a pair to error.
func New(store Store, publisher events.Publisher, failureThreshold int, logger *logrus.Logger) *Registry {
	if failureThreshold <= 0 {
		failureThreshold = constants.DefaultPermanentFailureThreshold
	}
	return &Registry{
		store:     store,
		publisher: publisher,
		logger:    logger,
		errLog:    apperrors.NewLogger(logger),
		locks:     newUserLocks(),
		threshold: failureThreshold,
		now:       time.Now,
		index:     make(map[matchKey]map[string]models.ForwardingPair),
		keys:      make(map[string]matchKey),
	}
}

// SetTaskController connects the delivery queue once both exist.
func (r *Registry) SetTaskController(tasks TaskController) {
	r.tasksMu.Lock()
	defer r.tasksMu.Unlock()
	r.tasks = tasks
}

func (r *Registry) taskController() TaskController {
	r.tasksMu.RLock()
	defer r.tasksMu.RUnlock()
	return r.tasks
}

// WithUserLock runs fn inside the user's serialized section. Account
// operations use it so their plan counters are checked atomically too.
func (r *Registry) WithUserLock(userID string, fn func() error) error {
	unlock := r.locks.lock(userID)
	defer unlock()
	return fn()
}

// Load rebuilds the match index from the store and returns every pair.
func (r *Registry) Load(ctx context.Context) ([]models.ForwardingPair, error) {
	pairs, err := r.store.ListPairs(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, pair := range pairs {
		r.indexPair(pair)
	}
	r.logger.WithField("pairs", len(pairs)).Info("Forwarding pairs loaded")
	return pairs, nil
}

// Usage snapshots the user's plan and pair counters.
func (r *Registry) Usage(ctx context.Context, userID string) (policy.Usage, error) {
	user, err := r.store.EnsureUser(ctx, userID)
	if err != nil {
		return policy.Usage{}, err
	}
	counts, err := r.store.CountPairsByShape(ctx, userID)
	if err != nil {
		return policy.Usage{}, err
	}
	return policy.Usage{
		Plan:         policy.ForTier(user.EffectivePlan(r.now())),
		PairsByShape: counts,
	}, nil
}

// Create validates spec, checks both accounts and the plan, then persists an active pair.
func (r *Registry) Create(ctx context.Context, caller models.Caller, spec models.PairSpec) (*models.ForwardingPair, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}
	if caller.UserID == "" {
		return nil, apperrors.NewAuthError("missing caller identity")
	}

	source, err := r.ownedAccount(ctx, caller, spec.SourceAccountID)
	if err != nil {
		return nil, err
	}
	dest, err := r.ownedAccount(ctx, caller, spec.DestAccountID)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	pair := models.ForwardingPair{
		ID:              uuid.NewString(),
		UserID:          caller.UserID,
		SourceAccountID: source.ID,
		SourceChatID:    spec.SourceChatID,
		SourcePlatform:  source.Platform,
		DestAccountID:   dest.ID,
		DestChatID:      spec.DestChatID,
		DestPlatform:    dest.Platform,
		Delay:           normalizeDelay(spec.Delay),
		Mode:            spec.Mode,
		Edit:            spec.Edit,
		Filters:         spec.Filters,
		SyncEdits:       spec.SyncEdits,
		Status:          models.PairActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = r.WithUserLock(caller.UserID, func() error {
		usage, err := r.Usage(ctx, caller.UserID)
		if err != nil {
			return err
		}
		action := policy.Action{
			Kind:     policy.ActionCreatePair,
			Shape:    pair.Shape(),
			Features: pair.Features(),
		}
		if err := r.denied(caller.UserID, policy.Evaluate(usage, action)); err != nil {
			return err
		}
		max := usage.Plan.MaxPairs[pair.Shape()]
		created, err := r.store.CreatePairWithin(ctx, &pair, max)
		if err != nil {
			return err
		}
		if !created {
			// Another instance filled the last slot after the snapshot.
			usage.PairsByShape = map[models.PairShape]int{pair.Shape(): max}
			return r.denied(caller.UserID, policy.Evaluate(usage, action))
		}
		r.indexPair(pair)
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		constants.LogFieldUserID: caller.UserID,
		constants.LogFieldPairID: pair.ID,
		"shape":                  pair.Shape(),
	}).Info("Forwarding pair created")
	r.publishStatus(pair, "", "created", false)
	return &pair, nil
}

// Update applies patch, gating only features the patch newly enables.
func (r *Registry) Update(ctx context.Context, caller models.Caller, id string, patch models.PairPatch) (*models.ForwardingPair, error) {
	var updated models.ForwardingPair
	err := r.WithUserLock(caller.UserID, func() error {
		current, err := r.ownedPair(ctx, caller, id)
		if err != nil {
			return err
		}
		next := patch.Apply(*current)
		next.Delay = normalizeDelay(next.Delay)
		if err := validatePair(next); err != nil {
			return err
		}

		if newly := policy.NewlyEnabled(current.Features(), next.Features()); len(newly) > 0 {
			usage, err := r.Usage(ctx, caller.UserID)
			if err != nil {
				return err
			}
			decision := policy.Evaluate(usage, policy.Action{Kind: policy.ActionUpdatePair, Shape: next.Shape(), Features: newly})
			if err := r.denied(caller.UserID, decision); err != nil {
				return err
			}
		}

		next.UpdatedAt = r.now().UTC()
		if err := r.store.UpdatePair(ctx, &next); err != nil {
			return err
		}
		r.indexPair(next)
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.publishStatus(updated, updated.Status, "configuration updated", false)
	return &updated, nil
}

// Pause stops delivery for the pair. Pending tasks are cancelled; an
// in-flight send completes. Pausing a paused pair is a no-op.
func (r *Registry) Pause(ctx context.Context, caller models.Caller, id string) (*models.ForwardingPair, error) {
	var (
		result  models.ForwardingPair
		changed bool
		prev    models.PairStatus
	)
	err := r.WithUserLock(caller.UserID, func() error {
		pair, err := r.ownedPair(ctx, caller, id)
		if err != nil {
			return err
		}
		result = *pair
		if pair.Status == models.PairPaused {
			return nil
		}
		prev = pair.Status
		result.Status = models.PairPaused
		result.StatusReason = ""
		result.UpdatedAt = r.now().UTC()
		if err := r.store.UpdatePair(ctx, &result); err != nil {
			return err
		}
		r.indexPair(result)
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		if tasks := r.taskController(); tasks != nil {
			cancelled := tasks.CancelPending(id)
			r.logger.WithFields(logrus.Fields{
				constants.LogFieldPairID: id,
				"cancelled_tasks":        cancelled,
			}).Info("Forwarding pair paused")
		}
		r.publishStatus(result, prev, "", false)
	}
	return &result, nil
}

// Resume re-runs the plan check and reactivates a paused or errored pair,
// clearing its failure counter. Resuming an active pair is a no-op.
func (r *Registry) Resume(ctx context.Context, caller models.Caller, id string) (*models.ForwardingPair, error) {
	var (
		result  models.ForwardingPair
		changed bool
		prev    models.PairStatus
	)
	err := r.WithUserLock(caller.UserID, func() error {
		pair, err := r.ownedPair(ctx, caller, id)
		if err != nil {
			return err
		}
		result = *pair
		if pair.Status == models.PairActive {
			return nil
		}

		usage, err := r.Usage(ctx, caller.UserID)
		if err != nil {
			return err
		}
		decision := policy.Evaluate(usage, policy.Action{
			Kind:     policy.ActionResumePair,
			Shape:    pair.Shape(),
			Features: pair.Features(),
		})
		if err := r.denied(caller.UserID, decision); err != nil {
			return err
		}

		prev = pair.Status
		result.Status = models.PairActive
		result.StatusReason = ""
		result.ConsecutiveFailures = 0
		result.UpdatedAt = r.now().UTC()
		if err := r.store.UpdatePair(ctx, &result); err != nil {
			return err
		}
		r.indexPair(result)
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		if tasks := r.taskController(); tasks != nil {
			tasks.Resume(id)
		}
		r.publishStatus(result, prev, "", false)
	}
	return &result, nil
}

// Delete removes the pair and its pending tasks. Unknown ids are a no-op.
func (r *Registry) Delete(ctx context.Context, caller models.Caller, id string) error {
	var (
		deleted models.ForwardingPair
		found   bool
	)
	err := r.WithUserLock(caller.UserID, func() error {
		pair, err := r.store.GetPair(ctx, id)
		if apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if pair.UserID != caller.UserID {
			return nil
		}
		r.unindexPair(id)
		if tasks := r.taskController(); tasks != nil {
			tasks.Remove(id)
		}
		removed, err := r.store.DeletePair(ctx, id)
		if err != nil {
			return err
		}
		deleted, found = *pair, removed
		return nil
	})
	if err != nil || !found {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		constants.LogFieldUserID: caller.UserID,
		constants.LogFieldPairID: id,
	}).Info("Forwarding pair deleted")
	r.publishStatus(deleted, deleted.Status, "", true)
	return nil
}

// Get returns one of the caller's pairs.
func (r *Registry) Get(ctx context.Context, caller models.Caller, id string) (*models.ForwardingPair, error) {
	return r.ownedPair(ctx, caller, id)
}

// List returns the caller's pairs matching filter.
func (r *Registry) List(ctx context.Context, caller models.Caller, filter models.PairFilter) ([]models.ForwardingPair, error) {
	pairs, err := r.store.ListPairs(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]models.ForwardingPair, 0, len(pairs))
	for _, pair := range pairs {
		if filter.Matches(pair) {
			out = append(out, pair)
		}
	}
	return out, nil
}

// Bulk applies one operation to many pairs. Items succeed or fail independently.
func (r *Registry) Bulk(ctx context.Context, caller models.Caller, req models.BulkRequest) (*models.BulkResult, error) {
	switch req.Op {
	case models.BulkPause, models.BulkResume, models.BulkDelete:
	default:
		return nil, apperrors.NewValidationError("op", string(req.Op), "must be pause, resume or delete")
	}

	ids := req.PairIDs
	if len(ids) == 0 {
		if req.AccountID == "" {
			return nil, apperrors.NewValidationError("pair_ids", "", "pair ids or an account scope is required")
		}
		pairs, err := r.List(ctx, caller, models.PairFilter{AccountID: req.AccountID})
		if err != nil {
			return nil, err
		}
		for _, pair := range pairs {
			ids = append(ids, pair.ID)
		}
	}
	if len(ids) > constants.MaxBulkItems {
		return nil, apperrors.NewValidationError("pair_ids", strconv.Itoa(len(ids)), "too many pairs in one batch")
	}

	result := &models.BulkResult{Op: req.Op, Items: make([]models.BulkItemResult, 0, len(ids))}
	for _, id := range ids {
		var err error
		switch req.Op {
		case models.BulkPause:
			_, err = r.Pause(ctx, caller, id)
		case models.BulkResume:
			_, err = r.Resume(ctx, caller, id)
		case models.BulkDelete:
			err = r.Delete(ctx, caller, id)
		}

		item := models.BulkItemResult{PairID: id, OK: err == nil}
		if err != nil {
			item.Error = apperrors.GetUserMessage(err)
			item.Code = string(apperrors.GetCode(err))
			result.Failed++
		} else {
			result.Succeeded++
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

// Match returns snapshots of the active pairs listening on (accountID, chatID).
func (r *Registry) Match(accountID, chatID string) []models.ForwardingPair {
	r.indexMu.RLock()
	defer r.indexMu.RUnlock()
	bucket := r.index[matchKey{accountID: accountID, chatID: chatID}]
	out := make([]models.ForwardingPair, 0, len(bucket))
	for _, pair := range bucket {
		out = append(out, pair)
	}
	return out
}

// Active reports whether the pair is in the match index, i.e. active.
func (r *Registry) Active(pairID string) bool {
	r.indexMu.RLock()
	defer r.indexMu.RUnlock()
	_, ok := r.keys[pairID]
	return ok
}

// ActivePairs returns a snapshot of every indexed pair.
func (r *Registry) ActivePairs() []models.ForwardingPair {
	r.indexMu.RLock()
	defer r.indexMu.RUnlock()
	var out []models.ForwardingPair
	for _, bucket := range r.index {
		for _, pair := range bucket {
			out = append(out, pair)
		}
	}
	return out
}

// RecordFailure counts a permanent delivery failure. It reports whether the
// pair is now in error and must stop delivering.
func (r *Registry) RecordFailure(ctx context.Context, pairID, reason string) (bool, error) {
	pair, err := r.store.GetPair(ctx, pairID)
	if err != nil {
		return false, err
	}

	var (
		halted  bool
		updated models.ForwardingPair
	)
	err = r.WithUserLock(pair.UserID, func() error {
		current, err := r.store.GetPair(ctx, pairID)
		if err != nil {
			return err
		}
		updated = *current
		updated.ConsecutiveFailures++
		if updated.Status == models.PairActive && updated.ConsecutiveFailures >= r.threshold {
			updated.Status = models.PairError
			updated.StatusReason = reason
			halted = true
		}
		updated.UpdatedAt = r.now().UTC()
		if err := r.store.UpdatePair(ctx, &updated); err != nil {
			return err
		}
		r.indexPair(updated)
		return nil
	})
	if err != nil {
		return false, err
	}

	if halted {
		r.logger.WithFields(logrus.Fields{
			constants.LogFieldPairID:   pairID,
			constants.LogFieldUserID:   updated.UserID,
			constants.LogFieldFailures: updated.ConsecutiveFailures,
		}).Warn("Forwarding pair moved to error after repeated delivery failures")
		if tasks := r.taskController(); tasks != nil {
			tasks.Hold(pairID)
		}
		r.publishStatus(updated, models.PairActive, reason, false)
	}
	return updated.Status == models.PairError, nil
}

// RecordSuccess clears the failure counter and advances the checkpoint.
func (r *Registry) RecordSuccess(ctx context.Context, pairID, sourceMessageID string) error {
	r.indexMu.RLock()
	key, indexed := r.keys[pairID]
	var snapshot models.ForwardingPair
	if indexed {
		snapshot = r.index[key][pairID]
	}
	r.indexMu.RUnlock()

	if indexed && snapshot.ConsecutiveFailures > 0 {
		err := r.WithUserLock(snapshot.UserID, func() error {
			current, err := r.store.GetPair(ctx, pairID)
			if err != nil {
				return err
			}
			current.ConsecutiveFailures = 0
			if newerMessageID(sourceMessageID, current.LastSourceMessageID) {
				current.LastSourceMessageID = sourceMessageID
			}
			current.UpdatedAt = r.now().UTC()
			if err := r.store.UpdatePair(ctx, current); err != nil {
				return err
			}
			r.indexPair(*current)
			return nil
		})
		return err
	}

	if sourceMessageID == "" || (indexed && !newerMessageID(sourceMessageID, snapshot.LastSourceMessageID)) {
		return nil
	}
	if err := r.store.UpdatePairCheckpoint(ctx, pairID, sourceMessageID); err != nil {
		return err
	}
	if indexed {
		r.indexMu.Lock()
		if pair, ok := r.index[key][pairID]; ok {
			pair.LastSourceMessageID = sourceMessageID
			r.index[key][pairID] = pair
		}
		r.indexMu.Unlock()
	}
	return nil
}

// MarkError moves an active pair to error, e.g. when a delivery-time plan
// check denies a feature the pair uses.
func (r *Registry) MarkError(ctx context.Context, pairID, reason string) error {
	pair, err := r.store.GetPair(ctx, pairID)
	if err != nil {
		return err
	}

	var (
		updated models.ForwardingPair
		changed bool
	)
	err = r.WithUserLock(pair.UserID, func() error {
		current, err := r.store.GetPair(ctx, pairID)
		if err != nil {
			return err
		}
		updated = *current
		if current.Status != models.PairActive {
			return nil
		}
		updated.Status = models.PairError
		updated.StatusReason = reason
		updated.UpdatedAt = r.now().UTC()
		if err := r.store.UpdatePair(ctx, &updated); err != nil {
			return err
		}
		r.indexPair(updated)
		changed = true
		return nil
	})
	if err != nil || !changed {
		return err
	}

	if tasks := r.taskController(); tasks != nil {
		tasks.Hold(pairID)
	}
	r.publishStatus(updated, models.PairActive, reason, false)
	return nil
}

func (r *Registry) ownedAccount(ctx context.Context, caller models.Caller, id string) (*models.Account, error) {
	account, err := r.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.UserID != caller.UserID {
		return nil, apperrors.NewNotFoundError("account", id)
	}
	if !account.Status.Usable() {
		return nil, apperrors.NewConflictError("account", id, "account must be connected or connecting, currently "+string(account.Status))
	}
	return account, nil
}

func (r *Registry) ownedPair(ctx context.Context, caller models.Caller, id string) (*models.ForwardingPair, error) {
	pair, err := r.store.GetPair(ctx, id)
	if err != nil {
		return nil, err
	}
	if pair.UserID != caller.UserID {
		return nil, apperrors.NewNotFoundError("pair", id)
	}
	return pair, nil
}

func (r *Registry) denied(userID string, decision policy.Decision) error {
	if decision.Allowed {
		return nil
	}
	metrics.RecordPolicyDenial(decision.Gate)
	r.logger.WithFields(logrus.Fields{
		constants.LogFieldUserID: userID,
		"gate":                   decision.Gate,
	}).Info("Plan policy denied pair operation")
	return decision.Err()
}

// indexPair keeps the match index in step with the pair's status.
func (r *Registry) indexPair(pair models.ForwardingPair) {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()
	r.unindexLocked(pair.ID)
	if pair.Status != models.PairActive {
		return
	}
	key := matchKey{accountID: pair.SourceAccountID, chatID: pair.SourceChatID}
	bucket, ok := r.index[key]
	if !ok {
		bucket = make(map[string]models.ForwardingPair)
		r.index[key] = bucket
	}
	bucket[pair.ID] = pair
	r.keys[pair.ID] = key
}

func (r *Registry) unindexPair(pairID string) {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()
	r.unindexLocked(pairID)
}

func (r *Registry) unindexLocked(pairID string) {
	key, ok := r.keys[pairID]
	if !ok {
		return
	}
	delete(r.keys, pairID)
	if bucket := r.index[key]; bucket != nil {
		delete(bucket, pairID)
		if len(bucket) == 0 {
			delete(r.index, key)
		}
	}
}

func (r *Registry) publishStatus(pair models.ForwardingPair, previous models.PairStatus, reason string, deleted bool) {
	if r.publisher == nil {
		return
	}
	r.publisher.Publish(models.Event{
		Type:   models.EventPairStatus,
		UserID: pair.UserID,
		Payload: models.PairStatusUpdate{
			PairID:              pair.ID,
			Status:              pair.Status,
			PreviousStatus:      previous,
			Reason:              reason,
			ConsecutiveFailures: pair.ConsecutiveFailures,
			Deleted:             deleted,
		},
	})
}

func normalizeDelay(delay models.DelayPolicy) models.DelayPolicy {
	if delay.Mode == "" {
		delay.Mode = models.DelayRealtime
	}
	return delay
}

// newerMessageID orders platform message ids, which are numeric on both
// Telegram and Discord. Non-numeric ids always advance.
func newerMessageID(candidate, current string) bool {
	if current == "" {
		return candidate != ""
	}
	a, errA := strconv.ParseUint(candidate, 10, 64)
	b, errB := strconv.ParseUint(current, 10, 64)
	if errA != nil || errB != nil {
		return candidate != current
	}
	return a > b
}
