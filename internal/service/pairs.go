package service

import (
	"context"

	"autoforwardx/internal/constants"
	apperrors "autoforwardx/internal/errors"
	"autoforwardx/internal/models"
	"autoforwardx/internal/policy"
)

func (s *Service) CreatePair(ctx context.Context, caller models.Caller, spec models.PairSpec) (*models.ForwardingPair, error) {
	return s.pairs.Create(ctx, caller, spec)
}

func (s *Service) UpdatePair(ctx context.Context, caller models.Caller, id string, patch models.PairPatch) (*models.ForwardingPair, error) {
	return s.pairs.Update(ctx, caller, id, patch)
}

func (s *Service) PausePair(ctx context.Context, caller models.Caller, id string) (*models.ForwardingPair, error) {
	return s.pairs.Pause(ctx, caller, id)
}

func (s *Service) ResumePair(ctx context.Context, caller models.Caller, id string) (*models.ForwardingPair, error) {
	return s.pairs.Resume(ctx, caller, id)
}

// DeletePair is a no-op for ids that do not exist or belong to someone else.
func (s *Service) DeletePair(ctx context.Context, caller models.Caller, id string) error {
	return s.pairs.Delete(ctx, caller, id)
}

func (s *Service) GetPair(ctx context.Context, caller models.Caller, id string) (*models.ForwardingPair, error) {
	return s.pairs.Get(ctx, caller, id)
}

func (s *Service) ListPairs(ctx context.Context, caller models.Caller, filter models.PairFilter) ([]models.ForwardingPair, error) {
	pairs, err := s.pairs.List(ctx, caller, filter)
	if err != nil {
		return nil, err
	}
	if pairs == nil {
		pairs = []models.ForwardingPair{}
	}
	return pairs, nil
}

func (s *Service) BulkOp(ctx context.Context, caller models.Caller, req models.BulkRequest) (*models.BulkResult, error) {
	return s.pairs.Bulk(ctx, caller, req)
}

// ListDeliveries returns the newest delivery log entries of one pair.
func (s *Service) ListDeliveries(ctx context.Context, caller models.Caller, pairID string, limit int) ([]models.DeliveryLog, error) {
	if _, err := s.pairs.Get(ctx, caller, pairID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = constants.DefaultDeliveryPageSize
	case limit > constants.MaxDeliveryPageSize:
		limit = constants.MaxDeliveryPageSize
	}
	logs, err := s.store.ListDeliveryLogs(ctx, caller.UserID, pairID, limit)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []models.DeliveryLog{}
	}
	return logs, nil
}

// GetLimits returns the policy of a tier.
func (s *Service) GetLimits(plan string) (models.PlanPolicy, error) {
	limits, ok := policy.Limits(models.PlanTier(plan))
	if !ok {
		return models.PlanPolicy{}, apperrors.NewValidationError("plan", plan, "must be free, pro or elite")
	}
	return limits, nil
}
