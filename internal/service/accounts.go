package service

import (
	"context"
	"strings"

	"autoforwardx/internal/constants"
	apperrors "autoforwardx/internal/errors"
	"autoforwardx/internal/metrics"
	"autoforwardx/internal/models"
	"autoforwardx/internal/policy"
	"autoforwardx/internal/privacy"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AddAccount links a new account after the plan's account gate and connects
// it. A rejected credential removes the account again and returns the auth
// error; any other connect failure keeps it reconnecting in the background.
func (s *Service) AddAccount(ctx context.Context, caller models.Caller, spec models.AccountSpec) (*models.Account, error) {
	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	if !spec.Platform.Valid() {
		return nil, apperrors.NewValidationError("platform", string(spec.Platform), "must be telegram or discord")
	}
	spec.Credential = strings.TrimSpace(spec.Credential)
	if spec.Credential == "" {
		return nil, apperrors.NewValidationError("credential", "", "credential is required")
	}

	now := s.now().UTC()
	account := &models.Account{
		ID:          uuid.NewString(),
		UserID:      caller.UserID,
		Platform:    spec.Platform,
		DisplayName: strings.TrimSpace(spec.DisplayName),
		Credential:  spec.Credential,
		Status:      models.AccountConnecting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.pairs.WithUserLock(caller.UserID, func() error {
		user, err := s.store.EnsureUser(ctx, caller.UserID)
		if err != nil {
			return err
		}
		counts, err := s.store.CountAccountsByPlatform(ctx, caller.UserID)
		if err != nil {
			return err
		}
		usage := policy.Usage{
			Plan:               policy.ForTier(user.EffectivePlan(now)),
			AccountsByPlatform: counts,
		}
		action := policy.Action{Kind: policy.ActionAddAccount, Platform: spec.Platform}
		if decision := policy.Evaluate(usage, action); !decision.Allowed {
			metrics.RecordPolicyDenial(decision.Gate)
			return decision.Err()
		}
		max := usage.Plan.MaxAccounts[spec.Platform]
		created, err := s.store.CreateAccountWithin(ctx, account, max)
		if err != nil {
			return err
		}
		if !created {
			usage.AccountsByPlatform = map[models.Platform]int{spec.Platform: max}
			decision := policy.Evaluate(usage, action)
			metrics.RecordPolicyDenial(decision.Gate)
			return decision.Err()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	fields := logrus.Fields{
		constants.LogFieldUserID:    caller.UserID,
		constants.LogFieldAccountID: account.ID,
		constants.LogFieldPlatform:  account.Platform,
		"credential":                privacy.MaskCredential(account.Credential),
	}

	if err := s.sessions.Register(ctx, *account); err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeSessionAuth) || !apperrors.IsRetryable(err) {
			s.sessions.Remove(account.ID)
			if delErr := s.store.DeleteAccount(ctx, account.ID); delErr != nil {
				s.errLog.LogError(delErr, "Failed to roll back rejected account", fields)
			}
			s.errLog.LogWarn(err, "Account credential rejected", fields)
			return nil, err
		}
		s.errLog.LogRetryableError(err, "Account added, connecting in background", fields)
	} else {
		s.logger.WithFields(fields).Info("Account added")
	}

	return s.store.GetAccount(ctx, account.ID)
}

// RemoveAccount unlinks an account. It is refused while any pair uses it.
func (s *Service) RemoveAccount(ctx context.Context, caller models.Caller, id string) error {
	if _, err := s.ownedAccount(ctx, caller, id); err != nil {
		return err
	}
	return s.pairs.WithUserLock(caller.UserID, func() error {
		inUse, err := s.store.CountPairsByAccount(ctx, id)
		if err != nil {
			return err
		}
		if inUse > 0 {
			return apperrors.NewConflictError("account", id, "account is used by forwarding pairs").
				WithContext("pairs", inUse).
				WithUserMessage("Delete the forwarding pairs that use this account first")
		}
		s.sessions.Remove(id)
		if err := s.store.DeleteAccount(ctx, id); err != nil {
			return err
		}
		s.logger.WithFields(logrus.Fields{
			constants.LogFieldUserID:    caller.UserID,
			constants.LogFieldAccountID: id,
		}).Info("Account removed")
		return nil
	})
}

// ReconnectAccount is the user's manual retry. An account without a live
// session (for example one that failed to register at startup) is registered.
func (s *Service) ReconnectAccount(ctx context.Context, caller models.Caller, id string) (*models.Account, error) {
	account, err := s.ownedAccount(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	err = s.sessions.Reconnect(ctx, id)
	if apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
		err = s.sessions.Register(ctx, *account)
	}
	if err != nil && !apperrors.IsRetryable(err) {
		return nil, err
	}
	if err != nil {
		s.errLog.LogRetryableError(err, "Reconnect failed, retrying in background", logrus.Fields{
			constants.LogFieldAccountID: id,
		})
	}
	return s.store.GetAccount(ctx, id)
}

func (s *Service) ListAccounts(ctx context.Context, caller models.Caller) ([]models.Account, error) {
	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	accounts, err := s.store.ListAccounts(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if accounts == nil {
		accounts = []models.Account{}
	}
	return accounts, nil
}

// AccountHealth returns the volatile health record of one of the caller's accounts.
func (s *Service) AccountHealth(ctx context.Context, caller models.Caller, id string) (models.HealthRecord, error) {
	account, err := s.ownedAccount(ctx, caller, id)
	if err != nil {
		return models.HealthRecord{}, err
	}
	record, err := s.sessions.Health(id)
	if apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
		return models.HealthRecord{AccountID: id, Status: account.Status, LastError: account.StatusReason}, nil
	}
	return record, err
}

func (s *Service) ownedAccount(ctx context.Context, caller models.Caller, id string) (*models.Account, error) {
	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	account, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.UserID != caller.UserID {
		return nil, apperrors.NewNotFoundError("account", id)
	}
	return account, nil
}
